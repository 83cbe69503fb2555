/*
Copyright 2025 The llm-d Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package tokenization

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"k8s.io/client-go/util/workqueue"
	"k8s.io/klog/v2"
)

const (
	defaultWorkers    = 5
	defaultMaxRetries = 3
)

// Config holds the configuration for the TokenizationPool.
type Config struct {
	WorkersCount int `json:"workersCount"`
	// MaxRetries is the number of times a failed task is requeued before
	// its error is reported.
	MaxRetries int `json:"maxRetries"`
	*RegistryConfig
}

// DefaultConfig returns a default configuration for the TokenizationPool.
func DefaultConfig() *Config {
	return &Config{
		WorkersCount:   defaultWorkers,
		MaxRetries:     defaultMaxRetries,
		RegistryConfig: DefaultRegistryConfig(),
	}
}

// Task represents a unit of work for encoding one token sequence.
type Task struct {
	VocabName string
	Tokens    []string
	MaxLen    int

	// Encoding and Err are set once Done is closed.
	Encoding *Encoding
	Err      error
	done     chan struct{}
}

// NewTask creates a task ready to be added to a Pool.
func NewTask(vocabName string, tokens []string, maxLen int) *Task {
	return &Task{
		VocabName: vocabName,
		Tokens:    tokens,
		MaxLen:    maxLen,
		done:      make(chan struct{}),
	}
}

// Done is closed when the task has been processed.
func (t *Task) Done() <-chan struct{} {
	return t.done
}

func (t *Task) finish(err error) {
	t.Err = err
	close(t.done)
}

// Pool encapsulates the queue, worker pool, and tokenizer.
type Pool struct {
	workers    int
	maxRetries int
	queue      workqueue.TypedRateLimitingInterface[*Task]
	wg         sync.WaitGroup

	tokenizer Tokenizer
}

// NewTokenizationPool initializes a TokenizationPool with the specified
// number of workers, encoding tasks with the provided Tokenizer.
func NewTokenizationPool(config *Config, tokenizer Tokenizer) *Pool {
	if config == nil {
		config = DefaultConfig()
	}

	workers := config.WorkersCount
	if workers <= 0 {
		workers = defaultWorkers
	}

	return &Pool{
		workers:    workers,
		maxRetries: config.MaxRetries,
		queue:      workqueue.NewTypedRateLimitingQueue(workqueue.DefaultTypedControllerRateLimiter[*Task]()),
		tokenizer:  tokenizer,
	}
}

// AddTask enqueues a new tokenization task.
// This method only enqueues the task and does not start processing it.
func (pool *Pool) AddTask(task *Task) {
	pool.queue.Add(task)
}

// Run launches worker goroutines that process tasks until the context is
// cancelled.
func (pool *Pool) Run(ctx context.Context) {
	for i := 0; i < pool.workers; i++ {
		pool.wg.Add(1)
		go pool.workerLoop(ctx, i)
	}

	<-ctx.Done()

	pool.queue.ShutDown()
	pool.wg.Wait()
}

// workerLoop is the main processing loop for each worker.
func (pool *Pool) workerLoop(ctx context.Context, worker int) {
	defer pool.wg.Done()
	logger := klog.FromContext(ctx).WithName("tokenization.Pool").WithValues("worker", worker)

	for {
		task, shutdown := pool.queue.Get()
		if shutdown {
			return
		}

		// Process the task.
		switch err := pool.processTask(ctx, task); {
		case err == nil:
			pool.queue.Forget(task)
			task.finish(nil)
		case pool.queue.NumRequeues(task) < pool.maxRetries:
			pool.queue.AddRateLimited(task)
		default:
			logger.Error(err, "giving up on task", "vocab", task.VocabName, "retries", pool.maxRetries)
			pool.queue.Forget(task)
			task.finish(err)
		}
		pool.queue.Done(task)
	}
}

// processTask encodes the task tokens and stores the result on the task.
func (pool *Pool) processTask(ctx context.Context, task *Task) error {
	enc, err := pool.tokenizer.Encode(ctx, task.VocabName, task.Tokens, task.MaxLen)
	if err != nil {
		return fmt.Errorf("tokenization failed for vocabulary %s: %w", task.VocabName, err)
	}

	task.Encoding = enc
	return nil
}

// EncodeBatch enqueues one task per sequence of batch and waits for all of
// them. Pool.Run must be running. The encodings are returned in batch
// order; the errors of failed sequences are joined.
func (pool *Pool) EncodeBatch(ctx context.Context, vocabName string, batch [][]string, maxLen int) ([]*Encoding, error) {
	tasks := make([]*Task, len(batch))
	for i, tokens := range batch {
		tasks[i] = NewTask(vocabName, tokens, maxLen)
		pool.AddTask(tasks[i])
	}

	encodings := make([]*Encoding, len(batch))
	var errs []error
	for i, task := range tasks {
		select {
		case <-task.Done():
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		if task.Err != nil {
			errs = append(errs, fmt.Errorf("sequence %d: %w", i, task.Err))
			continue
		}
		encodings[i] = task.Encoding
	}

	return encodings, errors.Join(errs...)
}
