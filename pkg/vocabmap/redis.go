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

package vocabmap

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"k8s.io/klog/v2"

	"github.com/llm-d/llm-d-bpe-vocab/pkg/metrics"
	"github.com/llm-d/llm-d-bpe-vocab/pkg/utils"
)

const (
	defaultRedisTimeout = 500 * time.Millisecond
	// reverseSuffix names the hash holding value -> key entries.
	reverseSuffix = ":rev"
	publishBatch  = 1000
)

// RedisConfig holds the configuration for the RedisStrInt.
type RedisConfig struct {
	Address string `json:"address,omitempty"` // Redis server address
	// Key is the Redis hash holding the map.
	Key string `json:"key"`
	// Timeout bounds each lookup.
	Timeout time.Duration `json:"timeout,omitempty"`
}

func DefaultRedisConfig() *RedisConfig {
	return &RedisConfig{
		Address: "redis://127.0.0.1:6379",
		Key:     "vocab",
		Timeout: defaultRedisTimeout,
	}
}

// NewRedisClient parses address, accepting bare host:port, and verifies the
// connection.
func NewRedisClient(ctx context.Context, address string) (*redis.Client, error) {
	if !strings.HasPrefix(address, "redis://") &&
		!strings.HasPrefix(address, "rediss://") &&
		!strings.HasPrefix(address, "unix://") {
		address = "redis://" + address
	}

	redisOpt, err := redis.ParseURL(address)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redisURL: %w", err)
	}

	redisClient := redis.NewClient(redisOpt)
	if err := redisClient.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return redisClient, nil
}

// NewRedisStrInt creates a new RedisStrInt instance.
func NewRedisStrInt(config *RedisConfig) (*RedisStrInt, error) {
	if config == nil {
		config = DefaultRedisConfig()
	}

	redisClient, err := NewRedisClient(context.Background(), config.Address)
	if err != nil {
		return nil, err
	}

	timeout := config.Timeout
	if timeout <= 0 {
		timeout = defaultRedisTimeout
	}

	return &RedisStrInt{
		RedisClient: redisClient,
		key:         config.Key,
		timeout:     timeout,
	}, nil
}

// RedisStrInt is a StrInt read from a Redis hash, for vocabularies shared by
// several serving replicas. Every query is a round trip. Transport errors are
// reported as misses, counted in metrics.MapBackendErrors and kept for Err.
type RedisStrInt struct {
	RedisClient *redis.Client
	key         string
	timeout     time.Duration
	lastErr     atomic.Pointer[error]
}

// Err returns the error of the most recent failed lookup, or nil if the
// most recent lookup reached Redis.
func (r *RedisStrInt) Err() error {
	if err := r.lastErr.Load(); err != nil {
		return *err
	}
	return nil
}

func (r *RedisStrInt) fail(err error) {
	metrics.MapBackendErrors.Inc()
	r.lastErr.Store(&err)
}

var (
	_ StrInt        = &RedisStrInt{}
	_ ReverseFinder = &RedisStrInt{}
)

func (r *RedisStrInt) Find(key string) (uint32, bool) {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	raw, err := r.RedisClient.HGet(ctx, r.key, key).Result()
	if errors.Is(err, redis.Nil) {
		r.lastErr.Store(nil)
		return 0, false
	}
	if err != nil {
		klog.FromContext(ctx).WithName("vocabmap.RedisStrInt.Find").Error(err, "lookup failed", "key", key)
		r.fail(fmt.Errorf("failed to look up %q: %w", key, err))
		return 0, false
	}

	v, err := strconv.ParseUint(raw, 10, 32)
	if err != nil {
		klog.FromContext(ctx).WithName("vocabmap.RedisStrInt.Find").Error(err, "malformed value", "key", key, "value", raw)
		r.fail(fmt.Errorf("malformed value for %q: %w", key, err))
		return 0, false
	}

	r.lastErr.Store(nil)
	return uint32(v), true
}

func (r *RedisStrInt) Exists(key string) bool {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	ok, err := r.RedisClient.HExists(ctx, r.key, key).Result()
	if err != nil {
		klog.FromContext(ctx).WithName("vocabmap.RedisStrInt.Exists").Error(err, "lookup failed", "key", key)
		r.fail(fmt.Errorf("failed to look up %q: %w", key, err))
		return false
	}
	r.lastErr.Store(nil)
	return ok
}

func (r *RedisStrInt) Size() int {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	n, err := r.RedisClient.HLen(ctx, r.key).Result()
	if err != nil {
		klog.FromContext(ctx).WithName("vocabmap.RedisStrInt.Size").Error(err, "failed to get size")
		return 0
	}
	return int(n)
}

// RFind resolves value through the reverse hash written by PublishStrInt.
func (r *RedisStrInt) RFind(value uint32) (string, bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	key, err := r.RedisClient.HGet(ctx, r.key+reverseSuffix, strconv.FormatUint(uint64(value), 10)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to resolve %d: %w", value, err)
	}
	return key, true, nil
}

// Close closes the underlying client.
func (r *RedisStrInt) Close() error {
	return r.RedisClient.Close()
}

// PublishStrInt replaces the Redis hash key, and its reverse companion, with
// the entries of src. Writes are pipelined in batches.
func PublishStrInt(ctx context.Context, client *redis.Client, key string, src RangeStrInt) error {
	type entry struct {
		key   string
		value uint32
	}

	entries := make([]entry, 0, src.Size())
	src.Range(func(k string, v uint32) bool {
		entries = append(entries, entry{key: k, value: v})
		return true
	})

	if err := client.Del(ctx, key, key+reverseSuffix).Err(); err != nil {
		return fmt.Errorf("failed to clear %s: %w", key, err)
	}

	for _, batch := range utils.Chunk(entries, publishBatch) {
		pipe := client.Pipeline()
		for _, e := range batch {
			id := strconv.FormatUint(uint64(e.value), 10)
			pipe.HSet(ctx, key, e.key, id)
			pipe.HSet(ctx, key+reverseSuffix, id, e.key)
		}
		if _, err := pipe.Exec(ctx); err != nil {
			return fmt.Errorf("failed to publish entries to Redis: %w", err)
		}
	}

	klog.FromContext(ctx).WithName("vocabmap.PublishStrInt").Info("published map", "key", key, "entries", len(entries))

	return nil
}
