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
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"
	"k8s.io/klog/v2"

	"github.com/llm-d/llm-d-bpe-vocab/pkg/metrics"
	"github.com/llm-d/llm-d-bpe-vocab/pkg/utils/logging"
	"github.com/llm-d/llm-d-bpe-vocab/pkg/vectorizer"
	"github.com/llm-d/llm-d-bpe-vocab/pkg/vocab"
)

// defaultVocabsCacheSize is the number of vocabularies kept mapped at once.
const defaultVocabsCacheSize = 20

// acquireAttempts bounds retries when a vocabulary is evicted between
// lookup and use.
const acquireAttempts = 3

var (
	// ErrClosed is returned once the registry has been closed.
	ErrClosed = errors.New("tokenization: registry closed")
	// ErrInvalidName is returned for vocabulary names that are not a single
	// path element.
	ErrInvalidName = errors.New("tokenization: invalid vocabulary name")
)

// Encoding is the result of encoding one token sequence.
type Encoding struct {
	Pieces []string `json:"pieces" msgpack:"pieces"`
	IDs    []uint32 `json:"ids" msgpack:"ids"`
	// Length is the number of real ids before padding.
	Length int `json:"length" msgpack:"length"`
}

// Tokenizer interface defines the methods for tokenization.
type Tokenizer interface {
	// Encode converts tokens to pieces and ids with the named vocabulary.
	// A maxLen of zero or less keeps the natural length.
	Encode(ctx context.Context, vocabName string, tokens []string, maxLen int) (*Encoding, error)
}

// RegistryConfig holds the configuration for the vocabulary Registry.
type RegistryConfig struct {
	// VocabsDir holds one compiled bundle per vocabulary, named after it.
	VocabsDir string `json:"vocabsDir"`
	// CacheSize is the number of vocabularies kept loaded.
	CacheSize int `json:"cacheSize"`
	// WordCache configures the word memo of every loaded BPE vocabulary.
	WordCache *vocab.WordCacheConfig `json:"wordCache,omitempty"`
	// Transform names the token transform, see vocab.TransformByName.
	Transform string `json:"transform,omitempty"`
	// EmitBegin and EmitEnd surround every encoded sequence.
	EmitBegin []string `json:"emitBegin,omitempty"`
	EmitEnd   []string `json:"emitEnd,omitempty"`
}

// DefaultRegistryConfig returns a default configuration for the Registry.
func DefaultRegistryConfig() *RegistryConfig {
	return &RegistryConfig{
		VocabsDir: "vocabs",
		CacheSize: defaultVocabsCacheSize,
		WordCache: vocab.DefaultWordCacheConfig(),
	}
}

// loadedVocab is a registry entry. Queries hold the read side of mu for
// their whole duration; close takes the write side before unmapping.
type loadedVocab struct {
	mu         sync.RWMutex
	closed     bool
	vocab      vocab.Vocab
	vectorizer *vectorizer.VocabVectorizer
}

func (l *loadedVocab) close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil
	}
	l.closed = true
	return l.vocab.Close()
}

// Registry implements the Tokenizer interface over compiled vocabulary
// bundles found under a directory.
// The implementation wraps an LRU-cache for holding loaded vocabularies;
// evicted vocabularies are unmapped once their in-flight queries finish.
type Registry struct {
	cfg       *RegistryConfig
	transform vocab.Transform
	cache     *lru.Cache[string, *loadedVocab]
	group     singleflight.Group
	closed    atomic.Bool
}

var _ Tokenizer = &Registry{}

// NewRegistry creates a new Registry with the provided configuration.
func NewRegistry(config *RegistryConfig) (*Registry, error) {
	if config == nil {
		config = DefaultRegistryConfig()
	}

	transform, err := vocab.TransformByName(config.Transform)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize registry: %w", err)
	}

	size := config.CacheSize
	if size <= 0 {
		size = defaultVocabsCacheSize
	}

	cache, err := lru.NewWithEvict(size, func(name string, l *loadedVocab) {
		metrics.RegistryEvictions.Inc()
		if err := l.close(); err != nil {
			klog.Background().Error(err, "failed to close evicted vocabulary", "vocab", name)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize vocabulary cache: %w", err)
	}

	return &Registry{
		cfg:       config,
		transform: transform,
		cache:     cache,
	}, nil
}

func (r *Registry) load(ctx context.Context, name string) (*loadedVocab, error) {
	if name == "" || name != filepath.Base(name) || strings.HasPrefix(name, ".") {
		return nil, fmt.Errorf("%w: %q", ErrInvalidName, name)
	}

	result, err, _ := r.group.Do(name, func() (any, error) {
		if l, ok := r.cache.Get(name); ok {
			return l, nil
		}

		dir := filepath.Join(r.cfg.VocabsDir, name)
		v, err := vocab.Load(ctx, dir, r.cfg.WordCache)
		if err != nil {
			return nil, err
		}

		l := &loadedVocab{
			vocab:      v,
			vectorizer: vectorizer.NewVocabVectorizer(v, r.transform, r.cfg.EmitBegin, r.cfg.EmitEnd),
		}
		r.cache.Add(name, l)
		metrics.RegistryLoads.Inc()

		klog.FromContext(ctx).V(logging.DEBUG).WithName("tokenization.Registry.load").
			Info("loaded vocabulary", "vocab", name, "dir", dir)
		return l, nil
	})
	if err != nil {
		return nil, err
	}

	l, ok := result.(*loadedVocab)
	if !ok {
		return nil, fmt.Errorf("unexpected vocabulary type from singleflight result")
	}
	return l, nil
}

// acquire returns the named vocabulary with its read lock held.
func (r *Registry) acquire(ctx context.Context, name string) (*loadedVocab, error) {
	for i := 0; i < acquireAttempts; i++ {
		if r.closed.Load() {
			return nil, ErrClosed
		}

		l, ok := r.cache.Get(name)
		if !ok {
			var err error
			if l, err = r.load(ctx, name); err != nil {
				return nil, fmt.Errorf("failed to get vocabulary %q: %w", name, err)
			}
		}

		l.mu.RLock()
		if !l.closed {
			return l, nil
		}
		// evicted in between, load again
		l.mu.RUnlock()
	}

	return nil, fmt.Errorf("vocabulary %q evicted while acquiring it", name)
}

// With runs fn against the named vocabulary, which stays mapped until fn
// returns.
func (r *Registry) With(ctx context.Context, name string, fn func(*vectorizer.VocabVectorizer) error) error {
	l, err := r.acquire(ctx, name)
	if err != nil {
		return err
	}
	defer l.mu.RUnlock()

	return fn(l.vectorizer)
}

// Encode converts tokens into pieces and ids.
func (r *Registry) Encode(ctx context.Context, vocabName string, tokens []string, maxLen int) (*Encoding, error) {
	var enc *Encoding
	err := r.With(ctx, vocabName, func(z *vectorizer.VocabVectorizer) error {
		pieces := z.ConvertToPieces(tokens)
		ids, n := z.PiecesToIDs(pieces, maxLen)
		enc = &Encoding{Pieces: pieces, IDs: ids, Length: n}
		return nil
	})
	return enc, err
}

// EncodeStack converts a batch into a flat row-major id matrix with rows of
// length ids, along with the real length of each row.
func (r *Registry) EncodeStack(ctx context.Context, vocabName string, batch [][]string, length int) ([]uint32, []int, error) {
	var ids []uint32
	var lengths []int
	err := r.With(ctx, vocabName, func(z *vectorizer.VocabVectorizer) error {
		ids, lengths = z.ConvertToIDsStack(batch, length)
		return nil
	})
	return ids, lengths, err
}

// Lookup resolves a single piece.
func (r *Registry) Lookup(ctx context.Context, vocabName, piece string) (uint32, error) {
	var id uint32
	err := r.With(ctx, vocabName, func(z *vectorizer.VocabVectorizer) error {
		id = z.PieceToID(piece)
		return nil
	})
	return id, err
}

// RLookup resolves an id back to its piece.
func (r *Registry) RLookup(ctx context.Context, vocabName string, id uint32) (string, error) {
	var piece string
	err := r.With(ctx, vocabName, func(z *vectorizer.VocabVectorizer) error {
		var err error
		piece, err = z.Vocab().RLookup(id)
		return err
	})
	return piece, err
}

// Decode maps ids back to text.
func (r *Registry) Decode(ctx context.Context, vocabName string, ids []uint32) (string, error) {
	var text string
	err := r.With(ctx, vocabName, func(z *vectorizer.VocabVectorizer) error {
		var err error
		text, err = z.Decode(ids)
		return err
	})
	return text, err
}

// Loaded returns the names of the vocabularies currently mapped, from
// oldest to newest use.
func (r *Registry) Loaded() []string {
	return r.cache.Keys()
}

// Evict unmaps the named vocabulary once its in-flight queries finish.
func (r *Registry) Evict(name string) bool {
	return r.cache.Remove(name)
}

// Close unmaps every loaded vocabulary and rejects further queries.
func (r *Registry) Close() {
	r.closed.Store(true)
	r.cache.Purge()
}
