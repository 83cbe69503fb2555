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

package vocab

import (
	"fmt"
	"slices"

	"github.com/dgraph-io/ristretto/v2"
	"github.com/dustin/go-humanize"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/llm-d/llm-d-bpe-vocab/pkg/metrics"
)

const (
	defaultCacheCounters = 1e6
	defaultBufferItems   = 64
	// per-entry bookkeeping charged on top of the string bytes
	entryOverhead = 48
	stringHeader  = 16
)

// WordCacheConfig configures the word -> pieces memo kept in front of BPE.
// If both bounds are set, the LRU is used.
type WordCacheConfig struct {
	// LRUSize bounds the memo by number of words.
	LRUSize int `json:"lruSize,omitempty"`
	// CostAwareSize bounds the memo by estimated memory, in human-readable
	// form such as "64MiB".
	CostAwareSize string `json:"costAwareSize,omitempty"`
}

func DefaultWordCacheConfig() *WordCacheConfig {
	return &WordCacheConfig{
		LRUSize: 100_000,
	}
}

type wordCache interface {
	get(word string) ([]string, bool)
	add(word string, pieces []string)
	close()
}

// newWordCache returns nil when cfg disables caching.
func newWordCache(cfg *WordCacheConfig) (wordCache, error) {
	switch {
	case cfg == nil:
		return nil, nil //nolint:nilnil // no cache configured
	case cfg.LRUSize > 0:
		cache, err := lru.New[string, []string](cfg.LRUSize)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize word cache: %w", err)
		}
		return &lruWordCache{cache: cache}, nil
	case cfg.CostAwareSize != "":
		sizeBytes, err := humanize.ParseBytes(cfg.CostAwareSize)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize word cache: %w", err)
		}
		cache, err := ristretto.NewCache(&ristretto.Config[string, []string]{
			NumCounters: defaultCacheCounters,
			MaxCost:     int64(sizeBytes), // #nosec G115
			BufferItems: defaultBufferItems,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to initialize word cache: %w", err)
		}
		return &costAwareWordCache{cache: cache}, nil
	default:
		return nil, nil //nolint:nilnil // no cache configured
	}
}

type lruWordCache struct {
	cache *lru.Cache[string, []string]
}

func (c *lruWordCache) get(word string) ([]string, bool) {
	return c.cache.Get(word)
}

func (c *lruWordCache) add(word string, pieces []string) {
	c.cache.Add(word, pieces)
}

func (c *lruWordCache) close() {
	c.cache.Purge()
}

type costAwareWordCache struct {
	cache *ristretto.Cache[string, []string]
}

func (c *costAwareWordCache) get(word string) ([]string, bool) {
	return c.cache.Get(word)
}

// add is asynchronous: the entry becomes visible once ristretto drains its
// write buffer, and may be dropped under contention.
func (c *costAwareWordCache) add(word string, pieces []string) {
	c.cache.Set(word, pieces, piecesCost(word, pieces))
}

func (c *costAwareWordCache) close() {
	c.cache.Close()
}

// piecesCost estimates the bytes held by one memo entry.
func piecesCost(word string, pieces []string) int64 {
	cost := int64(entryOverhead + len(word))
	for _, p := range pieces {
		cost += int64(stringHeader + len(p))
	}
	return cost
}

// cachedEncode consults cache before running encode. Callers own the
// returned slice.
func cachedEncode(cache wordCache, word string, encode func(string) []string) []string {
	if cache == nil {
		return encode(word)
	}

	if pieces, ok := cache.get(word); ok {
		metrics.WordCacheHits.Inc()
		return slices.Clone(pieces)
	}
	metrics.WordCacheMisses.Inc()

	pieces := encode(word)
	cache.add(word, slices.Clone(pieces))
	return pieces
}
