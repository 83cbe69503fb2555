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
	"time"

	"github.com/llm-d/llm-d-bpe-vocab/pkg/metrics"
)

// ErrUnsupported is returned by operations a map variant cannot serve, such
// as reverse lookups on a perfect-hash map.
var ErrUnsupported = errors.New("vocabmap: operation not supported")

// StrInt is a read-only string to integer map.
//
// Implementations are safe for concurrent use once constructed.
type StrInt interface {
	// Find returns the value stored for key.
	Find(key string) (uint32, bool)
	// Exists reports whether key is present.
	Exists(key string) bool
	// Size returns the number of keys held by the map.
	Size() int
}

// StrStr is a read-only string to string map.
type StrStr interface {
	Find(key string) (string, bool)
	Exists(key string) bool
	Size() int
}

// ReverseFinder is implemented by StrInt maps that can resolve a value back
// to its key.
type ReverseFinder interface {
	// RFind returns the key stored for value. Variants that cannot answer
	// return ErrUnsupported.
	RFind(value uint32) (string, bool, error)
}

// RangeStrInt is a StrInt whose entries can be enumerated.
type RangeStrInt interface {
	StrInt
	// Range calls fn for each entry until fn returns false.
	Range(fn func(key string, value uint32) bool)
}

// RangeStrStr is a StrStr whose entries can be enumerated.
type RangeStrStr interface {
	StrStr
	Range(fn func(key, value string) bool)
}

// StrIntConfig holds the configuration of a string to integer map.
// If multiple backends are configured, only the first one will be used.
type StrIntConfig struct {
	// TextFileConfig loads a one-token-per-line file into memory.
	TextFileConfig *TextFileConfig `json:"textFileConfig"`
	// PerfectHashConfig memory-maps a compiled map directory.
	PerfectHashConfig *PerfectHashConfig `json:"perfectHashConfig"`
	// RedisConfig reads a map published to a Redis hash.
	RedisConfig *RedisConfig `json:"redisConfig"`

	// EnableMetrics toggles whether lookups/hits/misses are recorded.
	EnableMetrics bool `json:"enableMetrics"`
	// MetricsLoggingInterval defines the interval at which metrics are logged.
	// If zero, metrics logging is disabled.
	// Requires `EnableMetrics` to be true.
	MetricsLoggingInterval time.Duration `json:"metricsLoggingInterval"`
}

// TextFileConfig configures an in-memory map read from a token file.
type TextFileConfig struct {
	Path string `json:"path"`
	// Offset is added to each line index to form the id.
	Offset uint32 `json:"offset"`
}

// PerfectHashConfig configures a memory-mapped perfect-hash map.
type PerfectHashConfig struct {
	Dir string `json:"dir"`
}

// NewStrInt creates the map selected by cfg.
func NewStrInt(ctx context.Context, cfg *StrIntConfig) (StrInt, error) {
	if cfg == nil {
		return nil, fmt.Errorf("no map configuration provided")
	}

	var m StrInt
	var err error

	switch {
	case cfg.TextFileConfig != nil:
		m, err = ReadTokenFile(cfg.TextFileConfig.Path, cfg.TextFileConfig.Offset)
		if err != nil {
			return nil, fmt.Errorf("failed to create in-memory map: %w", err)
		}
	case cfg.PerfectHashConfig != nil:
		m, err = LoadPerfectHashStrInt(cfg.PerfectHashConfig.Dir)
		if err != nil {
			return nil, fmt.Errorf("failed to create perfect-hash map: %w", err)
		}
	case cfg.RedisConfig != nil:
		//nolint:contextcheck // map lookups carry no context
		m, err = NewRedisStrInt(cfg.RedisConfig)
		if err != nil {
			return nil, fmt.Errorf("failed to create Redis map: %w", err)
		}
	default:
		return nil, fmt.Errorf("no valid map configuration provided")
	}

	// wrap in metrics only if enabled
	if cfg.EnableMetrics {
		m = NewInstrumentedStrInt(m)
		metrics.Register()
		if cfg.MetricsLoggingInterval > 0 {
			// this is non-blocking
			metrics.StartMetricsLogging(ctx, cfg.MetricsLoggingInterval)
		}
	}

	return m, nil
}

// Close releases the resources held by m, if any.
func Close(m any) error {
	if c, ok := m.(interface{ Close() error }); ok {
		return c.Close()
	}
	return nil
}
