// Copyright 2025 The llm-d Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package metrics

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"k8s.io/klog/v2"
	"sigs.k8s.io/controller-runtime/pkg/metrics"
)

var (
	// MapLookups counts Find/Exists calls on instrumented vocabulary maps.
	MapLookups = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "vocab", Subsystem: "map", Name: "lookups_total",
		Help: "Total number of vocabulary map lookups",
	})
	// MapHits counts lookups that found their key.
	MapHits = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "vocab", Subsystem: "map", Name: "hits_total",
		Help: "Number of vocabulary map lookups that found the key",
	})
	MapMisses = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "vocab", Subsystem: "map", Name: "misses_total",
		Help: "Number of vocabulary map lookups that missed",
	})
	// MapLookupLatency logs latency of map lookups.
	MapLookupLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "vocab", Subsystem: "map", Name: "lookup_latency_seconds",
		Help:    "Latency of vocabulary map lookups in seconds",
		Buckets: []float64{1e-7, 5e-7, 1e-6, 5e-6, 1e-5, 5e-5, 1e-4, 1e-3, 1e-2},
	})

	// MapBackendErrors counts lookups answered as misses because a remote
	// map could not be read.
	MapBackendErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "vocab", Subsystem: "map", Name: "backend_errors_total",
		Help: "Number of vocabulary map lookups that failed in the backend",
	})

	BPEWords = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "vocab", Subsystem: "bpe", Name: "words_total",
		Help: "Total number of words run through BPE",
	})
	BPEPieces = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "vocab", Subsystem: "bpe", Name: "pieces_total",
		Help: "Total number of pieces produced by BPE",
	})

	WordCacheHits = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "vocab", Subsystem: "word_cache", Name: "hits_total",
		Help: "Number of words served from the word cache",
	})
	WordCacheMisses = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "vocab", Subsystem: "word_cache", Name: "misses_total",
		Help: "Number of words that missed the word cache",
	})

	// RegistryLoads counts vocabularies loaded from disk by the registry.
	RegistryLoads = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "vocab", Subsystem: "registry", Name: "loads_total",
		Help: "Total number of vocabulary loads",
	})
	RegistryEvictions = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "vocab", Subsystem: "registry", Name: "evictions_total",
		Help: "Total number of vocabularies evicted and closed",
	})
)

// Collectors returns a slice of all registered Prometheus collectors.
func Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		MapLookups, MapHits, MapMisses, MapLookupLatency, MapBackendErrors,
		BPEWords, BPEPieces,
		WordCacheHits, WordCacheMisses,
		RegistryLoads, RegistryEvictions,
	}
}

var registerMetricsOnce = sync.Once{}

// Register registers all metrics with K8s registry.
func Register() {
	registerMetricsOnce.Do(func() {
		metrics.Registry.MustRegister(Collectors()...)
	})
}

// StartMetricsLogging spawns a goroutine that logs current metric values every
// interval until ctx is done.
func StartMetricsLogging(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				logMetrics(ctx)
			}
		}
	}()
}

func counterValue(c prometheus.Counter) (float64, bool) {
	var m dto.Metric
	if err := c.Write(&m); err != nil {
		return 0, false
	}
	return m.GetCounter().GetValue(), true
}

func logMetrics(ctx context.Context) {
	lookups, ok := counterValue(MapLookups)
	if !ok {
		return
	}
	hits, ok := counterValue(MapHits)
	if !ok {
		return
	}
	misses, ok := counterValue(MapMisses)
	if !ok {
		return
	}
	words, ok := counterValue(BPEWords)
	if !ok {
		return
	}
	cacheHits, ok := counterValue(WordCacheHits)
	if !ok {
		return
	}
	loads, ok := counterValue(RegistryLoads)
	if !ok {
		return
	}

	var latencyMetric dto.Metric
	if err := MapLookupLatency.Write(&latencyMetric); err != nil {
		return
	}
	latencyCount := latencyMetric.GetHistogram().GetSampleCount()
	latencySum := latencyMetric.GetHistogram().GetSampleSum()
	latencyAvg := 0.0
	if latencyCount > 0 {
		latencyAvg = latencySum / float64(latencyCount)
	}

	klog.FromContext(ctx).WithName("metrics").Info("metrics beat",
		"lookups", lookups,
		"hits", hits,
		"misses", misses,
		"bpe_words", words,
		"word_cache_hits", cacheHits,
		"registry_loads", loads,
		"latency_count", latencyCount,
		"latency_sum", latencySum,
		"latency_avg", latencyAvg,
	)
}
