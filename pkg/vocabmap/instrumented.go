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
	"github.com/prometheus/client_golang/prometheus"

	"github.com/llm-d/llm-d-bpe-vocab/pkg/metrics"
)

type instrumentedStrInt struct {
	next StrInt
}

// NewInstrumentedStrInt wraps a StrInt and emits metrics for Find and
// Exists. Reverse lookups and Close are forwarded when next supports them.
func NewInstrumentedStrInt(next StrInt) StrInt {
	return &instrumentedStrInt{next: next}
}

func (m *instrumentedStrInt) observe(found bool) {
	metrics.MapLookups.Inc()
	if found {
		metrics.MapHits.Inc()
	} else {
		metrics.MapMisses.Inc()
	}
}

func (m *instrumentedStrInt) Find(key string) (uint32, bool) {
	timer := prometheus.NewTimer(metrics.MapLookupLatency)
	defer timer.ObserveDuration()

	v, ok := m.next.Find(key)
	m.observe(ok)
	return v, ok
}

func (m *instrumentedStrInt) Exists(key string) bool {
	timer := prometheus.NewTimer(metrics.MapLookupLatency)
	defer timer.ObserveDuration()

	ok := m.next.Exists(key)
	m.observe(ok)
	return ok
}

func (m *instrumentedStrInt) Size() int {
	return m.next.Size()
}

func (m *instrumentedStrInt) RFind(value uint32) (string, bool, error) {
	if rf, ok := m.next.(ReverseFinder); ok {
		return rf.RFind(value)
	}
	return "", false, ErrUnsupported
}

func (m *instrumentedStrInt) Close() error {
	return Close(m.next)
}
