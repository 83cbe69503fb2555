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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	ctrlmetrics "sigs.k8s.io/controller-runtime/pkg/metrics"
)

func TestRegisterIsIdempotent(t *testing.T) {
	assert.NotPanics(t, Register)
	assert.NotPanics(t, Register)

	families, err := ctrlmetrics.Registry.Gather()
	assert.NoError(t, err)

	names := make(map[string]bool, len(families))
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["vocab_map_lookups_total"])
	assert.True(t, names["vocab_registry_loads_total"])
}

func TestCounterValue(t *testing.T) {
	before, ok := counterValue(BPEWords)
	assert.True(t, ok)
	BPEWords.Add(3)

	v, ok := counterValue(BPEWords)
	assert.True(t, ok)
	assert.InDelta(t, before+3, v, 1e-9)
}

func TestMetricsLoggingStopsWithContext(t *testing.T) {
	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()
	assert.NotPanics(t, func() {
		StartMetricsLogging(ctx, time.Millisecond)
		logMetrics(ctx)
	})
}
