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

package vocabmap_test

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	. "github.com/llm-d/llm-d-bpe-vocab/pkg/vocabmap"
)

// strIntFactory builds a map holding exactly entries.
type strIntFactory func(t *testing.T, entries map[string]uint32) StrInt

// strStrFactory builds a map holding exactly entries.
type strStrFactory func(t *testing.T, entries map[string]string) StrStr

func sampleVocab(n int) map[string]uint32 {
	entries := make(map[string]uint32, n)
	for i := 0; i < n; i++ {
		entries[fmt.Sprintf("tok%d@@", i)] = uint32(i + 4)
	}
	entries["lo@@"] = 10
	entries["w</w>"] = 11
	entries["ünï"] = 12
	entries[""] = 13
	return entries
}

// testCommonStrIntBehavior runs the behaviour every StrInt variant must share.
func testCommonStrIntBehavior(t *testing.T, factory strIntFactory) {
	t.Helper()

	t.Run("FindAndExists", func(t *testing.T) {
		entries := sampleVocab(500)
		m := factory(t, entries)

		assert.Equal(t, len(entries), m.Size())
		for k, want := range entries {
			got, ok := m.Find(k)
			require.True(t, ok, "key %q", k)
			assert.Equal(t, want, got, "key %q", k)
			assert.True(t, m.Exists(k), "key %q", k)
		}
	})

	t.Run("Misses", func(t *testing.T) {
		m := factory(t, sampleVocab(100))

		for _, k := range []string{"missing", "lo", "w", "tok1", "tok100000@@"} {
			_, ok := m.Find(k)
			assert.False(t, ok, "key %q", k)
			assert.False(t, m.Exists(k), "key %q", k)
		}
	})

	t.Run("ConcurrentReads", func(t *testing.T) {
		entries := sampleVocab(200)
		m := factory(t, entries)

		var wg sync.WaitGroup
		for w := 0; w < 8; w++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for k, want := range entries {
					got, ok := m.Find(k)
					assert.True(t, ok)
					assert.Equal(t, want, got)
				}
			}()
		}
		wg.Wait()
	})
}

// testCommonStrStrBehavior runs the behaviour every StrStr variant must share.
func testCommonStrStrBehavior(t *testing.T, factory strStrFactory) {
	t.Helper()

	t.Run("FindAndExists", func(t *testing.T) {
		entries := map[string]string{
			"lo":      "l  o",
			"low</w>": "lo  w</w>",
			"empty":   "",
			"ü":       "u  ̈",
		}
		for i := 0; i < 300; i++ {
			entries[fmt.Sprintf("m%d", i)] = fmt.Sprintf("m  %d", i)
		}
		m := factory(t, entries)

		assert.Equal(t, len(entries), m.Size())
		for k, want := range entries {
			got, ok := m.Find(k)
			require.True(t, ok, "key %q", k)
			assert.Equal(t, want, got)
			assert.True(t, m.Exists(k))
		}
	})

	t.Run("Misses", func(t *testing.T) {
		m := factory(t, map[string]string{"ab": "a  b"})

		for _, k := range []string{"a", "b", "abc", ""} {
			_, ok := m.Find(k)
			assert.False(t, ok, "key %q", k)
			assert.False(t, m.Exists(k), "key %q", k)
		}
	})
}
