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

//nolint:testpackage // need to test internal types
package tokenization

import (
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/llm-d/llm-d-bpe-vocab/pkg/bpe"
	"github.com/llm-d/llm-d-bpe-vocab/pkg/vocab"
	"github.com/llm-d/llm-d-bpe-vocab/pkg/vocabmap"
)

const testVocabName = "low-example"

// writeTestBundle compiles a small BPE vocabulary into vocabsDir/name.
func writeTestBundle(t *testing.T, vocabsDir, name string) {
	t.Helper()

	markers := bpe.DefaultMarkers()
	codes := vocabmap.NewInMemoryStrInt(map[string]uint32{
		markers.PackPair("l", "o"):      0,
		markers.PackPair("lo", "w</w>"): 1,
	})
	rev := vocabmap.NewInMemoryStrStr(map[string]string{
		"lo":      markers.PackPair("l", "o"),
		"low</w>": markers.PackPair("lo", "w</w>"),
	})
	words := vocabmap.NewInMemoryStrInt(map[string]uint32{"lo@@": 10, "w</w>": 11})

	v, err := vocab.NewBPEVocabFromMaps(words, codes, rev, nil,
		&bpe.Config{Markers: markers, KeepWordFinalMarker: true}, nil)
	require.NoError(t, err)
	require.NoError(t, v.CompileVocab(t.Context(), filepath.Join(vocabsDir, name)))
}

func newTestRegistry(t *testing.T, cacheSize int, names ...string) *Registry {
	t.Helper()

	dir := t.TempDir()
	for _, name := range names {
		writeTestBundle(t, dir, name)
	}

	r, err := NewRegistry(&RegistryConfig{
		VocabsDir: dir,
		CacheSize: cacheSize,
		EmitBegin: []string{"<GO>"},
		EmitEnd:   []string{"<EOS>"},
	})
	require.NoError(t, err)
	t.Cleanup(r.Close)
	return r
}

func TestRegistry_Encode(t *testing.T) {
	r := newTestRegistry(t, 2, testVocabName)

	enc, err := r.Encode(t.Context(), testVocabName, []string{"low"}, 6)
	require.NoError(t, err)

	assert.Equal(t, []string{"<GO>", "lo@@", "w</w>", "<EOS>"}, enc.Pieces)
	assert.Equal(t, []uint32{1, 10, 11, 2, 0, 0}, enc.IDs)
	assert.Equal(t, 4, enc.Length)
}

func TestRegistry_Queries(t *testing.T) {
	r := newTestRegistry(t, 2, testVocabName)

	id, err := r.Lookup(t.Context(), testVocabName, "lo@@")
	require.NoError(t, err)
	assert.Equal(t, uint32(10), id)

	id, err = r.Lookup(t.Context(), testVocabName, "nope")
	require.NoError(t, err)
	assert.Equal(t, uint32(3), id)

	piece, err := r.RLookup(t.Context(), testVocabName, 2)
	require.NoError(t, err)
	assert.Equal(t, "<EOS>", piece)

	_, err = r.RLookup(t.Context(), testVocabName, 10)
	assert.ErrorIs(t, err, vocabmap.ErrUnsupported)

	_, err = r.Decode(t.Context(), testVocabName, []uint32{10, 11})
	assert.ErrorIs(t, err, vocabmap.ErrUnsupported)

	ids, lengths, err := r.EncodeStack(t.Context(), testVocabName, [][]string{{"low"}, {}}, 3)
	require.NoError(t, err)
	assert.Equal(t, []uint32{1, 10, 11, 1, 2, 0}, ids)
	assert.Equal(t, []int{3, 2}, lengths)
}

func TestRegistry_InvalidVocabulary(t *testing.T) {
	r := newTestRegistry(t, 2, testVocabName)

	for _, name := range []string{"", "..", "../" + testVocabName, "a/b", ".hidden"} {
		_, err := r.Encode(t.Context(), name, []string{"low"}, 0)
		assert.ErrorIs(t, err, ErrInvalidName, name)
	}

	_, err := r.Encode(t.Context(), "missing", []string{"low"}, 0)
	assert.Error(t, err)
	assert.Empty(t, r.Loaded())
}

func TestRegistry_LoadsOnce(t *testing.T) {
	r := newTestRegistry(t, 2, testVocabName)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			enc, err := r.Encode(t.Context(), testVocabName, []string{"low", "low"}, 0)
			assert.NoError(t, err)
			assert.Equal(t, 6, enc.Length)
		}()
	}
	wg.Wait()

	assert.Equal(t, []string{testVocabName}, r.Loaded())
}

func TestRegistry_Eviction(t *testing.T) {
	r := newTestRegistry(t, 1, "a", "b")

	_, err := r.Encode(t.Context(), "a", []string{"low"}, 0)
	require.NoError(t, err)
	_, err = r.Encode(t.Context(), "b", []string{"low"}, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, r.Loaded())

	enc, err := r.Encode(t.Context(), "a", []string{"low"}, 0)
	require.NoError(t, err)
	assert.Equal(t, []uint32{1, 10, 11, 2}, enc.IDs)
	assert.Equal(t, []string{"a"}, r.Loaded())
}

func TestRegistry_EvictionWaitsForQueries(t *testing.T) {
	r := newTestRegistry(t, 2, testVocabName)

	l, err := r.acquire(t.Context(), testVocabName)
	require.NoError(t, err)

	evicted := make(chan struct{})
	go func() {
		r.Evict(testVocabName)
		close(evicted)
	}()

	isEvicted := func() bool {
		select {
		case <-evicted:
			return true
		default:
			return false
		}
	}

	assert.Never(t, isEvicted, 100*time.Millisecond, 10*time.Millisecond)
	assert.Equal(t, []uint32{10, 11}, []uint32{l.vectorizer.PieceToID("lo@@"), l.vectorizer.PieceToID("w</w>")})

	l.mu.RUnlock()
	assert.Eventually(t, isEvicted, time.Second, 10*time.Millisecond)
	assert.True(t, l.closed)
}

func TestRegistry_Close(t *testing.T) {
	r := newTestRegistry(t, 2, testVocabName)

	_, err := r.Encode(t.Context(), testVocabName, []string{"low"}, 0)
	require.NoError(t, err)

	r.Close()
	assert.Empty(t, r.Loaded())

	_, err = r.Encode(t.Context(), testVocabName, []string{"low"}, 0)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestNewRegistry_UnknownTransform(t *testing.T) {
	_, err := NewRegistry(&RegistryConfig{Transform: "rot13"})
	assert.Error(t, err)
}
