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

package vocab_test

import (
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/llm-d/llm-d-bpe-vocab/pkg/bpe"
	"github.com/llm-d/llm-d-bpe-vocab/pkg/vocab"
	"github.com/llm-d/llm-d-bpe-vocab/pkg/vocabmap"
)

const mergesText = "#version: 0.2\nl o\nlo w</w>\ne r</w>\n"

var keepFinal = &bpe.Config{Markers: bpe.DefaultMarkers(), KeepWordFinalMarker: true}

func lowExampleVocab(t *testing.T, cacheCfg *vocab.WordCacheConfig) *vocab.BPEVocab {
	t.Helper()

	markers := bpe.DefaultMarkers()
	codes := vocabmap.NewInMemoryStrInt(map[string]uint32{
		markers.PackPair("l", "o"):     0,
		markers.PackPair("lo", "w</w>"): 1,
	})
	rev := vocabmap.NewInMemoryStrStr(map[string]string{
		"lo":      markers.PackPair("l", "o"),
		"low</w>": markers.PackPair("lo", "w</w>"),
	})
	words := vocabmap.NewInMemoryStrInt(map[string]uint32{"lo@@": 10, "w</w>": 11})

	v, err := vocab.NewBPEVocabFromMaps(words, codes, rev, nil, keepFinal, cacheCfg)
	require.NoError(t, err)
	t.Cleanup(func() { assert.NoError(t, v.Close()) })
	return v
}

func ids(v vocab.Vocab, pieces []string) []uint32 {
	out := make([]uint32, len(pieces))
	for i, p := range pieces {
		out[i] = v.Lookup(p, nil)
	}
	return out
}

func TestBPEVocabLowExample(t *testing.T) {
	v := lowExampleVocab(t, nil)

	pieces := v.Apply([]string{"low"}, nil)
	assert.Equal(t, []string{"lo@@", "w</w>"}, pieces)
	assert.Equal(t, []uint32{10, 11}, ids(v, pieces))
}

func TestBPEVocabSpecialTokenBypass(t *testing.T) {
	v := lowExampleVocab(t, nil)

	calls := 0
	spy := func(s string) string {
		calls++
		return s
	}

	pieces := v.Apply([]string{"<GO>", "<EOS>", "<PAD>", "<UNK>"}, spy)
	assert.Equal(t, []string{"<GO>", "<EOS>", "<PAD>", "<UNK>"}, pieces)
	assert.Equal(t, []uint32{1, 2, 0, 3}, []uint32{
		v.Lookup("<GO>", spy), v.Lookup("<EOS>", spy), v.Lookup("<PAD>", spy), v.Lookup("<UNK>", spy),
	})
	assert.Zero(t, calls, "special tokens must never be transformed")

	assert.Equal(t, []string{"<GO>", "lo@@", "w</w>", "<EOS>"}, v.Apply([]string{"<GO>", "low", "<EOS>"}, spy))
	assert.Equal(t, 1, calls)
}

func TestBPEVocabLookupFallsBackToUnknown(t *testing.T) {
	v := lowExampleVocab(t, nil)

	assert.Equal(t, v.UnkID(), v.Lookup("zzz", nil))
	assert.Equal(t, uint32(10), v.Lookup("LO@@", vocab.Lower))
}

func TestBPEVocabRLookup(t *testing.T) {
	v := lowExampleVocab(t, nil)

	piece, err := v.RLookup(10)
	require.NoError(t, err)
	assert.Equal(t, "lo@@", piece)

	piece, err = v.RLookup(1)
	require.NoError(t, err)
	assert.Equal(t, "<GO>", piece)

	_, err = v.RLookup(999)
	assert.ErrorIs(t, err, vocab.ErrUnknownID)
}

func TestBPEVocabFromFiles(t *testing.T) {
	cfg := &vocab.BPEConfig{
		VocabPath: writeFile(t, "vocab.txt", "lo@@ 120\nw 80\ner 12\nl@@ 3\n"),
		CodesPath: writeFile(t, "codes.txt", mergesText),
	}

	v, err := vocab.NewBPEVocab(t.Context(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { assert.NoError(t, v.Close()) })

	pieces := v.Apply([]string{"low", "Lower"}, vocab.Lower)
	assert.Equal(t, []string{"lo@@", "w", "lo@@", "w@@", "er"}, pieces)
	assert.Equal(t, []uint32{4, 5, 4, v.UnkID(), 6}, ids(v, pieces))
}

func TestBPEVocabConfigWithoutMarkers(t *testing.T) {
	var cfg bpe.Config
	require.NoError(t, json.Unmarshal([]byte(`{"keepWordFinalMarker":true}`), &cfg))

	v, err := vocab.NewBPEVocab(t.Context(), &vocab.BPEConfig{
		VocabPath: writeFile(t, "vocab.txt", "lo@@\nw</w>\n"),
		CodesPath: writeFile(t, "codes.txt", mergesText),
		BPE:       &cfg,
	})
	require.NoError(t, err)
	t.Cleanup(func() { assert.NoError(t, v.Close()) })

	assert.Equal(t, bpe.DefaultMarkers(), v.Config().Markers)
	assert.True(t, v.Config().KeepWordFinalMarker)

	pieces := v.Apply([]string{"low"}, nil)
	assert.Equal(t, []string{"lo@@", "w</w>"}, pieces)
	assert.Equal(t, []uint32{4, 5}, ids(v, pieces))
}

func TestBPEVocabMissingInputs(t *testing.T) {
	_, err := vocab.NewBPEVocab(t.Context(), nil)
	assert.Error(t, err)

	_, err = vocab.NewBPEVocab(t.Context(), &vocab.BPEConfig{
		VocabPath: filepath.Join(t.TempDir(), "missing"),
		CodesPath: writeFile(t, "codes.txt", mergesText),
	})
	assert.Error(t, err)

	_, err = vocab.NewBPEVocab(t.Context(), &vocab.BPEConfig{
		VocabPath: writeFile(t, "vocab.txt", "lo@@\n"),
		CodesPath: filepath.Join(t.TempDir(), "missing"),
	})
	assert.Error(t, err)
}

func TestBPEVocabCompileRoundTrip(t *testing.T) {
	specials := vocab.DefaultSpecialTokens()
	specials.Extra = []string{"<SEP>"}

	src, err := vocab.NewBPEVocab(t.Context(), &vocab.BPEConfig{
		VocabPath: writeFile(t, "vocab.txt", "lo@@\nw</w>\ner</w>\nl@@\no@@\nw@@\ne@@\nr</w>\n"),
		CodesPath: writeFile(t, "codes.txt", mergesText),
		Specials:  specials,
		BPE:       keepFinal,
	})
	require.NoError(t, err)
	t.Cleanup(func() { assert.NoError(t, src.Close()) })

	dir := t.TempDir()
	require.NoError(t, src.CompileVocab(t.Context(), dir))

	compiled, err := vocab.LoadCompiledBPEVocab(t.Context(), dir, vocab.DefaultWordCacheConfig())
	require.NoError(t, err)
	t.Cleanup(func() { assert.NoError(t, compiled.Close()) })

	assert.True(t, compiled.Config().KeepWordFinalMarker)
	assert.Equal(t, specials.Extra, compiled.Specials().Extra)

	tokens := []string{"<GO>", "low", "lower", "owl", "<SEP>", "err", "x", "<EOS>"}
	want := src.Apply(tokens, nil)
	got := compiled.Apply(tokens, nil)
	assert.Equal(t, want, got)
	assert.Equal(t, ids(src, want), ids(compiled, got))

	_, err = compiled.RLookup(6)
	assert.ErrorIs(t, err, vocabmap.ErrUnsupported)
	name, err := compiled.RLookup(4)
	require.NoError(t, err)
	assert.Equal(t, "<SEP>", name)

	loaded, err := vocab.Load(t.Context(), dir, nil)
	require.NoError(t, err)
	t.Cleanup(func() { assert.NoError(t, loaded.Close()) })
	assert.IsType(t, &vocab.BPEVocab{}, loaded)
}

func TestBPEVocabCompileRequiresEnumerableTables(t *testing.T) {
	dir := t.TempDir()
	v := lowExampleVocab(t, nil)
	require.NoError(t, v.CompileVocab(t.Context(), dir))

	compiled, err := vocab.LoadCompiledBPEVocab(t.Context(), dir, nil)
	require.NoError(t, err)
	t.Cleanup(func() { assert.NoError(t, compiled.Close()) })

	err = compiled.CompileVocab(t.Context(), t.TempDir())
	assert.ErrorIs(t, err, vocabmap.ErrUnsupported)
}

func TestBPEVocabRedisBackend(t *testing.T) {
	server, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(server.Close)

	client, err := vocabmap.NewRedisClient(t.Context(), server.Addr())
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	require.NoError(t, vocabmap.PublishStrInt(t.Context(), client, "bpe-vocab",
		vocabmap.NewInMemoryStrInt(map[string]uint32{"lo@@": 10, "w</w>": 11})))

	v, err := vocab.NewBPEVocab(t.Context(), &vocab.BPEConfig{
		VocabMap: &vocabmap.StrIntConfig{
			RedisConfig: &vocabmap.RedisConfig{Address: server.Addr(), Key: "bpe-vocab"},
		},
		CodesPath: writeFile(t, "codes.txt", mergesText),
		BPE:       keepFinal,
	})
	require.NoError(t, err)
	t.Cleanup(func() { assert.NoError(t, v.Close()) })

	pieces := v.Apply([]string{"low"}, nil)
	assert.Equal(t, []string{"lo@@", "w</w>"}, pieces)
	assert.Equal(t, []uint32{10, 11}, ids(v, pieces))

	piece, err := v.RLookup(11)
	require.NoError(t, err)
	assert.Equal(t, "w</w>", piece)
}

func TestBPEVocabWordCaches(t *testing.T) {
	for name, cfg := range map[string]*vocab.WordCacheConfig{
		"lru":        {LRUSize: 16},
		"cost-aware": {CostAwareSize: "1MiB"},
	} {
		t.Run(name, func(t *testing.T) {
			v := lowExampleVocab(t, cfg)
			for i := 0; i < 3; i++ {
				assert.Equal(t, []string{"lo@@", "w</w>"}, v.Apply([]string{"low"}, nil))
			}
		})
	}

	_, err := vocab.NewBPEVocabFromMaps(vocabmap.NewInMemoryStrInt(nil), vocabmap.NewInMemoryStrInt(nil),
		vocabmap.NewInMemoryStrStr(nil), nil, nil, &vocab.WordCacheConfig{CostAwareSize: "lots"})
	assert.Error(t, err)
}
