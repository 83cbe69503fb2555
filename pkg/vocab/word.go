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
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/llm-d/llm-d-bpe-vocab/pkg/vocabmap"
)

// WordVocab maps whole words to ids.
type WordVocab struct {
	*specialTable
	vocab vocabmap.StrInt
}

var _ Vocab = &WordVocab{}

// NewWordVocab reads the vocabulary at path, numbering entries from the
// offset implied by specials. A nil specials means the defaults.
func NewWordVocab(ctx context.Context, path string, specials *SpecialTokens) (*WordVocab, error) {
	table := newSpecialTable(specials)

	m, err := ReadVocabFile(ctx, path, table.cfg.Offset())
	if err != nil {
		return nil, fmt.Errorf("failed to create word vocabulary: %w", err)
	}

	return &WordVocab{specialTable: table, vocab: m}, nil
}

// NewWordVocabFromMap wraps an existing map whose ids already carry the
// special-token offset.
func NewWordVocabFromMap(m vocabmap.StrInt, specials *SpecialTokens) *WordVocab {
	return &WordVocab{specialTable: newSpecialTable(specials), vocab: m}
}

// NewWordVocabFromList numbers words in order, starting at the offset
// implied by specials. A repeated word takes its last id.
func NewWordVocabFromList(words []string, specials *SpecialTokens) *WordVocab {
	table := newSpecialTable(specials)

	m := vocabmap.NewInMemoryStrInt(nil)
	next := table.cfg.Offset()
	for _, w := range words {
		m.Set(w, next)
		next++
	}

	return &WordVocab{specialTable: table, vocab: m}
}

// NewWordVocabFromCounts keeps the words seen more than minFreq times,
// numbered in lexical order.
func NewWordVocabFromCounts(counts map[string]int, minFreq int, specials *SpecialTokens) *WordVocab {
	words := make([]string, 0, len(counts))
	for w, n := range counts {
		if n > minFreq {
			words = append(words, w)
		}
	}
	sort.Strings(words)

	return NewWordVocabFromList(words, specials)
}

// Map returns the underlying word map.
func (v *WordVocab) Map() vocabmap.StrInt {
	return v.vocab
}

func (v *WordVocab) Lookup(token string, transform Transform) uint32 {
	return lookup(v.specialTable, v.vocab, token, transform)
}

// Apply transforms every non-special token.
func (v *WordVocab) Apply(tokens []string, transform Transform) []string {
	if transform == nil {
		transform = Identity
	}

	out := make([]string, len(tokens))
	for i, token := range tokens {
		if v.IsSpecial(token) {
			out[i] = token
			continue
		}
		out[i] = transform(token)
	}
	return out
}

// RLookup is not supported by word vocabularies.
func (v *WordVocab) RLookup(uint32) (string, error) {
	return "", vocabmap.ErrUnsupported
}

func (v *WordVocab) CompileVocab(ctx context.Context, dir string) error {
	src, ok := v.vocab.(vocabmap.RangeStrInt)
	if !ok {
		return fmt.Errorf("word vocabulary is not enumerable: %w", vocabmap.ErrUnsupported)
	}

	if err := os.MkdirAll(dir, 0o755); err != nil { //nolint:gosec // bundles are world-readable
		return fmt.Errorf("failed to create %s: %w", dir, err)
	}
	if err := vocabmap.CompileStrInt(ctx, src, filepath.Join(dir, VocabDir), nil); err != nil {
		return fmt.Errorf("failed to compile vocabulary: %w", err)
	}

	return writeManifest(dir, &Manifest{Kind: KindWord, Specials: v.Specials()})
}

func (v *WordVocab) Close() error {
	return vocabmap.Close(v.vocab)
}
