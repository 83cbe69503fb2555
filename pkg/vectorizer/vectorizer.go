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

// Package vectorizer turns token sequences into fixed-length id vectors
// through a vocab.Vocab.
package vectorizer

import (
	"errors"
	"fmt"
	"strings"

	"github.com/llm-d/llm-d-bpe-vocab/pkg/bpe"
	"github.com/llm-d/llm-d-bpe-vocab/pkg/vocab"
)

// VocabVectorizer converts tokens to pieces and ids, optionally surrounding
// every sequence with fixed begin and end tokens.
//
// A VocabVectorizer is safe for concurrent use as long as its Vocab is.
type VocabVectorizer struct {
	vocab     vocab.Vocab
	transform vocab.Transform
	emitBegin []string
	emitEnd   []string
	// markers glue pieces back together in Decode
	markers bpe.Markers
}

// NewVocabVectorizer creates a vectorizer over v. A nil transform means
// identity.
func NewVocabVectorizer(v vocab.Vocab, transform vocab.Transform, emitBegin, emitEnd []string) *VocabVectorizer {
	if transform == nil {
		transform = vocab.Identity
	}

	markers := bpe.DefaultMarkers()
	if configured, ok := v.(interface{ Config() *bpe.Config }); ok {
		markers = configured.Config().WithDefaults().Markers
	}

	return &VocabVectorizer{
		vocab:     v,
		transform: transform,
		emitBegin: emitBegin,
		emitEnd:   emitEnd,
		markers:   markers,
	}
}

// Vocab returns the underlying vocabulary.
func (z *VocabVectorizer) Vocab() vocab.Vocab {
	return z.vocab
}

// ConvertToPieces applies the vocabulary to tokens and adds the begin and
// end tokens.
func (z *VocabVectorizer) ConvertToPieces(tokens []string) []string {
	pieces := z.vocab.Apply(tokens, z.transform)

	out := make([]string, 0, len(z.emitBegin)+len(pieces)+len(z.emitEnd))
	out = append(out, z.emitBegin...)
	out = append(out, pieces...)
	return append(out, z.emitEnd...)
}

// PieceToID resolves a single piece.
func (z *VocabVectorizer) PieceToID(piece string) uint32 {
	return z.vocab.Lookup(piece, z.transform)
}

// ConvertToIDs returns the ids of tokens in a vector of maxLen entries,
// truncated or padded with the pad id, along with the number of real ids.
// A maxLen of zero or less uses the natural length.
func (z *VocabVectorizer) ConvertToIDs(tokens []string, maxLen int) ([]uint32, int) {
	return z.PiecesToIDs(z.ConvertToPieces(tokens), maxLen)
}

// PiecesToIDs is ConvertToIDs over pieces already produced by
// ConvertToPieces.
func (z *VocabVectorizer) PiecesToIDs(pieces []string, maxLen int) ([]uint32, int) {
	if maxLen <= 0 {
		maxLen = len(pieces)
	}

	n := min(len(pieces), maxLen)
	ids := z.padded(maxLen)
	for i := 0; i < n; i++ {
		ids[i] = z.PieceToID(pieces[i])
	}

	return ids, n
}

// ConvertToIDsStack converts every sequence of batch into a row of length
// ids of one flat, row-major vector, and reports the real length of each
// row.
func (z *VocabVectorizer) ConvertToIDsStack(batch [][]string, length int) ([]uint32, []int) {
	if length < 0 {
		length = 0
	}

	ids := z.padded(length * len(batch))
	lengths := make([]int, len(batch))
	for i, tokens := range batch {
		pieces := z.ConvertToPieces(tokens)
		n := min(len(pieces), length)
		lengths[i] = n

		row := ids[i*length : (i+1)*length]
		for j := 0; j < n; j++ {
			row[j] = z.PieceToID(pieces[j])
		}
	}

	return ids, lengths
}

// CountPieces counts the occurrences of each piece produced for tokens.
func (z *VocabVectorizer) CountPieces(tokens []string) map[string]int {
	counts := make(map[string]int)
	for _, p := range z.ConvertToPieces(tokens) {
		counts[p]++
	}
	return counts
}

// Decode maps ids back to text. Pieces carrying the continuation marker are
// glued to the piece that follows and word-final markers are removed.
// Special and unknown ids are dropped. It fails if the vocabulary cannot
// resolve ids at all.
func (z *VocabVectorizer) Decode(ids []uint32) (string, error) {
	var sb strings.Builder
	for _, id := range ids {
		piece, err := z.vocab.RLookup(id)
		if errors.Is(err, vocab.ErrUnknownID) {
			continue
		}
		if err != nil {
			return "", fmt.Errorf("failed to decode id %d: %w", id, err)
		}
		if z.vocab.IsSpecial(piece) {
			continue
		}

		if i := strings.Index(piece, z.markers.Continuation); i >= 0 {
			sb.WriteString(piece[:i] + piece[i+len(z.markers.Continuation):])
			continue
		}
		sb.WriteString(strings.TrimSuffix(piece, z.markers.WordFinal))
		sb.WriteByte(' ')
	}

	return strings.TrimSpace(sb.String()), nil
}

func (z *VocabVectorizer) padded(n int) []uint32 {
	ids := make([]uint32, n)
	if pad := z.vocab.PadID(); pad != 0 {
		for i := range ids {
			ids[i] = pad
		}
	}
	return ids
}
