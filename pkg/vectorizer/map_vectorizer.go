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

package vectorizer

import (
	"strings"

	"github.com/llm-d/llm-d-bpe-vocab/pkg/vocab"
)

const (
	// DefaultField is read from map tokens when no fields are given.
	DefaultField = "text"
	// DefaultDelim joins the selected fields of a map token.
	DefaultDelim = "~~"
)

// MapVectorizer vectorizes tokens given as field maps, such as
// {"text": "low", "pos": "ADJ"}. The selected fields of each token are
// joined into a single token before the vocabulary is applied.
type MapVectorizer struct {
	*VocabVectorizer
	fields []string
	delim  string
}

// NewMapVectorizer creates a MapVectorizer. Empty fields means
// DefaultField and an empty delim means DefaultDelim.
func NewMapVectorizer(v vocab.Vocab, transform vocab.Transform, emitBegin, emitEnd, fields []string, delim string) *MapVectorizer {
	if len(fields) == 0 {
		fields = []string{DefaultField}
	}
	if delim == "" {
		delim = DefaultDelim
	}

	return &MapVectorizer{
		VocabVectorizer: NewVocabVectorizer(v, transform, emitBegin, emitEnd),
		fields:          fields,
		delim:           delim,
	}
}

// MapToToken joins the selected fields of token. Missing fields are empty.
func MapToToken(token map[string]string, fields []string, delim string) string {
	if len(fields) == 1 {
		return token[fields[0]]
	}

	parts := make([]string, len(fields))
	for i, f := range fields {
		parts[i] = token[f]
	}
	return strings.Join(parts, delim)
}

func (z *MapVectorizer) tokens(maps []map[string]string) []string {
	tokens := make([]string, len(maps))
	for i, m := range maps {
		tokens[i] = MapToToken(m, z.fields, z.delim)
	}
	return tokens
}

// ConvertMapsToPieces is ConvertToPieces over map tokens.
func (z *MapVectorizer) ConvertMapsToPieces(maps []map[string]string) []string {
	return z.ConvertToPieces(z.tokens(maps))
}

// ConvertMapsToIDs is ConvertToIDs over map tokens.
func (z *MapVectorizer) ConvertMapsToIDs(maps []map[string]string, maxLen int) ([]uint32, int) {
	return z.ConvertToIDs(z.tokens(maps), maxLen)
}

// CountMapPieces is CountPieces over map tokens.
func (z *MapVectorizer) CountMapPieces(maps []map[string]string) map[string]int {
	return z.CountPieces(z.tokens(maps))
}
