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

// Package bpe applies byte-pair-encoding merges to words and restricts the
// resulting subwords to an output vocabulary.
package bpe

import "strings"

const (
	// WordFinal marks the last symbol of a word.
	WordFinal = "</w>"
	// Continuation marks a piece that is followed by more pieces of the same
	// word.
	Continuation = "@@"
	// PairDelim separates the two halves of a packed merge pair.
	PairDelim = "  "
)

// Markers holds the literal markers used by the merge tables and the output
// vocabulary.
type Markers struct {
	WordFinal    string `json:"wordFinal"`
	Continuation string `json:"continuation"`
	PairDelim    string `json:"pairDelim"`
}

// DefaultMarkers returns the standard subword-nmt markers.
func DefaultMarkers() Markers {
	return Markers{
		WordFinal:    WordFinal,
		Continuation: Continuation,
		PairDelim:    PairDelim,
	}
}

// WithDefaults returns m with every empty marker replaced by its standard
// value.
func (m Markers) WithDefaults() Markers {
	if m.WordFinal == "" {
		m.WordFinal = WordFinal
	}
	if m.Continuation == "" {
		m.Continuation = Continuation
	}
	if m.PairDelim == "" {
		m.PairDelim = PairDelim
	}
	return m
}

// PackPair joins a merge pair into its table key.
func (m Markers) PackPair(left, right string) string {
	return left + m.PairDelim + right
}

// UnpackPair splits a packed pair at the first delimiter.
func (m Markers) UnpackPair(packed string) (left, right string) {
	left, right, _ = strings.Cut(packed, m.PairDelim)
	return left, right
}
