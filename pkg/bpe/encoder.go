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

package bpe

import (
	"github.com/llm-d/llm-d-bpe-vocab/pkg/vocabmap"
)

// Encoder bundles the merge tables and output vocabulary of one BPE model.
// It is safe for concurrent use when its maps are.
type Encoder struct {
	codes vocabmap.StrInt
	rev   vocabmap.StrStr
	vocab vocabmap.StrInt
	cfg   *Config
	// restrict is set when vocab holds at least one piece.
	restrict bool
}

// NewEncoder creates an Encoder. vocab may be nil or empty, in which case
// merged subwords are not restricted. Unset markers of cfg take their
// standard values.
func NewEncoder(codes vocabmap.StrInt, rev vocabmap.StrStr, vocab vocabmap.StrInt, cfg *Config) *Encoder {
	return &Encoder{
		codes:    codes,
		rev:      rev,
		vocab:    vocab,
		cfg:      cfg.WithDefaults(),
		restrict: vocab != nil && vocab.Size() > 0,
	}
}

// Config returns the encoder configuration.
func (e *Encoder) Config() *Config {
	return e.cfg
}

// Subwords returns the merged, vocabulary-restricted subwords of word before
// rendering. Empty words yield nil.
func (e *Encoder) Subwords(word string) []string {
	symbols := SplitSymbols(word, e.cfg.Markers)
	if symbols == nil {
		return nil
	}

	subwords := ProcessBPE(symbols, e.codes, e.cfg.Markers)
	if e.restrict {
		subwords = LimitToVocab(subwords, e.vocab, e.rev, e.cfg)
	}

	return subwords
}

// EncodeWord returns the rendered pieces of word.
func (e *Encoder) EncodeWord(word string) []string {
	subwords := e.Subwords(word)
	if subwords == nil {
		return nil
	}
	return Render(subwords, e.cfg)
}
