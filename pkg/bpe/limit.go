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
	"strings"

	"github.com/llm-d/llm-d-bpe-vocab/pkg/vocabmap"
)

// Config controls how merged subwords are checked against the output
// vocabulary and rendered.
type Config struct {
	Markers Markers `json:"markers"`
	// KeepWordFinalMarker is set for vocabularies that store word-final pieces
	// with the marker (e.g. "w</w>"). The final piece is then queried and
	// rendered as is instead of with the marker stripped.
	KeepWordFinalMarker bool `json:"keepWordFinalMarker"`
}

// DefaultConfig returns the subword-nmt conventions: word-final pieces are
// stored and rendered without the marker.
func DefaultConfig() *Config {
	return &Config{Markers: DefaultMarkers()}
}

// WithDefaults returns c with unset markers filled in. A nil c yields
// DefaultConfig. c itself is not modified.
func (c *Config) WithDefaults() *Config {
	if c == nil {
		return DefaultConfig()
	}
	if markers := c.Markers.WithDefaults(); markers != c.Markers {
		filled := *c
		filled.Markers = markers
		return &filled
	}
	return c
}

// query returns the vocabulary form of subword s.
func (c *Config) query(s string, isFinal bool) string {
	if !isFinal {
		return s + c.Markers.Continuation
	}
	if c.KeepWordFinalMarker {
		return s
	}
	return strings.TrimSuffix(s, c.Markers.WordFinal)
}

type limitFrame struct {
	subword string
	isFinal bool
}

// LimitToVocab replaces every subword whose vocabulary form is missing from
// vocab by the pieces it was merged from, as recorded in rev, recursively.
// Only the last subword of the word is word-final; when it is split, the
// right half inherits that status and the left half does not. Subwords that
// cannot be split further are kept as they are.
func LimitToVocab(subwords []string, vocab vocabmap.StrInt, rev vocabmap.StrStr, cfg *Config) []string {
	cfg = cfg.WithDefaults()

	out := make([]string, 0, len(subwords))
	stack := make([]limitFrame, 0, 8)

	for i, subword := range subwords {
		stack = append(stack, limitFrame{subword: subword, isFinal: i == len(subwords)-1})

		for len(stack) > 0 {
			frame := stack[len(stack)-1]
			stack = stack[:len(stack)-1]

			if vocab.Exists(cfg.query(frame.subword, frame.isFinal)) {
				out = append(out, frame.subword)
				continue
			}

			packed, ok := rev.Find(frame.subword)
			if !ok {
				out = append(out, frame.subword)
				continue
			}

			left, right := cfg.Markers.UnpackPair(packed)
			// right is pushed first so that left is emitted first
			stack = append(stack,
				limitFrame{subword: right, isFinal: frame.isFinal},
				limitFrame{subword: left, isFinal: false})
		}
	}

	return out
}

// Render turns the subwords of one word into output pieces: every piece but
// the last gets the continuation marker, and the last one loses its
// word-final marker unless KeepWordFinalMarker is set. Empty pieces are
// dropped.
func Render(subwords []string, cfg *Config) []string {
	cfg = cfg.WithDefaults()

	pieces := make([]string, 0, len(subwords))
	for i, s := range subwords {
		if i < len(subwords)-1 {
			pieces = append(pieces, s+cfg.Markers.Continuation)
			continue
		}
		if !cfg.KeepWordFinalMarker {
			s = strings.TrimSuffix(s, cfg.Markers.WordFinal)
		}
		if s != "" {
			pieces = append(pieces, s)
		}
	}

	return pieces
}
