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

// SplitSymbols splits word into its initial symbols, one per UTF-8 code
// point, and appends the word-final marker to the last one. A byte starts a
// new symbol unless it is a continuation byte (10xxxxxx), so malformed input
// is split on the same rule without validation.
func SplitSymbols(word string, m Markers) []string {
	if word == "" {
		return nil
	}

	symbols := make([]string, 0, len(word))
	start := 0
	for pos := 1; pos < len(word); pos++ {
		if word[pos]&0xc0 != 0x80 {
			symbols = append(symbols, word[start:pos])
			start = pos
		}
	}

	return append(symbols, word[start:]+m.WordFinal)
}

// ProcessBPE repeatedly merges the adjacent pair with the lowest rank in
// codes until no adjacent pair has a rank. When several pairs share the
// lowest rank the leftmost one is chosen. Every non-overlapping occurrence of
// the chosen pair is merged left to right in a single pass.
func ProcessBPE(symbols []string, codes vocabmap.StrInt, m Markers) []string {
	current := symbols

	for len(current) > 1 {
		var bestLeft, bestRight string
		var bestRank uint32
		found := false

		for i := 0; i+1 < len(current); i++ {
			rank, ok := codes.Find(m.PackPair(current[i], current[i+1]))
			if ok && (!found || rank < bestRank) {
				bestLeft, bestRight, bestRank = current[i], current[i+1], rank
				found = true
			}
		}

		if !found {
			break
		}

		merged := make([]string, 0, len(current)-1)
		for i := 0; i < len(current); i++ {
			if i+1 < len(current) && current[i] == bestLeft && current[i+1] == bestRight {
				merged = append(merged, bestLeft+bestRight)
				i++
				continue
			}
			merged = append(merged, current[i])
		}
		current = merged
	}

	return current
}
