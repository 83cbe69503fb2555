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

// Package vocab maps tokens to integer ids through a whole-word or a BPE
// vocabulary.
package vocab

import (
	"k8s.io/apimachinery/pkg/util/sets"
)

// SpecialTokens holds the reserved tokens of a vocabulary. They bypass any
// transform or BPE processing and resolve directly to their ids.
type SpecialTokens struct {
	Pad     string `json:"pad"`
	PadID   uint32 `json:"padId"`
	Start   string `json:"start"`
	StartID uint32 `json:"startId"`
	End     string `json:"end"`
	EndID   uint32 `json:"endId"`
	Unk     string `json:"unk"`
	UnkID   uint32 `json:"unkId"`
	// Extra tokens are numbered upward from the largest reserved id.
	Extra []string `json:"extra,omitempty"`
}

// DefaultSpecialTokens returns <PAD>=0, <GO>=1, <EOS>=2 and <UNK>=3.
func DefaultSpecialTokens() *SpecialTokens {
	return &SpecialTokens{
		Pad:     "<PAD>",
		PadID:   0,
		Start:   "<GO>",
		StartID: 1,
		End:     "<EOS>",
		EndID:   2,
		Unk:     "<UNK>",
		UnkID:   3,
	}
}

// Offset returns the first id available to regular vocabulary entries.
func (s *SpecialTokens) Offset() uint32 {
	return max(s.PadID, s.StartID, s.EndID, s.UnkID) + 1 + uint32(len(s.Extra)) //nolint:gosec // bounded by config
}

// specialTable is the resolved form of SpecialTokens shared by every Vocab.
type specialTable struct {
	cfg    SpecialTokens
	tokens sets.Set[string]
	ids    map[string]uint32
	names  map[uint32]string
}

func newSpecialTable(cfg *SpecialTokens) *specialTable {
	if cfg == nil {
		cfg = DefaultSpecialTokens()
	}

	t := &specialTable{
		cfg:   *cfg,
		ids:   make(map[string]uint32, 4+len(cfg.Extra)),
		names: make(map[uint32]string, 4+len(cfg.Extra)),
	}
	t.add(cfg.Pad, cfg.PadID)
	t.add(cfg.Start, cfg.StartID)
	t.add(cfg.End, cfg.EndID)
	t.add(cfg.Unk, cfg.UnkID)

	next := max(cfg.PadID, cfg.StartID, cfg.EndID, cfg.UnkID) + 1
	for _, token := range cfg.Extra {
		t.add(token, next)
		next++
	}
	t.tokens = sets.KeySet(t.ids)

	return t
}

// add registers token; a later registration of the same token wins.
func (t *specialTable) add(token string, id uint32) {
	t.ids[token] = id
	t.names[id] = token
}

func (t *specialTable) find(token string) (uint32, bool) {
	id, ok := t.ids[token]
	return id, ok
}

func (t *specialTable) IsSpecial(token string) bool { return t.tokens.Has(token) }

func (t *specialTable) Specials() SpecialTokens { return t.cfg }

func (t *specialTable) PadID() uint32   { return t.cfg.PadID }
func (t *specialTable) StartID() uint32 { return t.cfg.StartID }
func (t *specialTable) EndID() uint32   { return t.cfg.EndID }
func (t *specialTable) UnkID() uint32   { return t.cfg.UnkID }

func (t *specialTable) PadStr() string   { return t.cfg.Pad }
func (t *specialTable) StartStr() string { return t.cfg.Start }
func (t *specialTable) EndStr() string   { return t.cfg.End }
func (t *specialTable) UnkStr() string   { return t.cfg.Unk }
