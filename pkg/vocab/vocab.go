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
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"k8s.io/klog/v2"

	"github.com/llm-d/llm-d-bpe-vocab/pkg/utils/logging"
	"github.com/llm-d/llm-d-bpe-vocab/pkg/vocabmap"
)

// VocabDir is the sub-directory of a compiled bundle holding the vocabulary.
const VocabDir = "ph-vocab"

// ErrUnknownID is returned by RLookup for ids the vocabulary does not hold.
var ErrUnknownID = errors.New("vocab: unknown id")

// Vocab resolves tokens to ids.
//
// Implementations are safe for concurrent use until Close is called.
type Vocab interface {
	// Lookup returns the id of token. Special tokens resolve directly;
	// anything else is transformed and looked up, falling back to the
	// unknown id.
	Lookup(token string, transform Transform) uint32
	// Apply turns tokens into the pieces that Lookup resolves.
	Apply(tokens []string, transform Transform) []string
	// RLookup returns the piece stored for id.
	RLookup(id uint32) (string, error)
	// IsSpecial reports whether token is one of the reserved tokens.
	IsSpecial(token string) bool
	// CompileVocab writes the vocabulary into dir as memory-mappable tables.
	CompileVocab(ctx context.Context, dir string) error
	// Close releases mapped tables.
	Close() error

	Specials() SpecialTokens
	PadID() uint32
	StartID() uint32
	EndID() uint32
	UnkID() uint32
	PadStr() string
	StartStr() string
	EndStr() string
	UnkStr() string
}

// ReadVocabFile loads the vocabulary at path. A directory is taken as a
// compiled bundle and its ph-vocab table is mapped; the ids stored there
// already carry their offset. Anything else is read as a token file where
// the first field of line i gets id i + offset.
func ReadVocabFile(ctx context.Context, path string, offset uint32) (vocabmap.StrInt, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat vocabulary %s: %w", path, err)
	}

	if info.IsDir() {
		klog.FromContext(ctx).V(logging.DEBUG).WithName("vocab.ReadVocabFile").
			Info("vocabulary path is a directory, mapping compiled table", "path", path)
		return vocabmap.LoadPerfectHashStrInt(filepath.Join(path, VocabDir))
	}

	return vocabmap.ReadTokenFile(path, offset)
}

func lookup(specials *specialTable, m vocabmap.StrInt, token string, transform Transform) uint32 {
	if id, ok := specials.find(token); ok {
		return id
	}
	if transform == nil {
		transform = Identity
	}
	if id, ok := m.Find(transform(token)); ok {
		return id
	}
	return specials.UnkID()
}

func rlookup(specials *specialTable, m vocabmap.StrInt, id uint32) (string, error) {
	if name, ok := specials.names[id]; ok {
		return name, nil
	}

	rf, ok := m.(vocabmap.ReverseFinder)
	if !ok {
		return "", vocabmap.ErrUnsupported
	}
	key, found, err := rf.RFind(id)
	if err != nil {
		return "", err
	}
	if !found {
		return "", ErrUnknownID
	}
	return key, nil
}
