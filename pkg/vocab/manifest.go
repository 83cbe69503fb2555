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

	"github.com/fxamacker/cbor/v2"
	"k8s.io/klog/v2"

	"github.com/llm-d/llm-d-bpe-vocab/pkg/bpe"
	"github.com/llm-d/llm-d-bpe-vocab/pkg/utils/logging"
	"github.com/llm-d/llm-d-bpe-vocab/pkg/vocabmap"
)

// ManifestFile describes a compiled bundle.
const ManifestFile = "manifest.cbor"

// Bundle kinds.
const (
	KindWord = "word"
	KindBPE  = "bpe"
)

// Manifest records what a compiled bundle holds and how its tables were
// produced.
type Manifest struct {
	Kind     string        `cbor:"kind" json:"kind"`
	Specials SpecialTokens `cbor:"specials" json:"specials"`
	BPE      *bpe.Config   `cbor:"bpe,omitempty" json:"bpe,omitempty"`
}

func writeManifest(dir string, m *Manifest) error {
	encMode, err := cbor.CanonicalEncOptions().EncMode() // deterministic
	if err != nil {
		return fmt.Errorf("failed to create CBOR encoder: %w", err)
	}

	b, err := encMode.Marshal(m)
	if err != nil {
		return fmt.Errorf("failed to encode manifest: %w", err)
	}

	if err := os.WriteFile(filepath.Join(dir, ManifestFile), b, 0o644); err != nil { //nolint:gosec // bundles are world-readable
		return fmt.Errorf("failed to write manifest: %w", err)
	}
	return nil
}

// ReadManifest reads the manifest of the bundle in dir. Bundles without one
// are described from their layout: a bundle holding merge tables is BPE,
// anything else is a word vocabulary, both with default special tokens.
func ReadManifest(ctx context.Context, dir string) (*Manifest, error) {
	b, err := os.ReadFile(filepath.Join(dir, ManifestFile))
	if errors.Is(err, os.ErrNotExist) {
		klog.FromContext(ctx).V(logging.DEBUG).WithName("vocab.ReadManifest").
			Info("bundle has no manifest, inferring from layout", "dir", dir)

		m := &Manifest{Kind: KindWord, Specials: *DefaultSpecialTokens()}
		if _, err := os.Stat(filepath.Join(dir, bpe.CodesDir)); err == nil {
			m.Kind = KindBPE
			m.BPE = bpe.DefaultConfig()
		}
		return m, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}

	var m Manifest
	if err := cbor.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("failed to decode manifest in %s: %w", dir, err)
	}
	return &m, nil
}

// Load opens the compiled bundle in dir according to its manifest.
func Load(ctx context.Context, dir string, cacheCfg *WordCacheConfig) (Vocab, error) {
	m, err := ReadManifest(ctx, dir)
	if err != nil {
		return nil, err
	}

	switch m.Kind {
	case KindBPE:
		return loadCompiledBPEVocab(ctx, dir, m, cacheCfg)
	case KindWord:
		table, err := vocabmap.LoadPerfectHashStrInt(filepath.Join(dir, VocabDir))
		if err != nil {
			return nil, fmt.Errorf("failed to load word vocabulary: %w", err)
		}
		return NewWordVocabFromMap(table, &m.Specials), nil
	default:
		return nil, fmt.Errorf("unknown bundle kind %q in %s", m.Kind, dir)
	}
}

// LoadCompiledBPEVocab maps the BPE bundle in dir.
func LoadCompiledBPEVocab(ctx context.Context, dir string, cacheCfg *WordCacheConfig) (*BPEVocab, error) {
	m, err := ReadManifest(ctx, dir)
	if err != nil {
		return nil, err
	}
	if m.Kind != KindBPE {
		return nil, fmt.Errorf("bundle %s holds a %s vocabulary", dir, m.Kind)
	}
	return loadCompiledBPEVocab(ctx, dir, m, cacheCfg)
}

func loadCompiledBPEVocab(ctx context.Context, dir string, m *Manifest, cacheCfg *WordCacheConfig) (*BPEVocab, error) {
	return NewBPEVocab(ctx, &BPEConfig{
		VocabPath: dir,
		CodesPath: dir,
		Specials:  &m.Specials,
		BPE:       m.BPE,
		WordCache: cacheCfg,
	})
}
