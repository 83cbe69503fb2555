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

	"github.com/llm-d/llm-d-bpe-vocab/pkg/bpe"
	"github.com/llm-d/llm-d-bpe-vocab/pkg/metrics"
	"github.com/llm-d/llm-d-bpe-vocab/pkg/vocabmap"
)

// BPEConfig holds the configuration of a BPEVocab.
type BPEConfig struct {
	// VocabPath is a token file or a compiled bundle directory.
	VocabPath string `json:"vocabPath"`
	// VocabMap, when set, selects the vocabulary map backend instead of
	// VocabPath. Its ids must already carry the special-token offset.
	VocabMap *vocabmap.StrIntConfig `json:"vocabMap,omitempty"`
	// CodesPath is a merges file or a compiled bundle directory.
	CodesPath string `json:"codesPath"`

	Specials  *SpecialTokens   `json:"specials,omitempty"`
	BPE       *bpe.Config      `json:"bpe,omitempty"`
	WordCache *WordCacheConfig `json:"wordCache,omitempty"`
}

// BPEVocab splits words into subword pieces with BPE merges and resolves
// the pieces against an output vocabulary.
type BPEVocab struct {
	*specialTable

	vocab   vocabmap.StrInt
	codes   vocabmap.StrInt
	rev     vocabmap.StrStr
	cfg     *bpe.Config
	encoder *bpe.Encoder
	cache   wordCache
}

var _ Vocab = &BPEVocab{}

// NewBPEVocab loads the vocabulary and merge tables named by cfg.
func NewBPEVocab(ctx context.Context, cfg *BPEConfig) (*BPEVocab, error) {
	if cfg == nil {
		return nil, fmt.Errorf("no BPE vocabulary configuration provided")
	}

	table := newSpecialTable(cfg.Specials)
	markers := cfg.BPE.WithDefaults().Markers

	var vocab vocabmap.StrInt
	var err error
	if cfg.VocabMap != nil {
		vocab, err = vocabmap.NewStrInt(ctx, cfg.VocabMap)
	} else {
		vocab, err = ReadVocabFile(ctx, cfg.VocabPath, table.cfg.Offset())
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load BPE vocabulary: %w", err)
	}

	codes, rev, err := bpe.LoadMerges(ctx, cfg.CodesPath, markers)
	if err != nil {
		_ = vocabmap.Close(vocab)
		return nil, fmt.Errorf("failed to load BPE merges: %w", err)
	}

	v, err := newBPEVocab(table, vocab, codes, rev, cfg.BPE, cfg.WordCache)
	if err != nil {
		_ = vocabmap.Close(vocab)
		_ = vocabmap.Close(codes)
		_ = vocabmap.Close(rev)
		return nil, err
	}

	klog.FromContext(ctx).WithName("vocab.NewBPEVocab").Info("loaded BPE vocabulary",
		"vocab", cfg.VocabPath, "codes", cfg.CodesPath, "entries", vocab.Size(), "merges", codes.Size())

	return v, nil
}

// NewBPEVocabFromMaps assembles a BPEVocab from tables already in hand.
// The vocabulary ids must already carry the special-token offset.
func NewBPEVocabFromMaps(vocab, codes vocabmap.StrInt, rev vocabmap.StrStr, specials *SpecialTokens,
	cfg *bpe.Config, cacheCfg *WordCacheConfig,
) (*BPEVocab, error) {
	return newBPEVocab(newSpecialTable(specials), vocab, codes, rev, cfg, cacheCfg)
}

func newBPEVocab(table *specialTable, vocab, codes vocabmap.StrInt, rev vocabmap.StrStr,
	cfg *bpe.Config, cacheCfg *WordCacheConfig,
) (*BPEVocab, error) {
	cfg = cfg.WithDefaults()

	cache, err := newWordCache(cacheCfg)
	if err != nil {
		return nil, err
	}

	return &BPEVocab{
		specialTable: table,
		vocab:        vocab,
		codes:        codes,
		rev:          rev,
		cfg:          cfg,
		encoder:      bpe.NewEncoder(codes, rev, vocab, cfg),
		cache:        cache,
	}, nil
}

// Map returns the underlying vocabulary map.
func (v *BPEVocab) Map() vocabmap.StrInt {
	return v.vocab
}

// Config returns the BPE settings in effect.
func (v *BPEVocab) Config() *bpe.Config {
	return v.cfg
}

func (v *BPEVocab) Lookup(token string, transform Transform) uint32 {
	return lookup(v.specialTable, v.vocab, token, transform)
}

// Apply passes special tokens through untouched and replaces every other
// token by the BPE pieces of its transformed form.
func (v *BPEVocab) Apply(tokens []string, transform Transform) []string {
	if transform == nil {
		transform = Identity
	}

	out := make([]string, 0, len(tokens))
	for _, token := range tokens {
		if v.IsSpecial(token) {
			out = append(out, token)
			continue
		}
		out = append(out, v.EncodeWord(transform(token))...)
	}
	return out
}

// EncodeWord returns the pieces of a single already-transformed word.
func (v *BPEVocab) EncodeWord(word string) []string {
	pieces := cachedEncode(v.cache, word, v.encoder.EncodeWord)
	metrics.BPEWords.Inc()
	metrics.BPEPieces.Add(float64(len(pieces)))
	return pieces
}

// RLookup resolves special ids directly and delegates everything else to
// the vocabulary map. Compiled maps return vocabmap.ErrUnsupported.
func (v *BPEVocab) RLookup(id uint32) (string, error) {
	return rlookup(v.specialTable, v.vocab, id)
}

// CompileVocab writes ph-vocab, ph-codes and ph-rcodes plus the bundle
// manifest into dir. All three tables must be enumerable.
func (v *BPEVocab) CompileVocab(ctx context.Context, dir string) error {
	vocab, ok := v.vocab.(vocabmap.RangeStrInt)
	if !ok {
		return fmt.Errorf("vocabulary is not enumerable: %w", vocabmap.ErrUnsupported)
	}
	codes, ok := v.codes.(vocabmap.RangeStrInt)
	if !ok {
		return fmt.Errorf("merge ranks are not enumerable: %w", vocabmap.ErrUnsupported)
	}
	rev, ok := v.rev.(vocabmap.RangeStrStr)
	if !ok {
		return fmt.Errorf("reverse merges are not enumerable: %w", vocabmap.ErrUnsupported)
	}

	if err := os.MkdirAll(dir, 0o755); err != nil { //nolint:gosec // bundles are world-readable
		return fmt.Errorf("failed to create %s: %w", dir, err)
	}
	if err := vocabmap.CompileStrInt(ctx, vocab, filepath.Join(dir, VocabDir), nil); err != nil {
		return fmt.Errorf("failed to compile vocabulary: %w", err)
	}
	if err := vocabmap.CompileStrInt(ctx, codes, filepath.Join(dir, bpe.CodesDir), nil); err != nil {
		return fmt.Errorf("failed to compile merge ranks: %w", err)
	}
	if err := vocabmap.CompileStrStr(ctx, rev, filepath.Join(dir, bpe.RevCodesDir), nil); err != nil {
		return fmt.Errorf("failed to compile reverse merges: %w", err)
	}

	cfg := *v.cfg
	return writeManifest(dir, &Manifest{Kind: KindBPE, Specials: v.Specials(), BPE: &cfg})
}

// Close releases the word cache and every mapped table.
func (v *BPEVocab) Close() error {
	if v.cache != nil {
		v.cache.close()
	}
	return errors.Join(vocabmap.Close(v.vocab), vocabmap.Close(v.codes), vocabmap.Close(v.rev))
}
