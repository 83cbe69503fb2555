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

package phf

import (
	"context"
	"encoding/binary"
	"fmt"
	"slices"
	"sort"

	"k8s.io/apimachinery/pkg/util/sets"
	"k8s.io/klog/v2"

	"github.com/llm-d/llm-d-bpe-vocab/pkg/utils/logging"
)

const (
	defaultAvgBucketSize   = 4
	defaultLoadFactor      = 80
	defaultMaxDisplacement = 1 << 24
	// ctxCheckInterval is the number of displacement attempts between
	// context checks.
	ctxCheckInterval = 1024
)

// BuildConfig holds the parameters of a perfect hash construction.
type BuildConfig struct {
	// AvgBucketSize is the average number of keys per first-level bucket.
	AvgBucketSize uint32 `json:"avgBucketSize"`
	// LoadFactor is the percentage of output slots that will be occupied,
	// clamped to [1, 100].
	LoadFactor uint32 `json:"loadFactor"`
	// Seed seeds both hash levels.
	Seed uint32 `json:"seed"`
	// NoDiv selects power-of-two sizes reduced with bit masks instead of
	// prime sizes reduced with modulo.
	NoDiv bool `json:"noDiv"`
	// MaxDisplacement bounds the per-bucket displacement search.
	// Zero means unbounded.
	MaxDisplacement uint32 `json:"maxDisplacement"`
}

// DefaultBuildConfig returns the default construction parameters.
func DefaultBuildConfig() *BuildConfig {
	return &BuildConfig{
		AvgBucketSize:   defaultAvgBucketSize,
		LoadFactor:      defaultLoadFactor,
		Seed:            DefaultSeed,
		NoDiv:           true,
		MaxDisplacement: defaultMaxDisplacement,
	}
}

// bucketKey is a key tagged with its first-level bucket.
type bucketKey struct {
	key    string
	bucket uint32
}

// bitmap tracks slot occupancy.
type bitmap []uint64

func newBitmap(n uint32) bitmap {
	return make(bitmap, (uint64(n)+63)/64)
}

func (b bitmap) isSet(i uint32) bool { return b[i>>6]&(1<<(i&63)) != 0 }
func (b bitmap) set(i uint32)        { b[i>>6] |= 1 << (i & 63) }
func (b bitmap) clear(i uint32)      { b[i>>6] &^= 1 << (i & 63) }

// Build constructs a perfect hash function over keys. The keys must be
// unique; use Uniq to de-duplicate a raw list first.
//
// The returned function uses 32-bit displacements; call Compact to narrow
// them.
func Build(ctx context.Context, keys []string, cfg *BuildConfig) (*PHF, error) {
	if cfg == nil {
		cfg = DefaultBuildConfig()
	}

	logger := klog.FromContext(ctx).WithName("phf.Build")

	if sets.New(keys...).Len() != len(keys) {
		return nil, ErrDuplicateKey
	}

	r, m, err := Sizes(uint64(len(keys)), uint64(cfg.AvgBucketSize), uint64(cfg.LoadFactor), cfg.NoDiv)
	if err != nil {
		return nil, fmt.Errorf("failed to size %d keys: %w", len(keys), err)
	}

	bucketSizes := make([]uint32, r)
	tagged := make([]bucketKey, len(keys))
	for i, key := range keys {
		b := reduce(G(key, cfg.Seed), r, cfg.NoDiv)
		tagged[i] = bucketKey{key: key, bucket: b}
		bucketSizes[b]++
	}

	// largest buckets first, ties broken by descending bucket id so that the
	// keys of one bucket stay contiguous
	sort.SliceStable(tagged, func(i, j int) bool {
		si, sj := bucketSizes[tagged[i].bucket], bucketSizes[tagged[j].bucket]
		if si != sj {
			return si > sj
		}
		return tagged[i].bucket > tagged[j].bucket
	})

	taken := newBitmap(m)
	pending := newBitmap(m)
	g := make([]uint32, r)
	slots := make([]uint32, 0, 16)
	var dmax uint32
	attempts := 0

	for start := 0; start < len(tagged); {
		bucket := tagged[start].bucket
		end := start + int(bucketSizes[bucket])
		members := tagged[start:end]

		var d uint32
	search:
		for {
			d++
			if cfg.MaxDisplacement > 0 && d > cfg.MaxDisplacement {
				return nil, fmt.Errorf("bucket %d with %d keys: %w", bucket, len(members), ErrDisplacementExhausted)
			}
			if attempts++; attempts%ctxCheckInterval == 0 {
				if err := ctx.Err(); err != nil {
					return nil, fmt.Errorf("perfect hash build interrupted: %w", err)
				}
			}

			slots = slots[:0]
			for _, bk := range members {
				f := reduce(F(d, bk.key, cfg.Seed), m, cfg.NoDiv)
				if taken.isSet(f) || pending.isSet(f) {
					for _, s := range slots {
						pending.clear(s)
					}
					continue search
				}
				pending.set(f)
				slots = append(slots, f)
			}
			break
		}

		for _, s := range slots {
			taken.set(s)
			pending.clear(s)
		}
		g[bucket] = d
		dmax = max(dmax, d)
		start = end
	}

	table := make([]byte, 4*int(r))
	for i, d := range g {
		binary.LittleEndian.PutUint32(table[4*i:], d)
	}

	logger.V(logging.DEBUG).Info("built perfect hash", "keys", len(keys), "r", r, "m", m, "dmax", dmax)

	return newPHF(cfg.NoDiv, cfg.Seed, r, m, dmax, opFor(4, cfg.NoDiv), table)
}

// Uniq returns a sorted copy of keys without duplicates.
func Uniq(keys []string) []string {
	out := slices.Clone(keys)
	slices.Sort(out)
	return slices.Compact(out)
}
