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

package vocabmap

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"k8s.io/klog/v2"

	"github.com/llm-d/llm-d-bpe-vocab/pkg/phf"
)

func keysOf[V any](rangeFn func(func(string, V) bool), size int) []string {
	keys := make([]string, 0, size)
	rangeFn(func(k string, _ V) bool {
		keys = append(keys, k)
		return true
	})
	return keys
}

func buildFor(ctx context.Context, keys []string, cfg *phf.BuildConfig) (*phf.PHF, error) {
	hash, err := phf.Build(ctx, keys, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to build perfect hash over %d keys: %w", len(keys), err)
	}
	hash.Compact()
	return hash, nil
}

func writeFiles(dir string, files map[string][]byte) error {
	for name, data := range files {
		if err := os.WriteFile(filepath.Join(dir, name), data, 0o644); err != nil { //nolint:gosec // compiled maps are world-readable
			return fmt.Errorf("failed to write %s: %w", name, err)
		}
	}
	return nil
}

// CompileStrInt writes src as a compiled int-valued map into dir.
func CompileStrInt(ctx context.Context, src RangeStrInt, dir string, cfg *phf.BuildConfig) error {
	keys := keysOf(src.Range, src.Size())
	hash, err := buildFor(ctx, keys, cfg)
	if err != nil {
		return err
	}

	hkey := make([]uint32, hash.M)
	values := make([]uint32, hash.M)
	src.Range(func(k string, v uint32) bool {
		slot := hash.Slot(k)
		hkey[slot] = phf.Fingerprint(k)
		values[slot] = v
		return true
	})

	if err := phf.Save(hash, dir); err != nil {
		return err
	}
	if err := writeFiles(dir, map[string][]byte{
		FingerprintFile: putUint32s(hkey),
		ValuesFile:      putUint32s(values),
		CountFile:       putUint32s([]uint32{uint32(len(keys))}), // #nosec G115 -- phf sizes are 32-bit
	}); err != nil {
		return err
	}

	klog.FromContext(ctx).WithName("vocabmap.CompileStrInt").Info("compiled map",
		"dir", dir, "keys", len(keys), "slots", hash.M, "dmax", hash.DMax, "op", hash.Op.String())

	return nil
}

// CompileStrStr writes src as a compiled string-valued map into dir.
func CompileStrStr(ctx context.Context, src RangeStrStr, dir string, cfg *phf.BuildConfig) error {
	keys := keysOf(src.Range, src.Size())
	hash, err := buildFor(ctx, keys, cfg)
	if err != nil {
		return err
	}

	hkey := make([]uint32, hash.M)
	offsets := make([]uint32, 2*int(hash.M))
	for i := range offsets {
		offsets[i] = emptySlot
	}

	var flat []byte
	var rangeErr error
	src.Range(func(k, v string) bool {
		if uint64(len(flat))+uint64(len(v)) >= emptySlot {
			rangeErr = fmt.Errorf("values exceed the 4GiB flat buffer at key %q", k)
			return false
		}
		slot := hash.Slot(k)
		hkey[slot] = phf.Fingerprint(k)
		offsets[2*slot] = uint32(len(flat))
		flat = append(flat, v...)
		offsets[2*slot+1] = uint32(len(flat))
		return true
	})
	if rangeErr != nil {
		return rangeErr
	}

	if err := phf.Save(hash, dir); err != nil {
		return err
	}
	if err := writeFiles(dir, map[string][]byte{
		FingerprintFile: putUint32s(hkey),
		OffsetsFile:     putUint32s(offsets),
		FlatFile:        flat,
		CountFile:       putUint32s([]uint32{uint32(len(keys))}), // #nosec G115 -- phf sizes are 32-bit
	}); err != nil {
		return err
	}

	klog.FromContext(ctx).WithName("vocabmap.CompileStrStr").Info("compiled map",
		"dir", dir, "keys", len(keys), "slots", hash.M, "flatBytes", len(flat))

	return nil
}
