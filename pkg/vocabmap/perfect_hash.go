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
	"encoding/binary"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/llm-d/llm-d-bpe-vocab/pkg/phf"
	"github.com/llm-d/llm-d-bpe-vocab/pkg/utils/mmap"
)

// File names of a compiled map directory, next to phf.MetadataFile and
// phf.TableFile.
const (
	FingerprintFile = "hkey.dat"
	ValuesFile      = "v.dat"
	OffsetsFile     = "offsets.dat"
	FlatFile        = "flat.dat"
	// CountFile holds the number of compiled keys as a little-endian uint32.
	// Maps compiled without it are sized by scanning their slots.
	CountFile = "count.dat"
)

// emptySlot marks unowned slots in offsets.dat. Any end offset beyond the
// flat buffer is treated the same way.
const emptySlot = 0xffffffff

// perfectHashBase holds the parts shared by both perfect-hash variants.
type perfectHashBase struct {
	dir     string
	hash    *phf.PHF
	hkey    *mmap.Region
	regions mmap.Regions
	size    int
}

// openPerfectHash loads the function in dir and maps the named files next to
// it. On any failure everything opened so far is released.
func openPerfectHash(dir string, names ...string) (*perfectHashBase, []*mmap.Region, error) {
	hash, table, err := phf.Load(dir)
	if err != nil {
		return nil, nil, err
	}

	regions := mmap.Regions{table}
	opened := make([]*mmap.Region, 0, len(names))
	for _, name := range names {
		region, err := mmap.Open(filepath.Join(dir, name))
		if err != nil {
			_ = regions.Close()
			return nil, nil, err
		}
		regions = append(regions, region)
		opened = append(opened, region)
	}

	return &perfectHashBase{dir: dir, hash: hash, regions: regions}, opened, nil
}

// expectLen checks that region holds exactly want bytes.
func expectLen(region *mmap.Region, want uint64) error {
	if uint64(region.Len()) != want {
		return fmt.Errorf("%s holds %d bytes, want %d", region.Path(), region.Len(), want)
	}
	return nil
}

// readCount returns the key count stored next to the map, if any.
func readCount(dir string) (int, bool, error) {
	data, err := os.ReadFile(filepath.Join(dir, CountFile))
	if errors.Is(err, fs.ErrNotExist) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to read key count: %w", err)
	}
	if len(data) != 4 {
		return 0, false, fmt.Errorf("%s holds %d bytes, want 4", CountFile, len(data))
	}
	return int(binary.LittleEndian.Uint32(data)), true, nil
}

// countSlots sets size from the stored key count, or else from the slots
// for which owned reports true.
func (b *perfectHashBase) countSlots(owned func(slot uint32) bool) error {
	n, ok, err := readCount(b.dir)
	if err != nil {
		return err
	}
	if ok {
		b.size = n
		return nil
	}

	for i := uint32(0); i < b.hash.M; i++ {
		if owned(i) {
			b.size++
		}
	}
	return nil
}

// owns reports whether slot holds key, by fingerprint.
func (b *perfectHashBase) owns(slot uint32, key string) bool {
	return b.hkey.Uint32(slot) == phf.Fingerprint(key)
}

// Slots returns the number of output slots of the underlying function.
func (b *perfectHashBase) Slots() int {
	return int(b.hash.M)
}

// Hash returns the underlying perfect hash function.
func (b *perfectHashBase) Hash() *phf.PHF {
	return b.hash
}

// Close unmaps every file of the map.
func (b *perfectHashBase) Close() error {
	return b.regions.Close()
}

// PerfectHashStrInt is a StrInt served from a memory-mapped compiled map.
// Lookups of keys outside the compiled set are rejected by fingerprint.
type PerfectHashStrInt struct {
	*perfectHashBase
	values *mmap.Region
}

var (
	_ StrInt        = &PerfectHashStrInt{}
	_ ReverseFinder = &PerfectHashStrInt{}
)

// LoadPerfectHashStrInt maps the compiled int-valued map stored in dir.
func LoadPerfectHashStrInt(dir string) (*PerfectHashStrInt, error) {
	base, opened, err := openPerfectHash(dir, FingerprintFile, ValuesFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load perfect-hash map %s: %w", dir, err)
	}

	m := uint64(base.hash.M)
	base.hkey = opened[0]
	values := opened[1]
	if err := firstErr(expectLen(base.hkey, 4*m), expectLen(values, 4*m)); err != nil {
		_ = base.Close()
		return nil, fmt.Errorf("failed to load perfect-hash map %s: %w", dir, err)
	}

	// without a stored count, owned slots are those with a non-zero
	// fingerprint; an owner fingerprinting to 0 is not counted
	if err := base.countSlots(func(slot uint32) bool { return base.hkey.Uint32(slot) != 0 }); err != nil {
		_ = base.Close()
		return nil, fmt.Errorf("failed to load perfect-hash map %s: %w", dir, err)
	}

	return &PerfectHashStrInt{perfectHashBase: base, values: values}, nil
}

func (m *PerfectHashStrInt) Find(key string) (uint32, bool) {
	slot := m.hash.Slot(key)
	if !m.owns(slot, key) {
		return 0, false
	}
	return m.values.Uint32(slot), true
}

func (m *PerfectHashStrInt) Exists(key string) bool {
	return m.owns(m.hash.Slot(key), key)
}

// Size returns the number of keys compiled into the map.
func (m *PerfectHashStrInt) Size() int {
	return m.size
}

// RFind is not supported: compiled maps do not store their keys.
func (m *PerfectHashStrInt) RFind(uint32) (string, bool, error) {
	return "", false, ErrUnsupported
}

// PerfectHashStrStr is a StrStr served from a memory-mapped compiled map.
type PerfectHashStrStr struct {
	*perfectHashBase
	offsets *mmap.Region
	flat    *mmap.Region
}

var _ StrStr = &PerfectHashStrStr{}

// LoadPerfectHashStrStr maps the compiled string-valued map stored in dir.
func LoadPerfectHashStrStr(dir string) (*PerfectHashStrStr, error) {
	base, opened, err := openPerfectHash(dir, FingerprintFile, OffsetsFile, FlatFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load perfect-hash map %s: %w", dir, err)
	}

	m := uint64(base.hash.M)
	base.hkey = opened[0]
	ph := &PerfectHashStrStr{perfectHashBase: base, offsets: opened[1], flat: opened[2]}
	if err := firstErr(expectLen(base.hkey, 4*m), expectLen(ph.offsets, 8*m)); err != nil {
		_ = base.Close()
		return nil, fmt.Errorf("failed to load perfect-hash map %s: %w", dir, err)
	}

	if err := base.countSlots(func(slot uint32) bool {
		_, _, ok := ph.span(slot)
		return ok
	}); err != nil {
		_ = base.Close()
		return nil, fmt.Errorf("failed to load perfect-hash map %s: %w", dir, err)
	}

	return ph, nil
}

// span returns the flat buffer range of slot, or false for unowned slots.
func (m *PerfectHashStrStr) span(slot uint32) (start, end uint32, ok bool) {
	start = m.offsets.Uint32(2 * slot)
	end = m.offsets.Uint32(2*slot + 1)
	if uint64(end) > uint64(m.flat.Len()) || start > end {
		return 0, 0, false
	}
	return start, end, true
}

func (m *PerfectHashStrStr) Find(key string) (string, bool) {
	slot := m.hash.Slot(key)
	start, end, ok := m.span(slot)
	if !ok || !m.owns(slot, key) {
		return "", false
	}
	return string(m.flat.Bytes()[start:end]), true
}

func (m *PerfectHashStrStr) Exists(key string) bool {
	slot := m.hash.Slot(key)
	if _, _, ok := m.span(slot); !ok {
		return false
	}
	return m.owns(slot, key)
}

// Size returns the number of keys compiled into the map.
func (m *PerfectHashStrStr) Size() int {
	return m.size
}

func firstErr(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

// putUint32s encodes vs little-endian.
func putUint32s(vs []uint32) []byte {
	out := make([]byte, 4*len(vs))
	for i, v := range vs {
		binary.LittleEndian.PutUint32(out[4*i:], v)
	}
	return out
}
