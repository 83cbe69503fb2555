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
	"bufio"
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/cespare/xxhash/v2"

	"github.com/llm-d/llm-d-bpe-vocab/pkg/utils/mmap"
)

const (
	// MetadataFile holds the scalar fields of a function, one per line.
	MetadataFile = "md.txt"
	// TableFile holds the raw displacement table.
	TableFile = "hash.dat"

	metadataFields = 7
)

// Save writes p into dir as md.txt and hash.dat, creating dir if needed.
// The reserved metadata field carries the xxhash of the displacement table.
func Save(p *PHF, dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create %s: %w", dir, err)
	}

	nodiv := 0
	if p.NoDiv {
		nodiv = 1
	}

	var md bytes.Buffer
	for _, field := range []uint64{
		uint64(nodiv), uint64(p.Seed), uint64(p.R), uint64(p.M),
		uint64(p.DMax), uint64(p.Op), xxhash.Sum64(p.g),
	} {
		md.WriteString(strconv.FormatUint(field, 10))
		md.WriteByte('\n')
	}

	if err := os.WriteFile(filepath.Join(dir, MetadataFile), md.Bytes(), 0o644); err != nil { //nolint:gosec // compiled maps are world-readable
		return fmt.Errorf("failed to write metadata: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, TableFile), p.g, 0o644); err != nil { //nolint:gosec // compiled maps are world-readable
		return fmt.Errorf("failed to write displacement table: %w", err)
	}

	return nil
}

// Metadata is the parsed content of md.txt.
type Metadata struct {
	NoDiv    bool
	Seed     uint32
	R        uint32
	M        uint32
	DMax     uint32
	Op       Op
	Checksum uint64
}

// ReadMetadata parses dir/md.txt. Files written without the reserved
// seventh field are accepted with a zero checksum.
func ReadMetadata(dir string) (*Metadata, error) {
	f, err := os.Open(filepath.Join(dir, MetadataFile))
	if err != nil {
		return nil, fmt.Errorf("failed to open metadata: %w", err)
	}
	defer f.Close()

	fields := make([]uint64, 0, metadataFields)
	scanner := bufio.NewScanner(f)
	scanner.Split(bufio.ScanWords)
	for scanner.Scan() && len(fields) < metadataFields {
		v, err := strconv.ParseUint(scanner.Text(), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: field %d: %w", ErrFormat, len(fields)+1, err)
		}
		fields = append(fields, v)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read metadata: %w", err)
	}
	if len(fields) < metadataFields-1 {
		return nil, fmt.Errorf("%w: got %d fields, want %d", ErrFormat, len(fields), metadataFields)
	}
	for i := 1; i <= 5; i++ {
		if fields[i] > 0xffffffff {
			return nil, fmt.Errorf("%w: field %d overflows 32 bits", ErrFormat, i+1)
		}
	}
	if fields[0] > 1 {
		return nil, fmt.Errorf("%w: nodiv flag %d", ErrFormat, fields[0])
	}

	md := &Metadata{
		NoDiv: fields[0] == 1,
		Seed:  uint32(fields[1]),
		R:     uint32(fields[2]),
		M:     uint32(fields[3]),
		DMax:  uint32(fields[4]),
		Op:    Op(fields[5]),
	}
	if len(fields) == metadataFields {
		md.Checksum = fields[6]
	}

	return md, nil
}

// Load reads the function stored in dir. The displacement table aliases a
// read-only mapping of hash.dat which stays valid until the returned region
// is closed.
func Load(dir string) (*PHF, *mmap.Region, error) {
	md, err := ReadMetadata(dir)
	if err != nil {
		return nil, nil, err
	}

	region, err := mmap.Open(filepath.Join(dir, TableFile))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to map displacement table: %w", err)
	}

	if md.Checksum != 0 && xxhash.Sum64(region.Bytes()) != md.Checksum {
		_ = region.Close()
		return nil, nil, fmt.Errorf("%s: %w", dir, ErrChecksum)
	}

	p, err := newPHF(md.NoDiv, md.Seed, md.R, md.M, md.DMax, md.Op, region.Bytes())
	if err != nil {
		_ = region.Close()
		return nil, nil, fmt.Errorf("invalid perfect hash in %s: %w", dir, err)
	}

	return p, region, nil
}
