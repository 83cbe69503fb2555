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

// Package mmap provides read-only memory-mapped file regions whose mapping
// and file handle share a single lifetime.
package mmap

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"sync"

	mmapgo "github.com/edsrzf/mmap-go"
)

// Region is a read-only view of a whole file. The slice returned by Bytes
// must not be used after Close.
type Region struct {
	path string
	file *os.File
	data mmapgo.MMap

	closeOnce sync.Once
	closeErr  error
}

// Open maps path read-only. Empty files produce an empty region without a
// mapping.
func Open(path string) (*Region, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}

	info, err := file.Stat()
	if err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("failed to stat %s: %w", path, err)
	}

	region := &Region{path: path, file: file}
	if info.Size() == 0 {
		return region, nil
	}

	data, err := mmapgo.Map(file, mmapgo.RDONLY, 0)
	if err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("failed to mmap %s: %w", path, err)
	}
	region.data = data

	return region, nil
}

// Path returns the mapped file path.
func (r *Region) Path() string {
	return r.path
}

// Bytes returns the mapped contents.
func (r *Region) Bytes() []byte {
	return r.data
}

// Len returns the mapped length in bytes.
func (r *Region) Len() int {
	return len(r.data)
}

// Uint32 returns the i-th little-endian uint32 of the region.
func (r *Region) Uint32(i uint32) uint32 {
	return binary.LittleEndian.Uint32(r.data[4*uint64(i):])
}

// Close unmaps the region and closes the file. It is safe to call more than
// once.
func (r *Region) Close() error {
	r.closeOnce.Do(func() {
		var unmapErr error
		if r.data != nil {
			unmapErr = r.data.Unmap()
			r.data = nil
		}
		r.closeErr = errors.Join(unmapErr, r.file.Close())
	})

	return r.closeErr
}

// Regions is a group of regions released together.
type Regions []*Region

// Close closes every region of the group and joins the errors.
func (rs Regions) Close() error {
	errs := make([]error, 0, len(rs))
	for _, r := range rs {
		if r != nil {
			errs = append(errs, r.Close())
		}
	}

	return errors.Join(errs...)
}
