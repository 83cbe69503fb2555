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

package mmap_test

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/llm-d/llm-d-bpe-vocab/pkg/utils/mmap"
)

func writeFile(t *testing.T, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, data, 0o600))
	return path
}

func TestOpenReadsContents(t *testing.T) {
	data := make([]byte, 12)
	binary.LittleEndian.PutUint32(data[0:], 7)
	binary.LittleEndian.PutUint32(data[4:], 0xdeadbeef)
	binary.LittleEndian.PutUint32(data[8:], 42)
	path := writeFile(t, "u32.dat", data)

	region, err := mmap.Open(path)
	require.NoError(t, err)
	defer region.Close()

	assert.Equal(t, 12, region.Len())
	assert.Equal(t, data, region.Bytes())
	assert.Equal(t, uint32(7), region.Uint32(0))
	assert.Equal(t, uint32(0xdeadbeef), region.Uint32(1))
	assert.Equal(t, uint32(42), region.Uint32(2))
	assert.Equal(t, path, region.Path())
}

func TestOpenEmptyFile(t *testing.T) {
	region, err := mmap.Open(writeFile(t, "empty.dat", nil))
	require.NoError(t, err)

	assert.Equal(t, 0, region.Len())
	assert.Empty(t, region.Bytes())
	assert.NoError(t, region.Close())
}

func TestOpenMissingFile(t *testing.T) {
	_, err := mmap.Open(filepath.Join(t.TempDir(), "missing.dat"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestCloseIsIdempotent(t *testing.T) {
	region, err := mmap.Open(writeFile(t, "a.dat", []byte("abcd")))
	require.NoError(t, err)

	require.NoError(t, region.Close())
	assert.NoError(t, region.Close())
	assert.Nil(t, region.Bytes())
}

func TestRegionsCloseAll(t *testing.T) {
	a, err := mmap.Open(writeFile(t, "a.dat", []byte("abcd")))
	require.NoError(t, err)
	b, err := mmap.Open(writeFile(t, "b.dat", []byte("efgh")))
	require.NoError(t, err)

	regions := mmap.Regions{a, nil, b}
	require.NoError(t, regions.Close())
	assert.Equal(t, 0, a.Len())
	assert.Equal(t, 0, b.Len())
}
