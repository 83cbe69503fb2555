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
	"bufio"
	"fmt"
	"os"
	"strings"
	"sync"
)

// InMemoryStrInt is a StrInt backed by a Go map.
//
// Set must not be called concurrently with reads.
type InMemoryStrInt struct {
	data map[string]uint32

	// reverse is built lazily by RFind and dropped by Set.
	reverse map[uint32]string
	mu      sync.Mutex
}

var (
	_ RangeStrInt   = &InMemoryStrInt{}
	_ ReverseFinder = &InMemoryStrInt{}
)

// NewInMemoryStrInt creates a map holding a copy of entries.
func NewInMemoryStrInt(entries map[string]uint32) *InMemoryStrInt {
	data := make(map[string]uint32, len(entries))
	for k, v := range entries {
		data[k] = v
	}

	return &InMemoryStrInt{data: data}
}

// Set stores value under key.
func (m *InMemoryStrInt) Set(key string, value uint32) {
	m.data[key] = value

	m.mu.Lock()
	m.reverse = nil
	m.mu.Unlock()
}

func (m *InMemoryStrInt) Find(key string) (uint32, bool) {
	v, ok := m.data[key]
	return v, ok
}

func (m *InMemoryStrInt) Exists(key string) bool {
	_, ok := m.data[key]
	return ok
}

func (m *InMemoryStrInt) Size() int {
	return len(m.data)
}

func (m *InMemoryStrInt) Range(fn func(key string, value uint32) bool) {
	for k, v := range m.data {
		if !fn(k, v) {
			return
		}
	}
}

// RFind resolves value back to its key. The reverse index is built on first
// use; when several keys share a value the lexicographically smallest wins.
func (m *InMemoryStrInt) RFind(value uint32) (string, bool, error) {
	m.mu.Lock()
	if m.reverse == nil {
		m.reverse = make(map[uint32]string, len(m.data))
		for k, v := range m.data {
			if prev, ok := m.reverse[v]; !ok || k < prev {
				m.reverse[v] = k
			}
		}
	}
	k, ok := m.reverse[value]
	m.mu.Unlock()

	return k, ok, nil
}

// InMemoryStrStr is a StrStr backed by a Go map.
type InMemoryStrStr struct {
	data map[string]string
}

var _ RangeStrStr = &InMemoryStrStr{}

// NewInMemoryStrStr creates a map holding a copy of entries.
func NewInMemoryStrStr(entries map[string]string) *InMemoryStrStr {
	data := make(map[string]string, len(entries))
	for k, v := range entries {
		data[k] = v
	}

	return &InMemoryStrStr{data: data}
}

func (m *InMemoryStrStr) Set(key, value string) {
	m.data[key] = value
}

func (m *InMemoryStrStr) Find(key string) (string, bool) {
	v, ok := m.data[key]
	return v, ok
}

func (m *InMemoryStrStr) Exists(key string) bool {
	_, ok := m.data[key]
	return ok
}

func (m *InMemoryStrStr) Size() int {
	return len(m.data)
}

func (m *InMemoryStrStr) Range(fn func(key, value string) bool) {
	for k, v := range m.data {
		if !fn(k, v) {
			return
		}
	}
}

// ReadTokenFile reads one token per line, taking the first whitespace
// separated field of each line, and assigns id = line index + offset.
// Blank lines still consume an id. A repeated token takes its last id.
func ReadTokenFile(path string, offset uint32) (*InMemoryStrInt, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open token file: %w", err)
	}
	defer f.Close()

	m := NewInMemoryStrInt(nil)
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var line uint32
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) > 0 {
			m.data[fields[0]] = line + offset
		}
		line++
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read token file %s: %w", path, err)
	}

	return m, nil
}
