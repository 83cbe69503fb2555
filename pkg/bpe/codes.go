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

package bpe

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"k8s.io/klog/v2"

	"github.com/llm-d/llm-d-bpe-vocab/pkg/utils/logging"
	"github.com/llm-d/llm-d-bpe-vocab/pkg/vocabmap"
)

// Sub-directories of a compiled bundle holding the merge tables.
const (
	CodesDir    = "ph-codes"
	RevCodesDir = "ph-rcodes"
)

const versionHeader = "#version"

// ReadMergesFile reads a merges file with one pair per line, given as two
// whitespace separated symbols. The rank of a pair is the number of distinct
// pairs read before it. Version headers and lines with fewer than two
// fields are skipped; extra fields are ignored.
//
// It returns the rank table (packed pair -> rank) and the reverse table
// (concatenation -> packed pair).
func ReadMergesFile(ctx context.Context, path string, m Markers) (*vocabmap.InMemoryStrInt, *vocabmap.InMemoryStrStr, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open merges file: %w", err)
	}
	defer f.Close()

	debugLogger := klog.FromContext(ctx).V(logging.DEBUG).WithName("bpe.ReadMergesFile")

	codes := vocabmap.NewInMemoryStrInt(nil)
	rev := vocabmap.NewInMemoryStrStr(nil)

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Text()
		if strings.HasPrefix(line, versionHeader) {
			continue
		}

		fields := strings.Fields(line)
		if len(fields) < 2 {
			if len(fields) > 0 {
				debugLogger.Info("skipping malformed merge", "line", lineNo, "text", line)
			}
			continue
		}

		pair := m.PackPair(fields[0], fields[1])
		codes.Set(pair, uint32(codes.Size()))
		rev.Set(fields[0]+fields[1], pair)
	}
	if err := scanner.Err(); err != nil {
		return nil, nil, fmt.Errorf("failed to read merges file %s: %w", path, err)
	}

	debugLogger.Info("read merges", "path", path, "pairs", codes.Size())

	return codes, rev, nil
}

// LoadMerges loads the merge tables from path. A directory is taken as a
// compiled bundle holding ph-codes and ph-rcodes; anything else is read as
// a merges text file.
func LoadMerges(ctx context.Context, path string, m Markers) (vocabmap.StrInt, vocabmap.StrStr, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to stat merges %s: %w", path, err)
	}

	if !info.IsDir() {
		codes, rev, err := ReadMergesFile(ctx, path, m)
		if err != nil {
			return nil, nil, err
		}
		return codes, rev, nil
	}

	klog.FromContext(ctx).V(logging.DEBUG).WithName("bpe.LoadMerges").Info("merges path is a directory, mapping compiled tables", "path", path)

	codes, err := vocabmap.LoadPerfectHashStrInt(filepath.Join(path, CodesDir))
	if err != nil {
		return nil, nil, err
	}
	rev, err := vocabmap.LoadPerfectHashStrStr(filepath.Join(path, RevCodesDir))
	if err != nil {
		_ = codes.Close()
		return nil, nil, err
	}

	return codes, rev, nil
}
