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

package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()

	cmd := NewCLI()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)

	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

// sources writes a vocabulary holding lo@@ and w and a single l+o merge.
func sources(t *testing.T) (vocabPath, codesPath string) {
	t.Helper()

	dir := t.TempDir()
	vocabPath = filepath.Join(dir, "vocab.txt")
	codesPath = filepath.Join(dir, "codes.txt")
	// ids start after the four reserved special tokens
	require.NoError(t, os.WriteFile(vocabPath, []byte("lo@@\nw\n"), 0o600))
	require.NoError(t, os.WriteFile(codesPath, []byte("#version: 0.2\nl o\n"), 0o600))
	return vocabPath, codesPath
}

func compileBundle(t *testing.T) string {
	t.Helper()

	vocabPath, codesPath := sources(t)
	out := filepath.Join(t.TempDir(), "low")
	stdout, err := execute(t, "", "compile", "--vocab", vocabPath, "--codes", codesPath, "--out", out)
	require.NoError(t, err)
	assert.Contains(t, stdout, "compiled "+out)
	return out
}

func TestCompileAndEncode(t *testing.T) {
	bundle := compileBundle(t)

	out, err := execute(t, "low\nlow low\n", "encode", "--vocab", bundle)
	require.NoError(t, err)
	assert.Equal(t, "lo@@ w\nlo@@ w lo@@ w\n", out)

	out, err = execute(t, "low\n\n", "encode", "--vocab", bundle, "--ids", "--max-len", "3")
	require.NoError(t, err)
	assert.Equal(t, "4 5 0\n0 0 0\n", out)
}

func TestEncodeFromSources(t *testing.T) {
	vocabPath, codesPath := sources(t)

	out, err := execute(t, "LOW\n", "encode", "--vocab", vocabPath, "--codes", codesPath, "--transform", "lower", "--ids")
	require.NoError(t, err)
	assert.Equal(t, "4 5\n", out)
}

func TestEncodeRejectsUnknownTransform(t *testing.T) {
	vocabPath, codesPath := sources(t)

	_, err := execute(t, "", "encode", "--vocab", vocabPath, "--codes", codesPath, "--transform", "upper")
	assert.Error(t, err)
}

func TestInspect(t *testing.T) {
	bundle := compileBundle(t)

	out, err := execute(t, "", "inspect", bundle)
	require.NoError(t, err)
	assert.Contains(t, out, "kind: bpe")
	assert.Contains(t, out, "special tokens: 4")
	for _, table := range []string{"ph-vocab", "ph-codes", "ph-rcodes"} {
		assert.Contains(t, out, table)
	}
}

func TestInspectEmptyDirectory(t *testing.T) {
	_, err := execute(t, "", "inspect", t.TempDir())
	assert.Error(t, err)
}

func TestCompileRequiresOutput(t *testing.T) {
	vocabPath, codesPath := sources(t)

	_, err := execute(t, "", "compile", "--vocab", vocabPath, "--codes", codesPath)
	assert.Error(t, err)

	_, err = execute(t, "", "compile", "--out", t.TempDir())
	assert.Error(t, err)
}

func TestCompilePublishesToRedis(t *testing.T) {
	s := miniredis.RunT(t)
	vocabPath, codesPath := sources(t)

	out, err := execute(t, "", "compile", "--vocab", vocabPath, "--codes", codesPath,
		"--redis-addr", s.Addr(), "--redis-key", "low")
	require.NoError(t, err)
	assert.Contains(t, out, "published low")

	assert.Equal(t, "4", s.HGet("low", "lo@@"))
	assert.Equal(t, "5", s.HGet("low", "w"))
	assert.Equal(t, "w", s.HGet("low:rev", "5"))
}

func TestLoadServeConfig(t *testing.T) {
	cfg, err := loadServeConfig("")
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.Addr)
	require.NotNil(t, cfg.Pool.RegistryConfig)

	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path,
		[]byte(`{"addr":":9090","pool":{"workersCount":2,"vocabsDir":"/srv/vocabs"}}`), 0o600))

	cfg, err = loadServeConfig(path)
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.Addr)
	assert.Equal(t, 2, cfg.Pool.WorkersCount)
	assert.Equal(t, "/srv/vocabs", cfg.Pool.VocabsDir)

	_, err = loadServeConfig(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}
