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
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/llm-d/llm-d-bpe-vocab/pkg/bpe"
	"github.com/llm-d/llm-d-bpe-vocab/pkg/phf"
	"github.com/llm-d/llm-d-bpe-vocab/pkg/utils"
	"github.com/llm-d/llm-d-bpe-vocab/pkg/vocab"
	"github.com/llm-d/llm-d-bpe-vocab/pkg/vocabmap"
)

func newInspectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "inspect DIR",
		Short: "Show the tables of a compiled bundle",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return inspect(cmd, args[0])
		},
	}
}

func inspect(cmd *cobra.Command, dir string) error {
	manifest, err := vocab.ReadManifest(cmd.Context(), dir)
	if err != nil {
		return err
	}

	var tables []string
	for _, name := range []string{vocab.VocabDir, bpe.CodesDir, bpe.RevCodesDir} {
		if _, err := os.Stat(filepath.Join(dir, name)); errors.Is(err, fs.ErrNotExist) {
			continue
		}
		tables = append(tables, name)
	}
	if len(tables) == 0 {
		return fmt.Errorf("%s holds no compiled tables", dir)
	}

	data, err := utils.SliceMapE(tables, func(name string) ([]string, error) {
		return tableRow(name, filepath.Join(dir, name))
	})
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "kind: %s\n", manifest.Kind)
	if manifest.BPE != nil {
		fmt.Fprintf(out, "keep word-final marker: %t\n", manifest.BPE.KeepWordFinalMarker)
	}
	fmt.Fprintf(out, "special tokens: %d\n\n", manifest.Specials.Offset())

	writeTable(out, []string{"TABLE", "KEYS", "R", "M", "DMAX", "WIDTH", "OP", "SIZE"}, data)
	return nil
}

func tableRow(name, dir string) ([]string, error) {
	md, err := phf.ReadMetadata(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", name, err)
	}

	var m interface {
		Size() int
		Close() error
	}
	if name == bpe.RevCodesDir {
		m, err = vocabmap.LoadPerfectHashStrStr(dir)
	} else {
		m, err = vocabmap.LoadPerfectHashStrInt(dir)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load %s: %w", name, err)
	}
	defer m.Close()

	size, err := dirSize(dir)
	if err != nil {
		return nil, err
	}

	return []string{
		name,
		strconv.Itoa(m.Size()),
		strconv.FormatUint(uint64(md.R), 10),
		strconv.FormatUint(uint64(md.M), 10),
		strconv.FormatUint(uint64(md.DMax), 10),
		strconv.Itoa(md.Op.Width()),
		md.Op.String(),
		humanize.Bytes(size),
	}, nil
}

func dirSize(dir string) (uint64, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, err
	}

	var total uint64
	for _, e := range entries {
		info, err := e.Info()
		if err != nil {
			return 0, err
		}
		if info.Mode().IsRegular() {
			total += uint64(info.Size())
		}
	}
	return total, nil
}

func writeTable(w io.Writer, header []string, data [][]string) {
	table := tablewriter.NewWriter(w)
	table.SetHeader(header)
	table.SetAutoWrapText(false)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetNoWhiteSpace(true)
	table.SetTablePadding("    ")
	table.AppendBulk(data)
	table.Render()
}
