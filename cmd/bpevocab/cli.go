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
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"k8s.io/klog/v2"

	"github.com/llm-d/llm-d-bpe-vocab/pkg/bpe"
	"github.com/llm-d/llm-d-bpe-vocab/pkg/metrics"
	"github.com/llm-d/llm-d-bpe-vocab/pkg/server"
	"github.com/llm-d/llm-d-bpe-vocab/pkg/tokenization"
	"github.com/llm-d/llm-d-bpe-vocab/pkg/utils"
	"github.com/llm-d/llm-d-bpe-vocab/pkg/vectorizer"
	"github.com/llm-d/llm-d-bpe-vocab/pkg/vocab"
	"github.com/llm-d/llm-d-bpe-vocab/pkg/vocabmap"
)

// Environment overrides.
const (
	envVocabsDir = "VOCABS_DIR"
	envHTTPPort  = "HTTP_PORT"
	envRedisAddr = "REDIS_ADDR"
)

// NewCLI builds the bpevocab command tree.
func NewCLI() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "bpevocab",
		Short: "Compile and serve memory-mapped BPE vocabularies",
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			// Disable usage printing on errors
			cmd.SilenceUsage = true
		},
	}

	klogFlags := flag.NewFlagSet("klog", flag.ContinueOnError)
	klog.InitFlags(klogFlags)
	rootCmd.PersistentFlags().AddGoFlagSet(klogFlags)

	cobra.EnableCommandSorting = false

	rootCmd.AddCommand(
		newCompileCmd(),
		newEncodeCmd(),
		newInspectCmd(),
		newServeCmd(),
	)
	return rootCmd
}

// vocabFlags are shared by the commands that read source vocabularies.
type vocabFlags struct {
	vocabPath       string
	codesPath       string
	keepFinalMarker bool
	extra           []string
}

func (f *vocabFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.vocabPath, "vocab", "", "Vocabulary file, or a compiled bundle directory")
	cmd.Flags().StringVar(&f.codesPath, "codes", "", "BPE merges file or compiled bundle directory; empty for a word vocabulary")
	cmd.Flags().BoolVar(&f.keepFinalMarker, "keep-final-marker", false, "Vocabulary stores word-final pieces with the </w> marker")
	cmd.Flags().StringSliceVar(&f.extra, "extra", nil, "Extra special tokens numbered after the reserved ones")
}

func (f *vocabFlags) open(ctx context.Context) (vocab.Vocab, error) {
	if f.vocabPath == "" {
		return nil, fmt.Errorf("--vocab is required")
	}

	specials := vocab.DefaultSpecialTokens()
	specials.Extra = f.extra

	info, err := os.Stat(f.vocabPath)
	if err != nil {
		return nil, err
	}
	if info.IsDir() && f.codesPath == "" {
		return vocab.Load(ctx, f.vocabPath, vocab.DefaultWordCacheConfig())
	}

	if f.codesPath == "" {
		return vocab.NewWordVocab(ctx, f.vocabPath, specials)
	}

	cfg := bpe.DefaultConfig()
	cfg.KeepWordFinalMarker = f.keepFinalMarker
	return vocab.NewBPEVocab(ctx, &vocab.BPEConfig{
		VocabPath: f.vocabPath,
		CodesPath: f.codesPath,
		Specials:  specials,
		BPE:       cfg,
		WordCache: vocab.DefaultWordCacheConfig(),
	})
}

func newCompileCmd() *cobra.Command {
	var flags vocabFlags
	var out, redisAddr, redisKey string

	cmd := &cobra.Command{
		Use:   "compile",
		Short: "Compile a vocabulary and its merges into a memory-mappable bundle",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			if out == "" && redisKey == "" {
				return fmt.Errorf("one of --out or --redis-key is required")
			}

			v, err := flags.open(ctx)
			if err != nil {
				return err
			}
			defer v.Close()

			if out != "" {
				if err := v.CompileVocab(ctx, out); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "compiled %s\n", out)
			}

			if redisKey != "" {
				if !cmd.Flags().Changed("redis-addr") {
					redisAddr = envOr(envRedisAddr, redisAddr)
				}
				if err := publish(ctx, v, redisAddr, redisKey); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "published %s\n", redisKey)
			}
			return nil
		},
	}

	flags.register(cmd)
	cmd.Flags().StringVar(&out, "out", "", "Output bundle directory")
	cmd.Flags().StringVar(&redisAddr, "redis-addr", vocabmap.DefaultRedisConfig().Address,
		"Redis address to publish the vocabulary to (env "+envRedisAddr+")")
	cmd.Flags().StringVar(&redisKey, "redis-key", "", "Redis hash to publish the vocabulary to")
	return cmd
}

// publish copies the vocabulary map of v into a Redis hash.
func publish(ctx context.Context, v vocab.Vocab, addr, key string) error {
	mapper, ok := v.(interface{ Map() vocabmap.StrInt })
	if !ok {
		return fmt.Errorf("vocabulary cannot be published: %w", vocabmap.ErrUnsupported)
	}
	src, ok := mapper.Map().(vocabmap.RangeStrInt)
	if !ok {
		return fmt.Errorf("vocabulary is not enumerable: %w", vocabmap.ErrUnsupported)
	}

	client, err := vocabmap.NewRedisClient(ctx, addr)
	if err != nil {
		return err
	}
	defer client.Close()

	return vocabmap.PublishStrInt(ctx, client, key, src)
}

func newEncodeCmd() *cobra.Command {
	var flags vocabFlags
	var transformName string
	var emitIDs bool
	var maxLen int

	cmd := &cobra.Command{
		Use:   "encode",
		Short: "Encode whitespace separated tokens read line by line from stdin",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			transform, err := vocab.TransformByName(transformName)
			if err != nil {
				return err
			}

			v, err := flags.open(cmd.Context())
			if err != nil {
				return err
			}
			defer v.Close()

			return encodeLines(cmd.InOrStdin(), cmd.OutOrStdout(),
				vectorizer.NewVocabVectorizer(v, transform, nil, nil), emitIDs, maxLen)
		},
	}

	flags.register(cmd)
	cmd.Flags().StringVar(&transformName, "transform", "", "Token transform: identity, lower, nfc, nfkc or lower-nfkc")
	cmd.Flags().BoolVar(&emitIDs, "ids", false, "Print ids instead of pieces")
	cmd.Flags().IntVar(&maxLen, "max-len", 0, "Pad or truncate ids to this length")
	return cmd
}

func encodeLines(in io.Reader, out io.Writer, z *vectorizer.VocabVectorizer, emitIDs bool, maxLen int) error {
	w := bufio.NewWriter(out)
	defer w.Flush()

	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		tokens := strings.Fields(scanner.Text())
		if !emitIDs {
			fmt.Fprintln(w, strings.Join(z.ConvertToPieces(tokens), " "))
			continue
		}

		ids, _ := z.ConvertToIDs(tokens, maxLen)
		fmt.Fprintln(w, strings.Join(utils.SliceMap(ids, func(id uint32) string {
			return strconv.FormatUint(uint64(id), 10)
		}), " "))
	}
	return scanner.Err()
}

// ServeConfig is the JSON configuration file accepted by serve.
type ServeConfig struct {
	Addr string `json:"addr"`
	// Pool configures the batch workers and the vocabulary registry.
	Pool                   *tokenization.Config `json:"pool"`
	MetricsLoggingInterval time.Duration        `json:"metricsLoggingInterval"`
}

func defaultServeConfig() *ServeConfig {
	return &ServeConfig{
		Addr: ":8080",
		Pool: tokenization.DefaultConfig(),
	}
}

func loadServeConfig(path string) (*ServeConfig, error) {
	cfg := defaultServeConfig()
	if path == "" {
		return cfg, nil
	}

	b, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	if err := json.Unmarshal(b, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	if cfg.Pool == nil {
		cfg.Pool = tokenization.DefaultConfig()
	}
	if cfg.Pool.RegistryConfig == nil {
		cfg.Pool.RegistryConfig = tokenization.DefaultRegistryConfig()
	}
	return cfg, nil
}

func newServeCmd() *cobra.Command {
	var configPath, vocabsDir, addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the compiled vocabularies of a directory over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			cfg, err := loadServeConfig(configPath)
			if err != nil {
				return err
			}
			// flags win over the environment, which wins over the file
			cfg.Pool.VocabsDir = envOr(envVocabsDir, cfg.Pool.VocabsDir)
			if port := os.Getenv(envHTTPPort); port != "" {
				cfg.Addr = ":" + port
			}
			if cmd.Flags().Changed("vocabs-dir") {
				cfg.Pool.VocabsDir = vocabsDir
			}
			if cmd.Flags().Changed("addr") {
				cfg.Addr = addr
			}

			registry, err := tokenization.NewRegistry(cfg.Pool.RegistryConfig)
			if err != nil {
				return err
			}
			defer registry.Close()

			pool := tokenization.NewTokenizationPool(cfg.Pool, registry)
			srv := server.New(registry, pool)
			if cfg.MetricsLoggingInterval > 0 {
				metrics.StartMetricsLogging(ctx, cfg.MetricsLoggingInterval)
			}

			g, ctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				pool.Run(ctx)
				return nil
			})
			g.Go(func() error {
				return srv.Run(ctx, cfg.Addr)
			})
			return g.Wait()
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "", "JSON configuration file")
	cmd.Flags().StringVar(&vocabsDir, "vocabs-dir", "vocabs", "Directory holding one compiled bundle per vocabulary (env "+envVocabsDir+")")
	cmd.Flags().StringVar(&addr, "addr", ":8080", "Listen address (env "+envHTTPPort+" sets the port)")
	return cmd
}

func envOr(name, fallback string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return fallback
}
