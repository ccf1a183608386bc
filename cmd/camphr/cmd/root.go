// Copyright 2025 Antfly, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package cmd

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/KoichiYasuoka/camphr/lib/backends"
	"github.com/KoichiYasuoka/camphr/lib/doc"
	"github.com/KoichiYasuoka/camphr/lib/pipeline"
	"github.com/antflydb/antfly-go/libaf/logging"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var (
	cfgFile string
	Version string
)

var rootCmd = &cobra.Command{
	Use:   "camphr",
	Short: "Transformer features and entity rules for Japanese text",
	Long: `Camphr attaches pretrained transformer features to pre-tokenized
documents and extracts person names from morphological tags.

Documents are read as JSON lines, one per line, either as
{"words": ["今日", "は"]} or {"tokens": [{"text": "田中", "tag": "名詞,固有名詞,人名,姓"}]}.

Examples:
  # Word vectors from a BERT export
  camphr features --model ./bert-base-japanese < docs.jsonl

  # Person names from MeCab-tagged tokens
  camphr ner < tagged.jsonl

  # Save a pipeline and reuse it
  camphr save --model ./bert-base-japanese --person --out ./saved
  camphr features --pipeline ./saved < docs.jsonl`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() {
	rootCmd.Version = Version
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().
		StringVar(&cfgFile, "config", "", "config file path (e.g. camphr.yaml)")
	rootCmd.PersistentFlags().
		String("log-level", "info", "set the logging level (e.g. debug, info, warn, error)")
	rootCmd.PersistentFlags().
		String("log-style", "terminal", "set the logging output style (terminal, json, noop)")
	rootCmd.PersistentFlags().
		StringSlice("backend-priority", nil, "inference backends in order of preference (e.g. onnx)")
	rootCmd.PersistentFlags().
		String("gpu", "auto", "GPU mode (auto, cuda, off)")
	rootCmd.PersistentFlags().
		Duration("feature-ttl", 10*time.Minute, "how long document features stay in memory (0 keeps them)")
	rootCmd.PersistentFlags().
		String("metrics-file", "", "write prometheus metrics to this file on exit")

	mustBindPFlag("log.level", rootCmd.PersistentFlags().Lookup("log-level"))
	mustBindPFlag("log.style", rootCmd.PersistentFlags().Lookup("log-style"))
	mustBindPFlag("backend_priority", rootCmd.PersistentFlags().Lookup("backend-priority"))
	mustBindPFlag("gpu", rootCmd.PersistentFlags().Lookup("gpu"))
	mustBindPFlag("feature_ttl", rootCmd.PersistentFlags().Lookup("feature-ttl"))
	mustBindPFlag("metrics_file", rootCmd.PersistentFlags().Lookup("metrics-file"))

	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.style", "terminal")
	viper.SetDefault("batch_size", 32)
	viper.SetDefault("concurrency", 1)
}

func mustBindPFlag(key string, flag *pflag.Flag) {
	if err := viper.BindPFlag(key, flag); err != nil {
		panic(fmt.Sprintf("binding flag %s: %v", key, err))
	}
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	if cfgFile != "" {
		if _, err := os.Stat(cfgFile); err != nil {
			fmt.Fprintf(os.Stderr, "Config file not found: %s\n", cfgFile)
			os.Exit(1)
		}
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err == nil {
			viper.AddConfigPath(home)
			viper.SetConfigName(".camphr")
		}
		viper.AddConfigPath(".")
		viper.SetConfigName("camphr")
	}

	viper.SetConfigType("yaml")
	viper.SetEnvPrefix("CAMPHR")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintf(os.Stderr, "Using config file: %s\n", viper.ConfigFileUsed())
	} else if cfgFile != "" {
		fmt.Fprintf(os.Stderr, "Error reading config file [%s]: %v\n", viper.ConfigFileUsed(), err)
		os.Exit(1)
	}
}

func newLogger() *zap.Logger {
	return logging.NewLogger(&logging.Config{
		Level: logging.Level(viper.GetString("log.level")),
		Style: logging.Style(viper.GetString("log.style")),
	})
}

// newEnv creates the shared resources for pipes. The caller closes it.
func newEnv(logger *zap.Logger) (*pipeline.Env, error) {
	sm := backends.NewSessionManager()
	if names := viper.GetStringSlice("backend_priority"); len(names) > 0 {
		priority, err := backends.ParseBackendPriority(names)
		if err != nil {
			return nil, err
		}
		sm.SetPriority(priority)
	}
	return &pipeline.Env{
		Store:    doc.NewStore(viper.GetDuration("feature_ttl")),
		Sessions: sm,
		Logger:   logger,
	}, nil
}

func closeEnv(env *pipeline.Env) {
	env.Store.Close()
	_ = env.Sessions.Close()
}

func loadOptions() []backends.LoadOption {
	return []backends.LoadOption{
		backends.WithGPUMode(backends.ParseGPUMode(viper.GetString("gpu"))),
	}
}

func writeMetrics(logger *zap.Logger) {
	path := viper.GetString("metrics_file")
	if path == "" {
		return
	}
	if err := pipeline.WriteMetrics(path); err != nil {
		logger.Warn("Failed to write metrics", zap.String("path", path), zap.Error(err))
	}
}
