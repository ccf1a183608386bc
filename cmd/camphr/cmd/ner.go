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
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/KoichiYasuoka/camphr/lib/doc"
	"github.com/KoichiYasuoka/camphr/lib/ner"
	"github.com/KoichiYasuoka/camphr/lib/pipeline"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var nerCmd = &cobra.Command{
	Use:   "ner",
	Short: "Extract person names from tagged tokens",
	Long: `Apply the person-name ruler to MeCab-tagged documents and print one
JSON line per document with its entities.

Tokens tagged 名詞,固有名詞,人名,姓 or 名詞,固有名詞,人名,名 become PERSON
entities; a surname directly followed by a given name is one entity.

Examples:
  camphr ner < tagged.jsonl
  camphr ner --patterns extra.jsonl --input tagged.jsonl`,
	RunE: runNER,
}

func init() {
	rootCmd.AddCommand(nerCmd)

	nerCmd.Flags().String("input", "-", "JSONL input file (- for stdin)")
	nerCmd.Flags().String("patterns", "", "additional JSONL entity patterns")
	nerCmd.Flags().Bool("overwrite", false, "let matches replace existing entities")
	nerCmd.Flags().String("format", formatJSON, "output format (json, cbor)")
	nerCmd.Flags().String("input-format", formatJSON, "input format (json, cbor)")
}

type nerRecord struct {
	ID       string       `json:"id"`
	Text     string       `json:"text"`
	Entities []ner.Entity `json:"entities"`
}

func runNER(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger := newLogger()
	defer func() {
		_ = logger.Sync()
	}()

	input, _ := cmd.Flags().GetString("input")
	patternsPath, _ := cmd.Flags().GetString("patterns")
	overwrite, _ := cmd.Flags().GetBool("overwrite")
	format, _ := cmd.Flags().GetString("format")
	inputFormat, _ := cmd.Flags().GetString("input-format")

	ruler := ner.NewPersonRuler(
		ner.WithOverwrite(overwrite),
		ner.WithLogger(logger.Named(ner.PersonRulerName)))
	if patternsPath != "" {
		patterns, err := ner.ReadPatterns(patternsPath)
		if err != nil {
			return err
		}
		if err := ruler.AddPatterns(patterns...); err != nil {
			return err
		}
	}

	docs, err := readInput(input, inputFormat)
	if err != nil {
		return err
	}

	nlp := pipeline.New("ja", &pipeline.Env{Logger: logger})
	if err := nlp.AddPipe(ruler); err != nil {
		return err
	}
	if err := nlp.Pipe(ctx, docs, viper.GetInt("batch_size")); err != nil {
		return fmt.Errorf("matching entities: %w", err)
	}
	logger.Debug("Matched entities",
		zap.Int("docs", len(docs)),
		zap.Strings("labels", ruler.Labels()))

	out, err := newDocWriter(format, os.Stdout, func(d *doc.Doc) (any, error) {
		return nerRecord{ID: d.ID.String(), Text: d.Text(), Entities: ner.Entities(d)}, nil
	}, nil)
	if err != nil {
		return err
	}
	for _, d := range docs {
		if err := out.writeDoc(d); err != nil {
			return err
		}
	}
	writeMetrics(logger)
	return out.flush()
}
