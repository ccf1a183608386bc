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

var featuresCmd = &cobra.Command{
	Use:   "features",
	Short: "Compute transformer word and document vectors",
	Long: `Run documents through a wordpiecer and a pretrained transformer and
print one JSON line per document with a vector per word and the document vector.
With --format cbor each document is written as one CBOR item carrying its
tokens, encoding, entities and word vectors.

Examples:
  # From a pretrained export (the directory name selects bert or xlnet)
  camphr features --model ./bert-base-japanese --input docs.jsonl

  # From a pipeline written by camphr save
  camphr features --pipeline ./saved < docs.jsonl`,
	RunE: runFeatures,
}

func init() {
	rootCmd.AddCommand(featuresCmd)

	featuresCmd.Flags().String("model", "", "pretrained model directory")
	featuresCmd.Flags().String("pipeline", "", "pipeline directory written by camphr save")
	featuresCmd.Flags().String("input", "-", "JSONL input file (- for stdin)")
	featuresCmd.Flags().Int("batch-size", 32, "documents per forward pass")
	featuresCmd.Flags().String("format", formatJSON, "output format (json, cbor)")
	featuresCmd.Flags().String("input-format", formatJSON, "input format (json, cbor)")
	featuresCmd.MarkFlagsMutuallyExclusive("model", "pipeline")
	featuresCmd.MarkFlagsOneRequired("model", "pipeline")
	mustBindPFlag("batch_size", featuresCmd.Flags().Lookup("batch-size"))
}

// featuresRecord is one output line.
type featuresRecord struct {
	ID       string       `json:"id"`
	Words    []string     `json:"words"`
	Vectors  [][]float32  `json:"vectors"`
	Vector   []float32    `json:"vector,omitempty"`
	Entities []ner.Entity `json:"entities,omitempty"`
}

func runFeatures(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger := newLogger()
	defer func() {
		_ = logger.Sync()
	}()

	modelDir, _ := cmd.Flags().GetString("model")
	pipelineDir, _ := cmd.Flags().GetString("pipeline")
	input, _ := cmd.Flags().GetString("input")
	format, _ := cmd.Flags().GetString("format")
	inputFormat, _ := cmd.Flags().GetString("input-format")

	env, err := newEnv(logger)
	if err != nil {
		return err
	}
	defer closeEnv(env)

	nlp, err := loadOrBuild(env, pipelineDir, buildOptions{modelDir: modelDir})
	if err != nil {
		return fmt.Errorf("preparing pipeline: %w", err)
	}
	defer func() {
		_ = nlp.Close()
	}()

	docs, err := readInput(input, inputFormat)
	if err != nil {
		return err
	}

	logger.Info("Computing features",
		zap.Int("docs", len(docs)),
		zap.Strings("pipes", nlp.PipeNames()))
	out, err := newDocWriter(format, os.Stdout, func(d *doc.Doc) (any, error) {
		return newFeaturesRecord(env.Store, d)
	}, env.Store)
	if err != nil {
		return err
	}
	if err := streamFeatures(ctx, nlp, env.Store, docs, viper.GetInt("batch_size"), out); err != nil {
		return err
	}
	writeMetrics(logger)
	return out.flush()
}

// streamFeatures runs one batch at a time and writes its records before the
// next batch starts, so features are read well within the store's TTL.
func streamFeatures(ctx context.Context, nlp *pipeline.Language, store *doc.Store, docs []*doc.Doc, batchSize int, out docWriter) error {
	if batchSize <= 0 {
		batchSize = len(docs)
	}
	for start := 0; start < len(docs); start += batchSize {
		batch := docs[start:min(start+batchSize, len(docs))]
		if err := nlp.Pipe(ctx, batch, batchSize); err != nil {
			return fmt.Errorf("running pipeline: %w", err)
		}
		for _, d := range batch {
			if err := out.writeDoc(d); err != nil {
				return err
			}
			store.Delete(d.ID)
		}
	}
	return nil
}

func newFeaturesRecord(store *doc.Store, d *doc.Doc) (featuresRecord, error) {
	rec := featuresRecord{
		ID:       d.ID.String(),
		Words:    d.Words(),
		Vectors:  make([][]float32, d.Len()),
		Entities: ner.Entities(d),
	}
	for i := range d.Tokens {
		v, err := store.TokenVector(d, i)
		if err != nil {
			return rec, fmt.Errorf("doc %s token %d: %w", rec.ID, i, err)
		}
		rec.Vectors[i] = v
	}
	v, err := store.DocVector(d)
	if err != nil {
		return rec, fmt.Errorf("doc %s: %w", rec.ID, err)
	}
	rec.Vector = v
	return rec, nil
}
