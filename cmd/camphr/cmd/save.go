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

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var saveCmd = &cobra.Command{
	Use:   "save",
	Short: "Build a pipeline and write it to a directory",
	Long: `Assemble a wordpiecer and transformer for a pretrained model, and
optionally the person-name ruler, then save the pipeline so features
--pipeline can restore it.

Examples:
  camphr save --model ./bert-base-japanese --out ./saved
  camphr save --model ./xlnet-base-japanese --person --freeze --out ./saved`,
	RunE: runSave,
}

func init() {
	rootCmd.AddCommand(saveCmd)

	saveCmd.Flags().String("model", "", "pretrained model directory")
	saveCmd.Flags().String("out", "", "output directory")
	saveCmd.Flags().Bool("person", false, "add the person-name ruler")
	saveCmd.Flags().Bool("freeze", false, "keep transformer weights fixed during updates")
	_ = saveCmd.MarkFlagRequired("out")
}

func runSave(cmd *cobra.Command, args []string) error {
	logger := newLogger()
	defer func() {
		_ = logger.Sync()
	}()

	modelDir, _ := cmd.Flags().GetString("model")
	out, _ := cmd.Flags().GetString("out")
	person, _ := cmd.Flags().GetBool("person")
	freeze, _ := cmd.Flags().GetBool("freeze")

	env, err := newEnv(logger)
	if err != nil {
		return err
	}
	defer closeEnv(env)

	nlp, err := buildPipeline(env, buildOptions{modelDir: modelDir, freeze: freeze, person: person})
	if err != nil {
		return err
	}
	defer func() {
		_ = nlp.Close()
	}()

	if err := nlp.ToDisk(out); err != nil {
		return fmt.Errorf("saving pipeline: %w", err)
	}
	logger.Info("Pipeline saved", zap.String("dir", out), zap.Strings("pipes", nlp.PipeNames()))
	return nil
}
