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

	"github.com/KoichiYasuoka/camphr/lib/ner"
	"github.com/KoichiYasuoka/camphr/lib/pipeline"
	"github.com/KoichiYasuoka/camphr/lib/tokenizer"
	"github.com/KoichiYasuoka/camphr/lib/trf"
	"github.com/spf13/viper"
)

type buildOptions struct {
	modelDir string
	freeze   bool
	person   bool
}

// buildPipeline assembles wordpiecer, transformer and optionally the person
// ruler for a pretrained model directory.
func buildPipeline(env *pipeline.Env, opts buildOptions) (*pipeline.Language, error) {
	nlp := pipeline.New("ja", env, pipeline.WithConcurrency(viper.GetInt("concurrency")))
	if opts.modelDir != "" {
		model, err := trf.FromPretrained(opts.modelDir, env.Sessions, env.Store, env.NamedLogger("trf"),
			trf.WithFreeze(opts.freeze),
			trf.WithLoadOptions(loadOptions()...))
		if err != nil {
			return nil, err
		}
		family := model.Family()
		// XLNet has no position limit.
		maxLength := max(model.MaxLength(), 0)
		wp, err := tokenizer.LoadWordPiecer(opts.modelDir, family.Layout(), family.FallbackSpecials(),
			tokenizer.WithMaxLength(maxLength),
			tokenizer.WithLogger(env.NamedLogger(tokenizer.WordPiecerName)))
		if err != nil {
			_ = model.Close()
			return nil, err
		}
		if err := nlp.AddPipe(wp); err != nil {
			_ = model.Close()
			return nil, err
		}
		if err := nlp.AddPipe(model); err != nil {
			_ = nlp.Close()
			_ = model.Close()
			return nil, err
		}
	}
	if opts.person {
		if err := nlp.AddPipe(ner.NewPersonRuler(ner.WithLogger(env.NamedLogger(ner.PersonRulerName)))); err != nil {
			_ = nlp.Close()
			return nil, err
		}
	}
	if len(nlp.PipeNames()) == 0 {
		return nil, fmt.Errorf("empty pipeline: pass --model or --person")
	}
	return nlp, nil
}

// loadOrBuild restores a saved pipeline when dir is set, otherwise builds one.
func loadOrBuild(env *pipeline.Env, dir string, opts buildOptions) (*pipeline.Language, error) {
	if dir != "" {
		return pipeline.FromDisk(dir, env, pipeline.WithConcurrency(viper.GetInt("concurrency")))
	}
	return buildPipeline(env, opts)
}
