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

package trf

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/KoichiYasuoka/camphr/lib/backends"
	"github.com/goccy/go-json"
)

const (
	cfgFile    = "cfg.json"
	configFile = "config.json"
)

// DefaultNoDecay are the parameter-name substrings excluded from weight decay.
var DefaultNoDecay = []string{"bias", "LayerNorm.weight"}

// Config is the pipe configuration persisted as cfg.json.
type Config struct {
	TrfName     string   `json:"trf_name"`
	Family      Family   `json:"family"`
	MaxLength   int      `json:"max_length"`
	HiddenSize  int      `json:"hidden_size"`
	Freeze      bool     `json:"freeze,omitempty"`
	NoDecay     []string `json:"no_decay,omitempty"`
	WeightDecay float64  `json:"weight_decay,omitempty"`
	// TrfConfig is the encoder's config.json as loaded.
	TrfConfig map[string]any `json:"trf_config,omitempty"`
}

// readTrfConfig reads config.json from a model directory.
func readTrfConfig(dir string, family Family) (Config, error) {
	cfg := Config{Family: family}
	data, err := os.ReadFile(filepath.Join(dir, configFile))
	if err != nil {
		return cfg, fmt.Errorf("reading model config: %w", err)
	}
	if err := json.Unmarshal(data, &cfg.TrfConfig); err != nil {
		return cfg, fmt.Errorf("parsing model config: %w", err)
	}

	cfg.MaxLength = -1
	if !family.spec().noPositionLimit {
		n, ok := intField(cfg.TrfConfig, "max_position_embeddings")
		if !ok {
			return cfg, fmt.Errorf("model config %s has no max_position_embeddings", dir)
		}
		cfg.MaxLength = n
	}
	for _, key := range []string{"hidden_size", "d_model"} {
		if n, ok := intField(cfg.TrfConfig, key); ok {
			cfg.HiddenSize = n
			break
		}
	}
	return cfg, nil
}

func intField(m map[string]any, key string) (int, bool) {
	switch v := m[key].(type) {
	case float64:
		return int(v), true
	case int:
		return v, true
	case int64:
		return int(v), true
	case uint64:
		return int(v), true
	}
	return 0, false
}

// ParamGroup is a set of parameters sharing one weight decay.
type ParamGroup struct {
	Params      []string `json:"params"`
	WeightDecay float64  `json:"weight_decay"`
}

// OptimParameters splits the encoder's parameters into a decaying group and
// a non-decaying group for an external optimizer. A frozen model, or one
// whose runtime exposes no parameters, has none.
func (m *Model) OptimParameters() []ParamGroup {
	if m.cfg.Freeze {
		return nil
	}
	p, ok := m.model.(backends.ParameterProvider)
	if !ok {
		return nil
	}

	decay := ParamGroup{WeightDecay: m.cfg.WeightDecay}
	noDecay := ParamGroup{WeightDecay: 0}
	for _, name := range p.NamedParameters() {
		if matchesAny(name, m.cfg.NoDecay) {
			noDecay.Params = append(noDecay.Params, name)
		} else {
			decay.Params = append(decay.Params, name)
		}
	}

	var groups []ParamGroup
	for _, g := range []ParamGroup{decay, noDecay} {
		if len(g.Params) > 0 {
			groups = append(groups, g)
		}
	}
	return groups
}

func matchesAny(name string, patterns []string) bool {
	for _, p := range patterns {
		if strings.Contains(name, p) {
			return true
		}
	}
	return false
}
