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

package backends

import (
	"context"
	"fmt"
)

// Model represents a loaded transformer encoder.
type Model interface {
	// Forward runs inference on the given inputs and returns the model outputs.
	// The context can be used for cancellation and timeout.
	Forward(ctx context.Context, inputs *ModelInputs) (*ModelOutput, error)

	// Close releases resources associated with the model.
	Close() error

	// Name returns the model name for logging and debugging.
	Name() string

	// Backend returns the backend type this model uses.
	Backend() BackendType
}

// Trainable is implemented by models that distinguish training from
// inference mode (dropout and friends). Inference-only runtimes skip it.
//
//	if t, ok := model.(Trainable); ok {
//	    t.SetTraining(true)
//	}
type Trainable interface {
	SetTraining(training bool)
}

// ParameterProvider is implemented by models that expose their named
// parameters so an external optimizer can build parameter groups.
type ParameterProvider interface {
	NamedParameters() []string
}

// Saver is implemented by models that can write themselves to a directory
// in a form their ModelLoader can read back.
type Saver interface {
	Save(dir string) error
}

// ModelLoader loads models for a specific backend.
type ModelLoader interface {
	// Load loads a model from the given directory with the specified options.
	Load(path string, opts ...LoadOption) (Model, error)

	// SupportsModel returns true if this loader can handle the model at the given path.
	SupportsModel(path string) bool

	// Backend returns the backend type this loader uses.
	Backend() BackendType
}

// LoadAs loads a model and asserts it to the requested type.
//
//	saver, err := backends.LoadAs[interface{ backends.Model; backends.Saver }](loader, dir)
func LoadAs[T Model](loader ModelLoader, path string, opts ...LoadOption) (T, error) {
	var zero T
	model, err := loader.Load(path, opts...)
	if err != nil {
		return zero, err
	}
	typed, ok := model.(T)
	if !ok {
		_ = model.Close()
		return zero, fmt.Errorf("model at %s does not implement %T", path, zero)
	}
	return typed, nil
}

// LoadConfig holds configuration for model loading.
// Created via LoadOption functions.
type LoadConfig struct {
	// ONNXFilename specifies which ONNX file to load (e.g., "model.onnx")
	ONNXFilename string

	// GPUMode controls GPU acceleration
	GPUMode GPUMode

	// NumThreads is the number of inference threads (0 = auto)
	NumThreads int

	// OutputHiddenStates requests per-layer hidden states when the export has them.
	OutputHiddenStates bool

	// OutputAttentions requests per-layer attention weights when the export has them.
	OutputAttentions bool
}

// DefaultLoadConfig returns a LoadConfig with sensible defaults.
func DefaultLoadConfig() *LoadConfig {
	return &LoadConfig{
		ONNXFilename: "model.onnx",
		GPUMode:      GPUModeAuto,
	}
}

// LoadOption is a functional option for configuring model loading.
type LoadOption func(*LoadConfig)

// WithONNXFile sets the ONNX filename to load.
func WithONNXFile(filename string) LoadOption {
	return func(c *LoadConfig) {
		c.ONNXFilename = filename
	}
}

// WithGPUMode sets the GPU acceleration mode.
func WithGPUMode(mode GPUMode) LoadOption {
	return func(c *LoadConfig) {
		c.GPUMode = mode
	}
}

// WithNumThreads sets the number of inference threads.
func WithNumThreads(threads int) LoadOption {
	return func(c *LoadConfig) {
		c.NumThreads = threads
	}
}

// WithHiddenStates asks the model to return every layer's hidden states.
func WithHiddenStates(enabled bool) LoadOption {
	return func(c *LoadConfig) {
		c.OutputHiddenStates = enabled
	}
}

// WithAttentions asks the model to return every layer's attention weights.
func WithAttentions(enabled bool) LoadOption {
	return func(c *LoadConfig) {
		c.OutputAttentions = enabled
	}
}

// ApplyOptions applies LoadOptions to a LoadConfig.
func ApplyOptions(opts ...LoadOption) *LoadConfig {
	config := DefaultLoadConfig()
	for _, opt := range opts {
		opt(config)
	}
	return config
}
