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

// Package backends provides the inference boundary between camphr pipes and
// pretrained transformer encoders.
//
// Pipes never talk to a runtime directly. They build ModelInputs, call
// Model.Forward and read ModelOutput. Concrete runtimes self-register through
// RegisterBackend:
//
//   - ONNX Runtime: requires -tags="onnx,ORT"
//
// Build example:
//
//	go build -tags="onnx,ORT" ./cmd
package backends

// BackendType identifies the inference backend
type BackendType string

const (
	// BackendONNX is the ONNX Runtime backend - fast CPU/GPU inference
	BackendONNX BackendType = "onnx"
)

// GPUMode controls how GPU acceleration is enabled.
type GPUMode string

const (
	GPUModeAuto GPUMode = "auto" // Use CUDA when the runtime reports it
	GPUModeCuda GPUMode = "cuda" // Force CUDA
	GPUModeOff  GPUMode = "off"  // CPU only
)

// ModelInputs contains the inputs for an encoder forward pass.
// BERT and XLNet use different subsets of fields; unused fields stay nil.
type ModelInputs struct {
	InputIDs      [][]int32 // Token IDs [batch, seq]
	AttentionMask [][]int32 // 1 for real tokens, 0 for padding [batch, seq]
	TokenTypeIDs  [][]int32 // Segment IDs [batch, seq]

	// PositionIDs overrides the default 0..seq-1 positions (BERT).
	PositionIDs [][]int32
	// HeadMask nullifies attention heads [layers, heads].
	HeadMask [][]float32

	// XLNet only.
	Mems          [][][][]float32 // [layer, mem_len, batch, hidden]
	PermMask      [][][]float32   // [batch, seq, seq]
	TargetMapping [][][]float32   // [batch, num_predict, seq]
}

// BatchSize returns the number of rows in the batch.
func (in *ModelInputs) BatchSize() int {
	return len(in.InputIDs)
}

// SeqLen returns the padded sequence length, or 0 for an empty batch.
func (in *ModelInputs) SeqLen() int {
	if len(in.InputIDs) == 0 {
		return 0
	}
	return len(in.InputIDs[0])
}

// ModelOutput contains the outputs from a forward pass.
// Which fields are populated depends on the model family and export.
type ModelOutput struct {
	LastHiddenState [][][]float32     // [batch, seq, hidden]
	PoolerOutput    [][]float32       // [batch, hidden] (BERT)
	HiddenStates    [][][][]float32   // [layer+1, batch, seq, hidden]
	Attentions      [][][][][]float32 // [layer, batch, heads, seq, seq]
	Mems            [][][][]float32   // [layer, mem_len, batch, hidden] (XLNet)
	// Loss is set by exports with a training head: one value per example,
	// or a single value for the batch.
	Loss []float32
}

// HiddenSize returns the width of the last hidden state, or 0 when empty.
func (o *ModelOutput) HiddenSize() int {
	for _, doc := range o.LastHiddenState {
		for _, row := range doc {
			return len(row)
		}
	}
	return 0
}
