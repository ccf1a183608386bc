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
	"errors"

	"github.com/KoichiYasuoka/camphr/lib/backends"
	"github.com/KoichiYasuoka/camphr/lib/batch"
)

// ErrMissingOutput is returned when a model returns no last hidden state.
var ErrMissingOutput = errors.New("model returned no last hidden state")

// Inputs is a family's encoder input record.
type Inputs interface {
	Family() Family
	ModelInputs() *backends.ModelInputs
}

// Outputs is a family's encoder output record.
type Outputs interface {
	Family() Family
	// Hidden returns the last hidden state [batch, seq, hidden].
	Hidden() [][][]float32
	// Losses returns the loss the model reported, or nil.
	Losses() []float32
}

// BertInputs are the inputs of a BERT encoder.
type BertInputs struct {
	InputIDs      [][]int32
	TokenTypeIDs  [][]int32
	AttentionMask [][]int32
	HeadMask      [][]float32
	PositionIDs   [][]int32
}

func newBertInputs(b *batch.Batch) Inputs {
	return &BertInputs{
		InputIDs:      b.InputIDs,
		TokenTypeIDs:  b.TokenTypeIDs,
		AttentionMask: b.AttentionMask,
	}
}

func (in *BertInputs) Family() Family { return FamilyBERT }

func (in *BertInputs) ModelInputs() *backends.ModelInputs {
	return &backends.ModelInputs{
		InputIDs:      in.InputIDs,
		AttentionMask: in.AttentionMask,
		TokenTypeIDs:  in.TokenTypeIDs,
		PositionIDs:   in.PositionIDs,
		HeadMask:      in.HeadMask,
	}
}

// XLNetInputs are the inputs of an XLNet encoder.
type XLNetInputs struct {
	InputIDs      [][]int32
	TokenTypeIDs  [][]int32
	AttentionMask [][]int32
	HeadMask      [][]float32
	Mems          [][][][]float32
	PermMask      [][][]float32
	TargetMapping [][][]float32
}

func newXLNetInputs(b *batch.Batch) Inputs {
	return &XLNetInputs{
		InputIDs:      b.InputIDs,
		TokenTypeIDs:  b.TokenTypeIDs,
		AttentionMask: b.AttentionMask,
	}
}

func (in *XLNetInputs) Family() Family { return FamilyXLNet }

func (in *XLNetInputs) ModelInputs() *backends.ModelInputs {
	return &backends.ModelInputs{
		InputIDs:      in.InputIDs,
		AttentionMask: in.AttentionMask,
		TokenTypeIDs:  in.TokenTypeIDs,
		HeadMask:      in.HeadMask,
		Mems:          in.Mems,
		PermMask:      in.PermMask,
		TargetMapping: in.TargetMapping,
	}
}

// BertOutputs are the outputs of a BERT encoder.
type BertOutputs struct {
	LastHiddenState [][][]float32     // [batch, seq, hidden]
	PoolerOutput    [][]float32       // [batch, hidden]
	HiddenStates    [][][][]float32   // one per layer plus the embeddings
	Attentions      [][][][][]float32 // one per layer [batch, heads, seq, seq]
	Loss            []float32
}

func decodeBertOutputs(out *backends.ModelOutput) (Outputs, error) {
	if out.LastHiddenState == nil {
		return nil, ErrMissingOutput
	}
	return &BertOutputs{
		LastHiddenState: out.LastHiddenState,
		PoolerOutput:    out.PoolerOutput,
		HiddenStates:    out.HiddenStates,
		Attentions:      out.Attentions,
		Loss:            out.Loss,
	}, nil
}

func (o *BertOutputs) Family() Family        { return FamilyBERT }
func (o *BertOutputs) Hidden() [][][]float32 { return o.LastHiddenState }
func (o *BertOutputs) Losses() []float32     { return o.Loss }

// XLNetOutputs are the outputs of an XLNet encoder.
type XLNetOutputs struct {
	LastHiddenState [][][]float32
	Mems            [][][][]float32
	HiddenStates    [][][][]float32
	Attentions      [][][][][]float32
	Loss            []float32
}

func decodeXLNetOutputs(out *backends.ModelOutput) (Outputs, error) {
	if out.LastHiddenState == nil {
		return nil, ErrMissingOutput
	}
	return &XLNetOutputs{
		LastHiddenState: out.LastHiddenState,
		Mems:            out.Mems,
		HiddenStates:    out.HiddenStates,
		Attentions:      out.Attentions,
		Loss:            out.Loss,
	}, nil
}

func (o *XLNetOutputs) Family() Family        { return FamilyXLNet }
func (o *XLNetOutputs) Hidden() [][][]float32 { return o.LastHiddenState }
func (o *XLNetOutputs) Losses() []float32     { return o.Loss }
