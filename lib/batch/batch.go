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

// Package batch turns variable-length token sequences into rectangular,
// zero-padded batches for encoder input.
package batch

import (
	"errors"
	"fmt"

	"github.com/KoichiYasuoka/camphr/lib/backends"
	"github.com/gomlx/gomlx/pkg/core/tensors/bucketing"
)

// ErrLengthMismatch is returned when a sequence's mask or type ids do not
// line up with its token ids.
var ErrLengthMismatch = errors.New("sequence length mismatch")

// Padding selects the padded width of a batch.
type Padding int

const (
	// PaddingLongest pads every row to the longest row (capped by MaxLength).
	PaddingLongest Padding = iota
	// PaddingMaxLength pads every row to MaxLength.
	PaddingMaxLength
)

// Options configures padding.
type Options struct {
	// MaxLength caps the padded width; longer rows are truncated. 0 = no cap.
	MaxLength int
	Padding   Padding
	// SeqBucketing rounds the padded width up so that runtimes see fewer
	// distinct shapes. Never rounds past MaxLength.
	SeqBucketing bucketing.Strategy
}

// Option is a functional option for padding.
type Option func(*Options)

// WithMaxLength caps the padded width and truncates longer rows.
func WithMaxLength(n int) Option {
	return func(o *Options) {
		o.MaxLength = n
	}
}

// WithPadding sets the padding strategy.
func WithPadding(p Padding) Option {
	return func(o *Options) {
		o.Padding = p
	}
}

// WithSeqBucketing rounds the padded width with the given strategy.
// Common strategies: bucketing.Pow2(), bucketing.Linear(8).
func WithSeqBucketing(s bucketing.Strategy) Option {
	return func(o *Options) {
		o.SeqBucketing = s
	}
}

func applyOptions(opts []Option) *Options {
	o := &Options{}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// width returns the padded width for rows whose longest length is longest.
func (o *Options) width(longest int) int {
	if o.MaxLength > 0 {
		if o.Padding == PaddingMaxLength {
			return o.MaxLength
		}
		longest = min(longest, o.MaxLength)
	}
	if o.SeqBucketing != nil && longest > 0 {
		longest = max(longest, o.SeqBucketing.Bucket(longest))
		if o.MaxLength > 0 {
			longest = min(longest, o.MaxLength)
		}
	}
	return longest
}

// ZeroPad returns an N x L matrix where L is the longest row (or the
// configured width). Rows are left-aligned and the remainder is 0.
// Rows longer than MaxLength are truncated. The input is not modified.
func ZeroPad(seqs [][]int32, opts ...Option) [][]int32 {
	o := applyOptions(opts)
	longest := 0
	for _, s := range seqs {
		longest = max(longest, len(s))
	}
	return pad(seqs, o.width(longest))
}

func pad(seqs [][]int32, width int) [][]int32 {
	out := make([][]int32, len(seqs))
	for i, s := range seqs {
		out[i] = make([]int32, width)
		copy(out[i], s)
	}
	return out
}

// Sequence is one document's encoder input before padding.
type Sequence struct {
	InputIDs      []int32
	AttentionMask []int32 // nil means all ones
	TokenTypeIDs  []int32 // nil means all zeros
}

// Batch is a padded set of sequences sharing one width.
type Batch struct {
	InputIDs      [][]int32
	AttentionMask [][]int32
	TokenTypeIDs  [][]int32

	// Lengths holds each row's unpadded length after truncation.
	Lengths []int
	SeqLen  int
}

// Build pads ids, masks and type ids of every sequence to one width.
func Build(seqs []Sequence, opts ...Option) (*Batch, error) {
	o := applyOptions(opts)

	ids := make([][]int32, len(seqs))
	masks := make([][]int32, len(seqs))
	types := make([][]int32, len(seqs))
	longest := 0
	for i, s := range seqs {
		n := len(s.InputIDs)
		if s.AttentionMask != nil && len(s.AttentionMask) != n {
			return nil, fmt.Errorf("%w: sequence %d has %d ids but %d mask values",
				ErrLengthMismatch, i, n, len(s.AttentionMask))
		}
		if s.TokenTypeIDs != nil && len(s.TokenTypeIDs) != n {
			return nil, fmt.Errorf("%w: sequence %d has %d ids but %d type ids",
				ErrLengthMismatch, i, n, len(s.TokenTypeIDs))
		}
		ids[i] = s.InputIDs
		masks[i] = s.AttentionMask
		if masks[i] == nil {
			masks[i] = ones(n)
		}
		types[i] = s.TokenTypeIDs
		longest = max(longest, n)
	}

	width := o.width(longest)
	b := &Batch{
		InputIDs:      pad(ids, width),
		AttentionMask: pad(masks, width),
		TokenTypeIDs:  pad(types, width),
		Lengths:       make([]int, len(seqs)),
		SeqLen:        width,
	}
	for i, s := range seqs {
		b.Lengths[i] = min(len(s.InputIDs), width)
	}
	return b, nil
}

func ones(n int) []int32 {
	out := make([]int32, n)
	for i := range out {
		out[i] = 1
	}
	return out
}

// Size returns the number of rows.
func (b *Batch) Size() int {
	return len(b.InputIDs)
}

// ModelInputs converts the batch to backend inputs. The slices are shared.
func (b *Batch) ModelInputs() *backends.ModelInputs {
	return &backends.ModelInputs{
		InputIDs:      b.InputIDs,
		AttentionMask: b.AttentionMask,
		TokenTypeIDs:  b.TokenTypeIDs,
	}
}
