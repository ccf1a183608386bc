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

package batch

import (
	"errors"
	"testing"

	"github.com/gomlx/gomlx/pkg/core/tensors/bucketing"
	"github.com/stretchr/testify/require"
)

func TestZeroPad(t *testing.T) {
	tests := []struct {
		name string
		seqs [][]int32
		opts []Option
		want [][]int32
	}{
		{
			name: "lengths 0 3 5",
			seqs: [][]int32{{}, {1, 2, 3}, {4, 5, 6, 7, 8}},
			want: [][]int32{
				{0, 0, 0, 0, 0},
				{1, 2, 3, 0, 0},
				{4, 5, 6, 7, 8},
			},
		},
		{
			name: "nil row",
			seqs: [][]int32{nil, {9}},
			want: [][]int32{{0}, {9}},
		},
		{
			name: "empty batch",
			seqs: [][]int32{},
			want: [][]int32{},
		},
		{
			name: "all empty rows",
			seqs: [][]int32{{}, {}},
			want: [][]int32{{}, {}},
		},
		{
			name: "max length truncates",
			seqs: [][]int32{{1, 2, 3, 4}, {5}},
			opts: []Option{WithMaxLength(2)},
			want: [][]int32{{1, 2}, {5, 0}},
		},
		{
			name: "max length above longest keeps longest",
			seqs: [][]int32{{1, 2}, {3}},
			opts: []Option{WithMaxLength(4)},
			want: [][]int32{{1, 2}, {3, 0}},
		},
		{
			name: "pad to max length",
			seqs: [][]int32{{1, 2}, {3}},
			opts: []Option{WithMaxLength(4), WithPadding(PaddingMaxLength)},
			want: [][]int32{{1, 2, 0, 0}, {3, 0, 0, 0}},
		},
		{
			name: "pad to max length without cap is longest",
			seqs: [][]int32{{1, 2}, {3}},
			opts: []Option{WithPadding(PaddingMaxLength)},
			want: [][]int32{{1, 2}, {3, 0}},
		},
		{
			name: "bucketing rounds up",
			seqs: [][]int32{{1, 2, 3}},
			opts: []Option{WithSeqBucketing(bucketing.Pow2())},
			want: [][]int32{{1, 2, 3, 0}},
		},
		{
			name: "bucketing never exceeds cap",
			seqs: [][]int32{{1, 2, 3, 4, 5}},
			opts: []Option{WithSeqBucketing(bucketing.Pow2()), WithMaxLength(6)},
			want: [][]int32{{1, 2, 3, 4, 5, 0}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ZeroPad(tt.seqs, tt.opts...)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestZeroPad_Shape(t *testing.T) {
	seqs := [][]int32{{}, {1, 2, 3}, {1, 2, 3, 4, 5}}
	got := ZeroPad(seqs)

	require.Len(t, got, 3)
	for i, row := range got {
		require.Len(t, row, 5)
		require.Equal(t, seqs[i], row[:len(seqs[i])], "unpadded region changed")
		for _, v := range row[len(seqs[i]):] {
			require.Zero(t, v)
		}
	}
}

func TestZeroPad_Idempotent(t *testing.T) {
	seqs := [][]int32{{7, 8}, {9}, {}}
	first := ZeroPad(seqs)
	second := ZeroPad(seqs)
	require.Equal(t, first, second)

	// Results are fresh allocations.
	first[0][0] = 100
	require.Equal(t, int32(7), seqs[0][0])
	require.Equal(t, int32(7), second[0][0])
}

func TestBuild(t *testing.T) {
	b, err := Build([]Sequence{
		{InputIDs: []int32{2, 10, 11, 3}},
		{InputIDs: []int32{2, 12, 3}, AttentionMask: []int32{1, 1, 1}, TokenTypeIDs: []int32{0, 0, 1}},
		{},
	})
	require.NoError(t, err)

	require.Equal(t, 3, b.Size())
	require.Equal(t, 4, b.SeqLen)
	require.Equal(t, []int{4, 3, 0}, b.Lengths)
	require.Equal(t, [][]int32{{2, 10, 11, 3}, {2, 12, 3, 0}, {0, 0, 0, 0}}, b.InputIDs)
	require.Equal(t, [][]int32{{1, 1, 1, 1}, {1, 1, 1, 0}, {0, 0, 0, 0}}, b.AttentionMask)
	require.Equal(t, [][]int32{{0, 0, 0, 0}, {0, 0, 1, 0}, {0, 0, 0, 0}}, b.TokenTypeIDs)

	in := b.ModelInputs()
	require.Equal(t, 3, in.BatchSize())
	require.Equal(t, 4, in.SeqLen())
}

func TestBuild_Truncates(t *testing.T) {
	b, err := Build([]Sequence{
		{InputIDs: []int32{1, 2, 3, 4, 5}, TokenTypeIDs: []int32{0, 0, 0, 1, 2}},
		{InputIDs: []int32{6}},
	}, WithMaxLength(3))
	require.NoError(t, err)

	require.Equal(t, 3, b.SeqLen)
	require.Equal(t, []int{3, 1}, b.Lengths)
	require.Equal(t, [][]int32{{1, 2, 3}, {6, 0, 0}}, b.InputIDs)
	require.Equal(t, [][]int32{{1, 1, 1}, {1, 0, 0}}, b.AttentionMask)
	require.Equal(t, [][]int32{{0, 0, 0}, {0, 0, 0}}, b.TokenTypeIDs)
}

func TestBuild_LengthMismatch(t *testing.T) {
	tests := []struct {
		name string
		seq  Sequence
	}{
		{name: "mask", seq: Sequence{InputIDs: []int32{1, 2}, AttentionMask: []int32{1}}},
		{name: "type ids", seq: Sequence{InputIDs: []int32{1, 2}, TokenTypeIDs: []int32{0, 0, 0}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Build([]Sequence{{InputIDs: []int32{1}}, tt.seq})
			require.True(t, errors.Is(err, ErrLengthMismatch))
			require.ErrorContains(t, err, "sequence 1")
		})
	}
}
