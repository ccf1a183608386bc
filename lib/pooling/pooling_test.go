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

package pooling

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSumAlignment(t *testing.T) {
	hidden := [][]float32{{1, 2}, {3, 4}}

	tests := []struct {
		name      string
		hidden    [][]float32
		align     [][]int
		maxLength int
		want      [][]float32
	}{
		{
			name:   "sums pieces",
			hidden: hidden,
			align:  [][]int{{0, 1}},
			want:   [][]float32{{4, 6}},
		},
		{
			name:      "truncated sequence keeps valid pieces",
			hidden:    hidden[:1],
			align:     [][]int{{0, 1}},
			maxLength: 1,
			want:      [][]float32{{1, 2}},
		},
		{
			name:      "fully truncated word is zero",
			hidden:    hidden[:1],
			align:     [][]int{{0}, {1, 2}},
			maxLength: 1,
			want:      [][]float32{{1, 2}, {0, 0}},
		},
		{
			name:   "empty alignment is zero",
			hidden: hidden,
			align:  [][]int{{}, {1}},
			want:   [][]float32{{0, 0}, {3, 4}},
		},
		{
			name:   "repeated index counts twice",
			hidden: hidden,
			align:  [][]int{{1, 1}},
			want:   [][]float32{{6, 8}},
		},
		{
			name:   "word order follows alignment",
			hidden: hidden,
			align:  [][]int{{1}, {0}},
			want:   [][]float32{{3, 4}, {1, 2}},
		},
		{
			name:   "no words",
			hidden: hidden,
			align:  [][]int{},
			want:   [][]float32{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := SumAlignment(tt.hidden, 2, tt.align, tt.maxLength)
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestSumAlignment_DoesNotModifyInput(t *testing.T) {
	hidden := [][]float32{{1, 2}, {3, 4}}
	got, err := SumAlignment(hidden, 2, [][]int{{0}}, 0)
	require.NoError(t, err)

	got[0][0] = 99
	require.Equal(t, float32(1), hidden[0][0])
}

func TestSumAlignment_Errors(t *testing.T) {
	tests := []struct {
		name       string
		hidden     [][]float32
		hiddenSize int
		align      [][]int
		maxLength  int
		wantErr    error
	}{
		{
			name:       "negative index",
			hidden:     [][]float32{{1, 2}},
			hiddenSize: 2,
			align:      [][]int{{-1}},
			wantErr:    ErrNegativeIndex,
		},
		{
			name:       "negative index with truncation",
			hidden:     [][]float32{{1, 2}},
			hiddenSize: 2,
			align:      [][]int{{-1}},
			maxLength:  4,
			wantErr:    ErrNegativeIndex,
		},
		{
			name:       "index past end without truncation",
			hidden:     [][]float32{{1, 2}},
			hiddenSize: 2,
			align:      [][]int{{0, 1}},
			wantErr:    ErrIndexOutOfRange,
		},
		{
			name:       "row width mismatch",
			hidden:     [][]float32{{1, 2}, {3}},
			hiddenSize: 2,
			align:      [][]int{{0}},
			wantErr:    ErrDimensionMismatch,
		},
		{
			name:       "negative hidden size",
			hidden:     nil,
			hiddenSize: -1,
			align:      [][]int{{}},
			wantErr:    ErrDimensionMismatch,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := SumAlignment(tt.hidden, tt.hiddenSize, tt.align, tt.maxLength)
			require.True(t, errors.Is(err, tt.wantErr), "got %v", err)
		})
	}
}

func TestHooks(t *testing.T) {
	words := [][]float32{{1, 0}, {0, 2}, {3, 3}}

	require.Equal(t, []float32{4, 5}, DocVector(words))
	require.Nil(t, DocVector(nil))

	span, err := SpanVector(words, 1, 3)
	require.NoError(t, err)
	require.Equal(t, []float32{3, 5}, span)

	empty, err := SpanVector(words, 2, 2)
	require.NoError(t, err)
	require.Equal(t, []float32{0, 0}, empty)

	_, err = SpanVector(words, 2, 4)
	require.True(t, errors.Is(err, ErrIndexOutOfRange))

	tok, err := TokenVector(words, 2)
	require.NoError(t, err)
	require.Equal(t, []float32{3, 3}, tok)
	tok[0] = 42
	require.Equal(t, float32(3), words[2][0])

	_, err = TokenVector(words, 3)
	require.True(t, errors.Is(err, ErrIndexOutOfRange))
}

func TestSimilarity(t *testing.T) {
	tests := []struct {
		name string
		a, b []float32
		want float32
	}{
		{name: "identical", a: []float32{1, 2}, b: []float32{2, 4}, want: 1},
		{name: "orthogonal", a: []float32{1, 0}, b: []float32{0, 3}, want: 0},
		{name: "opposite", a: []float32{1, 1}, b: []float32{-1, -1}, want: -1},
		{name: "zero vector", a: []float32{0, 0}, b: []float32{1, 1}, want: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Similarity(tt.a, tt.b)
			require.NoError(t, err)
			require.InDelta(t, tt.want, got, 1e-5)
		})
	}

	_, err := Similarity([]float32{1}, []float32{1, 2})
	require.True(t, errors.Is(err, ErrDimensionMismatch))
}
