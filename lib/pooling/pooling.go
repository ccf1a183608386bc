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

// Package pooling maps sub-word encoder outputs back onto words.
package pooling

import (
	"errors"
	"fmt"
)

var (
	// ErrIndexOutOfRange is returned when an alignment index points past the
	// hidden states and no truncation length is in effect.
	ErrIndexOutOfRange = errors.New("alignment index out of range")
	// ErrNegativeIndex is returned for negative alignment indices.
	ErrNegativeIndex = errors.New("negative alignment index")
	// ErrDimensionMismatch is returned when a hidden row has the wrong width.
	ErrDimensionMismatch = errors.New("hidden size mismatch")
)

// SumAlignment returns one vector per word: the element-wise sum of the
// hidden rows listed in align[word].
//
// When maxLength > 0 the sequence is assumed truncated and indices at or past
// len(hidden) are dropped, so a word whose pieces were all cut off gets a zero
// vector. When maxLength <= 0 such an index is an error.
func SumAlignment(hidden [][]float32, hiddenSize int, align [][]int, maxLength int) ([][]float32, error) {
	if hiddenSize < 0 {
		return nil, fmt.Errorf("%w: negative hidden size %d", ErrDimensionMismatch, hiddenSize)
	}
	for i, row := range hidden {
		if len(row) != hiddenSize {
			return nil, fmt.Errorf("%w: row %d has width %d, want %d",
				ErrDimensionMismatch, i, len(row), hiddenSize)
		}
	}

	out := make([][]float32, len(align))
	for w, indices := range align {
		v := make([]float32, hiddenSize)
		for _, idx := range indices {
			switch {
			case idx < 0:
				return nil, fmt.Errorf("%w: word %d has index %d", ErrNegativeIndex, w, idx)
			case idx >= len(hidden):
				if maxLength > 0 {
					continue
				}
				return nil, fmt.Errorf("%w: word %d has index %d, sequence length %d",
					ErrIndexOutOfRange, w, idx, len(hidden))
			}
			for h, x := range hidden[idx] {
				v[h] += x
			}
		}
		out[w] = v
	}
	return out, nil
}
