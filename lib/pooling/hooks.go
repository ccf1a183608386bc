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
	"fmt"
	"math"

	"github.com/ajroetker/go-highway/hwy/contrib/vec"
)

// DocVector sums every row of a word tensor. Returns nil for an empty tensor.
func DocVector(t [][]float32) []float32 {
	if len(t) == 0 {
		return nil
	}
	return sumRows(t)
}

// SpanVector sums rows [start, end) of a word tensor.
func SpanVector(t [][]float32, start, end int) ([]float32, error) {
	if start < 0 || end > len(t) || start > end {
		return nil, fmt.Errorf("%w: span [%d, %d) over %d words", ErrIndexOutOfRange, start, end, len(t))
	}
	if start == end {
		if len(t) == 0 {
			return nil, nil
		}
		return make([]float32, len(t[0])), nil
	}
	return sumRows(t[start:end]), nil
}

// TokenVector returns a copy of row i.
func TokenVector(t [][]float32, i int) ([]float32, error) {
	if i < 0 || i >= len(t) {
		return nil, fmt.Errorf("%w: token %d of %d", ErrIndexOutOfRange, i, len(t))
	}
	v := make([]float32, len(t[i]))
	copy(v, t[i])
	return v, nil
}

// Similarity returns the cosine similarity of a and b, or 0 when either
// vector has zero norm.
func Similarity(a, b []float32) (float32, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("%w: %d vs %d", ErrDimensionMismatch, len(a), len(b))
	}
	if isZero(a) || isZero(b) {
		return 0, nil
	}
	na := append([]float32(nil), a...)
	nb := append([]float32(nil), b...)
	vec.Normalize(na)
	vec.Normalize(nb)

	var dot float32
	for i := range na {
		dot += na[i] * nb[i]
	}
	return float32(math.Max(-1, math.Min(1, float64(dot)))), nil
}

func sumRows(rows [][]float32) []float32 {
	v := make([]float32, len(rows[0]))
	for _, row := range rows {
		for h, x := range row {
			v[h] += x
		}
	}
	return v
}

func isZero(v []float32) bool {
	for _, x := range v {
		if x != 0 {
			return false
		}
	}
	return true
}
