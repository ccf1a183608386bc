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

package doc

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestDocText(t *testing.T) {
	d := New([]Token{
		{Text: "Hello", Whitespace: true},
		{Text: "世界"},
		{Text: "!"},
	})
	require.NotEqual(t, uuid.Nil, d.ID)
	require.Equal(t, 3, d.Len())
	require.Equal(t, "Hello 世界!", d.Text())
	require.Equal(t, []int{0, 6, 8, 9}, d.CharOffsets())
	require.Equal(t, []string{"Hello", "世界", "!"}, d.Words())

	text, err := d.SpanText(Span{Start: 0, End: 2})
	require.NoError(t, err)
	require.Equal(t, "Hello 世界", text)

	_, err = d.SpanText(Span{Start: 2, End: 5})
	require.True(t, errors.Is(err, ErrInvalidSpan))
}

func TestFromWords(t *testing.T) {
	a := FromWords("今日", "は")
	b := FromWords("今日", "は")
	require.Equal(t, "今日は", a.Text())
	require.NotEqual(t, a.ID, b.ID)
}

func TestSpan(t *testing.T) {
	require.Equal(t, 2, Span{Start: 1, End: 3}.Len())
	require.True(t, Span{Start: 1, End: 3}.Overlaps(Span{Start: 2, End: 4}))
	require.False(t, Span{Start: 1, End: 3}.Overlaps(Span{Start: 3, End: 4}))
}

func TestHiddenView(t *testing.T) {
	batch := [][][]float32{
		{{1, 1}, {2, 2}, {0, 0}},
		{{3, 3}, {4, 4}, {5, 5}},
	}
	v := NewHiddenView(batch, 0, 2)
	require.Equal(t, [][]float32{{1, 1}, {2, 2}}, v.Get())
	require.Equal(t, 2, v.Len())

	require.Equal(t, 3, NewHiddenView(batch, 1, 10).Len())
	require.Nil(t, NewHiddenView(batch, 2, 1).Get())
	require.Nil(t, HiddenView{}.Get())
}

func TestStore(t *testing.T) {
	s := NewStore(0)
	defer s.Close()

	d := FromWords("a", "b")
	_, ok := s.Get(d.ID)
	require.False(t, ok)

	_, err := s.DocVector(d)
	require.True(t, errors.Is(err, ErrNoFeatures))

	s.SetTensor(d.ID, [][]float32{{1, 0}, {0, 1}})
	s.SetLoss(d.ID, 0.5)
	s.SetHidden(d.ID, NewHiddenView([][][]float32{{{9}}}, 0, 1))

	f, ok := s.Get(d.ID)
	require.True(t, ok)
	require.Len(t, f.Tensor, 2)
	require.Equal(t, float32(0.5), *f.Loss)
	require.Equal(t, 1, f.LastHiddenState.Len())
	require.Equal(t, 1, s.Len())

	vec, err := s.DocVector(d)
	require.NoError(t, err)
	require.Equal(t, []float32{1, 1}, vec)

	span, err := s.SpanVector(d, Span{Start: 1, End: 2})
	require.NoError(t, err)
	require.Equal(t, []float32{0, 1}, span)

	tok, err := s.TokenVector(d, 0)
	require.NoError(t, err)
	require.Equal(t, []float32{1, 0}, tok)

	other := FromWords("c")
	s.SetTensor(other.ID, [][]float32{{2, 2}})
	sim, err := s.Similarity(d, other)
	require.NoError(t, err)
	require.InDelta(t, 1.0, sim, 1e-5)

	s.Delete(d.ID)
	_, ok = s.Get(d.ID)
	require.False(t, ok)
}

func TestStore_TTL(t *testing.T) {
	s := NewStore(20 * time.Millisecond)
	defer s.Close()

	id := uuid.New()
	s.SetTensor(id, [][]float32{{1}})
	require.Eventually(t, func() bool {
		_, ok := s.Get(id)
		return !ok
	}, time.Second, 10*time.Millisecond)
}

func TestStore_Concurrent(t *testing.T) {
	s := NewStore(0)
	defer s.Close()

	id := uuid.New()
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s.SetLoss(id, float32(i))
			s.SetTensor(id, [][]float32{{float32(i)}})
			_, _ = s.Get(id)
		}(i)
	}
	wg.Wait()

	f, ok := s.Get(id)
	require.True(t, ok)
	require.NotNil(t, f.Loss)
	require.Len(t, f.Tensor, 1)
}

func TestCodecRoundTrip(t *testing.T) {
	store := NewStore(0)
	defer store.Close()

	d := New([]Token{
		{Text: "田中", Tag: "名詞,固有名詞,人名,姓", Lemma: "田中"},
		{Text: "さん", Whitespace: true},
	})
	d.Encoding = &Encoding{
		Pieces:        []string{"[CLS]", "田中", "さん", "[SEP]"},
		TokenIDs:      []int32{2, 100, 101, 3},
		AttentionMask: []int32{1, 1, 1, 1},
		TokenTypeIDs:  []int32{0, 0, 0, 0},
		Align:         [][]int{{1}, {2}},
	}
	d.Ents = []Span{{Start: 0, End: 1, Label: "PERSON"}}
	store.SetTensor(d.ID, [][]float32{{0.5, 1}, {2, 3}})

	data, err := Marshal(d, store)
	require.NoError(t, err)

	restored := NewStore(0)
	defer restored.Close()
	got, err := Unmarshal(data, restored)
	require.NoError(t, err)
	require.Equal(t, d, got)

	f, ok := restored.Get(d.ID)
	require.True(t, ok)
	require.Equal(t, [][]float32{{0.5, 1}, {2, 3}}, f.Tensor)

	// Deterministic encoding.
	again, err := Marshal(d, store)
	require.NoError(t, err)
	require.Equal(t, data, again)

	_, err = Unmarshal([]byte{0xff}, nil)
	require.Error(t, err)
}
