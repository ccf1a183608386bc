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
	"time"

	"github.com/KoichiYasuoka/camphr/lib/pooling"
	"github.com/google/uuid"
	"github.com/jellydator/ttlcache/v3"
)

// ErrNoFeatures is returned when a document has no attached features.
var ErrNoFeatures = errors.New("no features attached to document")

// HiddenView is a lazy view of one document's rows in a batch tensor.
// The batch is shared between every document of the batch.
type HiddenView struct {
	batch  [][][]float32
	row    int
	length int
}

// NewHiddenView returns a view of the first length positions of batch[row].
func NewHiddenView(batch [][][]float32, row, length int) HiddenView {
	return HiddenView{batch: batch, row: row, length: length}
}

// Get returns the document's [length][hidden] slice, or nil for an empty view.
func (v HiddenView) Get() [][]float32 {
	if v.row < 0 || v.row >= len(v.batch) {
		return nil
	}
	rows := v.batch[v.row]
	return rows[:min(v.length, len(rows))]
}

// Len returns the number of positions in the view.
func (v HiddenView) Len() int {
	return len(v.Get())
}

// Features are the encoder outputs attached to a document.
type Features struct {
	LastHiddenState HiddenView
	// Tensor holds one pooled vector per word.
	Tensor [][]float32
	Loss   *float32
}

// Store is a side-table of Features keyed by document identity.
// It is safe for concurrent use.
type Store struct {
	mu      sync.Mutex
	cache   *ttlcache.Cache[uuid.UUID, *Features]
	started bool
}

// NewStore creates a store. A positive ttl expires features that long after
// they were last written; 0 keeps them until deleted.
func NewStore(ttl time.Duration) *Store {
	if ttl <= 0 {
		return &Store{cache: ttlcache.New[uuid.UUID, *Features]()}
	}
	cache := ttlcache.New(
		ttlcache.WithTTL[uuid.UUID, *Features](ttl),
		ttlcache.WithDisableTouchOnHit[uuid.UUID, *Features](),
	)
	go cache.Start()
	return &Store{cache: cache, started: true}
}

// Get returns a copy of the features attached to id.
func (s *Store) Get(id uuid.UUID) (Features, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item := s.cache.Get(id)
	if item == nil {
		return Features{}, false
	}
	return *item.Value(), true
}

// Update applies fn to the features of id, creating them if needed.
func (s *Store) Update(id uuid.UUID, fn func(f *Features)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f := &Features{}
	if item := s.cache.Get(id); item != nil {
		cp := *item.Value()
		f = &cp
	}
	fn(f)
	s.cache.Set(id, f, ttlcache.DefaultTTL)
}

// SetHidden attaches a hidden-state view.
func (s *Store) SetHidden(id uuid.UUID, v HiddenView) {
	s.Update(id, func(f *Features) { f.LastHiddenState = v })
}

// SetTensor attaches per-word vectors.
func (s *Store) SetTensor(id uuid.UUID, t [][]float32) {
	s.Update(id, func(f *Features) { f.Tensor = t })
}

// SetLoss records a loss value.
func (s *Store) SetLoss(id uuid.UUID, loss float32) {
	s.Update(id, func(f *Features) { f.Loss = &loss })
}

// Delete drops the features of id.
func (s *Store) Delete(id uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache.Delete(id)
}

// Len returns the number of documents with features.
func (s *Store) Len() int {
	return s.cache.Len()
}

// Close stops the expiry loop.
func (s *Store) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		s.cache.Stop()
		s.started = false
	}
}

func (s *Store) tensor(d *Doc) ([][]float32, error) {
	f, ok := s.Get(d.ID)
	if !ok || f.Tensor == nil {
		return nil, ErrNoFeatures
	}
	return f.Tensor, nil
}

// DocVector returns the sum of the document's word vectors.
func (s *Store) DocVector(d *Doc) ([]float32, error) {
	t, err := s.tensor(d)
	if err != nil {
		return nil, err
	}
	return pooling.DocVector(t), nil
}

// SpanVector returns the sum of the word vectors in span.
func (s *Store) SpanVector(d *Doc, span Span) ([]float32, error) {
	t, err := s.tensor(d)
	if err != nil {
		return nil, err
	}
	return pooling.SpanVector(t, span.Start, span.End)
}

// TokenVector returns the vector of word i.
func (s *Store) TokenVector(d *Doc, i int) ([]float32, error) {
	t, err := s.tensor(d)
	if err != nil {
		return nil, err
	}
	return pooling.TokenVector(t, i)
}

// Similarity returns the cosine similarity of two documents' vectors.
func (s *Store) Similarity(a, b *Doc) (float32, error) {
	va, err := s.DocVector(a)
	if err != nil {
		return 0, err
	}
	vb, err := s.DocVector(b)
	if err != nil {
		return 0, err
	}
	return pooling.Similarity(va, vb)
}
