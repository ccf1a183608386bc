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
	"fmt"
	"io"

	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"
)

var encMode = func() cbor.EncMode {
	em, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
	return em
}()

type record struct {
	ID       uuid.UUID   `cbor:"1,keyasint"`
	Tokens   []Token     `cbor:"2,keyasint"`
	Encoding *Encoding   `cbor:"3,keyasint,omitempty"`
	Ents     []Span      `cbor:"4,keyasint,omitempty"`
	Tensor   [][]float32 `cbor:"5,keyasint,omitempty"`
}

// Marshal encodes a document as CBOR. When store is non-nil the document's
// word vectors are included. Hidden-state views are not serialized.
func Marshal(d *Doc, store *Store) ([]byte, error) {
	r := record{
		ID:       d.ID,
		Tokens:   d.Tokens,
		Encoding: d.Encoding,
		Ents:     d.Ents,
	}
	if store != nil {
		if f, ok := store.Get(d.ID); ok {
			r.Tensor = f.Tensor
		}
	}
	data, err := encMode.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("encoding doc %s: %w", d.ID, err)
	}
	return data, nil
}

// Unmarshal decodes a document written by Marshal. Word vectors are restored
// into store when it is non-nil.
func Unmarshal(data []byte, store *Store) (*Doc, error) {
	var r record
	if err := cbor.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("decoding doc: %w", err)
	}
	return r.restore(store), nil
}

// ReadAll decodes a stream of concatenated Marshal items until EOF.
func ReadAll(rd io.Reader, store *Store) ([]*Doc, error) {
	dec := cbor.NewDecoder(rd)
	var docs []*Doc
	for {
		var r record
		err := dec.Decode(&r)
		if errors.Is(err, io.EOF) {
			return docs, nil
		}
		if err != nil {
			return nil, fmt.Errorf("decoding doc %d: %w", len(docs), err)
		}
		docs = append(docs, r.restore(store))
	}
}

func (r *record) restore(store *Store) *Doc {
	d := &Doc{
		ID:       r.ID,
		Tokens:   r.Tokens,
		Encoding: r.Encoding,
		Ents:     r.Ents,
	}
	if store != nil && r.Tensor != nil {
		store.SetTensor(d.ID, r.Tensor)
	}
	return d
}
