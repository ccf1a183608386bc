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

// Package doc holds the document model pipes read and annotate, plus the
// feature side-table that carries encoder outputs per document.
package doc

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
)

// ErrInvalidSpan is returned for spans outside a document.
var ErrInvalidSpan = errors.New("invalid span")

// Token is one word produced by the morphological analyzer.
type Token struct {
	Text string `json:"text" cbor:"1,keyasint"`
	// Tag is the analyzer's part-of-speech string,
	// e.g. "名詞,固有名詞,人名,姓" for MeCab.
	Tag        string `json:"tag,omitempty" cbor:"2,keyasint,omitempty"`
	Lemma      string `json:"lemma,omitempty" cbor:"3,keyasint,omitempty"`
	Whitespace bool   `json:"whitespace,omitempty" cbor:"4,keyasint,omitempty"`
}

// Encoding is the sub-word view of a document.
type Encoding struct {
	Pieces        []string `json:"pieces" cbor:"1,keyasint"`
	TokenIDs      []int32  `json:"token_ids" cbor:"2,keyasint"`
	AttentionMask []int32  `json:"attention_mask" cbor:"3,keyasint"`
	TokenTypeIDs  []int32  `json:"token_type_ids" cbor:"4,keyasint"`
	// Align maps each word to the piece positions it was split into.
	Align [][]int `json:"align" cbor:"5,keyasint"`
}

// Span is a labelled token range [Start, End).
type Span struct {
	Start int    `json:"start" cbor:"1,keyasint"`
	End   int    `json:"end" cbor:"2,keyasint"`
	Label string `json:"label,omitempty" cbor:"3,keyasint,omitempty"`
}

// Len returns the number of tokens covered.
func (s Span) Len() int {
	return s.End - s.Start
}

// Overlaps reports whether two spans share a token.
func (s Span) Overlaps(o Span) bool {
	return s.Start < o.End && o.Start < s.End
}

// Doc is an analyzed document.
type Doc struct {
	ID       uuid.UUID `json:"id"`
	Tokens   []Token   `json:"tokens"`
	Encoding *Encoding `json:"encoding,omitempty"`
	Ents     []Span    `json:"ents,omitempty"`
}

// New creates a document with a fresh identity.
func New(tokens []Token) *Doc {
	return &Doc{ID: uuid.New(), Tokens: tokens}
}

// FromWords creates a document from bare words with no whitespace between them.
func FromWords(words ...string) *Doc {
	tokens := make([]Token, len(words))
	for i, w := range words {
		tokens[i] = Token{Text: w}
	}
	return New(tokens)
}

// Len returns the number of tokens.
func (d *Doc) Len() int {
	return len(d.Tokens)
}

// Words returns the token texts.
func (d *Doc) Words() []string {
	words := make([]string, len(d.Tokens))
	for i, t := range d.Tokens {
		words[i] = t.Text
	}
	return words
}

// Text reconstructs the document text.
func (d *Doc) Text() string {
	var sb strings.Builder
	for _, t := range d.Tokens {
		sb.WriteString(t.Text)
		if t.Whitespace {
			sb.WriteByte(' ')
		}
	}
	return sb.String()
}

// CharOffsets returns the character (rune) offset where each token starts,
// followed by the length of the text.
func (d *Doc) CharOffsets() []int {
	offsets := make([]int, len(d.Tokens)+1)
	pos := 0
	for i, t := range d.Tokens {
		offsets[i] = pos
		pos += utf8.RuneCountInString(t.Text)
		if t.Whitespace {
			pos++
		}
	}
	offsets[len(d.Tokens)] = pos
	return offsets
}

// CheckSpan validates that s lies within the document.
func (d *Doc) CheckSpan(s Span) error {
	if s.Start < 0 || s.End > len(d.Tokens) || s.Start > s.End {
		return fmt.Errorf("%w: [%d, %d) over %d tokens", ErrInvalidSpan, s.Start, s.End, len(d.Tokens))
	}
	return nil
}

// SpanText returns the text of a span without trailing whitespace.
func (d *Doc) SpanText(s Span) (string, error) {
	if err := d.CheckSpan(s); err != nil {
		return "", err
	}
	var sb strings.Builder
	for i := s.Start; i < s.End; i++ {
		sb.WriteString(d.Tokens[i].Text)
		if d.Tokens[i].Whitespace && i < s.End-1 {
			sb.WriteByte(' ')
		}
	}
	return sb.String(), nil
}
