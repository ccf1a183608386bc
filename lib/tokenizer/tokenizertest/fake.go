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

// Package tokenizertest provides an in-memory tokenizer for tests.
package tokenizertest

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/gomlx/go-huggingface/tokenizers"
	"github.com/gomlx/go-huggingface/tokenizers/api"
)

// Fake is a greedy longest-match tokenizer over a fixed vocabulary.
// Unknown characters map to the "[UNK]" id.
type Fake struct {
	vocab    map[string]int
	ids      []string
	specials map[api.SpecialToken]int
	// Wrap makes Encode surround its output with CLS and SEP, as
	// tokenizers with a post-processor do.
	Wrap bool
}

var _ tokenizers.Tokenizer = (*Fake)(nil)

// New creates a Fake with ids assigned in order. Entries named [PAD], [UNK],
// [CLS], [SEP] and [MASK] are registered as special tokens, as are the
// sentencepiece names <pad>, <unk>, <s>, </s> and <cls>. Like HuggingFace
// tokenizers, </s> answers for end of sentence and <sep> has no role.
func New(vocab ...string) *Fake {
	f := &Fake{
		vocab:    make(map[string]int, len(vocab)),
		ids:      vocab,
		specials: make(map[api.SpecialToken]int),
	}
	for i, v := range vocab {
		f.vocab[v] = i
		switch v {
		case "[PAD]":
			f.specials[api.TokPad] = i
		case "[UNK]":
			f.specials[api.TokUnknown] = i
		case "[CLS]":
			f.specials[api.TokClassification] = i
			f.specials[api.TokBeginningOfSentence] = i
		case "[SEP]":
			f.specials[api.TokEndOfSentence] = i
		case "[MASK]", "<mask>":
			f.specials[api.TokMask] = i
		case "<pad>":
			f.specials[api.TokPad] = i
		case "<unk>":
			f.specials[api.TokUnknown] = i
		case "<s>":
			f.specials[api.TokBeginningOfSentence] = i
		case "</s>":
			f.specials[api.TokEndOfSentence] = i
		case "<cls>":
			f.specials[api.TokClassification] = i
		}
	}
	return f
}

func (f *Fake) Encode(text string) []int {
	var out []int
	if f.Wrap {
		out = append(out, f.specials[api.TokClassification])
	}
	for _, word := range strings.Fields(text) {
		rest := word
		for rest != "" {
			n := len(rest)
			for ; n > 0; n-- {
				if id, ok := f.vocab[rest[:n]]; ok {
					out = append(out, id)
					break
				}
			}
			if n == 0 {
				out = append(out, f.specials[api.TokUnknown])
				_, n = utf8.DecodeRuneInString(rest)
			}
			rest = rest[n:]
		}
	}
	if f.Wrap {
		out = append(out, f.specials[api.TokEndOfSentence])
	}
	return out
}

func (f *Fake) Decode(ids []int) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i], _ = f.IDToToken(id)
	}
	return strings.Join(parts, "")
}

func (f *Fake) SpecialTokenID(token api.SpecialToken) (int, error) {
	if id, ok := f.specials[token]; ok {
		return id, nil
	}
	return 0, fmt.Errorf("special token %s not found", token)
}

// IDToToken returns the vocabulary entry for id.
func (f *Fake) IDToToken(id int) (string, bool) {
	if id < 0 || id >= len(f.ids) {
		return "", false
	}
	return f.ids[id], true
}

// TokenToID returns the id of a vocabulary entry.
func (f *Fake) TokenToID(token string) (int, bool) {
	id, ok := f.vocab[token]
	return id, ok
}
