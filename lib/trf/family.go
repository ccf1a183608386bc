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

// Package trf attaches pretrained transformer encoders (BERT, XLNet) to a
// pipeline: documents in, per-word vectors and hidden states out.
package trf

import (
	"errors"
	"fmt"
	"strings"

	"github.com/KoichiYasuoka/camphr/lib/backends"
	"github.com/KoichiYasuoka/camphr/lib/batch"
	"github.com/KoichiYasuoka/camphr/lib/tokenizer"
)

// ErrIllegalModelName is returned when a model name names no known family.
var ErrIllegalModelName = errors.New("illegal model name")

// Family is a transformer model family.
type Family string

const (
	FamilyBERT  Family = "bert"
	FamilyXLNet Family = "xlnet"
)

// familySpec is everything that differs between families.
type familySpec struct {
	layout tokenizer.Layout
	// fallback special ids for tokenizers that cannot name them (nil = required).
	fallback *tokenizer.Specials
	// noPositionLimit marks families without learned absolute positions.
	noPositionLimit bool
	newInputs       func(b *batch.Batch) Inputs
	decode          func(out *backends.ModelOutput) (Outputs, error)
}

// families is the single dispatch table over model families.
var families = map[Family]familySpec{
	FamilyBERT: {
		layout:    tokenizer.LayoutBERT,
		newInputs: newBertInputs,
		decode:    decodeBertOutputs,
	},
	FamilyXLNet: {
		layout: tokenizer.LayoutXLNet,
		// <cls> and <sep> in the XLNet sentencepiece vocabulary.
		fallback:        &tokenizer.Specials{CLS: 3, SEP: 4},
		noPositionLimit: true,
		newInputs:       newXLNetInputs,
		decode:          decodeXLNetOutputs,
	},
}

// familyOrder fixes the order names are matched in.
var familyOrder = []Family{FamilyBERT, FamilyXLNet}

// FamilyFromName returns the first family whose name appears in name,
// e.g. "bert-base-japanese" is BERT.
func FamilyFromName(name string) (Family, error) {
	lower := strings.ToLower(name)
	for _, f := range familyOrder {
		if strings.Contains(lower, string(f)) {
			return f, nil
		}
	}
	return "", fmt.Errorf("%w: %s", ErrIllegalModelName, name)
}

// ParseFamily parses an exact family name.
func ParseFamily(s string) (Family, error) {
	if _, ok := families[Family(s)]; ok {
		return Family(s), nil
	}
	return "", fmt.Errorf("%w: %s", ErrIllegalModelName, s)
}

func (f Family) spec() familySpec {
	return families[f]
}

// Layout returns the special-token layout the family's tokenizer uses.
func (f Family) Layout() tokenizer.Layout {
	return f.spec().layout
}

// FallbackSpecials returns special ids to use when the tokenizer cannot
// name them, or nil when they must come from the tokenizer.
func (f Family) FallbackSpecials() *tokenizer.Specials {
	return f.spec().fallback
}
