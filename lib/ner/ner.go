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

// Package ner extracts named entities with token-pattern rules over
// morphological tags.
package ner

import (
	"unicode/utf8"

	"github.com/KoichiYasuoka/camphr/lib/doc"
)

// Entity represents a named entity extracted from text.
type Entity struct {
	// Text is the entity text (e.g., "田中")
	Text string `json:"text"`
	// Label is the entity type (e.g., "PERSON")
	Label string `json:"label"`
	// Start is the character offset where the entity begins
	Start int `json:"start"`
	// End is the character offset where the entity ends (exclusive)
	End int `json:"end"`
	// Score is the confidence score (0.0 to 1.0). Rule matches score 1.
	Score float32 `json:"score"`
}

// Entities converts the document's entity spans to character-offset entities.
// Spans outside the document are skipped.
func Entities(d *doc.Doc) []Entity {
	offsets := d.CharOffsets()
	ents := make([]Entity, 0, len(d.Ents))
	for _, s := range d.Ents {
		text, err := d.SpanText(s)
		if err != nil {
			continue
		}
		ents = append(ents, Entity{
			Text:  text,
			Label: s.Label,
			Start: offsets[s.Start],
			End:   offsets[s.Start] + utf8.RuneCountInString(text),
			Score: 1,
		})
	}
	return ents
}
