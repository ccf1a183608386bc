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

package ner

// MeCab IPAdic tags for family and given names.
const (
	TagSurname   = "名詞,固有名詞,人名,姓"
	TagGivenName = "名詞,固有名詞,人名,名"
)

// PersonRulerName is the pipe name of the person ruler.
const PersonRulerName = "person_ruler"

// PersonPatterns tag a surname followed by a given name, or either alone, as PERSON.
var PersonPatterns = []Pattern{
	{Label: PERSON, Pattern: []TokenPattern{{AttrTag: TagSurname}, {AttrTag: TagGivenName}}},
	{Label: PERSON, Pattern: []TokenPattern{{AttrTag: TagSurname}}},
	{Label: PERSON, Pattern: []TokenPattern{{AttrTag: TagGivenName}}},
}

// NewPersonRuler creates a ruler extracting person names from MeCab tags.
// Accuracy depends on the analyzer's dictionary knowing the names.
func NewPersonRuler(opts ...RulerOption) *EntityRuler {
	r := NewEntityRuler(append([]RulerOption{WithName(PersonRulerName)}, opts...)...)
	// PersonPatterns are valid.
	_ = r.AddPatterns(PersonPatterns...)
	return r
}
