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

// OntoNotes entity labels.
const (
	PERSON      = "PERSON"
	NORP        = "NORP"
	FAC         = "FAC"
	ORG         = "ORG"
	GPE         = "GPE"
	LOC         = "LOC"
	PRODUCT     = "PRODUCT"
	EVENT       = "EVENT"
	WORK_OF_ART = "WORK_OF_ART"
	LAW         = "LAW"
	LANGUAGE    = "LANGUAGE"
	DATE        = "DATE"
	TIME        = "TIME"
	PERCENT     = "PERCENT"
	MONEY       = "MONEY"
	QUANTITY    = "QUANTITY"
	ORDINAL     = "ORDINAL"
	CARDINAL    = "CARDINAL"
)

// OntoNotesLabels lists every OntoNotes label.
var OntoNotesLabels = []string{
	PERSON, NORP, FAC, ORG, GPE, LOC, PRODUCT, EVENT, WORK_OF_ART,
	LAW, LANGUAGE, DATE, TIME, PERCENT, MONEY, QUANTITY, ORDINAL, CARDINAL,
}

// IsOntoNotesLabel reports whether label is an OntoNotes label.
func IsOntoNotesLabel(label string) bool {
	for _, l := range OntoNotesLabels {
		if l == label {
			return true
		}
	}
	return false
}
