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

// Command camphr runs transformer feature extraction and rule-based entity
// recognition over pre-tokenized documents.
//
// Usage:
//
//	camphr features --model ./bert-base-japanese < docs.jsonl
//	camphr features --pipeline ./saved < docs.jsonl
//	camphr ner < tagged.jsonl
//	camphr save --model ./bert-base-japanese --person --out ./saved
package main

import (
	"io"
	"runtime"

	"github.com/KoichiYasuoka/camphr/cmd/camphr/cmd"
	json "github.com/antflydb/antfly-go/libaf/json"
	gojson "github.com/goccy/go-json"
)

func init() {
	json.SetConfig(json.Config{
		Marshal:   gojson.Marshal,
		Unmarshal: gojson.Unmarshal,
		MarshalString: func(v any) (string, error) {
			data, err := gojson.Marshal(v)
			if err != nil {
				return "", err
			}
			return string(data), nil
		},
		UnmarshalString: func(s string, v any) error {
			return gojson.Unmarshal([]byte(s), v)
		},
		NewEncoder: func(w io.Writer) json.Encoder {
			return gojson.NewEncoder(w)
		},
		NewDecoder: func(r io.Reader) json.Decoder {
			return gojson.NewDecoder(r)
		},
	})
}

// Set by goreleaser.
var version = "dev"

func main() {
	runtime.SetBlockProfileRate(1)
	cmd.Version = version
	cmd.Execute()
}
