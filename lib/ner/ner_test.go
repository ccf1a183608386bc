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

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/KoichiYasuoka/camphr/lib/doc"
	"github.com/KoichiYasuoka/camphr/lib/pipeline"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// walkDoc is "今日は田中と散歩に行った" as MeCab IPAdic tags it.
func walkDoc() *doc.Doc {
	return doc.New([]doc.Token{
		{Text: "今日", Tag: "名詞,副詞可能"},
		{Text: "は", Tag: "助詞,係助詞"},
		{Text: "田中", Tag: TagSurname},
		{Text: "と", Tag: "助詞,格助詞,一般"},
		{Text: "散歩", Tag: "名詞,サ変接続"},
		{Text: "に", Tag: "助詞,格助詞,一般"},
		{Text: "行っ", Tag: "動詞,自立", Lemma: "行く"},
		{Text: "た", Tag: "助動詞"},
	})
}

func TestPersonRuler(t *testing.T) {
	tests := []struct {
		name   string
		tokens []doc.Token
		want   []Entity
	}{
		{
			name:   "surname alone",
			tokens: walkDoc().Tokens,
			want:   []Entity{{Text: "田中", Label: PERSON, Start: 3, End: 5, Score: 1}},
		},
		{
			name: "surname and given name merge",
			tokens: []doc.Token{
				{Text: "田中", Tag: TagSurname},
				{Text: "太郎", Tag: TagGivenName},
				{Text: "です", Tag: "助動詞"},
			},
			want: []Entity{{Text: "田中太郎", Label: PERSON, Start: 0, End: 4, Score: 1}},
		},
		{
			name: "given name alone",
			tokens: []doc.Token{
				{Text: "花子", Tag: TagGivenName},
				{Text: "が", Tag: "助詞,格助詞,一般"},
			},
			want: []Entity{{Text: "花子", Label: PERSON, Start: 0, End: 2, Score: 1}},
		},
		{
			name: "two people",
			tokens: []doc.Token{
				{Text: "田中", Tag: TagSurname},
				{Text: "と", Tag: "助詞,格助詞,一般"},
				{Text: "鈴木", Tag: TagSurname},
				{Text: "一郎", Tag: TagGivenName},
			},
			want: []Entity{
				{Text: "田中", Label: PERSON, Start: 0, End: 2, Score: 1},
				{Text: "鈴木一郎", Label: PERSON, Start: 3, End: 7, Score: 1},
			},
		},
		{
			name:   "no names",
			tokens: []doc.Token{{Text: "散歩", Tag: "名詞,サ変接続"}},
			want:   []Entity{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := doc.New(tt.tokens)
			require.NoError(t, NewPersonRuler().Process(context.Background(), []*doc.Doc{d}))
			assert.Equal(t, tt.want, Entities(d))
		})
	}
}

func TestEntityRulerLongestMatch(t *testing.T) {
	r := NewEntityRuler()
	require.NoError(t, r.AddPatterns(
		Pattern{Label: "GPE", Pattern: []TokenPattern{{AttrText: "東京"}}},
		Pattern{Label: ORG, Pattern: []TokenPattern{{AttrText: "東京"}, {AttrText: "大学"}}},
	))

	d := doc.FromWords("東京", "大学", "と", "東京")
	spans := r.Match(d)
	assert.Equal(t, []doc.Span{
		{Start: 0, End: 2, Label: ORG},
		{Start: 3, End: 4, Label: "GPE"},
	}, spans)
}

func TestEntityRulerAttributes(t *testing.T) {
	tests := []struct {
		name    string
		pattern TokenPattern
		token   doc.Token
		want    bool
	}{
		{"text", TokenPattern{AttrText: "Go"}, doc.Token{Text: "Go"}, true},
		{"orth", TokenPattern{AttrOrth: "Go"}, doc.Token{Text: "go"}, false},
		{"lower", TokenPattern{AttrLower: "GO"}, doc.Token{Text: "Go"}, true},
		{"lemma", TokenPattern{AttrLemma: "行く"}, doc.Token{Text: "行っ", Lemma: "行く"}, true},
		{"all attributes must match", TokenPattern{AttrText: "田中", AttrTag: TagGivenName}, doc.Token{Text: "田中", Tag: TagSurname}, false},
		{"empty matches anything", TokenPattern{}, doc.Token{Text: "x"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.pattern.matches(tt.token))
		})
	}
}

func TestEntityRulerExistingEnts(t *testing.T) {
	tests := []struct {
		name      string
		overwrite bool
		want      []doc.Span
	}{
		{
			name: "keeps existing",
			want: []doc.Span{{Start: 1, End: 3, Label: ORG}},
		},
		{
			name:      "overwrites",
			overwrite: true,
			want:      []doc.Span{{Start: 2, End: 3, Label: PERSON}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := walkDoc()
			d.Ents = []doc.Span{{Start: 1, End: 3, Label: ORG}}
			r := NewPersonRuler(WithOverwrite(tt.overwrite))
			require.NoError(t, r.Process(context.Background(), []*doc.Doc{d}))
			assert.Equal(t, tt.want, d.Ents)
		})
	}
}

func TestEntityRulerNonOverlappingEntsMerge(t *testing.T) {
	d := walkDoc()
	d.Ents = []doc.Span{{Start: 4, End: 5, Label: "EVENT"}}
	require.NoError(t, NewPersonRuler().Process(context.Background(), []*doc.Doc{d}))
	assert.Equal(t, []doc.Span{
		{Start: 2, End: 3, Label: PERSON},
		{Start: 4, End: 5, Label: "EVENT"},
	}, d.Ents)
}

func TestEntityRulerInvalidPatterns(t *testing.T) {
	tests := []struct {
		name    string
		pattern Pattern
	}{
		{"empty label", Pattern{Pattern: []TokenPattern{{AttrText: "x"}}}},
		{"no tokens", Pattern{Label: PERSON}},
		{"unknown attribute", Pattern{Label: PERSON, Pattern: []TokenPattern{{"SHAPE": "Xx"}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewEntityRuler()
			require.ErrorIs(t, r.AddPatterns(tt.pattern), ErrInvalidPattern)
			assert.Empty(t, r.Patterns())
		})
	}
}

func TestEntityRulerCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, NewPersonRuler().Process(ctx, []*doc.Doc{walkDoc()}), context.Canceled)
}

func TestPatternsJSONL(t *testing.T) {
	path := filepath.Join(t.TempDir(), "patterns.jsonl")
	require.NoError(t, WritePatterns(path, PersonPatterns))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `{"label":"PERSON","pattern":[{"TAG":"名詞,固有名詞,人名,姓"},{"TAG":"名詞,固有名詞,人名,名"}]}`)

	got, err := ReadPatterns(path)
	require.NoError(t, err)
	assert.Equal(t, PersonPatterns, got)

	require.NoError(t, os.WriteFile(path, []byte("{\"label\":\"X\",\"pattern\":[{\"TEXT\":\"a\"}]}\n\nnot json\n"), 0o644))
	_, err = ReadPatterns(path)
	require.ErrorContains(t, err, "line 3")
}

func TestEntityRulerDisk(t *testing.T) {
	dir := t.TempDir()
	r := NewPersonRuler(WithOverwrite(true))
	require.NoError(t, r.ToDisk(dir))

	loaded, err := RulerFromDisk(dir)
	require.NoError(t, err)
	assert.Equal(t, PersonRulerName, loaded.Name())
	assert.Equal(t, r.Patterns(), loaded.Patterns())
	assert.Equal(t, []string{PERSON}, loaded.Labels())
	assert.True(t, loaded.cfg.Overwrite)
}

func TestEntityRulerPipeline(t *testing.T) {
	dir := t.TempDir()
	nlp := pipeline.New("ja", nil)
	require.NoError(t, nlp.AddPipe(NewPersonRuler()))
	require.NoError(t, nlp.ToDisk(dir))

	restored, err := pipeline.FromDisk(dir, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{PersonRulerName}, restored.PipeNames())

	d := walkDoc()
	require.NoError(t, restored.Run(context.Background(), d))
	assert.Equal(t, []Entity{{Text: "田中", Label: PERSON, Start: 3, End: 5, Score: 1}}, Entities(d))
}

func TestEntitiesSkipsInvalidSpans(t *testing.T) {
	d := doc.FromWords("田中", "さん")
	d.Ents = []doc.Span{{Start: 1, End: 5, Label: PERSON}, {Start: 0, End: 1, Label: PERSON}}
	assert.Equal(t, []Entity{{Text: "田中", Label: PERSON, Start: 0, End: 2, Score: 1}}, Entities(d))
}

func TestOntoNotesLabels(t *testing.T) {
	assert.True(t, IsOntoNotesLabel(PERSON))
	assert.False(t, IsOntoNotesLabel("NAME"))
}
