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
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/KoichiYasuoka/camphr/lib/doc"
	"github.com/KoichiYasuoka/camphr/lib/pipeline"
	"github.com/goccy/go-json"
	"go.uber.org/zap"
)

// RulerFactory is the factory name of the EntityRuler.
const RulerFactory = "entity_ruler"

const (
	patternsFile = "patterns.jsonl"
	rulerCfgFile = "cfg.json"
)

// ErrInvalidPattern is returned for patterns the ruler cannot match.
var ErrInvalidPattern = errors.New("invalid pattern")

// Token attributes a pattern can test.
const (
	AttrText  = "TEXT"
	AttrOrth  = "ORTH"
	AttrLower = "LOWER"
	AttrTag   = "TAG"
	AttrLemma = "LEMMA"
)

// TokenPattern matches one token when every attribute equals its value.
type TokenPattern map[string]string

// Pattern labels every token sequence matching its token patterns.
type Pattern struct {
	Label   string         `json:"label"`
	Pattern []TokenPattern `json:"pattern"`
	ID      string         `json:"id,omitempty"`
}

func (p Pattern) validate() error {
	if p.Label == "" {
		return fmt.Errorf("%w: empty label", ErrInvalidPattern)
	}
	if len(p.Pattern) == 0 {
		return fmt.Errorf("%w: %s has no tokens", ErrInvalidPattern, p.Label)
	}
	for _, tp := range p.Pattern {
		for attr := range tp {
			switch attr {
			case AttrText, AttrOrth, AttrLower, AttrTag, AttrLemma:
			default:
				return fmt.Errorf("%w: unsupported attribute %q in %s", ErrInvalidPattern, attr, p.Label)
			}
		}
	}
	return nil
}

func (tp TokenPattern) matches(t doc.Token) bool {
	for attr, want := range tp {
		var got string
		switch attr {
		case AttrText, AttrOrth:
			got = t.Text
		case AttrLower:
			got = strings.ToLower(t.Text)
			want = strings.ToLower(want)
		case AttrTag:
			got = t.Tag
		case AttrLemma:
			got = t.Lemma
		}
		if got != want {
			return false
		}
	}
	return true
}

func (p Pattern) matchAt(tokens []doc.Token, start int) bool {
	if start+len(p.Pattern) > len(tokens) {
		return false
	}
	for i, tp := range p.Pattern {
		if !tp.matches(tokens[start+i]) {
			return false
		}
	}
	return true
}

type rulerConfig struct {
	Name      string `json:"name"`
	Overwrite bool   `json:"overwrite_ents"`
}

// EntityRuler sets doc.Ents from token patterns. Longer matches win over
// shorter ones; among equal lengths the earlier match wins. Existing
// entities are kept unless the ruler overwrites them.
type EntityRuler struct {
	mu       sync.RWMutex
	patterns []Pattern
	cfg      rulerConfig
	logger   *zap.Logger
}

// RulerOption configures an EntityRuler.
type RulerOption func(*EntityRuler)

// WithName sets the pipe name.
func WithName(name string) RulerOption {
	return func(r *EntityRuler) {
		r.cfg.Name = name
	}
}

// WithOverwrite lets matches replace overlapping existing entities.
func WithOverwrite(overwrite bool) RulerOption {
	return func(r *EntityRuler) {
		r.cfg.Overwrite = overwrite
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) RulerOption {
	return func(r *EntityRuler) {
		r.logger = logger
	}
}

// NewEntityRuler creates an empty ruler.
func NewEntityRuler(opts ...RulerOption) *EntityRuler {
	r := &EntityRuler{
		cfg:    rulerConfig{Name: RulerFactory},
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Name returns the pipe name.
func (r *EntityRuler) Name() string {
	return r.cfg.Name
}

// FactoryName returns the factory that restores the pipe.
func (r *EntityRuler) FactoryName() string {
	return RulerFactory
}

// AddPatterns validates and appends patterns.
func (r *EntityRuler) AddPatterns(patterns ...Pattern) error {
	for _, p := range patterns {
		if err := p.validate(); err != nil {
			return err
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.patterns = append(r.patterns, patterns...)
	return nil
}

// Patterns returns a copy of the patterns.
func (r *EntityRuler) Patterns() []Pattern {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Pattern(nil), r.patterns...)
}

// Labels returns the distinct labels, sorted.
func (r *EntityRuler) Labels() []string {
	seen := make(map[string]bool)
	var labels []string
	for _, p := range r.Patterns() {
		if !seen[p.Label] {
			seen[p.Label] = true
			labels = append(labels, p.Label)
		}
	}
	sort.Strings(labels)
	return labels
}

// Match returns the non-overlapping pattern matches in d, in document order.
func (r *EntityRuler) Match(d *doc.Doc) []doc.Span {
	patterns := r.Patterns()
	var matches []doc.Span
	for start := range d.Tokens {
		for _, p := range patterns {
			if p.matchAt(d.Tokens, start) {
				matches = append(matches, doc.Span{Start: start, End: start + len(p.Pattern), Label: p.Label})
			}
		}
	}
	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Len() != matches[j].Len() {
			return matches[i].Len() > matches[j].Len()
		}
		return matches[i].Start < matches[j].Start
	})

	var kept []doc.Span
	for _, m := range matches {
		if !overlapsAny(m, kept) {
			kept = append(kept, m)
		}
	}
	sortSpans(kept)
	return kept
}

// Process sets the entities of every document.
func (r *EntityRuler) Process(ctx context.Context, docs []*doc.Doc) error {
	for _, d := range docs {
		if err := ctx.Err(); err != nil {
			return err
		}
		matches := r.Match(d)
		d.Ents = r.merge(d.Ents, matches)
		r.logger.Debug("Applied entity patterns",
			zap.String("doc", d.ID.String()),
			zap.Int("matches", len(matches)),
			zap.Int("ents", len(d.Ents)))
	}
	return nil
}

func (r *EntityRuler) merge(existing, matches []doc.Span) []doc.Span {
	var ents []doc.Span
	if r.cfg.Overwrite {
		for _, e := range existing {
			if !overlapsAny(e, matches) {
				ents = append(ents, e)
			}
		}
		ents = append(ents, matches...)
	} else {
		ents = append(ents, existing...)
		for _, m := range matches {
			if !overlapsAny(m, existing) {
				ents = append(ents, m)
			}
		}
	}
	sortSpans(ents)
	return ents
}

func overlapsAny(s doc.Span, spans []doc.Span) bool {
	for _, o := range spans {
		if s.Overlaps(o) {
			return true
		}
	}
	return false
}

func sortSpans(spans []doc.Span) {
	sort.Slice(spans, func(i, j int) bool {
		if spans[i].Start != spans[j].Start {
			return spans[i].Start < spans[j].Start
		}
		return spans[i].End < spans[j].End
	})
}

// WritePatterns writes patterns as JSON lines.
func WritePatterns(path string, patterns []Pattern) error {
	var buf bytes.Buffer
	for _, p := range patterns {
		line, err := json.Marshal(p)
		if err != nil {
			return fmt.Errorf("encoding pattern %s: %w", p.Label, err)
		}
		buf.Write(line)
		buf.WriteByte('\n')
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("writing patterns: %w", err)
	}
	return nil
}

// ReadPatterns reads JSON-lines patterns. Blank lines are skipped.
func ReadPatterns(path string) ([]Pattern, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening patterns: %w", err)
	}
	defer func() { _ = f.Close() }()

	var patterns []Pattern
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		text := bytes.TrimSpace(scanner.Bytes())
		if len(text) == 0 {
			continue
		}
		var p Pattern
		if err := json.Unmarshal(text, &p); err != nil {
			return nil, fmt.Errorf("parsing patterns line %d: %w", line, err)
		}
		patterns = append(patterns, p)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading patterns: %w", err)
	}
	return patterns, nil
}

// ToDisk writes patterns.jsonl and cfg.json to dir.
func (r *EntityRuler) ToDisk(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", dir, err)
	}
	if err := WritePatterns(filepath.Join(dir, patternsFile), r.Patterns()); err != nil {
		return err
	}
	data, err := json.MarshalIndent(r.cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding cfg: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, rulerCfgFile), data, 0o644); err != nil {
		return fmt.Errorf("writing cfg: %w", err)
	}
	return nil
}

// RulerFromDisk restores a ruler written by ToDisk.
func RulerFromDisk(dir string, opts ...RulerOption) (*EntityRuler, error) {
	data, err := os.ReadFile(filepath.Join(dir, rulerCfgFile))
	if err != nil {
		return nil, fmt.Errorf("reading cfg: %w", err)
	}
	var cfg rulerConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing cfg: %w", err)
	}
	patterns, err := ReadPatterns(filepath.Join(dir, patternsFile))
	if err != nil {
		return nil, err
	}
	r := NewEntityRuler(append([]RulerOption{WithName(cfg.Name), WithOverwrite(cfg.Overwrite)}, opts...)...)
	if err := r.AddPatterns(patterns...); err != nil {
		return nil, err
	}
	return r, nil
}

func init() {
	pipeline.RegisterFactory(RulerFactory, func(dir string, env *pipeline.Env) (pipeline.Pipe, error) {
		return RulerFromDisk(dir, WithLogger(env.NamedLogger(RulerFactory)))
	})
}
