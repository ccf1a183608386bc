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

package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/KoichiYasuoka/camphr/lib/doc"
	"github.com/goccy/go-json"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// MetaFile is the file Language.ToDisk writes the pipe list to.
const MetaFile = "meta.json"

// ErrDuplicatePipe is returned when a pipe name is already in use.
var ErrDuplicatePipe = errors.New("duplicate pipe name")

// PipeMeta describes one saved pipe.
type PipeMeta struct {
	Name    string `json:"name"`
	Factory string `json:"factory"`
}

// Meta is the content of meta.json.
type Meta struct {
	Lang     string     `json:"lang"`
	Pipeline []PipeMeta `json:"pipeline"`
}

// Language is an ordered list of pipes.
type Language struct {
	lang        string
	pipes       []Pipe
	env         *Env
	logger      *zap.Logger
	concurrency int
}

// Option configures a Language.
type Option func(*Language)

// WithConcurrency sets how many batches Pipe processes at once.
// Pipes must be safe for concurrent use when n > 1.
func WithConcurrency(n int) Option {
	return func(l *Language) {
		if n > 0 {
			l.concurrency = n
		}
	}
}

// New creates an empty Language.
func New(lang string, env *Env, opts ...Option) *Language {
	l := &Language{
		lang:        lang,
		env:         env,
		logger:      env.NamedLogger("pipeline"),
		concurrency: 1,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Lang returns the language code.
func (l *Language) Lang() string {
	return l.lang
}

// Env returns the shared resources of the pipeline.
func (l *Language) Env() *Env {
	return l.env
}

// AddPipe appends a pipe.
func (l *Language) AddPipe(p Pipe) error {
	if _, ok := l.GetPipe(p.Name()); ok {
		return fmt.Errorf("%w: %s", ErrDuplicatePipe, p.Name())
	}
	l.pipes = append(l.pipes, p)
	return nil
}

// GetPipe returns the pipe named name.
func (l *Language) GetPipe(name string) (Pipe, bool) {
	for _, p := range l.pipes {
		if p.Name() == name {
			return p, true
		}
	}
	return nil, false
}

// PipeNames returns the pipe names in order.
func (l *Language) PipeNames() []string {
	names := make([]string, len(l.pipes))
	for i, p := range l.pipes {
		names[i] = p.Name()
	}
	return names
}

// Run processes a single document.
func (l *Language) Run(ctx context.Context, d *doc.Doc) error {
	return l.processBatch(ctx, []*doc.Doc{d})
}

// Pipe processes docs in batches of batchSize. Batches run concurrently up
// to the configured concurrency; within a batch pipes run in order.
func (l *Language) Pipe(ctx context.Context, docs []*doc.Doc, batchSize int) error {
	if batchSize <= 0 {
		batchSize = len(docs)
	}
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(l.concurrency)
	for start := 0; start < len(docs); start += batchSize {
		batch := docs[start:min(start+batchSize, len(docs))]
		g.Go(func() error {
			return l.processBatch(ctx, batch)
		})
	}
	return g.Wait()
}

func (l *Language) processBatch(ctx context.Context, docs []*doc.Doc) error {
	for _, p := range l.pipes {
		if err := ctx.Err(); err != nil {
			return err
		}
		start := time.Now()
		if err := p.Process(ctx, docs); err != nil {
			pipeErrors.WithLabelValues(p.Name(), "process").Inc()
			return fmt.Errorf("pipe %s: %w", p.Name(), err)
		}
		pipeDuration.WithLabelValues(p.Name()).Observe(time.Since(start).Seconds())
		docsProcessed.WithLabelValues(p.Name()).Add(float64(len(docs)))
	}
	return nil
}

// Update runs one training step. Pipes implementing Updater are updated;
// the others process the documents so later pipes see their annotations.
func (l *Language) Update(ctx context.Context, examples []Example) error {
	docs := Docs(examples)
	for _, p := range l.pipes {
		if err := ctx.Err(); err != nil {
			return err
		}
		u, ok := p.(Updater)
		if !ok {
			if err := p.Process(ctx, docs); err != nil {
				pipeErrors.WithLabelValues(p.Name(), "process").Inc()
				return fmt.Errorf("pipe %s: %w", p.Name(), err)
			}
			continue
		}
		if err := u.Update(ctx, examples); err != nil {
			pipeErrors.WithLabelValues(p.Name(), "update").Inc()
			return fmt.Errorf("updating pipe %s: %w", p.Name(), err)
		}
		updateOps.WithLabelValues(p.Name()).Inc()
	}
	return nil
}

// ToDisk writes meta.json and one directory per stateful pipe.
func (l *Language) ToDisk(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", dir, err)
	}
	meta := Meta{Lang: l.lang, Pipeline: make([]PipeMeta, len(l.pipes))}
	for i, p := range l.pipes {
		meta.Pipeline[i] = PipeMeta{Name: p.Name(), Factory: factoryName(p)}
		s, ok := p.(DiskSerializer)
		if !ok {
			continue
		}
		if err := s.ToDisk(filepath.Join(dir, p.Name())); err != nil {
			return fmt.Errorf("saving pipe %s: %w", p.Name(), err)
		}
	}

	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding meta: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, MetaFile), data, 0o644); err != nil {
		return fmt.Errorf("writing meta: %w", err)
	}
	l.logger.Info("Saved pipeline",
		zap.String("dir", dir),
		zap.Strings("pipes", l.PipeNames()))
	return nil
}

// FromDisk restores a Language written by ToDisk using the registered factories.
func FromDisk(dir string, env *Env, opts ...Option) (*Language, error) {
	data, err := os.ReadFile(filepath.Join(dir, MetaFile))
	if err != nil {
		return nil, fmt.Errorf("reading meta: %w", err)
	}
	var meta Meta
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("parsing meta: %w", err)
	}

	l := New(meta.Lang, env, opts...)
	for _, pm := range meta.Pipeline {
		p, err := newFromFactory(pm.Factory, filepath.Join(dir, pm.Name), env)
		if err != nil {
			_ = l.Close()
			return nil, fmt.Errorf("loading pipe %s: %w", pm.Name, err)
		}
		if err := l.AddPipe(p); err != nil {
			_ = l.Close()
			return nil, err
		}
	}
	l.logger.Info("Loaded pipeline",
		zap.String("dir", dir),
		zap.Strings("pipes", l.PipeNames()))
	return l, nil
}

// Close closes every pipe holding resources.
func (l *Language) Close() error {
	var errs []error
	for _, p := range l.pipes {
		if c, ok := p.(Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, fmt.Errorf("closing pipe %s: %w", p.Name(), err))
			}
		}
	}
	return errors.Join(errs...)
}
