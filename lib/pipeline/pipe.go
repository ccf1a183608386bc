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

// Package pipeline runs documents through an ordered list of pipes and
// persists the list to disk.
package pipeline

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/KoichiYasuoka/camphr/lib/backends"
	"github.com/KoichiYasuoka/camphr/lib/doc"
	"go.uber.org/zap"
)

// Pipe annotates a batch of documents in place.
type Pipe interface {
	// Name identifies the pipe within a Language.
	Name() string

	// Process annotates docs. The context can be used for cancellation.
	Process(ctx context.Context, docs []*doc.Doc) error
}

// Example is one training document with its gold entities.
type Example struct {
	Doc  *doc.Doc
	Gold []doc.Span
}

// Docs returns the documents of examples.
func Docs(examples []Example) []*doc.Doc {
	docs := make([]*doc.Doc, len(examples))
	for i, e := range examples {
		docs[i] = e.Doc
	}
	return docs
}

// Updater is implemented by pipes that take part in training.
type Updater interface {
	Update(ctx context.Context, examples []Example) error
}

// DiskSerializer is implemented by pipes with state to persist.
type DiskSerializer interface {
	ToDisk(dir string) error
}

// Closer is implemented by pipes holding resources.
type Closer interface {
	Close() error
}

// FactoryNamer is implemented by pipes whose factory differs from their name.
type FactoryNamer interface {
	FactoryName() string
}

func factoryName(p Pipe) string {
	if f, ok := p.(FactoryNamer); ok {
		return f.FactoryName()
	}
	return p.Name()
}

// Env carries the shared resources factories build pipes with.
type Env struct {
	Store    *doc.Store
	Sessions *backends.SessionManager
	Logger   *zap.Logger
}

// NamedLogger returns a child of the env logger, or a no-op logger.
func (e *Env) NamedLogger(name string) *zap.Logger {
	if e == nil || e.Logger == nil {
		return zap.NewNop()
	}
	return e.Logger.Named(name)
}

// Factory restores a pipe from the directory its ToDisk wrote.
// dir may not exist for pipes without state.
type Factory func(dir string, env *Env) (Pipe, error)

var (
	factories   = make(map[string]Factory)
	factoriesMu sync.RWMutex
)

// RegisterFactory registers a factory. Called by pipe packages in init().
// Later registrations for the same name overwrite earlier ones.
func RegisterFactory(name string, f Factory) {
	factoriesMu.Lock()
	defer factoriesMu.Unlock()
	factories[name] = f
}

// GetFactory returns the factory registered under name.
func GetFactory(name string) (Factory, bool) {
	factoriesMu.RLock()
	defer factoriesMu.RUnlock()
	f, ok := factories[name]
	return f, ok
}

// Factories returns the registered factory names, sorted.
func Factories() []string {
	factoriesMu.RLock()
	defer factoriesMu.RUnlock()
	names := make([]string, 0, len(factories))
	for name := range factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func unregisterFactory(name string) {
	factoriesMu.Lock()
	defer factoriesMu.Unlock()
	delete(factories, name)
}

// newFromFactory builds a pipe, failing for unknown factories.
func newFromFactory(name, dir string, env *Env) (Pipe, error) {
	f, ok := GetFactory(name)
	if !ok {
		return nil, fmt.Errorf("unknown pipe factory %q (registered: %v)", name, Factories())
	}
	return f(dir, env)
}
