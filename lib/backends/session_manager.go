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

package backends

import (
	"errors"
	"fmt"
	"sync"
)

// ErrNoBackend is returned when no registered backend can serve a request.
var ErrNoBackend = errors.New("no available backends")

// SessionManager manages model loaders across backends.
// It keeps at most one loader per backend type (lazy-created).
//
// Usage:
//
//	manager := backends.NewSessionManager()
//	defer manager.Close()
//
//	model, backend, err := manager.LoadModel(modelPath, nil)
type SessionManager struct {
	loaders  map[BackendType]ModelLoader
	priority []BackendType
	mu       sync.RWMutex
	closed   bool
}

// NewSessionManager creates a new session manager.
func NewSessionManager() *SessionManager {
	return &SessionManager{
		loaders: make(map[BackendType]ModelLoader),
	}
}

// SetPriority configures the backend priority order for this manager.
func (sm *SessionManager) SetPriority(priority []BackendType) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.priority = make([]BackendType, len(priority))
	copy(sm.priority, priority)
}

func (sm *SessionManager) getPriority() []BackendType {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	if len(sm.priority) > 0 {
		result := make([]BackendType, len(sm.priority))
		copy(result, sm.priority)
		return result
	}
	return GetPriority()
}

// GetLoader returns a model loader for the specified backend.
func (sm *SessionManager) GetLoader(backend BackendType) (ModelLoader, error) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if sm.closed {
		return nil, fmt.Errorf("session manager is closed")
	}
	if loader, ok := sm.loaders[backend]; ok {
		return loader, nil
	}

	b, ok := GetBackend(backend)
	if !ok {
		return nil, fmt.Errorf("backend %q not registered", backend)
	}
	if !b.Available() {
		return nil, fmt.Errorf("backend %q not available", backend)
	}

	loader := b.Loader()
	sm.loaders[backend] = loader
	return loader, nil
}

// GetLoaderForModel returns a loader for a model, respecting its backend restrictions.
// An empty modelBackends means the model runs anywhere.
func (sm *SessionManager) GetLoaderForModel(modelBackends []string) (ModelLoader, BackendType, error) {
	allowed := make(map[BackendType]bool, len(modelBackends))
	for _, b := range modelBackends {
		allowed[BackendType(b)] = true
	}

	var lastErr error
	for _, t := range sm.getPriority() {
		if len(modelBackends) > 0 && !allowed[t] {
			continue
		}
		loader, err := sm.GetLoader(t)
		if err == nil {
			return loader, t, nil
		}
		lastErr = err
	}

	if lastErr != nil {
		return nil, "", fmt.Errorf("%w (requested %v): %w", ErrNoBackend, modelBackends, lastErr)
	}
	return nil, "", fmt.Errorf("%w (requested %v)", ErrNoBackend, modelBackends)
}

// LoadModel loads a model using the best available backend.
// Returns the model and the backend type that was used.
func (sm *SessionManager) LoadModel(path string, modelBackends []string, opts ...LoadOption) (Model, BackendType, error) {
	loader, backendType, err := sm.GetLoaderForModel(modelBackends)
	if err != nil {
		return nil, "", err
	}
	if !loader.SupportsModel(path) {
		return nil, "", fmt.Errorf("%s backend cannot load model at %s", backendType, path)
	}

	model, err := loader.Load(path, opts...)
	if err != nil {
		return nil, "", fmt.Errorf("loading model with %s backend: %w", backendType, err)
	}
	return model, backendType, nil
}

// Close releases all managed loaders. The manager cannot be reused.
func (sm *SessionManager) Close() error {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.loaders = nil
	sm.closed = true
	return nil
}
