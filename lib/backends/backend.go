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
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Backend represents an inference backend that can load models.
// Backends self-register via init() functions in their respective files.
type Backend interface {
	// Type returns the backend type identifier
	Type() BackendType

	// Name returns a human-readable name (e.g., "ONNX Runtime (CUDA)")
	Name() string

	// Available returns true if this backend can be used in the current environment.
	Available() bool

	// Priority returns the default priority (lower = higher priority).
	Priority() int

	// Loader returns the ModelLoader for this backend.
	Loader() ModelLoader
}

var (
	registry   = make(map[BackendType]Backend)
	registryMu sync.RWMutex

	defaultPriority = []BackendType{BackendONNX}
	configPriority  []BackendType
	priorityMu      sync.RWMutex
)

// RegisterBackend registers a backend. Called by backend implementations in init().
// Later registrations for the same type overwrite earlier ones.
func RegisterBackend(b Backend) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[b.Type()] = b
}

// unregisterBackend removes a backend. Only used by tests.
func unregisterBackend(t BackendType) {
	registryMu.Lock()
	defer registryMu.Unlock()
	delete(registry, t)
}

// GetBackend returns the backend for the given type, if registered.
func GetBackend(t BackendType) (Backend, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	b, ok := registry[t]
	return b, ok
}

// ListRegistered returns all registered backends (available or not),
// sorted by their default priority.
func ListRegistered() []Backend {
	registryMu.RLock()
	defer registryMu.RUnlock()

	backends := make([]Backend, 0, len(registry))
	for _, b := range registry {
		backends = append(backends, b)
	}
	sort.Slice(backends, func(i, j int) bool {
		if backends[i].Priority() == backends[j].Priority() {
			return backends[i].Type() < backends[j].Type()
		}
		return backends[i].Priority() < backends[j].Priority()
	})
	return backends
}

// SetPriority sets the backend selection priority order.
// Call before loading any models to take effect.
func SetPriority(order []BackendType) {
	priorityMu.Lock()
	defer priorityMu.Unlock()
	configPriority = make([]BackendType, len(order))
	copy(configPriority, order)
}

// GetPriority returns the configured priority if set, otherwise the default.
func GetPriority() []BackendType {
	priorityMu.RLock()
	defer priorityMu.RUnlock()
	src := defaultPriority
	if len(configPriority) > 0 {
		src = configPriority
	}
	result := make([]BackendType, len(src))
	copy(result, src)
	return result
}

// ParseBackendType parses a string into BackendType.
func ParseBackendType(s string) (BackendType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "onnx":
		return BackendONNX, nil
	default:
		return "", fmt.Errorf("unknown backend type: %q (valid: onnx)", s)
	}
}

// ParseBackendPriority parses a list of backend names, preserving order.
func ParseBackendPriority(priority []string) ([]BackendType, error) {
	types := make([]BackendType, 0, len(priority))
	for _, s := range priority {
		t, err := ParseBackendType(s)
		if err != nil {
			return nil, fmt.Errorf("invalid backend priority %q: %w", s, err)
		}
		types = append(types, t)
	}
	return types, nil
}

// ParseGPUMode parses a string into GPUMode. Unknown values mean auto.
func ParseGPUMode(s string) GPUMode {
	switch strings.ToLower(s) {
	case "cuda", "gpu":
		return GPUModeCuda
	case "off", "cpu":
		return GPUModeOff
	default:
		return GPUModeAuto
	}
}
