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
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

const backendFake BackendType = "fake"

type fakeBackend struct {
	available bool
	loader    *fakeLoader
}

func (b *fakeBackend) Type() BackendType   { return backendFake }
func (b *fakeBackend) Name() string        { return "Fake" }
func (b *fakeBackend) Available() bool     { return b.available }
func (b *fakeBackend) Priority() int       { return 100 }
func (b *fakeBackend) Loader() ModelLoader { return b.loader }

type fakeLoader struct {
	supports bool
	loaded   []*LoadConfig
}

func (l *fakeLoader) Load(path string, opts ...LoadOption) (Model, error) {
	l.loaded = append(l.loaded, ApplyOptions(opts...))
	return &fakeModel{name: path}, nil
}

func (l *fakeLoader) SupportsModel(string) bool { return l.supports }
func (l *fakeLoader) Backend() BackendType      { return backendFake }

type fakeModel struct {
	name   string
	closed bool
}

func (m *fakeModel) Forward(context.Context, *ModelInputs) (*ModelOutput, error) {
	return &ModelOutput{}, nil
}
func (m *fakeModel) Close() error         { m.closed = true; return nil }
func (m *fakeModel) Name() string         { return m.name }
func (m *fakeModel) Backend() BackendType { return backendFake }

func registerFake(t *testing.T, b *fakeBackend) {
	t.Helper()
	RegisterBackend(b)
	t.Cleanup(func() { unregisterBackend(backendFake) })
}

func TestParseBackendType(t *testing.T) {
	tests := []struct {
		in      string
		want    BackendType
		wantErr bool
	}{
		{in: "onnx", want: BackendONNX},
		{in: " ONNX ", want: BackendONNX},
		{in: "torch", wantErr: true},
		{in: "", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseBackendType(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestParseBackendPriority(t *testing.T) {
	got, err := ParseBackendPriority([]string{"onnx"})
	require.NoError(t, err)
	require.Equal(t, []BackendType{BackendONNX}, got)

	_, err = ParseBackendPriority([]string{"onnx", "xla"})
	require.Error(t, err)
}

func TestParseGPUMode(t *testing.T) {
	require.Equal(t, GPUModeCuda, ParseGPUMode("CUDA"))
	require.Equal(t, GPUModeOff, ParseGPUMode("cpu"))
	require.Equal(t, GPUModeAuto, ParseGPUMode("whatever"))
}

func TestPriority(t *testing.T) {
	require.Equal(t, []BackendType{BackendONNX}, GetPriority())

	SetPriority([]BackendType{backendFake, BackendONNX})
	t.Cleanup(func() { SetPriority(nil) })
	require.Equal(t, []BackendType{backendFake, BackendONNX}, GetPriority())
}

func TestListRegistered(t *testing.T) {
	registerFake(t, &fakeBackend{loader: &fakeLoader{}})

	var found bool
	for _, b := range ListRegistered() {
		if b.Type() == backendFake {
			found = true
		}
	}
	require.True(t, found)
}

func TestSessionManager_LoadModel(t *testing.T) {
	loader := &fakeLoader{supports: true}
	registerFake(t, &fakeBackend{available: true, loader: loader})

	sm := NewSessionManager()
	defer sm.Close()
	sm.SetPriority([]BackendType{BackendONNX, backendFake})

	model, used, err := sm.LoadModel("/models/bert", []string{"fake"}, WithNumThreads(2), WithHiddenStates(true))
	require.NoError(t, err)
	require.Equal(t, backendFake, used)
	require.Equal(t, "/models/bert", model.Name())
	require.Len(t, loader.loaded, 1)
	require.Equal(t, 2, loader.loaded[0].NumThreads)
	require.True(t, loader.loaded[0].OutputHiddenStates)
	require.Equal(t, "model.onnx", loader.loaded[0].ONNXFilename)
}

func TestSessionManager_UnsupportedModel(t *testing.T) {
	registerFake(t, &fakeBackend{available: true, loader: &fakeLoader{supports: false}})

	sm := NewSessionManager()
	defer sm.Close()
	sm.SetPriority([]BackendType{backendFake})

	_, _, err := sm.LoadModel("/models/empty", nil)
	require.ErrorContains(t, err, "cannot load model")
}

func TestSessionManager_NoBackend(t *testing.T) {
	registerFake(t, &fakeBackend{available: false, loader: &fakeLoader{}})

	sm := NewSessionManager()
	defer sm.Close()
	sm.SetPriority([]BackendType{backendFake})

	_, _, err := sm.GetLoaderForModel(nil)
	require.True(t, errors.Is(err, ErrNoBackend))
	require.ErrorContains(t, err, "not available")

	_, _, err = sm.GetLoaderForModel([]string{"other"})
	require.True(t, errors.Is(err, ErrNoBackend))
}

func TestSessionManager_Closed(t *testing.T) {
	registerFake(t, &fakeBackend{available: true, loader: &fakeLoader{supports: true}})

	sm := NewSessionManager()
	require.NoError(t, sm.Close())

	_, err := sm.GetLoader(backendFake)
	require.ErrorContains(t, err, "closed")
}

func TestLoadAs(t *testing.T) {
	loader := &fakeLoader{supports: true}

	m, err := LoadAs[*fakeModel](loader, "/models/x")
	require.NoError(t, err)
	require.Equal(t, "/models/x", m.Name())

	_, err = LoadAs[interface {
		Model
		Saver
	}](loader, "/models/x")
	require.ErrorContains(t, err, "does not implement")
}

func TestModelShapes(t *testing.T) {
	in := &ModelInputs{}
	require.Zero(t, in.BatchSize())
	require.Zero(t, in.SeqLen())

	in.InputIDs = [][]int32{{1, 2, 3}, {4, 0, 0}}
	require.Equal(t, 2, in.BatchSize())
	require.Equal(t, 3, in.SeqLen())

	out := &ModelOutput{}
	require.Zero(t, out.HiddenSize())
	out.LastHiddenState = [][][]float32{{{0.1, 0.2}}}
	require.Equal(t, 2, out.HiddenSize())
}
