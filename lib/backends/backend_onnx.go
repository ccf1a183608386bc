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

//go:build onnx && ORT

package backends

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

func init() {
	RegisterBackend(&onnxBackend{})
}

// onnxBackend implements Backend using ONNX Runtime.
//
// Runtime Requirements:
//   - Set ONNXRUNTIME_ROOT or LD_LIBRARY_PATH so libonnxruntime can be found.
//
// Build Requirements:
//   - CGO must be enabled (CGO_ENABLED=1)
type onnxBackend struct {
	initOnce sync.Once
	initErr  error
}

func (b *onnxBackend) Type() BackendType {
	return BackendONNX
}

func (b *onnxBackend) Name() string {
	return "ONNX Runtime"
}

func (b *onnxBackend) Available() bool {
	// The build tags ensure this file is only included when ONNX is available
	return true
}

func (b *onnxBackend) Priority() int {
	return 10
}

func (b *onnxBackend) Loader() ModelLoader {
	return &ortModelLoader{backend: b}
}

func (b *onnxBackend) initONNX() error {
	b.initOnce.Do(func() {
		if libPath := onnxLibraryPath(); libPath != "" {
			ort.SetSharedLibraryPath(libPath)
		}
		b.initErr = ort.InitializeEnvironment()
	})
	return b.initErr
}

// onnxLibraryPath returns the shared library location from ONNXRUNTIME_ROOT,
// or "" to let the loader search LD_LIBRARY_PATH.
func onnxLibraryPath() string {
	libName := "libonnxruntime.so"
	switch runtime.GOOS {
	case "darwin":
		libName = "libonnxruntime.dylib"
	case "windows":
		libName = "onnxruntime.dll"
	}

	root := os.Getenv("ONNXRUNTIME_ROOT")
	if root == "" {
		return ""
	}
	for _, dir := range []string{
		filepath.Join(root, runtime.GOOS+"-"+runtime.GOARCH, "lib"),
		filepath.Join(root, "lib"),
		root,
	} {
		p := filepath.Join(dir, libName)
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// ortModelLoader implements ModelLoader for ONNX Runtime.
type ortModelLoader struct {
	backend *onnxBackend
}

var knownInputs = map[string]bool{
	"input_ids":      true,
	"attention_mask": true,
	"token_type_ids": true,
	"position_ids":   true,
	"perm_mask":      true,
	"target_mapping": true,
}

func (l *ortModelLoader) Load(path string, opts ...LoadOption) (Model, error) {
	if err := l.backend.initONNX(); err != nil {
		return nil, fmt.Errorf("initializing ONNX Runtime: %w", err)
	}

	config := ApplyOptions(opts...)

	onnxPath := filepath.Join(path, config.ONNXFilename)
	if _, err := os.Stat(onnxPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("ONNX model not found: %s", onnxPath)
	}

	inputs, outputs, err := ort.GetInputOutputInfo(onnxPath)
	if err != nil {
		return nil, fmt.Errorf("getting model info: %w", err)
	}

	inputNames := make([]string, 0, len(inputs))
	for _, info := range inputs {
		if !knownInputs[info.Name] {
			return nil, fmt.Errorf("unsupported model input %q", info.Name)
		}
		inputNames = append(inputNames, info.Name)
	}
	if len(inputNames) == 0 {
		return nil, fmt.Errorf("no input names found in model")
	}

	outputNames := make([]string, 0, len(outputs))
	for _, info := range outputs {
		switch {
		case strings.HasPrefix(info.Name, "hidden_states") && !config.OutputHiddenStates:
			continue
		case strings.HasPrefix(info.Name, "attentions") && !config.OutputAttentions:
			continue
		}
		outputNames = append(outputNames, info.Name)
	}
	if len(outputNames) == 0 {
		return nil, fmt.Errorf("no output names found in model")
	}

	sessionOpts, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("creating session options: %w", err)
	}
	if config.NumThreads > 0 {
		if err := sessionOpts.SetIntraOpNumThreads(config.NumThreads); err != nil {
			sessionOpts.Destroy()
			return nil, fmt.Errorf("setting thread count: %w", err)
		}
	}
	if config.GPUMode != GPUModeOff {
		cudaOpts, err := ort.NewCUDAProviderOptions()
		if err == nil {
			if err := sessionOpts.AppendExecutionProviderCUDA(cudaOpts); err != nil && config.GPUMode == GPUModeCuda {
				cudaOpts.Destroy()
				sessionOpts.Destroy()
				return nil, fmt.Errorf("enabling CUDA: %w", err)
			}
			defer cudaOpts.Destroy()
		} else if config.GPUMode == GPUModeCuda {
			sessionOpts.Destroy()
			return nil, fmt.Errorf("creating CUDA options: %w", err)
		}
	}

	session, err := ort.NewDynamicAdvancedSession(onnxPath, inputNames, outputNames, sessionOpts)
	if err != nil {
		sessionOpts.Destroy()
		return nil, fmt.Errorf("creating ONNX session: %w", err)
	}

	return &ortModel{
		path:        path,
		config:      config,
		session:     session,
		sessionOpts: sessionOpts,
		inputNames:  inputNames,
		outputNames: outputNames,
	}, nil
}

func (l *ortModelLoader) SupportsModel(path string) bool {
	matches, _ := filepath.Glob(filepath.Join(path, "*.onnx"))
	return len(matches) > 0
}

func (l *ortModelLoader) Backend() BackendType {
	return BackendONNX
}

// ortModel implements Model and Saver using ONNX Runtime.
type ortModel struct {
	path        string
	config      *LoadConfig
	session     *ort.DynamicAdvancedSession
	sessionOpts *ort.SessionOptions
	inputNames  []string
	outputNames []string
	mu          sync.Mutex
}

func (m *ortModel) Forward(ctx context.Context, inputs *ModelInputs) (*ModelOutput, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil {
		return nil, fmt.Errorf("ONNX session not initialized")
	}

	batchSize, seqLen := inputs.BatchSize(), inputs.SeqLen()
	if batchSize == 0 {
		return &ModelOutput{}, nil
	}

	inputTensors := make([]ort.Value, 0, len(m.inputNames))
	defer func() {
		for _, t := range inputTensors {
			t.Destroy()
		}
	}()
	for _, name := range m.inputNames {
		t, err := m.inputTensor(name, inputs, batchSize, seqLen)
		if err != nil {
			return nil, fmt.Errorf("creating %s tensor: %w", name, err)
		}
		inputTensors = append(inputTensors, t)
	}

	// nil outputs let the session allocate them
	outputTensors := make([]ort.Value, len(m.outputNames))
	if err := m.session.Run(inputTensors, outputTensors); err != nil {
		return nil, fmt.Errorf("running ONNX inference: %w", err)
	}
	defer func() {
		for _, t := range outputTensors {
			if t != nil {
				t.Destroy()
			}
		}
	}()

	output := &ModelOutput{}
	for i, name := range m.outputNames {
		t, ok := outputTensors[i].(*ort.Tensor[float32])
		if !ok {
			continue
		}
		shape := t.GetShape()
		data := t.GetData()

		switch {
		case name == "last_hidden_state" || (i == 0 && len(shape) == 3 && output.LastHiddenState == nil):
			output.LastHiddenState = unflatten3(data, shape)
		case name == "pooler_output" && len(shape) == 2:
			output.PoolerOutput = unflatten2(data, shape)
		case strings.HasPrefix(name, "hidden_states") && len(shape) == 3:
			output.HiddenStates = append(output.HiddenStates, unflatten3(data, shape))
		case strings.HasPrefix(name, "attentions") && len(shape) == 4:
			output.Attentions = append(output.Attentions, unflatten4(data, shape))
		case (strings.HasPrefix(name, "mems") || strings.HasPrefix(name, "new_mems")) && len(shape) == 3:
			output.Mems = append(output.Mems, unflatten3(data, shape))
		case name == "loss" && len(shape) <= 1:
			output.Loss = append([]float32(nil), data...)
		}
	}
	if output.LastHiddenState == nil {
		return nil, fmt.Errorf("model %s returned no last_hidden_state", m.path)
	}
	return output, nil
}

func (m *ortModel) inputTensor(name string, inputs *ModelInputs, batchSize, seqLen int) (ort.Value, error) {
	shape := ort.NewShape(int64(batchSize), int64(seqLen))
	switch name {
	case "input_ids":
		return ort.NewTensor(shape, flattenInt(inputs.InputIDs, batchSize, seqLen))
	case "attention_mask":
		return ort.NewTensor(shape, flattenInt(inputs.AttentionMask, batchSize, seqLen))
	case "token_type_ids":
		return ort.NewTensor(shape, flattenInt(inputs.TokenTypeIDs, batchSize, seqLen))
	case "position_ids":
		if inputs.PositionIDs != nil {
			return ort.NewTensor(shape, flattenInt(inputs.PositionIDs, batchSize, seqLen))
		}
		positions := make([]int64, batchSize*seqLen)
		for i := range positions {
			positions[i] = int64(i % seqLen)
		}
		return ort.NewTensor(shape, positions)
	case "perm_mask":
		return ort.NewTensor(ort.NewShape(int64(batchSize), int64(seqLen), int64(seqLen)),
			flattenFloat3(inputs.PermMask, batchSize, seqLen, seqLen))
	case "target_mapping":
		numPredict := seqLen
		if len(inputs.TargetMapping) > 0 {
			numPredict = len(inputs.TargetMapping[0])
		}
		return ort.NewTensor(ort.NewShape(int64(batchSize), int64(numPredict), int64(seqLen)),
			flattenFloat3(inputs.TargetMapping, batchSize, numPredict, seqLen))
	}
	return nil, fmt.Errorf("unsupported input %q", name)
}

// Save copies the ONNX file and config.json into dir.
func (m *ortModel) Save(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", dir, err)
	}
	for _, name := range []string{m.config.ONNXFilename, "config.json"} {
		src := filepath.Join(m.path, name)
		if _, err := os.Stat(src); os.IsNotExist(err) {
			continue
		}
		if err := copyFile(src, filepath.Join(dir, filepath.Base(name))); err != nil {
			return err
		}
	}
	return nil
}

func (m *ortModel) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session != nil {
		m.session.Destroy()
		m.session = nil
	}
	if m.sessionOpts != nil {
		m.sessionOpts.Destroy()
		m.sessionOpts = nil
	}
	return nil
}

func (m *ortModel) Name() string {
	return m.path
}

func (m *ortModel) Backend() BackendType {
	return BackendONNX
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("opening %s: %w", src, err)
	}
	defer func() { _ = in.Close() }()

	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("creating %s: %w", dst, err)
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return fmt.Errorf("copying %s: %w", src, err)
	}
	return out.Close()
}

func flattenInt(rows [][]int32, batchSize, seqLen int) []int64 {
	flat := make([]int64, batchSize*seqLen)
	for i := 0; i < batchSize && i < len(rows); i++ {
		for j := 0; j < seqLen && j < len(rows[i]); j++ {
			flat[i*seqLen+j] = int64(rows[i][j])
		}
	}
	return flat
}

func flattenFloat3(t [][][]float32, a, b, c int) []float32 {
	flat := make([]float32, a*b*c)
	for i := 0; i < a && i < len(t); i++ {
		for j := 0; j < b && j < len(t[i]); j++ {
			copy(flat[(i*b+j)*c:(i*b+j+1)*c], t[i][j])
		}
	}
	return flat
}

func unflatten2(data []float32, shape ort.Shape) [][]float32 {
	a, b := int(shape[0]), int(shape[1])
	out := make([][]float32, a)
	for i := range out {
		out[i] = make([]float32, b)
		copy(out[i], data[i*b:(i+1)*b])
	}
	return out
}

func unflatten3(data []float32, shape ort.Shape) [][][]float32 {
	a, b, c := int(shape[0]), int(shape[1]), int(shape[2])
	out := make([][][]float32, a)
	for i := range out {
		out[i] = unflatten2(data[i*b*c:(i+1)*b*c], ort.NewShape(int64(b), int64(c)))
	}
	return out
}

func unflatten4(data []float32, shape ort.Shape) [][][][]float32 {
	a, b, c, d := int(shape[0]), int(shape[1]), int(shape[2]), int(shape[3])
	out := make([][][][]float32, a)
	for i := range out {
		out[i] = unflatten3(data[i*b*c*d:(i+1)*b*c*d], ort.NewShape(int64(b), int64(c), int64(d)))
	}
	return out
}
