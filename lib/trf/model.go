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

package trf

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/KoichiYasuoka/camphr/lib/backends"
	"github.com/KoichiYasuoka/camphr/lib/batch"
	"github.com/KoichiYasuoka/camphr/lib/doc"
	"github.com/KoichiYasuoka/camphr/lib/pipeline"
	"github.com/KoichiYasuoka/camphr/lib/pooling"
	"github.com/goccy/go-json"
	"github.com/gomlx/gomlx/pkg/core/tensors/bucketing"
	"go.uber.org/zap"
)

var (
	// ErrNoEncoding is returned for documents the wordpiecer has not seen.
	ErrNoEncoding = errors.New("document has no encoding")
	// ErrNoStore is returned when a model is built without a feature store.
	ErrNoStore = errors.New("no doc store")
)

// Model is the transformer pipe. It runs the encoder over a batch of
// documents and attaches hidden states and per-word vectors to the store.
type Model struct {
	family   Family
	spec     familySpec
	model    backends.Model
	cfg      Config
	store    *doc.Store
	logger   *zap.Logger
	loadOpts []backends.LoadOption
	bucket   bucketing.Strategy
}

// Option configures a Model.
type Option func(*Model)

// WithFreeze keeps the encoder in inference mode during updates.
func WithFreeze(freeze bool) Option {
	return func(m *Model) {
		m.cfg.Freeze = freeze
	}
}

// WithWeightDecay sets the decay of the decaying parameter group.
func WithWeightDecay(decay float64) Option {
	return func(m *Model) {
		m.cfg.WeightDecay = decay
	}
}

// WithNoDecay sets the parameter-name substrings excluded from weight decay.
func WithNoDecay(patterns ...string) Option {
	return func(m *Model) {
		m.cfg.NoDecay = patterns
	}
}

// WithLoadOptions passes options to the backend loader.
func WithLoadOptions(opts ...backends.LoadOption) Option {
	return func(m *Model) {
		m.loadOpts = append(m.loadOpts, opts...)
	}
}

// WithSeqBucketing rounds padded batch widths with strategy.
func WithSeqBucketing(strategy bucketing.Strategy) Option {
	return func(m *Model) {
		m.bucket = strategy
	}
}

// NewModel wraps a loaded encoder.
func NewModel(model backends.Model, cfg Config, store *doc.Store, logger *zap.Logger, opts ...Option) (*Model, error) {
	if store == nil {
		return nil, ErrNoStore
	}
	spec, ok := families[cfg.Family]
	if !ok {
		return nil, fmt.Errorf("%w: family %q", ErrIllegalModelName, cfg.Family)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Model{
		family: cfg.Family,
		spec:   spec,
		model:  model,
		cfg:    cfg,
		store:  store,
		logger: logger,
	}
	if m.cfg.NoDecay == nil {
		m.cfg.NoDecay = DefaultNoDecay
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// FromPretrained loads an encoder from a model directory. The family is
// taken from the directory name.
func FromPretrained(nameOrPath string, sm *backends.SessionManager, store *doc.Store, logger *zap.Logger, opts ...Option) (*Model, error) {
	family, err := FamilyFromName(filepath.Base(nameOrPath))
	if err != nil {
		return nil, err
	}
	cfg, err := readTrfConfig(nameOrPath, family)
	if err != nil {
		return nil, err
	}
	cfg.TrfName = nameOrPath

	// Options may carry load options, so apply them to a probe first.
	probe := &Model{}
	for _, opt := range opts {
		opt(probe)
	}
	model, err := loadModel(nameOrPath, family, sm, logger, probe.loadOpts)
	if err != nil {
		return nil, err
	}
	m, err := NewModel(model, cfg, store, logger, opts...)
	if err != nil {
		_ = model.Close()
		return nil, err
	}
	return m, nil
}

func loadModel(path string, family Family, sm *backends.SessionManager, logger *zap.Logger, opts []backends.LoadOption) (backends.Model, error) {
	if sm == nil {
		return nil, fmt.Errorf("loading %s: no session manager", path)
	}
	start := time.Now()
	model, backendType, err := sm.LoadModel(path, nil, opts...)
	if err != nil {
		return nil, fmt.Errorf("loading %s model %s: %w", family, path, err)
	}
	elapsed := time.Since(start)
	pipeline.RecordModelLoadDuration(path, string(family), elapsed.Seconds())
	if logger != nil {
		logger.Info("Loaded transformer model",
			zap.String("path", path),
			zap.String("family", string(family)),
			zap.String("backend", string(backendType)),
			zap.Duration("duration", elapsed))
	}
	return model, nil
}

// Name returns the pipe name, which is the family name.
func (m *Model) Name() string {
	return string(m.family)
}

// FactoryName returns the factory that restores the pipe.
func (m *Model) FactoryName() string {
	return string(m.family)
}

// Family returns the model family.
func (m *Model) Family() Family {
	return m.family
}

// Config returns a copy of the model configuration.
func (m *Model) Config() Config {
	return m.cfg
}

// MaxLength is the encoder's position limit; <= 0 when it has none.
func (m *Model) MaxLength() int {
	return m.cfg.MaxLength
}

// DocsToInputs builds the family's input record from the documents' encodings.
func (m *Model) DocsToInputs(docs []*doc.Doc) (Inputs, error) {
	seqs := make([]batch.Sequence, len(docs))
	for i, d := range docs {
		if d.Encoding == nil {
			return nil, fmt.Errorf("%w: doc %s", ErrNoEncoding, d.ID)
		}
		seqs[i] = batch.Sequence{
			InputIDs:      d.Encoding.TokenIDs,
			AttentionMask: d.Encoding.AttentionMask,
			TokenTypeIDs:  d.Encoding.TokenTypeIDs,
		}
	}

	opts := []batch.Option{batch.WithSeqBucketing(m.bucket)}
	if m.cfg.MaxLength > 0 {
		opts = append(opts, batch.WithMaxLength(m.cfg.MaxLength))
	}
	b, err := batch.Build(seqs, opts...)
	if err != nil {
		return nil, fmt.Errorf("building batch: %w", err)
	}
	return m.spec.newInputs(b), nil
}

func (m *Model) forward(ctx context.Context, docs []*doc.Doc) (Outputs, error) {
	inputs, err := m.DocsToInputs(docs)
	if err != nil {
		return nil, err
	}
	out, err := m.model.Forward(ctx, inputs.ModelInputs())
	if err != nil {
		return nil, fmt.Errorf("%s forward: %w", m.family, err)
	}
	return m.spec.decode(out)
}

// Predict runs the encoder in inference mode.
func (m *Model) Predict(ctx context.Context, docs []*doc.Doc) (Outputs, error) {
	m.setTraining(false)
	return m.forward(ctx, docs)
}

// SetAnnotations attaches outputs to the store. Every document gets a view
// of its rows of the last hidden state. When setVector is true each word
// also gets the sum of its pieces' hidden states.
func (m *Model) SetAnnotations(docs []*doc.Doc, outputs Outputs, setVector bool) error {
	hidden := outputs.Hidden()
	if len(hidden) != len(docs) {
		return fmt.Errorf("%d hidden states for %d docs", len(hidden), len(docs))
	}
	for i, d := range docs {
		length := 0
		if d.Encoding != nil {
			length = len(d.Encoding.TokenIDs)
		}
		view := doc.NewHiddenView(hidden, i, length)
		m.store.SetHidden(d.ID, view)

		if !setVector {
			continue
		}
		var align [][]int
		if d.Encoding != nil {
			align = d.Encoding.Align
		}
		// Without a position limit the encoded length is the truncation point,
		// so pooling drops cut pieces instead of failing on them.
		maxLength := m.cfg.MaxLength
		if maxLength <= 0 {
			maxLength = length
		}
		tensor, err := pooling.SumAlignment(view.Get(), m.hiddenSize(hidden), align, maxLength)
		if err != nil {
			return fmt.Errorf("pooling doc %s: %w", d.ID, err)
		}
		m.store.SetTensor(d.ID, tensor)
	}
	return nil
}

func (m *Model) hiddenSize(hidden [][][]float32) int {
	out := backends.ModelOutput{LastHiddenState: hidden}
	if n := out.HiddenSize(); n > 0 {
		return n
	}
	return m.cfg.HiddenSize
}

// Process predicts and attaches hidden states and word vectors.
func (m *Model) Process(ctx context.Context, docs []*doc.Doc) error {
	if len(docs) == 0 {
		return nil
	}
	outputs, err := m.Predict(ctx, docs)
	if err != nil {
		return err
	}
	return m.SetAnnotations(docs, outputs, true)
}

// Update runs the encoder forward in training mode, or inference mode when
// frozen, and attaches hidden states without word vectors. A loss reported
// by the model is recorded per document. Gradients and optimizer steps
// belong to the runtime.
func (m *Model) Update(ctx context.Context, examples []pipeline.Example) error {
	docs := pipeline.Docs(examples)
	if len(docs) == 0 {
		return nil
	}
	m.setTraining(!m.cfg.Freeze)
	defer m.setTraining(false)

	outputs, err := m.forward(ctx, docs)
	if err != nil {
		return err
	}
	if err := m.SetAnnotations(docs, outputs, false); err != nil {
		return err
	}
	return m.setLosses(docs, outputs.Losses())
}

// setLosses stores one loss per document. A single value is the batch loss
// and is shared by every document.
func (m *Model) setLosses(docs []*doc.Doc, losses []float32) error {
	switch len(losses) {
	case 0:
		return nil
	case 1:
		for _, d := range docs {
			m.store.SetLoss(d.ID, losses[0])
		}
	case len(docs):
		for i, d := range docs {
			m.store.SetLoss(d.ID, losses[i])
		}
	default:
		return fmt.Errorf("%d losses for %d docs", len(losses), len(docs))
	}
	return nil
}

func (m *Model) setTraining(training bool) {
	if t, ok := m.model.(backends.Trainable); ok {
		t.SetTraining(training)
	}
}

// Close releases the encoder.
func (m *Model) Close() error {
	return m.model.Close()
}

// ToDisk saves the encoder and cfg.json to dir.
func (m *Model) ToDisk(dir string) error {
	saver, ok := m.model.(backends.Saver)
	if !ok {
		return fmt.Errorf("%s backend model cannot be saved", m.model.Backend())
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", dir, err)
	}
	if err := saver.Save(dir); err != nil {
		return fmt.Errorf("saving model: %w", err)
	}
	data, err := json.MarshalIndent(m.cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding cfg: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, cfgFile), data, 0o644); err != nil {
		return fmt.Errorf("writing cfg: %w", err)
	}
	return nil
}

// FromDisk restores a Model written by ToDisk.
func FromDisk(dir string, sm *backends.SessionManager, store *doc.Store, logger *zap.Logger, opts ...Option) (*Model, error) {
	data, err := os.ReadFile(filepath.Join(dir, cfgFile))
	if err != nil {
		return nil, fmt.Errorf("reading cfg: %w", err)
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing cfg: %w", err)
	}
	if _, err := ParseFamily(string(cfg.Family)); err != nil {
		return nil, err
	}

	probe := &Model{}
	for _, opt := range opts {
		opt(probe)
	}
	model, err := loadModel(dir, cfg.Family, sm, logger, probe.loadOpts)
	if err != nil {
		return nil, err
	}
	m, err := NewModel(model, cfg, store, logger, opts...)
	if err != nil {
		_ = model.Close()
		return nil, err
	}
	return m, nil
}

func init() {
	for _, f := range familyOrder {
		pipeline.RegisterFactory(string(f), func(dir string, env *pipeline.Env) (pipeline.Pipe, error) {
			if env == nil {
				return nil, ErrNoStore
			}
			return FromDisk(dir, env.Sessions, env.Store, env.NamedLogger(string(f)))
		})
	}
}
