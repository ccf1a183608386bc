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

package tokenizer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/KoichiYasuoka/camphr/lib/doc"
	"github.com/KoichiYasuoka/camphr/lib/pipeline"
	"github.com/cespare/xxhash/v2"
	"github.com/goccy/go-json"
	"github.com/gomlx/go-huggingface/tokenizers"
	"github.com/gomlx/go-huggingface/tokenizers/api"
	"github.com/jellydator/ttlcache/v3"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
	"golang.org/x/text/unicode/norm"
)

// WordPiecerName is the pipe name of the WordPiecer.
const WordPiecerName = "trf_wordpiecer"

// DefaultCacheSize bounds the per-word piece cache.
const DefaultCacheSize = 50_000

// ErrMaxLength is returned for a max length too short to hold the special tokens.
var ErrMaxLength = errors.New("max length too short")

func init() {
	pipeline.RegisterFactory(WordPiecerName, func(dir string, env *pipeline.Env) (pipeline.Pipe, error) {
		return FromDisk(dir, WithLogger(env.NamedLogger(WordPiecerName)))
	})
}

// Layout places special tokens around the pieces of a document.
type Layout string

const (
	// LayoutBERT is [CLS] pieces [SEP].
	LayoutBERT Layout = "bert"
	// LayoutXLNet is pieces <sep> <cls>, with the <cls> type id set to 2.
	LayoutXLNet Layout = "xlnet"
)

// ParseLayout parses a layout name.
func ParseLayout(s string) (Layout, error) {
	switch Layout(s) {
	case LayoutBERT, LayoutXLNet:
		return Layout(s), nil
	}
	return "", fmt.Errorf("unknown layout %q (valid: bert, xlnet)", s)
}

// numSpecials is the number of special tokens every layout adds.
const numSpecials = 2

// xlnetClsTypeID is the segment id XLNet gives its trailing <cls>.
const xlnetClsTypeID = 2

func (l Layout) specialPieces() (cls, sep string) {
	if l == LayoutXLNet {
		return "<cls>", "<sep>"
	}
	return "[CLS]", "[SEP]"
}

// Specials are the ids of the classification and separator tokens.
type Specials struct {
	CLS int `json:"cls"`
	SEP int `json:"sep"`
}

// tokenLookup is implemented by tokenizers that can find a piece's id.
type tokenLookup interface {
	TokenToID(token string) (int, bool)
}

// ResolveSpecials finds the layout's classification and separator ids. Each
// is looked up by piece name first ("[CLS]"/"[SEP]" or "<cls>"/"<sep>"),
// then by tokenizer role, then in fallback. XLNet never takes its separator
// from the end-of-sentence role, which is "</s>" in its vocabulary.
func ResolveSpecials(tok tokenizers.Tokenizer, layout Layout, fallback *Specials) (Specials, error) {
	clsPiece, sepPiece := layout.specialPieces()
	var clsFallback, sepFallback *int
	if fallback != nil {
		clsFallback, sepFallback = &fallback.CLS, &fallback.SEP
	}
	cls, clsErr := resolveSpecial(tok, clsPiece, api.TokClassification, true, clsFallback)
	sep, sepErr := resolveSpecial(tok, sepPiece, api.TokEndOfSentence, layout == LayoutBERT, sepFallback)
	if err := errors.Join(clsErr, sepErr); err != nil {
		return Specials{}, fmt.Errorf("resolving special tokens: %w", err)
	}
	return Specials{CLS: cls, SEP: sep}, nil
}

func resolveSpecial(tok tokenizers.Tokenizer, piece string, role api.SpecialToken, useRole bool, fallback *int) (int, error) {
	if l, ok := tok.(tokenLookup); ok {
		if id, ok := l.TokenToID(piece); ok {
			return id, nil
		}
	}
	if useRole {
		if id, err := tok.SpecialTokenID(role); err == nil && id >= 0 {
			return id, nil
		}
	}
	if fallback != nil {
		return *fallback, nil
	}
	return 0, fmt.Errorf("special token %s not found", piece)
}

// wordPiecerConfig is persisted as cfg.json.
type wordPiecerConfig struct {
	Layout    Layout   `json:"layout"`
	MaxLength int      `json:"max_length"`
	Specials  Specials `json:"specials"`
}

type wordPieces struct {
	ids    []int
	pieces []string
}

// WordPiecer splits every analyzer word into sub-word pieces and fills
// doc.Encoding. Safe for concurrent use.
type WordPiecer struct {
	tok      tokenizers.Tokenizer
	config   wordPiecerConfig
	skip     map[int]bool
	cache    *ttlcache.Cache[uint64, wordPieces]
	sfGroup  singleflight.Group
	srcDir   string
	logger   *zap.Logger
	normForm norm.Form
}

// Option configures a WordPiecer.
type Option func(*WordPiecer)

// WithMaxLength truncates encodings to n positions, specials included. 0 = no limit.
func WithMaxLength(n int) Option {
	return func(w *WordPiecer) {
		w.config.MaxLength = n
	}
}

// WithSourceDir records the directory the tokenizer was loaded from so
// ToDisk can copy its files.
func WithSourceDir(dir string) Option {
	return func(w *WordPiecer) {
		w.srcDir = dir
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(w *WordPiecer) {
		w.logger = logger
	}
}

// WithCacheSize bounds the per-word cache. 0 disables the bound.
func WithCacheSize(n int) Option {
	return func(w *WordPiecer) {
		w.cache = newPieceCache(n)
	}
}

func newPieceCache(capacity int) *ttlcache.Cache[uint64, wordPieces] {
	if capacity <= 0 {
		return ttlcache.New[uint64, wordPieces]()
	}
	return ttlcache.New(
		ttlcache.WithCapacity[uint64, wordPieces](uint64(capacity)),
	)
}

// NewWordPiecer creates a WordPiecer over tok.
func NewWordPiecer(tok tokenizers.Tokenizer, layout Layout, specials Specials, opts ...Option) (*WordPiecer, error) {
	w := &WordPiecer{
		tok: tok,
		config: wordPiecerConfig{
			Layout:   layout,
			Specials: specials,
		},
		logger:   zap.NewNop(),
		normForm: norm.NFKC,
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.cache == nil {
		w.cache = newPieceCache(DefaultCacheSize)
	}
	if _, err := ParseLayout(string(layout)); err != nil {
		return nil, err
	}
	if w.config.MaxLength < 0 || (w.config.MaxLength > 0 && w.config.MaxLength <= numSpecials) {
		return nil, fmt.Errorf("%w: %d (need more than %d or 0)", ErrMaxLength, w.config.MaxLength, numSpecials)
	}

	w.skip = map[int]bool{specials.CLS: true, specials.SEP: true}
	for _, st := range []api.SpecialToken{api.TokBeginningOfSentence, api.TokEndOfSentence, api.TokPad, api.TokClassification} {
		if id, err := tok.SpecialTokenID(st); err == nil && id >= 0 {
			w.skip[id] = true
		}
	}
	return w, nil
}

// LoadWordPiecer loads the tokenizer in dir and creates a WordPiecer for it.
func LoadWordPiecer(dir string, layout Layout, fallback *Specials, opts ...Option) (*WordPiecer, error) {
	tok, err := Load(dir)
	if err != nil {
		return nil, err
	}
	specials, err := ResolveSpecials(tok, layout, fallback)
	if err != nil {
		return nil, err
	}
	return NewWordPiecer(tok, layout, specials, append([]Option{WithSourceDir(dir)}, opts...)...)
}

// Name returns the pipe name.
func (w *WordPiecer) Name() string {
	return WordPiecerName
}

// Layout returns the special-token layout.
func (w *WordPiecer) Layout() Layout {
	return w.config.Layout
}

// MaxLength returns the truncation length, 0 when unlimited.
func (w *WordPiecer) MaxLength() int {
	return w.config.MaxLength
}

// Tokenizer returns the underlying tokenizer.
func (w *WordPiecer) Tokenizer() tokenizers.Tokenizer {
	return w.tok
}

// Process fills the encoding of every document.
func (w *WordPiecer) Process(ctx context.Context, docs []*doc.Doc) error {
	for _, d := range docs {
		if err := ctx.Err(); err != nil {
			return err
		}
		d.Encoding = w.Encode(d.Words())
	}
	return nil
}

// Encode lays out the pieces of words with the special tokens.
//
// Align is computed against the full piece sequence. When the sequence is
// truncated, the pieces that were cut keep positions at or past the end of
// the truncated sequence so that pooling can drop them.
func (w *WordPiecer) Encode(words []string) *doc.Encoding {
	perWord := make([]wordPieces, len(words))
	total := 0
	for i, word := range words {
		perWord[i] = w.pieces(word)
		total += len(perWord[i].ids)
	}

	kept := total
	if w.config.MaxLength > 0 && total+numSpecials > w.config.MaxLength {
		kept = w.config.MaxLength - numSpecials
		w.logger.Debug("Truncating word pieces",
			zap.Int("pieces", total),
			zap.Int("kept", kept))
	}
	seqLen := kept + numSpecials

	enc := &doc.Encoding{
		Pieces:        make([]string, 0, seqLen),
		TokenIDs:      make([]int32, 0, seqLen),
		AttentionMask: make([]int32, seqLen),
		TokenTypeIDs:  make([]int32, seqLen),
		Align:         make([][]int, len(words)),
	}
	for i := range enc.AttentionMask {
		enc.AttentionMask[i] = 1
	}

	clsPiece, sepPiece := w.config.Layout.specialPieces()
	offset := 0
	if w.config.Layout == LayoutBERT {
		enc.Pieces = append(enc.Pieces, clsPiece)
		enc.TokenIDs = append(enc.TokenIDs, int32(w.config.Specials.CLS))
		offset = 1
	}

	k := 0
	for i, wp := range perWord {
		enc.Align[i] = make([]int, len(wp.ids))
		for j, id := range wp.ids {
			if k < kept {
				enc.Align[i][j] = offset + k
				enc.Pieces = append(enc.Pieces, wp.pieces[j])
				enc.TokenIDs = append(enc.TokenIDs, int32(id))
			} else {
				enc.Align[i][j] = seqLen + (k - kept)
			}
			k++
		}
	}

	switch w.config.Layout {
	case LayoutBERT:
		enc.Pieces = append(enc.Pieces, sepPiece)
		enc.TokenIDs = append(enc.TokenIDs, int32(w.config.Specials.SEP))
	case LayoutXLNet:
		enc.Pieces = append(enc.Pieces, sepPiece, clsPiece)
		enc.TokenIDs = append(enc.TokenIDs, int32(w.config.Specials.SEP), int32(w.config.Specials.CLS))
		enc.TokenTypeIDs[seqLen-1] = xlnetClsTypeID
	}
	return enc
}

// pieces returns the normalized word's pieces with special tokens removed.
func (w *WordPiecer) pieces(word string) wordPieces {
	normalized := w.normForm.String(word)
	key := xxhash.Sum64String(normalized)
	if item := w.cache.Get(key); item != nil {
		pipeline.RecordCacheHit("wordpiece")
		return item.Value()
	}
	pipeline.RecordCacheMiss("wordpiece")

	// Concurrent misses for one word share a single encode.
	result, _, _ := w.sfGroup.Do(normalized, func() (any, error) {
		var wp wordPieces
		for _, id := range w.tok.Encode(normalized) {
			if w.skip[id] {
				continue
			}
			wp.ids = append(wp.ids, id)
			wp.pieces = append(wp.pieces, w.pieceText(id))
		}
		w.cache.Set(key, wp, ttlcache.DefaultTTL)
		return wp, nil
	})
	return result.(wordPieces)
}

// vocabLookup is implemented by tokenizers that expose their vocabulary.
type vocabLookup interface {
	IDToToken(id int) (string, bool)
}

func (w *WordPiecer) pieceText(id int) string {
	if v, ok := w.tok.(vocabLookup); ok {
		if s, ok := v.IDToToken(id); ok {
			return s
		}
	}
	return w.tok.Decode([]int{id})
}

// ToDisk writes the tokenizer files and cfg.json to dir.
func (w *WordPiecer) ToDisk(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", dir, err)
	}
	if w.srcDir != "" {
		for _, name := range Files {
			src := filepath.Join(w.srcDir, name)
			if _, err := os.Stat(src); err != nil {
				continue
			}
			if err := copyFile(src, filepath.Join(dir, name)); err != nil {
				return err
			}
		}
	}
	data, err := json.MarshalIndent(w.config, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding cfg: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "cfg.json"), data, 0o644); err != nil {
		return fmt.Errorf("writing cfg: %w", err)
	}
	return nil
}

// FromDisk loads a WordPiecer written by ToDisk.
func FromDisk(dir string, opts ...Option) (*WordPiecer, error) {
	data, err := os.ReadFile(filepath.Join(dir, "cfg.json"))
	if err != nil {
		return nil, fmt.Errorf("reading cfg: %w", err)
	}
	var cfg wordPiecerConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing cfg: %w", err)
	}
	tok, err := Load(dir)
	if err != nil {
		return nil, err
	}
	opts = append([]Option{WithSourceDir(dir), WithMaxLength(cfg.MaxLength)}, opts...)
	return NewWordPiecer(tok, cfg.Layout, cfg.Specials, opts...)
}

func copyFile(src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return fmt.Errorf("reading %s: %w", src, err)
	}
	if err := os.WriteFile(dst, data, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", dst, err)
	}
	return nil
}
