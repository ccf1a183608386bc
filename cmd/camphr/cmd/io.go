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

package cmd

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/KoichiYasuoka/camphr/lib/doc"
	json "github.com/antflydb/antfly-go/libaf/json"
)

var errEmptyRecord = errors.New("record has neither words nor tokens")

// Output formats.
const (
	formatJSON = "json"
	formatCBOR = "cbor"
)

// docRecord is one input line.
type docRecord struct {
	Words  []string    `json:"words,omitempty"`
	Tokens []doc.Token `json:"tokens,omitempty"`
}

func (r docRecord) toDoc() (*doc.Doc, error) {
	switch {
	case len(r.Tokens) > 0:
		return doc.New(r.Tokens), nil
	case len(r.Words) > 0:
		return doc.FromWords(r.Words...), nil
	default:
		return nil, errEmptyRecord
	}
}

func openInput(path string) (io.ReadCloser, error) {
	if path == "" || path == "-" {
		return io.NopCloser(os.Stdin), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening input: %w", err)
	}
	return f, nil
}

// readInput reads JSON-lines records, or a CBOR stream written by --format cbor.
func readInput(path, format string) ([]*doc.Doc, error) {
	in, err := openInput(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = in.Close() }()
	switch format {
	case formatJSON, "":
		return readDocs(in)
	case formatCBOR:
		return doc.ReadAll(in, nil)
	default:
		return nil, fmt.Errorf("unknown input format %q (valid: json, cbor)", format)
	}
}

// readDocs reads one document per non-blank line.
func readDocs(r io.Reader) ([]*doc.Doc, error) {
	var docs []*doc.Doc
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 64*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		text := bytes.TrimSpace(scanner.Bytes())
		if len(text) == 0 {
			continue
		}
		var rec docRecord
		if err := json.Unmarshal(text, &rec); err != nil {
			return nil, fmt.Errorf("parsing line %d: %w", line, err)
		}
		d, err := rec.toDoc()
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		docs = append(docs, d)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading input: %w", err)
	}
	return docs, nil
}

type lineWriter struct {
	w *bufio.Writer
}

func newLineWriter(w io.Writer) *lineWriter {
	return &lineWriter{w: bufio.NewWriter(w)}
}

func (lw *lineWriter) write(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding output: %w", err)
	}
	if _, err := lw.w.Write(data); err != nil {
		return err
	}
	return lw.w.WriteByte('\n')
}

func (lw *lineWriter) flush() error {
	return lw.w.Flush()
}

// docWriter writes one output record per processed document.
type docWriter interface {
	writeDoc(d *doc.Doc) error
	flush() error
}

// newDocWriter returns a JSON-lines writer using record, or a CBOR writer
// emitting one doc.Marshal item per document. With a non-nil store the CBOR
// items carry word vectors and documents without them are an error.
func newDocWriter(format string, w io.Writer, record func(*doc.Doc) (any, error), store *doc.Store) (docWriter, error) {
	switch format {
	case formatJSON, "":
		return &jsonDocWriter{lw: newLineWriter(w), record: record}, nil
	case formatCBOR:
		return &cborDocWriter{w: bufio.NewWriter(w), store: store}, nil
	default:
		return nil, fmt.Errorf("unknown output format %q (valid: json, cbor)", format)
	}
}

type jsonDocWriter struct {
	lw     *lineWriter
	record func(*doc.Doc) (any, error)
}

func (j *jsonDocWriter) writeDoc(d *doc.Doc) error {
	rec, err := j.record(d)
	if err != nil {
		return err
	}
	return j.lw.write(rec)
}

func (j *jsonDocWriter) flush() error {
	return j.lw.flush()
}

type cborDocWriter struct {
	w     *bufio.Writer
	store *doc.Store
}

func (c *cborDocWriter) writeDoc(d *doc.Doc) error {
	if c.store != nil {
		if f, ok := c.store.Get(d.ID); !ok || f.Tensor == nil {
			return fmt.Errorf("doc %s: %w", d.ID, doc.ErrNoFeatures)
		}
	}
	data, err := doc.Marshal(d, c.store)
	if err != nil {
		return err
	}
	_, err = c.w.Write(data)
	return err
}

func (c *cborDocWriter) flush() error {
	return c.w.Flush()
}
