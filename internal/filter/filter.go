// Package filter applies a jq expression to decoded records and writes the
// results as newline-delimited JSON.
package filter

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/itchyny/gojq"
)

// Identity is the default expression. It passes records through unchanged.
const Identity = "."

// Filter is a compiled jq expression.
type Filter struct {
	expr string
	code *gojq.Code
}

// New parses and compiles expr. An empty expression means Identity.
func New(expr string) (*Filter, error) {
	if expr == "" {
		expr = Identity
	}
	q, err := gojq.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("parse filter %q: %w", expr, err)
	}
	code, err := gojq.Compile(q)
	if err != nil {
		return nil, fmt.Errorf("compile filter %q: %w", expr, err)
	}
	return &Filter{expr: expr, code: code}, nil
}

func (f *Filter) String() string { return f.expr }

// IsIdentity reports whether the filter leaves its input unchanged.
func (f *Filter) IsIdentity() bool { return f.expr == Identity }

// Apply runs the filter on v and calls emit for every result, in order.
// A jq runtime error stops iteration and is returned.
func (f *Filter) Apply(ctx context.Context, v any, emit func(any) error) error {
	iter := f.code.RunWithContext(ctx, v)
	for {
		out, ok := iter.Next()
		if !ok {
			return nil
		}
		if err, isErr := out.(error); isErr {
			if err, ok := err.(*gojq.HaltError); ok && err.Value() == nil {
				return nil
			}
			return fmt.Errorf("filter %q: %w", f.expr, err)
		}
		if err := emit(out); err != nil {
			return err
		}
	}
}

// Writer filters records and writes each result as one compact JSON line.
type Writer struct {
	f     *Filter
	bw    *bufio.Writer
	enc   *json.Encoder
	count int
}

func NewWriter(w io.Writer, f *Filter) *Writer {
	bw := bufio.NewWriter(w)
	enc := json.NewEncoder(bw)
	enc.SetEscapeHTML(false)
	return &Writer{f: f, bw: bw, enc: enc}
}

// WriteRaw filters one encoded record. Records are always decoded, so
// duplicate object keys collapse to their last value and keys come out
// sorted whatever the expression. The identity filter skips gojq and keeps
// number literals as written.
func (w *Writer) WriteRaw(ctx context.Context, raw json.RawMessage) error {
	var v any
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&v); err != nil {
		return fmt.Errorf("invalid record: %w", err)
	}

	if w.f.IsIdentity() {
		if err := w.enc.Encode(v); err != nil {
			return err
		}
		w.count++
		return nil
	}
	return w.WriteValue(ctx, normalize(v))
}

// WriteValue filters a decoded value.
func (w *Writer) WriteValue(ctx context.Context, v any) error {
	return w.f.Apply(ctx, v, func(out any) error {
		if err := w.enc.Encode(out); err != nil {
			return err
		}
		w.count++
		return nil
	})
}

// Count is the number of lines written.
func (w *Writer) Count() int { return w.count }

func (w *Writer) Flush() error { return w.bw.Flush() }

// normalize converts json.Number values to the int or float64 gojq expects.
func normalize(v any) any {
	switch x := v.(type) {
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return int(i)
		}
		if f, err := x.Float64(); err == nil {
			return f
		}
		return x.String()
	case map[string]any:
		for k, e := range x {
			x[k] = normalize(e)
		}
	case []any:
		for i, e := range x {
			x[i] = normalize(e)
		}
	}
	return v
}
