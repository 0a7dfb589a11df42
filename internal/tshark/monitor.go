package tshark

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"

	"go.uber.org/zap"
)

const stderrTail = 4096

// Decoder runs tshark over a capture file and streams its JSON output.
type Decoder struct {
	// Path is the tshark binary. Defaults to "tshark" on PATH.
	Path string
	// Args are passed after "-T json".
	Args []string
	// DisplayFilter is passed with -Y when set.
	DisplayFilter string

	log *zap.Logger
}

func NewDecoder(path string, log *zap.Logger) *Decoder {
	if path == "" {
		path = "tshark"
	}
	return &Decoder{Path: path, log: log}
}

func (d *Decoder) Name() string { return "tshark" }

// Available reports whether the tshark binary can be found.
func (d *Decoder) Available() bool {
	_, err := exec.LookPath(d.Path)
	return err == nil
}

func (d *Decoder) args(path string) []string {
	args := []string{"-r", path, "-T", "json"}
	args = append(args, d.Args...)
	if d.DisplayFilter != "" {
		args = append(args, "-Y", d.DisplayFilter)
	}
	return args
}

// Decode runs tshark on path and calls emit with each element of the JSON
// array it prints. The array is read element by element.
func (d *Decoder) Decode(ctx context.Context, path string, emit func(json.RawMessage) error) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	cmd := exec.CommandContext(ctx, d.Path, d.args(path)...)

	stderr := &tailWriter{max: stderrTail}
	cmd.Stderr = stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("failed to get stdout pipe: %w", err)
	}

	d.log.Debug("starting tshark", zap.String("bin", d.Path), zap.Strings("args", cmd.Args[1:]))
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start tshark: %w", err)
	}

	packets, streamErr := stream(stdout, emit)
	if streamErr != nil {
		// Stop tshark and drain so Wait does not block on a full pipe.
		cancel()
		io.Copy(io.Discard, stdout)
	}
	waitErr := cmd.Wait()

	if tail := strings.TrimSpace(stderr.String()); tail != "" {
		d.log.Debug("tshark stderr", zap.String("file", path), zap.String("stderr", tail))
	}

	switch {
	case streamErr != nil:
		return fmt.Errorf("tshark %s: %w", path, streamErr)
	case waitErr != nil:
		return fmt.Errorf("tshark %s: %w: %s", path, waitErr, strings.TrimSpace(stderr.String()))
	}

	d.log.Debug("tshark finished", zap.String("file", path), zap.Int("packets", packets))
	return nil
}

// stream reads a top-level JSON array, emits each element and returns how
// many there were. Empty input is treated as an empty array; tshark prints
// nothing for empty captures.
func stream(r io.Reader, emit func(json.RawMessage) error) (int, error) {
	dec := json.NewDecoder(r)

	tok, err := dec.Token()
	if err == io.EOF {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("reading output: %w", err)
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '[' {
		return 0, fmt.Errorf("expected JSON array, got %v", tok)
	}

	n := 0
	for dec.More() {
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return n, fmt.Errorf("packet %d: %w", n+1, err)
		}
		n++
		if err := emit(raw); err != nil {
			return n, err
		}
	}

	if _, err := dec.Token(); err != nil {
		return n, fmt.Errorf("reading output: %w", err)
	}
	return n, nil
}

// tailWriter keeps the last max bytes written to it.
type tailWriter struct {
	mu  sync.Mutex
	max int
	buf []byte
}

func (w *tailWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.buf = append(w.buf, p...)
	if over := len(w.buf) - w.max; over > 0 {
		w.buf = bytes.Clone(w.buf[over:])
	}
	return len(p), nil
}

func (w *tailWriter) String() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return string(w.buf)
}

// IsNotFound reports whether err means the tshark binary is missing.
func IsNotFound(err error) bool {
	return errors.Is(err, exec.ErrNotFound)
}
