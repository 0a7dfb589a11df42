// Package toolexec runs external tools and reports their output on failure.
package toolexec

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// ErrToolNotFound is returned when a tool is not on PATH.
var ErrToolNotFound = errors.New("tool not found")

// Lookup resolves name on PATH.
func Lookup(name string) (string, error) {
	path, err := exec.LookPath(name)
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrToolNotFound, name)
	}
	return path, nil
}

// Run executes name with args and returns its combined output. A non-zero
// exit is an error that includes the output.
func Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	path, err := Lookup(name)
	if err != nil {
		return nil, err
	}

	cmd := exec.CommandContext(ctx, path, args...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return output, fmt.Errorf("%s failed: %w (%s)", name, err, strings.TrimSpace(string(output)))
	}
	return output, nil
}
