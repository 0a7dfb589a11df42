// Package docs builds, serves and syncs the project documentation.
package docs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gosnoop/internal/toolexec"

	"go.uber.org/zap"
)

// Config describes a documentation build. {source} and {output} in Args
// are replaced with Source and Output.
type Config struct {
	Command string
	Args    []string
	Source  string
	Output  string
	Logo    string
}

func (c Config) args() []string {
	r := strings.NewReplacer("{source}", c.Source, "{output}", c.Output)
	out := make([]string, len(c.Args))
	for i, a := range c.Args {
		out[i] = r.Replace(a)
	}
	return out
}

// Generate runs the documentation generator and copies the logo into the
// output directory.
func Generate(ctx context.Context, cfg Config, log *zap.Logger) error {
	if cfg.Command == "" {
		return errors.New("docs: no generator command configured")
	}
	if cfg.Output == "" {
		return errors.New("docs: no output directory configured")
	}

	args := cfg.args()
	log.Info("generating docs", zap.String("command", cfg.Command), zap.Strings("args", args))
	out, err := toolexec.Run(ctx, cfg.Command, args...)
	if err != nil {
		return fmt.Errorf("docs: %w", err)
	}
	if s := strings.TrimSpace(string(out)); s != "" {
		log.Debug("generator output", zap.String("output", s))
	}

	if cfg.Logo == "" {
		return nil
	}
	if err := os.MkdirAll(cfg.Output, 0o755); err != nil {
		return err
	}
	dst := filepath.Join(cfg.Output, filepath.Base(cfg.Logo))
	if err := copyFile(cfg.Logo, dst); err != nil {
		return fmt.Errorf("docs: copy logo: %w", err)
	}
	log.Info("docs ready", zap.String("dir", cfg.Output), zap.String("logo", dst))
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
