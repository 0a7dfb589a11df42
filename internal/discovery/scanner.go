package discovery

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gosnoop/internal/models"

	"github.com/bmatcuk/doublestar/v4"
)

const archiveExt = ".zip"

func applyDefaults(cfg ScanConfig) ScanConfig {
	out := cfg
	if out.InputDir == "" {
		out.InputDir = "input"
	}
	if out.OutputDir == "" {
		out.OutputDir = "output"
	}
	if out.Pattern == "" {
		out.Pattern = "**/*.[zZ][iI][pP]"
	}
	if out.OutputExt == "" {
		out.OutputExt = ".log"
	}
	return out
}

// Scan finds every archive under the input dir and pairs it with its
// output path. A missing input dir yields no jobs. Jobs are sorted by
// archive path.
func Scan(ctx context.Context, cfg ScanConfig) ([]models.Job, error) {
	config := applyDefaults(cfg)

	if _, err := os.Stat(config.InputDir); errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}

	var jobs []models.Job
	err := doublestar.GlobWalk(os.DirFS(config.InputDir), config.Pattern, func(rel string, d fs.DirEntry) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		jobs = append(jobs, jobFor(config, filepath.FromSlash(rel)))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", config.InputDir, err)
	}

	sort.Slice(jobs, func(i, j int) bool { return jobs[i].Archive < jobs[j].Archive })
	return jobs, nil
}

// Target maps an output path back to its job. It fails with ErrNoRule when
// the path is outside the output dir or no archive exists for it.
func Target(cfg ScanConfig, output string) (models.Job, error) {
	config := applyDefaults(cfg)

	rel, err := filepath.Rel(config.OutputDir, output)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return models.Job{}, fmt.Errorf("%w '%s'", ErrNoRule, output)
	}
	if !strings.EqualFold(filepath.Ext(rel), config.OutputExt) {
		return models.Job{}, fmt.Errorf("%w '%s'", ErrNoRule, output)
	}
	stem := strings.TrimSuffix(rel, filepath.Ext(rel))

	dir := filepath.Join(config.InputDir, filepath.Dir(stem))
	entries, _ := os.ReadDir(dir)
	for _, e := range entries {
		name := e.Name()
		ext := filepath.Ext(name)
		if e.IsDir() || !strings.EqualFold(ext, archiveExt) || strings.TrimSuffix(name, ext) != filepath.Base(stem) {
			continue
		}
		return models.Job{
			Name:    filepath.ToSlash(stem),
			Archive: filepath.Join(dir, name),
			Output:  filepath.Join(config.OutputDir, rel),
		}, nil
	}
	return models.Job{}, fmt.Errorf("%w '%s'", ErrNoRule, output)
}

// UpToDate reports whether the job's output exists and is not older than
// its archive.
func UpToDate(job models.Job) (bool, error) {
	out, err := os.Stat(job.Output)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	in, err := os.Stat(job.Archive)
	if err != nil {
		return false, err
	}
	return !out.ModTime().Before(in.ModTime()), nil
}

func jobFor(config ScanConfig, rel string) models.Job {
	stem := strings.TrimSuffix(rel, filepath.Ext(rel))
	return models.Job{
		Name:    filepath.ToSlash(stem),
		Archive: filepath.Join(config.InputDir, rel),
		Output:  filepath.Join(config.OutputDir, stem+config.OutputExt),
	}
}
