// Package pipeline converts device archives into filtered NDJSON logs.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gosnoop/internal/analysis"
	"gosnoop/internal/archive"
	"gosnoop/internal/discovery"
	"gosnoop/internal/filter"
	"gosnoop/internal/models"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Options control a run.
type Options struct {
	// Jobs is the maximum number of concurrent conversions.
	Jobs int
	// Force rebuilds outputs that are up to date.
	Force bool
	// KeepGoing continues with other jobs after a failure.
	KeepGoing bool
	// SnoopPath is the snoop log's path inside each archive.
	SnoopPath string
	// TempDir holds extracted snoop logs. Defaults to os.TempDir().
	TempDir string

	Filter  *filter.Filter
	Decoder Decoder

	// Pcap also writes <name>.pcap.
	Pcap bool
	// Parse also writes <name>.messages.csv.
	Parse bool
}

// Summary lists job names by outcome.
type Summary struct {
	Built   []string
	Skipped []string
	Failed  []string
}

// Runner executes conversions.
type Runner struct {
	opts  Options
	stats *analysis.RunStats
	log   *zap.Logger
}

func NewRunner(opts Options, stats *analysis.RunStats, log *zap.Logger) (*Runner, error) {
	if opts.Decoder == nil {
		return nil, errors.New("pipeline: no decoder")
	}
	if opts.SnoopPath == "" {
		return nil, errors.New("pipeline: no snoop path")
	}
	if opts.Filter == nil {
		f, err := filter.New(filter.Identity)
		if err != nil {
			return nil, err
		}
		opts.Filter = f
	}
	if opts.Jobs < 1 {
		opts.Jobs = 1
	}
	if stats == nil {
		stats = analysis.NewRunStats("")
	}
	return &Runner{opts: opts, stats: stats, log: log}, nil
}

// Stats returns the stats the runner reports into.
func (r *Runner) Stats() *analysis.RunStats { return r.stats }

// Run converts every job that is not up to date. Without KeepGoing the
// first failure stops jobs that have not started yet and is returned.
// With KeepGoing all failures are returned joined.
func (r *Runner) Run(ctx context.Context, jobs []models.Job) (Summary, error) {
	var (
		mu   sync.Mutex
		sum  Summary
		errs []error
	)

	for _, job := range jobs {
		r.stats.AddJob(job.Name)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.opts.Jobs)

	for _, job := range jobs {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			// A slot may free up only after another job failed.
			if gctx.Err() != nil && !r.opts.KeepGoing {
				return nil
			}
			built, err := r.runJob(gctx, job)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err != nil:
				sum.Failed = append(sum.Failed, job.Name)
				errs = append(errs, err)
			case built:
				sum.Built = append(sum.Built, job.Name)
			default:
				sum.Skipped = append(sum.Skipped, job.Name)
			}

			if r.opts.KeepGoing {
				return nil
			}
			return err
		})
	}

	err := g.Wait()
	if r.opts.KeepGoing {
		err = errors.Join(errs...)
	}
	if err == nil {
		err = ctx.Err()
	}

	r.log.Info("run finished",
		zap.Int("built", len(sum.Built)),
		zap.Int("skipped", len(sum.Skipped)),
		zap.Int("failed", len(sum.Failed)))
	return sum, err
}

func (r *Runner) runJob(ctx context.Context, job models.Job) (bool, error) {
	log := r.log.With(zap.String("job", job.Name))

	if !r.opts.Force {
		ok, err := discovery.UpToDate(job)
		if err != nil {
			r.stats.SetJobState(job.Name, analysis.JobFailed, err)
			return false, fmt.Errorf("%s: %w", job.Name, err)
		}
		if ok {
			log.Debug("up to date", zap.String("output", job.Output))
			r.stats.SetJobState(job.Name, analysis.JobSkipped, nil)
			return false, nil
		}
	}

	r.stats.SetJobState(job.Name, analysis.JobRunning, nil)
	start := time.Now()

	records, err := r.convert(ctx, job, log)
	if err != nil {
		log.Error("conversion failed", zap.Error(err))
		r.stats.SetJobState(job.Name, analysis.JobFailed, err)
		return false, fmt.Errorf("%s: %w", job.Name, err)
	}

	log.Info("built target",
		zap.String("output", job.Output),
		zap.String("decoder", r.opts.Decoder.Name()),
		zap.Int("records", records),
		zap.Duration("took", time.Since(start)))
	r.stats.SetJobState(job.Name, analysis.JobDone, nil)
	return true, nil
}

// convert extracts the snoop log, scans it and writes the filtered output.
// Side outputs are committed before the main output so that an up-to-date
// .log always has them.
func (r *Runner) convert(ctx context.Context, job models.Job, log *zap.Logger) (int, error) {
	if err := os.MkdirAll(filepath.Dir(job.Output), 0o755); err != nil {
		return 0, err
	}

	snoop, err := archive.Extract(ctx, job.Archive, r.opts.SnoopPath, r.opts.TempDir)
	if err != nil {
		return 0, err
	}
	defer os.Remove(snoop)

	side, err := r.scan(ctx, job, snoop, log)
	defer side.abort()
	if err != nil {
		if r.opts.Decoder.Name() == DecoderNative || r.opts.Pcap || r.opts.Parse || !unsupportedCapture(err) {
			return 0, fmt.Errorf("scan capture: %w", err)
		}
		log.Warn("capture not readable natively, continuing without stats", zap.Error(err))
		side.abort()
		side.files = nil
	}

	out, err := createAtomic(job.Output)
	if err != nil {
		return 0, err
	}
	defer out.Abort()

	w := filter.NewWriter(out, r.opts.Filter)
	err = r.opts.Decoder.Decode(ctx, snoop, func(raw json.RawMessage) error {
		return w.WriteRaw(ctx, raw)
	})
	if err != nil {
		return 0, err
	}
	if err := w.Flush(); err != nil {
		return 0, err
	}
	r.stats.AddRecords(job.Name, w.Count())

	if err := side.commit(); err != nil {
		return 0, err
	}
	if err := out.Commit(); err != nil {
		return 0, err
	}
	return w.Count(), nil
}
