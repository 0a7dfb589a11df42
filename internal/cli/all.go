package cli

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"gosnoop/internal/analysis"
	"gosnoop/internal/discovery"
	"gosnoop/internal/filter"
	"gosnoop/internal/models"
	"gosnoop/internal/pipeline"
	"gosnoop/internal/reporting"
	"gosnoop/internal/trigger"
	"gosnoop/internal/tshark"
	"gosnoop/internal/tui"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func addConvertFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.IntP("jobs", "j", 1, "run up to N conversions at once")
	f.BoolP("always-make", "B", false, "convert every archive, even if its output is up to date")
	f.BoolP("keep-going", "k", false, "keep converting other archives after a failure")
	f.String("decoder", pipeline.DecoderAuto, "decoder: auto, tshark or native")
	f.String("filter", filter.Identity, "jq expression applied to every decoded record")
	f.String("snoop-path", "FS/data/misc/bluetooth/logs/btsnoop_hci.log", "path of the snoop log inside each archive")
	f.String("tshark", "tshark", "tshark executable")
	f.Bool("parse", false, "also decode HT messages into <name>.messages.csv")
	f.Bool("pcap", false, "also write <name>.pcap")
	f.Bool("watch", false, "convert again whenever the input directory changes")
	f.Duration("debounce", 2*time.Second, "quiet period before a watch-triggered run")
	f.String("schedule", "", "convert again on this cron schedule")
	f.Bool("tui", false, "show a live progress dashboard")
	f.String("report", "", "write a run report into the output directory: html or json")
}

func (a *app) newAllCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "all",
		Short: "Convert every archive under the input directory",
		Args:  cobra.NoArgs,
		RunE:  a.runAll,
	}
	addConvertFlags(cmd)
	return cmd
}

func (a *app) newLogCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "log OUTPUT...",
		Short: "Build the named output files from their archives",
		Example: `  gosnoop log output/phone.log
  gosnoop log -B output/lab/pixel.log output/lab/galaxy.log`,
		Args: cobra.MinimumNArgs(1),
		RunE: a.runLog,
	}
	addConvertFlags(cmd)
	return cmd
}

func (a *app) scanConfig() discovery.ScanConfig {
	return discovery.ScanConfig{InputDir: a.cfg.InputDir, OutputDir: a.cfg.OutputDir}
}

func (a *app) newRunner(stats *analysis.RunStats) (*pipeline.Runner, error) {
	f, err := filter.New(a.cfg.Filter)
	if err != nil {
		return nil, err
	}

	ts := tshark.NewDecoder(a.cfg.Tshark.Path, a.log)
	ts.Args = a.cfg.Tshark.Args
	ts.DisplayFilter = a.cfg.Tshark.DisplayFilter
	dec, err := pipeline.SelectDecoder(a.cfg.Decoder, ts, a.log)
	if err != nil {
		return nil, err
	}

	return pipeline.NewRunner(pipeline.Options{
		Jobs:      a.cfg.Jobs,
		Force:     a.cfg.AlwaysMake,
		KeepGoing: a.cfg.KeepGoing,
		SnoopPath: a.cfg.SnoopPath,
		TempDir:   a.cfg.TempDir,
		Filter:    f,
		Decoder:   dec,
		Pcap:      a.cfg.Pcap,
		Parse:     a.cfg.Parse,
	}, stats, a.log)
}

func (a *app) runLog(cmd *cobra.Command, args []string) error {
	jobs := make([]models.Job, 0, len(args))
	for _, out := range args {
		job, err := discovery.Target(a.scanConfig(), out)
		if err != nil {
			return err
		}
		jobs = append(jobs, job)
	}

	runner, err := a.newRunner(analysis.NewRunStats(a.runID))
	if err != nil {
		return err
	}
	_, err = runner.Run(cmd.Context(), jobs)
	return err
}

func (a *app) runAll(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	stats := analysis.NewRunStats(a.runID)
	runner, err := a.newRunner(stats)
	if err != nil {
		return err
	}

	triggers, err := a.triggers(ctx)
	if err != nil {
		return err
	}

	if !a.cfg.TUI {
		return a.loop(ctx, runner, triggers, func(tea.Msg) {})
	}
	return a.runDashboard(ctx, runner, stats, triggers)
}

// loop runs one pass, then one more per trigger until ctx is done or the
// triggers stop. Without triggers the result of the single pass is returned.
func (a *app) loop(ctx context.Context, runner *pipeline.Runner, triggers <-chan struct{}, notify func(tea.Msg)) error {
	for {
		err := a.pass(ctx, runner, notify)
		if triggers == nil {
			return err
		}
		if err != nil && ctx.Err() == nil {
			a.log.Error("pass failed, waiting for the next trigger", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return nil
		case _, ok := <-triggers:
			if !ok {
				return nil
			}
			a.log.Info("change detected, converting again")
		}
	}
}

// pass converts once. Stats start from zero each pass, so a report
// describes that pass only.
func (a *app) pass(ctx context.Context, runner *pipeline.Runner, notify func(tea.Msg)) error {
	runner.Stats().Reset()
	notify(tui.RunStartedMsg{})

	var sum pipeline.Summary
	jobs, err := discovery.Scan(ctx, a.scanConfig())
	if err == nil {
		if len(jobs) == 0 {
			a.log.Warn("no archives found", zap.String("dir", a.cfg.InputDir))
		}
		sum, err = runner.Run(ctx, jobs)
	}

	if a.cfg.Report != "" {
		path, rerr := reporting.GenerateRunReport(runner.Stats(), a.cfg.Report, a.cfg.OutputDir)
		if rerr != nil {
			err = errors.Join(err, fmt.Errorf("report: %w", rerr))
		} else {
			a.log.Info("report written", zap.String("path", path))
		}
	}

	notify(tui.RunFinishedMsg{
		Built:   len(sum.Built),
		Skipped: len(sum.Skipped),
		Failed:  len(sum.Failed),
		Err:     err,
	})
	return err
}

// triggers merges the watch and schedule signals. It returns nil when
// neither is configured.
func (a *app) triggers(ctx context.Context) (<-chan struct{}, error) {
	var chans []<-chan struct{}
	if a.cfg.Watch {
		ch, err := trigger.Watch(ctx, a.cfg.InputDir, a.cfg.Debounce, a.log)
		if err != nil {
			return nil, err
		}
		chans = append(chans, ch)
	}
	if a.cfg.Schedule != "" {
		ch, err := trigger.Schedule(ctx, a.cfg.Schedule, a.log)
		if err != nil {
			return nil, err
		}
		chans = append(chans, ch)
	}

	switch len(chans) {
	case 0:
		return nil, nil
	case 1:
		return chans[0], nil
	}

	out := make(chan struct{}, 1)
	var wg sync.WaitGroup
	for _, ch := range chans {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range ch {
				select {
				case out <- struct{}{}:
				default:
				}
			}
		}()
	}
	go func() {
		wg.Wait()
		close(out)
	}()
	return out, nil
}

func (a *app) runDashboard(ctx context.Context, runner *pipeline.Runner, stats *analysis.RunStats, triggers <-chan struct{}) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	model := tui.NewProgressModel(stats, a.cfg.InputDir)
	p := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx))

	done := make(chan error, 1)
	go func() {
		done <- a.loop(ctx, runner, triggers, p.Send)
	}()

	_, err := p.Run()
	// Quitting the dashboard stops the conversions too.
	cancel()
	runErr := <-done

	if err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return fmt.Errorf("tui: %w", err)
	}
	return runErr
}
