// Package cli wires the gosnoop commands together.
package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"gosnoop/internal/config"
	"gosnoop/internal/logging"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// flagKeys maps command line flags onto config keys. Only the flags the
// running command actually has are bound.
var flagKeys = map[string]string{
	"input-dir":   "input_dir",
	"output-dir":  "output_dir",
	"snoop-path":  "snoop_path",
	"jobs":        "jobs",
	"always-make": "always_make",
	"keep-going":  "keep_going",
	"decoder":     "decoder",
	"filter":      "filter",
	"parse":       "parse",
	"pcap":        "pcap",
	"watch":       "watch",
	"debounce":    "debounce",
	"schedule":    "schedule",
	"tui":         "tui",
	"report":      "report",
	"tshark":      "tshark.path",
	"addr":        "docs.addr",
}

type app struct {
	v       *viper.Viper
	cfgFile string
	verbose bool

	cfg   *config.Config
	log   *zap.Logger
	runID string
}

// NewRootCmd builds the gosnoop command tree.
func NewRootCmd() *cobra.Command {
	return newRootCmd(&app{v: config.New()})
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:   "gosnoop",
		Short: "gosnoop - Bluetooth HCI snoop log extractor",
		Long: `gosnoop pulls btsnoop_hci.log out of every bug report archive under the
input directory, decodes it and writes one JSON record per line to the
output directory. Archives whose output is up to date are skipped.

Run without a subcommand to convert everything (same as "gosnoop all").`,
		SilenceUsage:      true,
		PersistentPreRunE: a.setup,
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a.log != nil {
				_ = a.log.Sync()
			}
		},
		RunE: a.runAll,
	}

	pf := root.PersistentFlags()
	pf.StringVarP(&a.cfgFile, "config", "c", "", "config file (default: ./.gosnoop.yaml, then $HOME/.gosnoop.yaml)")
	pf.BoolVarP(&a.verbose, "verbose", "v", false, "enable debug logging")
	pf.String("input-dir", "input", "directory searched for .zip archives")
	pf.String("output-dir", "output", "directory the .log files are written to")

	addConvertFlags(root)

	root.AddCommand(
		a.newAllCmd(),
		a.newLogCmd(),
		a.newDocsCmd(),
		a.newPreviewDocsCmd(),
		a.newParseCmd(),
		a.newSyncReadmeCmd(),
	)
	return root
}

// Execute runs the root command until it finishes or the process is
// interrupted.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := NewRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func (a *app) setup(cmd *cobra.Command, _ []string) error {
	for name, key := range flagKeys {
		if f := cmd.Flags().Lookup(name); f != nil {
			if err := a.v.BindPFlag(key, f); err != nil {
				return err
			}
		}
	}

	cfg, err := config.Load(a.v, a.cfgFile)
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.runID = uuid.NewString()

	if a.log == nil {
		// The dashboard owns the terminal, so logs go to a file instead.
		var log *zap.Logger
		if cfg.TUI && cmd.Flags().Lookup("tui") != nil {
			log, err = logging.NewFile(a.verbose, cfg.LogFile)
		} else {
			log, err = logging.New(a.verbose)
		}
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		a.log = log
	}
	a.log = a.log.With(zap.String("run", a.runID))
	return nil
}
