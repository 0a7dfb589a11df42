package cli

import (
	"errors"

	"gosnoop/internal/docs"

	"github.com/spf13/cobra"
)

var errNoReadmeTarget = errors.New("no target file: pass one or set docs.target")

func (a *app) newSyncReadmeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync-readme [TARGET]",
		Short: "Copy the README body into the overview block of a source file",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d := a.cfg.Docs
			target := d.Target
			if len(args) == 1 {
				target = args[0]
			}
			if target == "" {
				return errNoReadmeTarget
			}
			return docs.SyncReadme(d.Readme, target, d.Marker, d.Delimiter)
		},
	}
}
