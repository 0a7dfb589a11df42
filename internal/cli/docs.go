package cli

import (
	"gosnoop/internal/docs"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func (a *app) docsConfig() docs.Config {
	d := a.cfg.Docs
	return docs.Config{
		Command: d.Command,
		Args:    d.Args,
		Source:  d.Source,
		Output:  d.Output,
		Logo:    d.Logo,
	}
}

func (a *app) newDocsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "docs",
		Short: "Generate the documentation and copy the logo into it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return docs.Generate(cmd.Context(), a.docsConfig(), a.log)
		},
	}
}

func (a *app) newPreviewDocsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "preview-docs",
		Short: "Serve the generated documentation over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a.log.Info("serving docs", zap.String("addr", a.cfg.Docs.Addr), zap.String("dir", a.cfg.Docs.Output))
			return docs.Preview(cmd.Context(), a.cfg.Docs.Addr, a.cfg.Docs.Output, a.log)
		},
	}
	cmd.Flags().String("addr", ":8000", "listen address")
	return cmd
}
