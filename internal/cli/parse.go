package cli

import (
	"io"
	"os"

	"gosnoop/internal/htmsg"

	"github.com/spf13/cobra"
)

func (a *app) newParseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "parse [FILE.csv]",
		Short: "Decode HT messages from an exported packet CSV",
		Long: `Reads a CSV with id, dir and data columns (data as hex bytes) and writes
the decoded messages as id,dir,msg_type,msg rows. Reads standard input
when no file is given.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var in io.Reader = cmd.InOrStdin()
			if len(args) == 1 {
				f, err := os.Open(args[0])
				if err != nil {
					return err
				}
				defer f.Close()
				in = f
			}
			return htmsg.ParseCSV(in, cmd.OutOrStdout(), a.log)
		},
	}
}
