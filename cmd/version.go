package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

// versionTemplate formats --version like the version subcommand.
const versionTemplate = `{{printf "autoconf version %s\n" .Version}}`

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the autoconf version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "autoconf version %s\n", GetVersion())
		},
	}
}
