package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

// version is set via -ldflags "-X .../cmd.version=..." at release build
// time; it stays "dev" for local builds.
var version = "dev"

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the lspwired version",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Fprintln(cmd.OutOrStdout(), version)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
