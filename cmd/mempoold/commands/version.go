package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tendermint/sharedmempool/version"
)

// VersionCmd prints the software version.
var VersionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version info",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), version.Version)
	},
}
