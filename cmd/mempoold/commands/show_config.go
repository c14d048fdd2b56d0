package commands

import (
	"github.com/spf13/cobra"

	"github.com/tendermint/sharedmempool/config"
)

// MakeShowConfigCommand returns the command that prints the effective
// configuration, after config file, environment and flags were applied.
func MakeShowConfigCommand(conf *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "show-config",
		Short: "Show the effective configuration as TOML",
		RunE: func(cmd *cobra.Command, args []string) error {
			return conf.Render(cmd.OutOrStdout())
		},
	}
}
