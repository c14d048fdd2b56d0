package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tendermint/sharedmempool/config"
	"github.com/tendermint/sharedmempool/libs/log"
	tmos "github.com/tendermint/sharedmempool/libs/os"
	"github.com/tendermint/sharedmempool/node"
)

// MakeInitCommand returns the command that writes the default config file
// and a fresh node identity into the home directory.
func MakeInitCommand(conf *config.Config, logger log.Logger) *cobra.Command {
	return &cobra.Command{
		Use:       "init [full|validator]",
		Short:     "Initializes a mempool node",
		ValidArgs: []string{config.ModeFull, config.ModeValidator},
		Args:      cobra.RangeArgs(0, 1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				conf.Mode = args[0]
			}
			if err := conf.ValidateBasic(); err != nil {
				return err
			}
			return initFilesWithConfig(conf, logger)
		},
	}
}

func initFilesWithConfig(conf *config.Config, logger log.Logger) error {
	if err := config.EnsureRoot(conf.RootDir); err != nil {
		return err
	}

	nodeIDFile := conf.NodeIDFile()
	if tmos.FileExists(nodeIDFile) {
		logger.Info("found node ID", "path", nodeIDFile)
	} else {
		id, err := node.LoadOrGenNodeID(nodeIDFile)
		if err != nil {
			return fmt.Errorf("can't generate node ID: %w", err)
		}
		logger.Info("generated node ID", "node_id", id, "path", nodeIDFile)
	}

	configFile := conf.ConfigFile()
	if tmos.FileExists(configFile) {
		logger.Info("found config file", "path", configFile)
		return nil
	}
	if err := config.WriteConfigFile(conf.RootDir, conf); err != nil {
		return err
	}
	logger.Info("generated config", "mode", conf.Mode, "path", configFile)
	return nil
}
