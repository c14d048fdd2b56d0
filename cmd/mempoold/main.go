package main

import (
	"context"
	"os"

	"github.com/tendermint/sharedmempool/cmd/mempoold/commands"
	"github.com/tendermint/sharedmempool/config"
	"github.com/tendermint/sharedmempool/libs/cli"
	"github.com/tendermint/sharedmempool/libs/log"
)

func main() {
	ctx := context.Background()

	conf := config.DefaultConfig()
	logger := log.MustNewDefaultLogger(conf.LogFormat, conf.LogLevel)

	rootCmd := commands.RootCommand(conf, logger)
	rootCmd.AddCommand(
		commands.MakeInitCommand(conf, logger),
		commands.NewRunNodeCmd(conf, logger),
		commands.MakeShowConfigCommand(conf),
		commands.VersionCmd,
	)

	cmd := cli.PrepareBaseCmd(rootCmd, "MEMPOOL", cli.DefaultHome("sharedmempool"))
	if err := cmd.ExecuteContext(ctx); err != nil {
		logger.Error("command failed", "err", err)
		os.Exit(1)
	}
}
