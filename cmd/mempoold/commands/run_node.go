package commands

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/creachadair/taskgroup"
	"github.com/spf13/cobra"

	"github.com/tendermint/sharedmempool/config"
	"github.com/tendermint/sharedmempool/libs/log"
	"github.com/tendermint/sharedmempool/node"
	"github.com/tendermint/sharedmempool/types"
)

// AddNodeFlags exposes some common configuration options on the command-line.
func AddNodeFlags(cmd *cobra.Command, conf *config.Config) {
	cmd.Flags().String("moniker", conf.Moniker, "node name")
	cmd.Flags().String("mode", conf.Mode, "node mode (full | validator)")

	cmd.Flags().String("rpc.laddr", conf.RPC.ListenAddress, "RPC listen address, empty disables the server")

	cmd.Flags().Int("p2p.testnet_peers", conf.P2P.TestnetPeers,
		"number of simulated peers to run next to this node")
	cmd.Flags().Int("p2p.testnet_validators", conf.P2P.TestnetValidators,
		"how many of the simulated peers run as validators")
	cmd.Flags().Duration("p2p.testnet_latency", conf.P2P.TestnetLatency,
		"simulated one-way delay of a request between peers")

	cmd.Flags().Int("mempool.capacity", conf.Mempool.Capacity, "maximum number of transactions in the pool")
	cmd.Flags().Int("mempool.capacity_per_user", conf.Mempool.CapacityPerUser,
		"maximum number of transactions per sender")

	cmd.Flags().Bool("instrumentation.prometheus", conf.Instrumentation.Prometheus,
		"serve Prometheus metrics under /metrics on the RPC address")

	cmd.Flags().String("db_backend", conf.DBBackend, "database backend: goleveldb | memdb")
	cmd.Flags().String("db_dir", conf.DBPath, "database directory")
}

// loadConfig drives a synthetic workload through a running node: it submits
// transactions from a fixed set of senders and commits them after a delay.
type loadConfig struct {
	Rate        int
	Senders     int
	CommitDelay time.Duration
}

// NewRunNodeCmd returns the command that allows the CLI to start a node.
func NewRunNodeCmd(conf *config.Config, logger log.Logger) *cobra.Command {
	var load loadConfig

	cmd := &cobra.Command{
		Use:     "start",
		Aliases: []string{"node", "run"},
		Short:   "Run the mempool node",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			n, err := node.New(conf, logger)
			if err != nil {
				return fmt.Errorf("failed to create node: %w", err)
			}
			if err := n.Start(ctx); err != nil {
				return fmt.Errorf("failed to start node: %w", err)
			}
			logger.Info("started node", "node_id", n.NodeID(), "rpc", n.RPCAddress())

			g := taskgroup.New(taskgroup.Trigger(cancel))
			g.Go(func() error {
				n.Wait()
				return nil
			})
			if load.Rate > 0 {
				g.Go(func() error {
					return runLoad(ctx, n, load, logger.With("module", "load"))
				})
			}
			err = g.Wait()

			n.Stop()
			logger.Info("node stopped")
			return err
		},
	}

	AddNodeFlags(cmd, conf)
	cmd.Flags().IntVar(&load.Rate, "load.rate", 0, "synthetic transactions submitted per second, 0 disables the workload")
	cmd.Flags().IntVar(&load.Senders, "load.senders", 8, "number of synthetic senders")
	cmd.Flags().DurationVar(&load.CommitDelay, "load.commit-delay", 2*time.Second,
		"delay after which a synthetic transaction is reported committed")
	return cmd
}

type pendingCommit struct {
	sender   string
	sequence uint64
	at       time.Time
}

func runLoad(ctx context.Context, n *node.Node, load loadConfig, logger log.Logger) error {
	if load.Senders <= 0 {
		return fmt.Errorf("load.senders must be positive, got %d", load.Senders)
	}

	interval := time.Second / time.Duration(load.Rate)
	if interval <= 0 {
		return fmt.Errorf("load.rate %d is too high", load.Rate)
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var (
		submitted uint64
		rejected  uint64
		sequences = make([]uint64, load.Senders)
		pending   []pendingCommit
	)
	for {
		select {
		case <-ctx.Done():
			logger.Info("load stopped", "submitted", submitted, "rejected", rejected)
			return nil

		case now := <-ticker.C:
			i := int(submitted % uint64(load.Senders))
			sender := fmt.Sprintf("load-%d", i)
			sequences[i]++

			tx := types.Tx{
				Sender:     sender,
				Sequence:   sequences[i],
				Priority:   submitted % 16,
				Payload:    []byte(fmt.Sprintf("%s/%d", sender, sequences[i])),
				Expiration: now.Add(time.Minute),
			}
			submitted++
			if err := n.SubmitLocal(ctx, tx); err != nil {
				rejected++
				logger.Debug("synthetic tx rejected", "tx", tx, "reason", types.RejectReason(err))
			} else {
				pending = append(pending, pendingCommit{sender: sender, sequence: tx.Sequence, at: now})
			}

			for len(pending) > 0 && now.Sub(pending[0].at) >= load.CommitDelay {
				n.OnCommitted(pending[0].sender, pending[0].sequence)
				pending = pending[1:]
			}
		}
	}
}
