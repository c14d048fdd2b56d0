package node

import (
	"context"
	"fmt"
	"net"
	"sync"

	stdprometheus "github.com/prometheus/client_golang/prometheus"

	"github.com/tendermint/sharedmempool/config"
	"github.com/tendermint/sharedmempool/internal/mempool"
	"github.com/tendermint/sharedmempool/internal/p2p"
	"github.com/tendermint/sharedmempool/internal/store"
	"github.com/tendermint/sharedmempool/libs/log"
	"github.com/tendermint/sharedmempool/libs/service"
	"github.com/tendermint/sharedmempool/rpc"
	"github.com/tendermint/sharedmempool/types"
)

// Node is the highest level interface to a running mempool node.
// It assembles the mempool, its broadcast reactor, the reaper, the snapshot
// history and the HTTP server, and optionally a simulated testnet of peers
// sharing an in-process network.
type Node struct {
	service.BaseService
	logger log.Logger

	config *config.Config
	nodeID types.NodeID

	network     *p2p.MemoryNetwork
	peerUpdates *p2p.PeerUpdates
	transport   *mempool.NetworkTransport

	mempool   *mempool.TxMempool
	reactor   *mempool.Reactor
	reaper    *mempool.Reaper
	snapshots *store.SnapshotStore // nil when the history is disabled

	testnet []*testnetPeer

	rpcEnv      *rpc.Environment
	rpcListener net.Listener

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Option sets an optional parameter on the Node.
type Option func(*options)

type options struct {
	validator  mempool.Validator
	dbProvider DBProvider
	nodeID     types.NodeID
}

// WithValidator sets the validity oracle consulted on admission. By default
// every transaction is accepted.
func WithValidator(v mempool.Validator) Option {
	return func(o *options) { o.validator = v }
}

// WithDBProvider overrides how the snapshot history database is opened.
func WithDBProvider(p DBProvider) Option {
	return func(o *options) { o.dbProvider = p }
}

// WithNodeID sets the node identity instead of loading it from the node ID
// file.
func WithNodeID(id types.NodeID) Option {
	return func(o *options) { o.nodeID = id }
}

// New constructs a Node from cfg. The node is not started.
func New(cfg *config.Config, logger log.Logger, opts ...Option) (*Node, error) {
	if err := cfg.ValidateBasic(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	o := options{
		validator:  mempool.AcceptAll,
		dbProvider: DefaultDBProvider,
	}
	for _, opt := range opts {
		opt(&o)
	}

	nodeID := o.nodeID
	if nodeID == "" {
		var err error
		if nodeID, err = LoadOrGenNodeID(cfg.NodeIDFile()); err != nil {
			return nil, fmt.Errorf("failed to load or generate node ID: %w", err)
		}
	}

	n := &Node{
		logger:  logger,
		config:  cfg,
		nodeID:  nodeID,
		network: p2p.NewMemoryNetwork(logger.With("module", "p2p"), cfg.P2P.TestnetLatency),
	}
	n.BaseService = *service.NewBaseService(logger, "Node", n)

	metrics := createMetrics(cfg.Instrumentation, nodeID)
	n.mempool, n.reactor, n.transport, n.peerUpdates = createMempoolAndReactor(
		logger, cfg, nodeID, n.network, o.validator, metrics)

	reaperOpts := []mempool.ReaperOption{mempool.WithPeerStates(n.reactor)}
	if cfg.Mempool.SnapshotHistorySize > 0 {
		snapshots, err := createSnapshotStore(cfg, o.dbProvider)
		if err != nil {
			n.transport.Close()
			return nil, err
		}
		n.snapshots = snapshots
		reaperOpts = append(reaperOpts, mempool.WithSnapshotSink(snapshots))
	}
	n.reaper = mempool.NewReaper(logger.With("module", "reaper"), cfg.Mempool, n.mempool, reaperOpts...)

	n.testnet = createTestnet(logger, cfg, n.network, o.validator)

	n.rpcEnv = &rpc.Environment{
		NodeID:       nodeID,
		Moniker:      cfg.Moniker,
		Mode:         cfg.Mode,
		Mempool:      n.mempool,
		Submitter:    n,
		Peers:        n.reactor,
		LastSnapshot: n.reaper,
		Logger:       logger.With("module", "rpc-server"),
	}
	if n.snapshots != nil {
		n.rpcEnv.Snapshots = n.snapshots
	}
	if cfg.Instrumentation.Prometheus {
		n.rpcEnv.Gatherer = stdprometheus.DefaultGatherer
	}

	return n, nil
}

// OnStart starts the reactor, the reaper, the simulated testnet and the
// HTTP server, then announces the testnet peers.
func (n *Node) OnStart(ctx context.Context) error {
	ctx, n.cancel = context.WithCancel(ctx)

	logNodeStartupInfo(n.logger, n.nodeID, n.config)

	for _, peer := range n.testnet {
		if err := peer.reactor.Start(ctx); err != nil {
			return fmt.Errorf("starting testnet peer %v: %w", peer.id, err)
		}
	}
	if err := n.reactor.Start(ctx); err != nil {
		return err
	}
	if err := n.reaper.Start(ctx); err != nil {
		return err
	}

	if addr := n.config.RPC.ListenAddress; addr != "" {
		listener, err := rpc.Listen(addr, n.config.RPC.MaxOpenConnections)
		if err != nil {
			return err
		}
		n.rpcListener = listener

		server := &rpc.Server{
			Logger:  n.rpcEnv.Logger,
			Config:  n.config.RPC,
			Handler: n.rpcEnv.Handler(n.config.RPC),
		}
		n.wg.Add(1)
		go func() {
			defer n.wg.Done()
			if err := server.Serve(ctx, listener); err != nil {
				n.logger.Error("RPC server stopped with error", "err", err)
			}
		}()
	}

	connectTestnet(ctx, n.nodeID, n.config.Mode, n.peerUpdates, n.testnet)
	return nil
}

// OnStop stops every service the node started, in reverse order.
func (n *Node) OnStop() {
	n.cancel()
	n.wg.Wait()

	n.reaper.Stop()
	n.reactor.Stop()
	n.transport.Close()
	for _, peer := range n.testnet {
		peer.reactor.Stop()
		peer.transport.Close()
	}

	if n.snapshots != nil {
		if err := n.snapshots.Close(); err != nil {
			n.logger.Error("error closing snapshot store", "err", err)
		}
	}
}

// SubmitLocal admits a locally originated transaction. A nil error means
// it was accepted and will be broadcast to peers; otherwise the error is
// one of the admission verdicts in package types.
func (n *Node) SubmitLocal(ctx context.Context, tx types.Tx) error {
	return n.mempool.CheckTx(ctx, tx, mempool.TxInfo{})
}

// OnCommitted marks every pending transaction of sender with a sequence up
// to and including sequence as committed. Simulated testnet peers observe
// the same commit. It returns the number of local transactions marked.
func (n *Node) OnCommitted(sender string, sequence uint64) int {
	for _, peer := range n.testnet {
		peer.mempool.Update(sender, sequence)
	}
	return n.mempool.Update(sender, sequence)
}

// NodeID returns the node's identity.
func (n *Node) NodeID() types.NodeID { return n.nodeID }

// Config returns the node's configuration.
func (n *Node) Config() *config.Config { return n.config }

// Mempool returns the node's mempool.
func (n *Node) Mempool() *mempool.TxMempool { return n.mempool }

// Reactor returns the node's broadcast reactor.
func (n *Node) Reactor() *mempool.Reactor { return n.reactor }

// Reaper returns the node's expiry reaper.
func (n *Node) Reaper() *mempool.Reaper { return n.reaper }

// SnapshotStore returns the snapshot history, or nil when it is disabled.
func (n *Node) SnapshotStore() *store.SnapshotStore { return n.snapshots }

// RPCAddress returns the address the HTTP server listens on, or an empty
// string when it is not running.
func (n *Node) RPCAddress() string {
	if n.rpcListener == nil {
		return ""
	}
	return n.rpcListener.Addr().String()
}

// TestnetMempools returns the mempools of the simulated testnet peers.
func (n *Node) TestnetMempools() map[types.NodeID]*mempool.TxMempool {
	out := make(map[types.NodeID]*mempool.TxMempool, len(n.testnet))
	for _, peer := range n.testnet {
		out[peer.id] = peer.mempool
	}
	return out
}
