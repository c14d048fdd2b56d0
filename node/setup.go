package node

import (
	"context"
	"fmt"

	dbm "github.com/tendermint/tm-db"

	"github.com/tendermint/sharedmempool/config"
	"github.com/tendermint/sharedmempool/internal/mempool"
	"github.com/tendermint/sharedmempool/internal/p2p"
	"github.com/tendermint/sharedmempool/internal/store"
	"github.com/tendermint/sharedmempool/libs/log"
	tmos "github.com/tendermint/sharedmempool/libs/os"
	"github.com/tendermint/sharedmempool/types"
	"github.com/tendermint/sharedmempool/version"
)

// testnetPeer is a simulated peer running its own mempool and reactor on
// the node's in-process network.
type testnetPeer struct {
	id          types.NodeID
	role        p2p.PeerRole
	mempool     *mempool.TxMempool
	reactor     *mempool.Reactor
	transport   *mempool.NetworkTransport
	peerUpdates *p2p.PeerUpdates
}

func createMetrics(cfg *config.InstrumentationConfig, nodeID types.NodeID) *mempool.Metrics {
	if cfg.Prometheus {
		return mempool.PrometheusMetrics(cfg.Namespace, "node_id", string(nodeID))
	}
	return mempool.NopMetrics()
}

func createMempoolAndReactor(
	logger log.Logger,
	cfg *config.Config,
	nodeID types.NodeID,
	network *p2p.MemoryNetwork,
	validator mempool.Validator,
	metrics *mempool.Metrics,
) (*mempool.TxMempool, *mempool.Reactor, *mempool.NetworkTransport, *p2p.PeerUpdates) {
	logger = logger.With("module", "mempool")

	txmp := mempool.NewTxMempool(logger, cfg.Mempool, validator, mempool.WithMetrics(metrics))
	transport := mempool.NewNetworkTransport(nodeID, network)
	peerUpdates := p2p.NewPeerUpdates(cfg.P2P.TestnetPeers + 1)
	reactor := mempool.NewReactor(logger, cfg.Mempool, txmp, transport, peerUpdates)
	transport.Serve(reactor)

	return txmp, reactor, transport, peerUpdates
}

// DBProvider opens the named database of a node.
type DBProvider func(name string, cfg *config.Config) (dbm.DB, error)

// DefaultDBProvider opens name with the configured backend under the
// configured database directory.
func DefaultDBProvider(name string, cfg *config.Config) (dbm.DB, error) {
	backend := dbm.BackendType(cfg.DBBackend)
	if backend != dbm.MemDBBackend {
		if err := tmos.EnsureDir(cfg.DBDir(), 0700); err != nil {
			return nil, err
		}
	}
	return dbm.NewDB(name, backend, cfg.DBDir())
}

func createSnapshotStore(cfg *config.Config, dbProvider DBProvider) (*store.SnapshotStore, error) {
	db, err := dbProvider("snapshots", cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open snapshot database: %w", err)
	}
	return store.NewSnapshotStore(db, cfg.Mempool.SnapshotHistorySize), nil
}

// createTestnet builds cfg.P2P.TestnetPeers simulated peers. The first
// TestnetValidators of them run as validators.
func createTestnet(
	logger log.Logger,
	cfg *config.Config,
	network *p2p.MemoryNetwork,
	validator mempool.Validator,
) []*testnetPeer {
	peers := make([]*testnetPeer, 0, cfg.P2P.TestnetPeers)
	for i := 0; i < cfg.P2P.TestnetPeers; i++ {
		id := types.NodeID(fmt.Sprintf("testnet%d", i))
		role := p2p.PeerRoleFull
		if i < cfg.P2P.TestnetValidators {
			role = p2p.PeerRoleValidator
		}

		peerLogger := logger.With("testnet_peer", id)
		txmp, reactor, transport, peerUpdates := createMempoolAndReactor(
			peerLogger, cfg, id, network, validator, mempool.NopMetrics())

		peers = append(peers, &testnetPeer{
			id:          id,
			role:        role,
			mempool:     txmp,
			reactor:     reactor,
			transport:   transport,
			peerUpdates: peerUpdates,
		})
	}
	return peers
}

// connectTestnet announces every testnet peer to the node and to each
// other, and the node to every testnet peer.
func connectTestnet(
	ctx context.Context,
	nodeID types.NodeID,
	mode string,
	peerUpdates *p2p.PeerUpdates,
	testnet []*testnetPeer,
) {
	nodeRole := p2p.PeerRoleFull
	if mode == config.ModeValidator {
		nodeRole = p2p.PeerRoleValidator
	}

	for _, peer := range testnet {
		peerUpdates.SendUpdate(ctx, upUpdate(peer.id, peer.role))
		peer.peerUpdates.SendUpdate(ctx, upUpdate(nodeID, nodeRole))
		for _, other := range testnet {
			if other.id != peer.id {
				peer.peerUpdates.SendUpdate(ctx, upUpdate(other.id, other.role))
			}
		}
	}
}

// upUpdate announces a peer over the network instances its role reaches:
// validators are reached over the validator network first, full nodes over
// the public network.
func upUpdate(id types.NodeID, role p2p.PeerRole) p2p.PeerUpdate {
	networks := []p2p.NetworkID{p2p.NetworkPublic, p2p.NetworkVFN}
	if role == p2p.PeerRoleValidator {
		networks = []p2p.NetworkID{p2p.NetworkValidator, p2p.NetworkVFN, p2p.NetworkPublic}
	}
	return p2p.PeerUpdate{
		NodeID:   id,
		Status:   p2p.PeerStatusUp,
		Role:     role,
		Networks: networks,
	}
}

func logNodeStartupInfo(logger log.Logger, nodeID types.NodeID, cfg *config.Config) {
	logger.Info("version info",
		"version", version.Version,
		"protocol", version.BroadcastProtocol,
		"mode", cfg.Mode,
	)
	logger.Info("node identity",
		"node_id", nodeID,
		"moniker", cfg.Moniker,
		"testnet_peers", cfg.P2P.TestnetPeers,
		"testnet_validators", cfg.P2P.TestnetValidators,
	)
}
