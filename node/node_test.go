package node

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fortytw2/leaktest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tendermint/sharedmempool/config"
	"github.com/tendermint/sharedmempool/internal/mempool"
	"github.com/tendermint/sharedmempool/libs/log"
	"github.com/tendermint/sharedmempool/rpc"
	"github.com/tendermint/sharedmempool/types"
)

func makeTestConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.ResetTestRoot(t.TempDir(), t.Name())
	require.NoError(t, err)
	return cfg
}

func startNode(ctx context.Context, t *testing.T, cfg *config.Config, opts ...Option) *Node {
	t.Helper()

	n, err := New(cfg, log.NewNopLogger(), opts...)
	require.NoError(t, err)
	require.NoError(t, n.Start(ctx))
	t.Cleanup(n.Stop)
	return n
}

func TestNodeStartStop(t *testing.T) {
	t.Cleanup(leaktest.Check(t))

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	cfg := makeTestConfig(t)
	n := startNode(ctx, t, cfg)
	require.True(t, n.IsRunning())
	require.NoError(t, n.NodeID().Validate())
	require.NotEmpty(t, n.RPCAddress())

	client := &http.Client{
		Timeout:   5 * time.Second,
		Transport: &http.Transport{DisableKeepAlives: true},
	}
	resp, err := client.Get("http://" + n.RPCAddress() + "/status")
	require.NoError(t, err)
	var status rpc.ResultStatus
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&status))
	require.NoError(t, resp.Body.Close())
	assert.Equal(t, n.NodeID(), status.NodeID)
	assert.Equal(t, cfg.Moniker, status.Moniker)

	n.Stop()
	require.False(t, n.IsRunning())
	n.Wait()
}

func TestNodeKeepsIdentity(t *testing.T) {
	cfg := makeTestConfig(t)
	cfg.RPC.ListenAddress = ""

	first, err := New(cfg, log.NewNopLogger())
	require.NoError(t, err)
	second, err := New(cfg, log.NewNopLogger())
	require.NoError(t, err)
	assert.Equal(t, first.NodeID(), second.NodeID())

	third, err := New(cfg, log.NewNopLogger(), WithNodeID("fixed"))
	require.NoError(t, err)
	assert.Equal(t, types.NodeID("fixed"), third.NodeID())
}

func TestNodeInvalidConfig(t *testing.T) {
	cfg := makeTestConfig(t)
	cfg.Mempool.Capacity = 0

	_, err := New(cfg, log.NewNopLogger())
	require.Error(t, err)
}

func TestNodeBroadcastToTestnet(t *testing.T) {
	t.Cleanup(leaktest.Check(t))

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	cfg := makeTestConfig(t)
	cfg.RPC.ListenAddress = ""
	cfg.Mode = config.ModeValidator
	cfg.P2P.TestnetPeers = 3
	cfg.P2P.TestnetValidators = 1

	n := startNode(ctx, t, cfg)
	testnet := n.TestnetMempools()
	require.Len(t, testnet, 3)

	for seq := uint64(1); seq <= 3; seq++ {
		tx := types.Tx{Sender: "alice", Sequence: seq, Priority: 1, Payload: []byte("payload")}
		require.NoError(t, n.SubmitLocal(ctx, tx))
	}

	require.Eventually(t, func() bool {
		for _, txmp := range testnet {
			if txmp.Size() != 3 {
				return false
			}
		}
		return true
	}, 5*time.Second, 10*time.Millisecond)

	require.Eventually(t, func() bool {
		peers, err := n.Reactor().PeerStates(ctx)
		return err == nil && len(peers) == 3
	}, 5*time.Second, 10*time.Millisecond)

	require.Equal(t, 2, n.OnCommitted("alice", 2))
	for _, txmp := range testnet {
		assert.Equal(t, 1, txmp.Size())
	}
	assert.Equal(t, 1, n.Mempool().Size())
}

func TestNodeSubmitLocalRejects(t *testing.T) {
	cfg := makeTestConfig(t)
	cfg.RPC.ListenAddress = ""

	validator := mempool.ValidatorFunc(func(tx types.Tx) bool { return tx.Sender != "mallory" })
	n, err := New(cfg, log.NewNopLogger(), WithValidator(validator))
	require.NoError(t, err)

	ctx := context.Background()
	err = n.SubmitLocal(ctx, types.Tx{Sender: "mallory", Sequence: 1})
	require.ErrorAs(t, err, &types.ErrInvalidTx{})
	require.NoError(t, n.SubmitLocal(ctx, types.Tx{Sender: "alice", Sequence: 1}))
}

func TestNodeSnapshotHistory(t *testing.T) {
	cfg := makeTestConfig(t)
	cfg.RPC.ListenAddress = ""
	cfg.Mempool.SnapshotHistorySize = 2

	n, err := New(cfg, log.NewNopLogger())
	require.NoError(t, err)
	require.NotNil(t, n.SnapshotStore())

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		require.NoError(t, n.SubmitLocal(ctx, types.Tx{Sender: "alice", Sequence: uint64(i)}))
		n.Reaper().TakeSnapshot(ctx)
	}

	snaps, err := n.SnapshotStore().List(0)
	require.NoError(t, err)
	require.Len(t, snaps, 2)
	assert.Equal(t, 3, snaps[0].Stats.Size)
	assert.Equal(t, 2, snaps[1].Stats.Size)

	cfg.Mempool.SnapshotHistorySize = 0
	n, err = New(cfg, log.NewNopLogger())
	require.NoError(t, err)
	assert.Nil(t, n.SnapshotStore())
}

func TestLoadOrGenNodeID(t *testing.T) {
	path := filepath.Join(t.TempDir(), "node_id.json")

	id, err := LoadOrGenNodeID(path)
	require.NoError(t, err)
	require.NoError(t, id.Validate())

	loaded, err := LoadOrGenNodeID(path)
	require.NoError(t, err)
	assert.Equal(t, id, loaded)

	require.NoError(t, os.WriteFile(path, []byte("not json"), 0600))
	_, err = LoadNodeID(path)
	require.Error(t, err)

	require.NoError(t, os.WriteFile(path, []byte(`{"id":""}`), 0600))
	_, err = LoadNodeID(path)
	require.Error(t, err)
}

func TestDefaultDBProvider(t *testing.T) {
	cfg := makeTestConfig(t)

	cfg.DBBackend = "memdb"
	db, err := DefaultDBProvider("snapshots", cfg)
	require.NoError(t, err)
	require.NoError(t, db.Set([]byte("k"), []byte("v")))
	require.NoError(t, db.Close())
	assert.NoDirExists(t, filepath.Join(cfg.DBDir(), "snapshots.db"))

	cfg.DBBackend = "goleveldb"
	db, err = DefaultDBProvider("snapshots", cfg)
	require.NoError(t, err)
	require.NoError(t, db.Close())
	assert.DirExists(t, filepath.Join(cfg.DBDir(), "snapshots.db"))
}
