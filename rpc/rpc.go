// Package rpc serves the node's HTTP surface: local transaction submission
// and the read-only observability feed (status, peers, snapshot history and
// Prometheus metrics).
package rpc

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/tendermint/sharedmempool/internal/mempool"
	"github.com/tendermint/sharedmempool/libs/log"
	"github.com/tendermint/sharedmempool/types"
)

// Mempool is the read side of the pool the handlers report on.
type Mempool interface {
	Stats() mempool.Stats
	GetTx(key types.TxKey) (types.Tx, bool)
}

// Submitter admits locally originated transactions.
type Submitter interface {
	SubmitLocal(ctx context.Context, tx types.Tx) error
}

// SnapshotHistory lists persisted snapshots, newest first.
type SnapshotHistory interface {
	List(limit int) ([]mempool.Snapshot, error)
}

// LastSnapshotSource returns the most recent snapshot taken, if any.
type LastSnapshotSource interface {
	LastSnapshot() (mempool.Snapshot, bool)
}

// Environment contains the objects the HTTP handlers read from and write
// to. Optional fields may be left nil; their routes then report that the
// feature is disabled.
type Environment struct {
	NodeID  types.NodeID
	Moniker string
	Mode    string

	Mempool   Mempool
	Submitter Submitter
	Peers     mempool.PeerStateSource

	// optional
	Snapshots    SnapshotHistory
	LastSnapshot LastSnapshotSource
	Gatherer     prometheus.Gatherer

	Logger log.Logger
}

//-----------------------------------------------------------------------------
// Results

// ResultStatus is returned by /status.
type ResultStatus struct {
	NodeID       types.NodeID      `json:"node_id"`
	Moniker      string            `json:"moniker"`
	Mode         string            `json:"mode"`
	Version      string            `json:"version"`
	Protocol     uint64            `json:"protocol"`
	Mempool      mempool.Stats     `json:"mempool"`
	LastSnapshot *mempool.Snapshot `json:"last_snapshot,omitempty"`
}

// ResultPeers is returned by /peers.
type ResultPeers struct {
	Peers []mempool.PeerSnapshot `json:"peers"`
}

// ResultSnapshots is returned by /snapshots.
type ResultSnapshots struct {
	Snapshots []mempool.Snapshot `json:"snapshots"`
}

// ResultBroadcastTx is returned by /broadcast_tx. A rejected transaction is
// not an HTTP error; Reason carries the admission verdict instead.
type ResultBroadcastTx struct {
	Key      types.TxKey `json:"key"`
	Accepted bool        `json:"accepted"`
	Reason   string      `json:"reason,omitempty"`
	Log      string      `json:"log,omitempty"`
}

// ResultTx is returned by /tx.
type ResultTx struct {
	Tx types.Tx `json:"tx"`
}

// ResultError is the body of every non-2xx response.
type ResultError struct {
	Error string `json:"error"`
}
