package rpc

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"

	"github.com/tendermint/sharedmempool/config"
	"github.com/tendermint/sharedmempool/internal/mempool"
	"github.com/tendermint/sharedmempool/types"
	"github.com/tendermint/sharedmempool/version"
)

const defaultSnapshotsLimit = 20

var errDisabled = errors.New("disabled on this node")

// Handler returns the root handler serving every route of env, wrapped in
// CORS handling when cfg enables it.
func (env *Environment) Handler(cfg *config.RPCConfig) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/status", env.get(env.Status))
	mux.HandleFunc("/peers", env.get(env.NetInfo))
	mux.HandleFunc("/snapshots", env.get(env.SnapshotHistory))
	mux.HandleFunc("/tx", env.get(env.Tx))
	mux.Handle("/broadcast_tx", env.broadcastTxHandler(cfg.MaxBodyBytes))
	if env.Gatherer != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(env.Gatherer, promhttp.HandlerOpts{}))
	}

	var rootHandler http.Handler = mux
	if cfg.IsCorsEnabled() {
		corsMiddleware := cors.New(cors.Options{
			AllowedOrigins: cfg.CORSAllowedOrigins,
			AllowedMethods: cfg.CORSAllowedMethods,
			AllowedHeaders: cfg.CORSAllowedHeaders,
		})
		rootHandler = corsMiddleware.Handler(mux)
	}
	return rootHandler
}

// getFunc computes the result of a read-only route. Errors are reported
// with the returned status code.
type getFunc func(r *http.Request) (interface{}, int, error)

func (env *Environment) get(fn getFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method %s not allowed", r.Method))
			return
		}
		res, status, err := fn(r)
		if err != nil {
			writeError(w, status, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

// Status returns the node identity, mempool statistics and the last
// snapshot taken.
func (env *Environment) Status(r *http.Request) (interface{}, int, error) {
	res := &ResultStatus{
		NodeID:   env.NodeID,
		Moniker:  env.Moniker,
		Mode:     env.Mode,
		Version:  version.Version,
		Protocol: version.BroadcastProtocol.Uint64(),
		Mempool:  env.Mempool.Stats(),
	}
	if env.LastSnapshot != nil {
		if snap, ok := env.LastSnapshot.LastSnapshot(); ok {
			res.LastSnapshot = &snap
		}
	}
	return res, http.StatusOK, nil
}

// NetInfo returns the broadcast state of every known peer.
func (env *Environment) NetInfo(r *http.Request) (interface{}, int, error) {
	peers, err := env.Peers.PeerStates(r.Context())
	if err != nil {
		return nil, http.StatusServiceUnavailable, err
	}
	return &ResultPeers{Peers: peers}, http.StatusOK, nil
}

// SnapshotHistory returns persisted snapshots, newest first. The optional
// limit query parameter bounds the result.
func (env *Environment) SnapshotHistory(r *http.Request) (interface{}, int, error) {
	if env.Snapshots == nil {
		return nil, http.StatusNotFound, fmt.Errorf("snapshot history: %w", errDisabled)
	}

	limit := defaultSnapshotsLimit
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			return nil, http.StatusBadRequest, fmt.Errorf("invalid limit %q", s)
		}
		limit = n
	}

	snaps, err := env.Snapshots.List(limit)
	if err != nil {
		return nil, http.StatusInternalServerError, err
	}
	if snaps == nil {
		snaps = []mempool.Snapshot{}
	}
	return &ResultSnapshots{Snapshots: snaps}, http.StatusOK, nil
}

// Tx looks up a pending transaction by sender and sequence.
func (env *Environment) Tx(r *http.Request) (interface{}, int, error) {
	q := r.URL.Query()
	sender := q.Get("sender")
	if sender == "" {
		return nil, http.StatusBadRequest, errors.New("missing sender")
	}
	seq, err := strconv.ParseUint(q.Get("sequence"), 10, 64)
	if err != nil {
		return nil, http.StatusBadRequest, fmt.Errorf("invalid sequence %q", q.Get("sequence"))
	}

	tx, ok := env.Mempool.GetTx(types.TxKey{Sender: sender, Sequence: seq})
	if !ok {
		return nil, http.StatusNotFound, fmt.Errorf("tx %s:%d not found", sender, seq)
	}
	return &ResultTx{Tx: tx}, http.StatusOK, nil
}
