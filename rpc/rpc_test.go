package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tendermint/sharedmempool/config"
	"github.com/tendermint/sharedmempool/internal/mempool"
	"github.com/tendermint/sharedmempool/internal/p2p"
	"github.com/tendermint/sharedmempool/libs/log"
	"github.com/tendermint/sharedmempool/types"
	"github.com/tendermint/sharedmempool/version"
)

type submitterFunc func(ctx context.Context, tx types.Tx) error

func (f submitterFunc) SubmitLocal(ctx context.Context, tx types.Tx) error { return f(ctx, tx) }

type staticPeers struct {
	peers []mempool.PeerSnapshot
	err   error
}

func (s staticPeers) PeerStates(context.Context) ([]mempool.PeerSnapshot, error) {
	return s.peers, s.err
}

type staticHistory []mempool.Snapshot

func (h staticHistory) List(limit int) ([]mempool.Snapshot, error) {
	if limit > 0 && limit < len(h) {
		return h[:limit], nil
	}
	return h, nil
}

func newTestEnvironment(t *testing.T) (*Environment, *mempool.TxMempool) {
	t.Helper()

	logger := log.NewTestingLogger(t)
	txmp := mempool.NewTxMempool(logger, config.TestMempoolConfig(), mempool.AcceptAll)
	env := &Environment{
		NodeID:  "node0",
		Moniker: "test",
		Mode:    config.ModeFull,
		Mempool: txmp,
		Submitter: submitterFunc(func(ctx context.Context, tx types.Tx) error {
			return txmp.CheckTx(ctx, tx, mempool.TxInfo{})
		}),
		Peers:  staticPeers{},
		Logger: logger,
	}
	return env, txmp
}

func doRequest(t *testing.T, h http.Handler, method, target string, body io.Reader) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, body)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v))
}

func encodeTx(t *testing.T, tx types.Tx) io.Reader {
	t.Helper()
	bz, err := json.Marshal(tx)
	require.NoError(t, err)
	return bytes.NewReader(bz)
}

func TestStatus(t *testing.T) {
	env, txmp := newTestEnvironment(t)
	h := env.Handler(config.TestRPCConfig())

	require.NoError(t, txmp.CheckTx(context.Background(),
		types.Tx{Sender: "alice", Sequence: 1, Payload: []byte("abc")}, mempool.TxInfo{}))

	rec := doRequest(t, h, http.MethodGet, "/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var res ResultStatus
	decode(t, rec, &res)
	assert.Equal(t, types.NodeID("node0"), res.NodeID)
	assert.Equal(t, config.ModeFull, res.Mode)
	assert.Equal(t, version.Version, res.Version)
	assert.Equal(t, 1, res.Mempool.Size)
	assert.EqualValues(t, 3, res.Mempool.SizeBytes)
	assert.Nil(t, res.LastSnapshot)

	rec = doRequest(t, h, http.MethodPost, "/status", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestBroadcastTx(t *testing.T) {
	env, txmp := newTestEnvironment(t)
	h := env.Handler(config.TestRPCConfig())

	tx := types.Tx{Sender: "alice", Sequence: 1, Priority: 5, Payload: []byte("hello")}

	rec := doRequest(t, h, http.MethodPost, "/broadcast_tx", encodeTx(t, tx))
	require.Equal(t, http.StatusOK, rec.Code)
	var res ResultBroadcastTx
	decode(t, rec, &res)
	assert.Equal(t, ResultBroadcastTx{Key: tx.Key(), Accepted: true}, res)
	assert.Equal(t, 1, txmp.Size())

	// same priority is a duplicate
	rec = doRequest(t, h, http.MethodPost, "/broadcast_tx", encodeTx(t, tx))
	require.Equal(t, http.StatusOK, rec.Code)
	res = ResultBroadcastTx{}
	decode(t, rec, &res)
	assert.False(t, res.Accepted)
	assert.Equal(t, "duplicate", res.Reason)
	assert.NotEmpty(t, res.Log)

	testCases := []struct {
		name   string
		method string
		body   io.Reader
		status int
	}{
		{"wrong method", http.MethodGet, nil, http.StatusMethodNotAllowed},
		{"malformed json", http.MethodPost, strings.NewReader("{"), http.StatusBadRequest},
		{"empty sender", http.MethodPost, encodeTx(t, types.Tx{Sequence: 1}), http.StatusBadRequest},
	}
	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			rec := doRequest(t, h, tc.method, "/broadcast_tx", tc.body)
			require.Equal(t, tc.status, rec.Code)
			var res ResultError
			decode(t, rec, &res)
			assert.NotEmpty(t, res.Error)
		})
	}
}

func TestBroadcastTxBodyLimit(t *testing.T) {
	env, txmp := newTestEnvironment(t)
	cfg := config.TestRPCConfig()
	cfg.MaxBodyBytes = 64
	h := env.Handler(cfg)

	tx := types.Tx{Sender: "alice", Sequence: 1, Payload: make([]byte, 256)}
	rec := doRequest(t, h, http.MethodPost, "/broadcast_tx", encodeTx(t, tx))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Zero(t, txmp.Size())
}

func TestBroadcastTxSubmitterError(t *testing.T) {
	env, _ := newTestEnvironment(t)
	env.Submitter = submitterFunc(func(context.Context, types.Tx) error {
		return errors.New("node is shutting down")
	})
	h := env.Handler(config.TestRPCConfig())

	rec := doRequest(t, h, http.MethodPost, "/broadcast_tx", encodeTx(t, types.Tx{Sender: "alice"}))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestPeers(t *testing.T) {
	env, _ := newTestEnvironment(t)
	peers := []mempool.PeerSnapshot{{
		NodeID:  "peer1",
		Role:    p2p.PeerRoleValidator,
		Network: p2p.NetworkVFN,
		State:   mempool.StateBackoff.String(),
	}}
	env.Peers = staticPeers{peers: peers}
	h := env.Handler(config.TestRPCConfig())

	rec := doRequest(t, h, http.MethodGet, "/peers", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var res ResultPeers
	decode(t, rec, &res)
	require.Len(t, res.Peers, 1)
	assert.Equal(t, p2p.NetworkVFN, res.Peers[0].Network)

	env.Peers = staticPeers{err: mempool.ErrReactorStopped}
	rec = doRequest(t, env.Handler(config.TestRPCConfig()), http.MethodGet, "/peers", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestSnapshotHistory(t *testing.T) {
	env, _ := newTestEnvironment(t)

	rec := doRequest(t, env.Handler(config.TestRPCConfig()), http.MethodGet, "/snapshots", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	now := time.Date(2022, 5, 1, 0, 0, 0, 0, time.UTC)
	env.Snapshots = staticHistory{
		{Time: now.Add(2 * time.Second)},
		{Time: now.Add(time.Second)},
		{Time: now},
	}
	h := env.Handler(config.TestRPCConfig())

	rec = doRequest(t, h, http.MethodGet, "/snapshots?limit=2", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var res ResultSnapshots
	decode(t, rec, &res)
	require.Len(t, res.Snapshots, 2)
	assert.True(t, res.Snapshots[0].Time.Equal(now.Add(2*time.Second)))

	rec = doRequest(t, h, http.MethodGet, "/snapshots?limit=abc", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTx(t *testing.T) {
	env, txmp := newTestEnvironment(t)
	h := env.Handler(config.TestRPCConfig())

	tx := types.Tx{Sender: "alice", Sequence: 7, Priority: 3, Payload: []byte("x")}
	require.NoError(t, txmp.CheckTx(context.Background(), tx, mempool.TxInfo{}))

	rec := doRequest(t, h, http.MethodGet, "/tx?sender=alice&sequence=7", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var res ResultTx
	decode(t, rec, &res)
	assert.Equal(t, tx.Key(), res.Tx.Key())
	assert.Equal(t, tx.Priority, res.Tx.Priority)

	rec = doRequest(t, h, http.MethodGet, "/tx?sender=alice&sequence=8", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = doRequest(t, h, http.MethodGet, "/tx?sequence=8", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = doRequest(t, h, http.MethodGet, "/tx?sender=alice&sequence=-1", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMetricsRoute(t *testing.T) {
	env, _ := newTestEnvironment(t)

	rec := doRequest(t, env.Handler(config.TestRPCConfig()), http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	registry := prometheus.NewRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "sharedmempool",
		Name:      "test_total",
		Help:      "Test counter.",
	})
	registry.MustRegister(counter)
	counter.Add(3)
	env.Gatherer = registry

	rec = doRequest(t, env.Handler(config.TestRPCConfig()), http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "sharedmempool_test_total 3")
}

func TestCORS(t *testing.T) {
	env, _ := newTestEnvironment(t)
	cfg := config.TestRPCConfig()
	cfg.CORSAllowedOrigins = []string{"*"}
	h := env.Handler(cfg)

	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	req.Header.Set("Origin", "http://example.com")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestRecoverAndLogHandler(t *testing.T) {
	h := RecoverAndLogHandler(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}), log.NewNopLogger())

	rec := doRequest(t, h, http.MethodGet, "/", nil)
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	var res ResultError
	decode(t, rec, &res)
	assert.Contains(t, res.Error, "boom")
	assert.NotEmpty(t, rec.Header().Get("X-Server-Time"))
}

func TestServerServe(t *testing.T) {
	env, _ := newTestEnvironment(t)
	cfg := config.TestRPCConfig()

	listener, err := Listen(cfg.ListenAddress, cfg.MaxOpenConnections)
	require.NoError(t, err)

	server := &Server{Logger: log.NewNopLogger(), Config: cfg, Handler: env.Handler(cfg)}
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	errCh := make(chan error, 1)
	go func() { errCh <- server.Serve(ctx, listener) }()

	client := &http.Client{
		Timeout:   5 * time.Second,
		Transport: &http.Transport{DisableKeepAlives: true},
	}
	resp, err := client.Get("http://" + listener.Addr().String() + "/status")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, resp.Body.Close())

	cancel()
	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}
