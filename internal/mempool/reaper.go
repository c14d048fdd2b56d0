package mempool

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/tendermint/sharedmempool/config"
	"github.com/tendermint/sharedmempool/libs/log"
	"github.com/tendermint/sharedmempool/libs/service"
)

// peerStatesTimeout bounds how long a snapshot waits for the broadcast loop.
const peerStatesTimeout = time.Second

// ReaperOption sets an optional parameter on the Reaper.
type ReaperOption func(*Reaper)

// WithPeerStates includes the broadcast state reported by src in every
// snapshot.
func WithPeerStates(src PeerStateSource) ReaperOption {
	return func(r *Reaper) { r.peers = src }
}

// WithSnapshotSink hands every snapshot to sink.
func WithSnapshotSink(sink SnapshotSink) ReaperOption {
	return func(r *Reaper) { r.sink = sink }
}

// Reaper periodically garbage collects expired and committed transactions
// and takes snapshots of the mempool.
type Reaper struct {
	service.BaseService
	logger log.Logger

	cfg     *config.MempoolConfig
	mempool *TxMempool
	clock   clock.Clock
	peers   PeerStateSource
	sink    SnapshotSink

	mtx  sync.RWMutex
	last *Snapshot

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewReaper returns a reaper for txmp.
func NewReaper(logger log.Logger, cfg *config.MempoolConfig, txmp *TxMempool, options ...ReaperOption) *Reaper {
	r := &Reaper{
		logger:  logger,
		cfg:     cfg,
		mempool: txmp,
		clock:   txmp.clock,
	}
	r.BaseService = *service.NewBaseService(logger, "Reaper", r)

	for _, opt := range options {
		opt(r)
	}

	return r
}

// OnStart starts the garbage collection and snapshot routines.
func (r *Reaper) OnStart(ctx context.Context) error {
	ctx, r.cancel = context.WithCancel(ctx)

	r.wg.Add(2)
	go r.gcRoutine(ctx)
	go r.snapshotRoutine(ctx)

	return nil
}

// OnStop waits for both routines to exit.
func (r *Reaper) OnStop() {
	r.cancel()
	r.wg.Wait()
}

// Reap removes expired transactions and committed transactions past their
// grace window.
func (r *Reaper) Reap() (expired, committed int) {
	expired, committed = r.mempool.PurgeExpired()
	if expired > 0 || committed > 0 {
		r.logger.Debug("reaped transactions", "expired", expired, "committed", committed)
	}
	return expired, committed
}

// TakeSnapshot records, logs and stores a snapshot of the mempool.
func (r *Reaper) TakeSnapshot(ctx context.Context) Snapshot {
	s := Snapshot{
		Time:  r.clock.Now(),
		Stats: r.mempool.Stats(),
	}

	if r.peers != nil {
		ctx, cancel := context.WithTimeout(ctx, peerStatesTimeout)
		peers, err := r.peers.PeerStates(ctx)
		cancel()
		if err != nil {
			r.logger.Debug("snapshot without peer states", "err", err)
		}
		s.Peers = peers
	}

	r.mtx.Lock()
	r.last = &s
	r.mtx.Unlock()

	r.logger.Info(
		"mempool snapshot",
		"size", s.Stats.Size,
		"size_bytes", s.Stats.SizeBytes,
		"senders", s.Stats.Senders,
		"committed", s.Stats.Committed,
		"peers", len(s.Peers),
		"peers_in_backoff", s.PeersInBackoff(),
	)

	if r.sink != nil {
		if err := r.sink.SaveSnapshot(s); err != nil {
			r.logger.Error("failed to save mempool snapshot", "err", err)
		}
	}

	return s
}

// LastSnapshot returns the most recent snapshot, if any was taken.
func (r *Reaper) LastSnapshot() (Snapshot, bool) {
	r.mtx.RLock()
	defer r.mtx.RUnlock()

	if r.last == nil {
		return Snapshot{}, false
	}
	return *r.last, true
}

func (r *Reaper) gcRoutine(ctx context.Context) {
	defer r.wg.Done()

	ticker := r.clock.Ticker(r.cfg.GCInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Reap()
		}
	}
}

func (r *Reaper) snapshotRoutine(ctx context.Context) {
	defer r.wg.Done()

	ticker := r.clock.Ticker(r.cfg.SnapshotInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.TakeSnapshot(ctx)
		}
	}
}
