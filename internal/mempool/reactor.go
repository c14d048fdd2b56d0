package mempool

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/benbjohnson/clock"

	"github.com/tendermint/sharedmempool/config"
	"github.com/tendermint/sharedmempool/internal/p2p"
	"github.com/tendermint/sharedmempool/libs/log"
	"github.com/tendermint/sharedmempool/libs/service"
	"github.com/tendermint/sharedmempool/types"
)

var (
	_ service.Service = (*Reactor)(nil)
	_ InboundHandler  = (*Reactor)(nil)
)

// ErrReactorStopped is returned by queries made after the reactor stopped.
var ErrReactorStopped = errors.New("mempool reactor stopped")

// sendResult is the outcome of one dispatched batch.
type sendResult struct {
	dispatch
	ack *BroadcastAck
	err error
}

// Reactor gossips the mempool to peers and serves inbound broadcasts.
//
// All broadcast state lives in a scheduler owned by a single event loop.
// Ticks, send results and peer updates are applied in order on that loop;
// the sends themselves run on their own goroutines so that a slow peer
// never holds up the others.
type Reactor struct {
	service.BaseService
	logger log.Logger

	cfg       *config.MempoolConfig
	mempool   *TxMempool
	transport Transport
	limiter   *SyncLimiter
	metrics   *Metrics
	clock     clock.Clock

	peerUpdates *p2p.PeerUpdates
	sched       *scheduler

	// admitted collects keys admitted since the last tick. Keys are only
	// collected while the broadcast loop runs.
	admittedMtx  sync.Mutex
	admitted     []types.TxKey
	broadcasting bool

	results    chan sendResult
	snapshotCh chan chan []PeerSnapshot
	done       chan struct{}

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewReactor returns a reference to a new reactor gossiping txmp over
// transport to the peers announced on peerUpdates.
func NewReactor(
	logger log.Logger,
	cfg *config.MempoolConfig,
	txmp *TxMempool,
	transport Transport,
	peerUpdates *p2p.PeerUpdates,
) *Reactor {
	r := &Reactor{
		logger:      logger,
		cfg:         cfg,
		mempool:     txmp,
		transport:   transport,
		limiter:     NewSyncLimiter(cfg.MaxConcurrentInboundSyncs),
		metrics:     txmp.metrics,
		clock:       txmp.clock,
		peerUpdates: peerUpdates,
		sched:       newScheduler(logger, cfg, txmp, txmp.metrics),
		results:     make(chan sendResult, cfg.MaxBroadcastsPerPeer),
		snapshotCh:  make(chan chan []PeerSnapshot),
		done:        make(chan struct{}),
	}
	r.BaseService = *service.NewBaseService(logger, "Mempool", r)

	txmp.OnTxAdmitted(r.txAdmitted)
	return r
}

// OnStart starts the broadcast loop. The loop exits when the service stops.
func (r *Reactor) OnStart(ctx context.Context) error {
	ctx, r.cancel = context.WithCancel(ctx)

	r.admittedMtx.Lock()
	r.broadcasting = true
	r.admittedMtx.Unlock()

	r.wg.Add(1)
	go r.run(ctx)

	return nil
}

// OnStop cancels outstanding sends and waits for the broadcast loop to
// exit.
func (r *Reactor) OnStop() {
	r.cancel()
	r.wg.Wait()
}

// HandleInboundBroadcast admits the transactions of a batch received from a
// peer. When every inbound slot is taken the batch is refused with a busy
// ack without being looked at.
func (r *Reactor) HandleInboundBroadcast(
	ctx context.Context,
	from types.NodeID,
	batch *BroadcastBatch,
) (ack *BroadcastAck, err error) {
	defer func() {
		if e := recover(); e != nil {
			err = fmt.Errorf("panic in processing broadcast: %v", e)
			r.logger.Error("recovered from panic handling inbound broadcast", "peer", from, "err", err)
		}
	}()

	if err := batch.ValidateBasic(); err != nil {
		return nil, err
	}

	ticket, err := r.limiter.Acquire()
	if err != nil {
		r.metrics.InboundBusy.Add(1)
		r.logger.Debug("refusing inbound broadcast", "peer", from, "attempt", batch.AttemptID, "err", err)
		return &BroadcastAck{AttemptID: batch.AttemptID, Busy: true}, nil
	}
	defer ticket.Release()

	r.metrics.InboundInflight.Add(1)
	defer r.metrics.InboundInflight.Add(-1)

	ack = &BroadcastAck{AttemptID: batch.AttemptID}
	txInfo := TxInfo{SenderNodeID: from}
	for _, tx := range batch.Txs {
		if err := r.mempool.CheckTx(ctx, tx, txInfo); err != nil {
			ack.Rejected++
			continue
		}
		ack.Accepted++
	}

	return ack, nil
}

// PeerStates returns the broadcast state of every known peer.
func (r *Reactor) PeerStates(ctx context.Context) ([]PeerSnapshot, error) {
	ch := make(chan []PeerSnapshot, 1)

	select {
	case r.snapshotCh <- ch:
	case <-r.done:
		return nil, ErrReactorStopped
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	select {
	case peers := <-ch:
		return peers, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (r *Reactor) txAdmitted(key types.TxKey) {
	r.admittedMtx.Lock()
	defer r.admittedMtx.Unlock()
	if !r.broadcasting {
		return
	}
	r.admitted = append(r.admitted, key)
}

func (r *Reactor) pendingAdmitted() int {
	r.admittedMtx.Lock()
	defer r.admittedMtx.Unlock()
	return len(r.admitted)
}

func (r *Reactor) drainAdmitted() {
	r.admittedMtx.Lock()
	keys := r.admitted
	r.admitted = nil
	r.admittedMtx.Unlock()

	for _, key := range keys {
		r.sched.markDirty(key)
	}
}

func (r *Reactor) run(ctx context.Context) {
	defer r.wg.Done()
	defer close(r.done)
	defer func() {
		r.admittedMtx.Lock()
		r.broadcasting = false
		r.admitted = nil
		r.admittedMtx.Unlock()
	}()

	ticker := r.clock.Ticker(r.cfg.TickInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Debug("stopped broadcast loop")
			return

		case <-ticker.C:
			r.drainAdmitted()
			for _, d := range r.sched.tick(r.clock.Now()) {
				r.wg.Add(1)
				go r.send(ctx, d)
			}

		case res := <-r.results:
			r.processResult(res)

		case peerUpdate := <-r.peerUpdates.Updates():
			r.processPeerUpdate(peerUpdate)

		case ch := <-r.snapshotCh:
			ch <- r.sched.snapshot()
		}
	}
}

func (r *Reactor) send(ctx context.Context, d dispatch) {
	defer r.wg.Done()

	sendCtx, cancel := context.WithTimeout(ctx, r.cfg.AckTimeout())
	defer cancel()

	ack, err := r.transport.Broadcast(sendCtx, d.peer, d.network, &BroadcastBatch{
		AttemptID: d.attempt,
		Txs:       d.txs,
	})

	select {
	case r.results <- sendResult{dispatch: d, ack: ack, err: err}:
	case <-ctx.Done():
	}
}

func (r *Reactor) processResult(res sendResult) {
	logger := r.logger.With("peer", res.peer, "network", res.network, "attempt", res.attempt)
	now := r.clock.Now()

	switch {
	case res.err != nil || res.ack == nil:
		logger.Debug("failed to broadcast batch", "err", res.err)
		r.sched.nack(res.peer, res.network, res.attempt, now)

	case res.ack.Busy:
		logger.Debug("peer busy")
		r.sched.nack(res.peer, res.network, res.attempt, now)

	default:
		if r.sched.ack(res.peer, res.network, res.ack.AttemptID, now) {
			logger.Debug("batch acknowledged", "accepted", res.ack.Accepted, "rejected", res.ack.Rejected)
		}
	}
}

func (r *Reactor) processPeerUpdate(peerUpdate p2p.PeerUpdate) {
	r.logger.Debug("received peer update", "peer", peerUpdate.NodeID, "status", peerUpdate.Status)

	switch peerUpdate.Status {
	case p2p.PeerStatusUp:
		r.sched.addPeer(peerUpdate)

	case p2p.PeerStatusDown:
		r.sched.removePeer(peerUpdate.NodeID)
	}
}
