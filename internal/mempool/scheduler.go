package mempool

import (
	"sort"
	"time"

	"github.com/tendermint/sharedmempool/config"
	"github.com/tendermint/sharedmempool/internal/p2p"
	"github.com/tendermint/sharedmempool/libs/log"
	"github.com/tendermint/sharedmempool/types"
)

// batchSource is the part of the mempool the scheduler reads from.
type batchSource interface {
	SelectBatch(cursor PeerCursor, maxCount, maxBytes int) Batch
	HasSender(sender string) bool
}

// dispatch is a batch the scheduler wants sent.
type dispatch struct {
	peer    types.NodeID
	network p2p.NetworkID
	attempt uint64
	txs     types.Txs
}

// scheduler drives the per-peer broadcast state machines. It is not safe
// for concurrent use; the reactor owns it and feeds it events from a single
// goroutine.
type scheduler struct {
	logger  log.Logger
	metrics *Metrics
	store   batchSource

	batchSize          int
	maxBatchBytes      int
	ackTimeout         time.Duration
	backoff            backoffPolicy
	maxInflight        int
	validatorBroadcast bool
	maxInstances       int
	failover           failoverCoordinator

	peers map[types.NodeID]*peerState
	order []types.NodeID
	// next is where the next tick starts scanning order
	next int
}

func newScheduler(logger log.Logger, cfg *config.MempoolConfig, store batchSource, metrics *Metrics) *scheduler {
	return &scheduler{
		logger:             logger,
		metrics:            metrics,
		store:              store,
		batchSize:          cfg.BatchSize,
		maxBatchBytes:      cfg.MaxBatchBytes,
		ackTimeout:         cfg.AckTimeout(),
		backoff:            backoffPolicy{base: cfg.BackoffInterval(), cap: cfg.BackoffExponentCap},
		maxInflight:        cfg.MaxBroadcastsPerPeer,
		validatorBroadcast: cfg.ValidatorBroadcast,
		maxInstances:       1 + cfg.DefaultFailovers,
		failover:           failoverCoordinator{threshold: cfg.FailoverThreshold},
		peers:              make(map[types.NodeID]*peerState),
	}
}

// addPeer creates the broadcast state of a newly connected peer, or
// refreshes the role of a known one.
func (s *scheduler) addPeer(update p2p.PeerUpdate) {
	if p, ok := s.peers[update.NodeID]; ok {
		p.role = update.Role
		return
	}

	networks := dedupNetworks(update.Networks)
	if len(networks) == 0 {
		networks = []p2p.NetworkID{p2p.NetworkPublic}
	}
	if len(networks) > s.maxInstances {
		networks = networks[:s.maxInstances]
	}

	s.peers[update.NodeID] = newPeerState(update.NodeID, update.Role, networks)
	s.order = append(s.order, update.NodeID)
	sort.Slice(s.order, func(i, j int) bool { return s.order[i] < s.order[j] })
}

// removePeer discards the peer's state. An attempt in flight is abandoned;
// its ack, if any, finds no peer and is dropped.
func (s *scheduler) removePeer(id types.NodeID) bool {
	if _, ok := s.peers[id]; !ok {
		return false
	}
	delete(s.peers, id)
	for i, pid := range s.order {
		if pid == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return true
}

// markDirty makes key eligible again for every peer that already moved
// past it and flags every peer's backlog as dirty.
func (s *scheduler) markDirty(key types.TxKey) {
	for _, p := range s.peers {
		for _, inst := range p.instances {
			inst.cursor.Rewind(key.Sender, key.Sequence)
			inst.dirty = true
		}
	}
}

// targeted reports whether the peer receives broadcasts at all.
func (s *scheduler) targeted(p *peerState) bool {
	return s.validatorBroadcast || p.role == p2p.PeerRoleValidator
}

// inflight counts the instances in Sending or AwaitingAck.
func (s *scheduler) inflight() int {
	var n int
	for _, p := range s.peers {
		for _, inst := range p.instances {
			if inst.state == StateSending || inst.state == StateAwaitingAck {
				n++
			}
		}
	}
	return n
}

// tick expires ack deadlines and backoffs, then dispatches batches to idle
// peers with a dirty backlog while fewer than maxInflight peers have a
// batch in flight.
func (s *scheduler) tick(now time.Time) []dispatch {
	for _, id := range s.order {
		p := s.peers[id]
		for _, inst := range p.instances {
			if inst.timedOut(now) {
				s.logger.Debug("broadcast timed out", "peer", id, "network", inst.network, "attempt", inst.attempt)
				s.fail(p, inst, inst.attempt, now)
			}
			inst.resume(now)
		}
	}

	var (
		out      []dispatch
		inflight = s.inflight()
		n        = len(s.order)
	)
	for i := 0; i < n && inflight < s.maxInflight; i++ {
		p := s.peers[s.order[(s.next+i)%n]]
		if !s.targeted(p) {
			continue
		}

		inst := p.current()
		if !inst.dirty || !inst.startSending() {
			continue
		}

		batch := s.store.SelectBatch(inst.cursor, s.batchSize, s.maxBatchBytes)
		if len(batch.Txs) == 0 {
			inst.cursor.Prune(s.store.HasSender)
			inst.nothingToSend()
			continue
		}

		attempt := inst.dispatched(now, batch, s.ackTimeout)
		out = append(out, dispatch{
			peer:    p.id,
			network: inst.network,
			attempt: attempt,
			txs:     batch.Txs,
		})
		inflight++

		s.metrics.BroadcastBatches.Add(1)
		s.metrics.BroadcastTxs.Add(float64(len(batch.Txs)))
	}
	if n > 0 {
		s.next = (s.next + 1) % n
	}

	s.updateGauges()
	return out
}

// ack applies an acknowledgement from peer over network for attempt that
// arrived at now. An ack that arrives once the deadline has passed counts
// as a timeout.
func (s *scheduler) ack(peer types.NodeID, network p2p.NetworkID, attempt uint64, now time.Time) bool {
	p, ok := s.peers[peer]
	if !ok {
		return false
	}
	inst, active := p.instance(network)
	if inst != nil && inst.attempt == attempt && inst.timedOut(now) {
		s.logger.Debug("ack arrived after deadline", "peer", peer, "network", network, "attempt", attempt)
		s.fail(p, inst, attempt, now)
		s.updateGauges()
		return false
	}
	if inst == nil || !inst.acked(attempt) {
		s.logger.Debug("ignoring stale ack", "peer", peer, "network", network, "attempt", attempt)
		return false
	}
	if active {
		s.failover.succeeded(p)
	}
	s.updateGauges()
	return true
}

// nack records a failed attempt: a busy response or a send error.
func (s *scheduler) nack(peer types.NodeID, network p2p.NetworkID, attempt uint64, now time.Time) bool {
	p, ok := s.peers[peer]
	if !ok {
		return false
	}
	inst, _ := p.instance(network)
	if inst == nil {
		return false
	}
	ok = s.fail(p, inst, attempt, now)
	s.updateGauges()
	return ok
}

func (s *scheduler) fail(p *peerState, inst *instanceState, attempt uint64, now time.Time) bool {
	if !inst.failed(attempt, now, s.backoff) {
		return false
	}
	s.metrics.BroadcastFailures.Add(1)

	if inst != p.current() {
		return true
	}

	if s.failover.maybeFailover(p) {
		s.metrics.Failovers.Add(1)
		s.logger.Info(
			"failing over to alternate network",
			"peer", p.id,
			"from", inst.network,
			"to", p.current().network,
			"failures", inst.failures,
		)
	}
	return true
}

func (s *scheduler) updateGauges() {
	var inflight, backoff int
	for _, p := range s.peers {
		switch p.current().state {
		case StateSending, StateAwaitingAck:
			inflight++
		case StateBackoff:
			backoff++
		}
	}
	s.metrics.InflightBroadcasts.Set(float64(inflight))
	s.metrics.PeersInBackoff.Set(float64(backoff))
}

// PeerSnapshot is the observable broadcast state of one peer.
type PeerSnapshot struct {
	NodeID       types.NodeID  `json:"node_id"`
	Role         p2p.PeerRole  `json:"role"`
	Network      p2p.NetworkID `json:"network"`
	Instances    int           `json:"instances"`
	State        string        `json:"state"`
	Failures     int           `json:"failures"`
	Attempt      uint64        `json:"attempt"`
	BackoffUntil time.Time     `json:"backoff_until,omitempty"`
}

func (s *scheduler) snapshot() []PeerSnapshot {
	out := make([]PeerSnapshot, 0, len(s.order))
	for _, id := range s.order {
		p := s.peers[id]
		inst := p.current()
		ps := PeerSnapshot{
			NodeID:    id,
			Role:      p.role,
			Network:   inst.network,
			Instances: len(p.instances),
			State:     inst.state.String(),
			Failures:  inst.failures,
			Attempt:   inst.attempt,
		}
		if inst.state == StateBackoff {
			ps.BackoffUntil = inst.deadline
		}
		out = append(out, ps)
	}
	return out
}

func dedupNetworks(networks []p2p.NetworkID) []p2p.NetworkID {
	seen := make(map[p2p.NetworkID]struct{}, len(networks))
	out := make([]p2p.NetworkID, 0, len(networks))
	for _, n := range networks {
		if _, ok := seen[n]; ok || n == "" {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	return out
}
