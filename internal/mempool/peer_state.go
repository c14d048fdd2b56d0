package mempool

import (
	"math"
	"time"

	"github.com/tendermint/sharedmempool/internal/p2p"
	"github.com/tendermint/sharedmempool/types"
)

// BroadcastState is the state of a peer's broadcast state machine on one
// network instance.
//
//	Idle --tick, backlog--> Sending --batch--> AwaitingAck --ack--> Idle
//	                        Sending --empty--> Idle
//	                        AwaitingAck --timeout, busy, send error--> Backoff
//	                        Backoff --deadline--> Idle
type BroadcastState int

const (
	StateIdle BroadcastState = iota
	StateSending
	StateAwaitingAck
	StateBackoff
)

func (s BroadcastState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSending:
		return "sending"
	case StateAwaitingAck:
		return "awaiting_ack"
	case StateBackoff:
		return "backoff"
	default:
		return "unknown"
	}
}

// backoffPolicy computes retry delays: base * 2^min(failures, cap).
type backoffPolicy struct {
	base time.Duration
	cap  int
}

func (p backoffPolicy) delay(failures int) time.Duration {
	exp := failures
	if exp > p.cap {
		exp = p.cap
	}
	if exp < 0 {
		exp = 0
	}
	if p.base > time.Duration(math.MaxInt64)>>uint(exp) {
		return time.Duration(math.MaxInt64)
	}
	return p.base << uint(exp)
}

// instanceState is the broadcast state of one peer over one network
// instance. At most one batch is in flight per instance.
type instanceState struct {
	network p2p.NetworkID
	state   BroadcastState

	// cursor is advanced optimistically when a batch is dispatched and
	// rolled back if the batch is not acknowledged.
	cursor   PeerCursor
	rollback cursorRollback

	// attempt increases with every dispatched batch and is never reset, so
	// acks for abandoned attempts can be told apart.
	attempt  uint64
	failures int

	// deadline is the ack deadline in AwaitingAck and the retry time in
	// Backoff.
	deadline time.Time

	// dirty is set when new transactions may be eligible for this peer.
	dirty bool
}

func newInstanceState(network p2p.NetworkID) *instanceState {
	return &instanceState{
		network: network,
		state:   StateIdle,
		cursor:  NewPeerCursor(),
		dirty:   true,
	}
}

// startSending moves an idle instance to Sending.
func (s *instanceState) startSending() bool {
	if s.state != StateIdle {
		return false
	}
	s.state = StateSending
	return true
}

// nothingToSend returns a sending instance to Idle after an empty
// selection.
func (s *instanceState) nothingToSend() {
	s.state = StateIdle
	s.dirty = false
}

// dispatched records a batch handed to the transport and returns its
// attempt number.
func (s *instanceState) dispatched(now time.Time, batch Batch, ackTimeout time.Duration) uint64 {
	s.rollback = s.cursor.Advance(batch)
	s.attempt++
	s.state = StateAwaitingAck
	s.deadline = now.Add(ackTimeout)
	return s.attempt
}

// acked applies an acknowledgement. Acks that do not match the attempt in
// flight are ignored.
func (s *instanceState) acked(attempt uint64) bool {
	if s.state != StateAwaitingAck || attempt != s.attempt {
		return false
	}
	s.state = StateIdle
	s.failures = 0
	s.rollback = nil
	s.deadline = time.Time{}
	s.dirty = true
	return true
}

// failed moves the instance to Backoff and rolls back the cursor advance
// of the failed attempt.
func (s *instanceState) failed(attempt uint64, now time.Time, policy backoffPolicy) bool {
	if s.state != StateAwaitingAck || attempt != s.attempt {
		return false
	}
	s.cursor.Rollback(s.rollback)
	s.rollback = nil
	s.failures++
	s.state = StateBackoff
	s.deadline = now.Add(policy.delay(s.failures))
	s.dirty = true
	return true
}

// timedOut reports whether the ack deadline has passed.
func (s *instanceState) timedOut(now time.Time) bool {
	return s.state == StateAwaitingAck && !now.Before(s.deadline)
}

// resume returns an instance whose backoff has elapsed to Idle.
func (s *instanceState) resume(now time.Time) bool {
	if s.state != StateBackoff || now.Before(s.deadline) {
		return false
	}
	s.state = StateIdle
	s.deadline = time.Time{}
	s.dirty = true
	return true
}

// reset starts the instance afresh from cursor.
func (s *instanceState) reset(cursor PeerCursor) {
	s.state = StateIdle
	s.cursor = cursor
	s.rollback = nil
	s.failures = 0
	s.deadline = time.Time{}
	s.dirty = true
}

// peerState holds one instanceState per network instance of a peer. The
// first instance is the primary.
type peerState struct {
	id        types.NodeID
	role      p2p.PeerRole
	instances []*instanceState
	active    int

	// tried marks the instances used since the last acknowledged batch.
	tried []bool
}

func newPeerState(id types.NodeID, role p2p.PeerRole, networks []p2p.NetworkID) *peerState {
	p := &peerState{
		id:        id,
		role:      role,
		instances: make([]*instanceState, len(networks)),
		tried:     make([]bool, len(networks)),
	}
	for i, n := range networks {
		p.instances[i] = newInstanceState(n)
	}
	p.tried[0] = true
	return p
}

func (p *peerState) current() *instanceState { return p.instances[p.active] }

func (p *peerState) instance(network p2p.NetworkID) (*instanceState, bool) {
	for i, inst := range p.instances {
		if inst.network == network {
			return inst, i == p.active
		}
	}
	return nil, false
}
