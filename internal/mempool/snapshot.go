package mempool

import (
	"context"
	"time"
)

// Snapshot is a read-only summary of the mempool and its broadcast state,
// emitted periodically for observability.
type Snapshot struct {
	Time  time.Time      `json:"time"`
	Stats Stats          `json:"stats"`
	Peers []PeerSnapshot `json:"peers,omitempty"`
}

// PeersInBackoff returns the number of peers waiting out a backoff.
func (s Snapshot) PeersInBackoff() int {
	var n int
	for _, p := range s.Peers {
		if p.State == StateBackoff.String() {
			n++
		}
	}
	return n
}

// SnapshotSink receives every snapshot the reaper takes.
type SnapshotSink interface {
	SaveSnapshot(Snapshot) error
}

// PeerStateSource reports the broadcast state of every peer.
type PeerStateSource interface {
	PeerStates(ctx context.Context) ([]PeerSnapshot, error)
}
