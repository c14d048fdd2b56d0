package p2p

import (
	"context"
	"fmt"

	"github.com/tendermint/sharedmempool/types"
)

// NetworkID names one of the redundant network instances a peer can be
// reached over. The first instance listed for a peer is its primary.
type NetworkID string

const (
	NetworkValidator NetworkID = "validator"
	NetworkVFN       NetworkID = "vfn"
	NetworkPublic    NetworkID = "public"
)

// PeerStatus is a peer status.
type PeerStatus string

const (
	PeerStatusUp   PeerStatus = "up"   // connected and ready
	PeerStatusDown PeerStatus = "down" // disconnected
)

// PeerRole is the role a peer advertises in the peer directory.
type PeerRole string

const (
	PeerRoleValidator PeerRole = "validator"
	PeerRoleFull      PeerRole = "full"
)

// PeerUpdate is a peer update event sent via PeerUpdates.
type PeerUpdate struct {
	NodeID   types.NodeID
	Status   PeerStatus
	Role     PeerRole
	Networks []NetworkID
}

func (pu PeerUpdate) String() string {
	return fmt.Sprintf("PeerUpdate{%s %s %s %v}", pu.NodeID, pu.Status, pu.Role, pu.Networks)
}

// PeerUpdates is a peer update subscription with notifications about peer
// events.
type PeerUpdates struct {
	updatesCh chan PeerUpdate
}

// NewPeerUpdates creates a new PeerUpdates subscription with the given
// buffer size.
func NewPeerUpdates(buf int) *PeerUpdates {
	return &PeerUpdates{
		updatesCh: make(chan PeerUpdate, buf),
	}
}

// Updates returns a channel for consuming peer updates.
func (pu *PeerUpdates) Updates() <-chan PeerUpdate {
	return pu.updatesCh
}

// SendUpdate publishes a peer update, blocking until it is consumed into
// the buffer or ctx is done.
func (pu *PeerUpdates) SendUpdate(ctx context.Context, update PeerUpdate) {
	select {
	case <-ctx.Done():
	case pu.updatesCh <- update:
	}
}
