package p2p

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/tendermint/sharedmempool/libs/log"
	"github.com/tendermint/sharedmempool/types"
)

var (
	// ErrUnknownPeer is returned when a request targets a node that is not
	// attached to the network.
	ErrUnknownPeer = errors.New("unknown peer")
	// ErrLinkDown is returned when the link a request would travel over has
	// been cut.
	ErrLinkDown = errors.New("link down")
)

// Envelope carries a decoded message between two nodes over one network
// instance.
type Envelope struct {
	From    types.NodeID
	To      types.NodeID
	Network NetworkID
	Message interface{}
}

// Handler serves requests addressed to a node and returns the response
// message.
type Handler func(ctx context.Context, e Envelope) (interface{}, error)

type link struct {
	from, to types.NodeID
	network  NetworkID
}

// MemoryNetwork is an in-process request/response network connecting nodes
// by ID. Individual links can be cut per network instance, which makes it
// usable both for tests and for a local testnet.
type MemoryNetwork struct {
	logger  log.Logger
	latency time.Duration

	mtx      sync.RWMutex
	handlers map[types.NodeID]Handler
	down     map[link]bool
}

// NewMemoryNetwork creates a new in-memory network. Each request is delayed
// by latency in both directions.
func NewMemoryNetwork(logger log.Logger, latency time.Duration) *MemoryNetwork {
	return &MemoryNetwork{
		logger:   logger,
		latency:  latency,
		handlers: make(map[types.NodeID]Handler),
		down:     make(map[link]bool),
	}
}

// Register attaches a node to the network. It replaces any existing handler
// for the node.
func (n *MemoryNetwork) Register(id types.NodeID, h Handler) {
	n.mtx.Lock()
	defer n.mtx.Unlock()
	n.handlers[id] = h
}

// Unregister detaches a node from the network.
func (n *MemoryNetwork) Unregister(id types.NodeID) {
	n.mtx.Lock()
	defer n.mtx.Unlock()
	delete(n.handlers, id)
}

// Size returns the number of attached nodes.
func (n *MemoryNetwork) Size() int {
	n.mtx.RLock()
	defer n.mtx.RUnlock()
	return len(n.handlers)
}

// SetLinkDown cuts or restores the directed link from -> to on one network
// instance.
func (n *MemoryNetwork) SetLinkDown(from, to types.NodeID, network NetworkID, down bool) {
	n.mtx.Lock()
	defer n.mtx.Unlock()

	l := link{from: from, to: to, network: network}
	if down {
		n.down[l] = true
	} else {
		delete(n.down, l)
	}
}

// Request delivers e to its destination and waits for the response. A cut
// link behaves like an unresponsive peer: the request blocks until ctx is
// done.
func (n *MemoryNetwork) Request(ctx context.Context, e Envelope) (interface{}, error) {
	n.mtx.RLock()
	h, ok := n.handlers[e.To]
	down := n.down[link{from: e.From, to: e.To, network: e.Network}]
	n.mtx.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPeer, e.To)
	}
	if down {
		n.logger.Debug("request on cut link", "from", e.From, "to", e.To, "network", e.Network)
		<-ctx.Done()
		return nil, fmt.Errorf("%w: %s -> %s on %s: %v", ErrLinkDown, e.From, e.To, e.Network, ctx.Err())
	}

	if err := n.sleep(ctx); err != nil {
		return nil, err
	}
	resp, err := h(ctx, e)
	if err != nil {
		return nil, err
	}
	if err := n.sleep(ctx); err != nil {
		return nil, err
	}
	return resp, nil
}

func (n *MemoryNetwork) sleep(ctx context.Context) error {
	if n.latency <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(n.latency)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
