package mempool

import (
	"context"
	"fmt"

	"github.com/tendermint/sharedmempool/internal/p2p"
	"github.com/tendermint/sharedmempool/types"
)

// Transport delivers broadcast batches to peers over a given network
// instance and returns the peer's ack.
type Transport interface {
	Broadcast(ctx context.Context, peer types.NodeID, network p2p.NetworkID, batch *BroadcastBatch) (*BroadcastAck, error)
}

// InboundHandler processes broadcast batches received from peers.
type InboundHandler interface {
	HandleInboundBroadcast(ctx context.Context, from types.NodeID, batch *BroadcastBatch) (*BroadcastAck, error)
}

var _ Transport = (*NetworkTransport)(nil)

// NetworkTransport carries broadcast batches over a p2p.MemoryNetwork.
type NetworkTransport struct {
	self    types.NodeID
	network *p2p.MemoryNetwork
}

// NewNetworkTransport returns a transport sending as self.
func NewNetworkTransport(self types.NodeID, network *p2p.MemoryNetwork) *NetworkTransport {
	return &NetworkTransport{self: self, network: network}
}

// Broadcast implements Transport.
func (t *NetworkTransport) Broadcast(
	ctx context.Context,
	peer types.NodeID,
	network p2p.NetworkID,
	batch *BroadcastBatch,
) (*BroadcastAck, error) {
	resp, err := t.network.Request(ctx, p2p.Envelope{
		From:    t.self,
		To:      peer,
		Network: network,
		Message: batch,
	})
	if err != nil {
		return nil, err
	}

	ack, ok := resp.(*BroadcastAck)
	if !ok {
		return nil, fmt.Errorf("unexpected response from %s: %T", peer, resp)
	}
	return ack, nil
}

// Serve attaches self to the network, routing inbound batches to h.
func (t *NetworkTransport) Serve(h InboundHandler) {
	t.network.Register(t.self, func(ctx context.Context, e p2p.Envelope) (interface{}, error) {
		batch, ok := e.Message.(*BroadcastBatch)
		if !ok {
			return nil, fmt.Errorf("received unknown message from %s: %T", e.From, e.Message)
		}
		return h.HandleInboundBroadcast(ctx, e.From, batch)
	})
}

// Close detaches self from the network.
func (t *NetworkTransport) Close() {
	t.network.Unregister(t.self)
}
