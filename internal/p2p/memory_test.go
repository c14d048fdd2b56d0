package p2p_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tendermint/sharedmempool/internal/p2p"
	"github.com/tendermint/sharedmempool/libs/log"
	"github.com/tendermint/sharedmempool/types"
)

func echoHandler(ctx context.Context, e p2p.Envelope) (interface{}, error) {
	return e.Message, nil
}

func TestMemoryNetworkRequest(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	network := p2p.NewMemoryNetwork(log.NewNopLogger(), 0)
	a, b := types.NodeID("a"), types.NodeID("b")
	network.Register(a, echoHandler)
	network.Register(b, echoHandler)
	require.Equal(t, 2, network.Size())

	resp, err := network.Request(ctx, p2p.Envelope{From: a, To: b, Network: p2p.NetworkPublic, Message: "ping"})
	require.NoError(t, err)
	require.Equal(t, "ping", resp)

	_, err = network.Request(ctx, p2p.Envelope{From: a, To: "c", Network: p2p.NetworkPublic})
	require.True(t, errors.Is(err, p2p.ErrUnknownPeer))

	network.Unregister(b)
	_, err = network.Request(ctx, p2p.Envelope{From: a, To: b, Network: p2p.NetworkPublic})
	require.ErrorIs(t, err, p2p.ErrUnknownPeer)
}

func TestMemoryNetworkLinkDown(t *testing.T) {
	network := p2p.NewMemoryNetwork(log.NewNopLogger(), 0)
	a, b := types.NodeID("a"), types.NodeID("b")
	network.Register(b, echoHandler)

	network.SetLinkDown(a, b, p2p.NetworkValidator, true)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := network.Request(ctx, p2p.Envelope{From: a, To: b, Network: p2p.NetworkValidator})
	require.ErrorIs(t, err, p2p.ErrLinkDown)

	// other network instances are unaffected
	resp, err := network.Request(context.Background(), p2p.Envelope{From: a, To: b, Network: p2p.NetworkPublic, Message: 1})
	require.NoError(t, err)
	require.Equal(t, 1, resp)

	network.SetLinkDown(a, b, p2p.NetworkValidator, false)
	_, err = network.Request(context.Background(), p2p.Envelope{From: a, To: b, Network: p2p.NetworkValidator})
	require.NoError(t, err)
}

func TestPeerUpdates(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	updates := p2p.NewPeerUpdates(1)
	update := p2p.PeerUpdate{NodeID: "a", Status: p2p.PeerStatusUp, Role: p2p.PeerRoleValidator}
	updates.SendUpdate(ctx, update)
	require.Equal(t, update, <-updates.Updates())

	// a full buffer does not block past the context
	updates.SendUpdate(ctx, update)
	cctx, ccancel := context.WithCancel(ctx)
	ccancel()
	updates.SendUpdate(cctx, update)
}
