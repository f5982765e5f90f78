package p2p

import (
	"testing"

	"github.com/stretchr/testify/require"

	"worldsim/internal/orchestrator"
)

func TestBusDeliversBroadcastToOtherPeers(t *testing.T) {
	bus := NewBus()
	a := bus.Register("node-a")
	b := bus.Register("node-b")

	a.Broadcast(orchestrator.GossipMessage{Kind: orchestrator.GossipCommit})

	require.Empty(t, a.Drain(), "sender does not receive its own broadcast")
	msgs := b.Drain()
	require.Len(t, msgs, 1)
	require.Equal(t, "node-a", msgs[0].FromNodeID)
}

func TestTransportBansPeerAfterRepeatedQueueOverflow(t *testing.T) {
	bus := NewBus()
	a := bus.Register("node-a")
	b := bus.Register("node-b")

	for i := 0; i < defaultQueueSize+10; i++ {
		a.Broadcast(orchestrator.GossipMessage{Kind: orchestrator.GossipCommit})
	}

	b.mu.Lock()
	banned := b.banned["node-a"]
	b.mu.Unlock()
	require.True(t, banned)
}

func TestUnregisterStopsDelivery(t *testing.T) {
	bus := NewBus()
	a := bus.Register("node-a")
	b := bus.Register("node-b")
	bus.Unregister("node-b")

	a.Broadcast(orchestrator.GossipMessage{Kind: orchestrator.GossipCommit})
	require.Empty(t, b.Drain())
}
