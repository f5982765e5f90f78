// Package p2p adapts the teacher's peer-to-peer server (nhbchain/p2p) into a
// loopback gossip transport satisfying orchestrator.GossipTransport: an
// in-process broadcast bus with per-peer bounded outbound queues and
// reputation-based banning, standing in for the teacher's authenticated TCP
// server in single-host/dev-mode deployments (spec.md §4.8 "gossip?").
package p2p

import (
	"sync"

	"worldsim/internal/orchestrator"
)

const (
	defaultQueueSize       = 64
	malformedPenalty       = 2
	reputationBanThreshold = -6
)

// Bus is an in-process registry of node transports. Broadcasting from one
// registered node fans the message out to every other node's inbound queue,
// the way the teacher's Server.Broadcast iterates its peers map under lock.
type Bus struct {
	mu         sync.Mutex
	transports map[string]*Transport
}

func NewBus() *Bus {
	return &Bus{transports: make(map[string]*Transport)}
}

// Register creates and attaches a Transport for nodeID, replacing any prior
// registration under the same id.
func (b *Bus) Register(nodeID string) *Transport {
	b.mu.Lock()
	defer b.mu.Unlock()
	t := &Transport{bus: b, nodeID: nodeID, inbound: make(chan orchestrator.GossipMessage, defaultQueueSize)}
	b.transports[nodeID] = t
	return t
}

// Unregister detaches nodeID's transport so it no longer receives broadcasts.
func (b *Bus) Unregister(nodeID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.transports, nodeID)
}

func (b *Bus) fanOut(from string, msg orchestrator.GossipMessage) {
	b.mu.Lock()
	peers := make([]*Transport, 0, len(b.transports))
	for id, t := range b.transports {
		if id == from {
			continue
		}
		peers = append(peers, t)
	}
	b.mu.Unlock()

	for _, t := range peers {
		select {
		case t.inbound <- msg:
		default:
			// Outbound queue full: penalize the sender's reputation with this
			// peer, mirroring the teacher's errQueueFull handling in server.go.
			t.penalize(from, malformedPenalty)
		}
	}
}

// Transport is one node's view of the Bus, satisfying
// orchestrator.GossipTransport.
type Transport struct {
	bus     *Bus
	nodeID  string
	inbound chan orchestrator.GossipMessage

	mu         sync.Mutex
	reputation map[string]int
	banned     map[string]bool
}

func (t *Transport) Drain() []orchestrator.GossipMessage {
	var drained []orchestrator.GossipMessage
	for {
		select {
		case msg := <-t.inbound:
			if t.isBanned(msg.FromNodeID) {
				continue
			}
			drained = append(drained, msg)
		default:
			return drained
		}
	}
}

func (t *Transport) Broadcast(msg orchestrator.GossipMessage) {
	msg.FromNodeID = t.nodeID
	t.bus.fanOut(t.nodeID, msg)
}

// penalize lowers peerID's reputation score; once it drops at or below
// reputationBanThreshold, messages claiming to be from peerID are dropped on
// Drain (spec.md has no ban contract of its own; this mirrors the teacher's
// reputation.go scoring/ban pattern for a misbehaving gossip peer).
func (t *Transport) penalize(peerID string, amount int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.reputation == nil {
		t.reputation = make(map[string]int)
		t.banned = make(map[string]bool)
	}
	t.reputation[peerID] -= amount
	if t.reputation[peerID] <= reputationBanThreshold {
		t.banned[peerID] = true
	}
}

func (t *Transport) isBanned(peerID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.banned[peerID]
}
