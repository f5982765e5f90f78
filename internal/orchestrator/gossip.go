package orchestrator

import (
	"crypto/ed25519"
	"sort"
	"sync"

	"worldsim/internal/pos"
	"worldsim/internal/replication"
)

// GossipMessageKind tags the payload carried by a GossipMessage, matching
// the topic naming in spec.md §6: consensus/proposal, consensus/attestation,
// consensus/commit, replication.
type GossipMessageKind string

const (
	GossipProposal   GossipMessageKind = "proposal"
	GossipAttestation GossipMessageKind = "attestation"
	GossipCommit      GossipMessageKind = "commit"
	GossipReplication GossipMessageKind = "replication"
)

// GossipMessage is one inbound/outbound message on a world's gossip topic.
type GossipMessage struct {
	Kind            GossipMessageKind
	FromNodeID      string
	FromPubkey      ed25519.PublicKey
	Signature       []byte
	ProposalHead    *pos.Head
	ProposalSlot    uint64
	Attestation     *attestationPayload
	Commit          *replication.CommitRecord
}

type attestationPayload struct {
	Height      uint64
	BlockHash   string
	ValidatorID pos.ValidatorID
	Approve     bool
	SourceEpoch uint64
	TargetEpoch uint64
	Reason      string
	VotedAtMs   int64
}

// GossipTransport is the pluggable endpoint an Orchestrator drains each tick.
type GossipTransport interface {
	// Drain returns and clears any messages received since the last call.
	Drain() []GossipMessage
	// Broadcast publishes msg to every known peer on the world's topics.
	Broadcast(msg GossipMessage)
}

// Keyring maps a node id to its trusted Ed25519 public key, used to verify
// inbound gossip and gap-sync responses.
type Keyring map[string]ed25519.PublicKey

// PeerSet is a bounded, TTL-expiring set of dynamic peer addresses (spec.md
// §5 "Shared resources"): insertion beyond capacity evicts the oldest entry;
// TTL expiry drops peers before broadcasting.
type PeerSet struct {
	mu       sync.Mutex
	maxPeers int
	ttlMs    int64
	order    []string
	addedAt  map[string]int64
}

func NewPeerSet(maxPeers int, ttlMs int64) *PeerSet {
	return &PeerSet{maxPeers: maxPeers, ttlMs: ttlMs, addedAt: make(map[string]int64)}
}

// Add inserts peer, evicting the oldest entry if the set is at capacity.
func (p *PeerSet) Add(peer string, nowMs int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, exists := p.addedAt[peer]; exists {
		p.addedAt[peer] = nowMs
		return
	}
	if p.maxPeers > 0 && len(p.order) >= p.maxPeers {
		oldest := p.order[0]
		p.order = p.order[1:]
		delete(p.addedAt, oldest)
	}
	p.order = append(p.order, peer)
	p.addedAt[peer] = nowMs
}

// Active returns peers not yet TTL-expired as of nowMs, dropping expired
// ones from the set first.
func (p *PeerSet) Active(nowMs int64) []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ttlMs > 0 {
		var kept []string
		for _, peer := range p.order {
			if nowMs-p.addedAt[peer] < p.ttlMs {
				kept = append(kept, peer)
			} else {
				delete(p.addedAt, peer)
			}
		}
		p.order = kept
	}
	out := make([]string, len(p.order))
	copy(out, p.order)
	sort.Strings(out)
	return out
}
