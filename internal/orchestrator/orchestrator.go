package orchestrator

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"worldsim/internal/pos"
	"worldsim/internal/replication"
	"worldsim/internal/world"
	"worldsim/internal/worldtypes"
)

// defaultGapSyncMaxHeightsPerTick bounds how many heights an Observer's
// catch-up fetches in a single Tick when NodeConfig.GapSyncMaxHeightsPerTick
// is unset (spec.md §4.8 step 1).
const defaultGapSyncMaxHeightsPerTick = 64

// Orchestrator drives a single world's per-tick cycle (spec.md §4.8). It is
// the only caller of Runtime's mutating methods, satisfying the
// single-threaded-per-world scheduling model of spec.md §5.
type Orchestrator struct {
	cfg NodeConfig

	runtime *world.Runtime
	engine  *pos.Engine
	store   *replication.Store

	gossip    GossipTransport
	keyring   Keyring
	hook      ExecutionHook
	announcer ProviderAnnouncer
	syncer    *replication.GapSyncer

	peers *PeerSet

	lastCommittedJournalLen int
	nextSlot                uint64
}

// New constructs an Orchestrator from its validated dependencies. hook may
// be nil only for RoleObserver.
func New(cfg NodeConfig, runtime *world.Runtime, engine *pos.Engine, store *replication.Store, gossip GossipTransport, keyring Keyring, hook ExecutionHook, announcer ProviderAnnouncer) (*Orchestrator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Role == RoleSequencer && hook == nil {
		return nil, fmt.Errorf("orchestrator: execution hook is required for Sequencer role")
	}
	var peers *PeerSet
	if cfg.Gossip != nil {
		peers = NewPeerSet(cfg.Gossip.MaxPeers, cfg.Gossip.PeerTTLMs)
	}
	return &Orchestrator{
		cfg: cfg, runtime: runtime, engine: engine, store: store,
		gossip: gossip, keyring: keyring, hook: hook, announcer: announcer,
		peers: peers,
	}, nil
}

// SetGapSyncer attaches the Network/peer dependency an Observer uses to
// catch up on missing heights each Tick (spec.md §4.8 step 1, §8 scenario
// S7). A real deployment supplies a concrete replication.Network (e.g. an
// HTTP or gossip-backed client) the way a Sequencer deployment supplies a
// real ExecutionHook; leaving it unset makes Observer ticks gossip-only.
func (o *Orchestrator) SetGapSyncer(syncer *replication.GapSyncer) {
	o.syncer = syncer
}

// Tick runs one full orchestrator cycle (spec.md §4.8 steps 1-3).
func (o *Orchestrator) Tick(nowMs int64) error {
	if o.gossip != nil {
		if err := o.drainGossip(); err != nil {
			return err
		}
	}

	if o.cfg.Role == RoleObserver && o.syncer != nil {
		if err := o.catchUp(context.Background()); err != nil {
			return err
		}
	}

	isLeader := o.cfg.Role == RoleSequencer && o.engine.ExpectedProposer(o.nextSlot) == pos.ValidatorID(o.cfg.NodeID)
	if isLeader {
		if err := o.proposeAndSelfAttest(nowMs); err != nil {
			return err
		}
	}
	return nil
}

// catchUp fetches commits for every height between the engine's committed
// watermark and a bounded look-ahead window, persisting each locally and
// adopting it into the engine so committed_height advances even though this
// node casts no attestations of its own (spec.md §4.8 step 1, §8 scenario
// S7).
func (o *Orchestrator) catchUp(ctx context.Context) error {
	maxPerTick := o.cfg.GapSyncMaxHeightsPerTick
	if maxPerTick <= 0 {
		maxPerTick = defaultGapSyncMaxHeightsPerTick
	}
	from := o.engine.LatestCommittedHeight() + 1
	to := from + uint64(maxPerTick) - 1

	fetched, err := o.syncer.FetchMissing(ctx, o.cfg.WorldID, from, to)
	if err != nil {
		return fmt.Errorf("orchestrator: gap-sync catch-up: %w", err)
	}
	for _, rec := range fetched {
		if err := replication.SaveCommit(o.cfg.ReplicationDir, rec); err != nil {
			return err
		}
		head := pos.Head{
			WorldID:     rec.WorldID,
			Height:      rec.Height,
			BlockHash:   rec.BlockHash,
			StateRoot:   rec.ActionRoot,
			TimestampMs: rec.CommittedAtMs,
		}
		if _, err := o.engine.AdoptExternalCommit(head, pos.ValidatorID(rec.NodeID), rec.Slot, rec.CommittedAtMs); err != nil {
			return fmt.Errorf("orchestrator: adopt gap-synced commit at height %d: %w", rec.Height, err)
		}
	}
	return nil
}

func (o *Orchestrator) drainGossip() error {
	for _, msg := range o.gossip.Drain() {
		if o.keyring != nil {
			pub, known := o.keyring[msg.FromNodeID]
			if !known {
				continue // unknown peer, drop silently
			}
			if msg.Kind == GossipCommit && msg.Commit != nil {
				if o.cfg.RequirePeerExecutionHashes && (msg.Commit.ExecutionBlockHash == nil || msg.Commit.ExecutionStateRoot == nil) {
					continue
				}
				if !msg.Commit.Verify(pub) {
					continue
				}
			}
		}
		o.ingest(msg)
	}
	return nil
}

func (o *Orchestrator) ingest(msg GossipMessage) {
	switch msg.Kind {
	case GossipAttestation:
		if msg.Attestation == nil {
			return
		}
		a := msg.Attestation
		_, _, _ = o.engine.AttestWorldHeadWithPos(a.Height, a.BlockHash, a.ValidatorID, a.Approve, a.VotedAtMs, a.SourceEpoch, a.TargetEpoch, a.Reason)
	case GossipProposal:
		if msg.ProposalHead == nil {
			return
		}
		_, _, _ = o.engine.ProposeWorldHeadWithPos(*msg.ProposalHead, pos.ValidatorID(msg.FromNodeID), msg.ProposalSlot, msg.ProposalHead.TimestampMs)
	case GossipCommit:
		if msg.Commit != nil {
			_ = replication.SaveCommit(o.cfg.ReplicationDir, *msg.Commit)
		}
	}
}

// pendingBlockActionRoot computes a deterministic digest over every
// journaled event since the last commit, in journal order (spec.md §4.8 step
// 2 "a deterministic ordering of fresh domain events since last commit").
func (o *Orchestrator) pendingBlockActionRoot() (string, []worldtypes.Event, error) {
	journalLen := o.runtime.Journal().Len()
	fresh := o.runtime.Journal().Slice(o.lastCommittedJournalLen, journalLen)
	if len(fresh) == 0 {
		return "", nil, nil
	}
	h := sha256.New()
	for _, ev := range fresh {
		b, err := json.Marshal(ev)
		if err != nil {
			return "", nil, fmt.Errorf("orchestrator: marshal event for action root: %w", err)
		}
		h.Write(b)
	}
	return hex.EncodeToString(h.Sum(nil)), fresh, nil
}

func (o *Orchestrator) proposeAndSelfAttest(nowMs int64) error {
	actionRoot, fresh, err := o.pendingBlockActionRoot()
	if err != nil {
		return err
	}
	if len(fresh) == 0 {
		return nil // nothing new to propose this tick
	}

	height := o.engine.LatestCommittedHeight() + 1
	head := pos.Head{
		WorldID:     o.cfg.WorldID,
		Height:      height,
		BlockHash:   actionRoot,
		StateRoot:   actionRoot,
		TimestampMs: nowMs,
	}
	rec, publish, err := o.engine.ProposeWorldHeadWithPos(head, pos.ValidatorID(o.cfg.NodeID), o.nextSlot, nowMs)
	if err != nil {
		return err
	}
	o.nextSlot++

	if o.gossip != nil {
		slot := o.nextSlot - 1
		o.gossip.Broadcast(GossipMessage{Kind: GossipProposal, FromNodeID: o.cfg.NodeID, ProposalHead: &head, ProposalSlot: slot})
	}

	if publish {
		return o.commit(rec, actionRoot, height, nowMs)
	}
	return nil
}

// commit runs the execution hook, persists the commit into the CAS, and
// broadcasts a signed commit message (spec.md §4.8 step 3).
func (o *Orchestrator) commit(rec *pos.Record, actionRoot string, height uint64, nowMs int64) error {
	commitRec := replication.CommitRecord{
		WorldID:       o.cfg.WorldID,
		NodeID:        o.cfg.NodeID,
		Height:        height,
		Slot:          rec.Slot,
		Epoch:         rec.Epoch,
		BlockHash:     rec.Head.BlockHash,
		ActionRoot:    actionRoot,
		CommittedAtMs: nowMs,
	}

	if o.hook != nil {
		execBlockHash, execStateRoot, err := o.hook.Execute(o.cfg.WorldID, height, actionRoot)
		if err != nil {
			return fmt.Errorf("orchestrator: execution hook: %w", err)
		}
		commitRec.ExecutionBlockHash = &execBlockHash
		commitRec.ExecutionStateRoot = &execStateRoot
	} else if o.cfg.RequireExecutionOnCommit {
		return fmt.Errorf("orchestrator: execution required on commit but no hook configured")
	}

	if err := replication.SaveCommit(o.cfg.ReplicationDir, commitRec); err != nil {
		return err
	}
	o.lastCommittedJournalLen = o.runtime.Journal().Len()

	if o.gossip != nil {
		o.gossip.Broadcast(GossipMessage{Kind: GossipCommit, FromNodeID: o.cfg.NodeID, Commit: &commitRec})
	}
	return nil
}

// PersistPosState writes the orchestrator's consensus progress summary to
// disk (spec.md §4.8 step 4).
func (o *Orchestrator) PersistPosState(nowMs int64) error {
	state := NodePosState{
		NextHeight:             o.engine.LatestCommittedHeight() + 1,
		NextSlot:               o.nextSlot,
		CommittedHeight:        o.engine.LatestCommittedHeight(),
		NetworkCommittedHeight: o.engine.LatestCommittedHeight(),
		LastBroadcastAtMs:      nowMs,
	}
	return SavePosState(o.cfg.ReplicationDir, state)
}

// RunReplicaMaintenance executes one replica-maintenance round (spec.md §4.8
// step 5); a no-op when no ReplicaMaintenance config is set.
func (o *Orchestrator) RunReplicaMaintenance(repairer Repairer, rebalancer Rebalancer, needsRepair, needsRebalance func(string) bool) error {
	if o.cfg.ReplicaMaintenance == nil {
		return nil
	}
	return replicaMaintenanceRound(o.store, *o.cfg.ReplicaMaintenance, o.announcer, repairer, rebalancer, needsRepair, needsRebalance)
}
