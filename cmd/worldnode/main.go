// Command worldnode runs a single Node Orchestrator (C8) tick loop: ingest,
// propose/attest, commit, persist PoS state, and replica maintenance
// (spec.md §4.8), wiring together the World Runtime, PoS Consensus Engine,
// and Content-Addressed Replication store behind one process, the way the
// teacher's cmd/nhb wires core+p2p+rpc behind one process.
package main

import (
	"crypto/sha256"
	"encoding/hex"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"worldsim/config"
	"worldsim/crypto"
	"worldsim/internal/orchestrator"
	"worldsim/internal/pos"
	"worldsim/internal/registry"
	"worldsim/internal/replication"
	"worldsim/internal/sandbox"
	"worldsim/internal/world"
	"worldsim/internal/worldtypes"
	"worldsim/observability/logging"
	"worldsim/p2p"
)

const identityPassEnv = "WORLDNODE_IDENTITY_PASS"

func main() {
	configPath := flag.String("config", "./worldnode.toml", "path to the node TOML config")
	artifactDir := flag.String("artifact-dir", "./worldsim-data/artifacts", "directory for compiled WASM artifact disk cache")
	identityKeystore := flag.String("identity-keystore", "./worldsim-data/identity.keystore", "path to this node's identity keystore file")
	ticks := flag.Int("ticks", 0, "number of ticks to run before exiting (0 runs until interrupted)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "worldnode: load config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.Setup(cfg.NodeID, cfg.WorldID)

	identity, err := loadOrCreateIdentity(*identityKeystore, os.Getenv(identityPassEnv))
	if err != nil {
		logger.Error("load node identity", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("node identity resolved", slog.String("node_address", identity.PubKey().NodeAddress().String()))

	if err := os.MkdirAll(*artifactDir, 0o755); err != nil {
		logger.Error("create artifact dir", slog.Any("error", err))
		os.Exit(1)
	}
	if err := os.MkdirAll(cfg.ReplicationDir, 0o755); err != nil {
		logger.Error("create replication dir", slog.Any("error", err))
		os.Exit(1)
	}

	artifacts, err := registry.NewArtifactCache(256, filepath.Join(*artifactDir, "compiled"))
	if err != nil {
		logger.Error("open artifact cache", slog.Any("error", err))
		os.Exit(1)
	}
	executor, err := sandbox.NewExecutor(sandbox.ExecutorLimits{
		MaxOutputBytes: 1 << 20,
		MaxFuel:        10_000_000,
		MaxMemBytes:    64 << 20,
		MaxCallMillis:  250,
	}, artifacts, "worldnode-v1")
	if err != nil {
		logger.Error("start sandbox executor", slog.Any("error", err))
		os.Exit(1)
	}

	runtime := world.New(world.Config{
		Reducer: noopReducer{},
		Invoker: executor,
	})

	engine, err := pos.NewEngine(cfg.WorldID, cfg.PosConfig)
	if err != nil {
		logger.Error("start consensus engine", slog.Any("error", err))
		os.Exit(1)
	}

	store, err := replication.Open(cfg.ReplicationDir)
	if err != nil {
		logger.Error("open replication store", slog.Any("error", err))
		os.Exit(1)
	}
	defer store.Close()

	bus := p2p.NewBus()
	var transport orchestrator.GossipTransport
	if cfg.Gossip != nil {
		transport = bus.Register(cfg.NodeID)
	}

	node, err := orchestrator.New(*cfg, runtime, engine, store, transport, orchestrator.Keyring{}, hashExecutionHook{}, nil)
	if err != nil {
		logger.Error("start orchestrator", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("worldnode started", slog.String("role", string(cfg.Role)))

	tickInterval := time.Duration(cfg.TickIntervalMs) * time.Millisecond
	for i := 0; *ticks == 0 || i < *ticks; i++ {
		nowMs := time.Now().UnixMilli()
		if err := node.Tick(nowMs); err != nil {
			logger.Error("tick failed", slog.Any("error", err), slog.Int64("now_ms", nowMs))
		}
		if err := node.PersistPosState(nowMs); err != nil {
			logger.Error("persist pos state failed", slog.Any("error", err))
		}
		time.Sleep(tickInterval)
	}
}

// noopReducer rejects every action; gameplay reducers (agent/economy/social
// rules) are out of scope (spec.md §1 "Out of scope") and are wired in by
// embedding worldnode as a library with a real world.ActionReducer.
type noopReducer struct{}

func (noopReducer) Reduce(state *worldtypes.State, action worldtypes.Action) (worldtypes.DomainEventBody, error) {
	return nil, fmt.Errorf("worldnode: no domain reducer configured for action kind %q", action.Kind)
}

// hashExecutionHook is a placeholder execution layer binding actionRoot and
// height to a deterministic digest; a real deployment wires an EVM or other
// execution engine's block hash/state root here (spec.md §4.8 step 3).
type hashExecutionHook struct{}

func (hashExecutionHook) Execute(worldID string, height uint64, actionRoot string) (string, string, error) {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s:%d:%s", worldID, height, actionRoot)))
	digest := hex.EncodeToString(sum[:])
	return digest, digest, nil
}

// loadOrCreateIdentity decrypts this node's secp256k1 identity key from path,
// generating and persisting a fresh one on first run, mirroring the
// teacher's cmd/nhb validator-key bootstrap.
func loadOrCreateIdentity(path, passphrase string) (*crypto.PrivateKey, error) {
	if _, err := os.Stat(path); err == nil {
		return crypto.LoadFromKeystore(path, passphrase)
	}
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		return nil, err
	}
	if err := crypto.SaveToKeystore(path, key, passphrase); err != nil {
		return nil, err
	}
	return key, nil
}
