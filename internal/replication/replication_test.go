package replication

import (
	"context"
	"crypto/ed25519"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStorePutGetBlobRoundTrip(t *testing.T) {
	dir := t.TempDir()
	store, err := Open(dir)
	require.NoError(t, err)
	defer store.Close()

	hash, err := store.PutBlob([]byte("hello world"))
	require.NoError(t, err)

	blob, found, err := store.GetBlob(hash)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "hello world", string(blob))
}

func TestStoreGetBlobMissingNotFound(t *testing.T) {
	dir := t.TempDir()
	store, err := Open(dir)
	require.NoError(t, err)
	defer store.Close()

	_, found, err := store.GetBlob("deadbeef")
	require.NoError(t, err)
	require.False(t, found)
}

func TestStorePathIndexPersists(t *testing.T) {
	dir := t.TempDir()
	store, err := Open(dir)
	require.NoError(t, err)
	hash, err := store.PutBlob([]byte("payload"))
	require.NoError(t, err)
	require.NoError(t, store.PutPath("worlds/w1/manifest", hash))
	require.NoError(t, store.Close())

	reopened, err := Open(dir)
	require.NoError(t, err)
	defer reopened.Close()
	got, ok := reopened.ResolvePath("worlds/w1/manifest")
	require.True(t, ok)
	require.Equal(t, hash, got)
}

func TestAcquireGuardRejectsSecondWriter(t *testing.T) {
	dir := t.TempDir()
	store, err := Open(dir)
	require.NoError(t, err)
	defer store.Close()

	_, err = AcquireGuard(dir)
	require.Error(t, err)
}

func TestGuardReleasedAllowsReacquire(t *testing.T) {
	dir := t.TempDir()
	g, err := AcquireGuard(dir)
	require.NoError(t, err)
	require.NoError(t, g.Release())

	g2, err := AcquireGuard(dir)
	require.NoError(t, err)
	require.NoError(t, g2.Release())
}

func TestCommitSignVerifyRoundTrip(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	execHash := "exec-hash-1"
	rec := CommitRecord{
		WorldID:            "w1",
		NodeID:              "node-1",
		Height:              10,
		Slot:                100,
		Epoch:               10,
		BlockHash:           "b10",
		ActionRoot:          "ar10",
		CommittedAtMs:       5000,
		ExecutionBlockHash:  &execHash,
	}
	require.NoError(t, rec.Sign(priv))
	require.True(t, rec.Verify(pub))
}

func TestCommitVerifyRejectsTamperedActionRoot(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	rec := CommitRecord{WorldID: "w1", NodeID: "n1", Height: 1, BlockHash: "b1", ActionRoot: "ar1", CommittedAtMs: 1}
	require.NoError(t, rec.Sign(priv))

	rec.ActionRoot = "tampered"
	require.False(t, rec.Verify(pub))
}

func TestCommitVerifyRejectsTamperedExecutionBinding(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	stateRoot := "state-root-1"
	rec := CommitRecord{WorldID: "w1", NodeID: "n1", Height: 1, BlockHash: "b1", ActionRoot: "ar1", CommittedAtMs: 1, ExecutionStateRoot: &stateRoot}
	require.NoError(t, rec.Sign(priv))

	tampered := "tampered-root"
	rec.ExecutionStateRoot = &tampered
	require.False(t, rec.Verify(pub))
}

func TestSaveLoadCommitRoundTrip(t *testing.T) {
	dir := t.TempDir()
	rec := CommitRecord{WorldID: "w1", Height: 7, BlockHash: "b7"}
	require.NoError(t, SaveCommit(dir, rec))

	got, found, err := LoadCommit(dir, 7)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, rec.BlockHash, got.BlockHash)

	path := commitPath(dir, 7)
	require.Equal(t, filepath.Join(dir, "consensus", "commits", "00000000000000000007.json"), path)
}

func TestLoadCommitMissingNotFound(t *testing.T) {
	_, found, err := LoadCommit(t.TempDir(), 99)
	require.NoError(t, err)
	require.False(t, found)
}

// fakeNetwork serves FetchCommit from an in-memory map, used to exercise
// GapSyncer without a real transport.
type fakeNetwork struct {
	commits map[uint64]CommitMessage
}

func (f *fakeNetwork) FetchCommit(_ context.Context, _ string, req FetchCommitRequest) (FetchCommitResponse, error) {
	msg, ok := f.commits[req.Height]
	if !ok {
		return FetchCommitResponse{Found: false}, nil
	}
	return FetchCommitResponse{Found: true, Message: &msg}, nil
}

func (f *fakeNetwork) FetchBlob(_ context.Context, _ string, req FetchBlobRequest) (FetchBlobResponse, error) {
	return FetchBlobResponse{Found: false}, nil
}

func TestGapSyncerFetchesMissingHeightsInOrder(t *testing.T) {
	net := &fakeNetwork{commits: make(map[uint64]CommitMessage)}
	for h := uint64(1); h <= 3; h++ {
		rec := CommitRecord{WorldID: "w1", Height: h, BlockHash: "b"}
		payload, err := json.Marshal(rec)
		require.NoError(t, err)
		net.commits[h] = CommitMessage{Payload: payload}
	}

	syncer := NewGapSyncer(net, []string{"peer-1"}, t.TempDir(), nil)
	recs, err := syncer.FetchMissing(context.Background(), "w1", 1, 3)
	require.NoError(t, err)
	require.Len(t, recs, 3)
	require.Equal(t, uint64(1), recs[0].Height)
	require.Equal(t, uint64(3), recs[2].Height)
}

func TestGapSyncerStopsOnNotFoundWithoutError(t *testing.T) {
	net := &fakeNetwork{commits: make(map[uint64]CommitMessage)}
	rec := CommitRecord{WorldID: "w1", Height: 1, BlockHash: "b"}
	payload, err := json.Marshal(rec)
	require.NoError(t, err)
	net.commits[1] = CommitMessage{Payload: payload}
	// height 2 intentionally missing

	syncer := NewGapSyncer(net, []string{"peer-1"}, t.TempDir(), nil)
	recs, err := syncer.FetchMissing(context.Background(), "w1", 1, 5)
	require.NoError(t, err)
	require.Len(t, recs, 1)
}
