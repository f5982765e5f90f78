package journal

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"worldsim/internal/worldtypes"
	"worldsim/storage"
)

func ev(id worldtypes.EventID) worldtypes.Event {
	return worldtypes.Event{ID: id, Time: worldtypes.Tick(id), Body: worldtypes.EventBody{Kind: worldtypes.BodyDomainEvent}}
}

func TestAppendMonotonic(t *testing.T) {
	j := New()
	require.NoError(t, j.Append(ev(1)))
	require.NoError(t, j.Append(ev(2)))
	require.ErrorIs(t, j.Append(ev(2)), ErrNonMonotonicAppend)
	require.Equal(t, 2, j.Len())
}

func TestTruncate(t *testing.T) {
	j := New()
	for i := worldtypes.EventID(1); i <= 5; i++ {
		require.NoError(t, j.Append(ev(i)))
	}
	require.NoError(t, j.Truncate(3))
	require.Equal(t, 3, j.Len())
	require.Error(t, j.Truncate(10))
}

func TestSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	j := New()
	for i := worldtypes.EventID(1); i <= 3; i++ {
		require.NoError(t, j.Append(ev(i)))
	}
	path := filepath.Join(dir, "journal.json")
	require.NoError(t, j.SaveJSON(path))

	loaded, err := LoadJSON(path)
	require.NoError(t, err)
	require.Equal(t, j.All(), loaded.All())
}

func TestSnapshotRetention(t *testing.T) {
	dir := t.TempDir()
	store := NewSnapshotStore(dir, 2)
	for i := 0; i < 3; i++ {
		st := worldtypes.NewState()
		st.Time = worldtypes.Tick(i)
		snap := &worldtypes.Snapshot{State: st, JournalLen: i}
		_, err := store.RecordSnapshot(snap, "manifest-hash")
		require.NoError(t, err)
	}
	cat := store.Catalog()
	require.Len(t, cat.Records, 2)

	entries, err := filepathGlob(dir)
	require.NoError(t, err)
	require.Len(t, entries, 2)
}

func filepathGlob(dir string) ([]string, error) {
	return filepath.Glob(filepath.Join(dir, "snapshots", "*.json"))
}

func TestSnapshotStoreWithIndexSurvivesRestart(t *testing.T) {
	dir := t.TempDir()
	db := storage.NewMemDB()

	store, err := NewSnapshotStoreWithIndex(dir, 2, db)
	require.NoError(t, err)
	for i := 0; i < 2; i++ {
		st := worldtypes.NewState()
		st.Time = worldtypes.Tick(i)
		snap := &worldtypes.Snapshot{State: st, JournalLen: i}
		_, err := store.RecordSnapshot(snap, "manifest-hash")
		require.NoError(t, err)
	}

	reopened, err := NewSnapshotStoreWithIndex(dir, 2, db)
	require.NoError(t, err)
	require.Len(t, reopened.Catalog().Records, 2)
}
