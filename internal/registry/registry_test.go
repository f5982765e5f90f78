package registry

import (
	"testing"

	"github.com/stretchr/testify/require"

	"worldsim/internal/worldtypes"
)

func manifest(id, version string) worldtypes.ModuleManifest {
	return worldtypes.ModuleManifest{ModuleID: worldtypes.ModuleID(id), Version: version, WasmHash: "h-" + version}
}

func TestValidateChangeSetRegisterAndActivate(t *testing.T) {
	r := New()
	cs := worldtypes.ModuleChangeSet{
		Register: []worldtypes.ModuleManifest{manifest("econ", "v1")},
		Activate: []worldtypes.ModuleVersionRef{{ModuleID: "econ", Version: "v1"}},
	}
	require.NoError(t, r.ValidateChangeSet(cs))
	events := r.ApplyChangeSet(cs)
	require.Len(t, events, 2)
	active, ok := r.ActiveVersion("econ")
	require.True(t, ok)
	require.Equal(t, "v1", active)
}

func TestValidateChangeSetRejectsDuplicatePlanned(t *testing.T) {
	r := New()
	cs := worldtypes.ModuleChangeSet{
		Register: []worldtypes.ModuleManifest{manifest("econ", "v1"), manifest("econ", "v1")},
	}
	err := r.ValidateChangeSet(cs)
	require.Error(t, err)
}

func TestValidateChangeSetUpgradeRequiresActiveFromVersion(t *testing.T) {
	r := New()
	require.NoError(t, r.ValidateChangeSet(worldtypes.ModuleChangeSet{Register: []worldtypes.ModuleManifest{manifest("econ", "v1")}}))
	r.ApplyChangeSet(worldtypes.ModuleChangeSet{Register: []worldtypes.ModuleManifest{manifest("econ", "v1")}})
	require.NoError(t, r.ValidateChangeSet(worldtypes.ModuleChangeSet{Activate: []worldtypes.ModuleVersionRef{{ModuleID: "econ", Version: "v1"}}}))
	r.ApplyChangeSet(worldtypes.ModuleChangeSet{Activate: []worldtypes.ModuleVersionRef{{ModuleID: "econ", Version: "v1"}}})

	badUpgrade := worldtypes.ModuleChangeSet{Upgrade: []worldtypes.ModuleUpgrade{{FromVersion: "v0", Manifest: manifest("econ", "v2")}}}
	err := r.ValidateChangeSet(badUpgrade)
	require.Error(t, err)

	goodUpgrade := worldtypes.ModuleChangeSet{Upgrade: []worldtypes.ModuleUpgrade{{FromVersion: "v1", Manifest: manifest("econ", "v2")}}}
	require.NoError(t, r.ValidateChangeSet(goodUpgrade))
}

func TestArtifactCacheCompilesOnMissAndCachesOnHit(t *testing.T) {
	cache, err := NewArtifactCache(4, t.TempDir())
	require.NoError(t, err)
	calls := 0
	compile := func() (*CompiledArtifact, error) {
		calls++
		return &CompiledArtifact{EngineFingerprint: "fp1", WasmHash: "h1", Bytes: []byte("compiled")}, nil
	}
	a1, err := cache.GetOrCompile("fp1", "h1", compile)
	require.NoError(t, err)
	require.Equal(t, 1, calls)

	a2, err := cache.GetOrCompile("fp1", "h1", compile)
	require.NoError(t, err)
	require.Equal(t, 1, calls)
	require.Equal(t, a1.Bytes, a2.Bytes)
}

func TestRegisterArtifactRejectsHashMismatch(t *testing.T) {
	store := NewArtifactStore()
	err := store.RegisterArtifact("deadbeef", []byte("hello"))
	require.ErrorIs(t, err, ErrHashMismatch)
}
