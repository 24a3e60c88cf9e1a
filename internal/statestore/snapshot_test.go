package statestore

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/systemg/systemg/internal/svcstate"
)

func TestSnapshotStore_LoadOnFreshDirectoryStartsEmpty(t *testing.T) {
	store := NewSnapshotStore(t.TempDir())
	snap, err := store.Load()
	require.NoError(t, err)
	require.Empty(t, snap.Services)
}

func TestSnapshotStore_SaveIfDirtyIsWriteBehind(t *testing.T) {
	dir := t.TempDir()
	store := NewSnapshotStore(dir)
	_, err := store.Load()
	require.NoError(t, err)

	// Nothing written yet: Put only marks the cache dirty, never forces a
	// synchronous disk write on the hot transition path (§3's write-behind
	// invariant).
	store.Put(svcstate.Record{Name: "web", State: svcstate.Healthy})
	rec, ok := store.Get("web")
	require.True(t, ok)
	require.Equal(t, svcstate.Healthy, rec.State)

	require.NoError(t, store.SaveIfDirty())

	reloaded := NewSnapshotStore(dir)
	snap, err := reloaded.Load()
	require.NoError(t, err)
	require.Equal(t, svcstate.Healthy, snap.Services["web"].State)
}

func TestSnapshotStore_SaveIfDirtyNoopWhenClean(t *testing.T) {
	store := NewSnapshotStore(t.TempDir())
	_, err := store.Load()
	require.NoError(t, err)
	require.NoError(t, store.SaveIfDirty())
	require.False(t, store.dirty)
}

func TestSnapshotStore_PIDJSONOnlyListsLivePIDs(t *testing.T) {
	dir := t.TempDir()
	store := NewSnapshotStore(dir)
	_, err := store.Load()
	require.NoError(t, err)

	store.Put(svcstate.Record{Name: "web", State: svcstate.Healthy, PID: 4242})
	store.Put(svcstate.Record{Name: "done", State: svcstate.Stopped, PID: 0})
	require.NoError(t, store.SaveIfDirty())

	b, err := os.ReadFile(store.pidPath())
	require.NoError(t, err)
	require.Contains(t, string(b), "4242")
	require.NotContains(t, string(b), `"done"`)
}

func TestAcquirePIDLock_RefusesSecondInstance(t *testing.T) {
	dir := t.TempDir()
	lock, err := AcquirePIDLock(dir)
	require.NoError(t, err)
	defer lock.Release()

	_, err = AcquirePIDLock(dir)
	require.ErrorIs(t, err, ErrAlreadyRunning)
}

func TestAcquirePIDLock_ReleaseAllowsReacquire(t *testing.T) {
	dir := t.TempDir()
	lock, err := AcquirePIDLock(dir)
	require.NoError(t, err)
	require.NoError(t, lock.Release())

	lock2, err := AcquirePIDLock(dir)
	require.NoError(t, err)
	require.NoError(t, lock2.Release())
}
