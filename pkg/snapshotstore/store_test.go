package snapshotstore

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeOK(content string) func(dir string) (bool, error) {
	return func(dir string) (bool, error) {
		return true, os.WriteFile(filepath.Join(dir, "data.bin"), []byte(content), 0o644)
	}
}

func TestTakePersistRoundTrip(t *testing.T) {
	s, err := Open(t.TempDir())
	require.NoError(t, err)

	transient, ok, err := s.NewTransient(2, 1, 2, 3)
	require.NoError(t, err)
	require.True(t, ok)

	taken, err := transient.Take(writeOK("hello"))
	require.NoError(t, err)
	require.True(t, taken)

	persisted, err := transient.Persist()
	require.NoError(t, err)

	latest, ok, err := s.Latest()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, persisted.ID, latest.ID)
	assert.Equal(t, int64(2), latest.ID.CompactionBound())
}

func TestPersistPrunesPriorSnapshots(t *testing.T) {
	s, err := Open(t.TempDir())
	require.NoError(t, err)

	for _, pos := range []int64{1, 3, 5} {
		transient, ok, err := s.NewTransient(uint64(pos), 1, pos, pos)
		require.NoError(t, err)
		require.True(t, ok)
		_, err = transient.Take(writeOK("x"))
		require.NoError(t, err)
		_, err = transient.Persist()
		require.NoError(t, err)
	}

	count, err := s.ValidSnapshotCount()
	require.NoError(t, err)
	assert.Equal(t, 1, count, "only the latest persisted snapshot should be retained")

	latest, ok, err := s.Latest()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(5), latest.ID.CompactionBound())
}

func TestNewTransientAllowsSamePrefixDifferentOrdinal(t *testing.T) {
	s, err := Open(t.TempDir())
	require.NoError(t, err)

	first, ok, err := s.NewTransient(1, 1, 5, 5)
	require.NoError(t, err)
	require.True(t, ok)
	_, err = first.Take(writeOK("a"))
	require.NoError(t, err)
	p1, err := first.Persist()
	require.NoError(t, err)

	second, ok, err := s.NewTransient(2, 1, 5, 5)
	require.NoError(t, err)
	require.True(t, ok, "a same-prefix candidate that doesn't regress the compaction bound must be allowed")
	_, err = second.Take(writeOK("b"))
	require.NoError(t, err)
	p2, err := second.Persist()
	require.NoError(t, err)

	assert.Equal(t, p1.ID.CompactionBound(), p2.ID.CompactionBound())
	assert.Greater(t, p2.ID.String(), p1.ID.String())
}

func TestNewTransientRefusesRegression(t *testing.T) {
	s, err := Open(t.TempDir())
	require.NoError(t, err)

	transient, ok, err := s.NewTransient(5, 1, 10, 10)
	require.NoError(t, err)
	require.True(t, ok)
	_, err = transient.Take(writeOK("a"))
	require.NoError(t, err)
	_, err = transient.Persist()
	require.NoError(t, err)

	_, ok, err = s.NewTransient(1, 1, 2, 2)
	require.NoError(t, err)
	assert.False(t, ok, "a candidate that would lower the compaction bound must be refused")
}

func TestTakeFailureDiscardsPendingDir(t *testing.T) {
	s, err := Open(t.TempDir())
	require.NoError(t, err)

	transient, ok, err := s.NewTransient(1, 1, 1, 1)
	require.NoError(t, err)
	require.True(t, ok)

	dir := transient.Dir()
	taken, err := transient.Take(func(string) (bool, error) { return false, nil })
	require.NoError(t, err)
	assert.False(t, taken)
	assert.NoDirExists(t, dir)
}

func TestAbortDiscardsPendingDir(t *testing.T) {
	s, err := Open(t.TempDir())
	require.NoError(t, err)

	transient, ok, err := s.NewTransient(1, 1, 1, 1)
	require.NoError(t, err)
	require.True(t, ok)

	dir := transient.Dir()
	require.NoError(t, transient.Abort())
	assert.NoDirExists(t, dir)
}

func TestLatestSkipsCorruptedSnapshot(t *testing.T) {
	root := t.TempDir()
	s, err := Open(root)
	require.NoError(t, err)

	transient, ok, err := s.NewTransient(1, 1, 1, 1)
	require.NoError(t, err)
	require.True(t, ok)
	_, err = transient.Take(writeOK("a"))
	require.NoError(t, err)
	persisted, err := transient.Persist()
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(persisted.Dir, "data.bin"), []byte("corrupted"), 0o644))

	_, ok, err = s.Latest()
	require.NoError(t, err)
	assert.False(t, ok)

	count, err := s.ValidSnapshotCount()
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestOpenCleansStalePendingDirectories(t *testing.T) {
	root := t.TempDir()
	s, err := Open(root)
	require.NoError(t, err)

	transient, ok, err := s.NewTransient(1, 1, 1, 1)
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, os.WriteFile(filepath.Join(transient.Dir(), "partial.bin"), []byte("x"), 0o644))

	// Simulate a crash: reopen the store without persisting or aborting.
	s2, err := Open(root)
	require.NoError(t, err)

	entries, err := os.ReadDir(filepath.Join(root, pendingDirName))
	require.NoError(t, err)
	assert.Empty(t, entries, "stale pending directories must be cleaned on Open")

	_, ok, err = s2.Latest()
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestOnPersistNotifiesListeners(t *testing.T) {
	s, err := Open(t.TempDir())
	require.NoError(t, err)

	var notified PersistedSnapshot
	s.OnPersist(func(p PersistedSnapshot) { notified = p })

	transient, ok, err := s.NewTransient(1, 1, 1, 1)
	require.NoError(t, err)
	require.True(t, ok)
	_, err = transient.Take(writeOK("a"))
	require.NoError(t, err)
	persisted, err := transient.Persist()
	require.NoError(t, err)

	assert.Equal(t, persisted.ID, notified.ID)
}

func TestCopyProducesByteForByteCopy(t *testing.T) {
	s, err := Open(t.TempDir())
	require.NoError(t, err)

	transient, ok, err := s.NewTransient(1, 1, 1, 1)
	require.NoError(t, err)
	require.True(t, ok)
	_, err = transient.Take(writeOK("payload"))
	require.NoError(t, err)
	persisted, err := transient.Persist()
	require.NoError(t, err)

	dst := filepath.Join(t.TempDir(), "copy")
	require.NoError(t, s.Copy(persisted, dst))

	content, err := os.ReadFile(filepath.Join(dst, "data.bin"))
	require.NoError(t, err)
	assert.Equal(t, "payload", string(content))
}
