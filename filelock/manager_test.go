package filelock

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentmesh/mcs/store"
)

func TestCompatibilityMatrix(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "shared.txt")
	require.NoError(t, os.WriteFile(target, nil, 0o644)) // read locks open the file read-only, so it must exist
	m := New(Config{})
	ctx := context.Background()

	r1, err := m.AcquireFileLock(ctx, target, store.AccessRead, time.Second, "c1", nil, nil)
	require.NoError(t, err)
	defer r1.Release()

	r2, err := m.AcquireFileLock(ctx, target, store.AccessRead, time.Second, "c2", nil, nil)
	require.NoError(t, err)
	defer r2.Release()

	_, err = m.AcquireFileLock(ctx, target, store.AccessWrite, 100*time.Millisecond, "c3", nil, nil)
	require.Error(t, err)
	assert.Equal(t, store.KindLockTimeout, store.KindOf(err))
}

func TestWriteExcludesEverything(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "exclusive.txt")
	m := New(Config{})
	ctx := context.Background()

	w, err := m.AcquireFileLock(ctx, target, store.AccessWrite, time.Second, "writer", nil, nil)
	require.NoError(t, err)
	defer w.Release()

	_, err = m.AcquireFileLock(ctx, target, store.AccessRead, 100*time.Millisecond, "reader", nil, nil)
	require.Error(t, err)
	assert.Equal(t, store.KindLockTimeout, store.KindOf(err))
}

func TestReleaseFreesLockForNextHolder(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "seq.txt")
	m := New(Config{})
	ctx := context.Background()

	w, err := m.AcquireFileLock(ctx, target, store.AccessWrite, time.Second, "first", nil, nil)
	require.NoError(t, err)
	w.Release()

	w2, err := m.AcquireFileLock(ctx, target, store.AccessWrite, time.Second, "second", nil, nil)
	require.NoError(t, err)
	w2.Release()

	assert.Equal(t, 0, m.ActiveHolders(target))
}

func TestSweepExpiredRemovesOldEntries(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "stale.txt")
	m := New(Config{})
	ctx := context.Background()

	h, err := m.AcquireFileLock(ctx, target, store.AccessWrite, time.Second, "crashed-worker", nil, nil)
	require.NoError(t, err)
	_ = h // deliberately not released, simulating a crashed holder

	m.mu.Lock()
	for _, holders := range m.active {
		for _, hh := range holders {
			hh.acquiredAt = time.Now().Add(-48 * time.Hour)
		}
	}
	m.mu.Unlock()

	removed := m.SweepExpired(24 * time.Hour)
	assert.Equal(t, 1, removed)
	assert.Equal(t, 0, m.ActiveHolders(target))
}

func TestClassifyAccessType(t *testing.T) {
	assert.Equal(t, store.AccessExclusive, ClassifyAccessType("delete the old report"))
	assert.Equal(t, store.AccessWrite, ClassifyAccessType("write a summary to output.md"))
	assert.Equal(t, store.AccessRead, ClassifyAccessType("review the contents of notes.txt"))
}

func TestExtractFilePaths(t *testing.T) {
	paths := ExtractFilePaths(`update "src/main.go" and notes.txt, then read /etc/hosts`)
	assert.NotEmpty(t, paths)
}
