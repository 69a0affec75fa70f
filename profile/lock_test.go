package profile

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquireLockCreatesWhenAbsent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lock")
	require.NoError(t, AcquireLock(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	id, ok := parseIdentity(data)
	require.True(t, ok)
	assert.Equal(t, os.Getpid(), id.pid)
}

func TestAcquireLockRefreshesOwnLock(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lock")
	require.NoError(t, AcquireLock(path))

	old, err := os.Stat(path)
	require.NoError(t, err)
	require.NoError(t, os.Chtimes(path, old.ModTime().Add(-time.Minute), old.ModTime().Add(-time.Minute)))

	require.NoError(t, AcquireLock(path))
	fresh, err := os.Stat(path)
	require.NoError(t, err)
	assert.True(t, fresh.ModTime().After(old.ModTime().Add(-time.Minute)))
}

func TestAcquireLockRejectsFreshForeignLock(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lock")
	require.NoError(t, writeLock(path, identity{hostname: "other-host", pid: 999999}))

	err := AcquireLock(path)
	assert.ErrorIs(t, err, ErrLockHeld)
}

func TestAcquireLockTakesOverStaleForeignLock(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lock")
	require.NoError(t, writeLock(path, identity{hostname: "other-host", pid: 999999}))

	stale := time.Now().Add(-staleAfter - time.Second)
	require.NoError(t, os.Chtimes(path, stale, stale))

	require.NoError(t, AcquireLock(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	id, ok := parseIdentity(data)
	require.True(t, ok)
	assert.Equal(t, os.Getpid(), id.pid)
}
