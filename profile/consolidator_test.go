package profile

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/netresearch/tauproxy/dump"
	"github.com/netresearch/tauproxy/logging"
	"github.com/netresearch/tauproxy/metricstore"
	"github.com/netresearch/tauproxy/wire"
)

func testLogger() logging.Logger {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	l.SetLevel(logrus.PanicLevel) // silence test output
	return &logging.LogrusAdapter{Logger: l}
}

func writeInboxDump(t *testing.T, root, jobid string, cmd string, start, end int64, value float64) {
	t.Helper()
	store := metricstore.New()
	_, _, err := store.Register("jobs", "", wire.TypeCounter)
	require.NoError(t, err)
	require.NoError(t, store.Update("jobs", value))

	desc := wire.JobDescriptor{JobID: jobid, Command: cmd, StartTime: start, EndTime: end}
	path := InboxPath(root, jobid, "node1", os.Getpid())
	require.NoError(t, dump.Save(path, desc, store))
}

func TestConsolidateOnceInstallsNewProfile(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, EnsureLayout(root))
	writeInboxDump(t, root, "10", "./a.out", 100, 200, 5)

	store := NewStore()
	c := New(root, store, testLogger())
	require.NoError(t, c.ConsolidateOnce())

	assert.True(t, store.Has("10"))

	_, err := os.Stat(InboxPath(root, "10", "node1", os.Getpid()))
	assert.True(t, os.IsNotExist(err), "inbox file must be unlinked after consolidation")

	loaded, err := dump.Load(ProfilePath(root, "10"))
	require.NoError(t, err)
	assert.Equal(t, "./a.out", loaded.Desc.Command)
	assert.Equal(t, int64(100), loaded.Desc.StartTime)
	assert.Equal(t, int64(200), loaded.Desc.EndTime)
}

func TestConsolidateTwiceEqualsOnce(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, EnsureLayout(root))
	writeInboxDump(t, root, "20", "./a.out", 100, 150, 3)

	store := NewStore()
	c := New(root, store, testLogger())
	require.NoError(t, c.ConsolidateOnce())

	first, err := dump.Load(ProfilePath(root, "20"))
	require.NoError(t, err)

	// Consolidating again with nothing new in the inbox must be a no-op.
	require.NoError(t, c.ConsolidateOnce())

	second, err := dump.Load(ProfilePath(root, "20"))
	require.NoError(t, err)

	assert.Equal(t, first.Desc, second.Desc)
	assert.Equal(t, first.Snapshots, second.Snapshots)
}

func TestConsolidateMergesSecondDumpForSameJob(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, EnsureLayout(root))
	store := NewStore()
	c := New(root, store, testLogger())

	writeInboxDump(t, root, "30", "./a.out", 100, 150, 2)
	require.NoError(t, c.ConsolidateOnce())

	// A second dump from a different rank of the same job, overlapping
	// times and an identical command.
	writeInboxDump(t, root, "30", "./a.out", 120, 180, 4)
	require.NoError(t, c.ConsolidateOnce())

	merged, err := dump.Load(ProfilePath(root, "30"))
	require.NoError(t, err)
	assert.Equal(t, int64(100), merged.Desc.StartTime)
	assert.Equal(t, int64(180), merged.Desc.EndTime)
	assert.Equal(t, "./a.out", merged.Desc.Command) // identical command is not duplicated
}

func TestReconcileDescriptorsConcatenatesDistinctCommands(t *testing.T) {
	a := wire.JobDescriptor{Command: "step1", StartTime: 10, EndTime: 20}
	b := wire.JobDescriptor{Command: "step2", StartTime: 5, EndTime: 30}

	merged := reconcileDescriptors(a, b)
	assert.Equal(t, "step1 : step2", merged.Command)
	assert.Equal(t, int64(5), merged.StartTime)
	assert.Equal(t, int64(30), merged.EndTime)
}

func TestReconcileDescriptorsCapsCommandLength(t *testing.T) {
	a := wire.JobDescriptor{Command: "a"}
	long := make([]byte, maxCommandLen)
	for i := range long {
		long[i] = 'b'
	}
	b := wire.JobDescriptor{Command: string(long)}

	merged := reconcileDescriptors(a, b)
	assert.LessOrEqual(t, len(merged.Command), maxCommandLen-1)
}

func TestMergeDropsCorruptExistingProfile(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, EnsureLayout(root))

	shard := filepath.Join(root, profilesDir, "4")
	require.NoError(t, os.MkdirAll(shard, 0o750))
	corruptPath := filepath.Join(shard, "40.profile")
	require.NoError(t, os.WriteFile(corruptPath, []byte("not a dump file"), 0o600))

	store := NewStore()
	store.Add("40") // the store believes a profile already exists
	c := New(root, store, testLogger())

	writeInboxDump(t, root, "40", "./a.out", 1, 2, 1)
	require.NoError(t, c.ConsolidateOnce())

	assert.False(t, store.Has("40"), "a corrupt existing profile must demote the jobid back to unknown")
}
