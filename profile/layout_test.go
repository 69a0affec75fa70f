package profile

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnsureLayoutCreatesProfilesDir(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, EnsureLayout(root))

	info, err := os.Stat(filepath.Join(root, profilesDir))
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestProfilePathIsShardedByFirstByte(t *testing.T) {
	p := ProfilePath("/root", "42abc")
	assert.Equal(t, filepath.Join("/root", profilesDir, "4", "42abc.profile"), p)
}

func TestInboxPathIncludesHostAndPID(t *testing.T) {
	p := InboxPath("/root", "42", "node1", 777)
	assert.Equal(t, filepath.Join("/root", "42-node1.777.taumetric"), p)
}

func TestJobidFromProfileName(t *testing.T) {
	jobid, ok := jobidFromProfileName("42.profile")
	assert.True(t, ok)
	assert.Equal(t, "42", jobid)

	_, ok = jobidFromProfileName("42.taumetric")
	assert.False(t, ok)
}
