package dump

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/netresearch/tauproxy/metricstore"
	"github.com/netresearch/tauproxy/wire"
)

func TestSaveLoadApplyRoundTrip(t *testing.T) {
	store := metricstore.New()
	_, _, err := store.Register("jobs", "count of jobs", wire.TypeCounter)
	require.NoError(t, err)
	require.NoError(t, store.Update("jobs", 3))
	_, _, err = store.Register("temp", "degrees", wire.TypeGauge)
	require.NoError(t, err)
	require.NoError(t, store.Update("temp", 50))
	require.NoError(t, store.Update("temp", 60))

	desc := wire.JobDescriptor{JobID: "123", Command: "./run", StartTime: 1000, EndTime: 2000}

	path := filepath.Join(t.TempDir(), "123.taumetric")
	require.NoError(t, Save(path, desc, store))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, desc, loaded.Desc)
	require.Len(t, loaded.Snapshots, 2)

	fold := metricstore.New()
	Apply(loaded, fold)

	jobs, ok := fold.Get("jobs")
	require.True(t, ok)
	assert.Equal(t, 3.0, jobs.Value())

	temp, ok := fold.Get("temp")
	require.True(t, ok)
	assert.Equal(t, store.Count(), fold.Count())
	// store: (0+50)/2=25, (25+60)/2=42.5. The snapshot carries that rolled-up
	// average, and folding it into a fresh gauge takes it as-is: no second
	// fold on top of a zero starting average.
	assert.InDelta(t, 42.5, temp.Value(), 1e-9)
}

func TestLoadRejectsBadTrailer(t *testing.T) {
	store := metricstore.New()
	path := filepath.Join(t.TempDir(), "bad.taumetric")
	require.NoError(t, Save(path, wire.JobDescriptor{JobID: "x"}, store))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	data[len(data)-1] = 0x00
	require.NoError(t, os.WriteFile(path, data, 0o600))

	_, err = Load(path)
	assert.ErrorIs(t, err, ErrBadTrailer)
}

func TestLoadFailsFastOnShortFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "truncated.taumetric")
	require.NoError(t, os.WriteFile(path, []byte{1, 2, 3}, 0o600))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestApplyPreservesGaugeRollingAverage(t *testing.T) {
	store := metricstore.New()
	_, _, err := store.Register("load", "", wire.TypeGauge)
	require.NoError(t, err)
	require.NoError(t, store.Update("load", 4))
	require.NoError(t, store.Update("load", 8))

	path := filepath.Join(t.TempDir(), "load.taumetric")
	require.NoError(t, Save(path, wire.JobDescriptor{JobID: "g"}, store))

	loaded, err := Load(path)
	require.NoError(t, err)

	fold := metricstore.New()
	Apply(loaded, fold)

	rec, ok := fold.Get("load")
	require.True(t, ok)
	// store: (0+4)/2=2, (2+8)/2=5. A fresh gauge folded from this snapshot
	// takes the rolled-up average as-is, so it reads back as exactly 5.
	assert.InDelta(t, 5.0, rec.Value(), 1e-9)
}
