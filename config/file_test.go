package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFileYAMLOverridesDefaults(t *testing.T) {
	cfg, err := Default()
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "tauproxy.yaml")
	content := "exporter_port: 9000\nsocket: /tmp/custom.sock\nno_leader: true\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	require.NoError(t, LoadFile(path, cfg))
	assert.Equal(t, 9000, cfg.ExporterPort)
	assert.Equal(t, "/tmp/custom.sock", cfg.SocketPath)
	assert.True(t, cfg.NoLeader)
}

func TestLoadFileINIOverridesDefaults(t *testing.T) {
	cfg, err := Default()
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "tauproxy.ini")
	content := "exporter_port = 9100\nsocket = /tmp/ini.sock\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	require.NoError(t, LoadFile(path, cfg))
	assert.Equal(t, "/tmp/ini.sock", cfg.SocketPath)
}

func TestLoadFileRejectsUnsupportedExtension(t *testing.T) {
	cfg, err := Default()
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "tauproxy.toml")
	require.NoError(t, os.WriteFile(path, []byte("x=1"), 0o600))

	assert.Error(t, LoadFile(path, cfg))
}

func TestLoadFileErrorsOnMissingFile(t *testing.T) {
	cfg, err := Default()
	require.NoError(t, err)
	assert.Error(t, LoadFile(filepath.Join(t.TempDir(), "missing.yaml"), cfg))
}
