// Package config defines the proxy's CLI/file configuration, grounded on
// ofelia/cli/daemon.go's flag-struct pattern and ofelia/ofelia.go's parser
// wiring, adapted from Docker job-scheduling flags to tauproxy's own.
package config

import (
	"fmt"
	"os"
	"os/user"
	"path/filepath"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
)

// Config holds every tunable the proxy needs at startup. Struct tags drive
// three layers applied in order: struct defaults (creasty/defaults) <
// config file values < CLI flags.
type Config struct {
	ExporterPort int    `long:"exporter-port" short:"p" env:"TAUPROXY_EXPORTER_PORT" description:"TCP port for the Prometheus exporter" default:"1337" validate:"min=1,max=65535" mapstructure:"exporter_port"`
	SocketPath   string `long:"socket" short:"u" env:"TAUPROXY_SOCKET" description:"Unix stream socket path for ingest" validate:"required" mapstructure:"socket"`
	ProfileDir   string `long:"profile-dir" short:"P" env:"TAUPROXY_PROFILE_DIR" description:"Root directory for per-job profiles and the inbox" validate:"required" mapstructure:"profile_dir"`
	NoLeader     bool   `long:"no-leader" short:"i" description:"Do not run the profile consolidator; assume a peer is the leader" mapstructure:"no_leader"`
	Verbose      bool   `long:"verbose" short:"v" description:"Enable debug-level logging" mapstructure:"verbose"`
	ConfigFile   string `long:"config" description:"Optional .ini or .yaml configuration file"`
}

// Default returns a Config with struct defaults applied and SocketPath /
// ProfileDir resolved against the current user, matching main.c's
// getpwuid-based home directory lookup and its default socket naming
// (/tmp/tau_metric_proxy.<uid>.unix).
func Default() (*Config, error) {
	cfg := &Config{}
	if err := defaults.Set(cfg); err != nil {
		return nil, fmt.Errorf("config: apply defaults: %w", err)
	}

	cfg.SocketPath = fmt.Sprintf("/tmp/tau_metric_proxy.%d.unix", os.Getuid())

	home, err := homeDir()
	if err != nil {
		return nil, err
	}
	cfg.ProfileDir = filepath.Join(home, ".tauproxy")

	return cfg, nil
}

// homeDir resolves the current user's home directory via os/user, matching
// main.c's getpwuid(getuid())->pw_dir lookup rather than relying on $HOME.
func homeDir() (string, error) {
	u, err := user.Current()
	if err != nil {
		return "", fmt.Errorf("config: resolve home directory: %w", err)
	}
	return u.HomeDir, nil
}

var structValidator = validator.New()

// Validate applies struct-tag validation (port range, required paths) and
// the filesystem path sanitizer, mirroring
// ofelia/cli/config_validate.go's ValidateConfig.
func (c *Config) Validate() error {
	if err := structValidator.Struct(c); err != nil {
		return fmt.Errorf("config: %w", err)
	}

	san := NewSanitizer()
	if err := san.ValidatePath(c.SocketPath); err != nil {
		return fmt.Errorf("config: socket path: %w", err)
	}
	if err := san.ValidatePath(c.ProfileDir); err != nil {
		return fmt.Errorf("config: profile dir: %w", err)
	}
	return nil
}
