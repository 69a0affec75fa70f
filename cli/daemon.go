// Package cli wires parsed configuration into the running proxy, grounded
// on ofelia/cli/daemon.go's boot/start/shutdown split.
package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/netresearch/tauproxy/config"
	"github.com/netresearch/tauproxy/dump"
	"github.com/netresearch/tauproxy/exporter"
	"github.com/netresearch/tauproxy/ingest"
	"github.com/netresearch/tauproxy/jobregistry"
	"github.com/netresearch/tauproxy/logging"
	"github.com/netresearch/tauproxy/metricstore"
	"github.com/netresearch/tauproxy/profile"
	"github.com/netresearch/tauproxy/supervisor"
)

// DaemonCommand is the single entry point go-flags parses CLI arguments
// into. Its embedded Config carries every tunable; Execute runs the boot,
// serve, and shutdown phases in order.
type DaemonCommand struct {
	config.Config

	logger    logging.Logger
	tail      *logging.Tail
	main      *metricstore.Store
	registry  *jobregistry.Registry
	profStore *profile.Store
	sv        *supervisor.ShutdownManager
	exp       *exporter.Exporter
	ing       *ingest.Server
	consolidr *profile.Consolidator
}

// Execute runs boot, then serve, then blocks until shutdown completes.
// Signature matches the go-flags Commander interface.
func (c *DaemonCommand) Execute(_ []string) error {
	if err := c.boot(); err != nil {
		return err
	}
	return c.serve()
}

func (c *DaemonCommand) boot() error {
	c.tail = logging.NewTail()
	adapter := logging.NewLogrusAdapter(c.Verbose)
	adapter.Logger.SetOutput(io.MultiWriter(os.Stderr, c.tail))
	c.logger = adapter

	if c.ConfigFile != "" {
		if err := config.LoadFile(c.ConfigFile, &c.Config); err != nil {
			c.logger.Warningf("cli: %v", err)
		}
	}
	if err := c.Config.Validate(); err != nil {
		return fmt.Errorf("cli: invalid configuration: %w", err)
	}

	c.sv = supervisor.NewShutdownManager(c.logger, 30*time.Second)

	c.main = metricstore.New()

	if err := profile.EnsureLayout(c.ProfileDir); err != nil {
		return fmt.Errorf("cli: prepare profile directory: %w", err)
	}

	c.profStore = profile.NewStore()
	if err := c.profStore.Populate(c.ProfileDir); err != nil {
		return fmt.Errorf("cli: populate profile store: %w", err)
	}

	hostname, err := os.Hostname()
	if err != nil {
		hostname = "localhost"
	}

	c.registry = jobregistry.New(func(desc jobregistry.Descriptor, store *metricstore.Store) {
		if desc.JobID == "" {
			return
		}
		path := profile.InboxPath(c.ProfileDir, desc.JobID, hostname, os.Getpid())
		if err := dump.Save(path, desc.ToWire(), store); err != nil {
			c.logger.Errorf("cli: dump job %s: %v", desc.JobID, err)
		}
	})

	c.exp, err = exporter.New(fmt.Sprintf(":%d", c.ExporterPort), c.main, c.logger, c.tail)
	if err != nil {
		return fmt.Errorf("cli: start exporter: %w", err)
	}

	c.ing, err = ingest.New(c.SocketPath, c.main, c.registry, c.logger)
	if err != nil {
		return fmt.Errorf("cli: start ingest server: %w", err)
	}

	if !c.NoLeader {
		lockPath := profile.LockPath(c.ProfileDir)
		if err := profile.AcquireLock(lockPath); err != nil {
			return fmt.Errorf("cli: acquire consolidator lock: %w", err)
		}
		c.consolidr = profile.New(c.ProfileDir, c.profStore, c.logger)
	}

	c.registerShutdownHooks()
	c.sv.ListenForShutdown()
	return nil
}

func (c *DaemonCommand) serve() error {
	ctx := context.Background()

	go c.exp.Serve(ctx)

	if c.consolidr != nil {
		// The consolidator's poll loop stops as soon as shutdown begins.
		cctx, cancel := context.WithCancel(ctx)
		go func() {
			<-c.sv.ShutdownChan()
			cancel()
		}()
		go c.consolidr.Run(cctx)
	}

	c.logger.Noticef("cli: serving ingest socket %s, exporter on port %d", c.SocketPath, c.ExporterPort)
	c.ing.Serve(ctx)

	<-c.sv.ShutdownChan()
	if c.sv.WasSignalTriggered() {
		return supervisor.ErrSignalShutdown
	}
	return nil
}

func (c *DaemonCommand) registerShutdownHooks() {
	c.sv.RegisterHook(supervisor.ShutdownHook{
		Name: "exporter", Priority: 10,
		Hook: func(context.Context) error {
			return c.exp.Close()
		},
	})
	c.sv.RegisterHook(supervisor.ShutdownHook{
		Name: "ingest-server", Priority: 20,
		Hook: func(context.Context) error {
			return c.ing.Close()
		},
	})
	c.sv.RegisterHook(supervisor.ShutdownHook{
		Name: "job-registry-drain", Priority: 30,
		Hook: func(context.Context) error {
			c.registry.Drain()
			return nil
		},
	})
	if c.consolidr != nil {
		c.sv.RegisterHook(supervisor.ShutdownHook{
			Name: "consolidator", Priority: 40,
			Hook: func(context.Context) error {
				return c.consolidr.ConsolidateOnce()
			},
		})
	}
}
