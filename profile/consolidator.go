package profile

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/netresearch/tauproxy/dump"
	"github.com/netresearch/tauproxy/logging"
	"github.com/netresearch/tauproxy/metricstore"
	"github.com/netresearch/tauproxy/wire"
)

// maxCommandLen caps the concatenated "A : B" command string at 512 bytes,
// matching the original's fixed command field width.
const maxCommandLen = 512

// pollInterval is the consolidator's tick period; it sleeps up to this long
// between scans, paced via a rate.Limiter rather than a raw usleep loop so
// shutdown can interrupt it promptly.
const pollInterval = 3 * time.Second

// Consolidator is the leader-only background merger. It must only be run
// by the proxy instance that holds the profile lock.
type Consolidator struct {
	root   string
	store  *Store
	logger logging.Logger
	limit  *rate.Limiter
}

// New creates a Consolidator rooted at root, using store as the in-memory
// profile residency set.
func New(root string, store *Store, logger logging.Logger) *Consolidator {
	return &Consolidator{
		root:   root,
		store:  store,
		logger: logger,
		limit:  rate.NewLimiter(rate.Every(pollInterval), 1),
	}
}

// Run is the merger thread's body: verify/refresh the lock, consolidate,
// sleep, repeat, until ctx is cancelled. It returns no error: a failure to
// refresh the lock, including a lock held by another aggregator, is logged
// and only skips that tick's consolidation.
func (c *Consolidator) Run(ctx context.Context) {
	lockPath := LockPath(c.root)

	for {
		if err := RefreshLock(lockPath); err != nil {
			if errors.Is(err, ErrLockHeld) {
				c.logger.Warningf("profile: lock held by another aggregator, will retry")
			} else {
				c.logger.Errorf("profile: refresh lock: %v", err)
			}
		} else {
			if err := c.ConsolidateOnce(); err != nil {
				c.logger.Errorf("profile: consolidate: %v", err)
			}
		}

		if err := c.limit.Wait(ctx); err != nil {
			return // context cancelled
		}
	}
}

// ConsolidateOnce performs one inbox scan: every *.taumetric file is loaded,
// merged into (or newly installed as) its job's profile, and on success
// unlinked.
func (c *Consolidator) ConsolidateOnce() error {
	entries, err := os.ReadDir(c.root)
	if err != nil {
		return fmt.Errorf("profile: read inbox %s: %w", c.root, err)
	}

	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != inboxExt {
			continue
		}
		inboxPath := filepath.Join(c.root, e.Name())
		if err := c.consolidateFile(inboxPath); err != nil {
			c.logger.Debugf("profile: %s not yet consolidated: %v", inboxPath, err)
		}
	}
	return nil
}

// consolidateFile loads, merges (or installs), and unlinks a single inbox
// file.
func (c *Consolidator) consolidateFile(inboxPath string) error {
	d, err := dump.Load(inboxPath)
	if err != nil {
		// Likely mid-write. Leave it in place; retried next tick.
		return fmt.Errorf("load: %w", err)
	}

	jobid := d.Desc.JobID
	profilePath := ProfilePath(c.root, jobid)
	if err := os.MkdirAll(filepath.Dir(profilePath), 0o750); err != nil {
		return fmt.Errorf("ensure shard dir: %w", err)
	}

	if c.store.Has(jobid) {
		if err := c.mergeIntoExisting(profilePath, jobid, d); err != nil {
			return err
		}
	} else {
		if err := writeVerbatim(inboxPath, profilePath); err != nil {
			return fmt.Errorf("write profile: %w", err)
		}
		c.store.Add(jobid)
	}

	if err := os.Remove(inboxPath); err != nil {
		return fmt.Errorf("unlink inbox file: %w", err)
	}
	return nil
}

// mergeIntoExisting implements step (c): load the existing profile, fold
// both it and the new dump into an empty store, reconcile the descriptor,
// and save. A missing or corrupt existing profile demotes the jobid back to
// "unknown" and removes the bad file. The next matching dump recreates it.
func (c *Consolidator) mergeIntoExisting(profilePath, jobid string, newDump *dump.File) error {
	existing, err := dump.Load(profilePath)
	if err != nil {
		c.store.Remove(jobid)
		_ = os.Remove(profilePath)
		return fmt.Errorf("existing profile corrupt, dropped: %w", err)
	}

	fold := metricstore.New()
	dump.Apply(existing, fold)
	dump.Apply(newDump, fold)

	desc := reconcileDescriptors(existing.Desc, newDump.Desc)

	return dump.Save(profilePath, desc, fold)
}

// reconcileDescriptors merges two job descriptors: concatenate
// distinct commands as "A : B" (capped), start_time is the min, end_time
// is the max.
func reconcileDescriptors(a, b wire.JobDescriptor) wire.JobDescriptor {
	merged := a
	if !strings.Contains(a.Command, b.Command) {
		combined := a.Command + " : " + b.Command
		if len(combined) > maxCommandLen-1 {
			combined = combined[:maxCommandLen-1]
		}
		merged.Command = combined
	}
	merged.StartTime = minNonZero(a.StartTime, b.StartTime)
	merged.EndTime = max64(a.EndTime, b.EndTime)
	return merged
}

func minNonZero(a, b int64) int64 {
	switch {
	case a == 0:
		return b
	case b == 0:
		return a
	case a < b:
		return a
	default:
		return b
	}
}

func max64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}

// writeVerbatim installs a jobid unknown to the profile store: the inbox
// dump becomes the initial profile unchanged, copied byte-for-byte (header,
// snapshots, trailer) rather than reparsed and resaved, so update
// timestamps and rolled-up gauge averages survive exactly as recorded.
func writeVerbatim(inboxPath, profilePath string) error {
	data, err := os.ReadFile(inboxPath) // #nosec G304 -- path is the consolidator's own inbox scan result
	if err != nil {
		return fmt.Errorf("read inbox file: %w", err)
	}
	return os.WriteFile(profilePath, data, 0o600)
}
