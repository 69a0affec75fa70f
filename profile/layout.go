// Package profile implements the per-job profile consolidator: the inbox
// scan, single-writer lock file, and merge logic that folds transient dump
// files into long-lived per-job profiles, grounded on src/proxy/profile.c.
package profile

import (
	"fmt"
	"os"
	"path/filepath"
)

const (
	inboxExt    = ".taumetric"
	profileExt  = ".profile"
	lockName    = "lock"
	profilesDir = "profiles"
)

// InboxPath returns the path a job entry's release callback writes its dump
// to: <root>/<jobid>-<host>.<pid>.taumetric.
func InboxPath(root, jobid, host string, pid int) string {
	return filepath.Join(root, fmt.Sprintf("%s-%s.%d%s", jobid, host, pid, inboxExt))
}

// ProfilePath returns the long-lived profile path for jobid, sharded by its
// first byte: <root>/profiles/<PP>/<jobid>.profile.
func ProfilePath(root, jobid string) string {
	shard := "_"
	if jobid != "" {
		shard = jobid[:1]
	}
	return filepath.Join(root, profilesDir, shard, jobid+profileExt)
}

// LockPath returns <root>/lock.
func LockPath(root string) string {
	return filepath.Join(root, lockName)
}

// EnsureLayout creates the profile root and its profiles/ subdirectory if
// missing.
func EnsureLayout(root string) error {
	if err := os.MkdirAll(root, 0o750); err != nil {
		return fmt.Errorf("profile: create root %s: %w", root, err)
	}
	if err := os.MkdirAll(filepath.Join(root, profilesDir), 0o750); err != nil {
		return fmt.Errorf("profile: create profiles dir: %w", err)
	}
	return nil
}

// jobidFromProfileName strips the .profile extension from a profile file's
// basename to recover its jobid.
func jobidFromProfileName(name string) (string, bool) {
	if filepath.Ext(name) != profileExt {
		return "", false
	}
	return name[:len(name)-len(profileExt)], true
}
