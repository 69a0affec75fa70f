package profile

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// staleAfter is the mtime age past which a lock file with different
// contents is considered abandoned and may be taken over.
const staleAfter = 120 * time.Second

// ErrLockHeld is returned by AcquireLock when another, live aggregator
// currently owns the lock.
var ErrLockHeld = errors.New("profile: lock held by another aggregator")

// identity is the {hostname, pid} pair written into the lock file.
type identity struct {
	hostname string
	pid      int
}

func currentIdentity() (identity, error) {
	host, err := os.Hostname()
	if err != nil {
		return identity{}, fmt.Errorf("profile: hostname: %w", err)
	}
	return identity{hostname: host, pid: os.Getpid()}, nil
}

func (id identity) String() string {
	return fmt.Sprintf("%s %d\n", id.hostname, id.pid)
}

func parseIdentity(data []byte) (identity, bool) {
	scanner := bufio.NewScanner(strings.NewReader(string(data)))
	if !scanner.Scan() {
		return identity{}, false
	}
	fields := strings.Fields(scanner.Text())
	if len(fields) != 2 {
		return identity{}, false
	}
	pid, err := strconv.Atoi(fields[1])
	if err != nil {
		return identity{}, false
	}
	return identity{hostname: fields[0], pid: pid}, true
}

// AcquireLock checks the lock file at path: if absent, it is created with
// our identity. If present and it already belongs to us, its mtime is
// bumped and we proceed. If present, belongs to someone else, and its
// mtime is still fresh (< staleAfter), ErrLockHeld is returned. Otherwise
// the lock is stale and is overwritten with our identity.
func AcquireLock(path string) error {
	self, err := currentIdentity()
	if err != nil {
		return err
	}

	data, err := os.ReadFile(path) // #nosec G304 -- path is the configured profile root's lock file
	switch {
	case errors.Is(err, os.ErrNotExist):
		return writeLock(path, self)
	case err != nil:
		return fmt.Errorf("profile: read lock %s: %w", path, err)
	}

	owner, ok := parseIdentity(data)
	if ok && owner == self {
		return touch(path)
	}

	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("profile: stat lock %s: %w", path, err)
	}
	if time.Since(info.ModTime()) < staleAfter {
		return ErrLockHeld
	}

	return writeLock(path, self)
}

// RefreshLock re-validates and re-stamps the lock on every consolidator
// tick, exactly like AcquireLock but intended for the periodic re-check
// rather than the initial bid.
func RefreshLock(path string) error {
	return AcquireLock(path)
}

func writeLock(path string, id identity) error {
	if err := os.WriteFile(path, []byte(id.String()), 0o600); err != nil {
		return fmt.Errorf("profile: write lock %s: %w", path, err)
	}
	return nil
}

func touch(path string) error {
	now := time.Now()
	if err := os.Chtimes(path, now, now); err != nil {
		return fmt.Errorf("profile: touch lock %s: %w", path, err)
	}
	return nil
}
