// Package lock provides cross-process file locking for the critical
// sections the control loop shares with sibling CLI invocations: pane
// creation on (session, window) and issue-scoped re-entry on (repo, issue).
// A real cross-process lock is needed here, not an in-process mutex,
// because the daemon and a one-shot CLI command can run concurrently
// against the same state directory.
package lock

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/gofrs/flock"
)

// Locker acquires named file locks under a directory, breaking locks whose
// mtime exceeds staleness (treating them as abandoned by a crashed holder).
type Locker struct {
	dir       string
	staleness time.Duration
}

// New returns a Locker keeping lock files under dir/locks. dir is created
// if absent. staleness is the age after which a lock file is force-broken
// (default 300s, per the cross-process resource model).
func New(stateDir string, staleness time.Duration) (*Locker, error) {
	if staleness <= 0 {
		staleness = 300 * time.Second
	}
	dir := filepath.Join(stateDir, "locks")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("lock: create lock dir: %w", err)
	}
	return &Locker{dir: dir, staleness: staleness}, nil
}

// Handle is a held lock; call Release to unlock it. The lock file itself
// stays on disk.
type Handle struct {
	flock *flock.Flock
	path  string
}

// Release unlocks the held lock. Safe to call once.
func (h *Handle) Release() error {
	if h == nil || h.flock == nil {
		return nil
	}
	return h.flock.Unlock()
}

// ErrTimeout is returned by Acquire when the lock could not be obtained
// within the given budget — the LockTimeout error kind at the caller.
var ErrTimeout = fmt.Errorf("lock: timed out acquiring lock")

// Acquire locks the named key, keyed on a file under the lock directory.
// If an existing lock file is older than staleness, it is broken (removed)
// before the attempt, treating it as abandoned by a crashed holder. Blocks
// up to timeout; returns ErrTimeout if it cannot acquire the lock in time.
func (l *Locker) Acquire(ctx context.Context, key string, timeout time.Duration) (*Handle, error) {
	path := filepath.Join(l.dir, sanitize(key)+".lock")
	l.breakIfStale(path)

	fl := flock.New(path)
	deadline := time.Now().Add(timeout)

	for {
		lockCtx, cancel := context.WithDeadline(ctx, deadline)
		ok, err := fl.TryLockContext(lockCtx, 25*time.Millisecond)
		cancel()
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, ErrTimeout
		}
		if ok {
			_ = os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644)
			return &Handle{flock: fl, path: path}, nil
		}
		if time.Now().After(deadline) {
			return nil, ErrTimeout
		}
	}
}

func (l *Locker) breakIfStale(path string) {
	info, err := os.Stat(path)
	if err != nil {
		return
	}
	if time.Since(info.ModTime()) > l.staleness {
		_ = os.Remove(path)
	}
}

func sanitize(key string) string {
	out := make([]rune, 0, len(key))
	for _, r := range key {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-' || r == '_':
			out = append(out, r)
		default:
			out = append(out, '_')
		}
	}
	return string(out)
}

// IssueKey builds the lock key for an issue-scoped critical section.
func IssueKey(repo string, issueNumber int) string {
	return fmt.Sprintf("issue-%s-%d", sanitize(repo), issueNumber)
}

// SessionWindowKey builds the lock key for a (session, window) critical
// section guarding pane creation.
func SessionWindowKey(session, window string) string {
	return fmt.Sprintf("sw-%s-%s", sanitize(session), sanitize(window))
}
