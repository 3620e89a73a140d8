package fsutil

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Default timing constants for the advisory lock.
const (
	lockPollInterval    = 200 * time.Millisecond
	lockRefreshInterval = 2 * time.Second
	lockStaleAfter      = 10 * time.Second
)

// Lock is a cross-process advisory lock scoped to one script's
// persisted-state directory. It is implemented as a sentinel directory
// created with Mkdir (atomic, fails if present) rather than any
// OS-specific file-locking primitive, so no platform-specific API is
// required. Whoever holds the directory refreshes its mtime
// periodically; a lock whose mtime has not moved within lockStaleAfter
// is considered abandoned by a crashed process and may be stolen.
type Lock struct {
	dir    string // <dataDir>/lock.d
	cancel context.CancelFunc
	done   chan struct{}
}

// OnWaiting is called at most once per Acquire call, the first time the
// lock must actually wait on a contending holder — callers use it to log
// "locked" exactly once.
type OnWaiting func()

// Acquire blocks until the lock at dataDir is held by this process, or
// ctx is canceled. It polls every 200ms and treats the lock as stale
// (and steals it) if its mtime has not been refreshed in over 10s.
func Acquire(ctx context.Context, dataDir string, onWaiting OnWaiting) (*Lock, error) {
	lockDir := filepath.Join(dataDir, "lock.d")

	if err := EnsureDir(lockDir); err != nil {
		return nil, err
	}

	announced := false
	b := backoff.NewConstantBackOff(lockPollInterval)
	for {
		err := os.Mkdir(lockDir, DirPermissions)
		if err == nil {
			break
		}
		if !os.IsExist(err) {
			return nil, fmt.Errorf("acquiring lock at %s: %w", lockDir, err)
		}
		if stealStale(lockDir) {
			continue
		}
		if !announced && onWaiting != nil {
			onWaiting()
			announced = true
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(b.NextBackOff()):
		}
	}

	if err := touch(lockDir); err != nil {
		_ = os.Remove(lockDir)
		return nil, err
	}

	lctx, cancel := context.WithCancel(context.Background())
	l := &Lock{dir: lockDir, cancel: cancel, done: make(chan struct{})}
	go l.refreshLoop(lctx)
	return l, nil
}

// stealStale removes lockDir if its mtime is older than lockStaleAfter,
// reporting whether it did so. A concurrent steal attempt from another
// process is harmless: at most one Mkdir below will succeed.
func stealStale(lockDir string) bool {
	info, err := os.Stat(lockDir)
	if err != nil {
		return false
	}
	if time.Since(info.ModTime()) <= lockStaleAfter {
		return false
	}
	return os.Remove(lockDir) == nil
}

func touch(lockDir string) error {
	now := time.Now()
	return os.Chtimes(lockDir, now, now)
}

func (l *Lock) refreshLoop(ctx context.Context) {
	defer close(l.done)
	ticker := time.NewTicker(lockRefreshInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = touch(l.dir)
		}
	}
}

// Release gives up the lock, stopping the refresh loop and removing the
// sentinel directory.
func (l *Lock) Release() error {
	l.cancel()
	<-l.done
	return os.Remove(l.dir)
}
