// Package locking provides named mutual exclusion over the persisted
// artifacts (cache snapshot, index snapshot, fine-tune checkpoint). Locks
// are advisory file locks, so they coordinate the serving process and the
// background workers on the same host without any external service.
//
// Every lock carries two bounds: a wait timeout (how long an acquirer
// blocks before giving up) and a hold timeout (how long the holder may keep
// the lock before it is forcibly released, the way a lease expires).
// Release is guaranteed on every exit path via the returned Guard.
package locking

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"
)

// ErrWaitTimeout is returned when the wait timeout elapses before the lock
// could be acquired.
var ErrWaitTimeout = errors.New("locking: wait timeout elapsed")

// Well-known lock names and their bounds.
const (
	// CacheLock guards the persisted cache snapshot file.
	CacheLock = "cache-lock"
	// IndexLock guards the persisted vector index file.
	IndexLock = "index-lock"
	// FineTuneLock guarantees at most one retrain at a time.
	FineTuneLock = "fine-tune-lock"
)

// retryDelay is how often a blocked acquirer re-attempts the flock.
const retryDelay = 100 * time.Millisecond

// Locker acquires named locks with explicit hold and wait timeouts.
// Implementations must be safe for concurrent use.
type Locker interface {
	// Acquire blocks up to wait for the named lock, then returns a Guard
	// that must be released (idempotently) by the caller. The lock is
	// forcibly released after hold elapses.
	Acquire(ctx context.Context, name string, hold, wait time.Duration) (*Guard, error)
}

// FileLocker implements Locker with advisory file locks under a directory.
type FileLocker struct {
	// dir is the directory holding one lock file per name.
	dir string
	// log records hold-timeout expirations.
	log *slog.Logger
}

var _ Locker = (*FileLocker)(nil)

// NewFileLocker creates the lock directory if needed and returns a FileLocker.
func NewFileLocker(dir string, log *slog.Logger) (*FileLocker, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("locking: create lock dir %s: %w", dir, err)
	}
	if log == nil {
		log = slog.Default()
	}
	return &FileLocker{dir: dir, log: log}, nil
}

// Acquire blocks up to wait for the named lock. On success the returned
// Guard holds the lock until Release is called or the hold timeout fires.
func (l *FileLocker) Acquire(ctx context.Context, name string, hold, wait time.Duration) (*Guard, error) {
	fl := flock.New(filepath.Join(l.dir, name+".lock"))

	waitCtx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()

	ok, err := fl.TryLockContext(waitCtx, retryDelay)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, fmt.Errorf("%w: %s after %s", ErrWaitTimeout, name, wait)
		}
		return nil, fmt.Errorf("locking: acquire %s: %w", name, err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s after %s", ErrWaitTimeout, name, wait)
	}

	g := &Guard{name: name, fl: fl, log: l.log}
	g.holdTimer = time.AfterFunc(hold, g.expire)
	return g, nil
}

// Guard is a held named lock. Release is idempotent and must be called on
// every exit path (typically via defer).
type Guard struct {
	// name is the lock name, used in logs.
	name string
	// fl is the underlying file lock.
	fl *flock.Flock
	// holdTimer forcibly releases the lock when the hold timeout fires.
	holdTimer *time.Timer
	// once guarantees the unlock happens exactly once.
	once sync.Once
	// log records hold-timeout expirations.
	log *slog.Logger
}

// Release unlocks the guard. Safe to call multiple times; only the first
// call takes effect.
func (g *Guard) Release() {
	g.once.Do(func() {
		g.holdTimer.Stop()
		if err := g.fl.Unlock(); err != nil {
			g.log.Error("locking: release failed",
				slog.String("lock", g.name),
				slog.Any("error", err),
			)
		}
	})
}

// expire is the hold-timeout path: the holder overstayed, so the lock is
// released out from under it to unblock waiters.
func (g *Guard) expire() {
	g.once.Do(func() {
		g.log.Warn("locking: hold timeout expired, forcibly releasing",
			slog.String("lock", g.name),
		)
		if err := g.fl.Unlock(); err != nil {
			g.log.Error("locking: forced release failed",
				slog.String("lock", g.name),
				slog.Any("error", err),
			)
		}
	})
}
