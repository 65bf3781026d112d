package locking

import (
	"context"
	"errors"
	"testing"
	"time"
)

func newTestLocker(t *testing.T) *FileLocker {
	t.Helper()
	l, err := NewFileLocker(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("new file locker: %v", err)
	}
	return l
}

func Test_Locking_AcquireAndRelease(t *testing.T) {
	t.Parallel()
	l := newTestLocker(t)
	ctx := context.Background()

	g, err := l.Acquire(ctx, CacheLock, time.Minute, time.Second)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	g.Release()

	// Released lock is immediately re-acquirable.
	g2, err := l.Acquire(ctx, CacheLock, time.Minute, time.Second)
	if err != nil {
		t.Fatalf("re-acquire after release: %v", err)
	}
	g2.Release()
}

func Test_Locking_WaitTimeout(t *testing.T) {
	t.Parallel()
	l := newTestLocker(t)
	ctx := context.Background()

	g, err := l.Acquire(ctx, IndexLock, time.Minute, time.Second)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	defer g.Release()

	_, err = l.Acquire(ctx, IndexLock, time.Minute, 300*time.Millisecond)
	if !errors.Is(err, ErrWaitTimeout) {
		t.Fatalf("want ErrWaitTimeout, got %v", err)
	}
}

func Test_Locking_DistinctNamesDoNotContend(t *testing.T) {
	t.Parallel()
	l := newTestLocker(t)
	ctx := context.Background()

	g1, err := l.Acquire(ctx, CacheLock, time.Minute, time.Second)
	if err != nil {
		t.Fatalf("acquire cache-lock: %v", err)
	}
	defer g1.Release()

	g2, err := l.Acquire(ctx, IndexLock, time.Minute, time.Second)
	if err != nil {
		t.Fatalf("acquire index-lock while cache-lock held: %v", err)
	}
	g2.Release()
}

func Test_Locking_HoldTimeoutForcesRelease(t *testing.T) {
	t.Parallel()
	l := newTestLocker(t)
	ctx := context.Background()

	// Holder never releases; the hold timeout must free the lock.
	if _, err := l.Acquire(ctx, FineTuneLock, 200*time.Millisecond, time.Second); err != nil {
		t.Fatalf("acquire: %v", err)
	}

	g, err := l.Acquire(ctx, FineTuneLock, time.Minute, 2*time.Second)
	if err != nil {
		t.Fatalf("acquire after hold expiry: %v", err)
	}
	g.Release()
}

func Test_Locking_ReleaseIdempotent(t *testing.T) {
	t.Parallel()
	l := newTestLocker(t)

	g, err := l.Acquire(context.Background(), CacheLock, time.Minute, time.Second)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	g.Release()
	g.Release() // must not panic or error-log a double unlock
}
