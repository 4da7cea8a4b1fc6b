package core

// reload_guard.go enforces a single writer.
//
// A one-slot semaphore rejects a second reload in this process immediately,
// without queueing. When a ReloadLock is configured the guard also takes it,
// so replicas sharing one database cannot reload concurrently.

import (
	"context"
	"log/slog"
	"time"
)

// ReloadLock is a lock shared between processes.
type ReloadLock interface {
	// Acquire returns ErrReloadInProgress when another holder has the lock and
	// ErrReloadLockUnavailable when the lock service cannot be reached.
	Acquire(ctx context.Context) (release func(context.Context) error, err error)
}

// lockReleaseTimeout bounds the shared-lock release call.
const lockReleaseTimeout = 5 * time.Second

// ReloadGuard admits at most one reload or clear at a time.
type ReloadGuard struct {
	slot chan struct{}
	lock ReloadLock
}

// NewReloadGuard creates a guard. lock may be nil.
func NewReloadGuard(lock ReloadLock) *ReloadGuard {
	return &ReloadGuard{slot: make(chan struct{}, 1), lock: lock}
}

// TryAcquire takes the guard without blocking. The returned release must be
// called exactly once.
func (g *ReloadGuard) TryAcquire(ctx context.Context) (func(), error) {
	select {
	case g.slot <- struct{}{}:
	default:
		return nil, ErrReloadInProgress
	}

	if g.lock == nil {
		return func() { <-g.slot }, nil
	}

	unlock, err := g.lock.Acquire(ctx)
	if err != nil {
		<-g.slot
		return nil, err
	}

	return func() {
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), lockReleaseTimeout)
		defer cancel()
		if err := unlock(releaseCtx); err != nil {
			slog.Warn("release shared reload lock", "error", err)
		}
		<-g.slot
	}, nil
}

// Busy reports whether a reload holds the guard in this process.
func (g *ReloadGuard) Busy() bool {
	return len(g.slot) > 0
}

// WaitForDrain blocks until no reload holds the guard or ctx is done.
// Used during shutdown so a running publish can finish.
func (g *ReloadGuard) WaitForDrain(ctx context.Context) error {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		if !g.Busy() {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
