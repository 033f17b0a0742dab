package deployment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// ErrLockUnavailable is returned by Lock.Lock when the context ends before
// the lock frees up.
var ErrLockUnavailable = errors.New("deployment lock unavailable")

// Lock guarantees at most one deployment runs at a time.
//
// It is a one-slot channel rather than a sync.Mutex so that waiting can be
// abandoned when a context ends.
type Lock struct {
	slot chan struct{}
}

// NewLock creates a new, unlocked deployment lock
func NewLock() *Lock {
	return &Lock{slot: make(chan struct{}, 1)}
}

// TryLock acquires the lock without waiting.
// Returns false if another deployment holds it.
func (l *Lock) TryLock() bool {
	select {
	case l.slot <- struct{}{}:
		return true
	default:
		return false
	}
}

// Lock waits for the lock until ctx is done.
func (l *Lock) Lock(ctx context.Context) error {
	select {
	case l.slot <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%w: %v", ErrLockUnavailable, ctx.Err())
	}
}

// Unlock releases the lock.
//
// It is safe to call this when the lock is not held (no-op).
func (l *Lock) Unlock() {
	select {
	case <-l.slot:
	default:
	}
}

// Held reports whether a deployment currently holds the lock.
func (l *Lock) Held() bool {
	return len(l.slot) == 1
}

// Serialized wraps a Deployer so overlapping requests run one after another.
// Waiters are not ordered.
type Serialized struct {
	next   Deployer
	lock   *Lock
	logger *slog.Logger
}

// Serialize wraps next with a fresh Lock.
func Serialize(next Deployer, logger *slog.Logger) *Serialized {
	return &Serialized{
		next:   next,
		lock:   NewLock(),
		logger: logger,
	}
}

// Deploy waits for any in-flight deployment to finish, then runs next.
func (s *Serialized) Deploy(ctx context.Context) *Result {
	if !s.lock.TryLock() {
		s.logger.Info("Deployment already in progress, waiting")
		metrics.waiting.Inc()
		err := s.lock.Lock(ctx)
		metrics.waiting.Dec()
		if err != nil {
			s.logger.Error("Gave up waiting for deployment lock", "error", err)
			return &Result{ExitCode: -1, Output: "Deployment cancelled while waiting for another deployment to finish"}
		}
	}
	defer s.lock.Unlock()

	metrics.inProgress.Set(1)
	defer metrics.inProgress.Set(0)

	result := s.next.Deploy(ctx)
	metrics.observe(result)
	return result
}

// Busy reports whether a deployment is running.
func (s *Serialized) Busy() bool {
	return s.lock.Held()
}
