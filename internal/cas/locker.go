package cas

import (
	"context"
	"errors"
	"time"
)

// DefaultLockTimeout bounds every lock acquisition made by the core.
const DefaultLockTimeout = 30 * time.Second

// Locker provides named mutual exclusion within one storage root.
// Implementations live in internal/lock.
type Locker interface {
	// Acquire tries to take the lock named key, waiting at most timeout.
	// It returns false (and no error) when the timeout elapses first.
	Acquire(ctx context.Context, key string, timeout time.Duration) (bool, error)

	// Release gives up the lock. Releasing a lock that is not held is a no-op.
	Release(ctx context.Context, key string) error

	// IsLocked reports whether any holder currently owns key.
	IsLocked(ctx context.Context, key string) (bool, error)
}

// ShardLockKey is the lock guarding writes into one blob shard directory.
func ShardLockKey(shard string) string {
	return "blob_dir:" + shard
}

// WorkspaceLockKey is the lock serializing chain extensions of one workspace.
func WorkspaceLockKey(workspaceID string) string {
	return "workspace:" + workspaceID
}

// WithLock acquires key, runs fn and releases the lock on every path,
// including a panic inside fn. Failure to acquire within timeout is
// reported as a LockTimeout error. A failed release is returned joined
// with fn's error, next to fn's result.
func WithLock[T any](ctx context.Context, l Locker, key string, timeout time.Duration, fn func() (T, error)) (res T, err error) {
	ok, err := l.Acquire(ctx, key, timeout)
	if err != nil {
		return res, E(KindLockTimeout, "acquire "+key, err)
	}
	if !ok {
		return res, Errorf(KindLockTimeout, "acquire "+key, "not acquired within %s", timeout)
	}
	defer func() {
		// The caller's context may already be cancelled; release must still happen.
		if rerr := l.Release(context.WithoutCancel(ctx), key); rerr != nil {
			err = errors.Join(err, E(KindInternal, "release "+key, rerr))
		}
	}()

	return fn()
}
