// Package lock implements cas.Locker over lock files and over Redis.
package lock

import (
	"context"
	"fmt"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"

	"cas-go/internal/cas"
)

// LocalLocker holds one flock(2) lock file per key under dir. It excludes
// other goroutines and other processes sharing the same directory.
type LocalLocker struct {
	dir string

	mu   sync.Mutex
	held map[string]*flock.Flock
}

// NewLocalLocker creates dir if needed.
func NewLocalLocker(dir string) (*LocalLocker, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create lock directory: %w", err)
	}
	return &LocalLocker{
		dir:  dir,
		held: make(map[string]*flock.Flock),
	}, nil
}

func (l *LocalLocker) path(key string) string {
	name := strings.NewReplacer(":", "_", "/", "_", string(filepath.Separator), "_").Replace(key)
	return filepath.Join(l.dir, name+".lock")
}

// Acquire polls a non-blocking try-lock with 1-5 ms jitter until timeout.
func (l *LocalLocker) Acquire(ctx context.Context, key string, timeout time.Duration) (bool, error) {
	deadline := time.Now().Add(timeout)
	path := l.path(key)

	for {
		// Each attempt opens its own descriptor so flock also excludes
		// other goroutines of this process.
		fl := flock.New(path)
		ok, err := fl.TryLock()
		if err != nil {
			fl.Close()
			return false, fmt.Errorf("locking %s: %w", key, err)
		}
		if ok {
			l.mu.Lock()
			l.held[key] = fl
			l.mu.Unlock()
			return true, nil
		}
		fl.Close()

		if !time.Now().Before(deadline) {
			return false, nil
		}
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-time.After(jitter()):
		}
	}
}

func (l *LocalLocker) Release(_ context.Context, key string) error {
	l.mu.Lock()
	fl, ok := l.held[key]
	delete(l.held, key)
	l.mu.Unlock()

	if !ok {
		return nil
	}
	if err := fl.Unlock(); err != nil {
		fl.Close()
		return fmt.Errorf("unlocking %s: %w", key, err)
	}
	return fl.Close()
}

// IsLocked tries the lock file once without waiting.
func (l *LocalLocker) IsLocked(_ context.Context, key string) (bool, error) {
	l.mu.Lock()
	_, mine := l.held[key]
	l.mu.Unlock()
	if mine {
		return true, nil
	}

	fl := flock.New(l.path(key))
	defer fl.Close()
	ok, err := fl.TryLock()
	if err != nil {
		return false, fmt.Errorf("probing %s: %w", key, err)
	}
	if ok {
		_ = fl.Unlock()
		return false, nil
	}
	return true, nil
}

func jitter() time.Duration {
	return time.Duration(1+rand.IntN(5)) * time.Millisecond
}

var _ cas.Locker = (*LocalLocker)(nil)
