package lock

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"cas-go/internal/cas"
)

// DefaultTTL bounds how long a crashed holder can keep a Redis lock.
const DefaultTTL = 60 * time.Second

// releaseScript deletes the key only if it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// refreshScript extends the TTL only if the key still holds our token.
var refreshScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// RedisLocker implements cas.Locker with SET NX PX and a compare-and-delete
// release. Every acquisition gets its own random token. While a key is held
// through this locker a watchdog keeps extending its TTL, and other callers
// of the same instance wait for the local holder instead of racing it in
// Redis, so a late Release can only ever delete its own token.
//
// Release must be called once by the caller that acquired the key.
type RedisLocker struct {
	client     redis.UniversalClient
	prefix     string
	ttl        time.Duration
	ownsClient bool

	mu   sync.Mutex
	held map[string]*holding
}

// holding is one live acquisition.
type holding struct {
	token string
	stop  context.CancelFunc
	done  chan struct{}
}

// NewRedisLocker uses client; ttl <= 0 selects DefaultTTL. The caller keeps
// ownership of client.
func NewRedisLocker(client redis.UniversalClient, prefix string, ttl time.Duration) *RedisLocker {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisLocker{
		client: client,
		prefix: prefix,
		ttl:    ttl,
		held:   make(map[string]*holding),
	}
}

func (l *RedisLocker) Acquire(ctx context.Context, key string, timeout time.Duration) (bool, error) {
	token, err := newToken()
	if err != nil {
		return false, err
	}
	deadline := time.Now().Add(timeout)

	for {
		ok, err := l.tryAcquire(ctx, key, token)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}

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

// tryAcquire reserves key locally, then in Redis. The local reservation is
// dropped again when Redis refuses.
func (l *RedisLocker) tryAcquire(ctx context.Context, key, token string) (bool, error) {
	l.mu.Lock()
	if _, busy := l.held[key]; busy {
		l.mu.Unlock()
		return false, nil
	}
	h := &holding{token: token}
	l.held[key] = h
	l.mu.Unlock()

	ok, err := l.client.SetNX(ctx, l.prefix+key, token, l.ttl).Result()
	if err != nil || !ok {
		l.mu.Lock()
		delete(l.held, key)
		l.mu.Unlock()
		if err != nil {
			return false, fmt.Errorf("redis lock %s: %w", key, err)
		}
		return false, nil
	}

	wctx, stop := context.WithCancel(context.WithoutCancel(ctx))
	l.mu.Lock()
	h.stop = stop
	h.done = make(chan struct{})
	l.mu.Unlock()
	go l.watchdog(wctx, key, h)
	return true, nil
}

// watchdog extends the TTL of a held key every third of the TTL. It stops
// on release, or once the key no longer carries the holder's token.
func (l *RedisLocker) watchdog(ctx context.Context, key string, h *holding) {
	defer close(h.done)
	ticker := time.NewTicker(max(l.ttl/3, time.Millisecond))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := refreshScript.Run(ctx, l.client, []string{l.prefix + key}, h.token, l.ttl.Milliseconds()).Int()
			if err != nil && ctx.Err() != nil {
				return
			}
			if err == nil && n == 0 {
				return
			}
		}
	}
}

func (l *RedisLocker) Release(ctx context.Context, key string) error {
	l.mu.Lock()
	h, ok := l.held[key]
	if ok && h.stop == nil {
		// Reserved by an Acquire still talking to Redis, not held.
		ok = false
	}
	if ok {
		delete(l.held, key)
	}
	l.mu.Unlock()

	if !ok {
		return nil
	}
	h.stop()
	<-h.done

	if err := releaseScript.Run(ctx, l.client, []string{l.prefix + key}, h.token).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("redis unlock %s: %w", key, err)
	}
	return nil
}

func (l *RedisLocker) IsLocked(ctx context.Context, key string) (bool, error) {
	n, err := l.client.Exists(ctx, l.prefix+key).Result()
	if err != nil {
		return false, fmt.Errorf("redis exists %s: %w", key, err)
	}
	return n > 0, nil
}

// Close stops every watchdog and, when the locker created its client,
// closes the client. Locks still held expire after their TTL.
func (l *RedisLocker) Close() error {
	l.mu.Lock()
	var live []*holding
	for key, h := range l.held {
		if h.stop != nil {
			live = append(live, h)
			delete(l.held, key)
		}
	}
	l.mu.Unlock()

	for _, h := range live {
		h.stop()
		<-h.done
	}
	if !l.ownsClient {
		return nil
	}
	if err := l.client.Close(); err != nil {
		return fmt.Errorf("closing redis client: %w", err)
	}
	return nil
}

func newToken() (string, error) {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", fmt.Errorf("generating lock token: %w", err)
	}
	return hex.EncodeToString(b[:]), nil
}

var _ cas.Locker = (*RedisLocker)(nil)
