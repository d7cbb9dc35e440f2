package lock

import (
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"cas-go/internal/cas"
	"cas-go/internal/config"
)

// NewLockerFromConfig creates the configured Locker implementation. A
// returned locker that implements io.Closer must be closed by the caller.
func NewLockerFromConfig(cfg config.LockConfig) (cas.Locker, error) {
	switch cfg.Type {
	case "local", "":
		if cfg.Dir == "" {
			return nil, fmt.Errorf("local lock requires dir to be set")
		}
		return NewLocalLocker(cfg.Dir)
	case "redis":
		if cfg.RedisAddr == "" {
			return nil, fmt.Errorf("redis lock requires redis_addr to be set")
		}
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		l := NewRedisLocker(client, cfg.KeyPrefix, time.Duration(cfg.TTLSeconds)*time.Second)
		l.ownsClient = true
		return l, nil
	default:
		return nil, fmt.Errorf("unknown lock type: %s", cfg.Type)
	}
}

// Timeout returns the configured acquisition timeout, or cas.DefaultLockTimeout.
func Timeout(cfg config.LockConfig) time.Duration {
	if cfg.TimeoutSeconds <= 0 {
		return cas.DefaultLockTimeout
	}
	return time.Duration(cfg.TimeoutSeconds) * time.Second
}
