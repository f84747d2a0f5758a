package lock

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Config configures a RedisLock.
type Config struct {
	TTL            time.Duration `env:"LOCK_TTL" default:"30s"`
	MaxRetries     int           `env:"LOCK_MAX_RETRIES" default:"3"`
	RetryInterval  time.Duration `env:"LOCK_RETRY_INTERVAL" default:"100ms"`
	AcquireTimeout time.Duration `env:"LOCK_ACQUIRE_TIMEOUT" default:"5s"`
	ReleaseTimeout time.Duration `env:"LOCK_RELEASE_TIMEOUT" default:"2s"`
	ValuePrefix    string        `env:"LOCK_VALUE_PREFIX" default:"lock"`
}

func defaultConfig() *Config {
	return &Config{
		TTL:            30 * time.Second,
		MaxRetries:     3,
		RetryInterval:  100 * time.Millisecond,
		AcquireTimeout: 5 * time.Second,
		ReleaseTimeout: 2 * time.Second,
		ValuePrefix:    "lock",
	}
}

const releaseScript = `
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
else
	return 0
end
`

const extendScript = `
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("expire", KEYS[1], ARGV[2])
else
	return 0
end
`

// RedisLock implements Locker via SETNX with a per-key owner token, so a
// release or extend can never affect a lock another holder has since taken.
type RedisLock struct {
	redis  *redis.Client
	cfg    *Config
	logger *slog.Logger

	mu     sync.Mutex
	owners map[string]string // key -> this process's token for that key
}

// NewRedisLock builds a RedisLock against the given client.
func NewRedisLock(client *redis.Client, cfg *Config, logger *slog.Logger) *RedisLock {
	if cfg == nil {
		cfg = defaultConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisLock{
		redis:  client,
		cfg:    cfg,
		logger: logger,
		owners: make(map[string]string),
	}
}

func generateToken(prefix string) string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("%s_%d", prefix, time.Now().UnixNano())
	}
	return fmt.Sprintf("%s_%s", prefix, hex.EncodeToString(b))
}

// TryAcquire takes the lock for key via a single SETNX attempt (no blocking
// retry loop — the monitor's loser is expected to skip this tick, not wait
// for the winner).
func (l *RedisLock) TryAcquire(ctx context.Context, key string) (bool, error) {
	token := generateToken(l.cfg.ValuePrefix)

	acquireCtx, cancel := context.WithTimeout(ctx, l.cfg.AcquireTimeout)
	defer cancel()

	ok, err := l.redis.SetNX(acquireCtx, key, token, l.cfg.TTL).Result()
	if err != nil {
		return false, fmt.Errorf("acquire lock %s: %w", key, err)
	}
	if !ok {
		return false, nil
	}

	l.mu.Lock()
	l.owners[key] = token
	l.mu.Unlock()
	return true, nil
}

// Release drops the lock for key if this process is still its owner.
func (l *RedisLock) Release(ctx context.Context, key string) error {
	l.mu.Lock()
	token, held := l.owners[key]
	l.mu.Unlock()
	if !held {
		return nil
	}

	releaseCtx, cancel := context.WithTimeout(ctx, l.cfg.ReleaseTimeout)
	defer cancel()

	res, err := l.redis.Eval(releaseCtx, releaseScript, []string{key}, token).Result()
	if err != nil {
		return fmt.Errorf("release lock %s: %w", key, err)
	}

	l.mu.Lock()
	delete(l.owners, key)
	l.mu.Unlock()

	if n, _ := res.(int64); n != 1 {
		l.logger.Warn("lock was not held at release time", "key", key)
	}
	return nil
}

// Extend pushes a held lock's expiry out to newTTL. It is not part of the
// Locker interface, and the Rollback Monitor does not call it.
func (l *RedisLock) Extend(ctx context.Context, key string, newTTL time.Duration) error {
	l.mu.Lock()
	token, held := l.owners[key]
	l.mu.Unlock()
	if !held {
		return fmt.Errorf("cannot extend lock %s: not held by this process", key)
	}

	extendCtx, cancel := context.WithTimeout(ctx, l.cfg.ReleaseTimeout)
	defer cancel()

	res, err := l.redis.Eval(extendCtx, extendScript, []string{key}, token, int(newTTL.Seconds())).Result()
	if err != nil {
		return fmt.Errorf("extend lock %s: %w", key, err)
	}
	if n, _ := res.(int64); n != 1 {
		return fmt.Errorf("extend lock %s: no longer held", key)
	}
	return nil
}
