package lock

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestRedisLock(t *testing.T) *RedisLock {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	cfg := &Config{
		TTL:            time.Minute,
		MaxRetries:     3,
		RetryInterval:  10 * time.Millisecond,
		AcquireTimeout: time.Second,
		ReleaseTimeout: time.Second,
		ValuePrefix:    "test",
	}
	return NewRedisLock(client, cfg, nil)
}

func TestRedisLockMutualExclusion(t *testing.T) {
	l := newTestRedisLock(t)
	ctx := context.Background()

	ok, err := l.TryAcquire(ctx, "change:42")
	if err != nil || !ok {
		t.Fatalf("expected first acquire to succeed, got ok=%v err=%v", ok, err)
	}

	ok, err = l.TryAcquire(ctx, "change:42")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatal("expected second concurrent acquire to fail")
	}
}

func TestRedisLockReleaseByOwnerOnly(t *testing.T) {
	owner := newTestRedisLock(t)
	ctx := context.Background()

	ok, err := owner.TryAcquire(ctx, "change:7")
	if err != nil || !ok {
		t.Fatalf("expected acquire to succeed, got ok=%v err=%v", ok, err)
	}

	if err := owner.Release(ctx, "change:7"); err != nil {
		t.Fatalf("Release: %v", err)
	}

	ok, err = owner.TryAcquire(ctx, "change:7")
	if err != nil || !ok {
		t.Fatalf("expected acquire after release to succeed, got ok=%v err=%v", ok, err)
	}
}

func TestRedisLockExtendRequiresOwnership(t *testing.T) {
	l := newTestRedisLock(t)
	ctx := context.Background()

	if err := l.Extend(ctx, "change:99", time.Minute); err == nil {
		t.Fatal("expected Extend to fail when this process never held the lock")
	}

	if _, err := l.TryAcquire(ctx, "change:99"); err != nil {
		t.Fatalf("TryAcquire: %v", err)
	}
	if err := l.Extend(ctx, "change:99", 2*time.Minute); err != nil {
		t.Fatalf("Extend: %v", err)
	}
}
