package cache

import (
	"bytes"
	"compress/gzip"
	"context"
	"io"
	"time"

	"github.com/redis/go-redis/v9"
)

// L2 is the distributed tier, backed by Redis. Values are optionally
// gzip-compressed before storage.
type L2 struct {
	redis       *redis.Client
	ttl         time.Duration
	compression bool
}

// NewL2 builds an L2 tier and pings Redis once to fail fast on misconfiguration.
func NewL2(addr, password string, db, poolSize, minIdle int, ttl time.Duration, compression bool) (*L2, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		PoolSize:     poolSize,
		MinIdleConns: minIdle,
	})

	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		return nil, err
	}

	return &L2{redis: client, ttl: ttl, compression: compression}, nil
}

func (l *L2) Get(ctx context.Context, key string) ([]byte, error) {
	raw, err := l.redis.Get(ctx, key).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, ErrNotFound
		}
		return nil, &Error{Message: "l2 get failed", Type: ErrTypeConnectionError, Cause: err}
	}

	if !l.compression {
		return raw, nil
	}
	value, err := decompress(raw)
	if err != nil {
		return nil, errSerialization("l2 decompress failed", err)
	}
	return value, nil
}

func (l *L2) Set(ctx context.Context, key string, value []byte) error {
	payload := value
	if l.compression {
		compressed, err := compress(value)
		if err != nil {
			return errSerialization("l2 compress failed", err)
		}
		payload = compressed
	}

	if err := l.redis.Set(ctx, key, payload, l.ttl).Err(); err != nil {
		return &Error{Message: "l2 set failed", Type: ErrTypeConnectionError, Cause: err}
	}
	return nil
}

func (l *L2) Delete(ctx context.Context, key string) error {
	return l.redis.Del(ctx, key).Err()
}

// DeletePrefix scans and deletes every key in Redis starting with prefix.
func (l *L2) DeletePrefix(ctx context.Context, prefix string) error {
	var cursor uint64
	for {
		keys, next, err := l.redis.Scan(ctx, cursor, prefix+"*", 100).Result()
		if err != nil {
			return err
		}
		if len(keys) > 0 {
			if err := l.redis.Del(ctx, keys...).Err(); err != nil {
				return err
			}
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return nil
}

func (l *L2) Close() error {
	return l.redis.Close()
}

func compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decompress(data []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}
