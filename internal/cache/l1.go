package cache

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

type l1Entry struct {
	value     []byte
	expiresAt time.Time
}

// L1 is the in-process tier: a bounded LRU with per-entry TTL. Eviction
// policy is delegated to golang-lru rather than hand-rolled, since the
// in-process tier is consulted on every cache read and a linear eviction
// scan does not scale past a few thousand entries.
type L1 struct {
	mu    sync.RWMutex
	cache *lru.Cache[string, l1Entry]
	ttl   time.Duration
}

// NewL1 builds an L1 tier bounded to maxEntries with the given TTL.
func NewL1(maxEntries int, ttl time.Duration) (*L1, error) {
	c, err := lru.New[string, l1Entry](maxEntries)
	if err != nil {
		return nil, err
	}
	return &L1{cache: c, ttl: ttl}, nil
}

// Get returns (value, true) on a live hit. An expired entry is evicted and
// reported as a miss.
func (l *L1) Get(key string) ([]byte, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry, ok := l.cache.Get(key)
	if !ok {
		return nil, false
	}
	if time.Now().After(entry.expiresAt) {
		l.cache.Remove(key)
		return nil, false
	}
	return entry.value, true
}

// Set inserts or replaces the value for key with a fresh TTL.
func (l *L1) Set(key string, value []byte) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.cache.Add(key, l1Entry{value: value, expiresAt: time.Now().Add(l.ttl)})
}

func (l *L1) Delete(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.cache.Remove(key)
}

// DeletePrefix sweeps the (small, bounded) L1 tier linearly for keys
// matching prefix. L1 is small by construction so this is cheap.
func (l *L1) DeletePrefix(prefix string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, key := range l.cache.Keys() {
		if len(key) >= len(prefix) && key[:len(prefix)] == prefix {
			l.cache.Remove(key)
		}
	}
}

func (l *L1) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.cache.Len()
}
