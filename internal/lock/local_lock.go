package lock

import (
	"context"
	"sync"
)

// LocalLock implements Locker as an in-process "currently being evaluated"
// set, used in the lite profile where no Redis is available. It provides no
// cross-process guarantee, which is acceptable because the lite profile
// only ever runs a single instance.
type LocalLock struct {
	mu  sync.Mutex
	set map[string]struct{}
}

// NewLocalLock returns an empty LocalLock.
func NewLocalLock() *LocalLock {
	return &LocalLock{set: make(map[string]struct{})}
}

func (l *LocalLock) TryAcquire(_ context.Context, key string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, held := l.set[key]; held {
		return false, nil
	}
	l.set[key] = struct{}{}
	return true, nil
}

func (l *LocalLock) Release(_ context.Context, key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	delete(l.set, key)
	return nil
}
