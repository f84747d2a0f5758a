package domain

import "time"

// CacheEntry is the logical shape the Expiring Cache stores: an opaque key,
// an opaque value, and the insertion time used to compute expiry.
type CacheEntry struct {
	Key        string
	Value      []byte
	InsertedAt time.Time
}

// Expired reports whether the entry is stale under the given ttl as of now.
func (e CacheEntry) Expired(now time.Time, ttl time.Duration) bool {
	return now.Sub(e.InsertedAt) > ttl
}
