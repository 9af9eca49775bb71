// Package cache holds the two process-wide caches of the engine: the
// generic two-tier result cache (memory LRU over an optional durable tier)
// and the bounded conversation state cache. Both are guarded by one
// short-lived lock each; no lock is ever held across network or disk I/O.
package cache

import "time"

// Entry is a cached value with its creation time and time-to-live.
type Entry struct {
	Value     interface{}   `json:"value"`
	CreatedAt time.Time     `json:"-"`
	TTL       time.Duration `json:"-"`
}

// Expired reports whether the entry is older than its TTL at the given
// instant. LRU recency is tracked independently of expiry.
func (e Entry) Expired(now time.Time) bool {
	return now.Sub(e.CreatedAt) > e.TTL
}

// DurableTier is the slower second tier of the result cache. Implementations
// must be safe for concurrent use; the result cache never calls them while
// holding its own lock.
type DurableTier interface {
	// Get returns the stored entry, or false when the key is absent or
	// unreadable. It must not apply expiry: the caller decides.
	Get(key string) (Entry, bool)

	// Set stores the entry. Failures are returned for logging but are
	// never fatal to the caller.
	Set(key string, e Entry) error

	// Delete removes the key, silently ignoring absence.
	Delete(key string)
}
