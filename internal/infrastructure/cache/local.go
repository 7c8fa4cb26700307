package cache

import (
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

type localEntry struct {
	value      any
	lastAccess atomic.Int64
}

// LocalTier is the process-local tier for one entity type. It evicts the
// least recently used entry at capacity and independently expires entries
// that have not been read for the inactivity window.
type LocalTier struct {
	entries *lru.Cache[string, *localEntry]
	ttl     time.Duration
	now     func() time.Time

	hits      atomic.Uint64
	misses    atomic.Uint64
	evictions atomic.Uint64
}

// NewLocalTier creates a new LocalTier.
func NewLocalTier(capacity int, inactivityTTL time.Duration, now func() time.Time) (*LocalTier, error) {
	if now == nil {
		now = time.Now
	}
	t := &LocalTier{ttl: inactivityTTL, now: now}
	entries, err := lru.New[string, *localEntry](capacity)
	if err != nil {
		return nil, err
	}
	t.entries = entries
	return t, nil
}

// Get returns the value for key and refreshes its access time.
func (t *LocalTier) Get(key string) (any, bool) {
	e, ok := t.entries.Get(key)
	if !ok {
		t.misses.Add(1)
		return nil, false
	}

	now := t.now().UnixNano()
	if t.ttl > 0 && now-e.lastAccess.Load() > int64(t.ttl) {
		t.entries.Remove(key)
		t.misses.Add(1)
		return nil, false
	}

	e.lastAccess.Store(now)
	t.hits.Add(1)
	return e.value, true
}

// Put stores value under key, replacing any previous entry.
func (t *LocalTier) Put(key string, value any) {
	e := &localEntry{value: value}
	e.lastAccess.Store(t.now().UnixNano())
	if evicted := t.entries.Add(key, e); evicted {
		t.evictions.Add(1)
	}
}

// Remove drops key.
func (t *LocalTier) Remove(key string) {
	t.entries.Remove(key)
}

// Purge drops every entry.
func (t *LocalTier) Purge() {
	t.entries.Purge()
}

// Len returns the number of entries, including ones that expired but have not been read since.
func (t *LocalTier) Len() int {
	return t.entries.Len()
}
