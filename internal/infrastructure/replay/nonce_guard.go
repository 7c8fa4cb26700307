// Package replay remembers recently used nonces so a captured request cannot
// be replayed inside the timestamp window.
package replay

import (
	"strconv"
	"time"

	"github.com/patrickmn/go-cache"
)

// NonceGuard tracks (accessKey, nonce) pairs for one replay window. State is
// per process; instances behind a load balancer do not share it.
type NonceGuard struct {
	seen *cache.Cache
}

// NewNonceGuard creates a new NonceGuard.
func NewNonceGuard(window time.Duration) *NonceGuard {
	return &NonceGuard{
		seen: cache.New(window, 2*window),
	}
}

// Remember records the pair and reports whether it was fresh. A false return
// means the same pair was already seen inside the window. The nonce is keyed
// by value, so "7" and "007" are the same nonce.
func (g *NonceGuard) Remember(accessKey string, nonce int64) bool {
	return g.seen.Add(accessKey+":"+strconv.FormatInt(nonce, 10), struct{}{}, cache.DefaultExpiration) == nil
}

// Len returns the number of remembered pairs.
func (g *NonceGuard) Len() int {
	return g.seen.ItemCount()
}
