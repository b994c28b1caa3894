package solver

import (
	"sync"
	"time"
)

// clearanceEntry mirrors the one fact token/heartbeat.go's SessionState
// tracked that this module still needs: whether an origin's clearance is
// current, without the JWT/cookie payload itself (the cookiejar.Jar already
// holds that; the cache here exists purely so a waiter on a single-flight
// solve can confirm success without re-entering the jar's critical section).
type clearanceEntry struct {
	validUntil time.Time
}

// clearanceCache is a sync.Map-backed, lock-free-read cache keyed by
// registrable domain, adapted from token/heartbeat.go's HeartbeatManager:
// that type used a sync.Map of *SessionState so thousands of goroutines
// could read authentication state without contending on a single mutex.
// This narrows the same shape to one boolean fact -- "is this origin's
// clearance still fresh" -- and drops the background keep-alive goroutine
// entirely, since nothing in this module's contract calls for an
// out-of-band keep-alive request.
type clearanceCache struct {
	entries sync.Map // origin string -> *clearanceEntry
}

// markSolved records that origin was just solved and its clearance should
// be treated as fresh for validFor.
func (c *clearanceCache) markSolved(origin string, validFor time.Duration) {
	c.entries.Store(origin, &clearanceEntry{validUntil: time.Now().Add(validFor)})
}

// isValid reports whether origin has a clearance recorded by markSolved that
// has not yet expired.
func (c *clearanceCache) isValid(origin string) bool {
	v, ok := c.entries.Load(origin)
	if !ok {
		return false
	}
	e, ok := v.(*clearanceEntry)
	if !ok {
		return false
	}
	return time.Now().Before(e.validUntil)
}
