package bridge

import (
	"sync"
	"time"
)

// echoCache remembers fingerprints of recently published messages so the
// router can recognise its own traffic when a broker echoes it back.
//
// Entries expire after a TTL; brokers deliver echoes within milliseconds,
// so the TTL only needs to outlive broker-side queueing during reconnects.
// Thread Safety: all methods are safe for concurrent use.
type echoCache struct {
	mu      sync.Mutex
	entries map[fingerprint]time.Time
	ttl     time.Duration

	// lastPrune bounds how often the full map is swept.
	lastPrune time.Time
}

// pruneInterval is the minimum time between full expiry sweeps.
const pruneInterval = 10 * time.Second

// newEchoCache creates a cache whose entries expire after ttl.
func newEchoCache(ttl time.Duration) *echoCache {
	return &echoCache{
		entries:   make(map[fingerprint]time.Time),
		ttl:       ttl,
		lastPrune: time.Now(),
	}
}

// record remembers a fingerprint at publish time.
func (c *echoCache) record(fp fingerprint) {
	now := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[fp] = now.Add(c.ttl)
	c.pruneLocked(now)
}

// consume reports whether a fingerprint was recently recorded, removing it
// if so. Removal keeps the cache from suppressing a genuine republish of
// the same payload after the echo has been absorbed.
func (c *echoCache) consume(fp fingerprint) bool {
	now := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	expiry, ok := c.entries[fp]
	if !ok {
		return false
	}
	delete(c.entries, fp)
	return now.Before(expiry)
}

// size returns the number of live entries. Used by tests and metrics.
func (c *echoCache) size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// pruneLocked drops expired entries. Caller must hold c.mu.
func (c *echoCache) pruneLocked(now time.Time) {
	if now.Sub(c.lastPrune) < pruneInterval {
		return
	}
	c.lastPrune = now

	for fp, expiry := range c.entries {
		if now.After(expiry) {
			delete(c.entries, fp)
		}
	}
}
