package auth

import (
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"
)

// fingerprintLength is the number of hex characters kept from the
// credential digest. Long enough to avoid collisions across live tokens,
// short enough that cache keys stay fixed-size.
const fingerprintLength = 16

// fingerprint derives the cache key for a credential: a fixed-length,
// non-reversible digest prefix. The full credential is never stored.
func fingerprint(credential string) string {
	sum := sha256.Sum256([]byte(credential))
	return hex.EncodeToString(sum[:])[:fingerprintLength]
}

type cacheEntry struct {
	identity  Identity
	expiresAt time.Time
}

// tokenCache holds validated identities keyed by credential fingerprint.
type tokenCache struct {
	mu      sync.RWMutex
	entries map[string]cacheEntry
}

func newTokenCache() *tokenCache {
	return &tokenCache{entries: make(map[string]cacheEntry)}
}

func (c *tokenCache) get(fp string, now time.Time) (Identity, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.entries[fp]
	if !ok || !entry.expiresAt.After(now) {
		return Identity{}, false
	}
	return entry.identity, true
}

func (c *tokenCache) put(fp string, identity Identity, ttl time.Duration, now time.Time) {
	if ttl <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[fp] = cacheEntry{identity: identity, expiresAt: now.Add(ttl)}
}

func (c *tokenCache) size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// purgeExpired drops entries whose TTL has passed and returns how many
// were removed. Expired entries are otherwise only skipped on read, so
// this is what actually frees the memory.
func (c *tokenCache) purgeExpired(now time.Time) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	purged := 0
	for fp, entry := range c.entries {
		if !entry.expiresAt.After(now) {
			delete(c.entries, fp)
			purged++
		}
	}
	return purged
}
