package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFingerprint(t *testing.T) {
	fp := fingerprint(authTestAPIKey)

	assert.Len(t, fp, fingerprintLength)
	assert.Equal(t, fp, fingerprint(authTestAPIKey), "fingerprints must be deterministic")
	assert.NotEqual(t, fp, fingerprint("a-different-credential"))
	assert.NotContains(t, authTestAPIKey, fp, "the fingerprint must not be a substring of the credential")
}

func TestTokenCache_PutAndGet(t *testing.T) {
	cache := newTokenCache()
	now := time.Now()
	fp := fingerprint(authTestOpaque)

	cache.put(fp, Identity{Subject: authTestSubject, Method: MethodIntrospection}, time.Minute, now)

	got, ok := cache.get(fp, now.Add(30*time.Second))
	require.True(t, ok)
	assert.Equal(t, authTestSubject, got.Subject)

	_, ok = cache.get(fingerprint("other"), now)
	assert.False(t, ok, "unknown fingerprints must miss")
}

func TestTokenCache_ExpiredEntryMisses(t *testing.T) {
	cache := newTokenCache()
	now := time.Now()
	fp := fingerprint(authTestOpaque)

	cache.put(fp, Identity{Subject: authTestSubject}, time.Minute, now)

	_, ok := cache.get(fp, now.Add(2*time.Minute))
	assert.False(t, ok)
}

func TestTokenCache_NonPositiveTTLSkipsStorage(t *testing.T) {
	cache := newTokenCache()
	now := time.Now()

	cache.put(fingerprint("a"), Identity{Subject: "a"}, 0, now)
	cache.put(fingerprint("b"), Identity{Subject: "b"}, -time.Second, now)

	assert.Equal(t, 0, cache.size())
}

func TestTokenCache_PurgeExpired(t *testing.T) {
	cache := newTokenCache()
	now := time.Now()

	cache.put(fingerprint("fresh"), Identity{Subject: "fresh"}, time.Hour, now)
	cache.put(fingerprint("stale"), Identity{Subject: "stale"}, time.Minute, now)

	purged := cache.purgeExpired(now.Add(5 * time.Minute))
	assert.Equal(t, 1, purged)
	assert.Equal(t, 1, cache.size())

	_, ok := cache.get(fingerprint("fresh"), now.Add(5*time.Minute))
	assert.True(t, ok, "unexpired entries must survive a purge")
}
