package auth

import (
	"crypto/subtle"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// StaticKey is one configured API key. Key holds either the plaintext key
// or a bcrypt hash of it; hashes are recognized by their prefix so secrets
// never need to live in config files in the clear.
type StaticKey struct {
	Key  string `yaml:"key"`
	Name string `yaml:"name"`
}

// staticKeySet matches inbound credentials against the configured keys.
type staticKeySet struct {
	keys []StaticKey
}

func newStaticKeySet(keys []StaticKey) *staticKeySet {
	return &staticKeySet{keys: keys}
}

// match checks token against every configured key and returns the matched
// entry. Plaintext keys use a constant-time comparison; bcrypt-hashed keys
// use bcrypt's own comparison.
func (s *staticKeySet) match(token string) (*StaticKey, bool) {
	if token == "" {
		return nil, false
	}
	for i := range s.keys {
		key := &s.keys[i]
		if isBcryptHash(key.Key) {
			if bcrypt.CompareHashAndPassword([]byte(key.Key), []byte(token)) == nil {
				return key, true
			}
			continue
		}
		if subtle.ConstantTimeCompare([]byte(key.Key), []byte(token)) == 1 {
			return key, true
		}
	}
	return nil, false
}

func (s *staticKeySet) identity(key *StaticKey) *Identity {
	name := key.Name
	if name == "" {
		name = fingerprint(key.Key)
	}
	return &Identity{
		Subject: "key:" + name,
		Name:    name,
		Method:  MethodStaticKey,
	}
}

func isBcryptHash(s string) bool {
	return strings.HasPrefix(s, "$2a$") ||
		strings.HasPrefix(s, "$2b$") ||
		strings.HasPrefix(s, "$2y$")
}
