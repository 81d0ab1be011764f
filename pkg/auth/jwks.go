package auth

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// minKeyRefreshInterval bounds how often an unknown key id may trigger an
// out-of-cycle key fetch, so streams of bad tokens cannot hammer the
// provider.
const minKeyRefreshInterval = time.Minute

// discoveryDocument is the subset of the provider's OIDC discovery
// metadata the validator uses.
type discoveryDocument struct {
	JwksURI               string `json:"jwks_uri"`
	AuthorizationEndpoint string `json:"authorization_endpoint"`
	TokenEndpoint         string `json:"token_endpoint"`
	UserinfoEndpoint      string `json:"userinfo_endpoint"`
}

// keySet fetches and caches the provider's RSA signing keys, refreshing
// them periodically and on first sight of an unknown key id.
type keySet struct {
	config ProviderConfig
	client *http.Client
	logger *slog.Logger

	mu        sync.RWMutex
	keys      map[string]*rsa.PublicKey
	discovery discoveryDocument
	fetchedAt time.Time

	cancel context.CancelFunc
	done   chan struct{}
}

func newKeySet(config ProviderConfig, client *http.Client, logger *slog.Logger) *keySet {
	return &keySet{
		config: config,
		client: client,
		logger: logger,
		keys:   make(map[string]*rsa.PublicKey),
	}
}

// start runs the initial key fetch and launches the periodic refresh
// loop. A failed initial fetch is logged, not fatal: the loop keeps
// retrying and verification fails cleanly until keys arrive.
func (s *keySet) start(ctx context.Context) {
	if err := s.refresh(ctx); err != nil {
		s.logger.Warn("auth: initial key fetch failed", "issuer", s.config.Issuer, "error", err)
	}

	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	go func() {
		defer close(s.done)
		ticker := time.NewTicker(s.config.RefreshInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := s.refresh(ctx); err != nil {
					s.logger.Warn("auth: key refresh failed", "issuer", s.config.Issuer, "error", err)
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}

// close stops the refresh loop. Safe to call when start never ran.
func (s *keySet) close() {
	if s.cancel != nil {
		s.cancel()
		<-s.done
	}
}

// verify checks a structured three-part token locally against the
// provider's signing keys and returns the authenticated identity.
func (s *keySet) verify(ctx context.Context, token string) (*Identity, error) {
	parsed, err := jwt.Parse(token, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodRSA); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		kid, _ := t.Header["kid"].(string)
		if kid == "" {
			return nil, fmt.Errorf("token header has no key id")
		}
		return s.keyFor(ctx, kid)
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCredential, err)
	}

	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return nil, fmt.Errorf("%w: unexpected claims type", ErrInvalidCredential)
	}

	issuer, _ := claims.GetIssuer()
	if issuer != s.config.Issuer {
		return nil, fmt.Errorf("%w: issuer %q does not match provider %q",
			ErrInvalidCredential, issuer, s.config.Issuer)
	}
	if s.config.Audience != "" {
		audience, _ := claims.GetAudience()
		if !slices.Contains(audience, s.config.Audience) {
			return nil, fmt.Errorf("%w: audience does not include %q",
				ErrInvalidCredential, s.config.Audience)
		}
	}

	subject, _ := claims.GetSubject()
	if subject == "" {
		return nil, fmt.Errorf("%w: token has no subject", ErrInvalidCredential)
	}

	identity := &Identity{Subject: subject, Method: MethodJWT}
	if name, ok := claims["name"].(string); ok {
		identity.Name = name
	} else if email, ok := claims["email"].(string); ok {
		identity.Name = email
	}
	if exp, expErr := claims.GetExpirationTime(); expErr == nil && exp != nil {
		identity.ExpiresAt = exp.Time
	}
	return identity, nil
}

// keyFor returns the signing key with the given id, refreshing the set
// once when the id is unknown and the last fetch is old enough.
func (s *keySet) keyFor(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	s.mu.RLock()
	key, ok := s.keys[kid]
	fetchedAt := s.fetchedAt
	s.mu.RUnlock()
	if ok {
		return key, nil
	}

	if time.Since(fetchedAt) < minKeyRefreshInterval {
		return nil, fmt.Errorf("no signing key with id %q", kid)
	}
	if err := s.refresh(ctx); err != nil {
		return nil, fmt.Errorf("refreshing signing keys: %w", err)
	}

	s.mu.RLock()
	key, ok = s.keys[kid]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("no signing key with id %q", kid)
	}
	return key, nil
}

// refresh re-reads the provider's discovery document and signing keys.
func (s *keySet) refresh(ctx context.Context) error {
	discovery, err := s.discover(ctx)
	if err != nil {
		return err
	}
	keys, err := s.fetchKeys(ctx, discovery.JwksURI)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.discovery = discovery
	s.keys = keys
	s.fetchedAt = time.Now()
	s.mu.Unlock()

	s.logger.Debug("auth: refreshed provider signing keys",
		"issuer", s.config.Issuer,
		"keys", len(keys))
	return nil
}

func (s *keySet) discover(ctx context.Context) (discoveryDocument, error) {
	discoveryURL := strings.TrimSuffix(s.config.Issuer, "/") + "/.well-known/openid-configuration"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, discoveryURL, nil)
	if err != nil {
		return discoveryDocument{}, fmt.Errorf("creating discovery request: %w", err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return discoveryDocument{}, fmt.Errorf("fetching discovery document: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return discoveryDocument{}, fmt.Errorf("discovery request failed: %d", resp.StatusCode)
	}

	var doc discoveryDocument
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return discoveryDocument{}, fmt.Errorf("parsing discovery document: %w", err)
	}
	if doc.JwksURI == "" {
		return discoveryDocument{}, fmt.Errorf("discovery document has no jwks_uri")
	}
	return doc, nil
}

func (s *keySet) fetchKeys(ctx context.Context, jwksURI string) (map[string]*rsa.PublicKey, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, jwksURI, nil)
	if err != nil {
		return nil, fmt.Errorf("creating JWKS request: %w", err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching JWKS: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("JWKS request failed: %d", resp.StatusCode)
	}

	var doc struct {
		Keys []struct {
			Kid string `json:"kid"`
			Kty string `json:"kty"`
			Use string `json:"use"`
			N   string `json:"n"`
			E   string `json:"e"`
		} `json:"keys"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return nil, fmt.Errorf("parsing JWKS: %w", err)
	}

	keys := make(map[string]*rsa.PublicKey, len(doc.Keys))
	for _, key := range doc.Keys {
		if key.Kty != "RSA" || (key.Use != "" && key.Use != "sig") {
			continue
		}
		pub, err := parseRSAKey(key.N, key.E)
		if err != nil {
			s.logger.Warn("auth: skipping unparseable JWKS key", "kid", key.Kid, "error", err)
			continue
		}
		keys[key.Kid] = pub
	}
	if len(keys) == 0 {
		return nil, fmt.Errorf("provider published no usable RSA signing keys")
	}
	return keys, nil
}

// endpoints returns the provider's advertised authorization and token
// endpoints; empty strings before discovery has succeeded.
func (s *keySet) endpoints() (authorization, token string) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.discovery.AuthorizationEndpoint, s.discovery.TokenEndpoint
}

// userinfoEndpoint returns the provider's who-am-I endpoint, running
// discovery on demand when it has not happened yet.
func (s *keySet) userinfoEndpoint(ctx context.Context) (string, error) {
	s.mu.RLock()
	endpoint := s.discovery.UserinfoEndpoint
	discovered := !s.fetchedAt.IsZero()
	s.mu.RUnlock()

	if endpoint == "" && !discovered {
		if err := s.refresh(ctx); err != nil {
			return "", err
		}
		s.mu.RLock()
		endpoint = s.discovery.UserinfoEndpoint
		s.mu.RUnlock()
	}
	if endpoint == "" {
		return "", fmt.Errorf("identity provider advertises no userinfo endpoint")
	}
	return endpoint, nil
}

func parseRSAKey(nRaw, eRaw string) (*rsa.PublicKey, error) {
	n, err := base64.RawURLEncoding.DecodeString(nRaw)
	if err != nil {
		return nil, fmt.Errorf("decoding modulus: %w", err)
	}
	e, err := base64.RawURLEncoding.DecodeString(eRaw)
	if err != nil {
		return nil, fmt.Errorf("decoding exponent: %w", err)
	}
	if len(n) == 0 || len(e) == 0 {
		return nil, fmt.Errorf("empty modulus or exponent")
	}
	return &rsa.PublicKey{
		N: new(big.Int).SetBytes(n),
		E: int(new(big.Int).SetBytes(e).Int64()),
	}, nil
}
