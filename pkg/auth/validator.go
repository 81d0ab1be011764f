package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/surfboard-io/surfboard/pkg/metrics"
)

// Defaults applied by Config.applyDefaults.
const (
	DefaultRequestTimeout  = 10 * time.Second
	DefaultRefreshInterval = time.Hour
	DefaultFallbackTTL     = 5 * time.Minute
	DefaultExpiryMargin    = 30 * time.Second
)

var (
	// ErrNoCredentials means the request carried no credential while at
	// least one scheme is configured.
	ErrNoCredentials = errors.New("no credentials provided")

	// ErrInvalidCredential means the supplied credential failed validation
	// under every configured scheme.
	ErrInvalidCredential = errors.New("invalid credentials")
)

// Method identifies how an identity was established.
type Method string

const (
	// MethodStaticKey matched a configured API key.
	MethodStaticKey Method = "static_key"

	// MethodJWT verified a structured token locally against provider keys.
	MethodJWT Method = "jwt"

	// MethodIntrospection validated an opaque token via the provider's
	// who-am-I endpoint.
	MethodIntrospection Method = "introspection"
)

// Identity is an authenticated principal.
type Identity struct {
	// Subject uniquely identifies the principal.
	Subject string `json:"subject"`

	// Name is a display name when one is known.
	Name string `json:"name,omitempty"`

	// Method is how the identity was established.
	Method Method `json:"method"`

	// ExpiresAt is the credential's own expiry; zero when it has none.
	ExpiresAt time.Time `json:"expires_at,omitzero"`
}

// ProviderConfig configures the external identity provider.
type ProviderConfig struct {
	// Issuer is the provider's base URL; discovery, signing keys and the
	// userinfo endpoint are all derived from it.
	Issuer string `yaml:"issuer"`

	// Audience, when set, must appear in a verified token's aud claim.
	Audience string `yaml:"audience"`

	// RequestTimeout bounds each call to the provider, independent of the
	// request that triggered it.
	RequestTimeout time.Duration `yaml:"request_timeout"`

	// RefreshInterval is the signing key refresh cadence.
	RefreshInterval time.Duration `yaml:"refresh_interval"`
}

// CacheConfig configures the token cache.
type CacheConfig struct {
	// FallbackTTL caches identities whose credential has no expiry of its
	// own, such as opaque introspected tokens.
	FallbackTTL time.Duration `yaml:"fallback_ttl"`

	// ExpiryMargin is subtracted from a credential's expiry when deriving
	// its cache TTL, so a cached identity never outlives its token.
	ExpiryMargin time.Duration `yaml:"expiry_margin"`
}

// Config configures the validator.
type Config struct {
	// StaticKeys is the configured API key set.
	StaticKeys []StaticKey `yaml:"static_keys"`

	// Provider enables bearer token validation when Issuer is set.
	Provider ProviderConfig `yaml:"provider"`

	// Cache tunes identity caching.
	Cache CacheConfig `yaml:"cache"`
}

func (c *Config) applyDefaults() {
	if c.Provider.RequestTimeout <= 0 {
		c.Provider.RequestTimeout = DefaultRequestTimeout
	}
	if c.Provider.RefreshInterval <= 0 {
		c.Provider.RefreshInterval = DefaultRefreshInterval
	}
	if c.Cache.FallbackTTL <= 0 {
		c.Cache.FallbackTTL = DefaultFallbackTTL
	}
	if c.Cache.ExpiryMargin <= 0 {
		c.Cache.ExpiryMargin = DefaultExpiryMargin
	}
}

// Validator checks request credentials against the configured schemes and
// caches validated identities.
type Validator struct {
	config  Config
	static  *staticKeySet
	keys    *keySet
	intro   *introspector
	cache   *tokenCache
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewValidator creates a validator. With no static keys and no provider
// issuer configured the validator reports itself disabled and the server
// runs open-access; that state is logged loudly here so it can never be a
// silent default.
func NewValidator(config Config, m *metrics.Metrics, logger *slog.Logger) (*Validator, error) {
	config.applyDefaults()
	if m == nil {
		m = metrics.NewNop()
	}
	if logger == nil {
		logger = slog.Default()
	}

	v := &Validator{
		config:  config,
		static:  newStaticKeySet(config.StaticKeys),
		cache:   newTokenCache(),
		metrics: m,
		logger:  logger,
	}

	if issuer := config.Provider.Issuer; issuer != "" {
		if !strings.HasPrefix(issuer, "http://") && !strings.HasPrefix(issuer, "https://") {
			return nil, fmt.Errorf("provider issuer must be an http(s) URL, got %q", issuer)
		}
		client := &http.Client{Timeout: config.Provider.RequestTimeout}
		v.keys = newKeySet(config.Provider, client, logger)
		v.intro = newIntrospector(v.keys, client)
	}

	if !v.Enabled() {
		logger.Warn("auth: no authentication scheme configured, ALL requests will be authorized (open-access mode)")
	}
	return v, nil
}

// Enabled reports whether any authentication scheme is configured. When
// false the dispatcher skips validation entirely: open-access mode.
func (v *Validator) Enabled() bool {
	return len(v.config.StaticKeys) > 0 || v.keys != nil
}

// Validate checks the request's credentials against the configured
// schemes, cheapest first. The static key set is tried against both the
// dedicated key header and the bearer token, and a match short-circuits;
// otherwise the bearer token consults the token cache and is then
// verified locally (three-part structured tokens) or remotely via
// introspection (opaque tokens).
func (v *Validator) Validate(ctx context.Context, bearer, apiKey string) (*Identity, error) {
	if bearer == "" && apiKey == "" {
		return nil, ErrNoCredentials
	}

	for _, candidate := range []string{apiKey, bearer} {
		if key, ok := v.static.match(candidate); ok {
			return v.static.identity(key), nil
		}
	}

	if v.keys == nil || bearer == "" {
		return nil, fmt.Errorf("%w: credential matches no configured scheme", ErrInvalidCredential)
	}

	now := time.Now()
	fp := fingerprint(bearer)
	if identity, ok := v.cache.get(fp, now); ok {
		v.metrics.AuthCacheHits.Inc()
		return &identity, nil
	}
	v.metrics.AuthCacheMisses.Inc()

	var (
		identity *Identity
		err      error
	)
	if structuredToken(bearer) {
		identity, err = v.keys.verify(ctx, bearer)
	} else {
		identity, err = v.intro.whoAmI(ctx, bearer)
	}
	if err != nil {
		return nil, err
	}

	v.cache.put(fp, *identity, v.cacheTTL(identity, now), now)
	return identity, nil
}

// Schemes lists the credential schemes the validator accepts, for the
// unauthorized response's advertisement header.
func (v *Validator) Schemes() []string {
	var schemes []string
	if len(v.config.StaticKeys) > 0 {
		schemes = append(schemes, "ApiKey")
	}
	if v.keys != nil {
		schemes = append(schemes, "Bearer")
	}
	return schemes
}

// ProviderEndpoints returns the identity provider's authorization and
// token endpoints when discovery has run, for the unauthorized response.
func (v *Validator) ProviderEndpoints() (authorization, token string) {
	if v.keys == nil {
		return "", ""
	}
	return v.keys.endpoints()
}

// Start launches the background signing key refresh when a provider is
// configured.
func (v *Validator) Start(ctx context.Context) {
	if v.keys != nil {
		v.keys.start(ctx)
	}
}

// Close stops background refreshes.
func (v *Validator) Close() {
	if v.keys != nil {
		v.keys.close()
	}
}

// PurgeStale drops expired token cache entries. It implements the
// reaper's Purger contract so cache reclamation rides the sweep cadence.
func (v *Validator) PurgeStale(now time.Time) int {
	return v.cache.purgeExpired(now)
}

// CacheSize returns the number of cached identities.
func (v *Validator) CacheSize() int {
	return v.cache.size()
}

// structuredToken reports whether the credential has the three-part shape
// that can be verified locally.
func structuredToken(credential string) bool {
	return strings.Count(credential, ".") == 2
}

// cacheTTL derives how long a validated identity may be served from
// cache: until shortly before the credential's own expiry, or the fixed
// fallback when the credential does not expire.
func (v *Validator) cacheTTL(identity *Identity, now time.Time) time.Duration {
	if identity.ExpiresAt.IsZero() {
		return v.config.Cache.FallbackTTL
	}
	return identity.ExpiresAt.Sub(now) - v.config.Cache.ExpiryMargin
}
