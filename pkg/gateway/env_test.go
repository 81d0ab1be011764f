package gateway

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromEnv_Defaults(t *testing.T) {
	// With nothing set, FromEnv matches DefaultConfig.
	cfg := FromEnv()

	assert.Equal(t, DefaultConfig(), cfg)
	assert.Equal(t, DefaultAddress, cfg.Server.Address)
	assert.Equal(t, "info", cfg.Server.LogLevel)
	assert.Zero(t, cfg.Sessions.MaxSessions, "component defaults apply in the constructor")
}

func TestFromEnv_ReadsVariables(t *testing.T) {
	t.Setenv("SURFBOARD_ADDRESS", ":9090")
	t.Setenv("SURFBOARD_LOG_LEVEL", "debug")
	t.Setenv("SURFBOARD_MAX_SESSIONS", "12")
	t.Setenv("SURFBOARD_IDLE_TIMEOUT", "45m")
	t.Setenv("SURFBOARD_MEMORY_LIMIT_BYTES", "536870912")
	t.Setenv("SURFBOARD_SUSTAINED_LIMIT", "600")
	t.Setenv("SURFBOARD_BURST_WINDOW", "2m")
	t.Setenv("SURFBOARD_RATE_WHITELIST", "10.0.0.1, 10.0.0.2,")
	t.Setenv("SURFBOARD_API_KEYS", "sk-alpha,sk-beta")
	t.Setenv("SURFBOARD_AUTH_ISSUER", "https://id.example.com")
	t.Setenv("SURFBOARD_AUTH_AUDIENCE", "surfboard-api")
	t.Setenv("SURFBOARD_HEADFUL", "true")
	t.Setenv("SURFBOARD_POSTGRES_DSN", "postgres://surf@localhost/audit")
	t.Setenv("SURFBOARD_RETENTION_DAYS", "14")

	cfg := FromEnv()

	assert.Equal(t, ":9090", cfg.Server.Address)
	assert.Equal(t, "debug", cfg.Server.LogLevel)
	assert.Equal(t, 12, cfg.Sessions.MaxSessions)
	assert.Equal(t, 45*time.Minute, cfg.Sessions.IdleTimeout)
	assert.Equal(t, int64(536870912), cfg.Sessions.MemoryLimitBytes)
	assert.Equal(t, 600, cfg.RateLimit.SustainedLimit)
	assert.Equal(t, 2*time.Minute, cfg.RateLimit.BurstWindow)
	assert.Equal(t, []string{"10.0.0.1", "10.0.0.2"}, cfg.RateLimit.Whitelist)

	require.Len(t, cfg.Auth.StaticKeys, 2)
	assert.Equal(t, "sk-alpha", cfg.Auth.StaticKeys[0].Key)
	assert.Equal(t, "env-1", cfg.Auth.StaticKeys[0].Name)
	assert.Equal(t, "sk-beta", cfg.Auth.StaticKeys[1].Key)

	assert.Equal(t, "https://id.example.com", cfg.Auth.Provider.Issuer)
	assert.Equal(t, "surfboard-api", cfg.Auth.Provider.Audience)
	assert.True(t, cfg.Browser.Headful)
	assert.Equal(t, "postgres://surf@localhost/audit", cfg.Audit.PostgresDSN)
	assert.Equal(t, 14, cfg.Audit.RetentionDays)

	require.NoError(t, cfg.Validate())
}

func TestFromEnv_IgnoresUnparsableValues(t *testing.T) {
	t.Setenv("SURFBOARD_MAX_SESSIONS", "a-lot")
	t.Setenv("SURFBOARD_IDLE_TIMEOUT", "-5m")
	t.Setenv("SURFBOARD_HEADFUL", "definitely")

	cfg := FromEnv()

	assert.Zero(t, cfg.Sessions.MaxSessions)
	assert.Zero(t, cfg.Sessions.IdleTimeout)
	assert.False(t, cfg.Browser.Headful)
}

func TestEnvHelpers(t *testing.T) {
	t.Setenv("SURFBOARD_TEST_STR", "  padded  ")
	assert.Equal(t, "padded", envString("SURFBOARD_TEST_STR", "x"))
	assert.Equal(t, "fallback", envString("SURFBOARD_TEST_UNSET", "fallback"))

	t.Setenv("SURFBOARD_TEST_INT", "0")
	assert.Equal(t, 7, envInt("SURFBOARD_TEST_INT", 7), "non-positive values keep the default")

	t.Setenv("SURFBOARD_TEST_LIST", " , ,")
	assert.Equal(t, []string{"keep"}, envList("SURFBOARD_TEST_LIST", []string{"keep"}),
		"all-blank lists keep the default")
}
