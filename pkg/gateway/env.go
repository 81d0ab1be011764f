package gateway

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/surfboard-io/surfboard/pkg/auth"
)

// FromEnv builds a config from SURFBOARD_* environment variables,
// starting from the defaults. Unset or unparsable variables keep their
// defaults, so a partially configured environment still produces a
// runnable server.
func FromEnv() *Config {
	cfg := DefaultConfig()

	cfg.Server.Address = envString("SURFBOARD_ADDRESS", cfg.Server.Address)
	cfg.Server.LogLevel = envString("SURFBOARD_LOG_LEVEL", cfg.Server.LogLevel)

	cfg.Sessions.MaxSessions = envInt("SURFBOARD_MAX_SESSIONS", cfg.Sessions.MaxSessions)
	cfg.Sessions.IdleTimeout = envDuration("SURFBOARD_IDLE_TIMEOUT", cfg.Sessions.IdleTimeout)
	cfg.Sessions.MemoryLimitBytes = envInt64("SURFBOARD_MEMORY_LIMIT_BYTES", cfg.Sessions.MemoryLimitBytes)
	cfg.Sessions.TombstoneTTL = envDuration("SURFBOARD_TOMBSTONE_TTL", cfg.Sessions.TombstoneTTL)
	cfg.Sessions.SweepInterval = envDuration("SURFBOARD_SWEEP_INTERVAL", cfg.Sessions.SweepInterval)

	cfg.RateLimit.SustainedLimit = envInt("SURFBOARD_SUSTAINED_LIMIT", cfg.RateLimit.SustainedLimit)
	cfg.RateLimit.SustainedWindow = envDuration("SURFBOARD_SUSTAINED_WINDOW", cfg.RateLimit.SustainedWindow)
	cfg.RateLimit.BurstLimit = envInt("SURFBOARD_BURST_LIMIT", cfg.RateLimit.BurstLimit)
	cfg.RateLimit.BurstWindow = envDuration("SURFBOARD_BURST_WINDOW", cfg.RateLimit.BurstWindow)
	cfg.RateLimit.Whitelist = envList("SURFBOARD_RATE_WHITELIST", cfg.RateLimit.Whitelist)

	for i, key := range envList("SURFBOARD_API_KEYS", nil) {
		cfg.Auth.StaticKeys = append(cfg.Auth.StaticKeys, auth.StaticKey{
			Key:  key,
			Name: fmt.Sprintf("env-%d", i+1),
		})
	}
	cfg.Auth.Provider.Issuer = envString("SURFBOARD_AUTH_ISSUER", cfg.Auth.Provider.Issuer)
	cfg.Auth.Provider.Audience = envString("SURFBOARD_AUTH_AUDIENCE", cfg.Auth.Provider.Audience)

	cfg.Browser.Headful = envBool("SURFBOARD_HEADFUL", cfg.Browser.Headful)
	cfg.Browser.InstallBrowsers = envBool("SURFBOARD_INSTALL_BROWSERS", cfg.Browser.InstallBrowsers)

	cfg.Audit.PostgresDSN = envString("SURFBOARD_POSTGRES_DSN", cfg.Audit.PostgresDSN)
	cfg.Audit.RetentionDays = envInt("SURFBOARD_RETENTION_DAYS", cfg.Audit.RetentionDays)

	return cfg
}

// envString reads a string env var with a default.
func envString(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

// envBool reads a bool env var with a default.
func envBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

// envInt reads a positive int env var with a default.
func envInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

// envInt64 reads a positive int64 env var with a default.
func envInt64(key string, def int64) int64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

// envDuration reads a duration env var with a default.
func envDuration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

// envList reads a comma-separated env var with a default. Blank items
// are dropped.
func envList(key string, def []string) []string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	var items []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	if len(items) == 0 {
		return def
	}
	return items
}
