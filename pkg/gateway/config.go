// Package gateway assembles the governed browser automation server:
// the browser factory, session registry, reaper, auth validator, rate
// limiter, event recorder and MCP server, built from one config and
// started and stopped in dependency order.
package gateway

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/surfboard-io/surfboard/pkg/audit"
	"github.com/surfboard-io/surfboard/pkg/auth"
	"github.com/surfboard-io/surfboard/pkg/browser"
	"github.com/surfboard-io/surfboard/pkg/ratelimit"
	"github.com/surfboard-io/surfboard/pkg/session"
)

// Default server settings.
const (
	DefaultServerName = "surfboard"
	DefaultVersion    = "0.0.0"
	DefaultAddress    = ":8080"
)

// Config holds the complete server configuration. Each section is the
// config type of the component it tunes, so the YAML layout mirrors the
// package layout.
type Config struct {
	Server    ServerConfig     `yaml:"server"`
	Auth      auth.Config      `yaml:"auth"`
	RateLimit ratelimit.Config `yaml:"rate_limit"`
	Sessions  session.Config   `yaml:"sessions"`
	Browser   browser.Config   `yaml:"browser"`
	Audit     audit.Config     `yaml:"audit"`
}

// ServerConfig names the server and binds its listener.
type ServerConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
	Address string `yaml:"address"`

	// LogLevel is one of debug, info, warn or error.
	LogLevel string `yaml:"log_level"`
}

// envVarPattern matches ${VAR} references in config files.
var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// LoadConfig reads a YAML config file, expands ${VAR} environment
// references and applies defaults.
func LoadConfig(path string) (*Config, error) {
	// #nosec G304 -- path is from CLI args, controlled by the operator
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	data = []byte(expandEnvVars(string(data)))

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	cfg.applyDefaults()
	return &cfg, nil
}

// DefaultConfig returns a config with every default applied.
func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// expandEnvVars replaces ${VAR} references with the variable's value.
// Unset variables expand to the empty string.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		return os.Getenv(match[2 : len(match)-1])
	})
}

// applyDefaults fills the server section. The component sections apply
// their own defaults inside their constructors, so a zero section means
// "use that component's defaults" rather than "disabled".
func (c *Config) applyDefaults() {
	if c.Server.Name == "" {
		c.Server.Name = DefaultServerName
	}
	if c.Server.Version == "" {
		c.Server.Version = DefaultVersion
	}
	if c.Server.Address == "" {
		c.Server.Address = DefaultAddress
	}
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = "info"
	}
}

// Validate checks for settings the component constructors cannot reject
// on their own. It reports every problem at once.
func (c *Config) Validate() error {
	var errs []string

	for i, key := range c.Auth.StaticKeys {
		if key.Key == "" {
			errs = append(errs, fmt.Sprintf("auth.static_keys[%d].key must not be empty", i))
		}
	}
	if c.Sessions.MemoryLimitBytes < 0 {
		errs = append(errs, "sessions.memory_limit_bytes must not be negative")
	}
	if c.Audit.RetentionDays < 0 {
		errs = append(errs, "audit.retention_days must not be negative")
	}
	if c.Audit.RetentionDays > 0 && c.Audit.PostgresDSN == "" {
		errs = append(errs, "audit.retention_days requires audit.postgres_dsn")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors: %s", strings.Join(errs, "; "))
	}
	return nil
}
