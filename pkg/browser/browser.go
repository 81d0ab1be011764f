// Package browser provides the browser automation resources that sessions
// own. It defines the Factory interface for resource creation and the
// Resource type that represents one isolated browser context, plus the
// Playwright-backed implementation used in production.
package browser

import (
	"context"
	"time"
)

// Default values applied by Config.applyDefaults.
const (
	DefaultViewportWidth     = 1280
	DefaultViewportHeight    = 720
	DefaultNavigationTimeout = 30 * time.Second
)

// Resource is a live, isolated browser context owned by exactly one session.
// Implementations must tolerate Close being called more than once.
type Resource interface {
	// Navigate loads url in the resource's page and returns the final URL
	// after redirects. waitUntil is one of "load", "domcontentloaded" or
	// "networkidle"; empty means "load".
	Navigate(ctx context.Context, url, waitUntil string) (string, error)

	// Extract returns the text content of the first element matching
	// selector, or of the document body when selector is empty.
	Extract(ctx context.Context, selector string) (string, error)

	// Screenshot captures the current page as PNG bytes.
	Screenshot(ctx context.Context, fullPage bool) ([]byte, error)

	// MemoryBytes reports the resource's current JS heap usage in bytes.
	// An error means the probe failed or is unsupported; callers must treat
	// usage as unknown rather than zero.
	MemoryBytes(ctx context.Context) (int64, error)

	// Close releases the underlying browser resources. Cleanup is
	// best-effort: Close returns once resources are released or ctx is done,
	// whichever comes first.
	Close(ctx context.Context) error
}

// Factory creates Resources for newly admitted sessions. Implementations
// must be safe for concurrent use; callers invoke Create without holding
// registry locks, so Create may be arbitrarily slow.
type Factory interface {
	// Create builds a fresh isolated resource for the given session ID.
	Create(ctx context.Context, sessionID string) (Resource, error)
}

// Config configures the Playwright factory.
type Config struct {
	// Headful launches visible browser windows instead of headless ones.
	Headful bool `yaml:"headful"`

	// InstallBrowsers downloads the Playwright browser binaries during
	// Start. Leave false when the image ships them pre-installed.
	InstallBrowsers bool `yaml:"install_browsers"`

	// ViewportWidth and ViewportHeight size each session's context.
	ViewportWidth  int `yaml:"viewport_width"`
	ViewportHeight int `yaml:"viewport_height"`

	// NavigationTimeout bounds page loads and element queries.
	NavigationTimeout time.Duration `yaml:"navigation_timeout"`
}

func (c *Config) applyDefaults() {
	if c.ViewportWidth == 0 {
		c.ViewportWidth = DefaultViewportWidth
	}
	if c.ViewportHeight == 0 {
		c.ViewportHeight = DefaultViewportHeight
	}
	if c.NavigationTimeout == 0 {
		c.NavigationTimeout = DefaultNavigationTimeout
	}
}
