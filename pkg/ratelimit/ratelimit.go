// Package ratelimit implements a per-caller dual-window rate limiter. A
// sustained window governs steady long-term use while a shorter burst
// window, measured from the caller's first-seen timestamp rather than
// wall-clock boundaries, caps rapid bursts from new callers.
package ratelimit

import (
	"log/slog"
	"sync"
	"time"
)

// Default thresholds applied by Config.applyDefaults.
const (
	DefaultSustainedLimit  = 30
	DefaultSustainedWindow = 60 * time.Minute
	DefaultBurstLimit      = 15
	DefaultBurstWindow     = 5 * time.Minute

	// staleAgeFactor times the sustained window is how long an empty entry
	// may linger before PurgeStale drops it.
	staleAgeFactor = 2
)

// Config holds the rate limiter thresholds.
type Config struct {
	// SustainedLimit is the number of requests allowed per sustained window.
	SustainedLimit int `yaml:"sustained_limit"`

	// SustainedWindow is the long horizon over which SustainedLimit applies.
	SustainedWindow time.Duration `yaml:"sustained_window"`

	// BurstLimit is the number of requests allowed while a caller is still
	// inside its initial burst window.
	BurstLimit int `yaml:"burst_limit"`

	// BurstWindow is the short horizon measured from first sight of a caller.
	BurstWindow time.Duration `yaml:"burst_window"`

	// Whitelist lists caller keys exempt from limiting.
	Whitelist []string `yaml:"whitelist"`
}

func (c *Config) applyDefaults() {
	if c.SustainedLimit <= 0 {
		c.SustainedLimit = DefaultSustainedLimit
	}
	if c.SustainedWindow <= 0 {
		c.SustainedWindow = DefaultSustainedWindow
	}
	if c.BurstLimit <= 0 {
		c.BurstLimit = DefaultBurstLimit
	}
	if c.BurstWindow <= 0 {
		c.BurstWindow = DefaultBurstWindow
	}
}

// Decision is the outcome of one rate-limit check.
type Decision struct {
	// Allowed reports whether the request may proceed.
	Allowed bool

	// Limit is the effective limit applied: the burst limit while the
	// caller is inside its burst window, the sustained limit after.
	Limit int

	// Remaining is how many further requests the caller has under the
	// effective limit. Zero on rejection.
	Remaining int

	// ResetAt is when the oldest counted request ages out of the sustained
	// window. Zero for whitelisted callers.
	ResetAt time.Time

	// Window is the effective window the limit applies to.
	Window time.Duration
}

// RetryAfter returns how long from now until ResetAt, floored at one second
// so a rejected caller is never told to retry immediately.
func (d Decision) RetryAfter(now time.Time) time.Duration {
	wait := d.ResetAt.Sub(now)
	if wait < time.Second {
		wait = time.Second
	}
	return wait.Round(time.Second)
}

// entry is the sliding request log for one caller key.
type entry struct {
	firstSeen  time.Time
	timestamps []time.Time
}

// Limiter tracks request timestamps per caller key. All per-key
// read-modify-write steps run under one lock so concurrent requests for
// the same key cannot both slip past the limit on a lost update.
type Limiter struct {
	config    Config
	logger    *slog.Logger
	whitelist map[string]struct{}

	mu      sync.Mutex
	entries map[string]*entry
}

// New creates a rate limiter. A nil logger falls back to slog.Default.
func New(config Config, logger *slog.Logger) *Limiter {
	config.applyDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	whitelist := make(map[string]struct{}, len(config.Whitelist))
	for _, key := range config.Whitelist {
		whitelist[key] = struct{}{}
	}
	return &Limiter{
		config:    config,
		logger:    logger,
		whitelist: whitelist,
		entries:   make(map[string]*entry),
	}
}

// Check decides whether the caller identified by key may proceed and, if
// so, records the request.
func (l *Limiter) Check(key string) Decision {
	return l.checkAt(key, time.Now())
}

// Whitelisted reports whether key is exempt from limiting.
func (l *Limiter) Whitelisted(key string) bool {
	_, ok := l.whitelist[key]
	return ok
}

func (l *Limiter) checkAt(key string, now time.Time) Decision {
	if _, ok := l.whitelist[key]; ok {
		return Decision{
			Allowed:   true,
			Limit:     l.config.SustainedLimit,
			Remaining: l.config.SustainedLimit,
			Window:    l.config.SustainedWindow,
		}
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.entries[key]
	if !ok {
		e = &entry{firstSeen: now}
		l.entries[key] = e
	}

	// Drop timestamps that aged out of the sustained window, then count
	// what is left inside the burst window.
	sustainedCutoff := now.Add(-l.config.SustainedWindow)
	retained := e.timestamps[:0]
	for _, ts := range e.timestamps {
		if ts.After(sustainedCutoff) {
			retained = append(retained, ts)
		}
	}
	e.timestamps = retained

	burstCutoff := now.Add(-l.config.BurstWindow)
	burstCount := 0
	for _, ts := range e.timestamps {
		if ts.After(burstCutoff) {
			burstCount++
		}
	}

	// A caller inside its initial burst window is bound by the burst
	// limit, even when the sustained limit is larger. With zero prior
	// requests the caller is always in the burst period.
	limit, count, window := l.config.SustainedLimit, len(e.timestamps), l.config.SustainedWindow
	if now.Sub(e.firstSeen) < l.config.BurstWindow {
		limit, count, window = l.config.BurstLimit, burstCount, l.config.BurstWindow
	}

	if count >= limit {
		resetAt := e.timestamps[0].Add(l.config.SustainedWindow)
		l.logger.Debug("ratelimit: rejected",
			"key", key,
			"limit", limit,
			"count", count,
			"reset_at", resetAt)
		return Decision{
			Allowed:   false,
			Limit:     limit,
			Remaining: 0,
			ResetAt:   resetAt,
			Window:    window,
		}
	}

	e.timestamps = append(e.timestamps, now)
	return Decision{
		Allowed:   true,
		Limit:     limit,
		Remaining: limit - count - 1,
		ResetAt:   e.timestamps[0].Add(l.config.SustainedWindow),
		Window:    window,
	}
}

// Size returns the number of tracked caller keys.
func (l *Limiter) Size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// PurgeStale drops entries that hold no live timestamps and were first
// seen longer than twice the sustained window ago. It implements the
// reaper's Purger contract so abandoned caller entries do not accumulate.
func (l *Limiter) PurgeStale(now time.Time) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	sustainedCutoff := now.Add(-l.config.SustainedWindow)
	staleCutoff := now.Add(-staleAgeFactor * l.config.SustainedWindow)
	purged := 0
	for key, e := range l.entries {
		retained := e.timestamps[:0]
		for _, ts := range e.timestamps {
			if ts.After(sustainedCutoff) {
				retained = append(retained, ts)
			}
		}
		e.timestamps = retained
		if len(e.timestamps) == 0 && e.firstSeen.Before(staleCutoff) {
			delete(l.entries, key)
			purged++
		}
	}
	if purged > 0 {
		l.logger.Debug("ratelimit: purged stale entries", "purged", purged, "remaining", len(l.entries))
	}
	return purged
}
