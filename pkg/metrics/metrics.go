// Package metrics exposes Prometheus instrumentation for the governance
// layer: session population, admission outcomes, evictions by reason, rate
// limiting and auth cache behavior.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics bundles the collectors updated by the governance components. Each
// collection is updated only by the component that owns the underlying
// state, so gauge values track the authoritative maps exactly.
type Metrics struct {
	// SessionsActive tracks the current number of live sessions.
	SessionsActive prometheus.Gauge

	// SessionsAdmitted counts successful new-session admissions, including
	// auto-recovered ones.
	SessionsAdmitted prometheus.Counter

	// SessionsRecovered counts admissions that revived a tombstoned id.
	SessionsRecovered prometheus.Counter

	// SessionsEvicted counts removals by reason (idle_timeout, memory_limit,
	// disconnect).
	SessionsEvicted *prometheus.CounterVec

	// CapacityRejections counts admissions denied by the session ceiling.
	CapacityRejections prometheus.Counter

	// RateLimitRejections counts requests refused by the rate limiter.
	RateLimitRejections prometheus.Counter

	// AuthFailures counts requests refused by the auth validator.
	AuthFailures prometheus.Counter

	// AuthCacheHits and AuthCacheMisses count token cache lookups.
	AuthCacheHits   prometheus.Counter
	AuthCacheMisses prometheus.Counter

	// ResourceFailures counts browser resource creations that failed.
	ResourceFailures prometheus.Counter
}

// New creates the collector set and registers it with reg. Passing a nil
// registerer yields working but unregistered collectors, which is what
// tests use.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		SessionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "surfboard_sessions_active",
			Help: "Number of currently active browser sessions.",
		}),
		SessionsAdmitted: factory.NewCounter(prometheus.CounterOpts{
			Name: "surfboard_sessions_admitted_total",
			Help: "Total sessions admitted past the capacity ceiling.",
		}),
		SessionsRecovered: factory.NewCounter(prometheus.CounterOpts{
			Name: "surfboard_sessions_recovered_total",
			Help: "Total sessions transparently re-created from a tombstone.",
		}),
		SessionsEvicted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "surfboard_sessions_evicted_total",
			Help: "Total sessions removed from the registry, by reason.",
		}, []string{"reason"}),
		CapacityRejections: factory.NewCounter(prometheus.CounterOpts{
			Name: "surfboard_capacity_rejections_total",
			Help: "Total admissions denied because the server was at capacity.",
		}),
		RateLimitRejections: factory.NewCounter(prometheus.CounterOpts{
			Name: "surfboard_ratelimit_rejections_total",
			Help: "Total requests refused by the rate limiter.",
		}),
		AuthFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "surfboard_auth_failures_total",
			Help: "Total requests refused by the auth validator.",
		}),
		AuthCacheHits: factory.NewCounter(prometheus.CounterOpts{
			Name: "surfboard_auth_cache_hits_total",
			Help: "Token cache lookups answered without contacting the identity provider.",
		}),
		AuthCacheMisses: factory.NewCounter(prometheus.CounterOpts{
			Name: "surfboard_auth_cache_misses_total",
			Help: "Token cache lookups that fell through to live validation.",
		}),
		ResourceFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "surfboard_resource_failures_total",
			Help: "Total browser resource creations that failed.",
		}),
	}
}

// NewNop creates an unregistered collector set for tests and for callers
// that run without a metrics endpoint.
func NewNop() *Metrics {
	return New(nil)
}
