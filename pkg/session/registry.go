package session

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/surfboard-io/surfboard/pkg/audit"
	"github.com/surfboard-io/surfboard/pkg/browser"
	"github.com/surfboard-io/surfboard/pkg/metrics"
)

const (
	// DefaultMaxSessions caps concurrent sessions when unconfigured.
	DefaultMaxSessions = 10

	// DefaultIdleTimeout evicts sessions idle longer than this.
	DefaultIdleTimeout = 5 * time.Minute

	// DefaultTombstoneTTL retains expired-session records for recovery.
	DefaultTombstoneTTL = 10 * time.Minute

	// DefaultSweepInterval is how often the reaper runs.
	DefaultSweepInterval = 30 * time.Second

	// DefaultCloseTimeout bounds browser resource teardown.
	DefaultCloseTimeout = 10 * time.Second
)

// Config holds session registry and reaper settings.
type Config struct {
	// MaxSessions caps concurrently active plus pending sessions.
	MaxSessions int `yaml:"max_sessions"`

	// IdleTimeout is how long a session may go without activity before the
	// reaper evicts it.
	IdleTimeout time.Duration `yaml:"idle_timeout"`

	// MemoryLimitBytes evicts sessions whose browser heap usage exceeds it.
	// Zero disables memory-based eviction.
	MemoryLimitBytes int64 `yaml:"memory_limit_bytes"`

	// TombstoneTTL is how long expired-session records are retained so late
	// requests can be transparently recovered.
	TombstoneTTL time.Duration `yaml:"tombstone_ttl"`

	// SweepInterval is how often the reaper checks for evictable sessions.
	SweepInterval time.Duration `yaml:"sweep_interval"`

	// CloseTimeout bounds how long one resource teardown may take.
	CloseTimeout time.Duration `yaml:"close_timeout"`
}

func (c *Config) applyDefaults() {
	if c.MaxSessions <= 0 {
		c.MaxSessions = DefaultMaxSessions
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = DefaultIdleTimeout
	}
	if c.TombstoneTTL <= 0 {
		c.TombstoneTTL = DefaultTombstoneTTL
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = DefaultSweepInterval
	}
	if c.CloseTimeout <= 0 {
		c.CloseTimeout = DefaultCloseTimeout
	}
}

// Registry owns the session maps: active sessions, in-flight creations and
// tombstones. All admission decisions are made under one lock so the
// capacity ceiling holds under concurrent resolution, while browser
// resource creation itself happens outside the lock against a reserved
// slot.
type Registry struct {
	config   Config
	factory  browser.Factory
	recorder audit.Recorder
	metrics  *metrics.Metrics
	logger   *slog.Logger

	mu         sync.RWMutex
	sessions   map[string]*Session
	pending    map[string]chan struct{}
	tombstones map[string]*Tombstone
}

// NewRegistry creates a session registry backed by the given resource
// factory. The recorder may be nil to disable audit events; a nil metrics
// set or logger falls back to no-op collectors and slog.Default.
func NewRegistry(config Config, factory browser.Factory, recorder audit.Recorder, m *metrics.Metrics, logger *slog.Logger) *Registry {
	config.applyDefaults()
	if m == nil {
		m = metrics.NewNop()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		config:     config,
		factory:    factory,
		recorder:   recorder,
		metrics:    m,
		logger:     logger,
		sessions:   make(map[string]*Session),
		pending:    make(map[string]chan struct{}),
		tombstones: make(map[string]*Tombstone),
	}
}

// Resolve returns the session for id, creating it if needed. An active id
// is reused without consulting the capacity ceiling; a tombstoned id is
// recovered under the same id; an unknown id admits a brand-new session
// under it, and an absent id admits under a generated one. Creation and
// recovery count against the ceiling. Concurrent resolutions of one id
// share a single creation attempt.
func (r *Registry) Resolve(ctx context.Context, id string) (*Session, Outcome, error) {
	for {
		r.mu.Lock()
		if id != "" {
			if sess, ok := r.sessions[id]; ok {
				sess.LastActivity = time.Now()
				r.mu.Unlock()
				return sess, OutcomeReused, nil
			}
			if wait, ok := r.pending[id]; ok {
				r.mu.Unlock()
				// Another request is already creating this id; wait for
				// its attempt to settle, then re-resolve.
				select {
				case <-wait:
					continue
				case <-ctx.Done():
					return nil, OutcomeCreated, ctx.Err()
				}
			}
		}
		recovered := r.tombstones[id]
		if len(r.sessions)+len(r.pending) >= r.config.MaxSessions {
			active, pending := len(r.sessions), len(r.pending)
			r.mu.Unlock()
			capErr := &CapacityError{Limit: r.config.MaxSessions, IdleTimeout: r.config.IdleTimeout}
			r.metrics.CapacityRejections.Inc()
			r.record(ctx, audit.NewEvent(audit.ActionCapacityRejected).
				WithSession(id).
				WithDetail(fmt.Sprintf("%d active, %d pending, limit %d", active, pending, r.config.MaxSessions)))
			r.logger.Warn("session: admission rejected at capacity",
				"session_id", id,
				"active", active,
				"pending", pending,
				"limit", r.config.MaxSessions)
			return nil, OutcomeCreated, capErr
		}
		createID := id
		if createID == "" {
			generated, err := generateSessionID()
			if err != nil {
				r.mu.Unlock()
				return nil, OutcomeCreated, fmt.Errorf("generating session id: %w", err)
			}
			createID = generated
		}
		done := make(chan struct{})
		r.pending[createID] = done
		r.mu.Unlock()

		return r.admit(ctx, createID, recovered, done)
	}
}

// admit creates the browser resource for a reserved slot and installs the
// session. The factory call runs outside the registry lock so a slow
// browser launch cannot block resolution of unrelated sessions. The
// tombstone for a recovered id is removed only once the new session is
// installed; a failed attempt leaves it in place for the next try.
func (r *Registry) admit(ctx context.Context, id string, recovered *Tombstone, done chan struct{}) (*Session, Outcome, error) {
	outcome := OutcomeCreated
	if recovered != nil {
		outcome = OutcomeRecovered
	}

	resource, err := r.factory.Create(ctx, id)
	if err != nil {
		r.mu.Lock()
		delete(r.pending, id)
		r.mu.Unlock()
		close(done)

		r.metrics.ResourceFailures.Inc()
		r.record(ctx, audit.NewEvent(audit.ActionResourceFailed).
			WithSession(id).
			WithDetail(err.Error()))
		r.logger.Error("session: resource creation failed", "session_id", id, "error", err)
		return nil, outcome, fmt.Errorf("creating browser resource: %w", err)
	}

	now := time.Now()
	sess := &Session{ID: id, Resource: resource, CreatedAt: now, LastActivity: now}

	r.mu.Lock()
	delete(r.pending, id)
	r.sessions[id] = sess
	if recovered != nil {
		delete(r.tombstones, id)
	}
	active := len(r.sessions)
	r.mu.Unlock()
	close(done)

	r.metrics.SessionsActive.Set(float64(active))
	r.metrics.SessionsAdmitted.Inc()
	if recovered != nil {
		r.metrics.SessionsRecovered.Inc()
		r.record(ctx, audit.NewEvent(audit.ActionSessionRecovered).
			WithSession(id).
			WithDetail("previous "+recovered.Reason.Describe()))
		r.logger.Info("session: recovered expired session",
			"session_id", id,
			"expired_reason", string(recovered.Reason),
			"expired_at", recovered.ExpiredAt,
			"active", active)
	} else {
		r.record(ctx, audit.NewEvent(audit.ActionSessionAdmitted).WithSession(id))
		r.logger.Info("session: admitted",
			"session_id", id,
			"active", active,
			"limit", r.config.MaxSessions)
	}
	return sess, outcome, nil
}

// Disconnect ends an active session, closes its resource and leaves a
// tombstone so a late request under the same id recovers instead of
// failing as unknown.
func (r *Registry) Disconnect(ctx context.Context, id string) error {
	r.mu.Lock()
	sess, ok := r.sessions[id]
	if !ok {
		r.mu.Unlock()
		return ErrSessionNotFound
	}
	delete(r.sessions, id)
	r.tombstones[id] = &Tombstone{ID: id, ExpiredAt: time.Now(), Reason: ReasonDisconnect}
	active := len(r.sessions)
	r.mu.Unlock()

	r.closeResource(sess)
	r.metrics.SessionsActive.Set(float64(active))
	r.metrics.SessionsEvicted.WithLabelValues(string(ReasonDisconnect)).Inc()
	r.record(ctx, audit.NewEvent(audit.ActionSessionEvicted).
		WithSession(id).
		WithDetail(ReasonDisconnect.Describe()))
	r.logger.Info("session: disconnected", "session_id", id, "active", active)
	return nil
}

// List returns a snapshot of active sessions, oldest first.
func (r *Registry) List() []Info {
	r.mu.RLock()
	infos := make([]Info, 0, len(r.sessions))
	for _, sess := range r.sessions {
		infos = append(infos, Info{
			ID:           sess.ID,
			CreatedAt:    sess.CreatedAt,
			LastActivity: sess.LastActivity,
		})
	}
	r.mu.RUnlock()

	sort.Slice(infos, func(i, j int) bool {
		if infos[i].CreatedAt.Equal(infos[j].CreatedAt) {
			return infos[i].ID < infos[j].ID
		}
		return infos[i].CreatedAt.Before(infos[j].CreatedAt)
	})
	return infos
}

// Stats returns current registry occupancy.
func (r *Registry) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return Stats{
		Active:     len(r.sessions),
		Pending:    len(r.pending),
		Tombstones: len(r.tombstones),
		Limit:      r.config.MaxSessions,
	}
}

// Close tears down every active session. The registry must not be used
// afterwards.
func (r *Registry) Close() {
	r.mu.Lock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, sess := range r.sessions {
		sessions = append(sessions, sess)
	}
	r.sessions = make(map[string]*Session)
	r.tombstones = make(map[string]*Tombstone)
	r.mu.Unlock()

	for _, sess := range sessions {
		r.closeResource(sess)
	}
	r.metrics.SessionsActive.Set(0)
	if len(sessions) > 0 {
		r.logger.Info("session: registry closed", "closed", len(sessions))
	}
}

// evictIdle removes sessions whose last activity is older than the idle
// timeout and tombstones them. Returns the number evicted.
func (r *Registry) evictIdle(ctx context.Context, now time.Time) int {
	r.mu.Lock()
	var evicted []*Session
	for id, sess := range r.sessions {
		if now.Sub(sess.LastActivity) > r.config.IdleTimeout {
			delete(r.sessions, id)
			r.tombstones[id] = &Tombstone{ID: id, ExpiredAt: now, Reason: ReasonIdleTimeout}
			evicted = append(evicted, sess)
		}
	}
	active := len(r.sessions)
	r.mu.Unlock()

	for _, sess := range evicted {
		idle := now.Sub(sess.LastActivity)
		r.closeResource(sess)
		r.metrics.SessionsEvicted.WithLabelValues(string(ReasonIdleTimeout)).Inc()
		r.record(ctx, audit.NewEvent(audit.ActionSessionEvicted).
			WithSession(sess.ID).
			WithDetail(fmt.Sprintf("idle for %s, timeout %s", idle.Round(time.Second), r.config.IdleTimeout)))
		r.logger.Info("session: evicted idle session",
			"session_id", sess.ID,
			"idle", idle.Round(time.Second).String(),
			"timeout", r.config.IdleTimeout.String())
	}
	if len(evicted) > 0 {
		r.metrics.SessionsActive.Set(float64(active))
	}
	return len(evicted)
}

// evictOverMemory probes each active session's browser heap usage and
// evicts those over the configured limit. A failed probe means usage is
// unknown, and unknown usage never evicts. Probes run outside the registry
// lock; a session that disappeared between snapshot and decision is left
// alone.
func (r *Registry) evictOverMemory(ctx context.Context, now time.Time) int {
	limit := r.config.MemoryLimitBytes
	if limit <= 0 {
		return 0
	}

	r.mu.RLock()
	snapshot := make([]*Session, 0, len(r.sessions))
	for _, sess := range r.sessions {
		snapshot = append(snapshot, sess)
	}
	r.mu.RUnlock()

	evicted := 0
	for _, sess := range snapshot {
		usage, err := sess.Resource.MemoryBytes(ctx)
		if err != nil {
			r.logger.Debug("session: memory probe failed", "session_id", sess.ID, "error", err)
			continue
		}
		if usage <= limit {
			continue
		}

		r.mu.Lock()
		current, ok := r.sessions[sess.ID]
		if !ok || current != sess {
			r.mu.Unlock()
			continue
		}
		delete(r.sessions, sess.ID)
		r.tombstones[sess.ID] = &Tombstone{ID: sess.ID, ExpiredAt: now, Reason: ReasonMemoryLimit}
		active := len(r.sessions)
		r.mu.Unlock()

		r.closeResource(sess)
		r.metrics.SessionsActive.Set(float64(active))
		r.metrics.SessionsEvicted.WithLabelValues(string(ReasonMemoryLimit)).Inc()
		r.record(ctx, audit.NewEvent(audit.ActionSessionEvicted).
			WithSession(sess.ID).
			WithDetail(fmt.Sprintf("heap %d bytes over limit %d", usage, limit)))
		r.logger.Warn("session: evicted over-memory session",
			"session_id", sess.ID,
			"heap_bytes", usage,
			"limit_bytes", limit)
		evicted++
	}
	return evicted
}

// purgeTombstones drops tombstones older than the retention TTL. Returns
// the number purged.
func (r *Registry) purgeTombstones(now time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	purged := 0
	for id, ts := range r.tombstones {
		if now.Sub(ts.ExpiredAt) > r.config.TombstoneTTL {
			delete(r.tombstones, id)
			purged++
		}
	}
	return purged
}

// closeResource tears down a browser resource with a bounded timeout.
// Teardown failures are logged and swallowed: the session is already gone
// from the registry and a wedged browser must not block governance.
func (r *Registry) closeResource(sess *Session) {
	ctx, cancel := context.WithTimeout(context.Background(), r.config.CloseTimeout)
	defer cancel()
	if err := sess.Resource.Close(ctx); err != nil {
		r.logger.Warn("session: resource close failed", "session_id", sess.ID, "error", err)
	}
}

func (r *Registry) record(ctx context.Context, event *audit.Event) {
	if r.recorder == nil {
		return
	}
	if err := r.recorder.Record(ctx, *event); err != nil {
		r.logger.Debug("session: audit record failed", "action", string(event.Action), "error", err)
	}
}
