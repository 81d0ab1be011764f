// Package dispatch is the server's single external request path. Every
// inbound request passes the rate limiter, the auth validator and session
// resolution, in that order; each stage is terminal on failure and
// responds with a structured payload. Only requests that clear all three
// reach the protocol handler.
package dispatch

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"runtime/debug"
	"strings"

	"github.com/google/uuid"

	"github.com/surfboard-io/surfboard/pkg/audit"
	"github.com/surfboard-io/surfboard/pkg/auth"
	"github.com/surfboard-io/surfboard/pkg/metrics"
	"github.com/surfboard-io/surfboard/pkg/ratelimit"
	"github.com/surfboard-io/surfboard/pkg/session"
)

const (
	// SessionIDHeader is the MCP session correlation header. Callers echo
	// it back to reuse their session; absence means "assign me one".
	SessionIDHeader = "Mcp-Session-Id"

	// APIKeyHeader is the fallback credential header for clients that do
	// not send an Authorization header.
	APIKeyHeader = "X-API-Key"

	// bearerPrefixLen is the length of the "Bearer " prefix in
	// Authorization headers.
	bearerPrefixLen = 7
)

// Config configures a Dispatcher.
type Config struct {
	Limiter   *ratelimit.Limiter
	Validator *auth.Validator
	Registry  *session.Registry
	Recorder  audit.Recorder
	Metrics   *metrics.Metrics
	Logger    *slog.Logger
}

// Dispatcher applies the governance chain ahead of the wrapped protocol
// handler and manages the session correlation header.
type Dispatcher struct {
	inner     http.Handler
	limiter   *ratelimit.Limiter
	validator *auth.Validator
	registry  *session.Registry
	recorder  audit.Recorder
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

// NewDispatcher wraps inner with the governance chain.
func NewDispatcher(inner http.Handler, cfg Config) *Dispatcher {
	m := cfg.Metrics
	if m == nil {
		m = metrics.NewNop()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		inner:     inner,
		limiter:   cfg.Limiter,
		validator: cfg.Validator,
		registry:  cfg.Registry,
		recorder:  cfg.Recorder,
		metrics:   m,
		logger:    logger,
	}
}

// ServeHTTP runs one request through rate limiting, authentication and
// session resolution, then hands the resolved session to the inner
// handler. Handler results and errors are relayed untouched; a panicking
// handler becomes a structured error response instead of a crash.
func (d *Dispatcher) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	requestID := uuid.NewString()
	ctx := r.Context()

	decision := d.limiter.Check(d.rateKey(r))
	setRateLimitHeaders(w, decision)
	if !decision.Allowed {
		d.metrics.RateLimitRejections.Inc()
		d.record(r, audit.NewEvent(audit.ActionRateLimited).
			WithRequest(requestID, r.RemoteAddr).
			WithDetail(fmt.Sprintf("limit %d per %s", decision.Limit, decision.Window)))
		d.logger.Warn("dispatch: rate limited",
			"remote", r.RemoteAddr,
			"request_id", requestID,
			"limit", decision.Limit)
		writeRateLimited(w, decision)
		return
	}

	if d.validator.Enabled() {
		identity, err := d.validator.Validate(ctx, BearerToken(r), r.Header.Get(APIKeyHeader))
		if err != nil {
			d.metrics.AuthFailures.Inc()
			d.record(r, audit.NewEvent(audit.ActionAuthFailed).
				WithRequest(requestID, r.RemoteAddr).
				WithDetail(err.Error()))
			d.logger.Warn("dispatch: authentication failed",
				"remote", r.RemoteAddr,
				"request_id", requestID,
				"error", err)
			writeUnauthorized(w, d.validator, err)
			return
		}
		ctx = auth.WithIdentity(ctx, identity)
	}

	if r.Method == http.MethodDelete {
		d.handleDisconnect(w, r.WithContext(ctx))
		return
	}

	sess, outcome, err := d.registry.Resolve(ctx, r.Header.Get(SessionIDHeader))
	if err != nil {
		var capErr *session.CapacityError
		if errors.As(err, &capErr) {
			writeCapacity(w, capErr)
			return
		}
		d.logger.Error("dispatch: session resolution failed",
			"request_id", requestID,
			"error", err)
		writeError(w, http.StatusInternalServerError, errCodeResourceFailed,
			"could not start a browser session, try again shortly")
		return
	}
	if outcome == session.OutcomeRecovered {
		d.logger.Info("dispatch: session auto-recovered",
			"session_id", sess.ID,
			"request_id", requestID)
	}

	sw := &sessionIDWriter{ResponseWriter: w, sessionID: sess.ID}
	r = r.WithContext(session.WithSession(ctx, sess))
	r.Header.Set(SessionIDHeader, sess.ID)

	defer func() {
		if rec := recover(); rec != nil {
			d.logger.Error("dispatch: handler panic",
				"session_id", sess.ID,
				"request_id", requestID,
				"panic", rec,
				"stack", string(debug.Stack()))
			if !sw.headerWritten {
				writeError(sw, http.StatusInternalServerError, errCodeInternal,
					"internal server error")
			}
		}
	}()
	d.inner.ServeHTTP(sw, r)
}

// handleDisconnect ends the session named by the correlation header. The
// protocol handler runs stateless, so session teardown is owned here.
func (d *Dispatcher) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	id := r.Header.Get(SessionIDHeader)
	if id == "" {
		writeError(w, http.StatusBadRequest, errCodeBadRequest,
			SessionIDHeader+" header is required to end a session")
		return
	}
	if err := d.registry.Disconnect(r.Context(), id); err != nil {
		writeError(w, http.StatusNotFound, errCodeNotFound,
			"no active session with that id")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (d *Dispatcher) record(r *http.Request, event *audit.Event) {
	if d.recorder == nil {
		return
	}
	if err := d.recorder.Record(r.Context(), *event); err != nil {
		d.logger.Debug("dispatch: audit record failed", "error", err)
	}
}

// rateKey derives the rate limit key for a request: the session id when
// the request carries one, otherwise the remote host. A whitelisted host
// stays keyed by host even once it holds a session, so its exemption
// covers every request it sends.
func (d *Dispatcher) rateKey(r *http.Request) string {
	host := remoteHost(r)
	if d.limiter.Whitelisted(host) {
		return host
	}
	if id := r.Header.Get(SessionIDHeader); id != "" {
		return id
	}
	return host
}

// remoteHost is the request's remote address with the port stripped, so
// one caller keeps one budget across reconnects.
func remoteHost(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// BearerToken gets the bearer token from the Authorization header, or ""
// when the header is absent or carries another scheme.
func BearerToken(r *http.Request) string {
	authz := r.Header.Get("Authorization")
	if !strings.HasPrefix(authz, "Bearer ") {
		return ""
	}
	return authz[bearerPrefixLen:]
}

// sessionIDWriter wraps http.ResponseWriter to inject the session
// correlation header before the first write.
type sessionIDWriter struct {
	http.ResponseWriter
	sessionID     string
	headerWritten bool
}

// WriteHeader injects the session ID header before delegating to the
// wrapped writer.
func (w *sessionIDWriter) WriteHeader(statusCode int) {
	if !w.headerWritten {
		w.ResponseWriter.Header().Set(SessionIDHeader, w.sessionID)
		w.headerWritten = true
	}
	w.ResponseWriter.WriteHeader(statusCode)
}

func (w *sessionIDWriter) Write(b []byte) (int, error) {
	if !w.headerWritten {
		w.ResponseWriter.Header().Set(SessionIDHeader, w.sessionID)
		w.headerWritten = true
	}
	n, err := w.ResponseWriter.Write(b)
	if err != nil {
		return n, fmt.Errorf("writing response: %w", err)
	}
	return n, nil
}

// Flush implements http.Flusher for SSE streaming compatibility.
func (w *sessionIDWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (w *sessionIDWriter) Unwrap() http.ResponseWriter { return w.ResponseWriter }
