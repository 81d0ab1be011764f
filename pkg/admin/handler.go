// Package admin provides the operator REST API: active session listings,
// explicit disconnects, a capacity snapshot, and the recent governance
// event feed.
package admin

import (
	"encoding/json"
	"net/http"

	"github.com/surfboard-io/surfboard/pkg/audit"
	"github.com/surfboard-io/surfboard/pkg/health"
	"github.com/surfboard-io/surfboard/pkg/session"
)

const pathParamID = "id"

// Handler serves the operations API.
type Handler struct {
	mux        *http.ServeMux
	registry   *session.Registry
	recorder   audit.Recorder
	checker    *health.Checker
	authMiddle func(http.Handler) http.Handler
}

// NewHandler creates the operations API handler. authMiddle guards every
// route when non-nil; pass nil only in open-access deployments.
func NewHandler(registry *session.Registry, recorder audit.Recorder, checker *health.Checker, authMiddle func(http.Handler) http.Handler) *Handler {
	h := &Handler{
		mux:        http.NewServeMux(),
		registry:   registry,
		recorder:   recorder,
		checker:    checker,
		authMiddle: authMiddle,
	}
	h.registerRoutes()
	return h
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.authMiddle != nil {
		h.authMiddle(h.mux).ServeHTTP(w, r)
		return
	}
	h.mux.ServeHTTP(w, r)
}

// registerRoutes registers all operations API routes.
func (h *Handler) registerRoutes() {
	if h.registry != nil {
		h.mux.HandleFunc("GET /api/v1/sessions", h.ListSessions)
		h.mux.HandleFunc("DELETE /api/v1/sessions/{id}", h.DisconnectSession)
		h.mux.HandleFunc("GET /api/v1/status", h.GetStatus)
	}
	if h.recorder != nil {
		h.mux.HandleFunc("GET /api/v1/events", h.ListEvents)
	}
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
