package admin

import (
	"net/http"
	"time"

	"github.com/surfboard-io/surfboard/pkg/session"
)

// sessionSummary is one active session in a listing, with ages derived
// at response time so operators can spot idle candidates directly.
type sessionSummary struct {
	session.Info
	AgeSeconds  int64 `json:"age_seconds"`
	IdleSeconds int64 `json:"idle_seconds"`
}

// sessionListResponse wraps the active session listing.
type sessionListResponse struct {
	Data  []sessionSummary `json:"data"`
	Count int              `json:"count"`
}

// statusResponse is the capacity and usage snapshot.
type statusResponse struct {
	State    string        `json:"state"`
	Sessions session.Stats `json:"sessions"`
}

// ListSessions handles GET /api/v1/sessions. Sessions are listed oldest
// first.
func (h *Handler) ListSessions(w http.ResponseWriter, r *http.Request) {
	now := time.Now()
	infos := h.registry.List()
	summaries := make([]sessionSummary, 0, len(infos))
	for _, info := range infos {
		summaries = append(summaries, sessionSummary{
			Info:        info,
			AgeSeconds:  int64(now.Sub(info.CreatedAt).Seconds()),
			IdleSeconds: int64(now.Sub(info.LastActivity).Seconds()),
		})
	}
	writeJSON(w, http.StatusOK, sessionListResponse{Data: summaries, Count: len(summaries)})
}

// DisconnectSession handles DELETE /api/v1/sessions/{id}. The session's
// browser resource is released and a tombstone recording the disconnect
// is retained, so a client still holding the id gets a fresh session on
// its next request.
func (h *Handler) DisconnectSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue(pathParamID)
	if err := h.registry.Disconnect(r.Context(), id); err != nil {
		writeError(w, http.StatusNotFound, "no active session with that id")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "disconnected", "id": id})
}

// GetStatus handles GET /api/v1/status.
func (h *Handler) GetStatus(w http.ResponseWriter, _ *http.Request) {
	resp := statusResponse{Sessions: h.registry.Stats()}
	if h.checker != nil {
		resp.State = h.checker.State()
	}
	writeJSON(w, http.StatusOK, resp)
}
