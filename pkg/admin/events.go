package admin

import (
	"net/http"
	"strconv"

	"github.com/surfboard-io/surfboard/pkg/audit"
)

// defaultEventLimit bounds an unfiltered event feed response.
const defaultEventLimit = 100

// eventListResponse wraps the governance event feed.
type eventListResponse struct {
	Data  []audit.Event `json:"data"`
	Count int           `json:"count"`
}

// ListEvents handles GET /api/v1/events. Events come back newest first,
// filterable by session_id and action, bounded by limit.
func (h *Handler) ListEvents(w http.ResponseWriter, r *http.Request) {
	events, err := h.recorder.Query(r.Context(), parseEventFilter(r))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if events == nil {
		events = []audit.Event{}
	}
	writeJSON(w, http.StatusOK, eventListResponse{Data: events, Count: len(events)})
}

// parseEventFilter builds a query filter from request parameters.
func parseEventFilter(r *http.Request) audit.QueryFilter {
	q := r.URL.Query()
	filter := audit.QueryFilter{
		SessionID: q.Get("session_id"),
		Action:    audit.Action(q.Get("action")),
		Limit:     defaultEventLimit,
	}
	if limit, err := strconv.Atoi(q.Get("limit")); err == nil && limit > 0 {
		filter.Limit = limit
	}
	return filter
}
