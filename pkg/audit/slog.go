package audit

import (
	"context"
	"log/slog"
	"sync"
)

// DefaultBuffer is the ring size used when Config.Buffer is unset.
const DefaultBuffer = 256

// SlogRecorder writes events to structured logs and keeps the most recent
// ones in a bounded ring so the operations API can list them without a
// database. It is the default recorder.
type SlogRecorder struct {
	logger *slog.Logger

	mu    sync.Mutex
	ring  []Event
	next  int
	count int
}

// NewSlogRecorder creates a recorder retaining up to buffer events.
func NewSlogRecorder(logger *slog.Logger, buffer int) *SlogRecorder {
	if logger == nil {
		logger = slog.Default()
	}
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &SlogRecorder{
		logger: logger,
		ring:   make([]Event, buffer),
	}
}

// Record logs the event and stores it in the ring, overwriting the oldest
// entry once the ring is full.
func (r *SlogRecorder) Record(_ context.Context, event Event) error {
	r.logger.Info("audit: "+string(event.Action),
		"event_id", event.ID,
		"session_id", event.SessionID,
		"identity", event.Identity,
		"tool", event.ToolName,
		"remote_addr", event.RemoteAddr,
		"detail", event.Detail,
	)

	r.mu.Lock()
	defer r.mu.Unlock()

	r.ring[r.next] = event
	r.next = (r.next + 1) % len(r.ring)
	if r.count < len(r.ring) {
		r.count++
	}
	return nil
}

// Query returns retained events matching the filter, newest first.
func (r *SlogRecorder) Query(_ context.Context, filter QueryFilter) ([]Event, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	size := len(r.ring)
	matched := make([]Event, 0, r.count)
	for i := range r.count {
		event := r.ring[(r.next-1-i+size*2)%size]
		if !matches(event, filter) {
			continue
		}
		matched = append(matched, event)
	}

	if filter.Offset > 0 {
		if filter.Offset >= len(matched) {
			return []Event{}, nil
		}
		matched = matched[filter.Offset:]
	}
	if filter.Limit > 0 && len(matched) > filter.Limit {
		matched = matched[:filter.Limit]
	}
	return matched, nil
}

// Close is a no-op; the recorder holds no external resources.
func (r *SlogRecorder) Close() error {
	return nil
}

func matches(event Event, filter QueryFilter) bool {
	if filter.ID != "" && event.ID != filter.ID {
		return false
	}
	if filter.SessionID != "" && event.SessionID != filter.SessionID {
		return false
	}
	if filter.Action != "" && event.Action != filter.Action {
		return false
	}
	if filter.StartTime != nil && event.Timestamp.Before(*filter.StartTime) {
		return false
	}
	if filter.EndTime != nil && event.Timestamp.After(*filter.EndTime) {
		return false
	}
	return true
}

// Verify interface compliance.
var _ Recorder = (*SlogRecorder)(nil)
