// Package audit records governance events: session admissions and
// recoveries, evictions, capacity and rate-limit rejections, and
// authentication failures. It defines the Recorder interface for event
// persistence and the Event type shared by all recorders.
package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Action categorizes governance events.
type Action string

const (
	// ActionSessionAdmitted is a successful new-session admission.
	ActionSessionAdmitted Action = "session_admitted"

	// ActionSessionRecovered is an admission that revived a tombstoned id.
	ActionSessionRecovered Action = "session_recovered"

	// ActionSessionEvicted is a session removal; Detail carries the reason.
	ActionSessionEvicted Action = "session_evicted"

	// ActionCapacityRejected is an admission denied by the session ceiling.
	ActionCapacityRejected Action = "capacity_rejected"

	// ActionRateLimited is a request refused by the rate limiter.
	ActionRateLimited Action = "rate_limited"

	// ActionAuthFailed is a request refused by the auth validator.
	ActionAuthFailed Action = "auth_failed"

	// ActionResourceFailed is a browser resource creation that failed.
	ActionResourceFailed Action = "resource_failed"

	// ActionToolCalled is one automation tool invocation; Detail carries
	// the failure message when the call did not succeed.
	ActionToolCalled Action = "tool_called"
)

// Event represents one auditable governance event.
type Event struct {
	ID         string    `json:"id"`
	Timestamp  time.Time `json:"timestamp"`
	Action     Action    `json:"action"`
	RequestID  string    `json:"request_id,omitempty"`
	SessionID  string    `json:"session_id,omitempty"`
	Identity   string    `json:"identity,omitempty"`
	ToolName   string    `json:"tool_name,omitempty"`
	RemoteAddr string    `json:"remote_addr,omitempty"`
	Detail     string    `json:"detail,omitempty"`
	DurationMS int64     `json:"duration_ms,omitempty"`
}

// NewEvent creates an event with a fresh id and the current time.
func NewEvent(action Action) *Event {
	return &Event{
		ID:        uuid.NewString(),
		Timestamp: time.Now(),
		Action:    action,
	}
}

// WithSession adds the session id to the event.
func (e *Event) WithSession(sessionID string) *Event {
	e.SessionID = sessionID
	return e
}

// WithIdentity adds the authenticated principal to the event.
func (e *Event) WithIdentity(identity string) *Event {
	e.Identity = identity
	return e
}

// WithRequest adds request correlation information to the event.
func (e *Event) WithRequest(requestID, remoteAddr string) *Event {
	e.RequestID = requestID
	e.RemoteAddr = remoteAddr
	return e
}

// WithTool adds the invoked tool name to the event.
func (e *Event) WithTool(name string) *Event {
	e.ToolName = name
	return e
}

// WithDetail adds human-readable specifics to the event, such as an
// eviction reason or an error message.
func (e *Event) WithDetail(detail string) *Event {
	e.Detail = detail
	return e
}

// WithDuration adds the observed duration to the event.
func (e *Event) WithDuration(d time.Duration) *Event {
	e.DurationMS = d.Milliseconds()
	return e
}

// QueryFilter defines criteria for querying recorded events.
type QueryFilter struct {
	ID        string
	StartTime *time.Time
	EndTime   *time.Time
	SessionID string
	Action    Action
	Limit     int
	Offset    int
}

// Recorder defines the interface for governance event persistence.
type Recorder interface {
	// Record persists an event. Recording failures must not fail the
	// request that produced the event.
	Record(ctx context.Context, event Event) error

	// Query retrieves events matching the filter, newest first.
	Query(ctx context.Context, filter QueryFilter) ([]Event, error)

	// Close releases resources.
	Close() error
}

// Config configures event recording.
type Config struct {
	// Buffer is the number of recent events the in-memory recorder keeps
	// for the operations API.
	Buffer int `yaml:"buffer"`

	// PostgresDSN enables the Postgres recorder when non-empty.
	PostgresDSN string `yaml:"postgres_dsn"`

	// RetentionDays bounds how long the Postgres recorder keeps events.
	RetentionDays int `yaml:"retention_days"`
}
