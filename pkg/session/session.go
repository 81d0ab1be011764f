// Package session implements the session registry for browser resources:
// admission against a capacity ceiling, activity tracking, tombstones for
// recently ended sessions with transparent recovery, and the background
// reaper that evicts idle or over-memory sessions.
package session

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/surfboard-io/surfboard/pkg/browser"
)

const (
	// sessionIDBytes is the number of random bytes for session ID generation.
	sessionIDBytes = 16
)

// ErrSessionNotFound is returned when an operation references a session id
// that is neither active nor tombstoned.
var ErrSessionNotFound = errors.New("session not found")

// Session is one caller's isolated automation context. ID, Resource and
// CreatedAt are immutable after creation; LastActivity is written only by
// the Registry under its lock.
type Session struct {
	// ID is the unique session identifier, caller-supplied or generated.
	ID string

	// Resource is the exclusively owned browser resource handle.
	Resource browser.Resource

	// CreatedAt is when the session was admitted.
	CreatedAt time.Time

	// LastActivity is the most recent resolution timestamp.
	LastActivity time.Time
}

// Reason identifies why a session ended. It is a closed enumeration so
// tombstone handling stays exhaustively testable.
type Reason string

const (
	// ReasonIdleTimeout means the session exceeded the idle timeout.
	ReasonIdleTimeout Reason = "idle_timeout"

	// ReasonMemoryLimit means the session exceeded the memory limit.
	ReasonMemoryLimit Reason = "memory_limit"

	// ReasonDisconnect means the caller or an operator ended the session.
	ReasonDisconnect Reason = "disconnect"
)

// Describe returns the human-readable explanation for the reason.
func (r Reason) Describe() string {
	switch r {
	case ReasonIdleTimeout:
		return "session was idle longer than the idle timeout"
	case ReasonMemoryLimit:
		return "session exceeded the per-session memory limit"
	case ReasonDisconnect:
		return "session was explicitly disconnected"
	default:
		return "session ended"
	}
}

// Tombstone records a recently ended session so late requests can be told
// apart from unknown ids and transparently recovered.
type Tombstone struct {
	// ID is the ended session's identifier.
	ID string

	// ExpiredAt is when the session ended.
	ExpiredAt time.Time

	// Reason is why the session ended.
	Reason Reason
}

// Outcome describes how Resolve satisfied a request.
type Outcome int

const (
	// OutcomeReused means an active session was returned.
	OutcomeReused Outcome = iota

	// OutcomeCreated means a brand-new session was admitted.
	OutcomeCreated

	// OutcomeRecovered means a tombstoned id was re-created.
	OutcomeRecovered
)

// String returns the outcome name for logs.
func (o Outcome) String() string {
	switch o {
	case OutcomeReused:
		return "reused"
	case OutcomeCreated:
		return "created"
	case OutcomeRecovered:
		return "recovered"
	default:
		return "unknown"
	}
}

// CapacityError reports an admission denied by the concurrent session
// ceiling. The message names the ceiling and the idle timeout so callers
// know when slots free up on their own.
type CapacityError struct {
	// Limit is the capacity ceiling that was hit.
	Limit int

	// IdleTimeout is how long sessions may idle before being reclaimed.
	IdleTimeout time.Duration
}

// Error implements the error interface.
func (e *CapacityError) Error() string {
	return fmt.Sprintf(
		"server at capacity: %d concurrent sessions active; sessions idle longer than %s are reclaimed automatically, so retry shortly or disconnect an existing session",
		e.Limit, e.IdleTimeout,
	)
}

// Info is a point-in-time copy of a session's metadata for listings.
type Info struct {
	ID           string    `json:"id"`
	CreatedAt    time.Time `json:"created_at"`
	LastActivity time.Time `json:"last_activity"`
}

// Stats is a point-in-time snapshot of registry occupancy.
type Stats struct {
	// Active is the number of live sessions.
	Active int `json:"active"`

	// Pending is the number of in-flight resource creations holding a
	// reserved capacity slot.
	Pending int `json:"pending"`

	// Tombstones is the number of retained expired records.
	Tombstones int `json:"tombstones"`

	// Limit is the capacity ceiling.
	Limit int `json:"limit"`
}

// generateSessionID creates a cryptographically random session ID.
func generateSessionID() (string, error) {
	b := make([]byte, sessionIDBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generating random bytes: %w", err)
	}
	return hex.EncodeToString(b), nil
}
