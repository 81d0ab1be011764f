// Package health tracks whether the server should receive traffic and
// serves the liveness and readiness probes.
package health

import (
	"encoding/json"
	"net/http"
	"sync/atomic"
)

// Lifecycle states. A checker starts in starting, moves to ready once
// the browser driver and its dependencies are up, and to draining when
// shutdown begins. Draining is terminal.
const (
	stateStarting int32 = iota
	stateReady
	stateDraining
)

// Checker reports whether the server is accepting new work. It is safe
// for concurrent use.
type Checker struct {
	state atomic.Int32
}

// NewChecker creates a Checker in the starting state.
func NewChecker() *Checker {
	return &Checker{}
}

// MarkReady records that startup finished and sessions may be admitted.
// It has no effect once draining began, so a slow startup step cannot
// resurrect readiness on an instance that is already shutting down.
func (c *Checker) MarkReady() {
	c.state.CompareAndSwap(stateStarting, stateReady)
}

// MarkDraining records that shutdown began. Readiness fails from here on
// so load balancers stop routing new sessions to this instance while
// in-flight requests finish.
func (c *Checker) MarkDraining() {
	c.state.Store(stateDraining)
}

// Ready reports whether the server is accepting new work.
func (c *Checker) Ready() bool {
	return c.state.Load() == stateReady
}

// State returns the current state name.
func (c *Checker) State() string {
	switch c.state.Load() {
	case stateReady:
		return "ready"
	case stateDraining:
		return "draining"
	default:
		return "starting"
	}
}

// statusBody is the JSON body returned by the probe endpoints.
type statusBody struct {
	Status string `json:"status"`
}

// HandleLiveness responds 200 as long as the process serves HTTP at all.
// Wire it to the liveness probe (/healthz).
func (*Checker) HandleLiveness(w http.ResponseWriter, _ *http.Request) {
	writeStatus(w, http.StatusOK, "ok")
}

// HandleReadiness responds 200 only in the ready state: 503 while the
// browser driver is still starting and 503 again once draining begins.
// Wire it to the readiness probe (/readyz).
func (c *Checker) HandleReadiness(w http.ResponseWriter, _ *http.Request) {
	if c.Ready() {
		writeStatus(w, http.StatusOK, c.State())
		return
	}
	writeStatus(w, http.StatusServiceUnavailable, c.State())
}

func writeStatus(w http.ResponseWriter, code int, status string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(statusBody{Status: status})
}
