// Package health provides readiness state tracking and HTTP health
// check handlers, including a detailed status endpoint that probes the
// backing database.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync/atomic"
	"time"
)

// pingTimeout bounds the database probe on the detailed endpoint.
const pingTimeout = 2 * time.Second

// State constants for the readiness state machine.
const (
	stateStarting int32 = iota
	stateReady
	stateDraining
)

// Pinger probes backing-store connectivity.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// Checker tracks the readiness state of the service.
// It is safe for concurrent use.
type Checker struct {
	state atomic.Int32
	db    Pinger
}

// NewChecker creates a Checker in the Starting state. db may be nil
// when no database is configured.
func NewChecker(db Pinger) *Checker {
	return &Checker{db: db}
}

// SetReady transitions to the Ready state.
func (c *Checker) SetReady() {
	c.state.Store(stateReady)
}

// SetDraining transitions to the Draining state.
func (c *Checker) SetDraining() {
	c.state.Store(stateDraining)
}

// IsReady returns true when the state is Ready.
func (c *Checker) IsReady() bool {
	return c.state.Load() == stateReady
}

// State returns the current state as a human-readable string.
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

// statusResponse is the JSON body returned by the detailed endpoint.
type statusResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	Database  bool   `json:"database_accessible"`
	Error     string `json:"error,omitempty"`
}

// LivenessHandler returns an http.HandlerFunc that always responds 200 OK.
// Use this for K8s livenessProbe (/healthz).
func (*Checker) LivenessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

// ReadinessHandler returns an http.HandlerFunc that responds 200 when
// ready and 503 when starting or draining.
// Use this for K8s readinessProbe (/readyz).
func (c *Checker) ReadinessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		code := http.StatusOK
		if !c.IsReady() {
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, code, map[string]string{"status": c.State()})
	}
}

// StatusHandler returns the detailed health endpoint: overall status
// plus database connectivity.
func (c *Checker) StatusHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := statusResponse{
			Status:    "healthy",
			Timestamp: time.Now().UTC().Format(time.RFC3339),
			Database:  true,
		}

		if c.db != nil {
			ctx, cancel := context.WithTimeout(r.Context(), pingTimeout)
			defer cancel()
			if err := c.db.PingContext(ctx); err != nil {
				resp.Status = "unhealthy"
				resp.Database = false
				resp.Error = err.Error()
			}
		}
		if !c.IsReady() && resp.Status == "healthy" {
			resp.Status = c.State()
		}

		code := http.StatusOK
		if resp.Status == "unhealthy" {
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, code, resp)
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
