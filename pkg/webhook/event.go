// Package webhook delivers configuration change events to registered
// subscribers over HTTP, with HMAC signing, per-subscriber retry and
// cumulative delivery statistics. Delivery is decoupled from the write
// path: a failed delivery never rolls back or delays a write.
package webhook

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Event types emitted for committed configuration writes.
const (
	EventCreated    = "config.created"
	EventUpdated    = "config.updated"
	EventRolledBack = "config.rolled_back"
)

// AllEventTypes lists every event type a subscriber can opt into.
var AllEventTypes = []string{EventCreated, EventUpdated, EventRolledBack}

// EventConfig carries the configuration fields embedded in an Event.
// PreviousVersion is the replaced version for updates and the rollback
// target for rollbacks.
type EventConfig struct {
	ConfigID        string
	Version         int
	PreviousVersion *int
	AppName         string
	Environment     string
	UpdatedBy       string
	ChangeNotes     string
	Settings        json.RawMessage
}

// Event is the wire payload delivered to subscribers. Struct field
// order fixes the serialized byte layout, which the HMAC signature is
// computed over.
type Event struct {
	EventType       string          `json:"event_type"`
	EventID         string          `json:"event_id"`
	Timestamp       string          `json:"timestamp"`
	ConfigID        string          `json:"config_id"`
	Version         int             `json:"version"`
	PreviousVersion *int            `json:"previous_version,omitempty"`
	AppName         string          `json:"app_name,omitempty"`
	Environment     string          `json:"environment,omitempty"`
	UpdatedBy       string          `json:"updated_by,omitempty"`
	ChangeNotes     string          `json:"change_notes,omitempty"`
	Settings        json.RawMessage `json:"settings,omitempty"`
	Metadata        map[string]any  `json:"metadata,omitempty"`
}

// NewEvent builds an Event with a fresh unique ID and a UTC timestamp.
func NewEvent(eventType string, cfg EventConfig) Event {
	return Event{
		EventType:       eventType,
		EventID:         uuid.NewString(),
		Timestamp:       time.Now().UTC().Format(time.RFC3339),
		ConfigID:        cfg.ConfigID,
		Version:         cfg.Version,
		PreviousVersion: cfg.PreviousVersion,
		AppName:         cfg.AppName,
		Environment:     cfg.Environment,
		UpdatedBy:       cfg.UpdatedBy,
		ChangeNotes:     cfg.ChangeNotes,
		Settings:        cfg.Settings,
	}
}

// Payload serializes the event to the bytes that are signed and posted.
func (e Event) Payload() ([]byte, error) {
	return json.Marshal(e)
}
