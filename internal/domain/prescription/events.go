package prescription

import (
	"time"

	"github.com/google/uuid"
)

// EventType represents the type of lifecycle audit event.
type EventType string

const (
	EventCreated      EventType = "PrescriptionCreated"
	EventActivated    EventType = "PrescriptionActivated"
	EventExpired      EventType = "PrescriptionExpired"
	EventDiscontinued EventType = "PrescriptionDiscontinued"
	EventSuperseded   EventType = "PrescriptionSuperseded"
)

// Event is the who/when/why record attached to every lifecycle
// transition. No transition leaves the audit trail without one.
type Event struct {
	ID             string    `json:"id"`
	PrescriptionID string    `json:"prescription_id"`
	EventType      EventType `json:"event_type"`
	Actor          string    `json:"actor"`
	Reason         string    `json:"reason"`
	Version        int       `json:"version"`
	Timestamp      time.Time `json:"timestamp"`
}

func newEvent(prescriptionID string, t EventType, actor, reason string, version int, now time.Time) *Event {
	return &Event{
		ID:             uuid.New().String(),
		PrescriptionID: prescriptionID,
		EventType:      t,
		Actor:          actor,
		Reason:         reason,
		Version:        version,
		Timestamp:      now,
	}
}
