package schedule

import (
	"context"
	"errors"
	"time"
)

// SlotStatus is the lifecycle state of an administration slot.
type SlotStatus string

const (
	StatusPending      SlotStatus = "pending"
	StatusDue          SlotStatus = "due"
	StatusAdministered SlotStatus = "administered"
	StatusRefused      SlotStatus = "refused"
	StatusMissed       SlotStatus = "missed"
	StatusBlocked      SlotStatus = "blocked"
	// StatusCancelled marks slots superseded by a prescription change or
	// discontinuation. Slots are never deleted.
	StatusCancelled SlotStatus = "cancelled"
)

// Resolved reports whether the slot has reached a terminal state.
func (s SlotStatus) Resolved() bool {
	switch s {
	case StatusAdministered, StatusRefused, StatusMissed, StatusBlocked, StatusCancelled:
		return true
	}
	return false
}

// Slot is one concrete scheduled opportunity to administer a dose.
// Exactly one slot exists per scheduled timestamp per prescription.
type Slot struct {
	ID             string     `json:"id"`
	PrescriptionID string     `json:"prescription_id"`
	ScheduledAt    time.Time  `json:"scheduled_at"`
	Status         SlotStatus `json:"status"`
	ResolvedAt     *time.Time `json:"resolved_at,omitempty"`
	ResolvedBy     string     `json:"resolved_by,omitempty"`
	Note           string     `json:"note,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

// ErrSlotNotFound is returned by stores when a slot id is unknown.
var ErrSlotNotFound = errors.New("slot not found")

// ErrDuplicateSlot signals a second slot for the same prescription and
// timestamp, an internal invariant violation.
var ErrDuplicateSlot = errors.New("duplicate slot for scheduled timestamp")

// Store is the slot table. Implementations must serialize writes per
// prescription; the engine holds the per-prescription lock around calls.
type Store interface {
	Insert(ctx context.Context, slots ...*Slot) error
	Get(ctx context.Context, id string) (*Slot, error)
	ByPrescription(ctx context.Context, prescriptionID string) ([]*Slot, error)
	Update(ctx context.Context, slot *Slot) error
}
