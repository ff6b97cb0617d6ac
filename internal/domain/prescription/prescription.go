// Package prescription implements the prescription lifecycle state
// machine and its audit events.
package prescription

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/carebridge/medsafe/internal/domain/schedule"
)

// Status represents prescription status.
type Status string

const (
	StatusDraft        Status = "draft"
	StatusActive       Status = "active"
	StatusExpired      Status = "expired"
	StatusDiscontinued Status = "discontinued"
	StatusSuperseded   Status = "superseded"
)

// Terminal reports whether the status admits no further transitions.
func (s Status) Terminal() bool {
	return s == StatusExpired || s == StatusDiscontinued || s == StatusSuperseded
}

// Prescription is the administration-scheduling view of a prescription.
// Version increments on every mutation for optimistic concurrency.
type Prescription struct {
	ID           string             `json:"id"`
	ResidentID   string             `json:"resident_id"`
	MedicationID string             `json:"medication_id"`
	Dosage       string             `json:"dosage"`
	Route        string             `json:"route"`
	Frequency    schedule.Frequency `json:"frequency"`
	Start        time.Time          `json:"start"`
	End          time.Time          `json:"end"`
	PrescriberID string             `json:"prescriber_id"`
	// StockItemID links a controlled-drug prescription to its custody
	// ledger stock item. Empty for non-controlled drugs.
	StockItemID string `json:"stock_item_id,omitempty"`
	// DoseUnits is the ledger delta per administration for controlled
	// drugs, in the stock item's unit.
	DoseUnits int64 `json:"dose_units,omitempty"`

	Status       Status `json:"status"`
	Version      int    `json:"version"`
	PreviousID   string `json:"previous_id,omitempty"`
	SupersededBy string `json:"superseded_by,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	CreatedBy string    `json:"created_by"`
	UpdatedAt time.Time `json:"updated_at"`
	UpdatedBy string    `json:"updated_by"`

	changes []*Event
}

// CreateParams carries the caller-supplied fields of a new prescription.
type CreateParams struct {
	ResidentID   string
	MedicationID string
	Dosage       string
	Route        string
	Frequency    schedule.Frequency
	Start        time.Time
	End          time.Time
	PrescriberID string
	StockItemID  string
	DoseUnits    int64
	Actor        string
}

// New creates a prescription in Draft. End, once set, must be on or
// after Start.
func New(id string, p CreateParams, now time.Time) (*Prescription, error) {
	if p.ResidentID == "" || p.MedicationID == "" || p.PrescriberID == "" {
		return nil, errors.New("resident, medication and prescriber are required")
	}
	if !p.End.IsZero() && p.End.Before(p.Start) {
		return nil, errors.New("end date precedes start date")
	}

	rx := &Prescription{
		ID:           id,
		ResidentID:   p.ResidentID,
		MedicationID: p.MedicationID,
		Dosage:       p.Dosage,
		Route:        p.Route,
		Frequency:    p.Frequency,
		Start:        p.Start,
		End:          p.End,
		PrescriberID: p.PrescriberID,
		StockItemID:  p.StockItemID,
		DoseUnits:    p.DoseUnits,
		Status:       StatusDraft,
		CreatedAt:    now,
		CreatedBy:    p.Actor,
		UpdatedAt:    now,
		UpdatedBy:    p.Actor,
	}
	rx.record(EventCreated, p.Actor, "prescription created", now)
	return rx, nil
}

// Activate moves Draft to Active. Precondition checks (identifier
// validation, screening, frequency) belong to the caller; the state
// machine only guards the transition itself.
func (p *Prescription) Activate(actor string, now time.Time) error {
	if p.Status != StatusDraft {
		return fmt.Errorf("cannot activate prescription in status %q", p.Status)
	}
	p.Status = StatusActive
	p.touch(actor, now)
	p.record(EventActivated, actor, "prescription activated", now)
	return nil
}

// ExpireIfDue moves Active to Expired when now is past the end date.
// Idempotent: repeated evaluation has no further effect.
func (p *Prescription) ExpireIfDue(now time.Time) bool {
	if p.Status != StatusActive || p.End.IsZero() || now.Before(p.End) {
		return false
	}
	p.Status = StatusExpired
	p.touch("system", now)
	p.record(EventExpired, "system", "end date passed", now)
	return true
}

// Discontinue moves Active to Discontinued. A reason is mandatory.
func (p *Prescription) Discontinue(actor, reason string, now time.Time) error {
	if reason == "" {
		return errors.New("discontinuation reason is required")
	}
	if p.Status != StatusActive {
		return fmt.Errorf("cannot discontinue prescription in status %q", p.Status)
	}
	p.Status = StatusDiscontinued
	p.touch(actor, now)
	p.record(EventDiscontinued, actor, reason, now)
	return nil
}

// MarkSuperseded moves Active to Superseded, pointing at the new
// prescription version that replaces it.
func (p *Prescription) MarkSuperseded(actor, newID string, now time.Time) error {
	if p.Status != StatusActive {
		return fmt.Errorf("cannot supersede prescription in status %q", p.Status)
	}
	p.Status = StatusSuperseded
	p.SupersededBy = newID
	p.touch(actor, now)
	p.record(EventSuperseded, actor, "superseded by "+newID, now)
	return nil
}

func (p *Prescription) touch(actor string, now time.Time) {
	p.Version++
	p.UpdatedAt = now
	p.UpdatedBy = actor
}

func (p *Prescription) record(t EventType, actor, reason string, now time.Time) {
	p.changes = append(p.changes, newEvent(p.ID, t, actor, reason, p.Version, now))
}

// Changes returns uncommitted audit events.
func (p *Prescription) Changes() []*Event { return p.changes }

// ClearChanges clears uncommitted audit events.
func (p *Prescription) ClearChanges() { p.changes = nil }

// ErrNotFound is returned by stores for unknown prescription ids.
var ErrNotFound = errors.New("prescription not found")

// ErrVersionConflict signals an optimistic-concurrency mismatch.
var ErrVersionConflict = errors.New("prescription version conflict")

// Store is the prescription table. Update enforces compare-and-swap on
// the version the caller read.
type Store interface {
	Insert(ctx context.Context, p *Prescription) error
	Get(ctx context.Context, id string) (*Prescription, error)
	// Update persists p only if the stored version still equals
	// readVersion; otherwise it returns ErrVersionConflict.
	Update(ctx context.Context, p *Prescription, readVersion int) error
	ActiveByResident(ctx context.Context, residentID string) ([]*Prescription, error)
	Active(ctx context.Context) ([]*Prescription, error)
}
