// Package medication defines the canonical drug catalogue and resident
// allergy records consumed by the safety screener.
package medication

import (
	"fmt"
	"time"
)

// FindingSeverity ranks clinical findings for decision purposes.
// Contraindicated is the only rank that blocks an administration by default.
type FindingSeverity int

const (
	SeverityInformational FindingSeverity = iota + 1
	SeverityModerate
	SeverityCaution
	SeverityContraindicated
)

// String returns the wire representation of the severity.
func (s FindingSeverity) String() string {
	switch s {
	case SeverityInformational:
		return "informational"
	case SeverityModerate:
		return "moderate"
	case SeverityCaution:
		return "caution"
	case SeverityContraindicated:
		return "contraindicated"
	default:
		return fmt.Sprintf("severity(%d)", int(s))
	}
}

// AllergySeverity is the severity recorded against a resident allergy.
type AllergySeverity string

const (
	AllergyMild            AllergySeverity = "mild"
	AllergyModerate        AllergySeverity = "moderate"
	AllergySevere          AllergySeverity = "severe"
	AllergyLifeThreatening AllergySeverity = "life-threatening"
)

// FindingSeverity maps an allergy severity onto the shared finding scale.
func (a AllergySeverity) FindingSeverity() FindingSeverity {
	switch a {
	case AllergyLifeThreatening:
		return SeverityContraindicated
	case AllergySevere:
		return SeverityCaution
	case AllergyModerate:
		return SeverityModerate
	default:
		return SeverityInformational
	}
}

// Record is a published drug definition. Records are immutable once
// published; a change is a new record with a bumped version.
type Record struct {
	ID                 string    `json:"id"`
	Name               string    `json:"name"`
	Ingredients        []string  `json:"ingredients"`
	TherapeuticClass   string    `json:"therapeutic_class"`
	ControlledSchedule int       `json:"controlled_schedule"` // 0 = not controlled, 1..5
	Version            int       `json:"version"`
	PublishedAt        time.Time `json:"published_at"`
	PublishedBy        string    `json:"published_by"`
}

// Controlled reports whether the drug is a controlled substance and so
// requires custody ledger entries on administration.
func (r *Record) Controlled() bool {
	return r.ControlledSchedule > 0
}

// Allergy is a resident allergy record. Read-only input to the screener.
type Allergy struct {
	ResidentID string          `json:"resident_id"`
	Allergen   string          `json:"allergen"`
	Reaction   string          `json:"reaction"`
	Severity   AllergySeverity `json:"severity"`
	RecordedAt time.Time       `json:"recorded_at"`
	RecordedBy string          `json:"recorded_by"`
}
