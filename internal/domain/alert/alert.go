// Package alert raises and escalates clinical alerts: missed doses,
// blocked administrations and custody discrepancies. Delivery channels
// are external; this package only exposes sinks and a query surface.
package alert

import (
	"context"
	"errors"
	"time"
)

// Severity orders alerts for escalation purposes.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// escalates reports whether unacknowledged alerts of this severity
// re-fire until acknowledged.
func (s Severity) escalates() bool {
	return s == SeverityHigh || s == SeverityCritical
}

// Source identifies the subsystem that raised an alert.
type Source string

const (
	SourceScheduler Source = "scheduler"
	SourceSafety    Source = "safety"
	SourceCustody   Source = "custody"
)

// Alert is an append-only record. Acknowledgement and resolution are
// separate, optional, independently timestamped transitions.
type Alert struct {
	ID             string     `json:"id"`
	Source         Source     `json:"source"`
	SubjectID      string     `json:"subject_id"`
	Severity       Severity   `json:"severity"`
	Message        string     `json:"message"`
	CreatedAt      time.Time  `json:"created_at"`
	AcknowledgedAt *time.Time `json:"acknowledged_at,omitempty"`
	AcknowledgedBy string     `json:"acknowledged_by,omitempty"`
	ResolvedAt     *time.Time `json:"resolved_at,omitempty"`
	ResolvedBy     string     `json:"resolved_by,omitempty"`
	FireCount      int        `json:"fire_count"`
	LastFiredAt    time.Time  `json:"last_fired_at"`
}

// Acknowledged reports whether the alert has been acknowledged.
func (a *Alert) Acknowledged() bool { return a.AcknowledgedAt != nil }

// ErrAlertNotFound is returned by stores for unknown alert ids.
var ErrAlertNotFound = errors.New("alert not found")

// Store is the alert table.
type Store interface {
	Insert(ctx context.Context, a *Alert) error
	Get(ctx context.Context, id string) (*Alert, error)
	Update(ctx context.Context, a *Alert) error
	Unacknowledged(ctx context.Context) ([]*Alert, error)
}

// Sink delivers alerts to the notification collaborator. Delivery
// success or failure never feeds back into scheduling decisions.
type Sink interface {
	Deliver(ctx context.Context, a *Alert) error
}
