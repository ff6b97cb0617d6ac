// Package safety implements the clinical safety screener: interaction
// and contraindication checks run before every prescribing decision and
// administration attempt.
package safety

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/carebridge/medsafe/internal/domain/medication"
)

// Category distinguishes drug-pair interactions from allergy
// contraindications. At equal nominal severity a contraindication
// outranks an interaction.
type Category string

const (
	CategoryInteraction      Category = "interaction"
	CategoryContraindication Category = "contraindication"
)

// Finding is a single screening result. Findings are immutable once
// created and persisted only as part of the screening audit record.
type Finding struct {
	ID            string                     `json:"id"`
	Category      Category                   `json:"category"`
	Medication    string                     `json:"medication"`
	InteractsWith string                     `json:"interacts_with,omitempty"`
	Allergen      string                     `json:"allergen,omitempty"`
	Severity      medication.FindingSeverity `json:"severity"`
	Evidence      string                     `json:"evidence"`
	CreatedAt     time.Time                  `json:"created_at"`
}

// Decision is the aggregate outcome of a screening pass.
type Decision struct {
	Blocked     bool
	MaxSeverity medication.FindingSeverity
	Worst       *Finding
}

// Directory supplies resident clinical context. Implemented by the
// resident service collaborator; in-process stores implement it for tests.
type Directory interface {
	ActiveMedications(ctx context.Context, residentID string) ([]*medication.Record, error)
	Allergies(ctx context.Context, residentID string) ([]medication.Allergy, error)
}

// AuditSink records every screening invocation, including clean passes,
// so that the check itself is provable after the fact.
type AuditSink interface {
	RecordScreening(ctx context.Context, rec ScreeningRecord) error
}

// ScreeningRecord is the immutable audit record of one screening pass.
type ScreeningRecord struct {
	ID           string    `json:"id"`
	ResidentID   string    `json:"resident_id"`
	MedicationID string    `json:"medication_id"`
	Findings     []Finding `json:"findings"`
	Blocked      bool      `json:"blocked"`
	ScreenedAt   time.Time `json:"screened_at"`
}

// Screener evaluates a candidate medication against a resident's active
// medications and allergies. It never mutates medication or allergy
// records and performs no external I/O beyond the directory lookups.
type Screener struct {
	dir    Directory
	rules  *medication.RuleSet
	audit  AuditSink
	logger *zap.Logger
	tracer trace.Tracer
	now    func() time.Time
}

// NewScreener creates a screener.
func NewScreener(dir Directory, rules *medication.RuleSet, audit AuditSink, logger *zap.Logger) *Screener {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Screener{
		dir:    dir,
		rules:  rules,
		audit:  audit,
		logger: logger,
		tracer: otel.Tracer("safety-screener"),
		now:    time.Now,
	}
}

// Screen runs the full screening pass for a candidate medication and
// persists the audit record regardless of outcome.
func (s *Screener) Screen(ctx context.Context, residentID string, candidate *medication.Record) ([]Finding, Decision, error) {
	ctx, span := s.tracer.Start(ctx, "safety_screen",
		trace.WithAttributes(
			attribute.String("resident_id", residentID),
			attribute.String("medication_id", candidate.ID),
		))
	defer span.End()

	active, err := s.dir.ActiveMedications(ctx, residentID)
	if err != nil {
		return nil, Decision{}, fmt.Errorf("load active medications: %w", err)
	}
	allergies, err := s.dir.Allergies(ctx, residentID)
	if err != nil {
		return nil, Decision{}, fmt.Errorf("load allergies: %w", err)
	}

	now := s.now().UTC()
	findings := make([]Finding, 0, len(active)+len(allergies))

	for _, med := range active {
		if med.ID == candidate.ID {
			continue
		}
		rule, ok := s.rules.Interaction(candidate.ID, med.ID)
		if !ok {
			continue
		}
		findings = append(findings, Finding{
			ID:            uuid.New().String(),
			Category:      CategoryInteraction,
			Medication:    candidate.ID,
			InteractsWith: med.ID,
			Severity:      rule.Severity,
			Evidence:      rule.Evidence,
			CreatedAt:     now,
		})
	}

	for _, allergy := range allergies {
		if !s.rules.Contraindicated(candidate, allergy.Allergen) {
			continue
		}
		findings = append(findings, Finding{
			ID:         uuid.New().String(),
			Category:   CategoryContraindication,
			Medication: candidate.ID,
			Allergen:   allergy.Allergen,
			Severity:   allergy.Severity.FindingSeverity(),
			Evidence:   allergy.Reaction,
			CreatedAt:  now,
		})
	}

	decision := decide(findings)
	span.SetAttributes(
		attribute.Int("findings", len(findings)),
		attribute.Bool("blocked", decision.Blocked),
	)

	rec := ScreeningRecord{
		ID:           uuid.New().String(),
		ResidentID:   residentID,
		MedicationID: candidate.ID,
		Findings:     findings,
		Blocked:      decision.Blocked,
		ScreenedAt:   now,
	}
	if s.audit != nil {
		if err := s.audit.RecordScreening(ctx, rec); err != nil {
			// The screening result stands; a lost audit record is logged loudly.
			s.logger.Error("screening audit record failed",
				zap.String("resident_id", residentID),
				zap.String("medication_id", candidate.ID),
				zap.Error(err))
		}
	}

	return findings, decision, nil
}

// decide folds findings into the aggregate decision: maximum severity
// wins, contraindications outrank interactions at equal severity.
func decide(findings []Finding) Decision {
	d := Decision{}
	for i := range findings {
		f := &findings[i]
		if d.Worst == nil || worse(f, d.Worst) {
			d.Worst = f
			d.MaxSeverity = f.Severity
		}
	}
	d.Blocked = d.MaxSeverity >= medication.SeverityContraindicated
	return d
}

func worse(a, b *Finding) bool {
	if a.Severity != b.Severity {
		return a.Severity > b.Severity
	}
	return a.Category == CategoryContraindication && b.Category == CategoryInteraction
}
