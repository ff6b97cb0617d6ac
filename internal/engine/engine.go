// Package engine orchestrates the medication safety and administration
// scheduling core: prescription lifecycle, slot generation and
// resolution, safety gating, custody ledger coupling and alert raising.
// Invariants spanning more than one domain package are enforced here.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/carebridge/medsafe/internal/domain/alert"
	"github.com/carebridge/medsafe/internal/domain/custody"
	"github.com/carebridge/medsafe/internal/domain/medication"
	"github.com/carebridge/medsafe/internal/domain/prescription"
	"github.com/carebridge/medsafe/internal/domain/schedule"
	"github.com/carebridge/medsafe/internal/safety"
	"github.com/carebridge/medsafe/pkg/nhsnum"
)

// Catalogue resolves published medication records by id.
type Catalogue interface {
	Medication(id string) (*medication.Record, bool)
}

// AuditRecord is one append-only audit trail entry. Every lifecycle
// transition, resolution, override and custody action produces one.
type AuditRecord struct {
	ID        string    `json:"id"`
	Kind      string    `json:"kind"`
	SubjectID string    `json:"subject_id"`
	Actor     string    `json:"actor"`
	Detail    string    `json:"detail"`
	At        time.Time `json:"at"`
}

// AuditSink receives audit records. Write-only from the engine's
// perspective; the production sink is the transactional outbox.
type AuditSink interface {
	Record(ctx context.Context, rec AuditRecord) error
}

// EventStore persists a prescription's uncommitted lifecycle events and
// clears them on success. Optional; without one the engine clears
// events after emitting their audit records.
type EventStore interface {
	SaveEvents(ctx context.Context, p *prescription.Prescription) error
}

// Outcome is a slot resolution outcome supplied by the caller.
type Outcome string

const (
	OutcomeAdministered Outcome = "administered"
	OutcomeRefused      Outcome = "refused"
	OutcomeBlocked      Outcome = "blocked"
)

// Engine wires the domain components together behind per-prescription
// single-writer locks.
type Engine struct {
	prescriptions prescription.Store
	slots         schedule.Store
	catalogue     Catalogue
	screener      *safety.Screener
	ledger        *custody.Ledger
	alerts        *alert.Engine
	audit         AuditSink
	events        EventStore
	schedCfg      schedule.Config
	sweeper       *schedule.Sweeper
	logger        *zap.Logger
	tracer        trace.Tracer
	now           func() time.Time

	locks keyedMutex
}

// Deps bundles the engine's collaborators.
type Deps struct {
	Prescriptions prescription.Store
	Slots         schedule.Store
	Catalogue     Catalogue
	Screener      *safety.Screener
	Ledger        *custody.Ledger
	Alerts        *alert.Engine
	Audit         AuditSink
	Events        EventStore
	ScheduleCfg   schedule.Config
	Logger        *zap.Logger
}

// New creates the engine.
func New(d Deps) *Engine {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	e := &Engine{
		prescriptions: d.Prescriptions,
		slots:         d.Slots,
		catalogue:     d.Catalogue,
		screener:      d.Screener,
		ledger:        d.Ledger,
		alerts:        d.Alerts,
		audit:         d.Audit,
		events:        d.Events,
		schedCfg:      d.ScheduleCfg,
		logger:        d.Logger,
		tracer:        otel.Tracer("medsafe-engine"),
		now:           time.Now,
	}
	e.sweeper = schedule.NewSweeper(d.Slots, d.Alerts, d.ScheduleCfg, d.Logger)
	return e
}

// ValidateIdentifier validates a resident clinical identifier. Pure;
// no side effects.
func (e *Engine) ValidateIdentifier(identifier string) bool {
	return nhsnum.Valid(identifier)
}

// CreateParams carries createPrescription inputs. ResidentNHSNumber is
// checked before anything else; AcknowledgeFindings records that the
// prescriber reviewed sub-blocking screening findings.
type CreateParams struct {
	ResidentID        string
	ResidentNHSNumber string
	MedicationID      string
	Dosage            string
	Route             string
	FrequencyCode     string
	Start             time.Time
	End               time.Time
	PrescriberID      string
	StockItemID       string
	DoseUnits         int64
	Actor             string
	// AcknowledgeFindings permits activation despite a blocking
	// screening result, recorded as an explicit prescriber decision.
	AcknowledgeFindings bool
}

// CreatePrescription validates, screens and activates a new
// prescription, generating its administration slots. Screening and
// identifier validation run before any lock is taken.
func (e *Engine) CreatePrescription(ctx context.Context, p CreateParams) (*prescription.Prescription, error) {
	ctx, span := e.tracer.Start(ctx, "create_prescription",
		trace.WithAttributes(attribute.String("resident_id", p.ResidentID)))
	defer span.End()

	if !nhsnum.Valid(p.ResidentNHSNumber) {
		return nil, validationErrorf("invalid resident NHS number")
	}
	freq, err := schedule.ParseFrequency(p.FrequencyCode)
	if err != nil {
		return nil, validationErrorf("invalid frequency code %q", p.FrequencyCode)
	}
	med, ok := e.catalogue.Medication(p.MedicationID)
	if !ok {
		return nil, validationErrorf("unknown medication %q", p.MedicationID)
	}
	if med.Controlled() {
		if p.StockItemID == "" {
			return nil, validationErrorf("controlled medication requires a stock item reference")
		}
		if p.DoseUnits <= 0 {
			return nil, validationErrorf("controlled medication requires positive dose units")
		}
	}

	findings, decision, err := e.screener.Screen(ctx, p.ResidentID, med)
	if err != nil {
		return nil, fmt.Errorf("safety screening: %w", err)
	}
	if decision.Blocked && !p.AcknowledgeFindings {
		e.raiseSafetyAlert(ctx, p.ResidentID, decision)
		return nil, &ClinicalSafetyError{Findings: findings, Worst: decision.Worst}
	}
	if decision.Blocked {
		e.auditRecord(ctx, "screening_acknowledged", p.ResidentID, p.Actor,
			fmt.Sprintf("blocking findings acknowledged for medication %s", p.MedicationID))
	}

	now := e.now().UTC()
	rx, err := prescription.New(uuid.New().String(), prescription.CreateParams{
		ResidentID:   p.ResidentID,
		MedicationID: p.MedicationID,
		Dosage:       p.Dosage,
		Route:        p.Route,
		Frequency:    freq,
		Start:        p.Start,
		End:          p.End,
		PrescriberID: p.PrescriberID,
		StockItemID:  p.StockItemID,
		DoseUnits:    p.DoseUnits,
		Actor:        p.Actor,
	}, now)
	if err != nil {
		return nil, &ValidationError{Msg: err.Error()}
	}
	if err := rx.Activate(p.Actor, now); err != nil {
		return nil, fmt.Errorf("activate: %w", err)
	}

	slots, err := schedule.Generate(e.schedCfg, rx.ID, freq, rx.Start, rx.End)
	if err != nil {
		if errors.Is(err, schedule.ErrDuplicateSlot) {
			return nil, e.schedulingDefect(ctx, rx.ID, err)
		}
		return nil, &ValidationError{Msg: err.Error()}
	}

	unlock := e.locks.lock(rx.ID)
	defer unlock()

	if err := e.prescriptions.Insert(ctx, rx); err != nil {
		return nil, fmt.Errorf("insert prescription: %w", err)
	}
	if err := e.slots.Insert(ctx, slots...); err != nil {
		return nil, fmt.Errorf("insert slots: %w", err)
	}
	e.auditLifecycle(ctx, rx)

	e.logger.Info("prescription created",
		zap.String("prescription_id", rx.ID),
		zap.String("resident_id", p.ResidentID),
		zap.String("medication_id", p.MedicationID),
		zap.Int("slots", len(slots)),
		zap.Bool("controlled", med.Controlled()))

	return rx, nil
}

// ModifyParams carries modifyPrescription inputs. Zero-valued fields
// keep the previous prescription's values.
type ModifyParams struct {
	Dosage              string
	Route               string
	FrequencyCode       string
	End                 time.Time
	DoseUnits           int64
	Actor               string
	// AcknowledgeFindings permits the replacement despite a blocking
	// re-screen, recorded as an explicit prescriber decision.
	AcknowledgeFindings bool
}

// ModifyPrescription supersedes a prescription with a new version. The
// expected version must match the stored one or the write is rejected
// as a conflict; exactly one concurrent writer succeeds.
func (e *Engine) ModifyPrescription(ctx context.Context, id string, expectedVersion int, p ModifyParams) (*prescription.Prescription, error) {
	ctx, span := e.tracer.Start(ctx, "modify_prescription",
		trace.WithAttributes(attribute.String("prescription_id", id)))
	defer span.End()

	unlock := e.locks.lock(id)
	defer unlock()

	old, err := e.prescriptions.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if old.Version != expectedVersion {
		return nil, &ConflictError{PrescriptionID: id, ExpectedVersion: expectedVersion}
	}
	if old.Status != prescription.StatusActive {
		return nil, validationErrorf("cannot modify prescription in status %q", old.Status)
	}

	freq := old.Frequency
	if p.FrequencyCode != "" {
		freq, err = schedule.ParseFrequency(p.FrequencyCode)
		if err != nil {
			return nil, validationErrorf("invalid frequency code %q", p.FrequencyCode)
		}
	}

	// The replacement is screened afresh: the resident's allergies or
	// co-medications may have changed since the original activation.
	med, ok := e.catalogue.Medication(old.MedicationID)
	if !ok {
		return nil, validationErrorf("unknown medication %q", old.MedicationID)
	}
	findings, decision, err := e.screener.Screen(ctx, old.ResidentID, med)
	if err != nil {
		return nil, fmt.Errorf("safety screening: %w", err)
	}
	if decision.Blocked && !p.AcknowledgeFindings {
		e.raiseSafetyAlert(ctx, old.ResidentID, decision)
		return nil, &ClinicalSafetyError{Findings: findings, Worst: decision.Worst}
	}
	if decision.Blocked {
		e.auditRecord(ctx, "screening_acknowledged", old.ResidentID, p.Actor,
			fmt.Sprintf("blocking findings acknowledged for medication %s", old.MedicationID))
	}

	now := e.now().UTC()
	newID := uuid.New().String()

	if err := old.MarkSuperseded(p.Actor, newID, now); err != nil {
		return nil, &ValidationError{Msg: err.Error()}
	}
	if err := e.prescriptions.Update(ctx, old, expectedVersion); err != nil {
		if errors.Is(err, prescription.ErrVersionConflict) {
			return nil, &ConflictError{PrescriptionID: id, ExpectedVersion: expectedVersion}
		}
		return nil, fmt.Errorf("update prescription: %w", err)
	}
	e.auditLifecycle(ctx, old)

	if err := e.cancelPendingSlots(ctx, old.ID, now); err != nil {
		return nil, err
	}

	params := prescription.CreateParams{
		ResidentID:   old.ResidentID,
		MedicationID: old.MedicationID,
		Dosage:       firstNonEmpty(p.Dosage, old.Dosage),
		Route:        firstNonEmpty(p.Route, old.Route),
		Frequency:    freq,
		Start:        old.Start,
		End:          old.End,
		PrescriberID: old.PrescriberID,
		StockItemID:  old.StockItemID,
		DoseUnits:    old.DoseUnits,
		Actor:        p.Actor,
	}
	if !p.End.IsZero() {
		params.End = p.End
	}
	if p.DoseUnits > 0 {
		params.DoseUnits = p.DoseUnits
	}

	rx, err := prescription.New(newID, params, now)
	if err != nil {
		return nil, &ValidationError{Msg: err.Error()}
	}
	rx.PreviousID = old.ID
	if err := rx.Activate(p.Actor, now); err != nil {
		return nil, fmt.Errorf("activate: %w", err)
	}

	// Fresh slots only for the future window; history belongs to the
	// superseded version.
	genStart := rx.Start
	if now.After(genStart) {
		genStart = now
	}
	var slots []*schedule.Slot
	if rx.End.After(genStart) {
		slots, err = schedule.Generate(e.schedCfg, rx.ID, freq, genStart, rx.End)
		if err != nil {
			if errors.Is(err, schedule.ErrDuplicateSlot) {
				return nil, e.schedulingDefect(ctx, rx.ID, err)
			}
			return nil, &ValidationError{Msg: err.Error()}
		}
	}

	if err := e.prescriptions.Insert(ctx, rx); err != nil {
		return nil, fmt.Errorf("insert prescription: %w", err)
	}
	if err := e.slots.Insert(ctx, slots...); err != nil {
		return nil, fmt.Errorf("insert slots: %w", err)
	}
	e.auditLifecycle(ctx, rx)

	e.logger.Info("prescription superseded",
		zap.String("old_id", old.ID),
		zap.String("new_id", rx.ID),
		zap.Int("slots", len(slots)))

	return rx, nil
}

// DiscontinuePrescription discontinues an active prescription with a
// mandatory reason and cancels its pending slots. Resolved slots keep
// their status and timestamps.
func (e *Engine) DiscontinuePrescription(ctx context.Context, id, reason, actor string) error {
	ctx, span := e.tracer.Start(ctx, "discontinue_prescription",
		trace.WithAttributes(attribute.String("prescription_id", id)))
	defer span.End()

	unlock := e.locks.lock(id)
	defer unlock()

	rx, err := e.prescriptions.Get(ctx, id)
	if err != nil {
		return err
	}
	readVersion := rx.Version
	if err := rx.Discontinue(actor, reason, e.now().UTC()); err != nil {
		return &ValidationError{Msg: err.Error()}
	}
	if err := e.prescriptions.Update(ctx, rx, readVersion); err != nil {
		if errors.Is(err, prescription.ErrVersionConflict) {
			return &ConflictError{PrescriptionID: id, ExpectedVersion: readVersion}
		}
		return fmt.Errorf("update prescription: %w", err)
	}
	e.auditLifecycle(ctx, rx)

	if err := e.cancelPendingSlots(ctx, id, time.Time{}); err != nil {
		return err
	}

	e.logger.Info("prescription discontinued",
		zap.String("prescription_id", id),
		zap.String("actor", actor),
		zap.String("reason", reason))
	return nil
}

// ScreenCandidate runs the safety screener for a candidate medication
// without creating anything.
func (e *Engine) ScreenCandidate(ctx context.Context, residentID, medicationID string) ([]safety.Finding, safety.Decision, error) {
	med, ok := e.catalogue.Medication(medicationID)
	if !ok {
		return nil, safety.Decision{}, validationErrorf("unknown medication %q", medicationID)
	}
	return e.screener.Screen(ctx, residentID, med)
}

// ResolveParams carries resolveSlot inputs. Witnesses are required for
// controlled-drug administrations; Override waives safety enforcement
// but is itself always recorded.
type ResolveParams struct {
	Outcome        Outcome
	Actor          string
	Note           string
	Witness1       string
	Witness2       string
	Override       bool
	OverrideReason string
}

// ResolveSlot resolves an administration slot. For controlled drugs an
// administration is atomic with its custody ledger entry: the ledger
// append happens first and a failure leaves the slot untouched.
func (e *Engine) ResolveSlot(ctx context.Context, slotID string, p ResolveParams) (*schedule.Slot, error) {
	ctx, span := e.tracer.Start(ctx, "resolve_slot",
		trace.WithAttributes(
			attribute.String("slot_id", slotID),
			attribute.String("outcome", string(p.Outcome)),
		))
	defer span.End()

	if p.Actor == "" {
		return nil, validationErrorf("resolving actor is required")
	}

	slot, err := e.slots.Get(ctx, slotID)
	if err != nil {
		return nil, err
	}
	rx, err := e.prescriptions.Get(ctx, slot.PrescriptionID)
	if err != nil {
		return nil, err
	}
	med, ok := e.catalogue.Medication(rx.MedicationID)
	if !ok {
		return nil, validationErrorf("unknown medication %q", rx.MedicationID)
	}

	// Screening is a bounded synchronous computation; run it before the
	// prescription lock is taken.
	var (
		findings []safety.Finding
		decision safety.Decision
	)
	if p.Outcome == OutcomeAdministered || p.Outcome == OutcomeBlocked {
		findings, decision, err = e.screener.Screen(ctx, rx.ResidentID, med)
		if err != nil {
			return nil, fmt.Errorf("safety screening: %w", err)
		}
	}

	unlock := e.locks.lock(slot.PrescriptionID)
	defer unlock()

	// Re-read under the lock; a sweep or concurrent resolution may have
	// moved the slot.
	slot, err = e.slots.Get(ctx, slotID)
	if err != nil {
		return nil, err
	}
	if slot.Status.Resolved() {
		return nil, validationErrorf("slot %s already resolved as %s", slotID, slot.Status)
	}

	now := e.now().UTC()

	switch p.Outcome {
	case OutcomeAdministered:
		if decision.Blocked {
			if !p.Override {
				e.raiseSafetyAlert(ctx, slot.ID, decision)
				e.auditRecord(ctx, "administration_blocked", slot.ID, p.Actor,
					fmt.Sprintf("contraindicated finding for medication %s", rx.MedicationID))
				return nil, &ClinicalSafetyError{Findings: findings, Worst: decision.Worst}
			}
			if p.OverrideReason == "" {
				return nil, validationErrorf("clinical override requires a reason")
			}
			// The contraindicated event is logged even when enforcement
			// is waived; only the block itself is overridden.
			e.auditRecord(ctx, "safety_override", slot.ID, p.Actor,
				fmt.Sprintf("override of %s finding: %s", decision.MaxSeverity, p.OverrideReason))
		}

		if med.Controlled() {
			entry, err := e.ledger.Append(ctx, rx.StockItemID, custody.AppendParams{
				Type:     custody.EntryAdministration,
				Delta:    -rx.DoseUnits,
				Witness1: p.Witness1,
				Witness2: p.Witness2,
				Actor:    p.Actor,
				Note:     fmt.Sprintf("administration for slot %s", slot.ID),
			})
			if err != nil {
				return nil, e.custodyFailure(ctx, rx.StockItemID, err)
			}
			if err := e.markResolved(ctx, slot, schedule.StatusAdministered, p.Actor, p.Note, now); err != nil {
				// Compensate the ledger so the cross-entity operation
				// stays atomic: slot and entry move together or not at all.
				if _, cerr := e.ledger.Append(ctx, rx.StockItemID, custody.AppendParams{
					Type:         custody.EntryAdjustment,
					Delta:        rx.DoseUnits,
					Actor:        p.Actor,
					Note:         "compensating reversal: slot resolution failed",
					CorrectionOf: entry.ID,
				}); cerr != nil {
					e.logger.Error("custody compensation failed",
						zap.String("stock_item_id", rx.StockItemID),
						zap.Error(cerr))
				}
				return nil, err
			}
		} else {
			if err := e.markResolved(ctx, slot, schedule.StatusAdministered, p.Actor, p.Note, now); err != nil {
				return nil, err
			}
		}
		e.auditRecord(ctx, "slot_administered", slot.ID, p.Actor, p.Note)

	case OutcomeRefused:
		if err := e.markResolved(ctx, slot, schedule.StatusRefused, p.Actor, p.Note, now); err != nil {
			return nil, err
		}
		e.auditRecord(ctx, "slot_refused", slot.ID, p.Actor, p.Note)

	case OutcomeBlocked:
		if !decision.Blocked {
			return nil, validationErrorf("slot can only be blocked on a contraindicated screening result")
		}
		if p.Override {
			return nil, validationErrorf("blocked outcome is incompatible with an override")
		}
		if err := e.markResolved(ctx, slot, schedule.StatusBlocked, p.Actor, p.Note, now); err != nil {
			return nil, err
		}
		e.raiseSafetyAlert(ctx, slot.ID, decision)
		e.auditRecord(ctx, "slot_blocked", slot.ID, p.Actor,
			fmt.Sprintf("contraindicated finding for medication %s", rx.MedicationID))

	default:
		return nil, validationErrorf("unknown outcome %q", p.Outcome)
	}

	return slot, nil
}

// AppendCustodyEntry appends a stock movement to the custody ledger.
func (e *Engine) AppendCustodyEntry(ctx context.Context, stockItemID string, p custody.AppendParams) (*custody.Entry, error) {
	entry, err := e.ledger.Append(ctx, stockItemID, p)
	if err != nil {
		return nil, e.custodyFailure(ctx, stockItemID, err)
	}
	e.auditRecord(ctx, "custody_entry", stockItemID, p.Actor,
		fmt.Sprintf("%s delta %d", p.Type, p.Delta))
	return entry, nil
}

// ReconcileCustody recomputes a stock item's balance and hash chain.
func (e *Engine) ReconcileCustody(ctx context.Context, stockItemID string) (*custody.ReconciliationReport, error) {
	return e.ledger.Reconcile(ctx, stockItemID)
}

// ClearCustodyFreeze lifts a discrepancy freeze after manual clearance.
func (e *Engine) ClearCustodyFreeze(ctx context.Context, stockItemID, actor, reason string) error {
	if err := e.ledger.ClearFreeze(ctx, stockItemID, actor, reason); err != nil {
		return &ValidationError{Msg: err.Error()}
	}
	e.auditRecord(ctx, "custody_freeze_cleared", stockItemID, actor, reason)
	return nil
}

// Alerts exposes the escalation engine's query surface.
func (e *Engine) Alerts() *alert.Engine { return e.alerts }

// Prescription returns a prescription by id.
func (e *Engine) Prescription(ctx context.Context, id string) (*prescription.Prescription, error) {
	return e.prescriptions.Get(ctx, id)
}

// Slots returns a prescription's slots in scheduled order.
func (e *Engine) Slots(ctx context.Context, prescriptionID string) ([]*schedule.Slot, error) {
	return e.slots.ByPrescription(ctx, prescriptionID)
}

// SweepPrescription runs one due/missed sweep pass for a prescription
// under its writer lock, expiring it first if the end date has passed.
func (e *Engine) SweepPrescription(ctx context.Context, prescriptionID string) (schedule.SweepResult, error) {
	unlock := e.locks.lock(prescriptionID)
	defer unlock()

	rx, err := e.prescriptions.Get(ctx, prescriptionID)
	if err != nil {
		return schedule.SweepResult{}, err
	}
	readVersion := rx.Version
	if rx.ExpireIfDue(e.now().UTC()) {
		if err := e.prescriptions.Update(ctx, rx, readVersion); err != nil && !errors.Is(err, prescription.ErrVersionConflict) {
			return schedule.SweepResult{}, fmt.Errorf("expire prescription: %w", err)
		}
		e.auditLifecycle(ctx, rx)
	}

	return e.sweeper.SweepPrescription(ctx, prescriptionID)
}

// ActivePrescriptionIDs lists prescriptions eligible for sweeping.
func (e *Engine) ActivePrescriptionIDs(ctx context.Context) ([]string, error) {
	active, err := e.prescriptions.Active(ctx)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(active))
	for _, rx := range active {
		ids = append(ids, rx.ID)
	}
	return ids, nil
}

func (e *Engine) markResolved(ctx context.Context, slot *schedule.Slot, status schedule.SlotStatus, actor, note string, now time.Time) error {
	slot.Status = status
	slot.ResolvedAt = &now
	slot.ResolvedBy = actor
	slot.Note = note
	if err := e.slots.Update(ctx, slot); err != nil {
		return fmt.Errorf("update slot: %w", err)
	}
	return nil
}

// cancelPendingSlots cancels pending/due slots for a prescription,
// optionally restricted to slots scheduled at or after from.
func (e *Engine) cancelPendingSlots(ctx context.Context, prescriptionID string, from time.Time) error {
	slots, err := e.slots.ByPrescription(ctx, prescriptionID)
	if err != nil {
		return fmt.Errorf("load slots: %w", err)
	}
	cancelled := schedule.CancelPending(slots, from, e.now().UTC())
	for _, slot := range cancelled {
		if err := e.slots.Update(ctx, slot); err != nil {
			return fmt.Errorf("cancel slot %s: %w", slot.ID, err)
		}
	}
	return nil
}

func (e *Engine) custodyFailure(ctx context.Context, stockItemID string, err error) error {
	severity := alert.SeverityHigh
	if errors.Is(err, custody.ErrChainBroken) || errors.Is(err, custody.ErrStockItemFrozen) {
		severity = alert.SeverityCritical
	}
	if e.alerts != nil {
		if _, aerr := e.alerts.Raise(ctx, alert.SourceCustody, stockItemID, severity, err.Error()); aerr != nil {
			e.logger.Error("custody alert failed", zap.Error(aerr))
		}
	}
	return &CustodyError{StockItemID: stockItemID, Err: err}
}

func (e *Engine) raiseSafetyAlert(ctx context.Context, subjectID string, decision safety.Decision) {
	if e.alerts == nil {
		return
	}
	msg := "administration blocked by safety screening"
	if decision.Worst != nil {
		msg = fmt.Sprintf("blocked: %s %s finding", decision.Worst.Severity, decision.Worst.Category)
	}
	if _, err := e.alerts.Raise(ctx, alert.SourceSafety, subjectID, alert.SeverityCritical, msg); err != nil {
		e.logger.Error("safety alert failed", zap.Error(err))
	}
}

func (e *Engine) schedulingDefect(ctx context.Context, prescriptionID string, err error) error {
	defect := &SchedulingInconsistencyError{PrescriptionID: prescriptionID, Detail: err.Error()}
	e.logger.Error("scheduling inconsistency", zap.String("prescription_id", prescriptionID), zap.Error(err))
	if e.alerts != nil {
		if _, aerr := e.alerts.Raise(ctx, alert.SourceScheduler, prescriptionID, alert.SeverityHigh, defect.Error()); aerr != nil {
			e.logger.Error("scheduling defect alert failed", zap.Error(aerr))
		}
	}
	return defect
}

func (e *Engine) auditLifecycle(ctx context.Context, rx *prescription.Prescription) {
	if e.audit != nil {
		for _, ev := range rx.Changes() {
			rec := AuditRecord{
				ID:        ev.ID,
				Kind:      string(ev.EventType),
				SubjectID: ev.PrescriptionID,
				Actor:     ev.Actor,
				Detail:    ev.Reason,
				At:        ev.Timestamp,
			}
			if err := e.audit.Record(ctx, rec); err != nil {
				e.logger.Error("lifecycle audit record failed",
					zap.String("prescription_id", ev.PrescriptionID),
					zap.Error(err))
			}
		}
	}
	if e.events != nil {
		if err := e.events.SaveEvents(ctx, rx); err != nil {
			e.logger.Error("lifecycle event save failed",
				zap.String("prescription_id", rx.ID),
				zap.Error(err))
		}
		return
	}
	rx.ClearChanges()
}

func (e *Engine) auditRecord(ctx context.Context, kind, subjectID, actor, detail string) {
	if e.audit == nil {
		return
	}
	rec := AuditRecord{
		ID:        uuid.New().String(),
		Kind:      kind,
		SubjectID: subjectID,
		Actor:     actor,
		Detail:    detail,
		At:        e.now().UTC(),
	}
	if err := e.audit.Record(ctx, rec); err != nil {
		e.logger.Error("audit record failed", zap.String("kind", kind), zap.Error(err))
	}
}

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}

// keyedMutex serializes writers per prescription id. Two different
// prescriptions never contend.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func (k *keyedMutex) lock(id string) func() {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*sync.Mutex)
	}
	m, ok := k.locks[id]
	if !ok {
		m = &sync.Mutex{}
		k.locks[id] = m
	}
	k.mu.Unlock()

	m.Lock()
	return m.Unlock
}
