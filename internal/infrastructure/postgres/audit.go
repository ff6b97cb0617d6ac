package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/carebridge/medsafe/internal/engine"
	"github.com/carebridge/medsafe/internal/infrastructure/redpanda"
	"github.com/carebridge/medsafe/internal/safety"
)

// AuditTrail persists audit records to Postgres and enqueues each for
// outbox relay in the same transaction. The audit tables are
// append-only; nothing in the engine reads them back.
type AuditTrail struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewAuditTrail creates a new audit trail.
func NewAuditTrail(pool *pgxpool.Pool, logger *zap.Logger) *AuditTrail {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuditTrail{pool: pool, logger: logger}
}

// Record persists an engine audit record and its outbox entry.
func (t *AuditTrail) Record(ctx context.Context, rec engine.AuditRecord) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal audit record: %w", err)
	}

	tx, err := t.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `
		INSERT INTO audit_records (id, kind, subject_id, actor, detail, at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	if _, err := tx.Exec(ctx, query,
		rec.ID, rec.Kind, rec.SubjectID, rec.Actor, rec.Detail, rec.At,
	); err != nil {
		return fmt.Errorf("insert audit record: %w", err)
	}

	entry := &OutboxEntry{
		SubjectID:   rec.SubjectID,
		SubjectType: "prescription",
		RecordType:  rec.Kind,
		Payload:     payload,
		Topic:       redpanda.TopicAuditTrail,
		Key:         rec.SubjectID,
	}
	if err := WriteEntry(ctx, tx, entry); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// RecordScreening persists a screening audit record and its outbox
// entry. Every screening pass is recorded, including clean ones.
func (t *AuditTrail) RecordScreening(ctx context.Context, rec safety.ScreeningRecord) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal screening record: %w", err)
	}

	tx, err := t.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `
		INSERT INTO screening_records (id, resident_id, medication_id, findings, blocked, screened_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	findings, err := json.Marshal(rec.Findings)
	if err != nil {
		return fmt.Errorf("marshal findings: %w", err)
	}
	if _, err := tx.Exec(ctx, query,
		rec.ID, rec.ResidentID, rec.MedicationID, findings, rec.Blocked, rec.ScreenedAt,
	); err != nil {
		return fmt.Errorf("insert screening record: %w", err)
	}

	entry := &OutboxEntry{
		SubjectID:   rec.ResidentID,
		SubjectType: "resident",
		RecordType:  "screening",
		Payload:     payload,
		Topic:       redpanda.TopicAuditTrail,
		Key:         rec.ResidentID,
	}
	if err := WriteEntry(ctx, tx, entry); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

var (
	_ engine.AuditSink = (*AuditTrail)(nil)
	_ safety.AuditSink = (*AuditTrail)(nil)
)
