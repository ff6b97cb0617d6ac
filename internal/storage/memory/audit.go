package memory

import (
	"context"
	"sync"

	"github.com/carebridge/medsafe/internal/engine"
	"github.com/carebridge/medsafe/internal/safety"
)

// AuditLog is an append-only in-memory audit trail. It implements both
// the engine's audit sink and the screener's, so a single log carries
// the full who/did/what history in tests and single-node deployments.
type AuditLog struct {
	mu         sync.RWMutex
	records    []engine.AuditRecord
	screenings []safety.ScreeningRecord
}

// NewAuditLog creates an empty audit log.
func NewAuditLog() *AuditLog {
	return &AuditLog{}
}

// Record appends an engine audit record.
func (l *AuditLog) Record(ctx context.Context, rec engine.AuditRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.records = append(l.records, rec)
	return nil
}

// RecordScreening appends a screening audit record.
func (l *AuditLog) RecordScreening(ctx context.Context, rec safety.ScreeningRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.screenings = append(l.screenings, rec)
	return nil
}

// Records returns a copy of the engine audit trail.
func (l *AuditLog) Records() []engine.AuditRecord {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]engine.AuditRecord(nil), l.records...)
}

// Screenings returns a copy of the screening audit trail.
func (l *AuditLog) Screenings() []safety.ScreeningRecord {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]safety.ScreeningRecord(nil), l.screenings...)
}

var (
	_ engine.AuditSink = (*AuditLog)(nil)
	_ safety.AuditSink = (*AuditLog)(nil)
)
