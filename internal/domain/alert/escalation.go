package alert

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/carebridge/medsafe/internal/domain/custody"
	"github.com/carebridge/medsafe/internal/domain/schedule"
)

// Config holds escalation settings.
type Config struct {
	// RefireInterval is how often an unacknowledged high or critical
	// alert is re-delivered.
	RefireInterval time.Duration
}

// DefaultConfig returns the standard escalation cadence.
func DefaultConfig() Config {
	return Config{RefireInterval: 15 * time.Minute}
}

// Engine raises alerts, delivers them through the sink and re-fires
// unacknowledged high/critical alerts on independent per-alert timers.
type Engine struct {
	store  Store
	sink   Sink
	cfg    Config
	logger *zap.Logger
	now    func() time.Time

	mu     sync.Mutex
	timers map[string]*time.Timer
	closed bool

	// writeMu serializes alert read-modify-writes so a refire pass
	// cannot overwrite a concurrent acknowledgement or resolution.
	writeMu sync.Mutex
}

// NewEngine creates an escalation engine.
func NewEngine(store Store, sink Sink, cfg Config, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.RefireInterval <= 0 {
		cfg.RefireInterval = DefaultConfig().RefireInterval
	}
	return &Engine{
		store:  store,
		sink:   sink,
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
		timers: make(map[string]*time.Timer),
	}
}

// Raise creates, persists and delivers a new alert, arming the
// escalation timer for high and critical severities.
func (e *Engine) Raise(ctx context.Context, source Source, subjectID string, severity Severity, message string) (*Alert, error) {
	now := e.now().UTC()
	a := &Alert{
		ID:          uuid.New().String(),
		Source:      source,
		SubjectID:   subjectID,
		Severity:    severity,
		Message:     message,
		CreatedAt:   now,
		FireCount:   1,
		LastFiredAt: now,
	}

	if err := e.store.Insert(ctx, a); err != nil {
		return nil, fmt.Errorf("insert alert: %w", err)
	}

	e.deliver(ctx, a)

	if severity.escalates() {
		e.arm(a.ID)
	}

	e.logger.Info("alert raised",
		zap.String("alert_id", a.ID),
		zap.String("source", string(source)),
		zap.String("subject_id", subjectID),
		zap.String("severity", string(severity)))

	return a, nil
}

// Acknowledge records acknowledgement and cancels the escalation timer.
// Acknowledging an already-acknowledged alert is a no-op.
func (e *Engine) Acknowledge(ctx context.Context, id, actor string) error {
	e.writeMu.Lock()
	defer e.writeMu.Unlock()

	a, err := e.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if a.Acknowledged() {
		return nil
	}
	now := e.now().UTC()
	a.AcknowledgedAt = &now
	a.AcknowledgedBy = actor
	if err := e.store.Update(ctx, a); err != nil {
		return fmt.Errorf("update alert: %w", err)
	}
	e.disarm(id)
	e.logger.Info("alert acknowledged",
		zap.String("alert_id", id),
		zap.String("actor", actor))
	return nil
}

// Resolve records resolution. Resolution does not require prior
// acknowledgement and does not cancel escalation by itself.
func (e *Engine) Resolve(ctx context.Context, id, actor string) error {
	e.writeMu.Lock()
	defer e.writeMu.Unlock()

	a, err := e.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if a.ResolvedAt != nil {
		return nil
	}
	now := e.now().UTC()
	a.ResolvedAt = &now
	a.ResolvedBy = actor
	if err := e.store.Update(ctx, a); err != nil {
		return fmt.Errorf("update alert: %w", err)
	}
	e.logger.Info("alert resolved",
		zap.String("alert_id", id),
		zap.String("actor", actor))
	return nil
}

// Unacknowledged returns the open alert queue.
func (e *Engine) Unacknowledged(ctx context.Context) ([]*Alert, error) {
	return e.store.Unacknowledged(ctx)
}

// Get returns a single alert.
func (e *Engine) Get(ctx context.Context, id string) (*Alert, error) {
	return e.store.Get(ctx, id)
}

// Stop cancels all escalation timers.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	for id, t := range e.timers {
		t.Stop()
		delete(e.timers, id)
	}
}

func (e *Engine) arm(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	e.timers[id] = time.AfterFunc(e.cfg.RefireInterval, func() { e.refire(id) })
}

func (e *Engine) disarm(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if t, ok := e.timers[id]; ok {
		t.Stop()
		delete(e.timers, id)
	}
}

// refire re-delivers an alert that is still unacknowledged and re-arms
// its timer. The check, increment and re-arm happen under writeMu so an
// acknowledgement can never land between the load and the write-back
// and be lost.
func (e *Engine) refire(id string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	e.writeMu.Lock()
	a, err := e.store.Get(ctx, id)
	if err != nil {
		e.writeMu.Unlock()
		e.logger.Error("escalation refire load failed", zap.String("alert_id", id), zap.Error(err))
		return
	}
	if a.Acknowledged() {
		e.writeMu.Unlock()
		e.disarm(id)
		return
	}

	a.FireCount++
	a.LastFiredAt = e.now().UTC()
	if err := e.store.Update(ctx, a); err != nil {
		e.logger.Error("escalation refire update failed", zap.String("alert_id", id), zap.Error(err))
	}
	e.arm(id)
	e.writeMu.Unlock()

	e.deliver(ctx, a)
	e.logger.Warn("alert escalated",
		zap.String("alert_id", id),
		zap.Int("fire_count", a.FireCount),
		zap.String("severity", string(a.Severity)))
}

func (e *Engine) deliver(ctx context.Context, a *Alert) {
	if e.sink == nil {
		return
	}
	if err := e.sink.Deliver(ctx, a); err != nil {
		// Delivery failure never blocks the raising subsystem.
		e.logger.Error("alert delivery failed",
			zap.String("alert_id", a.ID),
			zap.Error(err))
	}
}

// SlotMissed implements schedule.AlertSink: a missed dose past its
// grace window is a high severity alert.
func (e *Engine) SlotMissed(ctx context.Context, slot *schedule.Slot) {
	msg := fmt.Sprintf("administration slot missed for prescription %s, scheduled %s",
		slot.PrescriptionID, slot.ScheduledAt.Format(time.RFC3339))
	if _, err := e.Raise(ctx, SourceScheduler, slot.ID, SeverityHigh, msg); err != nil {
		e.logger.Error("missed-slot alert failed", zap.String("slot_id", slot.ID), zap.Error(err))
	}
}

// CustodyDiscrepancy implements custody.AlertSink: any ledger
// discrepancy is critical.
func (e *Engine) CustodyDiscrepancy(ctx context.Context, stockItemID, detail string) {
	if _, err := e.Raise(ctx, SourceCustody, stockItemID, SeverityCritical, detail); err != nil {
		e.logger.Error("custody discrepancy alert failed", zap.String("stock_item_id", stockItemID), zap.Error(err))
	}
}

var (
	_ schedule.AlertSink = (*Engine)(nil)
	_ custody.AlertSink  = (*Engine)(nil)
)
