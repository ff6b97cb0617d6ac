package schedule

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// AlertSink receives missed-slot notifications from the sweep. The
// escalation engine implements it in production.
type AlertSink interface {
	SlotMissed(ctx context.Context, slot *Slot)
}

// SweepResult summarizes one sweep pass over a prescription's slots.
type SweepResult struct {
	PromotedDue int
	Missed      int
}

// Sweeper promotes pending slots to due when their scheduled time
// arrives and due slots to missed once the grace window elapses.
// It is safe to run concurrently with foreground resolution as long as
// the caller serializes per prescription.
type Sweeper struct {
	store  Store
	alerts AlertSink
	cfg    Config
	logger *zap.Logger
	now    func() time.Time
}

// NewSweeper creates a sweeper.
func NewSweeper(store Store, alerts AlertSink, cfg Config, logger *zap.Logger) *Sweeper {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sweeper{
		store:  store,
		alerts: alerts,
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
	}
}

// SweepPrescription runs one pass over a single prescription's slots.
func (s *Sweeper) SweepPrescription(ctx context.Context, prescriptionID string) (SweepResult, error) {
	slots, err := s.store.ByPrescription(ctx, prescriptionID)
	if err != nil {
		return SweepResult{}, fmt.Errorf("load slots: %w", err)
	}

	now := s.now().UTC()
	var result SweepResult

	for _, slot := range slots {
		switch slot.Status {
		case StatusPending:
			if !slot.ScheduledAt.After(now) {
				slot.Status = StatusDue
				if err := s.store.Update(ctx, slot); err != nil {
					return result, fmt.Errorf("promote slot %s to due: %w", slot.ID, err)
				}
				result.PromotedDue++
				// A slot already past its grace window on promotion is
				// handled on this same pass.
			}
		}
		if slot.Status == StatusDue && now.Sub(slot.ScheduledAt) > s.cfg.GraceWindow {
			slot.Status = StatusMissed
			at := now
			slot.ResolvedAt = &at
			if err := s.store.Update(ctx, slot); err != nil {
				return result, fmt.Errorf("mark slot %s missed: %w", slot.ID, err)
			}
			result.Missed++
			s.logger.Warn("administration slot missed",
				zap.String("slot_id", slot.ID),
				zap.String("prescription_id", slot.PrescriptionID),
				zap.Time("scheduled_at", slot.ScheduledAt))
			if s.alerts != nil {
				s.alerts.SlotMissed(ctx, slot)
			}
		}
	}

	return result, nil
}
