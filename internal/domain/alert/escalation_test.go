package alert_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carebridge/medsafe/internal/domain/alert"
	"github.com/carebridge/medsafe/internal/domain/schedule"
	"github.com/carebridge/medsafe/internal/storage/memory"
)

type captureSink struct {
	mu         sync.Mutex
	deliveries []*alert.Alert
}

func (s *captureSink) Deliver(ctx context.Context, a *alert.Alert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *a
	s.deliveries = append(s.deliveries, &copied)
	return nil
}

func (s *captureSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.deliveries)
}

func newTestEngine(t *testing.T, refire time.Duration) (*alert.Engine, *captureSink) {
	t.Helper()
	sink := &captureSink{}
	e := alert.NewEngine(memory.NewAlertStore(), sink, alert.Config{RefireInterval: refire}, nil)
	t.Cleanup(e.Stop)
	return e, sink
}

func TestRaiseDeliversOnce(t *testing.T) {
	e, sink := newTestEngine(t, time.Hour)
	a, err := e.Raise(context.Background(), alert.SourceScheduler, "slot-1", alert.SeverityMedium, "dose overdue")
	require.NoError(t, err)
	assert.Equal(t, 1, a.FireCount)
	assert.Equal(t, 1, sink.count())

	got, err := e.Get(context.Background(), a.ID)
	require.NoError(t, err)
	assert.Equal(t, alert.SeverityMedium, got.Severity)
	assert.False(t, got.Acknowledged())
}

func TestHighSeverityRefiresUntilAcknowledged(t *testing.T) {
	e, sink := newTestEngine(t, 20*time.Millisecond)
	ctx := context.Background()

	a, err := e.Raise(ctx, alert.SourceScheduler, "slot-1", alert.SeverityHigh, "dose missed")
	require.NoError(t, err)

	require.Eventually(t, func() bool { return sink.count() >= 3 },
		2*time.Second, 5*time.Millisecond, "unacknowledged high alert keeps re-firing")

	require.NoError(t, e.Acknowledge(ctx, a.ID, "nurse-1"))
	settled := sink.count()
	time.Sleep(100 * time.Millisecond)
	assert.LessOrEqual(t, sink.count(), settled+1, "acknowledgement disarms the timer")

	got, err := e.Get(ctx, a.ID)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, got.FireCount, 3)
	assert.Equal(t, "nurse-1", got.AcknowledgedBy)
}

// ackRacingStore acknowledges the alert from another goroutine while a
// refire write-back is in flight, reproducing an acknowledgement racing
// the escalation pass.
type ackRacingStore struct {
	alert.Store
	engine func() *alert.Engine
	once   sync.Once
	ackErr chan error
}

func (s *ackRacingStore) Update(ctx context.Context, a *alert.Alert) error {
	if a.FireCount >= 2 && a.AcknowledgedAt == nil {
		s.once.Do(func() {
			go func() {
				s.ackErr <- s.engine().Acknowledge(context.Background(), a.ID, "nurse-1")
			}()
			// Give the acknowledgement a chance to interleave before
			// the refire write-back lands.
			time.Sleep(30 * time.Millisecond)
		})
	}
	return s.Store.Update(ctx, a)
}

func TestAcknowledgementSurvivesConcurrentRefire(t *testing.T) {
	store := &ackRacingStore{Store: memory.NewAlertStore(), ackErr: make(chan error, 1)}
	sink := &captureSink{}
	e := alert.NewEngine(store, sink, alert.Config{RefireInterval: 20 * time.Millisecond}, nil)
	t.Cleanup(e.Stop)
	store.engine = func() *alert.Engine { return e }
	ctx := context.Background()

	a, err := e.Raise(ctx, alert.SourceScheduler, "slot-1", alert.SeverityHigh, "dose missed")
	require.NoError(t, err)

	require.NoError(t, <-store.ackErr)

	got, err := e.Get(ctx, a.ID)
	require.NoError(t, err)
	require.NotNil(t, got.AcknowledgedAt, "refire must not erase the acknowledgement")
	assert.Equal(t, "nurse-1", got.AcknowledgedBy)

	// The timer is disarmed: the fire count stays put from here on.
	settled := got.FireCount
	time.Sleep(120 * time.Millisecond)
	again, err := e.Get(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, settled, again.FireCount, "acknowledged alert must stop escalating")
	assert.NotNil(t, again.AcknowledgedAt)
}

func TestLowSeverityNeverRefires(t *testing.T) {
	e, sink := newTestEngine(t, 20*time.Millisecond)
	_, err := e.Raise(context.Background(), alert.SourceSafety, "res-1", alert.SeverityLow, "informational finding")
	require.NoError(t, err)

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 1, sink.count())
}

func TestAcknowledgeIsIdempotent(t *testing.T) {
	e, _ := newTestEngine(t, time.Hour)
	ctx := context.Background()

	a, err := e.Raise(ctx, alert.SourceCustody, "stock-1", alert.SeverityCritical, "discrepancy")
	require.NoError(t, err)

	require.NoError(t, e.Acknowledge(ctx, a.ID, "nurse-1"))
	first, err := e.Get(ctx, a.ID)
	require.NoError(t, err)

	require.NoError(t, e.Acknowledge(ctx, a.ID, "nurse-2"))
	second, err := e.Get(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, first.AcknowledgedBy, second.AcknowledgedBy)
	assert.Equal(t, first.AcknowledgedAt, second.AcknowledgedAt)
}

func TestResolveIsIndependentOfAcknowledgement(t *testing.T) {
	e, _ := newTestEngine(t, time.Hour)
	ctx := context.Background()

	a, err := e.Raise(ctx, alert.SourceCustody, "stock-1", alert.SeverityCritical, "discrepancy")
	require.NoError(t, err)

	require.NoError(t, e.Resolve(ctx, a.ID, "manager-1"))
	got, err := e.Get(ctx, a.ID)
	require.NoError(t, err)
	assert.NotNil(t, got.ResolvedAt)
	assert.Nil(t, got.AcknowledgedAt, "resolution does not imply acknowledgement")

	// Unresolved alerts still show in the open queue until acknowledged.
	open, err := e.Unacknowledged(ctx)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, a.ID, open[0].ID)
}

func TestAcknowledgeUnknownAlert(t *testing.T) {
	e, _ := newTestEngine(t, time.Hour)
	err := e.Acknowledge(context.Background(), "missing", "nurse-1")
	assert.ErrorIs(t, err, alert.ErrAlertNotFound)
}

func TestSlotMissedRaisesHigh(t *testing.T) {
	e, sink := newTestEngine(t, time.Hour)
	e.SlotMissed(context.Background(), &schedule.Slot{
		ID:             "slot-1",
		PrescriptionID: "rx-1",
		ScheduledAt:    time.Date(2026, 3, 5, 8, 0, 0, 0, time.UTC),
	})

	require.Equal(t, 1, sink.count())
	sink.mu.Lock()
	delivered := sink.deliveries[0]
	sink.mu.Unlock()
	assert.Equal(t, alert.SourceScheduler, delivered.Source)
	assert.Equal(t, alert.SeverityHigh, delivered.Severity)
	assert.Equal(t, "slot-1", delivered.SubjectID)
}

func TestCustodyDiscrepancyRaisesCritical(t *testing.T) {
	e, sink := newTestEngine(t, time.Hour)
	e.CustodyDiscrepancy(context.Background(), "stock-1", "stored balance 19, recomputed 20")

	require.Equal(t, 1, sink.count())
	sink.mu.Lock()
	delivered := sink.deliveries[0]
	sink.mu.Unlock()
	assert.Equal(t, alert.SourceCustody, delivered.Source)
	assert.Equal(t, alert.SeverityCritical, delivered.Severity)
}
