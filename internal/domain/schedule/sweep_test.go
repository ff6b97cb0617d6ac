package schedule

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	mu   sync.Mutex
	rows map[string]*Slot
}

func newFakeStore(slots ...*Slot) *fakeStore {
	s := &fakeStore{rows: make(map[string]*Slot)}
	for _, slot := range slots {
		copied := *slot
		s.rows[slot.ID] = &copied
	}
	return s
}

func (s *fakeStore) Insert(ctx context.Context, slots ...*Slot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, slot := range slots {
		copied := *slot
		s.rows[slot.ID] = &copied
	}
	return nil
}

func (s *fakeStore) Get(ctx context.Context, id string) (*Slot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rows[id]
	if !ok {
		return nil, ErrSlotNotFound
	}
	copied := *row
	return &copied, nil
}

func (s *fakeStore) ByPrescription(ctx context.Context, prescriptionID string) ([]*Slot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Slot
	for _, row := range s.rows {
		if row.PrescriptionID == prescriptionID {
			copied := *row
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (s *fakeStore) Update(ctx context.Context, slot *Slot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rows[slot.ID]; !ok {
		return ErrSlotNotFound
	}
	copied := *slot
	s.rows[slot.ID] = &copied
	return nil
}

type recordingSink struct {
	mu     sync.Mutex
	missed []string
}

func (r *recordingSink) SlotMissed(ctx context.Context, slot *Slot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.missed = append(r.missed, slot.ID)
}

func TestSweepPromotesPendingToDue(t *testing.T) {
	now := day(2026, 3, 5).Add(8*time.Hour + 5*time.Minute)
	store := newFakeStore(
		&Slot{ID: "s1", PrescriptionID: "rx-1", Status: StatusPending, ScheduledAt: day(2026, 3, 5).Add(8 * time.Hour)},
		&Slot{ID: "s2", PrescriptionID: "rx-1", Status: StatusPending, ScheduledAt: day(2026, 3, 5).Add(20 * time.Hour)},
	)

	sink := &recordingSink{}
	sw := NewSweeper(store, sink, DefaultConfig(), nil)
	sw.now = func() time.Time { return now }

	result, err := sw.SweepPrescription(context.Background(), "rx-1")
	require.NoError(t, err)
	assert.Equal(t, 1, result.PromotedDue)
	assert.Equal(t, 0, result.Missed)

	s1, err := store.Get(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, StatusDue, s1.Status)

	s2, err := store.Get(context.Background(), "s2")
	require.NoError(t, err)
	assert.Equal(t, StatusPending, s2.Status)
	assert.Empty(t, sink.missed)
}

func TestSweepMarksDueMissedPastGrace(t *testing.T) {
	scheduled := day(2026, 3, 5).Add(8 * time.Hour)
	store := newFakeStore(
		&Slot{ID: "s1", PrescriptionID: "rx-1", Status: StatusDue, ScheduledAt: scheduled},
	)

	sink := &recordingSink{}
	sw := NewSweeper(store, sink, DefaultConfig(), nil)

	// Inside the grace window nothing happens.
	sw.now = func() time.Time { return scheduled.Add(29 * time.Minute) }
	result, err := sw.SweepPrescription(context.Background(), "rx-1")
	require.NoError(t, err)
	assert.Equal(t, 0, result.Missed)

	// One second past the window the slot is missed and the sink fires.
	sw.now = func() time.Time { return scheduled.Add(30*time.Minute + time.Second) }
	result, err = sw.SweepPrescription(context.Background(), "rx-1")
	require.NoError(t, err)
	assert.Equal(t, 1, result.Missed)

	s1, err := store.Get(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, StatusMissed, s1.Status)
	require.NotNil(t, s1.ResolvedAt)
	assert.Equal(t, []string{"s1"}, sink.missed)
}

func TestSweepPromotesAndMissesInOnePass(t *testing.T) {
	// A slot discovered long after its grace window moves pending -> due
	// -> missed on the same pass.
	scheduled := day(2026, 3, 5).Add(8 * time.Hour)
	store := newFakeStore(
		&Slot{ID: "s1", PrescriptionID: "rx-1", Status: StatusPending, ScheduledAt: scheduled},
	)

	sink := &recordingSink{}
	sw := NewSweeper(store, sink, DefaultConfig(), nil)
	sw.now = func() time.Time { return scheduled.Add(2 * time.Hour) }

	result, err := sw.SweepPrescription(context.Background(), "rx-1")
	require.NoError(t, err)
	assert.Equal(t, 1, result.PromotedDue)
	assert.Equal(t, 1, result.Missed)
	assert.Equal(t, []string{"s1"}, sink.missed)
}

func TestSweepLeavesResolvedSlotsAlone(t *testing.T) {
	resolved := day(2026, 3, 5).Add(9 * time.Hour)
	store := newFakeStore(
		&Slot{ID: "s1", PrescriptionID: "rx-1", Status: StatusAdministered, ScheduledAt: day(2026, 3, 5).Add(8 * time.Hour), ResolvedAt: &resolved},
	)

	sw := NewSweeper(store, nil, DefaultConfig(), nil)
	sw.now = func() time.Time { return day(2026, 3, 6) }

	result, err := sw.SweepPrescription(context.Background(), "rx-1")
	require.NoError(t, err)
	assert.Equal(t, SweepResult{}, result)

	s1, err := store.Get(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, StatusAdministered, s1.Status)
}
