package schedule

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestParseFrequency(t *testing.T) {
	for _, code := range []string{"OD", "bd", " tds ", "QDS", "wkly", "PRN"} {
		_, err := ParseFrequency(code)
		assert.NoError(t, err, "code %q", code)
	}
	_, err := ParseFrequency("Q4H")
	assert.Error(t, err)
}

func TestGenerateOnceDaily(t *testing.T) {
	start := day(2026, 3, 1)
	end := start.AddDate(0, 0, 10)

	slots, err := Generate(DefaultConfig(), "rx-1", FreqOnceDaily, start, end)
	require.NoError(t, err)
	require.Len(t, slots, 10)

	for i, s := range slots {
		assert.Equal(t, "rx-1", s.PrescriptionID)
		assert.Equal(t, StatusPending, s.Status)
		assert.Equal(t, start.AddDate(0, 0, i).Add(8*time.Hour), s.ScheduledAt)
	}
}

func TestGenerateTwiceDaily(t *testing.T) {
	start := day(2026, 3, 1)
	end := start.AddDate(0, 0, 3)

	slots, err := Generate(DefaultConfig(), "rx-1", FreqTwiceDaily, start, end)
	require.NoError(t, err)
	assert.Len(t, slots, 6)
}

func TestGenerateWeekly(t *testing.T) {
	start := day(2026, 3, 1)
	end := start.AddDate(0, 0, 21)

	slots, err := Generate(DefaultConfig(), "rx-1", FreqWeekly, start, end)
	require.NoError(t, err)
	require.Len(t, slots, 3)
	assert.Equal(t, 7*24*time.Hour, slots[1].ScheduledAt.Sub(slots[0].ScheduledAt))
}

func TestGeneratePRNProducesNoSlots(t *testing.T) {
	start := day(2026, 3, 1)
	slots, err := Generate(DefaultConfig(), "rx-1", FreqAsRequired, start, start.AddDate(0, 0, 30))
	require.NoError(t, err)
	assert.Empty(t, slots)
}

func TestGenerateWindowBoundaries(t *testing.T) {
	cfg := DefaultConfig()

	// Start after the day's dose time excludes that day's slot.
	start := day(2026, 3, 1).Add(9 * time.Hour)
	slots, err := Generate(cfg, "rx-1", FreqOnceDaily, start, day(2026, 3, 3))
	require.NoError(t, err)
	require.Len(t, slots, 1)
	assert.Equal(t, day(2026, 3, 2).Add(8*time.Hour), slots[0].ScheduledAt)

	// End is exclusive: a slot exactly at end is not generated.
	slots, err = Generate(cfg, "rx-1", FreqOnceDaily, day(2026, 3, 1), day(2026, 3, 2).Add(8*time.Hour))
	require.NoError(t, err)
	assert.Len(t, slots, 1)
}

func TestGenerateRejectsInvertedWindow(t *testing.T) {
	start := day(2026, 3, 1)
	_, err := Generate(DefaultConfig(), "rx-1", FreqOnceDaily, start, start)
	assert.Error(t, err)
}

func TestGenerateDuplicateTimestamp(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Times[FreqTwiceDaily] = []TimeOfDay{{Hour: 8}, {Hour: 8}}

	start := day(2026, 3, 1)
	_, err := Generate(cfg, "rx-1", FreqTwiceDaily, start, start.AddDate(0, 0, 1))
	assert.ErrorIs(t, err, ErrDuplicateSlot)
}

func TestCancelPending(t *testing.T) {
	now := day(2026, 3, 5).Add(10 * time.Hour)
	resolved := now.Add(-time.Hour)
	slots := []*Slot{
		{ID: "s1", Status: StatusPending, ScheduledAt: day(2026, 3, 6).Add(8 * time.Hour)},
		{ID: "s2", Status: StatusDue, ScheduledAt: day(2026, 3, 5).Add(8 * time.Hour)},
		{ID: "s3", Status: StatusAdministered, ScheduledAt: day(2026, 3, 4).Add(8 * time.Hour), ResolvedAt: &resolved},
		{ID: "s4", Status: StatusMissed, ScheduledAt: day(2026, 3, 3).Add(8 * time.Hour), ResolvedAt: &resolved},
	}

	cancelled := CancelPending(slots, time.Time{}, now)
	require.Len(t, cancelled, 2)

	assert.Equal(t, StatusCancelled, slots[0].Status)
	assert.Equal(t, StatusCancelled, slots[1].Status)
	// Resolved slots keep their status and original resolution time.
	assert.Equal(t, StatusAdministered, slots[2].Status)
	assert.Equal(t, StatusMissed, slots[3].Status)
	assert.Equal(t, resolved, *slots[3].ResolvedAt)
}

func TestCancelPendingFromWindow(t *testing.T) {
	now := day(2026, 3, 5)
	slots := []*Slot{
		{ID: "s1", Status: StatusPending, ScheduledAt: day(2026, 3, 4).Add(8 * time.Hour)},
		{ID: "s2", Status: StatusPending, ScheduledAt: day(2026, 3, 6).Add(8 * time.Hour)},
	}

	cancelled := CancelPending(slots, now, now)
	require.Len(t, cancelled, 1)
	assert.Equal(t, "s2", cancelled[0].ID)
	assert.Equal(t, StatusPending, slots[0].Status)
}
