package schedule

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Generate expands a frequency into concrete slots for every day from
// start up to (but not including) end. It is deterministic for a given
// input and returns ErrDuplicateSlot if the expansion would produce two
// slots at the same timestamp.
func Generate(cfg Config, prescriptionID string, freq Frequency, start, end time.Time) ([]*Slot, error) {
	if !end.After(start) {
		return nil, fmt.Errorf("end %s is not after start %s", end.Format(time.RFC3339), start.Format(time.RFC3339))
	}
	if freq == FreqAsRequired {
		// PRN doses are demand-recorded, never scheduled.
		return nil, nil
	}

	times, ok := cfg.Times[freq]
	if !ok || len(times) == 0 {
		return nil, fmt.Errorf("no configured times for frequency %q", freq)
	}

	step := 24 * time.Hour
	if freq == FreqWeekly {
		step = 7 * 24 * time.Hour
	}

	now := time.Now().UTC()
	seen := make(map[int64]struct{})
	var slots []*Slot

	for day := startOfDay(start); day.Before(end); day = day.Add(step) {
		for _, tod := range times {
			at := tod.At(day)
			if at.Before(start) || !at.Before(end) {
				continue
			}
			key := at.Unix()
			if _, dup := seen[key]; dup {
				return nil, fmt.Errorf("%w: prescription %s at %s", ErrDuplicateSlot, prescriptionID, at.Format(time.RFC3339))
			}
			seen[key] = struct{}{}
			slots = append(slots, &Slot{
				ID:             uuid.New().String(),
				PrescriptionID: prescriptionID,
				ScheduledAt:    at,
				Status:         StatusPending,
				CreatedAt:      now,
			})
		}
	}

	return slots, nil
}

// CancelPending marks every pending or due slot in the given window as
// cancelled. Slots in any other status are never touched. Returns the
// slots that were cancelled.
func CancelPending(slots []*Slot, from time.Time, now time.Time) []*Slot {
	var cancelled []*Slot
	for _, s := range slots {
		if s.Status != StatusPending && s.Status != StatusDue {
			continue
		}
		if s.ScheduledAt.Before(from) {
			continue
		}
		s.Status = StatusCancelled
		at := now
		s.ResolvedAt = &at
		cancelled = append(cancelled, s)
	}
	return cancelled
}

func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}
