// Package schedule turns active prescriptions into timed administration
// slots and tracks their due/overdue state.
package schedule

import (
	"fmt"
	"strings"
	"time"
)

// Frequency is a prescription frequency code.
type Frequency string

const (
	// FreqOnceDaily is one dose per day.
	FreqOnceDaily Frequency = "OD"
	// FreqTwiceDaily is two doses per day.
	FreqTwiceDaily Frequency = "BD"
	// FreqThreeTimesDaily is three doses per day.
	FreqThreeTimesDaily Frequency = "TDS"
	// FreqFourTimesDaily is four doses per day.
	FreqFourTimesDaily Frequency = "QDS"
	// FreqWeekly is one dose every seventh day.
	FreqWeekly Frequency = "WKLY"
	// FreqAsRequired (PRN) generates no scheduled slots; doses are
	// recorded on demand.
	FreqAsRequired Frequency = "PRN"
)

// ParseFrequency validates and normalizes a frequency code.
func ParseFrequency(code string) (Frequency, error) {
	switch f := Frequency(strings.ToUpper(strings.TrimSpace(code))); f {
	case FreqOnceDaily, FreqTwiceDaily, FreqThreeTimesDaily, FreqFourTimesDaily, FreqWeekly, FreqAsRequired:
		return f, nil
	default:
		return "", fmt.Errorf("unknown frequency code %q", code)
	}
}

// TimeOfDay is a fixed administration time within a day.
type TimeOfDay struct {
	Hour   int
	Minute int
}

// At anchors the time of day on a calendar date in the date's location.
func (t TimeOfDay) At(day time.Time) time.Time {
	return time.Date(day.Year(), day.Month(), day.Day(), t.Hour, t.Minute, 0, 0, day.Location())
}

// Config holds the fixed time-of-day sets per frequency code and the
// grace window after which an unresolved due slot is marked missed.
type Config struct {
	Times       map[Frequency][]TimeOfDay
	GraceWindow time.Duration
}

// DefaultConfig returns the standard medication round times.
func DefaultConfig() Config {
	return Config{
		Times: map[Frequency][]TimeOfDay{
			FreqOnceDaily:       {{Hour: 8}},
			FreqTwiceDaily:      {{Hour: 8}, {Hour: 20}},
			FreqThreeTimesDaily: {{Hour: 8}, {Hour: 14}, {Hour: 20}},
			FreqFourTimesDaily:  {{Hour: 8}, {Hour: 12}, {Hour: 16}, {Hour: 20}},
			FreqWeekly:          {{Hour: 8}},
		},
		GraceWindow: 30 * time.Minute,
	}
}
