package prescription

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carebridge/medsafe/internal/domain/schedule"
)

var t0 = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func newTestPrescription(t *testing.T) *Prescription {
	t.Helper()
	rx, err := New("rx-1", CreateParams{
		ResidentID:   "res-1",
		MedicationID: "med-1",
		Dosage:       "5mg",
		Route:        "oral",
		Frequency:    schedule.FreqOnceDaily,
		Start:        t0,
		End:          t0.AddDate(0, 0, 28),
		PrescriberID: "gp-1",
		Actor:        "nurse-1",
	}, t0)
	require.NoError(t, err)
	return rx
}

func TestNewValidation(t *testing.T) {
	_, err := New("rx-1", CreateParams{MedicationID: "med-1", PrescriberID: "gp-1"}, t0)
	assert.Error(t, err, "resident is required")

	_, err = New("rx-1", CreateParams{
		ResidentID:   "res-1",
		MedicationID: "med-1",
		PrescriberID: "gp-1",
		Start:        t0,
		End:          t0.Add(-time.Hour),
	}, t0)
	assert.Error(t, err, "end precedes start")
}

func TestNewStartsInDraft(t *testing.T) {
	rx := newTestPrescription(t)
	assert.Equal(t, StatusDraft, rx.Status)
	assert.Equal(t, 0, rx.Version)

	events := rx.Changes()
	require.Len(t, events, 1)
	assert.Equal(t, EventCreated, events[0].EventType)
	assert.Equal(t, "nurse-1", events[0].Actor)
}

func TestActivate(t *testing.T) {
	rx := newTestPrescription(t)
	require.NoError(t, rx.Activate("nurse-1", t0))
	assert.Equal(t, StatusActive, rx.Status)
	assert.Equal(t, 1, rx.Version)

	events := rx.Changes()
	require.Len(t, events, 2)
	assert.Equal(t, EventActivated, events[1].EventType)
	assert.Equal(t, 1, events[1].Version)

	// Only Draft activates.
	assert.Error(t, rx.Activate("nurse-1", t0))
}

func TestExpireIfDueIsIdempotent(t *testing.T) {
	rx := newTestPrescription(t)
	require.NoError(t, rx.Activate("nurse-1", t0))

	assert.False(t, rx.ExpireIfDue(rx.End.Add(-time.Minute)))
	assert.Equal(t, StatusActive, rx.Status)

	assert.True(t, rx.ExpireIfDue(rx.End))
	assert.Equal(t, StatusExpired, rx.Status)
	version := rx.Version

	// Repeated evaluation has no further effect.
	assert.False(t, rx.ExpireIfDue(rx.End.Add(time.Hour)))
	assert.Equal(t, version, rx.Version)
}

func TestExpireIfDueIgnoresOpenEnded(t *testing.T) {
	rx, err := New("rx-1", CreateParams{
		ResidentID:   "res-1",
		MedicationID: "med-1",
		PrescriberID: "gp-1",
		Frequency:    schedule.FreqAsRequired,
		Start:        t0,
		Actor:        "nurse-1",
	}, t0)
	require.NoError(t, err)
	require.NoError(t, rx.Activate("nurse-1", t0))

	assert.False(t, rx.ExpireIfDue(t0.AddDate(10, 0, 0)))
}

func TestDiscontinueRequiresReason(t *testing.T) {
	rx := newTestPrescription(t)
	require.NoError(t, rx.Activate("nurse-1", t0))

	assert.Error(t, rx.Discontinue("gp-1", "", t0))
	assert.Equal(t, StatusActive, rx.Status)

	require.NoError(t, rx.Discontinue("gp-1", "adverse reaction", t0))
	assert.Equal(t, StatusDiscontinued, rx.Status)

	events := rx.Changes()
	last := events[len(events)-1]
	assert.Equal(t, EventDiscontinued, last.EventType)
	assert.Equal(t, "adverse reaction", last.Reason)

	// Terminal states admit no further transitions.
	assert.Error(t, rx.Discontinue("gp-1", "again", t0))
	assert.Error(t, rx.Activate("gp-1", t0))
	assert.Error(t, rx.MarkSuperseded("gp-1", "rx-2", t0))
}

func TestMarkSuperseded(t *testing.T) {
	rx := newTestPrescription(t)
	require.NoError(t, rx.Activate("nurse-1", t0))

	require.NoError(t, rx.MarkSuperseded("gp-1", "rx-2", t0))
	assert.Equal(t, StatusSuperseded, rx.Status)
	assert.Equal(t, "rx-2", rx.SupersededBy)
	assert.True(t, rx.Status.Terminal())
}

func TestVersionIncrementsPerTransition(t *testing.T) {
	rx := newTestPrescription(t)
	require.NoError(t, rx.Activate("nurse-1", t0))
	require.NoError(t, rx.Discontinue("gp-1", "switched therapy", t0.Add(time.Hour)))

	assert.Equal(t, 2, rx.Version)
	events := rx.Changes()
	require.Len(t, events, 3)
	assert.Equal(t, []int{0, 1, 2}, []int{events[0].Version, events[1].Version, events[2].Version})

	rx.ClearChanges()
	assert.Empty(t, rx.Changes())
}
