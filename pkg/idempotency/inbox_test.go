package idempotency

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestGenerateKeyDeterministic(t *testing.T) {
	at := time.Date(2026, 3, 5, 8, 0, 30, 0, time.UTC)

	key1 := GenerateKey("nurse-1", "slot-1", "administered", at)
	key2 := GenerateKey("nurse-1", "slot-1", "administered", at)
	assert.Equal(t, key1, key2)
	assert.Len(t, key1, 64, "hex-encoded sha256")
}

func TestGenerateKeyTruncatesToMinute(t *testing.T) {
	base := time.Date(2026, 3, 5, 8, 0, 0, 0, time.UTC)

	// A retry seconds later lands on the same key.
	assert.Equal(t,
		GenerateKey("nurse-1", "slot-1", "administered", base.Add(10*time.Second)),
		GenerateKey("nurse-1", "slot-1", "administered", base.Add(50*time.Second)))

	// A different minute is a different request.
	assert.NotEqual(t,
		GenerateKey("nurse-1", "slot-1", "administered", base),
		GenerateKey("nurse-1", "slot-1", "administered", base.Add(time.Minute)))
}

func TestGenerateKeyVariesByComponent(t *testing.T) {
	at := time.Date(2026, 3, 5, 8, 0, 0, 0, time.UTC)
	base := GenerateKey("nurse-1", "slot-1", "administered", at)

	assert.NotEqual(t, base, GenerateKey("nurse-2", "slot-1", "administered", at))
	assert.NotEqual(t, base, GenerateKey("nurse-1", "slot-2", "administered", at))
	assert.NotEqual(t, base, GenerateKey("nurse-1", "slot-1", "refused", at))
}

func TestIsTerminalError(t *testing.T) {
	terminal := []error{
		errors.New("validation failed: missing actor"),
		errors.New("slot not found"),
		errors.New("administration Blocked by safety screening"),
		errors.New("invalid frequency code"),
	}
	for _, err := range terminal {
		assert.True(t, isTerminalError(err), "%v", err)
	}

	retryable := []error{
		errors.New("connection refused"),
		errors.New("context deadline exceeded"),
	}
	for _, err := range retryable {
		assert.False(t, isTerminalError(err), "%v", err)
	}
}
