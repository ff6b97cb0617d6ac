package nhsnum

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValid(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  bool
	}{
		{"valid number", "9434765919", true},
		{"valid number with spaces", "943 476 5919", true},
		{"valid number with dashes", "943-476-5919", true},
		{"another valid number", "4010232137", true},
		{"minimal valid number", "1000000001", true},
		{"wrong check digit", "9434765918", false},
		{"single transposed digit", "9434765191", false},
		{"too short", "943476591", false},
		{"too long", "94347659190", false},
		{"empty", "", false},
		{"letters only", "abcdefghij", false},
		{"all zeros checks out", "0000000000", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Valid(tt.input), "Valid(%q)", tt.input)
		})
	}
}

// Prefixes whose weighted sum leaves remainder 1 have no valid check
// digit at all; every tenth digit must be rejected.
func TestValidNoCheckDigitExists(t *testing.T) {
	// 0,0,0,0,0,0,0,0,6 weighted gives 12, remainder 1.
	for d := byte('0'); d <= '9'; d++ {
		num := "000000006" + string(d)
		assert.False(t, Valid(num), "Valid(%q)", num)
	}
}

// The mod-11 weights are all coprime to 11, so changing any single
// digit of a valid number must break the checksum.
func TestValidRejectsAnySingleDigitChange(t *testing.T) {
	const valid = "9434765919"
	for pos := 0; pos < len(valid); pos++ {
		for d := byte('0'); d <= '9'; d++ {
			if d == valid[pos] {
				continue
			}
			mutated := valid[:pos] + string(d) + valid[pos+1:]
			assert.False(t, Valid(mutated), "Valid(%q), digit %d changed", mutated, pos)
		}
	}
}

func TestNormalize(t *testing.T) {
	assert.Equal(t, "9434765919", Normalize("943 476 5919"))
	assert.Equal(t, "9434765919", Normalize("943-476-5919"))
	assert.Equal(t, "", Normalize("no digits here"))
	// Normalize never validates.
	assert.Equal(t, "123", Normalize("1-2-3"))
}
