// Package nhsnum validates NHS numbers using the standard mod-11 checksum.
package nhsnum

// Valid reports whether s is a well-formed NHS number.
// Non-digit characters (spaces, dashes) are ignored; the remaining digits
// must be exactly ten, with the tenth matching the mod-11 check digit
// computed over the first nine.
func Valid(s string) bool {
	digits := make([]int, 0, 10)
	for _, r := range s {
		if r >= '0' && r <= '9' {
			digits = append(digits, int(r-'0'))
		}
	}
	if len(digits) != 10 {
		return false
	}

	sum := 0
	for i := 0; i < 9; i++ {
		sum += digits[i] * (10 - i)
	}

	remainder := sum % 11
	check := 11 - remainder
	switch check {
	case 11:
		check = 0
	case 10:
		// No valid check digit exists for this prefix.
		return false
	}

	return check == digits[9]
}

// Normalize strips non-digit characters from an NHS number. It does not
// validate; callers wanting validation should use Valid.
func Normalize(s string) string {
	out := make([]byte, 0, len(s))
	for _, r := range s {
		if r >= '0' && r <= '9' {
			out = append(out, byte(r))
		}
	}
	return string(out)
}
