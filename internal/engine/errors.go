package engine

import (
	"fmt"

	"github.com/carebridge/medsafe/internal/safety"
)

// ValidationError is malformed input: a bad identifier, an unknown
// frequency code, missing mandatory fields. Always recoverable by the
// caller and never partially applied.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

func validationErrorf(format string, args ...any) *ValidationError {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}

// ConflictError is an optimistic-concurrency version mismatch. The
// caller must re-read and retry; writes are never silently merged.
type ConflictError struct {
	PrescriptionID  string
	ExpectedVersion int
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("prescription %s changed since version %d was read", e.PrescriptionID, e.ExpectedVersion)
}

// ClinicalSafetyError blocks an administration on a contraindicated or
// worse finding without a recorded clinical override.
type ClinicalSafetyError struct {
	Findings []safety.Finding
	Worst    *safety.Finding
}

func (e *ClinicalSafetyError) Error() string {
	if e.Worst != nil {
		return fmt.Sprintf("administration blocked: %s finding (%s)", e.Worst.Severity, e.Worst.Category)
	}
	return "administration blocked by safety screening"
}

// CustodyError is a failed controlled-substance ledger operation:
// witness requirement unmet, negative-balance attempt, frozen stock
// item or broken hash chain. Fatal to the specific operation.
type CustodyError struct {
	StockItemID string
	Err         error
}

func (e *CustodyError) Error() string {
	return fmt.Sprintf("custody ledger %s: %v", e.StockItemID, e.Err)
}

func (e *CustodyError) Unwrap() error { return e.Err }

// SchedulingInconsistencyError is an internal invariant violation such
// as a duplicate slot for the same timestamp. Treated as a defect: the
// operation aborts rather than guessing a resolution.
type SchedulingInconsistencyError struct {
	PrescriptionID string
	Detail         string
}

func (e *SchedulingInconsistencyError) Error() string {
	return fmt.Sprintf("scheduling inconsistency on prescription %s: %s", e.PrescriptionID, e.Detail)
}
