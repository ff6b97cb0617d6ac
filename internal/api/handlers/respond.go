// Package handlers provides HTTP handlers for the care-home API.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/carebridge/medsafe/internal/domain/alert"
	"github.com/carebridge/medsafe/internal/domain/custody"
	"github.com/carebridge/medsafe/internal/domain/prescription"
	"github.com/carebridge/medsafe/internal/domain/schedule"
	"github.com/carebridge/medsafe/internal/engine"
)

func respondJSON(w http.ResponseWriter, code int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(body)
}

func jsonError(w http.ResponseWriter, message string, code int) {
	respondJSON(w, code, map[string]string{"error": message})
}

// writeEngineError maps engine error types onto HTTP statuses. Safety
// blocks carry their findings so the caller can show them.
func writeEngineError(w http.ResponseWriter, err error) {
	var (
		validationErr *engine.ValidationError
		conflictErr   *engine.ConflictError
		safetyErr     *engine.ClinicalSafetyError
		custodyErr    *engine.CustodyError
		schedErr      *engine.SchedulingInconsistencyError
	)

	switch {
	case errors.As(err, &validationErr):
		jsonError(w, validationErr.Msg, http.StatusBadRequest)
	case errors.As(err, &conflictErr):
		jsonError(w, conflictErr.Error(), http.StatusConflict)
	case errors.As(err, &safetyErr):
		respondJSON(w, http.StatusUnprocessableEntity, map[string]interface{}{
			"error":    safetyErr.Error(),
			"findings": safetyErr.Findings,
		})
	case errors.As(err, &custodyErr):
		status := http.StatusConflict
		if errors.Is(custodyErr, custody.ErrStockItemFrozen) {
			status = http.StatusLocked
		}
		jsonError(w, custodyErr.Error(), status)
	case errors.As(err, &schedErr):
		jsonError(w, schedErr.Error(), http.StatusInternalServerError)
	case errors.Is(err, prescription.ErrNotFound),
		errors.Is(err, schedule.ErrSlotNotFound),
		errors.Is(err, alert.ErrAlertNotFound):
		jsonError(w, err.Error(), http.StatusNotFound)
	default:
		jsonError(w, "internal server error", http.StatusInternalServerError)
	}
}
