package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/carebridge/medsafe/internal/engine"
	"github.com/carebridge/medsafe/pkg/nhsnum"
)

// ScreeningHandler handles identifier validation and ad-hoc safety
// screening endpoints
type ScreeningHandler struct {
	engine *engine.Engine
	logger *zap.Logger
}

// NewScreeningHandler creates a new handler
func NewScreeningHandler(eng *engine.Engine, logger *zap.Logger) *ScreeningHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ScreeningHandler{engine: eng, logger: logger}
}

// Routes returns the handler routes
func (h *ScreeningHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/screen", h.Screen)
	r.Get("/identifiers/{value}", h.ValidateIdentifier)
	return r
}

// ScreenRequest is the request body for an ad-hoc screening
type ScreenRequest struct {
	ResidentID   string `json:"resident_id"`
	MedicationID string `json:"medication_id"`
}

// Screen handles POST /safety/screen. Screening is read-only with
// respect to the resident's record but every pass is audited.
func (h *ScreeningHandler) Screen(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req ScreenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	findings, decision, err := h.engine.ScreenCandidate(ctx, req.ResidentID, req.MedicationID)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"findings":     findings,
		"blocked":      decision.Blocked,
		"max_severity": decision.MaxSeverity,
	})
}

// ValidateIdentifier handles GET /safety/identifiers/{value}
func (h *ScreeningHandler) ValidateIdentifier(w http.ResponseWriter, r *http.Request) {
	value := chi.URLParam(r, "value")
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"identifier": value,
		"valid":      nhsnum.Valid(value),
	})
}
