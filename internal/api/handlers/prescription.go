package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/carebridge/medsafe/internal/api/middleware"
	"github.com/carebridge/medsafe/internal/domain/prescription"
	"github.com/carebridge/medsafe/internal/engine"
)

// PrescriptionHandler handles prescription endpoints
type PrescriptionHandler struct {
	engine *engine.Engine
	events *prescription.Repository // nil when no event store is configured
	logger *zap.Logger
}

// NewPrescriptionHandler creates a new handler
func NewPrescriptionHandler(eng *engine.Engine, events *prescription.Repository, logger *zap.Logger) *PrescriptionHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PrescriptionHandler{engine: eng, events: events, logger: logger}
}

// Routes returns the handler routes
func (h *PrescriptionHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/", h.Create)
	r.Get("/{id}", h.Get)
	r.Put("/{id}", h.Modify)
	r.Post("/{id}/discontinue", h.Discontinue)
	r.Get("/{id}/slots", h.Slots)
	r.Get("/{id}/events", h.GetEvents)
	return r
}

// CreateRequest is the request body for creating a prescription
type CreateRequest struct {
	ResidentID          string    `json:"resident_id"`
	ResidentNHSNumber   string    `json:"resident_nhs_number"`
	MedicationID        string    `json:"medication_id"`
	Dosage              string    `json:"dosage"`
	Route               string    `json:"route"`
	FrequencyCode       string    `json:"frequency_code"`
	Start               time.Time `json:"start"`
	End                 time.Time `json:"end"`
	PrescriberID        string    `json:"prescriber_id"`
	StockItemID         string    `json:"stock_item_id,omitempty"`
	DoseUnits           int64     `json:"dose_units,omitempty"`
	AcknowledgeFindings bool      `json:"acknowledge_findings,omitempty"`
}

// Create handles POST /prescriptions
func (h *PrescriptionHandler) Create(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tracer := otel.Tracer("prescription-handler")
	ctx, span := tracer.Start(ctx, "create_prescription")
	defer span.End()

	var req CreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	rx, err := h.engine.CreatePrescription(ctx, engine.CreateParams{
		ResidentID:          req.ResidentID,
		ResidentNHSNumber:   req.ResidentNHSNumber,
		MedicationID:        req.MedicationID,
		Dosage:              req.Dosage,
		Route:               req.Route,
		FrequencyCode:       req.FrequencyCode,
		Start:               req.Start,
		End:                 req.End,
		PrescriberID:        req.PrescriberID,
		StockItemID:         req.StockItemID,
		DoseUnits:           req.DoseUnits,
		Actor:               middleware.GetStaffID(ctx),
		AcknowledgeFindings: req.AcknowledgeFindings,
	})
	if err != nil {
		writeEngineError(w, err)
		return
	}
	span.SetAttributes(attribute.String("prescription_id", rx.ID))

	h.logger.Info("prescription created",
		zap.String("id", rx.ID),
		zap.String("request_id", middleware.GetRequestID(ctx)))

	respondJSON(w, http.StatusCreated, rx)
}

// Get handles GET /prescriptions/{id}
func (h *PrescriptionHandler) Get(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	rx, err := h.engine.Prescription(ctx, id)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, rx)
}

// ModifyRequest is the request body for modifying a prescription.
// Omitted fields keep the previous prescription's values.
type ModifyRequest struct {
	Dosage              string    `json:"dosage,omitempty"`
	Route               string    `json:"route,omitempty"`
	FrequencyCode       string    `json:"frequency_code,omitempty"`
	End                 time.Time `json:"end,omitempty"`
	DoseUnits           int64     `json:"dose_units,omitempty"`
	AcknowledgeFindings bool      `json:"acknowledge_findings,omitempty"`
}

// Modify handles PUT /prescriptions/{id}. The version the caller read
// must be supplied in If-Match; a stale version is rejected with 409.
func (h *PrescriptionHandler) Modify(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	expectedVersion, err := strconv.Atoi(r.Header.Get("If-Match"))
	if err != nil {
		jsonError(w, "If-Match header with the read version is required", http.StatusBadRequest)
		return
	}

	var req ModifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	rx, err := h.engine.ModifyPrescription(ctx, id, expectedVersion, engine.ModifyParams{
		Dosage:              req.Dosage,
		Route:               req.Route,
		FrequencyCode:       req.FrequencyCode,
		End:                 req.End,
		DoseUnits:           req.DoseUnits,
		Actor:               middleware.GetStaffID(ctx),
		AcknowledgeFindings: req.AcknowledgeFindings,
	})
	if err != nil {
		writeEngineError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, rx)
}

// DiscontinueRequest is the request body for discontinuing
type DiscontinueRequest struct {
	Reason string `json:"reason"`
}

// Discontinue handles POST /prescriptions/{id}/discontinue
func (h *PrescriptionHandler) Discontinue(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	var req DiscontinueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if err := h.engine.DiscontinuePrescription(ctx, id, req.Reason, middleware.GetStaffID(ctx)); err != nil {
		writeEngineError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{"id": id, "status": "discontinued"})
}

// Slots handles GET /prescriptions/{id}/slots
func (h *PrescriptionHandler) Slots(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	if _, err := h.engine.Prescription(ctx, id); err != nil {
		writeEngineError(w, err)
		return
	}

	slots, err := h.engine.Slots(ctx, id)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, slots)
}

// GetEvents handles GET /prescriptions/{id}/events
func (h *PrescriptionHandler) GetEvents(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	if h.events == nil {
		jsonError(w, "event store not configured", http.StatusNotImplemented)
		return
	}

	events, err := h.events.GetEvents(ctx, id)
	if err != nil {
		jsonError(w, "failed to get events", http.StatusInternalServerError)
		return
	}

	respondJSON(w, http.StatusOK, events)
}
