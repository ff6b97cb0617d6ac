package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/carebridge/medsafe/internal/api/middleware"
	"github.com/carebridge/medsafe/internal/domain/alert"
)

// AlertHandler handles alert endpoints
type AlertHandler struct {
	alerts *alert.Engine
	logger *zap.Logger
}

// NewAlertHandler creates a new handler
func NewAlertHandler(alerts *alert.Engine, logger *zap.Logger) *AlertHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AlertHandler{alerts: alerts, logger: logger}
}

// Routes returns the handler routes
func (h *AlertHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.Unacknowledged)
	r.Get("/{id}", h.Get)
	r.Post("/{id}/acknowledge", h.Acknowledge)
	r.Post("/{id}/resolve", h.Resolve)
	return r
}

// Unacknowledged handles GET /alerts
func (h *AlertHandler) Unacknowledged(w http.ResponseWriter, r *http.Request) {
	alerts, err := h.alerts.Unacknowledged(r.Context())
	if err != nil {
		jsonError(w, "failed to load alerts", http.StatusInternalServerError)
		return
	}
	respondJSON(w, http.StatusOK, alerts)
}

// Get handles GET /alerts/{id}
func (h *AlertHandler) Get(w http.ResponseWriter, r *http.Request) {
	a, err := h.alerts.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, a)
}

// Acknowledge handles POST /alerts/{id}/acknowledge. Acknowledging
// stops escalation re-fires; it is idempotent.
func (h *AlertHandler) Acknowledge(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	if err := h.alerts.Acknowledge(ctx, id, middleware.GetStaffID(ctx)); err != nil {
		writeEngineError(w, err)
		return
	}

	h.logger.Info("alert acknowledged",
		zap.String("alert_id", id),
		zap.String("staff_id", middleware.GetStaffID(ctx)))

	respondJSON(w, http.StatusOK, map[string]string{"id": id, "acknowledged": "true"})
}

// Resolve handles POST /alerts/{id}/resolve
func (h *AlertHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	if err := h.alerts.Resolve(ctx, id, middleware.GetStaffID(ctx)); err != nil {
		writeEngineError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{"id": id, "resolved": "true"})
}
