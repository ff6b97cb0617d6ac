package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/carebridge/medsafe/internal/api/middleware"
	"github.com/carebridge/medsafe/internal/engine"
	"github.com/carebridge/medsafe/pkg/idempotency"
)

// SlotHandler handles administration slot endpoints
type SlotHandler struct {
	engine *engine.Engine
	inbox  *idempotency.Inbox // nil disables idempotent replay
	logger *zap.Logger
}

// NewSlotHandler creates a new handler
func NewSlotHandler(eng *engine.Engine, inbox *idempotency.Inbox, logger *zap.Logger) *SlotHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SlotHandler{engine: eng, inbox: inbox, logger: logger}
}

// Routes returns the handler routes
func (h *SlotHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/{id}/resolve", h.Resolve)
	return r
}

// ResolveRequest is the request body for resolving a slot
type ResolveRequest struct {
	Outcome        string `json:"outcome"`
	Note           string `json:"note,omitempty"`
	Witness1       string `json:"witness_1,omitempty"`
	Witness2       string `json:"witness_2,omitempty"`
	Override       bool   `json:"override,omitempty"`
	OverrideReason string `json:"override_reason,omitempty"`
}

// Resolve handles POST /slots/{id}/resolve. When an inbox is
// configured, a retried request with the same actor, slot, outcome and
// minute returns the original result instead of re-recording a dose.
func (h *SlotHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tracer := otel.Tracer("slot-handler")
	ctx, span := tracer.Start(ctx, "resolve_slot")
	defer span.End()

	id := chi.URLParam(r, "id")
	span.SetAttributes(attribute.String("slot_id", id))

	var req ResolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	actor := middleware.GetStaffID(ctx)
	params := engine.ResolveParams{
		Outcome:        engine.Outcome(req.Outcome),
		Actor:          actor,
		Note:           req.Note,
		Witness1:       req.Witness1,
		Witness2:       req.Witness2,
		Override:       req.Override,
		OverrideReason: req.OverrideReason,
	}

	if h.inbox == nil {
		slot, err := h.engine.ResolveSlot(ctx, id, params)
		if err != nil {
			writeEngineError(w, err)
			return
		}
		respondJSON(w, http.StatusOK, slot)
		return
	}

	key := idempotency.GenerateKey(actor, id, req.Outcome, time.Now().UTC())
	payload, _ := json.Marshal(req)

	result, err := h.inbox.Process(ctx, key, "resolve_slot", payload, func(ctx context.Context, _ json.RawMessage) (json.RawMessage, error) {
		slot, err := h.engine.ResolveSlot(ctx, id, params)
		if err != nil {
			return nil, err
		}
		return json.Marshal(slot)
	})
	if err != nil {
		writeEngineError(w, err)
		return
	}

	if !result.IsNew {
		h.logger.Info("duplicate slot resolution replayed",
			zap.String("slot_id", id),
			zap.String("request_id", middleware.GetRequestID(ctx)))
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(result.Result)
}
