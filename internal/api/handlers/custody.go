package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/carebridge/medsafe/internal/api/middleware"
	"github.com/carebridge/medsafe/internal/domain/custody"
	"github.com/carebridge/medsafe/internal/engine"
)

// CustodyHandler handles controlled-substance custody endpoints
type CustodyHandler struct {
	engine *engine.Engine
	store  custody.Store
	logger *zap.Logger
}

// NewCustodyHandler creates a new handler
func NewCustodyHandler(eng *engine.Engine, store custody.Store, logger *zap.Logger) *CustodyHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CustodyHandler{engine: eng, store: store, logger: logger}
}

// Routes returns the handler routes
func (h *CustodyHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/{stockItemID}/entries", h.Entries)
	r.Post("/{stockItemID}/entries", h.Append)
	r.Post("/{stockItemID}/reconcile", h.Reconcile)
	r.Post("/{stockItemID}/clear-freeze", h.ClearFreeze)
	return r
}

// Entries handles GET /custody/{stockItemID}/entries
func (h *CustodyHandler) Entries(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	stockItemID := chi.URLParam(r, "stockItemID")

	entries, err := h.store.Entries(ctx, stockItemID)
	if err != nil {
		jsonError(w, "failed to load entries", http.StatusInternalServerError)
		return
	}

	respondJSON(w, http.StatusOK, entries)
}

// AppendRequest is the request body for a stock movement
type AppendRequest struct {
	Type     string `json:"type"`
	Delta    int64  `json:"delta"`
	Witness1 string `json:"witness_1,omitempty"`
	Witness2 string `json:"witness_2,omitempty"`
	Note     string `json:"note,omitempty"`
}

// Append handles POST /custody/{stockItemID}/entries
func (h *CustodyHandler) Append(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	stockItemID := chi.URLParam(r, "stockItemID")

	var req AppendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	entry, err := h.engine.AppendCustodyEntry(ctx, stockItemID, custody.AppendParams{
		Type:     custody.EntryType(req.Type),
		Delta:    req.Delta,
		Witness1: req.Witness1,
		Witness2: req.Witness2,
		Actor:    middleware.GetStaffID(ctx),
		Note:     req.Note,
	})
	if err != nil {
		writeEngineError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, entry)
}

// Reconcile handles POST /custody/{stockItemID}/reconcile
func (h *CustodyHandler) Reconcile(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	stockItemID := chi.URLParam(r, "stockItemID")

	report, err := h.engine.ReconcileCustody(ctx, stockItemID)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	if !report.Consistent {
		h.logger.Warn("custody reconciliation discrepancy",
			zap.String("stock_item_id", stockItemID),
			zap.Int64("stored_balance", report.StoredBalance),
			zap.Int64("recomputed_balance", report.RecomputedBalance),
			zap.Bool("chain_intact", report.ChainIntact))
	}

	respondJSON(w, http.StatusOK, report)
}

// ClearFreezeRequest is the request body for lifting a freeze
type ClearFreezeRequest struct {
	Reason string `json:"reason"`
}

// ClearFreeze handles POST /custody/{stockItemID}/clear-freeze
func (h *CustodyHandler) ClearFreeze(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	stockItemID := chi.URLParam(r, "stockItemID")

	var req ClearFreezeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if err := h.engine.ClearCustodyFreeze(ctx, stockItemID, middleware.GetStaffID(ctx), req.Reason); err != nil {
		writeEngineError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{"stock_item_id": stockItemID, "frozen": "false"})
}
