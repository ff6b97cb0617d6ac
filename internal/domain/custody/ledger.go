// Package custody implements the controlled-substance custody ledger:
// an append-only, dual-witness-verified, hash-chained record of stock
// movements with balance reconciliation.
package custody

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// EntryType classifies a ledger entry.
type EntryType string

const (
	EntryReceipt        EntryType = "receipt"
	EntryAdministration EntryType = "administration"
	EntryDestruction    EntryType = "destruction"
	EntryAdjustment     EntryType = "adjustment"
)

// Entry is one immutable ledger record. Corrections are new entries
// referencing the original via CorrectionOf, never edits.
type Entry struct {
	ID           string    `json:"id"`
	StockItemID  string    `json:"stock_item_id"`
	Type         EntryType `json:"type"`
	Delta        int64     `json:"delta"`
	Balance      int64     `json:"balance"`
	Witness1     string    `json:"witness1"`
	Witness2     string    `json:"witness2,omitempty"`
	RecordedBy   string    `json:"recorded_by"`
	RecordedAt   time.Time `json:"recorded_at"`
	Note         string    `json:"note,omitempty"`
	CorrectionOf string    `json:"correction_of,omitempty"`
	PrevHash     string    `json:"prev_hash"`
	Hash         string    `json:"hash"`
}

// ComputeHash derives the tamper-evidence hash over the entry's
// immutable fields and the previous entry's hash.
func (e *Entry) ComputeHash() string {
	payload := fmt.Sprintf("%s|%s|%s|%d|%d|%s|%s|%s|%d|%s",
		e.StockItemID, e.Type, e.ID, e.Delta, e.Balance,
		e.Witness1, e.Witness2, e.RecordedBy, e.RecordedAt.UnixNano(), e.PrevHash)
	sum := sha256.Sum256([]byte(payload))
	return hex.EncodeToString(sum[:])
}

// Validation errors. All of them are fatal to the specific append; none
// has a retry-and-succeed path.
var (
	ErrWitnessRequired  = errors.New("two distinct witnesses are required")
	ErrNegativeBalance  = errors.New("entry would drive balance negative")
	ErrChainBroken      = errors.New("custody hash chain broken")
	ErrStockItemFrozen  = errors.New("stock item frozen pending manual clearance")
	ErrBalanceMismatch  = errors.New("stored running balance does not match recomputation")
	ErrUnknownEntryType = errors.New("unknown custody entry type")
)

// Store is the append-only entry table for one or more stock items.
type Store interface {
	Append(ctx context.Context, e *Entry) error
	Entries(ctx context.Context, stockItemID string) ([]*Entry, error)
	Last(ctx context.Context, stockItemID string) (*Entry, error) // nil, nil when empty
}

// AlertSink receives custody discrepancy notifications.
type AlertSink interface {
	CustodyDiscrepancy(ctx context.Context, stockItemID, detail string)
}

// ReconciliationReport is the outcome of an independent balance
// recomputation. Mismatches are reported, never auto-corrected.
type ReconciliationReport struct {
	StockItemID       string    `json:"stock_item_id"`
	Entries           int       `json:"entries"`
	StoredBalance     int64     `json:"stored_balance"`
	RecomputedBalance int64     `json:"recomputed_balance"`
	ChainIntact       bool      `json:"chain_intact"`
	BrokenAt          string    `json:"broken_at,omitempty"` // entry id of first break
	Consistent        bool      `json:"consistent"`
	ReconciledAt      time.Time `json:"reconciled_at"`
}

// Ledger guards the custody invariants per stock item. All mutations
// for a stock item are serialized behind its lock; distinct stock items
// never contend.
type Ledger struct {
	store  Store
	alerts AlertSink
	logger *zap.Logger
	tracer trace.Tracer
	now    func() time.Time

	mu     sync.Mutex
	locks  map[string]*sync.Mutex
	frozen map[string]bool
}

// NewLedger creates a custody ledger over the given store.
func NewLedger(store Store, alerts AlertSink, logger *zap.Logger) *Ledger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ledger{
		store:  store,
		alerts: alerts,
		logger: logger,
		tracer: otel.Tracer("custody-ledger"),
		now:    time.Now,
		locks:  make(map[string]*sync.Mutex),
		frozen: make(map[string]bool),
	}
}

func (l *Ledger) lock(stockItemID string) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	m, ok := l.locks[stockItemID]
	if !ok {
		m = &sync.Mutex{}
		l.locks[stockItemID] = m
	}
	return m
}

// AppendParams carries the caller-supplied fields of a new entry.
type AppendParams struct {
	Type         EntryType
	Delta        int64
	Witness1     string
	Witness2     string
	Actor        string
	Note         string
	CorrectionOf string
}

// Append validates and appends one entry for a stock item. Witness
// checks run first, then the balance invariant, then hash chaining.
func (l *Ledger) Append(ctx context.Context, stockItemID string, p AppendParams) (*Entry, error) {
	ctx, span := l.tracer.Start(ctx, "custody_append",
		trace.WithAttributes(
			attribute.String("stock_item_id", stockItemID),
			attribute.String("entry_type", string(p.Type)),
		))
	defer span.End()

	switch p.Type {
	case EntryReceipt, EntryAdministration, EntryDestruction, EntryAdjustment:
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEntryType, p.Type)
	}

	if p.Type == EntryAdministration || p.Type == EntryDestruction {
		if p.Witness1 == "" || p.Witness2 == "" || p.Witness1 == p.Witness2 {
			return nil, ErrWitnessRequired
		}
	}

	mu := l.lock(stockItemID)
	mu.Lock()
	defer mu.Unlock()

	if l.isFrozen(stockItemID) && (p.Type == EntryAdministration || p.Type == EntryDestruction) {
		return nil, fmt.Errorf("%w: %s", ErrStockItemFrozen, stockItemID)
	}

	last, err := l.store.Last(ctx, stockItemID)
	if err != nil {
		return nil, fmt.Errorf("load ledger head: %w", err)
	}

	var balance int64
	prevHash := ""
	if last != nil {
		balance = last.Balance
		prevHash = last.Hash
	}
	newBalance := balance + p.Delta
	if newBalance < 0 {
		return nil, fmt.Errorf("%w: balance %d, delta %d", ErrNegativeBalance, balance, p.Delta)
	}

	entry := &Entry{
		ID:           uuid.New().String(),
		StockItemID:  stockItemID,
		Type:         p.Type,
		Delta:        p.Delta,
		Balance:      newBalance,
		Witness1:     p.Witness1,
		Witness2:     p.Witness2,
		RecordedBy:   p.Actor,
		RecordedAt:   l.now().UTC(),
		Note:         p.Note,
		CorrectionOf: p.CorrectionOf,
		PrevHash:     prevHash,
	}
	entry.Hash = entry.ComputeHash()

	if err := l.store.Append(ctx, entry); err != nil {
		return nil, fmt.Errorf("append entry: %w", err)
	}

	l.logger.Info("custody entry appended",
		zap.String("stock_item_id", stockItemID),
		zap.String("entry_id", entry.ID),
		zap.String("type", string(p.Type)),
		zap.Int64("delta", p.Delta),
		zap.Int64("balance", newBalance))

	return entry, nil
}

// Reconcile independently recomputes the running balance and hash chain
// from entry zero. Any mismatch freezes administration and destruction
// entries for the stock item and raises a critical discrepancy alert.
func (l *Ledger) Reconcile(ctx context.Context, stockItemID string) (*ReconciliationReport, error) {
	ctx, span := l.tracer.Start(ctx, "custody_reconcile",
		trace.WithAttributes(attribute.String("stock_item_id", stockItemID)))
	defer span.End()

	mu := l.lock(stockItemID)
	mu.Lock()
	defer mu.Unlock()

	entries, err := l.store.Entries(ctx, stockItemID)
	if err != nil {
		return nil, fmt.Errorf("load entries: %w", err)
	}

	report := &ReconciliationReport{
		StockItemID:  stockItemID,
		Entries:      len(entries),
		ChainIntact:  true,
		Consistent:   true,
		ReconciledAt: l.now().UTC(),
	}

	var recomputed int64
	prevHash := ""
	for _, e := range entries {
		recomputed += e.Delta
		if e.PrevHash != prevHash || e.Hash != e.ComputeHash() {
			if report.ChainIntact {
				report.ChainIntact = false
				report.BrokenAt = e.ID
			}
		}
		prevHash = e.Hash
	}
	report.RecomputedBalance = recomputed
	if len(entries) > 0 {
		report.StoredBalance = entries[len(entries)-1].Balance
	}

	if recomputed != report.StoredBalance {
		report.Consistent = false
	}
	if !report.ChainIntact {
		report.Consistent = false
	}

	if !report.Consistent {
		l.frozenSet(stockItemID, true)
		detail := fmt.Sprintf("stored balance %d, recomputed %d, chain intact %t",
			report.StoredBalance, report.RecomputedBalance, report.ChainIntact)
		l.logger.Error("custody discrepancy detected",
			zap.String("stock_item_id", stockItemID),
			zap.String("detail", detail))
		span.SetAttributes(attribute.Bool("discrepancy", true))
		if l.alerts != nil {
			l.alerts.CustodyDiscrepancy(ctx, stockItemID, detail)
		}
	}

	return report, nil
}

// Frozen reports whether administration/destruction entries are
// currently blocked for the stock item.
func (l *Ledger) Frozen(stockItemID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.frozen[stockItemID]
}

func (l *Ledger) isFrozen(stockItemID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.frozen[stockItemID]
}

func (l *Ledger) frozenSet(stockItemID string, v bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.frozen[stockItemID] = v
}

// ClearFreeze lifts a discrepancy freeze after manual clearance. A
// reason is mandatory; the clearance is logged with actor identity.
func (l *Ledger) ClearFreeze(ctx context.Context, stockItemID, actor, reason string) error {
	if reason == "" {
		return errors.New("clearance reason is required")
	}
	mu := l.lock(stockItemID)
	mu.Lock()
	defer mu.Unlock()

	if !l.isFrozen(stockItemID) {
		return nil
	}
	l.frozenSet(stockItemID, false)
	l.logger.Warn("custody freeze cleared",
		zap.String("stock_item_id", stockItemID),
		zap.String("actor", actor),
		zap.String("reason", reason))
	return nil
}
