package prescription

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// Repository persists lifecycle audit events to Postgres. The event
// table is append-only; current state lives in the engine's stores, the
// event log is the reconstructable who/when/why history.
type Repository struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewRepository creates a new repository.
func NewRepository(pool *pgxpool.Pool, logger *zap.Logger) *Repository {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Repository{pool: pool, logger: logger}
}

// SaveEvents persists a prescription's uncommitted events in one
// transaction and clears them on success.
func (r *Repository) SaveEvents(ctx context.Context, p *Prescription) error {
	if len(p.Changes()) == 0 {
		return nil
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, event := range p.Changes() {
		if err := r.insertEvent(ctx, tx, event); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	p.ClearChanges()
	return nil
}

func (r *Repository) insertEvent(ctx context.Context, tx pgx.Tx, event *Event) error {
	query := `
		INSERT INTO prescription_events
		(id, prescription_id, event_type, actor, reason, version, timestamp)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := tx.Exec(ctx, query,
		event.ID,
		event.PrescriptionID,
		event.EventType,
		event.Actor,
		event.Reason,
		event.Version,
		event.Timestamp,
	)
	return err
}

// GetEvents retrieves the full audit history for a prescription in
// version order.
func (r *Repository) GetEvents(ctx context.Context, prescriptionID string) ([]*Event, error) {
	query := `
		SELECT id, prescription_id, event_type, actor, reason, version, timestamp
		FROM prescription_events
		WHERE prescription_id = $1
		ORDER BY version ASC
	`

	rows, err := r.pool.Query(ctx, query, prescriptionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*Event
	for rows.Next() {
		e := &Event{}
		err := rows.Scan(
			&e.ID, &e.PrescriptionID, &e.EventType,
			&e.Actor, &e.Reason, &e.Version, &e.Timestamp,
		)
		if err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}
