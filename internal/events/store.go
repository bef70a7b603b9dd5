package events

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type db interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// Store writes wizard events to the wizard_events table (see migrations/).
type Store struct {
	db  db
	now func() time.Time
}

// NewStore accepts a *pgxpool.Pool or anything with the same Exec/Query.
func NewStore(conn db) *Store {
	if conn == nil {
		panic("events: db required")
	}
	return &Store{db: conn, now: time.Now}
}

// Record inserts event, filling in ID and CreatedAt when unset.
func (s *Store) Record(ctx context.Context, event WizardEvent) error {
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = s.now().UTC()
	}
	query := `
		INSERT INTO wizard_events (id, kiosk_id, registration_id, type, step, reason, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	if _, err := s.db.Exec(ctx, query,
		event.ID, event.KioskID, event.RegistrationID, event.Type, event.Step, event.Reason, event.CreatedAt,
	); err != nil {
		return fmt.Errorf("events: insert wizard event: %w", err)
	}
	return nil
}

// ListByKiosk returns the most recent events for a kiosk, newest first.
func (s *Store) ListByKiosk(ctx context.Context, kioskID string, limit int32) ([]WizardEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT id, kiosk_id, registration_id, type, step, reason, created_at
		FROM wizard_events
		WHERE kiosk_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`
	rows, err := s.db.Query(ctx, query, kioskID, limit)
	if err != nil {
		return nil, fmt.Errorf("events: list wizard events: %w", err)
	}
	defer rows.Close()

	var out []WizardEvent
	for rows.Next() {
		var e WizardEvent
		if err := rows.Scan(&e.ID, &e.KioskID, &e.RegistrationID, &e.Type, &e.Step, &e.Reason, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("events: scan wizard event: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
