package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	audit "consentvault/pkg/platform/audit"
	txcontext "consentvault/pkg/platform/tx"
)

// Store implements audit.Store on the audit_events table. When a transaction
// is bound to the context the row is written through it, so the audit entry
// commits atomically with the ledger or key mutation it describes.
type Store struct {
	db *sql.DB
}

// New creates a PostgreSQL audit store.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Append inserts one audit row.
func (s *Store) Append(ctx context.Context, event audit.Event) error {
	detail, err := json.Marshal(event.Detail)
	if err != nil {
		return fmt.Errorf("marshal audit detail: %w", err)
	}

	query := `
		INSERT INTO audit_events (id, action, subject, request_id, detail, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err = txcontext.Executor(ctx, s.db).ExecContext(ctx, query,
		event.ID,
		string(event.Action),
		event.Subject,
		event.RequestID,
		detail,
		event.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}
	return nil
}

// ListByAction returns persisted events for one action, oldest first.
func (s *Store) ListByAction(ctx context.Context, action audit.Action) ([]audit.Event, error) {
	rows, err := txcontext.Executor(ctx, s.db).QueryContext(ctx, `
		SELECT id, action, subject, request_id, detail, created_at
		FROM audit_events
		WHERE action = $1
		ORDER BY created_at, id
	`, string(action))
	if err != nil {
		return nil, fmt.Errorf("list audit events: %w", err)
	}
	defer rows.Close()

	var events []audit.Event
	for rows.Next() {
		var (
			e      audit.Event
			act    string
			detail []byte
		)
		if err := rows.Scan(&e.ID, &act, &e.Subject, &e.RequestID, &detail, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		e.Action = audit.Action(act)
		if len(detail) > 0 {
			if err := json.Unmarshal(detail, &e.Detail); err != nil {
				return nil, fmt.Errorf("decode audit detail: %w", err)
			}
		}
		events = append(events, e)
	}
	return events, rows.Err()
}
