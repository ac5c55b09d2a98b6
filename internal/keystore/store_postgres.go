package keystore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"consentvault/pkg/domain"
	"consentvault/pkg/platform/sentinel"
	txcontext "consentvault/pkg/platform/tx"
)

// PostgresStore persists subject keys in the subject_keys table. Every query
// runs on the transaction bound to the context when there is one.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// FindBySubject takes a share lock so a concurrent forget waits for the
// enclosing consent write to commit.
func (s *PostgresStore) FindBySubject(ctx context.Context, subject domain.SubjectID) (*Record, error) {
	query := `
		SELECT subject_id, state, wrapped_key, kek_id, created_at, forgotten_at
		FROM subject_keys
		WHERE subject_id = $1
		FOR SHARE
	`
	var (
		rec         Record
		state       string
		kekID       sql.NullString
		forgottenAt sql.NullTime
	)
	err := txcontext.Executor(ctx, s.db).QueryRowContext(ctx, query, int64(subject)).Scan(
		&rec.SubjectID, &state, &rec.WrappedKey, &kekID, &rec.CreatedAt, &forgottenAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find subject key: %w", err)
	}
	rec.State = State(state)
	rec.KEKID = kekID.String
	if forgottenAt.Valid {
		t := forgottenAt.Time
		rec.ForgottenAt = &t
	}
	return &rec, nil
}

// InsertIfAbsent relies on ON CONFLICT DO NOTHING; a losing writer re-reads
// the winner's row instead of overwriting it.
func (s *PostgresStore) InsertIfAbsent(ctx context.Context, rec Record) (*Record, bool, error) {
	query := `
		INSERT INTO subject_keys (subject_id, state, wrapped_key, kek_id, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (subject_id) DO NOTHING
	`
	res, err := txcontext.Executor(ctx, s.db).ExecContext(ctx, query,
		int64(rec.SubjectID), string(rec.State), rec.WrappedKey, rec.KEKID, rec.CreatedAt,
	)
	if err != nil {
		return nil, false, fmt.Errorf("insert subject key: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, false, fmt.Errorf("insert subject key rows affected: %w", err)
	}

	stored, err := s.FindBySubject(ctx, rec.SubjectID)
	if err != nil {
		return nil, false, err
	}
	return stored, affected == 1, nil
}

func (s *PostgresStore) MarkForgotten(ctx context.Context, subject domain.SubjectID, at time.Time) (bool, error) {
	query := `
		UPDATE subject_keys
		SET state = 'forgotten', wrapped_key = NULL, kek_id = NULL, forgotten_at = $2
		WHERE subject_id = $1 AND state = 'active'
	`
	res, err := txcontext.Executor(ctx, s.db).ExecContext(ctx, query, int64(subject), at)
	if err != nil {
		return false, fmt.Errorf("forget subject key: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("forget subject key rows affected: %w", err)
	}
	return affected == 1, nil
}
