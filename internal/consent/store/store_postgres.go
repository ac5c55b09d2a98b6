package store

import (
	"context"
	"database/sql"
	"fmt"

	sq "github.com/Masterminds/squirrel"

	"consentvault/internal/consent/models"
	"consentvault/internal/platform/postgres"
	"consentvault/pkg/domain"
	"consentvault/pkg/platform/sentinel"
	txcontext "consentvault/pkg/platform/tx"
)

const validationHashConstraint = "consents_validation_hash_key"

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

var consentColumns = []string{"id", "subject_pseudonym", "policy_id", "created_at", "channel", "status", "validation_hash"}

// PostgresStore appends to and reads the consents table. Writes use the
// transaction carried in the context when there is one.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Append inserts rec and sets its id. A validation hash collision returns
// sentinel.ErrConflict; an unknown policy id returns sentinel.ErrNotFound.
func (s *PostgresStore) Append(ctx context.Context, rec *models.ConsentRecord) error {
	query, args, err := psql.Insert("consents").
		Columns("subject_pseudonym", "policy_id", "created_at", "channel", "status", "validation_hash").
		Values(rec.SubjectPseudonym, int64(rec.PolicyID), rec.CreatedAt, string(rec.Channel), string(rec.Status), rec.ValidationHash).
		Suffix("RETURNING id").
		ToSql()
	if err != nil {
		return fmt.Errorf("build consent insert: %w", err)
	}
	err = txcontext.Executor(ctx, s.db).QueryRowContext(ctx, query, args...).Scan(&rec.ID)
	switch {
	case err == nil:
		return nil
	case postgres.IsUniqueViolation(err, validationHashConstraint):
		return sentinel.ErrConflict
	case postgres.IsForeignKeyViolation(err):
		return sentinel.ErrNotFound
	default:
		return fmt.Errorf("insert consent: %w", err)
	}
}

func (s *PostgresStore) ListByPseudonym(ctx context.Context, pseudonym string) ([]models.ConsentRecord, error) {
	return s.list(ctx, sq.Eq{"subject_pseudonym": pseudonym})
}

func (s *PostgresStore) ListByPolicy(ctx context.Context, policy domain.PolicyID) ([]models.ConsentRecord, error) {
	return s.list(ctx, sq.Eq{"policy_id": int64(policy)})
}

func (s *PostgresStore) list(ctx context.Context, where sq.Sqlizer) ([]models.ConsentRecord, error) {
	query, args, err := psql.Select(consentColumns...).From("consents").
		Where(where).
		OrderBy("created_at DESC", "id DESC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build consent list: %w", err)
	}
	rows, err := txcontext.Executor(ctx, s.db).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list consents: %w", err)
	}
	defer rows.Close()

	out := make([]models.ConsentRecord, 0)
	for rows.Next() {
		var (
			r        models.ConsentRecord
			policyID int64
			channel  string
			status   string
		)
		if err := rows.Scan(&r.ID, &r.SubjectPseudonym, &policyID, &r.CreatedAt, &channel, &status, &r.ValidationHash); err != nil {
			return nil, fmt.Errorf("scan consent: %w", err)
		}
		r.PolicyID = domain.PolicyID(policyID)
		r.Channel = domain.Channel(channel)
		r.Status = domain.ConsentStatus(status)
		r.CreatedAt = r.CreatedAt.UTC()
		out = append(out, r)
	}
	return out, rows.Err()
}
