package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/lib/pq"

	"consentvault/internal/platform/postgres"
	"consentvault/internal/policy/models"
	"consentvault/pkg/domain"
	"consentvault/pkg/platform/sentinel"
	txcontext "consentvault/pkg/platform/tx"
)

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

var policyColumns = []string{"id", "version", "published_at", "description", "storage_location", "content_hash"}

// PostgresStore reads and writes the policies table.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Create(ctx context.Context, p models.Policy) (*models.Policy, error) {
	query, args, err := psql.Insert("policies").
		Columns("version", "published_at", "description", "storage_location", "content_hash").
		Values(p.Version, p.PublishedAt, p.Description, p.StorageLocation, p.ContentHash).
		Suffix("RETURNING id").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build policy insert: %w", err)
	}
	var id int64
	if err := txcontext.Executor(ctx, s.db).QueryRowContext(ctx, query, args...).Scan(&id); err != nil {
		if postgres.IsUniqueViolation(err, "") {
			return nil, sentinel.ErrConflict
		}
		return nil, fmt.Errorf("insert policy: %w", err)
	}
	p.ID = domain.PolicyID(id)
	return &p, nil
}

func (s *PostgresStore) Get(ctx context.Context, id domain.PolicyID) (*models.Policy, error) {
	query, args, err := psql.Select(policyColumns...).From("policies").Where(sq.Eq{"id": int64(id)}).ToSql()
	if err != nil {
		return nil, fmt.Errorf("build policy select: %w", err)
	}
	p, err := scanPolicy(txcontext.Executor(ctx, s.db).QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("get policy: %w", err)
	}
	return p, nil
}

func (s *PostgresStore) List(ctx context.Context) ([]models.Policy, error) {
	query, args, err := psql.Select(policyColumns...).From("policies").
		OrderBy("published_at DESC", "id DESC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build policy list: %w", err)
	}
	rows, err := txcontext.Executor(ctx, s.db).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list policies: %w", err)
	}
	defer rows.Close()

	out := make([]models.Policy, 0)
	for rows.Next() {
		p, err := scanPolicy(rows)
		if err != nil {
			return nil, fmt.Errorf("scan policy: %w", err)
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

func (s *PostgresStore) Latest(ctx context.Context) (*models.Policy, error) {
	query, args, err := psql.Select(policyColumns...).From("policies").
		OrderBy("published_at DESC", "id DESC").
		Limit(1).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build latest policy: %w", err)
	}
	p, err := scanPolicy(txcontext.Executor(ctx, s.db).QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("latest policy: %w", err)
	}
	return p, nil
}

func (s *PostgresStore) Brief(ctx context.Context, id domain.PolicyID) (models.Brief, error) {
	var b models.Brief
	err := txcontext.Executor(ctx, s.db).QueryRowContext(ctx,
		`SELECT id, version, published_at FROM policies WHERE id = $1`, int64(id),
	).Scan(&b.ID, &b.Version, &b.PublishedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Brief{}, sentinel.ErrNotFound
		}
		return models.Brief{}, fmt.Errorf("policy brief: %w", err)
	}
	return b, nil
}

// Briefs loads several briefs in one round trip; unknown ids are absent from
// the result.
func (s *PostgresStore) Briefs(ctx context.Context, ids []domain.PolicyID) (map[domain.PolicyID]models.Brief, error) {
	out := make(map[domain.PolicyID]models.Brief, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	raw := make([]int64, len(ids))
	for i, id := range ids {
		raw[i] = int64(id)
	}
	rows, err := txcontext.Executor(ctx, s.db).QueryContext(ctx,
		`SELECT id, version, published_at FROM policies WHERE id = ANY($1)`, pq.Array(raw),
	)
	if err != nil {
		return nil, fmt.Errorf("policy briefs: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var b models.Brief
		if err := rows.Scan(&b.ID, &b.Version, &b.PublishedAt); err != nil {
			return nil, fmt.Errorf("scan policy brief: %w", err)
		}
		out[b.ID] = b
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPolicy(row rowScanner) (*models.Policy, error) {
	var p models.Policy
	if err := row.Scan(&p.ID, &p.Version, &p.PublishedAt, &p.Description, &p.StorageLocation, &p.ContentHash); err != nil {
		return nil, err
	}
	return &p, nil
}
