package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-charity/auth-server/internal/refresh/domain"
	"github.com/go-charity/auth-server/internal/security"
)

type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns a refresh record repository backed by db.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Create stores the record keyed by the hash of its id.
func (r *PostgresRepository) Create(ctx context.Context, rec *domain.Record) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO refresh_records (id_hash, subject_id, role, scope, mode, expires_at, valid_days, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		security.HashRefreshID(rec.ID), rec.SubjectID, rec.Role, string(rec.Scope), string(rec.Mode),
		rec.ExpiresAt, rec.ValidDays, rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

// Find returns the record for (id, subjectID), or nil if not found.
func (r *PostgresRepository) Find(ctx context.Context, id, subjectID string) (*domain.Record, error) {
	var (
		rec   = domain.Record{ID: id}
		scope string
		mode  string
	)
	err := r.db.QueryRowContext(ctx,
		`SELECT subject_id, role, scope, mode, expires_at, valid_days, created_at
		 FROM refresh_records WHERE id_hash = $1 AND subject_id = $2`,
		security.HashRefreshID(id), subjectID,
	).Scan(&rec.SubjectID, &rec.Role, &scope, &mode, &rec.ExpiresAt, &rec.ValidDays, &rec.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	rec.Scope = security.Scope(scope)
	rec.Mode = security.Mode(mode)
	return &rec, nil
}

// Delete removes the record for (id, subjectID). The affected row count is the
// serialization point for concurrent redemptions.
func (r *PostgresRepository) Delete(ctx context.Context, id, subjectID string) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM refresh_records WHERE id_hash = $1 AND subject_id = $2`,
		security.HashRefreshID(id), subjectID,
	)
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	return n > 0, nil
}

// DeleteExpired removes every record with expires_at <= before.
func (r *PostgresRepository) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM refresh_records WHERE expires_at <= $1`, before)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return res.RowsAffected()
}
