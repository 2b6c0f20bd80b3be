package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-charity/auth-server/internal/otp/domain"
)

type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns an OTP record repository backed by db.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Replace upserts the record on its email primary key, invalidating any earlier code.
func (r *PostgresRepository) Replace(ctx context.Context, rec *domain.Record) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO otp_records (email, code_hash, expires_at, created_at) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (email) DO UPDATE SET code_hash = EXCLUDED.code_hash, expires_at = EXCLUDED.expires_at, created_at = EXCLUDED.created_at`,
		rec.Email, rec.CodeHash, rec.ExpiresAt, rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

// Find returns the OTP record for email, or nil if there is none.
func (r *PostgresRepository) Find(ctx context.Context, email string) (*domain.Record, error) {
	rec := domain.Record{}
	err := r.db.QueryRowContext(ctx,
		`SELECT email, code_hash, expires_at, created_at FROM otp_records WHERE email = $1`,
		email,
	).Scan(&rec.Email, &rec.CodeHash, &rec.ExpiresAt, &rec.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return &rec, nil
}

// Delete removes the record if it still holds codeHash.
func (r *PostgresRepository) Delete(ctx context.Context, email, codeHash string) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM otp_records WHERE email = $1 AND code_hash = $2`,
		email, codeHash,
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
	res, err := r.db.ExecContext(ctx, `DELETE FROM otp_records WHERE expires_at <= $1`, before)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return res.RowsAffected()
}
