package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/go-charity/auth-server/internal/profile/domain"
)

type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns a staged profile repository backed by db.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Create inserts the profile. user_id references users(id) with ON DELETE CASCADE.
func (r *PostgresRepository) Create(ctx context.Context, p *domain.StagedProfile) error {
	tagline := sql.NullString{String: p.Tagline, Valid: p.Tagline != ""}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO staged_profiles (id, user_id, full_name, phone, tagline, created_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		p.ID, p.UserID, p.FullName, p.Phone, tagline, p.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

// GetByUserID returns the staged profile for the user, or nil if there is none.
func (r *PostgresRepository) GetByUserID(ctx context.Context, userID string) (*domain.StagedProfile, error) {
	var (
		p       domain.StagedProfile
		tagline sql.NullString
	)
	err := r.db.QueryRowContext(ctx,
		`SELECT id, user_id, full_name, phone, tagline, created_at FROM staged_profiles WHERE user_id = $1`,
		userID,
	).Scan(&p.ID, &p.UserID, &p.FullName, &p.Phone, &tagline, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	p.Tagline = tagline.String
	return &p, nil
}
