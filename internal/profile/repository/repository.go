package repository

import (
	"context"

	"github.com/go-charity/auth-server/internal/profile/domain"
)

// Repository defines persistence for staged profiles.
type Repository interface {
	Create(ctx context.Context, p *domain.StagedProfile) error
	GetByUserID(ctx context.Context, userID string) (*domain.StagedProfile, error)
}
