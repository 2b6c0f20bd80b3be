package repository

import (
	"context"

	"github.com/go-charity/auth-server/internal/user/domain"
)

// Repository defines persistence for users.
type Repository interface {
	GetByID(ctx context.Context, id string) (*domain.User, error)
	GetByEmail(ctx context.Context, email string) (*domain.User, error)
	// Create returns domain.ErrDuplicateEmail when the email is already registered.
	Create(ctx context.Context, u *domain.User) error
	Delete(ctx context.Context, id string) error
	// MarkEmailVerified sets email_verified and reports whether this call flipped it (first verification).
	MarkEmailVerified(ctx context.Context, id string) (bool, error)
	UnmarkEmailVerified(ctx context.Context, id string) error
}
