package service

import (
	"context"
	"time"

	otpdomain "github.com/go-charity/auth-server/internal/otp/domain"
	profiledomain "github.com/go-charity/auth-server/internal/profile/domain"
	refreshdomain "github.com/go-charity/auth-server/internal/refresh/domain"
	userdomain "github.com/go-charity/auth-server/internal/user/domain"
)

// UserRepo is the minimal user repository needed by the identity services.
type UserRepo interface {
	GetByID(ctx context.Context, id string) (*userdomain.User, error)
	GetByEmail(ctx context.Context, email string) (*userdomain.User, error)
	Create(ctx context.Context, u *userdomain.User) error
	Delete(ctx context.Context, id string) error
	MarkEmailVerified(ctx context.Context, id string) (bool, error)
	UnmarkEmailVerified(ctx context.Context, id string) error
}

// ProfileRepo is the minimal staged profile repository needed by the identity services.
type ProfileRepo interface {
	Create(ctx context.Context, p *profiledomain.StagedProfile) error
	GetByUserID(ctx context.Context, userID string) (*profiledomain.StagedProfile, error)
}

// RefreshStore persists refresh records. Delete must report true to at most one of several concurrent callers.
type RefreshStore interface {
	Create(ctx context.Context, r *refreshdomain.Record) error
	Find(ctx context.Context, id, subjectID string) (*refreshdomain.Record, error)
	Delete(ctx context.Context, id, subjectID string) (bool, error)
}

// OTPStore persists one OTP record per email.
type OTPStore interface {
	Replace(ctx context.Context, rec *otpdomain.Record) error
	Find(ctx context.Context, email string) (*otpdomain.Record, error)
	Delete(ctx context.Context, email, codeHash string) (bool, error)
}

// Clock returns the current time. Tests inject a fixed clock.
type Clock func() time.Time
