package repository

import (
	"context"
	"time"

	"github.com/go-charity/auth-server/internal/otp/domain"
)

// Repository defines persistence for OTP records. There is at most one record per email.
type Repository interface {
	// Replace drops any existing record for rec.Email and stores rec (last writer wins).
	Replace(ctx context.Context, rec *domain.Record) error
	// Find returns the record for email or nil. Expired records are returned.
	Find(ctx context.Context, email string) (*domain.Record, error)
	// Delete removes the record for email only if it still carries codeHash, and reports
	// whether this call removed it.
	Delete(ctx context.Context, email, codeHash string) (bool, error)
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}
