package repository

import (
	"context"
	"time"

	"github.com/go-charity/auth-server/internal/refresh/domain"
)

// Repository defines persistence for refresh records. Records are addressed by the pair
// (id, subject); an id presented with the wrong subject behaves as if it did not exist.
type Repository interface {
	Create(ctx context.Context, r *domain.Record) error
	// Find returns the record or nil if no record matches (id, subjectID). Expired records are returned.
	Find(ctx context.Context, id, subjectID string) (*domain.Record, error)
	// Delete removes the record and reports whether this call removed it. Of several
	// concurrent callers at most one observes true.
	Delete(ctx context.Context, id, subjectID string) (bool, error)
	// DeleteExpired purges records with expires_at <= before and returns how many were removed.
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}
