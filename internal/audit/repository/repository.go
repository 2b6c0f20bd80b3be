package repository

import (
	"context"
	"time"

	"github.com/go-charity/auth-server/internal/audit/domain"
)

// Repository defines persistence for audit logs.
type Repository interface {
	Create(ctx context.Context, a *domain.AuditLog) error
	// DeleteBefore purges rows older than the retention cut-off.
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}
