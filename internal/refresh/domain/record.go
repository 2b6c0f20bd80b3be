package domain

import (
	"time"

	"github.com/go-charity/auth-server/internal/security"
)

// Record is a single-use refresh credential. Redeeming it deletes it and creates a
// successor with the same ExpiresAt, so rotation never extends a session.
type Record struct {
	ID        string // raw id as handed to the client; stores persist only its hash
	SubjectID string
	Role      string
	Scope     security.Scope
	Mode      security.Mode
	ExpiresAt time.Time
	ValidDays int // informational, carried across rotations
	CreatedAt time.Time
}

// Expired reports whether the record is no longer redeemable at now (expires_at <= now).
func (r *Record) Expired(now time.Time) bool {
	return !now.Before(r.ExpiresAt)
}

// Successor returns a new record with a fresh id that keeps the subject, scope, mode
// and absolute expiry of r.
func (r *Record) Successor(now time.Time) *Record {
	return &Record{
		ID:        security.NewRefreshID(),
		SubjectID: r.SubjectID,
		Role:      r.Role,
		Scope:     r.Scope,
		Mode:      r.Mode,
		ExpiresAt: r.ExpiresAt,
		ValidDays: r.ValidDays,
		CreatedAt: now,
	}
}
