package domain

import "time"

// Record is the single live one-time passcode for an email. Only the bcrypt hash of
// the code is stored.
type Record struct {
	Email     string
	CodeHash  string
	ExpiresAt time.Time
	CreatedAt time.Time
}

// Expired reports whether the code can no longer be redeemed at now (expires_at <= now).
func (r *Record) Expired(now time.Time) bool {
	return !now.Before(r.ExpiresAt)
}
