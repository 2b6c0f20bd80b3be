package domain

import "time"

// StagedProfile holds human-facing account metadata captured at registration.
// It is not needed to authenticate; it is read once when the account is first
// verified and pushed to the account service.
type StagedProfile struct {
	ID        string
	UserID    string
	FullName  string
	Phone     string
	Tagline   string
	CreatedAt time.Time
}
