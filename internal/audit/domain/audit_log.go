package domain

import "time"

// AuditLog is one audited API request.
type AuditLog struct {
	ID        string
	UserID    string // empty for unauthenticated requests such as register or login
	Action    string
	Resource  string
	Outcome   string // success | failure
	Status    int
	IP        string
	Metadata  string
	CreatedAt time.Time
}
