package domain

import "time"

// Event is an auth lifecycle event published to telemetry sinks (Kafka, OTel logs).
type Event struct {
	ID        string            `json:"id"`
	Type      string            `json:"type"` // e.g. account.created, token.rotated
	UserID    string            `json:"user_id,omitempty"`
	Outcome   string            `json:"outcome"` // success | failure
	Source    string            `json:"source"`
	Attrs     map[string]string `json:"attrs,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}
