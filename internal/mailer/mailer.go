// Package mailer delivers transactional email (OTP codes) through SMTP or, in development, an in-memory outbox.
package mailer

import (
	"context"
	"errors"
	"strings"
)

// ErrRejected is returned when the transport refused the message.
var ErrRejected = errors.New("mail rejected")

// Message is a single HTML email.
type Message struct {
	From     string
	To       string
	Subject  string
	HTMLBody string
}

// Receipt reports what the transport said about a message.
type Receipt struct {
	Accepted bool
	Detail   string
}

// Dispatcher sends a message. Implementations block until the transport accepts or refuses it.
type Dispatcher interface {
	Send(ctx context.Context, msg Message) (Receipt, error)
}

func (m Message) validate() error {
	if strings.TrimSpace(m.From) == "" || strings.TrimSpace(m.To) == "" {
		return errors.New("mail: from and to are required")
	}
	if strings.ContainsAny(m.From+m.To+m.Subject, "\r\n") {
		return errors.New("mail: header values must not contain line breaks")
	}
	return nil
}
