package mailer

import (
	"bytes"
	"context"
	"fmt"
	"mime"
	"net"
	"net/smtp"
	"time"
)

type sendMailFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// SMTPDispatcher sends mail through an SMTP relay with PLAIN auth (STARTTLS is negotiated by net/smtp when offered).
type SMTPDispatcher struct {
	addr     string
	auth     smtp.Auth
	sendMail sendMailFunc
	now      func() time.Time
}

// NewSMTPDispatcher returns a dispatcher for addr (host:port). Empty username disables auth.
func NewSMTPDispatcher(addr, username, password string) (*SMTPDispatcher, error) {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, fmt.Errorf("mail: smtp addr %q: %w", addr, err)
	}
	var auth smtp.Auth
	if username != "" {
		auth = smtp.PlainAuth("", username, password, host)
	}
	return &SMTPDispatcher{addr: addr, auth: auth, sendMail: smtp.SendMail, now: time.Now}, nil
}

// Send delivers msg. The context deadline bounds the whole exchange; net/smtp itself is not context-aware,
// so a cancelled context returns early while the dial finishes in the background.
func (d *SMTPDispatcher) Send(ctx context.Context, msg Message) (Receipt, error) {
	if err := msg.validate(); err != nil {
		return Receipt{}, err
	}
	raw := d.render(msg)
	done := make(chan error, 1)
	go func() {
		done <- d.sendMail(d.addr, d.auth, msg.From, []string{msg.To}, raw)
	}()
	select {
	case <-ctx.Done():
		return Receipt{}, ctx.Err()
	case err := <-done:
		if err != nil {
			return Receipt{Accepted: false, Detail: err.Error()}, fmt.Errorf("%w: %v", ErrRejected, err)
		}
		return Receipt{Accepted: true, Detail: "250 accepted"}, nil
	}
}

func (d *SMTPDispatcher) render(msg Message) []byte {
	var b bytes.Buffer
	fmt.Fprintf(&b, "From: %s\r\n", msg.From)
	fmt.Fprintf(&b, "To: %s\r\n", msg.To)
	fmt.Fprintf(&b, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", msg.Subject))
	fmt.Fprintf(&b, "Date: %s\r\n", d.now().UTC().Format(time.RFC1123Z))
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/html; charset=\"utf-8\"\r\n")
	b.WriteString("\r\n")
	b.WriteString(msg.HTMLBody)
	return b.Bytes()
}
