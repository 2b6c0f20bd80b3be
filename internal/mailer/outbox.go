package mailer

import (
	"context"
	"strings"
	"sync"
	"time"
)

// outboxRetention bounds how long a captured message can be read back.
const outboxRetention = time.Hour

type outboxEntry struct {
	msg      Message
	storedAt time.Time
}

// Outbox is a development Dispatcher that keeps the latest message per recipient in memory
// instead of sending it. Never enabled in production (see config).
type Outbox struct {
	mu   sync.RWMutex
	m    map[string]outboxEntry
	nowF func() time.Time
}

// NewOutbox returns an empty in-memory outbox.
func NewOutbox() *Outbox {
	return &Outbox{
		m:    make(map[string]outboxEntry),
		nowF: time.Now,
	}
}

// Send records msg as the latest message for its recipient.
func (o *Outbox) Send(ctx context.Context, msg Message) (Receipt, error) {
	if err := msg.validate(); err != nil {
		return Receipt{}, err
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	o.m[outboxKey(msg.To)] = outboxEntry{msg: msg, storedAt: o.nowF()}
	return Receipt{Accepted: true, Detail: "stored in dev outbox"}, nil
}

// Latest returns the most recent message sent to addr, if it has not aged out.
func (o *Outbox) Latest(addr string) (Message, bool) {
	key := outboxKey(addr)
	o.mu.RLock()
	e, ok := o.m[key]
	o.mu.RUnlock()
	if !ok {
		return Message{}, false
	}
	if o.nowF().Sub(e.storedAt) >= outboxRetention {
		o.mu.Lock()
		delete(o.m, key)
		o.mu.Unlock()
		return Message{}, false
	}
	return e.msg, true
}

func outboxKey(addr string) string {
	return strings.ToLower(strings.TrimSpace(addr))
}
