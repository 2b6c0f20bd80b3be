package audit

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/go-charity/auth-server/internal/audit/domain"
	auditrepo "github.com/go-charity/auth-server/internal/audit/repository"
	"github.com/go-charity/auth-server/internal/logging"
)

// Outcomes recorded on audit entries.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// IPExtractor returns the client IP from the request context.
type IPExtractor func(context.Context) string

// Entry is the caller-supplied part of an audit record.
type Entry struct {
	UserID   string
	Action   string
	Resource string
	Status   int
	Metadata string
}

// AuditLogger records a single audit event. LogEvent is best-effort: failures are logged
// and do not affect the caller.
type AuditLogger interface {
	LogEvent(ctx context.Context, e Entry)
}

// Logger implements AuditLogger using the audit repository and an optional IP extractor.
type Logger struct {
	repo        auditrepo.Repository
	ipExtractor IPExtractor
	log         logging.Logger
	now         func() time.Time
}

// NewLogger returns an AuditLogger that persists to repo and uses ipExtractor for client IP.
// ipExtractor may be nil; then IP is recorded as "unknown".
func NewLogger(repo auditrepo.Repository, ipExtractor IPExtractor, log logging.Logger) *Logger {
	if log == nil {
		log = logging.Discard()
	}
	return &Logger{repo: repo, ipExtractor: ipExtractor, log: log, now: func() time.Time { return time.Now().UTC() }}
}

// LogEvent writes one audit log entry. Status codes below 400 are recorded as success.
func (l *Logger) LogEvent(ctx context.Context, e Entry) {
	if l == nil || l.repo == nil {
		return
	}
	ip := "unknown"
	if l.ipExtractor != nil {
		ip = l.ipExtractor(ctx)
	}
	outcome := OutcomeSuccess
	if e.Status >= 400 {
		outcome = OutcomeFailure
	}
	entry := &domain.AuditLog{
		ID:        uuid.New().String(),
		UserID:    e.UserID,
		Action:    e.Action,
		Resource:  e.Resource,
		Outcome:   outcome,
		Status:    e.Status,
		IP:        ip,
		Metadata:  e.Metadata,
		CreatedAt: l.now(),
	}
	if err := l.repo.Create(ctx, entry); err != nil {
		l.log.Warn(ctx, "audit: failed to log event", "action", e.Action, "resource", e.Resource, "error", err)
	}
}
