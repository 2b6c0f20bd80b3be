package middleware

import (
	"context"
	"net/http"

	"github.com/go-charity/auth-server/internal/audit"
)

// Audit records one audit log entry after each request, attributed to the subject the handler
// set with SetSubjectID. Paths in skip are not audited. LogEvent is best-effort and never fails the request.
func Audit(logger audit.AuditLogger, skip map[string]bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			r, info := ensureRequestInfo(r)
			rec := &statusRecorder{ResponseWriter: w}
			next.ServeHTTP(rec, r)
			if logger == nil || skip[r.URL.Path] {
				return
			}
			ar := audit.ParseRoute(r.Method, r.URL.Path)
			logger.LogEvent(context.WithoutCancel(r.Context()), audit.Entry{
				UserID:   info.subjectID,
				Action:   ar.Action,
				Resource: ar.Resource,
				Status:   rec.code(),
			})
		})
	}
}
