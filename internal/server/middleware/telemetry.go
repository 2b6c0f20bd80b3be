package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/go-charity/auth-server/internal/logging"
	"github.com/go-charity/auth-server/internal/telemetry"
	"github.com/go-charity/auth-server/internal/telemetry/domain"
)

// Telemetry emits an http_request event after each request and logs it at debug level.
// Best-effort: emit failures are logged and do not fail the request. A nil emitter only logs.
func Telemetry(emitter telemetry.EventEmitter, skip map[string]bool, log logging.Logger) func(http.Handler) http.Handler {
	if log == nil {
		log = logging.Discard()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			r, info := ensureRequestInfo(r)
			rec := &statusRecorder{ResponseWriter: w}
			next.ServeHTTP(rec, r)
			if skip[r.URL.Path] {
				return
			}
			status := rec.code()
			elapsed := time.Since(start)
			log.Debug(r.Context(), "http request", "method", r.Method, "path", r.URL.Path, "status", status, "duration_ms", elapsed.Milliseconds())
			outcome := "success"
			if status >= 400 {
				outcome = "failure"
			}
			telemetry.EmitAsync(r.Context(), emitter, &domain.Event{
				ID:      uuid.NewString(),
				Type:    "http_request",
				UserID:  info.subjectID,
				Outcome: outcome,
				Source:  "http_middleware",
				Attrs: map[string]string{
					"method":      r.Method,
					"path":        r.URL.Path,
					"status_code": strconv.Itoa(status),
					"duration_ms": strconv.FormatInt(elapsed.Milliseconds(), 10),
					"client_ip":   ClientIPFromContext(r.Context()),
				},
				CreatedAt: start.UTC(),
			}, log)
		})
	}
}
