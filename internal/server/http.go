package server

import (
	"net/http"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/go-charity/auth-server/internal/audit"
	identityhandler "github.com/go-charity/auth-server/internal/identity/handler"
	"github.com/go-charity/auth-server/internal/logging"
	"github.com/go-charity/auth-server/internal/server/middleware"
	"github.com/go-charity/auth-server/internal/telemetry"
)

// Paths served outside the /v1 API. The probes bypass the API key, audit and telemetry middleware.
const (
	LivenessPath  = "/healthz"
	ReadinessPath = "/readyz"
	// DevOutboxPath serves captured OTP emails in development. It stays behind the API key.
	DevOutboxPath = "/dev/outbox"
)

// Deps holds the handlers and ambient services the HTTP server is built from.
type Deps struct {
	// Auth serves the /v1 API. Required.
	Auth *identityhandler.AuthHandler
	// Readiness answers ReadinessPath. If nil, ReadinessPath behaves like LivenessPath.
	Readiness http.Handler
	// Audit receives one entry per API request. If nil, requests are not audited.
	Audit audit.AuditLogger
	// Events receives an http_request event per API request. If nil, requests are only logged.
	Events telemetry.EventEmitter
	// DevOutbox, when set, is mounted at DevOutboxPath. Only set outside production.
	DevOutbox http.Handler
	// APIKey is the pre-shared key every /v1 request must carry.
	APIKey string
	Log    logging.Logger
}

// NewHTTPHandler returns the root handler: routes wrapped in client IP, telemetry, audit and API key
// middleware (outermost first), instrumented with otelhttp.
func NewHTTPHandler(deps Deps) http.Handler {
	log := deps.Log
	if log == nil {
		log = logging.Discard()
	}
	mux := http.NewServeMux()
	deps.Auth.Register(mux)
	live := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.Handle("GET "+LivenessPath, live)
	ready := deps.Readiness
	if ready == nil {
		ready = live
	}
	mux.Handle("GET "+ReadinessPath, ready)
	if deps.DevOutbox != nil {
		mux.Handle("GET "+DevOutboxPath, deps.DevOutbox)
	}

	skip := map[string]bool{LivenessPath: true, ReadinessPath: true}
	h := middleware.Chain(mux,
		middleware.ClientIP,
		middleware.Telemetry(deps.Events, skip, log),
		middleware.Audit(deps.Audit, skip),
		middleware.APIKey(deps.APIKey, skip, log),
	)
	return otelhttp.NewHandler(h, "auth-server",
		otelhttp.WithFilter(func(r *http.Request) bool { return !skip[r.URL.Path] }),
	)
}
