package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"time"

	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"

	"github.com/go-charity/auth-server/internal/logging"
)

// ServiceName is the gRPC health service name reported alongside the overall ("") status.
const ServiceName = "goCharity.auth.v1.AuthServer"

const pingTimeout = 2 * time.Second

// Pinger is a readiness dependency (e.g. *sql.DB).
type Pinger interface {
	PingContext(ctx context.Context) error
}

// PingFunc adapts a function to Pinger, e.g. func(ctx) error { return rdb.Ping(ctx).Err() }.
type PingFunc func(ctx context.Context) error

func (f PingFunc) PingContext(ctx context.Context) error { return f(ctx) }

// Server tracks readiness of the backing stores and publishes it through the standard
// grpc.health.v1 service and an HTTP probe.
type Server struct {
	health *health.Server
	checks map[string]Pinger
	log    logging.Logger
}

// NewServer returns a Server that starts NOT_SERVING until the first Check succeeds.
// Nil pingers are skipped.
func NewServer(checks map[string]Pinger, log logging.Logger) *Server {
	if log == nil {
		log = logging.Discard()
	}
	live := make(map[string]Pinger, len(checks))
	for name, p := range checks {
		if p != nil {
			live[name] = p
		}
	}
	s := &Server{health: health.NewServer(), checks: live, log: log}
	s.setStatus(grpc_health_v1.HealthCheckResponse_NOT_SERVING)
	return s
}

// Health returns the grpc_health_v1 implementation to register on a gRPC server.
func (s *Server) Health() grpc_health_v1.HealthServer {
	return s.health
}

// Check pings every dependency and updates the serving status. It returns the failures by name.
func (s *Server) Check(ctx context.Context) map[string]string {
	failures := make(map[string]string)
	for name, p := range s.checks {
		pctx, cancel := context.WithTimeout(ctx, pingTimeout)
		err := p.PingContext(pctx)
		cancel()
		if err != nil {
			failures[name] = err.Error()
		}
	}
	if len(failures) == 0 {
		s.setStatus(grpc_health_v1.HealthCheckResponse_SERVING)
	} else {
		s.log.Warn(ctx, "readiness check failed", "failures", failures)
		s.setStatus(grpc_health_v1.HealthCheckResponse_NOT_SERVING)
	}
	return failures
}

// Watch runs Check every interval until ctx is done.
func (s *Server) Watch(ctx context.Context, interval time.Duration) {
	s.Check(ctx)
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			s.Check(ctx)
		}
	}
}

// Shutdown reports NOT_SERVING to all watchers and ignores later updates.
func (s *Server) Shutdown() {
	s.health.Shutdown()
}

type readinessResponse struct {
	Status   string            `json:"status"`
	Checks   []string          `json:"checks"`
	Failures map[string]string `json:"failures,omitempty"`
}

// ServeHTTP answers readiness probes: 200 when every dependency pings, 503 otherwise.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	failures := s.Check(r.Context())
	names := make([]string, 0, len(s.checks))
	for name := range s.checks {
		names = append(names, name)
	}
	sort.Strings(names)
	body := readinessResponse{Status: "SERVING", Checks: names}
	code := http.StatusOK
	if len(failures) > 0 {
		body.Status, body.Failures, code = "NOT_SERVING", failures, http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}

func (s *Server) setStatus(st grpc_health_v1.HealthCheckResponse_ServingStatus) {
	s.health.SetServingStatus("", st)
	s.health.SetServingStatus(ServiceName, st)
}
