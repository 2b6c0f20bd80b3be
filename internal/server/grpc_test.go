package server

import (
	"context"
	"encoding/base64"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health/grpc_health_v1"

	"github.com/go-charity/auth-server/internal/audit"
	healthhandler "github.com/go-charity/auth-server/internal/health/handler"
	identityhandler "github.com/go-charity/auth-server/internal/identity/handler"
	"github.com/go-charity/auth-server/internal/identity/service"
	"github.com/go-charity/auth-server/internal/security"
	"github.com/go-charity/auth-server/internal/server/middleware"
)

// mockServiceRegistrar implements grpc.ServiceRegistrar for testing.
type mockServiceRegistrar struct {
	services []string
}

func (m *mockServiceRegistrar) RegisterService(desc *grpc.ServiceDesc, impl interface{}) {
	m.services = append(m.services, desc.ServiceName)
}

func TestRegisterServices_Health(t *testing.T) {
	reg := &mockServiceRegistrar{}
	RegisterServices(reg, healthhandler.NewServer(nil, nil))
	if len(reg.services) != 1 || reg.services[0] != "grpc.health.v1.Health" {
		t.Errorf("services = %v, want [grpc.health.v1.Health]", reg.services)
	}
}

func TestRegisterServices_NilHealth(t *testing.T) {
	reg := &mockServiceRegistrar{}
	RegisterServices(reg, nil)
	if len(reg.services) != 0 {
		t.Errorf("services = %v, want none", reg.services)
	}
}

func TestGRPCServer_HealthRoundTrip(t *testing.T) {
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	health := healthhandler.NewServer(nil, nil)
	s := NewGRPCServer(health)
	go func() { _ = s.Serve(lis) }()
	defer s.GracefulStop()

	conn, err := grpc.NewClient(lis.Addr().String(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	client := grpc_health_v1.NewHealthClient(conn)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	resp, err := client.Check(ctx, &grpc_health_v1.HealthCheckRequest{})
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if resp.GetStatus() != grpc_health_v1.HealthCheckResponse_NOT_SERVING {
		t.Errorf("before first check = %v, want NOT_SERVING", resp.GetStatus())
	}
	health.Check(ctx)
	resp, err = client.Check(ctx, &grpc_health_v1.HealthCheckRequest{Service: healthhandler.ServiceName})
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if resp.GetStatus() != grpc_health_v1.HealthCheckResponse_SERVING {
		t.Errorf("after check = %v, want SERVING", resp.GetStatus())
	}
}

type stubTokens struct{}

func (stubTokens) ValidateToken(ctx context.Context, access, refreshID string, scope security.Scope, ttl time.Duration) (*service.Validation, error) {
	return &service.Validation{Claim: &security.Claim{SubjectID: "u1", Role: "primary"}}, nil
}

func (stubTokens) Refresh(ctx context.Context, access, refreshID string) (*service.TokenPair, error) {
	return nil, service.ErrRefreshTokenInvalid
}

type recordingAudit struct {
	mu      sync.Mutex
	entries []audit.Entry
}

func (r *recordingAudit) LogEvent(ctx context.Context, e audit.Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, e)
}

func newTestHandler(a *recordingAudit) http.Handler {
	auth := identityhandler.NewAuthHandler(nil, nil, stubTokens{}, nil, identityhandler.Options{})
	return NewHTTPHandler(Deps{Auth: auth, Audit: a, APIKey: "k3y"})
}

func TestHTTPHandler_APIKeyGate(t *testing.T) {
	a := &recordingAudit{}
	h := newTestHandler(a)

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/v1/token/validate", strings.NewReader(`{"access_token":"t"}`)))
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("without key: code = %d, want 401", rr.Code)
	}

	req := httptest.NewRequest(http.MethodPost, "/v1/token/validate", strings.NewReader(`{"access_token":"t"}`))
	req.Header.Set(middleware.HeaderAPIKey, base64.StdEncoding.EncodeToString([]byte("k3y")))
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("with key: code = %d, want 200; body %s", rr.Code, rr.Body.String())
	}

	if len(a.entries) != 2 {
		t.Fatalf("audit entries = %d, want 2", len(a.entries))
	}
	if a.entries[0].Status != http.StatusUnauthorized || a.entries[0].UserID != "" {
		t.Errorf("rejected entry = %+v", a.entries[0])
	}
	if a.entries[1].UserID != "u1" || a.entries[1].Action != "validate" {
		t.Errorf("accepted entry = %+v", a.entries[1])
	}
}

func TestHTTPHandler_ProbesSkipGate(t *testing.T) {
	a := &recordingAudit{}
	h := newTestHandler(a)
	for _, path := range []string{LivenessPath, ReadinessPath} {
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
		if rr.Code != http.StatusOK {
			t.Errorf("%s: code = %d, want 200", path, rr.Code)
		}
	}
	if len(a.entries) != 0 {
		t.Errorf("probes must not be audited, got %d entries", len(a.entries))
	}
}
