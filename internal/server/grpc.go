package server

import (
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health/grpc_health_v1"

	healthhandler "github.com/go-charity/auth-server/internal/health/handler"
)

// NewGRPCServer returns a gRPC server exposing only grpc.health.v1, instrumented with otelgrpc.
func NewGRPCServer(health *healthhandler.Server, opts ...grpc.ServerOption) *grpc.Server {
	opts = append([]grpc.ServerOption{grpc.StatsHandler(otelgrpc.NewServerHandler())}, opts...)
	s := grpc.NewServer(opts...)
	RegisterServices(s, health)
	return s
}

// RegisterServices registers the health service on s.
func RegisterServices(s grpc.ServiceRegistrar, health *healthhandler.Server) {
	if health == nil {
		return
	}
	grpc_health_v1.RegisterHealthServer(s, health.Health())
}
