// Package gateway is the thin external-facing seam gateway_enabled toggles.
// The real workflow gateway (command submission, record queries) is an
// external collaborator out of scope here; this package only stands up a
// gRPC server exposing the standard health-checking service, so an
// operator can point a load balancer or orchestrator readiness probe at
// something real instead of a stub that always says "ok".
package gateway

import (
	"context"
	"fmt"
	"net"

	"github.com/cuemby/brokerd/pkg/health"
	"github.com/cuemby/brokerd/pkg/log"
	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health/grpc_health_v1"
)

// Server is a minimal gRPC gateway: a health.Monitor translated into the
// standard grpc_health_v1 service, nothing else.
type Server struct {
	addr    string
	monitor *health.Monitor
	grpc    *grpc.Server
	log     zerolog.Logger
}

// NewServer builds a gateway server bound to addr, reporting monitor's
// aggregate state through the standard gRPC health-checking protocol.
func NewServer(addr string, monitor *health.Monitor) *Server {
	grpcServer := grpc.NewServer()
	s := &Server{
		addr:    addr,
		monitor: monitor,
		grpc:    grpcServer,
		log:     log.WithComponent("gateway"),
	}
	grpc_health_v1.RegisterHealthServer(grpcServer, healthService{monitor: monitor})
	return s
}

// Start listens on addr and serves until Stop is called or Serve itself
// fails. Run it on its own goroutine, the same way the teacher's
// pkg/api.Server.Start is meant to be called.
func (s *Server) Start() error {
	lis, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("gateway: listen on %s: %w", s.addr, err)
	}
	s.log.Info().Str("addr", s.addr).Msg("gateway listening")
	return s.grpc.Serve(lis)
}

// Stop gracefully drains in-flight RPCs and shuts the server down.
func (s *Server) Stop() {
	s.grpc.GracefulStop()
}

// healthService adapts a *health.Monitor to grpc_health_v1.HealthServer.
type healthService struct {
	grpc_health_v1.UnimplementedHealthServer
	monitor *health.Monitor
}

func (h healthService) Check(ctx context.Context, req *grpc_health_v1.HealthCheckRequest) (*grpc_health_v1.HealthCheckResponse, error) {
	status := grpc_health_v1.HealthCheckResponse_SERVING
	switch h.monitor.State() {
	case health.Unhealthy, health.Dead:
		status = grpc_health_v1.HealthCheckResponse_NOT_SERVING
	}
	return &grpc_health_v1.HealthCheckResponse{Status: status}, nil
}

func (h healthService) Watch(req *grpc_health_v1.HealthCheckRequest, stream grpc_health_v1.Health_WatchServer) error {
	resp, err := h.Check(stream.Context(), req)
	if err != nil {
		return err
	}
	return stream.Send(resp)
}
