package httpapi

import (
	"context"
	"net"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
	"google.golang.org/grpc/status"

	"defitown.org/internal/obs"
)

// GRPCServer exposes the standard gRPC health service, driven by the same
// readiness check as /readyz.
type GRPCServer struct {
	srv       *grpc.Server
	health    *health.Server
	readiness readinessChecker
	version   string
}

func NewGRPCServer(r readinessChecker, version string) *GRPCServer {
	s := &GRPCServer{
		srv:       grpc.NewServer(grpc.ChainUnaryInterceptor(unaryInterceptor)),
		health:    health.NewServer(),
		readiness: r,
		version:   version,
	}
	healthpb.RegisterHealthServer(s.srv, s.health)
	reflection.Register(s.srv)
	s.health.SetServingStatus(serviceName, healthpb.HealthCheckResponse_NOT_SERVING)
	return s
}

// Server is the underlying grpc.Server, for registering more services.
func (s *GRPCServer) Server() *grpc.Server { return s.srv }

// Refresh runs the readiness check once and publishes the result for both
// the overall ("") and the named service.
func (s *GRPCServer) Refresh(ctx context.Context) bool {
	st := healthpb.HealthCheckResponse_SERVING
	ok := true
	if err := s.readiness.Check(ctx); err != nil {
		st = healthpb.HealthCheckResponse_NOT_SERVING
		ok = false
		obs.Logger().Warn("grpc readiness failed", zap.Error(err))
	}
	obs.SetReady(ok)
	s.health.SetServingStatus("", st)
	s.health.SetServingStatus(serviceName, st)
	return ok
}

// Watch refreshes readiness every interval until ctx ends.
func (s *GRPCServer) Watch(ctx context.Context, interval time.Duration) {
	s.Refresh(ctx)
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			s.Refresh(ctx)
		}
	}
}

func (s *GRPCServer) Serve(lis net.Listener) error {
	obs.Logger().Info("grpc listening", zap.String("addr", lis.Addr().String()), zap.String("version", s.version))
	return s.srv.Serve(lis)
}

// Stop marks every service not serving, then drains.
func (s *GRPCServer) Stop() {
	s.health.Shutdown()
	s.srv.GracefulStop()
}

// unaryInterceptor logs each call and maps town errors to gRPC codes.
func unaryInterceptor(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	start := time.Now()
	resp, err := handler(ctx, req)
	err = grpcStatus(err)
	obs.Logger().Info("grpc_request",
		zap.String("method", info.FullMethod),
		zap.String("code", status.Code(err).String()),
		zap.Int64("duration_ms", time.Since(start).Milliseconds()),
	)
	return resp, err
}
