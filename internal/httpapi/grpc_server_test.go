package httpapi

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"defitown.org/internal/access"
	"defitown.org/internal/account"
	"defitown.org/internal/chain"
	"defitown.org/internal/factory"
	"defitown.org/internal/obs"
	"defitown.org/internal/registry"
)

const bufSize = 1024 * 1024

func startBufGRPC(t *testing.T, srv *GRPCServer) *grpc.ClientConn {
	t.Helper()
	restore := obs.SetLogger(zap.NewNop())
	t.Cleanup(restore)

	listener := bufconn.Listen(bufSize)
	go func() {
		if err := srv.Serve(listener); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			t.Logf("grpc serve error: %v", err)
		}
	}()

	conn, err := grpc.NewClient(
		"passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return listener.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("dial bufnet: %v", err)
	}
	t.Cleanup(func() {
		_ = conn.Close()
		srv.Stop()
		_ = listener.Close()
	})
	return conn
}

type staticReadiness struct{ err error }

func (s staticReadiness) Check(context.Context) error { return s.err }

func TestGRPCHealthFollowsReadiness(t *testing.T) {
	ready := &staticReadiness{}
	srv := NewGRPCServer(ready, "1.2.3")
	conn := startBufGRPC(t, srv)
	client := healthpb.NewHealthClient(conn)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	resp, err := client.Check(ctx, &healthpb.HealthCheckRequest{Service: serviceName})
	if err != nil {
		t.Fatalf("Check error: %v", err)
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Fatalf("expected NOT_SERVING before the first check, got %s", resp.GetStatus())
	}

	if !srv.Refresh(ctx) {
		t.Fatal("expected ready")
	}
	resp, err = client.Check(ctx, &healthpb.HealthCheckRequest{Service: serviceName})
	if err != nil {
		t.Fatalf("Check error: %v", err)
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		t.Fatalf("unexpected status: %s", resp.GetStatus())
	}
}

func TestGRPCHealthFailure(t *testing.T) {
	srv := NewGRPCServer(staticReadiness{err: errors.New("boom")}, "1.0.0")
	conn := startBufGRPC(t, srv)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if srv.Refresh(ctx) {
		t.Fatal("expected not ready")
	}
	resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{})
	if err != nil {
		t.Fatalf("Check error: %v", err)
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Fatalf("unexpected status: %s", resp.GetStatus())
	}

	_, err = healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{Service: "unknown"})
	if status.Code(err) != codes.NotFound {
		t.Fatalf("expected NotFound for unknown service, got %v", err)
	}
}

func TestGRPCStatusMapping(t *testing.T) {
	cases := []struct {
		err  error
		code codes.Code
	}{
		{registry.ErrNotRegistered, codes.NotFound},
		{access.ErrEnforcedPause, codes.FailedPrecondition},
		{&account.ExecutionError{Index: 1, Err: errors.New("boom")}, codes.Aborted},
		{factory.ErrInvalidEntryPoint, codes.InvalidArgument},
		{account.ErrInvalidOwner, codes.InvalidArgument},
		{chain.ErrLengthMismatch, codes.InvalidArgument},
		{errors.New("boom"), codes.Internal},
		{status.Error(codes.ResourceExhausted, "slow down"), codes.ResourceExhausted},
	}
	for _, tc := range cases {
		if got := status.Code(grpcStatus(tc.err)); got != tc.code {
			t.Fatalf("%v: expected %s, got %s", tc.err, tc.code, got)
		}
	}
	if grpcStatus(nil) != nil {
		t.Fatal("nil should stay nil")
	}
}

func TestUnaryInterceptorMapsErrors(t *testing.T) {
	restore := obs.SetLogger(zap.NewNop())
	defer restore()
	info := &grpc.UnaryServerInfo{FullMethod: "/town.v1/Place"}
	_, err := unaryInterceptor(context.Background(), nil, info, func(context.Context, any) (any, error) {
		return nil, access.ErrUnauthorized
	})
	if status.Code(err) != codes.PermissionDenied {
		t.Fatalf("expected PermissionDenied, got %v", err)
	}
}
