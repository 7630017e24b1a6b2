package grpc

import (
	"context"
	"errors"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/dmitrijs2005/certkeeper/internal/logging"
)

type switchPinger struct {
	down atomic.Bool
}

func (p *switchPinger) PingContext(context.Context) error {
	if p.down.Load() {
		return errors.New("connection refused")
	}
	return nil
}

func startServer(t *testing.T, db Pinger, interval time.Duration) healthpb.HealthClient {
	t.Helper()

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- NewHealthServer("", db, interval, logging.Nop()).Serve(ctx, lis)
	}()

	conn, err := grpc.NewClient(lis.Addr().String(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() {
		_ = conn.Close()
		cancel()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Error("server did not stop after context cancel")
		}
	})
	return healthpb.NewHealthClient(conn)
}

func check(t *testing.T, c healthpb.HealthClient, service string) healthpb.HealthCheckResponse_ServingStatus {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	resp, err := c.Check(ctx, &healthpb.HealthCheckRequest{Service: service})
	if err != nil {
		t.Fatalf("Check(%q): %v", service, err)
	}
	return resp.GetStatus()
}

func TestHealth_ServingWithoutStorage(t *testing.T) {
	c := startServer(t, nil, time.Hour)

	for _, svc := range []string{"", ServiceName} {
		if got := check(t, c, svc); got != healthpb.HealthCheckResponse_SERVING {
			t.Fatalf("service %q: got %v, want SERVING", svc, got)
		}
	}
}

func TestHealth_FollowsStorage(t *testing.T) {
	db := &switchPinger{}
	db.down.Store(true)
	c := startServer(t, db, 20*time.Millisecond)

	if got := check(t, c, ""); got != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Fatalf("got %v, want NOT_SERVING", got)
	}

	db.down.Store(false)
	deadline := time.Now().Add(2 * time.Second)
	for check(t, c, "") != healthpb.HealthCheckResponse_SERVING {
		if time.Now().After(deadline) {
			t.Fatal("status never recovered to SERVING")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestRun_ReturnsErrorOnBadAddress(t *testing.T) {
	t.Parallel()

	srv := NewHealthServer("127.0.0.1:99999", nil, time.Second, logging.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := srv.Run(ctx); err == nil {
		t.Fatal("expected error from Run on bad address, got nil")
	}
}

func TestNewHealthServer_DefaultInterval(t *testing.T) {
	srv := NewHealthServer(":0", nil, 0, logging.Nop())
	if srv.interval != 10*time.Second {
		t.Fatalf("interval = %v, want 10s", srv.interval)
	}
}
