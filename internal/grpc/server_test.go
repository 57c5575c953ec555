package grpc

import (
	"context"
	"log/slog"
	"net"
	"sync"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/narvanalabs/gpufleet/internal/models"
)

type chanSubscriber struct {
	ch chan models.WorkerStatus
}

func (c *chanSubscriber) Subscribe() (<-chan models.WorkerStatus, func()) {
	return c.ch, func() {}
}

// listLister serves a mutable record set.
type listLister struct {
	mu   sync.Mutex
	recs []models.WorkerStatus
}

func (l *listLister) List() []models.WorkerStatus {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]models.WorkerStatus(nil), l.recs...)
}

func (l *listLister) set(recs ...models.WorkerStatus) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.recs = recs
}

func startTestServer(t *testing.T, workers []models.WorkerConfig) (*Server, healthpb.HealthClient) {
	t.Helper()
	return startTestServerWithConfig(t, DefaultConfig(), workers)
}

func startTestServerWithConfig(t *testing.T, cfg *Config, workers []models.WorkerConfig) (*Server, healthpb.HealthClient) {
	t.Helper()

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to listen: %v", err)
	}

	srv := NewServer(cfg, workers, slog.Default())
	go srv.Serve(lis)
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient(lis.Addr().String(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		t.Fatalf("failed to dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	return srv, healthpb.NewHealthClient(conn)
}

func check(t *testing.T, client healthpb.HealthClient, service string) healthpb.HealthCheckResponse_ServingStatus {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	resp, err := client.Check(ctx, &healthpb.HealthCheckRequest{Service: service})
	if err != nil {
		t.Fatalf("Check(%q): %v", service, err)
	}
	return resp.Status
}

func TestOverallServiceIsServing(t *testing.T) {
	_, client := startTestServer(t, nil)

	if got := check(t, client, ""); got != healthpb.HealthCheckResponse_SERVING {
		t.Errorf("status = %v, want SERVING", got)
	}
}

func TestWorkerServicesFollowRecords(t *testing.T) {
	workers := []models.WorkerConfig{{ID: "w1", Name: "w1", Host: "10.0.0.1", Port: 5001}}
	srv, client := startTestServer(t, workers)

	if got := check(t, client, WorkerServicePrefix+"w1"); got != healthpb.HealthCheckResponse_UNKNOWN {
		t.Errorf("initial status = %v, want UNKNOWN", got)
	}

	sub := &chanSubscriber{ch: make(chan models.WorkerStatus, 1)}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	srv.TrackWorkers(ctx, sub, &listLister{recs: []models.WorkerStatus{{ID: "w1", State: models.WorkerStateUnknown}}})

	sub.ch <- models.WorkerStatus{ID: "w1", Online: true}

	deadline := time.Now().Add(2 * time.Second)
	for check(t, client, WorkerServicePrefix+"w1") != healthpb.HealthCheckResponse_SERVING {
		if time.Now().After(deadline) {
			t.Fatal("worker service never became SERVING")
		}
		time.Sleep(10 * time.Millisecond)
	}

	// Liveness is independent of worker reachability.
	srv.SetWorkerStatus(models.WorkerStatus{ID: "w1", Online: false})
	if got := check(t, client, WorkerServicePrefix+"w1"); got != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Errorf("worker status = %v, want NOT_SERVING", got)
	}
	if got := check(t, client, ""); got != healthpb.HealthCheckResponse_SERVING {
		t.Errorf("overall status = %v, want SERVING", got)
	}
}

func TestMarkNotServing(t *testing.T) {
	srv, client := startTestServer(t, nil)

	srv.MarkNotServing()

	if got := check(t, client, ""); got != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Errorf("status = %v, want NOT_SERVING", got)
	}
}

func waitForStatus(t *testing.T, client healthpb.HealthClient, service string, want healthpb.HealthCheckResponse_ServingStatus) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for check(t, client, service) != want {
		if time.Now().After(deadline) {
			t.Fatalf("%q never reached %v", service, want)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

// Updates dropped by the subscription are recovered from the record set.
func TestWorkerServicesResync(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ResyncInterval = 20 * time.Millisecond
	workers := []models.WorkerConfig{
		{ID: "w1", Name: "w1", Host: "10.0.0.1", Port: 5001},
		{ID: "w2", Name: "w2", Host: "10.0.0.2", Port: 5001},
	}
	srv, client := startTestServerWithConfig(t, cfg, workers)

	lister := &listLister{}
	lister.set(
		models.WorkerStatus{ID: "w1", State: models.WorkerStateOffline},
		models.WorkerStatus{ID: "w2", State: models.WorkerStateUnknown},
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	// The subscription never delivers anything.
	srv.TrackWorkers(ctx, &chanSubscriber{ch: make(chan models.WorkerStatus)}, lister)

	if got := check(t, client, WorkerServicePrefix+"w1"); got != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Errorf("w1 after initial sync = %v, want NOT_SERVING", got)
	}
	if got := check(t, client, WorkerServicePrefix+"w2"); got != healthpb.HealthCheckResponse_UNKNOWN {
		t.Errorf("w2 after initial sync = %v, want UNKNOWN", got)
	}

	lister.set(
		models.WorkerStatus{ID: "w1", State: models.WorkerStateOnline, Online: true},
		models.WorkerStatus{ID: "w2", State: models.WorkerStateOffline},
	)
	waitForStatus(t, client, WorkerServicePrefix+"w1", healthpb.HealthCheckResponse_SERVING)
	waitForStatus(t, client, WorkerServicePrefix+"w2", healthpb.HealthCheckResponse_NOT_SERVING)
}
