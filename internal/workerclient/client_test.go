package workerclient

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/narvanalabs/gpufleet/internal/models"
)

const validPayload = `{
  "timestamp": 1700000000.25,
  "system": {"hostname": "gpu-node-1", "cpu_model": "Xeon", "cpu_cores": 32, "cpu_usage": 12.5,
             "memory": {"total": 251.5, "used": 40.1, "available": 200.3, "percent": 20.4},
             "swap": {"total": 8, "used": 0, "free": 8, "percent": 0},
             "os": "Linux 6.1.0"},
  "gpus": [{"id": 0, "name": "NVIDIA A100", "memory": {"total": 40960, "used": 1024, "free": 39936},
            "utilization": 87, "temperature": 64, "power": {"current": 250.5, "max": 400},
            "processes": [{"pid": 4242, "name": "python", "username": "alice", "memory_mb": 1000, "cmdline": "python train.py"}]}]
}`

// workerFor points a WorkerConfig at an httptest server.
func workerFor(t *testing.T, srv *httptest.Server) models.WorkerConfig {
	t.Helper()
	host, portStr, err := net.SplitHostPort(strings.TrimPrefix(srv.URL, "http://"))
	if err != nil {
		t.Fatal(err)
	}
	port, _ := strconv.Atoi(portStr)
	return models.WorkerConfig{ID: "w1", Name: "node-1", Host: host, Port: port}
}

func newClient(timeout time.Duration) *Client {
	return New(&Config{Timeout: timeout}, slog.Default())
}

func TestFetchSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != InfoPath || r.Method != http.MethodGet {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(validPayload))
	}))
	defer srv.Close()

	snap, err := newClient(time.Second).Fetch(context.Background(), workerFor(t, srv))
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if snap.Timestamp != 1700000000.25 || snap.System.Hostname != "gpu-node-1" {
		t.Errorf("snapshot = %+v", snap)
	}
	if len(snap.GPUs) != 1 || snap.GPUs[0].Processes[0].Username != "alice" {
		t.Errorf("gpus = %+v", snap.GPUs)
	}
}

func TestFetchNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	w := workerFor(t, srv)
	_, err := newClient(time.Second).Fetch(context.Background(), w)

	var fe *FetchError
	if !errors.As(err, &fe) || fe.Kind != KindInvalidResponse {
		t.Fatalf("err = %v, want invalid_response", err)
	}
	if !errors.Is(err, ErrInvalidResponse) {
		t.Error("errors.Is(ErrInvalidResponse) = false")
	}
	want := "invalid_response: HTTP 503 from node-1 (" + w.Host + ")"
	if err.Error() != want {
		t.Errorf("message = %q, want %q", err.Error(), want)
	}
}

func TestFetchInvalidPayloads(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"malformed json", `{"timestamp": `},
		{"missing system", `{"timestamp": 1, "gpus": []}`},
		{"missing timestamp", `{"system": {}, "gpus": []}`},
		{"utilization out of range", `{"timestamp": 1, "system": {}, "gpus": [{"utilization": 140}]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			_, err := newClient(time.Second).Fetch(context.Background(), workerFor(t, srv))
			if !errors.Is(err, ErrInvalidResponse) {
				t.Errorf("err = %v, want invalid_response", err)
			}
		})
	}
}

func TestFetchOversizedBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(validPayload))
	}))
	defer srv.Close()

	c := New(&Config{Timeout: time.Second, MaxBodyBytes: 64}, slog.Default())
	_, err := c.Fetch(context.Background(), workerFor(t, srv))
	if !errors.Is(err, ErrInvalidResponse) || !strings.Contains(err.Error(), "exceeds 64 bytes") {
		t.Errorf("err = %v", err)
	}
}

func TestFetchTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	w := workerFor(t, srv)
	start := time.Now()
	_, err := newClient(100*time.Millisecond).Fetch(context.Background(), w)
	elapsed := time.Since(start)

	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("err = %v, want timeout", err)
	}
	if !strings.HasPrefix(err.Error(), "timeout: connection timeout to node-1 ("+w.Address()+")") {
		t.Errorf("message = %q", err.Error())
	}
	if elapsed > time.Second {
		t.Errorf("fetch took %v, not bounded by the timeout", elapsed)
	}
}

func TestFetchRefused(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := ln.Addr().(*net.TCPAddr)
	ln.Close()

	w := models.WorkerConfig{ID: "w1", Name: "node-1", Host: "127.0.0.1", Port: addr.Port}
	_, err = newClient(time.Second).Fetch(context.Background(), w)

	if !errors.Is(err, ErrUnreachable) {
		t.Fatalf("err = %v, want unreachable", err)
	}
	if !strings.HasPrefix(err.Error(), "unreachable: connection refused by node-1 (127.0.0.1:") {
		t.Errorf("message = %q", err.Error())
	}
	var fe *FetchError
	if errors.As(err, &fe) && fe.KindString() != "unreachable" {
		t.Errorf("kind = %s", fe.KindString())
	}
}

func TestFetchErrorMatching(t *testing.T) {
	err := &FetchError{Kind: KindTimeout, Message: "m"}
	if !errors.Is(err, ErrTimeout) || errors.Is(err, ErrUnreachable) || errors.Is(err, ErrInvalidResponse) {
		t.Error("sentinel matching is wrong")
	}
	if err.Error() != "timeout: m" {
		t.Errorf("Error() = %q", err.Error())
	}
	if Kind(99).String() != "unknown" {
		t.Error("unexpected kind string")
	}
}
