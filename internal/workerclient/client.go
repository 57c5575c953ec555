// Package workerclient fetches metrics snapshots from worker agents.
package workerclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/narvanalabs/gpufleet/internal/models"
)

const (
	// DefaultTimeout matches the coordinator's default request_timeout.
	DefaultTimeout = 3 * time.Second
	// DefaultMaxBodyBytes bounds how much of a response is read.
	DefaultMaxBodyBytes = 8 << 20
	// InfoPath is the agent endpoint serving a snapshot.
	InfoPath = "/api/info"
)

// Config holds configuration for the worker client.
type Config struct {
	// Timeout bounds a single fetch, connect through body read.
	Timeout time.Duration
	// MaxBodyBytes caps the response body size.
	MaxBodyBytes int64
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Timeout:      DefaultTimeout,
		MaxBodyBytes: DefaultMaxBodyBytes,
	}
}

// Client issues one bounded GET per call. It never retries.
type Client struct {
	httpClient   *http.Client
	timeout      time.Duration
	maxBodyBytes int64
	logger       *slog.Logger
}

// New creates a worker client.
func New(cfg *Config, logger *slog.Logger) *Client {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = DefaultMaxBodyBytes
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.DialContext = (&net.Dialer{
		Timeout:   cfg.Timeout,
		KeepAlive: 30 * time.Second,
	}).DialContext
	transport.ResponseHeaderTimeout = cfg.Timeout

	return &Client{
		httpClient:   &http.Client{Transport: transport},
		timeout:      cfg.Timeout,
		maxBodyBytes: cfg.MaxBodyBytes,
		logger:       logger,
	}
}

// Fetch retrieves the current snapshot from one worker. All failures are
// returned as *FetchError.
func (c *Client) Fetch(ctx context.Context, w models.WorkerConfig) (*models.MetricsSnapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	url := "http://" + w.Address() + InfoPath
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, c.fail(w, KindInvalidResponse, "building request for "+label(w), err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, c.transportError(ctx, w, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, c.fail(w, KindInvalidResponse,
			fmt.Sprintf("HTTP %d from %s (%s)", resp.StatusCode, w.Name, w.Host), nil)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBodyBytes+1))
	if err != nil {
		return nil, c.transportError(ctx, w, err)
	}
	if int64(len(body)) > c.maxBodyBytes {
		return nil, c.fail(w, KindInvalidResponse,
			fmt.Sprintf("response from %s exceeds %d bytes", label(w), c.maxBodyBytes), nil)
	}

	var snapshot models.MetricsSnapshot
	if err := json.Unmarshal(body, &snapshot); err != nil {
		return nil, c.fail(w, KindInvalidResponse, "malformed payload from "+label(w), err)
	}
	if err := snapshot.Validate(); err != nil {
		return nil, c.fail(w, KindInvalidResponse, "rejected payload from "+label(w), err)
	}

	return &snapshot, nil
}

// transportError maps a failed round trip or body read onto timeout or unreachable.
func (c *Client) transportError(ctx context.Context, w models.WorkerConfig, err error) *FetchError {
	if isTimeout(ctx, err) {
		return c.fail(w, KindTimeout, "connection timeout to "+label(w), err)
	}
	return c.fail(w, KindUnreachable, "connection refused by "+label(w), err)
}

func (c *Client) fail(w models.WorkerConfig, kind Kind, msg string, cause error) *FetchError {
	c.logger.Debug("worker fetch failed",
		"worker_id", w.ID,
		"address", w.Address(),
		"kind", kind.String(),
		"error", cause,
	)
	return &FetchError{
		Kind:    kind,
		Worker:  w.ID,
		Address: w.Address(),
		Message: msg,
		Cause:   cause,
	}
}

func isTimeout(ctx context.Context, err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func label(w models.WorkerConfig) string {
	return fmt.Sprintf("%s (%s)", w.Name, w.Address())
}
