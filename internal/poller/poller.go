// Package poller drives the coordinator's polling cadence and on-demand refreshes.
package poller

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/narvanalabs/gpufleet/internal/fleet"
	"github.com/narvanalabs/gpufleet/internal/metrics"
	"github.com/narvanalabs/gpufleet/internal/models"
)

// Fetcher retrieves one worker's snapshot. Implementations bound the call
// with their own timeout and never retry.
type Fetcher interface {
	Fetch(ctx context.Context, w models.WorkerConfig) (*models.MetricsSnapshot, error)
}

// Config holds configuration for the Poller.
type Config struct {
	// Interval between scheduled rounds.
	Interval time.Duration
	// MaxConcurrency caps simultaneous fetches in a round. 0 means one per worker.
	MaxConcurrency int
}

// DefaultConfig returns default configuration values.
func DefaultConfig() *Config {
	return &Config{
		Interval: 5 * time.Second,
	}
}

// RoundSummary describes one completed polling round.
type RoundSummary struct {
	ID        string        `json:"id"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration_ns"`
	Workers   int           `json:"workers"`
	Online    int           `json:"online"`
	Offline   int           `json:"offline"`
	Discarded int           `json:"discarded"`
}

// Poller fans out one fetch per worker per round and applies each result to
// the store as soon as it arrives.
type Poller struct {
	store   *fleet.Store
	fetcher Fetcher
	metrics *metrics.Collector
	logger  *slog.Logger
	now     func() time.Time

	interval       time.Duration
	maxConcurrency int

	inflight singleflight.Group

	mu       sync.Mutex
	running  bool
	stopChan chan struct{}
	wg       sync.WaitGroup
}

// Option configures a Poller.
type Option func(*Poller)

// WithMetrics records fetch and round metrics.
func WithMetrics(m *metrics.Collector) Option {
	return func(p *Poller) {
		p.metrics = m
	}
}

// WithClock overrides the attempt timestamp source.
func WithClock(now func() time.Time) Option {
	return func(p *Poller) {
		p.now = now
	}
}

// New creates a Poller over st using f for network calls.
func New(st *fleet.Store, f Fetcher, cfg *Config, logger *slog.Logger, opts ...Option) *Poller {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}

	p := &Poller{
		store:          st,
		fetcher:        f,
		logger:         logger,
		now:            time.Now,
		interval:       cfg.Interval,
		maxConcurrency: cfg.MaxConcurrency,
		stopChan:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Start launches the scheduling loop. The first round runs immediately.
// Calling Start on a running poller is a no-op.
func (p *Poller) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return
	}
	p.running = true
	p.stopChan = make(chan struct{})

	p.logger.Info("starting poller",
		"workers", p.store.Len(),
		"interval", p.interval,
		"max_concurrency", p.concurrencyLimit(),
	)

	p.wg.Add(1)
	go p.loop(ctx, p.stopChan)
}

// Stop halts the schedule and waits for the in-flight round to drain.
func (p *Poller) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	close(p.stopChan)
	p.mu.Unlock()

	p.wg.Wait()
	p.logger.Info("poller stopped")
}

func (p *Poller) loop(ctx context.Context, stop <-chan struct{}) {
	defer p.wg.Done()

	// Rounds run on a context that shutdown does not cancel: fetches are
	// bounded by their own timeout and are left to drain.
	roundCtx := context.WithoutCancel(ctx)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.PollAll(roundCtx)

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("poller stopped by context")
			return
		case <-stop:
			return
		case <-ticker.C:
			p.PollAll(roundCtx)
		}
	}
}

// PollAll polls every configured worker concurrently and returns once each
// dispatched fetch has completed. Results are applied as they arrive, so a
// slow worker never delays another worker's update.
func (p *Poller) PollAll(ctx context.Context) RoundSummary {
	ids := p.store.IDs()
	start := time.Now()
	summary := RoundSummary{
		ID:        uuid.NewString(),
		StartedAt: p.now(),
		Workers:   len(ids),
	}
	logger := p.logger.With("round_id", summary.ID)

	var mu sync.Mutex
	g := new(errgroup.Group)
	g.SetLimit(p.concurrencyLimit())

	for _, id := range ids {
		g.Go(func() error {
			res, err := p.poll(ctx, id)
			if err != nil {
				// The caller stopped waiting; the fetch itself still completes.
				logger.Debug("worker poll abandoned", "worker_id", id, "error", err)
				return nil
			}
			mu.Lock()
			if res.status.Online {
				summary.Online++
			} else {
				summary.Offline++
			}
			if !res.applied {
				summary.Discarded++
			}
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	summary.Duration = time.Since(start)
	_, online := p.store.Counts()
	p.metrics.ObserveRound(summary.Duration, online)

	logger.Info("poll round completed",
		"workers", summary.Workers,
		"online", summary.Online,
		"offline", summary.Offline,
		"discarded", summary.Discarded,
		"duration", summary.Duration,
	)
	return summary
}

// PollOne fetches a single worker outside the regular cadence and returns
// its record after the result is applied. Concurrent calls for the same
// worker share one in-flight fetch.
func (p *Poller) PollOne(ctx context.Context, id string) (models.WorkerStatus, error) {
	res, err := p.poll(ctx, id)
	if err != nil {
		return models.WorkerStatus{}, err
	}
	return res.status, nil
}

type pollResult struct {
	status  models.WorkerStatus
	applied bool
}

// poll coalesces triggers per worker. The shared fetch runs detached from
// the caller's context; a caller whose context ends stops waiting early.
func (p *Poller) poll(ctx context.Context, id string) (pollResult, error) {
	cfg, err := p.store.Config(id)
	if err != nil {
		return pollResult{}, err
	}

	ch := p.inflight.DoChan(id, func() (any, error) {
		return p.fetchAndApply(context.WithoutCancel(ctx), cfg)
	})

	select {
	case r := <-ch:
		if r.Err != nil {
			return pollResult{}, r.Err
		}
		return r.Val.(pollResult), nil
	case <-ctx.Done():
		return pollResult{}, ctx.Err()
	}
}

func (p *Poller) fetchAndApply(ctx context.Context, cfg models.WorkerConfig) (pollResult, error) {
	attemptAt := p.now()
	start := time.Now()
	snapshot, fetchErr := p.fetcher.Fetch(ctx, cfg)
	elapsed := time.Since(start)

	applied, err := p.store.ApplyResult(cfg.ID, snapshot, fetchErr, attemptAt)
	if err != nil {
		return pollResult{}, err
	}
	status, err := p.store.Get(cfg.ID)
	if err != nil {
		return pollResult{}, err
	}

	result := "success"
	if fetchErr != nil {
		result = "error"
		var kinded interface{ KindString() string }
		if errors.As(fetchErr, &kinded) {
			result = kinded.KindString()
		}
		p.logger.Warn("worker poll failed",
			"worker_id", cfg.ID,
			"address", cfg.Address(),
			"error", fetchErr,
			"duration", elapsed,
		)
	} else {
		p.logger.Debug("worker poll succeeded",
			"worker_id", cfg.ID,
			"gpus", len(snapshot.GPUs),
			"duration", elapsed,
		)
	}

	p.metrics.ObserveFetch(cfg.ID, result, elapsed, status.Online)
	if !applied {
		p.metrics.ObserveDiscard(cfg.ID)
		p.logger.Info("discarded out-of-order poll result",
			"worker_id", cfg.ID,
			"attempt_at", attemptAt,
		)
	}

	return pollResult{status: status, applied: applied}, nil
}

func (p *Poller) concurrencyLimit() int {
	if p.maxConcurrency > 0 {
		return p.maxConcurrency
	}
	if n := p.store.Len(); n > 0 {
		return n
	}
	return 1
}
