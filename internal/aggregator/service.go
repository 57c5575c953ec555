// Package aggregator is the read-only facade the API layer uses to query the fleet.
package aggregator

import (
	"context"
	"fmt"

	"github.com/narvanalabs/gpufleet/internal/api/health"
	"github.com/narvanalabs/gpufleet/internal/fleet"
	"github.com/narvanalabs/gpufleet/internal/models"
	"github.com/narvanalabs/gpufleet/internal/poller"
)

// ErrNotConfigured is returned for worker ids outside the static fleet.
// It is the same value as fleet.ErrNotConfigured.
var ErrNotConfigured = fleet.ErrNotConfigured

// Refresher triggers out-of-cadence polls.
type Refresher interface {
	PollAll(ctx context.Context) poller.RoundSummary
	PollOne(ctx context.Context, id string) (models.WorkerStatus, error)
}

// Service answers fleet queries from the store. Only the Refresh methods
// cause network calls.
type Service struct {
	store     *fleet.Store
	refresher Refresher
	checker   *health.Checker
}

// NewService creates a query service. The process start time used for
// uptime is recorded here.
func NewService(st *fleet.Store, r Refresher, version string) *Service {
	return &Service{
		store:     st,
		refresher: r,
		checker:   health.NewChecker(st, version),
	}
}

// ListAll returns every configured worker's record, online or not.
func (s *Service) ListAll() []models.WorkerStatus {
	return s.store.List()
}

// GetOne returns one worker's record.
func (s *Service) GetOne(id string) (models.WorkerStatus, error) {
	return s.store.Get(id)
}

// RefreshAll runs a polling round and returns the records once it completes.
func (s *Service) RefreshAll(ctx context.Context) ([]models.WorkerStatus, poller.RoundSummary) {
	summary := s.refresher.PollAll(ctx)
	return s.store.List(), summary
}

// RefreshOne polls one worker and returns its record once the result is applied.
func (s *Service) RefreshOne(ctx context.Context, id string) (models.WorkerStatus, error) {
	if _, err := s.store.Config(id); err != nil {
		return models.WorkerStatus{}, err
	}
	status, err := s.refresher.PollOne(ctx, id)
	if err != nil {
		return models.WorkerStatus{}, fmt.Errorf("refreshing worker %s: %w", id, err)
	}
	return status, nil
}

// Health reports process liveness. It succeeds whenever the process runs.
func (s *Service) Health() *health.Response {
	return s.checker.Check()
}

// Uptime returns the elapsed time since the service was created.
func (s *Service) Uptime() health.Uptime {
	return s.checker.Uptime()
}

// Checker exposes the underlying health checker.
func (s *Service) Checker() *health.Checker {
	return s.checker
}
