// Package fleet holds the coordinator's in-memory view of every configured worker.
package fleet

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/narvanalabs/gpufleet/internal/models"
)

// ErrNotConfigured is returned for worker ids outside the static fleet.
var ErrNotConfigured = errors.New("worker not configured")

// entry guards a single worker record. Entries never share a lock.
type entry struct {
	cfg    models.WorkerConfig
	mu     sync.RWMutex
	status models.WorkerStatus
}

// Store is the single source of truth for per-worker status records.
// The id set is fixed at construction; only record contents change.
type Store struct {
	order   []string
	entries map[string]*entry

	broadcaster *Broadcaster
}

// Option configures a Store.
type Option func(*Store)

// WithBroadcaster publishes every applied record to b.
func WithBroadcaster(b *Broadcaster) Option {
	return func(s *Store) {
		s.broadcaster = b
	}
}

// NewStore creates one record per worker, in configuration order.
func NewStore(workers []models.WorkerConfig, opts ...Option) (*Store, error) {
	s := &Store{
		order:   make([]string, 0, len(workers)),
		entries: make(map[string]*entry, len(workers)),
	}

	for _, w := range workers {
		if w.ID == "" {
			return nil, fmt.Errorf("worker %q has no id", w.Name)
		}
		if _, dup := s.entries[w.ID]; dup {
			return nil, fmt.Errorf("duplicate worker id %q", w.ID)
		}
		s.entries[w.ID] = &entry{
			cfg:    w,
			status: models.NewWorkerStatus(w),
		}
		s.order = append(s.order, w.ID)
	}

	for _, opt := range opts {
		opt(s)
	}

	return s, nil
}

// Len returns the number of configured workers.
func (s *Store) Len() int {
	return len(s.order)
}

// IDs returns worker ids in configuration order.
func (s *Store) IDs() []string {
	ids := make([]string, len(s.order))
	copy(ids, s.order)
	return ids
}

// Config returns the static config of a worker.
func (s *Store) Config(id string) (models.WorkerConfig, error) {
	e, ok := s.entries[id]
	if !ok {
		return models.WorkerConfig{}, fmt.Errorf("%w: %s", ErrNotConfigured, id)
	}
	return e.cfg, nil
}

// Get returns a copy of one worker's record.
func (s *Store) Get(id string) (models.WorkerStatus, error) {
	e, ok := s.entries[id]
	if !ok {
		return models.WorkerStatus{}, fmt.Errorf("%w: %s", ErrNotConfigured, id)
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.status, nil
}

// List returns a copy of every record in configuration order.
// Each record is read under its own lock, so none is observed mid-update.
func (s *Store) List() []models.WorkerStatus {
	out := make([]models.WorkerStatus, 0, len(s.order))
	for _, id := range s.order {
		e := s.entries[id]
		e.mu.RLock()
		out = append(out, e.status)
		e.mu.RUnlock()
	}
	return out
}

// Counts returns the number of configured and currently online workers.
func (s *Store) Counts() (total, online int) {
	for _, id := range s.order {
		e := s.entries[id]
		e.mu.RLock()
		if e.status.Online {
			online++
		}
		e.mu.RUnlock()
	}
	return len(s.order), online
}

// ApplyResult records the outcome of one fetch attempt made at attemptAt.
//
// On success the record goes online, the snapshot is replaced and the error
// cleared. On failure the record goes offline and the error is set; the
// previous snapshot is kept. A result older than the record's latest attempt
// is discarded and applied is false.
func (s *Store) ApplyResult(id string, snapshot *models.MetricsSnapshot, fetchErr error, attemptAt time.Time) (applied bool, err error) {
	e, ok := s.entries[id]
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrNotConfigured, id)
	}

	e.mu.Lock()
	if last := e.status.LastAttemptAt; last != nil && attemptAt.Before(*last) {
		e.mu.Unlock()
		return false, nil
	}

	next := e.status
	at := attemptAt
	next.LastAttemptAt = &at
	if fetchErr == nil {
		next.Online = true
		next.State = models.WorkerStateOnline
		next.Snapshot = snapshot
		next.LastError = ""
		next.ErrorKind = ""
		next.LastSuccessAt = &at
	} else {
		next.Online = false
		next.State = models.WorkerStateOffline
		next.LastError = fetchErr.Error()
		next.ErrorKind = errorKind(fetchErr)
	}
	e.status = next
	// Publish never blocks, so doing it under the entry lock keeps
	// per-worker updates in order for subscribers.
	if s.broadcaster != nil {
		s.broadcaster.Publish(next)
	}
	e.mu.Unlock()
	return true, nil
}

// kinder is implemented by fetch errors that carry a classification.
type kinder interface {
	KindString() string
}

func errorKind(err error) string {
	var k kinder
	if errors.As(err, &k) {
		return k.KindString()
	}
	return "error"
}
