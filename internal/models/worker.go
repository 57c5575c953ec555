package models

import (
	"net"
	"strconv"
	"time"
)

// WorkerConfig is the static identity of a monitored worker node.
// The set of configs defines fleet membership for the process lifetime.
type WorkerConfig struct {
	ID   string `json:"id" yaml:"id"`
	Name string `json:"name" yaml:"name"`
	Host string `json:"host" yaml:"host"`
	Port int    `json:"port" yaml:"port"`
}

// Address returns the host:port the worker agent listens on.
func (c WorkerConfig) Address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// WorkerState is the coarse availability of a worker as seen by the coordinator.
type WorkerState string

const (
	// WorkerStateUnknown means no poll attempt has completed yet.
	WorkerStateUnknown WorkerState = "unknown"
	// WorkerStateOnline means the latest attempt succeeded.
	WorkerStateOnline WorkerState = "online"
	// WorkerStateOffline means the latest attempt failed.
	WorkerStateOffline WorkerState = "offline"
)

// WorkerStatus is what the coordinator currently believes about one worker.
//
// Online reflects only the most recent applied attempt. Snapshot holds the
// last successfully received payload and survives failed attempts, so a
// record can be offline and still carry (stale) data.
type WorkerStatus struct {
	ID            string           `json:"id"`
	Name          string           `json:"name"`
	Host          string           `json:"host"`
	Port          int              `json:"port"`
	State         WorkerState      `json:"state"`
	Online        bool             `json:"online"`
	Snapshot      *MetricsSnapshot `json:"data"`
	LastError     string           `json:"error,omitempty"`
	ErrorKind     string           `json:"error_kind,omitempty"`
	LastSuccessAt *time.Time       `json:"last_seen,omitempty"`
	LastAttemptAt *time.Time       `json:"last_attempt,omitempty"`
}

// NewWorkerStatus returns the initial record for a configured worker:
// unknown, offline, no snapshot.
func NewWorkerStatus(cfg WorkerConfig) WorkerStatus {
	return WorkerStatus{
		ID:    cfg.ID,
		Name:  cfg.Name,
		Host:  cfg.Host,
		Port:  cfg.Port,
		State: WorkerStateUnknown,
	}
}

// Stale reports whether the record carries a snapshot that is not backed by
// a successful latest attempt.
func (s WorkerStatus) Stale() bool {
	return !s.Online && s.Snapshot != nil
}
