// Package health provides process liveness and uptime reporting.
package health

import (
	"encoding/json"
	"net/http"
	"time"
)

// Status represents the liveness of the process.
type Status string

const (
	// StatusOK is reported for as long as the process is serving.
	StatusOK Status = "ok"
)

// Response represents the health check response.
type Response struct {
	Status        Status  `json:"status"`
	Timestamp     float64 `json:"timestamp"`
	Version       string  `json:"version"`
	Uptime        string  `json:"uptime"`
	WorkersTotal  int     `json:"workers_total"`
	WorkersOnline int     `json:"workers_online"`
}

// Uptime is the elapsed time since process start, broken down for display.
type Uptime struct {
	Days         int     `json:"days"`
	Hours        int     `json:"hours"`
	Minutes      int     `json:"minutes"`
	Seconds      int     `json:"seconds"`
	TotalSeconds float64 `json:"total_seconds"`
}

// FleetCounter reports configured and online worker counts.
type FleetCounter interface {
	Counts() (total, online int)
}

// Checker reports liveness. It never consults workers over the network, so
// an unreachable fleet does not make the process unhealthy.
type Checker struct {
	fleet     FleetCounter
	startTime time.Time
	version   string
	now       func() time.Time
}

// NewChecker creates a new health checker. The start time is recorded here, once.
func NewChecker(fleet FleetCounter, version string) *Checker {
	return newChecker(fleet, version, time.Now)
}

func newChecker(fleet FleetCounter, version string, now func() time.Time) *Checker {
	return &Checker{
		fleet:     fleet,
		startTime: now(),
		version:   version,
		now:       now,
	}
}

// StartTime returns when the checker was created.
func (c *Checker) StartTime() time.Time {
	return c.startTime
}

// Check returns the current liveness report.
func (c *Checker) Check() *Response {
	now := c.now()
	resp := &Response{
		Status:    StatusOK,
		Timestamp: float64(now.UnixNano()) / float64(time.Second),
		Version:   c.version,
		Uptime:    now.Sub(c.startTime).Round(time.Second).String(),
	}
	if c.fleet != nil {
		resp.WorkersTotal, resp.WorkersOnline = c.fleet.Counts()
	}
	return resp
}

// Uptime returns the elapsed time since start.
func (c *Checker) Uptime() Uptime {
	return SplitUptime(c.now().Sub(c.startTime))
}

// SplitUptime breaks d into whole days, hours, minutes and seconds.
func SplitUptime(d time.Duration) Uptime {
	if d < 0 {
		d = 0
	}
	total := int64(d / time.Second)
	return Uptime{
		Days:         int(total / 86400),
		Hours:        int(total % 86400 / 3600),
		Minutes:      int(total % 3600 / 60),
		Seconds:      int(total % 60),
		TotalSeconds: d.Seconds(),
	}
}

// Handler returns an HTTP handler for health checks.
func (c *Checker) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(c.Check())
	}
}
