// Package collector gathers the host and GPU metrics a worker agent reports.
package collector

import (
	"context"
	"log/slog"
	"os"
	"os/exec"
	"time"

	"github.com/prometheus/procfs"

	"github.com/narvanalabs/gpufleet/internal/models"
)

// Defaults for Config.
const (
	DefaultProcRoot        = procfs.DefaultMountPoint
	DefaultNvidiaSMI       = "nvidia-smi"
	DefaultCmdlineMaxArgs  = 5
	DefaultCPUSampleWindow = 100 * time.Millisecond
)

// CommandRunner runs an external command and returns its stdout.
type CommandRunner func(ctx context.Context, name string, args ...string) ([]byte, error)

// ExecRunner runs commands with os/exec.
func ExecRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).Output()
}

// Config holds configuration for the Collector.
type Config struct {
	ProcRoot        string
	NvidiaSMIPath   string
	CmdlineMaxArgs  int
	CPUSampleWindow time.Duration
}

// DefaultConfig returns default configuration values.
func DefaultConfig() *Config {
	return &Config{
		ProcRoot:        DefaultProcRoot,
		NvidiaSMIPath:   DefaultNvidiaSMI,
		CmdlineMaxArgs:  DefaultCmdlineMaxArgs,
		CPUSampleWindow: DefaultCPUSampleWindow,
	}
}

// Collector produces MetricsSnapshots. Each section degrades on its own:
// an unreadable source yields zero values or "Unknown", never a failed snapshot.
type Collector struct {
	cfg      *Config
	fs       procfs.FS
	run      CommandRunner
	hostname func() (string, error)
	now      func() time.Time
	logger   *slog.Logger
}

// Option configures a Collector.
type Option func(*Collector)

// WithCommandRunner replaces the runner used for nvidia-smi.
func WithCommandRunner(run CommandRunner) Option {
	return func(c *Collector) {
		c.run = run
	}
}

// WithHostname overrides hostname lookup.
func WithHostname(fn func() (string, error)) Option {
	return func(c *Collector) {
		c.hostname = fn
	}
}

// WithClock overrides the snapshot timestamp source.
func WithClock(now func() time.Time) Option {
	return func(c *Collector) {
		c.now = now
	}
}

// New creates a Collector reading from cfg.ProcRoot.
func New(cfg *Config, logger *slog.Logger, opts ...Option) (*Collector, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}

	fs, err := procfs.NewFS(cfg.ProcRoot)
	if err != nil {
		return nil, err
	}

	c := &Collector{
		cfg:      cfg,
		fs:       fs,
		run:      ExecRunner,
		hostname: os.Hostname,
		now:      time.Now,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Collect takes one snapshot. It blocks for the CPU sample window.
func (c *Collector) Collect(ctx context.Context) (*models.MetricsSnapshot, error) {
	system, err := c.collectSystem(ctx)
	if err != nil {
		return nil, err
	}

	return &models.MetricsSnapshot{
		Timestamp: float64(c.now().UnixNano()) / float64(time.Second),
		System:    system,
		GPUs:      c.collectGPUs(ctx),
	}, nil
}
