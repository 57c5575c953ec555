// Package config provides file and environment configuration for the fleet
// coordinator and the worker agent.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/narvanalabs/gpufleet/internal/models"
)

// Default ports, polling cadence and shutdown grace period.
const (
	DefaultListenHost      = "0.0.0.0"
	DefaultListenPort      = 5000
	DefaultWorkerPort      = 5001
	DefaultRefreshInterval = 5 * time.Second
	DefaultRequestTimeout  = 3 * time.Second
	DefaultShutdownTimeout = 30 * time.Second
)

// Config holds all configuration for the fleet coordinator.
type Config struct {
	// Server configuration
	ListenHost string `yaml:"listen_host"`
	ListenPort int    `yaml:"listen_port"`
	// GRPCPort serves the gRPC health service. 0 disables it.
	GRPCPort int `yaml:"grpc_port"`

	// Polling
	RefreshInterval Duration `yaml:"refresh_interval"`
	RequestTimeout  Duration `yaml:"request_timeout"`
	PollConcurrency int      `yaml:"poll_concurrency"`

	// WorkerPort is used for worker entries without a port.
	WorkerPort int           `yaml:"worker_port"`
	Workers    []WorkerEntry `yaml:"workers"`

	// Graceful shutdown timeout
	ShutdownTimeout Duration `yaml:"shutdown_timeout"`
}

// WorkerEntry is one worker as written in the config file.
// IP is accepted as an alias for Host.
type WorkerEntry struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
	Host string `yaml:"host"`
	IP   string `yaml:"ip"`
	Port int    `yaml:"port"`
}

// Duration accepts Go duration strings ("5s") or bare numbers of seconds.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: duration must be a scalar", value.Line)
	}
	parsed, err := ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("line %d: %w", value.Line, err)
	}
	*d = Duration(parsed)
	return nil
}

// ParseDuration accepts a bare number of seconds ("5", "2.5") or a Go
// duration string ("5s", "1m30s").
func ParseDuration(s string) (time.Duration, error) {
	if secs, err := strconv.ParseFloat(s, 64); err == nil {
		return time.Duration(secs * float64(time.Second)), nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q", s)
	}
	return d, nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Default returns a Config populated with defaults and no workers.
func Default() *Config {
	return &Config{
		ListenHost:      DefaultListenHost,
		ListenPort:      DefaultListenPort,
		RefreshInterval: Duration(DefaultRefreshInterval),
		RequestTimeout:  Duration(DefaultRequestTimeout),
		WorkerPort:      DefaultWorkerPort,
		ShutdownTimeout: Duration(DefaultShutdownTimeout),
	}
}

// Load reads the config file at path (YAML or JSON), applies environment
// overrides and validates the result. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config: %w", err)
		}
		if err := Parse(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config %s: %w", path, err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes YAML (or JSON) into cfg, keeping defaults for absent keys.
func Parse(data []byte, cfg *Config) error {
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return err
	}
	return nil
}

func (c *Config) applyEnv() {
	c.ListenHost = getEnv("FLEET_LISTEN_HOST", c.ListenHost)
	c.ListenPort = getIntEnv("FLEET_LISTEN_PORT", c.ListenPort)
	c.GRPCPort = getIntEnv("FLEET_GRPC_PORT", c.GRPCPort)
	c.RefreshInterval = Duration(getDurationEnv("FLEET_REFRESH_INTERVAL", c.RefreshInterval.Std()))
	c.RequestTimeout = Duration(getDurationEnv("FLEET_REQUEST_TIMEOUT", c.RequestTimeout.Std()))
	c.PollConcurrency = getIntEnv("FLEET_POLL_CONCURRENCY", c.PollConcurrency)
	c.ShutdownTimeout = Duration(getDurationEnv("FLEET_SHUTDOWN_TIMEOUT", c.ShutdownTimeout.Std()))
}

// WorkerConfigs resolves file entries into worker identities. The id
// defaults to the host, the name to the id and the port to WorkerPort.
func (c *Config) WorkerConfigs() []models.WorkerConfig {
	out := make([]models.WorkerConfig, 0, len(c.Workers))
	for _, e := range c.Workers {
		host := e.Host
		if host == "" {
			host = e.IP
		}
		w := models.WorkerConfig{
			ID:   e.ID,
			Name: e.Name,
			Host: host,
			Port: e.Port,
		}
		if w.ID == "" {
			w.ID = host
		}
		if w.Name == "" {
			w.Name = w.ID
		}
		if w.Port == 0 {
			w.Port = c.WorkerPort
		}
		out = append(out, w)
	}
	return out
}

// Validate checks that the configuration describes a usable fleet.
func (c *Config) Validate() error {
	var errs []error

	if c.ListenPort < 0 || c.ListenPort > 65535 {
		errs = append(errs, fmt.Errorf("listen_port %d out of range", c.ListenPort))
	}
	if c.GRPCPort < 0 || c.GRPCPort > 65535 {
		errs = append(errs, fmt.Errorf("grpc_port %d out of range", c.GRPCPort))
	}
	if c.RefreshInterval <= 0 {
		errs = append(errs, errors.New("refresh_interval must be positive"))
	}
	if c.RequestTimeout <= 0 {
		errs = append(errs, errors.New("request_timeout must be positive"))
	} else if c.RequestTimeout >= c.RefreshInterval {
		errs = append(errs, fmt.Errorf("request_timeout %s must be shorter than refresh_interval %s",
			c.RequestTimeout.Std(), c.RefreshInterval.Std()))
	}
	if c.PollConcurrency < 0 {
		errs = append(errs, errors.New("poll_concurrency must not be negative"))
	}

	workers := c.WorkerConfigs()
	if len(workers) == 0 {
		errs = append(errs, errors.New("at least one worker is required"))
	}
	seen := make(map[string]bool, len(workers))
	for i, w := range workers {
		if w.Host == "" {
			errs = append(errs, fmt.Errorf("workers[%d]: host is required", i))
			continue
		}
		if w.Port <= 0 || w.Port > 65535 {
			errs = append(errs, fmt.Errorf("workers[%d]: port %d out of range", i, w.Port))
		}
		if seen[w.ID] {
			errs = append(errs, fmt.Errorf("workers[%d]: duplicate id %q (set an explicit id)", i, w.ID))
		}
		seen[w.ID] = true
	}

	return errors.Join(errs...)
}

// ListenAddr returns host:port for the HTTP server.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.ListenHost, c.ListenPort)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
