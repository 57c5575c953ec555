package config

import (
	"fmt"
	"time"
)

// AgentConfig holds configuration for the worker-side agent.
type AgentConfig struct {
	ListenHost string
	ListenPort int

	// NvidiaSMIPath is the GPU query tool; a missing binary yields no GPUs.
	NvidiaSMIPath string
	// CmdlineMaxArgs caps how many argv entries are reported per process.
	CmdlineMaxArgs int
	// CPUSampleWindow is the /proc/stat sampling gap for CPU usage.
	CPUSampleWindow time.Duration
	// CollectTimeout bounds one snapshot collection.
	CollectTimeout time.Duration

	ShutdownTimeout time.Duration
}

// LoadAgent reads agent configuration from environment variables.
func LoadAgent() (*AgentConfig, error) {
	cfg := &AgentConfig{
		ListenHost:      getEnv("AGENT_LISTEN_HOST", DefaultListenHost),
		ListenPort:      getIntEnv("AGENT_LISTEN_PORT", DefaultWorkerPort),
		NvidiaSMIPath:   getEnv("AGENT_NVIDIA_SMI", "nvidia-smi"),
		CmdlineMaxArgs:  getIntEnv("AGENT_CMDLINE_MAX_ARGS", 5),
		CPUSampleWindow: getDurationEnv("AGENT_CPU_SAMPLE_WINDOW", 100*time.Millisecond),
		CollectTimeout:  getDurationEnv("AGENT_COLLECT_TIMEOUT", 2*time.Second),
		ShutdownTimeout: getDurationEnv("AGENT_SHUTDOWN_TIMEOUT", 10*time.Second),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the agent configuration.
func (c *AgentConfig) Validate() error {
	if c.ListenPort <= 0 || c.ListenPort > 65535 {
		return fmt.Errorf("AGENT_LISTEN_PORT %d out of range", c.ListenPort)
	}
	if c.CmdlineMaxArgs < 0 {
		return fmt.Errorf("AGENT_CMDLINE_MAX_ARGS must not be negative")
	}
	if c.CPUSampleWindow <= 0 {
		return fmt.Errorf("AGENT_CPU_SAMPLE_WINDOW must be positive")
	}
	return nil
}

// ListenAddr returns host:port for the agent HTTP server.
func (c *AgentConfig) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.ListenHost, c.ListenPort)
}
