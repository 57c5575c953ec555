package models

import (
	"errors"
	"fmt"
)

// MetricsSnapshot is a point-in-time metrics payload produced by a worker agent.
// The coordinator stores and forwards it without interpreting GPU fields.
// A decoded snapshot is never mutated afterwards.
type MetricsSnapshot struct {
	Timestamp float64     `json:"timestamp"`
	System    *SystemInfo `json:"system"`
	GPUs      []GPUInfo   `json:"gpus"`
}

// SystemInfo describes the host. Memory and swap figures are in GB.
type SystemInfo struct {
	Hostname string      `json:"hostname"`
	OS       string      `json:"os"`
	CPUModel string      `json:"cpu_model"`
	CPUCores int         `json:"cpu_cores"`
	CPUUsage float64     `json:"cpu_usage"`
	Memory   MemoryUsage `json:"memory"`
	Swap     SwapUsage   `json:"swap"`
}

// MemoryUsage is host RAM usage in GB.
type MemoryUsage struct {
	Total     float64 `json:"total"`
	Used      float64 `json:"used"`
	Available float64 `json:"available"`
	Percent   float64 `json:"percent"`
}

// SwapUsage is host swap usage in GB.
type SwapUsage struct {
	Total   float64 `json:"total"`
	Used    float64 `json:"used"`
	Free    float64 `json:"free"`
	Percent float64 `json:"percent"`
}

// GPUInfo describes one GPU. Memory is in MB, power in W.
type GPUInfo struct {
	ID          int          `json:"id"`
	Name        string       `json:"name"`
	Memory      GPUMemory    `json:"memory"`
	Utilization float64      `json:"utilization"`
	Temperature float64      `json:"temperature"`
	Power       GPUPower     `json:"power"`
	Processes   []GPUProcess `json:"processes"`
}

// GPUMemory is framebuffer usage in MB.
type GPUMemory struct {
	Total float64 `json:"total"`
	Used  float64 `json:"used"`
	Free  float64 `json:"free"`
}

// GPUPower is the current draw and enforced limit in W.
type GPUPower struct {
	Current float64 `json:"current"`
	Max     float64 `json:"max"`
}

// GPUProcess is a compute process holding GPU memory.
type GPUProcess struct {
	PID      int     `json:"pid"`
	Name     string  `json:"name"`
	Username string  `json:"username"`
	MemoryMB float64 `json:"memory_mb"`
	Cmdline  string  `json:"cmdline,omitempty"`
}

// ErrInvalidSnapshot is wrapped by every Validate failure.
var ErrInvalidSnapshot = errors.New("invalid snapshot")

// Validate performs the structural checks a coordinator applies before
// accepting a payload.
func (s *MetricsSnapshot) Validate() error {
	if s == nil {
		return fmt.Errorf("%w: empty payload", ErrInvalidSnapshot)
	}
	if s.Timestamp <= 0 {
		return fmt.Errorf("%w: missing timestamp", ErrInvalidSnapshot)
	}
	if s.System == nil {
		return fmt.Errorf("%w: missing system section", ErrInvalidSnapshot)
	}
	for i, gpu := range s.GPUs {
		if gpu.Utilization < 0 || gpu.Utilization > 100 {
			return fmt.Errorf("%w: gpu %d utilization %v out of range", ErrInvalidSnapshot, i, gpu.Utilization)
		}
		if gpu.Memory.Total < 0 || gpu.Memory.Used < 0 || gpu.Memory.Free < 0 {
			return fmt.Errorf("%w: gpu %d reports negative memory", ErrInvalidSnapshot, i)
		}
	}
	return nil
}
