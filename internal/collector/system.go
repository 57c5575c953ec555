package collector

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/prometheus/procfs"

	"github.com/narvanalabs/gpufleet/internal/models"
)

const (
	unknownCPU = "Unknown CPU"
	kbPerGB    = 1024 * 1024
)

func (c *Collector) collectSystem(ctx context.Context) (*models.SystemInfo, error) {
	info := &models.SystemInfo{
		CPUModel: c.cpuModel(),
		CPUCores: runtime.NumCPU(),
		OS:       c.osName(),
	}

	if host, err := c.hostname(); err == nil {
		info.Hostname = host
	} else {
		c.logger.Warn("hostname lookup failed", "error", err)
	}

	usage, err := c.cpuUsage(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		c.logger.Warn("cpu usage unavailable", "error", err)
	}
	info.CPUUsage = usage

	if mem, err := c.fs.Meminfo(); err == nil {
		info.Memory, info.Swap = memoryUsage(mem)
	} else {
		c.logger.Warn("meminfo unavailable", "error", err)
	}

	return info, nil
}

func (c *Collector) cpuModel() string {
	cpus, err := c.fs.CPUInfo()
	if err != nil {
		c.logger.Debug("cpuinfo unavailable", "error", err)
		return unknownCPU
	}
	for _, cpu := range cpus {
		if cpu.ModelName != "" {
			return strings.TrimSpace(cpu.ModelName)
		}
	}
	return unknownCPU
}

func (c *Collector) osName() string {
	release, err := os.ReadFile(filepath.Join(c.cfg.ProcRoot, "sys", "kernel", "osrelease"))
	if err != nil {
		return "Linux"
	}
	return "Linux " + strings.TrimSpace(string(release))
}

// cpuUsage samples /proc/stat twice, one window apart, and returns the busy
// share across all CPUs as a percentage.
func (c *Collector) cpuUsage(ctx context.Context) (float64, error) {
	before, err := c.fs.Stat()
	if err != nil {
		return 0, err
	}

	timer := time.NewTimer(c.cfg.CPUSampleWindow)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	case <-timer.C:
	}

	after, err := c.fs.Stat()
	if err != nil {
		return 0, err
	}
	return busyPercent(before.CPUTotal, after.CPUTotal), nil
}

func busyPercent(before, after procfs.CPUStat) float64 {
	idle := (after.Idle + after.Iowait) - (before.Idle + before.Iowait)
	total := cpuTotal(after) - cpuTotal(before)
	if total <= 0 {
		return 0
	}
	pct := 100 * (total - idle) / total
	return round(math.Max(0, math.Min(100, pct)), 1)
}

func cpuTotal(s procfs.CPUStat) float64 {
	return s.User + s.Nice + s.System + s.Idle + s.Iowait + s.IRQ + s.SoftIRQ + s.Steal
}

// memoryUsage converts kB counters into GB figures. Used memory excludes
// buffers and page cache.
func memoryUsage(m procfs.Meminfo) (models.MemoryUsage, models.SwapUsage) {
	total := deref(m.MemTotal)
	free := deref(m.MemFree)
	available := deref(m.MemAvailable)
	if m.MemAvailable == nil {
		available = free + deref(m.Buffers) + deref(m.Cached)
	}
	// Buffers and Cached can together exceed MemTotal-MemFree on some kernels.
	used := math.Max(0, total-free-deref(m.Buffers)-deref(m.Cached))

	mem := models.MemoryUsage{
		Total:     gb(total),
		Used:      gb(used),
		Available: gb(available),
		Percent:   percent(total-available, total),
	}

	swapTotal := deref(m.SwapTotal)
	swapFree := deref(m.SwapFree)
	swapUsed := math.Max(0, swapTotal-swapFree)
	swap := models.SwapUsage{
		Total:   gb(swapTotal),
		Used:    gb(swapUsed),
		Free:    gb(swapFree),
		Percent: percent(swapUsed, swapTotal),
	}
	return mem, swap
}

func deref(v *uint64) float64 {
	if v == nil {
		return 0
	}
	return float64(*v)
}

func gb(kb float64) float64 {
	return round(kb/kbPerGB, 2)
}

func percent(part, whole float64) float64 {
	if whole <= 0 {
		return 0
	}
	return round(100*part/whole, 1)
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
