package collector

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"strings"

	"github.com/narvanalabs/gpufleet/internal/models"
)

var (
	gpuQueryArgs = []string{
		"--query-gpu=index,name,memory.total,memory.used,memory.free,utilization.gpu,temperature.gpu,power.draw,power.limit,uuid",
		"--format=csv,noheader,nounits",
	}
	appQueryArgs = []string{
		"--query-compute-apps=gpu_uuid,pid,used_memory",
		"--format=csv,noheader,nounits",
	}
)

// gpuRow is one parsed line of the GPU query.
type gpuRow struct {
	info models.GPUInfo
	uuid string
}

// appRow is one parsed line of the compute-apps query.
type appRow struct {
	gpuUUID  string
	pid      int
	memoryMB float64
}

// collectGPUs queries nvidia-smi. Any failure, including a missing binary,
// yields an empty list.
func (c *Collector) collectGPUs(ctx context.Context) []models.GPUInfo {
	out, err := c.run(ctx, c.cfg.NvidiaSMIPath, gpuQueryArgs...)
	if err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			c.logger.Debug("nvidia-smi not found, reporting no GPUs")
		} else {
			c.logger.Warn("gpu query failed", "error", err)
		}
		return []models.GPUInfo{}
	}

	rows, err := parseGPUs(out)
	if err != nil {
		c.logger.Warn("gpu query output unreadable", "error", err)
		return []models.GPUInfo{}
	}

	byUUID := make(map[string]int, len(rows))
	gpus := make([]models.GPUInfo, len(rows))
	for i, r := range rows {
		gpus[i] = r.info
		gpus[i].Processes = []models.GPUProcess{}
		byUUID[r.uuid] = i
	}

	appsOut, err := c.run(ctx, c.cfg.NvidiaSMIPath, appQueryArgs...)
	if err != nil {
		c.logger.Warn("gpu process query failed", "error", err)
		return gpus
	}
	apps, err := parseApps(appsOut)
	if err != nil {
		c.logger.Warn("gpu process output unreadable", "error", err)
		return gpus
	}
	for _, app := range apps {
		i, ok := byUUID[app.gpuUUID]
		if !ok {
			continue
		}
		gpus[i].Processes = append(gpus[i].Processes, c.describeProcess(app.pid, app.memoryMB))
	}
	return gpus
}

func parseGPUs(out []byte) ([]gpuRow, error) {
	records, err := readCSV(out, 10)
	if err != nil {
		return nil, err
	}

	rows := make([]gpuRow, 0, len(records))
	for _, rec := range records {
		index, err := strconv.Atoi(rec[0])
		if err != nil {
			return nil, fmt.Errorf("gpu index %q: %w", rec[0], err)
		}
		rows = append(rows, gpuRow{
			uuid: rec[9],
			info: models.GPUInfo{
				ID:   index,
				Name: rec[1],
				Memory: models.GPUMemory{
					Total: round(number(rec[2]), 1),
					Used:  round(number(rec[3]), 1),
					Free:  round(number(rec[4]), 1),
				},
				Utilization: number(rec[5]),
				Temperature: number(rec[6]),
				Power: models.GPUPower{
					Current: round(number(rec[7]), 1),
					Max:     round(number(rec[8]), 1),
				},
			},
		})
	}
	return rows, nil
}

func parseApps(out []byte) ([]appRow, error) {
	records, err := readCSV(out, 3)
	if err != nil {
		return nil, err
	}

	apps := make([]appRow, 0, len(records))
	for _, rec := range records {
		pid, err := strconv.Atoi(rec[1])
		if err != nil {
			return nil, fmt.Errorf("process pid %q: %w", rec[1], err)
		}
		apps = append(apps, appRow{
			gpuUUID:  rec[0],
			pid:      pid,
			memoryMB: round(number(rec[2]), 1),
		})
	}
	return apps, nil
}

// readCSV reads nvidia-smi's ", "-separated output, trimming every field.
func readCSV(out []byte, fields int) ([][]string, error) {
	r := csv.NewReader(bytes.NewReader(out))
	r.FieldsPerRecord = fields
	r.TrimLeadingSpace = true

	var records [][]string
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		for i := range rec {
			rec[i] = strings.TrimSpace(rec[i])
		}
		records = append(records, rec)
	}
	return records, nil
}

// number parses a numeric field. Placeholders such as "[N/A]" or
// "[Not Supported]" read as 0.
func number(s string) float64 {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return v
}
