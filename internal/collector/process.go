package collector

import (
	"fmt"
	"os/user"
	"strings"

	"github.com/narvanalabs/gpufleet/internal/models"
)

const unknownProcess = "Unknown"

// describeProcess resolves name, owner and command line for a GPU process.
// A process that has exited or cannot be read is reported as Unknown.
func (c *Collector) describeProcess(pid int, memoryMB float64) models.GPUProcess {
	proc := models.GPUProcess{
		PID:      pid,
		Name:     unknownProcess,
		Username: unknownProcess,
		MemoryMB: memoryMB,
	}

	p, err := c.fs.Proc(pid)
	if err != nil {
		return proc
	}

	comm, err := p.Comm()
	if err != nil {
		return proc
	}
	proc.Name = comm

	if status, err := p.NewStatus(); err == nil {
		proc.Username = lookupUsername(fmt.Sprint(status.UIDs[0]))
	}

	if args, err := p.CmdLine(); err == nil {
		proc.Cmdline = truncateArgs(args, c.cfg.CmdlineMaxArgs)
	}
	return proc
}

func lookupUsername(uid string) string {
	u, err := user.LookupId(uid)
	if err != nil {
		return uid
	}
	return u.Username
}

func truncateArgs(args []string, max int) string {
	if max > 0 && len(args) > max {
		args = args[:max]
	}
	return strings.Join(args, " ")
}
