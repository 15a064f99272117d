package process

import (
	"context"
	"fmt"

	gproc "github.com/shirou/gopsutil/v4/process"
)

// Usage is a point-in-time resource sample of a running child.
type Usage struct {
	PID        int     `json:"pid"`
	CPUPercent float64 `json:"cpu_percent"`
	RSSBytes   uint64  `json:"rss_bytes"`
	Threads    int32   `json:"threads"`
}

// SampleUsage reads CPU and memory figures for pid.
func SampleUsage(ctx context.Context, pid int) (Usage, error) {
	p, err := gproc.NewProcessWithContext(ctx, int32(pid))
	if err != nil {
		return Usage{}, fmt.Errorf("process %d: %w", pid, err)
	}
	u := Usage{PID: pid}
	if cpu, err := p.CPUPercentWithContext(ctx); err == nil {
		u.CPUPercent = cpu
	}
	mem, err := p.MemoryInfoWithContext(ctx)
	if err != nil {
		return u, fmt.Errorf("memory of %d: %w", pid, err)
	}
	u.RSSBytes = mem.RSS
	if n, err := p.NumThreadsWithContext(ctx); err == nil {
		u.Threads = n
	}
	return u, nil
}
