package observability

import (
	"context"
	"os"
	"runtime"

	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"
)

// ResourceUsage is a point-in-time view of the process, reported by the health endpoint.
type ResourceUsage struct {
	PID                 int32   `json:"pid"`
	CPUPercent          float64 `json:"cpuPercent"`
	MemoryRSS           uint64  `json:"memoryRss"`
	SystemMemoryPercent float64 `json:"systemMemoryPercent"`
	ThreadCount         int32   `json:"threadCount"`
	GoroutineCount      int     `json:"goroutineCount"`
}

// SampleResources reads the current process usage. Fields the platform cannot
// report are left zero.
func SampleResources(ctx context.Context) (*ResourceUsage, error) {
	pid := int32(os.Getpid()) //nolint:gosec // pids fit in int32
	usage := &ResourceUsage{
		PID:            pid,
		GoroutineCount: runtime.NumGoroutine(),
	}

	proc, err := process.NewProcessWithContext(ctx, pid)
	if err != nil {
		return usage, err
	}

	if cpu, err := proc.CPUPercentWithContext(ctx); err == nil {
		usage.CPUPercent = cpu
	}
	if memInfo, err := proc.MemoryInfoWithContext(ctx); err == nil {
		usage.MemoryRSS = memInfo.RSS
	}
	if threads, err := proc.NumThreadsWithContext(ctx); err == nil {
		usage.ThreadCount = threads
	}
	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		usage.SystemMemoryPercent = vm.UsedPercent
	}

	return usage, nil
}
