package health

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/load"
	"github.com/shirou/gopsutil/v4/mem"
	"github.com/shirou/gopsutil/v4/process"
)

// ErrResourcesUnavailable means the host cannot report resource usage.
// The resource probe degrades to a warning instead of failing.
var ErrResourcesUnavailable = errors.New("system resource readings unavailable")

// ResourceSnapshot is one reading of host resource usage.
type ResourceSnapshot struct {
	CPUPercent           float64
	MemoryPercent        float64
	MemoryAvailableBytes uint64
	DiskPercent          float64
	DiskFreeBytes        uint64
	Load1                float64
	Load5                float64
	Load15               float64
	ProcessCount         int
}

// ResourceReader reads host resource usage.
type ResourceReader interface {
	ReadResources(ctx context.Context) (ResourceSnapshot, error)
}

// gopsutilReader reads resources through gopsutil.
type gopsutilReader struct {
	diskPath    string
	cpuInterval time.Duration
}

// NewResourceReader returns a ResourceReader backed by gopsutil. diskPath
// selects the filesystem whose usage is reported; cpuInterval is the CPU
// sampling window.
func NewResourceReader(diskPath string, cpuInterval time.Duration) ResourceReader {
	if diskPath == "" {
		diskPath = "/"
	}
	if cpuInterval <= 0 {
		cpuInterval = time.Second
	}
	return &gopsutilReader{diskPath: diskPath, cpuInterval: cpuInterval}
}

// ReadResources implements ResourceReader. CPU, memory and disk readings
// are required; load average and process count are best effort.
func (r *gopsutilReader) ReadResources(ctx context.Context) (ResourceSnapshot, error) {
	var snap ResourceSnapshot

	percents, err := cpu.PercentWithContext(ctx, r.cpuInterval, false)
	if err != nil || len(percents) == 0 {
		return snap, fmt.Errorf("%w: cpu: %v", ErrResourcesUnavailable, err)
	}
	snap.CPUPercent = percents[0]

	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return snap, fmt.Errorf("%w: memory: %v", ErrResourcesUnavailable, err)
	}
	snap.MemoryPercent = vm.UsedPercent
	snap.MemoryAvailableBytes = vm.Available

	usage, err := disk.UsageWithContext(ctx, r.diskPath)
	if err != nil {
		return snap, fmt.Errorf("%w: disk %s: %v", ErrResourcesUnavailable, r.diskPath, err)
	}
	snap.DiskPercent = usage.UsedPercent
	snap.DiskFreeBytes = usage.Free

	if avg, err := load.AvgWithContext(ctx); err == nil {
		snap.Load1, snap.Load5, snap.Load15 = avg.Load1, avg.Load5, avg.Load15
	}
	if pids, err := process.PidsWithContext(ctx); err == nil {
		snap.ProcessCount = len(pids)
	}
	return snap, nil
}

// CheckSystemResources classifies CPU, memory and disk usage against the
// configured thresholds.
func (c *Checker) CheckSystemResources(ctx context.Context) Check {
	return c.probe(ctx, NameSystemResources, func(ctx context.Context) Check {
		snap, err := c.resources.ReadResources(ctx)
		if errors.Is(err, ErrResourcesUnavailable) {
			return Check{
				Status:  StatusWarning,
				Message: "Resource monitoring unavailable on this host",
				Details: map[string]any{"error": err.Error()},
			}
		}
		if err != nil {
			return Check{
				Status:  StatusCritical,
				Message: fmt.Sprintf("System resource check failed: %v", err),
				Details: map[string]any{"error": err.Error()},
			}
		}

		c.reportSystemMetrics(snap)

		thresholds := c.Thresholds()
		status := StatusHealthy
		var issues []string
		readings := []struct {
			threshold string
			label     string
			value     float64
		}{
			{ThresholdCPU, "CPU", snap.CPUPercent},
			{ThresholdMemory, "memory", snap.MemoryPercent},
			{ThresholdDisk, "disk", snap.DiskPercent},
		}
		for _, r := range readings {
			s := thresholds[r.threshold].Classify(r.value)
			switch s {
			case StatusCritical:
				issues = append(issues, fmt.Sprintf("Critical %s usage: %.1f%%", r.label, r.value))
			case StatusWarning:
				issues = append(issues, fmt.Sprintf("High %s usage: %.1f%%", r.label, r.value))
			case StatusHealthy, StatusUnknown:
			}
			status = status.Worse(s)
		}

		message := "System resources are healthy"
		if len(issues) > 0 {
			message = strings.Join(issues, "; ")
		}
		return Check{
			Status:  status,
			Message: message,
			Details: map[string]any{
				"cpu_percent":      snap.CPUPercent,
				"memory_percent":   snap.MemoryPercent,
				"memory_available": humanize.IBytes(snap.MemoryAvailableBytes),
				"disk_percent":     snap.DiskPercent,
				"disk_free":        humanize.IBytes(snap.DiskFreeBytes),
				"load_average":     []float64{snap.Load1, snap.Load5, snap.Load15},
				"process_count":    snap.ProcessCount,
			},
		}
	})
}

// reportSystemMetrics forwards readings to the optional metrics sink.
func (c *Checker) reportSystemMetrics(snap ResourceSnapshot) {
	if c.systemMetrics == nil {
		return
	}
	c.systemMetrics.TrackSystemMetric("cpu_percent", snap.CPUPercent, "%")
	c.systemMetrics.TrackSystemMetric("memory_percent", snap.MemoryPercent, "%")
	c.systemMetrics.TrackSystemMetric("disk_percent", snap.DiskPercent, "%")
	c.systemMetrics.TrackSystemMetric("load_1m", snap.Load1, "")
	c.systemMetrics.TrackSystemMetric("process_count", float64(snap.ProcessCount), "")
}
