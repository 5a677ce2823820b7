// Package hostinfo collects a small overview of the dispatching host.
package hostinfo

import (
	"context"
	"os"
	"runtime"

	"github.com/dante-gpu/dante-sweep/internal/models"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"
	"go.uber.org/zap"
)

const gib = 1024 * 1024 * 1024

// Collect probes CPU, memory, disk and uptime. A failing probe is logged
// and leaves its fields zero. diskPath selects the filesystem to report;
// empty means the root filesystem.
func Collect(ctx context.Context, diskPath string, logger *zap.Logger) models.SystemOverview {
	overview := models.SystemOverview{}

	info, err := host.InfoWithContext(ctx)
	if err != nil {
		logger.Warn("Failed to get host info", zap.Error(err))
		if name, herr := os.Hostname(); herr == nil {
			overview.Hostname = name
		}
	} else {
		overview.Hostname = info.Hostname
		overview.UptimeSeconds = info.Uptime
	}

	cpuPercentages, err := cpu.PercentWithContext(ctx, 0, false) // 0 for overall, false for non-per-CPU
	if err != nil {
		logger.Warn("Failed to get CPU usage", zap.Error(err))
	} else if len(cpuPercentages) > 0 {
		overview.CpuUsagePercent = float32(cpuPercentages[0])
	}

	vmStat, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		logger.Warn("Failed to get virtual memory stats", zap.Error(err))
	} else {
		overview.RamUsagePercent = float32(vmStat.UsedPercent)
	}

	if diskPath == "" {
		diskPath = "/"
		if runtime.GOOS == "windows" {
			diskPath = "C:"
		}
	}
	diskUsage, err := disk.UsageWithContext(ctx, diskPath)
	if err != nil {
		logger.Warn("Failed to get disk usage stats", zap.String("path", diskPath), zap.Error(err))
	} else {
		overview.TotalDiskSpaceGB = diskUsage.Total / gib
		overview.FreeDiskSpaceGB = diskUsage.Free / gib
	}

	return overview
}
