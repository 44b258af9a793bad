package stats

import (
	"context"
	"fmt"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/mem"
)

type SystemStats struct {
	CPUPercent    float64 `json:"cpu_percent"`
	CPUCount      int     `json:"cpu_count"`
	MemoryTotalMB float64 `json:"memory_total_mb"`
	MemoryUsedMB  float64 `json:"memory_used_mb"`
	MemoryPercent float64 `json:"memory_percent"`
	DiskTotalGB   float64 `json:"disk_total_gb"`
	DiskUsedGB    float64 `json:"disk_used_gb"`
	DiskPercent   float64 `json:"disk_percent"`
}

// CollectSystem samples host CPU, memory and disk usage of path.
func CollectSystem(ctx context.Context, path string) (*SystemStats, error) {
	var s SystemStats

	pcts, err := cpu.PercentWithContext(ctx, 0, false)
	if err != nil {
		return nil, fmt.Errorf("cpu percent: %w", err)
	}
	if len(pcts) > 0 {
		s.CPUPercent = pcts[0]
	}
	if n, err := cpu.CountsWithContext(ctx, true); err == nil {
		s.CPUCount = n
	}

	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("virtual memory: %w", err)
	}
	s.MemoryTotalMB = float64(vm.Total) / (1024 * 1024)
	s.MemoryUsedMB = float64(vm.Used) / (1024 * 1024)
	s.MemoryPercent = vm.UsedPercent

	du, err := disk.UsageWithContext(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("disk usage: %w", err)
	}
	s.DiskTotalGB = float64(du.Total) / (1024 * 1024 * 1024)
	s.DiskUsedGB = float64(du.Used) / (1024 * 1024 * 1024)
	s.DiskPercent = du.UsedPercent

	return &s, nil
}
