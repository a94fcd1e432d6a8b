package source

import (
	"context"
	"fmt"
	"runtime"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/host"
	"github.com/shirou/gopsutil/v4/mem"
	"github.com/shirou/gopsutil/v4/net"

	"sysrate-agent/internal/model"
)

// PSUtil reads host metrics through gopsutil. CPU percent uses interval 0,
// which compares against the previous call, so the first value after start
// covers the time since boot.
type PSUtil struct{}

func NewPSUtil() *PSUtil {
	return &PSUtil{}
}

func (p *PSUtil) CPULogicalCount(ctx context.Context) (uint64, error) {
	n, err := cpu.CountsWithContext(ctx, true)
	if err != nil {
		return 0, unavailable("cpu logical count", err)
	}
	return uint64(n), nil
}

func (p *PSUtil) CPUPhysicalCount(ctx context.Context) (uint64, error) {
	n, err := cpu.CountsWithContext(ctx, false)
	if err != nil {
		return 0, unavailable("cpu physical count", err)
	}
	return uint64(n), nil
}

func (p *PSUtil) CPUPercent(ctx context.Context) (float64, error) {
	pcts, err := cpu.PercentWithContext(ctx, 0, false)
	if err != nil {
		return 0, unavailable("cpu percent", err)
	}
	if len(pcts) == 0 {
		return 0, unavailable("cpu percent", fmt.Errorf("empty result"))
	}
	return model.ClampPercent(pcts[0]), nil
}

func (p *PSUtil) CPUFrequencyMHz(ctx context.Context) (float64, error) {
	infos, err := cpu.InfoWithContext(ctx)
	if err != nil {
		return 0, unavailable("cpu frequency", err)
	}
	var sum float64
	var n int
	for _, info := range infos {
		if info.Mhz > 0 {
			sum += info.Mhz
			n++
		}
	}
	if n == 0 {
		return 0, unavailable("cpu frequency", fmt.Errorf("no frequency reported"))
	}
	return sum / float64(n), nil
}

func (p *PSUtil) MemoryTotalBytes(ctx context.Context) (uint64, error) {
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return 0, unavailable("memory total", err)
	}
	return vm.Total, nil
}

// MemoryUsedBytes reports total minus available, matching the /proc source.
func (p *PSUtil) MemoryUsedBytes(ctx context.Context) (uint64, error) {
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return 0, unavailable("memory used", err)
	}
	if vm.Available > vm.Total {
		return 0, nil
	}
	return vm.Total - vm.Available, nil
}

func (p *PSUtil) MemoryPercent(ctx context.Context) (float64, error) {
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return 0, unavailable("memory percent", err)
	}
	return model.ClampPercent(vm.UsedPercent), nil
}

func (p *PSUtil) DiskUsagePercent(ctx context.Context, path string) (float64, error) {
	u, err := disk.UsageWithContext(ctx, path)
	if err != nil {
		return 0, unavailable("disk usage "+path, err)
	}
	return model.ClampPercent(u.UsedPercent), nil
}

func (p *PSUtil) NetworkCounters(ctx context.Context) (model.NetCounters, error) {
	stats, err := net.IOCountersWithContext(ctx, false)
	if err != nil {
		return model.NetCounters{}, unavailable("network counters", err)
	}
	if len(stats) == 0 {
		return model.NetCounters{}, unavailable("network counters", fmt.Errorf("no interfaces"))
	}
	return model.NetCounters{BytesSent: stats[0].BytesSent, BytesRecv: stats[0].BytesRecv}, nil
}

func (p *PSUtil) HostInfo(ctx context.Context) (model.HostInfo, error) {
	h, err := host.InfoWithContext(ctx)
	if err != nil {
		return model.HostInfo{}, unavailable("host info", err)
	}
	out := model.HostInfo{
		Hostname:        h.Hostname,
		OS:              h.OS,
		Platform:        h.Platform,
		PlatformVersion: h.PlatformVersion,
		KernelVersion:   h.KernelVersion,
		Arch:            h.KernelArch,
	}
	if out.Arch == "" {
		out.Arch = runtime.GOARCH
	}
	if infos, cpuErr := cpu.InfoWithContext(ctx); cpuErr == nil && len(infos) > 0 {
		out.Processor = infos[0].ModelName
	}
	return out, nil
}
