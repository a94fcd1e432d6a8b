package source

import (
	"context"
	"os"
	"runtime"
	"strings"
	"sync"

	"sysrate-agent/internal/model"
	"sysrate-agent/internal/system"
)

// Proc reads Linux /proc and statfs directly. CPU percent is derived from
// consecutive /proc/stat snapshots; the first call returns 0.
type Proc struct {
	mu      sync.Mutex
	prevCPU system.CPUCounters
	hasPrev bool
}

func NewProc() *Proc {
	return &Proc{}
}

func (p *Proc) CPULogicalCount(ctx context.Context) (uint64, error) {
	info, err := system.ReadCPUInfo()
	if err != nil {
		return uint64(runtime.NumCPU()), nil
	}
	return info.LogicalCount, nil
}

func (p *Proc) CPUPhysicalCount(ctx context.Context) (uint64, error) {
	info, err := system.ReadCPUInfo()
	if err != nil {
		return 0, unavailable("cpu physical count", err)
	}
	return info.PhysicalCount, nil
}

func (p *Proc) CPUPercent(ctx context.Context) (float64, error) {
	cur, err := system.ReadCPUCounters()
	if err != nil {
		return 0, unavailable("cpu percent", err)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	prev, had := p.prevCPU, p.hasPrev
	p.prevCPU, p.hasPrev = cur, true
	if !had {
		return 0, nil
	}
	return system.CPUUsage(prev, cur), nil
}

func (p *Proc) CPUFrequencyMHz(ctx context.Context) (float64, error) {
	info, err := system.ReadCPUInfo()
	if err != nil {
		return 0, unavailable("cpu frequency", err)
	}
	return info.CurrentMHz, nil
}

func (p *Proc) MemoryTotalBytes(ctx context.Context) (uint64, error) {
	m, err := system.ReadMemoryInfo()
	if err != nil {
		return 0, unavailable("memory total", err)
	}
	return m.TotalBytes, nil
}

func (p *Proc) MemoryUsedBytes(ctx context.Context) (uint64, error) {
	m, err := system.ReadMemoryInfo()
	if err != nil {
		return 0, unavailable("memory used", err)
	}
	return m.UsedBytes, nil
}

func (p *Proc) MemoryPercent(ctx context.Context) (float64, error) {
	m, err := system.ReadMemoryInfo()
	if err != nil {
		return 0, unavailable("memory percent", err)
	}
	return model.ClampPercent(m.UsedPercent()), nil
}

func (p *Proc) DiskUsagePercent(ctx context.Context, path string) (float64, error) {
	d, err := system.ReadDiskUsage(path)
	if err != nil {
		return 0, unavailable("disk usage "+path, err)
	}
	return model.ClampPercent(d.UsedPercent()), nil
}

func (p *Proc) NetworkCounters(ctx context.Context) (model.NetCounters, error) {
	n, err := system.ReadNetCounters()
	if err != nil {
		return model.NetCounters{}, unavailable("network counters", err)
	}
	return model.NetCounters{BytesSent: n.TxBytes, BytesRecv: n.RxBytes}, nil
}

func (p *Proc) HostInfo(ctx context.Context) (model.HostInfo, error) {
	hostname, _ := os.Hostname()
	out := model.HostInfo{
		Hostname: hostname,
		OS:       runtime.GOOS,
		Arch:     runtime.GOARCH,
	}
	if info, err := system.ReadCPUInfo(); err == nil {
		out.Processor = info.ModelName
	}
	if raw, err := os.ReadFile(system.ProcRoot + "/sys/kernel/osrelease"); err == nil {
		out.KernelVersion = strings.TrimSpace(string(raw))
	}
	return out, nil
}
