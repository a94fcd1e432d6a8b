package libvirt

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"sysrate-agent/internal/model"
	"sysrate-agent/internal/source"
)

// NodeSource reads CPU and memory from the hypervisor through libvirt and
// delegates disk and network counters, which libvirt does not expose for the
// node, to a fallback source.
type NodeSource struct {
	conn     *ConnManager
	fallback source.MetricSource
	logger   *slog.Logger

	mu           sync.Mutex
	prevCPUUsed  uint64
	prevCPUTotal uint64
	hasPrevCPU   bool
}

func NewNodeSource(conn *ConnManager, fallback source.MetricSource, logger *slog.Logger) *NodeSource {
	return &NodeSource{conn: conn, fallback: fallback, logger: logger}
}

type nodeInfo struct {
	memoryKiB uint64
	cpus      uint64
	mhz       uint64
	physical  uint64
	model     string
}

func (s *NodeSource) nodeInfo(ctx context.Context) (nodeInfo, error) {
	client, err := s.conn.client(ctx)
	if err != nil {
		return nodeInfo{}, err
	}
	rModel, memoryKiB, cpus, mhz, nodes, sockets, cores, _, err := client.NodeGetInfo()
	if err != nil {
		s.conn.Drop()
		return nodeInfo{}, fmt.Errorf("NodeGetInfo: %w", err)
	}
	return nodeInfo{
		memoryKiB: memoryKiB,
		cpus:      uint64(cpus),
		mhz:       uint64(mhz),
		physical:  uint64(nodes) * uint64(sockets) * uint64(cores),
		model:     int8String(rModel[:]),
	}, nil
}

func (s *NodeSource) CPULogicalCount(ctx context.Context) (uint64, error) {
	info, err := s.nodeInfo(ctx)
	if err != nil {
		return 0, unavailable("cpu logical count", err)
	}
	return info.cpus, nil
}

func (s *NodeSource) CPUPhysicalCount(ctx context.Context) (uint64, error) {
	info, err := s.nodeInfo(ctx)
	if err != nil {
		return 0, unavailable("cpu physical count", err)
	}
	if info.physical == 0 {
		return info.cpus, nil
	}
	return info.physical, nil
}

func (s *NodeSource) CPUFrequencyMHz(ctx context.Context) (float64, error) {
	info, err := s.nodeInfo(ctx)
	if err != nil {
		return 0, unavailable("cpu frequency", err)
	}
	return float64(info.mhz), nil
}

func (s *NodeSource) CPUPercent(ctx context.Context) (float64, error) {
	client, err := s.conn.client(ctx)
	if err != nil {
		return 0, unavailable("cpu percent", err)
	}
	// A first call with nparams=0 asks libvirt how many fields it has.
	_, n, err := client.NodeGetCPUStats(-1, 0, 0)
	if err != nil {
		s.conn.Drop()
		return 0, unavailable("cpu percent", fmt.Errorf("NodeGetCPUStats: %w", err))
	}
	stats, _, err := client.NodeGetCPUStats(-1, n, 0)
	if err != nil {
		return 0, unavailable("cpu percent", fmt.Errorf("NodeGetCPUStats: %w", err))
	}
	if len(stats) == 0 {
		return 0, unavailable("cpu percent", fmt.Errorf("empty node cpu stats"))
	}

	var total, idle, iowait uint64
	for _, st := range stats {
		switch strings.ToLower(st.Field) {
		case "idle":
			idle = st.Value
		case "iowait":
			iowait = st.Value
		case "utilization":
			continue
		}
		total += st.Value
	}
	used := total - idle - iowait

	s.mu.Lock()
	defer s.mu.Unlock()
	prevUsed, prevTotal, had := s.prevCPUUsed, s.prevCPUTotal, s.hasPrevCPU
	s.prevCPUUsed, s.prevCPUTotal, s.hasPrevCPU = used, total, true
	if !had || total <= prevTotal || used < prevUsed {
		return 0, nil
	}
	return model.ClampPercent(float64(used-prevUsed) / float64(total-prevTotal) * 100), nil
}

type nodeMemory struct {
	total uint64
	used  uint64
}

func (s *NodeSource) memory(ctx context.Context) (nodeMemory, error) {
	client, err := s.conn.client(ctx)
	if err != nil {
		return nodeMemory{}, err
	}
	_, n, err := client.NodeGetMemoryStats(0, -1, 0)
	if err != nil {
		s.conn.Drop()
		return nodeMemory{}, fmt.Errorf("NodeGetMemoryStats: %w", err)
	}
	stats, _, err := client.NodeGetMemoryStats(n, -1, 0)
	if err != nil {
		return nodeMemory{}, fmt.Errorf("NodeGetMemoryStats: %w", err)
	}
	vals := map[string]uint64{}
	for _, st := range stats {
		vals[strings.ToLower(st.Field)] = st.Value * 1024
	}
	total := vals["total"]
	if total == 0 {
		return nodeMemory{}, fmt.Errorf("total memory is zero")
	}
	reclaimable := vals["free"] + vals["buffers"] + vals["cached"]
	used := uint64(0)
	if reclaimable <= total {
		used = total - reclaimable
	}
	return nodeMemory{total: total, used: used}, nil
}

func (s *NodeSource) MemoryTotalBytes(ctx context.Context) (uint64, error) {
	m, err := s.memory(ctx)
	if err != nil {
		info, infoErr := s.nodeInfo(ctx)
		if infoErr != nil {
			return 0, unavailable("memory total", err)
		}
		return info.memoryKiB * 1024, nil
	}
	return m.total, nil
}

func (s *NodeSource) MemoryUsedBytes(ctx context.Context) (uint64, error) {
	m, err := s.memory(ctx)
	if err != nil {
		s.logger.Debug("libvirt memory stats failed, using fallback source", "error", err)
		return s.fallback.MemoryUsedBytes(ctx)
	}
	return m.used, nil
}

func (s *NodeSource) MemoryPercent(ctx context.Context) (float64, error) {
	m, err := s.memory(ctx)
	if err != nil {
		s.logger.Debug("libvirt memory stats failed, using fallback source", "error", err)
		return s.fallback.MemoryPercent(ctx)
	}
	return model.ClampPercent(float64(m.used) / float64(m.total) * 100), nil
}

func (s *NodeSource) DiskUsagePercent(ctx context.Context, path string) (float64, error) {
	return s.fallback.DiskUsagePercent(ctx, path)
}

func (s *NodeSource) NetworkCounters(ctx context.Context) (model.NetCounters, error) {
	return s.fallback.NetworkCounters(ctx)
}

func (s *NodeSource) HostInfo(ctx context.Context) (model.HostInfo, error) {
	var out model.HostInfo
	if hr, ok := s.fallback.(source.HostInfoReader); ok {
		if base, err := hr.HostInfo(ctx); err == nil {
			out = base
		}
	}
	client, err := s.conn.client(ctx)
	if err != nil {
		return out, unavailable("host info", err)
	}
	if hostname, err := client.ConnectGetHostname(); err == nil && hostname != "" {
		out.Hostname = hostname
	}
	if info, err := s.nodeInfo(ctx); err == nil && info.model != "" {
		out.Arch = info.model
	}
	return out, nil
}

func (s *NodeSource) Close() error {
	return s.conn.Close()
}

func unavailable(what string, err error) error {
	return fmt.Errorf("%w: libvirt %s: %v", source.ErrSourceUnavailable, what, err)
}

func int8String(raw []int8) string {
	b := make([]byte, 0, len(raw))
	for _, c := range raw {
		if c == 0 {
			break
		}
		b = append(b, byte(c))
	}
	return string(b)
}
