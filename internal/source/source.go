// Package source defines the metric source contract and its host-backed
// implementations.
package source

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"sysrate-agent/internal/model"
)

// ErrSourceUnavailable marks a failed or timed-out read. It is transient:
// callers skip the metric for the current tick and keep going.
var ErrSourceUnavailable = errors.New("metric source unavailable")

// MetricSource exposes point-in-time readings. Calls are independent
// snapshots; two calls in the same tick may disagree.
type MetricSource interface {
	CPULogicalCount(ctx context.Context) (uint64, error)
	CPUPhysicalCount(ctx context.Context) (uint64, error)
	CPUPercent(ctx context.Context) (float64, error)
	CPUFrequencyMHz(ctx context.Context) (float64, error)
	MemoryTotalBytes(ctx context.Context) (uint64, error)
	MemoryUsedBytes(ctx context.Context) (uint64, error)
	MemoryPercent(ctx context.Context) (float64, error)
	DiskUsagePercent(ctx context.Context, path string) (float64, error)
	NetworkCounters(ctx context.Context) (model.NetCounters, error)
}

// HostInfoReader is implemented by sources that can describe the host.
type HostInfoReader interface {
	HostInfo(ctx context.Context) (model.HostInfo, error)
}

// Closer is implemented by sources holding connections.
type Closer interface {
	Close() error
}

// Kind names a MetricSource implementation in configuration.
type Kind string

const (
	KindPSUtil  Kind = "gopsutil"
	KindProc    Kind = "proc"
	KindLibvirt Kind = "libvirt"
)

func ParseKind(raw string) (Kind, error) {
	switch k := Kind(strings.ToLower(strings.TrimSpace(raw))); k {
	case KindPSUtil, KindProc, KindLibvirt:
		return k, nil
	case "psutil":
		return KindPSUtil, nil
	default:
		return "", fmt.Errorf("unsupported metric source %q", raw)
	}
}

func unavailable(what string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrSourceUnavailable, what, err)
}
