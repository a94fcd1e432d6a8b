package agent

import (
	"sync/atomic"
	"time"
)

type HealthStatus struct {
	sourceHealthy   atomic.Bool
	streamConnected atomic.Bool
	lastSampleAt    atomic.Int64
	lastSendAt      atomic.Int64
	samples         atomic.Uint64
}

func NewHealthStatus() *HealthStatus {
	return &HealthStatus{}
}

func (h *HealthStatus) SetSourceHealthy(ok bool) {
	h.sourceHealthy.Store(ok)
}

func (h *HealthStatus) SetStreamConnected(ok bool) {
	h.streamConnected.Store(ok)
}

func (h *HealthStatus) MarkSample(ts time.Time) {
	h.lastSampleAt.Store(ts.UnixNano())
	h.samples.Add(1)
}

func (h *HealthStatus) MarkSend(ts time.Time) {
	h.lastSendAt.Store(ts.UnixNano())
}

// LastSample returns the zero time before the first snapshot.
func (h *HealthStatus) LastSample() time.Time {
	v := h.lastSampleAt.Load()
	if v == 0 {
		return time.Time{}
	}
	return time.Unix(0, v).UTC()
}

func (h *HealthStatus) Snapshot() map[string]any {
	out := map[string]any{
		"source_healthy":   h.sourceHealthy.Load(),
		"stream_connected": h.streamConnected.Load(),
		"samples":          h.samples.Load(),
	}
	if v := h.lastSampleAt.Load(); v > 0 {
		out["last_sample_at"] = time.Unix(0, v).UTC()
	}
	if v := h.lastSendAt.Load(); v > 0 {
		out["last_send_at"] = time.Unix(0, v).UTC()
	}
	return out
}
