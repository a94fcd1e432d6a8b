package stream

import (
	"context"
	"encoding/json"

	"sysrate-agent/internal/model"
)

// Sink is a presentation sink that receives one snapshot per tick. Send may
// block; the dispatcher isolates it from the sampling loop.
type Sink interface {
	Name() string
	Send(ctx context.Context, snap model.Snapshot) error
	Close(ctx context.Context) error
}

// Identity names the host in outgoing frames.
type Identity struct {
	HostID   string
	Hostname string
	Host     *model.HostInfo
}

type SnapshotFrame struct {
	HostID        string             `json:"host_id"`
	Hostname      string             `json:"hostname"`
	TimestampUnix int64              `json:"timestamp_unix"`
	Seq           uint64             `json:"seq"`
	Gauges        map[string]float64 `json:"gauges"`
	Rates         map[string]float64 `json:"rates"`
	Resets        []string           `json:"resets,omitempty"`
	Info          map[string]float64 `json:"info,omitempty"`
	Host          *model.HostInfo    `json:"host,omitempty"`
}

func EncodeEnvelope(e model.Envelope) ([]byte, error) {
	return json.Marshal(e)
}

func NewSnapshotFrame(id Identity, snap model.Snapshot) SnapshotFrame {
	frame := SnapshotFrame{
		HostID:        id.HostID,
		Hostname:      id.Hostname,
		TimestampUnix: snap.Timestamp.UTC().Unix(),
		Seq:           snap.Seq,
		Gauges:        make(map[string]float64, len(snap.Gauges)),
		Rates:         make(map[string]float64, len(snap.Rates)),
	}
	for _, g := range snap.Gauges {
		frame.Gauges[g.MetricID] = g.Value
	}
	for _, r := range snap.Rates {
		frame.Rates[r.MetricID] = r.Rate
		if r.Reset {
			frame.Resets = append(frame.Resets, r.MetricID)
		}
	}
	if len(snap.Info) > 0 {
		frame.Info = make(map[string]float64, len(snap.Info))
		for _, m := range snap.Info {
			frame.Info[m.MetricID] = m.Value
		}
	}
	return frame
}
