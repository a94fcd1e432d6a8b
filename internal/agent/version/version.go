package version

import (
	"time"

	"sysrate-agent/internal/config"
)

// Response is what the probe endpoint answers with.
type Response struct {
	HostID          string         `json:"host_id"`
	AgentVersion    string         `json:"agent_version"`
	Source          string         `json:"source"`
	StreamMode      string         `json:"stream_mode,omitempty"`
	Display         string         `json:"display"`
	SampleInterval  string         `json:"sample_interval"`
	ProbeListenAddr string         `json:"probe_listen_addr"`
	CheckedAtUnix   int64          `json:"checked_at_unix"`
	Health          map[string]any `json:"health,omitempty"`
}

func Get(cfg config.Config, health map[string]any) *Response {
	return &Response{
		HostID:          cfg.HostID,
		AgentVersion:    cfg.AgentVersion,
		Source:          cfg.Source,
		StreamMode:      string(cfg.StreamMode),
		Display:         string(cfg.Display),
		SampleInterval:  cfg.SampleInterval.String(),
		ProbeListenAddr: cfg.ProbeListenAddr,
		CheckedAtUnix:   time.Now().UTC().Unix(),
		Health:          health,
	}
}
