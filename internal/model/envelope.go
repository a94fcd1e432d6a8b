package model

type MetricType string

const (
	MetricTypeSnapshot MetricType = "host_snapshot"
	MetricTypeHostInfo MetricType = "host_info"
)

// Envelope is transport-agnostic framing for stream payloads.
type Envelope struct {
	Type          MetricType `json:"type"`
	HostID        string     `json:"host_id"`
	TimestampUnix int64      `json:"timestamp_unix"`
	Payload       any        `json:"payload"`
}
