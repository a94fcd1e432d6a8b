package model

import "time"

// Metric identifiers shared by sources, the sampler and every sink.
const (
	MetricBytesSent = "bytes_sent"
	MetricBytesRecv = "bytes_recv"

	MetricCPUPercent    = "cpu_percent"
	MetricMemoryPercent = "memory_percent"
	MetricDiskPercent   = "disk_percent"

	MetricCPULogicalCount     = "cpu_logical_count"
	MetricCPUPhysicalCount    = "cpu_physical_count"
	MetricCPUFrequencyMHz     = "cpu_frequency_mhz"
	MetricMemoryTotalBytes    = "memory_total_bytes"
	MetricMemoryUsedBytes     = "memory_used_bytes"
	MetricNetSentSessionBytes = "net_sent_session_bytes"
	MetricNetRecvSessionBytes = "net_recv_session_bytes"
)

// CounterReading is one point-in-time observation of a cumulative counter.
type CounterReading struct {
	MetricID  string    `json:"metric_id"`
	Value     uint64    `json:"value"`
	Timestamp time.Time `json:"timestamp"`
}

// RateSample is a counter delta divided by the elapsed time between two
// readings, in units per second.
type RateSample struct {
	MetricID  string        `json:"metric_id"`
	Rate      float64       `json:"rate"`
	Timestamp time.Time     `json:"timestamp"`
	Elapsed   time.Duration `json:"elapsed"`
	// Reset is set when the counter went backwards and the new value was
	// treated as measured from zero.
	Reset bool `json:"reset,omitempty"`
}

// GaugeSample is an instantaneous percentage reading in [0,100].
type GaugeSample struct {
	MetricID  string    `json:"metric_id"`
	Value     float64   `json:"value"`
	Timestamp time.Time `json:"timestamp"`
}

// Measurement is an instantaneous non-percentage reading (counts, MHz, bytes).
type Measurement struct {
	MetricID string  `json:"metric_id"`
	Value    float64 `json:"value"`
}

// NetCounters are the cumulative byte counters reported by a source.
type NetCounters struct {
	BytesSent uint64 `json:"bytes_sent"`
	BytesRecv uint64 `json:"bytes_recv"`
}

// ClampPercent bounds a percentage reading to [0,100].
func ClampPercent(value float64) float64 {
	if value < 0 {
		return 0
	}
	if value > 100 {
		return 100
	}
	return value
}
