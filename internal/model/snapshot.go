package model

import "time"

// Snapshot is everything one scheduler tick produced. Metrics whose source
// read failed during the tick are absent, not zero.
type Snapshot struct {
	Seq       uint64        `json:"seq"`
	Timestamp time.Time     `json:"timestamp"`
	Gauges    []GaugeSample `json:"gauges"`
	Rates     []RateSample  `json:"rates"`
	Info      []Measurement `json:"info"`
}

// Gauge returns the gauge value for metricID if the tick produced one.
func (s Snapshot) Gauge(metricID string) (float64, bool) {
	for _, g := range s.Gauges {
		if g.MetricID == metricID {
			return g.Value, true
		}
	}
	return 0, false
}

// Rate returns the rate derived for the counter metricID, in bytes/s.
func (s Snapshot) Rate(metricID string) (float64, bool) {
	for _, r := range s.Rates {
		if r.MetricID == metricID {
			return r.Rate, true
		}
	}
	return 0, false
}

// Value returns an info measurement by metric ID.
func (s Snapshot) Value(metricID string) (float64, bool) {
	for _, m := range s.Info {
		if m.MetricID == metricID {
			return m.Value, true
		}
	}
	return 0, false
}

func (s Snapshot) NetSentRate() (float64, bool) { return s.Rate(MetricBytesSent) }
func (s Snapshot) NetRecvRate() (float64, bool) { return s.Rate(MetricBytesRecv) }

// HostInfo is static host identification read once at startup.
type HostInfo struct {
	Hostname        string `json:"hostname"`
	OS              string `json:"os"`
	Platform        string `json:"platform"`
	PlatformVersion string `json:"platform_version"`
	KernelVersion   string `json:"kernel_version"`
	Processor       string `json:"processor"`
	Arch            string `json:"arch"`
}
