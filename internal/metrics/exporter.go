package metrics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"sysrate-agent/internal/model"
)

// Exporter publishes the latest snapshot as Prometheus gauges and counts
// scheduler events. It is both a stream.Sink and a collector.Observer.
type Exporter struct {
	registry *prometheus.Registry

	gauges     *prometheus.GaugeVec
	rates      *prometheus.GaugeVec
	info       *prometheus.GaugeVec
	lastSample prometheus.Gauge
	tickTime   prometheus.Histogram

	// Label values published by the previous Send, per vec.
	mu        sync.Mutex
	published map[*prometheus.GaugeVec]map[string]struct{}

	sourceFailures       *prometheus.CounterVec
	counterResets        *prometheus.CounterVec
	presentationFailures *prometheus.CounterVec
}

func NewExporter() *Exporter {
	e := &Exporter{
		registry:  prometheus.NewRegistry(),
		published: make(map[*prometheus.GaugeVec]map[string]struct{}),
		gauges: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "sysrate_usage_percent",
			Help: "Latest utilisation gauge in percent.",
		}, []string{"metric"}),
		rates: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "sysrate_rate_per_second",
			Help: "Latest counter rate in units per second.",
		}, []string{"metric"}),
		info: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "sysrate_info_value",
			Help: "Latest informational measurement.",
		}, []string{"metric"}),
		lastSample: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sysrate_last_sample_timestamp_seconds",
			Help: "Unix time of the most recent snapshot.",
		}),
		tickTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "sysrate_tick_duration_seconds",
			Help:    "Time spent reading the source and handing off one snapshot.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
		}),
		sourceFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sysrate_source_failures_total",
			Help: "Source reads that failed or timed out.",
		}, []string{"metric"}),
		counterResets: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sysrate_counter_resets_total",
			Help: "Cumulative counters observed going backwards.",
		}, []string{"metric"}),
		presentationFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sysrate_presentation_failures_total",
			Help: "Sink sends that failed or panicked.",
		}, []string{"sink"}),
	}
	e.registry.MustRegister(
		e.gauges,
		e.rates,
		e.info,
		e.lastSample,
		e.tickTime,
		e.sourceFailures,
		e.counterResets,
		e.presentationFailures,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return e
}

func (e *Exporter) Name() string {
	return "prometheus"
}

// Send publishes snap. A metric the snapshot lacks, because its read failed
// this tick, is removed rather than left at its last value.
func (e *Exporter) Send(_ context.Context, snap model.Snapshot) error {
	gauges := make(map[string]float64, len(snap.Gauges))
	for _, g := range snap.Gauges {
		gauges[g.MetricID] = g.Value
	}
	rates := make(map[string]float64, len(snap.Rates))
	for _, r := range snap.Rates {
		rates[r.MetricID] = r.Rate
	}
	info := make(map[string]float64, len(snap.Info))
	for _, m := range snap.Info {
		info[m.MetricID] = m.Value
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.publish(e.gauges, gauges)
	e.publish(e.rates, rates)
	e.publish(e.info, info)
	e.lastSample.Set(float64(snap.Timestamp.UnixNano()) / 1e9)
	return nil
}

func (e *Exporter) publish(vec *prometheus.GaugeVec, values map[string]float64) {
	next := make(map[string]struct{}, len(values))
	for id, v := range values {
		vec.WithLabelValues(id).Set(v)
		next[id] = struct{}{}
	}
	for id := range e.published[vec] {
		if _, ok := next[id]; !ok {
			vec.DeleteLabelValues(id)
		}
	}
	e.published[vec] = next
}

func (e *Exporter) Close(context.Context) error {
	return nil
}

func (e *Exporter) TickCompleted(d time.Duration) {
	e.tickTime.Observe(d.Seconds())
}

func (e *Exporter) SourceFailure(metricID string) {
	e.sourceFailures.WithLabelValues(metricID).Inc()
}

func (e *Exporter) CounterReset(metricID string) {
	e.counterResets.WithLabelValues(metricID).Inc()
}

func (e *Exporter) PresentationFailure(sink string) {
	e.presentationFailures.WithLabelValues(sink).Inc()
}

func (e *Exporter) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{Registry: e.registry}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return mux
}

// Serve runs the /metrics endpoint on ln until ctx is cancelled.
func (e *Exporter) Serve(ctx context.Context, ln net.Listener, logger *slog.Logger) error {
	srv := &http.Server{
		Handler:           e.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()
	logger.Info("metrics endpoint listening", "addr", ln.Addr().String())

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("metrics server: %w", err)
		}
		return nil
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
