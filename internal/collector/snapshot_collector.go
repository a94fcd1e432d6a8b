package collector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"sysrate-agent/internal/model"
	"sysrate-agent/internal/rate"
	"sysrate-agent/internal/source"
)

const defaultReadTimeout = 750 * time.Millisecond

type CollectorOptions struct {
	DiskPath    string
	ReadTimeout time.Duration
	Observer    Observer
	// Clock stamps readings; defaults to time.Now.
	Clock func() time.Time
}

// SnapshotCollector performs the read phase of one tick: it queries the
// source once per tracked metric, feeds counters to the sampler and returns
// whatever succeeded.
type SnapshotCollector struct {
	source      source.MetricSource
	sampler     *rate.Sampler
	logger      *slog.Logger
	observer    Observer
	diskPath    string
	readTimeout time.Duration
	now         func() time.Time

	sentSession rate.Baseline
	recvSession rate.Baseline
	seq         uint64
}

func NewSnapshotCollector(src source.MetricSource, sampler *rate.Sampler, logger *slog.Logger, opts CollectorOptions) *SnapshotCollector {
	c := &SnapshotCollector{
		source:      src,
		sampler:     sampler,
		logger:      logger,
		observer:    opts.Observer,
		diskPath:    opts.DiskPath,
		readTimeout: opts.ReadTimeout,
		now:         opts.Clock,
	}
	if c.observer == nil {
		c.observer = nopObserver{}
	}
	if c.diskPath == "" {
		c.diskPath = "/"
	}
	if c.readTimeout <= 0 {
		c.readTimeout = defaultReadTimeout
	}
	if c.now == nil {
		c.now = time.Now
	}
	return c
}

// Collect never fails as a whole. Reads run detached from ctx cancellation so
// a stop request lets the in-flight tick finish; each read is still bounded
// by the read timeout.
func (c *SnapshotCollector) Collect(ctx context.Context) model.Snapshot {
	rctx := context.WithoutCancel(ctx)
	ts := c.now()
	c.seq++
	snap := model.Snapshot{Seq: c.seq, Timestamp: ts}

	// Counters first so their timestamp is closest to ts.
	if net, err := readWithTimeout(rctx, c.readTimeout, c.source.NetworkCounters); err != nil {
		c.sourceFailed("network_counters", err)
	} else {
		c.observeCounter(&snap, model.MetricBytesSent, net.BytesSent, ts)
		c.observeCounter(&snap, model.MetricBytesRecv, net.BytesRecv, ts)
		snap.Info = append(snap.Info,
			model.Measurement{MetricID: model.MetricNetSentSessionBytes, Value: float64(c.sentSession.Since(net.BytesSent))},
			model.Measurement{MetricID: model.MetricNetRecvSessionBytes, Value: float64(c.recvSession.Since(net.BytesRecv))},
		)
	}

	c.gauge(rctx, &snap, model.MetricCPUPercent, c.source.CPUPercent)
	c.gauge(rctx, &snap, model.MetricMemoryPercent, c.source.MemoryPercent)
	c.gauge(rctx, &snap, model.MetricDiskPercent, func(ctx context.Context) (float64, error) {
		return c.source.DiskUsagePercent(ctx, c.diskPath)
	})

	c.infoUint(rctx, &snap, model.MetricCPUPhysicalCount, c.source.CPUPhysicalCount)
	c.infoUint(rctx, &snap, model.MetricCPULogicalCount, c.source.CPULogicalCount)
	c.infoFloat(rctx, &snap, model.MetricCPUFrequencyMHz, c.source.CPUFrequencyMHz)
	c.infoUint(rctx, &snap, model.MetricMemoryTotalBytes, c.source.MemoryTotalBytes)
	c.infoUint(rctx, &snap, model.MetricMemoryUsedBytes, c.source.MemoryUsedBytes)

	return snap
}

func (c *SnapshotCollector) observeCounter(snap *model.Snapshot, metricID string, value uint64, ts time.Time) {
	sample, ok, err := c.sampler.Observe(model.CounterReading{MetricID: metricID, Value: value, Timestamp: ts})
	switch {
	case err != nil:
		c.logger.Warn("rate sample rejected", "metric", metricID, "error", err)
	case !ok:
		c.logger.Debug("rate baseline established", "metric", metricID, "value", value)
	default:
		if sample.Reset {
			c.logger.Info("counter reset detected", "metric", metricID, "value", value)
			c.observer.CounterReset(metricID)
		}
		snap.Rates = append(snap.Rates, sample)
	}
}

func (c *SnapshotCollector) gauge(ctx context.Context, snap *model.Snapshot, metricID string, read func(context.Context) (float64, error)) {
	v, err := readWithTimeout(ctx, c.readTimeout, read)
	if err == nil && math.IsNaN(v) {
		err = fmt.Errorf("%w: %s is NaN", source.ErrSourceUnavailable, metricID)
	}
	if err != nil {
		c.sourceFailed(metricID, err)
		return
	}
	snap.Gauges = append(snap.Gauges, model.GaugeSample{MetricID: metricID, Value: model.ClampPercent(v), Timestamp: snap.Timestamp})
}

func (c *SnapshotCollector) infoUint(ctx context.Context, snap *model.Snapshot, metricID string, read func(context.Context) (uint64, error)) {
	v, err := readWithTimeout(ctx, c.readTimeout, read)
	if err != nil {
		c.sourceFailed(metricID, err)
		return
	}
	snap.Info = append(snap.Info, model.Measurement{MetricID: metricID, Value: float64(v)})
}

func (c *SnapshotCollector) infoFloat(ctx context.Context, snap *model.Snapshot, metricID string, read func(context.Context) (float64, error)) {
	v, err := readWithTimeout(ctx, c.readTimeout, read)
	if err != nil {
		c.sourceFailed(metricID, err)
		return
	}
	snap.Info = append(snap.Info, model.Measurement{MetricID: metricID, Value: v})
}

func (c *SnapshotCollector) sourceFailed(metricID string, err error) {
	c.logger.Warn("source read failed", "metric", metricID, "error", err)
	c.observer.SourceFailure(metricID)
}

// readWithTimeout runs read in its own goroutine so a source that ignores its
// context still cannot hold the tick past the timeout. A read that overruns is
// abandoned and reported as unavailable.
func readWithTimeout[T any](ctx context.Context, timeout time.Duration, read func(context.Context) (T, error)) (T, error) {
	rctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		v   T
		err error
	}
	ch := make(chan result, 1)
	go func() {
		v, err := read(rctx)
		ch <- result{v: v, err: err}
	}()

	select {
	case r := <-ch:
		if r.err != nil && !errors.Is(r.err, source.ErrSourceUnavailable) {
			r.err = fmt.Errorf("%w: %v", source.ErrSourceUnavailable, r.err)
		}
		return r.v, r.err
	case <-rctx.Done():
		var zero T
		return zero, fmt.Errorf("%w: read timed out after %s", source.ErrSourceUnavailable, timeout)
	}
}
