package collector

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"sysrate-agent/internal/model"
	"sysrate-agent/internal/rate"
	"sysrate-agent/internal/source"
)

// stubSource answers every metric with fixed values unless a hook overrides it.
type stubSource struct {
	cpuPercent func(ctx context.Context) (float64, error)
	network    func(ctx context.Context) (model.NetCounters, error)
}

func (s *stubSource) CPULogicalCount(context.Context) (uint64, error)  { return 8, nil }
func (s *stubSource) CPUPhysicalCount(context.Context) (uint64, error) { return 4, nil }
func (s *stubSource) CPUFrequencyMHz(context.Context) (float64, error) { return 2400, nil }
func (s *stubSource) MemoryTotalBytes(context.Context) (uint64, error) { return 16 << 30, nil }
func (s *stubSource) MemoryUsedBytes(context.Context) (uint64, error)  { return 4 << 30, nil }
func (s *stubSource) MemoryPercent(context.Context) (float64, error)   { return 25, nil }

func (s *stubSource) DiskUsagePercent(context.Context, string) (float64, error) { return 60, nil }

func (s *stubSource) CPUPercent(ctx context.Context) (float64, error) {
	if s.cpuPercent != nil {
		return s.cpuPercent(ctx)
	}
	return 10, nil
}

func (s *stubSource) NetworkCounters(ctx context.Context) (model.NetCounters, error) {
	if s.network != nil {
		return s.network(ctx)
	}
	return model.NetCounters{}, nil
}

var _ source.MetricSource = (*stubSource)(nil)

// stepClock advances one second per call.
type stepClock struct {
	mu   sync.Mutex
	next time.Time
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.next
	c.next = c.next.Add(time.Second)
	return t
}

type countingObserver struct {
	ticks, failures, resets, presentation atomic.Int64
}

func (o *countingObserver) TickCompleted(time.Duration) { o.ticks.Add(1) }
func (o *countingObserver) SourceFailure(string)        { o.failures.Add(1) }
func (o *countingObserver) CounterReset(string)         { o.resets.Add(1) }
func (o *countingObserver) PresentationFailure(string)  { o.presentation.Add(1) }

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestScheduler(src source.MetricSource, obs Observer, opts CollectorOptions) *Scheduler {
	logger := discardLogger()
	opts.Observer = obs
	c := NewSnapshotCollector(src, rate.NewSampler(), logger, opts)
	return NewScheduler(logger, c, obs)
}

// collect starts s and returns the first n snapshots.
func collect(t *testing.T, s *Scheduler, n int) []model.Snapshot {
	t.Helper()
	out := make(chan model.Snapshot, n)
	if err := s.Start(time.Millisecond, func(snap model.Snapshot) {
		select {
		case out <- snap:
		default:
		}
	}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop()

	got := make([]model.Snapshot, 0, n)
	timeout := time.After(5 * time.Second)
	for len(got) < n {
		select {
		case snap := <-out:
			got = append(got, snap)
		case <-timeout:
			t.Fatalf("received %d of %d snapshots", len(got), n)
		}
	}
	return got
}

func TestSchedulerEndToEndRates(t *testing.T) {
	values := []uint64{0, 2048, 5120}
	var calls atomic.Int64
	src := &stubSource{network: func(context.Context) (model.NetCounters, error) {
		i := int(calls.Add(1)) - 1
		if i >= len(values) {
			i = len(values) - 1
		}
		return model.NetCounters{BytesSent: values[i], BytesRecv: values[i]}, nil
	}}
	clock := &stepClock{next: time.Unix(1_700_000_000, 0)}
	s := newTestScheduler(src, nil, CollectorOptions{Clock: clock.Now})

	snaps := collect(t, s, 3)

	if _, ok := snaps[0].Rate(model.MetricBytesSent); ok {
		t.Fatalf("first tick must not carry a rate")
	}
	want := []float64{2048, 3072}
	for i, w := range want {
		got, ok := snaps[i+1].Rate(model.MetricBytesSent)
		if !ok {
			t.Fatalf("tick %d: missing sent rate", i+2)
		}
		if math.Abs(got-w) > 1e-9 {
			t.Errorf("tick %d: sent rate = %v, want %v", i+2, got, w)
		}
		if recv, _ := snaps[i+1].Rate(model.MetricBytesRecv); math.Abs(recv-w) > 1e-9 {
			t.Errorf("tick %d: recv rate = %v, want %v", i+2, recv, w)
		}
	}
	for i, snap := range snaps {
		if snap.Seq != uint64(i+1) {
			t.Errorf("snapshot %d seq = %d", i, snap.Seq)
		}
	}
	if total, _ := snaps[2].Value(model.MetricNetSentSessionBytes); total != 5120 {
		t.Errorf("session sent = %v, want 5120", total)
	}
}

func TestSchedulerSnapshotCarriesGaugesAndInfo(t *testing.T) {
	s := newTestScheduler(&stubSource{}, nil, CollectorOptions{})
	snap := collect(t, s, 1)[0]

	gauges := map[string]float64{
		model.MetricCPUPercent:    10,
		model.MetricMemoryPercent: 25,
		model.MetricDiskPercent:   60,
	}
	for id, want := range gauges {
		if got, ok := snap.Gauge(id); !ok || got != want {
			t.Errorf("gauge %s = %v (%v), want %v", id, got, ok, want)
		}
	}
	info := map[string]float64{
		model.MetricCPULogicalCount:  8,
		model.MetricCPUPhysicalCount: 4,
		model.MetricCPUFrequencyMHz:  2400,
	}
	for id, want := range info {
		if got, ok := snap.Value(id); !ok || got != want {
			t.Errorf("info %s = %v (%v), want %v", id, got, ok, want)
		}
	}
}

func TestSchedulerRejectsInvalidInterval(t *testing.T) {
	s := newTestScheduler(&stubSource{}, nil, CollectorOptions{})
	for _, interval := range []time.Duration{0, -time.Second} {
		if err := s.Start(interval, func(model.Snapshot) {}); !errors.Is(err, rate.ErrInvalidInterval) {
			t.Errorf("Start(%s) error = %v, want ErrInvalidInterval", interval, err)
		}
	}
	if err := s.Run(context.Background(), 0, func(model.Snapshot) {}); !errors.Is(err, rate.ErrInvalidInterval) {
		t.Errorf("Run(0) error = %v, want ErrInvalidInterval", err)
	}
}

func TestSchedulerStartTwice(t *testing.T) {
	s := newTestScheduler(&stubSource{}, nil, CollectorOptions{})
	if err := s.Start(time.Second, func(model.Snapshot) {}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop()
	if err := s.Start(time.Second, func(model.Snapshot) {}); !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("second Start error = %v, want ErrAlreadyRunning", err)
	}
}

func TestSchedulerStopWaitsForInFlightTick(t *testing.T) {
	s := newTestScheduler(&stubSource{}, nil, CollectorOptions{})

	entered := make(chan struct{}, 1)
	release := make(chan struct{})
	var calls atomic.Int64
	if err := s.Start(time.Millisecond, func(model.Snapshot) {
		calls.Add(1)
		select {
		case entered <- struct{}{}:
		default:
		}
		<-release
	}); err != nil {
		t.Fatalf("Start: %v", err)
	}

	select {
	case <-entered:
	case <-time.After(5 * time.Second):
		t.Fatal("no tick started")
	}

	stopped := make(chan struct{})
	go func() {
		s.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
		t.Fatal("Stop returned while a tick was in flight")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	select {
	case <-stopped:
	case <-time.After(5 * time.Second):
		t.Fatal("Stop did not return after the tick completed")
	}

	n := calls.Load()
	time.Sleep(30 * time.Millisecond)
	if got := calls.Load(); got != n {
		t.Fatalf("onSample called %d times after Stop returned", got-n)
	}

	// Idempotent.
	s.Stop()
}

func TestSchedulerStopBeforeStart(t *testing.T) {
	s := newTestScheduler(&stubSource{}, nil, CollectorOptions{})
	s.Stop()
}

func TestSchedulerRestartAfterStop(t *testing.T) {
	s := newTestScheduler(&stubSource{}, nil, CollectorOptions{})
	collect(t, s, 1)
	collect(t, s, 1)
}

func TestSchedulerSurvivesSourceFailure(t *testing.T) {
	var calls atomic.Int64
	src := &stubSource{cpuPercent: func(context.Context) (float64, error) {
		if calls.Add(1) == 1 {
			return 0, errors.New("boom")
		}
		return 42, nil
	}}
	obs := &countingObserver{}
	s := newTestScheduler(src, obs, CollectorOptions{})

	snaps := collect(t, s, 2)

	if _, ok := snaps[0].Gauge(model.MetricCPUPercent); ok {
		t.Errorf("tick 1 should omit the failed cpu gauge")
	}
	if _, ok := snaps[0].Gauge(model.MetricMemoryPercent); !ok {
		t.Errorf("tick 1 should still carry memory gauge")
	}
	if got, ok := snaps[1].Gauge(model.MetricCPUPercent); !ok || got != 42 {
		t.Errorf("tick 2 cpu gauge = %v (%v), want 42", got, ok)
	}
	if obs.failures.Load() < 1 {
		t.Errorf("source failure not reported to observer")
	}
}

func TestSchedulerReadTimeout(t *testing.T) {
	block := make(chan struct{})
	defer close(block)
	src := &stubSource{cpuPercent: func(context.Context) (float64, error) {
		<-block
		return 0, nil
	}}
	s := newTestScheduler(src, nil, CollectorOptions{ReadTimeout: 10 * time.Millisecond})

	snap := collect(t, s, 1)[0]
	if _, ok := snap.Gauge(model.MetricCPUPercent); ok {
		t.Fatalf("timed out read must not produce a gauge")
	}
	if _, ok := snap.Gauge(model.MetricDiskPercent); !ok {
		t.Fatalf("other reads should still succeed")
	}
}

func TestSchedulerRecoversConsumerPanic(t *testing.T) {
	obs := &countingObserver{}
	s := newTestScheduler(&stubSource{}, obs, CollectorOptions{})

	var calls atomic.Int64
	done := make(chan struct{})
	if err := s.Start(time.Millisecond, func(model.Snapshot) {
		switch calls.Add(1) {
		case 1:
			panic("render failed")
		case 2:
			close(done)
		}
	}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("scheduler did not continue after consumer panic")
	}
	if obs.presentation.Load() < 1 {
		t.Errorf("panic not reported as presentation failure")
	}
}

func TestSchedulerTicksNeverOverlap(t *testing.T) {
	var active, maxActive atomic.Int64
	src := &stubSource{network: func(context.Context) (model.NetCounters, error) {
		n := active.Add(1)
		for {
			m := maxActive.Load()
			if n <= m || maxActive.CompareAndSwap(m, n) {
				break
			}
		}
		time.Sleep(3 * time.Millisecond)
		active.Add(-1)
		return model.NetCounters{}, nil
	}}
	s := newTestScheduler(src, nil, CollectorOptions{})

	collect(t, s, 4)
	if got := maxActive.Load(); got != 1 {
		t.Fatalf("max concurrent ticks = %d, want 1", got)
	}
}

func TestSchedulerCounterResetObserved(t *testing.T) {
	values := []uint64{9000, 500}
	var calls atomic.Int64
	src := &stubSource{network: func(context.Context) (model.NetCounters, error) {
		i := int(calls.Add(1)) - 1
		if i >= len(values) {
			i = len(values) - 1
		}
		return model.NetCounters{BytesSent: values[i]}, nil
	}}
	obs := &countingObserver{}
	clock := &stepClock{next: time.Unix(0, 0)}
	s := newTestScheduler(src, obs, CollectorOptions{Clock: clock.Now})

	snaps := collect(t, s, 2)
	if got, _ := snaps[1].Rate(model.MetricBytesSent); got != 500 {
		t.Errorf("rate after reset = %v, want 500", got)
	}
	if obs.resets.Load() < 1 {
		t.Errorf("counter reset not reported")
	}
}
