package rate

import (
	"errors"
	"testing"
	"time"

	"sysrate-agent/internal/model"
)

var t0 = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func reading(id string, offset time.Duration, v uint64) model.CounterReading {
	return model.CounterReading{MetricID: id, Value: v, Timestamp: t0.Add(offset)}
}

func TestObserveFirstReadingIsBaseline(t *testing.T) {
	s := NewSampler()
	_, ok, err := s.Observe(reading(model.MetricBytesSent, 0, 1000))
	if err != nil {
		t.Fatalf("first observe: %v", err)
	}
	if ok {
		t.Fatal("first observe returned a sample, want baseline only")
	}
	if s.Tracked() != 1 {
		t.Errorf("tracked = %d, want 1", s.Tracked())
	}
}

func TestObserveRates(t *testing.T) {
	tests := []struct {
		name      string
		prev      uint64
		cur       uint64
		elapsed   time.Duration
		wantRate  float64
		wantReset bool
	}{
		{name: "steady growth", prev: 1000, cur: 9000, elapsed: time.Second, wantRate: 8000},
		{name: "counter reset", prev: 9000, cur: 500, elapsed: time.Second, wantRate: 500, wantReset: true},
		{name: "no traffic", prev: 4096, cur: 4096, elapsed: time.Second, wantRate: 0},
		{name: "half second", prev: 0, cur: 1024, elapsed: 500 * time.Millisecond, wantRate: 2048},
		{name: "reset over two seconds", prev: 1 << 40, cur: 4000, elapsed: 2 * time.Second, wantRate: 2000, wantReset: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewSampler()
			if _, _, err := s.Observe(reading("c", 0, tt.prev)); err != nil {
				t.Fatalf("baseline: %v", err)
			}
			got, ok, err := s.Observe(reading("c", tt.elapsed, tt.cur))
			if err != nil {
				t.Fatalf("observe: %v", err)
			}
			if !ok {
				t.Fatal("expected a rate sample")
			}
			if got.Rate != tt.wantRate {
				t.Errorf("rate = %v, want %v", got.Rate, tt.wantRate)
			}
			if got.Reset != tt.wantReset {
				t.Errorf("reset = %v, want %v", got.Reset, tt.wantReset)
			}
			if got.Elapsed != tt.elapsed {
				t.Errorf("elapsed = %s, want %s", got.Elapsed, tt.elapsed)
			}
			if got.MetricID != "c" {
				t.Errorf("metric = %q, want c", got.MetricID)
			}
		})
	}
}

func TestObserveRejectsNonAdvancingTimestamp(t *testing.T) {
	for _, offset := range []time.Duration{0, -time.Second} {
		s := NewSampler()
		if _, _, err := s.Observe(reading("c", 0, 10)); err != nil {
			t.Fatalf("baseline: %v", err)
		}
		_, ok, err := s.Observe(reading("c", offset, 20))
		if !errors.Is(err, ErrInvalidInterval) {
			t.Fatalf("offset %s: err = %v, want ErrInvalidInterval", offset, err)
		}
		if ok {
			t.Errorf("offset %s: ok = true on error", offset)
		}
	}
}

func TestObserveReplacesBaselineAfterInvalidInterval(t *testing.T) {
	s := NewSampler()
	_, _, _ = s.Observe(reading("c", time.Second, 100))
	if _, _, err := s.Observe(reading("c", 0, 200)); !errors.Is(err, ErrInvalidInterval) {
		t.Fatalf("err = %v, want ErrInvalidInterval", err)
	}
	got, ok, err := s.Observe(reading("c", time.Second, 300))
	if err != nil || !ok {
		t.Fatalf("observe after invalid interval: ok=%v err=%v", ok, err)
	}
	if got.Rate != 100 {
		t.Errorf("rate = %v, want 100 measured from the rejected reading", got.Rate)
	}
}

func TestObserveNonNegativeForMonotonicSequence(t *testing.T) {
	values := []uint64{0, 0, 10, 10, 11, 5000, 5000, 1 << 32, 1<<32 + 1}
	s := NewSampler()
	for i, v := range values {
		got, ok, err := s.Observe(reading("c", time.Duration(i)*time.Second, v))
		if err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
		if i == 0 {
			if ok {
				t.Fatal("first observation produced a sample")
			}
			continue
		}
		if !ok {
			t.Fatalf("step %d: no sample", i)
		}
		if got.Rate < 0 {
			t.Errorf("step %d: negative rate %v", i, got.Rate)
		}
	}
}

func TestObserveIsDeterministic(t *testing.T) {
	seq := []struct {
		at time.Duration
		v  uint64
	}{
		{0, 100}, {time.Second, 900}, {2 * time.Second, 300}, {3500 * time.Millisecond, 6300},
	}

	run := func() []model.RateSample {
		s := NewSampler()
		var out []model.RateSample
		for _, r := range seq {
			got, ok, err := s.Observe(reading("c", r.at, r.v))
			if err != nil {
				t.Fatalf("observe: %v", err)
			}
			if ok {
				out = append(out, got)
			}
		}
		return out
	}

	a, b := run(), run()
	if len(a) != len(b) || len(a) != len(seq)-1 {
		t.Fatalf("len a=%d b=%d, want %d", len(a), len(b), len(seq)-1)
	}
	for i := range a {
		if a[i] != b[i] {
			t.Errorf("sample %d differs: %+v vs %+v", i, a[i], b[i])
		}
	}
}

func TestObserveKeepsMetricsIndependent(t *testing.T) {
	s := NewSampler()
	_, _, _ = s.Observe(reading(model.MetricBytesSent, 0, 0))
	_, ok, _ := s.Observe(reading(model.MetricBytesRecv, time.Second, 50))
	if ok {
		t.Fatal("first reading of bytes_recv must not use bytes_sent baseline")
	}
	sent, ok, err := s.Observe(reading(model.MetricBytesSent, 2*time.Second, 4096))
	if err != nil || !ok {
		t.Fatalf("sent: ok=%v err=%v", ok, err)
	}
	if sent.Rate != 2048 {
		t.Errorf("sent rate = %v, want 2048", sent.Rate)
	}
}

func TestForgetStartsNewBaseline(t *testing.T) {
	s := NewSampler()
	_, _, _ = s.Observe(reading("c", 0, 10))
	s.Forget("c")
	if _, ok, _ := s.Observe(reading("c", time.Second, 20)); ok {
		t.Error("observe after Forget returned a sample")
	}
}
