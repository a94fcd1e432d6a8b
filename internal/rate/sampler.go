// Package rate turns cumulative counter readings into per-second rates.
package rate

import (
	"errors"
	"fmt"
	"sync"

	"sysrate-agent/internal/model"
)

// ErrInvalidInterval is returned when two readings are not separated by a
// positive amount of time, and when a scheduler is configured with a
// non-positive tick spacing.
var ErrInvalidInterval = errors.New("invalid sampling interval")

type samplerState struct {
	last model.CounterReading
}

// Sampler keeps the previous reading per metric ID. The zero value is not
// usable; create one with NewSampler.
type Sampler struct {
	mu     sync.Mutex
	states map[string]*samplerState
}

func NewSampler() *Sampler {
	return &Sampler{states: make(map[string]*samplerState)}
}

// Observe records reading and returns the rate since the previous reading of
// the same metric. The first reading of a metric only establishes the
// baseline and returns ok=false.
//
// A counter that went backwards is treated as reset: the new value is taken
// as measured from zero, so the rate is value/elapsed and Reset is set.
// The stored reading is replaced on every call, including failed ones.
func (s *Sampler) Observe(reading model.CounterReading) (sample model.RateSample, ok bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, exists := s.states[reading.MetricID]
	if !exists {
		s.states[reading.MetricID] = &samplerState{last: reading}
		return model.RateSample{}, false, nil
	}
	prev := st.last
	st.last = reading

	elapsed := reading.Timestamp.Sub(prev.Timestamp)
	if elapsed <= 0 {
		return model.RateSample{}, false, fmt.Errorf("%w: metric %s elapsed %s", ErrInvalidInterval, reading.MetricID, elapsed)
	}

	sample = model.RateSample{
		MetricID:  reading.MetricID,
		Timestamp: reading.Timestamp,
		Elapsed:   elapsed,
	}
	delta := reading.Value
	if reading.Value < prev.Value {
		sample.Reset = true
	} else {
		delta = reading.Value - prev.Value
	}
	sample.Rate = float64(delta) / elapsed.Seconds()
	return sample, true, nil
}

// Forget drops the state for a metric so the next reading becomes a new baseline.
func (s *Sampler) Forget(metricID string) {
	s.mu.Lock()
	delete(s.states, metricID)
	s.mu.Unlock()
}

// Tracked reports how many metrics currently have a baseline.
func (s *Sampler) Tracked() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.states)
}
