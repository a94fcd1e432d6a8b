package collector

import "time"

// Observer receives scheduler events for instrumentation.
type Observer interface {
	TickCompleted(d time.Duration)
	SourceFailure(metricID string)
	CounterReset(metricID string)
	PresentationFailure(sink string)
}

type nopObserver struct{}

func (nopObserver) TickCompleted(time.Duration) {}
func (nopObserver) SourceFailure(string)        {}
func (nopObserver) CounterReset(string)         {}
func (nopObserver) PresentationFailure(string)  {}
