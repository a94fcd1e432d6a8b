package collector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"sysrate-agent/internal/model"
	"sysrate-agent/internal/rate"
)

var ErrAlreadyRunning = errors.New("scheduler already running")

// Scheduler runs the collector on a fixed cadence from a single goroutine.
// Ticks never overlap: a tick that overruns the interval delays the next
// one instead of dropping it.
type Scheduler struct {
	logger    *slog.Logger
	collector *SnapshotCollector
	observer  Observer

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func NewScheduler(logger *slog.Logger, collector *SnapshotCollector, observer Observer) *Scheduler {
	if observer == nil {
		observer = nopObserver{}
	}
	return &Scheduler{logger: logger, collector: collector, observer: observer}
}

// Start launches the tick loop in the background. onSample is called once
// per tick from the loop goroutine and must only hand the snapshot off.
func (s *Scheduler) Start(interval time.Duration, onSample func(model.Snapshot)) error {
	if interval <= 0 {
		return fmt.Errorf("%w: %s", rate.ErrInvalidInterval, interval)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done != nil {
		select {
		case <-s.done:
		default:
			return ErrAlreadyRunning
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	s.cancel = cancel
	s.done = done
	go func() {
		defer close(done)
		if err := s.Run(ctx, interval, onSample); err != nil {
			s.logger.Error("scheduler stopped with error", "error", err)
		}
	}()
	return nil
}

// Stop cancels the loop and waits for the in-flight tick, if any. After Stop
// returns no further onSample call happens. Safe to call more than once.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.mu.Unlock()
	if done == nil {
		return
	}
	cancel()
	<-done
}

// Run blocks until ctx is cancelled. The first tick fires immediately.
func (s *Scheduler) Run(ctx context.Context, interval time.Duration, onSample func(model.Snapshot)) error {
	if interval <= 0 {
		return fmt.Errorf("%w: %s", rate.ErrInvalidInterval, interval)
	}
	s.logger.Info("sampling scheduler started", "interval", interval)
	defer s.logger.Info("sampling scheduler stopped")

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-timer.C:
		}
		// Both cases may have been ready; the stop request wins.
		if ctx.Err() != nil {
			return nil
		}

		started := time.Now()
		s.tick(ctx, onSample)
		took := time.Since(started)
		s.observer.TickCompleted(took)

		wait := interval - took
		if wait < 0 {
			s.logger.Debug("tick overran interval", "took", took, "interval", interval)
			wait = 0
		}
		timer.Reset(wait)
	}
}

func (s *Scheduler) tick(ctx context.Context, onSample func(model.Snapshot)) {
	snap := s.collector.Collect(ctx)
	s.deliver(onSample, snap)
}

func (s *Scheduler) deliver(onSample func(model.Snapshot), snap model.Snapshot) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("snapshot consumer panicked", "panic", r, "seq", snap.Seq)
			s.observer.PresentationFailure("on_sample")
		}
	}()
	onSample(snap)
}
