package stream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"sysrate-agent/internal/collector"
	"sysrate-agent/internal/model"
)

const defaultSendTimeout = 5 * time.Second

type FailureObserver interface {
	PresentationFailure(sink string)
}

type sinkWorker struct {
	sink Sink
	box  *collector.Mailbox[model.Snapshot]
}

// Dispatcher fans snapshots out to sinks. Each sink has its own latest-value
// mailbox and worker, so a slow or failing sink only ever loses its own
// stale snapshots.
type Dispatcher struct {
	logger      *slog.Logger
	observer    FailureObserver
	sendTimeout time.Duration
	workers     []*sinkWorker
}

func NewDispatcher(logger *slog.Logger, observer FailureObserver, sendTimeout time.Duration, sinks ...Sink) *Dispatcher {
	if sendTimeout <= 0 {
		sendTimeout = defaultSendTimeout
	}
	d := &Dispatcher{logger: logger, observer: observer, sendTimeout: sendTimeout}
	for _, s := range sinks {
		if s == nil {
			continue
		}
		d.workers = append(d.workers, &sinkWorker{sink: s, box: collector.NewMailbox[model.Snapshot]()})
	}
	return d
}

func (d *Dispatcher) Len() int {
	return len(d.workers)
}

// Deliver never blocks.
func (d *Dispatcher) Deliver(snap model.Snapshot) {
	for _, w := range d.workers {
		if w.box.Put(snap) {
			d.logger.Debug("sink lagging, snapshot superseded", "sink", w.sink.Name(), "seq", snap.Seq)
		}
	}
}

// Run blocks until ctx is cancelled. Sinks are not closed; call Close.
func (d *Dispatcher) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, w := range d.workers {
		w := w
		g.Go(func() error {
			d.runWorker(gctx, w)
			return nil
		})
	}
	return g.Wait()
}

func (d *Dispatcher) Close(ctx context.Context) error {
	var errs []error
	for _, w := range d.workers {
		if err := w.sink.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", w.sink.Name(), err))
		}
	}
	return errors.Join(errs...)
}

func (d *Dispatcher) runWorker(ctx context.Context, w *sinkWorker) {
	for {
		select {
		case <-ctx.Done():
			return
		case snap := <-w.box.C():
			d.send(ctx, w.sink, snap)
		}
	}
}

func (d *Dispatcher) send(ctx context.Context, sink Sink, snap model.Snapshot) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("sink panicked", "sink", sink.Name(), "panic", r, "seq", snap.Seq)
			d.failed(sink.Name())
		}
	}()
	sctx, cancel := context.WithTimeout(ctx, d.sendTimeout)
	defer cancel()
	if err := sink.Send(sctx, snap); err != nil {
		if ctx.Err() != nil {
			return
		}
		d.logger.Warn("sink send failed", "sink", sink.Name(), "seq", snap.Seq, "error", err)
		d.failed(sink.Name())
	}
}

func (d *Dispatcher) failed(name string) {
	if d.observer != nil {
		d.observer.PresentationFailure(name)
	}
}
