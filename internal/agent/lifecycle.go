package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"sysrate-agent/internal/model"
	"sysrate-agent/internal/source"
)

var errPresentationDone = errors.New("presentation finished")

type sampler interface {
	Start(interval time.Duration, onSample func(model.Snapshot)) error
	Stop()
}

// samplingSession is a started scheduler that is stopped exactly once,
// whichever exit path gets there first.
type samplingSession struct {
	sampler sampler
	once    sync.Once
}

func startSampling(s sampler, interval time.Duration, onSample func(model.Snapshot)) (*samplingSession, error) {
	if err := s.Start(interval, onSample); err != nil {
		return nil, err
	}
	return &samplingSession{sampler: s}, nil
}

func (s *samplingSession) Release() {
	s.once.Do(s.sampler.Stop)
}

func (a *Agent) run(ctx context.Context) error {
	if a.conn != nil {
		if err := a.conn.Connect(ctx); err != nil {
			return fmt.Errorf("initial libvirt connect: %w", err)
		}
	}
	a.health.SetSourceHealthy(true)

	session, err := startSampling(a.scheduler, a.cfg.SampleInterval, a.onSample)
	if err != nil {
		return fmt.Errorf("start sampling: %w", err)
	}
	defer session.Release()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		<-gctx.Done()
		session.Release()
		return nil
	})
	g.Go(func() error {
		return a.dispatcher.Run(gctx)
	})
	g.Go(func() error {
		return a.runHealthLoop(gctx)
	})
	if a.cfg.ProbeListenAddr != "" {
		g.Go(func() error {
			return a.runProbeListener(gctx)
		})
	}
	if a.cfg.MetricsListenAddr != "" {
		g.Go(func() error {
			ln, err := net.Listen("tcp", a.cfg.MetricsListenAddr)
			if err != nil {
				return fmt.Errorf("listen metrics endpoint %s: %w", a.cfg.MetricsListenAddr, err)
			}
			return a.exporter.Serve(gctx, ln, a.logger)
		})
	}
	if a.presenter != nil {
		g.Go(func() error {
			if err := a.presenter.Run(gctx); err != nil {
				return fmt.Errorf("presentation: %w", err)
			}
			return errPresentationDone
		})
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, errPresentationDone) {
		return err
	}
	return nil
}

func (a *Agent) runHealthLoop(ctx context.Context) error {
	t := time.NewTicker(a.cfg.HealthInterval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			a.checkHealth(ctx)
		}
	}
}

func (a *Agent) checkHealth(ctx context.Context) {
	if a.conn != nil {
		if err := a.conn.Healthy(ctx); err != nil {
			a.logger.Warn("libvirt health check failed, reconnecting", "error", err)
			a.health.SetSourceHealthy(false)
			a.conn.Drop()
			if recErr := a.conn.Connect(ctx); recErr != nil {
				a.logger.Error("libvirt reconnect failed", "error", recErr)
				return
			}
			a.health.SetSourceHealthy(true)
			a.logHealth("recovered")
			return
		}
	}
	// Samples older than a few intervals mean the source is stuck.
	stale := 3 * a.cfg.SampleInterval
	if last := a.health.LastSample(); !last.IsZero() && time.Since(last) > stale+a.cfg.ReadTimeout {
		a.health.SetSourceHealthy(false)
		a.logHealth("stale")
		return
	}
	a.health.SetSourceHealthy(true)
	a.logHealth("ok")
}

func (a *Agent) logHealth(status string) {
	a.logger.Log(context.Background(), slog.LevelDebug, "agent health", "status", status, "snapshot", a.health.Snapshot())
}

func (a *Agent) shutdown(ctx context.Context) {
	if err := a.dispatcher.Close(ctx); err != nil {
		a.logger.Warn("sink close failed", "error", err)
	}
	a.health.SetStreamConnected(false)
	if c, ok := a.source.(source.Closer); ok {
		if err := c.Close(); err != nil {
			a.logger.Warn("metric source close failed", "error", err)
		}
	}
	a.health.SetSourceHealthy(false)
}
