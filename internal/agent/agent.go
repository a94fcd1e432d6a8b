package agent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"sysrate-agent/internal/collector"
	"sysrate-agent/internal/config"
	"sysrate-agent/internal/display/table"
	"sysrate-agent/internal/display/tui"
	"sysrate-agent/internal/libvirt"
	"sysrate-agent/internal/metrics"
	"sysrate-agent/internal/model"
	"sysrate-agent/internal/rate"
	"sysrate-agent/internal/source"
	"sysrate-agent/internal/stream"
)

// Presenter owns the terminal while the agent runs. Run returning nil means
// the user is done and the agent should stop.
type Presenter interface {
	Deliver(snap model.Snapshot)
	Run(ctx context.Context) error
}

type Agent struct {
	cfg        config.Config
	logger     *slog.Logger
	source     source.MetricSource
	conn       *libvirt.ConnManager
	host       *model.HostInfo
	scheduler  sampler
	dispatcher *stream.Dispatcher
	exporter   *metrics.Exporter
	presenter  Presenter
	health     *HealthStatus
}

func New(cfg config.Config, logger *slog.Logger) (*Agent, error) {
	src, conn, err := newSource(cfg, logger)
	if err != nil {
		return nil, err
	}
	return assemble(cfg, logger, src, conn)
}

func newSource(cfg config.Config, logger *slog.Logger) (source.MetricSource, *libvirt.ConnManager, error) {
	kind, err := source.ParseKind(cfg.Source)
	if err != nil {
		return nil, nil, err
	}
	switch kind {
	case source.KindProc:
		return source.NewProc(), nil, nil
	case source.KindLibvirt:
		conn := libvirt.NewConnManager(cfg.LibvirtURI, cfg.ReconnectInterval, cfg.MaxReconnectJitter, logger)
		return libvirt.NewNodeSource(conn, source.NewPSUtil(), logger), conn, nil
	default:
		return source.NewPSUtil(), nil, nil
	}
}

func assemble(cfg config.Config, logger *slog.Logger, src source.MetricSource, conn *libvirt.ConnManager) (*Agent, error) {
	unit, err := rate.ParseUnit(cfg.RateUnit)
	if err != nil {
		return nil, err
	}
	tlsCfg, err := cfg.TLSConfig()
	if err != nil {
		return nil, fmt.Errorf("tls config: %w", err)
	}

	health := NewHealthStatus()
	host := readHostInfo(cfg, logger, src)
	id := stream.Identity{HostID: cfg.HostID, Hostname: cfg.Hostname, Host: host}
	if host != nil && host.Hostname != "" {
		id.Hostname = host.Hostname
	}

	exporter := metrics.NewExporter()
	sinks := []stream.Sink{}
	remote, err := stream.NewSinkFromConfig(cfg, tlsCfg, id, logger)
	if err != nil {
		return nil, fmt.Errorf("stream sink: %w", err)
	}
	if remote != nil {
		sinks = append(sinks, &healthSink{sink: remote, health: health})
	}
	if cfg.MetricsListenAddr != "" {
		sinks = append(sinks, exporter)
	}

	var presenter Presenter
	switch cfg.Display {
	case config.DisplayTable:
		presenter = table.NewConsole(os.Stdout, unit, host)
	case config.DisplayTUI:
		presenter = tui.NewProgram(unit, host, cfg.HistorySize)
	}

	sc := collector.NewSnapshotCollector(src, rate.NewSampler(), logger, collector.CollectorOptions{
		DiskPath:    cfg.DiskPath,
		ReadTimeout: cfg.ReadTimeout,
		Observer:    exporter,
	})

	return &Agent{
		cfg:        cfg,
		logger:     logger,
		source:     src,
		conn:       conn,
		host:       host,
		scheduler:  collector.NewScheduler(logger, sc, exporter),
		dispatcher: stream.NewDispatcher(logger, exporter, cfg.SinkSendTimeout, sinks...),
		exporter:   exporter,
		presenter:  presenter,
		health:     health,
	}, nil
}

func readHostInfo(cfg config.Config, logger *slog.Logger, src source.MetricSource) *model.HostInfo {
	hr, ok := src.(source.HostInfoReader)
	if !ok {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 4*cfg.ReadTimeout)
	defer cancel()
	info, err := hr.HostInfo(ctx)
	if err != nil {
		logger.Warn("host info unavailable", "error", err)
		return nil
	}
	if info.Hostname == "" {
		info.Hostname = cfg.Hostname
	}
	return &info
}

func (a *Agent) Run(ctx context.Context) error {
	a.logger.Info("starting sysrate-agent",
		"host_id", a.cfg.HostID,
		"source", a.cfg.Source,
		"interval", a.cfg.SampleInterval,
		"display", a.cfg.Display,
		"stream_mode", a.cfg.StreamMode,
		"sinks", a.dispatcher.Len(),
	)
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()

	runErrCh := make(chan error, 1)
	go func() {
		runErrCh <- a.run(runCtx)
	}()

	var runErr error
	select {
	case runErr = <-runErrCh:
		// Presentation ended, a loop failed or the parent ctx was cancelled.
	case sig := <-sigCh:
		a.logger.Info("shutdown signal received, starting graceful shutdown", "signal", sig.String(), "timeout", a.cfg.ShutdownTimeout)
		cancelRun()

		graceTimer := time.NewTimer(a.cfg.ShutdownTimeout)
		defer graceTimer.Stop()

		select {
		case runErr = <-runErrCh:
		case sig2 := <-sigCh:
			a.logger.Warn("second signal received, forcing immediate shutdown", "signal", sig2.String())
			runErr = context.Canceled
		case <-graceTimer.C:
			a.logger.Warn("graceful shutdown timeout reached, forcing shutdown", "timeout", a.cfg.ShutdownTimeout)
			runErr = context.DeadlineExceeded
		}
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
	defer cancelShutdown()
	a.shutdown(shutdownCtx)

	if runErr != nil && !errors.Is(runErr, context.Canceled) && !errors.Is(runErr, context.DeadlineExceeded) {
		return runErr
	}
	a.logger.Info("sysrate-agent stopped")
	return nil
}

func (a *Agent) onSample(snap model.Snapshot) {
	a.health.MarkSample(snap.Timestamp)
	a.dispatcher.Deliver(snap)
	if a.presenter != nil {
		a.presenter.Deliver(snap)
	}
}

// BuildLogger returns the agent logger and a close func for its output.
// When a display owns the terminal, logs go to LogFile, or stderr for the
// table and nowhere for the TUI.
func BuildLogger(cfg config.Config) (*slog.Logger, func() error, error) {
	level := slog.LevelInfo
	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	var out io.Writer = os.Stdout
	closeFn := func() error { return nil }
	switch {
	case cfg.LogFile != "":
		f, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("open log file: %w", err)
		}
		out = f
		closeFn = f.Close
	case cfg.Display == config.DisplayTUI:
		out = io.Discard
	case cfg.Display == config.DisplayTable:
		out = os.Stderr
	}

	hOpts := &slog.HandlerOptions{Level: level}
	if cfg.LogJSON {
		return slog.New(slog.NewJSONHandler(out, hOpts)), closeFn, nil
	}
	return slog.New(slog.NewTextHandler(out, hOpts)), closeFn, nil
}

type healthSink struct {
	sink   stream.Sink
	health *HealthStatus
}

func (s *healthSink) Name() string {
	return s.sink.Name()
}

func (s *healthSink) Send(ctx context.Context, snap model.Snapshot) error {
	err := s.sink.Send(ctx, snap)
	if err != nil {
		s.health.SetStreamConnected(false)
		return err
	}
	s.health.SetStreamConnected(true)
	s.health.MarkSend(time.Now())
	return nil
}

func (s *healthSink) Close(ctx context.Context) error {
	return s.sink.Close(ctx)
}
