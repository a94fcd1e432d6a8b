package stream

import (
	"crypto/tls"
	"fmt"
	"log/slog"

	"sysrate-agent/internal/config"
)

const DefaultSnapshotMethod = "/sysrate.metrics.v1.MetricsService/StreamSnapshots"

// NewSinkFromConfig returns the remote sink for cfg.StreamMode, or nil when
// streaming is disabled.
func NewSinkFromConfig(cfg config.Config, tlsCfg *tls.Config, id Identity, logger *slog.Logger) (Sink, error) {
	switch cfg.StreamMode {
	case config.StreamNone:
		return nil, nil
	case config.StreamGRPC:
		method := cfg.GRPCSnapshotMethod
		if method == "" {
			method = DefaultSnapshotMethod
		}
		return NewGRPCClient(cfg.BackendGRPCAddr, tlsCfg, cfg.BackendToken, method, id, logger), nil
	case config.StreamWebSocket:
		return NewWebSocketClient(
			cfg.BackendWSURL,
			cfg.BackendToken,
			tlsCfg,
			cfg.WebSocketWriteTimeout,
			cfg.WebSocketPingInterval,
			id,
			logger,
		), nil
	default:
		return nil, fmt.Errorf("unknown stream mode %q", cfg.StreamMode)
	}
}
