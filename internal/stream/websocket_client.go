package stream

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"nhooyr.io/websocket"

	"sysrate-agent/internal/model"
)

// WebSocketClient writes one JSON envelope per snapshot. A host_info
// envelope precedes the first snapshot on every new connection.
type WebSocketClient struct {
	mu sync.Mutex

	logger       *slog.Logger
	url          string
	token        string
	tlsConfig    *tls.Config
	writeTimeout time.Duration
	pingInterval time.Duration
	identity     Identity
	conn         *websocket.Conn
	pingCancel   context.CancelFunc
}

func NewWebSocketClient(url, token string, tlsCfg *tls.Config, writeTimeout, pingInterval time.Duration, id Identity, logger *slog.Logger) *WebSocketClient {
	if writeTimeout <= 0 {
		writeTimeout = 5 * time.Second
	}
	if pingInterval <= 0 {
		pingInterval = 10 * time.Second
	}
	return &WebSocketClient{
		logger:       logger,
		url:          url,
		token:        token,
		tlsConfig:    tlsCfg,
		writeTimeout: writeTimeout,
		pingInterval: pingInterval,
		identity:     id,
	}
}

func (c *WebSocketClient) Name() string {
	return "websocket"
}

func (c *WebSocketClient) Send(ctx context.Context, snap model.Snapshot) error {
	frame := NewSnapshotFrame(c.identity, snap)
	return c.sendEnvelope(ctx, model.Envelope{
		Type:          model.MetricTypeSnapshot,
		HostID:        c.identity.HostID,
		TimestampUnix: frame.TimestampUnix,
		Payload:       frame,
	})
}

func (c *WebSocketClient) Close(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close(websocket.StatusNormalClosure, "shutdown")
	c.conn = nil
	c.stopPingLocked()
	_ = ctx
	return err
}

func (c *WebSocketClient) sendEnvelope(ctx context.Context, envelope model.Envelope) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	payload, err := EncodeEnvelope(envelope)
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}
	if err := c.ensureConnLocked(ctx); err != nil {
		return err
	}
	if err := c.writeLocked(ctx, payload); err != nil {
		c.logger.Warn("websocket write failed, reconnecting", "error", err)
		c.dropLocked(websocket.StatusInternalError, "reconnect")
		if err2 := c.ensureConnLocked(ctx); err2 != nil {
			return err2
		}
		if err2 := c.writeLocked(ctx, payload); err2 != nil {
			return fmt.Errorf("write envelope retry: %w", err2)
		}
	}
	return nil
}

func (c *WebSocketClient) writeLocked(ctx context.Context, payload []byte) error {
	wctx, cancel := context.WithTimeout(ctx, c.writeTimeout)
	defer cancel()
	return c.conn.Write(wctx, websocket.MessageText, payload)
}

func (c *WebSocketClient) ensureConnLocked(ctx context.Context) error {
	if c.conn != nil {
		return nil
	}
	h := http.Header{}
	if c.token != "" {
		h.Set("Authorization", "Bearer "+c.token)
	}
	opt := &websocket.DialOptions{HTTPHeader: h}
	if c.tlsConfig != nil {
		opt.HTTPClient = &http.Client{Transport: &http.Transport{TLSClientConfig: c.tlsConfig}}
	}
	conn, _, err := websocket.Dial(ctx, c.url, opt)
	if err != nil {
		return fmt.Errorf("websocket dial %s: %w", c.url, err)
	}
	conn.SetReadLimit(1 << 20)
	c.conn = conn
	c.startPingLoopLocked()
	c.logger.Info("websocket stream connected", "url", c.url)

	if c.identity.Host != nil {
		payload, err := EncodeEnvelope(model.Envelope{
			Type:          model.MetricTypeHostInfo,
			HostID:        c.identity.HostID,
			TimestampUnix: time.Now().UTC().Unix(),
			Payload:       c.identity.Host,
		})
		if err != nil {
			return fmt.Errorf("encode host info: %w", err)
		}
		if err := c.writeLocked(ctx, payload); err != nil {
			c.dropLocked(websocket.StatusInternalError, "host info write failed")
			return fmt.Errorf("write host info: %w", err)
		}
	}
	return nil
}

// Close before cancelling the reader, whose exit would close with its own code.
func (c *WebSocketClient) dropLocked(code websocket.StatusCode, reason string) {
	if c.conn != nil {
		_ = c.conn.Close(code, reason)
		c.conn = nil
	}
	c.stopPingLocked()
}

func (c *WebSocketClient) stopPingLocked() {
	if c.pingCancel != nil {
		c.pingCancel()
		c.pingCancel = nil
	}
}

// startPingLoopLocked also starts the read side: pongs are only processed
// while something reads from the connection.
func (c *WebSocketClient) startPingLoopLocked() {
	c.stopPingLocked()
	ctx, cancel := context.WithCancel(context.Background())
	c.pingCancel = cancel
	readCtx := c.conn.CloseRead(ctx)
	go func(conn *websocket.Conn, interval time.Duration) {
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-readCtx.Done():
				return
			case <-t.C:
				pingCtx, pingCancel := context.WithTimeout(readCtx, 3*time.Second)
				_ = conn.Ping(pingCtx)
				pingCancel()
			}
		}
	}(c.conn, c.pingInterval)
}
