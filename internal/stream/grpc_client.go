package stream

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/encoding"
	"google.golang.org/grpc/metadata"

	"sysrate-agent/internal/model"
)

type jsonCodec struct{}

func (jsonCodec) Name() string {
	return "json"
}

func (jsonCodec) Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (jsonCodec) Unmarshal(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

// GRPCClient pushes snapshot frames over a client-streaming RPC using the
// JSON codec, so the backend needs no generated stubs.
type GRPCClient struct {
	mu sync.Mutex

	logger    *slog.Logger
	addr      string
	tlsConfig *tls.Config
	token     string
	method    string
	identity  Identity

	conn       *grpc.ClientConn
	stream     grpc.ClientStream
	streamStop context.CancelFunc
	hostSent   bool
}

func NewGRPCClient(addr string, tlsCfg *tls.Config, token, method string, id Identity, logger *slog.Logger) *GRPCClient {
	return &GRPCClient{
		logger:    logger,
		addr:      addr,
		tlsConfig: tlsCfg,
		token:     token,
		method:    method,
		identity:  id,
	}
}

func (c *GRPCClient) Name() string {
	return "grpc"
}

func (c *GRPCClient) Send(ctx context.Context, snap model.Snapshot) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.ensureConnLocked(); err != nil {
		return err
	}
	if c.stream == nil {
		if err := c.openStreamLocked(); err != nil {
			return err
		}
	}
	if err := c.sendLocked(ctx, snap); err != nil {
		c.logger.Warn("grpc snapshot send failed, reopening stream", "error", err)
		c.resetStreamLocked()
		if err2 := c.openStreamLocked(); err2 != nil {
			return fmt.Errorf("reopen snapshot stream: %w", err2)
		}
		if err2 := c.sendLocked(ctx, snap); err2 != nil {
			return fmt.Errorf("send snapshot frame: %w", err2)
		}
	}
	return nil
}

func (c *GRPCClient) Close(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stream != nil {
		_ = c.stream.CloseSend()
	}
	c.resetStreamLocked()
	if c.conn != nil {
		err := c.conn.Close()
		c.conn = nil
		return err
	}
	_ = ctx
	return nil
}

// sendLocked honours ctx even though SendMsg itself does not take one.
func (c *GRPCClient) sendLocked(ctx context.Context, snap model.Snapshot) error {
	frame := NewSnapshotFrame(c.identity, snap)
	if !c.hostSent {
		frame.Host = c.identity.Host
	}
	s := c.stream
	done := make(chan error, 1)
	go func() { done <- s.SendMsg(frame) }()
	select {
	case err := <-done:
		if err == nil {
			c.hostSent = true
		}
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *GRPCClient) ensureConnLocked() error {
	if c.conn != nil {
		return nil
	}
	var creds credentials.TransportCredentials
	if c.tlsConfig != nil {
		creds = credentials.NewTLS(c.tlsConfig)
	} else {
		creds = insecure.NewCredentials()
	}

	conn, err := grpc.NewClient(
		c.addr,
		grpc.WithTransportCredentials(creds),
		grpc.WithDefaultCallOptions(grpc.ForceCodec(jsonCodec{}), grpc.CallContentSubtype("json")),
	)
	if err != nil {
		return fmt.Errorf("grpc dial %s: %w", c.addr, err)
	}
	c.conn = conn
	c.logger.Info("grpc stream connected", "addr", c.addr)
	return nil
}

func (c *GRPCClient) openStreamLocked() error {
	if c.conn == nil {
		return fmt.Errorf("grpc conn is nil")
	}
	// The stream outlives any single Send, so it gets its own context.
	streamCtx, cancel := context.WithCancel(context.Background())
	if c.token != "" {
		streamCtx = metadata.AppendToOutgoingContext(streamCtx, "authorization", "Bearer "+c.token)
	}
	s, err := c.conn.NewStream(streamCtx, &grpc.StreamDesc{ClientStreams: true}, c.method)
	if err != nil {
		cancel()
		return fmt.Errorf("open snapshot stream: %w", err)
	}
	c.stream = s
	c.streamStop = cancel
	c.hostSent = false
	return nil
}

func (c *GRPCClient) resetStreamLocked() {
	if c.streamStop != nil {
		c.streamStop()
		c.streamStop = nil
	}
	c.stream = nil
}
