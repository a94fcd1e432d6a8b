package libvirt

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"net/url"
	"sync"
	"time"

	golibvirt "github.com/digitalocean/go-libvirt"
)

// nodeClient is the subset of the libvirt RPC client the node source uses.
type nodeClient interface {
	NodeGetInfo() (rModel [32]int8, rMemory uint64, rCpus int32, rMhz int32, rNodes int32, rSockets int32, rCores int32, rThreads int32, err error)
	NodeGetCPUStats(CPUNum int32, Nparams int32, Flags uint32) (rParams []golibvirt.NodeGetCPUStats, rNparams int32, err error)
	NodeGetMemoryStats(Nparams int32, CellNum int32, Flags uint32) (rParams []golibvirt.NodeGetMemoryStats, rNparams int32, err error)
	ConnectGetHostname() (rHostname string, err error)
	ConnectGetLibVersion() (rLibVer uint64, err error)
	Disconnect() error
}

type dialFunc func(uri *url.URL) (nodeClient, error)

func dialURI(uri *url.URL) (nodeClient, error) {
	c, err := golibvirt.ConnectToURI(uri)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// ConnManager owns a single libvirt RPC connection and reconnect flow.
type ConnManager struct {
	mu        sync.RWMutex
	rpc       nodeClient
	uri       string
	logger    *slog.Logger
	retryWait time.Duration
	maxJitter time.Duration
	randSrc   *rand.Rand
	dial      dialFunc
}

func NewConnManager(uri string, retryWait, maxJitter time.Duration, logger *slog.Logger) *ConnManager {
	if retryWait <= 0 {
		retryWait = 3 * time.Second
	}
	if maxJitter < 0 {
		maxJitter = 0
	}
	return &ConnManager{
		uri:       uri,
		logger:    logger,
		retryWait: retryWait,
		maxJitter: maxJitter,
		randSrc:   rand.New(rand.NewSource(time.Now().UnixNano())),
		dial:      dialURI,
	}
}

func (m *ConnManager) Connect(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connectLocked(ctx)
}

func (m *ConnManager) client(ctx context.Context) (nodeClient, error) {
	m.mu.RLock()
	c := m.rpc
	m.mu.RUnlock()
	if c != nil {
		return c, nil
	}
	if err := m.Connect(ctx); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.rpc == nil {
		return nil, fmt.Errorf("libvirt client is nil after connect")
	}
	return m.rpc, nil
}

// Drop discards the current connection so the next read dials again.
func (m *ConnManager) Drop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.rpc == nil {
		return
	}
	if err := m.rpc.Disconnect(); err != nil {
		m.logger.Warn("libvirt disconnect failed", "error", err)
	}
	m.rpc = nil
}

func (m *ConnManager) Healthy(ctx context.Context) error {
	c, err := m.client(ctx)
	if err != nil {
		return err
	}
	if _, err := c.ConnectGetLibVersion(); err != nil {
		return fmt.Errorf("libvirt version check failed: %w", err)
	}
	return nil
}

func (m *ConnManager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.rpc == nil {
		return nil
	}
	err := m.rpc.Disconnect()
	m.rpc = nil
	return err
}

func (m *ConnManager) connectLocked(ctx context.Context) error {
	if m.rpc != nil {
		if _, err := m.rpc.ConnectGetLibVersion(); err == nil {
			return nil
		}
		_ = m.rpc.Disconnect()
		m.rpc = nil
	}

	uri, err := m.parseURI()
	if err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		c, dialErr := m.dial(uri)
		if dialErr == nil {
			m.rpc = c
			m.logger.Info("libvirt connected", "uri", uri.Redacted())
			return nil
		}

		wait := m.retryWait + m.jitter()
		m.logger.Error("libvirt connect failed", "uri", uri.Redacted(), "error", dialErr, "retry_in", wait)

		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
}

func (m *ConnManager) parseURI() (*url.URL, error) {
	raw := m.uri
	if raw == "" {
		raw = string(golibvirt.QEMUSystem)
	}
	uri, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse libvirt uri %q: %w", raw, err)
	}
	if uri.Scheme == "" {
		uri, err = url.Parse(string(golibvirt.QEMUSystem))
		if err != nil {
			return nil, fmt.Errorf("parse fallback uri: %w", err)
		}
	}
	return uri, nil
}

func (m *ConnManager) jitter() time.Duration {
	if m.maxJitter == 0 {
		return 0
	}
	return time.Duration(m.randSrc.Int63n(int64(m.maxJitter)))
}
