package config

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"sysrate-agent/internal/rate"
	"sysrate-agent/internal/source"
)

type StreamMode string

const (
	StreamNone      StreamMode = ""
	StreamGRPC      StreamMode = "grpc"
	StreamWebSocket StreamMode = "websocket"
)

type Display string

const (
	DisplayTable Display = "table"
	DisplayTUI   Display = "tui"
	DisplayNone  Display = "none"
)

const HardcodedVersion = "v0.3.0"

type Config struct {
	HostID                string
	Hostname              string
	AgentVersion          string
	SampleInterval        time.Duration
	ReadTimeout           time.Duration
	DiskPath              string
	RateUnit              string
	Display               Display
	Source                string
	LibvirtURI            string
	ReconnectInterval     time.Duration
	MaxReconnectJitter    time.Duration
	ProbeListenAddr       string
	MetricsListenAddr     string
	HealthInterval        time.Duration
	ShutdownTimeout       time.Duration
	StreamMode            StreamMode
	BackendGRPCAddr       string
	BackendWSURL          string
	BackendToken          string
	GRPCSnapshotMethod    string
	TLSEnabled            bool
	TLSSkipVerify         bool
	TLSCAPath             string
	TLSCertPath           string
	TLSKeyPath            string
	WebSocketWriteTimeout time.Duration
	WebSocketPingInterval time.Duration
	SinkSendTimeout       time.Duration
	HistorySize           int
	LogJSON               bool
	LogLevel              string
	LogFile               string
}

// fileConfig is the YAML layout of SYSRATE_CONFIG. Empty fields keep the
// default.
type fileConfig struct {
	HostID         string `yaml:"host_id"`
	SampleInterval string `yaml:"sample_interval"`
	ReadTimeout    string `yaml:"read_timeout"`
	DiskPath       string `yaml:"disk_path"`
	RateUnit       string `yaml:"rate_unit"`
	Display        string `yaml:"display"`
	Source         string `yaml:"source"`
	HistorySize    int    `yaml:"history_size"`

	Libvirt struct {
		URI                string `yaml:"uri"`
		ReconnectInterval  string `yaml:"reconnect_interval"`
		MaxReconnectJitter string `yaml:"max_reconnect_jitter"`
	} `yaml:"libvirt"`

	Agent struct {
		ProbeListenAddr   string `yaml:"probe_listen_addr"`
		MetricsListenAddr string `yaml:"metrics_listen_addr"`
		HealthInterval    string `yaml:"health_interval"`
		ShutdownTimeout   string `yaml:"shutdown_timeout"`
	} `yaml:"agent"`

	Stream struct {
		Mode           string `yaml:"mode"`
		GRPCAddr       string `yaml:"grpc_addr"`
		GRPCMethod     string `yaml:"grpc_method"`
		WSURL          string `yaml:"ws_url"`
		Token          string `yaml:"token"`
		WSWriteTimeout string `yaml:"ws_write_timeout"`
		WSPingInterval string `yaml:"ws_ping_interval"`
		SendTimeout    string `yaml:"send_timeout"`
		TLSEnabled     *bool  `yaml:"tls_enabled"`
		TLSSkipVerify  *bool  `yaml:"tls_skip_verify"`
		TLSCAPath      string `yaml:"tls_ca_path"`
		TLSCertPath    string `yaml:"tls_cert_path"`
		TLSKeyPath     string `yaml:"tls_key_path"`
	} `yaml:"stream"`

	Log struct {
		Level string `yaml:"level"`
		JSON  *bool  `yaml:"json"`
		File  string `yaml:"file"`
	} `yaml:"log"`
}

func Default() Config {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown-host"
	}
	return Config{
		HostID:                hostname,
		Hostname:              hostname,
		AgentVersion:          HardcodedVersion,
		SampleInterval:        1 * time.Second,
		ReadTimeout:           750 * time.Millisecond,
		DiskPath:              "/",
		RateUnit:              string(rate.KilobytesPerSecond),
		Display:               DisplayTable,
		Source:                string(source.KindPSUtil),
		LibvirtURI:            "qemu+unix:///system",
		ReconnectInterval:     4 * time.Second,
		MaxReconnectJitter:    900 * time.Millisecond,
		HealthInterval:        10 * time.Second,
		ShutdownTimeout:       10 * time.Second,
		StreamMode:            StreamNone,
		BackendGRPCAddr:       "127.0.0.1:3001",
		BackendWSURL:          "ws://127.0.0.1:3001/ws/metrics",
		WebSocketWriteTimeout: 5 * time.Second,
		WebSocketPingInterval: 10 * time.Second,
		SinkSendTimeout:       5 * time.Second,
		HistorySize:           60,
		LogLevel:              "info",
	}
}

// Load builds the config from defaults, then the optional YAML file named by
// SYSRATE_CONFIG, then SYSRATE_* environment variables.
func Load() (Config, error) {
	cfg := Default()
	if path := env("SYSRATE_CONFIG", ""); path != "" {
		if err := cfg.applyFile(path); err != nil {
			return Config{}, err
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	var f fileConfig
	if err := yaml.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}

	setString(&c.HostID, f.HostID)
	setString(&c.DiskPath, f.DiskPath)
	setString(&c.RateUnit, f.RateUnit)
	setString((*string)(&c.Display), strings.ToLower(f.Display))
	setString(&c.Source, strings.ToLower(f.Source))
	if f.HistorySize != 0 {
		c.HistorySize = f.HistorySize
	}
	setString(&c.LibvirtURI, f.Libvirt.URI)
	setString(&c.ProbeListenAddr, f.Agent.ProbeListenAddr)
	setString(&c.MetricsListenAddr, f.Agent.MetricsListenAddr)
	setString((*string)(&c.StreamMode), strings.ToLower(f.Stream.Mode))
	setString(&c.BackendGRPCAddr, f.Stream.GRPCAddr)
	setString(&c.GRPCSnapshotMethod, f.Stream.GRPCMethod)
	setString(&c.BackendWSURL, f.Stream.WSURL)
	setString(&c.BackendToken, f.Stream.Token)
	setString(&c.TLSCAPath, f.Stream.TLSCAPath)
	setString(&c.TLSCertPath, f.Stream.TLSCertPath)
	setString(&c.TLSKeyPath, f.Stream.TLSKeyPath)
	setString(&c.LogLevel, strings.ToLower(f.Log.Level))
	setString(&c.LogFile, f.Log.File)
	setBool(&c.TLSEnabled, f.Stream.TLSEnabled)
	setBool(&c.TLSSkipVerify, f.Stream.TLSSkipVerify)
	setBool(&c.LogJSON, f.Log.JSON)

	durations := []struct {
		name  string
		value string
		dst   *time.Duration
	}{
		{"sample_interval", f.SampleInterval, &c.SampleInterval},
		{"read_timeout", f.ReadTimeout, &c.ReadTimeout},
		{"libvirt.reconnect_interval", f.Libvirt.ReconnectInterval, &c.ReconnectInterval},
		{"libvirt.max_reconnect_jitter", f.Libvirt.MaxReconnectJitter, &c.MaxReconnectJitter},
		{"agent.health_interval", f.Agent.HealthInterval, &c.HealthInterval},
		{"agent.shutdown_timeout", f.Agent.ShutdownTimeout, &c.ShutdownTimeout},
		{"stream.ws_write_timeout", f.Stream.WSWriteTimeout, &c.WebSocketWriteTimeout},
		{"stream.ws_ping_interval", f.Stream.WSPingInterval, &c.WebSocketPingInterval},
		{"stream.send_timeout", f.Stream.SendTimeout, &c.SinkSendTimeout},
	}
	for _, d := range durations {
		if d.value == "" {
			continue
		}
		v, err := time.ParseDuration(d.value)
		if err != nil {
			if d.dst == &c.SampleInterval {
				err = rate.ErrInvalidInterval
			}
			return fmt.Errorf("config file %s: %s %q: %w", path, d.name, d.value, err)
		}
		*d.dst = v
	}
	return nil
}

func (c *Config) applyEnv() error {
	var r envReader
	c.HostID = env("SYSRATE_HOST_ID", c.HostID)
	c.SampleInterval = r.duration("SYSRATE_SAMPLE_INTERVAL", c.SampleInterval, rate.ErrInvalidInterval)
	c.ReadTimeout = r.duration("SYSRATE_READ_TIMEOUT", c.ReadTimeout, nil)
	c.DiskPath = env("SYSRATE_DISK_PATH", c.DiskPath)
	c.RateUnit = env("SYSRATE_RATE_UNIT", c.RateUnit)
	c.Display = Display(strings.ToLower(env("SYSRATE_DISPLAY", string(c.Display))))
	c.Source = strings.ToLower(env("SYSRATE_SOURCE", c.Source))
	c.LibvirtURI = env("SYSRATE_LIBVIRT_URI", c.LibvirtURI)
	c.ReconnectInterval = r.duration("SYSRATE_RECONNECT_INTERVAL", c.ReconnectInterval, nil)
	c.MaxReconnectJitter = r.duration("SYSRATE_RECONNECT_MAX_JITTER", c.MaxReconnectJitter, nil)
	c.ProbeListenAddr = env("SYSRATE_PROBE_ADDR", c.ProbeListenAddr)
	c.MetricsListenAddr = env("SYSRATE_METRICS_ADDR", c.MetricsListenAddr)
	c.HealthInterval = r.duration("SYSRATE_HEALTH_INTERVAL", c.HealthInterval, nil)
	c.ShutdownTimeout = r.duration("SYSRATE_SHUTDOWN_TIMEOUT", c.ShutdownTimeout, nil)
	c.StreamMode = StreamMode(strings.ToLower(env("SYSRATE_STREAM_MODE", string(c.StreamMode))))
	c.BackendGRPCAddr = env("SYSRATE_BACKEND_GRPC_ADDR", c.BackendGRPCAddr)
	c.BackendWSURL = env("SYSRATE_BACKEND_WS_URL", c.BackendWSURL)
	c.BackendToken = env("SYSRATE_BACKEND_TOKEN", c.BackendToken)
	c.GRPCSnapshotMethod = env("SYSRATE_GRPC_SNAPSHOT_METHOD", c.GRPCSnapshotMethod)
	c.TLSEnabled = r.bool("SYSRATE_TLS_ENABLED", c.TLSEnabled)
	c.TLSSkipVerify = r.bool("SYSRATE_TLS_SKIP_VERIFY", c.TLSSkipVerify)
	c.TLSCAPath = env("SYSRATE_TLS_CA_PATH", c.TLSCAPath)
	c.TLSCertPath = env("SYSRATE_TLS_CERT_PATH", c.TLSCertPath)
	c.TLSKeyPath = env("SYSRATE_TLS_KEY_PATH", c.TLSKeyPath)
	c.WebSocketWriteTimeout = r.duration("SYSRATE_WS_WRITE_TIMEOUT", c.WebSocketWriteTimeout, nil)
	c.WebSocketPingInterval = r.duration("SYSRATE_WS_PING_INTERVAL", c.WebSocketPingInterval, nil)
	c.SinkSendTimeout = r.duration("SYSRATE_SINK_SEND_TIMEOUT", c.SinkSendTimeout, nil)
	c.HistorySize = r.int("SYSRATE_HISTORY_SIZE", c.HistorySize)
	c.LogJSON = r.bool("SYSRATE_LOG_JSON", c.LogJSON)
	c.LogLevel = strings.ToLower(env("SYSRATE_LOG_LEVEL", c.LogLevel))
	c.LogFile = env("SYSRATE_LOG_FILE", c.LogFile)
	return r.err()
}

func (c Config) Validate() error {
	if c.HostID == "" {
		return errors.New("SYSRATE_HOST_ID is required")
	}
	if strings.TrimSpace(c.AgentVersion) == "" {
		return errors.New("agent version must not be empty")
	}
	if c.SampleInterval <= 0 {
		return fmt.Errorf("SYSRATE_SAMPLE_INTERVAL %s: %w", c.SampleInterval, rate.ErrInvalidInterval)
	}
	if c.ReadTimeout <= 0 {
		return errors.New("SYSRATE_READ_TIMEOUT must be > 0")
	}
	if c.ShutdownTimeout <= 0 {
		return errors.New("SYSRATE_SHUTDOWN_TIMEOUT must be > 0")
	}
	if c.HealthInterval <= 0 {
		return errors.New("SYSRATE_HEALTH_INTERVAL must be > 0")
	}
	if c.HistorySize <= 0 {
		return errors.New("SYSRATE_HISTORY_SIZE must be > 0")
	}
	if strings.TrimSpace(c.DiskPath) == "" {
		return errors.New("SYSRATE_DISK_PATH is required")
	}
	if _, err := rate.ParseUnit(c.RateUnit); err != nil {
		return fmt.Errorf("SYSRATE_RATE_UNIT: %w", err)
	}
	switch c.Display {
	case DisplayTable, DisplayTUI, DisplayNone:
	default:
		return fmt.Errorf("unsupported display %q", c.Display)
	}
	kind, err := source.ParseKind(c.Source)
	if err != nil {
		return fmt.Errorf("SYSRATE_SOURCE: %w", err)
	}
	if kind == source.KindLibvirt && c.LibvirtURI == "" {
		return errors.New("SYSRATE_LIBVIRT_URI is required for the libvirt source")
	}
	switch c.StreamMode {
	case StreamNone:
	case StreamGRPC:
		if c.BackendGRPCAddr == "" {
			return errors.New("SYSRATE_BACKEND_GRPC_ADDR is required for grpc mode")
		}
	case StreamWebSocket:
		if c.BackendWSURL == "" {
			return errors.New("SYSRATE_BACKEND_WS_URL is required for websocket mode")
		}
	default:
		return fmt.Errorf("unsupported stream mode %q", c.StreamMode)
	}
	return nil
}

func (c Config) TLSConfig() (*tls.Config, error) {
	if !c.TLSEnabled {
		return nil, nil
	}
	tlsCfg := &tls.Config{MinVersion: tls.VersionTLS12, InsecureSkipVerify: c.TLSSkipVerify}
	if c.TLSCAPath != "" {
		caBytes, err := os.ReadFile(c.TLSCAPath)
		if err != nil {
			return nil, fmt.Errorf("read CA file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(caBytes) {
			return nil, errors.New("append CA cert failed")
		}
		tlsCfg.RootCAs = pool
	}
	if c.TLSCertPath != "" || c.TLSKeyPath != "" {
		if c.TLSCertPath == "" || c.TLSKeyPath == "" {
			return nil, errors.New("both TLS cert and key are required")
		}
		crt, err := tls.LoadX509KeyPair(c.TLSCertPath, c.TLSKeyPath)
		if err != nil {
			return nil, fmt.Errorf("load mTLS cert/key: %w", err)
		}
		tlsCfg.Certificates = []tls.Certificate{crt}
	}
	return tlsCfg, nil
}

func setString(dst *string, v string) {
	if v = strings.TrimSpace(v); v != "" {
		*dst = v
	}
}

func setBool(dst *bool, v *bool) {
	if v != nil {
		*dst = *v
	}
}

func env(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}

// envReader collects malformed values; Load fails on any of them.
type envReader struct {
	errs []error
}

func (r *envReader) err() error {
	return errors.Join(r.errs...)
}

func (r *envReader) int(key string, fallback int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s %q: %w", key, v, err))
		return fallback
	}
	return i
}

func (r *envReader) bool(key string, fallback bool) bool {
	v := strings.TrimSpace(strings.ToLower(os.Getenv(key)))
	if v == "" {
		return fallback
	}
	switch v {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		r.errs = append(r.errs, fmt.Errorf("%s %q: not a boolean", key, v))
		return fallback
	}
}

// duration wraps a parse failure in sentinel when one is given.
func (r *envReader) duration(key string, fallback time.Duration, sentinel error) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		if sentinel != nil {
			err = sentinel
		}
		r.errs = append(r.errs, fmt.Errorf("%s %q: %w", key, v, err))
		return fallback
	}
	return d
}
