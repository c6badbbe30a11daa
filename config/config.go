// Package config loads and validates the bridge configuration from a JSON
// file with LIVEBRIDGE_* environment overrides.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/tobias-weiss-ai-xr/ableton-mcp-extended-sub001/errors"
)

// Defaults applied by Load when the file or environment leaves a field unset.
const (
	DefaultBind          = "0.0.0.0"
	DefaultTCPPort       = 9000
	DefaultMetricsPort   = 9090
	DefaultWSPort        = 9002
	DefaultReplyTimeout  = 10 * time.Second
	DefaultShutdownGrace = 5 * time.Second
	DefaultQueueCapacity = 1024
	DefaultUDPStaging    = 4096
	DefaultNATSPrefix    = "livebridge"
)

// Config is the complete bridge configuration.
type Config struct {
	Bind    string `json:"bind"`
	TCPPort int    `json:"tcp_port"`
	// UDPPort defaults to TCPPort+1 when zero.
	UDPPort int `json:"udp_port"`

	WS      WSConfig      `json:"ws"`
	NATS    NATSConfig    `json:"nats"`
	Metrics MetricsConfig `json:"metrics"`

	// ReplyTimeout bounds how long a reliable transport waits on command
	// completion before answering with a timeout error.
	ReplyTimeout Duration `json:"reply_timeout"`
	// ShutdownGrace bounds the drain of queued commands at shutdown.
	ShutdownGrace Duration `json:"shutdown_grace"`

	QueueCapacity  int `json:"queue_capacity"`
	UDPStagingSize int `json:"udp_staging_size"`

	LogLevel  string `json:"log_level"`
	LogFormat string `json:"log_format"`
}

// WSConfig configures the optional WebSocket gateway.
type WSConfig struct {
	Enabled bool `json:"enabled"`
	Port    int  `json:"port"`
}

// NATSConfig configures the optional NATS ingress.
type NATSConfig struct {
	Enabled       bool   `json:"enabled"`
	URL           string `json:"url"`
	SubjectPrefix string `json:"subject_prefix"`
}

// MetricsConfig configures the observability HTTP server.
type MetricsConfig struct {
	Port int `json:"port"`
}

// Duration unmarshals from either a JSON number of nanoseconds or a Go
// duration string such as "10s".
type Duration time.Duration

// UnmarshalJSON implements json.Unmarshaler.
func (d *Duration) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	switch v := raw.(type) {
	case float64:
		*d = Duration(time.Duration(v))
		return nil
	case string:
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", v, err)
		}
		*d = Duration(parsed)
		return nil
	default:
		return fmt.Errorf("invalid duration type %T", raw)
	}
}

// MarshalJSON implements json.Marshaler.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Bind == "" {
		c.Bind = DefaultBind
	}
	if c.TCPPort == 0 {
		c.TCPPort = DefaultTCPPort
	}
	if c.UDPPort == 0 {
		c.UDPPort = c.TCPPort + 1
	}
	if c.WS.Port == 0 {
		c.WS.Port = DefaultWSPort
	}
	if c.NATS.SubjectPrefix == "" {
		c.NATS.SubjectPrefix = DefaultNATSPrefix
	}
	if c.Metrics.Port == 0 {
		c.Metrics.Port = DefaultMetricsPort
	}
	if c.ReplyTimeout == 0 {
		c.ReplyTimeout = Duration(DefaultReplyTimeout)
	}
	if c.ShutdownGrace == 0 {
		c.ShutdownGrace = Duration(DefaultShutdownGrace)
	}
	if c.QueueCapacity == 0 {
		c.QueueCapacity = DefaultQueueCapacity
	}
	if c.UDPStagingSize == 0 {
		c.UDPStagingSize = DefaultUDPStaging
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.LogFormat == "" {
		c.LogFormat = "json"
	}
}

// Load reads the config file (optional), applies LIVEBRIDGE_* environment
// overrides, fills defaults, and validates. An empty path yields defaults
// plus environment.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.WrapInvalid(err, "config", "Load", "file read")
		}
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, errors.WrapInvalid(err, "config", "Load", "json parse")
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overrides fields from LIVEBRIDGE_* variables. Environment wins
// over the file, matching how the binary's flags behave.
func (c *Config) applyEnv() error {
	if v := os.Getenv("LIVEBRIDGE_BIND"); v != "" {
		c.Bind = v
	}
	if err := envInt("LIVEBRIDGE_TCP_PORT", &c.TCPPort); err != nil {
		return err
	}
	if err := envInt("LIVEBRIDGE_UDP_PORT", &c.UDPPort); err != nil {
		return err
	}
	if err := envInt("LIVEBRIDGE_METRICS_PORT", &c.Metrics.Port); err != nil {
		return err
	}
	if err := envInt("LIVEBRIDGE_WS_PORT", &c.WS.Port); err != nil {
		return err
	}
	if v := os.Getenv("LIVEBRIDGE_WS_ENABLED"); v != "" {
		c.WS.Enabled = truthy(v)
	}
	if v := os.Getenv("LIVEBRIDGE_NATS_ENABLED"); v != "" {
		c.NATS.Enabled = truthy(v)
	}
	if v := os.Getenv("LIVEBRIDGE_NATS_URL"); v != "" {
		c.NATS.URL = v
	}
	if v := os.Getenv("LIVEBRIDGE_NATS_PREFIX"); v != "" {
		c.NATS.SubjectPrefix = v
	}
	if err := envDuration("LIVEBRIDGE_REPLY_TIMEOUT", &c.ReplyTimeout); err != nil {
		return err
	}
	if err := envDuration("LIVEBRIDGE_SHUTDOWN_GRACE", &c.ShutdownGrace); err != nil {
		return err
	}
	if v := os.Getenv("LIVEBRIDGE_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv("LIVEBRIDGE_LOG_FORMAT"); v != "" {
		c.LogFormat = v
	}
	return nil
}

func envInt(name string, dst *int) error {
	v := os.Getenv(name)
	if v == "" {
		return nil
	}
	parsed, err := strconv.Atoi(v)
	if err != nil {
		return errors.WrapInvalid(
			fmt.Errorf("%s=%q: %w", name, v, err),
			"config", "applyEnv", "integer parse")
	}
	*dst = parsed
	return nil
}

func envDuration(name string, dst *Duration) error {
	v := os.Getenv(name)
	if v == "" {
		return nil
	}
	parsed, err := time.ParseDuration(v)
	if err != nil {
		return errors.WrapInvalid(
			fmt.Errorf("%s=%q: %w", name, v, err),
			"config", "applyEnv", "duration parse")
	}
	*dst = Duration(parsed)
	return nil
}

func truthy(v string) bool {
	switch strings.ToLower(v) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}

// Validate checks ports, timeouts, and sizes for internal consistency.
func (c *Config) Validate() error {
	if err := validPort("tcp_port", c.TCPPort); err != nil {
		return err
	}
	if err := validPort("udp_port", c.UDPPort); err != nil {
		return err
	}
	if err := validPort("metrics.port", c.Metrics.Port); err != nil {
		return err
	}
	if c.WS.Enabled {
		if err := validPort("ws.port", c.WS.Port); err != nil {
			return err
		}
	}
	if c.TCPPort == c.UDPPort {
		return errors.WrapInvalid(
			fmt.Errorf("tcp_port and udp_port both %d", c.TCPPort),
			"config", "Validate", "port collision check")
	}
	if c.NATS.Enabled && c.NATS.URL == "" {
		return errors.WrapInvalid(errors.ErrMissingConfig,
			"config", "Validate", "nats.url required when nats.enabled")
	}
	if c.ReplyTimeout <= 0 {
		return errors.WrapInvalid(
			fmt.Errorf("reply_timeout must be positive, got %s", c.ReplyTimeout.Std()),
			"config", "Validate", "timeout check")
	}
	if c.ShutdownGrace <= 0 {
		return errors.WrapInvalid(
			fmt.Errorf("shutdown_grace must be positive, got %s", c.ShutdownGrace.Std()),
			"config", "Validate", "timeout check")
	}
	if c.QueueCapacity <= 0 {
		return errors.WrapInvalid(
			fmt.Errorf("queue_capacity must be positive, got %d", c.QueueCapacity),
			"config", "Validate", "capacity check")
	}
	if c.UDPStagingSize <= 0 {
		return errors.WrapInvalid(
			fmt.Errorf("udp_staging_size must be positive, got %d", c.UDPStagingSize),
			"config", "Validate", "capacity check")
	}
	switch c.LogFormat {
	case "json", "text":
	default:
		return errors.WrapInvalid(
			fmt.Errorf("log_format must be json or text, got %q", c.LogFormat),
			"config", "Validate", "log format check")
	}
	return nil
}

func validPort(field string, port int) error {
	if port < 1 || port > 65535 {
		return errors.WrapInvalid(
			fmt.Errorf("%s out of range: %d", field, port),
			"config", "Validate", "port range check")
	}
	return nil
}
