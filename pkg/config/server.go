package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// ServerConfig configures the websocket server.
type ServerConfig struct {
	// Host and Port bind the listener.
	Host string `yaml:"host,omitempty" json:"host,omitempty"`
	Port int    `yaml:"port,omitempty" json:"port,omitempty"`

	// BufferFrames bounds the per-session outbound queue; a session that
	// falls further behind is dropped with an error frame.
	BufferFrames int `yaml:"buffer_frames,omitempty" json:"buffer_frames,omitempty"`

	// WriteTimeout applies per outbound frame write.
	WriteTimeout time.Duration `yaml:"write_timeout,omitempty" json:"write_timeout,omitempty"`

	// PingInterval is the server-side keepalive period.
	PingInterval time.Duration `yaml:"ping_interval,omitempty" json:"ping_interval,omitempty"`

	// ReadLimit bounds inbound frame size in bytes.
	ReadLimit int64 `yaml:"read_limit,omitempty" json:"read_limit,omitempty"`

	// ShutdownTimeout bounds graceful drain on termination.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout,omitempty" json:"shutdown_timeout,omitempty"`

	// AllowedOrigins restricts websocket upgrades; empty allows all
	// (development).
	AllowedOrigins []string `yaml:"allowed_origins,omitempty" json:"allowed_origins,omitempty"`
}

// SetDefaults applies default values to ServerConfig.
func (c *ServerConfig) SetDefaults() {
	if c.Host == "" {
		c.Host = os.Getenv("HOST")
	}
	if c.Host == "" {
		c.Host = "0.0.0.0"
	}
	if c.Port == 0 {
		if p, err := strconv.Atoi(os.Getenv("PORT")); err == nil && p > 0 {
			c.Port = p
		}
	}
	if c.Port == 0 {
		c.Port = 8080
	}
	if c.BufferFrames == 0 {
		c.BufferFrames = 256
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = 10 * time.Second
	}
	if c.PingInterval == 0 {
		c.PingInterval = 30 * time.Second
	}
	if c.ReadLimit == 0 {
		c.ReadLimit = 1 << 20
	}
	if c.ShutdownTimeout == 0 {
		c.ShutdownTimeout = 10 * time.Second
	}
}

// Validate checks the server configuration.
func (c *ServerConfig) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("port must be within 1..65535, got %d", c.Port)
	}
	if c.BufferFrames < 1 {
		return fmt.Errorf("buffer_frames must be positive, got %d", c.BufferFrames)
	}
	return nil
}

// Address returns the host:port bind address.
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// ObservabilityConfig configures metrics and tracing.
type ObservabilityConfig struct {
	// MetricsEnabled exposes the prometheus endpoint and registers
	// instruments.
	MetricsEnabled *bool `yaml:"metrics_enabled,omitempty" json:"metrics_enabled,omitempty"`

	// ServiceName tags exported telemetry.
	ServiceName string `yaml:"service_name,omitempty" json:"service_name,omitempty"`

	// Tracing configures the optional trace exporter.
	Tracing TracingConfig `yaml:"tracing,omitempty" json:"tracing,omitempty"`

	// Alerts configures threshold evaluation over metric snapshots.
	Alerts AlertsConfig `yaml:"alerts,omitempty" json:"alerts,omitempty"`
}

// TracingConfig configures the OTLP trace exporter.
type TracingConfig struct {
	Enabled  bool   `yaml:"enabled,omitempty" json:"enabled,omitempty"`
	Endpoint string `yaml:"endpoint,omitempty" json:"endpoint,omitempty"`
	Insecure bool   `yaml:"insecure,omitempty" json:"insecure,omitempty"`
	// Stdout writes spans to stderr instead of OTLP (development).
	Stdout bool `yaml:"stdout,omitempty" json:"stdout,omitempty"`
}

// AlertsConfig holds the thresholds the alert evaluator applies to metric
// snapshots.
type AlertsConfig struct {
	// ErrorRate is the failed-call fraction above which an alert is
	// recorded, per component.
	ErrorRate float64 `yaml:"error_rate,omitempty" json:"error_rate,omitempty"`

	// LatencyP95 is the 95th percentile latency above which an alert is
	// recorded.
	LatencyP95 time.Duration `yaml:"latency_p95,omitempty" json:"latency_p95,omitempty"`

	// MinSamples is the sample floor below which no alert fires.
	MinSamples int `yaml:"min_samples,omitempty" json:"min_samples,omitempty"`
}

// SetDefaults applies default values to ObservabilityConfig.
func (c *ObservabilityConfig) SetDefaults() {
	if c.MetricsEnabled == nil {
		c.MetricsEnabled = BoolPtr(true)
	}
	if c.ServiceName == "" {
		c.ServiceName = "greenroom"
	}
	if c.Tracing.Endpoint == "" {
		c.Tracing.Endpoint = "localhost:4317"
	}
	if c.Alerts.ErrorRate == 0 {
		c.Alerts.ErrorRate = 0.25
	}
	if c.Alerts.LatencyP95 == 0 {
		c.Alerts.LatencyP95 = 10 * time.Second
	}
	if c.Alerts.MinSamples == 0 {
		c.Alerts.MinSamples = 20
	}
}

// Validate checks the observability configuration.
func (c *ObservabilityConfig) Validate() error {
	if c.Alerts.ErrorRate < 0 || c.Alerts.ErrorRate > 1 {
		return fmt.Errorf("alerts error_rate must be within 0..1, got %g", c.Alerts.ErrorRate)
	}
	return nil
}
