// Package observability wires metrics and tracing for the orchestration
// core. Components receive the narrow Recorder capability rather than the
// whole manager; alert thresholds are evaluated by a pure function over
// snapshots so the policy is testable without instruments.
package observability

import (
	"context"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/greenroom-ai/greenroom/pkg/config"
)

// Manager owns the meter provider, the prometheus registry, and the
// tracer provider lifecycle.
type Manager struct {
	recorder      Recorder
	registry      *prometheus.Registry
	meterProvider *sdkmetric.MeterProvider
	tracing       *tracing
}

// New initializes metrics and tracing from config. With metrics disabled
// the returned manager records nothing and serves an empty registry.
func New(ctx context.Context, cfg config.ObservabilityConfig) (*Manager, error) {
	m := &Manager{
		recorder: NopRecorder{},
		registry: prometheus.NewRegistry(),
	}

	if config.BoolValue(cfg.MetricsEnabled, true) {
		exporter, err := otelprom.New(otelprom.WithRegisterer(m.registry))
		if err != nil {
			return nil, fmt.Errorf("create prometheus exporter: %w", err)
		}
		m.meterProvider = sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))

		rec, err := newMetricsRecorder(m.meterProvider.Meter(cfg.ServiceName))
		if err != nil {
			return nil, err
		}
		m.recorder = rec
	}

	tr, err := initTracing(ctx, cfg)
	if err != nil {
		return nil, err
	}
	m.tracing = tr

	return m, nil
}

// Recorder returns the metrics capability handed to components.
func (m *Manager) Recorder() Recorder {
	return m.recorder
}

// MetricsHandler serves the prometheus scrape endpoint.
func (m *Manager) MetricsHandler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Shutdown flushes exporters.
func (m *Manager) Shutdown(ctx context.Context) error {
	var first error
	if m.tracing != nil {
		if err := m.tracing.shutdown(ctx); err != nil {
			first = err
		}
	}
	if m.meterProvider != nil {
		if err := m.meterProvider.Shutdown(ctx); err != nil && first == nil {
			first = err
		}
	}
	return first
}
