package runtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/greenroom-ai/greenroom/pkg/kv"
	"github.com/greenroom-ai/greenroom/pkg/observability"
)

const (
	probeInterval   = 30 * time.Second
	alertInterval   = time.Minute
	archiveInterval = time.Hour

	// conversationIdle is how long a conversation sits untouched
	// before the hourly sweep archives it.
	conversationIdle = 7 * 24 * time.Hour
)

// probeLoop keeps the provider health cache fresh for /healthz and
// lets the router close half-open health gates.
func (r *Runtime) probeLoop(ctx context.Context) {
	r.probe.store(r.router.Probe(ctx))
	ticker := time.NewTicker(probeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.probe.store(r.router.Probe(ctx))
		}
	}
}

// alertLoop snapshots component stats once a minute, persists the
// summaries, and records threshold breaches.
func (r *Runtime) alertLoop(ctx context.Context) {
	ticker := time.NewTicker(alertInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.sweepAlerts(ctx)
		}
	}
}

func (r *Runtime) sweepAlerts(ctx context.Context) {
	snap := r.stats.Snapshot()
	if len(snap) == 0 {
		return
	}
	now := time.Now()
	for name, cs := range snap {
		raw, err := json.Marshal(map[string]any{
			"requests":       cs.Requests,
			"errors":         cs.Errors,
			"latency_p95_ms": cs.LatencyP95.Seconds() * 1000,
			"at":             now.Format(time.RFC3339),
		})
		if err != nil {
			continue
		}
		if err := kv.PushCapped(ctx, r.store, kv.MetricsKey(name), string(raw), kv.MetricsListMax); err != nil {
			slog.Warn("runtime: persist metrics snapshot failed", "component", name, "error", err)
		}
	}
	for _, alert := range observability.EvaluateAlerts(snap, r.cfg.Observability.Alerts, now) {
		slog.Warn("runtime: alert threshold breached",
			"component", alert.Component,
			"kind", alert.Kind,
			"value", alert.Value,
			"threshold", alert.Threshold,
		)
		raw, err := json.Marshal(alert)
		if err != nil {
			continue
		}
		if err := kv.PushCapped(ctx, r.store, kv.AlertsKey, string(raw), kv.AlertsListMax); err != nil {
			slog.Warn("runtime: persist alert failed", "error", err)
		}
	}
}

// archiveLoop sweeps idle conversations once an hour.
func (r *Runtime) archiveLoop(ctx context.Context) {
	ticker := time.NewTicker(archiveInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := r.conversations.ArchiveIdle(ctx, conversationIdle)
			if err != nil {
				slog.Warn("runtime: archive sweep failed", "error", err)
				continue
			}
			if n > 0 {
				slog.Info("runtime: archived idle conversations", "count", n)
			}
		}
	}
}
