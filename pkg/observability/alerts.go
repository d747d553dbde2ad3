package observability

import (
	"fmt"
	"sort"
	"time"

	"github.com/greenroom-ai/greenroom/pkg/config"
)

// ComponentStats is a point-in-time view of one component's health.
type ComponentStats struct {
	Requests   int64
	Errors     int64
	LatencyP95 time.Duration
}

// Snapshot maps component names to their stats.
type Snapshot map[string]ComponentStats

// Alert is one threshold breach.
type Alert struct {
	Component string    `json:"component"`
	Kind      string    `json:"kind"`
	Value     float64   `json:"value"`
	Threshold float64   `json:"threshold"`
	Message   string    `json:"message"`
	At        time.Time `json:"at"`
}

// Alert kinds.
const (
	AlertErrorRate  = "error_rate"
	AlertLatencyP95 = "latency_p95"
)

// EvaluateAlerts applies thresholds to a snapshot. It is pure: same
// snapshot, thresholds, and clock yield the same alerts, ordered by
// component then kind.
func EvaluateAlerts(snap Snapshot, cfg config.AlertsConfig, now time.Time) []Alert {
	var alerts []Alert

	components := make([]string, 0, len(snap))
	for name := range snap {
		components = append(components, name)
	}
	sort.Strings(components)

	for _, name := range components {
		stats := snap[name]
		if stats.Requests < int64(cfg.MinSamples) {
			continue
		}

		rate := float64(stats.Errors) / float64(stats.Requests)
		if rate > cfg.ErrorRate {
			alerts = append(alerts, Alert{
				Component: name,
				Kind:      AlertErrorRate,
				Value:     rate,
				Threshold: cfg.ErrorRate,
				Message:   fmt.Sprintf("%s error rate %.2f exceeds %.2f", name, rate, cfg.ErrorRate),
				At:        now,
			})
		}

		if cfg.LatencyP95 > 0 && stats.LatencyP95 > cfg.LatencyP95 {
			alerts = append(alerts, Alert{
				Component: name,
				Kind:      AlertLatencyP95,
				Value:     stats.LatencyP95.Seconds(),
				Threshold: cfg.LatencyP95.Seconds(),
				Message:   fmt.Sprintf("%s p95 latency %s exceeds %s", name, stats.LatencyP95, cfg.LatencyP95),
				At:        now,
			})
		}
	}
	return alerts
}
