package llm

import (
	"sync"
	"time"
)

// healthGate tracks which provider roles are in a failure cool-down.
// A role enters the cool-down when a call fails terminally or a probe
// fails, and is skipped by the router until the window elapses. A
// success clears it early.
type healthGate struct {
	mu       sync.Mutex
	cooldown time.Duration
	until    map[string]time.Time
	now      func() time.Time
}

func newHealthGate(cooldown time.Duration) *healthGate {
	return &healthGate{
		cooldown: cooldown,
		until:    make(map[string]time.Time),
		now:      time.Now,
	}
}

// available reports whether the role may serve requests.
func (g *healthGate) available(role string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	until, ok := g.until[role]
	if !ok {
		return true
	}
	if g.now().Before(until) {
		return false
	}
	delete(g.until, role)
	return true
}

// markFailure puts the role into cool-down.
func (g *healthGate) markFailure(role string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.until[role] = g.now().Add(g.cooldown)
}

// markSuccess lifts any cool-down immediately.
func (g *healthGate) markSuccess(role string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.until, role)
}
