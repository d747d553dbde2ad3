// Package runtime wires configuration into a running orchestration
// layer: storage, providers, agents, background workers and the
// websocket server, with ordered startup and shutdown.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/greenroom-ai/greenroom/pkg/agent"
	"github.com/greenroom-ai/greenroom/pkg/checkpoint"
	"github.com/greenroom-ai/greenroom/pkg/config"
	"github.com/greenroom-ai/greenroom/pkg/conversation"
	"github.com/greenroom-ai/greenroom/pkg/graph"
	"github.com/greenroom-ai/greenroom/pkg/kv"
	"github.com/greenroom-ai/greenroom/pkg/llm"
	"github.com/greenroom-ai/greenroom/pkg/memory"
	"github.com/greenroom-ai/greenroom/pkg/observability"
	"github.com/greenroom-ai/greenroom/pkg/orchestrator"
	"github.com/greenroom-ai/greenroom/pkg/rbac"
	"github.com/greenroom-ai/greenroom/pkg/server"
	"github.com/greenroom-ai/greenroom/pkg/tools"
)

// memoryStoreURL selects the in-process kv store instead of Redis.
// Dev only: sessions and queues vanish on restart.
const memoryStoreURL = "memory://"

// Runtime owns every long-lived component and their lifecycles.
type Runtime struct {
	cfg *config.Config

	obs           *observability.Manager
	stats         *observability.Stats
	store         kv.Store
	graph         *graph.Client
	verifier      *rbac.Verifier
	gate          *rbac.Gate
	router        *llm.Router
	registry      *tools.Registry
	conversations *conversation.Store
	checkpoints   *checkpoint.Store
	queue         *memory.Queue
	memory        *memory.Manager
	workers       *memory.Workers
	orchestrator  *orchestrator.Orchestrator
	server        *server.Server

	probe *probeCache
}

// New constructs the full component graph. On any failure it tears
// down what it already started and returns the error.
func New(ctx context.Context, cfg *config.Config) (*Runtime, error) {
	if cfg == nil {
		return nil, errors.New("runtime: nil config")
	}
	r := &Runtime{cfg: cfg, probe: &probeCache{}}

	obs, err := observability.New(ctx, cfg.Observability)
	if err != nil {
		return nil, fmt.Errorf("observability: %w", err)
	}
	r.obs = obs
	r.stats = observability.NewStats(obs.Recorder())

	r.store, err = newStore(cfg.Cache)
	if err != nil {
		r.cleanup(ctx)
		return nil, fmt.Errorf("kv store: %w", err)
	}

	r.graph, err = graph.New(cfg.Graph)
	if err != nil {
		r.cleanup(ctx)
		return nil, fmt.Errorf("graph: %w", err)
	}
	if err := r.graph.EnsureSchema(ctx); err != nil {
		// Indexes may already exist or the database may still be
		// starting. Serve anyway; healthz reports the graph state.
		slog.Warn("runtime: graph schema setup failed, continuing", "error", err)
	}

	r.verifier, err = rbac.NewVerifier(ctx, cfg.RBAC)
	if err != nil {
		r.cleanup(ctx)
		return nil, fmt.Errorf("rbac verifier: %w", err)
	}
	r.gate = rbac.NewGate(r.store, rbac.NewKVRoleSource(r.store), cfg.RBAC)

	r.router, err = llm.NewRouter(cfg.LLM, r.store)
	if err != nil {
		r.cleanup(ctx)
		return nil, fmt.Errorf("llm router: %w", err)
	}

	r.registry = tools.NewRegistry(cfg.Agents, r.gate, r.stats)
	if err := r.registry.Register(tools.Canonical(tools.Handles{Graph: r.graph, Embed: r.router})...); err != nil {
		r.cleanup(ctx)
		return nil, fmt.Errorf("register tools: %w", err)
	}

	r.conversations = conversation.NewStore(r.store)
	r.checkpoints = checkpoint.NewStore(r.store)
	r.queue = memory.NewQueue(r.store)
	r.memory = memory.NewManager(cfg.Memory, r.graph, r.router, r.store, r.stats)
	extractor := memory.NewExtractor(cfg.Memory, r.memory, r.router, r.queue, r.store)
	consolidator := memory.NewConsolidator(cfg.Memory, r.memory, r.router, r.store)
	r.workers = memory.NewWorkers(cfg.Memory, r.queue, extractor, consolidator, r.stats)

	deps := agent.Deps{
		Router:      r.router,
		Tools:       r.registry,
		Memory:      r.memory,
		Transcript:  r.conversations,
		Checkpoints: r.checkpoints,
		Queue:       r.queue,
		Recorder:    r.stats,
	}
	var runners []orchestrator.Runner
	for _, variant := range agent.Variants() {
		a, err := agent.New(variant, deps, cfg.Agents)
		if err != nil {
			r.cleanup(ctx)
			return nil, fmt.Errorf("agent %s: %w", variant.Type, err)
		}
		runners = append(runners, a)
	}

	r.orchestrator, err = orchestrator.New(runners, orchestrator.Deps{
		Router:        r.router,
		Conversations: r.conversations,
		Checkpoints:   r.checkpoints,
		Queue:         r.queue,
		Recorder:      r.stats,
	}, cfg.Orchestrator)
	if err != nil {
		r.cleanup(ctx)
		return nil, fmt.Errorf("orchestrator: %w", err)
	}

	srvDeps := server.Deps{
		Orchestrator: r.orchestrator,
		Verifier:     r.verifier,
		Recorder:     r.stats,
		Health:       r.healthChecks(),
	}
	if config.BoolValue(cfg.Observability.MetricsEnabled, true) {
		srvDeps.Metrics = obs.MetricsHandler()
	}
	r.server, err = server.New(cfg.Server, srvDeps)
	if err != nil {
		r.cleanup(ctx)
		return nil, fmt.Errorf("server: %w", err)
	}

	return r, nil
}

// newStore picks the kv backend from the cache URL.
func newStore(cfg config.CacheConfig) (kv.Store, error) {
	if cfg.URL == memoryStoreURL {
		slog.Warn("runtime: using in-memory kv store, state will not survive restarts")
		return kv.NewMemoryStore(), nil
	}
	return kv.NewRedis(cfg)
}

// healthChecks names the dependencies /healthz reports on.
func (r *Runtime) healthChecks() []server.HealthCheck {
	return []server.HealthCheck{
		{Name: "graph", Check: r.graph.Health},
		{Name: "cache", Check: r.store.Ping},
		{Name: "llm", Check: r.probe.check},
	}
}

// Run starts the server and background loops, then blocks until the
// context is cancelled, a termination signal arrives, or the listener
// fails. Shutdown is graceful within cfg.Server.ShutdownTimeout.
func (r *Runtime) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(4)
	go func() {
		defer wg.Done()
		r.workers.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		r.probeLoop(ctx)
	}()
	go func() {
		defer wg.Done()
		r.alertLoop(ctx)
	}()
	go func() {
		defer wg.Done()
		r.archiveLoop(ctx)
	}()

	errCh := make(chan error, 1)
	go func() {
		errCh <- r.server.Start()
	}()
	slog.Info("runtime: started", "addr", r.cfg.Server.Address())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	var runErr error
	select {
	case err := <-errCh:
		runErr = err
	case sig := <-sigCh:
		slog.Info("runtime: shutting down", "signal", sig.String())
	case <-ctx.Done():
	}
	cancel()
	wg.Wait()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), r.cfg.Server.ShutdownTimeout)
	defer shutdownCancel()
	if err := r.Close(shutdownCtx); err != nil {
		return errors.Join(runErr, err)
	}
	return runErr
}

// Close stops the server and releases every component, collecting all
// errors rather than stopping at the first.
func (r *Runtime) Close(ctx context.Context) error {
	var errs []error
	if r.server != nil {
		if err := r.server.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("server: %w", err))
		}
	}
	errs = append(errs, r.closeComponents(ctx)...)
	return errors.Join(errs...)
}

func (r *Runtime) closeComponents(ctx context.Context) []error {
	var errs []error
	if r.graph != nil {
		if err := r.graph.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("graph: %w", err))
		}
	}
	if r.store != nil {
		if err := r.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("kv store: %w", err))
		}
	}
	if r.obs != nil {
		if err := r.obs.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("observability: %w", err))
		}
	}
	return errs
}

// cleanup releases partially constructed components on a New failure.
func (r *Runtime) cleanup(ctx context.Context) {
	for _, err := range r.closeComponents(ctx) {
		slog.Warn("runtime: cleanup error", "error", err)
	}
}

// probeCache holds the latest provider sweep for the health endpoint.
type probeCache struct {
	mu      sync.Mutex
	results map[string]error
	at      time.Time
}

func (p *probeCache) store(results map[string]error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.results = results
	p.at = time.Now()
}

// check reports degraded only when every provider failed its last
// probe. A single healthy provider keeps the layer serving.
func (p *probeCache) check(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.results) == 0 {
		return nil
	}
	var failed []string
	for role, err := range p.results {
		if err == nil {
			return nil
		}
		failed = append(failed, fmt.Sprintf("%s: %v", role, err))
	}
	sort.Strings(failed)
	return fmt.Errorf("all providers failing: %s", strings.Join(failed, "; "))
}
