package llm

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/greenroom-ai/greenroom/pkg/config"
	"github.com/greenroom-ai/greenroom/pkg/kv"
	"github.com/greenroom-ai/greenroom/pkg/protocol"
	"github.com/greenroom-ai/greenroom/pkg/rbac"
)

// CallOptions carries the routing inputs for one call.
type CallOptions struct {
	// Principal drives the sensitivity floor. Nil principals (internal
	// work such as memory extraction) are not floor-gated.
	Principal *rbac.Principal

	// AgentType influences complexity classification.
	AgentType protocol.AgentType

	// Complexity is an optional floor on the computed bucket.
	Complexity Complexity

	// Preferred names a provider role to try first. It is honored only
	// when that role survives the sensitivity floor.
	Preferred string
}

// ExhaustedError reports that every candidate provider failed, keyed by
// role with each role's final error.
type ExhaustedError struct {
	LastErrors map[string]error
}

func (e *ExhaustedError) Error() string {
	roles := make([]string, 0, len(e.LastErrors))
	for role := range e.LastErrors {
		roles = append(roles, role)
	}
	sort.Strings(roles)
	parts := make([]string, 0, len(roles))
	for _, role := range roles {
		parts = append(parts, fmt.Sprintf("%s: %v", role, e.LastErrors[role]))
	}
	return "all providers failed: " + strings.Join(parts, "; ")
}

// Router selects a provider per call and owns retry, fallback, health
// gating and usage accounting. Providers are addressed by role
// (primary, secondary); role names reach the wire and the metric keys,
// vendor names do not.
type Router struct {
	cfg       config.LLMConfig
	order     []string
	providers map[string]Provider
	gate      *healthGate
	book      *usageBook
	embedder  *Embedder
}

// NewRouter builds the router and its providers from configuration.
func NewRouter(cfg config.LLMConfig, store kv.Store) (*Router, error) {
	primary, err := buildProvider(cfg.Primary)
	if err != nil {
		return nil, fmt.Errorf("primary: %w", err)
	}
	secondary, err := buildProvider(cfg.Secondary)
	if err != nil {
		return nil, fmt.Errorf("secondary: %w", err)
	}
	embedder, err := NewEmbedder(cfg.Embeddings)
	if err != nil {
		return nil, err
	}
	return newRouter(cfg, store, primary, secondary, embedder), nil
}

func newRouter(cfg config.LLMConfig, store kv.Store, primary, secondary Provider, embedder *Embedder) *Router {
	return &Router{
		cfg:   cfg,
		order: []string{config.ProviderRolePrimary, config.ProviderRoleSecondary},
		providers: map[string]Provider{
			config.ProviderRolePrimary:   primary,
			config.ProviderRoleSecondary: secondary,
		},
		gate:     newHealthGate(cfg.HealthCooldown),
		book:     newUsageBook(store, cfg.Costs),
		embedder: embedder,
	}
}

func buildProvider(cfg config.ProviderConfig) (Provider, error) {
	switch cfg.Type {
	case config.ProviderTypeGroq, config.ProviderTypeOpenAI:
		return NewOpenAI(cfg)
	case config.ProviderTypeAnthropic:
		return NewAnthropic(cfg)
	default:
		return nil, fmt.Errorf("unknown provider type %q", cfg.Type)
	}
}

// Complete routes a non-streaming completion.
func (r *Router) Complete(ctx context.Context, req Request, opts CallOptions) (*Result, error) {
	roles, err := r.candidates(opts)
	if err != nil {
		return nil, err
	}
	complexity := ClassifyComplexity(req.Messages, opts.Complexity, opts.AgentType, len(req.Tools) > 0)

	lastErrs := make(map[string]error, len(roles))
	for _, role := range roles {
		pcfg := r.providerConfig(role)
		model := pcfg.ModelFor(string(complexity))
		preq := r.fill(req, pcfg, model)

		resp, elapsed, err := r.completeOnce(ctx, role, preq)
		if err != nil {
			lastErrs[role] = err
			r.noteFailure(ctx, role, model, err)
			if ctx.Err() != nil {
				return nil, classifyProviderError("router.complete", ctx.Err())
			}
			slog.Warn("provider failed, falling through",
				"provider", role, "model", model, "error", err)
			continue
		}
		r.gate.markSuccess(role)
		cost := r.book.record(ctx, role, model, resp.Usage, elapsed, false)
		return &Result{Response: *resp, Provider: role, Model: model, Cost: cost}, nil
	}
	return nil, protocol.E(protocol.KindExhaustedProviders, "router.complete", &ExhaustedError{LastErrors: lastErrs})
}

// completeOnce runs up to two attempts against one provider: the
// initial call plus a single backed-off retry on retryable failure.
func (r *Router) completeOnce(ctx context.Context, role string, req Request) (*Response, time.Duration, error) {
	provider := r.providers[role]
	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, 0, classifyProviderError(role+".complete", ctx.Err())
			case <-time.After(r.cfg.RetryBackoff):
			}
		}
		start := time.Now()
		cctx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
		resp, err := provider.Complete(cctx, req)
		cancel()
		if err == nil {
			return resp, time.Since(start), nil
		}
		lastErr = err
		if !protocol.IsRetryable(err) || ctx.Err() != nil {
			break
		}
	}
	return nil, 0, lastErr
}

// Stream routes a streaming completion. Fallback happens only while
// opening the stream; once deltas flow, a failure is terminal for the
// turn because partial content has already reached the caller.
func (r *Router) Stream(ctx context.Context, req Request, opts CallOptions) (<-chan Chunk, error) {
	roles, err := r.candidates(opts)
	if err != nil {
		return nil, err
	}
	complexity := ClassifyComplexity(req.Messages, opts.Complexity, opts.AgentType, len(req.Tools) > 0)

	lastErrs := make(map[string]error, len(roles))
	for _, role := range roles {
		pcfg := r.providerConfig(role)
		model := pcfg.ModelFor(string(complexity))
		preq := r.fill(req, pcfg, model)

		sctx, cancel := context.WithTimeout(ctx, r.cfg.StreamTimeout)
		src, err := r.openStream(sctx, role, preq)
		if err != nil {
			cancel()
			lastErrs[role] = err
			r.noteFailure(ctx, role, model, err)
			if ctx.Err() != nil {
				return nil, classifyProviderError("router.stream", ctx.Err())
			}
			slog.Warn("provider stream open failed, falling through",
				"provider", role, "model", model, "error", err)
			continue
		}
		out := make(chan Chunk, 32)
		go r.relay(sctx, cancel, src, out, role, model)
		return out, nil
	}
	return nil, protocol.E(protocol.KindExhaustedProviders, "router.stream", &ExhaustedError{LastErrors: lastErrs})
}

// openStream opens a provider stream with one backed-off retry on a
// retryable open failure.
func (r *Router) openStream(ctx context.Context, role string, req Request) (<-chan Chunk, error) {
	provider := r.providers[role]
	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, classifyProviderError(role+".stream", ctx.Err())
			case <-time.After(r.cfg.RetryBackoff):
			}
		}
		src, err := provider.Stream(ctx, req)
		if err == nil {
			return src, nil
		}
		lastErr = err
		if !protocol.IsRetryable(err) || ctx.Err() != nil {
			break
		}
	}
	return nil, lastErr
}

// relay forwards provider chunks, stamping the terminal chunk with
// attribution and cost and booking usage.
func (r *Router) relay(ctx context.Context, cancel context.CancelFunc, src <-chan Chunk, out chan<- Chunk, role, model string) {
	defer close(out)
	defer cancel()

	forward := func(c Chunk) bool {
		select {
		case out <- c:
			return true
		case <-ctx.Done():
			return false
		}
	}

	start := time.Now()
	for c := range src {
		switch {
		case c.Err != nil:
			if protocol.IsRetryable(c.Err) {
				r.gate.markFailure(role)
			}
			r.book.record(ctx, role, model, protocol.Usage{}, time.Since(start), true)
			forward(c)
			return
		case c.Done:
			var usage protocol.Usage
			if c.Usage != nil {
				usage = *c.Usage
			}
			r.gate.markSuccess(role)
			cost := r.book.record(ctx, role, model, usage, time.Since(start), false)
			c.Provider = role
			c.Model = model
			c.Cost = cost
			forward(c)
			return
		default:
			if !forward(c) {
				return
			}
		}
	}
	// Source closed without a terminal chunk: the provider goroutine
	// aborted on context cancellation. Surface that as the turn error.
	err := ctx.Err()
	if err == nil {
		err = context.Canceled
	}
	forward(Chunk{Err: classifyProviderError(role+".stream", err)})
}

// Embed returns the embedding for one text via the embeddings slot.
func (r *Router) Embed(ctx context.Context, text string) ([]float32, error) {
	return r.embedder.Embed(ctx, text)
}

// EmbedBatch returns embeddings for texts in input order.
func (r *Router) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return r.embedder.EmbedBatch(ctx, texts)
}

// Dimensions is the embedding width the router produces.
func (r *Router) Dimensions() int { return r.embedder.Dimensions() }

// Probe health-checks every provider role and updates the gate. The
// runtime calls this on a timer.
func (r *Router) Probe(ctx context.Context) map[string]error {
	results := make(map[string]error, len(r.order))
	for _, role := range r.order {
		cctx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
		err := r.providers[role].Health(cctx)
		cancel()
		results[role] = err
		if err != nil {
			r.gate.markFailure(role)
			slog.Warn("provider health probe failed", "provider", role, "error", err)
		} else {
			r.gate.markSuccess(role)
		}
	}
	return results
}

// Usage snapshots the cumulative per-role counters.
func (r *Router) Usage() map[string]RoleUsage {
	return r.book.Snapshot()
}

// candidates computes the ordered provider roles for a call: the
// sensitivity floor restricts, the preferred role reorders, and the
// health gate skips.
func (r *Router) candidates(opts CallOptions) ([]string, error) {
	eligible := r.order
	if opts.Principal != nil && opts.Principal.DataAccessLevel > r.cfg.SensitivityFloor {
		eligible = nil
		for _, role := range r.order {
			if r.trusted(role) {
				eligible = append(eligible, role)
			}
		}
		if len(eligible) == 0 {
			return nil, protocol.Errorf(protocol.KindProviderUnavail, "router.select",
				"no trusted provider for data access level %d", opts.Principal.DataAccessLevel)
		}
	}

	if opts.Preferred != "" {
		for i, role := range eligible {
			if role == opts.Preferred && i > 0 {
				reordered := make([]string, 0, len(eligible))
				reordered = append(reordered, role)
				for _, other := range eligible {
					if other != role {
						reordered = append(reordered, other)
					}
				}
				eligible = reordered
				break
			}
		}
	}

	available := make([]string, 0, len(eligible))
	for _, role := range eligible {
		if r.gate.available(role) {
			available = append(available, role)
		}
	}
	if len(available) == 0 {
		return nil, protocol.Errorf(protocol.KindProviderUnavail, "router.select",
			"all providers are in health cool-down")
	}
	return available, nil
}

func (r *Router) trusted(role string) bool {
	for _, t := range r.cfg.TrustedProviders {
		if t == role {
			return true
		}
	}
	return false
}

func (r *Router) providerConfig(role string) config.ProviderConfig {
	if role == config.ProviderRoleSecondary {
		return r.cfg.Secondary
	}
	return r.cfg.Primary
}

// fill completes a request with the provider's model and defaults.
func (r *Router) fill(req Request, pcfg config.ProviderConfig, model string) Request {
	req.Model = model
	if req.MaxTokens == 0 {
		req.MaxTokens = pcfg.MaxTokens
	}
	if req.Temperature == 0 {
		req.Temperature = pcfg.Temperature
	}
	return req
}

// noteFailure books a failed call and gates the role when the failure
// class indicates a provider outage rather than a bad request.
func (r *Router) noteFailure(ctx context.Context, role, model string, err error) {
	if protocol.IsRetryable(err) {
		r.gate.markFailure(role)
	}
	r.book.record(ctx, role, model, protocol.Usage{}, 0, true)
}
