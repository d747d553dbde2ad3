package tools

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/greenroom-ai/greenroom/pkg/config"
	"github.com/greenroom-ai/greenroom/pkg/graph"
	"github.com/greenroom-ai/greenroom/pkg/observability"
	"github.com/greenroom-ai/greenroom/pkg/rbac"
)

type fakeGraph struct {
	mu          sync.Mutex
	runCalls    int
	runErr      error
	records     []graph.Record
	lastQuery   graph.Query
	vectorHits  map[string][]graph.VectorHit
	vectorErrs  map[string]error
	vectorCalls []string
	lastK       int
	lastMin     float64
}

func (f *fakeGraph) Run(_ context.Context, q graph.Query) ([]graph.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runCalls++
	f.lastQuery = q
	if f.runErr != nil {
		return nil, f.runErr
	}
	return f.records, nil
}

func (f *fakeGraph) VectorSearch(_ context.Context, index string, _ []float32, k int, minScore float64) ([]graph.VectorHit, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.vectorCalls = append(f.vectorCalls, index)
	f.lastK = k
	f.lastMin = minScore
	if err := f.vectorErrs[index]; err != nil {
		return nil, err
	}
	return f.vectorHits[index], nil
}

type fakeEmbedder struct {
	mu       sync.Mutex
	calls    int
	err      error
	vec      []float32
	lastText string
}

func (f *fakeEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.lastText = text
	if f.err != nil {
		return nil, f.err
	}
	return f.vec, nil
}

// allowAll grants every permission slug.
type allowAll struct{}

func (allowAll) Can(context.Context, rbac.Principal, string) bool { return true }

// slugSet grants exactly the listed slugs.
type slugSet map[string]bool

func (s slugSet) Can(_ context.Context, _ rbac.Principal, slug string) bool { return s[slug] }

type captureRecorder struct {
	observability.NopRecorder
	mu    sync.Mutex
	tools []string
	errs  []error
}

func (c *captureRecorder) RecordToolCall(_ context.Context, tool string, _ time.Duration, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tools = append(c.tools, tool)
	c.errs = append(c.errs, err)
}

func testRegistry(t *testing.T, h Handles, gate PermissionChecker) *Registry {
	t.Helper()
	cfg := config.AgentsConfig{}
	cfg.SetDefaults()
	r := NewRegistry(cfg, gate, nil)
	require.NoError(t, r.Register(Canonical(h)...))
	return r
}

func leadershipPrincipal() rbac.Principal {
	return rbac.Principal{ID: "u-lead", Role: rbac.RoleLeadership, DataAccessLevel: 6}
}

func salesPrincipal(level int) rbac.Principal {
	return rbac.Principal{ID: "u-sales", Role: rbac.RoleSalesperson, DataAccessLevel: level}
}

func creativePrincipal() rbac.Principal {
	return rbac.Principal{ID: "u-creative", Role: rbac.RoleCreativeDirector, DataAccessLevel: 1}
}
