package tools

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/greenroom-ai/greenroom/pkg/config"
	"github.com/greenroom-ai/greenroom/pkg/graph"
	"github.com/greenroom-ai/greenroom/pkg/protocol"
	"github.com/greenroom-ai/greenroom/pkg/rbac"
)

func TestRegisterRejectsDuplicateNames(t *testing.T) {
	r := testRegistry(t, Handles{Graph: &fakeGraph{}, Embed: &fakeEmbedder{}}, allowAll{})

	err := r.Register(Tool{
		Name: ToolPersonProfile,
		Run:  func(context.Context, rbac.Principal, map[string]any) (Output, error) { return Output{}, nil },
	})
	require.Error(t, err)
	assert.True(t, protocol.IsKind(err, protocol.KindValidation))
}

func TestRegisterRejectsIncompleteTools(t *testing.T) {
	cfg := config.AgentsConfig{}
	cfg.SetDefaults()
	r := NewRegistry(cfg, allowAll{}, nil)

	require.Error(t, r.Register(Tool{Name: ""}))
	require.Error(t, r.Register(Tool{Name: "no_impl"}))
}

func TestExecuteUnknownTool(t *testing.T) {
	r := testRegistry(t, Handles{Graph: &fakeGraph{}, Embed: &fakeEmbedder{}}, allowAll{})

	result := r.Execute(context.Background(), leadershipPrincipal(), protocol.ToolCall{Name: "drop_tables"})
	assert.Equal(t, protocol.ToolStatusError, result.Status)
	assert.Contains(t, result.Error, "unknown tool")
}

func TestExecuteEnforcesMinRole(t *testing.T) {
	g := &fakeGraph{}
	r := testRegistry(t, Handles{Graph: g, Embed: &fakeEmbedder{}}, allowAll{})

	result := r.Execute(context.Background(), creativePrincipal(), protocol.ToolCall{
		Name:      ToolDealDetails,
		Arguments: map[string]any{"id": "d1"},
	})
	assert.Equal(t, protocol.ToolStatusError, result.Status)
	assert.Contains(t, result.Error, "requires role")
	assert.Zero(t, g.runCalls)
}

func TestExecuteEnforcesPermissionSlug(t *testing.T) {
	g := &fakeGraph{records: []graph.Record{{"id": "d1", "stage": "won"}}}
	r := testRegistry(t, Handles{Graph: g, Embed: &fakeEmbedder{}}, slugSet{})

	result := r.Execute(context.Background(), salesPrincipal(4), protocol.ToolCall{
		Name:      ToolDealDetails,
		Arguments: map[string]any{"id": "d1"},
	})
	assert.Equal(t, protocol.ToolStatusError, result.Status)
	assert.Contains(t, result.Error, PermissionDealsRead)
	assert.Zero(t, g.runCalls)

	granted := testRegistry(t, Handles{Graph: g, Embed: &fakeEmbedder{}}, slugSet{PermissionDealsRead: true})
	result = granted.Execute(context.Background(), salesPrincipal(4), protocol.ToolCall{
		Name:      ToolDealDetails,
		Arguments: map[string]any{"id": "d1"},
	})
	assert.Equal(t, protocol.ToolStatusOK, result.Status)
	assert.True(t, result.Found)
}

func TestExecuteRedactsAtEgress(t *testing.T) {
	g := &fakeGraph{records: []graph.Record{{
		"id": "proj1", "name": "Boost Mobile", "budget": "$1M-$2M", "status": "delivered",
	}}}
	r := testRegistry(t, Handles{Graph: g, Embed: &fakeEmbedder{}}, allowAll{})
	call := protocol.ToolCall{Name: ToolProjectDetails, Arguments: map[string]any{"name": "Boost Mobile"}}

	low := r.Execute(context.Background(), creativePrincipal(), call)
	require.Equal(t, protocol.ToolStatusOK, low.Status)
	assert.Equal(t, rbac.Redacted, low.Data["budget"])
	assert.Equal(t, "delivered", low.Data["status"])

	high := r.Execute(context.Background(), leadershipPrincipal(), call)
	assert.Equal(t, "$1M-$2M", high.Data["budget"])
}

func TestExecuteMissIsSuccessful(t *testing.T) {
	g := &fakeGraph{}
	r := testRegistry(t, Handles{Graph: g, Embed: &fakeEmbedder{}}, allowAll{})

	result := r.Execute(context.Background(), leadershipPrincipal(), protocol.ToolCall{
		Name:      ToolPersonProfile,
		Arguments: map[string]any{"name": "Nobody Here"},
	})
	assert.Equal(t, protocol.ToolStatusOK, result.Status)
	assert.False(t, result.Found)
	assert.Empty(t, result.Error)
}

func TestExecuteFoldsFailureIntoResult(t *testing.T) {
	g := &fakeGraph{runErr: protocol.Errorf(protocol.KindConnection, "graph.run", "connection reset")}
	rec := &captureRecorder{}
	cfg := config.AgentsConfig{}
	cfg.SetDefaults()
	r := NewRegistry(cfg, allowAll{}, rec)
	require.NoError(t, r.Register(Canonical(Handles{Graph: g, Embed: &fakeEmbedder{}})...))

	result := r.Execute(context.Background(), leadershipPrincipal(), protocol.ToolCall{
		Name:      ToolPersonProfile,
		Arguments: map[string]any{"id": "p1"},
	})
	assert.Equal(t, protocol.ToolStatusError, result.Status)
	assert.Equal(t, protocol.UserMessage(g.runErr), result.Error)
	assert.NotContains(t, result.Error, "connection reset")

	require.Len(t, rec.tools, 1)
	assert.Equal(t, ToolPersonProfile, rec.tools[0])
	assert.Error(t, rec.errs[0])
}

func TestExecuteKeepsValidationDetail(t *testing.T) {
	r := testRegistry(t, Handles{Graph: &fakeGraph{}, Embed: &fakeEmbedder{}}, allowAll{})

	result := r.Execute(context.Background(), leadershipPrincipal(), protocol.ToolCall{
		Name:      ToolPersonProfile,
		Arguments: map[string]any{},
	})
	assert.Equal(t, protocol.ToolStatusError, result.Status)
	assert.Contains(t, result.Error, "either id or name is required")
}

func TestExecuteAppliesTimeout(t *testing.T) {
	cfg := config.AgentsConfig{ToolTimeout: 20 * time.Millisecond}
	cfg.SetDefaults()
	r := NewRegistry(cfg, allowAll{}, nil)
	require.NoError(t, r.Register(Tool{
		Name: "slow_probe",
		Run: func(ctx context.Context, _ rbac.Principal, _ map[string]any) (Output, error) {
			<-ctx.Done()
			return Output{}, ctx.Err()
		},
	}))

	start := time.Now()
	result := r.Execute(context.Background(), leadershipPrincipal(), protocol.ToolCall{Name: "slow_probe"})
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.Equal(t, protocol.ToolStatusError, result.Status)
	assert.Equal(t, protocol.UserMessage(context.DeadlineExceeded), result.Error)
}

func TestExecuteRecordsSuccessMetrics(t *testing.T) {
	g := &fakeGraph{records: []graph.Record{{"id": "p1", "name": "Ana Reyes"}}}
	rec := &captureRecorder{}
	cfg := config.AgentsConfig{}
	cfg.SetDefaults()
	r := NewRegistry(cfg, allowAll{}, rec)
	require.NoError(t, r.Register(Canonical(Handles{Graph: g, Embed: &fakeEmbedder{}})...))

	result := r.Execute(context.Background(), leadershipPrincipal(), protocol.ToolCall{
		Name:      ToolPersonProfile,
		Arguments: map[string]any{"id": "p1"},
	})
	require.Equal(t, protocol.ToolStatusOK, result.Status)
	require.Len(t, rec.tools, 1)
	assert.Equal(t, ToolPersonProfile, rec.tools[0])
	assert.NoError(t, rec.errs[0])
}

func TestVisibleFiltersByRoleAndPermission(t *testing.T) {
	h := Handles{Graph: &fakeGraph{}, Embed: &fakeEmbedder{}}
	r := testRegistry(t, h, slugSet{PermissionDealsRead: true})

	names := func(ts []Tool) []string {
		out := make([]string, len(ts))
		for i, tool := range ts {
			out[i] = tool.Name
		}
		return out
	}

	visible := names(r.Visible(context.Background(), creativePrincipal(), nil))
	assert.NotContains(t, visible, ToolDealDetails)
	assert.NotContains(t, visible, ToolDealSourcer)
	assert.Contains(t, visible, ToolPersonProfile)
	assert.Contains(t, visible, ToolVectorSearch)

	visible = names(r.Visible(context.Background(), salesPrincipal(3), nil))
	assert.Contains(t, visible, ToolDealDetails)
	assert.Contains(t, visible, ToolDealSourcer)

	denied := testRegistry(t, h, slugSet{})
	visible = names(denied.Visible(context.Background(), salesPrincipal(3), nil))
	assert.NotContains(t, visible, ToolDealDetails)
}

func TestVisibleHonorsAllowList(t *testing.T) {
	r := testRegistry(t, Handles{Graph: &fakeGraph{}, Embed: &fakeEmbedder{}}, allowAll{})

	visible := r.Visible(context.Background(), leadershipPrincipal(),
		[]string{ToolVectorSearch, ToolPersonProfile})
	require.Len(t, visible, 2)
	assert.Equal(t, ToolPersonProfile, visible[0].Name)
	assert.Equal(t, ToolVectorSearch, visible[1].Name)
}

func TestDefinitionsMapFields(t *testing.T) {
	r := testRegistry(t, Handles{Graph: &fakeGraph{}, Embed: &fakeEmbedder{}}, allowAll{})
	tool, ok := r.Get(ToolVectorSearch)
	require.True(t, ok)

	defs := Definitions([]Tool{tool})
	require.Len(t, defs, 1)
	assert.Equal(t, ToolVectorSearch, defs[0].Name)
	assert.Equal(t, tool.Description, defs[0].Description)
	assert.Equal(t, tool.Parameters, defs[0].Parameters)
}

func TestCanonicalToolsAreIdempotentReads(t *testing.T) {
	for _, tool := range Canonical(Handles{Graph: &fakeGraph{}, Embed: &fakeEmbedder{}}) {
		assert.True(t, tool.Idempotent, "tool %s must be an idempotent read", tool.Name)
	}
}
