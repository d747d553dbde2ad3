package conversation

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/greenroom-ai/greenroom/pkg/kv"
	"github.com/greenroom-ai/greenroom/pkg/protocol"
)

func testStore() *Store {
	s := NewStore(kv.NewMemoryStore())
	base := time.Date(2026, 2, 10, 9, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return base }
	seq := 0
	s.newID = func() string {
		seq++
		return fmt.Sprintf("id-%d", seq)
	}
	return s
}

func TestGetOrCreateMintsConversation(t *testing.T) {
	s := testStore()
	ctx := context.Background()

	conv, created, err := s.GetOrCreate(ctx, "", "u1", protocol.AgentSales)
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEmpty(t, conv.ID)
	assert.Equal(t, "u1", conv.UserID)
	assert.Equal(t, protocol.AgentSales, conv.Affinity)
	assert.Zero(t, conv.TurnCount)

	again, created, err := s.GetOrCreate(ctx, conv.ID, "u1", "")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, conv.ID, again.ID)
	assert.Equal(t, protocol.AgentSales, again.Affinity)
}

func TestGetOrCreateRejectsForeignUser(t *testing.T) {
	s := testStore()
	ctx := context.Background()

	conv, _, err := s.GetOrCreate(ctx, "c1", "u1", "")
	require.NoError(t, err)

	_, _, err = s.GetOrCreate(ctx, conv.ID, "u2", "")
	require.Error(t, err)
	assert.True(t, protocol.IsKind(err, protocol.KindForbidden))
}

func TestGetMissingConversation(t *testing.T) {
	s := testStore()
	_, err := s.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, kv.ErrNotFound)
}

func TestAppendStampsStrictlyMonotonicTimestamps(t *testing.T) {
	s := testStore()
	ctx := context.Background()
	_, _, err := s.GetOrCreate(ctx, "c1", "u1", "")
	require.NoError(t, err)

	// The clock is frozen, so ordering must come from the stamping.
	_, err = s.Append(ctx, "c1", "u1",
		protocol.Turn{Role: protocol.RoleUser, Content: "hello"},
		protocol.Turn{Role: protocol.RoleAssistant, Content: "hi"},
	)
	require.NoError(t, err)
	_, err = s.Append(ctx, "c1", "u1",
		protocol.Turn{Role: protocol.RoleUser, Content: "again"},
	)
	require.NoError(t, err)

	turns, err := s.Turns(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, turns, 3)
	for i := 1; i < len(turns); i++ {
		assert.True(t, turns[i].Timestamp.After(turns[i-1].Timestamp),
			"turn %d timestamp %v not after %v", i, turns[i].Timestamp, turns[i-1].Timestamp)
	}
}

func TestAppendAssignsTurnIDs(t *testing.T) {
	s := testStore()
	ctx := context.Background()
	_, _, err := s.GetOrCreate(ctx, "c1", "u1", "")
	require.NoError(t, err)

	_, err = s.Append(ctx, "c1", "u1",
		protocol.Turn{Role: protocol.RoleUser, Content: "hello"},
		protocol.Turn{ID: "keep-me", Role: protocol.RoleAssistant, Content: "hi"},
	)
	require.NoError(t, err)

	turns, err := s.Turns(ctx, "c1")
	require.NoError(t, err)
	assert.NotEmpty(t, turns[0].ID)
	assert.Equal(t, "keep-me", turns[1].ID)
}

func TestAppendToolTurnNeedsAssistantAnchor(t *testing.T) {
	s := testStore()
	ctx := context.Background()
	_, _, err := s.GetOrCreate(ctx, "c1", "u1", "")
	require.NoError(t, err)

	_, err = s.Append(ctx, "c1", "u1", protocol.Turn{Role: protocol.RoleTool, Content: "{}"})
	require.Error(t, err)
	assert.True(t, protocol.IsKind(err, protocol.KindDataIntegrity))

	_, err = s.Append(ctx, "c1", "u1", protocol.Turn{Role: protocol.RoleAssistant, Content: "no tools"})
	require.NoError(t, err)
	_, err = s.Append(ctx, "c1", "u1", protocol.Turn{Role: protocol.RoleTool, Content: "{}"})
	require.Error(t, err)
	assert.True(t, protocol.IsKind(err, protocol.KindDataIntegrity))

	_, err = s.Append(ctx, "c1", "u1",
		protocol.Turn{
			Role:      protocol.RoleAssistant,
			ToolCalls: []protocol.ToolCall{{ID: "t1", Name: "get_person_profile"}},
		},
		protocol.Turn{Role: protocol.RoleTool, Content: `{"found":true}`},
		protocol.Turn{Role: protocol.RoleTool, Content: `{"found":false}`},
	)
	require.NoError(t, err)
}

func TestAppendRejectsUnknownRole(t *testing.T) {
	s := testStore()
	ctx := context.Background()
	_, _, err := s.GetOrCreate(ctx, "c1", "u1", "")
	require.NoError(t, err)

	_, err = s.Append(ctx, "c1", "u1", protocol.Turn{Role: "narrator", Content: "..."})
	require.Error(t, err)
	assert.True(t, protocol.IsKind(err, protocol.KindValidation))
}

func TestAppendUpdatesEnvelope(t *testing.T) {
	s := testStore()
	ctx := context.Background()
	_, _, err := s.GetOrCreate(ctx, "c1", "u1", "")
	require.NoError(t, err)
	require.NoError(t, s.Archive(ctx, "c1"))

	conv, err := s.Append(ctx, "c1", "u1",
		protocol.Turn{Role: protocol.RoleUser, Content: "wake up"},
		protocol.Turn{Role: protocol.RoleAssistant, Content: "awake"},
	)
	require.NoError(t, err)
	assert.Equal(t, 2, conv.TurnCount)
	assert.False(t, conv.Archived, "activity reactivates an archived conversation")

	turns, err := s.Turns(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, turns[1].Timestamp, conv.UpdatedAt)
}

func TestAppendRejectsForeignUser(t *testing.T) {
	s := testStore()
	ctx := context.Background()
	_, _, err := s.GetOrCreate(ctx, "c1", "u1", "")
	require.NoError(t, err)

	_, err = s.Append(ctx, "c1", "u2", protocol.Turn{Role: protocol.RoleUser, Content: "mine now"})
	require.Error(t, err)
	assert.True(t, protocol.IsKind(err, protocol.KindForbidden))
}

func TestRecentReturnsNewestWindowInOrder(t *testing.T) {
	s := testStore()
	ctx := context.Background()
	_, _, err := s.GetOrCreate(ctx, "c1", "u1", "")
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		_, err = s.Append(ctx, "c1", "u1",
			protocol.Turn{Role: protocol.RoleUser, Content: fmt.Sprintf("message %d", i)})
		require.NoError(t, err)
	}

	recent, err := s.Recent(ctx, "c1", 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "message 3", recent[0].Content)
	assert.Equal(t, "message 4", recent[1].Content)

	none, err := s.Recent(ctx, "c1", 0)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestSetSummary(t *testing.T) {
	s := testStore()
	ctx := context.Background()
	_, _, err := s.GetOrCreate(ctx, "c1", "u1", "")
	require.NoError(t, err)

	require.NoError(t, s.SetSummary(ctx, "c1", "u1", "budget talk for Boost Mobile"))
	conv, err := s.Get(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, "budget talk for Boost Mobile", conv.Summary)

	err = s.SetSummary(ctx, "c1", "u2", "not yours")
	require.Error(t, err)
	assert.True(t, protocol.IsKind(err, protocol.KindForbidden))
}

func TestArchiveIdleSweep(t *testing.T) {
	s := testStore()
	ctx := context.Background()
	base := time.Date(2026, 2, 10, 9, 0, 0, 0, time.UTC)
	current := base
	s.now = func() time.Time { return current }

	_, _, err := s.GetOrCreate(ctx, "idle", "u1", "")
	require.NoError(t, err)
	_, _, err = s.GetOrCreate(ctx, "active", "u1", "")
	require.NoError(t, err)

	current = base.Add(48 * time.Hour)
	_, err = s.Append(ctx, "active", "u1", protocol.Turn{Role: protocol.RoleUser, Content: "still here"})
	require.NoError(t, err)

	archived, err := s.ArchiveIdle(ctx, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, archived)

	idle, err := s.Get(ctx, "idle")
	require.NoError(t, err)
	assert.True(t, idle.Archived)
	active, err := s.Get(ctx, "active")
	require.NoError(t, err)
	assert.False(t, active.Archived)

	archived, err = s.ArchiveIdle(ctx, 24*time.Hour)
	require.NoError(t, err)
	assert.Zero(t, archived)
}
