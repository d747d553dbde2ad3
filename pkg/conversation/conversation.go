// Package conversation persists transcripts in the kv layer as a small
// envelope per conversation plus an ordered turn list. The store owns
// the transcript invariants: timestamps are strictly monotonic per
// conversation, tool turns always follow the assistant turn that
// requested them, and only the owning user's session may mutate a
// conversation. Conversations are never destroyed; inactivity archives
// them logically and new activity reactivates them.
package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/greenroom-ai/greenroom/pkg/kv"
	"github.com/greenroom-ai/greenroom/pkg/protocol"
)

// Store reads and appends conversations.
type Store struct {
	store kv.Store
	now   func() time.Time
	newID func() string
}

// NewStore builds a conversation store over the kv layer.
func NewStore(store kv.Store) *Store {
	return &Store{store: store, now: time.Now, newID: uuid.NewString}
}

// Get loads a conversation envelope. A missing conversation surfaces
// kv.ErrNotFound.
func (s *Store) Get(ctx context.Context, conversationID string) (*protocol.Conversation, error) {
	raw, err := s.store.Get(ctx, kv.ConversationKey(conversationID))
	if err != nil {
		return nil, err
	}
	var conv protocol.Conversation
	if err := json.Unmarshal([]byte(raw), &conv); err != nil {
		return nil, protocol.E(protocol.KindDataIntegrity, "conversation.get", err)
	}
	return &conv, nil
}

// GetOrCreate loads the conversation or creates it for the user on the
// first turn. An empty id mints a new conversation. Loading another
// user's conversation is forbidden.
func (s *Store) GetOrCreate(ctx context.Context, conversationID, userID string, affinity protocol.AgentType) (*protocol.Conversation, bool, error) {
	if conversationID != "" {
		conv, err := s.Get(ctx, conversationID)
		switch {
		case err == nil:
			if err := s.authorize(conv, userID, "conversation.get_or_create"); err != nil {
				return nil, false, err
			}
			return conv, false, nil
		case !errors.Is(err, kv.ErrNotFound):
			return nil, false, err
		}
	} else {
		conversationID = s.newID()
	}

	now := s.now().UTC()
	conv := &protocol.Conversation{
		ID:        conversationID,
		UserID:    userID,
		Affinity:  affinity,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.save(ctx, conv); err != nil {
		return nil, false, err
	}
	return conv, true, nil
}

// Turns returns the full transcript in chronological order.
func (s *Store) Turns(ctx context.Context, conversationID string) ([]protocol.Turn, error) {
	return s.window(ctx, conversationID, -1)
}

// Recent returns the newest n turns in chronological order.
func (s *Store) Recent(ctx context.Context, conversationID string, n int) ([]protocol.Turn, error) {
	if n <= 0 {
		return nil, nil
	}
	return s.window(ctx, conversationID, int64(n)-1)
}

func (s *Store) window(ctx context.Context, conversationID string, stop int64) ([]protocol.Turn, error) {
	entries, err := s.store.LRange(ctx, kv.ConversationTurnsKey(conversationID), 0, stop)
	if err != nil {
		return nil, err
	}
	// The list stores newest first; reverse into transcript order.
	turns := make([]protocol.Turn, len(entries))
	for i, entry := range entries {
		var turn protocol.Turn
		if err := json.Unmarshal([]byte(entry), &turn); err != nil {
			return nil, protocol.E(protocol.KindDataIntegrity, "conversation.turns", err)
		}
		turns[len(entries)-1-i] = turn
	}
	return turns, nil
}

// Append stamps and persists turns in order for the owning user,
// returning the updated envelope. Missing turn ids are minted,
// timestamps are forced strictly past the previous turn, and a tool
// turn is rejected unless it continues an assistant turn that requested
// tool calls. Appending reactivates an archived conversation.
func (s *Store) Append(ctx context.Context, conversationID, userID string, turns ...protocol.Turn) (*protocol.Conversation, error) {
	if len(turns) == 0 {
		return s.Get(ctx, conversationID)
	}
	conv, err := s.Get(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if err := s.authorize(conv, userID, "conversation.append"); err != nil {
		return nil, err
	}

	anchor, err := s.newest(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	entries := make([]string, 0, len(turns))
	for i := range turns {
		turn := &turns[i]
		if !validRole(turn.Role) {
			return nil, protocol.Errorf(protocol.KindValidation, "conversation.append",
				"unknown turn role %q", turn.Role)
		}
		if turn.Role == protocol.RoleTool && !toolAnchored(anchor) {
			return nil, protocol.Errorf(protocol.KindDataIntegrity, "conversation.append",
				"tool turn must follow an assistant turn that requested tool calls")
		}
		if turn.ID == "" {
			turn.ID = s.newID()
		}
		turn.Timestamp = s.stamp(turn.Timestamp, anchor)
		payload, err := json.Marshal(turn)
		if err != nil {
			return nil, protocol.E(protocol.KindInternal, "conversation.append", err)
		}
		entries = append(entries, string(payload))
		anchor = turn
	}
	if err := s.store.LPush(ctx, kv.ConversationTurnsKey(conversationID), entries...); err != nil {
		return nil, err
	}

	conv.TurnCount += len(turns)
	conv.UpdatedAt = turns[len(turns)-1].Timestamp
	conv.Archived = false
	if err := s.save(ctx, conv); err != nil {
		return nil, err
	}
	return conv, nil
}

// SetSummary replaces the rolling summary for the owning user.
func (s *Store) SetSummary(ctx context.Context, conversationID, userID, summary string) error {
	conv, err := s.Get(ctx, conversationID)
	if err != nil {
		return err
	}
	if err := s.authorize(conv, userID, "conversation.set_summary"); err != nil {
		return err
	}
	conv.Summary = summary
	conv.UpdatedAt = s.now().UTC()
	return s.save(ctx, conv)
}

// Archive marks one conversation archived.
func (s *Store) Archive(ctx context.Context, conversationID string) error {
	conv, err := s.Get(ctx, conversationID)
	if err != nil {
		return err
	}
	conv.Archived = true
	return s.save(ctx, conv)
}

// ArchiveIdle archives every conversation idle for at least the given
// duration and reports how many changed. It scans the keyspace and is
// meant for the administrative sweep only.
func (s *Store) ArchiveIdle(ctx context.Context, idle time.Duration) (int, error) {
	keys, err := s.store.Keys(ctx, kv.ConversationPattern())
	if err != nil {
		return 0, err
	}
	cutoff := s.now().UTC().Add(-idle)
	archived := 0
	for _, key := range keys {
		if strings.HasSuffix(key, ":turns") {
			continue
		}
		conv, err := s.Get(ctx, strings.TrimPrefix(key, "conversation:"))
		if err != nil {
			continue
		}
		if conv.Archived || conv.UpdatedAt.After(cutoff) {
			continue
		}
		conv.Archived = true
		if err := s.save(ctx, conv); err != nil {
			return archived, err
		}
		archived++
	}
	return archived, nil
}

func (s *Store) save(ctx context.Context, conv *protocol.Conversation) error {
	payload, err := json.Marshal(conv)
	if err != nil {
		return protocol.E(protocol.KindInternal, "conversation.save", err)
	}
	return s.store.Set(ctx, kv.ConversationKey(conv.ID), string(payload), 0)
}

func (s *Store) authorize(conv *protocol.Conversation, userID, op string) error {
	if conv.UserID != userID {
		return protocol.Errorf(protocol.KindForbidden, op,
			"conversation %s belongs to another user", conv.ID)
	}
	return nil
}

// newest returns the most recent stored turn, or nil for an empty
// transcript.
func (s *Store) newest(ctx context.Context, conversationID string) (*protocol.Turn, error) {
	entries, err := s.store.LRange(ctx, kv.ConversationTurnsKey(conversationID), 0, 0)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, nil
	}
	var turn protocol.Turn
	if err := json.Unmarshal([]byte(entries[0]), &turn); err != nil {
		return nil, protocol.E(protocol.KindDataIntegrity, "conversation.append", err)
	}
	return &turn, nil
}

// stamp returns a timestamp strictly after the previous turn. A zero
// supplied timestamp takes the current time first.
func (s *Store) stamp(supplied time.Time, prev *protocol.Turn) time.Time {
	ts := supplied
	if ts.IsZero() {
		ts = s.now()
	}
	ts = ts.UTC()
	if prev != nil && !ts.After(prev.Timestamp) {
		ts = prev.Timestamp.Add(time.Millisecond)
	}
	return ts
}

// toolAnchored reports whether a tool turn may follow prev: either the
// assistant turn that requested tool calls, or another tool turn of the
// same fan-out run.
func toolAnchored(prev *protocol.Turn) bool {
	if prev == nil {
		return false
	}
	switch prev.Role {
	case protocol.RoleAssistant:
		return len(prev.ToolCalls) > 0
	case protocol.RoleTool:
		return true
	default:
		return false
	}
}

func validRole(r protocol.Role) bool {
	switch r {
	case protocol.RoleUser, protocol.RoleAssistant, protocol.RoleSystem, protocol.RoleTool:
		return true
	}
	return false
}
