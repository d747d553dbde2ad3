// Package checkpoint persists agent execution state step by step so an
// interrupted turn can resume from its last completed node. Checkpoints
// of a conversation form a contiguous sequence 1..N; resuming from an
// earlier step discards every later one, so the sequence is always a
// prefix of the steps that actually ran.
package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/greenroom-ai/greenroom/pkg/kv"
	"github.com/greenroom-ai/greenroom/pkg/protocol"
)

// Checkpoint is one saved execution step. State is the agent's
// serialized graph state and is opaque to this package; provider output
// produced during the step travels inside it.
type Checkpoint struct {
	ConversationID string          `json:"conversation_id"`
	Step           int             `json:"step"`
	Node           string          `json:"node"`
	State          json.RawMessage `json:"state,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
}

// Store reads and writes checkpoints in the key-value layer. A cursor
// key tracks the highest step per conversation so lookups never scan.
type Store struct {
	store kv.Store
	now   func() time.Time
}

// NewStore builds a checkpoint store over the given key-value store.
func NewStore(store kv.Store) *Store {
	return &Store{store: store, now: time.Now}
}

// Save appends a checkpoint. The step must be exactly one past the
// conversation's current highest step; anything else breaks the
// contiguity the resume path relies on and is rejected.
func (s *Store) Save(ctx context.Context, cp Checkpoint) error {
	if cp.ConversationID == "" {
		return protocol.Errorf(protocol.KindValidation, "checkpoint.save",
			"a checkpoint requires a conversation id")
	}
	if cp.Step < 1 {
		return protocol.Errorf(protocol.KindValidation, "checkpoint.save",
			"checkpoint steps start at 1, got %d", cp.Step)
	}
	latest, err := s.latestStep(ctx, cp.ConversationID)
	if err != nil {
		return err
	}
	if cp.Step != latest+1 {
		return protocol.Errorf(protocol.KindDataIntegrity, "checkpoint.save",
			"checkpoint step %d breaks the sequence, next is %d", cp.Step, latest+1)
	}
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = s.now().UTC()
	}
	payload, err := json.Marshal(cp)
	if err != nil {
		return protocol.E(protocol.KindInternal, "checkpoint.save", err)
	}
	if err := s.store.Set(ctx, kv.CheckpointKey(cp.ConversationID, cp.Step), string(payload), 0); err != nil {
		return err
	}
	return s.store.Set(ctx, kv.CheckpointLatestKey(cp.ConversationID), strconv.Itoa(cp.Step), 0)
}

// Latest returns the conversation's highest checkpoint, or
// kv.ErrNotFound when none has been saved.
func (s *Store) Latest(ctx context.Context, conversationID string) (*Checkpoint, error) {
	latest, err := s.latestStep(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if latest == 0 {
		return nil, kv.ErrNotFound
	}
	return s.load(ctx, conversationID, latest)
}

// Resume returns the checkpoint at step and discards every checkpoint
// after it. The next Save must use step+1.
func (s *Store) Resume(ctx context.Context, conversationID string, step int) (*Checkpoint, error) {
	if step < 1 {
		return nil, protocol.Errorf(protocol.KindValidation, "checkpoint.resume",
			"checkpoint steps start at 1, got %d", step)
	}
	cp, err := s.load(ctx, conversationID, step)
	if err != nil {
		return nil, err
	}
	latest, err := s.latestStep(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if latest > step {
		stale := make([]string, 0, latest-step)
		for i := step + 1; i <= latest; i++ {
			stale = append(stale, kv.CheckpointKey(conversationID, i))
		}
		if err := s.store.Delete(ctx, stale...); err != nil {
			return nil, err
		}
	}
	if err := s.store.Set(ctx, kv.CheckpointLatestKey(conversationID), strconv.Itoa(step), 0); err != nil {
		return nil, err
	}
	return cp, nil
}

// Purge removes every checkpoint of the conversation, cursor included.
func (s *Store) Purge(ctx context.Context, conversationID string) error {
	keys, err := s.store.Keys(ctx, kv.CheckpointPattern(conversationID))
	if err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	return s.store.Delete(ctx, keys...)
}

func (s *Store) load(ctx context.Context, conversationID string, step int) (*Checkpoint, error) {
	raw, err := s.store.Get(ctx, kv.CheckpointKey(conversationID, step))
	if err != nil {
		return nil, err
	}
	var cp Checkpoint
	if err := json.Unmarshal([]byte(raw), &cp); err != nil {
		return nil, protocol.E(protocol.KindDataIntegrity, "checkpoint.load", err)
	}
	return &cp, nil
}

func (s *Store) latestStep(ctx context.Context, conversationID string) (int, error) {
	raw, err := s.store.Get(ctx, kv.CheckpointLatestKey(conversationID))
	if errors.Is(err, kv.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, protocol.Errorf(protocol.KindDataIntegrity, "checkpoint.load",
			"corrupt checkpoint cursor for %s: %v", conversationID, err)
	}
	return n, nil
}
