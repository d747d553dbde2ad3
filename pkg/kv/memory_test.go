package kv

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStoreGetSet(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	_, err := s.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.Set(ctx, "k", "v", 0))
	got, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "v", got)

	require.NoError(t, s.Delete(ctx, "k"))
	_, err = s.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStoreTTL(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	now := time.Now()
	s.SetClock(func() time.Time { return now })

	require.NoError(t, s.Set(ctx, "k", "v", time.Minute))
	_, err := s.Get(ctx, "k")
	require.NoError(t, err)

	now = now.Add(2 * time.Minute)
	_, err = s.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStoreSetNX(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	ok, err := s.SetNX(ctx, "k", "first", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.SetNX(ctx, "k", "second", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	got, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "first", got)
}

func TestMemoryStoreHash(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	require.NoError(t, s.HSet(ctx, "h", "f1", "v1"))
	require.NoError(t, s.HSet(ctx, "h", "f2", "v2"))

	v, err := s.HGet(ctx, "h", "f1")
	require.NoError(t, err)
	assert.Equal(t, "v1", v)

	_, err = s.HGet(ctx, "h", "nope")
	assert.ErrorIs(t, err, ErrNotFound)

	all, err := s.HGetAll(ctx, "h")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"f1": "v1", "f2": "v2"}, all)
}

func TestMemoryStoreListOrderAndTrim(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	require.NoError(t, s.LPush(ctx, "l", "a"))
	require.NoError(t, s.LPush(ctx, "l", "b"))
	require.NoError(t, s.LPush(ctx, "l", "c"))

	vals, err := s.LRange(ctx, "l", 0, -1)
	require.NoError(t, err)
	assert.Equal(t, []string{"c", "b", "a"}, vals)

	require.NoError(t, s.LTrim(ctx, "l", 0, 1))
	vals, err = s.LRange(ctx, "l", 0, -1)
	require.NoError(t, err)
	assert.Equal(t, []string{"c", "b"}, vals)
}

func TestPushCapped(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	for i := 0; i < 5; i++ {
		require.NoError(t, PushCapped(ctx, s, "m", "entry", 3))
	}
	vals, err := s.LRange(ctx, "m", 0, -1)
	require.NoError(t, err)
	assert.Len(t, vals, 3)
}

func TestMemoryStoreZSetOrdering(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	require.NoError(t, s.ZAdd(ctx, "z",
		Member{Score: 2, Value: "two"},
		Member{Score: 1, Value: "one-b"},
		Member{Score: 1, Value: "one-a"},
		Member{Score: 3, Value: "three"},
	))

	n, err := s.ZCard(ctx, "z")
	require.NoError(t, err)
	assert.Equal(t, int64(4), n)

	// Lowest score first; equal scores break lexicographically.
	popped, err := s.ZPopMin(ctx, "z", 3)
	require.NoError(t, err)
	require.Len(t, popped, 3)
	assert.Equal(t, "one-a", popped[0].Value)
	assert.Equal(t, "one-b", popped[1].Value)
	assert.Equal(t, "two", popped[2].Value)

	popped, err = s.ZPopMin(ctx, "z", 10)
	require.NoError(t, err)
	require.Len(t, popped, 1)
	assert.Equal(t, "three", popped[0].Value)

	popped, err = s.ZPopMin(ctx, "z", 1)
	require.NoError(t, err)
	assert.Empty(t, popped)
}

func TestMemoryStoreZAddReplacesScore(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	require.NoError(t, s.ZAdd(ctx, "z", Member{Score: 5, Value: "task"}))
	require.NoError(t, s.ZAdd(ctx, "z", Member{Score: 1, Value: "task"}))

	n, err := s.ZCard(ctx, "z")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	popped, err := s.ZPopMin(ctx, "z", 1)
	require.NoError(t, err)
	require.Len(t, popped, 1)
	assert.Equal(t, float64(1), popped[0].Score)
}

func TestMemoryStoreKeys(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	require.NoError(t, s.Set(ctx, "checkpoint:t1:0", "a", 0))
	require.NoError(t, s.Set(ctx, "checkpoint:t1:1", "b", 0))
	require.NoError(t, s.Set(ctx, "checkpoint:t2:0", "c", 0))
	require.NoError(t, s.Set(ctx, "session:x", "d", 0))

	keys, err := s.Keys(ctx, "checkpoint:t1:*")
	require.NoError(t, err)
	assert.Equal(t, []string{"checkpoint:t1:0", "checkpoint:t1:1"}, keys)
}

func TestMemoryStoreExpireCommand(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	now := time.Now()
	s.SetClock(func() time.Time { return now })

	require.NoError(t, s.Set(ctx, "k", "v", 0))
	require.NoError(t, s.Expire(ctx, "k", time.Second))

	now = now.Add(2 * time.Second)
	_, err := s.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrNotFound)
}
