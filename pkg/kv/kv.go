// Package kv provides the short-TTL key-value layer used for sessions,
// permission sets, conversation context, checkpoints, the background task
// queue, and performance counters. The production implementation is
// redis; an in-memory implementation backs development and tests.
package kv

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a key or hash field does not exist.
var ErrNotFound = errors.New("kv: key not found")

// Member is one scored entry of a sorted set.
type Member struct {
	Score float64
	Value string
}

// Store is the cache surface the rest of the system depends on.
// Operations are atomic per key; callers must not rely on multi-key
// transactions.
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	Delete(ctx context.Context, keys ...string) error

	HSet(ctx context.Context, key, field, value string) error
	HGet(ctx context.Context, key, field string) (string, error)
	HGetAll(ctx context.Context, key string) (map[string]string, error)

	LPush(ctx context.Context, key string, values ...string) error
	LTrim(ctx context.Context, key string, start, stop int64) error
	LRange(ctx context.Context, key string, start, stop int64) ([]string, error)

	ZAdd(ctx context.Context, key string, members ...Member) error
	ZPopMin(ctx context.Context, key string, count int64) ([]Member, error)
	ZCard(ctx context.Context, key string) (int64, error)

	// Keys scans by pattern. Administrative paths only; hot paths must
	// not scan.
	Keys(ctx context.Context, pattern string) ([]string, error)

	Expire(ctx context.Context, key string, ttl time.Duration) error
	Ping(ctx context.Context) error
	Close() error
}

// PushCapped prepends value to a list and trims it to the newest max
// entries, the layout used by the performance lists.
func PushCapped(ctx context.Context, s Store, key, value string, max int64) error {
	if err := s.LPush(ctx, key, value); err != nil {
		return err
	}
	return s.LTrim(ctx, key, 0, max-1)
}
