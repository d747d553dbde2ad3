package kv

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/greenroom-ai/greenroom/pkg/config"
	"github.com/greenroom-ai/greenroom/pkg/protocol"
)

// Redis implements Store over a redis client. Every operation runs under
// the configured per-op timeout.
type Redis struct {
	client    *redis.Client
	opTimeout time.Duration
}

// NewRedis connects to redis using the cache configuration.
func NewRedis(cfg config.CacheConfig) (*Redis, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return &Redis{
		client:    redis.NewClient(opts),
		opTimeout: cfg.OpTimeout,
	}, nil
}

func (r *Redis) opCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, r.opTimeout)
}

// mapErr converts driver errors into the shared taxonomy. A missing key
// is ErrNotFound, not an error kind.
func mapErr(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, redis.Nil):
		return ErrNotFound
	case errors.Is(err, context.DeadlineExceeded):
		return protocol.E(protocol.KindTimeout, op, err)
	case errors.Is(err, context.Canceled):
		return protocol.E(protocol.KindCancelled, op, err)
	default:
		return protocol.E(protocol.KindConnection, op, err)
	}
}

func (r *Redis) Get(ctx context.Context, key string) (string, error) {
	ctx, cancel := r.opCtx(ctx)
	defer cancel()
	val, err := r.client.Get(ctx, key).Result()
	return val, mapErr("kv.get", err)
}

func (r *Redis) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	ctx, cancel := r.opCtx(ctx)
	defer cancel()
	return mapErr("kv.set", r.client.Set(ctx, key, value, ttl).Err())
}

func (r *Redis) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	ctx, cancel := r.opCtx(ctx)
	defer cancel()
	ok, err := r.client.SetNX(ctx, key, value, ttl).Result()
	return ok, mapErr("kv.setnx", err)
}

func (r *Redis) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	ctx, cancel := r.opCtx(ctx)
	defer cancel()
	return mapErr("kv.delete", r.client.Del(ctx, keys...).Err())
}

func (r *Redis) HSet(ctx context.Context, key, field, value string) error {
	ctx, cancel := r.opCtx(ctx)
	defer cancel()
	return mapErr("kv.hset", r.client.HSet(ctx, key, field, value).Err())
}

func (r *Redis) HGet(ctx context.Context, key, field string) (string, error) {
	ctx, cancel := r.opCtx(ctx)
	defer cancel()
	val, err := r.client.HGet(ctx, key, field).Result()
	return val, mapErr("kv.hget", err)
}

func (r *Redis) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	ctx, cancel := r.opCtx(ctx)
	defer cancel()
	val, err := r.client.HGetAll(ctx, key).Result()
	return val, mapErr("kv.hgetall", err)
}

func (r *Redis) LPush(ctx context.Context, key string, values ...string) error {
	args := make([]any, len(values))
	for i, v := range values {
		args[i] = v
	}
	ctx, cancel := r.opCtx(ctx)
	defer cancel()
	return mapErr("kv.lpush", r.client.LPush(ctx, key, args...).Err())
}

func (r *Redis) LTrim(ctx context.Context, key string, start, stop int64) error {
	ctx, cancel := r.opCtx(ctx)
	defer cancel()
	return mapErr("kv.ltrim", r.client.LTrim(ctx, key, start, stop).Err())
}

func (r *Redis) LRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	ctx, cancel := r.opCtx(ctx)
	defer cancel()
	vals, err := r.client.LRange(ctx, key, start, stop).Result()
	return vals, mapErr("kv.lrange", err)
}

func (r *Redis) ZAdd(ctx context.Context, key string, members ...Member) error {
	zs := make([]redis.Z, len(members))
	for i, m := range members {
		zs[i] = redis.Z{Score: m.Score, Member: m.Value}
	}
	ctx, cancel := r.opCtx(ctx)
	defer cancel()
	return mapErr("kv.zadd", r.client.ZAdd(ctx, key, zs...).Err())
}

func (r *Redis) ZPopMin(ctx context.Context, key string, count int64) ([]Member, error) {
	ctx, cancel := r.opCtx(ctx)
	defer cancel()
	zs, err := r.client.ZPopMin(ctx, key, count).Result()
	if err != nil {
		return nil, mapErr("kv.zpopmin", err)
	}
	members := make([]Member, len(zs))
	for i, z := range zs {
		val, _ := z.Member.(string)
		members[i] = Member{Score: z.Score, Value: val}
	}
	return members, nil
}

func (r *Redis) ZCard(ctx context.Context, key string) (int64, error) {
	ctx, cancel := r.opCtx(ctx)
	defer cancel()
	n, err := r.client.ZCard(ctx, key).Result()
	return n, mapErr("kv.zcard", err)
}

func (r *Redis) Keys(ctx context.Context, pattern string) ([]string, error) {
	ctx, cancel := r.opCtx(ctx)
	defer cancel()
	keys, err := r.client.Keys(ctx, pattern).Result()
	return keys, mapErr("kv.keys", err)
}

func (r *Redis) Expire(ctx context.Context, key string, ttl time.Duration) error {
	ctx, cancel := r.opCtx(ctx)
	defer cancel()
	return mapErr("kv.expire", r.client.Expire(ctx, key, ttl).Err())
}

func (r *Redis) Ping(ctx context.Context) error {
	ctx, cancel := r.opCtx(ctx)
	defer cancel()
	return mapErr("kv.ping", r.client.Ping(ctx).Err())
}

func (r *Redis) Close() error {
	return r.client.Close()
}
