package rbac

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/greenroom-ai/greenroom/pkg/config"
	"github.com/greenroom-ai/greenroom/pkg/kv"
)

// PermissionSet is the cached permission state for one user, computed by
// the relational layer and invalidated on role change events.
type PermissionSet struct {
	Slugs      []string  `json:"permission_slugs"`
	Roles      []string  `json:"roles"`
	ComputedAt time.Time `json:"computed_at"`
}

// Has reports whether the set contains the permission slug.
func (s PermissionSet) Has(slug string) bool {
	for _, have := range s.Slugs {
		if have == slug {
			return true
		}
	}
	return false
}

// PermissionSource computes a user's permission set. The production
// source lives in the relational layer outside this module.
type PermissionSource interface {
	Permissions(ctx context.Context, userID string) (PermissionSet, error)
}

// PermissionSourceFunc adapts a function to a PermissionSource.
type PermissionSourceFunc func(ctx context.Context, userID string) (PermissionSet, error)

func (f PermissionSourceFunc) Permissions(ctx context.Context, userID string) (PermissionSet, error) {
	return f(ctx, userID)
}

// Gate answers permission questions, caching computed sets in the kv
// store. On a cache miss it refreshes from the source; while the source
// is unreachable the gate fails closed.
type Gate struct {
	store      kv.Store
	source     PermissionSource
	ttl        time.Duration
	failClosed bool
}

// NewGate builds a gate over the store and source.
func NewGate(store kv.Store, source PermissionSource, cfg config.RBACConfig) *Gate {
	return &Gate{
		store:      store,
		source:     source,
		ttl:        cfg.PermissionTTL,
		failClosed: config.BoolValue(cfg.FailClosed, true),
	}
}

// Can reports whether the principal holds the permission slug. An empty
// slug requires no permission and is always allowed.
func (g *Gate) Can(ctx context.Context, p Principal, slug string) bool {
	if slug == "" {
		return true
	}
	set, err := g.permissions(ctx, p.ID)
	if err != nil {
		slog.Warn("rbac: permission refresh failed",
			"user_id", p.ID, "fail_closed", g.failClosed, "error", err)
		return !g.failClosed
	}
	return set.Has(slug)
}

// Invalidate drops the cached set for a user, forcing a refresh on the
// next check. Role change events call this.
func (g *Gate) Invalidate(ctx context.Context, userID string) error {
	return g.store.Delete(ctx, kv.PermissionsKey(userID))
}

func (g *Gate) permissions(ctx context.Context, userID string) (PermissionSet, error) {
	key := kv.PermissionsKey(userID)
	cached, err := g.store.Get(ctx, key)
	if err == nil {
		var set PermissionSet
		if err := json.Unmarshal([]byte(cached), &set); err == nil {
			return set, nil
		}
		// Unparseable cache entries are dropped and recomputed.
		_ = g.store.Delete(ctx, key)
	} else if !errors.Is(err, kv.ErrNotFound) {
		return PermissionSet{}, err
	}

	set, err := g.source.Permissions(ctx, userID)
	if err != nil {
		return PermissionSet{}, err
	}
	set.ComputedAt = time.Now().UTC()
	if encoded, err := json.Marshal(set); err == nil {
		if err := g.store.Set(ctx, key, string(encoded), g.ttl); err != nil {
			slog.Warn("rbac: permission cache write failed", "user_id", userID, "error", err)
		}
	}
	return set, nil
}
