package kv

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Lock is a best-effort named lock held in the store. It guards
// coarse-grained background work such as per-user memory consolidation,
// where the cost of a rare double run is low. It is not a fencing lock.
type Lock struct {
	store Store
	key   string
	token string
}

// AcquireLock attempts to take the named lock for ttl. It returns
// (nil, false, nil) when another holder owns the lock.
func AcquireLock(ctx context.Context, store Store, key string, ttl time.Duration) (*Lock, bool, error) {
	token := uuid.NewString()
	ok, err := store.SetNX(ctx, key, token, ttl)
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}
	return &Lock{store: store, key: key, token: token}, true, nil
}

// Release frees the lock if this holder still owns it. A lock that
// expired and was re-acquired by someone else is left alone.
func (l *Lock) Release(ctx context.Context) error {
	current, err := l.store.Get(ctx, l.key)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		return err
	}
	if current != l.token {
		return nil
	}
	return l.store.Delete(ctx, l.key)
}
