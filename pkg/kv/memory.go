package kv

import (
	"context"
	"path"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store for development and tests. It honors
// TTLs and mirrors redis semantics closely enough for the callers in this
// module: ZPopMin pops by score then lexicographic member, LPush
// prepends, Keys supports glob patterns.
type MemoryStore struct {
	mu      sync.Mutex
	values  map[string]memoryValue
	hashes  map[string]map[string]string
	lists   map[string][]string
	zsets   map[string][]Member
	expires map[string]time.Time
	now     func() time.Time
}

type memoryValue struct {
	data string
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		values:  make(map[string]memoryValue),
		hashes:  make(map[string]map[string]string),
		lists:   make(map[string][]string),
		zsets:   make(map[string][]Member),
		expires: make(map[string]time.Time),
		now:     time.Now,
	}
}

// SetClock overrides the time source, for TTL tests.
func (m *MemoryStore) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

func (m *MemoryStore) exists(key string) bool {
	if _, ok := m.values[key]; ok {
		return true
	}
	if _, ok := m.hashes[key]; ok {
		return true
	}
	if _, ok := m.lists[key]; ok {
		return true
	}
	_, ok := m.zsets[key]
	return ok
}

// expire drops the key everywhere if its TTL has passed. Caller holds mu.
func (m *MemoryStore) expire(key string) {
	deadline, ok := m.expires[key]
	if !ok || m.now().Before(deadline) {
		return
	}
	delete(m.values, key)
	delete(m.hashes, key)
	delete(m.lists, key)
	delete(m.zsets, key)
	delete(m.expires, key)
}

func (m *MemoryStore) setTTL(key string, ttl time.Duration) {
	if ttl > 0 {
		m.expires[key] = m.now().Add(ttl)
	} else {
		delete(m.expires, key)
	}
}

func (m *MemoryStore) Get(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.expire(key)
	v, ok := m.values[key]
	if !ok {
		return "", ErrNotFound
	}
	return v.data, nil
}

func (m *MemoryStore) Set(_ context.Context, key, value string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = memoryValue{data: value}
	m.setTTL(key, ttl)
	return nil
}

func (m *MemoryStore) SetNX(_ context.Context, key, value string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.expire(key)
	if _, ok := m.values[key]; ok {
		return false, nil
	}
	m.values[key] = memoryValue{data: value}
	m.setTTL(key, ttl)
	return true, nil
}

func (m *MemoryStore) Delete(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, key := range keys {
		delete(m.values, key)
		delete(m.hashes, key)
		delete(m.lists, key)
		delete(m.zsets, key)
		delete(m.expires, key)
	}
	return nil
}

func (m *MemoryStore) HSet(_ context.Context, key, field, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.expire(key)
	h, ok := m.hashes[key]
	if !ok {
		h = make(map[string]string)
		m.hashes[key] = h
	}
	h[field] = value
	return nil
}

func (m *MemoryStore) HGet(_ context.Context, key, field string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.expire(key)
	h, ok := m.hashes[key]
	if !ok {
		return "", ErrNotFound
	}
	v, ok := h[field]
	if !ok {
		return "", ErrNotFound
	}
	return v, nil
}

func (m *MemoryStore) HGetAll(_ context.Context, key string) (map[string]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.expire(key)
	out := make(map[string]string, len(m.hashes[key]))
	for k, v := range m.hashes[key] {
		out[k] = v
	}
	return out, nil
}

func (m *MemoryStore) LPush(_ context.Context, key string, values ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.expire(key)
	// LPush prepends values one at a time, so the last argument ends up
	// at the head, matching redis.
	list := m.lists[key]
	for _, v := range values {
		list = append([]string{v}, list...)
	}
	m.lists[key] = list
	return nil
}

func (m *MemoryStore) LTrim(_ context.Context, key string, start, stop int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.expire(key)
	list := m.lists[key]
	n := int64(len(list))
	if start < 0 {
		start += n
	}
	if stop < 0 {
		stop += n
	}
	if start < 0 {
		start = 0
	}
	if stop >= n {
		stop = n - 1
	}
	if start > stop || start >= n {
		delete(m.lists, key)
		return nil
	}
	m.lists[key] = append([]string{}, list[start:stop+1]...)
	return nil
}

func (m *MemoryStore) LRange(_ context.Context, key string, start, stop int64) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.expire(key)
	list := m.lists[key]
	n := int64(len(list))
	if start < 0 {
		start += n
	}
	if stop < 0 {
		stop += n
	}
	if start < 0 {
		start = 0
	}
	if stop >= n {
		stop = n - 1
	}
	if start > stop || start >= n {
		return nil, nil
	}
	return append([]string{}, list[start:stop+1]...), nil
}

func (m *MemoryStore) ZAdd(_ context.Context, key string, members ...Member) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.expire(key)
	set := m.zsets[key]
	for _, mem := range members {
		replaced := false
		for i := range set {
			if set[i].Value == mem.Value {
				set[i].Score = mem.Score
				replaced = true
				break
			}
		}
		if !replaced {
			set = append(set, mem)
		}
	}
	m.zsets[key] = set
	return nil
}

func (m *MemoryStore) ZPopMin(_ context.Context, key string, count int64) ([]Member, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.expire(key)
	set := m.zsets[key]
	if len(set) == 0 || count <= 0 {
		return nil, nil
	}
	sort.SliceStable(set, func(i, j int) bool {
		if set[i].Score != set[j].Score {
			return set[i].Score < set[j].Score
		}
		return set[i].Value < set[j].Value
	})
	if count > int64(len(set)) {
		count = int64(len(set))
	}
	popped := append([]Member{}, set[:count]...)
	m.zsets[key] = set[count:]
	return popped, nil
}

func (m *MemoryStore) ZCard(_ context.Context, key string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.expire(key)
	return int64(len(m.zsets[key])), nil
}

func (m *MemoryStore) Keys(_ context.Context, pattern string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	seen := make(map[string]struct{})
	collect := func(keys map[string]struct{}) {
		for key := range keys {
			m.expire(key)
			if !m.exists(key) {
				continue
			}
			if matched, _ := path.Match(pattern, key); matched {
				seen[key] = struct{}{}
			}
		}
	}
	all := make(map[string]struct{})
	for key := range m.values {
		all[key] = struct{}{}
	}
	for key := range m.hashes {
		all[key] = struct{}{}
	}
	for key := range m.lists {
		all[key] = struct{}{}
	}
	for key := range m.zsets {
		all[key] = struct{}{}
	}
	collect(all)
	out := make([]string, 0, len(seen))
	for key := range seen {
		out = append(out, key)
	}
	sort.Strings(out)
	return out, nil
}

func (m *MemoryStore) Expire(_ context.Context, key string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.setTTL(key, ttl)
	return nil
}

func (m *MemoryStore) Ping(context.Context) error { return nil }

func (m *MemoryStore) Close() error { return nil }
