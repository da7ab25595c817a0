package metastore

import (
	"context"
	"math/rand/v2"
	"sort"
	"sync"
)

// MemoryStore is an in-process Store. It is what the coordinator runs on
// when no Redis address is configured, and what the coordinator tests use.
type MemoryStore struct {
	sets    map[string]map[string]struct{}
	lists   map[string][]string
	scalars map[string]string
	mu      sync.RWMutex
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	m := &MemoryStore{}
	m.reset()
	return m
}

func (m *MemoryStore) reset() {
	m.sets = make(map[string]map[string]struct{})
	m.lists = make(map[string][]string)
	m.scalars = make(map[string]string)
}

func (m *MemoryStore) SIsMember(_ context.Context, key, member string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	_, ok := m.sets[key][member]
	return ok, nil
}

func (m *MemoryStore) SAdd(_ context.Context, key string, members ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	set, ok := m.sets[key]
	if !ok {
		set = make(map[string]struct{}, len(members))
		m.sets[key] = set
	}
	for _, member := range members {
		set[member] = struct{}{}
	}
	return nil
}

func (m *MemoryStore) SRem(_ context.Context, key string, members ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	set := m.sets[key]
	for _, member := range members {
		delete(set, member)
	}
	if len(set) == 0 {
		delete(m.sets, key)
	}
	return nil
}

// SMembers returns members in sorted order.
func (m *MemoryStore) SMembers(_ context.Context, key string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.members(key), nil
}

func (m *MemoryStore) members(key string) []string {
	set := m.sets[key]
	out := make([]string, 0, len(set))
	for member := range set {
		out = append(out, member)
	}
	sort.Strings(out)
	return out
}

func (m *MemoryStore) SRandMember(_ context.Context, key string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	members := m.members(key)
	if len(members) == 0 {
		return "", ErrNil
	}
	return members[rand.IntN(len(members))], nil
}

// Lists are stored oldest first so a push is an append; logical index i,
// counted from the head, lives at list[len(list)-1-i].

func (m *MemoryStore) LPush(_ context.Context, key string, values ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.lists[key] = append(m.lists[key], values...)
	return nil
}

// span resolves Redis-style start and stop indices against a list of length
// n. ok is false when the range is empty.
func span(start, stop, n int64) (int64, int64, bool) {
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
		return 0, 0, false
	}
	return start, stop, true
}

func (m *MemoryStore) LRange(_ context.Context, key string, start, stop int64) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	list := m.lists[key]
	n := int64(len(list))
	start, stop, ok := span(start, stop, n)
	if !ok {
		return []string{}, nil
	}
	out := make([]string, 0, stop-start+1)
	for i := start; i <= stop; i++ {
		out = append(out, list[n-1-i])
	}
	return out, nil
}

func (m *MemoryStore) LTrim(_ context.Context, key string, start, stop int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	list := m.lists[key]
	n := int64(len(list))
	start, stop, ok := span(start, stop, n)
	if !ok {
		delete(m.lists, key)
		return nil
	}
	kept := copy(list, list[n-1-stop:n-start])
	clear(list[kept:])
	m.lists[key] = list[:kept]
	return nil
}

func (m *MemoryStore) Set(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.scalars[key] = value
	return nil
}

func (m *MemoryStore) Get(_ context.Context, key string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	v, ok := m.scalars[key]
	if !ok {
		return "", ErrNil
	}
	return v, nil
}

func (m *MemoryStore) FlushAll(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.reset()
	return nil
}

func (m *MemoryStore) Close() error { return nil }
