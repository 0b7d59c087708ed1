package kv

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

type memoryEntry struct {
	value     []byte
	expiresAt time.Time
}

func (e memoryEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

// Memory is an in-process KeyValueStore. It backs tests and single-process
// development runs.
type Memory struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
}

// NewMemory creates an empty in-memory store
func NewMemory() *Memory {
	return &Memory{
		entries: make(map[string]memoryEntry),
		now:     time.Now,
	}
}

// SetClock replaces the time source used for TTL evaluation
func (m *Memory) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

// lookup must be called with m.mu held
func (m *Memory) lookup(key string) ([]byte, bool) {
	entry, ok := m.entries[key]
	if !ok {
		return nil, false
	}
	if entry.expired(m.now()) {
		delete(m.entries, key)
		return nil, false
	}
	return entry.value, true
}

func (m *Memory) Get(ctx context.Context, key string) ([]byte, error) {
	defer observe("memory", "get")()
	if err := ctx.Err(); err != nil {
		return nil, unavailable("memory", "get", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	value, ok := m.lookup(key)
	if !ok {
		return nil, ErrKeyNotFound
	}
	return clone(value), nil
}

func (m *Memory) Put(ctx context.Context, key string, value []byte, opts ...PutOption) error {
	defer observe("memory", "put")()
	if err := ctx.Err(); err != nil {
		return unavailable("memory", "put", err)
	}
	o := applyPutOptions(opts)

	m.mu.Lock()
	defer m.mu.Unlock()

	entry := memoryEntry{value: clone(value)}
	if o.TTL > 0 {
		entry.expiresAt = m.now().Add(o.TTL)
	}
	m.entries[key] = entry
	return nil
}

func (m *Memory) Delete(ctx context.Context, key string) error {
	defer observe("memory", "delete")()
	if err := ctx.Err(); err != nil {
		return unavailable("memory", "delete", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.entries, key)
	return nil
}

func (m *Memory) ListKeysByPrefix(ctx context.Context, prefix string) ([]string, error) {
	defer observe("memory", "list")()
	if err := ctx.Err(); err != nil {
		return nil, unavailable("memory", "list", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	keys := make([]string, 0)
	for key := range m.entries {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		if _, ok := m.lookup(key); ok {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (m *Memory) Update(ctx context.Context, key string, fn UpdateFunc) error {
	defer observe("memory", "update")()
	if err := ctx.Err(); err != nil {
		return unavailable("memory", "update", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	current, found := m.lookup(key)
	next, err := fn(clone(current), found)
	if err != nil {
		return err
	}
	m.entries[key] = memoryEntry{value: clone(next)}
	return nil
}

// Len returns the number of live keys
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for key := range m.entries {
		if _, ok := m.lookup(key); ok {
			n++
		}
	}
	return n
}

func clone(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
