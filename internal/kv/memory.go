package kv

import (
	"bytes"
	"context"
	"sync"
	"time"
)

type memEntry struct {
	value     []byte
	expiresAt time.Time
}

// MemoryBackend is an in-process Backend. It honours the same atomicity as the
// Redis backend by serializing every call behind one mutex, which makes it
// suitable for tests and single-process development runs.
type MemoryBackend struct {
	mu    sync.Mutex
	lists map[string][][]byte
	keys  map[string]memEntry
	now   func() time.Time
}

// NewMemoryBackend returns an empty MemoryBackend using the wall clock.
func NewMemoryBackend() *MemoryBackend {
	return NewMemoryBackendWithClock(time.Now)
}

// NewMemoryBackendWithClock returns an empty MemoryBackend whose TTL expiry is
// evaluated against now.
func NewMemoryBackendWithClock(now func() time.Time) *MemoryBackend {
	return &MemoryBackend{
		lists: map[string][][]byte{},
		keys:  map[string]memEntry{},
		now:   now,
	}
}

func (m *MemoryBackend) Push(_ context.Context, list string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lists[list] = append(m.lists[list], clone(value))
	return nil
}

func (m *MemoryBackend) Move(_ context.Context, src, dst string, from, to End) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.take(src, from)
	if !ok {
		return nil, false, nil
	}
	if to == Head {
		m.lists[dst] = append([][]byte{v}, m.lists[dst]...)
	} else {
		m.lists[dst] = append(m.lists[dst], v)
	}
	return clone(v), true, nil
}

func (m *MemoryBackend) Len(_ context.Context, list string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.lists[list])), nil
}

func (m *MemoryBackend) Range(_ context.Context, list string) ([][]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	items := m.lists[list]
	out := make([][]byte, 0, len(items))
	for _, v := range items {
		out = append(out, clone(v))
	}
	return out, nil
}

func (m *MemoryBackend) Remove(_ context.Context, list string, value []byte) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	items := m.lists[list]
	for i, v := range items {
		if bytes.Equal(v, value) {
			m.lists[list] = append(items[:i:i], items[i+1:]...)
			return 1, nil
		}
	}
	return 0, nil
}

func (m *MemoryBackend) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.live(key)
	if !ok {
		return nil, ErrNotFound
	}
	return clone(e.value), nil
}

func (m *MemoryBackend) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.keys[key] = m.entry(value, ttl)
	return nil
}

func (m *MemoryBackend) SetNX(_ context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.live(key); ok {
		return false, nil
	}
	m.keys[key] = m.entry(value, ttl)
	return true, nil
}

func (m *MemoryBackend) Delete(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		delete(m.keys, k)
	}
	return nil
}

func (m *MemoryBackend) Ping(context.Context) error { return nil }

func (m *MemoryBackend) Close() error { return nil }

// take removes an element from one end of list. Caller holds m.mu.
func (m *MemoryBackend) take(list string, end End) ([]byte, bool) {
	items := m.lists[list]
	if len(items) == 0 {
		return nil, false
	}
	var v []byte
	if end == Head {
		v = items[0]
		m.lists[list] = items[1:]
	} else {
		v = items[len(items)-1]
		m.lists[list] = items[:len(items)-1]
	}
	if len(m.lists[list]) == 0 {
		delete(m.lists, list)
	}
	return v, true
}

// live returns the entry for key, evicting it when expired. Caller holds m.mu.
func (m *MemoryBackend) live(key string) (memEntry, bool) {
	e, ok := m.keys[key]
	if !ok {
		return memEntry{}, false
	}
	if !e.expiresAt.IsZero() && !m.now().Before(e.expiresAt) {
		delete(m.keys, key)
		return memEntry{}, false
	}
	return e, true
}

func (m *MemoryBackend) entry(value []byte, ttl time.Duration) memEntry {
	e := memEntry{value: clone(value)}
	if ttl > 0 {
		e.expiresAt = m.now().Add(ttl)
	}
	return e
}

func clone(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
