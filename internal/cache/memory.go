package cache

import (
	"container/list"
	"context"
	"sync"
	"time"
)

// Memory is an in-process Store. It honors the same TTL, size-ceiling, and
// oldest-first eviction semantics as the durable backends but loses its
// contents on restart. Used when no cache path is configured, and in tests.
type Memory struct {
	mu       sync.Mutex
	entries  map[string]*list.Element
	order    *list.List // Front = oldest stored. Insertion order, not access order.
	total    int64
	maxBytes int64
}

type memoryEntry struct {
	key       string
	payload   []byte
	expiresAt time.Time
}

// NewMemory creates an in-memory store with the given size ceiling.
// A non-positive ceiling defaults to DefaultMaxBytes.
func NewMemory(maxBytes int64) *Memory {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	return &Memory{
		entries:  make(map[string]*list.Element),
		order:    list.New(),
		maxBytes: maxBytes,
	}
}

// Get returns the payload for key, or (nil, false) on miss or expiry.
// Expired entries are removed lazily here.
func (m *Memory) Get(_ context.Context, key string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	el, ok := m.entries[key]
	if !ok {
		return nil, false
	}
	entry := el.Value.(*memoryEntry)
	if time.Now().After(entry.expiresAt) {
		m.removeLocked(el)
		return nil, false
	}
	return entry.payload, true
}

// Put stores payload under key, evicting oldest-stored entries as needed.
func (m *Memory) Put(_ context.Context, key string, payload []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if el, ok := m.entries[key]; ok {
		m.removeLocked(el)
	}

	// Evict oldest until the new entry fits. An entry larger than the whole
	// ceiling is still stored alone; the ceiling bounds steady state.
	for m.total+int64(len(payload)) > m.maxBytes && m.order.Len() > 0 {
		m.removeLocked(m.order.Front())
	}

	entry := &memoryEntry{key: key, payload: payload, expiresAt: time.Now().Add(ttl)}
	m.entries[key] = m.order.PushBack(entry)
	m.total += int64(len(payload))
	return nil
}

// Size returns total payload bytes held, including not-yet-swept expired entries.
func (m *Memory) Size(_ context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.total, nil
}

// Sweep removes all expired entries and reports how many were dropped.
func (m *Memory) Sweep(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	removed := 0
	for el := m.order.Front(); el != nil; {
		next := el.Next()
		if now.After(el.Value.(*memoryEntry).expiresAt) {
			m.removeLocked(el)
			removed++
		}
		el = next
	}
	return removed, nil
}

// Close is a no-op for the in-memory store.
func (m *Memory) Close() error { return nil }

func (m *Memory) removeLocked(el *list.Element) {
	entry := el.Value.(*memoryEntry)
	m.order.Remove(el)
	delete(m.entries, entry.key)
	m.total -= int64(len(entry.payload))
}

var _ Store = (*Memory)(nil)
