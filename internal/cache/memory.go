package cache

import (
	"container/list"
	"context"
	"fmt"
	"sync"
	"time"
)

// Memory is a fixed-capacity in-memory store with LRU eviction and per-entry
// TTL expiry. Expiry is lazy: an expired entry is removed when a Get or
// SweepExpired observes it. A single mutex guards the store; all operations
// are safe for concurrent use.
// The generic type T represents the value type being cached.
type Memory[T any] struct {
	mu    sync.Mutex
	clock Clock

	capacity int
	ttl      time.Duration

	// order holds *entry[T] values, most recently used at the front.
	order *list.List
	items map[string]*list.Element
}

var _ Cache[string] = (*Memory[string])(nil)

type entry[T any] struct {
	key     string
	value   T
	written time.Time
	ttl     time.Duration
}

// expired reports whether the entry's age has reached its TTL.
func (e *entry[T]) expired(now time.Time) bool {
	return now.Sub(e.written) >= e.ttl
}

// Option configures a Memory store.
type Option func(*settings)

type settings struct {
	clock Clock
}

// WithClock substitutes the time source used for expiry decisions.
func WithClock(c Clock) Option {
	return func(s *settings) { s.clock = c }
}

// NewMemory creates a store holding at most capacity entries, each expiring
// ttl after it was last written.
func NewMemory[T any](capacity int, ttl time.Duration, opts ...Option) (*Memory[T], error) {
	if capacity < 1 {
		return nil, fmt.Errorf("cache capacity must be positive, got %d", capacity)
	}
	if ttl <= 0 {
		return nil, fmt.Errorf("cache TTL must be positive, got %v", ttl)
	}

	s := settings{clock: systemClock{}}
	for _, opt := range opts {
		opt(&s)
	}

	return &Memory[T]{
		clock:    s.clock,
		capacity: capacity,
		ttl:      ttl,
		order:    list.New(),
		items:    make(map[string]*list.Element),
	}, nil
}

// Get retrieves a live value from the cache. An expired entry is removed and
// reported as absent; a hit marks the entry most recently used.
func (m *Memory[T]) Get(ctx context.Context, key string) (T, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var zero T

	el, ok := m.items[key]
	if !ok {
		return zero, false
	}

	ent := el.Value.(*entry[T])
	if ent.expired(m.clock.Now()) {
		m.remove(el)
		return zero, false
	}

	m.order.MoveToFront(el)
	return ent.value, true
}

// Set stores a value in the cache with the store's default TTL.
func (m *Memory[T]) Set(ctx context.Context, key string, value T) {
	m.SetTTL(ctx, key, value, 0)
}

// SetTTL stores a value in the cache, expiring after ttl. A non-positive ttl
// selects the store default. Writing an existing key refreshes its value,
// expiry and recency; writing a new key into a full store evicts the least
// recently used entry first.
func (m *Memory[T]) SetTTL(ctx context.Context, key string, value T, ttl time.Duration) {
	if ttl <= 0 {
		ttl = m.ttl
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()

	if el, ok := m.items[key]; ok {
		ent := el.Value.(*entry[T])
		ent.value = value
		ent.written = now
		ent.ttl = ttl
		m.order.MoveToFront(el)
		return
	}

	if m.order.Len() >= m.capacity {
		m.evictOldest()
	}

	m.items[key] = m.order.PushFront(&entry[T]{
		key:     key,
		value:   value,
		written: now,
		ttl:     ttl,
	})
}

// Clear discards every entry.
func (m *Memory[T]) Clear(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.order.Init()
	m.items = make(map[string]*list.Element)
}

// SweepExpired removes every entry whose TTL has lapsed, returning the number
// removed. This reclaims capacity held by entries that expired without being
// observed by a Get.
func (m *Memory[T]) SweepExpired(ctx context.Context) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()

	removed := 0
	for el := m.order.Front(); el != nil; {
		next := el.Next()
		if el.Value.(*entry[T]).expired(now) {
			m.remove(el)
			removed++
		}
		el = next
	}

	return removed
}

// Stats reports current occupancy alongside the store's fixed limits.
func (m *Memory[T]) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	return Stats{
		Size:     m.order.Len(),
		Capacity: m.capacity,
		TTL:      m.ttl,
	}
}

// remove deletes the element from both the order list and the key index.
// Callers must hold the lock.
func (m *Memory[T]) remove(el *list.Element) {
	ent := m.order.Remove(el).(*entry[T])
	delete(m.items, ent.key)
}

// evictOldest discards the least recently used entry. Callers must hold the
// lock.
func (m *Memory[T]) evictOldest() {
	if el := m.order.Back(); el != nil {
		m.remove(el)
	}
}
