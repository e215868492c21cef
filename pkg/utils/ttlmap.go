package utils

import (
	"sync"
	"time"
)

// EvictionCause describes why an entry left a TTLMap.
type EvictionCause int

const (
	// EvictedExpired means the entry was not accessed within the TTL.
	EvictedExpired EvictionCause = iota
	// EvictedSize means the map was full and the entry was the least recently accessed.
	EvictedSize
	// EvictedExplicit means the entry was removed with Delete or Clear.
	EvictedExplicit
	// EvictedReplaced means the entry was overwritten by Set.
	EvictedReplaced
)

// TTLMapOptions configures a TTLMap.
type TTLMapOptions[K comparable, V any] struct {
	// TTL is measured from the last access (Get or Set).
	TTL time.Duration
	// MaxSize bounds the number of live entries. Zero means unbounded.
	MaxSize int
	// OnEvict runs for every removed entry, outside the map lock.
	OnEvict func(key K, value V, cause EvictionCause)
}

type ttlEntry[V any] struct {
	value      V
	lastAccess time.Time
}

// TTLMap provides a thread-safe map whose entries expire after a period
// without access and which evicts the least recently accessed entry once full.
type TTLMap[K comparable, V any] struct {
	mu      sync.Mutex
	data    map[K]*ttlEntry[V]
	opts    TTLMapOptions[K, V]
	now     func() time.Time
	stop    chan struct{}
	stopped bool
}

// NewTTLMap creates a new TTLMap and starts its cleanup loop.
// Call Close to stop the cleanup loop.
func NewTTLMap[K comparable, V any](opts TTLMapOptions[K, V]) *TTLMap[K, V] {
	m := &TTLMap[K, V]{
		data: make(map[K]*ttlEntry[V]),
		opts: opts,
		now:  time.Now,
		stop: make(chan struct{}),
	}

	if opts.TTL > 0 {
		go m.cleanup()
	}

	return m
}

// Get retrieves a value from the map and refreshes its access time.
func (m *TTLMap[K, V]) Get(key K) (V, bool) {
	var evicted []evictedEntry[K, V]
	defer func() { m.notify(evicted) }()

	m.mu.Lock()
	defer m.mu.Unlock()

	entry, exists := m.data[key]
	if !exists {
		var zero V
		return zero, false
	}

	now := m.now()
	if m.expired(entry, now) {
		delete(m.data, key)
		evicted = append(evicted, evictedEntry[K, V]{key, entry.value, EvictedExpired})

		var zero V
		return zero, false
	}

	entry.lastAccess = now

	return entry.value, true
}

// Set adds or updates a value in the map.
func (m *TTLMap[K, V]) Set(key K, value V) {
	var evicted []evictedEntry[K, V]
	defer func() { m.notify(evicted) }()

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()

	if old, exists := m.data[key]; exists {
		evicted = append(evicted, evictedEntry[K, V]{key, old.value, EvictedReplaced})
		delete(m.data, key)
	}

	// Make room by dropping the least recently accessed entries
	for m.opts.MaxSize > 0 && len(m.data) >= m.opts.MaxSize {
		oldestKey, oldest := m.oldest()
		delete(m.data, oldestKey)
		evicted = append(evicted, evictedEntry[K, V]{oldestKey, oldest.value, EvictedSize})
	}

	m.data[key] = &ttlEntry[V]{value: value, lastAccess: now}
}

// Delete removes a key from the map.
func (m *TTLMap[K, V]) Delete(key K) {
	var evicted []evictedEntry[K, V]
	defer func() { m.notify(evicted) }()

	m.mu.Lock()
	defer m.mu.Unlock()

	if entry, exists := m.data[key]; exists {
		delete(m.data, key)
		evicted = append(evicted, evictedEntry[K, V]{key, entry.value, EvictedExplicit})
	}
}

// Len returns the number of entries, including ones not yet swept.
func (m *TTLMap[K, V]) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.data)
}

// Close stops the cleanup loop. Entries stay readable.
func (m *TTLMap[K, V]) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.stopped {
		close(m.stop)
		m.stopped = true
	}
}

// Sweep removes every expired entry.
func (m *TTLMap[K, V]) Sweep() {
	var evicted []evictedEntry[K, V]
	defer func() { m.notify(evicted) }()

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	for key, entry := range m.data {
		if m.expired(entry, now) {
			delete(m.data, key)
			evicted = append(evicted, evictedEntry[K, V]{key, entry.value, EvictedExpired})
		}
	}
}

type evictedEntry[K comparable, V any] struct {
	key   K
	value V
	cause EvictionCause
}

func (m *TTLMap[K, V]) notify(evicted []evictedEntry[K, V]) {
	if m.opts.OnEvict == nil {
		return
	}

	for _, e := range evicted {
		m.opts.OnEvict(e.key, e.value, e.cause)
	}
}

func (m *TTLMap[K, V]) expired(entry *ttlEntry[V], now time.Time) bool {
	return m.opts.TTL > 0 && now.Sub(entry.lastAccess) > m.opts.TTL
}

// oldest returns the least recently accessed entry. Caller holds the lock.
func (m *TTLMap[K, V]) oldest() (K, *ttlEntry[V]) {
	var (
		oldestKey K
		oldest    *ttlEntry[V]
	)

	for key, entry := range m.data {
		if oldest == nil || entry.lastAccess.Before(oldest.lastAccess) {
			oldestKey = key
			oldest = entry
		}
	}

	return oldestKey, oldest
}

// cleanup periodically removes expired entries.
func (m *TTLMap[K, V]) cleanup() {
	ticker := time.NewTicker(m.opts.TTL)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.Sweep()
		case <-m.stop:
			return
		}
	}
}
