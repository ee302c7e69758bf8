package cache

import (
	"sync"
	"time"
)

const defaultSweepInterval = 30 * time.Second

type expiring[V any] struct {
	value    V
	deadline time.Time
}

func (e expiring[V]) live(now time.Time) bool {
	return now.Before(e.deadline)
}

// expiringMap backs the in-memory stores. Reads ignore expired entries; a
// sweeper goroutine deletes them until close.
type expiringMap[K comparable, V any] struct {
	mu      sync.RWMutex
	entries map[K]expiring[V]

	stop chan struct{}
	done chan struct{}
	once sync.Once
}

func newExpiringMap[K comparable, V any](sweepEvery time.Duration) *expiringMap[K, V] {
	m := &expiringMap[K, V]{
		entries: make(map[K]expiring[V]),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	go m.sweepLoop(sweepEvery)
	return m
}

func (m *expiringMap[K, V]) get(key K, now time.Time) (V, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.entries[key]
	if !ok || !e.live(now) {
		var zero V
		return zero, false
	}
	return e.value, true
}

func (m *expiringMap[K, V]) put(key K, value V, deadline time.Time) {
	m.mu.Lock()
	m.entries[key] = expiring[V]{value: value, deadline: deadline}
	m.mu.Unlock()
}

// putIfAbsent stores value unless key holds a live entry. It reports whether
// the value was stored.
func (m *expiringMap[K, V]) putIfAbsent(key K, value V, now, deadline time.Time) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if e, ok := m.entries[key]; ok && e.live(now) {
		return false
	}
	m.entries[key] = expiring[V]{value: value, deadline: deadline}
	return true
}

func (m *expiringMap[K, V]) remove(keys ...K) {
	m.mu.Lock()
	for _, key := range keys {
		delete(m.entries, key)
	}
	m.mu.Unlock()
}

// len counts stored entries, including expired ones not yet swept
func (m *expiringMap[K, V]) len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// sweep deletes entries that expired by now and returns how many it removed
func (m *expiringMap[K, V]) sweep(now time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for key, e := range m.entries {
		if !e.live(now) {
			delete(m.entries, key)
			removed++
		}
	}
	return removed
}

func (m *expiringMap[K, V]) sweepLoop(every time.Duration) {
	defer close(m.done)

	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-m.stop:
			return
		case now := <-ticker.C:
			m.sweep(now)
		}
	}
}

// close stops the sweeper and waits for it. Later calls are no-ops.
func (m *expiringMap[K, V]) close() {
	m.once.Do(func() {
		close(m.stop)
		<-m.done
	})
}
