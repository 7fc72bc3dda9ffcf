// Package notify provides a per-key broadcast wakeup.
//
// A wakeup only says that something changed under the key. Waiters take the
// channel first, re-check their condition, and wait only if it does not
// hold yet:
//
//	for {
//		ch := m.Notified(key)
//		if ready() {
//			break
//		}
//		<-ch
//	}
package notify

import (
	"github.com/sasha-s/go-deadlock"
)

// Map hands out one wakeup channel per key. Notify closes the current
// channel, releasing every waiter on that key, and installs a fresh one.
type Map[K comparable] struct {
	mu      deadlock.Mutex
	waiters map[K]chan struct{}
}

// NewMap returns an empty Map.
func NewMap[K comparable]() *Map[K] {
	return &Map[K]{waiters: make(map[K]chan struct{})}
}

// Notified returns a channel closed by the next Notify on key.
func (m *Map[K]) Notified(key K) <-chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()

	ch, ok := m.waiters[key]
	if !ok {
		ch = make(chan struct{})
		m.waiters[key] = ch
	}
	return ch
}

// Notify wakes all current waiters of key. Waiters of other keys are
// untouched.
func (m *Map[K]) Notify(key K) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if ch, ok := m.waiters[key]; ok {
		close(ch)
		delete(m.waiters, key)
	}
}
