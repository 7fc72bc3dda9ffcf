// Package storage keeps the per-party message bookkeeping used by the
// protocol engines. Every value is filed under a topic key and the id of the
// party that contributed it, at most one value per (key, party).
package storage

import (
	"sort"

	"github.com/sasha-s/go-deadlock"
	"github.com/zhazhalaila/AsyncDKG/party"
)

// Item is a stored value together with the party that contributed it.
type Item[V any] struct {
	Party party.ID
	Value V
}

// PerParty stores at most one value per (key, party). Nothing is ever
// evicted: an instance owns its PerParty and drops it as a whole.
type PerParty[K comparable, V any] struct {
	mu     deadlock.RWMutex
	values map[K]map[party.ID]V
}

// NewPerParty returns an empty store.
func NewPerParty[K comparable, V any]() *PerParty[K, V] {
	return &PerParty[K, V]{values: make(map[K]map[party.ID]V)}
}

// InsertOnce stores value under (key, p) unless a value is already there.
// It reports whether the value was stored; retransmissions return false.
func (s *PerParty[K, V]) InsertOnce(key K, p party.ID, value V) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	byParty, ok := s.values[key]
	if !ok {
		byParty = make(map[party.ID]V)
		s.values[key] = byParty
	}
	if _, exists := byParty[p]; exists {
		return false
	}
	byParty[p] = value
	return true
}

// Entry replaces the value under (key, p) with update(current, found) and
// returns the new value. Used for accumulate-style updates.
func (s *PerParty[K, V]) Entry(key K, p party.ID, update func(current V, found bool) V) V {
	s.mu.Lock()
	defer s.mu.Unlock()

	byParty, ok := s.values[key]
	if !ok {
		byParty = make(map[party.ID]V)
		s.values[key] = byParty
	}
	current, found := byParty[p]
	next := update(current, found)
	byParty[p] = next
	return next
}

// Count returns the number of distinct parties that contributed under key.
func (s *PerParty[K, V]) Count(key K) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.values[key])
}

// Lookup returns the value stored for (key, p).
func (s *PerParty[K, V]) Lookup(key K, p party.ID) (V, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[key][p]
	return v, ok
}

// Get returns the values stored under key ordered by party id.
func (s *PerParty[K, V]) Get(key K) []V {
	items := s.GetAll(key)
	values := make([]V, len(items))
	for i, item := range items {
		values[i] = item.Value
	}
	return values
}

// GetAll returns the values stored under key with their contributing party,
// ordered by party id.
func (s *PerParty[K, V]) GetAll(key K) []Item[V] {
	s.mu.RLock()
	byParty := s.values[key]
	items := make([]Item[V], 0, len(byParty))
	for p, v := range byParty {
		items = append(items, Item[V]{Party: p, Value: v})
	}
	s.mu.RUnlock()

	sort.Slice(items, func(i, j int) bool {
		return items[i].Party < items[j].Party
	})
	return items
}
