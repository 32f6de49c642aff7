// Package collection holds the in-memory ordered entity list for one parent.
//
// The backing slice is never modified in place. Every mutation computes a new
// slice and swaps it in under the lock, so a Snapshot is just a captured slice
// header and Restore is a single assignment.
package collection

import (
	"slices"
	"sync"

	"github.com/kilupskalvis/modsync/internal/order"
)

// Snapshot is an immutable capture of a Store's entity list.
type Snapshot[T any] struct {
	items []T
}

// Len returns the number of entities captured.
func (s Snapshot[T]) Len() int { return len(s.items) }

// Store is the ordered collection for one parent id. All methods are safe
// for concurrent use and none of them fail: operations on unknown ids or
// out-of-range indexes are no-ops.
type Store[T order.Item[T]] struct {
	mu    sync.RWMutex
	items []T

	// holds > 0 defers Load until the last hold is released.
	holds      int
	pending    []T
	hasPending bool
}

// New creates an empty store.
func New[T order.Item[T]]() *Store[T] {
	return &Store[T]{}
}

// Load replaces the collection with a server-ordered list. Positions are
// accepted as-is. While a hold is active the list is parked and applied on
// the final Release; Load then returns false.
func (s *Store[T]) Load(items []T) bool {
	sorted := order.SortByPosition(items)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.holds > 0 {
		s.pending = sorted
		s.hasPending = true
		return false
	}
	s.items = sorted
	return true
}

// Items returns a copy of the current entity list.
func (s *Store[T]) Items() []T {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.items)
}

// Len returns the number of entities.
func (s *Store[T]) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

// Get returns the entity with the given id.
func (s *Store[T]) Get(id string) (T, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if idx := order.IndexOf(s.items, id); idx >= 0 {
		return s.items[idx], true
	}
	var zero T
	return zero, false
}

// IndexOf returns the array index of id, or -1.
func (s *Store[T]) IndexOf(id string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return order.IndexOf(s.items, id)
}

// Insert appends item at position N+1 and returns the stored value.
func (s *Store[T]) Insert(item T) T {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.items = order.Append(s.items, item)
	return s.items[len(s.items)-1]
}

// Transform replaces the list with fn(list) under the write lock. fn must
// not modify its argument and must keep positions dense.
func (s *Store[T]) Transform(fn func(items []T) []T) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = fn(s.items)
}

// InsertAt places item at index, clamped to the list bounds, and renumbers.
func (s *Store[T]) InsertAt(index int, item T) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = order.Insert(s.items, index, item)
}

// Remove deletes the entity with the given id and closes the gap it leaves.
func (s *Store[T]) Remove(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	next, ok := order.Remove(s.items, id)
	if ok {
		s.items = next
	}
	return ok
}

// Update replaces the entity with fn(entity). The entity keeps its position
// whatever fn returns.
func (s *Store[T]) Update(id string, fn func(T) T) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := order.IndexOf(s.items, id)
	if idx < 0 {
		return false
	}
	old := s.items[idx]
	next := slices.Clone(s.items)
	next[idx] = fn(old).WithPosition(old.ItemPosition())
	s.items = next
	return true
}

// Replace swaps the entity stored under id for item, which may carry a
// different id. Used to turn an optimistic placeholder into the server echo.
func (s *Store[T]) Replace(id string, item T) bool {
	return s.Update(id, func(T) T { return item })
}

// Reorder moves the entity at index from to index to and renumbers every
// position. It reports false, leaving the list untouched, for from == to or
// out-of-range indexes.
func (s *Store[T]) Reorder(from, to int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	next, ok := order.Move(s.items, from, to)
	if ok {
		s.items = next
	}
	return ok
}

// Arrange reorders the list so the entities named by ids come first, in that
// order, and renumbers. Entities not named keep their relative order after them.
func (s *Store[T]) Arrange(ids []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = order.Arrange(s.items, ids)
}

// Snapshot captures the current list.
func (s *Store[T]) Snapshot() Snapshot[T] {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Snapshot[T]{items: s.items}
}

// Restore overwrites the list with a previously captured snapshot.
func (s *Store[T]) Restore(snap Snapshot[T]) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = snap.items
}

// Hold defers subsequent Loads until Release is called.
func (s *Store[T]) Hold() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.holds++
}

// Release drops one hold. When the last hold goes away a parked Load is
// applied and Release reports true.
func (s *Store[T]) Release() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.holds == 0 {
		return false
	}
	s.holds--
	if s.holds > 0 || !s.hasPending {
		return false
	}
	s.items = s.pending
	s.pending = nil
	s.hasPending = false
	return true
}

// Held reports whether Loads are currently deferred.
func (s *Store[T]) Held() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.holds > 0
}
