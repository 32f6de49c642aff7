// Package order implements dense 1..N position numbering for ordered lists.
// Every function is pure: inputs are never modified and a fresh slice is
// returned whenever the result differs from the input.
package order

import (
	"errors"
	"fmt"
	"slices"
	"sort"

	"github.com/kilupskalvis/modsync/internal/models"
)

// Integrity errors reported by CheckDensity.
var (
	ErrDuplicateID       = errors.New("duplicate item id")
	ErrDuplicatePosition = errors.New("duplicate position")
	ErrPositionGap       = errors.New("position out of dense range")
)

// Item is an entity with a stable identity and an explicit position.
// WithPosition must return a copy and leave the receiver untouched.
type Item[T any] interface {
	ItemID() string
	ItemPosition() int
	WithPosition(pos int) T
}

// Renumber returns a copy of items where items[i] has position i+1.
// Relative order is preserved, so Renumber(Renumber(l)) equals Renumber(l).
func Renumber[T Item[T]](items []T) []T {
	out := make([]T, len(items))
	for i, it := range items {
		if it.ItemPosition() == i+1 {
			out[i] = it
			continue
		}
		out[i] = it.WithPosition(i + 1)
	}
	return out
}

// Append returns a copy of items with item added at position N+1.
func Append[T Item[T]](items []T, item T) []T {
	out := make([]T, 0, len(items)+1)
	out = append(out, items...)
	return append(out, item.WithPosition(len(items)+1))
}

// Remove drops the item with the given id and shifts every item that sat
// after it down by one. The boolean is false when id is not present.
func Remove[T Item[T]](items []T, id string) ([]T, bool) {
	idx := IndexOf(items, id)
	if idx < 0 {
		return items, false
	}
	removedPos := items[idx].ItemPosition()

	out := make([]T, 0, len(items)-1)
	for i, it := range items {
		if i == idx {
			continue
		}
		if p := it.ItemPosition(); p > removedPos {
			it = it.WithPosition(p - 1)
		}
		out = append(out, it)
	}
	return out, true
}

// Move relocates the item at index from to index to and renumbers the list.
// The boolean is false, and items is returned unchanged, when from == to or
// either index is out of bounds.
func Move[T Item[T]](items []T, from, to int) ([]T, bool) {
	n := len(items)
	if from == to || from < 0 || to < 0 || from >= n || to >= n {
		return items, false
	}

	picked := items[from]
	rest := make([]T, 0, n)
	rest = append(rest, items[:from]...)
	rest = append(rest, items[from+1:]...)
	return Renumber(slices.Insert(rest, to, picked)), true
}

// Insert places item at index, clamped to [0, N], and renumbers the list.
func Insert[T Item[T]](items []T, index int, item T) []T {
	index = max(0, min(index, len(items)))
	out := make([]T, 0, len(items)+1)
	out = append(out, items[:index]...)
	out = append(out, item)
	out = append(out, items[index:]...)
	return Renumber(out)
}

// Arrange puts the items named by ids first, in that order, followed by the
// remaining items in their current order, and renumbers the list. Ids that
// are not present are skipped.
func Arrange[T Item[T]](items []T, ids []string) []T {
	out := make([]T, 0, len(items))
	placed := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if _, dup := placed[id]; dup {
			continue
		}
		if idx := IndexOf(items, id); idx >= 0 {
			out = append(out, items[idx])
			placed[id] = struct{}{}
		}
	}
	for _, it := range items {
		if _, ok := placed[it.ItemID()]; !ok {
			out = append(out, it)
		}
	}
	return Renumber(out)
}

// IDs returns the ids of items in order.
func IDs[T Item[T]](items []T) []string {
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.ItemID()
	}
	return out
}

// SortByPosition returns a copy of items ordered by ascending position.
// Items sharing a position keep their input order.
func SortByPosition[T Item[T]](items []T) []T {
	out := slices.Clone(items)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].ItemPosition() < out[j].ItemPosition()
	})
	return out
}

// IndexOf returns the index of the item with the given id, or -1.
func IndexOf[T Item[T]](items []T, id string) int {
	for i, it := range items {
		if it.ItemID() == id {
			return i
		}
	}
	return -1
}

// CheckDensity verifies that ids are unique and that the positions of the
// N items are exactly {1..N}.
func CheckDensity[T Item[T]](items []T) error {
	seenIDs := make(map[string]struct{}, len(items))
	seenPos := make(map[int]string, len(items))
	for _, it := range items {
		id := it.ItemID()
		if _, ok := seenIDs[id]; ok {
			return fmt.Errorf("%w: %s", ErrDuplicateID, id)
		}
		seenIDs[id] = struct{}{}

		p := it.ItemPosition()
		if p < 1 || p > len(items) {
			return fmt.Errorf("%w: %s has position %d in a list of %d", ErrPositionGap, id, p, len(items))
		}
		if other, ok := seenPos[p]; ok {
			return fmt.Errorf("%w: %d shared by %s and %s", ErrDuplicatePosition, p, other, id)
		}
		seenPos[p] = id
	}
	return nil
}

// IsDense reports whether CheckDensity passes.
func IsDense[T Item[T]](items []T) bool {
	return CheckDensity(items) == nil
}

// PositionUpdates converts items into the bulk reorder payload.
func PositionUpdates[T Item[T]](items []T) []models.PositionUpdate {
	out := make([]models.PositionUpdate, len(items))
	for i, it := range items {
		out[i] = models.PositionUpdate{ID: it.ItemID(), Position: it.ItemPosition()}
	}
	return out
}
