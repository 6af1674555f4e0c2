package domain

import "fmt"

// Sequenced is implemented by values that keep an explicit position among
// their siblings. WithOrder returns a copy carrying the new position.
type Sequenced[T any] interface {
	SeqID() string
	WithOrder(order int) T
}

// InsertAt returns a new sequence with item inserted at the clamped index.
// Elements from the insertion point onward are renumbered; preceding
// elements are shared with items.
func InsertAt[T Sequenced[T]](items []T, item T, at int) []T {
	at = clamp(at, 0, len(items))
	out := make([]T, len(items)+1)
	copy(out, items[:at])
	out[at] = item
	copy(out[at+1:], items[at:])
	renumberFrom(out, at)
	return out
}

// RemoveByID returns a new sequence without the element identified by id,
// together with the removed element and its former index.
func RemoveByID[T Sequenced[T]](items []T, id string) ([]T, T, int, error) {
	for i, it := range items {
		if it.SeqID() == id {
			out, removed := removeAt(items, i)
			return out, removed, i, nil
		}
	}
	var zero T
	return items, zero, -1, notFound("item", id)
}

// MoveWithin relocates the element at from to position to. The target index
// addresses the sequence after removal and is clamped to its bounds. When
// from equals to the input slice is returned untouched.
func MoveWithin[T Sequenced[T]](items []T, from, to int) ([]T, error) {
	if from < 0 || from >= len(items) {
		return items, fmt.Errorf("index %d: %w", from, ErrNotFound)
	}
	if from == to {
		return items, nil
	}
	rest, moved := removeAt(items, from)
	to = clamp(to, 0, len(rest))
	out := make([]T, 0, len(items))
	out = append(out, rest[:to]...)
	out = append(out, moved)
	out = append(out, rest[to:]...)
	renumberFrom(out, 0)
	return out, nil
}

// MoveAcross removes the element at from in src and inserts it at to in dst.
// reparent is applied to the moved element before insertion so that its
// owner reference follows the destination.
func MoveAcross[T Sequenced[T]](src, dst []T, from, to int, reparent func(T) T) ([]T, []T, error) {
	if from < 0 || from >= len(src) {
		return src, dst, fmt.Errorf("index %d: %w", from, ErrNotFound)
	}
	newSrc, moved := removeAt(src, from)
	if reparent != nil {
		moved = reparent(moved)
	}
	return newSrc, InsertAt(dst, moved, to), nil
}

func removeAt[T Sequenced[T]](items []T, idx int) ([]T, T) {
	removed := items[idx]
	out := make([]T, 0, len(items)-1)
	out = append(out, items[:idx]...)
	out = append(out, items[idx+1:]...)
	renumberFrom(out, idx)
	return out, removed
}

// renumberFrom assumes out is owned by the caller.
func renumberFrom[T Sequenced[T]](out []T, start int) {
	for i := start; i < len(out); i++ {
		out[i] = out[i].WithOrder(i)
	}
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
