// Package query implements the generic filter/sort/paginate pipeline shared by
// list endpoints. It carries no invariants of its own; callers supply the
// predicates and comparators.
package query

import (
	"slices"
	"strings"
	"sync"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"

	"github.com/tallyops/tally/internal/shared"
)

// Direction is a sort direction toggle.
type Direction string

const (
	Asc  Direction = "asc"
	Desc Direction = "desc"
)

// ParseDirection normalises a direction string, defaulting to ascending.
func ParseDirection(s string) Direction {
	if strings.EqualFold(strings.TrimSpace(s), string(Desc)) {
		return Desc
	}
	return Asc
}

// Predicate reports whether an item passes a filter stage.
type Predicate[T any] func(T) bool

// Filter returns the items matching every predicate. A nil predicate is
// ignored. The input slice is never mutated.
func Filter[T any](items []T, preds ...Predicate[T]) []T {
	out := make([]T, 0, len(items))
	for _, item := range items {
		keep := true
		for _, pred := range preds {
			if pred != nil && !pred(item) {
				keep = false
				break
			}
		}
		if keep {
			out = append(out, item)
		}
	}
	return out
}

// SortStable sorts items with a stable sort. cmp follows the slices package
// convention (negative when a sorts before b). Desc inverts the comparator,
// preserving stability for equal elements.
func SortStable[T any](items []T, cmp func(a, b T) int, dir Direction) {
	if cmp == nil {
		return
	}
	if dir == Desc {
		inner := cmp
		cmp = func(a, b T) int { return inner(b, a) }
	}
	slices.SortStableFunc(items, cmp)
}

// Paginate slices out the requested page and returns pagination metadata
// computed over the full result size.
func Paginate[T any](items []T, page, perPage int) ([]T, shared.Pagination) {
	p := shared.NewPagination(page, perPage, len(items))
	start := p.Offset()
	if start >= len(items) {
		return []T{}, p
	}
	end := start + p.PerPage
	if end > len(items) {
		end = len(items)
	}
	return items[start:end], p
}

// Collator.CompareString mutates internal iterator state, so a shared
// instance is not safe for concurrent sorts. Pool one per comparison.
var collators = sync.Pool{
	New: func() any { return collate.New(language.Und, collate.Loose) },
}

// CompareStrings compares two strings with locale-aware collation,
// case-insensitively. Safe for concurrent use.
func CompareStrings(a, b string) int {
	c := collators.Get().(*collate.Collator)
	defer collators.Put(c)
	return c.CompareString(a, b)
}

// ContainsFold reports whether s contains substr ignoring case. Used by
// free-text search predicates.
func ContainsFold(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}
