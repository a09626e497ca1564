package query

import "sort"

// FieldFunc resolves a named field on an item. The second return value
// reports whether the field exists; unknown fields make filters fail closed
// and sorts return empty results.
type FieldFunc[T any] func(item T, field string) (interface{}, bool)

// Apply evaluates a Spec against an in-memory collection: filter, then
// sort, then paginate. A sort on an unknown field returns an empty result
// instead of an error; callers depend on this leniency.
func Apply[T any](items []T, spec Spec, field FieldFunc[T]) []T {
	filtered := make([]T, 0, len(items))
	for _, item := range items {
		if matchesAll(item, spec.Filters, field) {
			filtered = append(filtered, item)
		}
	}

	if spec.SortField != "" {
		if !sortable(filtered, spec.SortField, field) {
			return nil
		}
		desc := spec.DefaultSortOrder() == SortDesc
		sort.SliceStable(filtered, func(i, j int) bool {
			a, _ := field(filtered[i], spec.SortField)
			b, _ := field(filtered[j], spec.SortField)
			if desc {
				return less(b, a)
			}
			return less(a, b)
		})
	}

	if spec.Offset >= len(filtered) {
		return nil
	}
	filtered = filtered[spec.Offset:]
	if limit := spec.EffectiveLimit(); len(filtered) > limit {
		filtered = filtered[:limit]
	}
	return filtered
}

func matchesAll[T any](item T, filters []Criterion, field FieldFunc[T]) bool {
	for _, criterion := range filters {
		value, present := field(item, criterion.Field)
		if !matches(criterion, value, present) {
			return false
		}
	}
	return true
}

func sortable[T any](items []T, name string, field FieldFunc[T]) bool {
	if len(items) == 0 {
		return true
	}
	_, present := field(items[0], name)
	return present
}

func less(a, b interface{}) bool {
	if af, ok := asFloat(a); ok {
		bf, _ := asFloat(b)
		return af < bf
	}
	as, aok := a.(string)
	bs, bok := b.(string)
	if aok && bok {
		return as < bs
	}
	return false
}
