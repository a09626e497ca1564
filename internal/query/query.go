// Package query implements the generic filter/sort/paginate contract used by
// the negotiation and agreement stores. Both the in-memory store and the
// SQL builder consume the same Spec, so callers get identical semantics
// regardless of backend.
package query

// Operator represents supported filter operators.
type Operator string

const (
	OpEqual Operator = "eq"
	OpIn    Operator = "in"
)

// Criterion is a single predicate over a named field.
type Criterion struct {
	Field    string        `json:"field"`
	Operator Operator      `json:"operator"`
	Value    interface{}   `json:"value,omitempty"`
	Values   []interface{} `json:"values,omitempty"`
}

// SortOrder represents the sort direction.
type SortOrder string

const (
	SortAsc  SortOrder = "asc"
	SortDesc SortOrder = "desc"
)

// Spec describes a collection query: filters, an optional single-field
// sort, and offset/limit pagination.
type Spec struct {
	Filters   []Criterion `json:"filters,omitempty"`
	SortField string      `json:"sort_field,omitempty"`
	SortOrder SortOrder   `json:"sort_order,omitempty"`
	Offset    int         `json:"offset"`
	Limit     int         `json:"limit"`
}

const defaultLimit = 50

// None returns a spec matching everything with the default page size.
func None() Spec {
	return Spec{Limit: defaultLimit}
}

// EffectiveLimit returns the page size, applying the default when unset.
func (s Spec) EffectiveLimit() int {
	if s.Limit <= 0 {
		return defaultLimit
	}
	return s.Limit
}

// DefaultSortOrder returns asc if the order is empty or unrecognized.
func (s Spec) DefaultSortOrder() SortOrder {
	if s.SortOrder != SortAsc && s.SortOrder != SortDesc {
		return SortAsc
	}
	return s.SortOrder
}

func matches(c Criterion, value interface{}, present bool) bool {
	if !present {
		return false
	}
	switch c.Operator {
	case OpIn:
		for _, candidate := range c.Values {
			if equalValues(value, candidate) {
				return true
			}
		}
		return false
	default:
		// Equality is the default operator, mirroring "field = value".
		return equalValues(value, c.Value)
	}
}

func equalValues(a, b interface{}) bool {
	if a == b {
		return true
	}
	// Numeric comparisons across int widths show up when specs are decoded
	// from JSON. Normalize through float64.
	af, aok := asFloat(a)
	bf, bok := asFloat(b)
	return aok && bok && af == bf
}

func asFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}
