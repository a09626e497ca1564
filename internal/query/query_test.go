package query

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type record struct {
	ID    string
	State int
	Name  string
}

func recordField(r record, field string) (interface{}, bool) {
	switch field {
	case "id":
		return r.ID, true
	case "state":
		return r.State, true
	case "name":
		return r.Name, true
	}
	return nil, false
}

func sampleRecords() []record {
	return []record{
		{ID: "c", State: 200, Name: "gamma"},
		{ID: "a", State: 100, Name: "alpha"},
		{ID: "b", State: 200, Name: "beta"},
	}
}

func TestApplyFilterEqual(t *testing.T) {
	spec := Spec{Filters: []Criterion{{Field: "state", Operator: OpEqual, Value: 200}}}
	out := Apply(sampleRecords(), spec, recordField)

	require.Len(t, out, 2)
	assert.Equal(t, "c", out[0].ID)
	assert.Equal(t, "b", out[1].ID)
}

func TestApplyFilterIn(t *testing.T) {
	spec := Spec{Filters: []Criterion{{Field: "id", Operator: OpIn, Values: []interface{}{"a", "b"}}}}
	out := Apply(sampleRecords(), spec, recordField)

	require.Len(t, out, 2)
}

func TestApplyFilterUnknownFieldMatchesNothing(t *testing.T) {
	spec := Spec{Filters: []Criterion{{Field: "missing", Operator: OpEqual, Value: 1}}}
	out := Apply(sampleRecords(), spec, recordField)
	assert.Empty(t, out)
}

func TestApplySort(t *testing.T) {
	spec := Spec{SortField: "id"}
	out := Apply(sampleRecords(), spec, recordField)
	require.Len(t, out, 3)
	assert.Equal(t, "a", out[0].ID)
	assert.Equal(t, "c", out[2].ID)

	spec.SortOrder = SortDesc
	out = Apply(sampleRecords(), spec, recordField)
	assert.Equal(t, "c", out[0].ID)
}

func TestApplySortUnknownFieldReturnsEmpty(t *testing.T) {
	spec := Spec{SortField: "does_not_exist"}
	out := Apply(sampleRecords(), spec, recordField)
	assert.Nil(t, out)
}

func TestApplyPagination(t *testing.T) {
	spec := Spec{SortField: "id", Offset: 1, Limit: 1}
	out := Apply(sampleRecords(), spec, recordField)
	require.Len(t, out, 1)
	assert.Equal(t, "b", out[0].ID)

	spec.Offset = 10
	assert.Nil(t, Apply(sampleRecords(), spec, recordField))
}

func TestEffectiveLimitDefault(t *testing.T) {
	assert.Equal(t, defaultLimit, Spec{}.EffectiveLimit())
	assert.Equal(t, 7, Spec{Limit: 7}.EffectiveLimit())
}

func TestNumericEqualityAcrossWidths(t *testing.T) {
	// Specs decoded from JSON carry float64 values.
	spec := Spec{Filters: []Criterion{{Field: "state", Operator: OpEqual, Value: float64(200)}}}
	out := Apply(sampleRecords(), spec, recordField)
	assert.Len(t, out, 2)
}

func TestBuildSQL(t *testing.T) {
	columns := map[string]string{"id": "negotiation_id", "state": "state"}

	spec := Spec{
		Filters:   []Criterion{{Field: "state", Operator: OpEqual, Value: 200}},
		SortField: "id",
		SortOrder: SortDesc,
		Limit:     10,
		Offset:    5,
	}
	built, sortable, err := BuildSQL(spec, columns, 1)
	require.NoError(t, err)
	assert.True(t, sortable)
	assert.Equal(t, "state = $1", built.Where)
	assert.Equal(t, "negotiation_id DESC", built.OrderBy)
	assert.Equal(t, "LIMIT 10 OFFSET 5", built.Paging)
	assert.Equal(t, []interface{}{200}, built.Args)
}

func TestBuildSQLInOperator(t *testing.T) {
	columns := map[string]string{"id": "negotiation_id"}
	spec := Spec{Filters: []Criterion{{Field: "id", Operator: OpIn, Values: []interface{}{"a", "b"}}}}

	built, sortable, err := BuildSQL(spec, columns, 3)
	require.NoError(t, err)
	assert.True(t, sortable)
	assert.Equal(t, "negotiation_id IN ($3, $4)", built.Where)
	assert.Equal(t, []interface{}{"a", "b"}, built.Args)
}

func TestBuildSQLUnknownFilterField(t *testing.T) {
	_, _, err := BuildSQL(Spec{Filters: []Criterion{{Field: "nope", Value: 1}}}, map[string]string{}, 1)
	assert.Error(t, err)
}

func TestBuildSQLUnknownSortFieldIsLenient(t *testing.T) {
	built, sortable, err := BuildSQL(Spec{SortField: "nope"}, map[string]string{"id": "negotiation_id"}, 1)
	assert.NoError(t, err)
	assert.False(t, sortable)
	assert.Empty(t, built.OrderBy)
}
