package query

import (
	"fmt"
	"strings"
)

// BuildResult holds the assembled SQL fragments for a Spec.
type BuildResult struct {
	Where   string
	OrderBy string
	Paging  string
	Args    []interface{}
}

// BuildSQL translates a Spec into WHERE/ORDER BY/LIMIT fragments. The
// columns map declares the queryable fields and their column names; a filter
// on an undeclared field produces an error, while a sort on an undeclared
// field sets Unsortable so the caller can return an empty result.
func BuildSQL(spec Spec, columns map[string]string, argStart int) (BuildResult, bool, error) {
	var result BuildResult
	var conditions []string
	pos := argStart

	for _, criterion := range spec.Filters {
		column, ok := columns[criterion.Field]
		if !ok {
			return result, false, fmt.Errorf("unknown filter field: %s", criterion.Field)
		}
		switch criterion.Operator {
		case OpIn:
			if len(criterion.Values) == 0 {
				conditions = append(conditions, "FALSE")
				continue
			}
			placeholders := make([]string, 0, len(criterion.Values))
			for _, value := range criterion.Values {
				placeholders = append(placeholders, fmt.Sprintf("$%d", pos))
				result.Args = append(result.Args, value)
				pos++
			}
			conditions = append(conditions, fmt.Sprintf("%s IN (%s)", column, strings.Join(placeholders, ", ")))
		default:
			conditions = append(conditions, fmt.Sprintf("%s = $%d", column, pos))
			result.Args = append(result.Args, criterion.Value)
			pos++
		}
	}
	if len(conditions) > 0 {
		result.Where = strings.Join(conditions, " AND ")
	}

	if spec.SortField != "" {
		column, ok := columns[spec.SortField]
		if !ok {
			return result, false, nil
		}
		direction := "ASC"
		if spec.DefaultSortOrder() == SortDesc {
			direction = "DESC"
		}
		result.OrderBy = fmt.Sprintf("%s %s", column, direction)
	}

	result.Paging = fmt.Sprintf("LIMIT %d OFFSET %d", spec.EffectiveLimit(), spec.Offset)
	return result, true, nil
}
