package condition

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_Comparisons(t *testing.T) {
	data := map[string]interface{}{
		"advance_notice_days": 20,
		"department":          "ops",
		"start_date":          "2026-11-02",
		"employee":            map[string]interface{}{"grade": 7.0},
	}

	tests := []struct {
		name string
		spec map[string]interface{}
		want bool
	}{
		{"gte int vs int", map[string]interface{}{"field": "advance_notice_days", "op": "gte", "value": 14}, true},
		{"lt int vs float", map[string]interface{}{"field": "advance_notice_days", "op": "lt", "value": 20.5}, true},
		{"eq string", map[string]interface{}{"field": "department", "op": "eq", "value": "ops"}, true},
		{"ne string", map[string]interface{}{"field": "department", "op": "ne", "value": "ops"}, false},
		{"nested path", map[string]interface{}{"field": "employee.grade", "op": "eq", "value": 7}, true},
		{"date ordering", map[string]interface{}{"field": "start_date", "op": "gt", "value": "2026-10-31"}, true},
		{"missing field", map[string]interface{}{"field": "overtime_hours", "op": "gt", "value": 1}, false},
		{"missing field ne", map[string]interface{}{"field": "overtime_hours", "op": "ne", "value": 1}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			expr, err := Parse(tt.spec)
			require.NoError(t, err)

			got, err := expr.Eval(data)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParse_BooleanComposition(t *testing.T) {
	expr, err := Parse(map[string]interface{}{
		"all": []interface{}{
			map[string]interface{}{"field": "days", "op": "lte", "value": 5},
			map[string]interface{}{"any": []interface{}{
				map[string]interface{}{"field": "department", "op": "in", "values": []interface{}{"ops", "support"}},
				map[string]interface{}{"not": map[string]interface{}{"field": "contractor", "op": "exists"}},
			}},
		},
	})
	require.NoError(t, err)

	ok, err := expr.Eval(map[string]interface{}{"days": 3, "department": "sales"})
	require.NoError(t, err)
	assert.True(t, ok, "no contractor flag satisfies the NOT branch")

	ok, err = expr.Eval(map[string]interface{}{"days": 3, "department": "sales", "contractor": true})
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = expr.Eval(map[string]interface{}{"days": 9, "department": "ops"})
	require.NoError(t, err)
	assert.False(t, ok)

	assert.Equal(t, []string{"contractor", "days", "department"}, Fields(expr))
}

func TestParse_EmptyIsAlways(t *testing.T) {
	expr, err := Parse(nil)
	require.NoError(t, err)
	assert.Equal(t, "always", expr.String())

	ok, err := expr.Eval(nil)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestParse_Errors(t *testing.T) {
	specs := []map[string]interface{}{
		{"op": "eq", "value": 1},
		{"field": "x", "op": "matches", "value": ".*"},
		{"field": "x", "op": "eq"},
		{"field": "x", "op": "in", "values": "a"},
		{"field": "x", "op": "eq", "value": []interface{}{1}},
		{"all": []interface{}{}},
		{"not": "x"},
	}

	for _, spec := range specs {
		_, err := Parse(spec)
		assert.Error(t, err, "spec %v", spec)
		assert.True(t, errors.Is(err, ErrInvalidCondition))
	}
}

func TestEval_TypeMismatch(t *testing.T) {
	expr := MustParse(map[string]interface{}{"field": "days", "op": "gt", "value": 3})

	_, err := expr.Eval(map[string]interface{}{"days": "many"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrTypeMismatch))
}

func TestEval_JSONNumbers(t *testing.T) {
	expr := MustParse(map[string]interface{}{"field": "hours", "op": "gte", "value": 8})

	ok, err := expr.Eval(map[string]interface{}{"hours": json.Number("12")})
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestString(t *testing.T) {
	expr := MustParse(map[string]interface{}{
		"all": []interface{}{
			map[string]interface{}{"field": "advance_notice_days", "op": "gte", "value": 14},
			map[string]interface{}{"field": "type", "op": "not_in", "values": []interface{}{"unpaid"}},
		},
	})
	assert.Equal(t, `(advance_notice_days >= 14) AND (type not in ["unpaid"])`, expr.String())
}
