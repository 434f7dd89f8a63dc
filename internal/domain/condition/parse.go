package condition

import (
	"fmt"
	"sort"
	"strings"
)

// Parse builds an Expr from its tagged-variant form as decoded from YAML or JSON:
//
//	{field: advance_notice_days, op: gte, value: 14}
//	{field: department, op: in, values: [ops, support]}
//	{field: cost_center, op: exists}
//	{all: [...]}, {any: [...]}, {not: {...}}, {always: true}
//
// A nil or empty spec parses to Always.
func Parse(spec map[string]interface{}) (Expr, error) {
	if len(spec) == 0 {
		return Always{}, nil
	}

	if v, ok := spec["all"]; ok {
		terms, err := parseTerms("all", v)
		if err != nil {
			return nil, err
		}
		return All{Terms: terms}, nil
	}
	if v, ok := spec["any"]; ok {
		terms, err := parseTerms("any", v)
		if err != nil {
			return nil, err
		}
		return Any{Terms: terms}, nil
	}
	if v, ok := spec["not"]; ok {
		m, ok := asMap(v)
		if !ok {
			return nil, fmt.Errorf("%w: not expects a single condition", ErrInvalidCondition)
		}
		term, err := Parse(m)
		if err != nil {
			return nil, err
		}
		return Not{Term: term}, nil
	}
	if v, ok := spec["always"]; ok {
		if b, ok := v.(bool); ok && !b {
			return Not{Term: Always{}}, nil
		}
		return Always{}, nil
	}

	return parseLeaf(spec)
}

// MustParse is Parse for literals in code; it panics on error
func MustParse(spec map[string]interface{}) Expr {
	e, err := Parse(spec)
	if err != nil {
		panic(err)
	}
	return e
}

func parseLeaf(spec map[string]interface{}) (Expr, error) {
	field, _ := spec["field"].(string)
	field = strings.TrimSpace(field)
	if field == "" {
		return nil, fmt.Errorf("%w: missing field in %s", ErrInvalidCondition, describe(spec))
	}

	opName, _ := spec["op"].(string)
	op := Op(strings.ToLower(strings.TrimSpace(opName)))

	switch op {
	case OpEq, OpNe, OpGt, OpGte, OpLt, OpLte:
		value, ok := spec["value"]
		if !ok {
			return nil, fmt.Errorf("%w: %s on %s requires a value", ErrInvalidCondition, op, field)
		}
		if !isScalar(value) {
			return nil, fmt.Errorf("%w: %s on %s requires a scalar value", ErrInvalidCondition, op, field)
		}
		return Compare{Field: field, Op: op, Value: value}, nil

	case OpIn, OpNotIn:
		raw, ok := spec["values"].([]interface{})
		if !ok {
			return nil, fmt.Errorf("%w: %s on %s requires a values list", ErrInvalidCondition, op, field)
		}
		for _, v := range raw {
			if !isScalar(v) {
				return nil, fmt.Errorf("%w: %s on %s accepts scalar values only", ErrInvalidCondition, op, field)
			}
		}
		values := append([]interface{}(nil), raw...)
		return Membership{Field: field, Values: values, Negate: op == OpNotIn}, nil

	case OpExists:
		return Exists{Field: field}, nil
	}

	return nil, fmt.Errorf("%w: unknown operator %q on %s", ErrInvalidCondition, opName, field)
}

func parseTerms(name string, v interface{}) ([]Expr, error) {
	list, ok := v.([]interface{})
	if !ok || len(list) == 0 {
		return nil, fmt.Errorf("%w: %s expects a non-empty list", ErrInvalidCondition, name)
	}

	terms := make([]Expr, 0, len(list))
	for i, item := range list {
		m, ok := asMap(item)
		if !ok {
			return nil, fmt.Errorf("%w: %s[%d] is not a condition", ErrInvalidCondition, name, i)
		}
		term, err := Parse(m)
		if err != nil {
			return nil, err
		}
		terms = append(terms, term)
	}
	return terms, nil
}

func asMap(v interface{}) (map[string]interface{}, bool) {
	switch m := v.(type) {
	case map[string]interface{}:
		return m, true
	case map[interface{}]interface{}:
		out := make(map[string]interface{}, len(m))
		for k, val := range m {
			out[fmt.Sprint(k)] = val
		}
		return out, true
	}
	return nil, false
}

func isScalar(v interface{}) bool {
	if _, ok := toNumber(v); ok {
		return true
	}
	switch v.(type) {
	case string, bool:
		return true
	}
	return false
}

func describe(spec map[string]interface{}) string {
	keys := make([]string, 0, len(spec))
	for k := range spec {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return "{" + strings.Join(keys, ",") + "}"
}
