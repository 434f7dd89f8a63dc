// Package condition implements the small predicate language used by routing
// rules, transitions and escalation levels. Predicates are parsed once into an
// immutable AST and evaluated against a request's data map; they never execute
// user code and are safe for concurrent use.
package condition

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrInvalidCondition is returned when a condition spec cannot be parsed
var ErrInvalidCondition = errors.New("invalid condition")

// ErrTypeMismatch is returned when an ordering comparison gets incompatible operands
var ErrTypeMismatch = errors.New("condition type mismatch")

// Expr is a parsed predicate
type Expr interface {
	// Eval evaluates the predicate against data
	Eval(data map[string]interface{}) (bool, error)

	// String renders the predicate in a readable form
	String() string
}

// Op is a comparison operator
type Op string

const (
	OpEq     Op = "eq"
	OpNe     Op = "ne"
	OpGt     Op = "gt"
	OpGte    Op = "gte"
	OpLt     Op = "lt"
	OpLte    Op = "lte"
	OpIn     Op = "in"
	OpNotIn  Op = "not_in"
	OpExists Op = "exists"
)

var opSymbols = map[Op]string{
	OpEq:  "==",
	OpNe:  "!=",
	OpGt:  ">",
	OpGte: ">=",
	OpLt:  "<",
	OpLte: "<=",
}

// Always is the predicate that holds for every input
type Always struct{}

func (Always) Eval(map[string]interface{}) (bool, error) { return true, nil }
func (Always) String() string                              { return "always" }

// Compare is a binary comparison between a field and a literal
type Compare struct {
	Field string
	Op    Op
	Value interface{}
}

// Eval implements Expr. A missing field never satisfies a comparison.
func (c Compare) Eval(data map[string]interface{}) (bool, error) {
	actual, ok := Lookup(data, c.Field)
	if !ok || actual == nil {
		return false, nil
	}

	switch c.Op {
	case OpEq:
		return equal(actual, c.Value), nil
	case OpNe:
		return !equal(actual, c.Value), nil
	}

	cmp, err := order(actual, c.Value)
	if err != nil {
		return false, fmt.Errorf("%s: %w", c.String(), err)
	}

	switch c.Op {
	case OpGt:
		return cmp > 0, nil
	case OpGte:
		return cmp >= 0, nil
	case OpLt:
		return cmp < 0, nil
	case OpLte:
		return cmp <= 0, nil
	}
	return false, fmt.Errorf("%w: unknown operator %q", ErrInvalidCondition, c.Op)
}

func (c Compare) String() string {
	return fmt.Sprintf("%s %s %s", c.Field, opSymbols[c.Op], literal(c.Value))
}

// Membership tests whether a field's value is one of a fixed set
type Membership struct {
	Field  string
	Values []interface{}
	Negate bool
}

// Eval implements Expr
func (m Membership) Eval(data map[string]interface{}) (bool, error) {
	actual, ok := Lookup(data, m.Field)
	if !ok || actual == nil {
		return false, nil
	}

	found := false
	for _, v := range m.Values {
		if equal(actual, v) {
			found = true
			break
		}
	}
	return found != m.Negate, nil
}

func (m Membership) String() string {
	parts := make([]string, len(m.Values))
	for i, v := range m.Values {
		parts[i] = literal(v)
	}
	op := "in"
	if m.Negate {
		op = "not in"
	}
	return fmt.Sprintf("%s %s [%s]", m.Field, op, strings.Join(parts, ", "))
}

// Exists holds when the field is present and non-null
type Exists struct {
	Field string
}

func (e Exists) Eval(data map[string]interface{}) (bool, error) {
	v, ok := Lookup(data, e.Field)
	return ok && v != nil, nil
}

func (e Exists) String() string { return fmt.Sprintf("exists(%s)", e.Field) }

// All is a conjunction; it short-circuits on the first false term
type All struct {
	Terms []Expr
}

func (a All) Eval(data map[string]interface{}) (bool, error) {
	for _, t := range a.Terms {
		ok, err := t.Eval(data)
		if err != nil || !ok {
			return false, err
		}
	}
	return true, nil
}

func (a All) String() string { return join(a.Terms, " AND ") }

// Any is a disjunction; it short-circuits on the first true term
type Any struct {
	Terms []Expr
}

func (a Any) Eval(data map[string]interface{}) (bool, error) {
	var firstErr error
	for _, t := range a.Terms {
		ok, err := t.Eval(data)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if ok {
			return true, nil
		}
	}
	return false, firstErr
}

func (a Any) String() string { return join(a.Terms, " OR ") }

// Not negates its term
type Not struct {
	Term Expr
}

func (n Not) Eval(data map[string]interface{}) (bool, error) {
	ok, err := n.Term.Eval(data)
	if err != nil {
		return false, err
	}
	return !ok, nil
}

func (n Not) String() string { return "NOT (" + n.Term.String() + ")" }

// Lookup resolves a dotted field path inside nested maps
func Lookup(data map[string]interface{}, path string) (interface{}, bool) {
	if data == nil || path == "" {
		return nil, false
	}

	var current interface{} = data
	for _, part := range strings.Split(path, ".") {
		switch m := current.(type) {
		case map[string]interface{}:
			v, ok := m[part]
			if !ok {
				return nil, false
			}
			current = v
		case map[interface{}]interface{}:
			v, ok := m[part]
			if !ok {
				return nil, false
			}
			current = v
		default:
			return nil, false
		}
	}
	return current, true
}

// Fields returns the sorted, de-duplicated field paths referenced by e
func Fields(e Expr) []string {
	seen := make(map[string]bool)
	var walk func(Expr)
	walk = func(e Expr) {
		switch v := e.(type) {
		case Compare:
			seen[v.Field] = true
		case Membership:
			seen[v.Field] = true
		case Exists:
			seen[v.Field] = true
		case All:
			for _, t := range v.Terms {
				walk(t)
			}
		case Any:
			for _, t := range v.Terms {
				walk(t)
			}
		case Not:
			walk(v.Term)
		}
	}
	walk(e)

	fields := make([]string, 0, len(seen))
	for f := range seen {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	return fields
}

func join(terms []Expr, sep string) string {
	if len(terms) == 0 {
		return "always"
	}
	parts := make([]string, len(terms))
	for i, t := range terms {
		parts[i] = "(" + t.String() + ")"
	}
	return strings.Join(parts, sep)
}

func literal(v interface{}) string {
	if s, ok := v.(string); ok {
		return fmt.Sprintf("%q", s)
	}
	return fmt.Sprintf("%v", v)
}
