package condition

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

var timeLayouts = []string{time.RFC3339, "2006-01-02"}

// equal compares two scalars; numbers compare by value across Go numeric types
func equal(a, b interface{}) bool {
	if x, ok := toNumber(a); ok {
		if y, ok := toNumber(b); ok {
			return x == y
		}
		return false
	}

	switch x := a.(type) {
	case string:
		y, ok := b.(string)
		return ok && x == y
	case bool:
		y, ok := b.(bool)
		return ok && x == y
	}
	return false
}

// order returns -1, 0 or 1. Strings that both parse as timestamps compare
// chronologically, other strings lexically.
func order(a, b interface{}) (int, error) {
	if x, ok := toNumber(a); ok {
		y, ok := toNumber(b)
		if !ok {
			return 0, ErrTypeMismatch
		}
		return cmpFloat(x, y), nil
	}

	x, ok := a.(string)
	if !ok {
		return 0, ErrTypeMismatch
	}
	y, ok := b.(string)
	if !ok {
		return 0, ErrTypeMismatch
	}

	if tx, ok := parseTime(x); ok {
		if ty, ok := parseTime(y); ok {
			switch {
			case tx.Before(ty):
				return -1, nil
			case tx.After(ty):
				return 1, nil
			}
			return 0, nil
		}
	}
	return strings.Compare(x, y), nil
}

func cmpFloat(x, y float64) int {
	switch {
	case x < y:
		return -1
	case x > y:
		return 1
	}
	return 0
}

func toNumber(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	case json.Number:
		f, err := strconv.ParseFloat(string(n), 64)
		return f, err == nil
	}
	return 0, false
}

func parseTime(s string) (time.Time, bool) {
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
