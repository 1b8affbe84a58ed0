package workflow

import (
	"reflect"
	"regexp"
	"strconv"
	"strings"

	"github.com/hyperagent/hyperagent/template"
)

// Evaluate reports whether a condition holds over the given scope.
// Missing scope paths are undefined: every comparator except absent (and a
// negated exists) evaluates to false on them. Evaluation is pure.
func Evaluate(c *Condition, scope map[string]any) bool {
	if c == nil {
		return false
	}
	if c.Always {
		return true
	}

	switch {
	case len(c.All) > 0:
		for _, child := range c.All {
			if !Evaluate(child, scope) {
				return false
			}
		}
		return true
	case len(c.Any) > 0:
		for _, child := range c.Any {
			if Evaluate(child, scope) {
				return true
			}
		}
		return false
	case c.Not != nil:
		return !Evaluate(c.Not, scope)
	}

	value, defined := template.Resolve(c.Field, scope)

	switch c.Op {
	case OpExists:
		return defined && value != nil
	case OpAbsent:
		return !defined || value == nil
	}

	if !defined || value == nil {
		return false
	}

	switch c.Op {
	case OpEquals:
		return scopeEqual(value, c.Value)
	case OpIncludes:
		return includes(value, c.Value)
	case OpIn:
		operands, ok := c.Value.([]any)
		if !ok {
			return false
		}
		for _, operand := range operands {
			if scopeEqual(value, operand) {
				return true
			}
		}
		return false
	case OpMatches:
		pattern, ok := c.Value.(string)
		if !ok {
			return false
		}
		matched, err := regexp.MatchString(pattern, template.Stringify(value))
		return err == nil && matched
	case OpGt, OpGe, OpLt, OpLe:
		left, lok := numeric(value)
		right, rok := numeric(c.Value)
		if !lok || !rok {
			return false
		}
		switch c.Op {
		case OpGt:
			return left > right
		case OpGe:
			return left >= right
		case OpLt:
			return left < right
		default:
			return left <= right
		}
	}
	return false
}

// scopeEqual compares a scope value with a condition operand. Numerics are
// widened before comparison so document literals (ints) match parsed JSON
// values (float64); everything else compares strictly.
func scopeEqual(a, b any) bool {
	if af, ok := rawNumeric(a); ok {
		if bf, ok := rawNumeric(b); ok {
			return af == bf
		}
		return false
	}
	return reflect.DeepEqual(a, b)
}

// includes is string containment for strings and membership for arrays.
func includes(value, operand any) bool {
	switch v := value.(type) {
	case string:
		needle, ok := operand.(string)
		return ok && strings.Contains(v, needle)
	case []any:
		for _, item := range v {
			if scopeEqual(item, operand) {
				return true
			}
		}
	}
	return false
}

// rawNumeric widens Go numeric types without parsing strings.
func rawNumeric(value any) (float64, bool) {
	switch n := value.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint64:
		return float64(n), true
	}
	return 0, false
}

// numeric additionally parses numeric strings, since state bag values are
// always strings.
func numeric(value any) (float64, bool) {
	if f, ok := rawNumeric(value); ok {
		return f, true
	}
	if s, ok := value.(string); ok {
		f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		return f, err == nil
	}
	return 0, false
}
