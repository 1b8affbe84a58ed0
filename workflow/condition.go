package workflow

import (
	"encoding/json"
	"fmt"
)

// CompareOp is a leaf predicate comparator.
type CompareOp string

// Comparators.
const (
	OpEquals   CompareOp = "equals"
	OpIncludes CompareOp = "includes"
	OpIn       CompareOp = "in"
	OpMatches  CompareOp = "matches"
	OpExists   CompareOp = "exists"
	OpAbsent   CompareOp = "absent"
	OpGt       CompareOp = "gt"
	OpGe       CompareOp = "ge"
	OpLt       CompareOp = "lt"
	OpLe       CompareOp = "le"
)

var compareOps = []CompareOp{
	OpEquals, OpIncludes, OpIn, OpMatches, OpExists, OpAbsent,
	OpGt, OpGe, OpLt, OpLe,
}

// Condition is the boolean DSL evaluated over the run scope. It is either
// the literal "always", a leaf predicate (Field + Op + Value), or a
// composite (Any/All/Not).
type Condition struct {
	Always bool

	Field string
	Op    CompareOp
	Value any

	Any []*Condition
	All []*Condition
	Not *Condition
}

// Always is the condition that always fires.
func Always() *Condition {
	return &Condition{Always: true}
}

// FieldOp builds a leaf predicate.
func FieldOp(field string, op CompareOp, value any) *Condition {
	return &Condition{Field: field, Op: op, Value: value}
}

// Equals builds a strict-equality predicate on a scope path.
func Equals(field string, value any) *Condition {
	return FieldOp(field, OpEquals, value)
}

// Exists builds a predicate that fires when the scope path is defined.
func Exists(field string) *Condition {
	return FieldOp(field, OpExists, nil)
}

// AnyOf fires when at least one child fires.
func AnyOf(children ...*Condition) *Condition {
	return &Condition{Any: children}
}

// AllOf fires when every child fires.
func AllOf(children ...*Condition) *Condition {
	return &Condition{All: children}
}

// NotOf inverts a condition.
func NotOf(child *Condition) *Condition {
	return &Condition{Not: child}
}

// UnmarshalJSON accepts either the string "always" or a predicate object
// with exactly one of: a comparator (alongside "field"), "any", "all" or
// "not".
func (c *Condition) UnmarshalJSON(data []byte) error {
	var literal string
	if err := json.Unmarshal(data, &literal); err == nil {
		if literal != "always" {
			return fmt.Errorf("unknown condition literal %q", literal)
		}
		*c = Condition{Always: true}
		return nil
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("condition must be \"always\" or an object: %w", err)
	}

	groups := 0
	for _, key := range []string{"any", "all", "not", "field"} {
		if _, ok := raw[key]; ok {
			groups++
		}
	}
	if groups != 1 {
		return fmt.Errorf("condition needs exactly one of \"field\", \"any\", \"all\" or \"not\"")
	}

	out := Condition{}

	if anyRaw, ok := raw["any"]; ok {
		if err := json.Unmarshal(anyRaw, &out.Any); err != nil {
			return fmt.Errorf("condition any: %w", err)
		}
	}
	if allRaw, ok := raw["all"]; ok {
		if err := json.Unmarshal(allRaw, &out.All); err != nil {
			return fmt.Errorf("condition all: %w", err)
		}
	}
	if notRaw, ok := raw["not"]; ok {
		out.Not = &Condition{}
		if err := json.Unmarshal(notRaw, out.Not); err != nil {
			return fmt.Errorf("condition not: %w", err)
		}
	}

	if fieldRaw, ok := raw["field"]; ok {
		if err := json.Unmarshal(fieldRaw, &out.Field); err != nil {
			return fmt.Errorf("condition field: %w", err)
		}
		for _, op := range compareOps {
			opRaw, ok := raw[string(op)]
			if !ok {
				continue
			}
			if out.Op != "" {
				return fmt.Errorf("condition on %q has multiple comparators", out.Field)
			}
			out.Op = op
			switch op {
			case OpExists, OpAbsent:
				// Flag comparators; the operand is ignored.
			default:
				if err := json.Unmarshal(opRaw, &out.Value); err != nil {
					return fmt.Errorf("condition %s: %w", op, err)
				}
			}
		}
		if out.Op == "" {
			return fmt.Errorf("condition on %q has no comparator", out.Field)
		}
	}

	*c = out
	return nil
}

// MarshalJSON emits the wire form accepted by UnmarshalJSON, so documents
// round-trip.
func (c *Condition) MarshalJSON() ([]byte, error) {
	if c.Always {
		return json.Marshal("always")
	}

	obj := map[string]any{}
	switch {
	case len(c.Any) > 0:
		obj["any"] = c.Any
	case len(c.All) > 0:
		obj["all"] = c.All
	case c.Not != nil:
		obj["not"] = c.Not
	default:
		obj["field"] = c.Field
		switch c.Op {
		case OpExists, OpAbsent:
			obj[string(c.Op)] = true
		default:
			obj[string(c.Op)] = c.Value
		}
	}
	return json.Marshal(obj)
}
