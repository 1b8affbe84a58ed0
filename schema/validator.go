package schema

import (
	"math"
	"reflect"
	"strconv"
)

// Validate coerces a candidate value against the compiled schema.
// A nil candidate adopts the schema default when one is declared.
// The returned value is fully coerced; validating it again yields the
// same value.
func (v *Validator) Validate(value any) (any, error) {
	return v.validate(value, "")
}

func (v *Validator) validate(value any, path string) (any, error) {
	s := v.schema

	if value == nil {
		if s.Default != nil {
			value = deepCopy(s.Default)
		} else if v.Kind() == TypeUnknown {
			return nil, nil
		} else {
			return nil, errAt(path, "value is required")
		}
	}

	var (
		out any
		err error
	)
	switch v.Kind() {
	case TypeUnknown:
		out = value
	case TypeString:
		out, err = v.validateString(value, path)
	case TypeNumber:
		out, err = v.validateNumber(value, path)
	case TypeBoolean:
		out, err = v.validateBoolean(value, path)
	case TypeArray:
		out, err = v.validateArray(value, path)
	case TypeObject:
		out, err = v.validateObject(value, path)
	}
	if err != nil {
		return nil, err
	}

	if len(s.Enum) > 0 && !enumContains(s.Enum, out) {
		return nil, &Error{Path: path, Message: "value is not one of the allowed values", Value: out}
	}

	return out, nil
}

func (v *Validator) validateString(value any, path string) (any, error) {
	str, ok := value.(string)
	if !ok {
		return nil, &Error{Path: path, Message: "expected a string", Value: value}
	}
	s := v.schema
	if s.MinLength != nil && len(str) < *s.MinLength {
		return nil, errAt(path, "string shorter than minLength %d", *s.MinLength)
	}
	if s.MaxLength != nil && len(str) > *s.MaxLength {
		return nil, errAt(path, "string longer than maxLength %d", *s.MaxLength)
	}
	if v.pattern != nil && !v.pattern.MatchString(str) {
		return nil, errAt(path, "string does not match pattern %q", s.Pattern)
	}
	return str, nil
}

func (v *Validator) validateNumber(value any, path string) (any, error) {
	f, ok := asFloat(value)
	if !ok {
		return nil, &Error{Path: path, Message: "expected a number", Value: value}
	}
	s := v.schema
	if s.Integer {
		f = math.Round(f)
	}
	if s.Minimum != nil && f < *s.Minimum {
		return nil, errAt(path, "number below minimum %v", *s.Minimum)
	}
	if s.Maximum != nil && f > *s.Maximum {
		return nil, errAt(path, "number above maximum %v", *s.Maximum)
	}
	return f, nil
}

func (v *Validator) validateBoolean(value any, path string) (any, error) {
	b, ok := value.(bool)
	if !ok {
		return nil, &Error{Path: path, Message: "expected a boolean", Value: value}
	}
	return b, nil
}

func (v *Validator) validateArray(value any, path string) (any, error) {
	arr, ok := asSlice(value)
	if !ok {
		return nil, &Error{Path: path, Message: "expected an array", Value: value}
	}
	out := make([]any, len(arr))
	for i, item := range arr {
		coerced, err := v.items.validate(item, joinPath(path, indexSegment(i)))
		if err != nil {
			return nil, err
		}
		out[i] = coerced
	}
	return out, nil
}

func (v *Validator) validateObject(value any, path string) (any, error) {
	obj, ok := asMap(value)
	if !ok {
		return nil, &Error{Path: path, Message: "expected an object", Value: value}
	}
	s := v.schema

	out := make(map[string]any, len(obj))

	// Declared properties first, applying defaults for absent keys.
	for _, key := range v.propOrder {
		pv := v.properties[key]
		raw, present := obj[key]
		if !present {
			if pv.schema.Default == nil {
				continue
			}
			raw = nil // validate adopts the default
		}
		coerced, err := pv.validate(raw, joinPath(path, key))
		if err != nil {
			return nil, err
		}
		out[key] = coerced
	}

	// Unknown properties are preserved unless additionalProperties is
	// explicitly false.
	for key, raw := range obj {
		if _, declared := v.properties[key]; declared {
			continue
		}
		if s.AdditionalProperties != nil && !*s.AdditionalProperties {
			return nil, errAt(path, "unknown property %q", key)
		}
		out[key] = raw
	}

	for _, req := range s.Required {
		if _, ok := out[req]; !ok {
			return nil, errAt(path, "missing required key %q", req)
		}
	}

	return out, nil
}

// asFloat widens any Go numeric type to float64.
func asFloat(value any) (float64, bool) {
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
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	}
	return 0, false
}

func asSlice(value any) ([]any, bool) {
	if arr, ok := value.([]any); ok {
		return arr, true
	}
	rv := reflect.ValueOf(value)
	if rv.Kind() != reflect.Slice {
		return nil, false
	}
	// []byte is a buffer, not an array of values.
	if _, isBytes := value.([]byte); isBytes {
		return nil, false
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, true
}

func asMap(value any) (map[string]any, bool) {
	if m, ok := value.(map[string]any); ok {
		return m, true
	}
	if m, ok := value.(map[string]string); ok {
		out := make(map[string]any, len(m))
		for k, v := range m {
			out[k] = v
		}
		return out, true
	}
	return nil, false
}

func enumContains(enum []any, value any) bool {
	for _, allowed := range enum {
		if looseEqual(allowed, value) {
			return true
		}
	}
	return false
}

// looseEqual compares values after widening numerics, so an enum declared
// as ints matches coerced float64 values.
func looseEqual(a, b any) bool {
	if af, ok := asFloat(a); ok {
		if bf, ok := asFloat(b); ok {
			return af == bf
		}
		return false
	}
	return reflect.DeepEqual(a, b)
}

func deepCopy(value any) any {
	switch v := value.(type) {
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, item := range v {
			out[k] = deepCopy(item)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = deepCopy(item)
		}
		return out
	default:
		return value
	}
}

func indexSegment(i int) string {
	return strconv.Itoa(i)
}
