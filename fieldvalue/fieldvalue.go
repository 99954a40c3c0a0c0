// Package fieldvalue models the scalar values a search engine accepts in term
// queries and returns as composite aggregation keys.
package fieldvalue

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Kind identifies the variant held by a Value.
type Kind int

const (
	KindNull Kind = iota
	KindLong
	KindDouble
	KindString
	KindBool
	KindList
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindLong:
		return "long"
	case KindDouble:
		return "double"
	case KindString:
		return "string"
	case KindBool:
		return "bool"
	case KindList:
		return "list"
	default:
		return "unknown"
	}
}

// Value is one of Null, Long, Double, String, Bool or List.
// The set is closed; values are created through the constructors or Of.
type Value interface {
	Kind() Kind
	// Interface returns the value as it is encoded in a request body.
	Interface() any
	String() string
	isValue()
}

type Null struct{}

type Long int64

type Double float64

type String string

type Bool bool

// List is a homogeneous list of scalar values.
type List struct {
	elem   Kind
	values []Value
}

func (Null) Kind() Kind { return KindNull }
func (Null) Interface() any { return nil }
func (Null) String() string { return "null" }
func (Null) isValue() {}
func (v Long) Kind() Kind { return KindLong }
func (v Long) Interface() any { return int64(v) }
func (v Long) String() string { return strconv.FormatInt(int64(v), 10) }
func (Long) isValue() {}
func (v Double) Kind() Kind { return KindDouble }
func (v Double) Interface() any { return float64(v) }
func (v Double) String() string { return strconv.FormatFloat(float64(v), 'f', -1, 64) }
func (Double) isValue() {}
func (v String) Kind() Kind { return KindString }
func (v String) Interface() any { return string(v) }
func (v String) String() string { return string(v) }
func (String) isValue() {}
func (v Bool) Kind() Kind { return KindBool }
func (v Bool) Interface() any { return bool(v) }
func (v Bool) String() string { return strconv.FormatBool(bool(v)) }
func (Bool) isValue() {}
func (l List) Kind() Kind { return KindList }
func (List) isValue() {}

// Elem returns the kind shared by all list members, KindNull for an empty list.
func (l List) Elem() Kind { return l.elem }

// Values returns a copy of the list members.
func (l List) Values() []Value {
	out := make([]Value, len(l.values))
	copy(out, l.values)
	return out
}

func (l List) Len() int { return len(l.values) }

func (l List) Interface() any {
	out := make([]any, len(l.values))
	for i, v := range l.values {
		out[i] = v.Interface()
	}
	return out
}

func (l List) String() string {
	parts := make([]string, len(l.values))
	for i, v := range l.values {
		parts[i] = v.String()
	}
	return "[" + strings.Join(parts, ",") + "]"
}

// NewList builds a list, rejecting nested lists and mixed kinds.
func NewList(values ...Value) (List, error) {
	l := List{values: make([]Value, 0, len(values))}
	for i, v := range values {
		if v == nil || v.Kind() == KindNull {
			return List{}, &TypeError{Value: v, Reason: fmt.Sprintf("list element %d is null", i)}
		}
		if v.Kind() == KindList {
			return List{}, &TypeError{Value: v, Reason: "nested lists are not supported"}
		}
		if i == 0 {
			l.elem = v.Kind()
		} else if v.Kind() != l.elem {
			return List{}, &TypeError{Value: v, Reason: fmt.Sprintf("list element %d is %s, expected %s", i, v.Kind(), l.elem)}
		}
		l.values = append(l.values, v)
	}
	return l, nil
}

// Flatten returns the list members of v, or v itself when it is a scalar.
func Flatten(v Value) []Value {
	if l, ok := v.(List); ok {
		return l.Values()
	}
	return []Value{v}
}

// TypeError reports a value that cannot be represented as a field value.
type TypeError struct {
	Value  any
	Reason string
}

func (e *TypeError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("fieldvalue: unsupported value %v (%T): %s", e.Value, e.Value, e.Reason)
	}
	return fmt.Sprintf("fieldvalue: unsupported type %T", e.Value)
}

// Of converts a native Go value. Unsupported types return a *TypeError.
func Of(v any) (Value, error) {
	switch x := v.(type) {
	case nil:
		return Null{}, nil
	case Value:
		return x, nil
	case int:
		return Long(x), nil
	case int8:
		return Long(x), nil
	case int16:
		return Long(x), nil
	case int32:
		return Long(x), nil
	case int64:
		return Long(x), nil
	case uint8:
		return Long(x), nil
	case uint16:
		return Long(x), nil
	case uint32:
		return Long(x), nil
	case float32:
		return Double(x), nil
	case float64:
		return Double(x), nil
	case json.Number:
		return fromNumber(x)
	case string:
		return String(x), nil
	case bool:
		return Bool(x), nil
	case []int:
		return listOf(x)
	case []int32:
		return listOf(x)
	case []int64:
		return listOf(x)
	case []float64:
		return listOf(x)
	case []string:
		return listOf(x)
	case []bool:
		return listOf(x)
	case []any:
		return listOf(x)
	default:
		return nil, &TypeError{Value: v}
	}
}

// MustOf is like Of but panics on unsupported input. Intended for literals.
func MustOf(v any) Value {
	fv, err := Of(v)
	if err != nil {
		panic(err)
	}
	return fv
}

func listOf[T any](in []T) (Value, error) {
	values := make([]Value, 0, len(in))
	for _, e := range in {
		fv, err := Of(e)
		if err != nil {
			return nil, err
		}
		values = append(values, fv)
	}
	return NewList(values...)
}

func fromNumber(n json.Number) (Value, error) {
	if i, err := n.Int64(); err == nil {
		return Long(i), nil
	}
	f, err := n.Float64()
	if err != nil {
		return nil, &TypeError{Value: n, Reason: err.Error()}
	}
	return Double(f), nil
}

// FromJSON decodes a single JSON value. Integers stay Long.
func FromJSON(raw json.RawMessage) (Value, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("decoding field value: %w", err)
	}
	return Of(v)
}

// Parse infers a value from command line text: integers, floats and booleans
// are recognised, a comma separated input becomes a list, everything else is a string.
func Parse(s string) (Value, error) {
	if strings.Contains(s, ",") {
		parts := strings.Split(s, ",")
		values := make([]Value, 0, len(parts))
		for _, p := range parts {
			values = append(values, parseScalar(strings.TrimSpace(p)))
		}
		return NewList(values...)
	}
	return parseScalar(s), nil
}

func parseScalar(s string) Value {
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return Long(i)
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil && !math.IsInf(f, 0) && !math.IsNaN(f) {
		return Double(f)
	}
	if b, err := strconv.ParseBool(s); err == nil && (s == "true" || s == "false") {
		return Bool(b)
	}
	return String(s)
}

// Equal reports whether a and b hold the same kind and value.
func Equal(a, b Value) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if a.Kind() != b.Kind() {
		return false
	}
	la, ok := a.(List)
	if !ok {
		return a == b
	}
	lb := b.(List)
	if len(la.values) != len(lb.values) {
		return false
	}
	for i := range la.values {
		if !Equal(la.values[i], lb.values[i]) {
			return false
		}
	}
	return true
}
