package ir

import (
	"cmp"
	"strconv"
)

// Value is a sealed interface over the scalar values a row may hold.
// Only Null, Int, Text and Bool implement it.
type Value interface {
	irValue() // Sealed - only these types implement it
}

// Null is the SQL NULL value.
type Null struct{}

func (Null) irValue() {}

// Int is a 64-bit signed integer value.
type Int int64

func (Int) irValue() {}

// Text is a string value.
type Text string

func (Text) irValue() {}

// Bool is a boolean value.
type Bool bool

func (Bool) irValue() {}

// IsNull reports whether v is the SQL NULL value.
// A nil interface is treated as NULL.
func IsNull(v Value) bool {
	if v == nil {
		return true
	}
	_, ok := v.(Null)
	return ok
}

// TypeOf returns the scalar type of a value. NULL has TypeNull.
func TypeOf(v Value) ScalarType {
	switch v.(type) {
	case Int:
		return TypeInt
	case Text:
		return TypeText
	case Bool:
		return TypeBool
	default:
		return TypeNull
	}
}

// kindRank orders values of different types: NULL < bool < int < text.
func kindRank(v Value) int {
	switch v.(type) {
	case Bool:
		return 1
	case Int:
		return 2
	case Text:
		return 3
	default:
		return 0
	}
}

// Compare imposes a total order over values. It is used for deterministic
// output ordering and ORDER BY, never for SQL comparison semantics (which
// treat NULL as unknown).
func Compare(a, b Value) int {
	ra, rb := kindRank(a), kindRank(b)
	if ra != rb {
		return cmp.Compare(ra, rb)
	}
	switch av := a.(type) {
	case Bool:
		bv := b.(Bool)
		switch {
		case av == bv:
			return 0
		case !bool(av):
			return -1
		default:
			return 1
		}
	case Int:
		return cmp.Compare(av, b.(Int))
	case Text:
		return cmp.Compare(normalizeText(string(av)), normalizeText(string(b.(Text))))
	default:
		return 0
	}
}

// Equal reports whether two values are identical. NULL equals NULL here.
func Equal(a, b Value) bool {
	return Compare(a, b) == 0
}

// Format renders a value the way explain output and the CLI show it.
func Format(v Value) string {
	switch val := v.(type) {
	case Int:
		return strconv.FormatInt(int64(val), 10)
	case Text:
		return strconv.Quote(string(val))
	case Bool:
		return strconv.FormatBool(bool(val))
	default:
		return "null"
	}
}

// Native converts a value to a plain Go value for JSON output.
func Native(v Value) any {
	switch val := v.(type) {
	case Int:
		return int64(val)
	case Text:
		return string(val)
	case Bool:
		return bool(val)
	default:
		return nil
	}
}

// FromNative converts a decoded Go value (from YAML, JSON or CUE) to a Value.
// Floats are rejected unless they are integral.
func FromNative(x any) (Value, error) {
	switch val := x.(type) {
	case nil:
		return Null{}, nil
	case Value:
		return val, nil
	case string:
		return Text(val), nil
	case bool:
		return Bool(val), nil
	case int:
		return Int(val), nil
	case int64:
		return Int(val), nil
	case int32:
		return Int(val), nil
	case uint64:
		if val > 1<<63-1 {
			return nil, &ValueError{Value: x, Message: "integer overflows int64"}
		}
		return Int(val), nil
	case float64:
		if val != float64(int64(val)) {
			return nil, &ValueError{Value: x, Message: "floats are not supported"}
		}
		return Int(int64(val)), nil
	default:
		return nil, &ValueError{Value: x, Message: "unsupported value type"}
	}
}

// ValueError reports a value that cannot be represented.
type ValueError struct {
	Value   any
	Message string
}

func (e *ValueError) Error() string {
	return e.Message + ": " + strconv.Quote(fmtAny(e.Value))
}
