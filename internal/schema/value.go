package schema

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Value is a sealed interface representing constrained attribute value types.
// Only Null, String, Int, Float, Bool, and Time implement this.
//
// Unlike an event-log IR, record attributes legitimately carry reals
// (prices, meter readings), so Float is part of the model. Determinism is
// preserved because derived transforms only ever see values the store
// round-trips through the same JSON representation.
type Value interface {
	value() // Sealed - only these types implement it
}

// Null represents an absent attribute value.
// Using an explicit type ensures all Values satisfy the sealed interface.
type Null struct{}

func (Null) value() {}

// String represents a text value (also url, mail, address, contact, json,
// geo, pattern, enum members, and foreign-key identifiers).
type String string

func (String) value() {}

// Int represents an integer value. Always int64.
type Int int64

func (Int) value() {}

// Float represents a real-number value.
type Float float64

func (Float) value() {}

// Bool represents a boolean value.
type Bool bool

func (Bool) value() {}

// Time represents a date or timestamp value.
// Persisted as RFC 3339 text.
type Time struct {
	T time.Time
}

func (Time) value() {}

// NewTime creates a Time value.
func NewTime(t time.Time) Time {
	return Time{T: t.UTC()}
}

// IsNull reports whether v is absent (nil interface or Null).
func IsNull(v Value) bool {
	if v == nil {
		return true
	}
	_, ok := v.(Null)
	return ok
}

// Numeric extracts a float64 from an Int or Float value.
// The second return is false for every other value type.
func Numeric(v Value) (float64, bool) {
	switch n := v.(type) {
	case Int:
		return float64(n), true
	case Float:
		return float64(n), true
	default:
		return 0, false
	}
}

// Compare returns -1, 0, or 1 ordering a before, equal to, or after b.
// Values compare within their own type; Int and Float compare numerically
// with each other. Null orders before everything. Comparing unrelated
// types (e.g. String vs Bool) returns an error - the registry guarantees
// this never happens for values of the same attribute.
func Compare(a, b Value) (int, error) {
	an, bn := IsNull(a), IsNull(b)
	switch {
	case an && bn:
		return 0, nil
	case an:
		return -1, nil
	case bn:
		return 1, nil
	}

	if af, aok := Numeric(a); aok {
		if bf, bok := Numeric(b); bok {
			switch {
			case af < bf:
				return -1, nil
			case af > bf:
				return 1, nil
			default:
				return 0, nil
			}
		}
		return 0, fmt.Errorf("cannot compare %T with %T", a, b)
	}

	switch av := a.(type) {
	case String:
		bv, ok := b.(String)
		if !ok {
			return 0, fmt.Errorf("cannot compare %T with %T", a, b)
		}
		return strings.Compare(string(av), string(bv)), nil
	case Bool:
		bv, ok := b.(Bool)
		if !ok {
			return 0, fmt.Errorf("cannot compare %T with %T", a, b)
		}
		switch {
		case av == bv:
			return 0, nil
		case !bool(av):
			return -1, nil
		default:
			return 1, nil
		}
	case Time:
		bv, ok := b.(Time)
		if !ok {
			return 0, fmt.Errorf("cannot compare %T with %T", a, b)
		}
		switch {
		case av.T.Before(bv.T):
			return -1, nil
		case av.T.After(bv.T):
			return 1, nil
		default:
			return 0, nil
		}
	default:
		return 0, fmt.Errorf("unsupported value type: %T", a)
	}
}

// Equal reports whether two values are equal under Compare semantics.
// Unrelated types are simply unequal.
func Equal(a, b Value) bool {
	c, err := Compare(a, b)
	return err == nil && c == 0
}

// Key renders a value as a stable string, used for partition-key identity
// and composite-key rendering in messages.
func Key(v Value) string {
	switch val := v.(type) {
	case nil, Null:
		return "null"
	case String:
		return string(val)
	case Int:
		return strconv.FormatInt(int64(val), 10)
	case Float:
		return strconv.FormatFloat(float64(val), 'g', -1, 64)
	case Bool:
		return strconv.FormatBool(bool(val))
	case Time:
		return val.T.Format(time.RFC3339Nano)
	default:
		return fmt.Sprintf("%v", val)
	}
}

// ToAny converts a Value to its plain-Go JSON representation.
// Used by the store when serializing attribute maps.
func ToAny(v Value) any {
	switch val := v.(type) {
	case nil, Null:
		return nil
	case String:
		return string(val)
	case Int:
		return int64(val)
	case Float:
		return float64(val)
	case Bool:
		return bool(val)
	case Time:
		return val.T.Format(time.RFC3339Nano)
	default:
		return nil
	}
}

// Coerce converts a decoded JSON/YAML scalar into the Value for a semantic
// type. Inputs come from encoding/json (string, bool, float64, json.Number,
// nil) or yaml.v3 (additionally int, int64, time.Time).
func Coerce(t SemanticType, raw any) (Value, error) {
	if raw == nil {
		return Null{}, nil
	}

	switch t {
	case TypeInt:
		switch n := raw.(type) {
		case int:
			return Int(n), nil
		case int64:
			return Int(n), nil
		case float64:
			if n != float64(int64(n)) {
				return nil, fmt.Errorf("not an integer: %v", n)
			}
			return Int(int64(n)), nil
		case json.Number:
			i, err := n.Int64()
			if err != nil {
				return nil, fmt.Errorf("not an integer: %s", n)
			}
			return Int(i), nil
		}
		return nil, fmt.Errorf("cannot coerce %T to int", raw)

	case TypeNumber:
		switch n := raw.(type) {
		case int:
			return Float(n), nil
		case int64:
			return Float(n), nil
		case float64:
			return Float(n), nil
		case json.Number:
			f, err := n.Float64()
			if err != nil {
				return nil, fmt.Errorf("not a number: %s", n)
			}
			return Float(f), nil
		}
		return nil, fmt.Errorf("cannot coerce %T to number", raw)

	case TypeBool:
		if b, ok := raw.(bool); ok {
			return Bool(b), nil
		}
		return nil, fmt.Errorf("cannot coerce %T to bool", raw)

	case TypeDate:
		switch d := raw.(type) {
		case time.Time:
			return NewTime(d), nil
		case string:
			return ParseTime(d)
		}
		return nil, fmt.Errorf("cannot coerce %T to date", raw)

	default:
		// All remaining semantic types are carried as text.
		if s, ok := raw.(string); ok {
			return String(s), nil
		}
		return nil, fmt.Errorf("cannot coerce %T to %s", raw, t)
	}
}

// ParseTime parses a date value from RFC 3339 or plain YYYY-MM-DD text.
func ParseTime(s string) (Value, error) {
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return NewTime(t), nil
	}
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return NewTime(t), nil
	}
	return nil, fmt.Errorf("invalid date %q: want RFC 3339 or YYYY-MM-DD", s)
}
