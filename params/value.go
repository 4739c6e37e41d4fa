// Package params models SQL statement parameters: a tagged Value of one of
// the SQLite storage classes, and Params which binds Values either by
// position or by name. Params have a stable JSON wire form, which is used
// to durably record statements that must later be replayed.
package params

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// Kind is the storage class of a Value.
type Kind int

const (
	Null Kind = iota
	Integer
	Real
	Text
	Blob
)

func (k Kind) String() string {
	switch k {
	case Null:
		return "Null"
	case Integer:
		return "Integer"
	case Real:
		return "Real"
	case Text:
		return "Text"
	case Blob:
		return "Blob"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Value is a single SQL value. The zero Value is NULL.
type Value struct {
	kind Kind
	i    int64
	f    float64
	s    string
	b    []byte
}

// NullValue returns a NULL Value.
func NullValue() Value { return Value{} }

// Int returns an Integer Value.
func Int(i int64) Value { return Value{kind: Integer, i: i} }

// Float returns a Real Value.
func Float(f float64) Value { return Value{kind: Real, f: f} }

// Str returns a Text Value.
func Str(s string) Value { return Value{kind: Text, s: s} }

// Bytes returns a Blob Value. A nil slice is an empty blob, not NULL.
func Bytes(b []byte) Value {
	if b == nil {
		b = []byte{}
	}
	return Value{kind: Blob, b: b}
}

// FromAny maps a value produced by a database/sql driver (or supplied by a
// caller) to a Value. Unsupported types are an error.
func FromAny(v interface{}) (Value, error) {
	switch t := v.(type) {
	case nil:
		return NullValue(), nil
	case Value:
		return t, nil
	case int64:
		return Int(t), nil
	case int:
		return Int(int64(t)), nil
	case int32:
		return Int(int64(t)), nil
	case float64:
		return Float(t), nil
	case float32:
		return Float(float64(t)), nil
	case bool:
		if t {
			return Int(1), nil
		}
		return Int(0), nil
	case string:
		return Str(t), nil
	case []byte:
		return Bytes(append([]byte(nil), t...)), nil
	case time.Time:
		return Str(t.Format(time.RFC3339Nano)), nil
	default:
		return Value{}, fmt.Errorf("unsupported parameter type %T", v)
	}
}

// Kind of the Value.
func (v Value) Kind() Kind { return v.kind }

// IsNull is true if the Value is NULL.
func (v Value) IsNull() bool { return v.kind == Null }

// Int64 returns the Integer payload, and whether the Value is an Integer.
func (v Value) Int64() (int64, bool) { return v.i, v.kind == Integer }

// Float64 returns the Real payload, and whether the Value is a Real.
func (v Value) Float64() (float64, bool) { return v.f, v.kind == Real }

// Text returns the Text payload, and whether the Value is Text.
func (v Value) Text() (string, bool) { return v.s, v.kind == Text }

// Blob returns the Blob payload, and whether the Value is a Blob.
func (v Value) Blob() ([]byte, bool) { return v.b, v.kind == Blob }

// Any returns the Value as a database/sql driver argument.
func (v Value) Any() interface{} {
	switch v.kind {
	case Integer:
		return v.i
	case Real:
		return v.f
	case Text:
		return v.s
	case Blob:
		return v.b
	default:
		return nil
	}
}

// Equal is true if |v| and |other| have the same Kind and payload.
// Real values compare bitwise, so that NaN equals itself.
func (v Value) Equal(other Value) bool {
	if v.kind != other.kind {
		return false
	}
	switch v.kind {
	case Integer:
		return v.i == other.i
	case Real:
		return math.Float64bits(v.f) == math.Float64bits(other.f)
	case Text:
		return v.s == other.s
	case Blob:
		return bytes.Equal(v.b, other.b)
	default:
		return true
	}
}

// String renders the Value as SQL literal text.
func (v Value) String() string {
	switch v.kind {
	case Integer:
		return strconv.FormatInt(v.i, 10)
	case Real:
		return formatReal(v.f)
	case Text:
		return "'" + strings.ReplaceAll(v.s, "'", "''") + "'"
	case Blob:
		return "X'" + strings.ToUpper(hex.EncodeToString(v.b)) + "'"
	default:
		return "NULL"
	}
}

// formatReal formats |f| such that it always reads back as a Real,
// by ensuring a fraction or exponent is present.
func formatReal(f float64) string {
	var s = strconv.FormatFloat(f, 'g', -1, 64)
	if !strings.ContainsAny(s, ".eEnN") {
		s += ".0"
	}
	return s
}

// ParseLiteral maps loosely-typed text, such as a command-line argument, to
// a Value. Integers and reals are recognized, as is a case-insensitive NULL.
// A literal of the form X'ABCD' is a Blob. Anything else is Text.
func ParseLiteral(s string) Value {
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return Int(i)
	} else if f, err := strconv.ParseFloat(s, 64); err == nil && !math.IsNaN(f) && !math.IsInf(f, 0) {
		return Float(f)
	} else if strings.EqualFold(s, "null") {
		return NullValue()
	} else if len(s) >= 3 && (s[0] == 'x' || s[0] == 'X') && s[1] == '\'' && s[len(s)-1] == '\'' {
		if b, err := hex.DecodeString(s[2 : len(s)-1]); err == nil {
			return Bytes(b)
		}
	}
	return Str(s)
}
