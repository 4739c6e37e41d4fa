package params

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// ErrMixedParams is returned when both positional and named parameters are supplied.
var ErrMixedParams = errors.New("parameters must be either positional or named, not both")

// ErrDuplicateName is returned when two named parameter keys bind the same name.
var ErrDuplicateName = errors.New("named parameters bind the same name")

// Params binds Values to a statement either by position or by name. At most
// one of the two forms is populated. The zero Params binds nothing ("none").
type Params struct {
	positional []Value
	named      map[string]Value
}

// None returns Params which bind nothing.
func None() Params { return Params{} }

// Positional returns Params binding |values| by position.
// An empty list normalizes to None.
func Positional(values ...Value) Params {
	if len(values) == 0 {
		return Params{}
	}
	return Params{positional: append([]Value(nil), values...)}
}

// Named returns Params binding |values| by name.
// An empty map normalizes to None.
func Named(values map[string]Value) Params {
	if len(values) == 0 {
		return Params{}
	}
	var m = make(map[string]Value, len(values))
	for k, v := range values {
		m[k] = v
	}
	return Params{named: m}
}

// New builds Params from optional positional and named forms, as they're
// typically gathered from a caller. Supplying both non-empty forms is an error.
func New(positional []Value, named map[string]Value) (Params, error) {
	if len(positional) != 0 && len(named) != 0 {
		return Params{}, ErrMixedParams
	} else if len(positional) != 0 {
		return Positional(positional...), nil
	}
	return Named(named), nil
}

// IsNone is true if the Params bind nothing.
func (p Params) IsNone() bool { return len(p.positional) == 0 && len(p.named) == 0 }

// IsNamed is true if the Params bind by name.
func (p Params) IsNamed() bool { return len(p.named) != 0 }

// PositionalValues returns positionally-bound Values, or nil.
func (p Params) PositionalValues() []Value { return p.positional }

// NamedValues returns name-bound Values, or nil.
func (p Params) NamedValues() map[string]Value { return p.named }

// Len is the number of bound Values.
func (p Params) Len() int { return len(p.positional) + len(p.named) }

// Args returns the Params as database/sql arguments. Named parameters are
// bound with sql.Named, after stripping a leading ':', '@' or '$' sigil, and
// are returned in sorted order of their stripped names. Named keys which
// strip to the same name (such as ":a" and "a") are an error.
func (p Params) Args() ([]interface{}, error) {
	if len(p.named) != 0 {
		var byName = make(map[string]string, len(p.named))
		var names = make([]string, 0, len(p.named))

		for k := range p.named {
			var name = bindName(k)
			if prior, ok := byName[name]; ok {
				if prior > k {
					prior, k = k, prior
				}
				return nil, errors.WithMessagef(ErrDuplicateName, "%q and %q", prior, k)
			}
			byName[name] = k
			names = append(names, name)
		}
		sort.Strings(names)

		var args = make([]interface{}, len(names))
		for i, name := range names {
			args[i] = sql.Named(name, p.named[byName[name]].Any())
		}
		return args, nil
	}
	var args = make([]interface{}, len(p.positional))
	for i, v := range p.positional {
		args[i] = v.Any()
	}
	return args, nil
}

// bindName strips the sigil of a named parameter key.
func bindName(key string) string { return strings.TrimLeft(key, ":@$") }

// Equal is true if |p| and |other| bind equal Values in the same form.
func (p Params) Equal(other Params) bool {
	if len(p.positional) != len(other.positional) || len(p.named) != len(other.named) {
		return false
	}
	for i := range p.positional {
		if !p.positional[i].Equal(other.positional[i]) {
			return false
		}
	}
	for k, v := range p.named {
		if ov, ok := other.named[k]; !ok || !v.Equal(ov) {
			return false
		}
	}
	return true
}

// String renders Params for diagnostics, eg "(1, 'a')" or "{:id=1}".
func (p Params) String() string {
	var b strings.Builder
	if len(p.named) != 0 {
		b.WriteByte('{')
		for i, k := range p.sortedNames() {
			if i != 0 {
				b.WriteString(", ")
			}
			b.WriteString(k)
			b.WriteByte('=')
			b.WriteString(p.named[k].String())
		}
		b.WriteByte('}')
		return b.String()
	}
	b.WriteByte('(')
	for i, v := range p.positional {
		if i != 0 {
			b.WriteString(", ")
		}
		b.WriteString(v.String())
	}
	b.WriteByte(')')
	return b.String()
}

func (p Params) sortedNames() []string {
	var names = make([]string, 0, len(p.named))
	for k := range p.named {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// MarshalJSON encodes a Value in its wire form: Integer and Real as JSON
// numbers (a Real always carries a fraction or exponent), Text as a string,
// Blob as an array of byte values, and Null as null. Non-finite Reals have
// no JSON representation and encode as null.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case Integer:
		return []byte(strconv.FormatInt(v.i, 10)), nil
	case Real:
		var s = formatReal(v.f)
		if strings.ContainsAny(s, "nN") {
			return []byte("null"), nil
		}
		return []byte(s), nil
	case Text:
		return json.Marshal(v.s)
	case Blob:
		var b bytes.Buffer
		b.WriteByte('[')
		for i, c := range v.b {
			if i != 0 {
				b.WriteByte(',')
			}
			b.WriteString(strconv.Itoa(int(c)))
		}
		b.WriteByte(']')
		return b.Bytes(), nil
	default:
		return []byte("null"), nil
	}
}

// UnmarshalJSON decodes a Value from its wire form. Entries which aren't a
// valid wire form (eg, objects or booleans) decode as Null, and array
// elements which aren't byte values are dropped from a Blob.
func (v *Value) UnmarshalJSON(b []byte) error {
	var raw interface{}
	var dec = json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()

	if err := dec.Decode(&raw); err != nil {
		return err
	}
	*v = valueFromJSON(raw)
	return nil
}

func valueFromJSON(raw interface{}) Value {
	switch t := raw.(type) {
	case json.Number:
		var s = t.String()
		if !strings.ContainsAny(s, ".eE") {
			if i, err := t.Int64(); err == nil {
				return Int(i)
			}
		}
		if f, err := t.Float64(); err == nil {
			return Float(f)
		}
	case string:
		return Str(t)
	case []interface{}:
		var out = make([]byte, 0, len(t))
		for _, e := range t {
			if n, ok := e.(json.Number); ok {
				if i, err := n.Int64(); err == nil && i >= 0 && i <= 255 {
					out = append(out, byte(i))
				}
			}
		}
		return Bytes(out)
	case nil:
		return NullValue()
	}
	log.WithField("entry", raw).Debug("malformed parameter entry decoded as NULL")
	return NullValue()
}

// MarshalJSON encodes Params in their wire form: positional Params as an
// array, named Params as an object, and None as null.
func (p Params) MarshalJSON() ([]byte, error) {
	if len(p.named) != 0 {
		return json.Marshal(p.named)
	} else if len(p.positional) != 0 {
		return json.Marshal(p.positional)
	}
	return []byte("null"), nil
}

// UnmarshalJSON decodes Params from their wire form. Input which is
// neither an array nor an object decodes as None.
func (p *Params) UnmarshalJSON(b []byte) error {
	var raw interface{}
	var dec = json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()

	if err := dec.Decode(&raw); err != nil {
		return err
	}

	switch t := raw.(type) {
	case []interface{}:
		var values = make([]Value, len(t))
		for i, e := range t {
			values[i] = valueFromJSON(e)
		}
		*p = Positional(values...)
	case map[string]interface{}:
		var values = make(map[string]Value, len(t))
		for k, e := range t {
			values[k] = valueFromJSON(e)
		}
		*p = Named(values)
	default:
		*p = None()
	}
	return nil
}

// Decode parses the wire form of Params. Malformed input decodes as None
// alongside a non-nil error, which callers may choose to log and ignore.
func Decode(s string) (Params, error) {
	var p Params
	if err := json.Unmarshal([]byte(s), &p); err != nil {
		return None(), errors.WithMessage(err, "decoding parameters")
	}
	return p, nil
}

// Encode returns the wire form of Params.
func Encode(p Params) string {
	var b, err = p.MarshalJSON()
	if err != nil {
		panic(err) // Value encodings cannot fail.
	}
	return string(b)
}
