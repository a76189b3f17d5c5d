// Package value holds the recursive JSON value used for action
// declarations, tool arguments and backend payloads.
package value

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
)

// Kind identifies the dynamic type of a Value.
type Kind uint8

const (
	// Undefined is the zero Value: an absent key or missing parameter.
	Undefined Kind = iota
	Null
	Bool
	Number
	String
	Array
	Object
)

func (k Kind) String() string {
	switch k {
	case Undefined:
		return "undefined"
	case Null:
		return "null"
	case Bool:
		return "boolean"
	case Number:
		return "number"
	case String:
		return "string"
	case Array:
		return "array"
	case Object:
		return "object"
	}
	return "kind(" + strconv.Itoa(int(k)) + ")"
}

// Member is one key of an Object.
type Member struct {
	Key   string
	Value Value
}

// Value is an immutable JSON value. Objects keep their key order.
type Value struct {
	kind    Kind
	b       bool
	num     json.Number
	str     string
	elems   []Value
	members []Member
}

// NullValue returns JSON null.
func NullValue() Value { return Value{kind: Null} }

// BoolValue wraps b.
func BoolValue(b bool) Value { return Value{kind: Bool, b: b} }

// StringValue wraps s.
func StringValue(s string) Value { return Value{kind: String, str: s} }

// NumberValue wraps a JSON number literal.
func NumberValue(n json.Number) Value { return Value{kind: Number, num: n} }

// IntValue wraps n.
func IntValue(n int64) Value { return NumberValue(json.Number(strconv.FormatInt(n, 10))) }

// FloatValue wraps f.
func FloatValue(f float64) Value {
	return NumberValue(json.Number(strconv.FormatFloat(f, 'f', -1, 64)))
}

// ArrayValue builds an array from elems.
func ArrayValue(elems ...Value) Value {
	if elems == nil {
		elems = []Value{}
	}
	return Value{kind: Array, elems: elems}
}

// ObjectValue builds an object from members. Later duplicates replace
// earlier ones in place.
func ObjectValue(members ...Member) Value {
	out := make([]Member, 0, len(members))
	for _, m := range members {
		out = setMember(out, m.Key, m.Value)
	}
	return Value{kind: Object, members: out}
}

func setMember(members []Member, key string, v Value) []Member {
	for i := range members {
		if members[i].Key == key {
			members[i].Value = v
			return members
		}
	}
	return append(members, Member{Key: key, Value: v})
}

// Kind returns the dynamic type of v.
func (v Value) Kind() Kind { return v.kind }

// IsUndefined reports whether v is absent.
func (v Value) IsUndefined() bool { return v.kind == Undefined }

// IsNullish reports whether v is null or absent.
func (v Value) IsNullish() bool { return v.kind == Undefined || v.kind == Null }

// Bool returns the boolean payload.
func (v Value) Bool() (bool, bool) { return v.b, v.kind == Bool }

// Str returns the string payload.
func (v Value) Str() (string, bool) { return v.str, v.kind == String }

// Number returns the number literal.
func (v Value) Number() (json.Number, bool) { return v.num, v.kind == Number }

// Elems returns the array elements. The slice must not be modified.
func (v Value) Elems() []Value {
	if v.kind != Array {
		return nil
	}
	return v.elems
}

// Members returns the object members in order. The slice must not be modified.
func (v Value) Members() []Member {
	if v.kind != Object {
		return nil
	}
	return v.members
}

// Len returns the number of elements or members.
func (v Value) Len() int {
	switch v.kind {
	case Array:
		return len(v.elems)
	case Object:
		return len(v.members)
	}
	return 0
}

// Get returns the member named key, or Undefined.
func (v Value) Get(key string) Value {
	for _, m := range v.Members() {
		if m.Key == key {
			return m.Value
		}
	}
	return Value{}
}

// Has reports whether an object carries key.
func (v Value) Has(key string) bool {
	for _, m := range v.Members() {
		if m.Key == key {
			return true
		}
	}
	return false
}

// With returns a copy of the object v with key set to x.
func (v Value) With(key string, x Value) Value {
	members := make([]Member, len(v.Members()), len(v.Members())+1)
	copy(members, v.Members())
	return Value{kind: Object, members: setMember(members, key, x)}
}

// Text renders v the way it reads when embedded in a larger string:
// strings verbatim, scalars as their JSON literal, containers as compact JSON.
func (v Value) Text() string {
	switch v.kind {
	case Undefined:
		return ""
	case String:
		return v.str
	case Number:
		return v.num.String()
	case Bool:
		return strconv.FormatBool(v.b)
	case Null:
		return "null"
	}
	data, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(data)
}

// Int parses v as an integer. Numbers are truncated toward zero. Strings
// take their leading integer, so " 7 " is 7, "10abc" is 10 and "1e3" is 1;
// a string without leading digits does not parse. Non-finite or out of
// range values do not parse.
func (v Value) Int() (int64, bool) {
	switch v.kind {
	case Number:
		raw := v.num.String()
		if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
			return n, true
		}
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return 0, false
		}
		f = math.Trunc(f)
		if f < math.MinInt64 || f >= math.MaxInt64 {
			return 0, false
		}
		return int64(f), true
	case String:
		return leadingInt(v.str)
	}
	return 0, false
}

// leadingInt reads an optional sign and the digits that follow it, after
// leading whitespace.
func leadingInt(s string) (int64, bool) {
	s = strings.TrimLeft(s, " \t\n\r\v\f")
	end := 0
	if end < len(s) && (s[end] == '+' || s[end] == '-') {
		end++
	}
	digits := end
	for end < len(s) && s[end] >= '0' && s[end] <= '9' {
		end++
	}
	if end == digits {
		return 0, false
	}
	n, err := strconv.ParseInt(s[:end], 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// Interface converts v to the encoding/json generic representation.
// Object key order is lost.
func (v Value) Interface() any {
	switch v.kind {
	case Null, Undefined:
		return nil
	case Bool:
		return v.b
	case Number:
		return v.num
	case String:
		return v.str
	case Array:
		out := make([]any, len(v.elems))
		for i, e := range v.elems {
			out[i] = e.Interface()
		}
		return out
	}
	out := make(map[string]any, len(v.members))
	for _, m := range v.members {
		if m.Value.IsUndefined() {
			continue
		}
		out[m.Key] = m.Value.Interface()
	}
	return out
}

// FromInterface converts a value produced by encoding/json (or built by hand
// from maps, slices and scalars) into a Value. Map keys are sorted.
func FromInterface(x any) (Value, error) {
	data, err := json.Marshal(x)
	if err != nil {
		return Value{}, err
	}
	return Parse(data)
}

// Parse decodes a JSON document.
func Parse(data []byte) (Value, error) {
	var v Value
	if err := json.Unmarshal(data, &v); err != nil {
		return Value{}, err
	}
	return v, nil
}

// MustParse is Parse for literals in tests and defaults.
func MustParse(s string) Value {
	v, err := Parse([]byte(s))
	if err != nil {
		panic(err)
	}
	return v
}

// MarshalJSON implements json.Marshaler. Undefined encodes as null at the
// top level and is skipped inside objects and arrays.
func (v Value) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	if err := v.encode(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (v Value) encode(buf *bytes.Buffer) error {
	switch v.kind {
	case Undefined, Null:
		buf.WriteString("null")
	case Bool:
		buf.WriteString(strconv.FormatBool(v.b))
	case Number:
		buf.WriteString(v.num.String())
	case String:
		data, err := json.Marshal(v.str)
		if err != nil {
			return err
		}
		buf.Write(data)
	case Array:
		buf.WriteByte('[')
		first := true
		for _, e := range v.elems {
			if e.IsUndefined() {
				continue
			}
			if !first {
				buf.WriteByte(',')
			}
			first = false
			if err := e.encode(buf); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	case Object:
		buf.WriteByte('{')
		first := true
		for _, m := range v.members {
			if m.Value.IsUndefined() {
				continue
			}
			if !first {
				buf.WriteByte(',')
			}
			first = false
			key, err := json.Marshal(m.Key)
			if err != nil {
				return err
			}
			buf.Write(key)
			buf.WriteByte(':')
			if err := m.Value.encode(buf); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	default:
		return fmt.Errorf("value: unknown kind %d", v.kind)
	}
	return nil
}

// UnmarshalJSON implements json.Unmarshaler, keeping object key order.
func (v *Value) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	out, err := decode(dec)
	if err != nil {
		return err
	}
	if _, err := dec.Token(); err != io.EOF {
		return fmt.Errorf("value: trailing data after JSON value")
	}
	*v = out
	return nil
}

func decode(dec *json.Decoder) (Value, error) {
	tok, err := dec.Token()
	if err != nil {
		return Value{}, err
	}
	switch t := tok.(type) {
	case nil:
		return NullValue(), nil
	case bool:
		return BoolValue(t), nil
	case json.Number:
		return NumberValue(t), nil
	case string:
		return StringValue(t), nil
	case json.Delim:
		switch t {
		case '[':
			elems := []Value{}
			for dec.More() {
				e, err := decode(dec)
				if err != nil {
					return Value{}, err
				}
				elems = append(elems, e)
			}
			if _, err := dec.Token(); err != nil {
				return Value{}, err
			}
			return Value{kind: Array, elems: elems}, nil
		case '{':
			members := []Member{}
			for dec.More() {
				keyTok, err := dec.Token()
				if err != nil {
					return Value{}, err
				}
				key, ok := keyTok.(string)
				if !ok {
					return Value{}, fmt.Errorf("value: object key is %T", keyTok)
				}
				e, err := decode(dec)
				if err != nil {
					return Value{}, err
				}
				members = setMember(members, key, e)
			}
			if _, err := dec.Token(); err != nil {
				return Value{}, err
			}
			return Value{kind: Object, members: members}, nil
		}
	}
	return Value{}, fmt.Errorf("value: unexpected token %v", tok)
}

// Indent renders v as JSON indented by two spaces.
func (v Value) Indent() (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, data, "", "  "); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// Map applies fn bottom-up to every node of v and returns the rebuilt tree.
func (v Value) Map(fn func(Value) Value) Value {
	switch v.kind {
	case Array:
		elems := make([]Value, len(v.elems))
		for i, e := range v.elems {
			elems[i] = e.Map(fn)
		}
		return fn(Value{kind: Array, elems: elems})
	case Object:
		members := make([]Member, len(v.members))
		for i, m := range v.members {
			members[i] = Member{Key: m.Key, Value: m.Value.Map(fn)}
		}
		return fn(Value{kind: Object, members: members})
	}
	return fn(v)
}

// Walk calls fn for every node of v, parents before children.
func (v Value) Walk(fn func(Value)) {
	fn(v)
	switch v.kind {
	case Array:
		for _, e := range v.elems {
			e.Walk(fn)
		}
	case Object:
		for _, m := range v.members {
			m.Value.Walk(fn)
		}
	}
}
