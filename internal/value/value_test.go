package value

import (
	"encoding/json"
	"testing"
)

func TestParsePreservesKeyOrder(t *testing.T) {
	v := MustParse(`{"b":1,"a":{"z":true,"y":null},"c":[1,"x"]}`)

	var keys []string
	for _, m := range v.Members() {
		keys = append(keys, m.Key)
	}
	if got := len(keys); got != 3 || keys[0] != "b" || keys[1] != "a" || keys[2] != "c" {
		t.Fatalf("unexpected key order: %v", keys)
	}

	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(data) != `{"b":1,"a":{"z":true,"y":null},"c":[1,"x"]}` {
		t.Fatalf("round trip changed document: %s", data)
	}
}

func TestNumbersKeepTheirLiteral(t *testing.T) {
	v := MustParse(`12345678901234567890`)
	n, ok := v.Number()
	if !ok {
		t.Fatalf("expected number, got %s", v.Kind())
	}
	if n.String() != "12345678901234567890" {
		t.Fatalf("number literal changed: %s", n)
	}
}

func TestUndefinedIsSkippedInContainers(t *testing.T) {
	obj := ObjectValue(
		Member{Key: "a", Value: IntValue(1)},
		Member{Key: "b", Value: Value{}},
	)
	data, err := json.Marshal(obj)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(data) != `{"a":1}` {
		t.Fatalf("got %s", data)
	}
}

func TestText(t *testing.T) {
	tests := []struct {
		name string
		in   Value
		want string
	}{
		{"string", StringValue("hi"), "hi"},
		{"number", IntValue(5), "5"},
		{"float", FloatValue(1.5), "1.5"},
		{"bool", BoolValue(false), "false"},
		{"null", NullValue(), "null"},
		{"array", MustParse(`[1,"a"]`), `[1,"a"]`},
		{"object", MustParse(`{"k":"v"}`), `{"k":"v"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.in.Text(); got != tt.want {
				t.Errorf("Text() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestInt(t *testing.T) {
	tests := []struct {
		in     Value
		want   int64
		wantOK bool
	}{
		{IntValue(10), 10, true},
		{StringValue("25"), 25, true},
		{StringValue(" 7 "), 7, true},
		{FloatValue(2.9), 2, true},
		{StringValue("ten"), 0, false},
		{StringValue("10abc"), 10, true},
		{StringValue("1e3"), 1, true},
		{StringValue("1.9"), 1, true},
		{StringValue("-4"), -4, true},
		{StringValue("NaN"), 0, false},
		{StringValue("Inf"), 0, false},
		{StringValue("-Infinity"), 0, false},
		{StringValue("99999999999999999999"), 0, false},
		{StringValue(""), 0, false},
		{NumberValue("1e3"), 1000, true},
		{NumberValue("1e300"), 0, false},
		{NullValue(), 0, false},
		{Value{}, 0, false},
	}
	for _, tt := range tests {
		got, ok := tt.in.Int()
		if ok != tt.wantOK || got != tt.want {
			t.Errorf("Int(%s) = %d, %v; want %d, %v", tt.in.Text(), got, ok, tt.want, tt.wantOK)
		}
	}
}

func TestWithReplacesInPlace(t *testing.T) {
	v := MustParse(`{"a":1,"b":2}`).With("a", StringValue("x")).With("c", BoolValue(true))
	data, _ := json.Marshal(v)
	if string(data) != `{"a":"x","b":2,"c":true}` {
		t.Fatalf("got %s", data)
	}
}

func TestMapRebuildsTree(t *testing.T) {
	v := MustParse(`{"a":"up","b":["up",{"c":"up"}],"d":1}`)
	out := v.Map(func(x Value) Value {
		if s, ok := x.Str(); ok && s == "up" {
			return StringValue("UP")
		}
		return x
	})
	data, _ := json.Marshal(out)
	if string(data) != `{"a":"UP","b":["UP",{"c":"UP"}],"d":1}` {
		t.Fatalf("got %s", data)
	}
	// the source tree is untouched
	if s, _ := v.Get("a").Str(); s != "up" {
		t.Fatalf("source mutated: %q", s)
	}
}

func TestUnmarshalRejectsTrailingData(t *testing.T) {
	if _, err := Parse([]byte(`{} {}`)); err == nil {
		t.Fatal("expected error for trailing data")
	}
}

func TestFromInterface(t *testing.T) {
	v, err := FromInterface(map[string]any{"b": 1, "a": []any{"x"}})
	if err != nil {
		t.Fatalf("FromInterface: %v", err)
	}
	if v.Kind() != Object || v.Len() != 2 {
		t.Fatalf("unexpected value: %s", v.Text())
	}
	if v.Members()[0].Key != "a" {
		t.Fatalf("expected sorted keys, got %s first", v.Members()[0].Key)
	}
}
