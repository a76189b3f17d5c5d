package params

import (
	"encoding/json"
	"errors"
	"reflect"
	"testing"

	"github.com/askdba/supabase-mcp-server/internal/errs"
)

func decl(t *testing.T, doc string) Declaration {
	t.Helper()
	var d Declaration
	if err := json.Unmarshal([]byte(doc), &d); err != nil {
		t.Fatalf("decode declaration: %v", err)
	}
	return d
}

func TestIsRequired(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want map[string]bool
	}{
		{
			name: "optional flag without required list",
			doc:  `{"type":"object","properties":{"a":{"type":"string"},"b":{"type":"string","optional":true}}}`,
			want: map[string]bool{"a": true, "b": false},
		},
		{
			name: "required list is authoritative",
			doc:  `{"type":"object","properties":{"a":{"type":"string","optional":true},"b":{"type":"string"}},"required":["a"]}`,
			want: map[string]bool{"a": true, "b": false},
		},
		{
			name: "empty required list",
			doc:  `{"type":"object","properties":{"a":{"type":"string"}},"required":[]}`,
			want: map[string]bool{"a": false},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := decl(t, tt.doc)
			for name, want := range tt.want {
				if got := d.IsRequired(name); got != want {
					t.Errorf("IsRequired(%q) = %v, want %v", name, got, want)
				}
			}
		})
	}
}

func TestSchemaOmitsDefaultedParamsFromRequired(t *testing.T) {
	d := decl(t, `{"type":"object","properties":{
		"email_filter":{"type":"string"},
		"limit":{"type":"number","default":10},
		"status":{"type":"string","enum":["active","banned"],"optional":true}
	}}`)
	s := Schema(d)
	if s.Type != "object" {
		t.Fatalf("type = %q", s.Type)
	}
	if !reflect.DeepEqual(s.Required, []string{"email_filter"}) {
		t.Fatalf("required = %v", s.Required)
	}
	if string(s.Properties["limit"].Default) != "10" {
		t.Fatalf("default = %s", s.Properties["limit"].Default)
	}
	if len(s.Properties["status"].Enum) != 2 {
		t.Fatalf("enum = %v", s.Properties["status"].Enum)
	}
}

func TestApplyFillsDefaults(t *testing.T) {
	v, err := Compile(decl(t, `{"type":"object","properties":{
		"email_filter":{"type":"string"},
		"limit":{"type":"number","default":10}
	}}`))
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	out, err := v.Apply(json.RawMessage(`{"email_filter":"a@b.com"}`))
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if n, ok := out.Get("limit").Int(); !ok || n != 10 {
		t.Fatalf("limit = %s", out.Get("limit").Text())
	}
	if s, _ := out.Get("email_filter").Str(); s != "a@b.com" {
		t.Fatalf("email_filter = %q", s)
	}
}

func TestApplyRejects(t *testing.T) {
	v, err := Compile(decl(t, `{"type":"object","properties":{
		"name":{"type":"string"},
		"age":{"type":"integer","optional":true},
		"role":{"type":"string","enum":["admin","user"],"optional":true},
		"tags":{"type":"array","items":{"type":"string"},"optional":true},
		"active":{"type":"boolean","optional":true}
	}}`))
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	tests := []struct {
		name string
		args string
	}{
		{"missing required", `{}`},
		{"wrong type", `{"name":5}`},
		{"fractional integer", `{"name":"a","age":1.5}`},
		{"enum violation", `{"name":"a","role":"root"}`},
		{"array item type", `{"name":"a","tags":[1]}`},
		{"boolean type", `{"name":"a","active":"yes"}`},
		{"not an object", `[1,2]`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := v.Apply(json.RawMessage(tt.args))
			if err == nil {
				t.Fatal("expected error")
			}
			var ve *errs.ValidationError
			if !errors.As(err, &ve) {
				t.Fatalf("expected ValidationError, got %T", err)
			}
		})
	}
	if _, err := v.Apply(json.RawMessage(`{"name":"a","age":3,"role":"admin","tags":["x"],"active":true}`)); err != nil {
		t.Fatalf("valid arguments rejected: %v", err)
	}
}

func TestApplyWithoutArguments(t *testing.T) {
	v, err := Compile(Declaration{})
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	out, err := v.Apply(nil)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if out.Len() != 0 {
		t.Fatalf("expected empty object, got %s", out.Text())
	}
}

func TestCheck(t *testing.T) {
	if err := decl(t, `{"type":"array"}`).Check("tools[0].parameters"); err == nil {
		t.Fatal("expected error for non-object parameters")
	}
	if err := decl(t, `{"type":"object","properties":{},"required":["ghost"]}`).Check("p"); err == nil {
		t.Fatal("expected error for undeclared required parameter")
	}
	if err := decl(t, `{"type":"object","properties":{"x":{"type":"uuid"}}}`).Check("p"); err != nil {
		t.Fatalf("unknown types are accepted as any: %v", err)
	}
}
