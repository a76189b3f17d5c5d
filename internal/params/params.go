// Package params turns declared tool parameters into JSON Schema and
// validates invocation arguments against it.
package params

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/google/jsonschema-go/jsonschema"

	"github.com/askdba/supabase-mcp-server/internal/errs"
	"github.com/askdba/supabase-mcp-server/internal/value"
)

// Property declares one parameter.
type Property struct {
	Type        string          `json:"type"`
	Description string          `json:"description,omitempty"`
	Default     json.RawMessage `json:"default,omitempty"`
	Optional    bool            `json:"optional,omitempty"`
	Enum        []any           `json:"enum,omitempty"`
	Items       *Property       `json:"items,omitempty"`
}

// Declaration is the "parameters" block of a tool.
type Declaration struct {
	Type       string              `json:"type,omitempty"`
	Properties map[string]Property `json:"properties,omitempty"`
	Required   []string            `json:"required,omitempty"`
}

var knownTypes = map[string]struct{}{
	"string": {}, "number": {}, "integer": {}, "boolean": {}, "array": {}, "object": {},
}

// IsRequired reports whether name must be supplied. A "required" list, when
// declared, is authoritative; otherwise parameters are required unless
// marked optional.
func (d Declaration) IsRequired(name string) bool {
	if d.Required != nil {
		for _, r := range d.Required {
			if r == name {
				return true
			}
		}
		return false
	}
	p, ok := d.Properties[name]
	return ok && !p.Optional
}

// Names returns the declared parameter names, sorted.
func (d Declaration) Names() []string {
	names := make([]string, 0, len(d.Properties))
	for name := range d.Properties {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Check validates the declaration itself.
func (d Declaration) Check(path string) error {
	if d.Type != "" && d.Type != "object" {
		return errs.Invalid(path+".type", "parameters type must be \"object\", got %q", d.Type)
	}
	for _, name := range d.Names() {
		p := d.Properties[name]
		if len(p.Default) > 0 && !json.Valid(p.Default) {
			return errs.Invalid(path+".properties."+name+".default", "default is not valid JSON")
		}
	}
	for _, r := range d.Required {
		if _, ok := d.Properties[r]; !ok {
			return errs.Invalid(path+".required", "required parameter %q is not declared", r)
		}
	}
	return nil
}

// Schema converts the declaration to JSON Schema. It is a pure function of d.
// Parameters with a default are never listed as required since the default
// fills them in.
func Schema(d Declaration) *jsonschema.Schema {
	s := &jsonschema.Schema{
		Type:       "object",
		Properties: make(map[string]*jsonschema.Schema, len(d.Properties)),
	}
	for _, name := range d.Names() {
		p := d.Properties[name]
		s.Properties[name] = propertySchema(p)
		if d.IsRequired(name) && len(p.Default) == 0 {
			s.Required = append(s.Required, name)
		}
	}
	return s
}

func propertySchema(p Property) *jsonschema.Schema {
	s := &jsonschema.Schema{
		Description: p.Description,
		Enum:        p.Enum,
	}
	// unknown types accept any value
	if _, ok := knownTypes[p.Type]; ok {
		s.Type = p.Type
	}
	if len(p.Default) > 0 {
		s.Default = p.Default
	}
	if p.Type == "array" {
		if p.Items != nil {
			s.Items = propertySchema(*p.Items)
		} else {
			s.Items = &jsonschema.Schema{}
		}
	}
	return s
}

// Validator checks and completes tool arguments.
type Validator struct {
	schema   *jsonschema.Schema
	resolved *jsonschema.Resolved
}

// Compile builds a Validator for d.
func Compile(d Declaration) (*Validator, error) {
	s := Schema(d)
	resolved, err := s.Resolve(nil)
	if err != nil {
		return nil, fmt.Errorf("resolve parameter schema: %w", err)
	}
	return &Validator{schema: s, resolved: resolved}, nil
}

// Schema returns the JSON Schema advertised to clients.
func (v *Validator) Schema() *jsonschema.Schema { return v.schema }

// Apply fills defaults into args and validates the result. A nil or empty
// args means no arguments were given.
func (v *Validator) Apply(args json.RawMessage) (value.Value, error) {
	m := map[string]any{}
	if len(args) > 0 && string(args) != "null" {
		if err := json.Unmarshal(args, &m); err != nil {
			return value.Value{}, &errs.ValidationError{Reason: "arguments must be a JSON object", Err: err}
		}
	}
	if err := v.resolved.ApplyDefaults(&m); err != nil {
		return value.Value{}, &errs.ValidationError{Reason: "applying parameter defaults failed", Err: err}
	}
	if err := v.resolved.Validate(&m); err != nil {
		return value.Value{}, &errs.ValidationError{Reason: "invalid parameters: " + trimSchemaError(err), Err: err}
	}
	out, err := value.FromInterface(m)
	if err != nil {
		return value.Value{}, &errs.ValidationError{Reason: "arguments could not be encoded", Err: err}
	}
	return out, nil
}

func trimSchemaError(err error) string {
	msg := err.Error()
	return strings.TrimPrefix(msg, "validating root: ")
}
