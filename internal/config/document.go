package config

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/yosida95/uritemplate/v3"

	"github.com/askdba/supabase-mcp-server/internal/action"
	"github.com/askdba/supabase-mcp-server/internal/errs"
	"github.com/askdba/supabase-mcp-server/internal/params"
	"github.com/askdba/supabase-mcp-server/internal/template"
	"github.com/askdba/supabase-mcp-server/internal/value"
)

// DefaultResourceMIMEType is used when a resource declares none.
const DefaultResourceMIMEType = "application/json"

// Document is a validated tool configuration.
type Document struct {
	Tools     []ToolConfig
	Resources []ResourceConfig
}

// ToolConfig is one declared tool.
type ToolConfig struct {
	Name        string
	Description string
	Parameters  params.Declaration
	// Action is the declared, unresolved action tree.
	Action    value.Value
	Type      action.Type
	Validator *params.Validator
}

// ResourceConfig is one declared resource.
type ResourceConfig struct {
	Name        string
	Description string
	URITemplate string
	MIMEType    string
	Action      value.Value
	Type        action.Type
	// Variables are the URI template variables in template order.
	Variables []string
}

// ParseDocument decodes a JSON or YAML configuration document and
// validates it. format is "json", "yaml" or "" to detect.
func ParseDocument(data []byte, format string) (*Document, error) {
	tree, err := decodeTree(data, format)
	if err != nil {
		return nil, err
	}
	return NewDocument(tree)
}

func decodeTree(data []byte, format string) (value.Value, error) {
	switch format {
	case "json":
		v, err := value.Parse(data)
		if err != nil {
			return value.Value{}, fmt.Errorf("invalid JSON format: %w", err)
		}
		return v, nil
	case "yaml":
		return parseYAML(data)
	}
	if v, err := value.Parse(data); err == nil {
		return v, nil
	}
	v, err := parseYAML(data)
	if err != nil {
		return value.Value{}, fmt.Errorf("document is neither JSON nor YAML: %w", err)
	}
	return v, nil
}

// NewDocument validates a decoded configuration tree. Keys other than
// "tools" and "resources" are ignored.
func NewDocument(tree value.Value) (*Document, error) {
	if tree.Kind() != value.Object {
		return nil, errs.Invalid("", "configuration must be an object, got %s", tree.Kind())
	}
	doc := &Document{}
	seen := map[string]string{}

	if tools := tree.Get("tools"); !tools.IsNullish() {
		if tools.Kind() != value.Array {
			return nil, errs.Invalid("tools", "tools must be an array, got %s", tools.Kind())
		}
		for i, t := range tools.Elems() {
			path := fmt.Sprintf("tools[%d]", i)
			tc, err := parseTool(path, t)
			if err != nil {
				return nil, err
			}
			if prev, dup := seen["tool:"+tc.Name]; dup {
				return nil, errs.Invalid(path+".name", "duplicate tool name %q (first declared at %s)", tc.Name, prev)
			}
			seen["tool:"+tc.Name] = path
			doc.Tools = append(doc.Tools, *tc)
		}
	}

	if resources := tree.Get("resources"); !resources.IsNullish() {
		if resources.Kind() != value.Array {
			return nil, errs.Invalid("resources", "resources must be an array, got %s", resources.Kind())
		}
		for i, r := range resources.Elems() {
			path := fmt.Sprintf("resources[%d]", i)
			rc, err := parseResource(path, r)
			if err != nil {
				return nil, err
			}
			if prev, dup := seen["resource:"+rc.URITemplate]; dup {
				return nil, errs.Invalid(path+".uriTemplate", "duplicate resource template %q (first declared at %s)", rc.URITemplate, prev)
			}
			seen["resource:"+rc.URITemplate] = path
			doc.Resources = append(doc.Resources, *rc)
		}
	}
	return doc, nil
}

func parseTool(path string, t value.Value) (*ToolConfig, error) {
	if t.Kind() != value.Object {
		return nil, errs.Invalid(path, "tool must be an object, got %s", t.Kind())
	}
	name, err := requiredString(path, t, "name")
	if err != nil {
		return nil, err
	}
	desc, err := requiredString(path, t, "description")
	if err != nil {
		return nil, err
	}

	var decl params.Declaration
	if p := t.Get("parameters"); !p.IsNullish() {
		if p.Kind() != value.Object {
			return nil, errs.Invalid(path+".parameters", "parameters must be an object, got %s", p.Kind())
		}
		raw, err := json.Marshal(p)
		if err != nil {
			return nil, &errs.ValidationError{Path: path + ".parameters", Err: err}
		}
		if err := json.Unmarshal(raw, &decl); err != nil {
			return nil, &errs.ValidationError{Path: path + ".parameters", Err: err}
		}
	}
	if err := decl.Check(path + ".parameters"); err != nil {
		return nil, err
	}
	validator, err := params.Compile(decl)
	if err != nil {
		return nil, &errs.ValidationError{Path: path + ".parameters", Err: err}
	}

	tree := t.Get("action")
	act, err := action.Decode(path+".action", tree)
	if err != nil {
		return nil, err
	}
	return &ToolConfig{
		Name:        name,
		Description: desc,
		Parameters:  decl,
		Action:      tree,
		Type:        act.Type(),
		Validator:   validator,
	}, nil
}

func parseResource(path string, r value.Value) (*ResourceConfig, error) {
	if r.Kind() != value.Object {
		return nil, errs.Invalid(path, "resource must be an object, got %s", r.Kind())
	}
	name, err := requiredString(path, r, "name")
	if err != nil {
		return nil, err
	}
	desc, err := requiredString(path, r, "description")
	if err != nil {
		return nil, err
	}
	uri, err := requiredString(path, r, "uriTemplate")
	if err != nil {
		return nil, err
	}
	tpl, err := uritemplate.New(uri)
	if err != nil {
		return nil, errs.Invalid(path+".uriTemplate", "invalid URI template %q: %v", uri, err)
	}
	mime := DefaultResourceMIMEType
	if m := r.Get("mimeType"); !m.IsNullish() {
		s, ok := m.Str()
		if !ok {
			return nil, errs.Invalid(path+".mimeType", "mimeType must be a string, got %s", m.Kind())
		}
		if s != "" {
			mime = s
		}
	}

	tree := r.Get("action")
	act, err := action.Decode(path+".action", tree)
	if err != nil {
		return nil, err
	}
	vars := tpl.Varnames()
	declared := make(map[string]struct{}, len(vars))
	for _, v := range vars {
		declared[v] = struct{}{}
	}
	var unbound []string
	for _, name := range template.ExtractVariables(tree) {
		if _, ok := declared[name]; !ok {
			unbound = append(unbound, name)
		}
	}
	if len(unbound) > 0 {
		return nil, errs.Invalid(path+".action", "placeholders not bound by the URI template: %s", strings.Join(unbound, ", "))
	}
	return &ResourceConfig{
		Name:        name,
		Description: desc,
		URITemplate: uri,
		MIMEType:    mime,
		Action:      tree,
		Type:        act.Type(),
		Variables:   vars,
	}, nil
}

func requiredString(path string, obj value.Value, key string) (string, error) {
	v := obj.Get(key)
	s, ok := v.Str()
	if !ok {
		if v.IsUndefined() {
			return "", errs.Invalid(path+"."+key, "%s is required", key)
		}
		return "", errs.Invalid(path+"."+key, "%s must be a string, got %s", key, v.Kind())
	}
	if key == "name" && strings.TrimSpace(s) == "" {
		return "", errs.Invalid(path+"."+key, "name must not be empty")
	}
	return s, nil
}
