// Package template substitutes {{name}} placeholders in action trees.
package template

import (
	"regexp"
	"sort"

	"github.com/askdba/supabase-mcp-server/internal/value"
)

var (
	exactPattern    = regexp.MustCompile(`^\{\{(\w+)\}\}$`)
	embeddedPattern = regexp.MustCompile(`\{\{(\w+)\}\}`)
)

// Resolve returns a copy of tree with every placeholder replaced from params.
//
// A string that is exactly one placeholder becomes the parameter value itself,
// keeping its type. Placeholders inside larger strings are replaced by the
// parameter's text form; unknown names are left as written.
func Resolve(tree value.Value, params value.Value) value.Value {
	return tree.Map(func(v value.Value) value.Value {
		s, ok := v.Str()
		if !ok {
			return v
		}
		return resolveString(s, params)
	})
}

func resolveString(s string, params value.Value) value.Value {
	if m := exactPattern.FindStringSubmatch(s); m != nil {
		return params.Get(m[1])
	}
	if !embeddedPattern.MatchString(s) {
		return value.StringValue(s)
	}
	out := embeddedPattern.ReplaceAllStringFunc(s, func(ph string) string {
		name := ph[2 : len(ph)-2]
		p := params.Get(name)
		if p.IsUndefined() {
			return ph
		}
		return p.Text()
	})
	return value.StringValue(out)
}

// ExtractVariables lists every placeholder name referenced in tree, sorted
// and without duplicates.
func ExtractVariables(tree value.Value) []string {
	seen := map[string]struct{}{}
	tree.Walk(func(v value.Value) {
		s, ok := v.Str()
		if !ok {
			return
		}
		for _, m := range embeddedPattern.FindAllStringSubmatch(s, -1) {
			seen[m[1]] = struct{}{}
		}
	})
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Validation is the outcome of ValidateParams.
type Validation struct {
	Valid   bool
	Missing []string
}

// ValidateParams reports the placeholders of tree that have no usable value
// in params. Null counts as missing, the empty string does not.
func ValidateParams(tree value.Value, params value.Value) Validation {
	var missing []string
	for _, name := range ExtractVariables(tree) {
		if params.Get(name).IsNullish() {
			missing = append(missing, name)
		}
	}
	return Validation{Valid: len(missing) == 0, Missing: missing}
}

// CleanFilters drops basic filter entries whose value is absent, null or
// the empty string. Zero and false are kept.
func CleanFilters(filters value.Value) value.Value {
	kept := make([]value.Member, 0, filters.Len())
	for _, m := range filters.Members() {
		if m.Value.IsNullish() {
			continue
		}
		if s, ok := m.Value.Str(); ok && s == "" {
			continue
		}
		kept = append(kept, m)
	}
	return value.ObjectValue(kept...)
}
