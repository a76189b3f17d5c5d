package config

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/askdba/supabase-mcp-server/internal/value"
)

// parseYAML decodes a YAML document into a Value, keeping mapping order.
func parseYAML(data []byte) (value.Value, error) {
	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return value.Value{}, fmt.Errorf("invalid YAML format: %w", err)
	}
	if root.Kind == 0 {
		return value.Value{}, fmt.Errorf("invalid YAML format: empty document")
	}
	return fromNode(&root)
}

func fromNode(n *yaml.Node) (value.Value, error) {
	switch n.Kind {
	case yaml.DocumentNode:
		if len(n.Content) == 0 {
			return value.NullValue(), nil
		}
		return fromNode(n.Content[0])
	case yaml.AliasNode:
		return fromNode(n.Alias)
	case yaml.SequenceNode:
		elems := make([]value.Value, 0, len(n.Content))
		for _, c := range n.Content {
			v, err := fromNode(c)
			if err != nil {
				return value.Value{}, err
			}
			elems = append(elems, v)
		}
		return value.ArrayValue(elems...), nil
	case yaml.MappingNode:
		members := make([]value.Member, 0, len(n.Content)/2)
		for i := 0; i+1 < len(n.Content); i += 2 {
			k := n.Content[i]
			if k.Kind != yaml.ScalarNode {
				return value.Value{}, fmt.Errorf("line %d: mapping keys must be scalars", k.Line)
			}
			v, err := fromNode(n.Content[i+1])
			if err != nil {
				return value.Value{}, err
			}
			members = append(members, value.Member{Key: k.Value, Value: v})
		}
		return value.ObjectValue(members...), nil
	case yaml.ScalarNode:
		return fromScalar(n)
	}
	return value.Value{}, fmt.Errorf("line %d: unsupported YAML node", n.Line)
}

func fromScalar(n *yaml.Node) (value.Value, error) {
	switch n.ShortTag() {
	case "!!null":
		return value.NullValue(), nil
	case "!!bool":
		var b bool
		if err := n.Decode(&b); err != nil {
			return value.Value{}, err
		}
		return value.BoolValue(b), nil
	case "!!int":
		var i int64
		if err := n.Decode(&i); err != nil {
			return value.Value{}, err
		}
		return value.IntValue(i), nil
	case "!!float":
		var f float64
		if err := n.Decode(&f); err != nil {
			return value.Value{}, err
		}
		if math.IsInf(f, 0) || math.IsNaN(f) {
			return value.Value{}, fmt.Errorf("line %d: %s is not representable in JSON", n.Line, n.Value)
		}
		// keep the literal when it is already valid JSON
		lit := strings.TrimPrefix(n.Value, "+")
		if _, err := strconv.ParseFloat(lit, 64); err == nil && json.Valid([]byte(lit)) {
			return value.NumberValue(json.Number(lit)), nil
		}
		return value.FloatValue(f), nil
	}
	return value.StringValue(n.Value), nil
}
