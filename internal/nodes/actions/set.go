package actions

import (
	"context"
	"fmt"
	"strings"

	"github.com/flowmesh-io/flowmesh/internal/nodes"
	"github.com/flowmesh-io/flowmesh/internal/schema"
)

// setNode writes fixed or expression-resolved values onto each item. Fields
// arrive as a list of {name, value}; keepOnlySet discards everything else.
func setNode() *nodes.Definition {
	return &nodes.Definition{
		Identifier:  "set",
		DisplayName: "Set",
		Group:       []string{"data"},
		Version:     1,
		Inputs:      []string{"main"},
		Outputs:     []string{"main"},
		Properties: []schema.Property{
			{Name: "fields", DisplayName: "Fields", Kind: schema.KindCollection, Required: true},
			{Name: "keepOnlySet", DisplayName: "Keep Only Set Fields", Kind: schema.KindBoolean, Default: false},
		},
		Execute: executeSet,
	}
}

func executeSet(_ context.Context, ec *nodes.ExecutionContext) (map[string][]nodes.Item, error) {
	rawFields, ok := ec.Parameters["fields"].([]interface{})
	if !ok {
		return nil, fmt.Errorf("set needs a fields list")
	}
	keepOnlySet, _ := ec.Parameters["keepOnlySet"].(bool)

	items := ec.MainInput()
	if len(items) == 0 {
		items = []nodes.Item{nodes.NewItem(nil)}
	}

	out := make([]nodes.Item, len(items))
	for i, item := range items {
		data := map[string]interface{}{}
		if !keepOnlySet {
			for k, v := range item.JSON {
				data[k] = v
			}
		}
		for fi, rawField := range rawFields {
			field, ok := rawField.(map[string]interface{})
			if !ok {
				return nil, fmt.Errorf("field %d must be an object, got %T", fi, rawField)
			}
			name, _ := field["name"].(string)
			if name == "" {
				return nil, fmt.Errorf("field %d has no name", fi)
			}
			setNested(data, name, field["value"])
		}
		out[i] = nodes.Item{JSON: data, Binary: item.Binary, PairedItem: &nodes.PairedItem{Item: i}}
	}
	return map[string][]nodes.Item{"main": out}, nil
}

// setNested writes a dotted path, creating intermediate objects as needed.
func setNested(data map[string]interface{}, path string, value interface{}) {
	parts := strings.Split(path, ".")
	current := data
	for _, part := range parts[:len(parts)-1] {
		next, ok := current[part].(map[string]interface{})
		if !ok {
			next = map[string]interface{}{}
			current[part] = next
		}
		current = next
	}
	current[parts[len(parts)-1]] = value
}
