package actions

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/flowmesh-io/flowmesh/internal/expression"
	"github.com/flowmesh-io/flowmesh/internal/nodes"
	"github.com/flowmesh-io/flowmesh/internal/schema"
)

// jsonParseNode parses a string field into structured data. Parsed arrays
// can either stay nested or fan out into one item per element.
func jsonParseNode() *nodes.Definition {
	return &nodes.Definition{
		Identifier:  "jsonParse",
		DisplayName: "Parse JSON",
		Group:       []string{"data"},
		Version:     1,
		Inputs:      []string{"main"},
		Outputs:     []string{"main"},
		Properties: []schema.Property{
			{Name: "sourceField", DisplayName: "Source Field", Kind: schema.KindString, Required: true},
			{Name: "targetField", DisplayName: "Target Field", Kind: schema.KindString, Default: "parsed"},
			{Name: "fanOutArrays", DisplayName: "Split Arrays Into Items", Kind: schema.KindBoolean, Default: false},
		},
		Execute: executeJSONParse,
	}
}

func executeJSONParse(_ context.Context, ec *nodes.ExecutionContext) (map[string][]nodes.Item, error) {
	sourceField, _ := ec.Parameters["sourceField"].(string)
	if sourceField == "" {
		return nil, fmt.Errorf("jsonParse needs a sourceField")
	}
	targetField, _ := ec.Parameters["targetField"].(string)
	if targetField == "" {
		targetField = "parsed"
	}
	fanOut, _ := ec.Parameters["fanOutArrays"].(bool)

	var out []nodes.Item
	for i, item := range ec.MainInput() {
		raw := expression.LookupPath(item.JSON, sourceField)
		text, ok := raw.(string)
		if !ok {
			return nil, fmt.Errorf("item %d: field %q is not a string", i, sourceField)
		}

		var parsed interface{}
		if err := json.Unmarshal([]byte(text), &parsed); err != nil {
			return nil, fmt.Errorf("item %d: field %q is not valid JSON: %w", i, sourceField, err)
		}

		if arr, isArr := parsed.([]interface{}); isArr && fanOut {
			for _, element := range arr {
				data := map[string]interface{}{}
				obj, isObj := element.(map[string]interface{})
				if isObj {
					data = obj
				} else {
					data[targetField] = element
				}
				out = append(out, nodes.Item{JSON: data, PairedItem: &nodes.PairedItem{Item: i}})
			}
			continue
		}

		data := make(map[string]interface{}, len(item.JSON)+1)
		for k, v := range item.JSON {
			data[k] = v
		}
		data[targetField] = parsed
		out = append(out, nodes.Item{JSON: data, Binary: item.Binary, PairedItem: &nodes.PairedItem{Item: i}})
	}
	return map[string][]nodes.Item{"main": out}, nil
}
