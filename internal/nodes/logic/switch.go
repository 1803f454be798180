package logic

import (
	"context"
	"fmt"

	"github.com/flowmesh-io/flowmesh/internal/nodes"
	"github.com/flowmesh-io/flowmesh/internal/schema"
)

// switchNode routes each item to the output of the first rule it matches,
// falling back to the "default" port. Rules reuse the ifElse predicate set.
func switchNode() *nodes.Definition {
	return &nodes.Definition{
		Identifier:  "switch",
		DisplayName: "Switch",
		Group:       []string{"logic"},
		Version:     1,
		Inputs:      []string{"main"},
		Outputs:     []string{"0", "1", "2", "3", "default"},
		Properties: []schema.Property{
			{Name: "dataProperty", DisplayName: "Data Property", Kind: schema.KindString,
				Description: "Path of the field the rules compare against"},
			{Name: "rules", DisplayName: "Rules", Kind: schema.KindCollection, Required: true},
		},
		Execute: executeSwitch,
	}
}

func executeSwitch(_ context.Context, ec *nodes.ExecutionContext) (map[string][]nodes.Item, error) {
	rawRules, ok := ec.Parameters["rules"].([]interface{})
	if !ok {
		return nil, fmt.Errorf("switch needs a rules list")
	}
	if len(rawRules) > 4 {
		return nil, fmt.Errorf("switch supports at most 4 rules, got %d", len(rawRules))
	}
	dataProperty, _ := ec.Parameters["dataProperty"].(string)

	rules := make([]predicate, len(rawRules))
	for i, raw := range rawRules {
		p, err := parsePredicate(raw)
		if err != nil {
			return nil, fmt.Errorf("rule %d: %w", i, err)
		}
		if p.Key == "" {
			p.Key = dataProperty
		}
		rules[i] = p
	}

	out := map[string][]nodes.Item{"default": {}}
	for i := range rules {
		out[fmt.Sprintf("%d", i)] = []nodes.Item{}
	}

	for _, item := range ec.MainInput() {
		port := "default"
		for i, rule := range rules {
			matched, err := rule.eval(item.JSON)
			if err != nil {
				return nil, fmt.Errorf("rule %d: %w", i, err)
			}
			if matched {
				port = fmt.Sprintf("%d", i)
				break
			}
		}
		out[port] = append(out[port], item)
	}
	return out, nil
}
