package logic

import (
	"context"
	"fmt"

	"github.com/flowmesh-io/flowmesh/internal/nodes"
	"github.com/flowmesh-io/flowmesh/internal/schema"
)

// ifElseNode routes items to the "true" or "false" port. Three condition
// modes exist: simple (one predicate), combine (a flat predicate list joined
// by one operator) and grouped (predicate groups with an inner operator per
// group and an outer operator between groups).
//
// With routeMode "all" the whole batch follows the verdict of the first
// item; "each" partitions items individually.
func ifElseNode() *nodes.Definition {
	return &nodes.Definition{
		Identifier:  "ifElse",
		DisplayName: "If",
		Group:       []string{"logic"},
		Version:     1,
		Inputs:      []string{"main"},
		Outputs:     []string{"true", "false"},
		Properties: []schema.Property{
			{Name: "mode", DisplayName: "Mode", Kind: schema.KindOptions, Default: "simple",
				Options: []string{"simple", "combine", "grouped"}},
			{Name: "condition", DisplayName: "Condition", Kind: schema.KindCollection, Required: true,
				DisplayOptions: &schema.DisplayOptions{Show: map[string][]interface{}{"mode": {"simple"}}}},
			{Name: "conditions", DisplayName: "Conditions", Kind: schema.KindCollection, Required: true,
				DisplayOptions: &schema.DisplayOptions{Show: map[string][]interface{}{"mode": {"combine"}}}},
			{Name: "combineOperator", DisplayName: "Combine With", Kind: schema.KindOptions, Default: "and",
				Options:        []string{"and", "or"},
				DisplayOptions: &schema.DisplayOptions{Show: map[string][]interface{}{"mode": {"combine"}}}},
			{Name: "groups", DisplayName: "Condition Groups", Kind: schema.KindCollection, Required: true,
				DisplayOptions: &schema.DisplayOptions{Show: map[string][]interface{}{"mode": {"grouped"}}}},
			{Name: "groupOperator", DisplayName: "Between Groups", Kind: schema.KindOptions, Default: "and",
				Options:        []string{"and", "or"},
				DisplayOptions: &schema.DisplayOptions{Show: map[string][]interface{}{"mode": {"grouped"}}}},
			{Name: "routeMode", DisplayName: "Route", Kind: schema.KindOptions, Default: "all",
				Options:     []string{"all", "each"},
				Description: "Route the whole batch by the first item, or each item by itself"},
		},
		Execute: executeIfElse,
	}
}

func executeIfElse(_ context.Context, ec *nodes.ExecutionContext) (map[string][]nodes.Item, error) {
	items := ec.MainInput()
	out := map[string][]nodes.Item{"true": {}, "false": {}}
	if len(items) == 0 {
		return out, nil
	}

	routeMode, _ := ec.Parameters["routeMode"].(string)
	if routeMode != "each" {
		verdict, err := evaluateConditions(ec.Parameters, items[0].JSON)
		if err != nil {
			return nil, err
		}
		out[portFor(verdict)] = items
		return out, nil
	}

	for _, item := range items {
		verdict, err := evaluateConditions(ec.Parameters, item.JSON)
		if err != nil {
			return nil, err
		}
		out[portFor(verdict)] = append(out[portFor(verdict)], item)
	}
	return out, nil
}

func portFor(verdict bool) string {
	if verdict {
		return "true"
	}
	return "false"
}

func evaluateConditions(params map[string]interface{}, itemJSON map[string]interface{}) (bool, error) {
	mode, _ := params["mode"].(string)
	switch mode {
	case "", "simple":
		p, err := parsePredicate(params["condition"])
		if err != nil {
			return false, err
		}
		return p.eval(itemJSON)

	case "combine":
		raw, ok := params["conditions"].([]interface{})
		if !ok {
			return false, fmt.Errorf("combine mode needs a conditions list")
		}
		op, _ := params["combineOperator"].(string)
		results, err := evalList(raw, itemJSON)
		if err != nil {
			return false, err
		}
		return combine(op, results), nil

	case "grouped":
		rawGroups, ok := params["groups"].([]interface{})
		if !ok {
			return false, fmt.Errorf("grouped mode needs a groups list")
		}
		outerOp, _ := params["groupOperator"].(string)
		groupResults := make([]bool, 0, len(rawGroups))
		for _, rawGroup := range rawGroups {
			group, ok := rawGroup.(map[string]interface{})
			if !ok {
				return false, fmt.Errorf("condition group must be an object, got %T", rawGroup)
			}
			rawConds, ok := group["conditions"].([]interface{})
			if !ok {
				return false, fmt.Errorf("condition group needs a conditions list")
			}
			innerOp, _ := group["operator"].(string)
			results, err := evalList(rawConds, itemJSON)
			if err != nil {
				return false, err
			}
			groupResults = append(groupResults, combine(innerOp, results))
		}
		return combine(outerOp, groupResults), nil

	default:
		return false, fmt.Errorf("unknown condition mode %q", mode)
	}
}

func evalList(raw []interface{}, itemJSON map[string]interface{}) ([]bool, error) {
	results := make([]bool, 0, len(raw))
	for _, r := range raw {
		p, err := parsePredicate(r)
		if err != nil {
			return nil, err
		}
		v, err := p.eval(itemJSON)
		if err != nil {
			return nil, err
		}
		results = append(results, v)
	}
	return results, nil
}
