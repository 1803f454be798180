package logic

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowmesh-io/flowmesh/internal/nodes"
)

func runIfElse(t *testing.T, params map[string]interface{}, items []nodes.Item) map[string][]nodes.Item {
	t.Helper()
	out, err := executeIfElse(context.Background(), &nodes.ExecutionContext{
		Input:      map[string][]nodes.Item{"main": items},
		Parameters: params,
	})
	require.NoError(t, err)
	return out
}

func itemsOf(values ...map[string]interface{}) []nodes.Item {
	out := make([]nodes.Item, len(values))
	for i, v := range values {
		out[i] = nodes.NewItem(v)
	}
	return out
}

func TestIfElseSimple(t *testing.T) {
	items := itemsOf(
		map[string]interface{}{"status": "active"},
		map[string]interface{}{"status": "disabled"},
	)
	out := runIfElse(t, map[string]interface{}{
		"mode": "simple",
		"condition": map[string]interface{}{
			"key": "status", "expression": "equal", "value": "active",
		},
	}, items)

	// The whole batch follows the first item's verdict.
	assert.Len(t, out["true"], 2)
	assert.Empty(t, out["false"])
}

func TestIfElseRouteEach(t *testing.T) {
	items := itemsOf(
		map[string]interface{}{"age": float64(17)},
		map[string]interface{}{"age": float64(21)},
		map[string]interface{}{"age": float64(30)},
	)
	out := runIfElse(t, map[string]interface{}{
		"mode":      "simple",
		"routeMode": "each",
		"condition": map[string]interface{}{
			"key": "age", "expression": "largerEqual", "value": float64(18),
		},
	}, items)

	assert.Len(t, out["true"], 2)
	assert.Len(t, out["false"], 1)
	assert.Equal(t, float64(17), out["false"][0].JSON["age"])
}

func TestIfElseCombine(t *testing.T) {
	item := map[string]interface{}{"age": float64(25), "country": "DE"}

	params := map[string]interface{}{
		"mode":            "combine",
		"combineOperator": "and",
		"conditions": []interface{}{
			map[string]interface{}{"key": "age", "expression": "larger", "value": float64(18)},
			map[string]interface{}{"key": "country", "expression": "equal", "value": "DE"},
		},
	}
	out := runIfElse(t, params, itemsOf(item))
	assert.Len(t, out["true"], 1)

	params["combineOperator"] = "or"
	params["conditions"] = []interface{}{
		map[string]interface{}{"key": "age", "expression": "smaller", "value": float64(18)},
		map[string]interface{}{"key": "country", "expression": "equal", "value": "DE"},
	}
	out = runIfElse(t, params, itemsOf(item))
	assert.Len(t, out["true"], 1)
}

func TestIfElseGrouped(t *testing.T) {
	item := map[string]interface{}{"plan": "pro", "seats": float64(3), "trial": ""}

	out := runIfElse(t, map[string]interface{}{
		"mode":          "grouped",
		"groupOperator": "or",
		"groups": []interface{}{
			map[string]interface{}{
				"operator": "and",
				"conditions": []interface{}{
					map[string]interface{}{"key": "plan", "expression": "equal", "value": "enterprise"},
					map[string]interface{}{"key": "seats", "expression": "larger", "value": float64(10)},
				},
			},
			map[string]interface{}{
				"operator": "and",
				"conditions": []interface{}{
					map[string]interface{}{"key": "plan", "expression": "equal", "value": "pro"},
					map[string]interface{}{"key": "trial", "expression": "isEmpty"},
				},
			},
		},
	}, itemsOf(item))

	assert.Len(t, out["true"], 1)
}

func TestIfElseOperators(t *testing.T) {
	item := map[string]interface{}{
		"name":  "flowmesh",
		"count": float64(5),
		"tags":  []interface{}{},
	}

	cases := []struct {
		key, op string
		value   interface{}
		want    bool
	}{
		{"name", "contains", "mesh", true},
		{"name", "notContains", "mesh", false},
		{"name", "startsWith", "flow", true},
		{"name", "endsWith", "mesh", true},
		{"name", "regex", "^f.*h$", true},
		{"count", "largerEqual", float64(5), true},
		{"count", "smallerEqual", float64(4), false},
		{"count", "notEqual", float64(4), true},
		{"tags", "isEmpty", nil, true},
		{"tags", "isNotEmpty", nil, false},
		{"missing", "isEmpty", nil, true},
	}
	for _, tc := range cases {
		out := runIfElse(t, map[string]interface{}{
			"mode": "simple",
			"condition": map[string]interface{}{
				"key": tc.key, "expression": tc.op, "value": tc.value,
			},
		}, itemsOf(item))
		port := "false"
		if tc.want {
			port = "true"
		}
		assert.Len(t, out[port], 1, "%s %s %v", tc.key, tc.op, tc.value)
	}
}

func TestIfElseUnknownOperator(t *testing.T) {
	_, err := executeIfElse(context.Background(), &nodes.ExecutionContext{
		Input: map[string][]nodes.Item{"main": itemsOf(map[string]interface{}{"a": float64(1)})},
		Parameters: map[string]interface{}{
			"mode":      "simple",
			"condition": map[string]interface{}{"key": "a", "expression": "fuzzyMatch", "value": "x"},
		},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "fuzzyMatch")
}

func TestIfElseEmptyInput(t *testing.T) {
	out := runIfElse(t, map[string]interface{}{
		"mode":      "simple",
		"condition": map[string]interface{}{"key": "a", "expression": "isEmpty"},
	}, nil)
	assert.Empty(t, out["true"])
	assert.Empty(t, out["false"])
}

func TestSwitchRouting(t *testing.T) {
	items := itemsOf(
		map[string]interface{}{"tier": "gold"},
		map[string]interface{}{"tier": "silver"},
		map[string]interface{}{"tier": "wood"},
	)

	out, err := executeSwitch(context.Background(), &nodes.ExecutionContext{
		Input: map[string][]nodes.Item{"main": items},
		Parameters: map[string]interface{}{
			"dataProperty": "tier",
			"rules": []interface{}{
				map[string]interface{}{"expression": "equal", "value": "gold"},
				map[string]interface{}{"expression": "equal", "value": "silver"},
			},
		},
	})
	require.NoError(t, err)
	assert.Len(t, out["0"], 1)
	assert.Len(t, out["1"], 1)
	assert.Len(t, out["default"], 1)
	assert.Equal(t, "wood", out["default"][0].JSON["tier"])
}

func TestSwitchTooManyRules(t *testing.T) {
	rules := make([]interface{}, 5)
	for i := range rules {
		rules[i] = map[string]interface{}{"key": "x", "expression": "isEmpty"}
	}
	_, err := executeSwitch(context.Background(), &nodes.ExecutionContext{
		Input:      map[string][]nodes.Item{"main": nil},
		Parameters: map[string]interface{}{"rules": rules},
	})
	assert.Error(t, err)
}
