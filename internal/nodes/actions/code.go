package actions

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dop251/goja"

	"github.com/flowmesh-io/flowmesh/internal/nodes"
	"github.com/flowmesh-io/flowmesh/internal/schema"
)

const codeTimeout = 10 * time.Second

// codeNode runs a user JavaScript snippet over the input batch inside a goja
// sandbox. The script sees $items (the input JSON objects), $item(i) as a
// shorthand, and must return the output items: an array of objects, a single
// object, or {json: ...} wrappers.
func codeNode() *nodes.Definition {
	return &nodes.Definition{
		Identifier:  "code",
		DisplayName: "Code",
		Group:       []string{"data"},
		Version:     1,
		Inputs:      []string{"main"},
		Outputs:     []string{"main"},
		Properties: []schema.Property{
			{Name: "code", DisplayName: "JavaScript", Kind: schema.KindString, Required: true},
		},
		Execute: executeCode,
	}
}

func executeCode(ctx context.Context, ec *nodes.ExecutionContext) (map[string][]nodes.Item, error) {
	code, _ := ec.Parameters["code"].(string)
	if code == "" {
		return nil, fmt.Errorf("code is required")
	}

	vm := goja.New()

	// Interrupt on cancellation and on the hard timeout.
	runCtx, cancel := context.WithTimeout(ctx, codeTimeout)
	defer cancel()
	stop := context.AfterFunc(runCtx, func() {
		vm.Interrupt("execution interrupted")
	})
	defer stop()

	items := make([]interface{}, 0, len(ec.MainInput()))
	for _, item := range ec.MainInput() {
		items = append(items, item.JSON)
	}
	if err := vm.Set("$items", items); err != nil {
		return nil, fmt.Errorf("setting $items: %w", err)
	}
	if err := vm.Set("console", map[string]interface{}{
		"log": func(args ...interface{}) {
			ec.Logger.Debug().Interface("args", args).Msg("code node console.log")
		},
	}); err != nil {
		return nil, fmt.Errorf("setting console: %w", err)
	}

	wrapped := fmt.Sprintf(`
		function $item(index) { return $items[index || 0]; }
		(function() {
			%s
		})()
	`, code)

	result, err := vm.RunString(wrapped)
	if err != nil {
		if interrupted, ok := err.(*goja.InterruptedError); ok {
			if runCtx.Err() != nil {
				return nil, runCtx.Err()
			}
			return nil, fmt.Errorf("code interrupted: %v", interrupted.Value())
		}
		return nil, fmt.Errorf("code error: %w", err)
	}

	out, err := itemsFromScriptResult(result.Export())
	if err != nil {
		return nil, err
	}
	return map[string][]nodes.Item{"main": out}, nil
}

// itemsFromScriptResult normalizes whatever the script returned into items.
// Values pass through a JSON round-trip so downstream sees only plain maps,
// slices and float64 numbers.
func itemsFromScriptResult(v interface{}) ([]nodes.Item, error) {
	normalized, err := normalizeJSON(v)
	if err != nil {
		return nil, fmt.Errorf("code returned a non-serializable value: %w", err)
	}

	switch val := normalized.(type) {
	case nil:
		return nil, nil
	case []interface{}:
		out := make([]nodes.Item, 0, len(val))
		for i, element := range val {
			item, err := itemFromScriptValue(element)
			if err != nil {
				return nil, fmt.Errorf("returned element %d: %w", i, err)
			}
			out = append(out, item)
		}
		return out, nil
	case map[string]interface{}:
		item, err := itemFromScriptValue(val)
		if err != nil {
			return nil, err
		}
		return []nodes.Item{item}, nil
	default:
		return []nodes.Item{nodes.NewItem(map[string]interface{}{"result": normalized})}, nil
	}
}

func itemFromScriptValue(v interface{}) (nodes.Item, error) {
	obj, ok := v.(map[string]interface{})
	if !ok {
		return nodes.NewItem(map[string]interface{}{"result": v}), nil
	}
	if inner, ok := obj["json"].(map[string]interface{}); ok && len(obj) <= 2 {
		item := nodes.NewItem(inner)
		if binary, ok := obj["binary"].(map[string]interface{}); ok {
			item.Binary = binary
		}
		return item, nil
	}
	return nodes.NewItem(obj), nil
}

func normalizeJSON(v interface{}) (interface{}, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out interface{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}
