// Package triggers holds the built-in trigger node types. Triggers sit at
// workflow entry: the engine seeds their input with the trigger payload and
// they shape it into the items downstream nodes consume.
package triggers

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/flowmesh-io/flowmesh/internal/nodes"
	"github.com/flowmesh-io/flowmesh/internal/schema"
)

// Register adds all trigger definitions to the registry.
func Register(r *nodes.Registry) error {
	for _, def := range []*nodes.Definition{
		manualTrigger(),
		webhookTrigger(),
		scheduleTrigger(),
		workflowCalledTrigger(),
		errorTrigger(),
	} {
		if err := r.Register(def); err != nil {
			return err
		}
	}
	return nil
}

// passThrough forwards the seeded trigger items unchanged, emitting a single
// empty item when the trigger fired without a payload.
func passThrough(_ context.Context, ec *nodes.ExecutionContext) (map[string][]nodes.Item, error) {
	items := ec.MainInput()
	if len(items) == 0 {
		items = []nodes.Item{nodes.NewItem(nil)}
	}
	return map[string][]nodes.Item{"main": items}, nil
}

func manualTrigger() *nodes.Definition {
	return &nodes.Definition{
		Identifier:  "manualTrigger",
		DisplayName: "Manual Trigger",
		Group:       []string{"trigger"},
		Version:     1,
		Outputs:     []string{"main"},
		TriggerKind: nodes.TriggerManual,
		Execute:     passThrough,
	}
}

func webhookTrigger() *nodes.Definition {
	return &nodes.Definition{
		Identifier:  "webhookTrigger",
		DisplayName: "Webhook",
		Group:       []string{"trigger"},
		Version:     1,
		Outputs:     []string{"main"},
		TriggerKind: nodes.TriggerWebhook,
		Properties: []schema.Property{
			{Name: "path", DisplayName: "Path", Kind: schema.KindString, Required: true},
			{Name: "method", DisplayName: "Method", Kind: schema.KindOptions, Default: "POST",
				Options: []string{"GET", "POST", "PUT", "DELETE", "PATCH"}},
			{Name: "responseMode", DisplayName: "Respond", Kind: schema.KindOptions, Default: "immediately",
				Options: []string{"immediately", "whenFinished"}},
		},
		Execute: func(_ context.Context, ec *nodes.ExecutionContext) (map[string][]nodes.Item, error) {
			items := ec.MainInput()
			if len(items) == 0 {
				items = []nodes.Item{nodes.NewItem(nil)}
			}
			// Normalize every request item to the webhook envelope shape.
			out := make([]nodes.Item, len(items))
			for i, item := range items {
				envelope := map[string]interface{}{
					"headers": item.JSON["headers"],
					"params":  item.JSON["params"],
					"query":   item.JSON["query"],
					"body":    item.JSON["body"],
				}
				if envelope["body"] == nil && len(item.JSON) > 0 {
					envelope["body"] = item.JSON
				}
				out[i] = nodes.NewItem(envelope)
			}
			return map[string][]nodes.Item{"main": out}, nil
		},
	}
}

func scheduleTrigger() *nodes.Definition {
	return &nodes.Definition{
		Identifier:  "scheduleTrigger",
		DisplayName: "Schedule",
		Group:       []string{"trigger"},
		Version:     1,
		Outputs:     []string{"main"},
		TriggerKind: nodes.TriggerSchedule,
		Properties: []schema.Property{
			{Name: "mode", DisplayName: "Mode", Kind: schema.KindOptions, Default: "cron",
				Options: []string{"cron", "interval"}},
			{Name: "cronExpression", DisplayName: "Cron Expression", Kind: schema.KindString, Required: true,
				DisplayOptions: &schema.DisplayOptions{Show: map[string][]interface{}{"mode": {"cron"}}}},
			{Name: "intervalSeconds", DisplayName: "Interval (Seconds)", Kind: schema.KindNumber, Required: true,
				DisplayOptions: &schema.DisplayOptions{Show: map[string][]interface{}{"mode": {"interval"}}}},
		},
		Execute: func(_ context.Context, ec *nodes.ExecutionContext) (map[string][]nodes.Item, error) {
			item := map[string]interface{}{
				"timestamp": time.Now().UTC().Format(time.RFC3339),
			}
			if mode, _ := ec.Parameters["mode"].(string); mode != "interval" {
				expr, _ := ec.Parameters["cronExpression"].(string)
				if _, err := cron.ParseStandard(expr); err != nil {
					return nil, fmt.Errorf("invalid cron expression %q: %w", expr, err)
				}
				item["cron"] = expr
			}
			return map[string][]nodes.Item{"main": {nodes.NewItem(item)}}, nil
		},
	}
}

func workflowCalledTrigger() *nodes.Definition {
	return &nodes.Definition{
		Identifier:  "workflowCalledTrigger",
		DisplayName: "When Called by Another Workflow",
		Group:       []string{"trigger"},
		Version:     1,
		Outputs:     []string{"main"},
		TriggerKind: nodes.TriggerWorkflowCalled,
		Execute:     passThrough,
	}
}

func errorTrigger() *nodes.Definition {
	return &nodes.Definition{
		Identifier:  "errorTrigger",
		DisplayName: "Error Trigger",
		Group:       []string{"trigger"},
		Version:     1,
		Outputs:     []string{"main"},
		TriggerKind: nodes.TriggerError,
		Execute:     passThrough,
	}
}
