package actions

import (
	"context"
	"fmt"
	"time"

	"github.com/flowmesh-io/flowmesh/internal/nodes"
	"github.com/flowmesh-io/flowmesh/internal/schema"
)

const maxWait = time.Hour

// waitNode pauses the branch, then passes its input through. The pause is
// cancellable: engine cancellation or timeout interrupts it immediately.
func waitNode() *nodes.Definition {
	return &nodes.Definition{
		Identifier:  "wait",
		DisplayName: "Wait",
		Group:       []string{"flow"},
		Version:     1,
		Inputs:      []string{"main"},
		Outputs:     []string{"main"},
		Properties: []schema.Property{
			{Name: "amount", DisplayName: "Amount", Kind: schema.KindNumber, Required: true},
			{Name: "unit", DisplayName: "Unit", Kind: schema.KindOptions, Default: "seconds",
				Options: []string{"milliseconds", "seconds", "minutes"}},
		},
		Execute: executeWait,
	}
}

func executeWait(ctx context.Context, ec *nodes.ExecutionContext) (map[string][]nodes.Item, error) {
	amount, ok := toDurationAmount(ec.Parameters["amount"])
	if !ok || amount < 0 {
		return nil, fmt.Errorf("wait needs a non-negative numeric amount")
	}

	unit := time.Second
	switch u, _ := ec.Parameters["unit"].(string); u {
	case "milliseconds":
		unit = time.Millisecond
	case "minutes":
		unit = time.Minute
	}

	d := time.Duration(amount * float64(unit))
	if d > maxWait {
		return nil, fmt.Errorf("wait of %s exceeds the %s maximum", d, maxWait)
	}

	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
	}

	return map[string][]nodes.Item{"main": ec.MainInput()}, nil
}

func toDurationAmount(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}
