package nodes

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowmesh-io/flowmesh/internal/schema"
)

func noopExecute(_ context.Context, _ *ExecutionContext) (map[string][]Item, error) {
	return map[string][]Item{"main": nil}, nil
}

func TestRegisterRejectsBadDefinitions(t *testing.T) {
	r := NewRegistry()

	assert.Error(t, r.Register(&Definition{Execute: noopExecute}))
	assert.Error(t, r.Register(&Definition{Identifier: "x", Inputs: []string{"main"}}))
	// A non-trigger without inputs is unreachable.
	assert.Error(t, r.Register(&Definition{Identifier: "x", Execute: noopExecute}))

	require.NoError(t, r.Register(&Definition{
		Identifier: "x", Inputs: []string{"main"}, Outputs: []string{"main"}, Execute: noopExecute,
	}))
	assert.Error(t, r.Register(&Definition{
		Identifier: "x", Inputs: []string{"main"}, Outputs: []string{"main"}, Execute: noopExecute,
	}), "duplicate identifier")
}

func TestTriggerNeedsNoInputs(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(&Definition{
		Identifier:  "t",
		Outputs:     []string{"main"},
		TriggerKind: TriggerManual,
		Execute:     noopExecute,
	}))
	def, ok := r.Get("t")
	require.True(t, ok)
	assert.True(t, def.IsTrigger())
}

func TestValidateParameters(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(&Definition{
		Identifier: "x", Inputs: []string{"main"}, Outputs: []string{"main"}, Execute: noopExecute,
		Properties: []schema.Property{
			{Name: "url", Kind: schema.KindString, Required: true},
		},
	}))

	errs, err := r.ValidateParameters("x", map[string]interface{}{})
	require.NoError(t, err)
	require.Len(t, errs, 1)
	assert.Equal(t, "url", errs[0].Property)

	_, err = r.ValidateParameters("nope", nil)
	assert.Error(t, err)
}

func TestListSorted(t *testing.T) {
	r := NewRegistry()
	for _, id := range []string{"zeta", "alpha", "mid"} {
		require.NoError(t, r.Register(&Definition{
			Identifier: id, Inputs: []string{"main"}, Outputs: []string{"main"}, Execute: noopExecute,
		}))
	}
	assert.Equal(t, []string{"alpha", "mid", "zeta"}, r.List())
}
