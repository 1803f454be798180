// Package builtin assembles the standard node registry.
package builtin

import (
	"github.com/flowmesh-io/flowmesh/internal/nodes"
	"github.com/flowmesh-io/flowmesh/internal/nodes/actions"
	"github.com/flowmesh-io/flowmesh/internal/nodes/logic"
	"github.com/flowmesh-io/flowmesh/internal/nodes/triggers"
)

// Registry returns a registry holding every built-in node type.
func Registry() *nodes.Registry {
	r := nodes.NewRegistry()
	// Identifiers are disjoint across the built-in packages; registration
	// cannot fail.
	must(triggers.Register(r))
	must(logic.Register(r))
	must(actions.Register(r))
	return r
}

func must(err error) {
	if err != nil {
		panic(err)
	}
}
