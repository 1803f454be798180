// Package logic holds the built-in routing and branching node types.
package logic

import "github.com/flowmesh-io/flowmesh/internal/nodes"

// Register adds all logic definitions to the registry.
func Register(r *nodes.Registry) error {
	for _, def := range []*nodes.Definition{
		ifElseNode(),
		switchNode(),
	} {
		if err := r.Register(def); err != nil {
			return err
		}
	}
	return nil
}
