// Package actions holds the built-in data-manipulation and I/O node types.
package actions

import "github.com/flowmesh-io/flowmesh/internal/nodes"

// Register adds all action definitions to the registry.
func Register(r *nodes.Registry) error {
	for _, def := range []*nodes.Definition{
		setNode(),
		jsonParseNode(),
		waitNode(),
		httpRequestNode(),
		codeNode(),
	} {
		if err := r.Register(def); err != nil {
			return err
		}
	}
	return nil
}
