package engine

import (
	"errors"
	"fmt"
)

// Kind classifies engine failures for callers and for retry policies.
type Kind string

const (
	KindNotFound              Kind = "NotFound"
	KindNoTriggerAvailable    Kind = "NoTriggerAvailable"
	KindCycle                 Kind = "Cycle"
	KindValidationFailed      Kind = "ValidationFailed"
	KindExpressionFailed      Kind = "ExpressionFailed"
	KindCredentialUnavailable Kind = "CredentialUnavailable"
	KindNodeExecutionError    Kind = "NodeExecutionError"
	KindCancelled             Kind = "Cancelled"
	KindTimeout               Kind = "Timeout"
)

// Error is the engine's failure type. NodeID is set when the failure is
// attributable to one node.
type Error struct {
	Kind   Kind
	NodeID string
	Err    error
}

func (e *Error) Error() string {
	if e.NodeID != "" {
		return fmt.Sprintf("%s at node %s: %v", e.Kind, e.NodeID, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// E wraps err with a kind and optional node attribution.
func E(kind Kind, nodeID string, err error) *Error {
	return &Error{Kind: kind, NodeID: nodeID, Err: err}
}

// Errf is E with a formatted message.
func Errf(kind Kind, nodeID, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, NodeID: nodeID, Err: fmt.Errorf(format, args...)}
}

// KindOf extracts the engine kind from an error chain, defaulting to
// NodeExecutionError for plain errors out of a node's execute.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindNodeExecutionError
}
