package nodes

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/flowmesh-io/flowmesh/internal/schema"
)

// TriggerKind classifies how a trigger-category node starts a workflow.
type TriggerKind string

const (
	TriggerManual         TriggerKind = "manual"
	TriggerWebhook        TriggerKind = "webhook"
	TriggerSchedule       TriggerKind = "schedule"
	TriggerPolling        TriggerKind = "polling"
	TriggerWorkflowCalled TriggerKind = "workflow-called"
	TriggerError          TriggerKind = "error"
)

// PairedItem links an output item back to the input item it derives from.
type PairedItem struct {
	Item  int `json:"item"`
	Input int `json:"input,omitempty"`
}

// Item is the unit of data flowing along a connection.
type Item struct {
	JSON       map[string]interface{} `json:"json"`
	Binary     map[string]interface{} `json:"binary,omitempty"`
	PairedItem *PairedItem            `json:"pairedItem,omitempty"`
}

// NewItem wraps a JSON object as an item.
func NewItem(data map[string]interface{}) Item {
	if data == nil {
		data = map[string]interface{}{}
	}
	return Item{JSON: data}
}

// CredentialDefinition names a credential type a node may consume.
type CredentialDefinition struct {
	Type     string
	Required bool
}

// ExecutionContext is what a node sees for one invocation. Input maps input
// port name to the ordered items that arrived there; Parameters have already
// been through expression resolution; Credentials maps credential type to its
// decrypted, sanitized payload. Cancellation and timeout arrive through the
// context.Context passed to Execute.
type ExecutionContext struct {
	ExecutionID uuid.UUID
	WorkflowID  uuid.UUID
	NodeID      string
	NodeName    string
	Input       map[string][]Item
	Parameters  map[string]interface{}
	Credentials map[string]map[string]interface{}
	Helpers     *Helpers
	Logger      zerolog.Logger
}

// MainInput returns the items on the conventional "main" port.
func (ec *ExecutionContext) MainInput() []Item {
	return ec.Input["main"]
}

// ExecuteFunc is the uniform invoke contract: items per output port, or an
// error.
type ExecuteFunc func(ctx context.Context, ec *ExecutionContext) (map[string][]Item, error)

// Definition declares a node type: its ports, parameter schema, credential
// requirements and behavior.
type Definition struct {
	Identifier  string
	DisplayName string
	Group       []string
	Version     int

	Inputs  []string
	Outputs []string
	// ServiceInputs consume a capability from a connected sibling rather
	// than a data stream.
	ServiceInputs []string

	Properties  []schema.Property
	Credentials []CredentialDefinition

	// TriggerKind is set only on trigger-category nodes.
	TriggerKind TriggerKind

	Execute ExecuteFunc
}

// IsTrigger reports whether the node starts workflows rather than consuming
// upstream data.
func (d *Definition) IsTrigger() bool {
	return d.TriggerKind != ""
}

// HasOutput reports whether the definition declares the named output port.
func (d *Definition) HasOutput(port string) bool {
	for _, p := range d.Outputs {
		if p == port {
			return true
		}
	}
	return false
}
