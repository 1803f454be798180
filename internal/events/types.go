package events

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Type names an event on the bus. Node-level and execution-level events form
// the two topic families.
type Type string

const (
	ExecutionStarted   Type = "execution-started"
	ExecutionProgress  Type = "execution-progress"
	ExecutionCompleted Type = "execution-completed"

	NodeStarted   Type = "node-started"
	NodeCompleted Type = "node-completed"
	NodeFailed    Type = "node-failed"
	NodeCancelled Type = "node-cancelled"
	NodeSkipped   Type = "node-skipped"

	// FailureEscalation fires when a failing workflow names an error
	// workflow; a surrounding orchestrator resubmits, the engine does not.
	FailureEscalation Type = "failure-escalation"
)

// Topic is a subscription family: "execution-*", "node-*" or "failure-*".
type Topic string

const (
	TopicExecution Topic = "execution-*"
	TopicNode      Topic = "node-*"
	TopicFailure   Topic = "failure-*"
)

// Matches reports whether an event type falls under the topic.
func (t Topic) Matches(eventType Type) bool {
	prefix := strings.TrimSuffix(string(t), "*")
	return strings.HasPrefix(string(eventType), prefix)
}

// Event is one bus message. NodeID and Status are empty on execution-level
// events that do not concern a single node.
type Event struct {
	Type        Type                   `json:"type"`
	ExecutionID uuid.UUID              `json:"execution_id"`
	WorkflowID  uuid.UUID              `json:"workflow_id"`
	NodeID      string                 `json:"node_id,omitempty"`
	Status      string                 `json:"status,omitempty"`
	Timestamp   time.Time              `json:"timestamp"`
	Data        map[string]interface{} `json:"data,omitempty"`
}

// Progress is the payload shape of execution-progress events.
type Progress struct {
	TotalNodes     int      `json:"total_nodes"`
	CompletedNodes int      `json:"completed_nodes"`
	FailedNodes    int      `json:"failed_nodes"`
	CurrentNodeIDs []string `json:"current_node_ids"`
	Status         string   `json:"status"`
}

// Map renders the progress for the event's Data field.
func (p Progress) Map() map[string]interface{} {
	return map[string]interface{}{
		"total_nodes":      p.TotalNodes,
		"completed_nodes":  p.CompletedNodes,
		"failed_nodes":     p.FailedNodes,
		"current_node_ids": p.CurrentNodeIDs,
		"status":           p.Status,
	}
}
