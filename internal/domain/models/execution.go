package models

import (
	"time"

	"github.com/google/uuid"
)

// Execution is one dynamic run of a workflow. The workflow snapshot taken at
// submission time is stored alongside the row so the run is immune to later
// edits of the workflow.
type Execution struct {
	ID               uuid.UUID  `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"id"`
	WorkflowID       uuid.UUID  `gorm:"type:uuid;index;not null" json:"workflow_id"`
	UserID           uuid.UUID  `gorm:"type:uuid;index;not null" json:"user_id"`
	Status           string     `gorm:"size:20;not null;default:running;index" json:"status"`
	TriggerKind      string     `gorm:"size:20;not null" json:"trigger_kind"`
	TriggerData      JSON       `gorm:"type:jsonb" json:"trigger_data,omitempty"`
	WorkflowSnapshot JSON       `gorm:"type:jsonb;not null" json:"workflow_snapshot"`
	ErrorMessage     *string    `gorm:"type:text" json:"error_message,omitempty"`
	ErrorNodeID      *string    `gorm:"size:100" json:"error_node_id,omitempty"`
	StartedAt        time.Time  `gorm:"not null" json:"started_at"`
	FinishedAt       *time.Time `json:"finished_at,omitempty"`
	NodesTotal       int        `gorm:"default:0" json:"nodes_total"`
	NodesCompleted   int        `gorm:"default:0" json:"nodes_completed"`
	RetryOfID        *uuid.UUID `gorm:"type:uuid" json:"retry_of_id,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`

	Workflow       Workflow        `gorm:"foreignKey:WorkflowID" json:"-"`
	NodeExecutions []NodeExecution `gorm:"foreignKey:ExecutionID;constraint:OnDelete:CASCADE" json:"-"`
}

func (Execution) TableName() string {
	return "executions"
}

// NodeExecution records one node's run within an execution, keyed by
// (execution_id, node_id).
type NodeExecution struct {
	ID           uuid.UUID  `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"id"`
	ExecutionID  uuid.UUID  `gorm:"type:uuid;index:idx_node_exec,unique;not null" json:"execution_id"`
	NodeID       string     `gorm:"size:100;index:idx_node_exec,unique;not null" json:"node_id"`
	NodeName     string     `gorm:"size:255" json:"node_name"`
	NodeType     string     `gorm:"size:100;not null" json:"node_type"`
	Status       string     `gorm:"size:20;not null;default:queued;index" json:"status"`
	InputData    JSON       `gorm:"type:jsonb" json:"input_data,omitempty"`
	OutputData   JSON       `gorm:"type:jsonb" json:"output_data,omitempty"`
	ErrorMessage *string    `gorm:"type:text" json:"error_message,omitempty"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
	AttemptCount int        `gorm:"default:0" json:"attempt_count"`
	CreatedAt    time.Time  `json:"created_at"`

	Execution Execution `gorm:"foreignKey:ExecutionID" json:"-"`
}

func (NodeExecution) TableName() string {
	return "node_executions"
}
