package models

import (
	"time"

	"github.com/google/uuid"
)

// WorkflowExecution is one run of a workflow version. The request ID is a
// client-provided idempotency key, unique per workflow.
type WorkflowExecution struct {
	ID                  uuid.UUID  `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"id"`
	WorkflowID          string     `gorm:"size:100;not null;uniqueIndex:idx_executions_workflow_request" json:"workflow_id"`
	WorkflowVersion     int        `gorm:"not null" json:"workflow_version"`
	WorkflowRequestID   string     `gorm:"size:100;not null;uniqueIndex:idx_executions_workflow_request" json:"workflow_request_id"`
	Status              string     `gorm:"size:20;not null;default:Pending;index;check:status IN ('Pending','Running','Succeeded','Failed','Cancelled')" json:"status"`
	TriggerPayloadJSON  JSON       `gorm:"type:jsonb" json:"trigger_payload_json,omitempty"`
	VarsJSON            JSON       `gorm:"type:jsonb" json:"vars_json,omitempty"`
	ContextSnapshotJSON JSON       `gorm:"type:jsonb" json:"context_snapshot_json,omitempty"`
	ErrorMessage        *string    `gorm:"type:text" json:"error_message,omitempty"`
	CorrelationID       *string    `gorm:"size:100" json:"correlation_id,omitempty"`
	StartTime           *time.Time `json:"start_time,omitempty"`
	EndTime             *time.Time `json:"end_time,omitempty"`
	CreatedAt           time.Time  `json:"created_at"`

	Workflow         Workflow          `gorm:"foreignKey:WorkflowID" json:"-"`
	ActionExecutions []ActionExecution `gorm:"foreignKey:WorkflowExecutionID;constraint:OnDelete:CASCADE" json:"-"`
}

func (WorkflowExecution) TableName() string {
	return "workflow_executions"
}

// ActionExecution is one attempt at one node within one run. Rows are
// append-only; attempt numbers are monotone per (execution, node).
type ActionExecution struct {
	ID                  uuid.UUID  `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"id"`
	WorkflowExecutionID uuid.UUID  `gorm:"type:uuid;not null;index:idx_action_executions_exec_node" json:"workflow_execution_id"`
	NodeID              string     `gorm:"size:100;not null;index:idx_action_executions_exec_node" json:"node_id"`
	ActionType          string     `gorm:"size:100;not null" json:"action_type"`
	Status              string     `gorm:"size:20;not null;check:status IN ('Succeeded','Failed','RetriableFailure','Skipped')" json:"status"`
	Attempt             int        `gorm:"not null" json:"attempt"`
	RetryCount          int        `gorm:"not null;default:0" json:"retry_count"`
	ParametersJSON      RawJSON    `gorm:"type:jsonb" json:"parameters_json,omitempty"`
	OutputsJSON         JSON       `gorm:"type:jsonb" json:"outputs_json,omitempty"`
	ErrorJSON           JSON       `gorm:"type:jsonb" json:"error_json,omitempty"`
	StartTime           *time.Time `json:"start_time,omitempty"`
	EndTime             *time.Time `json:"end_time,omitempty"`
	CreatedAt           time.Time  `json:"created_at"`

	WorkflowExecution WorkflowExecution `gorm:"foreignKey:WorkflowExecutionID" json:"-"`
}

func (ActionExecution) TableName() string {
	return "action_executions"
}
