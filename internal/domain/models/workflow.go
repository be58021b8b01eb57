package models

import (
	"time"
)

// Workflow is the identity of a business flow. The definition payloads
// live in WorkflowDefinition, versioned and immutable once published.
type Workflow struct {
	ID             string      `gorm:"size:100;primaryKey" json:"id"`
	DisplayName    string      `gorm:"size:255;not null" json:"display_name"`
	Description    *string     `gorm:"type:text" json:"description,omitempty"`
	CurrentVersion *int        `json:"current_version,omitempty"`
	Status         string      `gorm:"size:20;not null;default:Draft;index;check:status IN ('Draft','Active','Archived')" json:"status"`
	IsEnabled      bool        `gorm:"not null;default:true" json:"is_enabled"`
	Tags           StringArray `gorm:"type:text[]" json:"tags,omitempty"`
	CreatedAt      time.Time   `json:"created_at"`
	UpdatedAt      time.Time   `json:"updated_at"`

	Definitions []WorkflowDefinition `gorm:"foreignKey:WorkflowID" json:"-"`
	Executions  []WorkflowExecution  `gorm:"foreignKey:WorkflowID" json:"-"`
}

func (Workflow) TableName() string {
	return "workflows"
}

// WorkflowDefinition is one immutable versioned payload of a workflow.
// Version 0 is the editable draft; versions >= 1 never change. The
// checksum makes republishing identical content idempotent; its unique
// index skips the draft, which shares a checksum with the version it
// was last frozen into.
type WorkflowDefinition struct {
	WorkflowID     string    `gorm:"size:100;primaryKey;uniqueIndex:uniq_definitions_workflow_checksum,where:version >= 1" json:"workflow_id"`
	Version        int       `gorm:"primaryKey" json:"version"`
	DefinitionJSON RawJSON   `gorm:"type:jsonb;not null" json:"definition_json"`
	Checksum       string    `gorm:"size:64;not null;uniqueIndex:uniq_definitions_workflow_checksum,where:version >= 1" json:"checksum"`
	CreatedAt      time.Time `json:"created_at"`

	Workflow Workflow `gorm:"foreignKey:WorkflowID" json:"-"`
}

func (WorkflowDefinition) TableName() string {
	return "workflow_definitions"
}
