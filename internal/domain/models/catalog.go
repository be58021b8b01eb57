package models

import (
	"time"

	"github.com/google/uuid"
)

// ActionCatalogEntry is one registered action. Connectors upsert their
// catalog on startup, keyed by (connector_id, action_type); the action
// type is globally unique and prefixed by "connectorId.".
type ActionCatalogEntry struct {
	ID              uuid.UUID `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"id"`
	ActionType      string    `gorm:"size:100;not null;index;uniqueIndex:idx_catalog_connector_action" json:"action_type"`
	ConnectorID     string    `gorm:"size:50;not null;index;uniqueIndex:idx_catalog_connector_action" json:"connector_id"`
	DisplayName     string    `gorm:"size:255;not null" json:"display_name"`
	Description     *string   `gorm:"type:text" json:"description,omitempty"`
	ParameterSchema JSON      `gorm:"type:jsonb;not null;default:'{}'" json:"parameter_schema"`
	OutputSchema    JSON      `gorm:"type:jsonb;not null;default:'{}'" json:"output_schema"`
	IsEnabled       bool      `gorm:"not null;default:true;index:idx_catalog_enabled,where:is_enabled" json:"is_enabled"`
	RequiresAuth    bool      `gorm:"not null;default:false" json:"requires_auth"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

func (ActionCatalogEntry) TableName() string {
	return "action_catalog"
}
