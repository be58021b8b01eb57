package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"

	"github.com/lib/pq"
)

// JSON type for JSONB columns
type JSON map[string]interface{}

func (j JSON) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	return json.Marshal(j)
}

func (j *JSON) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		return errors.New("failed to scan JSON: not a byte slice")
	}
	return json.Unmarshal(bytes, j)
}

// RawJSON preserves the exact bytes written, for columns where byte
// equality matters (rendered attempt parameters are replayed verbatim on
// retries when the node opts out of re-rendering).
type RawJSON json.RawMessage

func (j RawJSON) Value() (driver.Value, error) {
	if len(j) == 0 {
		return nil, nil
	}
	return []byte(j), nil
}

func (j *RawJSON) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		return errors.New("failed to scan RawJSON: not a byte slice")
	}
	cp := make([]byte, len(bytes))
	copy(cp, bytes)
	*j = cp
	return nil
}

func (j RawJSON) MarshalJSON() ([]byte, error) {
	if len(j) == 0 {
		return []byte("null"), nil
	}
	return j, nil
}

func (j *RawJSON) UnmarshalJSON(data []byte) error {
	cp := make([]byte, len(data))
	copy(cp, data)
	*j = cp
	return nil
}

// StringArray type for text[] columns
type StringArray = pq.StringArray

// Workflow status constants
const (
	WorkflowStatusDraft    = "Draft"
	WorkflowStatusActive   = "Active"
	WorkflowStatusArchived = "Archived"
)

// Execution status constants
const (
	ExecutionStatusPending   = "Pending"
	ExecutionStatusRunning   = "Running"
	ExecutionStatusSucceeded = "Succeeded"
	ExecutionStatusFailed    = "Failed"
	ExecutionStatusCancelled = "Cancelled"
)

// Action execution status constants
const (
	ActionStatusSucceeded        = "Succeeded"
	ActionStatusFailed           = "Failed"
	ActionStatusRetriableFailure = "RetriableFailure"
	ActionStatusSkipped          = "Skipped"
)

// DraftVersion is the editable version slot; published versions start at 1.
const DraftVersion = 0
