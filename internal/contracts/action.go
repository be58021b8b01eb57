// Package contracts holds the types shared between the engine, the
// conductor, and connector services. It has no dependencies on the rest
// of the repo so every layer can import it.
package contracts

import (
	"time"

	"github.com/google/uuid"
)

// ActionStatus is the logical outcome of one action attempt. Connectors
// report it in the execute response body; the conductor uses it to decide
// retry and routing behavior.
type ActionStatus string

const (
	ActionStatusSucceeded        ActionStatus = "Succeeded"
	ActionStatusFailed           ActionStatus = "Failed"
	ActionStatusRetriableFailure ActionStatus = "RetriableFailure"
	ActionStatusSkipped          ActionStatus = "Skipped"
)

// Terminal reports whether the status ends the node without further attempts.
func (s ActionStatus) Terminal() bool {
	return s == ActionStatusSucceeded || s == ActionStatusFailed || s == ActionStatusSkipped
}

// ActionResult is the uniform result shape returned by both local and
// remote action invocations. The conductor is agnostic to where the
// action ran.
type ActionResult struct {
	Status  ActionStatus           `json:"status"`
	Outputs map[string]interface{} `json:"outputs,omitempty"`
	Error   string                 `json:"error,omitempty"`
}

// ExecutionContext identifies the run and node an action invocation
// belongs to. It travels to connectors for correlation.
type ExecutionContext struct {
	WorkflowExecutionID uuid.UUID `json:"workflowExecutionId"`
	NodeID              string    `json:"nodeId"`
	CorrelationID       string    `json:"correlationId,omitempty"`
}

// ExecuteActionRequest is the body of POST /api/v1/actions/execute.
type ExecuteActionRequest struct {
	ActionType       string                 `json:"actionType"`
	Parameters       map[string]interface{} `json:"parameters"`
	ExecutionContext ExecutionContext       `json:"executionContext"`
}

// ExecuteActionResponse is the 200 body for all logical outcomes.
// Connectors return non-200 only for internal breakage.
type ExecuteActionResponse struct {
	Status  ActionStatus           `json:"status"`
	Outputs map[string]interface{} `json:"outputs,omitempty"`
	Error   string                 `json:"error,omitempty"`
}

// ActionDefinition is what a connector publishes about one action on startup.
type ActionDefinition struct {
	ActionType      string                 `json:"actionType"`
	DisplayName     string                 `json:"displayName"`
	Description     string                 `json:"description,omitempty"`
	ParameterSchema map[string]interface{} `json:"parameterSchema"`
	OutputSchema    map[string]interface{} `json:"outputSchema"`
	RequiresAuth    bool                   `json:"requiresAuth"`
}

// RegisterActionsRequest is the body of POST /api/v1/admin/actions/register.
type RegisterActionsRequest struct {
	ConnectorID string             `json:"connectorId"`
	Actions     []ActionDefinition `json:"actions"`
}

// RegisterActionsResponse summarizes an upsert.
type RegisterActionsResponse struct {
	Registered   int       `json:"registered"`
	RegisteredAt time.Time `json:"registeredAt"`
}
