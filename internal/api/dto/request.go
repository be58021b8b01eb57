package dto

// ExecuteWorkflowRequest is the body of POST /workflows/{id}/execute.
// RequestID is the idempotency key; when absent the engine generates one
// and the call is not idempotent across retries.
type ExecuteWorkflowRequest struct {
	RequestID     string                 `json:"requestId,omitempty" validate:"omitempty,max=100"`
	Trigger       map[string]interface{} `json:"trigger,omitempty"`
	Vars          map[string]interface{} `json:"vars,omitempty"`
	CorrelationID string                 `json:"correlationId,omitempty" validate:"omitempty,max=100"`
}
