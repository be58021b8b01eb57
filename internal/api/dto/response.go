package dto

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/conductorhq/conductor/internal/pkg/validator"
)

// Error codes for consistent API responses
const (
	ErrCodeValidation     = "VALIDATION_ERROR"
	ErrCodeNotFound       = "NOT_FOUND"
	ErrCodeConflict       = "CONFLICT"
	ErrCodeBadRequest     = "BAD_REQUEST"
	ErrCodeInternalServer = "INTERNAL_SERVER_ERROR"
	ErrCodeServiceUnavail = "SERVICE_UNAVAILABLE"
)

type Response struct {
	Success   bool        `json:"success"`
	Data      interface{} `json:"data"`
	Error     *ErrorData  `json:"error,omitempty"`
	Meta      *Meta       `json:"meta,omitempty"`
	RequestID string      `json:"request_id,omitempty"`
	Timestamp int64       `json:"timestamp"`
}

type ErrorData struct {
	Code     string                      `json:"code"`
	Message  string                      `json:"message"`
	Details  []validator.ValidationError `json:"details,omitempty"`
	Errors   []string                    `json:"errors,omitempty"`
	Warnings []string                    `json:"warnings,omitempty"`
}

type Meta struct {
	Page       int   `json:"page"`
	PerPage    int   `json:"per_page"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
}

func getRequestID(w http.ResponseWriter) string {
	return w.Header().Get("X-Request-ID")
}

func JSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	response := Response{
		Success:   status >= 200 && status < 300,
		Data:      data,
		RequestID: getRequestID(w),
		Timestamp: time.Now().Unix(),
	}

	_ = json.NewEncoder(w).Encode(response)
}

func JSONWithMeta(w http.ResponseWriter, status int, data interface{}, meta *Meta) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	response := Response{
		Success:   status >= 200 && status < 300,
		Data:      data,
		Meta:      meta,
		RequestID: getRequestID(w),
		Timestamp: time.Now().Unix(),
	}

	_ = json.NewEncoder(w).Encode(response)
}

func errorWithCode(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	response := Response{
		Success:   false,
		RequestID: getRequestID(w),
		Timestamp: time.Now().Unix(),
		Error: &ErrorData{
			Code:    code,
			Message: message,
		},
	}

	_ = json.NewEncoder(w).Encode(response)
}

func OK(w http.ResponseWriter, data interface{}) {
	JSON(w, http.StatusOK, data)
}

func Created(w http.ResponseWriter, data interface{}) {
	JSON(w, http.StatusCreated, data)
}

func Accepted(w http.ResponseWriter, data interface{}) {
	JSON(w, http.StatusAccepted, data)
}

func BadRequest(w http.ResponseWriter, message string) {
	errorWithCode(w, http.StatusBadRequest, ErrCodeBadRequest, message)
}

func NotFound(w http.ResponseWriter, resource string) {
	errorWithCode(w, http.StatusNotFound, ErrCodeNotFound, resource+" not found")
}

func Conflict(w http.ResponseWriter, message string) {
	errorWithCode(w, http.StatusConflict, ErrCodeConflict, message)
}

func InternalServerError(w http.ResponseWriter, message string) {
	errorWithCode(w, http.StatusInternalServerError, ErrCodeInternalServer, message)
}

func ValidationErrorResponse(w http.ResponseWriter, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusBadRequest)

	response := Response{
		Success:   false,
		RequestID: getRequestID(w),
		Timestamp: time.Now().Unix(),
		Error: &ErrorData{
			Code:    ErrCodeValidation,
			Message: "Validation failed",
			Details: validator.FormatErrors(err),
		},
	}

	_ = json.NewEncoder(w).Encode(response)
}

// WorkflowValidationResponse carries the errors/warnings list a failed
// publish or dry-run validation returns.
func WorkflowValidationResponse(w http.ResponseWriter, errs, warnings []string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusBadRequest)

	response := Response{
		Success:   false,
		RequestID: getRequestID(w),
		Timestamp: time.Now().Unix(),
		Error: &ErrorData{
			Code:     "WORKFLOW_VALIDATION_ERROR",
			Message:  "Workflow validation failed",
			Errors:   errs,
			Warnings: warnings,
		},
	}

	_ = json.NewEncoder(w).Encode(response)
}

// Workflow responses

type WorkflowResponse struct {
	ID                string   `json:"id"`
	DisplayName       string   `json:"display_name"`
	Description       *string  `json:"description,omitempty"`
	CurrentVersion    *int     `json:"current_version,omitempty"`
	Status            string   `json:"status"`
	IsEnabled         bool     `json:"is_enabled"`
	Tags              []string `json:"tags,omitempty"`
	RunningExecutions *int64   `json:"running_executions,omitempty"`
	CreatedAt         int64    `json:"created_at"`
	UpdatedAt         int64    `json:"updated_at"`
}

type PublishResponse struct {
	Version  int      `json:"version"`
	Status   string   `json:"status"`
	Reused   bool     `json:"reused"`
	Warnings []string `json:"warnings,omitempty"`
}

// Execution responses

type ExecutionAcceptedResponse struct {
	ExecutionID string `json:"executionId"`
	Status      string `json:"status"`
	StatusURL   string `json:"statusUrl"`
}

type ExecutionResponse struct {
	ID              string      `json:"id"`
	WorkflowID      string      `json:"workflow_id"`
	WorkflowVersion int         `json:"workflow_version"`
	Status          string      `json:"status"`
	TriggerPayload  interface{} `json:"trigger_payload,omitempty"`
	ContextSnapshot interface{} `json:"context_snapshot,omitempty"`
	ErrorMessage    *string     `json:"error_message,omitempty"`
	CorrelationID   *string     `json:"correlation_id,omitempty"`
	StartTime       *int64      `json:"start_time,omitempty"`
	EndTime         *int64      `json:"end_time,omitempty"`
	CreatedAt       int64       `json:"created_at"`
}

type ActionAttemptResponse struct {
	NodeID     string      `json:"node_id"`
	ActionType string      `json:"action_type"`
	Status     string      `json:"status"`
	Attempt    int         `json:"attempt"`
	RetryCount int         `json:"retry_count"`
	Parameters interface{} `json:"parameters,omitempty"`
	Outputs    interface{} `json:"outputs,omitempty"`
	Error      interface{} `json:"error,omitempty"`
	StartTime  *int64      `json:"start_time,omitempty"`
	EndTime    *int64      `json:"end_time,omitempty"`
}

type ExecutionDetailResponse struct {
	Execution ExecutionResponse       `json:"execution"`
	Attempts  []ActionAttemptResponse `json:"attempts"`
}

// Catalog responses

type CatalogEntryResponse struct {
	ActionType   string      `json:"actionType"`
	ConnectorID  string      `json:"connectorId"`
	DisplayName  string      `json:"displayName"`
	Description  *string     `json:"description,omitempty"`
	ParameterSchema interface{} `json:"parameterSchema"`
	OutputSchema interface{} `json:"outputSchema"`
	RequiresAuth bool        `json:"requiresAuth"`
}
