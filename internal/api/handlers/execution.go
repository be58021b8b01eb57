package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/conductorhq/conductor/internal/api/dto"
	"github.com/conductorhq/conductor/internal/domain/models"
	"github.com/conductorhq/conductor/internal/domain/repositories"
	"github.com/conductorhq/conductor/internal/domain/services"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

type ExecutionHandler struct {
	executionSvc *services.ExecutionService
}

func NewExecutionHandler(executionSvc *services.ExecutionService) *ExecutionHandler {
	return &ExecutionHandler{executionSvc: executionSvc}
}

// Get returns the run's current state plus every recorded attempt.
func (h *ExecutionHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "executionID"))
	if err != nil {
		dto.BadRequest(w, "execution id must be a uuid")
		return
	}

	detail, err := h.executionSvc.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, services.ErrExecutionNotFound) {
			dto.NotFound(w, "Execution")
			return
		}
		dto.InternalServerError(w, "failed to load execution")
		return
	}

	attempts := make([]dto.ActionAttemptResponse, 0, len(detail.Attempts))
	for _, a := range detail.Attempts {
		attempts = append(attempts, attemptResponse(a))
	}

	dto.OK(w, dto.ExecutionDetailResponse{
		Execution: executionResponse(detail.Execution),
		Attempts:  attempts,
	})
}

func (h *ExecutionHandler) List(w http.ResponseWriter, r *http.Request) {
	workflowID := chi.URLParam(r, "workflowID")

	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	perPage, _ := strconv.Atoi(r.URL.Query().Get("per_page"))
	opts := repositories.NewListOptions(page, perPage)
	if page < 1 {
		page = 1
	}

	execs, total, err := h.executionSvc.ListByWorkflow(r.Context(), workflowID, opts)
	if err != nil {
		dto.InternalServerError(w, "failed to list executions")
		return
	}

	response := make([]dto.ExecutionResponse, 0, len(execs))
	for i := range execs {
		response = append(response, executionResponse(&execs[i]))
	}

	totalPages := int(total) / opts.Limit
	if int(total)%opts.Limit > 0 {
		totalPages++
	}

	dto.JSONWithMeta(w, http.StatusOK, response, &dto.Meta{
		Page:       page,
		PerPage:    opts.Limit,
		Total:      total,
		TotalPages: totalPages,
	})
}

func (h *ExecutionHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "executionID"))
	if err != nil {
		dto.BadRequest(w, "execution id must be a uuid")
		return
	}

	if err := h.executionSvc.Cancel(r.Context(), id); err != nil {
		switch {
		case errors.Is(err, services.ErrExecutionNotFound):
			dto.NotFound(w, "Execution")
		case errors.Is(err, services.ErrExecutionFinished):
			dto.Conflict(w, "execution already finished")
		default:
			dto.InternalServerError(w, "failed to cancel execution")
		}
		return
	}

	dto.Accepted(w, map[string]string{"status": "cancelling"})
}

func executionResponse(exec *models.WorkflowExecution) dto.ExecutionResponse {
	resp := dto.ExecutionResponse{
		ID:              exec.ID.String(),
		WorkflowID:      exec.WorkflowID,
		WorkflowVersion: exec.WorkflowVersion,
		Status:          exec.Status,
		ErrorMessage:    exec.ErrorMessage,
		CorrelationID:   exec.CorrelationID,
		CreatedAt:       exec.CreatedAt.Unix(),
	}
	if exec.TriggerPayloadJSON != nil {
		resp.TriggerPayload = exec.TriggerPayloadJSON
	}
	if exec.ContextSnapshotJSON != nil {
		resp.ContextSnapshot = exec.ContextSnapshotJSON
	}
	if exec.StartTime != nil {
		ts := exec.StartTime.Unix()
		resp.StartTime = &ts
	}
	if exec.EndTime != nil {
		ts := exec.EndTime.Unix()
		resp.EndTime = &ts
	}
	return resp
}

func attemptResponse(a models.ActionExecution) dto.ActionAttemptResponse {
	resp := dto.ActionAttemptResponse{
		NodeID:     a.NodeID,
		ActionType: a.ActionType,
		Status:     a.Status,
		Attempt:    a.Attempt,
		RetryCount: a.RetryCount,
	}
	if len(a.ParametersJSON) > 0 {
		resp.Parameters = a.ParametersJSON
	}
	if a.OutputsJSON != nil {
		resp.Outputs = a.OutputsJSON
	}
	if a.ErrorJSON != nil {
		resp.Error = a.ErrorJSON
	}
	if a.StartTime != nil {
		ts := a.StartTime.Unix()
		resp.StartTime = &ts
	}
	if a.EndTime != nil {
		ts := a.EndTime.Unix()
		resp.EndTime = &ts
	}
	return resp
}
