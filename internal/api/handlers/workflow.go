package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/conductorhq/conductor/internal/api/dto"
	"github.com/conductorhq/conductor/internal/domain/models"
	"github.com/conductorhq/conductor/internal/domain/repositories"
	"github.com/conductorhq/conductor/internal/domain/services"
	"github.com/conductorhq/conductor/internal/pkg/validator"
	"github.com/go-chi/chi/v5"
)

const maxDefinitionBytes = 1 << 20

type WorkflowHandler struct {
	workflowSvc  *services.WorkflowService
	executionSvc *services.ExecutionService
}

func NewWorkflowHandler(
	workflowSvc *services.WorkflowService,
	executionSvc *services.ExecutionService,
) *WorkflowHandler {
	return &WorkflowHandler{
		workflowSvc:  workflowSvc,
		executionSvc: executionSvc,
	}
}

// Create saves the posted definition document as the workflow's draft,
// creating the workflow row on first sight.
func (h *WorkflowHandler) Create(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxDefinitionBytes))
	if err != nil {
		dto.BadRequest(w, "failed to read request body")
		return
	}

	wf, err := h.workflowSvc.SaveDraft(r.Context(), raw)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrWorkflowArchived):
			dto.Conflict(w, "archived workflows cannot be edited")
		case errors.Is(err, services.ErrValidationFailed):
			dto.BadRequest(w, err.Error())
		default:
			dto.BadRequest(w, err.Error())
		}
		return
	}

	dto.Created(w, workflowResponse(wf))
}

// List pages through workflows; ?status= narrows to one lifecycle state.
func (h *WorkflowHandler) List(w http.ResponseWriter, r *http.Request) {
	status := r.URL.Query().Get("status")
	switch status {
	case "", models.WorkflowStatusDraft, models.WorkflowStatusActive, models.WorkflowStatusArchived:
	default:
		dto.BadRequest(w, "status must be one of Draft, Active, Archived")
		return
	}

	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	perPage, _ := strconv.Atoi(r.URL.Query().Get("per_page"))
	opts := repositories.NewListOptions(page, perPage)
	if page < 1 {
		page = 1
	}

	workflows, total, err := h.workflowSvc.List(r.Context(), status, opts)
	if err != nil {
		dto.InternalServerError(w, "failed to list workflows")
		return
	}

	response := make([]dto.WorkflowResponse, 0, len(workflows))
	for i := range workflows {
		response = append(response, workflowResponse(&workflows[i]))
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

func (h *WorkflowHandler) Get(w http.ResponseWriter, r *http.Request) {
	workflowID := chi.URLParam(r, "workflowID")

	wf, err := h.workflowSvc.GetByID(r.Context(), workflowID)
	if err != nil {
		if errors.Is(err, services.ErrWorkflowNotFound) {
			dto.NotFound(w, "Workflow")
			return
		}
		dto.InternalServerError(w, "failed to load workflow")
		return
	}

	resp := workflowResponse(wf)
	if n, err := h.executionSvc.RunningCount(r.Context(), workflowID); err == nil {
		resp.RunningExecutions = &n
	}
	dto.OK(w, resp)
}

func (h *WorkflowHandler) Publish(w http.ResponseWriter, r *http.Request) {
	workflowID := chi.URLParam(r, "workflowID")
	autoActivate, _ := strconv.ParseBool(r.URL.Query().Get("autoActivate"))

	outcome, result, err := h.workflowSvc.Publish(r.Context(), workflowID, autoActivate)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrWorkflowNotFound):
			dto.NotFound(w, "Workflow")
		case errors.Is(err, services.ErrDraftNotFound):
			dto.Conflict(w, "workflow has no draft to publish")
		case errors.Is(err, services.ErrWorkflowArchived),
			errors.Is(err, services.ErrInvalidTransition),
			errors.Is(err, services.ErrPublishInProgress):
			dto.Conflict(w, err.Error())
		case errors.Is(err, services.ErrValidationFailed):
			var errs, warnings []string
			if result != nil {
				errs, warnings = result.Errors, result.Warnings
			}
			dto.WorkflowValidationResponse(w, errs, warnings)
		default:
			dto.InternalServerError(w, "failed to publish workflow")
		}
		return
	}

	resp := dto.PublishResponse{
		Version: outcome.Version,
		Status:  outcome.Status,
		Reused:  outcome.Reused,
	}
	if result != nil {
		resp.Warnings = result.Warnings
	}
	dto.OK(w, resp)
}

func (h *WorkflowHandler) Archive(w http.ResponseWriter, r *http.Request) {
	workflowID := chi.URLParam(r, "workflowID")

	if err := h.workflowSvc.Archive(r.Context(), workflowID); err != nil {
		if errors.Is(err, services.ErrInvalidTransition) {
			dto.Conflict(w, "only active workflows can be archived")
			return
		}
		dto.InternalServerError(w, "failed to archive workflow")
		return
	}

	dto.OK(w, map[string]string{"status": "Archived"})
}

func (h *WorkflowHandler) Reactivate(w http.ResponseWriter, r *http.Request) {
	workflowID := chi.URLParam(r, "workflowID")

	if err := h.workflowSvc.Reactivate(r.Context(), workflowID); err != nil {
		if errors.Is(err, services.ErrInvalidTransition) {
			dto.Conflict(w, "only archived workflows with a published version can be reactivated")
			return
		}
		dto.InternalServerError(w, "failed to reactivate workflow")
		return
	}

	dto.OK(w, map[string]string{"status": "Active"})
}

// Execute starts a run and answers 202 with a status URL. Repeating a
// requestId returns the original run, also as 202.
func (h *WorkflowHandler) Execute(w http.ResponseWriter, r *http.Request) {
	workflowID := chi.URLParam(r, "workflowID")

	var req dto.ExecuteWorkflowRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			dto.BadRequest(w, "invalid request body")
			return
		}
	}
	if err := validator.Validate(&req); err != nil {
		dto.ValidationErrorResponse(w, err)
		return
	}

	var version *int
	if raw := r.URL.Query().Get("version"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 0 {
			dto.BadRequest(w, "version must be a non-negative integer")
			return
		}
		version = &v
	}

	exec, _, err := h.executionSvc.Execute(r.Context(), services.ExecuteInput{
		WorkflowID:    workflowID,
		Version:       version,
		RequestID:     req.RequestID,
		Trigger:       req.Trigger,
		Vars:          req.Vars,
		CorrelationID: req.CorrelationID,
	})
	if err != nil {
		switch {
		case errors.Is(err, services.ErrWorkflowNotFound):
			dto.NotFound(w, "Workflow")
		case errors.Is(err, services.ErrVersionNotFound):
			dto.NotFound(w, "Workflow version")
		case errors.Is(err, services.ErrWorkflowNotActive),
			errors.Is(err, services.ErrNoPublishedVersion),
			errors.Is(err, services.ErrDraftExecutionDenied):
			dto.Conflict(w, err.Error())
		default:
			dto.InternalServerError(w, "failed to start execution")
		}
		return
	}

	dto.Accepted(w, dto.ExecutionAcceptedResponse{
		ExecutionID: exec.ID.String(),
		Status:      exec.Status,
		StatusURL:   fmt.Sprintf("/api/v1/executions/%s", exec.ID),
	})
}

// Validate dry-runs the full publish validation against the posted
// document without persisting anything.
func (h *WorkflowHandler) Validate(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxDefinitionBytes))
	if err != nil {
		dto.BadRequest(w, "failed to read request body")
		return
	}

	result := h.workflowSvc.ValidateDocument(r.Context(), raw)
	dto.OK(w, result)
}

func workflowResponse(wf *models.Workflow) dto.WorkflowResponse {
	return dto.WorkflowResponse{
		ID:             wf.ID,
		DisplayName:    wf.DisplayName,
		Description:    wf.Description,
		CurrentVersion: wf.CurrentVersion,
		Status:         wf.Status,
		IsEnabled:      wf.IsEnabled,
		Tags:           wf.Tags,
		CreatedAt:      wf.CreatedAt.Unix(),
		UpdatedAt:      wf.UpdatedAt.Unix(),
	}
}
