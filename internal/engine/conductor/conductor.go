package conductor

import (
	"context"
	"sync"
	"time"

	"github.com/conductorhq/conductor/internal/contracts"
	"github.com/conductorhq/conductor/internal/domain/models"
	"github.com/conductorhq/conductor/internal/engine/condition"
	"github.com/conductorhq/conductor/internal/engine/parser"
	"github.com/conductorhq/conductor/internal/engine/schema"
	"github.com/conductorhq/conductor/internal/engine/template"
	"github.com/conductorhq/conductor/internal/pkg/metrics"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// ExecutionStore persists run lifecycle transitions.
type ExecutionStore interface {
	CreateIdempotent(ctx context.Context, exec *models.WorkflowExecution) (*models.WorkflowExecution, bool, error)
	MarkRunning(ctx context.Context, id uuid.UUID) error
	Finish(ctx context.Context, id uuid.UUID, status string, snapshot models.JSON, errMsg *string) error
}

// ActionStore persists per-attempt records.
type ActionStore interface {
	Create(ctx context.Context, row *models.ActionExecution) error
	FindFirstAttempt(ctx context.Context, executionID uuid.UUID, nodeID string) (*models.ActionExecution, error)
}

// Dispatcher runs one action and always yields a result.
type Dispatcher interface {
	Execute(ctx context.Context, req contracts.ExecuteActionRequest) *contracts.ActionResult
}

// CatalogLookup resolves action types to their catalog entries.
type CatalogLookup interface {
	GetByActionType(actionType string) (*models.ActionCatalogEntry, error)
}

type Config struct {
	MaxParallelActions int
	WorkflowTimeout    time.Duration
	ActionTimeout      time.Duration
	MaxAttempts        int
	InitialRetryDelay  time.Duration
	BackoffFactor      float64
	Jitter             bool
}

func (c *Config) applyDefaults() {
	if c.MaxParallelActions <= 0 {
		c.MaxParallelActions = 16
	}
	if c.WorkflowTimeout <= 0 {
		c.WorkflowTimeout = 30 * time.Minute
	}
	if c.ActionTimeout <= 0 {
		c.ActionTimeout = 30 * time.Second
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.InitialRetryDelay <= 0 {
		c.InitialRetryDelay = 500 * time.Millisecond
	}
	if c.BackoffFactor <= 0 {
		c.BackoffFactor = 2.0
	}
}

// Conductor drives workflow runs: it owns the ready queue, the bounded
// worker pool, retry policy and edge routing. Everything stateful lives
// in per-run structures; the Conductor itself is safe for concurrent use.
type Conductor struct {
	executions ExecutionStore
	actions    ActionStore
	registry   CatalogLookup
	dispatcher Dispatcher
	templates  *template.Engine
	conditions *condition.Evaluator
	schemas    *schema.Validator
	cfg        Config

	// active run cancellations, keyed by execution id
	cancels sync.Map
}

func New(executions ExecutionStore, actions ActionStore, registry CatalogLookup, dispatcher Dispatcher,
	templates *template.Engine, conditions *condition.Evaluator, schemas *schema.Validator, cfg Config) *Conductor {
	cfg.applyDefaults()
	return &Conductor{
		executions: executions,
		actions:    actions,
		registry:   registry,
		dispatcher: dispatcher,
		templates:  templates,
		conditions: conditions,
		schemas:    schemas,
		cfg:        cfg,
	}
}

// StartRequest describes a run to create.
type StartRequest struct {
	WorkflowID      string
	WorkflowVersion int
	RequestID       string
	Trigger         map[string]interface{}
	Vars            map[string]interface{}
	CorrelationID   string
}

// Start creates the WorkflowExecution row. The second return value is
// false when the (workflowId, requestId) pair already had a run, in
// which case the existing row is returned unchanged.
func (c *Conductor) Start(ctx context.Context, req StartRequest) (*models.WorkflowExecution, bool, error) {
	exec := &models.WorkflowExecution{
		WorkflowID:         req.WorkflowID,
		WorkflowVersion:    req.WorkflowVersion,
		WorkflowRequestID:  req.RequestID,
		Status:             models.ExecutionStatusPending,
		TriggerPayloadJSON: models.JSON(req.Trigger),
		VarsJSON:           models.JSON(req.Vars),
	}
	if req.CorrelationID != "" {
		exec.CorrelationID = &req.CorrelationID
	}
	return c.executions.CreateIdempotent(ctx, exec)
}

// Drive runs one execution to a terminal state. It is a no-op when the
// row already left Pending, which makes queue redeliveries harmless.
func (c *Conductor) Drive(ctx context.Context, exec *models.WorkflowExecution, doc *parser.Document) error {
	if err := c.executions.MarkRunning(ctx, exec.ID); err != nil {
		log.Warn().
			Str("execution_id", exec.ID.String()).
			Err(err).
			Msg("Execution already picked up, skipping")
		return nil
	}

	runCtx, cancel := context.WithTimeout(ctx, c.cfg.WorkflowTimeout)
	defer cancel()

	r := newRun(c, runCtx, cancel, exec, doc)
	c.cancels.Store(exec.ID.String(), r.externalCancel)
	defer c.cancels.Delete(exec.ID.String())

	metrics.WorkflowExecutionsInProgress.Inc()
	start := time.Now()
	defer metrics.WorkflowExecutionsInProgress.Dec()

	status, errMsg := r.execute()

	snapshot := models.JSON(r.contextSnapshot())
	if err := c.executions.Finish(context.WithoutCancel(ctx), exec.ID, status, snapshot, errMsg); err != nil {
		log.Error().
			Str("execution_id", exec.ID.String()).
			Err(err).
			Msg("Failed to persist terminal execution state")
		return err
	}

	metrics.RecordWorkflowExecution(exec.WorkflowID, status, time.Since(start).Seconds())
	log.Info().
		Str("execution_id", exec.ID.String()).
		Str("workflow_id", exec.WorkflowID).
		Str("status", status).
		Dur("duration", time.Since(start)).
		Msg("Workflow execution finished")
	return nil
}

// Cancel aborts a run owned by this process. Returns false when the
// execution is not running here.
func (c *Conductor) Cancel(executionID uuid.UUID) bool {
	v, ok := c.cancels.Load(executionID.String())
	if !ok {
		return false
	}
	v.(func())()
	return true
}
