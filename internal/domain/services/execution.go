package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/conductorhq/conductor/internal/domain/models"
	"github.com/conductorhq/conductor/internal/domain/repositories"
	"github.com/conductorhq/conductor/internal/engine/conductor"
	"github.com/conductorhq/conductor/internal/engine/parser"
	"github.com/conductorhq/conductor/internal/pkg/queue"
	"github.com/conductorhq/conductor/internal/pkg/redis"
	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/rs/zerolog/log"
)

var (
	ErrExecutionNotFound = errors.New("execution not found")
	ErrExecutionFinished = errors.New("execution already finished")
)

type ExecutionService struct {
	workflowRepo   *repositories.WorkflowRepository
	definitionRepo *repositories.WorkflowDefinitionRepository
	executionRepo  *repositories.ExecutionRepository
	actionRepo     *repositories.ActionExecutionRepository
	conductor      *conductor.Conductor
	queue          *queue.Client
	redis          *redis.Client

	workflowTimeout     time.Duration
	allowDraftExecution bool
}

type ExecutionServiceOptions struct {
	WorkflowTimeout     time.Duration
	AllowDraftExecution bool
}

func NewExecutionService(
	workflowRepo *repositories.WorkflowRepository,
	definitionRepo *repositories.WorkflowDefinitionRepository,
	executionRepo *repositories.ExecutionRepository,
	actionRepo *repositories.ActionExecutionRepository,
	cond *conductor.Conductor,
	queueClient *queue.Client,
	redisClient *redis.Client,
	opts ExecutionServiceOptions,
) *ExecutionService {
	if opts.WorkflowTimeout <= 0 {
		opts.WorkflowTimeout = 30 * time.Minute
	}
	return &ExecutionService{
		workflowRepo:        workflowRepo,
		definitionRepo:      definitionRepo,
		executionRepo:       executionRepo,
		actionRepo:          actionRepo,
		conductor:           cond,
		queue:               queueClient,
		redis:               redisClient,
		workflowTimeout:     opts.WorkflowTimeout,
		allowDraftExecution: opts.AllowDraftExecution,
	}
}

type ExecuteInput struct {
	WorkflowID    string
	Version       *int
	RequestID     string
	Trigger       map[string]interface{}
	Vars          map[string]interface{}
	CorrelationID string
}

// Execute creates the execution row and hands it to the queue. The second
// return value reports whether this call created the run; a repeated
// (workflowId, requestId) pair returns the original row without enqueueing.
func (s *ExecutionService) Execute(ctx context.Context, input ExecuteInput) (*models.WorkflowExecution, bool, error) {
	wf, err := s.workflowRepo.FindByID(ctx, input.WorkflowID)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, false, ErrWorkflowNotFound
		}
		return nil, false, err
	}

	version, err := s.resolveVersion(wf, input.Version)
	if err != nil {
		return nil, false, err
	}

	if _, err := s.definitionRepo.FindByWorkflowAndVersion(ctx, input.WorkflowID, version); err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, false, ErrVersionNotFound
		}
		return nil, false, err
	}

	requestID := input.RequestID
	if requestID == "" {
		requestID = uuid.NewString()
	}

	exec, created, err := s.conductor.Start(ctx, conductor.StartRequest{
		WorkflowID:      input.WorkflowID,
		WorkflowVersion: version,
		RequestID:       requestID,
		Trigger:         input.Trigger,
		Vars:            input.Vars,
		CorrelationID:   input.CorrelationID,
	})
	if err != nil {
		return nil, false, fmt.Errorf("failed to create execution: %w", err)
	}
	if !created {
		return exec, false, nil
	}

	_, err = s.queue.EnqueueWorkflowExecution(ctx, queue.WorkflowExecutionPayload{
		ExecutionID: exec.ID,
		WorkflowID:  exec.WorkflowID,
	}, s.workflowTimeout)
	if err != nil {
		return nil, false, fmt.Errorf("failed to enqueue execution: %w", err)
	}

	log.Info().
		Str("execution_id", exec.ID.String()).
		Str("workflow_id", input.WorkflowID).
		Int("version", version).
		Msg("Execution enqueued")

	return exec, true, nil
}

// resolveVersion picks the version to run: an explicit request wins, the
// workflow's current version otherwise. Draft (version 0) runs only when
// the deployment opts in.
func (s *ExecutionService) resolveVersion(wf *models.Workflow, requested *int) (int, error) {
	if requested != nil {
		v := *requested
		if v == models.DraftVersion {
			if !s.allowDraftExecution {
				return 0, ErrDraftExecutionDenied
			}
			return v, nil
		}
		if wf.Status != models.WorkflowStatusActive {
			return 0, ErrWorkflowNotActive
		}
		return v, nil
	}

	if wf.Status != models.WorkflowStatusActive {
		return 0, ErrWorkflowNotActive
	}
	if wf.CurrentVersion == nil || *wf.CurrentVersion < 1 {
		return 0, ErrNoPublishedVersion
	}
	return *wf.CurrentVersion, nil
}

// ExecutionDetail is an execution row plus its per-attempt telemetry.
type ExecutionDetail struct {
	Execution *models.WorkflowExecution `json:"execution"`
	Attempts  []models.ActionExecution  `json:"attempts"`
}

func (s *ExecutionService) GetByID(ctx context.Context, id uuid.UUID) (*ExecutionDetail, error) {
	exec, err := s.executionRepo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, ErrExecutionNotFound
		}
		return nil, err
	}
	attempts, err := s.actionRepo.FindByExecution(ctx, id)
	if err != nil {
		return nil, err
	}
	return &ExecutionDetail{Execution: exec, Attempts: attempts}, nil
}

func (s *ExecutionService) ListByWorkflow(ctx context.Context, workflowID string, opts *repositories.ListOptions) ([]models.WorkflowExecution, int64, error) {
	return s.executionRepo.FindByWorkflow(ctx, workflowID, opts)
}

// RunningCount reports the workflow's in-flight runs, Pending included.
func (s *ExecutionService) RunningCount(ctx context.Context, workflowID string) (int64, error) {
	return s.executionRepo.CountRunning(ctx, workflowID)
}

// Cancel stops a run. Pending rows are finished directly; running rows get
// a local cancel plus a broadcast so the owning instance interrupts them.
func (s *ExecutionService) Cancel(ctx context.Context, id uuid.UUID) error {
	exec, err := s.executionRepo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return ErrExecutionNotFound
		}
		return err
	}

	switch exec.Status {
	case models.ExecutionStatusPending:
		if err := s.executionRepo.Finish(ctx, id, models.ExecutionStatusCancelled, nil, nil); err != nil {
			if errors.Is(err, repositories.ErrInvalidTransition) {
				// A worker picked it up meanwhile; fall through to broadcast.
				break
			}
			return err
		}
		log.Info().Str("execution_id", id.String()).Msg("Pending execution cancelled")
		return nil
	case models.ExecutionStatusRunning:
	default:
		return ErrExecutionFinished
	}

	if s.conductor.Cancel(id) {
		log.Info().Str("execution_id", id.String()).Msg("Running execution cancelled locally")
		return nil
	}
	if err := s.redis.PublishCancellation(ctx, id.String()); err != nil {
		return fmt.Errorf("failed to broadcast cancellation: %w", err)
	}
	log.Info().Str("execution_id", id.String()).Msg("Cancellation broadcast")
	return nil
}

// HandleWorkflowExecutionTask is the asynq handler that drives a run to a
// terminal state. It is registered for queue.TypeWorkflowExecution.
func (s *ExecutionService) HandleWorkflowExecutionTask(ctx context.Context, task *asynq.Task) error {
	var payload queue.WorkflowExecutionPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("malformed workflow execution payload: %w", err)
	}

	exec, err := s.executionRepo.FindByID(ctx, payload.ExecutionID)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			log.Warn().Str("execution_id", payload.ExecutionID.String()).Msg("Queued execution no longer exists")
			return nil
		}
		return err
	}
	if exec.Status != models.ExecutionStatusPending {
		log.Debug().
			Str("execution_id", exec.ID.String()).
			Str("status", exec.Status).
			Msg("Queued execution already handled")
		return nil
	}

	def, err := s.definitionRepo.FindByWorkflowAndVersion(ctx, exec.WorkflowID, exec.WorkflowVersion)
	if err != nil {
		msg := fmt.Sprintf("definition version %d is missing", exec.WorkflowVersion)
		return s.executionRepo.Finish(ctx, exec.ID, models.ExecutionStatusFailed, nil, &msg)
	}

	doc, err := parser.Parse(def.DefinitionJSON)
	if err != nil {
		msg := err.Error()
		return s.executionRepo.Finish(ctx, exec.ID, models.ExecutionStatusFailed, nil, &msg)
	}

	return s.conductor.Drive(ctx, exec, doc)
}

// ListenForCancellations consumes the cancellation channel until ctx ends.
// Every instance runs this; only the instance that owns the run acts.
func (s *ExecutionService) ListenForCancellations(ctx context.Context) {
	sub := s.redis.SubscribeCancellations(ctx)
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			id, err := uuid.Parse(msg.Payload)
			if err != nil {
				log.Warn().Str("payload", msg.Payload).Msg("Ignoring malformed cancellation message")
				continue
			}
			if s.conductor.Cancel(id) {
				log.Info().Str("execution_id", id.String()).Msg("Execution cancelled via broadcast")
			}
		}
	}
}
