package repositories

import (
	"context"
	"errors"
	"time"

	"github.com/conductorhq/conductor/internal/domain/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type ExecutionRepository struct {
	*BaseRepository[models.WorkflowExecution]
}

func NewExecutionRepository(db *gorm.DB) *ExecutionRepository {
	return &ExecutionRepository{
		BaseRepository: NewBaseRepository[models.WorkflowExecution](db),
	}
}

// CreateIdempotent inserts the execution row unless one already exists for
// the same (workflow_id, workflow_request_id). It returns the row that ends
// up in the table and whether this call created it.
func (r *ExecutionRepository) CreateIdempotent(ctx context.Context, exec *models.WorkflowExecution) (*models.WorkflowExecution, bool, error) {
	res := r.DB().WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "workflow_id"}, {Name: "workflow_request_id"}},
		DoNothing: true,
	}).Create(exec)
	if res.Error != nil {
		return nil, false, res.Error
	}
	if res.RowsAffected > 0 {
		return exec, true, nil
	}

	var existing models.WorkflowExecution
	err := r.DB().WithContext(ctx).
		Where("workflow_id = ? AND workflow_request_id = ?", exec.WorkflowID, exec.WorkflowRequestID).
		First(&existing).Error
	if err != nil {
		return nil, false, err
	}
	return &existing, false, nil
}

func (r *ExecutionRepository) FindByID(ctx context.Context, id uuid.UUID) (*models.WorkflowExecution, error) {
	var exec models.WorkflowExecution
	err := r.DB().WithContext(ctx).First(&exec, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &exec, nil
}

func (r *ExecutionRepository) FindByWorkflow(ctx context.Context, workflowID string, opts *ListOptions) ([]models.WorkflowExecution, int64, error) {
	var execs []models.WorkflowExecution
	var total int64

	query := r.DB().WithContext(ctx).Where("workflow_id = ?", workflowID)
	query.Model(&models.WorkflowExecution{}).Count(&total)

	if opts != nil {
		query = query.Offset(opts.Offset).Limit(opts.Limit).Order(opts.OrderBy + " " + opts.Order)
	}

	err := query.Find(&execs).Error
	return execs, total, err
}

// MarkRunning flips Pending -> Running and stamps the start time. Returns
// ErrInvalidTransition if the row already left Pending (another worker, or
// a cancel that won the race).
func (r *ExecutionRepository) MarkRunning(ctx context.Context, id uuid.UUID) error {
	now := time.Now()
	res := r.DB().WithContext(ctx).Model(&models.WorkflowExecution{}).
		Where("id = ? AND status = ?", id, models.ExecutionStatusPending).
		Updates(map[string]interface{}{
			"status":     models.ExecutionStatusRunning,
			"start_time": now,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrInvalidTransition
	}
	return nil
}

// Finish records the terminal status, context snapshot and end time. Only
// non-terminal rows are touched, so a late worker cannot overwrite a
// Cancelled row.
func (r *ExecutionRepository) Finish(ctx context.Context, id uuid.UUID, status string, snapshot models.JSON, errMsg *string) error {
	now := time.Now()
	res := r.DB().WithContext(ctx).Model(&models.WorkflowExecution{}).
		Where("id = ? AND status IN ?", id, []string{models.ExecutionStatusPending, models.ExecutionStatusRunning}).
		Updates(map[string]interface{}{
			"status":                status,
			"context_snapshot_json": snapshot,
			"error_message":         errMsg,
			"end_time":              now,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrInvalidTransition
	}
	return nil
}

func (r *ExecutionRepository) CountRunning(ctx context.Context, workflowID string) (int64, error) {
	var n int64
	err := r.DB().WithContext(ctx).Model(&models.WorkflowExecution{}).
		Where("workflow_id = ? AND status IN ?", workflowID,
			[]string{models.ExecutionStatusPending, models.ExecutionStatusRunning}).
		Count(&n).Error
	return n, err
}

type ActionExecutionRepository struct {
	*BaseRepository[models.ActionExecution]
}

func NewActionExecutionRepository(db *gorm.DB) *ActionExecutionRepository {
	return &ActionExecutionRepository{
		BaseRepository: NewBaseRepository[models.ActionExecution](db),
	}
}

// FindFirstAttempt returns the attempt-1 row for a node, used to replay the
// exact rendered parameters on retries.
func (r *ActionExecutionRepository) FindFirstAttempt(ctx context.Context, executionID uuid.UUID, nodeID string) (*models.ActionExecution, error) {
	var ae models.ActionExecution
	err := r.DB().WithContext(ctx).
		Where("workflow_execution_id = ? AND node_id = ? AND attempt = 1", executionID, nodeID).
		First(&ae).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &ae, nil
}

func (r *ActionExecutionRepository) FindByExecution(ctx context.Context, executionID uuid.UUID) ([]models.ActionExecution, error) {
	var rows []models.ActionExecution
	err := r.DB().WithContext(ctx).
		Where("workflow_execution_id = ?", executionID).
		Order("created_at ASC, attempt ASC").
		Find(&rows).Error
	return rows, err
}
