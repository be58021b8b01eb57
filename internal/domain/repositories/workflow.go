package repositories

import (
	"context"
	"errors"
	"time"

	"github.com/conductorhq/conductor/internal/domain/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	// ErrNotFound is returned when a lookup matches no row.
	ErrNotFound = errors.New("not found")
	// ErrInvalidTransition is returned when a preconditioned status update
	// matched no row, meaning the workflow was not in the expected state.
	ErrInvalidTransition = errors.New("invalid status transition")
)

type WorkflowRepository struct {
	*BaseRepository[models.Workflow]
}

func NewWorkflowRepository(db *gorm.DB) *WorkflowRepository {
	return &WorkflowRepository{
		BaseRepository: NewBaseRepository[models.Workflow](db),
	}
}

func (r *WorkflowRepository) FindByID(ctx context.Context, id string) (*models.Workflow, error) {
	var wf models.Workflow
	err := r.DB().WithContext(ctx).First(&wf, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &wf, nil
}

func (r *WorkflowRepository) FindByStatus(ctx context.Context, status string, opts *ListOptions) ([]models.Workflow, int64, error) {
	var workflows []models.Workflow
	var total int64

	query := r.DB().WithContext(ctx).Where("status = ?", status)
	query.Model(&models.Workflow{}).Count(&total)

	if opts != nil {
		query = query.Offset(opts.Offset).Limit(opts.Limit).Order(opts.OrderBy + " " + opts.Order)
	}

	err := query.Find(&workflows).Error
	return workflows, total, err
}

// Upsert creates the workflow row or refreshes the mutable draft fields.
// Status and version are never touched here; those move through the
// preconditioned transitions below.
func (r *WorkflowRepository) Upsert(ctx context.Context, wf *models.Workflow) error {
	return r.DB().WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"display_name", "description", "tags", "updated_at"}),
	}).Create(wf).Error
}

// Publish moves Draft -> Active (or refreshes an Active workflow's
// current version). The WHERE clause is the precondition: archived
// workflows cannot be published.
func (r *WorkflowRepository) Publish(ctx context.Context, workflowID string, version int) error {
	res := r.DB().WithContext(ctx).Model(&models.Workflow{}).
		Where("id = ? AND status IN ?", workflowID, []string{models.WorkflowStatusDraft, models.WorkflowStatusActive}).
		Updates(map[string]interface{}{
			"status":          models.WorkflowStatusActive,
			"current_version": version,
			"updated_at":      time.Now(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrInvalidTransition
	}
	return nil
}

// SetCurrentVersion records a published version without touching the
// workflow status, for publishes that do not auto-activate.
func (r *WorkflowRepository) SetCurrentVersion(ctx context.Context, workflowID string, version int) error {
	res := r.DB().WithContext(ctx).Model(&models.Workflow{}).
		Where("id = ? AND status IN ?", workflowID, []string{models.WorkflowStatusDraft, models.WorkflowStatusActive}).
		Updates(map[string]interface{}{
			"current_version": version,
			"updated_at":      time.Now(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrInvalidTransition
	}
	return nil
}

// Archive moves Active -> Archived and disables the workflow.
func (r *WorkflowRepository) Archive(ctx context.Context, workflowID string) error {
	res := r.DB().WithContext(ctx).Model(&models.Workflow{}).
		Where("id = ? AND status = ?", workflowID, models.WorkflowStatusActive).
		Updates(map[string]interface{}{
			"status":     models.WorkflowStatusArchived,
			"is_enabled": false,
			"updated_at": time.Now(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrInvalidTransition
	}
	return nil
}

// Reactivate moves Archived -> Active.
func (r *WorkflowRepository) Reactivate(ctx context.Context, workflowID string) error {
	res := r.DB().WithContext(ctx).Model(&models.Workflow{}).
		Where("id = ? AND status = ? AND current_version >= 1", workflowID, models.WorkflowStatusArchived).
		Updates(map[string]interface{}{
			"status":     models.WorkflowStatusActive,
			"is_enabled": true,
			"updated_at": time.Now(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrInvalidTransition
	}
	return nil
}

type WorkflowDefinitionRepository struct {
	*BaseRepository[models.WorkflowDefinition]
}

func NewWorkflowDefinitionRepository(db *gorm.DB) *WorkflowDefinitionRepository {
	return &WorkflowDefinitionRepository{
		BaseRepository: NewBaseRepository[models.WorkflowDefinition](db),
	}
}

func (r *WorkflowDefinitionRepository) FindByWorkflowAndVersion(ctx context.Context, workflowID string, version int) (*models.WorkflowDefinition, error) {
	var def models.WorkflowDefinition
	err := r.DB().WithContext(ctx).
		Where("workflow_id = ? AND version = ?", workflowID, version).
		First(&def).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &def, nil
}

func (r *WorkflowDefinitionRepository) FindByChecksum(ctx context.Context, workflowID, checksum string) (*models.WorkflowDefinition, error) {
	var def models.WorkflowDefinition
	err := r.DB().WithContext(ctx).
		Where("workflow_id = ? AND checksum = ? AND version >= 1", workflowID, checksum).
		First(&def).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &def, nil
}

func (r *WorkflowDefinitionRepository) LatestVersion(ctx context.Context, workflowID string) (int, error) {
	var def models.WorkflowDefinition
	err := r.DB().WithContext(ctx).
		Where("workflow_id = ?", workflowID).
		Order("version DESC").
		First(&def).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, nil
		}
		return 0, err
	}
	return def.Version, nil
}

// SaveDraft writes version 0, replacing any previous draft content.
func (r *WorkflowDefinitionRepository) SaveDraft(ctx context.Context, def *models.WorkflowDefinition) error {
	def.Version = models.DraftVersion
	return r.DB().WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "workflow_id"}, {Name: "version"}},
		DoUpdates: clause.AssignmentColumns([]string{"definition_json", "checksum"}),
	}).Create(def).Error
}
