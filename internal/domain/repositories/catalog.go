package repositories

import (
	"context"
	"errors"
	"time"

	"github.com/conductorhq/conductor/internal/domain/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type CatalogRepository struct {
	*BaseRepository[models.ActionCatalogEntry]
}

func NewCatalogRepository(db *gorm.DB) *CatalogRepository {
	return &CatalogRepository{
		BaseRepository: NewBaseRepository[models.ActionCatalogEntry](db),
	}
}

// UpsertBatch registers or refreshes a connector's actions in one statement,
// keyed by (connector_id, action_type). Re-registration replaces schemas and
// display metadata in place.
func (r *CatalogRepository) UpsertBatch(ctx context.Context, entries []models.ActionCatalogEntry) error {
	if len(entries) == 0 {
		return nil
	}
	now := time.Now()
	for i := range entries {
		entries[i].UpdatedAt = now
	}
	return r.DB().WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "connector_id"}, {Name: "action_type"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"display_name", "description", "parameter_schema", "output_schema",
			"is_enabled", "requires_auth", "updated_at",
		}),
	}).Create(&entries).Error
}

func (r *CatalogRepository) FindByActionType(ctx context.Context, actionType string) (*models.ActionCatalogEntry, error) {
	var entry models.ActionCatalogEntry
	err := r.DB().WithContext(ctx).
		Where("action_type = ? AND is_enabled", actionType).
		First(&entry).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &entry, nil
}

func (r *CatalogRepository) FindAllEnabled(ctx context.Context) ([]models.ActionCatalogEntry, error) {
	var entries []models.ActionCatalogEntry
	err := r.DB().WithContext(ctx).
		Where("is_enabled").
		Order("action_type ASC").
		Find(&entries).Error
	return entries, err
}

// Disable soft-disables every action owned by a connector. Used when a
// connector deregisters; catalog rows are never deleted.
func (r *CatalogRepository) Disable(ctx context.Context, connectorID string) error {
	return r.DB().WithContext(ctx).Model(&models.ActionCatalogEntry{}).
		Where("connector_id = ?", connectorID).
		Updates(map[string]interface{}{"is_enabled": false, "updated_at": time.Now()}).Error
}
