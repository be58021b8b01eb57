package catalog

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/conductorhq/conductor/internal/contracts"
	"github.com/conductorhq/conductor/internal/domain/models"
	"github.com/conductorhq/conductor/internal/domain/repositories"
	"github.com/conductorhq/conductor/internal/pkg/metrics"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
)

// Registry is the in-memory view of the action catalog. Reads are
// lock-free snapshot loads; Refresh swaps the whole snapshot atomically
// so readers never observe a half-updated map.
type Registry struct {
	repo     *repositories.CatalogRepository
	snapshot atomic.Pointer[snapshot]
	cron     *cron.Cron
}

type snapshot struct {
	byActionType  map[string]*models.ActionCatalogEntry
	lastRefreshed time.Time
}

func NewRegistry(repo *repositories.CatalogRepository) *Registry {
	r := &Registry{repo: repo}
	r.snapshot.Store(&snapshot{byActionType: map[string]*models.ActionCatalogEntry{}})
	return r
}

// Refresh reloads every enabled catalog entry and swaps the snapshot.
func (r *Registry) Refresh(ctx context.Context) error {
	entries, err := r.repo.FindAllEnabled(ctx)
	if err != nil {
		metrics.CatalogRefreshesTotal.WithLabelValues("error").Inc()
		return contracts.NewError(contracts.KindPersistence, "catalog refresh failed", err)
	}

	byType := make(map[string]*models.ActionCatalogEntry, len(entries))
	for i := range entries {
		byType[entries[i].ActionType] = &entries[i]
	}

	r.snapshot.Store(&snapshot{
		byActionType:  byType,
		lastRefreshed: time.Now(),
	})

	metrics.CatalogRefreshesTotal.WithLabelValues("success").Inc()
	metrics.CatalogActionsRegistered.Set(float64(len(byType)))
	log.Debug().Int("actions", len(byType)).Msg("Catalog snapshot refreshed")
	return nil
}

// Seed replaces the snapshot with the given entries without touching
// the database. Embedded setups and tests use it in place of Refresh.
func (r *Registry) Seed(entries []models.ActionCatalogEntry) {
	byType := make(map[string]*models.ActionCatalogEntry, len(entries))
	for i := range entries {
		byType[entries[i].ActionType] = &entries[i]
	}
	r.snapshot.Store(&snapshot{
		byActionType:  byType,
		lastRefreshed: time.Now(),
	})
}

// GetByActionType returns the enabled catalog entry for actionType, or
// a catalog-lookup error when none exists in the current snapshot.
func (r *Registry) GetByActionType(actionType string) (*models.ActionCatalogEntry, error) {
	entry, ok := r.snapshot.Load().byActionType[actionType]
	if !ok {
		return nil, contracts.NewError(contracts.KindCatalogLookup,
			fmt.Sprintf("no enabled catalog entry for action type %q", actionType), nil)
	}
	return entry, nil
}

// GetAllEnabled returns the entries of the current snapshot.
func (r *Registry) GetAllEnabled() []*models.ActionCatalogEntry {
	snap := r.snapshot.Load()
	out := make([]*models.ActionCatalogEntry, 0, len(snap.byActionType))
	for _, entry := range snap.byActionType {
		out = append(out, entry)
	}
	return out
}

func (r *Registry) LastRefreshedAt() time.Time {
	return r.snapshot.Load().lastRefreshed
}

// Register validates and persists a connector's action definitions,
// then refreshes the snapshot so the new actions dispatch immediately.
func (r *Registry) Register(ctx context.Context, req contracts.RegisterActionsRequest) (*contracts.RegisterActionsResponse, error) {
	if req.ConnectorID == "" {
		return nil, fmt.Errorf("connectorId is required")
	}
	if len(req.Actions) == 0 {
		return nil, fmt.Errorf("actions list is empty")
	}

	prefix := req.ConnectorID + "."
	entries := make([]models.ActionCatalogEntry, 0, len(req.Actions))
	for _, action := range req.Actions {
		if !strings.HasPrefix(action.ActionType, prefix) {
			return nil, fmt.Errorf("action type %q must start with %q", action.ActionType, prefix)
		}
		entries = append(entries, models.ActionCatalogEntry{
			ActionType:      action.ActionType,
			ConnectorID:     req.ConnectorID,
			DisplayName:     action.DisplayName,
			Description:     optional(action.Description),
			ParameterSchema: models.JSON(action.ParameterSchema),
			OutputSchema:    models.JSON(action.OutputSchema),
			IsEnabled:       true,
			RequiresAuth:    action.RequiresAuth,
		})
	}

	if err := r.repo.UpsertBatch(ctx, entries); err != nil {
		return nil, contracts.NewError(contracts.KindPersistence, "catalog upsert failed", err)
	}

	if err := r.Refresh(ctx); err != nil {
		return nil, err
	}

	log.Info().
		Str("connector_id", req.ConnectorID).
		Int("actions", len(entries)).
		Msg("Connector actions registered")

	return &contracts.RegisterActionsResponse{
		Registered:   len(entries),
		RegisteredAt: time.Now().UTC(),
	}, nil
}

// DisableConnector soft-disables every action a connector registered and
// drops them from the snapshot. Catalog rows are never deleted.
func (r *Registry) DisableConnector(ctx context.Context, connectorID string) error {
	if connectorID == "" {
		return fmt.Errorf("connectorId is required")
	}

	if err := r.repo.Disable(ctx, connectorID); err != nil {
		return contracts.NewError(contracts.KindPersistence, "catalog disable failed", err)
	}

	log.Info().Str("connector_id", connectorID).Msg("Connector actions disabled")
	return r.Refresh(ctx)
}

// StartRefresher refreshes the snapshot on a fixed interval until the
// registry is stopped.
func (r *Registry) StartRefresher(interval time.Duration) error {
	if interval <= 0 {
		interval = 5 * time.Minute
	}

	r.cron = cron.New()
	_, err := r.cron.AddFunc(fmt.Sprintf("@every %s", interval), func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := r.Refresh(ctx); err != nil {
			log.Error().Err(err).Msg("Scheduled catalog refresh failed")
		}
	})
	if err != nil {
		return fmt.Errorf("failed to schedule catalog refresh: %w", err)
	}

	r.cron.Start()
	log.Info().Dur("interval", interval).Msg("Catalog refresher started")
	return nil
}

func (r *Registry) Stop() {
	if r.cron != nil {
		r.cron.Stop()
	}
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
