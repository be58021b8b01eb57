package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/conductorhq/conductor/internal/api/dto"
	"github.com/conductorhq/conductor/internal/contracts"
	"github.com/conductorhq/conductor/internal/engine/catalog"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
)

// RefreshEnqueuer fans an admin-triggered refresh out to the worker pool.
type RefreshEnqueuer interface {
	EnqueueCatalogRefresh(ctx context.Context) error
}

type CatalogHandler struct {
	registry     *catalog.Registry
	refreshQueue RefreshEnqueuer
}

func NewCatalogHandler(registry *catalog.Registry, refreshQueue RefreshEnqueuer) *CatalogHandler {
	return &CatalogHandler{registry: registry, refreshQueue: refreshQueue}
}

// Register is the connector-facing catalog upsert. Connectors call it on
// startup with their full action list.
func (h *CatalogHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req contracts.RegisterActionsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		dto.BadRequest(w, "invalid request body")
		return
	}

	resp, err := h.registry.Register(r.Context(), req)
	if err != nil {
		if kind := contracts.KindOf(err); kind == contracts.KindPersistence {
			dto.InternalServerError(w, "failed to persist catalog entries")
			return
		}
		dto.BadRequest(w, err.Error())
		return
	}

	dto.OK(w, resp)
}

// Refresh forces an immediate snapshot reload from the database. The
// reload is also queued so sibling instances pick it up.
func (h *CatalogHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	if err := h.registry.Refresh(r.Context()); err != nil {
		dto.InternalServerError(w, "catalog refresh failed")
		return
	}

	if h.refreshQueue != nil {
		if err := h.refreshQueue.EnqueueCatalogRefresh(r.Context()); err != nil {
			log.Warn().Err(err).Msg("Failed to queue catalog refresh for workers")
		}
	}

	dto.OK(w, map[string]interface{}{
		"refreshed_at": h.registry.LastRefreshedAt().Unix(),
		"actions":      len(h.registry.GetAllEnabled()),
	})
}

// DisableConnector pulls every action of a connector out of dispatch
// without deleting its catalog rows.
func (h *CatalogHandler) DisableConnector(w http.ResponseWriter, r *http.Request) {
	connectorID := chi.URLParam(r, "connectorID")

	if err := h.registry.DisableConnector(r.Context(), connectorID); err != nil {
		if kind := contracts.KindOf(err); kind == contracts.KindPersistence {
			dto.InternalServerError(w, "failed to disable connector actions")
			return
		}
		dto.BadRequest(w, err.Error())
		return
	}

	dto.OK(w, map[string]string{
		"connector_id": connectorID,
		"status":       "disabled",
	})
}

// List exposes the enabled catalog, mainly for workflow editors.
func (h *CatalogHandler) List(w http.ResponseWriter, r *http.Request) {
	entries := h.registry.GetAllEnabled()

	response := make([]dto.CatalogEntryResponse, 0, len(entries))
	for _, e := range entries {
		response = append(response, dto.CatalogEntryResponse{
			ActionType:      e.ActionType,
			ConnectorID:     e.ConnectorID,
			DisplayName:     e.DisplayName,
			Description:     e.Description,
			ParameterSchema: e.ParameterSchema,
			OutputSchema:    e.OutputSchema,
			RequiresAuth:    e.RequiresAuth,
		})
	}

	dto.OK(w, response)
}
