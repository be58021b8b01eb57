package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/conductorhq/conductor/internal/domain/models"
	"github.com/conductorhq/conductor/internal/domain/repositories"
	"github.com/conductorhq/conductor/internal/engine/parser"
	"github.com/conductorhq/conductor/internal/engine/validate"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

var (
	ErrWorkflowNotFound    = errors.New("workflow not found")
	ErrWorkflowArchived    = errors.New("workflow is archived")
	ErrDraftNotFound       = errors.New("workflow has no draft definition")
	ErrValidationFailed    = errors.New("workflow validation failed")
	ErrInvalidTransition   = errors.New("workflow is not in a state that allows this transition")
	ErrVersionNotFound     = errors.New("workflow version not found")
	ErrWorkflowNotActive   = errors.New("workflow is not active")
	ErrNoPublishedVersion  = errors.New("workflow has no published version")
	ErrDraftExecutionDenied = errors.New("draft execution is disabled")
	ErrPublishInProgress   = errors.New("another publish of this workflow is in progress")
)

// publishLockTTL bounds how long a crashed publisher can hold the lock.
const publishLockTTL = 30 * time.Second

// Locker serializes publishes of one workflow across engine instances.
type Locker interface {
	AcquireLock(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	ReleaseLock(ctx context.Context, key, value string) error
}

type WorkflowService struct {
	workflowRepo   *repositories.WorkflowRepository
	definitionRepo *repositories.WorkflowDefinitionRepository
	validator      *validate.Validator
	locks          Locker
}

// NewWorkflowService builds the service. locks may be nil, in which case
// concurrent publishes race and only the definition table's unique
// checksum index arbitrates.
func NewWorkflowService(
	workflowRepo *repositories.WorkflowRepository,
	definitionRepo *repositories.WorkflowDefinitionRepository,
	validator *validate.Validator,
	locks Locker,
) *WorkflowService {
	return &WorkflowService{
		workflowRepo:   workflowRepo,
		definitionRepo: definitionRepo,
		validator:      validator,
		locks:          locks,
	}
}

// PublishOutcome is what a publish call reports back: the version the
// content landed on, the workflow status after the call, and whether the
// content matched an already-published version.
type PublishOutcome struct {
	Version int    `json:"version"`
	Status  string `json:"status"`
	Reused  bool   `json:"reused"`
}

// SaveDraft parses the definition document, upserts the workflow row and
// writes the version-0 draft. The document is stored normalized so the
// checksum is stable across formatting differences.
func (s *WorkflowService) SaveDraft(ctx context.Context, raw []byte) (*models.Workflow, error) {
	doc, err := parser.Parse(raw)
	if err != nil {
		return nil, err
	}
	if doc.ID == "" {
		return nil, fmt.Errorf("%w: definition document has no id", ErrValidationFailed)
	}

	existing, err := s.workflowRepo.FindByID(ctx, doc.ID)
	if err != nil && !errors.Is(err, repositories.ErrNotFound) {
		return nil, fmt.Errorf("failed to load workflow: %w", err)
	}
	if existing != nil && existing.Status == models.WorkflowStatusArchived {
		return nil, ErrWorkflowArchived
	}

	normalized, checksum, err := normalizeDefinition(doc)
	if err != nil {
		return nil, err
	}

	wf := &models.Workflow{
		ID:          doc.ID,
		DisplayName: doc.DisplayName,
		Status:      models.WorkflowStatusDraft,
	}
	if doc.Description != "" {
		wf.Description = &doc.Description
	}
	if err := s.workflowRepo.Upsert(ctx, wf); err != nil {
		return nil, fmt.Errorf("failed to upsert workflow: %w", err)
	}

	def := &models.WorkflowDefinition{
		WorkflowID:     doc.ID,
		DefinitionJSON: normalized,
		Checksum:       checksum,
	}
	if err := s.definitionRepo.SaveDraft(ctx, def); err != nil {
		return nil, fmt.Errorf("failed to save draft definition: %w", err)
	}

	log.Info().
		Str("workflow_id", doc.ID).
		Str("checksum", checksum).
		Msg("Workflow draft saved")

	return s.workflowRepo.FindByID(ctx, doc.ID)
}

// Publish validates the draft and freezes it as the next version. Content
// already published under the same checksum reuses its version number and
// writes nothing. autoActivate also flips the workflow to Active.
func (s *WorkflowService) Publish(ctx context.Context, workflowID string, autoActivate bool) (*PublishOutcome, *validate.Result, error) {
	if s.locks != nil {
		key := "conductor:publish:" + workflowID
		token := uuid.NewString()
		acquired, err := s.locks.AcquireLock(ctx, key, token, publishLockTTL)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to acquire publish lock: %w", err)
		}
		if !acquired {
			return nil, nil, ErrPublishInProgress
		}
		defer func() {
			if err := s.locks.ReleaseLock(context.WithoutCancel(ctx), key, token); err != nil {
				log.Warn().Str("workflow_id", workflowID).Err(err).Msg("Failed to release publish lock")
			}
		}()
	}

	wf, err := s.workflowRepo.FindByID(ctx, workflowID)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, nil, ErrWorkflowNotFound
		}
		return nil, nil, err
	}
	if wf.Status == models.WorkflowStatusArchived {
		return nil, nil, ErrWorkflowArchived
	}

	draft, err := s.definitionRepo.FindByWorkflowAndVersion(ctx, workflowID, models.DraftVersion)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, nil, ErrDraftNotFound
		}
		return nil, nil, err
	}

	doc, err := parser.Parse(draft.DefinitionJSON)
	if err != nil {
		return nil, &validate.Result{IsValid: false, Errors: []string{err.Error()}}, ErrValidationFailed
	}

	result := s.validator.Validate(ctx, doc)
	if !result.IsValid {
		return nil, &result, ErrValidationFailed
	}

	version, reused, err := s.freezeVersion(ctx, workflowID, draft)
	if err != nil {
		return nil, nil, err
	}

	if autoActivate {
		err = s.workflowRepo.Publish(ctx, workflowID, version)
	} else {
		err = s.workflowRepo.SetCurrentVersion(ctx, workflowID, version)
	}
	if err != nil {
		if errors.Is(err, repositories.ErrInvalidTransition) {
			return nil, nil, ErrInvalidTransition
		}
		return nil, nil, err
	}

	wf, err = s.workflowRepo.FindByID(ctx, workflowID)
	if err != nil {
		return nil, nil, err
	}

	log.Info().
		Str("workflow_id", workflowID).
		Int("version", version).
		Bool("reused", reused).
		Bool("auto_activate", autoActivate).
		Msg("Workflow published")

	return &PublishOutcome{Version: version, Status: wf.Status, Reused: reused}, &result, nil
}

// freezeVersion writes the draft content as an immutable version, or
// returns the version that already holds identical content.
func (s *WorkflowService) freezeVersion(ctx context.Context, workflowID string, draft *models.WorkflowDefinition) (int, bool, error) {
	existing, err := s.definitionRepo.FindByChecksum(ctx, workflowID, draft.Checksum)
	if err == nil {
		return existing.Version, true, nil
	}
	if !errors.Is(err, repositories.ErrNotFound) {
		return 0, false, err
	}

	latest, err := s.definitionRepo.LatestVersion(ctx, workflowID)
	if err != nil {
		return 0, false, err
	}

	def := &models.WorkflowDefinition{
		WorkflowID:     workflowID,
		Version:        latest + 1,
		DefinitionJSON: draft.DefinitionJSON,
		Checksum:       draft.Checksum,
	}
	if err := s.definitionRepo.Create(ctx, def); err != nil {
		return 0, false, fmt.Errorf("failed to create definition version: %w", err)
	}
	return def.Version, false, nil
}

func (s *WorkflowService) Archive(ctx context.Context, workflowID string) error {
	if err := s.workflowRepo.Archive(ctx, workflowID); err != nil {
		if errors.Is(err, repositories.ErrInvalidTransition) {
			return ErrInvalidTransition
		}
		return err
	}
	log.Info().Str("workflow_id", workflowID).Msg("Workflow archived")
	return nil
}

func (s *WorkflowService) Reactivate(ctx context.Context, workflowID string) error {
	if err := s.workflowRepo.Reactivate(ctx, workflowID); err != nil {
		if errors.Is(err, repositories.ErrInvalidTransition) {
			return ErrInvalidTransition
		}
		return err
	}
	log.Info().Str("workflow_id", workflowID).Msg("Workflow reactivated")
	return nil
}

// List pages through workflows, optionally narrowed to one status.
func (s *WorkflowService) List(ctx context.Context, status string, opts *repositories.ListOptions) ([]models.Workflow, int64, error) {
	if status != "" {
		return s.workflowRepo.FindByStatus(ctx, status, opts)
	}
	return s.workflowRepo.FindAll(ctx, opts)
}

func (s *WorkflowService) GetByID(ctx context.Context, id string) (*models.Workflow, error) {
	wf, err := s.workflowRepo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, ErrWorkflowNotFound
		}
		return nil, err
	}
	return wf, nil
}

// ValidateDocument runs the full publish validation against an ad-hoc
// document without persisting anything.
func (s *WorkflowService) ValidateDocument(ctx context.Context, raw []byte) validate.Result {
	doc, err := parser.Parse(raw)
	if err != nil {
		return validate.Result{IsValid: false, Errors: []string{err.Error()}}
	}
	return s.validator.Validate(ctx, doc)
}

// normalizeDefinition re-serializes the parsed document and hashes the
// canonical bytes. Two drafts that differ only in formatting or field
// order share a checksum.
func normalizeDefinition(doc *parser.Document) (models.RawJSON, string, error) {
	normalized, err := json.Marshal(doc)
	if err != nil {
		return nil, "", fmt.Errorf("failed to normalize definition: %w", err)
	}
	sum := sha256.Sum256(normalized)
	return models.RawJSON(normalized), hex.EncodeToString(sum[:]), nil
}
