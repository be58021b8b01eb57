package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/conductorhq/conductor/internal/pkg/config"
	"github.com/conductorhq/conductor/internal/pkg/metrics"
	"github.com/google/uuid"
	"github.com/hibiken/asynq"
)

const (
	TypeWorkflowExecution = "workflow:execute"
	TypeCatalogRefresh    = "catalog:refresh"
)

const (
	QueueCritical = "critical"
	QueueDefault  = "default"
	QueueLow      = "low"
)

type Client struct {
	client *asynq.Client
}

func NewClient(cfg *config.RedisConfig) *Client {
	client := asynq.NewClient(asynq.RedisClientOpt{
		Addr:     cfg.Addr(),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	return &Client{client: client}
}

func (c *Client) Close() error {
	return c.client.Close()
}

// WorkflowExecutionPayload names the execution row the conductor should
// drive. All other inputs live in the row itself.
type WorkflowExecutionPayload struct {
	ExecutionID uuid.UUID `json:"execution_id"`
	WorkflowID  string    `json:"workflow_id"`
}

// EnqueueWorkflowExecution hands a Pending execution to the conductor
// workers. asynq's own retry is disabled: the conductor manages retries
// per action and a redelivered run would violate run-once semantics.
func (c *Client) EnqueueWorkflowExecution(ctx context.Context, payload WorkflowExecutionPayload, workflowTimeout time.Duration) (*asynq.TaskInfo, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}

	task := asynq.NewTask(TypeWorkflowExecution, data,
		asynq.Queue(QueueDefault),
		asynq.MaxRetry(0),
		asynq.Timeout(workflowTimeout),
		asynq.Retention(24*time.Hour),
	)

	info, err := c.client.EnqueueContext(ctx, task)
	if err == nil {
		metrics.QueueTasksTotal.WithLabelValues(TypeWorkflowExecution).Inc()
	}
	return info, err
}

// EnqueueCatalogRefresh schedules a catalog snapshot reload on the worker
// pool, so an admin-triggered refresh reaches instances other than the
// one that took the HTTP request.
func (c *Client) EnqueueCatalogRefresh(ctx context.Context) error {
	task := asynq.NewTask(TypeCatalogRefresh, nil,
		asynq.Queue(QueueLow),
		asynq.MaxRetry(3),
		asynq.Timeout(30*time.Second),
	)

	_, err := c.client.EnqueueContext(ctx, task)
	if err == nil {
		metrics.QueueTasksTotal.WithLabelValues(TypeCatalogRefresh).Inc()
	}
	return err
}
