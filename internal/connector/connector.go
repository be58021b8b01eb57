// Package connector implements the engine-facing side of the generic
// action protocol: a registry of action handlers, the HTTP surface that
// executes them, and startup registration against the engine.
package connector

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/conductorhq/conductor/internal/contracts"
	"github.com/rs/zerolog/log"
)

// Action is one unit of work a connector offers. Execute receives the
// rendered parameters; whatever it returns becomes the node's outputs.
type Action interface {
	Definition() contracts.ActionDefinition
	Execute(ctx context.Context, params map[string]interface{}, execCtx contracts.ExecutionContext) (map[string]interface{}, error)
}

// RetriableError marks a failure the engine may retry (transient
// upstream conditions). Plain errors map to a final Failed.
type RetriableError struct {
	Err error
}

func (e *RetriableError) Error() string { return e.Err.Error() }
func (e *RetriableError) Unwrap() error { return e.Err }

// Retriable wraps err so the engine records a RetriableFailure.
func Retriable(err error) error {
	if err == nil {
		return nil
	}
	return &RetriableError{Err: err}
}

// SkipError reports that the action chose not to run. The engine treats
// the node as Skipped and routes nothing from it.
type SkipError struct {
	Reason string
}

func (e *SkipError) Error() string { return e.Reason }

// Skip builds a SkipError.
func Skip(reason string) error {
	return &SkipError{Reason: reason}
}

// Connector holds a set of actions under one connector ID. Action types
// must carry the "<connectorID>." prefix the engine enforces at
// registration.
type Connector struct {
	id      string
	actions map[string]Action
}

func New(id string) *Connector {
	return &Connector{
		id:      id,
		actions: make(map[string]Action),
	}
}

func (c *Connector) ID() string {
	return c.id
}

// Register adds an action. It panics on a duplicate or mis-prefixed
// action type since both are wiring mistakes.
func (c *Connector) Register(action Action) {
	def := action.Definition()
	prefix := c.id + "."
	if len(def.ActionType) <= len(prefix) || def.ActionType[:len(prefix)] != prefix {
		panic(fmt.Sprintf("action type %q must start with %q", def.ActionType, prefix))
	}
	if _, exists := c.actions[def.ActionType]; exists {
		panic(fmt.Sprintf("action type %q registered twice", def.ActionType))
	}
	c.actions[def.ActionType] = action
}

// Definitions returns the registration payload, sorted for stable output.
func (c *Connector) Definitions() []contracts.ActionDefinition {
	defs := make([]contracts.ActionDefinition, 0, len(c.actions))
	for _, action := range c.actions {
		defs = append(defs, action.Definition())
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].ActionType < defs[j].ActionType })
	return defs
}

// Execute runs one action and folds every outcome, panics included, into
// a response body. The HTTP layer always answers 200 with this shape.
func (c *Connector) Execute(ctx context.Context, req contracts.ExecuteActionRequest) *contracts.ExecuteActionResponse {
	action, ok := c.actions[req.ActionType]
	if !ok {
		return &contracts.ExecuteActionResponse{
			Status: contracts.ActionStatusFailed,
			Error:  fmt.Sprintf("unknown action type %q", req.ActionType),
		}
	}

	start := time.Now()
	outputs, err := c.run(ctx, action, req)
	logEvent := log.Debug().
		Str("action_type", req.ActionType).
		Str("node_id", req.ExecutionContext.NodeID).
		Str("execution_id", req.ExecutionContext.WorkflowExecutionID.String()).
		Dur("duration", time.Since(start))

	if err == nil {
		logEvent.Msg("Action succeeded")
		return &contracts.ExecuteActionResponse{
			Status:  contracts.ActionStatusSucceeded,
			Outputs: outputs,
		}
	}

	var skip *SkipError
	if errors.As(err, &skip) {
		logEvent.Str("reason", skip.Reason).Msg("Action skipped")
		return &contracts.ExecuteActionResponse{
			Status: contracts.ActionStatusSkipped,
			Error:  skip.Reason,
		}
	}

	status := contracts.ActionStatusFailed
	var retriable *RetriableError
	if errors.As(err, &retriable) || errors.Is(err, context.DeadlineExceeded) {
		status = contracts.ActionStatusRetriableFailure
	}

	logEvent.Str("status", string(status)).Err(err).Msg("Action failed")
	return &contracts.ExecuteActionResponse{
		Status: status,
		Error:  err.Error(),
	}
}

func (c *Connector) run(ctx context.Context, action Action, req contracts.ExecuteActionRequest) (outputs map[string]interface{}, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("action panic: %v", r)
		}
	}()
	return action.Execute(ctx, req.Parameters, req.ExecutionContext)
}
