package executor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/conductorhq/conductor/internal/contracts"
	"github.com/conductorhq/conductor/internal/engine/catalog"
	"github.com/conductorhq/conductor/internal/pkg/config"
	"github.com/conductorhq/conductor/internal/pkg/httpclient"
)

// Handler executes one action invocation. Local actions and the remote
// transport both satisfy it so the conductor never cares where an
// action runs.
type Handler func(ctx context.Context, req contracts.ExecuteActionRequest) (*contracts.ActionResult, error)

// Dispatcher routes an action to a process-local handler when one is
// registered for its action type, and to the owning connector over
// HTTP otherwise.
type Dispatcher struct {
	registry   *catalog.Registry
	locals     map[string]Handler
	remote     *remoteTransport
	middleware []Middleware
}

type Options struct {
	Registry   *catalog.Registry
	Client     *httpclient.PooledClient
	Connectors map[string]config.ConnectorConfig
	Timeout    time.Duration
	Middleware []Middleware
}

func NewDispatcher(opts Options) *Dispatcher {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	return &Dispatcher{
		registry: opts.Registry,
		locals:   make(map[string]Handler),
		remote: &remoteTransport{
			client:     opts.Client,
			connectors: opts.Connectors,
			timeout:    opts.Timeout,
		},
		middleware: opts.Middleware,
	}
}

// RegisterLocal binds a process-local implementation to an action type.
// Local handlers win over remote dispatch.
func (d *Dispatcher) RegisterLocal(actionType string, handler Handler) {
	d.locals[actionType] = handler
}

// Execute runs the action and always returns a result: every error on
// the way is folded into a Failed or RetriableFailure outcome so the
// conductor has a single shape to act on.
func (d *Dispatcher) Execute(ctx context.Context, req contracts.ExecuteActionRequest) *contracts.ActionResult {
	handler := d.resolve(req.ActionType)
	for i := len(d.middleware) - 1; i >= 0; i-- {
		handler = d.middleware[i](handler)
	}

	result, err := handler(ctx, req)
	if err != nil {
		return resultFromError(err)
	}
	if result == nil {
		return &contracts.ActionResult{
			Status: contracts.ActionStatusFailed,
			Error:  contracts.NewError(contracts.KindRemoteProtocol, "handler returned no result", nil).Error(),
		}
	}
	return result
}

func (d *Dispatcher) resolve(actionType string) Handler {
	if local, ok := d.locals[actionType]; ok {
		return local
	}
	return func(ctx context.Context, req contracts.ExecuteActionRequest) (*contracts.ActionResult, error) {
		if _, err := d.registry.GetByActionType(req.ActionType); err != nil {
			return nil, err
		}
		return d.remote.execute(ctx, req)
	}
}

// ConnectorID derives the owning connector from an action type: the
// substring before the first dot.
func ConnectorID(actionType string) string {
	if i := strings.Index(actionType, "."); i > 0 {
		return actionType[:i]
	}
	return ""
}

// resultFromError classifies an error into an action outcome. Transport
// and timeout problems are worth retrying; everything else is final.
func resultFromError(err error) *contracts.ActionResult {
	status := contracts.ActionStatusFailed
	if kind := contracts.KindOf(err); kind.Retriable() {
		status = contracts.ActionStatusRetriableFailure
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		status = contracts.ActionStatusRetriableFailure
	}
	return &contracts.ActionResult{
		Status: status,
		Error:  fmt.Sprintf("%v", err),
	}
}
