package conductor

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/conductorhq/conductor/internal/contracts"
	"github.com/conductorhq/conductor/internal/domain/models"
	"github.com/conductorhq/conductor/internal/engine/parser"
	"github.com/rs/zerolog/log"
)

type edgeOutcome int

const (
	outcomeUnknown edgeOutcome = iota
	outcomeSatisfied
	outcomeUnsatisfied
)

// edgeRef identifies one edge by its parent node and declaration index.
type edgeRef struct {
	parent string
	index  int
}

const (
	reasonFatal  = "fatal"
	reasonCancel = "cancelled"
)

// run is the mutable state of one execution. The conductor goroutine
// waits on wg; node workers mutate outputs and edge state under mu.
type run struct {
	c      *Conductor
	ctx    context.Context
	cancel context.CancelFunc
	exec   *models.WorkflowExecution
	doc    *parser.Document

	trigger map[string]interface{}
	vars    map[string]interface{}

	sem chan struct{}
	wg  sync.WaitGroup

	mu       sync.Mutex
	outputs  map[string]interface{}
	incoming map[string]map[edgeRef]edgeOutcome
	enqueued map[string]bool

	reasonMu sync.Mutex
	reason   string
	fatalMsg string
}

func newRun(c *Conductor, ctx context.Context, cancel context.CancelFunc, exec *models.WorkflowExecution, doc *parser.Document) *run {
	incoming := make(map[string]map[edgeRef]edgeOutcome, len(doc.Nodes))
	for i := range doc.Nodes {
		node := &doc.Nodes[i]
		for idx, edge := range node.Edges {
			m, ok := incoming[edge.TargetNode]
			if !ok {
				m = make(map[edgeRef]edgeOutcome)
				incoming[edge.TargetNode] = m
			}
			m[edgeRef{parent: node.ID, index: idx}] = outcomeUnknown
		}
	}

	return &run{
		c:        c,
		ctx:      ctx,
		cancel:   cancel,
		exec:     exec,
		doc:      doc,
		trigger:  map[string]interface{}(exec.TriggerPayloadJSON),
		vars:     map[string]interface{}(exec.VarsJSON),
		sem:      make(chan struct{}, c.cfg.MaxParallelActions),
		outputs:  make(map[string]interface{}),
		incoming: incoming,
		enqueued: make(map[string]bool),
	}
}

// execute drives the run to completion and returns the terminal status
// plus an error message for Failed runs.
func (r *run) execute() (string, *string) {
	r.enqueue(r.doc.StartNode)
	r.wg.Wait()

	r.reasonMu.Lock()
	reason, fatalMsg := r.reason, r.fatalMsg
	r.reasonMu.Unlock()

	switch {
	case reason == reasonFatal:
		return models.ExecutionStatusFailed, &fatalMsg
	case reason == reasonCancel:
		return models.ExecutionStatusCancelled, nil
	case r.ctx.Err() != nil:
		// The workflow deadline fired before any fatal failure.
		return models.ExecutionStatusCancelled, nil
	default:
		return models.ExecutionStatusSucceeded, nil
	}
}

func (r *run) externalCancel() {
	r.setReason(reasonCancel, "")
	r.cancel()
}

func (r *run) fatal(msg string) {
	r.setReason(reasonFatal, msg)
	r.cancel()
}

func (r *run) setReason(reason, msg string) {
	r.reasonMu.Lock()
	if r.reason == "" {
		r.reason = reason
		r.fatalMsg = msg
	}
	r.reasonMu.Unlock()
}

// enqueue schedules a node exactly once per run.
func (r *run) enqueue(nodeID string) {
	r.mu.Lock()
	if r.enqueued[nodeID] {
		r.mu.Unlock()
		return
	}
	r.enqueued[nodeID] = true
	r.mu.Unlock()

	r.wg.Add(1)
	go r.worker(nodeID)
}

func (r *run) worker(nodeID string) {
	defer r.wg.Done()

	node := r.doc.Node(nodeID)

	select {
	case r.sem <- struct{}{}:
	case <-r.ctx.Done():
		// Cancellation won the semaphore wait.
		r.recordSkipped(node)
		return
	}
	defer func() { <-r.sem }()

	final, errJSON := r.runNode(node)
	if final == "" {
		return
	}
	r.routeEdges(node, final, errJSON)
}

// runNode executes the attempt loop for one node and returns the node's
// final status, or "" when the run was cancelled mid-flight.
func (r *run) runNode(node *parser.Node) (string, models.JSON) {
	actionTimeout := r.c.cfg.ActionTimeout
	if node.TimeoutSeconds > 0 {
		actionTimeout = time.Duration(node.TimeoutSeconds) * time.Second
	}

	var firstParams models.RawJSON

	for attempt := 1; attempt <= r.c.cfg.MaxAttempts; attempt++ {
		if r.ctx.Err() != nil {
			return "", nil
		}

		started := time.Now()

		params, paramsBytes, prepErr := r.prepareParameters(node, attempt, &firstParams)
		if prepErr != nil {
			final, errJSON := r.recordFailure(node, attempt, started, nil, prepErr, attempt < r.c.cfg.MaxAttempts)
			if final == models.ActionStatusRetriableFailure {
				if !r.backoff(attempt, actionTimeout) {
					return "", nil
				}
				continue
			}
			return final, errJSON
		}

		entry, err := r.c.registry.GetByActionType(node.ActionType)
		if err != nil {
			final, errJSON := r.recordFailure(node, attempt, started, paramsBytes, err, false)
			return final, errJSON
		}

		if violations := r.c.schemas.Validate(entry.ParameterSchema, params); len(violations) > 0 {
			err := contracts.NewError(contracts.KindSchemaValidation,
				"rendered parameters violate the action schema: "+strings.Join(violations, "; "), nil)
			final, errJSON := r.recordFailure(node, attempt, started, paramsBytes, err, attempt < r.c.cfg.MaxAttempts)
			if final == models.ActionStatusRetriableFailure {
				if !r.backoff(attempt, actionTimeout) {
					return "", nil
				}
				continue
			}
			return final, errJSON
		}

		actionCtx, cancelAction := context.WithTimeout(r.ctx, actionTimeout)
		result := r.c.dispatcher.Execute(actionCtx, contracts.ExecuteActionRequest{
			ActionType: node.ActionType,
			Parameters: params,
			ExecutionContext: contracts.ExecutionContext{
				WorkflowExecutionID: r.exec.ID,
				NodeID:              node.ID,
				CorrelationID:       r.correlationID(),
			},
		})
		cancelAction()

		// A connector that succeeds but violates its own output schema
		// is lying about its contract; that is final, never retried.
		if result.Status == contracts.ActionStatusSucceeded && len(entry.OutputSchema) > 0 {
			if violations := r.c.schemas.Validate(entry.OutputSchema, result.Outputs); len(violations) > 0 {
				result = &contracts.ActionResult{
					Status: contracts.ActionStatusFailed,
					Error:  "outputs violate the declared output schema: " + strings.Join(violations, "; "),
				}
				errJSON := models.JSON{"kind": "schema-violation", "message": result.Error}
				if !r.recordAttempt(node, attempt, started, paramsBytes, nil, errJSON, models.ActionStatusFailed) {
					return "", nil
				}
				return models.ActionStatusFailed, errJSON
			}
		}

		switch result.Status {
		case contracts.ActionStatusSucceeded:
			if !r.recordAttempt(node, attempt, started, paramsBytes, models.JSON(result.Outputs), nil, models.ActionStatusSucceeded) {
				return "", nil
			}
			r.setOutput(node.ID, result.Outputs)
			return models.ActionStatusSucceeded, nil

		case contracts.ActionStatusRetriableFailure:
			errJSON := models.JSON{"kind": string(contracts.KindRemoteTransport), "message": result.Error}
			if attempt < r.c.cfg.MaxAttempts && r.ctx.Err() == nil {
				if !r.recordAttempt(node, attempt, started, paramsBytes, nil, errJSON, models.ActionStatusRetriableFailure) {
					return "", nil
				}
				if !r.backoff(attempt, actionTimeout) {
					return "", nil
				}
				continue
			}
			// Attempts exhausted: the retriable error becomes the failure.
			if !r.recordAttempt(node, attempt, started, paramsBytes, nil, errJSON, models.ActionStatusFailed) {
				return "", nil
			}
			return models.ActionStatusFailed, errJSON

		case contracts.ActionStatusSkipped:
			errJSON := models.JSON{"kind": string(contracts.KindCancelled), "message": result.Error}
			if !r.recordAttempt(node, attempt, started, paramsBytes, nil, errJSON, models.ActionStatusSkipped) {
				return "", nil
			}
			return models.ActionStatusSkipped, errJSON

		default: // Failed
			errJSON := models.JSON{"kind": "action-failed", "message": result.Error}
			if !r.recordAttempt(node, attempt, started, paramsBytes, nil, errJSON, models.ActionStatusFailed) {
				return "", nil
			}
			return models.ActionStatusFailed, errJSON
		}
	}

	return "", nil
}

// prepareParameters renders on the first attempt (or when the node opts
// into re-rendering) and otherwise replays the first successful render's
// persisted bytes verbatim, so retries see identical inputs. A retry
// whose earlier attempts never rendered successfully has no bytes to
// replay and renders fresh instead.
func (r *run) prepareParameters(node *parser.Node, attempt int, firstParams *models.RawJSON) (map[string]interface{}, models.RawJSON, error) {
	if attempt > 1 && !node.Policies.RerenderOnRetry {
		raw := *firstParams
		if raw == nil {
			row, err := r.c.actions.FindFirstAttempt(r.ctx, r.exec.ID, node.ID)
			if err != nil {
				return nil, nil, contracts.NewError(contracts.KindPersistence, "failed to load first-attempt parameters", err)
			}
			raw = row.ParametersJSON
		}
		if len(raw) > 0 {
			var params map[string]interface{}
			if err := json.Unmarshal(raw, &params); err != nil {
				return nil, nil, contracts.NewError(contracts.KindPersistence, "persisted parameters are unreadable", err)
			}
			return params, raw, nil
		}
	}

	rendered, err := r.c.templates.RenderParameters(r.ctx, node.Parameters, r.model())
	if err != nil {
		return nil, nil, err
	}
	raw, err := json.Marshal(rendered)
	if err != nil {
		return nil, nil, contracts.NewError(contracts.KindTemplateRuntime, "rendered parameters are not serializable", err)
	}
	if *firstParams == nil && !node.Policies.RerenderOnRetry {
		*firstParams = raw
	}
	return rendered, raw, nil
}

// recordFailure classifies an error per the retry policy and records
// the attempt. retriable selects RetriableFailure when the error kind
// permits another attempt.
func (r *run) recordFailure(node *parser.Node, attempt int, started time.Time, params models.RawJSON, err error, retriable bool) (string, models.JSON) {
	kind := contracts.KindOf(err)
	status := models.ActionStatusFailed
	if retriable && kind.Retriable() {
		status = models.ActionStatusRetriableFailure
	}
	if kind == contracts.KindPersistence {
		r.fatal(err.Error())
		return "", nil
	}

	errJSON := models.JSON{"kind": string(kind), "message": err.Error()}
	if !r.recordAttempt(node, attempt, started, params, nil, errJSON, status) {
		return "", nil
	}
	return status, errJSON
}

// recordAttempt persists one attempt row. A write failure is fatal for
// the run; the caller must stop when it returns false.
func (r *run) recordAttempt(node *parser.Node, attempt int, started time.Time, params models.RawJSON, outputs, errJSON models.JSON, status string) bool {
	now := time.Now()
	row := &models.ActionExecution{
		WorkflowExecutionID: r.exec.ID,
		NodeID:              node.ID,
		ActionType:          node.ActionType,
		Status:              status,
		Attempt:             attempt,
		RetryCount:          attempt - 1,
		ParametersJSON:      params,
		OutputsJSON:         outputs,
		ErrorJSON:           errJSON,
		StartTime:           &started,
		EndTime:             &now,
	}
	if err := r.c.actions.Create(context.WithoutCancel(r.ctx), row); err != nil {
		log.Error().
			Str("execution_id", r.exec.ID.String()).
			Str("node_id", node.ID).
			Err(err).
			Msg("Failed to persist action attempt")
		r.fatal(fmt.Sprintf("persistence failure on node %q: %v", node.ID, err))
		return false
	}
	return true
}

func (r *run) recordSkipped(node *parser.Node) {
	now := time.Now()
	row := &models.ActionExecution{
		WorkflowExecutionID: r.exec.ID,
		NodeID:              node.ID,
		ActionType:          node.ActionType,
		Status:              models.ActionStatusSkipped,
		Attempt:             1,
		ErrorJSON:           models.JSON{"kind": string(contracts.KindCancelled), "message": "run cancelled before the node started"},
		StartTime:           &now,
		EndTime:             &now,
	}
	if err := r.c.actions.Create(context.WithoutCancel(r.ctx), row); err != nil {
		log.Warn().Str("node_id", node.ID).Err(err).Msg("Failed to record skipped node")
	}
}

// backoff sleeps delay_i = initialDelay x factor^(i-1), jittered and
// capped at half the action timeout. Returns false when cancellation
// interrupts the sleep.
func (r *run) backoff(attempt int, actionTimeout time.Duration) bool {
	delay := time.Duration(float64(r.c.cfg.InitialRetryDelay) * math.Pow(r.c.cfg.BackoffFactor, float64(attempt-1)))
	if ceiling := actionTimeout / 2; delay > ceiling {
		delay = ceiling
	}
	if r.c.cfg.Jitter && delay > 0 {
		delay = time.Duration(rand.Int63n(int64(delay) + 1))
	}

	select {
	case <-time.After(delay):
		return true
	case <-r.ctx.Done():
		return false
	}
}

// routeEdges evaluates the node's outgoing edges against its final
// status, updates fan-in state, and schedules the successors.
func (r *run) routeEdges(node *parser.Node, final string, errJSON models.JSON) {
	if final == models.ActionStatusFailed {
		r.setOutput(node.ID+".error", map[string]interface{}(errJSON))
	}

	if r.ctx.Err() != nil {
		return
	}

	model := r.model()
	outcomes := make([]edgeOutcome, len(node.Edges))
	matched := false
	for idx, edge := range node.Edges {
		if node.RoutePolicy == parser.RoutePolicyFirstMatch && matched {
			outcomes[idx] = outcomeUnsatisfied
			continue
		}
		if !whenMatches(edge.When, final) {
			outcomes[idx] = outcomeUnsatisfied
			continue
		}
		if r.c.conditions.Evaluate(r.ctx, edge.Condition, model) {
			outcomes[idx] = outcomeSatisfied
			matched = true
		} else {
			outcomes[idx] = outcomeUnsatisfied
		}
	}

	if final == models.ActionStatusFailed {
		handled := matched || node.OnFailure != ""
		if node.OnFailure != "" {
			r.enqueue(node.OnFailure)
		}
		if !handled {
			msg := fmt.Sprintf("node %q failed", node.ID)
			if m, ok := errJSON["message"].(string); ok && m != "" {
				msg = fmt.Sprintf("node %q failed: %s", node.ID, m)
			}
			r.fatal(msg)
			return
		}
	}

	for idx, edge := range node.Edges {
		r.decideEdge(node.ID, idx, edge.TargetNode, outcomes[idx])
	}
}

func whenMatches(when, final string) bool {
	switch when {
	case parser.WhenAlways:
		return final == models.ActionStatusSucceeded || final == models.ActionStatusFailed
	case parser.WhenFailure:
		return final == models.ActionStatusFailed
	default:
		return final == models.ActionStatusSucceeded
	}
}

// decideEdge records one edge outcome; once every incoming edge of the
// target is decided, the target is enqueued (>=1 satisfied) or declared
// dead (none satisfied), which cascades to its own successors.
func (r *run) decideEdge(parent string, index int, target string, outcome edgeOutcome) {
	r.mu.Lock()
	m := r.incoming[target]
	m[edgeRef{parent: parent, index: index}] = outcome

	decided, satisfied := true, false
	for _, o := range m {
		if o == outcomeUnknown {
			decided = false
			break
		}
		if o == outcomeSatisfied {
			satisfied = true
		}
	}
	r.mu.Unlock()

	if !decided {
		return
	}
	if satisfied {
		r.enqueue(target)
		return
	}
	r.deadEnd(target)
}

// deadEnd marks a node that will never run and propagates Unsatisfied
// outcomes downstream so joins behind dead branches still resolve.
func (r *run) deadEnd(nodeID string) {
	r.mu.Lock()
	if r.enqueued[nodeID] {
		r.mu.Unlock()
		return
	}
	r.enqueued[nodeID] = true
	r.mu.Unlock()

	node := r.doc.Node(nodeID)
	for idx, edge := range node.Edges {
		r.decideEdge(nodeID, idx, edge.TargetNode, outcomeUnsatisfied)
	}
}

func (r *run) setOutput(key string, value interface{}) {
	r.mu.Lock()
	r.outputs[key] = value
	r.mu.Unlock()
}

// model builds the read-only scope {trigger, context:{data}, vars} used
// by templating and condition evaluation.
func (r *run) model() map[string]interface{} {
	return map[string]interface{}{
		"trigger": r.trigger,
		"context": map[string]interface{}{"data": r.contextSnapshot()},
		"vars":    r.vars,
	}
}

func (r *run) contextSnapshot() map[string]interface{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	snapshot := make(map[string]interface{}, len(r.outputs))
	for k, v := range r.outputs {
		snapshot[k] = v
	}
	return snapshot
}

func (r *run) correlationID() string {
	if r.exec.CorrelationID != nil {
		return *r.exec.CorrelationID
	}
	return ""
}
