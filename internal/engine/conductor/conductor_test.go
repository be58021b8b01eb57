package conductor

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/conductorhq/conductor/internal/contracts"
	"github.com/conductorhq/conductor/internal/domain/models"
	"github.com/conductorhq/conductor/internal/engine/condition"
	"github.com/conductorhq/conductor/internal/engine/parser"
	"github.com/conductorhq/conductor/internal/engine/schema"
	"github.com/conductorhq/conductor/internal/engine/template"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type finishRecord struct {
	status   string
	snapshot models.JSON
	errMsg   *string
}

type fakeExecutions struct {
	mu       sync.Mutex
	byKey    map[string]*models.WorkflowExecution
	finished map[uuid.UUID]finishRecord
}

func newFakeExecutions() *fakeExecutions {
	return &fakeExecutions{
		byKey:    make(map[string]*models.WorkflowExecution),
		finished: make(map[uuid.UUID]finishRecord),
	}
}

func (f *fakeExecutions) CreateIdempotent(_ context.Context, exec *models.WorkflowExecution) (*models.WorkflowExecution, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := exec.WorkflowID + "|" + exec.WorkflowRequestID
	if existing, ok := f.byKey[key]; ok {
		return existing, false, nil
	}
	exec.ID = uuid.New()
	f.byKey[key] = exec
	return exec, true, nil
}

func (f *fakeExecutions) MarkRunning(_ context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, exec := range f.byKey {
		if exec.ID == id {
			if exec.Status != models.ExecutionStatusPending {
				return fmt.Errorf("execution %s is %s, not Pending", id, exec.Status)
			}
			exec.Status = models.ExecutionStatusRunning
			return nil
		}
	}
	return fmt.Errorf("execution %s not found", id)
}

func (f *fakeExecutions) Finish(_ context.Context, id uuid.UUID, status string, snapshot models.JSON, errMsg *string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.finished[id] = finishRecord{status: status, snapshot: snapshot, errMsg: errMsg}
	for _, exec := range f.byKey {
		if exec.ID == id {
			exec.Status = status
		}
	}
	return nil
}

func (f *fakeExecutions) result(t *testing.T, id uuid.UUID) finishRecord {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.finished[id]
	require.True(t, ok, "execution %s never finished", id)
	return rec
}

type fakeActions struct {
	mu   sync.Mutex
	rows []models.ActionExecution
}

func (f *fakeActions) Create(_ context.Context, row *models.ActionExecution) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rows = append(f.rows, *row)
	return nil
}

func (f *fakeActions) FindFirstAttempt(_ context.Context, executionID uuid.UUID, nodeID string) (*models.ActionExecution, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.rows {
		row := f.rows[i]
		if row.WorkflowExecutionID == executionID && row.NodeID == nodeID && row.Attempt == 1 {
			return &row, nil
		}
	}
	return nil, fmt.Errorf("no first attempt for node %q", nodeID)
}

func (f *fakeActions) forNode(nodeID string) []models.ActionExecution {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.ActionExecution
	for _, row := range f.rows {
		if row.NodeID == nodeID {
			out = append(out, row)
		}
	}
	return out
}

func (f *fakeActions) nodeIDs() map[string]int {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]int)
	for _, row := range f.rows {
		out[row.NodeID]++
	}
	return out
}

type fakeCatalog struct {
	entries map[string]*models.ActionCatalogEntry
}

func (f *fakeCatalog) GetByActionType(actionType string) (*models.ActionCatalogEntry, error) {
	if entry, ok := f.entries[actionType]; ok {
		return entry, nil
	}
	return &models.ActionCatalogEntry{ActionType: actionType, IsEnabled: true}, nil
}

type dispatchFunc func(ctx context.Context, req contracts.ExecuteActionRequest) *contracts.ActionResult

func (f dispatchFunc) Execute(ctx context.Context, req contracts.ExecuteActionRequest) *contracts.ActionResult {
	return f(ctx, req)
}

func succeed(outputs map[string]interface{}) *contracts.ActionResult {
	return &contracts.ActionResult{Status: contracts.ActionStatusSucceeded, Outputs: outputs}
}

type harness struct {
	conductor  *Conductor
	executions *fakeExecutions
	actions    *fakeActions
}

func newHarness(dispatch dispatchFunc, cfg Config, entries map[string]*models.ActionCatalogEntry) *harness {
	executions := newFakeExecutions()
	actions := &fakeActions{}
	c := New(executions, actions, &fakeCatalog{entries: entries}, dispatch,
		template.NewEngine(time.Second), condition.NewEvaluator(time.Second), schema.NewValidator(), cfg)
	return &harness{conductor: c, executions: executions, actions: actions}
}

func quickRetries() Config {
	return Config{
		MaxAttempts:       3,
		InitialRetryDelay: time.Millisecond,
		BackoffFactor:     2,
		ActionTimeout:     5 * time.Second,
		WorkflowTimeout:   10 * time.Second,
	}
}

func (h *harness) drive(t *testing.T, rawDoc string, trigger map[string]interface{}) *models.WorkflowExecution {
	t.Helper()
	doc, err := parser.Parse([]byte(rawDoc))
	require.NoError(t, err)

	exec, created, err := h.conductor.Start(context.Background(), StartRequest{
		WorkflowID:      doc.ID,
		WorkflowVersion: 1,
		RequestID:       uuid.NewString(),
		Trigger:         trigger,
	})
	require.NoError(t, err)
	require.True(t, created)

	require.NoError(t, h.conductor.Drive(context.Background(), exec, doc))
	return exec
}

func TestStartIsIdempotentPerRequestID(t *testing.T) {
	h := newHarness(func(ctx context.Context, req contracts.ExecuteActionRequest) *contracts.ActionResult {
		return succeed(nil)
	}, quickRetries(), nil)

	req := StartRequest{WorkflowID: "wf", WorkflowVersion: 1, RequestID: "req-1"}

	first, created, err := h.conductor.Start(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, created)

	second, created, err := h.conductor.Start(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, second.ID)
}

func TestDriveLinearSuccess(t *testing.T) {
	var mu sync.Mutex
	seen := make(map[string]map[string]interface{})

	h := newHarness(func(ctx context.Context, req contracts.ExecuteActionRequest) *contracts.ActionResult {
		mu.Lock()
		seen[req.ExecutionContext.NodeID] = req.Parameters
		mu.Unlock()
		return succeed(map[string]interface{}{"result": req.ExecutionContext.NodeID + "-output"})
	}, quickRetries(), nil)

	exec := h.drive(t, `{
		"id": "wf",
		"startNode": "a",
		"nodes": [
			{"id": "a", "actionType": "test.op", "parameters": {"greeting": "hi {{ trigger.name }}"},
			 "edges": [{"targetNode": "b"}]},
			{"id": "b", "actionType": "test.op", "parameters": {"prev": "{{ context.data.a.result }}"}}
		]
	}`, map[string]interface{}{"name": "ada"})

	rec := h.executions.result(t, exec.ID)
	assert.Equal(t, models.ExecutionStatusSucceeded, rec.status)
	assert.Nil(t, rec.errMsg)
	assert.Contains(t, rec.snapshot, "a")
	assert.Contains(t, rec.snapshot, "b")

	assert.Equal(t, "hi ada", seen["a"]["greeting"])
	assert.Equal(t, "a-output", seen["b"]["prev"])

	require.Len(t, h.actions.forNode("a"), 1)
	require.Len(t, h.actions.forNode("b"), 1)
	assert.Equal(t, models.ActionStatusSucceeded, h.actions.forNode("a")[0].Status)
}

func TestDriveSkipsAlreadyRunningExecution(t *testing.T) {
	h := newHarness(func(ctx context.Context, req contracts.ExecuteActionRequest) *contracts.ActionResult {
		t.Error("no action should run for a non-Pending execution")
		return succeed(nil)
	}, quickRetries(), nil)

	doc, err := parser.Parse([]byte(`{"id": "wf", "startNode": "a", "nodes": [{"id": "a", "actionType": "test.op"}]}`))
	require.NoError(t, err)

	exec, _, err := h.conductor.Start(context.Background(), StartRequest{WorkflowID: "wf", RequestID: "r"})
	require.NoError(t, err)
	require.NoError(t, h.executions.MarkRunning(context.Background(), exec.ID))

	// Redelivery of an execution another worker owns is a no-op.
	require.NoError(t, h.conductor.Drive(context.Background(), exec, doc))
	h.executions.mu.Lock()
	defer h.executions.mu.Unlock()
	assert.Empty(t, h.executions.finished)
}

func TestRetryThenSuccess(t *testing.T) {
	var attempts int32
	var mu sync.Mutex

	h := newHarness(func(ctx context.Context, req contracts.ExecuteActionRequest) *contracts.ActionResult {
		mu.Lock()
		attempts++
		n := attempts
		mu.Unlock()
		if n == 1 {
			return &contracts.ActionResult{Status: contracts.ActionStatusRetriableFailure, Error: "flaky upstream"}
		}
		return succeed(map[string]interface{}{"ok": true})
	}, quickRetries(), nil)

	exec := h.drive(t, `{"id": "wf", "startNode": "a", "nodes": [{"id": "a", "actionType": "test.op"}]}`, nil)

	rec := h.executions.result(t, exec.ID)
	assert.Equal(t, models.ExecutionStatusSucceeded, rec.status)

	rows := h.actions.forNode("a")
	require.Len(t, rows, 2)
	assert.Equal(t, models.ActionStatusRetriableFailure, rows[0].Status)
	assert.Equal(t, 1, rows[0].Attempt)
	assert.Equal(t, models.ActionStatusSucceeded, rows[1].Status)
	assert.Equal(t, 2, rows[1].Attempt)
	assert.Equal(t, 1, rows[1].RetryCount)
}

func TestRetriesExhaustedBecomeFailure(t *testing.T) {
	cfg := quickRetries()
	cfg.MaxAttempts = 2

	h := newHarness(func(ctx context.Context, req contracts.ExecuteActionRequest) *contracts.ActionResult {
		return &contracts.ActionResult{Status: contracts.ActionStatusRetriableFailure, Error: "still down"}
	}, cfg, nil)

	exec := h.drive(t, `{"id": "wf", "startNode": "a", "nodes": [{"id": "a", "actionType": "test.op"}]}`, nil)

	rec := h.executions.result(t, exec.ID)
	assert.Equal(t, models.ExecutionStatusFailed, rec.status)
	require.NotNil(t, rec.errMsg)
	assert.Contains(t, *rec.errMsg, `node "a"`)

	// The last attempt is recorded as the final failure, not another
	// retriable row.
	rows := h.actions.forNode("a")
	require.Len(t, rows, 2)
	assert.Equal(t, models.ActionStatusRetriableFailure, rows[0].Status)
	assert.Equal(t, models.ActionStatusFailed, rows[1].Status)
}

func TestRetriesReplayFirstAttemptParameters(t *testing.T) {
	var mu sync.Mutex
	var attemptParams []map[string]interface{}
	calls := 0

	h := newHarness(func(ctx context.Context, req contracts.ExecuteActionRequest) *contracts.ActionResult {
		mu.Lock()
		attemptParams = append(attemptParams, req.Parameters)
		calls++
		n := calls
		mu.Unlock()
		if n < 3 {
			return &contracts.ActionResult{Status: contracts.ActionStatusRetriableFailure, Error: "again"}
		}
		return succeed(nil)
	}, quickRetries(), nil)

	exec := h.drive(t, `{
		"id": "wf",
		"startNode": "a",
		"nodes": [{"id": "a", "actionType": "test.op", "parameters": {"token": "{{ trigger.token }}", "n": 7}}]
	}`, map[string]interface{}{"token": "abc"})

	rec := h.executions.result(t, exec.ID)
	assert.Equal(t, models.ExecutionStatusSucceeded, rec.status)

	require.Len(t, attemptParams, 3)
	assert.Equal(t, attemptParams[0], attemptParams[1])
	assert.Equal(t, attemptParams[0], attemptParams[2])

	rows := h.actions.forNode("a")
	require.Len(t, rows, 3)
	assert.Equal(t, []byte(rows[0].ParametersJSON), []byte(rows[1].ParametersJSON))
	assert.Equal(t, []byte(rows[0].ParametersJSON), []byte(rows[2].ParametersJSON))
}

func TestOnFailureRouting(t *testing.T) {
	h := newHarness(func(ctx context.Context, req contracts.ExecuteActionRequest) *contracts.ActionResult {
		if req.ExecutionContext.NodeID == "a" {
			return &contracts.ActionResult{Status: contracts.ActionStatusFailed, Error: "broken"}
		}
		return succeed(nil)
	}, quickRetries(), nil)

	exec := h.drive(t, `{
		"id": "wf",
		"startNode": "a",
		"nodes": [
			{"id": "a", "actionType": "test.op", "onFailure": "cleanup"},
			{"id": "cleanup", "actionType": "test.op"}
		]
	}`, nil)

	rec := h.executions.result(t, exec.ID)
	assert.Equal(t, models.ExecutionStatusSucceeded, rec.status)

	counts := h.actions.nodeIDs()
	assert.Equal(t, 1, counts["cleanup"])

	// The failed node's error is published for downstream conditions.
	errOut, ok := rec.snapshot["a.error"].(map[string]interface{})
	require.True(t, ok, "snapshot: %v", rec.snapshot)
	assert.Equal(t, "action-failed", errOut["kind"])
}

func TestFailureEdgeRouting(t *testing.T) {
	h := newHarness(func(ctx context.Context, req contracts.ExecuteActionRequest) *contracts.ActionResult {
		if req.ExecutionContext.NodeID == "a" {
			return &contracts.ActionResult{Status: contracts.ActionStatusFailed, Error: "broken"}
		}
		return succeed(nil)
	}, quickRetries(), nil)

	exec := h.drive(t, `{
		"id": "wf",
		"startNode": "a",
		"nodes": [
			{"id": "a", "actionType": "test.op", "edges": [
				{"targetNode": "ok", "when": "success"},
				{"targetNode": "handler", "when": "failure"}
			]},
			{"id": "ok", "actionType": "test.op"},
			{"id": "handler", "actionType": "test.op"}
		]
	}`, nil)

	rec := h.executions.result(t, exec.ID)
	assert.Equal(t, models.ExecutionStatusSucceeded, rec.status)

	counts := h.actions.nodeIDs()
	assert.Equal(t, 1, counts["handler"])
	assert.Zero(t, counts["ok"])
}

func TestUnhandledFailureFailsRun(t *testing.T) {
	h := newHarness(func(ctx context.Context, req contracts.ExecuteActionRequest) *contracts.ActionResult {
		return &contracts.ActionResult{Status: contracts.ActionStatusFailed, Error: "broken"}
	}, quickRetries(), nil)

	exec := h.drive(t, `{"id": "wf", "startNode": "a", "nodes": [{"id": "a", "actionType": "test.op"}]}`, nil)

	rec := h.executions.result(t, exec.ID)
	assert.Equal(t, models.ExecutionStatusFailed, rec.status)
	require.NotNil(t, rec.errMsg)
	assert.Contains(t, *rec.errMsg, "broken")
}

func TestFirstMatchStopsAtFirstSatisfiedEdge(t *testing.T) {
	h := newHarness(func(ctx context.Context, req contracts.ExecuteActionRequest) *contracts.ActionResult {
		return succeed(nil)
	}, quickRetries(), nil)

	exec := h.drive(t, `{
		"id": "wf",
		"startNode": "a",
		"nodes": [
			{"id": "a", "actionType": "test.op", "routePolicy": "firstMatch", "edges": [
				{"targetNode": "b"},
				{"targetNode": "c"}
			]},
			{"id": "b", "actionType": "test.op"},
			{"id": "c", "actionType": "test.op"}
		]
	}`, nil)

	rec := h.executions.result(t, exec.ID)
	assert.Equal(t, models.ExecutionStatusSucceeded, rec.status)

	counts := h.actions.nodeIDs()
	assert.Equal(t, 1, counts["b"])
	assert.Zero(t, counts["c"])
}

func TestFanInResolvesBehindDeadBranch(t *testing.T) {
	h := newHarness(func(ctx context.Context, req contracts.ExecuteActionRequest) *contracts.ActionResult {
		return succeed(nil)
	}, quickRetries(), nil)

	exec := h.drive(t, `{
		"id": "wf",
		"startNode": "a",
		"nodes": [
			{"id": "a", "actionType": "test.op", "edges": [
				{"targetNode": "b", "condition": "false"},
				{"targetNode": "c", "condition": "true"}
			]},
			{"id": "b", "actionType": "test.op", "edges": [{"targetNode": "d"}]},
			{"id": "c", "actionType": "test.op", "edges": [{"targetNode": "d"}]},
			{"id": "d", "actionType": "test.op"}
		]
	}`, nil)

	rec := h.executions.result(t, exec.ID)
	assert.Equal(t, models.ExecutionStatusSucceeded, rec.status)

	counts := h.actions.nodeIDs()
	assert.Zero(t, counts["b"])
	assert.Equal(t, 1, counts["c"])
	assert.Equal(t, 1, counts["d"], "the join must still fire once the dead branch resolves")
}

func TestSkippedNodeRoutesNothing(t *testing.T) {
	h := newHarness(func(ctx context.Context, req contracts.ExecuteActionRequest) *contracts.ActionResult {
		if req.ExecutionContext.NodeID == "a" {
			return &contracts.ActionResult{Status: contracts.ActionStatusSkipped, Error: "not applicable"}
		}
		return succeed(nil)
	}, quickRetries(), nil)

	exec := h.drive(t, `{
		"id": "wf",
		"startNode": "a",
		"nodes": [
			{"id": "a", "actionType": "test.op", "edges": [{"targetNode": "b"}]},
			{"id": "b", "actionType": "test.op"}
		]
	}`, nil)

	rec := h.executions.result(t, exec.ID)
	assert.Equal(t, models.ExecutionStatusSucceeded, rec.status)

	counts := h.actions.nodeIDs()
	assert.Zero(t, counts["b"])

	rows := h.actions.forNode("a")
	require.Len(t, rows, 1)
	assert.Equal(t, models.ActionStatusSkipped, rows[0].Status)
}

func TestParallelismIsBounded(t *testing.T) {
	cfg := quickRetries()
	cfg.MaxParallelActions = 2

	var mu sync.Mutex
	current, peak := 0, 0

	h := newHarness(func(ctx context.Context, req contracts.ExecuteActionRequest) *contracts.ActionResult {
		mu.Lock()
		current++
		if current > peak {
			peak = current
		}
		mu.Unlock()

		time.Sleep(20 * time.Millisecond)

		mu.Lock()
		current--
		mu.Unlock()
		return succeed(nil)
	}, cfg, nil)

	exec := h.drive(t, `{
		"id": "wf",
		"startNode": "s",
		"nodes": [
			{"id": "s", "actionType": "test.op", "edges": [
				{"targetNode": "n1"}, {"targetNode": "n2"}, {"targetNode": "n3"}, {"targetNode": "n4"}
			]},
			{"id": "n1", "actionType": "test.op"},
			{"id": "n2", "actionType": "test.op"},
			{"id": "n3", "actionType": "test.op"},
			{"id": "n4", "actionType": "test.op"}
		]
	}`, nil)

	rec := h.executions.result(t, exec.ID)
	assert.Equal(t, models.ExecutionStatusSucceeded, rec.status)
	assert.LessOrEqual(t, peak, 2)
	assert.Len(t, h.actions.nodeIDs(), 5)
}

func TestCancelAbortsRunningExecution(t *testing.T) {
	h := newHarness(func(ctx context.Context, req contracts.ExecuteActionRequest) *contracts.ActionResult {
		<-ctx.Done()
		return &contracts.ActionResult{Status: contracts.ActionStatusRetriableFailure, Error: "interrupted"}
	}, quickRetries(), nil)

	doc, err := parser.Parse([]byte(`{
		"id": "wf",
		"startNode": "a",
		"nodes": [
			{"id": "a", "actionType": "test.op", "edges": [{"targetNode": "b"}]},
			{"id": "b", "actionType": "test.op"}
		]
	}`))
	require.NoError(t, err)

	exec, _, err := h.conductor.Start(context.Background(), StartRequest{WorkflowID: "wf", RequestID: "r"})
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		done <- h.conductor.Drive(context.Background(), exec, doc)
	}()

	// Wait until the run registers itself, then cancel it.
	require.Eventually(t, func() bool {
		return h.conductor.Cancel(exec.ID)
	}, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, <-done)

	rec := h.executions.result(t, exec.ID)
	assert.Equal(t, models.ExecutionStatusCancelled, rec.status)
	assert.Zero(t, h.actions.nodeIDs()["b"])

	// A finished run is no longer cancellable here.
	assert.False(t, h.conductor.Cancel(exec.ID))
}

func TestParameterSchemaViolationAfterRender(t *testing.T) {
	cfg := quickRetries()
	cfg.MaxAttempts = 1

	entries := map[string]*models.ActionCatalogEntry{
		"test.op": {
			ActionType: "test.op",
			IsEnabled:  true,
			ParameterSchema: models.JSON{
				"type": "object",
				"properties": map[string]interface{}{
					"count": map[string]interface{}{"type": "integer"},
				},
				"required": []interface{}{"count"},
			},
		},
	}

	h := newHarness(func(ctx context.Context, req contracts.ExecuteActionRequest) *contracts.ActionResult {
		t.Error("dispatch must not happen when rendered parameters are invalid")
		return succeed(nil)
	}, cfg, entries)

	exec := h.drive(t, `{
		"id": "wf",
		"startNode": "a",
		"nodes": [{"id": "a", "actionType": "test.op", "parameters": {"count": "{{ trigger.count }}"}}]
	}`, map[string]interface{}{"count": "not a number"})

	rec := h.executions.result(t, exec.ID)
	assert.Equal(t, models.ExecutionStatusFailed, rec.status)

	rows := h.actions.forNode("a")
	require.Len(t, rows, 1)
	assert.Equal(t, models.ActionStatusFailed, rows[0].Status)
	assert.Equal(t, string(contracts.KindSchemaValidation), rows[0].ErrorJSON["kind"])
}

func TestOutputSchemaViolationIsFinal(t *testing.T) {
	entries := map[string]*models.ActionCatalogEntry{
		"test.op": {
			ActionType: "test.op",
			IsEnabled:  true,
			OutputSchema: models.JSON{
				"type": "object",
				"properties": map[string]interface{}{
					"result": map[string]interface{}{"type": "integer"},
				},
				"required": []interface{}{"result"},
			},
		},
	}

	h := newHarness(func(ctx context.Context, req contracts.ExecuteActionRequest) *contracts.ActionResult {
		return succeed(map[string]interface{}{"result": "not an integer"})
	}, quickRetries(), entries)

	exec := h.drive(t, `{"id": "wf", "startNode": "a", "nodes": [{"id": "a", "actionType": "test.op"}]}`, nil)

	rec := h.executions.result(t, exec.ID)
	assert.Equal(t, models.ExecutionStatusFailed, rec.status)

	// A contract violation is never retried: exactly one attempt.
	rows := h.actions.forNode("a")
	require.Len(t, rows, 1)
	assert.Equal(t, models.ActionStatusFailed, rows[0].Status)
	assert.Equal(t, "schema-violation", rows[0].ErrorJSON["kind"])
}

func TestRenderFailureRetriesUntilExhausted(t *testing.T) {
	executions := newFakeExecutions()
	actions := &fakeActions{}
	dispatch := dispatchFunc(func(ctx context.Context, req contracts.ExecuteActionRequest) *contracts.ActionResult {
		t.Error("the dispatcher must not run when rendering fails")
		return succeed(nil)
	})
	c := New(executions, actions, &fakeCatalog{}, dispatch,
		template.NewEngine(time.Second, template.WithStrictMode()),
		condition.NewEvaluator(time.Second), schema.NewValidator(), quickRetries())
	h := &harness{conductor: c, executions: executions, actions: actions}

	exec := h.drive(t, `{
		"id": "wf",
		"startNode": "a",
		"nodes": [
			{"id": "a", "actionType": "test.op", "parameters": {"x": "{{ trigger.missing.deep }}"}}
		]
	}`, map[string]interface{}{"present": true})

	// Each attempt re-renders, because no successful render exists to
	// replay; the failure stays a template error, never a persistence one.
	rows := h.actions.forNode("a")
	require.Len(t, rows, 3)
	assert.Equal(t, models.ActionStatusRetriableFailure, rows[0].Status)
	assert.Equal(t, models.ActionStatusRetriableFailure, rows[1].Status)
	assert.Equal(t, models.ActionStatusFailed, rows[2].Status)
	assert.Equal(t, "template-runtime", rows[2].ErrorJSON["kind"])

	rec := h.executions.result(t, exec.ID)
	assert.Equal(t, models.ExecutionStatusFailed, rec.status)
	require.NotNil(t, rec.errMsg)
	assert.Contains(t, *rec.errMsg, `node "a"`)
	assert.NotContains(t, *rec.errMsg, "persistence")
}
