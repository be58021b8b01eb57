package actions

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/conductorhq/conductor/internal/connector"
	"github.com/conductorhq/conductor/internal/contracts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCoreConnectorRegistersBuiltins(t *testing.T) {
	c := NewCoreConnector()
	assert.Equal(t, "core", c.ID())

	var types []string
	for _, def := range c.Definitions() {
		types = append(types, def.ActionType)
	}
	assert.Equal(t, []string{"core.delay", "core.echo", "core.http", "core.transform"}, types)
}

func TestEchoAction(t *testing.T) {
	out, err := (&EchoAction{}).Execute(context.Background(),
		map[string]interface{}{"message": "hello"}, contracts.ExecutionContext{})
	require.NoError(t, err)
	assert.Equal(t, "hello", out["echo"])
}

func TestDelayActionHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := (&DelayAction{}).Execute(ctx,
		map[string]interface{}{"seconds": float64(30)}, contracts.ExecutionContext{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDelayActionWaits(t *testing.T) {
	out, err := (&DelayAction{}).Execute(context.Background(),
		map[string]interface{}{"seconds": 0.01}, contracts.ExecutionContext{})
	require.NoError(t, err)
	assert.Equal(t, 0.01, out["waited_seconds"])
}

func TestHTTPRequestAction(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "POST", r.Method)
		assert.Equal(t, "1", r.URL.Query().Get("page"))
		assert.Equal(t, "token", r.Header.Get("X-Auth"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"ok": true}`))
	}))
	defer server.Close()

	action := &HTTPRequestAction{Client: &http.Client{Timeout: 5 * time.Second}}
	out, err := action.Execute(context.Background(), map[string]interface{}{
		"method":  "POST",
		"url":     server.URL,
		"query":   map[string]interface{}{"page": 1},
		"headers": map[string]interface{}{"X-Auth": "token"},
		"body":    map[string]interface{}{"key": "value"},
	}, contracts.ExecutionContext{})
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, out["statusCode"])
	assert.Equal(t, map[string]interface{}{"ok": true}, out["body"])
}

func TestHTTPRequestActionRetriableStatuses(t *testing.T) {
	for _, code := range []int{500, 502, 408, 429} {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(code)
		}))

		action := &HTTPRequestAction{Client: &http.Client{Timeout: 5 * time.Second}}
		_, err := action.Execute(context.Background(),
			map[string]interface{}{"url": server.URL}, contracts.ExecutionContext{})
		server.Close()

		require.Error(t, err)
		var re *connector.RetriableError
		assert.True(t, errors.As(err, &re), "status %d must be retriable", code)
	}
}

func TestHTTPRequestActionClientErrorsAreOutputs(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte("missing"))
	}))
	defer server.Close()

	action := &HTTPRequestAction{Client: &http.Client{Timeout: 5 * time.Second}}
	out, err := action.Execute(context.Background(),
		map[string]interface{}{"url": server.URL}, contracts.ExecutionContext{})
	require.NoError(t, err)

	// 4xx answers are reported, not retried, so workflows can route on them.
	assert.Equal(t, http.StatusNotFound, out["statusCode"])
	assert.Equal(t, "missing", out["body"])
}

func TestHTTPRequestActionRequiresURL(t *testing.T) {
	action := &HTTPRequestAction{Client: http.DefaultClient}
	_, err := action.Execute(context.Background(), map[string]interface{}{}, contracts.ExecutionContext{})
	assert.Error(t, err)
}

func TestTransformAction(t *testing.T) {
	out, err := (&TransformAction{}).Execute(context.Background(), map[string]interface{}{
		"expression": "input.x * 2",
		"input":      map[string]interface{}{"x": 21},
	}, contracts.ExecutionContext{})
	require.NoError(t, err)
	assert.EqualValues(t, 42, out["result"])
}

func TestTransformActionObjectResult(t *testing.T) {
	out, err := (&TransformAction{}).Execute(context.Background(), map[string]interface{}{
		"expression": "{doubled: input.n * 2, tag: 'ok'}",
		"input":      map[string]interface{}{"n": 3},
	}, contracts.ExecutionContext{})
	require.NoError(t, err)

	result, ok := out["result"].(map[string]interface{})
	require.True(t, ok)
	assert.EqualValues(t, 6, result["doubled"])
	assert.Equal(t, "ok", result["tag"])
}

func TestTransformActionSandbox(t *testing.T) {
	_, err := (&TransformAction{}).Execute(context.Background(), map[string]interface{}{
		"expression": "eval('1 + 1')",
	}, contracts.ExecutionContext{})
	assert.Error(t, err)

	_, err = (&TransformAction{}).Execute(context.Background(), map[string]interface{}{
		"expression": "new Function('return 1')()",
	}, contracts.ExecutionContext{})
	assert.Error(t, err)
}

func TestTransformActionBadExpression(t *testing.T) {
	_, err := (&TransformAction{}).Execute(context.Background(), map[string]interface{}{
		"expression": "this is not javascript",
	}, contracts.ExecutionContext{})
	assert.Error(t, err)
}
