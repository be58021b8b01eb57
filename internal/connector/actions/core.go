// Package actions holds the built-in "core" connector: a small set of
// generic actions useful in any workflow and as a reference for writing
// connectors.
package actions

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/conductorhq/conductor/internal/connector"
	"github.com/conductorhq/conductor/internal/contracts"
	"github.com/dop251/goja"
)

// NewCoreConnector builds the core connector with every built-in action
// registered.
func NewCoreConnector() *connector.Connector {
	c := connector.New("core")
	c.Register(&EchoAction{})
	c.Register(&DelayAction{})
	c.Register(&HTTPRequestAction{Client: &http.Client{Timeout: 30 * time.Second}})
	c.Register(&TransformAction{})
	return c
}

// EchoAction returns its message parameter unchanged. Mostly useful in
// tests and smoke checks.
type EchoAction struct{}

func (a *EchoAction) Definition() contracts.ActionDefinition {
	return contracts.ActionDefinition{
		ActionType:  "core.echo",
		DisplayName: "Echo",
		Description: "Returns the given message as its output",
		ParameterSchema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"message": map[string]interface{}{},
			},
			"required": []interface{}{"message"},
		},
		OutputSchema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"echo": map[string]interface{}{},
			},
			"required": []interface{}{"echo"},
		},
	}
}

func (a *EchoAction) Execute(ctx context.Context, params map[string]interface{}, _ contracts.ExecutionContext) (map[string]interface{}, error) {
	return map[string]interface{}{"echo": params["message"]}, nil
}

// DelayAction sleeps for the requested duration, honoring cancellation.
type DelayAction struct{}

func (a *DelayAction) Definition() contracts.ActionDefinition {
	return contracts.ActionDefinition{
		ActionType:  "core.delay",
		DisplayName: "Delay",
		Description: "Waits the given number of seconds before completing",
		ParameterSchema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"seconds": map[string]interface{}{
					"type":    "number",
					"minimum": 0,
				},
			},
			"required": []interface{}{"seconds"},
		},
		OutputSchema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"waited_seconds": map[string]interface{}{"type": "number"},
			},
		},
	}
}

func (a *DelayAction) Execute(ctx context.Context, params map[string]interface{}, _ contracts.ExecutionContext) (map[string]interface{}, error) {
	seconds := getFloat(params, "seconds", 0)
	select {
	case <-time.After(time.Duration(seconds * float64(time.Second))):
		return map[string]interface{}{"waited_seconds": seconds}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// HTTPRequestAction performs an outbound HTTP call. Transport failures
// and 5xx/408/429 answers are retriable; other statuses are reported as
// outputs so workflows can route on them.
type HTTPRequestAction struct {
	Client *http.Client
}

func (a *HTTPRequestAction) Definition() contracts.ActionDefinition {
	return contracts.ActionDefinition{
		ActionType:  "core.http",
		DisplayName: "HTTP Request",
		Description: "Performs an HTTP request and returns status, headers and body",
		ParameterSchema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"method":  map[string]interface{}{"type": "string"},
				"url":     map[string]interface{}{"type": "string"},
				"headers": map[string]interface{}{"type": "object"},
				"query":   map[string]interface{}{"type": "object"},
				"body":    map[string]interface{}{},
			},
			"required": []interface{}{"url"},
		},
		OutputSchema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"statusCode": map[string]interface{}{"type": "integer"},
				"headers":    map[string]interface{}{"type": "object"},
				"body":       map[string]interface{}{},
			},
			"required": []interface{}{"statusCode"},
		},
	}
}

func (a *HTTPRequestAction) Execute(ctx context.Context, params map[string]interface{}, _ contracts.ExecutionContext) (map[string]interface{}, error) {
	method := getString(params, "method", http.MethodGet)
	rawURL := getString(params, "url", "")
	if rawURL == "" {
		return nil, fmt.Errorf("url is required")
	}

	if query := getMap(params, "query"); len(query) > 0 {
		u, err := url.Parse(rawURL)
		if err != nil {
			return nil, fmt.Errorf("invalid url: %w", err)
		}
		q := u.Query()
		for k, v := range query {
			q.Set(k, fmt.Sprintf("%v", v))
		}
		u.RawQuery = q.Encode()
		rawURL = u.String()
	}

	var body io.Reader
	if raw, ok := params["body"]; ok && raw != nil && method != http.MethodGet && method != http.MethodHead {
		encoded, err := json.Marshal(raw)
		if err != nil {
			return nil, fmt.Errorf("failed to encode body: %w", err)
		}
		body = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, rawURL, body)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range getMap(params, "headers") {
		req.Header.Set(k, fmt.Sprintf("%v", v))
	}

	resp, err := a.Client.Do(req)
	if err != nil {
		return nil, connector.Retriable(fmt.Errorf("request failed: %w", err))
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, connector.Retriable(fmt.Errorf("failed to read response: %w", err))
	}

	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusRequestTimeout || resp.StatusCode == http.StatusTooManyRequests {
		return nil, connector.Retriable(fmt.Errorf("upstream answered %d", resp.StatusCode))
	}

	var parsed interface{}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		parsed = string(raw)
	}

	headers := make(map[string]interface{}, len(resp.Header))
	for k := range resp.Header {
		headers[k] = resp.Header.Get(k)
	}

	return map[string]interface{}{
		"statusCode": resp.StatusCode,
		"headers":    headers,
		"body":       parsed,
	}, nil
}

// TransformAction evaluates a JavaScript expression over its input and
// returns the result. The runtime is sandboxed the same way edge
// conditions are.
type TransformAction struct{}

func (a *TransformAction) Definition() contracts.ActionDefinition {
	return contracts.ActionDefinition{
		ActionType:  "core.transform",
		DisplayName: "Transform",
		Description: "Evaluates a JavaScript expression against the input value",
		ParameterSchema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"expression": map[string]interface{}{"type": "string"},
				"input":      map[string]interface{}{},
			},
			"required": []interface{}{"expression"},
		},
		OutputSchema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"result": map[string]interface{}{},
			},
		},
	}
}

func (a *TransformAction) Execute(ctx context.Context, params map[string]interface{}, _ contracts.ExecutionContext) (map[string]interface{}, error) {
	expression := getString(params, "expression", "")
	if expression == "" {
		return nil, fmt.Errorf("expression is required")
	}

	vm := goja.New()
	vm.SetFieldNameMapper(goja.UncapFieldNameMapper())
	_ = vm.Set("eval", goja.Undefined())
	_ = vm.Set("Function", goja.Undefined())
	if err := vm.Set("input", params["input"]); err != nil {
		return nil, fmt.Errorf("failed to bind input: %w", err)
	}

	timer := time.AfterFunc(5*time.Second, func() {
		vm.Interrupt("transform timeout exceeded")
	})
	defer timer.Stop()

	stop := context.AfterFunc(ctx, func() {
		vm.Interrupt("cancelled")
	})
	defer stop()

	val, err := vm.RunString("(" + expression + ")")
	if err != nil {
		return nil, fmt.Errorf("transform failed: %w", err)
	}

	var result interface{}
	if val != nil && !goja.IsUndefined(val) && !goja.IsNull(val) {
		result = val.Export()
	}
	return map[string]interface{}{"result": result}, nil
}

func getString(params map[string]interface{}, key, fallback string) string {
	if v, ok := params[key].(string); ok && v != "" {
		return v
	}
	return fallback
}

func getFloat(params map[string]interface{}, key string, fallback float64) float64 {
	switch v := params[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case json.Number:
		f, err := v.Float64()
		if err == nil {
			return f
		}
	}
	return fallback
}

func getMap(params map[string]interface{}, key string) map[string]interface{} {
	if v, ok := params[key].(map[string]interface{}); ok {
		return v
	}
	return nil
}
