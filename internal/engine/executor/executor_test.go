package executor

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/conductorhq/conductor/internal/contracts"
	"github.com/conductorhq/conductor/internal/domain/models"
	"github.com/conductorhq/conductor/internal/engine/catalog"
	"github.com/conductorhq/conductor/internal/pkg/config"
	"github.com/conductorhq/conductor/internal/pkg/httpclient"
	"github.com/stretchr/testify/assert"
)

func testRegistry() *catalog.Registry {
	r := catalog.NewRegistry(nil)
	r.Seed([]models.ActionCatalogEntry{
		{ActionType: "test.op", ConnectorID: "test", DisplayName: "Op", IsEnabled: true},
	})
	return r
}

func testDispatcher(t *testing.T, handler http.HandlerFunc) *Dispatcher {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	return NewDispatcher(Options{
		Registry: testRegistry(),
		Client:   httpclient.NewPooledClient(httpclient.DefaultConfig()),
		Connectors: map[string]config.ConnectorConfig{
			"test": {BaseURL: server.URL},
		},
		Timeout: 5 * time.Second,
	})
}

func executeReq(actionType string) contracts.ExecuteActionRequest {
	return contracts.ExecuteActionRequest{
		ActionType: actionType,
		Parameters: map[string]interface{}{"key": "value"},
	}
}

func TestExecuteRemoteSuccess(t *testing.T) {
	var received contracts.ExecuteActionRequest
	d := testDispatcher(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, executePath, r.URL.Path)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		json.NewEncoder(w).Encode(contracts.ExecuteActionResponse{
			Status:  contracts.ActionStatusSucceeded,
			Outputs: map[string]interface{}{"answer": float64(42)},
		})
	})

	result := d.Execute(context.Background(), executeReq("test.op"))
	assert.Equal(t, contracts.ActionStatusSucceeded, result.Status)
	assert.Equal(t, float64(42), result.Outputs["answer"])
	assert.Equal(t, "value", received.Parameters["key"])
}

func TestExecuteRemoteLogicalFailurePassesThrough(t *testing.T) {
	d := testDispatcher(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(contracts.ExecuteActionResponse{
			Status: contracts.ActionStatusFailed,
			Error:  "upstream rejected the request",
		})
	})

	result := d.Execute(context.Background(), executeReq("test.op"))
	assert.Equal(t, contracts.ActionStatusFailed, result.Status)
	assert.Equal(t, "upstream rejected the request", result.Error)
}

func TestExecuteRemoteStatusCodeMapping(t *testing.T) {
	tests := []struct {
		code int
		want contracts.ActionStatus
	}{
		{http.StatusInternalServerError, contracts.ActionStatusRetriableFailure},
		{http.StatusBadGateway, contracts.ActionStatusRetriableFailure},
		{http.StatusRequestTimeout, contracts.ActionStatusRetriableFailure},
		{http.StatusTooManyRequests, contracts.ActionStatusRetriableFailure},
		{http.StatusBadRequest, contracts.ActionStatusFailed},
		{http.StatusNotFound, contracts.ActionStatusFailed},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.code), func(t *testing.T) {
			d := testDispatcher(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.code)
			})
			result := d.Execute(context.Background(), executeReq("test.op"))
			assert.Equal(t, tt.want, result.Status)
		})
	}
}

func TestExecuteRemoteUnreadableBody(t *testing.T) {
	d := testDispatcher(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("this is not json"))
	})

	// Transport-level breakage is retriable.
	result := d.Execute(context.Background(), executeReq("test.op"))
	assert.Equal(t, contracts.ActionStatusRetriableFailure, result.Status)
}

func TestExecuteRemoteUnknownStatus(t *testing.T) {
	d := testDispatcher(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status": "Exploded"}`))
	})

	// A connector speaking a different protocol is a final failure.
	result := d.Execute(context.Background(), executeReq("test.op"))
	assert.Equal(t, contracts.ActionStatusFailed, result.Status)
	assert.Contains(t, result.Error, "Exploded")
}

func TestExecuteUnknownActionType(t *testing.T) {
	d := testDispatcher(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("the connector must not be called for unknown action types")
	})

	result := d.Execute(context.Background(), executeReq("test.unknown"))
	assert.Equal(t, contracts.ActionStatusFailed, result.Status)
	assert.Contains(t, result.Error, "test.unknown")
}

func TestExecuteUnconfiguredConnector(t *testing.T) {
	d := NewDispatcher(Options{
		Registry: func() *catalog.Registry {
			r := catalog.NewRegistry(nil)
			r.Seed([]models.ActionCatalogEntry{
				{ActionType: "ghost.op", ConnectorID: "ghost", DisplayName: "Op", IsEnabled: true},
			})
			return r
		}(),
		Client: httpclient.NewPooledClient(httpclient.DefaultConfig()),
	})

	result := d.Execute(context.Background(), executeReq("ghost.op"))
	assert.Equal(t, contracts.ActionStatusFailed, result.Status)
	assert.Contains(t, result.Error, "ghost")
}

func TestExecuteLocalHandlerWins(t *testing.T) {
	d := testDispatcher(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("remote dispatch must not happen when a local handler exists")
	})
	d.RegisterLocal("test.op", func(ctx context.Context, req contracts.ExecuteActionRequest) (*contracts.ActionResult, error) {
		return &contracts.ActionResult{
			Status:  contracts.ActionStatusSucceeded,
			Outputs: map[string]interface{}{"local": true},
		}, nil
	})

	result := d.Execute(context.Background(), executeReq("test.op"))
	assert.Equal(t, contracts.ActionStatusSucceeded, result.Status)
	assert.Equal(t, true, result.Outputs["local"])
}

func TestExecuteNilResultBecomesProtocolFailure(t *testing.T) {
	d := NewDispatcher(Options{Registry: testRegistry(), Client: httpclient.NewPooledClient(httpclient.DefaultConfig())})
	d.RegisterLocal("test.op", func(ctx context.Context, req contracts.ExecuteActionRequest) (*contracts.ActionResult, error) {
		return nil, nil
	})

	result := d.Execute(context.Background(), executeReq("test.op"))
	assert.Equal(t, contracts.ActionStatusFailed, result.Status)
}

func TestRecoveryMiddlewareFoldsPanics(t *testing.T) {
	d := NewDispatcher(Options{
		Registry:   testRegistry(),
		Client:     httpclient.NewPooledClient(httpclient.DefaultConfig()),
		Middleware: []Middleware{Recovery()},
	})
	d.RegisterLocal("test.op", func(ctx context.Context, req contracts.ExecuteActionRequest) (*contracts.ActionResult, error) {
		panic("boom")
	})

	result := d.Execute(context.Background(), executeReq("test.op"))
	assert.Equal(t, contracts.ActionStatusFailed, result.Status)
	assert.Contains(t, result.Error, "boom")
}

func TestRateLimitMiddleware(t *testing.T) {
	calls := 0
	handler := func(ctx context.Context, req contracts.ExecuteActionRequest) (*contracts.ActionResult, error) {
		calls++
		return &contracts.ActionResult{Status: contracts.ActionStatusSucceeded}, nil
	}
	limited := RateLimit(1, 1)(handler)

	result, err := limited(context.Background(), executeReq("test.op"))
	assert.NoError(t, err)
	assert.Equal(t, contracts.ActionStatusSucceeded, result.Status)

	// The burst is spent; a cancelled wait surfaces as a transport error
	// without reaching the handler.
	cancelled, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = limited(cancelled, executeReq("test.op"))
	assert.Error(t, err)
	assert.Equal(t, contracts.KindRemoteTransport, contracts.KindOf(err))
	assert.Equal(t, 1, calls)

	// Each action type gets its own limiter.
	result, err = limited(context.Background(), executeReq("other.op"))
	assert.NoError(t, err)
	assert.Equal(t, contracts.ActionStatusSucceeded, result.Status)
	assert.Equal(t, 2, calls)
}

func TestConnectorID(t *testing.T) {
	assert.Equal(t, "core", ConnectorID("core.echo"))
	assert.Equal(t, "crm", ConnectorID("crm.contacts.lookup"))
	assert.Equal(t, "", ConnectorID("noprefix"))
	assert.Equal(t, "", ConnectorID(".leading"))
}
