package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/conductorhq/conductor/internal/contracts"
	"github.com/conductorhq/conductor/internal/pkg/config"
	"github.com/conductorhq/conductor/internal/pkg/httpclient"
)

const executePath = "/api/v1/actions/execute"

type remoteTransport struct {
	client     *httpclient.PooledClient
	connectors map[string]config.ConnectorConfig
	timeout    time.Duration
}

func (t *remoteTransport) execute(ctx context.Context, req contracts.ExecuteActionRequest) (*contracts.ActionResult, error) {
	connectorID := ConnectorID(req.ActionType)
	if connectorID == "" {
		return nil, contracts.NewError(contracts.KindCatalogLookup,
			fmt.Sprintf("action type %q has no connector prefix", req.ActionType), nil)
	}

	conn, ok := t.connectors[connectorID]
	if !ok || conn.BaseURL == "" {
		return nil, contracts.NewError(contracts.KindCatalogLookup,
			fmt.Sprintf("no connector URL configured for %q", connectorID), nil)
	}

	timeout := t.timeout
	if conn.Timeout > 0 {
		timeout = conn.Timeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	body, err := json.Marshal(req)
	if err != nil {
		return nil, contracts.NewError(contracts.KindRemoteProtocol, "failed to encode execute request", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, conn.BaseURL+executePath, bytes.NewReader(body))
	if err != nil {
		return nil, contracts.NewError(contracts.KindRemoteTransport, "failed to build execute request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if req.ExecutionContext.CorrelationID != "" {
		httpReq.Header.Set("X-Correlation-ID", req.ExecutionContext.CorrelationID)
	}

	resp, err := t.client.Do(httpReq)
	if err != nil {
		return nil, contracts.NewError(contracts.KindRemoteTransport,
			fmt.Sprintf("connector %q unreachable", connectorID), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return statusCodeResult(connectorID, resp.StatusCode), nil
	}

	var out contracts.ExecuteActionResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, contracts.NewError(contracts.KindRemoteTransport,
			fmt.Sprintf("connector %q returned an unreadable body", connectorID), err)
	}

	switch out.Status {
	case contracts.ActionStatusSucceeded, contracts.ActionStatusFailed,
		contracts.ActionStatusRetriableFailure, contracts.ActionStatusSkipped:
	default:
		return nil, contracts.NewError(contracts.KindRemoteProtocol,
			fmt.Sprintf("connector %q returned unknown status %q", connectorID, out.Status), nil)
	}

	return &contracts.ActionResult{
		Status:  out.Status,
		Outputs: out.Outputs,
		Error:   out.Error,
	}, nil
}

// statusCodeResult maps a non-200 response to an outcome: server-side
// and throttling codes are retriable, other client errors are final.
func statusCodeResult(connectorID string, code int) *contracts.ActionResult {
	status := contracts.ActionStatusFailed
	if code >= 500 || code == http.StatusRequestTimeout || code == http.StatusTooManyRequests {
		status = contracts.ActionStatusRetriableFailure
	}
	return &contracts.ActionResult{
		Status: status,
		Error:  fmt.Sprintf("connector %q responded with HTTP %d", connectorID, code),
	}
}
