package connector

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/conductorhq/conductor/internal/contracts"
	"github.com/conductorhq/conductor/internal/pkg/httpclient"
	"github.com/rs/zerolog/log"
)

const registerPath = "/api/v1/admin/actions/register"

// RegisterWithEngine publishes the connector's catalog to the engine,
// retrying with exponential backoff until it succeeds or ctx ends. The
// engine may start after the connector, so startup failures are expected.
func RegisterWithEngine(ctx context.Context, client *httpclient.PooledClient, engineURL string, c *Connector) error {
	payload, err := json.Marshal(contracts.RegisterActionsRequest{
		ConnectorID: c.ID(),
		Actions:     c.Definitions(),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal registration payload: %w", err)
	}

	delay := time.Second
	for attempt := 1; ; attempt++ {
		err := registerOnce(ctx, client, engineURL+registerPath, payload)
		if err == nil {
			log.Info().
				Str("connector", c.ID()).
				Int("actions", len(c.Definitions())).
				Str("engine_url", engineURL).
				Msg("Connector registered with engine")
			return nil
		}

		log.Warn().
			Err(err).
			Int("attempt", attempt).
			Dur("retry_in", delay).
			Msg("Engine registration failed, retrying")

		select {
		case <-ctx.Done():
			return fmt.Errorf("registration abandoned: %w", ctx.Err())
		case <-time.After(delay):
		}
		if delay < 30*time.Second {
			delay *= 2
		}
	}
}

func registerOnce(ctx context.Context, client *httpclient.PooledClient, url string, payload []byte) error {
	callCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	resp, err := client.PostJSON(callCtx, url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("engine answered %d: %s", resp.StatusCode, body)
	}
	return nil
}
