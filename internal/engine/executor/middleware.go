package executor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/conductorhq/conductor/internal/contracts"
	"github.com/conductorhq/conductor/internal/pkg/metrics"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

// Middleware wraps a Handler. The dispatcher applies middleware in the
// order given, so the first middleware sees the call first.
type Middleware func(next Handler) Handler

// Recovery converts a panicking handler into a Failed result instead of
// taking down the worker.
func Recovery() Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, req contracts.ExecuteActionRequest) (result *contracts.ActionResult, err error) {
			defer func() {
				if r := recover(); r != nil {
					log.Error().
						Str("action_type", req.ActionType).
						Str("node_id", req.ExecutionContext.NodeID).
						Interface("panic", r).
						Msg("Action handler panicked")
					result = &contracts.ActionResult{
						Status: contracts.ActionStatusFailed,
						Error:  fmt.Sprintf("action panicked: %v", r),
					}
					err = nil
				}
			}()
			return next(ctx, req)
		}
	}
}

// Logging emits one line per attempt with outcome and latency.
func Logging() Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, req contracts.ExecuteActionRequest) (*contracts.ActionResult, error) {
			start := time.Now()
			result, err := next(ctx, req)

			event := log.Debug()
			status := "error"
			if err == nil && result != nil {
				status = string(result.Status)
				if result.Status == contracts.ActionStatusFailed {
					event = log.Warn()
				}
			} else {
				event = log.Warn()
			}

			event.
				Str("action_type", req.ActionType).
				Str("node_id", req.ExecutionContext.NodeID).
				Str("execution_id", req.ExecutionContext.WorkflowExecutionID.String()).
				Str("status", status).
				Dur("duration", time.Since(start)).
				Msg("Action dispatched")

			return result, err
		}
	}
}

// Metrics records per-action counters and latency histograms.
func Metrics() Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, req contracts.ExecuteActionRequest) (*contracts.ActionResult, error) {
			start := time.Now()
			result, err := next(ctx, req)

			status := "error"
			if err == nil && result != nil {
				status = string(result.Status)
			}
			metrics.RecordActionExecution(req.ActionType, status, time.Since(start).Seconds())

			return result, err
		}
	}
}

// RateLimit throttles dispatch per action type. Waiting respects the
// caller's context, so cancellation and action timeouts still win.
func RateLimit(rps float64, burst int) Middleware {
	var mu sync.Mutex
	limiters := make(map[string]*rate.Limiter)

	limiterFor := func(actionType string) *rate.Limiter {
		mu.Lock()
		defer mu.Unlock()
		l, ok := limiters[actionType]
		if !ok {
			l = rate.NewLimiter(rate.Limit(rps), burst)
			limiters[actionType] = l
		}
		return l
	}

	return func(next Handler) Handler {
		return func(ctx context.Context, req contracts.ExecuteActionRequest) (*contracts.ActionResult, error) {
			if err := limiterFor(req.ActionType).Wait(ctx); err != nil {
				return nil, contracts.NewError(contracts.KindRemoteTransport, "rate limit wait aborted", err)
			}
			return next(ctx, req)
		}
	}
}
