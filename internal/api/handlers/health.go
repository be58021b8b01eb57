package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/conductorhq/conductor/internal/api/dto"
	"github.com/conductorhq/conductor/internal/pkg/circuitbreaker"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// CircuitReporter exposes the per-host breaker states of the outbound
// HTTP client, surfaced so operators can spot a tripped connector.
type CircuitReporter interface {
	CircuitStates() map[string]circuitbreaker.State
}

type HealthHandler struct {
	db       *gorm.DB
	redis    *redis.Client
	circuits CircuitReporter
}

func NewHealthHandler(db *gorm.DB, redis *redis.Client, circuits CircuitReporter) *HealthHandler {
	return &HealthHandler{db: db, redis: redis, circuits: circuits}
}

func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	checks := make(map[string]string)
	healthy := true

	if h.db != nil {
		sqlDB, err := h.db.DB()
		if err != nil {
			checks["database"] = "error: " + err.Error()
			healthy = false
		} else {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := sqlDB.PingContext(ctx); err != nil {
				checks["database"] = "error: " + err.Error()
				healthy = false
			} else {
				checks["database"] = "ok"
			}
		}
	} else {
		checks["database"] = "not configured"
	}

	if h.redis != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.redis.Ping(ctx).Err(); err != nil {
			checks["redis"] = "error: " + err.Error()
			healthy = false
		} else {
			checks["redis"] = "ok"
		}
	} else {
		checks["redis"] = "not configured"
	}

	status := "healthy"
	statusCode := http.StatusOK
	if !healthy {
		status = "unhealthy"
		statusCode = http.StatusServiceUnavailable
	}

	body := map[string]interface{}{
		"status":  status,
		"service": "conductor-engine",
		"checks":  checks,
	}
	if h.circuits != nil {
		circuits := make(map[string]string)
		for host, state := range h.circuits.CircuitStates() {
			circuits[host] = state.String()
		}
		body["circuits"] = circuits
	}

	dto.JSON(w, statusCode, body)
}

func (h *HealthHandler) Live(w http.ResponseWriter, r *http.Request) {
	dto.JSON(w, http.StatusOK, map[string]string{"status": "alive"})
}

func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	h.Health(w, r)
}
