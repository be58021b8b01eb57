package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/conductorhq/conductor/internal/api/handlers"
	"github.com/conductorhq/conductor/internal/api/middleware"
	"github.com/conductorhq/conductor/internal/domain/services"
	"github.com/conductorhq/conductor/internal/engine/catalog"
	"github.com/conductorhq/conductor/internal/pkg/config"
	"github.com/conductorhq/conductor/internal/pkg/httpclient"
	"github.com/conductorhq/conductor/internal/pkg/metrics"
	"github.com/conductorhq/conductor/internal/pkg/queue"
	pkgredis "github.com/conductorhq/conductor/internal/pkg/redis"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

type Server struct {
	cfg        *config.Config
	router     *chi.Mux
	httpServer *http.Server
}

type Services struct {
	Workflow  *services.WorkflowService
	Execution *services.ExecutionService
}

func NewServer(
	cfg *config.Config,
	svc *Services,
	registry *catalog.Registry,
	redisClient *pkgredis.Client,
	queueClient *queue.Client,
	httpClient *httpclient.PooledClient,
	db *gorm.DB,
) *Server {
	router := chi.NewRouter()

	router.Use(chimiddleware.RequestID)
	router.Use(chimiddleware.RealIP)
	router.Use(middleware.Logger())
	router.Use(middleware.Recoverer())
	router.Use(metrics.Middleware)
	router.Use(chimiddleware.Timeout(60 * time.Second))

	corsHandler := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-ID", "X-Correlation-ID"},
		ExposedHeaders: []string{"X-Request-ID"},
		MaxAge:         300,
	})
	router.Use(corsHandler.Handler)

	workflowHandler := handlers.NewWorkflowHandler(svc.Workflow, svc.Execution)
	executionHandler := handlers.NewExecutionHandler(svc.Execution)
	catalogHandler := handlers.NewCatalogHandler(registry, queueClient)
	healthHandler := handlers.NewHealthHandler(db, redisClient.Client, httpClient)

	router.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", healthHandler.Health)
		r.Get("/health/live", healthHandler.Live)
		r.Get("/health/ready", healthHandler.Ready)

		r.Get("/workflows", workflowHandler.List)
		r.Post("/workflows", workflowHandler.Create)
		r.Post("/workflows/validate", workflowHandler.Validate)
		r.Route("/workflows/{workflowID}", func(r chi.Router) {
			r.Get("/", workflowHandler.Get)
			r.Post("/publish", workflowHandler.Publish)
			r.Post("/archive", workflowHandler.Archive)
			r.Post("/reactivate", workflowHandler.Reactivate)
			r.Post("/execute", workflowHandler.Execute)
			r.Get("/executions", executionHandler.List)
		})

		r.Get("/executions/{executionID}", executionHandler.Get)
		r.Post("/executions/{executionID}/cancel", executionHandler.Cancel)

		r.Get("/actions", catalogHandler.List)

		r.Route("/admin", func(r chi.Router) {
			r.Post("/actions/register", catalogHandler.Register)
			r.Post("/actions/refresh", catalogHandler.Refresh)
			r.Post("/connectors/{connectorID}/disable", catalogHandler.DisableConnector)
		})
	})

	router.Handle("/metrics", metrics.Handler())

	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	return &Server{
		cfg:        cfg,
		router:     router,
		httpServer: httpServer,
	}
}

func (s *Server) Start() error {
	log.Info().Str("addr", s.httpServer.Addr).Msg("Starting HTTP server")
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) Router() *chi.Mux {
	return s.router
}
