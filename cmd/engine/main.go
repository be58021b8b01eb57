package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/conductorhq/conductor/internal/api"
	"github.com/conductorhq/conductor/internal/domain/repositories"
	"github.com/conductorhq/conductor/internal/domain/services"
	"github.com/conductorhq/conductor/internal/engine/catalog"
	"github.com/conductorhq/conductor/internal/engine/condition"
	"github.com/conductorhq/conductor/internal/engine/conductor"
	"github.com/conductorhq/conductor/internal/engine/executor"
	"github.com/conductorhq/conductor/internal/engine/schema"
	"github.com/conductorhq/conductor/internal/engine/template"
	"github.com/conductorhq/conductor/internal/engine/validate"
	"github.com/conductorhq/conductor/internal/pkg/config"
	"github.com/conductorhq/conductor/internal/pkg/database"
	"github.com/conductorhq/conductor/internal/pkg/httpclient"
	"github.com/conductorhq/conductor/internal/pkg/logger"
	"github.com/conductorhq/conductor/internal/pkg/queue"
	pkgredis "github.com/conductorhq/conductor/internal/pkg/redis"
	"github.com/hibiken/asynq"
	"github.com/rs/zerolog/log"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logger.Init(cfg.App.Environment, cfg.App.Debug)

	log.Info().
		Str("app", cfg.App.Name).
		Str("env", cfg.App.Environment).
		Msg("Starting workflow engine")

	db, err := database.NewGormDB(&cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	if err := database.AutoMigrate(db); err != nil {
		log.Fatal().Err(err).Msg("Failed to run migrations")
	}

	redisClient, err := pkgredis.NewClient(&cfg.Redis)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}

	queueClient := queue.NewClient(&cfg.Redis)
	defer queueClient.Close()

	workflowRepo := repositories.NewWorkflowRepository(db)
	definitionRepo := repositories.NewWorkflowDefinitionRepository(db)
	executionRepo := repositories.NewExecutionRepository(db)
	actionRepo := repositories.NewActionExecutionRepository(db)
	catalogRepo := repositories.NewCatalogRepository(db)

	registry := catalog.NewRegistry(catalogRepo)
	startupCtx, cancelStartup := context.WithTimeout(context.Background(), 30*time.Second)
	if err := registry.Refresh(startupCtx); err != nil {
		log.Warn().Err(err).Msg("Initial catalog refresh failed, starting with an empty catalog")
	}
	cancelStartup()
	if err := registry.StartRefresher(cfg.Catalog.RefreshInterval); err != nil {
		log.Fatal().Err(err).Msg("Failed to start catalog refresher")
	}
	defer registry.Stop()

	var templateOpts []template.Option
	if cfg.Engine.TemplateStrictMode {
		templateOpts = append(templateOpts, template.WithStrictMode())
	}
	if cfg.Engine.TemplateEnableLoops {
		templateOpts = append(templateOpts, template.WithLoops())
	}
	if cfg.Engine.TemplateEnableFunctions {
		templateOpts = append(templateOpts, template.WithFunctions())
	}
	templates := template.NewEngine(cfg.Engine.RenderTimeout, templateOpts...)
	conditions := condition.NewEvaluator(cfg.Engine.ConditionTimeout)
	schemas := schema.NewValidator()

	httpClient := httpclient.NewPooledClient(httpclient.DefaultConfig())
	dispatchMiddleware := []executor.Middleware{
		executor.Recovery(),
		executor.Logging(),
		executor.Metrics(),
	}
	if cfg.Engine.DispatchRateLimit > 0 {
		dispatchMiddleware = append(dispatchMiddleware,
			executor.RateLimit(cfg.Engine.DispatchRateLimit, cfg.Engine.DispatchRateBurst))
	}
	dispatcher := executor.NewDispatcher(executor.Options{
		Registry:   registry,
		Client:     httpClient,
		Connectors: cfg.Connector,
		Timeout:    cfg.Engine.RemoteDispatchTimeout,
		Middleware: dispatchMiddleware,
	})

	cond := conductor.New(executionRepo, actionRepo, registry, dispatcher,
		templates, conditions, schemas, conductor.Config{
			MaxParallelActions: cfg.Engine.MaxParallelActions,
			WorkflowTimeout:    cfg.Engine.DefaultWorkflowTimeout,
			ActionTimeout:      cfg.Engine.DefaultActionTimeout,
			MaxAttempts:        cfg.Engine.DefaultMaxRetries,
			InitialRetryDelay:  cfg.Engine.DefaultInitialRetryDelay,
			BackoffFactor:      cfg.Engine.DefaultBackoffFactor,
			Jitter:             cfg.Engine.RetryJitter,
		})

	workflowValidator := validate.NewValidator(registry, schemas, templates, conditions)
	workflowSvc := services.NewWorkflowService(workflowRepo, definitionRepo, workflowValidator, redisClient)
	executionSvc := services.NewExecutionService(
		workflowRepo, definitionRepo, executionRepo, actionRepo,
		cond, queueClient, redisClient,
		services.ExecutionServiceOptions{
			WorkflowTimeout:     cfg.Engine.DefaultWorkflowTimeout,
			AllowDraftExecution: cfg.Engine.AllowDraftExecution,
		})

	queueServer := queue.NewServer(&cfg.Redis, cfg.Engine.MaxConcurrentWorkflows)
	queueServer.HandleFunc(queue.TypeWorkflowExecution, executionSvc.HandleWorkflowExecutionTask)
	queueServer.HandleFunc(queue.TypeCatalogRefresh, func(ctx context.Context, _ *asynq.Task) error {
		return registry.Refresh(ctx)
	})
	if err := queueServer.Start(); err != nil {
		log.Fatal().Err(err).Msg("Failed to start queue server")
	}

	listenCtx, stopListening := context.WithCancel(context.Background())
	go executionSvc.ListenForCancellations(listenCtx)

	server := api.NewServer(cfg, &api.Services{
		Workflow:  workflowSvc,
		Execution: executionSvc,
	}, registry, redisClient, queueClient, httpClient, db)

	go func() {
		if err := server.Start(); err != nil {
			log.Fatal().Err(err).Msg("HTTP server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down engine")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	}

	stopListening()
	queueServer.Shutdown()

	log.Info().Msg("Engine stopped")
}
