package app

import (
	"fmt"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/relay/internal/agents"
	"github.com/ternarybob/relay/internal/common"
	"github.com/ternarybob/relay/internal/handlers"
	"github.com/ternarybob/relay/internal/hooks"
	"github.com/ternarybob/relay/internal/interfaces"
	"github.com/ternarybob/relay/internal/orchestrator"
	"github.com/ternarybob/relay/internal/queue"
	"github.com/ternarybob/relay/internal/services/events"
	"github.com/ternarybob/relay/internal/services/scheduler"
	"github.com/ternarybob/relay/internal/storage"
	"github.com/ternarybob/relay/internal/workers"
)

// App holds all application components and dependencies
type App struct {
	Config         *common.Config
	Logger         arbor.ILogger
	StorageManager interfaces.StorageManager

	// Event-driven services
	EventService     interfaces.EventService
	SchedulerService *scheduler.Service

	// Worker plane
	QueueManager   *queue.Manager
	WorkerRegistry *workers.Registry
	Dispatcher     *workers.Dispatcher
	WorkerRuntime  *workers.Runtime
	ConsumerPool   *workers.ConsumerPool

	// Orchestration plane
	AgentRouter  *agents.Router
	PlanLibrary  *orchestrator.Library
	Engine       *orchestrator.Engine
	HookRegistry *hooks.Registry

	// HTTP handlers
	APIHandler         *handlers.APIHandler
	OrchestrateHandler *handlers.OrchestrateHandler
	WorkerHandler      *handlers.WorkerHandler
	WSHandler          *handlers.WebSocketHandler
}

// New initializes the application with all dependencies
func New(cfg *common.Config, logger arbor.ILogger) (*App, error) {
	app := &App{
		Config: cfg,
		Logger: logger,
	}

	if err := app.initStorage(); err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	if err := app.initServices(); err != nil {
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	app.initHandlers()

	logger.Info().
		Str("storage", cfg.Storage.Type).
		Str("queue_mode", cfg.Queue.Mode).
		Int("agents", len(app.AgentRouter.Paths())).
		Int("plans", len(app.PlanLibrary.IDs())).
		Msg("Application initialization complete")

	return app, nil
}

// initStorage initializes the storage layer
func (a *App) initStorage() error {
	storageManager, err := storage.NewStorageManager(a.Logger, a.Config)
	if err != nil {
		return fmt.Errorf("failed to create storage manager: %w", err)
	}

	a.StorageManager = storageManager
	a.Logger.Debug().
		Str("storage", a.Config.Storage.Type).
		Msg("Storage layer initialized")

	return nil
}

// initServices initializes all business services in dependency order
func (a *App) initServices() error {
	a.EventService = events.NewService(a.Logger)

	a.QueueManager = queue.NewManager(a.Logger, a.Config)
	a.Logger.Debug().Str("mode", a.Config.Queue.Mode).Msg("Queue manager initialized")

	// Agent router with the built-in utility agents registered
	a.AgentRouter = agents.NewRouter(a.Logger, a.Config.Orchestrator.MaxAgentDepth)
	agents.RegisterBuiltins(a.AgentRouter)
	a.Logger.Debug().Int("agents", len(a.AgentRouter.Paths())).Msg("Agent router initialized")

	// Worker plane: registry, dispatcher, runtime and consumers
	a.WorkerRegistry = workers.NewRegistry(a.Logger)
	a.Dispatcher = workers.NewDispatcher(a.Logger, a.Config, a.QueueManager, a.StorageManager.JobStore())
	a.WorkerRuntime = workers.NewRuntime(a.Logger, a.Config, a.WorkerRegistry, a.StorageManager.JobStore(), a.Dispatcher, a.EventService)
	a.ConsumerPool = workers.NewConsumerPool(a.Logger, a.Config, a.QueueManager, a.WorkerRegistry, a.WorkerRuntime)

	// Named plan library, loaded from disk when the directory exists
	a.PlanLibrary = orchestrator.NewLibrary(a.Logger)
	if err := a.PlanLibrary.LoadDir(a.Config.Plans.Dir); err != nil {
		a.Logger.Warn().Err(err).Str("dir", a.Config.Plans.Dir).Msg("Failed to load plan library")
	} else {
		a.Logger.Debug().Int("plans", len(a.PlanLibrary.IDs())).Msg("Plan library loaded")
	}

	runLocks := common.NewKeyedMutex()
	a.Engine = orchestrator.NewEngine(
		a.Logger,
		a.Config,
		a.StorageManager.RunRegistry(),
		a.StorageManager.JobStore(),
		a.AgentRouter,
		a.Dispatcher,
		a.PlanLibrary,
		runLocks,
		a.EventService,
	)

	a.HookRegistry = hooks.NewRegistry(a.Logger, a.StorageManager.RunRegistry(), runLocks, a.Engine, a.EventService)

	a.SchedulerService = scheduler.NewService(a.Logger, a.Config, a.Engine, a.StorageManager.JobStore())

	return nil
}

// initHandlers initializes all HTTP handlers
func (a *App) initHandlers() {
	a.APIHandler = handlers.NewAPIHandler(a.PlanLibrary)
	a.WSHandler = handlers.NewWebSocketHandler(a.EventService, a.Logger)
	a.OrchestrateHandler = handlers.NewOrchestrateHandler(a.Logger, a.Engine, a.HookRegistry)

	poll := workers.ResolvePoll(nil, nil, &a.Config.Workers)
	a.WorkerHandler = handlers.NewWorkerHandler(a.Logger, a.Dispatcher, a.StorageManager.JobStore(), poll)
}

// Start launches the background services: worker consumers and the
// timer/expiry scheduler.
func (a *App) Start() error {
	if err := a.ConsumerPool.Start(); err != nil {
		return fmt.Errorf("failed to start consumer pool: %w", err)
	}
	a.Logger.Debug().Msg("Consumer pool started")

	if err := a.SchedulerService.Start(); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}
	a.Logger.Debug().Msg("Scheduler started")

	return nil
}

// Close stops background services and closes all application resources
func (a *App) Close() error {
	if a.SchedulerService != nil {
		a.SchedulerService.Stop()
		a.Logger.Info().Msg("Scheduler stopped")
	}

	if a.ConsumerPool != nil {
		a.ConsumerPool.Stop()
		a.Logger.Info().Msg("Consumer pool stopped")
	}

	if a.QueueManager != nil {
		a.QueueManager.Close()
		a.Logger.Info().Msg("Queue manager closed")
	}

	if a.StorageManager != nil {
		if err := a.StorageManager.Close(); err != nil {
			return fmt.Errorf("failed to close storage: %w", err)
		}
		a.Logger.Info().Msg("Storage closed")
	}

	return nil
}
