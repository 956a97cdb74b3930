package di

import (
	"fmt"

	"github.com/orderrush/saga-orchestrator/internal/clients"
	"github.com/orderrush/saga-orchestrator/internal/handler"
	"github.com/orderrush/saga-orchestrator/internal/history"
	"github.com/orderrush/saga-orchestrator/internal/progress"
	"github.com/orderrush/saga-orchestrator/internal/repository"
	"github.com/orderrush/saga-orchestrator/internal/saga"
	"github.com/orderrush/saga-orchestrator/internal/service"
	"github.com/orderrush/saga-orchestrator/pkg/config"
	"github.com/orderrush/saga-orchestrator/pkg/database"
	"github.com/orderrush/saga-orchestrator/pkg/kafka"
	"github.com/orderrush/saga-orchestrator/pkg/redis"
	"go.uber.org/zap"
)

// Container holds all dependencies of the orchestrator service
type Container struct {
	// Infrastructure
	DB       *database.PostgresDB
	Redis    *redis.Client
	Producer *kafka.Producer

	// Core components
	Store        repository.Store
	Registry     *saga.Registry
	Bus          *progress.Bus
	Recorder     *saga.EventRecorder
	Orchestrator *saga.Orchestrator
	Planner      *saga.Planner
	Projector    *history.Projector

	// Services
	OrderService *service.OrderService

	// Handlers
	OrderHandler  *handler.OrderHandler
	AdminHandler  *handler.AdminHandler
	HealthHandler *handler.HealthHandler
}

// ContainerConfig carries the pre-built infrastructure into the container.
// Redis and Producer may be nil; the wiring degrades to cache-less and
// mirror-less operation.
type ContainerConfig struct {
	Config   *config.Config
	DB       *database.PostgresDB
	Redis    *redis.Client
	Producer *kafka.Producer
	Logger   *zap.Logger

	// Clients override the HTTP collaborator clients; tests wire fakes here
	InventoryClient clients.InventoryClient
	PaymentClient   clients.PaymentClient
	ShippingClient  clients.ShippingClient
}

// NewContainer wires the eight core components together
func NewContainer(cfg *ContainerConfig) (*Container, error) {
	if cfg == nil || cfg.Config == nil {
		return nil, fmt.Errorf("container config is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	appCfg := cfg.Config

	c := &Container{
		DB:       cfg.DB,
		Redis:    cfg.Redis,
		Producer: cfg.Producer,
	}

	c.Store = repository.NewPostgresStore(cfg.DB.Pool())

	inventory := cfg.InventoryClient
	payment := cfg.PaymentClient
	shipping := cfg.ShippingClient
	callerOpts := clients.CallerOptions{
		CallTimeout:  appCfg.Saga.StepCallTimeout,
		TotalTimeout: appCfg.Saga.StepTotalTimeout,
		MaxRetries:   2,
	}
	if inventory == nil {
		inventory = clients.NewHTTPInventoryClient(appCfg.Collaborators.InventoryServiceURL, callerOpts)
	}
	if payment == nil {
		payment = clients.NewHTTPPaymentClient(appCfg.Collaborators.PaymentServiceURL, callerOpts)
	}
	if shipping == nil {
		shipping = clients.NewHTTPShippingClient(appCfg.Collaborators.ShippingServiceURL, callerOpts)
	}

	registry, err := saga.NewRegistry(
		saga.NewInventoryStep(inventory, appCfg.Saga.InventoryValidityTTL, appCfg.Saga.RetryWindow),
		saga.NewPaymentStep(payment, appCfg.Saga.PaymentValidityTTL),
		saga.NewShippingStep(shipping, appCfg.Saga.ShippingValidityTTL),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to build step registry: %w", err)
	}
	c.Registry = registry

	c.Bus = progress.NewBus(appCfg.Saga.ProgressBusBufferSize)

	eventsTopic := appCfg.Kafka.EventsTopic
	fanout := service.NewEventFanout(c.Bus, cfg.Producer, eventsTopic, logger)

	sagaLogger := saga.NewZapLogger(logger)
	c.Recorder = saga.NewEventRecorder(c.Store, fanout, sagaLogger)

	executor := saga.NewStepExecutor(c.Store, c.Recorder, sagaLogger, appCfg.Saga.StepTotalTimeout)
	compensator := saga.NewCompensator(c.Registry, c.Store, c.Recorder, sagaLogger)
	c.Orchestrator = saga.NewOrchestrator(c.Registry, c.Store, executor, compensator, c.Recorder, sagaLogger)

	c.Planner = saga.NewPlanner(c.Registry, c.Store, saga.PlannerConfig{
		MaxAttempts:        appCfg.Saga.RetryMaxAttempts,
		RetryWindow:        appCfg.Saga.RetryWindow,
		Cooldown:           appCfg.Saga.RetryCooldown,
		NonRetryableTokens: appCfg.Saga.NonRetryableTokens,
	})
	c.Projector = history.NewProjector(c.Store)

	c.OrderService = service.NewOrderService(
		c.Store,
		c.Orchestrator,
		c.Planner,
		c.Projector,
		c.Recorder,
		c.Bus,
		cfg.Redis,
		logger,
	)

	c.OrderHandler = handler.NewOrderHandler(c.OrderService, logger)
	c.AdminHandler = handler.NewAdminHandler(c.Store)
	c.HealthHandler = handler.NewHealthHandler(cfg.DB, cfg.Redis, appCfg.App.Name, appCfg.App.Version)

	return c, nil
}
