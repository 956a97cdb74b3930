package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/orderrush/saga-orchestrator/internal/repository"
	"github.com/orderrush/saga-orchestrator/internal/worker"
	"github.com/orderrush/saga-orchestrator/pkg/config"
	"github.com/orderrush/saga-orchestrator/pkg/database"
	"github.com/orderrush/saga-orchestrator/pkg/logger"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Initialize logger
	logCfg := &logger.Config{
		Level:       cfg.App.Environment,
		ServiceName: "residue-sweeper",
		Development: cfg.IsDevelopment(),
	}
	if err := logger.Init(logCfg); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	appLog := logger.Get()
	appLog.Info("Starting Residue Sweeper...")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize database connection
	dbCfg := &database.PostgresConfig{
		Host:          cfg.Database.Host,
		Port:          cfg.Database.Port,
		User:          cfg.Database.User,
		Password:      cfg.Database.Password,
		Database:      cfg.Database.DBName,
		SSLMode:       cfg.Database.SSLMode,
		MaxConns:      10,
		MinConns:      2,
		MaxRetries:    3,
		RetryInterval: 2 * time.Second,
	}
	db, err := database.NewPostgres(ctx, dbCfg)
	if err != nil {
		appLog.Fatal(fmt.Sprintf("Failed to connect to database: %v", err))
	}
	defer db.Close()
	appLog.Info("Database connected")

	store := repository.NewPostgresStore(db.Pool())

	sweeper := worker.NewResidueWorker(store, &worker.ResidueWorkerConfig{
		ScanInterval:           cfg.Saga.SweepInterval,
		CompensationResidueAge: cfg.Saga.CompensationResidueAge,
		StalledExecutionAge:    cfg.Saga.StalledExecutionAge,
		PendingRetryAge:        cfg.Saga.RetryCooldown * 2,
	})
	if err := sweeper.Start(ctx); err != nil {
		appLog.Fatal(fmt.Sprintf("Failed to start residue worker: %v", err))
	}

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	appLog.Info("Shutting down residue sweeper...")
	sweeper.Stop()
	appLog.Info("Residue sweeper exited gracefully")
}
