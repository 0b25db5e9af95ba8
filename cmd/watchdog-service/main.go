package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/cuongbtq/compression-service/internal/bootstrap"
	"github.com/cuongbtq/compression-service/internal/config"
	"github.com/cuongbtq/compression-service/internal/metrics"
	"github.com/cuongbtq/compression-service/internal/watchdog"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables or flags")
	}

	// Parse command-line flags
	defaultConfigPath := os.Getenv("WATCHDOG_SERVICE_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/watchdog-service/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.ValidateWatchdogConfig(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	// Initialize logger
	appLogger, err := bootstrap.NewLogger(&cfg.Logging, cfg.App.Name)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer appLogger.Close()

	appLogger.Info("Starting watchdog service",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("environment", cfg.App.Environment),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize job ledger
	jobLedger, err := bootstrap.OpenLedger(ctx, &cfg.Database, cfg.App.Name, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer jobLedger.Close()

	appLogger.Info("Database connection established")

	// Initialize dispatch queue
	queue, err := bootstrap.OpenQueue(&cfg.Redis, cfg.Jobs.QueueKey, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize Redis: %w", err)
	}
	defer queue.Close()

	appLogger.Info("Redis connection established")

	// Initialize RabbitMQ client
	rabbitClient, err := bootstrap.OpenRabbitMQ(&cfg.RabbitMQ, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize RabbitMQ: %w", err)
	}
	if rabbitClient != nil {
		defer rabbitClient.Close()
		appLogger.Info("RabbitMQ connection established")
	}

	wd := watchdog.New(jobLedger, queue, bootstrap.NewNotifier(rabbitClient, appLogger.Logger), metrics.New(),
		watchdog.Config{
			MaxRetries:     cfg.Jobs.MaxRetries,
			StaleAfter:     cfg.Jobs.StaleAfter,
			ReconcileGrace: cfg.Jobs.ReconcileGrace,
			BatchSize:      cfg.Watchdog.BatchSize,
		}, appLogger.Logger)

	scheduler, err := watchdog.NewScheduler(wd, cfg.Watchdog.Schedule, appLogger.Logger)
	if err != nil {
		return err
	}

	// Run blocks until the signal context is cancelled and the running sweep ends
	if err := scheduler.Run(ctx); err != nil {
		return fmt.Errorf("watchdog failed: %w", err)
	}

	appLogger.Info("Watchdog service stopped")
	return nil
}
