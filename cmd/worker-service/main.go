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

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/cuongbtq/compression-service/internal/bootstrap"
	"github.com/cuongbtq/compression-service/internal/config"
	"github.com/cuongbtq/compression-service/internal/metrics"
	"github.com/cuongbtq/compression-service/internal/storage"
	"github.com/cuongbtq/compression-service/internal/worker"
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
	defaultConfigPath := os.Getenv("WORKER_SERVICE_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/worker-service/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.ValidateWorkerConfig(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	// Initialize logger
	appLogger, err := bootstrap.NewLogger(&cfg.Logging, cfg.App.Name)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer appLogger.Close()

	workerID := newWorkerID()
	appLogger.Info("Starting worker service",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("environment", cfg.App.Environment),
		slog.String("worker_id", workerID),
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

	files, err := storage.NewLocal(storage.Config{
		PendingDir: cfg.Storage.PendingDir,
		DoneDir:    cfg.Storage.DoneDir,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}

	workerCfg := &worker.Config{
		Logger:            appLogger.Logger,
		Ledger:            jobLedger,
		Queue:             queue,
		Storage:           files,
		Metrics:           metrics.New(),
		Notifier:          bootstrap.NewNotifier(rabbitClient, appLogger.Logger),
		WorkerID:          workerID,
		Concurrency:       cfg.Worker.Concurrency,
		PrefetchCount:     cfg.RabbitMQ.Consumer.PrefetchCount,
		MaxRetries:        cfg.Jobs.MaxRetries,
		JobTimeout:        cfg.Worker.JobTimeout,
		HeartbeatInterval: cfg.Worker.HeartbeatInterval,
		PollInterval:      cfg.Worker.PollInterval,
		ShutdownTimeout:   cfg.Worker.ShutdownTimeout,
	}
	if rabbitClient != nil {
		defer rabbitClient.Close()
		workerCfg.Consumer = rabbitClient
		appLogger.Info("RabbitMQ connection established")
	}

	// Start blocks until the signal context is cancelled and in-flight jobs settle
	if err := worker.NewWorker(workerCfg).Start(ctx); err != nil {
		appLogger.Error("Worker error",
			slog.Any("error", err),
		)
		return err
	}

	appLogger.Info("Worker stopped gracefully")
	return nil
}

// newWorkerID names this process in logs; the hostname alone is shared by
// replicas on the same node
func newWorkerID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "worker"
	}
	return fmt.Sprintf("%s-%s", host, uuid.NewString()[:8])
}
