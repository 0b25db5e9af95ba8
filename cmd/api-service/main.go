package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/cuongbtq/compression-service/internal/api/handler"
	"github.com/cuongbtq/compression-service/internal/api/router"
	"github.com/cuongbtq/compression-service/internal/bootstrap"
	"github.com/cuongbtq/compression-service/internal/config"
	"github.com/cuongbtq/compression-service/internal/metrics"
	"github.com/cuongbtq/compression-service/internal/status"
	"github.com/cuongbtq/compression-service/internal/storage"
	"github.com/cuongbtq/compression-service/internal/submission"
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
	defaultConfigPath := os.Getenv("API_SERVICE_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/api-service/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.ValidateAPIConfig(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	// Initialize logger
	appLogger, err := bootstrap.NewLogger(&cfg.Logging, cfg.App.Name)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer appLogger.Close()

	appLogger.Info("Starting API service",
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

	files, err := storage.NewLocal(storage.Config{
		PendingDir:     cfg.Storage.PendingDir,
		DoneDir:        cfg.Storage.DoneDir,
		MaxUploadBytes: cfg.Storage.MaxUploadBytes,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}

	// Initialize router
	deps := &handler.Dependencies{
		Logger: appLogger.Logger,
		Submission: submission.NewService(jobLedger, queue,
			bootstrap.NewNotifier(rabbitClient, appLogger.Logger), metrics.New(), appLogger.Logger),
		Status: status.NewService(jobLedger, queue, cfg.Jobs.ResultTTL(), appLogger.Logger),
		Jobs:   jobLedger,
		Files:  files,
		Health: []handler.HealthCheck{
			{Name: "database", Check: jobLedger.Ping},
			{Name: "redis", Check: queue.Ping},
		},
		ServiceName: cfg.App.Name,
	}
	r := initRouter(cfg, deps)

	// Create HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	appLogger.Info("Starting HTTP server",
		slog.String("address", addr),
		slog.Duration("read_timeout", cfg.Server.ReadTimeout),
		slog.Duration("write_timeout", cfg.Server.WriteTimeout),
	)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		appLogger.Info("Shutting down server...")

		// Graceful shutdown with timeout
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			appLogger.Error("Server forced to shutdown",
				slog.Any("error", err),
			)
			return err
		}
		return nil
	})

	appLogger.Info("API service is running",
		slog.String("address", addr),
	)

	if err := g.Wait(); err != nil {
		return err
	}

	appLogger.Info("Server shutdown complete")
	return nil
}

// initRouter initializes the Gin router with all routes and middleware
func initRouter(cfg *config.Config, deps *handler.Dependencies) *gin.Engine {
	// Set Gin mode based on environment
	if cfg.App.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	return router.SetupRouter(deps, router.Options{
		AllowedOrigins: cfg.Server.AllowedOrigins,
		UploadRate:     cfg.Server.UploadRate,
		UploadBurst:    cfg.Server.UploadBurst,

		MaxMultipartMemory: cfg.Server.MaxMultipartMemory,
	})
}
