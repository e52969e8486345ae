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
	"time"

	"github.com/cuongbtq/site-audit/internal/api/handler"
	"github.com/cuongbtq/site-audit/internal/api/router"
	"github.com/cuongbtq/site-audit/internal/audit"
	"github.com/cuongbtq/site-audit/internal/bootstrap"
	"github.com/cuongbtq/site-audit/internal/config"
	"github.com/cuongbtq/site-audit/internal/storage"
	"github.com/cuongbtq/site-audit/shared/postgresql"
	"github.com/cuongbtq/site-audit/shared/rabbitmq"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
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
	appLogger, err := bootstrap.InitLogger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer appLogger.Close()

	appLogger.Info("Starting API service",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("environment", cfg.App.Environment),
		slog.String("dispatch", cfg.Audit.Dispatch),
	)

	startedAt := time.Now()

	// Initialize PostgreSQL client
	dbClient, err := bootstrap.InitPostgreSQL(&cfg.Database, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer dbClient.Close()

	appLogger.Info("Database connection established")

	if cfg.Database.AutoMigrate {
		if err := storage.Migrate(context.Background(), dbClient.SQLDB(), appLogger.Logger); err != nil {
			return fmt.Errorf("failed to migrate database: %w", err)
		}
	}

	store := storage.NewStorage(dbClient.GetDB(), appLogger.Logger)

	var (
		orch         *audit.Orchestrator
		inline       *audit.InlineScheduler
		rabbitClient *rabbitmq.Client
		artifactsDir string
	)

	switch cfg.Audit.Dispatch {
	case config.DispatchInline:
		blobs, err := bootstrap.InitBlobStore(context.Background(), &cfg.Blob, appLogger.Logger)
		if err != nil {
			return fmt.Errorf("failed to initialize blob store: %w", err)
		}
		artifactsDir = blobs.LocalDir

		orch = bootstrap.InitOrchestrator(cfg, store, blobs, appLogger.Logger)
		inline = audit.NewInlineScheduler(orch, cfg.Worker.JobTimeout, appLogger.Logger)
		orch.UseScheduler(inline)

	default:
		// Initialize RabbitMQ client
		rabbitClient, err = bootstrap.InitRabbitMQ(&cfg.RabbitMQ, appLogger.Logger)
		if err != nil {
			return fmt.Errorf("failed to initialize RabbitMQ: %w", err)
		}
		defer rabbitClient.Close()

		appLogger.Info("RabbitMQ connection established")

		orch = audit.New(&audit.Config{
			Store:           store,
			Scheduler:       audit.NewQueueScheduler(rabbitClient, appLogger.Logger),
			Logger:          appLogger.Logger,
			FreshnessWindow: cfg.Audit.FreshnessWindow,
			ReuseFailed:     cfg.Audit.ReuseFailedJobs(),
		})

		if cfg.Blob.Driver == config.BlobDriverLocal {
			artifactsDir = cfg.Blob.Local.Dir
		}
	}

	if !cfg.Blob.Local.Serve {
		artifactsDir = ""
	}

	// Initialize router
	r := initRouter(cfg, appLogger.Logger, orch, dbClient, rabbitClient, artifactsDir, startedAt)

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

	serverErr := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		appLogger.Info("Shutting down server...", slog.String("signal", sig.String()))
	case err := <-serverErr:
		appLogger.Error("Server failed", slog.Any("error", err))
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		appLogger.Error("Server forced to shutdown", slog.Any("error", err))
		return err
	}

	if inline != nil {
		appLogger.Info("Waiting for inline audits to finish")
		if err := inline.Wait(ctx); err != nil {
			appLogger.Warn("Inline audits still running at shutdown", slog.Any("error", err))
		}
	}

	appLogger.Info("Server shutdown complete")
	return nil
}

// initRouter initializes the Gin router with all routes and middleware
func initRouter(
	cfg *config.Config,
	logger *slog.Logger,
	orch *audit.Orchestrator,
	dbClient *postgresql.Client,
	rabbitClient *rabbitmq.Client,
	artifactsDir string,
	startedAt time.Time,
) *gin.Engine {
	// Set Gin mode based on environment
	if cfg.App.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	checks := map[string]handler.HealthCheck{
		"database": dbClient.HealthCheck,
	}
	if rabbitClient != nil {
		checks["rabbitmq"] = func(ctx context.Context) error {
			if !rabbitClient.IsConnected() {
				return errors.New("not connected")
			}
			return nil
		}
	}

	handlerDeps := &handler.Dependencies{
		Logger:       logger,
		Audits:       orch,
		ServiceName:  cfg.App.Name,
		HealthChecks: checks,
		StartedAt:    startedAt,
	}

	return router.SetupRouter(handlerDeps, router.Options{
		AllowedOrigins: cfg.Server.AllowedOrigins,
		MaxBodyBytes:   cfg.Server.MaxBodyBytes,
		ArtifactsDir:   artifactsDir,
	})
}
