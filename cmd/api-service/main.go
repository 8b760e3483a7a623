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

	"github.com/cuongbtq/sof-extractor/internal/api/handler"
	"github.com/cuongbtq/sof-extractor/internal/api/router"
	"github.com/cuongbtq/sof-extractor/internal/config"
	"github.com/cuongbtq/sof-extractor/internal/export"
	"github.com/cuongbtq/sof-extractor/internal/notify"
	"github.com/cuongbtq/sof-extractor/internal/pipeline"
	"github.com/cuongbtq/sof-extractor/internal/store"
	"github.com/cuongbtq/sof-extractor/internal/upload"
	"github.com/cuongbtq/sof-extractor/internal/worker"
	"github.com/cuongbtq/sof-extractor/shared/blobstore"
	"github.com/cuongbtq/sof-extractor/shared/logger"
	"github.com/cuongbtq/sof-extractor/shared/postgresql"
	"github.com/cuongbtq/sof-extractor/shared/rabbitmq"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"
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

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}

	// Initialize logger
	appLogger, err := initLogger(&cfg.Logging)
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

	// Blob stores for uploads and result artifacts
	uploads, results, err := initBlobStores(ctx, &cfg.Storage, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}

	// Job store
	jobStore, dbClient, err := initJobStore(ctx, cfg, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize job store: %w", err)
	}
	if dbClient != nil {
		defer dbClient.Close()
	}

	// Job notifications
	notifier, rabbitClient, err := initNotifier(&cfg.RabbitMQ, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize RabbitMQ: %w", err)
	}
	if rabbitClient != nil {
		defer rabbitClient.Close()
	}

	pipelineClient := pipeline.NewClient(&pipeline.Config{
		BaseURL: cfg.Pipeline.BaseURL,
		APIKey:  cfg.Pipeline.APIKey,
		Timeout: cfg.Pipeline.Timeout,
	}, appLogger.Logger)

	processor := worker.NewProcessor(&worker.ProcessorConfig{
		Logger:    appLogger.Logger,
		Store:     jobStore,
		Uploads:   uploads,
		Results:   results,
		Extractor: pipelineClient,
		Notifier:  notifier,
		APIKey:    cfg.Pipeline.APIKey,
	})

	w := worker.NewWorker(&worker.Config{
		Logger:      appLogger.Logger,
		Handler:     processor,
		Concurrency: cfg.Worker.Concurrency,
		QueueSize:   cfg.Worker.QueueSize,
		JobTimeout:  cfg.Worker.JobTimeout,
	})
	w.Start(ctx)

	dispatcher := upload.NewDispatcher(&upload.Config{
		Logger:        appLogger.Logger,
		Store:         jobStore,
		Uploads:       uploads,
		Scheduler:     w,
		MaxFileSize:   cfg.Upload.MaxFileSize,
		MaxBatchFiles: cfg.Upload.MaxBatchFiles,
	})

	deps := &handler.Dependencies{
		Logger:      appLogger.Logger,
		Dispatcher:  dispatcher,
		Store:       jobStore,
		Exporter:    export.NewService(jobStore, results, pipelineClient, appLogger.Logger),
		Laytime:     pipelineClient,
		MaxFileSize: cfg.Upload.MaxFileSize,
	}
	if dbClient != nil {
		deps.Health = dbClient
	}

	// Create HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      initRouter(cfg, deps),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	appLogger.Info("Starting HTTP server",
		slog.String("address", addr),
		slog.Duration("read_timeout", cfg.Server.ReadTimeout),
		slog.Duration("write_timeout", cfg.Server.WriteTimeout),
		slog.Any("cors_origins", cfg.CORS.AllowedOrigins),
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

		var errs []error
		if err := srv.Shutdown(shutdownCtx); err != nil {
			appLogger.Error("Server forced to shutdown", slog.Any("error", err))
			errs = append(errs, err)
		}

		// Drain queued jobs
		stopCtx, cancelStop := context.WithTimeout(context.Background(), cfg.Worker.ShutdownTimeout)
		defer cancelStop()
		if err := w.Stop(stopCtx); err != nil {
			appLogger.Error("Worker stopped before draining the queue", slog.Any("error", err))
			errs = append(errs, err)
		}

		return errors.Join(errs...)
	})

	if err := g.Wait(); err != nil {
		return err
	}

	appLogger.Info("Server shutdown complete")
	return nil
}

// loadConfig reads the file when present, then applies environment overrides
func loadConfig(path string) (*config.Config, error) {
	cfg := config.Default()
	if _, err := os.Stat(path); err == nil {
		if cfg, err = config.Load(path); err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
	} else {
		log.Printf("Config file %s not found, using defaults", path)
	}

	if err := cfg.ApplyEnv(os.Getenv); err != nil {
		return nil, fmt.Errorf("invalid environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// initLogger initializes and configures the application logger
func initLogger(cfg *config.LoggingConfig) (*logger.Logger, error) {
	loggerCfg := &logger.Config{
		Level:        cfg.Level,
		Format:       cfg.Format,
		Output:       cfg.Output,
		File:         cfg.File,
		EnableSource: cfg.EnableCaller,
		TimeFormat:   time.RFC3339,
	}

	return logger.New(loggerCfg)
}

// initBlobStores opens the upload and results stores for the configured backend
func initBlobStores(ctx context.Context, cfg *config.StorageConfig, logger *slog.Logger) (blobstore.Store, blobstore.Store, error) {
	if cfg.Backend == config.BackendS3 {
		open := func(prefix string) (blobstore.Store, error) {
			return blobstore.NewMinIO(ctx, &blobstore.MinIOConfig{
				Endpoint:        cfg.S3.Endpoint,
				AccessKeyID:     cfg.S3.AccessKeyID,
				SecretAccessKey: cfg.S3.SecretAccessKey,
				Bucket:          cfg.S3.Bucket,
				Region:          cfg.S3.Region,
				Prefix:          prefix,
				UseSSL:          cfg.S3.UseSSL,
			}, logger)
		}
		uploads, err := open("uploads")
		if err != nil {
			return nil, nil, err
		}
		results, err := open("results")
		if err != nil {
			return nil, nil, err
		}
		return uploads, results, nil
	}

	uploads, err := blobstore.NewLocal(cfg.UploadDir, logger)
	if err != nil {
		return nil, nil, err
	}
	results, err := blobstore.NewLocal(cfg.ResultsDir, logger)
	if err != nil {
		return nil, nil, err
	}
	return uploads, results, nil
}

// initJobStore returns the configured job store and, for postgres, its client
func initJobStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (store.Store, *postgresql.Client, error) {
	if cfg.JobStore.Backend != config.BackendPostgres {
		return store.NewMemory(logger), nil, nil
	}

	dbClient, err := initPostgreSQL(ctx, &cfg.Database, logger)
	if err != nil {
		return nil, nil, err
	}

	pg := store.NewPostgres(dbClient.GetDB(), logger)
	if err := pg.Migrate(ctx); err != nil {
		dbClient.Close()
		return nil, nil, err
	}

	logger.Info("Database connection established")
	return pg, dbClient, nil
}

// initPostgreSQL initializes the PostgreSQL database client
func initPostgreSQL(ctx context.Context, cfg *config.DatabaseConfig, logger *slog.Logger) (*postgresql.Client, error) {
	dbConfig := &postgresql.Config{
		Host:            cfg.Host,
		Port:            cfg.Port,
		User:            cfg.User,
		Password:        cfg.Password,
		Database:        cfg.Database,
		SSLMode:         cfg.SSLMode,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.ConnMaxIdleTime,
	}

	return postgresql.NewClient(ctx, dbConfig, logger)
}

// initNotifier publishes job events to RabbitMQ when enabled
func initNotifier(cfg *config.RabbitMQConfig, logger *slog.Logger) (notify.Notifier, *rabbitmq.Client, error) {
	if !cfg.Enabled {
		return notify.Nop{}, nil, nil
	}

	rabbitConfig := &rabbitmq.Config{
		Host:               cfg.Host,
		Port:               cfg.Port,
		User:               cfg.User,
		Password:           cfg.Password,
		VHost:              cfg.VHost,
		ExchangeName:       cfg.Exchange.Name,
		ExchangeType:       cfg.Exchange.Type,
		ExchangeDurable:    cfg.Exchange.Durable,
		RoutingKey:         cfg.RoutingKey,
		RetryAttempts:      cfg.Connection.RetryAttempts,
		RetryInterval:      cfg.Connection.RetryInterval,
		Heartbeat:          cfg.Connection.Heartbeat,
		PublishRetries:     cfg.Publish.RetryAttempts,
		PublishRetryDelay:  cfg.Publish.RetryInterval,
		PublishBackoffMult: cfg.Publish.BackoffMultiplier,
	}

	client, err := rabbitmq.NewClient(rabbitConfig, logger)
	if err != nil {
		return nil, nil, err
	}

	logger.Info("RabbitMQ connection established")
	return notify.NewAMQP(client, logger), client, nil
}

// initRouter sets the Gin mode and builds the HTTP handler
func initRouter(cfg *config.Config, deps *handler.Dependencies) http.Handler {
	// Set Gin mode based on environment
	if cfg.App.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	return router.SetupRouter(deps, cfg.CORS.AllowedOrigins)
}
