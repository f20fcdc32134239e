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

	"github.com/joho/godotenv"
	"github.com/photarium/enrich/internal/api/handler"
	"github.com/photarium/enrich/internal/api/router"
	"github.com/photarium/enrich/internal/config"
	"github.com/photarium/enrich/internal/events"
	"github.com/photarium/enrich/internal/imagestore"
	"github.com/photarium/enrich/internal/pipeline"
	"github.com/photarium/enrich/internal/stage"
	"github.com/photarium/enrich/internal/store"
	"github.com/photarium/enrich/internal/vision"
	"github.com/photarium/enrich/shared/logger"
	"github.com/photarium/enrich/shared/postgresql"
	"github.com/photarium/enrich/shared/rabbitmq"
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

	defaultConfigPath := os.Getenv("ENRICHD_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/enrichd/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	appLogger, err := initLogger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	appLogger.Info("Starting enrichment service",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("environment", cfg.App.Environment),
	)

	// Snapshot sink: optional PostgreSQL
	var sink store.JobStore
	var dbClient *postgresql.Client
	if cfg.Database.Enabled {
		dbClient, err = initPostgreSQL(&cfg.Database, appLogger.Logger)
		if err != nil {
			return fmt.Errorf("failed to initialize database: %w", err)
		}
		defer dbClient.Close()
		sink = store.NewPostgres(dbClient, appLogger.Logger)
		appLogger.Info("Database connection established")
	}

	// Lifecycle events: optional RabbitMQ
	var publisher events.Publisher
	var rabbitClient *rabbitmq.Publisher
	if cfg.RabbitMQ.Enabled {
		rabbitClient, err = initRabbitMQ(&cfg.RabbitMQ, appLogger.Logger)
		if err != nil {
			return fmt.Errorf("failed to initialize RabbitMQ: %w", err)
		}
		defer rabbitClient.Close()
		publisher = events.NewRabbit(rabbitClient, appLogger.Logger)
		appLogger.Info("RabbitMQ connection established")
	}

	images := imagestore.NewFS(cfg.Media.Root)

	classifier, err := initVisionClient(cfg, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize vision client: %w", err)
	}

	detector, err := vision.NewDetector(vision.DetectorConfig{
		BaseURL:       cfg.Faces.BaseURL,
		MinConfidence: cfg.Faces.MinConfidence,
		Timeout:       cfg.Faces.Timeout,
	}, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize face detector: %w", err)
	}

	queue := pipeline.New(
		pipeline.Config{
			Concurrency:    cfg.Pipeline.Concurrency,
			QueueSize:      cfg.Pipeline.QueueSize,
			MaxAttempts:    cfg.Pipeline.MaxAttempts,
			RetryBaseDelay: cfg.Pipeline.RetryBaseDelay,
			RetryMaxDelay:  cfg.Pipeline.RetryMaxDelay,
			StageTimeout:   cfg.Pipeline.StageTimeout,
		},
		[]stage.Processor{
			stage.NewTagging(classifier, images, appLogger.Logger),
			stage.NewFaceDetection(detector, images, appLogger.Logger),
		},
		sink,
		publisher,
		appLogger.Logger,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	queue.Start(ctx)

	srv := &http.Server{
		Addr: fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router.SetupRouter(&handler.Dependencies{
			Logger:   appLogger.Logger,
			Pipeline: queue,
		}),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	errChan := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	appLogger.Info("Enrichment service started",
		slog.Int("port", cfg.Server.Port),
		slog.Int("workers", cfg.Pipeline.Concurrency),
	)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		appLogger.Info("Received signal, shutting down gracefully",
			slog.String("signal", sig.String()),
		)
	case err := <-errChan:
		appLogger.Error("HTTP server error",
			slog.Any("error", err),
		)
		return err
	}

	shutdownTimeout := cfg.Server.ShutdownTimeout
	if shutdownTimeout <= 0 {
		shutdownTimeout = 30 * time.Second
	}
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLogger.Warn("HTTP server shutdown error",
			slog.Any("error", err),
		)
	}

	cancel()

	done := make(chan struct{})
	go func() {
		queue.Stop()
		close(done)
	}()

	select {
	case <-done:
		appLogger.Info("Worker pool stopped gracefully")
	case <-shutdownCtx.Done():
		appLogger.Warn("Worker pool shutdown timeout exceeded, forcing exit")
	}

	appLogger.Info("Enrichment service shutdown complete")
	return nil
}

// initLogger initializes and configures the application logger
func initLogger(cfg *config.LoggingConfig) (*logger.Logger, error) {
	return logger.New(&logger.Config{
		Level:        cfg.Level,
		Format:       cfg.Format,
		Output:       cfg.Output,
		EnableSource: cfg.EnableCaller,
		TimeFormat:   time.RFC3339,
	})
}

// initVisionClient builds the tagging model client, loading the prompt
// template from disk when configured.
func initVisionClient(cfg *config.Config, logger *slog.Logger) (*vision.Client, error) {
	var template string
	if cfg.Vision.PromptTemplatePath != "" {
		data, err := os.ReadFile(cfg.Vision.PromptTemplatePath)
		if err != nil {
			return nil, fmt.Errorf("read prompt template: %w", err)
		}
		template = string(data)
	}

	return vision.NewClient(vision.Config{
		BaseURL:         cfg.Vision.BaseURL,
		Model:           cfg.Vision.Model,
		PromptTemplate:  template,
		Classifications: cfg.Vision.Classifications,
		Timeout:         cfg.Vision.Timeout,
	}, logger)
}

// initPostgreSQL initializes the PostgreSQL database client
func initPostgreSQL(cfg *config.DatabaseConfig, logger *slog.Logger) (*postgresql.Client, error) {
	return postgresql.NewClient(&postgresql.Config{
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
	}, logger)
}

// initRabbitMQ initializes the RabbitMQ lifecycle-event publisher
func initRabbitMQ(cfg *config.RabbitMQConfig, logger *slog.Logger) (*rabbitmq.Publisher, error) {
	return rabbitmq.NewPublisher(&rabbitmq.Config{
		Host:              cfg.Host,
		Port:              cfg.Port,
		User:              cfg.User,
		Password:          cfg.Password,
		VHost:             cfg.VHost,
		ExchangeName:      cfg.Exchange.Name,
		ExchangeType:      cfg.Exchange.Type,
		ExchangeDurable:   cfg.Exchange.Durable,
		QueueName:         cfg.Queue.Name,
		QueueDurable:      cfg.Queue.Durable,
		RoutingKey:        cfg.RoutingKey,
		RetryAttempts:     cfg.Connection.RetryAttempts,
		RetryInterval:     cfg.Connection.RetryInterval,
		Heartbeat:         cfg.Connection.Heartbeat,
		ConnectionTimeout: cfg.Connection.ConnectionTimeout,
	}, logger)
}
