package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/hai-surveillance-server/internal/api"
	"github.com/hai-surveillance-server/internal/config"
	"github.com/hai-surveillance-server/internal/database"
	"github.com/hai-surveillance-server/internal/detector"
	"github.com/hai-surveillance-server/internal/domain"
	"github.com/hai-surveillance-server/internal/extract"
	"github.com/hai-surveillance-server/internal/ingest"
	"github.com/hai-surveillance-server/internal/pipeline"
	"github.com/hai-surveillance-server/internal/repository"
	"github.com/hai-surveillance-server/internal/review"
	"github.com/hai-surveillance-server/internal/rules"
	"github.com/hai-surveillance-server/internal/store"
	"github.com/hai-surveillance-server/internal/training"
	"github.com/hai-surveillance-server/pkg/inference"
)

func main() {
	configManager, err := config.NewManager()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if err := configManager.Validate(); err != nil {
		log.Fatalf("Configuration validation failed: %v", err)
	}
	cfg := configManager.GetConfig()

	logger := buildLogger(cfg.Logging)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Info("Shutdown signal received, gracefully shutting down")
		cancel()
	}()

	dataStore, closeStore, err := buildStore(ctx, configManager, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize data store")
	}
	defer closeStore()

	trainingStore, err := buildTrainingStore(&cfg.Training)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize training store")
	}
	defer trainingStore.Close()

	backend, closeBackend, err := buildBackend(cfg, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize inference backend")
	}
	defer closeBackend()

	det, err := detector.New(logger, dataStore)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize detector")
	}

	extractor := extract.New(logger, backend, extract.Config{
		TriageModel:      cfg.Inference.TriageModel,
		FullModel:        cfg.Inference.FullModel,
		TriageTimeout:    cfg.Inference.TriageTimeout,
		FullTimeout:      cfg.Inference.FullTimeout,
		TriageNoteBudget: cfg.Inference.TriageNoteBudget,
	})
	engine := rules.NewEngine(logger)
	manager := review.NewManager(logger, dataStore)

	source := ingest.NewSource()
	collector := training.NewCollector(logger, trainingStore, dataStore, source)
	manager.Subscribe(collector.OnTransition)

	hub := api.NewHub(logger)
	manager.Subscribe(hub.WorkflowListener())

	policy := extract.DefaultEscalationPolicy()
	policy.ConfidenceThreshold = cfg.Pipeline.ConfidenceThreshold

	p := pipeline.New(logger, dataStore, source, det, extractor, engine, manager, policy, pipeline.Config{
		Concurrency:     cfg.Pipeline.Concurrency,
		FullConcurrency: cfg.Pipeline.FullConcurrency,
	})

	server := api.NewServer(logger, dataStore, manager, hub, &cfg.Server)
	server.AttachIngest(source, p)

	logger.WithFields(logrus.Fields{
		"host": cfg.Server.Host,
		"port": cfg.Server.Port,
	}).Info("Starting HAI surveillance server")

	if err := server.Start(ctx); err != nil {
		logger.WithError(err).Fatal("Server failed")
	}

	// Let in-flight training collection drain before closing stores.
	collector.Wait()
	logger.Info("Server stopped")
}

func buildLogger(cfg domain.LoggingConfig) *logrus.Logger {
	logger := logrus.New()

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	if cfg.Format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	if cfg.Output == "stderr" {
		logger.SetOutput(os.Stderr)
	} else {
		logger.SetOutput(os.Stdout)
	}
	return logger
}

// buildStore connects to PostgreSQL and runs migrations. An empty database
// host selects the in-memory store for single-node evaluation setups.
func buildStore(ctx context.Context, configManager *config.Manager, logger *logrus.Logger) (domain.Store, func(), error) {
	dbCfg := configManager.GetDatabaseConfig()
	if dbCfg.Host == "" {
		logger.Warn("No database configured, using in-memory store")
		return store.NewMemory(), func() {}, nil
	}

	db, err := database.NewConnection(ctx, dbCfg, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("connecting to database: %w", err)
	}

	databaseURL := fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		dbCfg.Username, dbCfg.Password, dbCfg.Host, dbCfg.Port, dbCfg.Database, dbCfg.SSLMode)
	runner, err := database.NewMigrationRunner(databaseURL, "migrations", logger)
	if err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("creating migration runner: %w", err)
	}
	if err := runner.Up(); err != nil {
		runner.Close()
		db.Close()
		return nil, nil, fmt.Errorf("running migrations: %w", err)
	}
	runner.Close()

	return repository.NewStore(db.Pool, logger), db.Close, nil
}

func buildTrainingStore(cfg *domain.TrainingConfig) (training.Store, error) {
	switch cfg.Driver {
	case "postgres":
		return training.NewPostgresStore(cfg.DSN)
	default:
		return training.NewSQLiteStore(cfg.Path)
	}
}

// buildBackend wires the inference client, wrapped in the Redis response
// cache when enabled
func buildBackend(cfg *domain.Config, logger *logrus.Logger) (inference.Backend, func(), error) {
	client := inference.NewClient(inference.ClientConfig{
		BaseURL: cfg.Inference.BaseURL,
		Timeout: cfg.Inference.Timeout,
	})

	if !cfg.Cache.Enabled {
		return client, func() {}, nil
	}

	cached, err := inference.NewCachedBackend(client, inference.CacheConfig{
		RedisURL:   cfg.Cache.RedisURL,
		PoolSize:   cfg.Cache.PoolSize,
		DefaultTTL: cfg.Cache.DefaultTTL,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("initializing response cache: %w", err)
	}
	logger.WithField("ttl", cfg.Cache.DefaultTTL).Info("Inference response cache enabled")

	return cached, func() { cached.Close() }, nil
}
