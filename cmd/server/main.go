package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/jackc/pgx/v5/stdlib"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/tardoc-pauschale-server/internal/api"
	"github.com/tardoc-pauschale-server/internal/catalog"
	"github.com/tardoc-pauschale-server/internal/conditions"
	"github.com/tardoc-pauschale-server/internal/config"
	"github.com/tardoc-pauschale-server/internal/database"
	"github.com/tardoc-pauschale-server/internal/feedback"
	"github.com/tardoc-pauschale-server/internal/llm"
	"github.com/tardoc-pauschale-server/internal/pauschale"
	"github.com/tardoc-pauschale-server/internal/retrieval"
	"github.com/tardoc-pauschale-server/internal/rules"
	"github.com/tardoc-pauschale-server/internal/service"
	"github.com/tardoc-pauschale-server/internal/stage1"
	"github.com/tardoc-pauschale-server/internal/stage2"
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

	logger := newLogger(cfg)
	logger.WithFields(logrus.Fields{
		"host":    cfg.Server.Host,
		"port":    cfg.Server.Port,
		"version": cfg.Version,
	}).Info("Starting tariff decision server")

	store, err := catalog.Load(cfg.Data.Dir, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to load tariff catalogues")
	}

	caps, err := config.NewCapabilityStore(filepath.Join(cfg.Data.Dir, "config.runtime.ini"), logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to load runtime capability flags")
	}

	var cache *redis.Client
	if cfg.Cache.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.Cache.RedisURL)
		if err != nil {
			logger.WithError(err).Fatal("Invalid redis URL")
		}
		cache = redis.NewClient(opts)
		logger.WithField("addr", opts.Addr).Info("LLM response cache enabled")
	}

	gateway := llm.NewGateway(cfg, caps, cache, logger)
	ranker := retrieval.NewRanker(store, cfg.Retrieval.TopN, cfg.Retrieval.VectorWeight, nil, logger)
	identifier := stage1.NewIdentifier(gateway, store, ranker, cfg.LLM.Stage1, logger)
	mapper := stage2.NewMapper(gateway, store, cfg.LLM.Stage2, logger)
	ruleEngine := rules.NewEngine(store, cfg.Features.KumulationExplizit, logger)
	evaluator := conditions.NewEvaluator(store, cfg.Features.ConditionsStrict, logger)
	selector := pauschale.NewSelector(store, evaluator, logger)

	engine := service.NewEngine(cfg, store, identifier, mapper, ruleEngine, selector, logger)

	runner, err := service.NewBaselineRunner(engine, cfg.Data.BaselinePath, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to load baseline examples")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	feedbackStore, cleanup, err := openFeedbackStore(ctx, cfg, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to open feedback store")
	}
	defer cleanup()
	notifier := feedback.NewGitHubNotifier(cfg.Feedback.GitHubRepo, cfg.Feedback.GitHubToken, logger)

	var apiNotifier api.Notifier
	if notifier != nil {
		apiNotifier = notifier
	}
	server := api.NewServer(cfg, engine, runner, store, feedbackStore, apiNotifier, logger)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		logger.Info("Shutdown signal received, gracefully shutting down")
		cancel()
	}()

	if err := server.Start(ctx); err != nil {
		logger.WithError(err).Fatal("Server failed")
	}
	logger.Info("Server stopped")
}

func newLogger(cfg *config.Config) *logrus.Logger {
	logger := logrus.New()
	level, err := logrus.ParseLevel(strings.ToLower(cfg.Logging.Level))
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)
	if cfg.Logging.Format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return logger
}

// openFeedbackStore picks the configured backend. Postgres runs the schema
// migrations first and serves the store over the shared pgx pool; sqlite
// bootstraps its own schema.
func openFeedbackStore(ctx context.Context, cfg *config.Config, logger *logrus.Logger) (feedback.Store, func(), error) {
	if cfg.Feedback.Backend != "postgres" {
		store, err := feedback.NewSQLiteStore(cfg.Feedback.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		return store, func() { store.Close() }, nil
	}

	runner, err := database.NewMigrationRunner(cfg.Feedback.DatabaseURL, "migrations", logger)
	if err != nil {
		return nil, nil, err
	}
	defer runner.Close()
	if err := runner.Up(); err != nil {
		return nil, nil, err
	}

	db, err := database.NewConnection(ctx, cfg.Feedback.DatabaseURL, logger)
	if err != nil {
		return nil, nil, err
	}
	store, err := feedback.NewPostgresStore(stdlib.OpenDBFromPool(db.Pool))
	if err != nil {
		db.Close()
		return nil, nil, err
	}
	return store, func() {
		store.Close()
		db.Close()
	}, nil
}
