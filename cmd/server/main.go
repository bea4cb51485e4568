package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/arcade-scores/internal/chain"
	"github.com/arcade-scores/internal/config"
	"github.com/arcade-scores/internal/dedup"
	"github.com/arcade-scores/internal/games"
	"github.com/arcade-scores/internal/handler"
	"github.com/arcade-scores/internal/identity"
	"github.com/arcade-scores/internal/kafka"
	"github.com/arcade-scores/internal/leaderboard"
	"github.com/arcade-scores/internal/postgres"
	"github.com/arcade-scores/internal/redis"
	"github.com/arcade-scores/internal/service"
	"github.com/arcade-scores/internal/store"
	"github.com/arcade-scores/internal/validator"
	"github.com/arcade-scores/internal/websocket"
	"github.com/arcade-scores/internal/worker"
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", "config.yaml", "Path to configuration file")
	flag.Parse()

	// Load configuration; only a missing file falls back to defaults
	cfg, usedDefaults, err := config.LoadOrDefault(*configPath)
	if err != nil {
		slog.Error("invalid configuration", "path", *configPath, "error", err)
		os.Exit(1)
	}

	// Setup structured logging
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.Log.SlogLevel(),
	}))
	slog.SetDefault(logger)
	if usedDefaults {
		logger.Warn("config file not found, using defaults", "path", *configPath)
	}

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	table, err := games.FromConfig(cfg.Games)
	if err != nil {
		logger.Error("invalid game table", "error", err)
		os.Exit(1)
	}
	logger.Info("game table loaded", "games", table.Len())

	scoreStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to open score store", "backend", cfg.Store.Backend, "error", err)
		os.Exit(1)
	}
	defer scoreStore.Close()

	// Ledger client; disabled when no signer is configured
	chainClient, err := chain.NewClient(ctx, &cfg.Chain, logger)
	if err != nil {
		logger.Error("failed to initialize chain client", "error", err)
		os.Exit(1)
	}
	defer chainClient.Close()
	if chainClient.Enabled() {
		logger.Info("chain anchoring enabled",
			"policy", cfg.Chain.Policy,
			"signer", chainClient.Signer().Hex(),
			"contract", cfg.Chain.ContractAddress,
		)
	}

	// Background anchoring for the best-effort policy
	anchorWorker := worker.NewAnchorWorker(chainClient, scoreStore, &cfg.AnchorWorker, logger)
	if err := anchorWorker.Start(ctx); err != nil {
		logger.Error("failed to start anchor worker", "error", err)
		os.Exit(1)
	}

	// Initialize WebSocket hub
	wsHub := websocket.NewHub(logger)
	go wsHub.Run()
	logger.Info("WebSocket hub initialized")

	deps := service.Dependencies{
		Store:       scoreStore,
		Games:       table,
		Validator:   validator.New(table),
		Guard:       dedup.NewGuard(scoreStore, &cfg.Dedup),
		Engine:      leaderboard.NewEngine(scoreStore, table, &cfg.Leaderboard),
		Anchor:      chainClient,
		Queue:       anchorWorker,
		Broadcaster: wsHub,
	}
	if resolver := identity.NewResolver(&cfg.Identity, logger); resolver.Enabled() {
		deps.Resolver = resolver
		logger.Info("username resolution enabled", "base_url", cfg.Identity.BaseURL)
	}
	scoreService := service.NewScoreService(deps, &cfg.Chain, logger)

	// Initialize Kafka consumer for high-load score ingestion
	var kafkaConsumer *kafka.Consumer
	if cfg.Kafka.Enabled {
		logger.Info("initializing Kafka consumer",
			"brokers", cfg.Kafka.Brokers,
			"topic", cfg.Kafka.Topic,
		)
		kafkaConsumer, err = kafka.NewConsumer(&cfg.Kafka, scoreService, logger)
		if err != nil {
			logger.Warn("failed to create Kafka consumer, continuing without Kafka", "error", err)
			kafkaConsumer = nil
		} else if err := kafkaConsumer.Start(); err != nil {
			logger.Warn("failed to start Kafka consumer, continuing without Kafka", "error", err)
			kafkaConsumer = nil
		} else {
			logger.Info("Kafka consumer started successfully")
		}
	}

	httpHandler := handler.NewHandler(scoreService, wsHub, logger)

	// Create HTTP server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      httpHandler.Router(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start server in goroutine
	go func() {
		logger.Info("starting HTTP server", "port", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("HTTP server error", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	// Stop accepting submissions before draining the pipeline behind them
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to shutdown server", "error", err)
	}

	if kafkaConsumer != nil {
		if err := kafkaConsumer.Stop(); err != nil {
			logger.Error("failed to stop Kafka consumer", "error", err)
		}
	}

	if err := anchorWorker.Stop(); err != nil {
		logger.Error("failed to stop anchor worker", "error", err)
	}

	wsHub.Stop()

	logger.Info("server stopped")
}

// openStore connects the configured score store backend
func openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (store.ScoreStore, error) {
	switch cfg.Store.Backend {
	case config.StorePostgres:
		logger.Info("connecting to PostgreSQL", "host", cfg.Postgres.Host, "database", cfg.Postgres.Database)
		pg, err := postgres.NewScoreStore(&cfg.Postgres, logger)
		if err != nil {
			return nil, err
		}
		if err := pg.RunMigrations(ctx); err != nil {
			pg.Close()
			return nil, fmt.Errorf("running migrations: %w", err)
		}
		return pg, nil

	case config.StoreRedis:
		logger.Info("connecting to Redis", "addr", cfg.Redis.Addr)
		rs, err := redis.NewScoreStore(&cfg.Redis, logger)
		if err != nil {
			return nil, err
		}
		return rs, nil

	default:
		logger.Warn("using in-memory score store, scores are lost on restart")
		return store.NewMemory(), nil
	}
}
