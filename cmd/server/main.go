package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	sentrygin "github.com/getsentry/sentry-go/gin"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/tendrel/signalforge/internal/api"
	"github.com/tendrel/signalforge/internal/cache"
	"github.com/tendrel/signalforge/internal/config"
	"github.com/tendrel/signalforge/internal/decision"
	"github.com/tendrel/signalforge/internal/evidence"
	"github.com/tendrel/signalforge/internal/learning"
	"github.com/tendrel/signalforge/internal/logging"
	"github.com/tendrel/signalforge/internal/market"
	"github.com/tendrel/signalforge/internal/models"
	"github.com/tendrel/signalforge/internal/observability"
	"github.com/tendrel/signalforge/internal/pubsub"
	"github.com/tendrel/signalforge/internal/risk"
	"github.com/tendrel/signalforge/internal/scheduler"
	"github.com/tendrel/signalforge/internal/store"
)

const serviceVersion = "1.0.0"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Application failed: %v\n", err)
		os.Exit(1)
	}
}

// run wires configuration, persistence, the decision pipeline and the
// HTTP read API, then blocks until a termination signal arrives.
func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	if err := observability.InitSentry(cfg.Sentry, serviceVersion, cfg.Environment); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize Sentry: %v\n", err)
	}
	defer observability.Flush(context.Background())

	stdLogger := logging.NewStandardLogger(cfg.LogLevel, cfg.Environment)
	defer stdLogger.Sync()
	logger := stdLogger.Logger()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	persistence := openStore(ctx, cfg, logger)
	defer func() {
		if err := persistence.Close(); err != nil {
			logger.Error("failed to close store", zap.Error(err))
		}
	}()

	schemaCtx, schemaCancel := context.WithTimeout(ctx, 30*time.Second)
	defer schemaCancel()
	if err := persistence.EnsureSchema(schemaCtx); err != nil {
		return fmt.Errorf("failed to ensure schema: %w", err)
	}

	// Redis is optional: without it, pub/sub and the signal cache
	// degrade to no-ops and the API serves straight from the store.
	var redisClient *redis.Client
	if cfg.Redis.Enabled {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr(),
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
		if err := redisClient.Ping(pingCtx).Err(); err != nil {
			logger.Warn("failed to connect to Redis, continuing without it", zap.Error(err))
			_ = redisClient.Close()
			redisClient = nil
		}
		pingCancel()
	}
	if redisClient != nil {
		defer func() { _ = redisClient.Close() }()
	}

	publisher := pubsub.NewPublisher(redisClient, stdLogger.WithComponent("pubsub"))
	signalCache := cache.NewSignalCache(redisClient, cfg.Trading.MaxSignalsRetained)

	learningCfg := learning.DefaultConfig()
	learningCfg.MinRuleObservations = cfg.Learning.MinRuleObservations
	learningCfg.RuleDecayThreshold = cfg.Learning.RuleDecayThreshold
	learningCfg.AvoidWinRate = cfg.Learning.AvoidWinRate
	learningCfg.AvoidMinTrades = cfg.Learning.AvoidMinTrades

	loop := learning.NewLoop(persistence, learningCfg, stdLogger.WithComponent("learning"))
	restoreCtx, restoreCancel := context.WithTimeout(ctx, 30*time.Second)
	if err := loop.Restore(restoreCtx); err != nil {
		logger.Warn("failed to restore learning state, starting fresh", zap.Error(err))
	}
	restoreCancel()

	marketClient := market.NewClient(market.ClientConfig{
		ServiceURL: cfg.Market.ServiceURL,
		APIKey:     cfg.Market.APIKey,
		Timeout:    cfg.Market.Timeout,
	})
	snapshotter := market.NewSnapshotter(marketClient, market.DefaultSnapshotConfig(),
		stdLogger.WithComponent("market"))

	engine := decision.NewEngine(decision.Config{
		MinScoreGap:      cfg.Trading.MinScoreGap,
		HighVolScoreGap:  cfg.Trading.HighVolScoreGap,
		HighVolThreshold: cfg.Trading.HighVolThreshold,
	}, stdLogger.WithComponent("decision"))

	var multipliers [3]float64
	copy(multipliers[:], cfg.Trading.TakeProfitMultipliers)
	calculator := risk.NewCalculator(risk.Config{TakeProfitMultipliers: multipliers},
		stdLogger.WithComponent("risk"))

	sched := scheduler.New(scheduler.Config{
		Symbols:             cfg.Trading.Symbols,
		DecisionCyclePeriod: cfg.Trading.DecisionCyclePeriod,
		OutcomeCyclePeriod:  cfg.Trading.OutcomeCyclePeriod,
		AggregationPeriod:   cfg.Learning.AggregationPeriod,
		RiskPercentPerTrade: cfg.Trading.RiskPercentPerTrade,
		JitterFraction:      0.1,
	}, scheduler.Deps{
		Providers: []evidence.Provider{
			evidence.NewTechnicalProvider(marketClient, evidence.DefaultTechnicalConfig()),
		},
		Prices:     marketClient,
		Snapshots:  snapshotter,
		Aggregator: evidence.NewAggregator(stdLogger.WithComponent("evidence")),
		Engine:     engine,
		Ladder:     calculator,
		Loop:       loop,
		Store:      persistence,
		Sinks:      []scheduler.SignalSink{publisher, cacheSink{cache: signalCache}},
		Logger:     stdLogger.WithComponent("scheduler"),
	})
	if err := sched.Start(); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}
	defer sched.Stop()

	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Logger())
	if cfg.Sentry.Enabled && cfg.Sentry.DSN != "" {
		router.Use(sentrygin.New(sentrygin.Options{
			Repanic:         true,
			WaitForDelivery: false,
			Timeout:         2 * time.Second,
		}))
	}
	router.Use(gin.Recovery())

	api.SetupRoutes(router, api.Deps{
		Store:       persistence,
		SignalCache: signalCache,
		Loop:        loop,
		Redis:       redisClient,
		Logger:      stdLogger.WithComponent("api"),
		Version:     serviceVersion,
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           router,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       15 * time.Second,
	}

	go func() {
		logger.Info("server listening", zap.Int("port", cfg.Server.Port),
			zap.String("version", serviceVersion))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("failed to start server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutdown signal received")
	sched.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	logger.Info("shutdown complete")
	return nil
}

// openStore picks the configured persistence backend, falling back to
// sqlite and finally to the in-memory store so the service still comes
// up when the database is unreachable.
func openStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) store.PersistenceStore {
	retain := cfg.Trading.MaxSignalsRetained
	driver := strings.ToLower(strings.TrimSpace(cfg.Database.Driver))

	if driver == "postgres" {
		connectCtx, connectCancel := context.WithTimeout(ctx, 30*time.Second)
		defer connectCancel()
		pg, err := store.NewPostgresConnection(connectCtx, &cfg.Database, retain)
		if err == nil {
			logger.Info("using postgres store")
			return pg
		}
		logger.Warn("failed to connect to postgres, falling back to sqlite", zap.Error(err))
		driver = "sqlite"
	}

	if driver == "sqlite" {
		sq, err := store.NewSQLiteStore(cfg.Database.SQLitePath, retain)
		if err == nil {
			logger.Info("using sqlite store", zap.String("path", cfg.Database.SQLitePath))
			return sq
		}
		logger.Warn("failed to open sqlite store, falling back to memory", zap.Error(err))
	}

	logger.Info("using in-memory store")
	return store.NewMemoryStore(retain)
}

// cacheSink adapts the signal cache to the scheduler's sink interface.
type cacheSink struct {
	cache *cache.SignalCache
}

func (s cacheSink) PublishSignal(ctx context.Context, sig models.Signal) error {
	return s.cache.Push(ctx, sig)
}
