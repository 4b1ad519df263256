package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/Aidin1998/pincex_orderexec/internal/config"
	"github.com/Aidin1998/pincex_orderexec/internal/database"
	"github.com/Aidin1998/pincex_orderexec/internal/marketdata"
	"github.com/Aidin1998/pincex_orderexec/internal/server"
	"github.com/Aidin1998/pincex_orderexec/internal/telemetry"
	"github.com/Aidin1998/pincex_orderexec/internal/trading/execution"
	"github.com/Aidin1998/pincex_orderexec/internal/trading/lifecycle"
	"github.com/Aidin1998/pincex_orderexec/internal/trading/messaging"
	"github.com/Aidin1998/pincex_orderexec/internal/trading/model"
	"github.com/Aidin1998/pincex_orderexec/internal/trading/repository"
	"github.com/Aidin1998/pincex_orderexec/pkg/logger"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	zapLogger, err := logger.NewLogger(cfg.Log.Level)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer zapLogger.Sync()

	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Setup(ctx, cfg.Tracing)
	if err != nil {
		zapLogger.Fatal("Failed to set up tracing", zap.Error(err))
	}

	db, err := database.NewDB(cfg.Database, zapLogger)
	if err != nil {
		zapLogger.Fatal("Failed to connect to database", zap.Error(err))
	}
	go database.ReportPoolStats(ctx, db, cfg.Database.Driver, 30*time.Second)

	var redisClient *redis.Client
	if cfg.Redis.Enabled {
		redisClient, err = database.NewRedisClient(ctx, cfg.Redis)
		if err != nil {
			zapLogger.Fatal("Failed to connect to Redis", zap.Error(err))
		}
	}

	var repoOpts []repository.Option
	if redisClient != nil {
		repoOpts = append(repoOpts, repository.WithCache(redisClient, cfg.Redis.CacheTTL))
	}
	repo := repository.NewGormRepository(db, zapLogger, repoOpts...)
	if cfg.Database.AutoMigrate {
		if err := repo.Migrate(); err != nil {
			zapLogger.Fatal("Failed to migrate order storage", zap.Error(err))
		}
	}

	quotes, err := newQuoteSource(cfg.Quotes, redisClient)
	if err != nil {
		zapLogger.Fatal("Failed to create quote source", zap.Error(err))
	}

	var (
		closers      []func() error
		healthChecks = map[string]server.HealthCheck{
			"database": func(ctx context.Context) error {
				sqlDB, err := db.DB()
				if err != nil {
					return err
				}
				return sqlDB.PingContext(ctx)
			},
		}
	)
	if redisClient != nil {
		healthChecks["redis"] = func(ctx context.Context) error { return redisClient.Ping(ctx).Err() }
	}

	lifecycleOpts := []lifecycle.Option{
		lifecycle.WithValidator(lifecycle.NewBasicOrderValidator(zapLogger)),
		lifecycle.WithValidator(lifecycle.NewSymbolValidator(cfg.Lifecycle.Symbols, zapLogger)),
	}
	if cfg.Kafka.Enabled {
		client := messaging.NewKafkaClient(cfg.Kafka.Brokers, cfg.Kafka.TransitionTopic, cfg.Kafka.Group, kafkaClientConfig(cfg.Kafka), zapLogger)
		closers = append(closers, client.Close)
		healthChecks["kafka_transitions"] = client.IsHealthy
		lifecycleOpts = append(lifecycleOpts, lifecycle.WithEventBus(messaging.NewTransitionPublisher(client)))
	}
	lifecycleMgr := lifecycle.NewManager(zapLogger, lifecycleOpts...)

	var executor model.Executor
	switch cfg.Executor.Kind {
	case "kafka":
		client := messaging.NewKafkaClient(cfg.Kafka.Brokers, cfg.Executor.Topic, cfg.Kafka.Group, kafkaClientConfig(cfg.Kafka), zapLogger)
		closers = append(closers, client.Close)
		healthChecks["kafka_executor"] = client.IsHealthy
		executor = messaging.NewOrderPublisher(client)
	default:
		executor = execution.NewPaperExecutor(lifecycleMgr, decimal.NewFromFloat(cfg.Executor.FeeRate), zapLogger)
	}

	engine := execution.NewEngine(zapLogger, repo, quotes,
		execution.WithConfig(execution.Config{
			SweepInterval: cfg.Engine.SweepInterval,
			ErrorBackoff:  cfg.Engine.ErrorBackoff,
			QuoteTimeout:  cfg.Engine.QuoteTimeout,
			MaxConditions: cfg.Engine.MaxConditions,
		}),
		execution.WithLifecycle(lifecycleMgr),
		execution.WithExecutor(executor),
	)
	engine.TrackTerminations(lifecycleMgr)

	if err := engine.Start(ctx); err != nil {
		zapLogger.Fatal("Failed to start execution engine", zap.Error(err))
	}

	go runCleanup(ctx, lifecycleMgr, cfg.Lifecycle, zapLogger)

	api := server.NewServer(zapLogger, cfg.Server, cfg.Tracing.ServiceName, engine, lifecycleMgr, repo)
	for name, check := range healthChecks {
		api.AddHealthCheck(name, check)
	}
	httpServer := api.HTTPServer()
	go func() {
		zapLogger.Info("Starting API server", zap.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zapLogger.Error("API server failed", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	zapLogger.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		zapLogger.Error("Failed to shut down API server", zap.Error(err))
	}
	if err := engine.Stop(); err != nil {
		zapLogger.Error("Failed to stop execution engine", zap.Error(err))
	}
	for _, closeFn := range closers {
		if err := closeFn(); err != nil {
			zapLogger.Error("Failed to close Kafka client", zap.Error(err))
		}
	}
	if redisClient != nil {
		if err := redisClient.Close(); err != nil {
			zapLogger.Error("Failed to close Redis client", zap.Error(err))
		}
	}
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.Close()
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		zapLogger.Error("Failed to flush traces", zap.Error(err))
	}

	zapLogger.Info("Shutdown complete")
}

func newQuoteSource(cfg config.QuotesConfig, client *redis.Client) (model.QuoteSource, error) {
	if cfg.Source == "redis" {
		return marketdata.NewRedisQuoteSource(client, cfg.KeyPrefix), nil
	}
	return marketdata.NewStaticQuoteSource(cfg.Static)
}

func kafkaClientConfig(cfg config.KafkaConfig) *messaging.KafkaClientConfig {
	kc := messaging.DefaultKafkaClientConfig()
	if cfg.Compression != "" {
		kc.Compression = cfg.Compression
	}
	return kc
}

// runCleanup archives terminal orders past retention on every interval.
func runCleanup(ctx context.Context, m *lifecycle.Manager, cfg config.LifecycleConfig, zapLogger *zap.Logger) {
	ticker := time.NewTicker(cfg.CleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := m.CleanupCompletedOrders(cfg.Retention); n > 0 {
				zapLogger.Info("Cleaned up completed orders", zap.Int("count", n))
			}
		}
	}
}
