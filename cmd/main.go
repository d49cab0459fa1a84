package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/akylbek/payment-system/fraud-engine/internal/api"
	"github.com/akylbek/payment-system/fraud-engine/internal/config"
	"github.com/akylbek/payment-system/fraud-engine/internal/events"
	"github.com/akylbek/payment-system/fraud-engine/internal/interfaces"
	"github.com/akylbek/payment-system/fraud-engine/internal/locker"
	"github.com/akylbek/payment-system/fraud-engine/internal/repository"
	"github.com/akylbek/payment-system/fraud-engine/internal/service"
	"github.com/akylbek/payment-system/fraud-engine/internal/telemetry"
)

const (
	version        = "1.0.0"
	redisLockTTL   = 30 * time.Second
	shutdownWindow = 10 * time.Second
)

type stores struct {
	transactions interfaces.TransactionRepository
	profiles     interfaces.ProfileRepository
	alerts       interfaces.AlertRepository
	close        func()
}

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize telemetry
	if err := telemetry.InitTelemetry(telemetry.Options{
		ServiceName:    api.ServiceName,
		Version:        version,
		LogLevel:       cfg.LogLevel,
		JaegerEndpoint: cfg.JaegerEndpoint,
	}); err != nil {
		panic(fmt.Sprintf("Failed to initialize telemetry: %v", err))
	}
	defer telemetry.Shutdown(context.Background())

	logger := telemetry.Logger
	logger.Info("Starting Fraud Engine", zap.String("env", cfg.Env))

	st, err := openStores(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize storage", zap.Error(err))
	}
	defer st.close()

	customerLocker, closeLocker := newLocker(cfg, logger)
	defer closeLocker()

	// Connect to NATS for live alert notifications
	var notifier interfaces.AlertNotifier
	if cfg.NATSURL != "" {
		nc, err := nats.Connect(cfg.NATSURL, nats.Name(api.ServiceName))
		if err != nil {
			logger.Fatal("Failed to connect to NATS", zap.Error(err))
		}
		defer nc.Close()
		notifier = events.NewNATSNotifier(nc, cfg.NATSAlertSubject)
	}

	alerts := service.NewAlertEmitter(st.alerts, notifier, logger)
	orchestrator := service.NewOrchestrator(
		st.transactions,
		st.profiles,
		customerLocker,
		alerts,
		cfg.Fraud(),
		cfg.Orchestration(),
		logger,
	)

	// Connect to Kafka
	if cfg.KafkaBrokers != "" {
		publisher := events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
		defer publisher.Close()
		orchestrator.WithPublisher(publisher)
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           api.NewRouter(orchestrator, alerts),
		ReadHeaderTimeout: 5 * time.Second,
	}

	grpcServer, healthServer := api.NewGRPCServer()
	lis, err := net.Listen("tcp", ":"+cfg.GRPCPort)
	if err != nil {
		logger.Fatal("Failed to listen for gRPC", zap.String("port", cfg.GRPCPort), zap.Error(err))
	}

	go func() {
		logger.Info("gRPC health server starting", zap.String("port", cfg.GRPCPort))
		if err := grpcServer.Serve(lis); err != nil {
			logger.Error("gRPC server stopped", zap.Error(err))
		}
	}()

	// Start server in goroutine
	go func() {
		logger.Info("Fraud Engine starting", zap.String("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	// Wait for interrupt signal for graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	healthServer.SetServingStatus(api.ServiceName, healthpb.HealthCheckResponse_NOT_SERVING)

	ctx, cancel := context.WithTimeout(context.Background(), shutdownWindow)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}
	grpcServer.GracefulStop()

	logger.Info("Server exited")
}

// openStores connects to Postgres and applies migrations, or falls back to
// in-memory stores when no database is configured.
func openStores(cfg *config.Config, logger *zap.Logger) (*stores, error) {
	if cfg.DatabaseURL == "" {
		logger.Warn("DATABASE_URL not set, using in-memory stores")
		mem := repository.NewMemoryStore()
		return &stores{transactions: mem, profiles: mem, alerts: mem, close: func() {}}, nil
	}

	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := repository.Migrate(ctx, db, "up"); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &stores{
		transactions: repository.NewTransactionRepository(db),
		profiles:     repository.NewCustomerRepository(db),
		alerts:       repository.NewAlertRepository(db),
		close:        func() { _ = db.Close() },
	}, nil
}

func newLocker(cfg *config.Config, logger *zap.Logger) (interfaces.CustomerLocker, func()) {
	if cfg.RedisURL == "" {
		return locker.NewShardedLocker(), func() {}
	}

	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		// bare host:port
		opts = &redis.Options{Addr: cfg.RedisURL}
	}
	client := redis.NewClient(opts)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Fatal("Failed to connect to Redis", zap.Error(err))
	}
	return locker.NewRedisLocker(client, redisLockTTL, logger), func() { _ = client.Close() }
}
