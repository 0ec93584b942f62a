package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/fireshakti/noc-engine/internal/auth"
	"github.com/fireshakti/noc-engine/internal/certificate"
	"github.com/fireshakti/noc-engine/internal/config"
	"github.com/fireshakti/noc-engine/internal/database"
	"github.com/fireshakti/noc-engine/internal/events"
	"github.com/fireshakti/noc-engine/internal/handlers"
	"github.com/fireshakti/noc-engine/internal/ledger"
	"github.com/fireshakti/noc-engine/internal/metrics"
	"github.com/fireshakti/noc-engine/internal/notification"
	"github.com/fireshakti/noc-engine/internal/otp"
	"github.com/fireshakti/noc-engine/internal/scheduler"
	"github.com/fireshakti/noc-engine/internal/workflow"
)

const (
	serviceName = "noc-engine"
	version     = "1.0.0"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Setup logging
	logger := setupLogging(cfg)
	logger.Info("Starting NOC Engine Service",
		"service", serviceName,
		"version", version,
		"environment", cfg.Environment)

	// Setup database connection
	db, err := database.Connect(cfg.Database)
	if err != nil {
		logger.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := db.Close(); err != nil {
			logger.Error("Failed to close database connection", "error", err)
		}
	}()

	// Run database migrations
	if err := database.RunMigrations(cfg.Database); err != nil {
		logger.Error("Failed to run database migrations", "error", err)
		os.Exit(1)
	}

	// Setup repositories
	applicationRepo := database.NewApplicationRepository(db, logger)
	inspectionRepo := database.NewInspectionRepository(db, logger)
	certificateRepo := database.NewCertificateRepository(db, logger)
	notificationRepo := database.NewNotificationRepository(db, logger)

	// Setup the anchoring ledger. A persistence failure is degraded but not
	// fatal; the chain is usable in memory and appends retry the write.
	chain := ledger.New(cfg.Ledger, logger)
	if err := chain.Initialize(); err != nil {
		if !errors.Is(err, ledger.ErrPersistFailed) {
			logger.Error("Failed to initialize ledger", "error", err)
			os.Exit(1)
		}
		logger.Warn("Ledger persistence degraded at startup, continuing with in-memory chain", "error", err)
	}

	// Setup notification manager
	notifier := notification.NewManager(cfg.Notifications, logger, notificationRepo)

	// Setup event publisher
	var publisher workflow.EventPublisher
	var kafkaPublisher *events.Publisher
	if cfg.Kafka.Enabled {
		kafkaPublisher = events.NewPublisher(cfg.Kafka, logger)
		publisher = kafkaPublisher
		defer func() {
			if err := kafkaPublisher.Close(); err != nil {
				logger.Error("Failed to close event publisher", "error", err)
			}
		}()
	}

	// Setup OTP store and authenticator
	var otpStore otp.Store
	if cfg.Redis.Enabled {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port),
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize,
		})
		if err := redisClient.Ping(context.Background()).Err(); err != nil {
			logger.Error("Failed to connect to Redis", "error", err)
			os.Exit(1)
		}
		defer redisClient.Close()
		otpStore = otp.NewRedisStore(redisClient)
	} else {
		otpStore = otp.NewMemoryStore()
	}
	authenticator := otp.NewAuthenticator(otpStore, logger)

	// Setup metrics collector
	collector := metrics.NewCollector()
	chain.SetRecorder(collector)
	notifier.SetMetrics(collector)

	// Setup workflow engine and certificate issuer. The issuer uses the same
	// stores as the engine, so it is built second and wired in afterwards.
	engine := workflow.NewEngine(applicationRepo, inspectionRepo, nil, notifier, publisher, collector, logger)
	issuer := certificate.NewIssuer(cfg.Certificates, applicationRepo, certificateRepo, chain, notifier, publisher, logger)
	issuer.SetMetrics(collector)
	engine.SetIssuer(issuer)

	// Setup auth service
	authSvc := auth.NewService(cfg.Security, cfg.OTP, authenticator, notifier, logger)
	authSvc.SetMetrics(collector)

	// Setup scheduler for periodic tasks
	taskScheduler := scheduler.New(cfg.Scheduler, logger, authenticator, chain, issuer, notifier)
	if err := taskScheduler.Start(); err != nil {
		logger.Error("Failed to start scheduler", "error", err)
		os.Exit(1)
	}

	// Setup HTTP handlers
	httpHandlers := handlers.NewHTTPHandler(engine, issuer, chain, authSvc, logger)

	// Setup HTTP router
	httpRouter := mux.NewRouter()
	httpRouter.Use(handlers.LoggingMiddleware(logger))
	httpRouter.Use(handlers.MetricsMiddleware(collector))
	httpHandlers.RegisterRoutes(httpRouter)

	// Add Prometheus metrics endpoint
	httpRouter.Handle("/metrics", promhttp.Handler())

	// Setup HTTP server
	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.HTTPPort),
		Handler:      httpRouter,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup

	// Start HTTP server
	wg.Add(1)
	go func() {
		defer wg.Done()
		logger.Info("Starting HTTP server", "port", cfg.Server.HTTPPort)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("HTTP server failed", "error", err)
			cancel()
		}
	}()

	// Setup graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		logger.Info("Received shutdown signal", "signal", sig)
	case <-ctx.Done():
		logger.Info("Context cancelled, shutting down")
	}

	logger.Info("Shutting down services...")

	taskScheduler.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("Failed to shutdown HTTP server gracefully", "error", err)
	}

	cancel()
	wg.Wait()

	logger.Info("Service shutdown complete")
}

// setupLogging configures structured logging
func setupLogging(cfg *config.Config) *slog.Logger {
	logLevel := slog.LevelInfo
	if cfg.Debug {
		logLevel = slog.LevelDebug
	}

	handlerOptions := &slog.HandlerOptions{
		Level:     logLevel,
		AddSource: cfg.Debug,
	}

	var handler slog.Handler
	if cfg.Logging.Format == "json" || cfg.Environment == "production" {
		handler = slog.NewJSONHandler(os.Stdout, handlerOptions)
	} else {
		handler = slog.NewTextHandler(os.Stdout, handlerOptions)
	}

	logger := slog.New(handler)
	logger = logger.With(
		"service", serviceName,
		"environment", cfg.Environment,
	)

	slog.SetDefault(logger)
	return logger
}
