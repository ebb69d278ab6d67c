package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/laityfaye/portfolio-pay/internal/adapter/cache"
	"github.com/laityfaye/portfolio-pay/internal/adapter/handler"
	"github.com/laityfaye/portfolio-pay/internal/adapter/middleware"
	"github.com/laityfaye/portfolio-pay/internal/adapter/storage"
	"github.com/laityfaye/portfolio-pay/internal/app"
	"github.com/laityfaye/portfolio-pay/internal/core/config"
	"github.com/laityfaye/portfolio-pay/internal/core/security"
	"github.com/laityfaye/portfolio-pay/internal/core/worker"
)

func main() {
	// 1. Load Config
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	// 2. Setup Logger
	logger, err := app.NewLogger(cfg)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	if cfg.JWTSecret == "" {
		logger.Fatal("JWT_SECRET is not set")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 3. Connect to Database
	dbPool, err := storage.ConnectDB(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("Database connection failed", zap.Error(err))
	}
	if err := storage.Migrate(ctx, dbPool); err != nil {
		logger.Fatal("Migration failed", zap.Error(err))
	}

	// 4. Core services
	verifier, err := security.NewVerifier(app.Credentials(cfg))
	if err != nil {
		logger.Fatal("IPN verifier misconfigured", zap.Error(err))
	}
	svc, err := app.NewPaymentService(cfg, dbPool, logger)
	if err != nil {
		logger.Fatal("Payment service misconfigured", zap.Error(err))
	}

	var guard handler.DeliveryGuard
	if cfg.RedisAddr != "" {
		rdb, err := cache.ConnectRedis(ctx, cfg.RedisAddr, cfg.RedisPassword)
		if err != nil {
			logger.Warn("Redis unavailable, IPN delivery guard disabled", zap.Error(err))
		} else {
			defer rdb.Close()
			guard = cache.NewDeliveryGuard(rdb, cfg.IPNGuardTTL)
		}
	}

	publisher, closePublisher, err := app.NewPublisher(cfg, logger)
	if err != nil {
		logger.Fatal("Event publisher misconfigured", zap.Error(err))
	}

	// 5. Setup Fiber
	server := fiber.New(fiber.Config{
		DisableStartupMessage: true,
		ReadTimeout:           10 * time.Second,
		WriteTimeout:          30 * time.Second,
	})
	server.Use(cors.New())
	server.Use(middleware.RequestLogger(logger))
	server.Use(middleware.Metrics())
	server.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	// 6. Routes
	handler.Router{
		IPN:         &handler.IPNHandler{Verifier: verifier, Service: svc, Guard: guard, Log: logger},
		Payments:    &handler.PaymentHandler{Service: svc, Log: logger},
		Admin:       &handler.AdminHandler{Service: svc, Log: logger},
		JWTSecret:   cfg.JWTSecret,
		Idempotency: middleware.Idempotency(storage.NewIdempotencyRepository(dbPool), logger),
		DB:          dbPool,
	}.Register(server)

	// 7. Start Worker
	workerCtx, stopWorker := context.WithCancel(context.Background())
	workerDone := worker.NewOutboxWorker(storage.NewOutboxRepository(dbPool), publisher, logger, cfg.OutboxPollInterval).Start(workerCtx)

	go func() {
		logger.Info("Server starting", zap.String("env", cfg.Env), zap.String("port", cfg.Port))
		if err := server.Listen(":" + cfg.Port); err != nil {
			logger.Error("Server forced to shutdown", zap.Error(err))
			stop()
		}
	}()

	// Block until we receive a stop signal
	<-ctx.Done()
	logger.Info("Shutting down server...")

	// Stop accepting requests and finish active ones before closing the pool
	if err := server.ShutdownWithTimeout(15 * time.Second); err != nil {
		logger.Error("Server shutdown failed", zap.Error(err))
	}
	stopWorker()
	<-workerDone

	if err := closePublisher(); err != nil {
		logger.Error("Publisher close failed", zap.Error(err))
	}
	dbPool.Close()
	logger.Info("Server exited")
}
