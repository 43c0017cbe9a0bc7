// Package main provides the API server entry point for the coloring page
// service.
package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coloring-service/internal/api"
	"github.com/coloring-service/internal/config"
	"github.com/coloring-service/internal/logging"
	"github.com/coloring-service/internal/queue"
	"github.com/coloring-service/internal/ratelimit"
	"github.com/coloring-service/internal/service"
	"github.com/coloring-service/internal/storage"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logging.InitGlobalLogger(
		logging.ParseLogLevel(cfg.Logging.Level),
		logging.ParseLogFormat(cfg.Logging.Format),
	)
	logger := logging.GetGlobalLogger()

	logger.Info("Connecting to databases...")

	postgres, err := storage.NewPostgresDB(&cfg.Database.Postgres)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to Postgres")
	}
	defer postgres.Close()

	redis, err := storage.NewRedisClient(&cfg.Database.Redis)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to Redis")
	}
	defer redis.Close()

	objectStore, err := storage.NewObjectStore(&cfg.Storage)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to object store")
	}

	logger.Info("Connections established")

	creditRepo := storage.NewCreditRepository(postgres)
	jobRepo := storage.NewJobRepository(postgres)
	assetRepo := storage.NewAssetRepository(postgres)
	uploadRepo := storage.NewUploadRepository(postgres)

	queueClient, err := queue.NewClient(redis.Client(), &cfg.Queue)
	if err != nil {
		logger.WithError(err).Fatal("Failed to create queue client")
	}
	ctx := context.Background()
	if err := queueClient.EnsureGroup(ctx); err != nil {
		logger.WithError(err).Fatal("Failed to create consumer group")
	}

	generateLimiter, err := ratelimit.NewLimiter(&ratelimit.Config{
		Redis:       redis.Client(),
		KeyPrefix:   "generate",
		MaxRequests: cfg.RateLimit.Generate.MaxRequests,
		Window:      cfg.RateLimit.Generate.Window,
		Logger:      logger,
	})
	if err != nil {
		logger.WithError(err).Fatal("Failed to create rate limiter")
	}

	uploadLimiter, err := ratelimit.NewLimiter(&ratelimit.Config{
		Redis:       redis.Client(),
		KeyPrefix:   "upload",
		MaxRequests: cfg.RateLimit.Upload.MaxRequests,
		Window:      cfg.RateLimit.Upload.Window,
		Logger:      logger,
	})
	if err != nil {
		logger.WithError(err).Fatal("Failed to create upload rate limiter")
	}

	creditService := service.NewCreditService(creditRepo, logger)
	generationService := service.NewGenerationService(jobRepo, creditRepo, queueClient, creditService, uploadRepo, &cfg.Credits, logger)
	statusService := service.NewStatusService(jobRepo, assetRepo, objectStore, cfg.Credits.URLTTL, logger)
	chainService := service.NewChainService(jobRepo, statusService, cfg.Credits.MaxEdits)
	uploadService := service.NewUploadService(uploadRepo, objectStore, logger)

	serverConfig := &api.ServerConfig{
		Host:            cfg.Server.Host,
		Port:            cfg.Server.Port,
		ReadTimeout:     15 * time.Second,
		WriteTimeout:    15 * time.Second,
		IdleTimeout:     60 * time.Second,
		ShutdownTimeout: 10 * time.Second,
		JWTSecret:       cfg.Auth.JWTSecret,
	}

	server := api.NewServer(
		serverConfig,
		generationService,
		statusService,
		chainService,
		creditService,
		uploadService,
		generateLimiter,
		uploadLimiter,
		postgres,
		redis,
		logger,
	)

	go func() {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Fatal("Server failed to start")
		}
	}()

	logger.WithFields(map[string]interface{}{
		"host": cfg.Server.Host,
		"port": cfg.Server.Port,
	}).Info("Server started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), serverConfig.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Fatal("Server forced to shutdown")
	}

	logger.Info("Server exited")
}
