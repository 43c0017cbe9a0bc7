// Package main provides the worker entry point: the queue consumer that
// runs generations and the sweeper that reconciles abandoned jobs.
package main

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/coloring-service/internal/config"
	"github.com/coloring-service/internal/logging"
	"github.com/coloring-service/internal/models"
	"github.com/coloring-service/internal/queue"
	"github.com/coloring-service/internal/service"
	"github.com/coloring-service/internal/storage"
	"github.com/coloring-service/internal/worker"
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

	creditRepo := storage.NewCreditRepository(postgres)
	jobRepo := storage.NewJobRepository(postgres)
	assetRepo := storage.NewAssetRepository(postgres)

	queueClient, err := queue.NewClient(redis.Client(), &cfg.Queue)
	if err != nil {
		logger.WithError(err).Fatal("Failed to create queue client")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := queueClient.EnsureGroup(ctx); err != nil {
		logger.WithError(err).Fatal("Failed to create consumer group")
	}

	creditService := service.NewCreditService(creditRepo, logger)

	consumer, err := worker.NewConsumer(&worker.ConsumerConfig{
		Queue:        queueClient,
		Jobs:         jobRepo,
		Assets:       assetRepo,
		Refunder:     creditService,
		Processor:    newPlaceholderProcessor(objectStore, cfg.Credits.Model),
		ClaimsPerSec: cfg.Queue.ClaimsPerSec,
		Logger:       logger,
	})
	if err != nil {
		logger.WithError(err).Fatal("Failed to create consumer")
	}

	sweeper, err := worker.NewSweeper(jobRepo, creditService, cfg.Queue.ExpireIn, cfg.Queue.SweepInterval, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to create sweeper")
	}

	if err := consumer.Start(ctx); err != nil {
		logger.WithError(err).Fatal("Failed to start consumer")
	}
	if err := sweeper.Start(ctx); err != nil {
		logger.WithError(err).Fatal("Failed to start sweeper")
	}

	logger.Info("Worker started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down worker...")
	consumer.Stop()
	sweeper.Stop()
	logger.Info("Worker exited")
}

// newPlaceholderProcessor produces flat placeholder artifacts until the
// image engine is wired in. It exercises the full output path: object
// upload, checksum, asset registration.
func newPlaceholderProcessor(store *storage.ObjectStore, model string) worker.Processor {
	return worker.ProcessorFunc(func(ctx context.Context, job *models.Job) ([]worker.Output, error) {
		outputs := make([]worker.Output, 0, len(models.OutputKinds))
		for _, kind := range models.OutputKinds {
			content := []byte(fmt.Sprintf("%s placeholder for job %s (%s)", kind, job.ID, model))
			path := models.ObjectPath(job.UserID, job.ID, fileNameFor(kind))

			if err := store.Upload(ctx, path, bytes.NewReader(content), int64(len(content)), contentTypeFor(kind)); err != nil {
				return nil, fmt.Errorf("failed to upload %s: %w", kind, err)
			}

			sum := sha256.Sum256(content)
			outputs = append(outputs, worker.Output{
				Kind:        kind,
				StoragePath: path,
				SizeBytes:   int64(len(content)),
				SHA256:      hex.EncodeToString(sum[:]),
			})
		}
		return outputs, nil
	})
}

func fileNameFor(kind models.AssetKind) string {
	switch kind {
	case models.AssetPDF:
		return "page.pdf"
	default:
		return string(kind) + ".png"
	}
}

func contentTypeFor(kind models.AssetKind) string {
	switch kind {
	case models.AssetPDF:
		return "application/pdf"
	default:
		return "image/png"
	}
}
