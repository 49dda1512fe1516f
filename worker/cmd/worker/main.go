package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"mriscale/jobs"
	"mriscale/storage"
	"mriscale/worker/cache"
	"mriscale/worker/config"
	"mriscale/worker/kafka"
	"mriscale/worker/pipeline"
	"mriscale/worker/pool"
	"mriscale/worker/reporter"
	"mriscale/worker/repository"
	"mriscale/worker/service"
)

const degradationScale = 2

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	if err := godotenv.Load(); err != nil {
		logger.Info("No .env file found, using system environment")
	}

	if err := run(logger); err != nil {
		logger.Fatal("worker failed", zap.Error(err))
	}
}

func run(logger *zap.Logger) error {
	cfg := config.Load()
	logger.Info("Worker service starting",
		zap.Strings("queues", cfg.Queues),
		zap.Int("worker_count", cfg.WorkerCount),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dbPool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer dbPool.Close()

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer redisClient.Close()

	files, err := storage.NewLocalStore(cfg.StorageRoot)
	if err != nil {
		return err
	}

	// The model is loaded exactly once, here, and injected into the
	// inference executor.
	model, err := pipeline.LoadModel(cfg.ModelPath, degradationScale, logger)
	if err != nil {
		return err
	}

	repo := repository.NewPostgresRepo(dbPool)
	statusCache := cache.NewStatusCache(redisClient)
	jobReporter := reporter.NewJobReporter(repo, statusCache, logger)

	executors := pipeline.Registry{
		jobs.TypePreprocess: pipeline.NewPreprocessExecutor(files, pipeline.NewDegrader(degradationScale, logger), logger),
		jobs.TypeInference:  pipeline.NewInferenceExecutor(files, model, logger),
	}
	processor := service.NewProcessor(executors, jobReporter, logger)

	consumer, err := kafka.NewConsumer(cfg.KafkaBrokers, cfg.KafkaGroupID, logger)
	if err != nil {
		return err
	}
	defer consumer.Close()

	workers := pool.NewWorkerPool(cfg.WorkerCount)
	handler := func(ctx context.Context, msg *jobs.DispatchMessage) error {
		// Safe to run async: the pending->processing claim drops any
		// duplicate delivery of the same job.
		workers.Submit(ctx, msg, processor.Process)
		return nil
	}

	logger.Info("worker consuming", zap.Strings("queues", cfg.Queues))
	err = consumer.Consume(ctx, cfg.Queues, handler)

	workers.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	logger.Info("worker shut down gracefully")
	return nil
}
