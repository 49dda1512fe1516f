package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"mriscale/api"
	"mriscale/api/cache"
	"mriscale/api/config"
	"mriscale/api/database"
	"mriscale/api/handlers"
	"mriscale/api/kafka"
	"mriscale/api/repository"
	"mriscale/api/service"
	"mriscale/storage"
)

const shutdownTimeout = 30 * time.Second

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	if err := godotenv.Load(); err != nil {
		logger.Info("No .env file found, using system environment")
	}

	if err := run(logger); err != nil {
		logger.Fatal("server failed", zap.Error(err))
	}
}

func run(logger *zap.Logger) error {
	cfg := config.Load()
	logger.Info("API service starting",
		zap.String("port", cfg.Port),
		zap.String("env", cfg.Env),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := database.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer pool.Close()

	if err := database.RunMigrations(cfg.DatabaseURL, cfg.MigrationsDir); err != nil {
		return err
	}
	logger.Info("database migrations applied")

	redisCache, err := database.ConnectCache(cfg.RedisAddr)
	if err != nil {
		return err
	}
	defer redisCache.Close()

	dispatcher, err := kafka.NewDispatcher(cfg.KafkaBrokers)
	if err != nil {
		return err
	}
	defer dispatcher.Close()

	files, err := storage.NewLocalStore(cfg.StorageRoot)
	if err != nil {
		return err
	}

	repo := repository.NewPostgresRepo(pool)
	statusCache := cache.NewStatusCache(redisCache)
	jobService := service.NewJobService(repo, statusCache, dispatcher, files, logger)
	handler := handlers.NewJobHandler(jobService, files, logger, cfg.MaxFileSize)

	router := api.NewRouter(handler, handlers.Health(repo, redisCache), logger)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		logger.Info("shutdown signal received, draining connections")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}

	logger.Info("server stopped gracefully")
	return nil
}
