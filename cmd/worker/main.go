package main

import (
	"log"
	"strings"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/tunegrab/api/internal/client"
	"github.com/tunegrab/api/internal/config"
	"github.com/tunegrab/api/internal/service"
	"github.com/tunegrab/api/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := newLogger(cfg.Server.Env)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	redisOpt := asynq.RedisClientOpt{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	asynqClient := asynq.NewClient(redisOpt)
	defer asynqClient.Close()

	// Storage is mandatory for the worker: every job ends in an upload.
	r2Client, err := client.NewR2Client(&cfg.R2)
	if err != nil {
		logger.Fatal("R2 client not initialized", zap.Error(err))
	}

	fetcher := client.NewYtdlpClient(cfg.Grab.AudioFormat, cfg.Grab.AudioQuality)
	grabService := service.NewGrabService(redisClient, asynqClient, cfg.Grab.JobTimeout)

	grabWorker := worker.NewGrabWorker(grabService, r2Client, fetcher, cfg.Grab, logger)
	sweepWorker := worker.NewSweepWorker(r2Client, cfg.Grab.ArtifactTTL, logger)

	srv := asynq.NewServer(redisOpt, asynq.Config{
		Concurrency: cfg.Worker.Concurrency,
		Queues: map[string]int{
			service.QueueDownloads:   6,
			service.QueueMaintenance: 1,
		},
		LogLevel: asynqLogLevel(cfg.Server.LogLevel),
	})

	mux := asynq.NewServeMux()
	mux.HandleFunc(service.TaskTypeGrab, grabWorker.ProcessTask)
	mux.HandleFunc(service.TaskTypeSweep, sweepWorker.ProcessTask)

	// Periodic sweep keeps the bucket free of orphaned artifacts even when
	// a job crashed before its own cleanup ran.
	scheduler := asynq.NewScheduler(redisOpt, nil)
	entry := "@every " + cfg.Worker.SweepInterval.String()
	if _, err := scheduler.Register(entry, service.NewSweepTask(), asynq.Queue(service.QueueMaintenance)); err != nil {
		logger.Fatal("failed to register sweep task", zap.Error(err))
	}
	if err := scheduler.Start(); err != nil {
		logger.Fatal("failed to start scheduler", zap.Error(err))
	}
	defer scheduler.Shutdown()

	logger.Info("worker starting",
		zap.Int("concurrency", cfg.Worker.Concurrency),
		zap.Duration("sweepInterval", cfg.Worker.SweepInterval),
	)

	// Run blocks until SIGINT/SIGTERM and drains in-flight tasks.
	if err := srv.Run(mux); err != nil {
		logger.Fatal("worker error", zap.Error(err))
	}
}

func newLogger(env string) (*zap.Logger, error) {
	if strings.EqualFold(env, "production") {
		return zap.NewProduction()
	}
	return zap.NewDevelopment()
}

func asynqLogLevel(level string) asynq.LogLevel {
	switch {
	case strings.EqualFold(level, "debug"):
		return asynq.DebugLevel
	case strings.EqualFold(level, "warn"):
		return asynq.WarnLevel
	case strings.EqualFold(level, "error"):
		return asynq.ErrorLevel
	default:
		return asynq.InfoLevel
	}
}
