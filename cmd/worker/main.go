package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/infraweave-io/infraweave/pkg/config"
	"github.com/infraweave-io/infraweave/pkg/database"
	"github.com/infraweave-io/infraweave/pkg/logger"

	"github.com/infraweave-io/infraweave/internal/catalog"
	"github.com/infraweave-io/infraweave/internal/drift"
	"github.com/infraweave-io/infraweave/internal/facade/build"
	"github.com/infraweave-io/infraweave/internal/orchestrator"
	"github.com/infraweave-io/infraweave/internal/queue"
	"github.com/infraweave-io/infraweave/internal/queue/tasks"
	"github.com/infraweave-io/infraweave/internal/registry"
	"github.com/infraweave-io/infraweave/internal/resolver"
)

func main() {
	cfg := config.MustLoad()
	log, err := logger.Init(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       0,
	})

	if err := rdb.Ping(context.Background()).Err(); err != nil {
		log.Fatal("redis connection failed", zap.Error(err))
	}

	ctx := context.Background()
	db, err := database.OpenPostgres(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.L().Fatal("failed to open database", zap.Error(err))
	}

	provider, err := build.Build(ctx, cfg, db, rdb)
	if err != nil {
		logger.L().Fatal("failed to build cloud facade", zap.Error(err))
	}

	reg := registry.New(db)
	cat := catalog.New(db, provider.Object(), cfg.CatalogAllowBetaRepublish)
	res := resolver.New(cat, outputLookup(reg))
	orch := orchestrator.New(db, provider, reg, orchestrator.Config{
		LockTimeout:        cfg.LockTimeout,
		JobWallClockBudget: cfg.JobWallClockBudget,
		Environment:        cfg.AppEnv,
	})

	asynqClient := asynq.NewClient(asynq.RedisClientOpt{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       0,
	})
	defer asynqClient.Close()
	queueClient := queue.NewClient(asynqClient)

	orchestrateHandler := tasks.NewOrchestrateHandler(res, orch, reg, cfg.AppEnv)
	driftController := drift.New(reg, queueClient, cfg.ConcurrencyLimit)
	driftHandler := tasks.NewDriftHandler(driftController)

	srv := asynq.NewServer(
		asynq.RedisClientOpt{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       0,
		},
		asynq.Config{
			Concurrency: cfg.AsynqConcurrency,
		},
	)

	mux := asynq.NewServeMux()
	mux.HandleFunc(queue.TaskRunClaim, orchestrateHandler.HandleRunClaim)
	mux.HandleFunc(queue.TaskDrift, driftHandler.HandleDriftSweep)

	sweepCtx, cancelSweep := context.WithCancel(context.Background())
	go runDriftScheduler(sweepCtx, queueClient, cfg.DriftSweepInterval)

	errCh := make(chan error, 1)
	go func() {
		logger.L().Info("asynq worker starting", zap.Int("concurrency", cfg.AsynqConcurrency))
		if err := srv.Run(mux); err != nil {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.L().Info("shutdown signal received", zap.String("signal", sig.String()))
	case err := <-errCh:
		logger.L().Error("worker stopped with error", zap.Error(err))
	}

	cancelSweep()
	// Allow in-flight tasks to finish gracefully
	// NOTE: asynq.Server's Shutdown does not take any arguments and returns no value.
	srv.Shutdown()
}

// runDriftScheduler enqueues a drift sweep task on a fixed interval until
// ctx is cancelled. No cron/scheduler library exists anywhere in the
// pack, so this is a plain stdlib ticker rather than an asynq periodic
// task registration.
func runDriftScheduler(ctx context.Context, client *queue.Client, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := client.EnqueueDriftSweep(); err != nil {
				logger.L().Warn("failed to enqueue drift sweep", zap.Error(err))
			}
		}
	}
}

// outputLookup adapts registry.Registry.FindOutputsByKindAndName to
// resolver.OutputLookup for the claim-resolution interpolation step.
func outputLookup(reg *registry.Registry) resolver.OutputLookup {
	return func(kind, name string) (map[string]any, bool, error) {
		return reg.FindOutputsByKindAndName(context.Background(), kind, name)
	}
}
