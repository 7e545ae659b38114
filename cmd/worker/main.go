package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/hearthside-app/hearthside/internal/app"
	"github.com/hearthside-app/hearthside/internal/audit"
	authzcache "github.com/hearthside-app/hearthside/internal/authz/cache"
	"github.com/hearthside-app/hearthside/internal/delegation"
	"github.com/hearthside-app/hearthside/internal/emergency"
	"github.com/hearthside-app/hearthside/internal/grants"
	"github.com/hearthside-app/hearthside/internal/platform/cache"
	"github.com/hearthside-app/hearthside/internal/platform/db"
	"github.com/hearthside-app/hearthside/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	decisionCache := authzcache.New(redisClient, authzcache.Config{
		Size: cfg.DecisionCacheSize,
		TTL:  cfg.DecisionCacheTTL,
	}, nil)
	defer decisionCache.Close()

	recorder := audit.NewRecorder(audit.NewPGWriter(pool), logger, nil, cfg.AuditBuffer)
	defer recorder.Close()

	grantsService := grants.NewService(grants.NewRepository(pool), decisionCache, recorder, logger)
	delegationService := delegation.NewService(delegation.NewRepository(pool), decisionCache, recorder, logger)
	emergencyManager := emergency.NewManager(
		emergency.NewRepository(pool),
		emergency.NewLogNotifier(logger),
		cfg.OverrideRecipients,
		decisionCache,
		recorder,
		logger,
	)

	sweepHandler := jobs.NewSweepExpiredHandler(jobs.SweepDeps{
		Grants:      grantsService,
		Delegations: delegationService,
		Overrides:   emergencyManager,
		Logger:      logger,
	})
	archiveHandler := jobs.NewArchiveAuditHandler(pool, logger)

	sweepTask, err := jobs.NewSweepExpiredTask(jobs.SweepExpiredPayload{})
	if err != nil {
		logger.Error("build sweep task", slog.Any("error", err))
		os.Exit(1)
	}
	archiveTask, err := jobs.NewArchiveAuditTask(jobs.ArchiveAuditPayload{})
	if err != nil {
		logger.Error("build archive task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskSweepExpired, Handler: sweepHandler},
			{Type: jobs.TaskArchiveAudit, Handler: archiveHandler},
		},
		Cron: []jobs.CronRegistration{
			{Spec: cfg.SweepCron, Task: sweepTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
			{Spec: "45 3 * * *", Task: archiveTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	if err := worker.Run(ctx); err != nil && err != context.Canceled {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
