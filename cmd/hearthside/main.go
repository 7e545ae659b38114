package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/hearthside-app/hearthside/internal/app"
	"github.com/hearthside-app/hearthside/internal/audit"
	"github.com/hearthside-app/hearthside/internal/authz"
	authzcache "github.com/hearthside-app/hearthside/internal/authz/cache"
	"github.com/hearthside-app/hearthside/internal/authz/ratelimit"
	"github.com/hearthside-app/hearthside/internal/delegation"
	"github.com/hearthside-app/hearthside/internal/emergency"
	"github.com/hearthside-app/hearthside/internal/grants"
	"github.com/hearthside-app/hearthside/internal/observability"
	"github.com/hearthside-app/hearthside/internal/platform/cache"
	"github.com/hearthside-app/hearthside/internal/platform/db"
	"github.com/hearthside-app/hearthside/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
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

	metrics := observability.NewMetrics()

	decisionCache := authzcache.New(redisClient, authzcache.Config{
		Size: cfg.DecisionCacheSize,
		TTL:  cfg.DecisionCacheTTL,
	}, authzcache.NewMetrics(metrics.Registerer()))
	defer decisionCache.Close()

	limiter := ratelimit.New(redisClient, ratelimit.Config{
		Limit:  cfg.RateLimit,
		Window: cfg.RateLimitWindow,
	})

	recorder := audit.NewRecorder(audit.NewPGWriter(pool), logger, metrics.Registerer(), cfg.AuditBuffer)
	defer recorder.Close()

	store := authz.NewStore(pool)

	authzService := authz.NewService(store, store, decisionCache, limiter, recorder, logger, authz.Config{
		CacheTTL:     cfg.DecisionCacheTTL,
		StoreTimeout: cfg.StoreTimeout,
	})
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

	jobsHandler := jobs.NewHandler(asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr}), logger)

	router := app.NewRouter(app.RouterParams{
		Logger:            logger,
		Config:            cfg,
		AuthzHandler:      authz.NewHandler(logger, authzService, metrics),
		GrantsHandler:     grants.NewHandler(logger, grantsService),
		DelegationHandler: delegation.NewHandler(logger, delegationService),
		EmergencyHandler:  emergency.NewHandler(logger, emergencyManager),
		JobsHandler:       jobsHandler,
		DecisionCache:     decisionCache,
		Metrics:           metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}
