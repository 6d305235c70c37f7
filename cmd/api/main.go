package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"progkeeper/api/internal/cache"
	"progkeeper/api/internal/config"
	"progkeeper/api/internal/database"
	"progkeeper/api/internal/handlers"
	"progkeeper/api/internal/jobs"
	"progkeeper/api/internal/log"
	"progkeeper/api/internal/metrics"
	"progkeeper/api/internal/repository"
	"progkeeper/api/internal/server"
	"progkeeper/api/internal/service"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := log.New(cfg.Environment, cfg.Log.Level)

	if err := run(cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("server exited with error")
	}
	logger.Info().Msg("server exited cleanly")
}

func run(cfg *config.AppConfig, logger zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dbPool, err := database.NewPostgresPool(ctx, cfg.Postgres)
	if err != nil {
		logger.Error().Err(err).Msg("failed to connect postgres")
		return err
	}
	defer dbPool.Close()

	if cfg.Postgres.AutoMigrate {
		if err := database.Migrate(ctx, dbPool); err != nil {
			logger.Error().Err(err).Msg("schema migration failed")
			return err
		}
		logger.Info().Msg("schema up to date")
	}

	m := metrics.New()
	retry := service.RetryPolicyFromConfig(cfg.Retry)
	creds := service.NewCredentialStore(repository.NewUserRepository(dbPool), cfg.Password.BcryptCost, retry, logger)
	sessions := service.NewSessionStore(creds, repository.NewSessionRepository(dbPool), cfg.Session, retry, logger)

	deps := handlers.Dependencies{
		Config:      cfg,
		Credentials: creds,
		Sessions:    sessions,
		Gateway:     service.NewGateway(sessions),
		Metrics:     m,
		Checks: map[string]handlers.HealthCheck{
			"database": dbPool.Ping,
		},
	}

	if cfg.LoginThrottle.Enabled {
		redisClient, err := cache.NewRedisClient(ctx, cfg.Redis)
		if err != nil {
			// throttling is best effort; run without it
			logger.Warn().Err(err).Msg("redis unavailable, login throttling disabled")
		} else {
			defer func() {
				if err := redisClient.Close(); err != nil {
					logger.Error().Err(err).Msg("redis close error")
				}
			}()
			deps.Throttle = cache.NewLoginLimiter(redisClient, cfg.LoginThrottle.MaxAttempts, cfg.LoginThrottle.Window, logger)
			deps.Checks["cache"] = func(ctx context.Context) error { return redisClient.Ping(ctx).Err() }
		}
	}

	httpServer := server.NewHTTPServer(cfg, logger, handlers.NewHandlerSet(deps), m)

	scheduler := jobs.NewScheduler(sessions, cfg.Session.PruneSchedule, m, logger)
	if err := scheduler.Start(); err != nil {
		logger.Error().Err(err).Msg("scheduler start failed")
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return httpServer.Run(gctx, 10*time.Second)
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Msg("shutdown signal received")

		stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := scheduler.Stop(stopCtx); err != nil {
			logger.Warn().Err(err).Msg("scheduler stop timed out")
		}
		return nil
	})

	return g.Wait()
}
