package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/strideleague/pointsd/internal/cache"
	"github.com/strideleague/pointsd/internal/config"
	"github.com/strideleague/pointsd/internal/credentials"
	"github.com/strideleague/pointsd/internal/outbox"
	persistence "github.com/strideleague/pointsd/internal/persistence/postgres"
	"github.com/strideleague/pointsd/internal/provider"
	"github.com/strideleague/pointsd/internal/scheduler"
	"github.com/strideleague/pointsd/internal/syncer"
)

// refreshHorizon is how close to expiry a credential gets before the sync
// pass queues a low-priority refresh for it.
const refreshHorizon = 10 * time.Minute

func main() {
	cfg := config.Load()

	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := pgxpool.New(ctx, cfg.PostgresURL)
	if err != nil {
		logger.Fatal("postgres connect failed", zap.Error(err))
	}
	defer pool.Close()

	repo := persistence.NewRepository(pool)

	creds := credentials.NewManager(repo, credentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     cfg.TokenURL,
	}, credentials.WithLogger(logger))

	client := provider.NewClient(cfg.ProviderBaseURL, creds)

	sched := scheduler.New(client, creds, scheduler.Config{
		Quota:           cfg.RateQuota,
		Window:          cfg.RateWindow,
		ThrottleBackoff: cfg.ThrottleBackoff,
		Spacing:         cfg.RequestSpacing,
	}, scheduler.WithLogger(logger))

	go func() {
		if err := sched.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("scheduler stopped", zap.Error(err))
		}
	}()

	responseCache := newResponseCache(cfg, logger)

	engine := syncer.New(sched, responseCache, repo, cfg.SyncMaxPages, cfg.SyncPageSize, syncer.WithLogger(logger))

	producer := outbox.NewKafkaProducer(cfg.KafkaBrokers)
	defer producer.Close()

	registry := outbox.NewSchemaRegistryClient(cfg.SchemaRegURL)
	dispatcher := outbox.NewDispatcher(pool, producer, registry, cfg.OutboxPoll, cfg.OutboxBatch, logger)
	go dispatcher.Start(ctx)

	metricsSrv := &http.Server{Addr: cfg.MetricsAddress, Handler: promhttp.Handler()}
	go func() {
		logger.Info("syncd metrics listening", zap.String("address", cfg.MetricsAddress))
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Warn("metrics server error", zap.Error(err))
		}
	}()

	syncTicker := time.NewTicker(cfg.SyncInterval)
	defer syncTicker.Stop()

	sweepTicker := time.NewTicker(cfg.SweepInterval)
	defer sweepTicker.Stop()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	logger.Info("syncd started", zap.Duration("sync_interval", cfg.SyncInterval))

	runSyncPass(ctx, repo, sched, engine, logger)

	for {
		select {
		case <-syncTicker.C:
			runSyncPass(ctx, repo, sched, engine, logger)
		case <-sweepTicker.C:
			removed := responseCache.Sweep(ctx)
			if removed > 0 {
				logger.Info("cache sweep", zap.Int("removed", removed))
			}
		case <-stop:
			logger.Info("syncd shutdown requested")
			cancel()

			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
			if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
				logger.Warn("metrics server shutdown error", zap.Error(err))
			}
			shutdownCancel()

			sched.Wait()
			dispatcher.Wait()
			return
		}
	}
}

func newResponseCache(cfg config.Config, logger *zap.Logger) cache.Cache {
	if cfg.RedisAddress == "" {
		return cache.NewMemory(cfg.CacheTTL)
	}
	client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddress})
	return cache.NewRedis(client, cfg.CacheTTL, logger)
}

// runSyncPass walks every user with stored credentials: queue token
// refreshes for credentials near expiry, then run the incremental sync.
func runSyncPass(ctx context.Context, repo *persistence.Repository, sched *scheduler.Scheduler, engine *syncer.Engine, logger *zap.Logger) {
	users, err := repo.ListUserIDs(ctx)
	if err != nil {
		logger.Error("listing users failed", zap.Error(err))
		return
	}

	for _, userID := range users {
		if ctx.Err() != nil {
			return
		}

		prewarmRefresh(ctx, repo, sched, userID)

		res, err := engine.SyncUser(ctx, userID)
		if err != nil {
			logger.Warn("user sync aborted", zap.String("user_id", userID), zap.Error(err))
			continue
		}

		watermark, found, wmErr := repo.GetWatermark(ctx, userID)
		if wmErr != nil || !found {
			continue
		}
		if err := repo.RecordSyncCompletion(ctx, userID, res.Synced, res.Skipped, res.Errors, watermark); err != nil {
			logger.Warn("sync completion event failed", zap.String("user_id", userID), zap.Error(err))
		}
	}
}

func prewarmRefresh(ctx context.Context, repo *persistence.Repository, sched *scheduler.Scheduler, userID string) {
	cred, err := repo.GetCredential(ctx, userID)
	if err != nil || cred == nil {
		return
	}
	if time.Until(cred.ExpiresAt) > refreshHorizon {
		return
	}
	sched.Enqueue(&scheduler.Request{
		Kind:     scheduler.KindRefreshToken,
		UserID:   userID,
		Priority: scheduler.PriorityLow,
	})
}
