package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/strideleague/pointsd/internal/cache"
	"github.com/strideleague/pointsd/internal/config"
	"github.com/strideleague/pointsd/internal/credentials"
	persistence "github.com/strideleague/pointsd/internal/persistence/postgres"
	"github.com/strideleague/pointsd/internal/provider"
	"github.com/strideleague/pointsd/internal/scheduler"
	"github.com/strideleague/pointsd/internal/syncer"
	"github.com/strideleague/pointsd/internal/webhook"
)

const redriveBatchSize = 50

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

	handler := webhook.NewSyncHandler(engine, repo, logger)
	redriver := webhook.NewRedriver(pool, engine, cfg.RedriveMax, cfg.RedrivePoll)

	metricsSrv := &http.Server{Addr: cfg.MetricsAddress, Handler: promhttp.Handler()}
	go func() {
		logger.Info("consumer metrics listening", zap.String("address", cfg.MetricsAddress))
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Warn("metrics server error", zap.Error(err))
		}
	}()

	var wg sync.WaitGroup
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:         cfg.KafkaBrokers,
		GroupID:         cfg.ConsumerGroupID,
		Topic:           cfg.WebhookTopic,
		MinBytes:        1e3,
		MaxBytes:        10e6,
		CommitInterval:  time.Second,
		RetentionTime:   24 * time.Hour,
		ReadLagInterval: -1,
	})

	proc := webhook.NewProcessor(reader, handler, webhook.WithLogger(logger))

	wg.Add(1)
	go func() {
		defer wg.Done()
		defer reader.Close()

		logger.Info("webhook consumer started",
			zap.String("topic", cfg.WebhookTopic), zap.String("group", cfg.ConsumerGroupID))
		if err := proc.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("webhook consumer stopped", zap.Error(err))
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()

		ticker := time.NewTicker(cfg.RedrivePoll)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				processed, err := redriver.RunOnce(ctx, redriveBatchSize)
				if err != nil && !errors.Is(err, context.Canceled) {
					logger.Warn("webhook re-drive error", zap.Error(err))
				}
				if processed > 0 {
					logger.Info("webhook re-drive", zap.Int("processed", processed))
				}
			}
		}
	}()

	<-stop
	logger.Info("consumer shutdown requested")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("metrics server shutdown error", zap.Error(err))
	}

	sched.Wait()
	wg.Wait()
}

func newResponseCache(cfg config.Config, logger *zap.Logger) cache.Cache {
	if cfg.RedisAddress == "" {
		return cache.NewMemory(cfg.CacheTTL)
	}
	client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddress})
	return cache.NewRedis(client, cfg.CacheTTL, logger)
}
