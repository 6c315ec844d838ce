package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/terminal-bench/blasttap/internal/alerts"
	"github.com/terminal-bench/blasttap/internal/archive"
	"github.com/terminal-bench/blasttap/internal/cache"
	"github.com/terminal-bench/blasttap/internal/config"
	"github.com/terminal-bench/blasttap/internal/export"
	"github.com/terminal-bench/blasttap/internal/feed"
	"github.com/terminal-bench/blasttap/internal/gateway"
	"github.com/terminal-bench/blasttap/internal/session"
	"github.com/terminal-bench/blasttap/internal/sink"
	"github.com/terminal-bench/blasttap/internal/telemetry"
	"github.com/terminal-bench/blasttap/pkg/circuit"
	"github.com/terminal-bench/blasttap/pkg/messaging"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.LoadWithEtcd(ctx)
	if err != nil {
		zap.NewExample().Fatal("failed to load config", zap.Error(err))
	}

	logger := newLogger(cfg.Debug)
	defer logger.Sync()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("service stopped with error", zap.Error(err))
		os.Exit(1)
	}
}

func newLogger(debug bool) *zap.Logger {
	var (
		logger *zap.Logger
		err    error
	)
	if debug {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		return zap.NewNop()
	}
	return logger.Named("blasttap")
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	registry := session.NewRegistry(cfg.Options(), cfg.HistoryCapacity, cfg.SessionIdleTTL)
	hub := feed.NewHub(logger.Named("feed"))

	var (
		publisher alerts.Publisher
		broker    gateway.Broker
	)
	if cfg.NATSURL != "" {
		nc, err := messaging.NewClient(messaging.DefaultConfig(cfg.NATSURL))
		if err != nil {
			return err
		}
		defer nc.Close()
		publisher, broker = nc, nc
		logger.Info("publishing events", zap.String("nats", cfg.NATSURL))
	}
	engine := alerts.NewEngine(publisher, logger.Named("alerts"))

	var rdb *redis.Client
	if cfg.RedisURL != "" {
		c, err := cache.NewRedisClient(cfg.RedisURL)
		if err != nil {
			return err
		}
		defer c.Close()
		rdb = c
	}
	latest := cache.New(rdb, cfg.CacheTTL)

	sinks := []sink.Sink{engine, latest, hub}

	var archived gateway.Archive
	if cfg.DatabaseURL != "" {
		store, err := archive.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer store.Close()
		sinks = append(sinks, store)
		archived = store
		logger.Info("archiving history to postgres")
	}

	if cfg.InfluxURL != "" {
		w := telemetry.NewWriter(telemetry.Config{
			URL:    cfg.InfluxURL,
			Token:  cfg.InfluxToken,
			Org:    cfg.InfluxOrg,
			Bucket: cfg.InfluxBucket,
		})
		defer w.Close()
		sinks = append(sinks, w)
		logger.Info("writing telemetry to influxdb", zap.String("bucket", cfg.InfluxBucket))
	}

	var exporter *export.Uploader
	if cfg.MinioEndpoint != "" {
		u, err := export.NewUploader(export.Config{
			Endpoint:  cfg.MinioEndpoint,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			Bucket:    cfg.MinioBucket,
			Secure:    cfg.MinioSecure,
		})
		if err != nil {
			return err
		}
		if err := u.EnsureBucket(ctx); err != nil {
			logger.Warn("export bucket unavailable", zap.Error(err))
		}
		exporter = u
	}

	breakerCfg := circuit.DefaultConfig()
	breakerCfg.OnStateChange = func(name string, from, to circuit.State) {
		logger.Warn("sink breaker changed state",
			zap.String("sink", name),
			zap.String("from", from.String()),
			zap.String("to", to.String()),
		)
	}
	dispatcher := sink.NewDispatcher(logger.Named("sink"), circuit.NewGroup(breakerCfg), cfg.SinkTimeout, sinks...)

	gw := gateway.New(gateway.Config{JWTSecret: cfg.JWTSecret, Debug: cfg.Debug}, gateway.Deps{
		Registry:   registry,
		Dispatcher: dispatcher,
		Cache:      latest,
		Alerts:     engine,
		Hub:        hub,
		Exporter:   exporter,
		Archive:    archived,
		Broker:     broker,
		Logger:     logger.Named("http"),
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           gw.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("service starting",
			zap.String("port", cfg.Port),
			zap.Strings("sinks", dispatcher.Names()),
			zap.String("shift_start", cfg.ShiftStart.String()),
			zap.String("basis", string(cfg.Basis)),
			zap.Duration("session_idle_ttl", cfg.SessionIdleTTL),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
