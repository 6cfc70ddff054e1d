package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	goredis "github.com/go-redis/redis/v8"
	promclient "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	natsadapter "github.com/wildkoala/chronicle/adapters/nats"
	"github.com/wildkoala/chronicle/adapters/postgres"
	promadapter "github.com/wildkoala/chronicle/adapters/prometheus"
	redisadapter "github.com/wildkoala/chronicle/adapters/redis"
	"github.com/wildkoala/chronicle/config"
	"github.com/wildkoala/chronicle/conversation"
	"github.com/wildkoala/chronicle/core/es"
	"github.com/wildkoala/chronicle/readmodel"
	"github.com/wildkoala/chronicle/sweeper"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the conversation service",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg)
		},
	}
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}

func serve(ctx context.Context, cfg *config.Config) error {
	log := newLogger(cfg.Log.Level)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := postgres.Open(cfg.Postgres.DSN)
	if err != nil {
		return err
	}
	if err := postgres.Migrate(log, db); err != nil {
		return err
	}

	m := promadapter.New(promclient.DefaultRegisterer)

	events := es.NewEventRegistry()
	conversation.RegisterEvents(events)
	types := es.NewTypeTable()
	conversation.Register(types)

	store := postgres.NewEventStore(log, db)
	snapshots := postgres.NewSnapshotStore(db)
	rms := postgres.NewReadModelStore(db)

	executor := es.NewExecutor(log, store, snapshots, events, types,
		es.WithRetryAttempts(cfg.Executor.RetryAttempts),
		es.WithSnapshotInterval(cfg.Executor.SnapshotInterval),
		es.WithReplayPageSize(cfg.Executor.ReplayPageSize),
		es.WithExecutorMetrics(m),
	)

	projector := readmodel.NewProjector(log, rms, events,
		readmodel.WithQueueSize(cfg.Projector.QueueSize),
		readmodel.WithProjectorMetrics(m),
	)

	var checkpoints es.CheckpointStore = es.NewInMemCheckpointStore()
	if cfg.Redis.Enabled {
		client := goredis.NewClient(&goredis.Options{Addr: cfg.Redis.Addr, DB: cfg.Redis.DB})
		defer client.Close()
		checkpoints = redisadapter.NewCheckpointStore(client, "projector")
	}

	consumer := es.NewConsumer(log, store, checkpoints, projector,
		es.WithConsumerName("projector"),
	)
	if err := consumer.Start(ctx); err != nil {
		return err
	}
	defer consumer.Stop()

	sw := sweeper.New(log, executor, rms,
		sweeper.WithInterval(cfg.Sweeper.Interval),
		sweeper.WithStaleness(cfg.Sweeper.Staleness),
		sweeper.WithMetrics(m),
	)
	if err := sw.Start(ctx); err != nil {
		return err
	}
	defer sw.Stop() //nolint:errcheck

	g, ctx := errgroup.WithContext(ctx)

	if cfg.NATS.Enabled {
		notifier, err := natsadapter.Connect(log, cfg.NATS.URL)
		if err != nil {
			return err
		}
		defer notifier.Close()
		g.Go(func() error {
			err := notifier.Run(ctx, store)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
	}

	metricsServer := &http.Server{
		Addr:              cfg.Metrics.ListenAddr,
		Handler:           promhttp.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	g.Go(func() error {
		log.Info("metrics listening", slog.String("addr", cfg.Metrics.ListenAddr))
		if err := metricsServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return metricsServer.Shutdown(shutdownCtx)
	})

	log.Info("chronicled running")
	return g.Wait()
}
