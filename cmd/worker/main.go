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

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/joao-fontenele/designden-fulfillment/internal/config"
	"github.com/joao-fontenele/designden-fulfillment/internal/directory"
	"github.com/joao-fontenele/designden-fulfillment/internal/domain"
	"github.com/joao-fontenele/designden-fulfillment/internal/fulfillment"
	"github.com/joao-fontenele/designden-fulfillment/internal/messaging"
	"github.com/joao-fontenele/designden-fulfillment/internal/notifications"
	"github.com/joao-fontenele/designden-fulfillment/internal/orders"
	"github.com/joao-fontenele/designden-fulfillment/internal/progression"
	"github.com/joao-fontenele/designden-fulfillment/internal/telemetry"
)

const serviceName = "progression-worker"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		slog.New(slog.NewJSONHandler(os.Stdout, nil)).Error("failed to load config", "error", err)
		os.Exit(1)
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()}))

	if cfg.RedisAddr == "" {
		logger.Error("REDIS_ADDR environment variable is required")
		os.Exit(1)
	}

	shutdownTracer, err := telemetry.InitTracerProvider(ctx, cfg.OTLPEndpoint, serviceName)
	if err != nil {
		logger.Error("failed to initialize tracer", "error", err)
		os.Exit(1)
	}
	defer func() { _ = shutdownTracer(context.Background()) }()

	metricsHandler, shutdownMeter, err := telemetry.InitMeterProvider(serviceName)
	if err != nil {
		logger.Error("failed to initialize meter", "error", err)
		os.Exit(1)
	}
	defer func() { _ = shutdownMeter(context.Background()) }()

	profile, err := progression.LoadProfile(cfg.Progression.ProfilePath)
	if err != nil {
		logger.Error("failed to load progression profile", "error", err)
		os.Exit(1)
	}

	dsn, err := cfg.DSN()
	if err != nil {
		logger.Error("invalid database url", "error", err)
		os.Exit(1)
	}
	db, err := telemetry.OpenPostgres(ctx, dsn)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer func() { _ = db.Close() }()

	client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer func() { _ = client.Close() }()
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Error("failed to connect to redis", "error", err)
		os.Exit(1)
	}

	sink := notifications.NewSink(notifications.NewNotificationRepository(db), logger)

	var orchestratorOpts []fulfillment.Option
	if len(cfg.KafkaBrokers) > 0 {
		changed := messaging.NewProducer(cfg.KafkaBrokers, domain.TopicOrderStatusChanged)
		defer func() { _ = changed.Close() }()
		orchestratorOpts = append(orchestratorOpts, fulfillment.WithPublisher(changed))
	}
	orchestrator := fulfillment.NewOrchestrator(orders.NewOrderRepository(db), directory.NewUserRepository(db),
		sink, logger, orchestratorOpts...)

	queue := progression.NewRedisQueue(client, "", cfg.Progression.QueueLease, logger)
	dispatcher := progression.NewDispatcher(queue, orchestrator, logger,
		progression.WithProfile(profile),
		progression.WithPollInterval(cfg.Progression.PollInterval),
		progression.WithRetry(cfg.Progression.MaxAttempts, cfg.Progression.Backoff),
	)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return dispatcher.Run(gctx)
	})

	if len(cfg.KafkaBrokers) > 0 {
		consumer := messaging.NewConsumer(cfg.KafkaBrokers, domain.TopicOrderCreated, messaging.GroupProgression,
			messaging.WithHandlerRetry(cfg.Progression.MaxAttempts, cfg.Progression.Backoff),
			messaging.WithLogger(logger),
		)
		defer func() { _ = consumer.Close() }()
		events := progression.NewEventHandler(progression.NewScheduler(queue, profile, logger), logger)

		g.Go(func() error {
			logger.Info("consuming order events", "brokers", cfg.KafkaBrokers)
			err := consumer.Consume(gctx, events.Handle)
			if errors.Is(err, context.Canceled) {
				logger.Info("consumer stopped")
				return nil
			}
			return err
		})
	}

	mux := http.NewServeMux()
	mux.Handle("GET /metrics", metricsHandler)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := client.Ping(r.Context()).Err(); err != nil {
			http.Error(w, "redis unavailable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g.Go(func() error {
		logger.Info("starting worker metrics endpoint", "port", cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("worker stopped", "error", err)
		os.Exit(1)
	}
}
