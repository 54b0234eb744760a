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

	"github.com/joao-fontenele/designden-fulfillment/internal/cart"
	"github.com/joao-fontenele/designden-fulfillment/internal/checkout"
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

const serviceName = "orders"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		slog.New(slog.NewJSONHandler(os.Stdout, nil)).Error("failed to load config", "error", err)
		os.Exit(1)
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()}))

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

	orderRepo := orders.NewOrderRepository(db)
	users := directory.NewUserRepository(db)
	notificationRepo := notifications.NewNotificationRepository(db)
	sink := notifications.NewSink(notificationRepo, logger)

	var orchestratorOpts []fulfillment.Option
	var checkoutOpts []checkout.Option
	var dispatcher *progression.Dispatcher

	if len(cfg.KafkaBrokers) > 0 {
		created := messaging.NewProducer(cfg.KafkaBrokers, domain.TopicOrderCreated)
		defer func() { _ = created.Close() }()
		changed := messaging.NewProducer(cfg.KafkaBrokers, domain.TopicOrderStatusChanged)
		defer func() { _ = changed.Close() }()

		checkoutOpts = append(checkoutOpts, checkout.WithPublisher(created))
		orchestratorOpts = append(orchestratorOpts, fulfillment.WithPublisher(changed))
	}

	orchestrator := fulfillment.NewOrchestrator(orderRepo, users, sink, logger, orchestratorOpts...)

	if len(cfg.KafkaBrokers) == 0 {
		profile, err := progression.LoadProfile(cfg.Progression.ProfilePath)
		if err != nil {
			logger.Error("failed to load progression profile", "error", err)
			os.Exit(1)
		}

		var queue progression.Queue
		if cfg.RedisAddr != "" {
			client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
			defer func() { _ = client.Close() }()
			queue = progression.NewRedisQueue(client, "", cfg.Progression.QueueLease, logger)
		} else {
			// Without a shared queue the steps live in this process only.
			logger.Warn("REDIS_ADDR not set, auto-progression runs in process and is lost on restart")
			queue = progression.NewMemoryQueue(cfg.Progression.QueueLease)
			dispatcher = progression.NewDispatcher(queue, orchestrator, logger,
				progression.WithProfile(profile),
				progression.WithPollInterval(cfg.Progression.PollInterval),
				progression.WithRetry(cfg.Progression.MaxAttempts, cfg.Progression.Backoff),
			)
		}
		checkoutOpts = append(checkoutOpts, checkout.WithPlanner(progression.NewScheduler(queue, profile, logger)))
	}

	checkoutService := checkout.NewService(orderRepo, cart.NewCartRepository(db), sink, logger, checkoutOpts...)
	flashes := orders.NewFlashes(orders.NewCookieStore(cfg.Session.Key, cfg.Session.CookieSecure), logger)
	handler := orders.NewHandler(orderRepo, orchestrator, checkoutService, users, flashes, logger)
	notificationHandler := notifications.NewHandler(notificationRepo, logger)

	mux := http.NewServeMux()
	handler.Register(mux, telemetry.WithHTTPRoute)
	mux.HandleFunc("GET /users/{id}/notifications", telemetry.WithHTTPRoute(notificationHandler.HandleList))
	mux.Handle("GET /metrics", metricsHandler)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := db.PingContext(r.Context()); err != nil {
			http.Error(w, "database unavailable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      telemetry.HTTPHandler(mux, serviceName),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	if dispatcher != nil {
		go func() {
			if err := dispatcher.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("dispatcher stopped", "error", err)
			}
		}()
	}

	go func() {
		logger.Info("starting orders service", "port", cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
		os.Exit(1)
	}
}
