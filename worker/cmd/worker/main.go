package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"

	"github.com/hookwire/hookwire/common/broker"
	"github.com/hookwire/hookwire/common/config"
	"github.com/hookwire/hookwire/common/logging"
	"github.com/hookwire/hookwire/common/messaging"
	"github.com/hookwire/hookwire/worker/internal/consumer"
	"github.com/hookwire/hookwire/worker/internal/processors"
	"github.com/hookwire/hookwire/worker/internal/router"
	"github.com/hookwire/hookwire/worker/internal/server"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

// run returns the exit code so deferred cleanup runs before the process
// exits.
func run(args []string) int {
	flags := flag.NewFlagSet("worker", flag.ExitOnError)
	configPath := flags.String("config", "", "path to config file")
	_ = flags.Parse(args)

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Printf("Failed to load config: %v", err)
		return 1
	}
	if err := cfg.Validate(config.ServiceWorker); err != nil {
		log.Printf("Invalid configuration: %v", err)
		return 1
	}

	logger := logging.New(
		logging.ParseLevel(cfg.Logging.Level),
		cfg.Logging.Format,
	).With(logging.Service("worker"))
	logging.SetDefault(logger)

	slog.Info("Starting Worker service",
		slog.Int("concurrency", cfg.Worker.Concurrency),
		slog.String("broker_backend", cfg.Broker.Backend),
		slog.String("queue", cfg.Broker.Queue),
		slog.Int("max_retries", cfg.Broker.MaxRetries),
		slog.String("log_level", cfg.Logging.Level),
	)

	var eventRouter *router.Router
	if cfg.Worker.Idempotency {
		opts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			slog.Error("Invalid redis url", logging.Error(err))
			return 1
		}
		rdb := redis.NewClient(opts)
		defer rdb.Close()
		eventRouter, err = processors.NewIdempotentRouter(logger, rdb, cfg.Worker.IdempotencyTTL)
		if err != nil {
			slog.Error("Failed to build event router", logging.Error(err))
			return 1
		}
		slog.Info("Idempotency guard enabled", slog.Duration("ttl", cfg.Worker.IdempotencyTTL))
	} else {
		eventRouter, err = processors.NewRouter(logger)
		if err != nil {
			slog.Error("Failed to build event router", logging.Error(err))
			return 1
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	consumerCfg := consumer.Config{
		MaxRetries:        cfg.Broker.MaxRetries,
		InitialDelay:      cfg.Broker.RetryInitialDelay,
		MaxDelay:          cfg.Broker.RetryMaxDelay,
		ProcessingTimeout: cfg.Worker.ProcessingTimeout,
	}

	// one connection per consumer instance; the first connection of each
	// must succeed
	consumers := make([]*consumer.Consumer, 0, cfg.Worker.Concurrency)
	supervisors := make([]*messaging.Supervisor, 0, cfg.Worker.Concurrency)
	pool := make(server.Pool, 0, cfg.Worker.Concurrency)

	for i := 0; i < cfg.Worker.Concurrency; i++ {
		instanceLogger := logger.With(slog.Int("instance", i))
		c := consumer.New(eventRouter, consumerCfg, instanceLogger)

		sup, err := broker.NewSupervisor(cfg.Broker, broker.Options{
			ClientName: fmt.Sprintf("hookwire-worker-%d", i),
			InFlight:   cfg.Worker.Concurrency,
			Logger:     instanceLogger.Logger,
		}, c.Start)
		if err != nil {
			slog.Error("Failed to configure broker", logging.Error(err))
			return 1
		}
		if err := sup.Start(ctx); err != nil {
			slog.Error("Failed to connect to broker", slog.Int("instance", i), logging.Error(err))
			closeAll(supervisors)
			return 1
		}

		consumers = append(consumers, c)
		supervisors = append(supervisors, sup)
		pool = append(pool, sup)
	}

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Worker.MetricsPort),
		Handler:      server.NewRouter(pool, logger.Logger),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		slog.Info("Worker health endpoint listening", slog.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	exitCode := 0
	select {
	case <-ctx.Done():
	case err := <-serverErr:
		slog.Error("Server error", logging.Error(err))
		exitCode = 1
	}

	slog.Info("Shutting down worker")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", logging.Error(err))
		exitCode = 1
	}

	// stop deliveries and wait for in-flight handlers before the
	// connections go away
	for _, c := range consumers {
		if err := c.Stop(); err != nil {
			slog.Warn("Failed to stop consumer", logging.Error(err))
		}
	}
	if !closeAll(supervisors) {
		exitCode = 1
	}

	slog.Info("Worker stopped")
	return exitCode
}

func closeAll(supervisors []*messaging.Supervisor) bool {
	ok := true
	for _, sup := range supervisors {
		if err := sup.Close(); err != nil {
			slog.Error("Failed to close broker connection", logging.Error(err))
			ok = false
		}
	}
	return ok
}
