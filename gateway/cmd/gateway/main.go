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

	"github.com/hookwire/hookwire/common/broker"
	"github.com/hookwire/hookwire/common/config"
	"github.com/hookwire/hookwire/common/intakestats"
	"github.com/hookwire/hookwire/common/logging"
	"github.com/hookwire/hookwire/gateway/internal/handlers"
	"github.com/hookwire/hookwire/gateway/internal/ratelimit"
	"github.com/hookwire/hookwire/gateway/internal/server"
	"github.com/hookwire/hookwire/gateway/internal/service"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

// run returns the exit code so deferred cleanup runs before the process
// exits.
func run(args []string) int {
	flags := flag.NewFlagSet("gateway", flag.ExitOnError)
	configPath := flags.String("config", "", "path to config file")
	_ = flags.Parse(args)

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Printf("Failed to load config: %v", err)
		return 1
	}
	if err := cfg.Validate(config.ServiceGateway); err != nil {
		log.Printf("Invalid configuration: %v", err)
		return 1
	}

	logger := logging.New(
		logging.ParseLevel(cfg.Logging.Level),
		cfg.Logging.Format,
	).With(logging.Service("gateway"))
	logging.SetDefault(logger)

	slog.Info("Starting Gateway service",
		slog.Int("port", cfg.Server.Port),
		slog.String("broker_backend", cfg.Broker.Backend),
		slog.String("queue", cfg.Broker.Queue),
		slog.String("log_level", cfg.Logging.Level),
	)

	// Initialize rate limiter
	var rateLimiter ratelimit.RateLimiter = &ratelimit.NoOpRateLimiter{}
	if cfg.Redis.Enabled && cfg.RateLimit.Enabled {
		limiter, err := ratelimit.NewRedisRateLimiter(cfg.Redis.URL, cfg.RateLimit.Requests, cfg.RateLimit.Window)
		if err != nil {
			slog.Warn("Failed to initialize Redis rate limiter, continuing without rate limiting", logging.Error(err))
		} else {
			rateLimiter = limiter
			slog.Info("Rate limiting enabled",
				slog.Int("requests", cfg.RateLimit.Requests),
				slog.Duration("window", cfg.RateLimit.Window),
			)
		}
	}
	defer rateLimiter.Close()

	// Per-instance intake statistics
	var stats handlers.StatsRecorder
	if cfg.Redis.Enabled && cfg.Stats.Enabled {
		gatewayID, _ := os.Hostname()
		statsClient, err := intakestats.NewClient(cfg.Redis.URL, gatewayID)
		if err != nil {
			slog.Warn("Failed to initialize intake stats, continuing without them", logging.Error(err))
		} else {
			collector := intakestats.NewCollector(statsClient, cfg.Stats.FlushInterval, logger.Logger)
			defer statsClient.Close()
			defer collector.Stop()
			stats = collector
			slog.Info("Intake stats enabled", slog.Duration("flush_interval", cfg.Stats.FlushInterval))
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Connect to the broker; the first connection must succeed
	supervisor, err := broker.NewSupervisor(cfg.Broker, broker.Options{
		ClientName: "hookwire-gateway",
		Logger:     logger.Logger,
	}, nil)
	if err != nil {
		slog.Error("Failed to configure broker", logging.Error(err))
		return 1
	}
	if err := supervisor.Start(ctx); err != nil {
		slog.Error("Failed to connect to broker", logging.Error(err))
		return 1
	}

	gateway := service.New(service.Config{
		Secret:          cfg.Webhook.Secret,
		EventHeader:     cfg.Webhook.EventHeader,
		SignatureHeader: cfg.Webhook.SignatureHeader,
		EventIDHeader:   cfg.Webhook.EventIDHeader,
		InstanceHeader:  cfg.Webhook.InstanceHeader,
		PublishTimeout:  cfg.Broker.PublishTimeout,
	}, supervisor, logger)

	handler := handlers.NewWebhookHandler(gateway, handlers.Options{
		MaxBodySize:    cfg.Webhook.MaxBodySize,
		EventHeader:    cfg.Webhook.EventHeader,
		InstanceHeader: cfg.Webhook.InstanceHeader,
		Limiter:        rateLimiter,
		Stats:          stats,
		Broker:         supervisor,
		Logger:         logger,
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      server.NewRouter(handler, logger.Logger),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		slog.Info("Gateway listening", slog.String("addr", srv.Addr))
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

	slog.Info("Shutting down gateway")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	// stop accepting requests and let in-flight publishes finish before the
	// broker goes away
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", logging.Error(err))
		exitCode = 1
	}
	if err := supervisor.Close(); err != nil {
		slog.Error("Failed to close broker connection", logging.Error(err))
		exitCode = 1
	}

	slog.Info("Gateway stopped")
	return exitCode
}
