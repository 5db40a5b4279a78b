package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"golang.org/x/time/rate"

	"github.com/jwalitptl/queue-api/config"
	"github.com/jwalitptl/queue-api/internal/handler"
	queuehandler "github.com/jwalitptl/queue-api/internal/handler/queue"
	"github.com/jwalitptl/queue-api/internal/middleware"
	"github.com/jwalitptl/queue-api/internal/repository/postgres"
	"github.com/jwalitptl/queue-api/internal/router"
	queuesvc "github.com/jwalitptl/queue-api/internal/service/queue"
	"github.com/jwalitptl/queue-api/pkg/logger"
	"github.com/jwalitptl/queue-api/pkg/messaging"
	"github.com/jwalitptl/queue-api/pkg/messaging/redis"
	"github.com/jwalitptl/queue-api/pkg/metrics"
	"github.com/jwalitptl/queue-api/pkg/worker"
)

func newServeCommand(configFlag *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadConfig(*configFlag)
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg, log)
		},
	}
}

func serve(parent context.Context, cfg *config.Config, log *logger.Logger) error {
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize database
	db, err := postgres.Open(cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	// Initialize repositories
	patientRepo := postgres.NewPatientRepository(db)
	outboxRepo := postgres.NewOutboxRepository(db)

	appMetrics := metrics.NewMetrics(cfg.Metrics.Namespace)
	var httpMetrics *metrics.HTTP
	if cfg.Metrics.Enabled {
		httpMetrics = metrics.NewHTTP(cfg.Metrics.Namespace, prometheus.DefaultRegisterer)
	}

	checks := map[string]handler.Checker{
		"database": db.PingContext,
	}

	// Without Redis, events only travel inside this process.
	var broker messaging.Broker
	if cfg.Redis.Enabled {
		redisBroker, err := redis.NewRedisBroker(cfg.Redis.ToBrokerConfig(), log.Zerolog())
		if err != nil {
			return fmt.Errorf("failed to connect to Redis: %w", err)
		}
		checks["redis"] = redisBroker.Ping
		broker = redisBroker
	} else {
		broker = messaging.NewLocalBroker(64)
	}
	defer broker.Close()

	svc := queuesvc.NewService(
		patientRepo,
		queuesvc.NewSnapshotCache(cfg.Cache.TTL, cfg.Cache.CleanupInterval),
		log,
		appMetrics,
	)

	// Other API replicas write to the same database; their events flush our cache.
	subscriber := messaging.NewBrokerAdapter(broker)
	if err := subscriber.Subscribe(ctx, cfg.Redis.Channel, func([]byte) error {
		appMetrics.BrokerMessagesReceived.Inc()
		svc.Invalidate()
		return nil
	}); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", cfg.Redis.Channel, err)
	}

	if cfg.Outbox.Embedded || !cfg.Redis.Enabled {
		wcfg := cfg.Outbox.ToWorkerConfig()
		wcfg.Channel = cfg.Redis.Channel
		processor := worker.NewOutboxProcessor(outboxRepo, broker, wcfg, log, appMetrics)
		go processor.Start(ctx)
	}

	if cfg.Log.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}

	queueHandler := queuehandler.NewHandler(svc, broker, cfg.Redis.Channel)

	// Setup router
	r := router.NewRouter(
		queueHandler,
		handler.NewHandler(nil, checks),
		router.RouterConfig{
			RateLimitEnabled: cfg.RateLimit.Enabled,
			RateLimit:        rate.Limit(cfg.RateLimit.RequestsPerSecond),
			RateBurst:        cfg.RateLimit.Burst,
			CORSConfig:       corsConfig(cfg.CORS),
			RequestTimeout:   cfg.Server.RequestTimeout,
			Metrics:          httpMetrics,
		},
	)
	r.Setup()

	// Create server
	srv := &http.Server{
		Addr:           fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:        r.Engine(),
		ReadTimeout:    cfg.Server.ReadTimeout,
		WriteTimeout:   cfg.Server.WriteTimeout,
		MaxHeaderBytes: cfg.Server.MaxHeaderBytes,
	}
	srv.RegisterOnShutdown(queueHandler.CloseStreams)

	errCh := make(chan error, 1)
	go func() {
		log.Info("Starting server", "addr", srv.Addr, "driver", cfg.Database.Driver, "redis", cfg.Redis.Enabled)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("failed to start server: %w", err)
		}
	case <-ctx.Done():
	}
	log.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	log.Info("Server exited properly")
	return nil
}

func corsConfig(cfg config.CORSConfig) middleware.CORSConfig {
	cors := middleware.DefaultCORSConfig()
	if len(cfg.AllowedOrigins) > 0 {
		cors.AllowOrigins = cfg.AllowedOrigins
	}
	return cors
}
