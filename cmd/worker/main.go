package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/jwalitptl/queue-api/config"
	"github.com/jwalitptl/queue-api/internal/handler"
	"github.com/jwalitptl/queue-api/internal/middleware"
	"github.com/jwalitptl/queue-api/internal/repository/postgres"
	"github.com/jwalitptl/queue-api/pkg/logger"
	"github.com/jwalitptl/queue-api/pkg/messaging/redis"
	"github.com/jwalitptl/queue-api/pkg/metrics"
	"github.com/jwalitptl/queue-api/pkg/worker"
)

func main() {
	cmd := newRootCommand()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var configFlag string
	var healthAddr string

	cmd := &cobra.Command{
		Use:           "queue-worker",
		Short:         "Publish queue outbox events to Redis",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(configFlag)
			if err != nil {
				return err
			}
			log := logger.NewLogger(cfg.Log.ToLoggerConfig())
			log.SetGlobal()
			return run(cmd.Context(), cfg, log, healthAddr)
		},
	}

	cmd.Flags().StringVarP(&configFlag, "config", "c", "", "Configuration file path")
	cmd.Flags().StringVar(&healthAddr, "health-addr", ":8081", "Listen address for health and metrics endpoints")

	return cmd
}

func run(parent context.Context, cfg *config.Config, log *logger.Logger, healthAddr string) error {
	if !cfg.Redis.Enabled {
		return errors.New("the worker publishes to Redis; set redis.enabled")
	}

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize database
	db, err := postgres.Open(cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	// Initialize Redis broker
	broker, err := redis.NewRedisBroker(cfg.Redis.ToBrokerConfig(), log.Zerolog())
	if err != nil {
		return fmt.Errorf("failed to create Redis broker: %w", err)
	}
	defer broker.Close()

	wcfg := cfg.Outbox.ToWorkerConfig()
	wcfg.Channel = cfg.Redis.Channel
	processor := worker.NewOutboxProcessor(
		postgres.NewOutboxRepository(db),
		broker,
		wcfg,
		log.WithFields(map[string]interface{}{"component": "outbox_worker"}),
		metrics.NewMetrics(cfg.Metrics.Namespace),
	)

	health := healthServer(healthAddr, map[string]handler.Checker{
		"database": db.PingContext,
		"redis":    broker.Ping,
	})
	go func() {
		if err := health.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error(err, "Health check server failed")
			stop()
		}
	}()

	processor.Start(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return health.Shutdown(shutdownCtx)
}

func healthServer(addr string, checks map[string]handler.Checker) *http.Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(middleware.Recovery())
	handler.NewHandler(nil, checks).RegisterRoutes(&engine.RouterGroup)

	return &http.Server{
		Addr:              addr,
		Handler:           engine,
		ReadHeaderTimeout: 5 * time.Second,
	}
}
