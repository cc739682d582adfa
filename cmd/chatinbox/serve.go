package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"chatinbox/internal/bot"
	"chatinbox/internal/bus"
	"chatinbox/internal/channel"
	"chatinbox/internal/config"
	"chatinbox/internal/gateway"
	"chatinbox/internal/quota"
	"chatinbox/internal/relay"
	"chatinbox/internal/router"
	"chatinbox/internal/store"
	"chatinbox/internal/tracing"
	"chatinbox/internal/webhook"

	"github.com/spf13/cobra"
)

const drainTimeout = 10 * time.Second

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the webhook ingest server",
		Long:  "Starts the HTTP server (webhook ingest, realtime websocket, metrics, health) and the relay sinks. Press Ctrl+C to stop.",
		RunE:  runServe,
	}
}

func secondsOr(n int, def time.Duration) time.Duration {
	if n <= 0 {
		return def
	}
	return time.Duration(n) * time.Second
}

func newGateway(cfg *config.Config) *gateway.Client {
	return gateway.New(gateway.Config{
		APIBase:            cfg.Gateway.APIBase,
		Timeout:            secondsOr(cfg.Gateway.TimeoutSeconds, 10*time.Second),
		RateLimitPerMinute: cfg.Gateway.RateLimitPerMinute,
		MaxRetries:         cfg.Gateway.MaxRetries,
		Logger:             logger,
	})
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, logCloser, err := loadConfig()
	if err != nil {
		return err
	}
	defer logCloser.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.Setup(ctx, tracing.Config{
		Endpoint:    cfg.Tracing.Endpoint,
		ServiceName: cfg.Tracing.ServiceName,
		SampleRatio: cfg.Tracing.SampleRatio,
	})
	if err != nil {
		logger.Warn("tracing disabled", "err", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(sctx); err != nil {
			logger.Warn("tracing shutdown", "err", err)
		}
	}()

	db, err := store.Open(ctx, cfg.Database.Path, logger)
	if err != nil {
		return fmt.Errorf("store: %w", err)
	}
	defer db.Close()

	tenants := config.NewTenants(cfg.Tenants)
	if tenants.Len() == 0 {
		logger.Warn("no tenants configured, every webhook will be rejected")
	}
	gw := newGateway(cfg)

	// Relay sinks hang off the event bus.
	events := bus.NewEventBus(logger)
	if cfg.Relay.HTTP.Enabled {
		sink := relay.NewHTTPSink(relay.HTTPSinkConfig{
			Tenants:    tenants,
			Timeout:    secondsOr(cfg.Relay.HTTP.TimeoutSeconds, 10*time.Second),
			MaxRetries: cfg.Relay.HTTP.MaxRetries,
			Logger:     logger,
		})
		events.On("*", sink.Handle)
	}
	if cfg.Relay.AMQP.Enabled {
		sink := relay.NewAMQPSink(relay.AMQPSinkConfig{
			URL:      cfg.Relay.AMQP.URL,
			Exchange: cfg.Relay.AMQP.Exchange,
			Logger:   logger,
		})
		defer sink.Close()
		events.On("*", sink.Handle)
		logger.Info("amqp relay enabled", "exchange", cfg.Relay.AMQP.Exchange)
	}

	registry, err := bot.LoadRegistry(cfg.Bots.File, logger)
	if err != nil {
		return fmt.Errorf("bots: %w", err)
	}
	ledger := quota.NewLedger(quota.LedgerConfig{
		Store:       db,
		Tenants:     tenants,
		DefaultPlan: cfg.Quota.DefaultPlan,
		Logger:      logger,
	})
	bots := bot.NewService(bot.ServiceConfig{
		Registry:   registry,
		Ledger:     ledger,
		MaxRetries: cfg.Bots.MaxRetries,
		Logger:     logger,
	})

	hub := channel.NewHub(channel.HubConfig{Tenants: tenants, Logger: logger})

	engine := router.New(router.Config{
		Store:          db,
		Lookup:         gw,
		Broadcaster:    hub,
		Relay:          relay.NewDispatcher(events, logger),
		Bots:           bots,
		Outbound:       gw,
		ContactDomain:  cfg.Identity.ContactDomain,
		FallbackPolicy: webhook.FallbackPolicy(cfg.Ingest.FallbackIDPolicy),
		Logger:         logger,
	})

	var queue *bus.Queue
	if cfg.Ingest.Mode == channel.ModeQueue {
		queue = bus.NewQueue(cfg.Ingest.QueueSize, logger)
	}
	ingest := channel.NewIngest(channel.IngestConfig{
		Tenants: tenants,
		Handler: engine,
		Queue:   queue,
		Logger:  logger,
	})

	// Workers outlive the signal context so buffered deliveries can drain.
	workersDone := make(chan struct{})
	workerCtx, cancelWorkers := context.WithCancel(context.Background())
	defer cancelWorkers()
	if queue != nil {
		go func() {
			defer close(workersDone)
			queue.Run(workerCtx, cfg.Ingest.Workers, ingest.Process)
		}()
		logger.Info("ingest queue started", "workers", cfg.Ingest.Workers, "size", cfg.Ingest.QueueSize)
	} else {
		close(workersDone)
	}

	metricsPath := ""
	if cfg.Metrics.Enabled {
		metricsPath = cfg.Metrics.Endpoint
	}
	server := channel.NewServer(channel.ServerConfig{
		Host:         cfg.Server.Host,
		Port:         cfg.Server.Port,
		WebhookPath:  cfg.Server.WebhookPath,
		RealtimePath: cfg.Realtime.Path,
		MetricsPath:  metricsPath,
		Ingest:       ingest,
		Hub:          hub,
		Logger:       logger,
	})

	logger.Info("chatinbox started", "version", version, "tenants", tenants.Len(), "mode", ingest.Mode(), "bots", len(registry.IDs()))
	serveErr := server.Start(ctx)
	stop()

	if queue != nil {
		queue.Close()
	}
	select {
	case <-workersDone:
	case <-time.After(drainTimeout):
		logger.Warn("ingest drain timed out", "pending", queue.Len())
		cancelWorkers()
		<-workersDone
	}

	if serveErr != nil && !errors.Is(serveErr, context.Canceled) {
		return serveErr
	}
	logger.Info("shutdown complete")
	return nil
}
