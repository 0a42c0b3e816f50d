package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/andrewcho-dev/opsconductor-pulse-sub011/internal/bridge"
	"github.com/andrewcho-dev/opsconductor-pulse-sub011/internal/config"
	"github.com/andrewcho-dev/opsconductor-pulse-sub011/internal/delivery"
	"github.com/andrewcho-dev/opsconductor-pulse-sub011/internal/envelope"
	"github.com/andrewcho-dev/opsconductor-pulse-sub011/internal/ingest"
	"github.com/andrewcho-dev/opsconductor-pulse-sub011/internal/log"
	"github.com/andrewcho-dev/opsconductor-pulse-sub011/internal/metrics"
	"github.com/andrewcho-dev/opsconductor-pulse-sub011/internal/mqtt"
	"github.com/andrewcho-dev/opsconductor-pulse-sub011/internal/ratelimit"
	"github.com/andrewcho-dev/opsconductor-pulse-sub011/internal/registry"
	"github.com/andrewcho-dev/opsconductor-pulse-sub011/internal/routing"
	"github.com/andrewcho-dev/opsconductor-pulse-sub011/internal/stream"
	"github.com/andrewcho-dev/opsconductor-pulse-sub011/internal/writer"
)

func run() int {
	logger := log.New()
	logger.Info("Starting pulse pipeline")

	cfg, err := loadAndLogConfig(logger)
	if err != nil {
		return 1
	}

	store, mqttPool, err := connectBackends(cfg, logger)
	if err != nil {
		return 1
	}
	defer closeBackends(store, mqttPool, logger)

	pipeline, err := buildPipeline(cfg, store, mqttPool, logger)
	if err != nil {
		return 1
	}

	return runMainLoop(cfg, pipeline, logger)
}

func loadAndLogConfig(logger *log.Logger) (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		logger.Error("Failed to load configuration: %v", err)
		return nil, err
	}
	if routesPath != "" {
		cfg.Stream.RoutesFile = routesPath
	}
	if listenAddr != "" {
		cfg.HTTP.ListenAddr = listenAddr
	}

	logger.Info("Configuration loaded successfully")
	logger.Info("Stream backend: %s, ack-wait: %s", cfg.Stream.Backend, cfg.Stream.AckWait)
	logger.Info("MQTT: %s, bridge topic: %s", cfg.MQTT.Broker, cfg.MQTT.BridgeTopic)
	logger.Info("HTTP: %s, routes: %s", cfg.HTTP.ListenAddr, cfg.Stream.RoutesFile)
	return cfg, nil
}

func connectBackends(cfg *config.Config, logger *log.Logger) (stream.Store, *mqtt.Pool, error) {
	store, err := stream.New(cfg, logger)
	if err != nil {
		logger.Error("Failed to create stream store: %v", err)
		return nil, nil, err
	}
	logger.Info("Connected to %s stream backend", cfg.Stream.Backend)

	mqttPool, err := mqtt.NewPool(&cfg.MQTT, cfg.MQTT.PoolSize, logger)
	if err != nil {
		logger.Error("Failed to create MQTT pool: %v", err)
		_ = store.Close()
		return nil, nil, err
	}
	logger.Info("Connected to MQTT broker with %d connections", cfg.MQTT.PoolSize)

	return store, mqttPool, nil
}

func closeBackends(store stream.Store, mqttPool *mqtt.Pool, logger *log.Logger) {
	if err := mqttPool.Close(); err != nil {
		logger.Error("Error closing MQTT pool: %v", err)
	}
	if err := store.Close(); err != nil {
		logger.Error("Error closing stream store: %v", err)
	}
}

// pipeline bundles every component with a Run(ctx) loop plus the
// bridge subscription.
type pipeline struct {
	bridge   *bridge.Bridge
	server   *bridge.Server
	batcher  *writer.Batcher
	ingest   *ingest.Pool
	delivery *delivery.Pool
	store    stream.Store
	metrics  *metrics.Metrics
}

func buildPipeline(cfg *config.Config, store stream.Store, mqttPool *mqtt.Pool, logger *log.Logger) (*pipeline, error) {
	routes, err := routing.Load(cfg.Stream.RoutesFile)
	if err != nil {
		logger.Error("Failed to load route table: %v", err)
		return nil, err
	}
	logger.Info("Loaded %d routes", routes.Len())

	m := metrics.New()

	lookup := registry.NewHTTPLookup(cfg.Registry.Endpoint, cfg.Registry.LookupTimeout)
	auth := registry.NewAuthCache(&cfg.Registry, lookup, logger)
	limiter := ratelimit.New(cfg.Ingest.RateRPS, cfg.Ingest.RateBurst)

	sink := writer.NewHTTPSink(cfg.Writer.Endpoint, cfg.Writer.RequestTimeout)
	batcher := writer.NewBatcher(&cfg.Writer, sink, m, logger)

	dispatchers := delivery.Dispatchers{
		routing.DestWebhook:   delivery.NewWebhookDispatcher(cfg.Delivery.WebhookTimeout),
		routing.DestRepublish: delivery.NewRepublishDispatcher(mqttPool),
		routing.DestStorage:   &delivery.StorageDispatcher{},
	}

	return &pipeline{
		bridge:  bridge.New(&cfg.MQTT, mqttPool, store, logger),
		server:  bridge.NewServer(&cfg.HTTP, store, m, logger),
		batcher: batcher,
		ingest: ingest.NewPool(&cfg.Ingest, store, auth, limiter, batcher, routes,
			cfg.Pipeline.ErrorBackoff, m, logger),
		delivery: delivery.NewPool(&cfg.Delivery, store, dispatchers, delivery.NewDeadLetters(store),
			cfg.Pipeline.ErrorBackoff, m, logger),
		store:   store,
		metrics: m,
	}, nil
}

func runMainLoop(cfg *config.Config, p *pipeline, logger *log.Logger) int {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	if err := p.bridge.Start(); err != nil {
		logger.Error("Failed to start bridge: %v", err)
		return 1
	}

	var wg sync.WaitGroup
	errChan := make(chan error, 8)
	start := func(name string, loop func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := loop(ctx); err != nil && !errors.Is(err, context.Canceled) {
				errChan <- fmt.Errorf("%s: %w", name, err)
			}
		}()
	}

	start("writer", p.batcher.Run)
	start("ingest", p.ingest.Run)
	start("delivery", p.delivery.Run)
	start("http", p.server.Run)
	start("stats", func(ctx context.Context) error {
		return statsLoop(ctx, cfg, p)
	})

	logger.Info("Pipeline started")

	select {
	case sig := <-sigChan:
		logger.Info("Received signal %v, initiating graceful shutdown", sig)
		cancel()
		return handleGracefulShutdown(cfg, p, &wg, logger)

	case err := <-errChan:
		logger.Error("Pipeline error: %v", err)
		cancel()
		wg.Wait()
		p.batcher.Close()
		return 1
	}
}

func handleGracefulShutdown(cfg *config.Config, p *pipeline, wg *sync.WaitGroup, logger *log.Logger) int {
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Pipeline.ShutdownTimeout)
	defer shutdownCancel()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		// Ingest workers have settled their in-flight batches; only now
		// is the writer's final flush guaranteed to cover every record.
		p.batcher.Close()
		logger.Info("Graceful shutdown completed")
		return 0
	case <-shutdownCtx.Done():
		p.batcher.Close()
		logger.Error("Shutdown timeout exceeded")
		return 1
	}
}

// statsLoop refreshes the stream depth and pending gauges. The
// quarantine and dead-letter streams have no consumer group; their depth
// is polled with an empty group.
func statsLoop(ctx context.Context, cfg *config.Config, p *pipeline) error {
	groups := map[string]string{
		envelope.ClassTelemetry:   cfg.Ingest.Group,
		envelope.ClassStateReport: cfg.Ingest.Group,
		envelope.ClassCommandAck:  cfg.Ingest.Group,
		envelope.ClassDeliveryJob: cfg.Delivery.Group,
		envelope.ClassQuarantine:  "",
		envelope.ClassDeadLetter:  "",
	}

	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			for class, group := range groups {
				st, err := p.store.Stats(ctx, class, group)
				if err != nil {
					continue
				}
				p.metrics.StreamDepth.WithLabelValues(class).Set(float64(st.Depth))
				if group != "" {
					p.metrics.StreamPending.WithLabelValues(class, group).Set(float64(st.Pending))
				}
			}
		}
	}
}
