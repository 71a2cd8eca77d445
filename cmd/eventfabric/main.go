package main

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/tfplatform/eventfabric/pkg/attachments"
	"github.com/tfplatform/eventfabric/pkg/cache"
	"github.com/tfplatform/eventfabric/pkg/config"
	"github.com/tfplatform/eventfabric/pkg/control"
	"github.com/tfplatform/eventfabric/pkg/database"
	"github.com/tfplatform/eventfabric/pkg/enrichment"
	"github.com/tfplatform/eventfabric/pkg/errortracking"
	"github.com/tfplatform/eventfabric/pkg/gateway"
	"github.com/tfplatform/eventfabric/pkg/ingester"
	"github.com/tfplatform/eventfabric/pkg/logger"
	"github.com/tfplatform/eventfabric/pkg/mailer"
	"github.com/tfplatform/eventfabric/pkg/metrics"
	"github.com/tfplatform/eventfabric/pkg/middleware"
	"github.com/tfplatform/eventfabric/pkg/notifier"
	"github.com/tfplatform/eventfabric/pkg/server"
	"github.com/tfplatform/eventfabric/pkg/store"
	"github.com/tfplatform/eventfabric/pkg/streams"
)

// Stream/group assignments for the built-in processors. The gateway's
// streamMapping config routes broker addresses onto these stream keys.
const (
	unitEventsStream = "tfp-unit-events-stream"
	unitEventsGroup  = "unit-events-group"

	temperatureStream = "tfp-temperature-readings-stream"
	temperatureGroup  = "temperature-readings-group"

	assetDamagesStream = "tfp-asset-damages-stream"
	assetDamagesGroup  = "asset-damages-group"
)

// emailRetryInterval paces the failed-email rescan
const emailRetryInterval = 5 * time.Minute

func main() {
	cfgMgr := config.NewManager()
	cfg, err := cfgMgr.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger.Init(cfg.Logging.Development)
	if cfg.Logging.Path != "" {
		logger.UpdateLoggerPath(cfg.Logging.Path, cfg.Logging.Development)
	}
	logger.Info("EventFabric starting")

	tracker, err := errortracking.NewProviderFromConfig(cfg.ErrorTracking)
	if err != nil {
		logger.Error("Failed to initialize error tracking: %v", err)
		os.Exit(1)
	}
	logger.InitErrorTracking(tracker)
	defer func() { _ = logger.CloseErrorTracking() }()

	if cfg.Metrics.Enabled {
		metrics.SetProvider(metrics.NewPrometheusProvider())
	}

	ctx := context.Background()

	db, err := database.Connect(ctx, cfg.Database)
	if err != nil {
		logger.Error("Failed to connect to database: %v", err)
		os.Exit(1)
	}
	defer func() { _ = db.Close() }()

	cacheProvider, err := cache.NewProviderFromConfig(cfg.Cache)
	if err != nil {
		logger.Error("Failed to initialize cache: %v", err)
		os.Exit(1)
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Streams.Addr,
		Password: cfg.Streams.Password,
		DB:       cfg.Streams.DB,
		PoolSize: cfg.Streams.PoolSize,
	})
	defer func() { _ = redisClient.Close() }()

	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Error("Failed to reach stream store at %s: %v", cfg.Streams.Addr, err)
		os.Exit(1)
	}

	// Repositories over the shared pool
	rawEvents := store.NewRawEventRepository(db)
	errorRows := store.NewErrorIngestionRepository(db)
	templates := store.NewTemplateRepository(db, cacheProvider)
	sendLog := store.NewSendLogRepository(db)

	publisher := streams.NewPublisher(redisClient, cfg.Gateway.StreamMapping, cfg.Streams.MaxLen)
	gatewayMgr := gateway.NewManager(cfg.Gateway, rawEvents, publisher)

	orchestrator := streams.NewOrchestrator(streams.OrchestratorConfig{
		Client:       redisClient,
		Errors:       errorRows,
		ConsumerName: cfg.Streams.ConsumerName,
		PollTimeout:  time.Duration(cfg.Streams.PollTimeoutSeconds) * time.Second,
	})

	enricher := enrichment.NewClient(cfg.Enrichment, cacheProvider)
	orchestrator.Register(ingester.NewRunner(unitEventsStream, unitEventsGroup,
		ingester.NewUnitEventHandler(), db, enricher, errorRows))
	orchestrator.Register(ingester.NewRunner(temperatureStream, temperatureGroup,
		ingester.NewTemperatureReadingHandler(), db, enricher, errorRows))
	orchestrator.Register(ingester.NewRunner(assetDamagesStream, assetDamagesGroup,
		ingester.NewAssetDamageHandler(), db, enricher, errorRows))

	sender := mailer.NewMailer(cfg.Mailer, templates, sendLog,
		attachments.NewClient(cfg.Attachments), mailer.NewSMTPTransport(cfg.Mailer))
	for _, d := range notifier.BuildDispatchers(cfg.Notifier.Mappings, sender) {
		orchestrator.Register(d)
	}

	service := control.NewService(gatewayMgr, orchestrator, rawEvents, publisher)
	if err := service.StartAll(ctx); err != nil {
		logger.Error("Startup failed: %v", err)
		os.Exit(1)
	}

	retryCtx, stopRetry := context.WithCancel(ctx)
	go retryLoop(retryCtx, sender, cfg.Mailer.MaxRetries)

	handler := middleware.PanicRecovery(
		middleware.RequestSizeLimit(0)(control.NewHandler(service).Router()))

	srv := server.NewGracefulServer(server.Config{
		Addr:    cfg.Control.ListenAddr,
		Handler: handler,
	})

	// Blocks until a termination signal or a listen error
	if err := srv.ListenAndServe(); err != nil {
		logger.Error("Control server failed: %v", err)
	}

	stopRetry()
	service.StopAll()
	logger.Info("EventFabric stopped")
}

// retryLoop periodically rescans the send log for failed emails below the
// attempt ceiling
func retryLoop(ctx context.Context, sender *mailer.Mailer, maxRetries int) {
	defer logger.CatchPanic("retryLoop")

	ticker := time.NewTicker(emailRetryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sender.RetryFailedEmails(ctx, maxRetries)
		}
	}
}
