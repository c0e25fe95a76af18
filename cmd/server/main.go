package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/erp/fulfillment/internal/application/bulk"
	appfulfillment "github.com/erp/fulfillment/internal/application/fulfillment"
	appinvoicing "github.com/erp/fulfillment/internal/application/invoicing"
	"github.com/erp/fulfillment/internal/domain/fulfillment"
	"github.com/erp/fulfillment/internal/domain/integration"
	"github.com/erp/fulfillment/internal/domain/invoicing"
	"github.com/erp/fulfillment/internal/infrastructure/cache"
	"github.com/erp/fulfillment/internal/infrastructure/config"
	"github.com/erp/fulfillment/internal/infrastructure/event"
	"github.com/erp/fulfillment/internal/infrastructure/fiscal"
	"github.com/erp/fulfillment/internal/infrastructure/labels"
	"github.com/erp/fulfillment/internal/infrastructure/logger"
	"github.com/erp/fulfillment/internal/infrastructure/marketplace"
	"github.com/erp/fulfillment/internal/infrastructure/persistence"
	"github.com/erp/fulfillment/internal/infrastructure/realtime"
	"github.com/erp/fulfillment/internal/infrastructure/scheduler"
	"github.com/erp/fulfillment/internal/infrastructure/telemetry"
	"github.com/erp/fulfillment/internal/interfaces/http/handler"
	"github.com/erp/fulfillment/internal/interfaces/http/middleware"
	"github.com/erp/fulfillment/internal/interfaces/http/router"
)

// version is set at build time with -ldflags "-X main.version=..."
var version = "dev"

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		panic("Failed to load configuration: " + err.Error())
	}

	// Initialize logger
	baseLog, err := logger.New(&logger.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		Output:     cfg.Log.Output,
		TimeFormat: "2006-01-02T15:04:05.000Z07:00",
		Service:    cfg.App.Name,
		Env:        cfg.App.Env,
	})
	if err != nil {
		panic("Failed to initialize logger: " + err.Error())
	}

	// Telemetry comes up before anything else so its providers cover startup
	tel, err := telemetry.Setup(context.Background(), cfg.Telemetry, baseLog)
	if err != nil {
		baseLog.Fatal("Failed to initialize telemetry", zap.Error(err))
	}
	log := tel.BridgeLogger(baseLog, logger.ParseLevel(cfg.Log.Level))
	defer func() {
		_ = log.Sync()
	}()

	log.Info("Starting fulfillment service",
		zap.String("app", cfg.App.Name),
		zap.String("env", cfg.App.Env),
		zap.String("port", cfg.App.Port),
		zap.String("invoicing_environment", cfg.Invoicing.Environment),
	)

	// Database: the unified order view and invoice records
	db, err := persistence.NewDatabase(&cfg.Database, log, cfg.Log.Level)
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	if cfg.Telemetry.DBTracing {
		if err := telemetry.RegisterDBTracing(db.DB, 200*time.Millisecond, log); err != nil {
			log.Warn("Database tracing disabled", zap.Error(err))
		}
	}
	log.Info("Database connected successfully")

	// Coordination backends: realtime dedupe and emission locks
	backends, err := cache.NewFactory(cfg.Redis, cfg.Invoicing, cache.WithLogger(log)).Create(context.Background())
	if err != nil {
		log.Fatal("Failed to initialize coordination backends", zap.Error(err))
	}
	var guard invoicing.EmissionGuard = appinvoicing.NewLocalEmissionGuard()
	if backends.Guard != nil {
		guard = backends.Guard
	}

	metrics, err := telemetry.NewFulfillmentMetrics(tel.Meter("fulfillment"))
	if err != nil {
		log.Fatal("Failed to create metrics", zap.Error(err))
	}

	// Domain events: reload notifications clear selections and may be
	// forwarded to the shared events topic
	eventBus := event.NewInMemoryEventBus(log)
	selections := bulk.NewSelections()
	eventBus.Subscribe(selections, selections.EventTypes()...)

	var eventWriter interface{ Close() error }
	if cfg.Kafka.Enabled && cfg.Kafka.EventsTopic != "" {
		serializer := event.NewEventSerializer()
		event.RegisterAllEvents(serializer)
		writer := realtime.NewKafkaWriter(cfg.Kafka.Brokers, cfg.Kafka.EventsTopic)
		forwarder := realtime.NewEventForwarder(writer, serializer,
			fulfillment.EventTypeOrdersReloaded,
			fulfillment.EventTypeMutationRolledBack,
		)
		eventBus.Subscribe(forwarder, forwarder.EventTypes()...)
		eventWriter = writer
		log.Info("Forwarding domain events", zap.String("topic", cfg.Kafka.EventsTopic))
	}
	if err := eventBus.Start(context.Background()); err != nil {
		log.Fatal("Failed to start event bus", zap.Error(err))
	}

	// Order reconciliation sessions
	var subscriber integration.OrderSubscriber
	if cfg.Kafka.Enabled {
		subscriber = realtime.NewKafkaSubscriber(cfg.Kafka, cfg.Store.EventBuffer, log)
	} else {
		log.Info("Kafka disabled, orders only change through reloads and local mutations")
	}
	storeCfg := storeConfig(cfg)
	sessions := appfulfillment.NewSessionManager(
		storeCfg,
		appfulfillment.NewNormalizer(storeCfg.Location, metrics, log),
		persistence.NewGormOrderSource(db.DB, cfg.Database.OrdersView, log),
		subscriber,
		log,
		appfulfillment.WithIdempotencyStore(backends.Idempotency),
		appfulfillment.WithEventPublisher(eventBus),
		appfulfillment.WithRecorder(metrics),
	)

	// External collaborators
	focus := fiscal.NewFocusClient(cfg.Invoicing,
		fiscal.WithCallObserver(metrics.ExternalCall),
		fiscal.WithLogger(log),
	)
	syncClient, err := marketplace.NewSyncClient(cfg.Marketplace)
	if err != nil {
		log.Fatal("Failed to create marketplace sync client", zap.Error(err))
	}

	var labelRenderer integration.LabelRenderer
	s3Labels, err := labels.NewS3LabelRenderer(context.Background(), cfg.Labels, labels.WithLogger(log))
	if err != nil {
		log.Fatal("Failed to create label renderer", zap.Error(err))
	}
	labelRenderer = s3Labels
	var labelCache *labels.PebbleLabelCache
	if cfg.Labels.CacheDir != "" {
		labelCache, err = labels.NewPebbleLabelCache(cfg.Labels.CacheDir, s3Labels, cfg.Labels.CacheTTL, log)
		if err != nil {
			log.Fatal("Failed to open label cache", zap.Error(err))
		}
		labelRenderer = labelCache
	}

	// Invoicing pipeline
	orchestratorCfg := appinvoicing.DefaultConfig()
	orchestratorCfg.MaxRetries = cfg.Invoicing.MaxRetries
	orchestrator := appinvoicing.NewOrchestrator(
		orchestratorCfg,
		focus,
		persistence.NewGormInvoiceRecordRepository(db.DB),
		nil,
		appinvoicing.SessionStores(sessions),
		appinvoicing.WithGuard(guard),
		appinvoicing.WithRecorder(metrics),
		appinvoicing.WithLogger(log),
	)

	var emissionScheduler *scheduler.EmissionScheduler
	var statusPoller *scheduler.StatusPoller
	if cfg.Scheduler.Enabled {
		emissionScheduler, err = scheduler.NewEmissionScheduler(scheduler.EmissionSchedulerConfigFrom(cfg), orchestrator, log)
		if err != nil {
			log.Fatal("Failed to create emission scheduler", zap.Error(err))
		}
		if err := emissionScheduler.Start(context.Background()); err != nil {
			log.Fatal("Failed to start emission scheduler", zap.Error(err))
		}
		orchestrator.SetQueue(emissionScheduler)

		statusPoller, err = scheduler.NewStatusPoller(cfg.Invoicing.PollInterval, cfg.Invoicing.Timeout, orchestrator, log)
		if err != nil {
			log.Fatal("Failed to create status poller", zap.Error(err))
		}
		if err := statusPoller.Start(context.Background()); err != nil {
			log.Fatal("Failed to start status poller", zap.Error(err))
		}
		log.Info("Emission scheduler started",
			zap.Int("workers", cfg.Scheduler.MaxConcurrentJobs),
			zap.Duration("poll_interval", cfg.Invoicing.PollInterval),
		)
	} else {
		log.Warn("Scheduler disabled, emission requests will be rejected")
	}

	reload := func(ctx context.Context, tenantID uuid.UUID) error {
		store, ok := sessions.Get(tenantID)
		if !ok {
			return nil
		}
		_, err := store.Reload(ctx, integration.OrderFilter{})
		return err
	}
	coordinator := bulk.NewCoordinator(selections, syncClient, orchestrator, labelRenderer, reload, cfg.Store.BulkConcurrency, log)

	// HTTP
	if cfg.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	middleware.SetupValidator()

	engine := gin.New()
	if err := engine.SetTrustedProxies(cfg.HTTP.TrustedProxies); err != nil {
		log.Fatal("Invalid trusted proxies", zap.Error(err))
	}

	corsCfg := middleware.DefaultCORSConfig()
	corsCfg.AllowOrigins = cfg.HTTP.CORSAllowOrigins
	tracingCfg := middleware.DefaultTracingConfig()
	tracingCfg.ServiceName = cfg.Telemetry.ServiceName
	tracingCfg.Enabled = cfg.Telemetry.TracingEnabled

	httpMetrics, err := middleware.Metrics(tel.Meter("fulfillment.http"))
	if err != nil {
		log.Fatal("Failed to create HTTP metrics", zap.Error(err))
	}

	engine.Use(
		middleware.RequestID(),
		logger.Recovery(log),
		logger.GinMiddleware(log),
		middleware.Secure(),
		middleware.CORS(corsCfg),
		middleware.BodyLimit(middleware.DefaultBodyLimit),
		middleware.Tracing(tracingCfg),
		httpMetrics,
	)

	var jobHistory handler.JobHistory
	if emissionScheduler != nil {
		jobHistory = emissionScheduler
	}

	systemHandler := handler.NewSystemHandler(version, map[string]handler.ReadinessCheck{
		"database": db.Ping,
		"redis":    backends.Ping,
	})
	engine.GET("/health", systemHandler.Health)
	engine.GET("/ready", systemHandler.Ready)

	tenantCfg := middleware.DefaultTenantConfig()
	tenantCfg.DefaultEnvironment = invoicing.Environment(cfg.Invoicing.Environment)
	tenantCfg.Logger = log

	r := router.NewRouter(engine)
	r.Use(middleware.Tenant(tenantCfg), middleware.SpanAttributes())

	system := router.NewDomainGroup("system", "/system")
	system.GET("/info", systemHandler.Info)
	r.Register(system)

	router.Fulfillment(r, router.Handlers{
		Orders:    handler.NewOrderHandler(sessions, selections),
		Selection: handler.NewSelectionHandler(sessions, selections),
		Bulk:      handler.NewBulkHandler(sessions, coordinator),
		Invoices:  handler.NewInvoiceHandler(orchestrator, jobHistory),
	}).Setup()

	// Create HTTP server with config
	srv := &http.Server{
		Addr:           ":" + cfg.App.Port,
		Handler:        engine,
		ReadTimeout:    cfg.HTTP.ReadTimeout,
		WriteTimeout:   cfg.HTTP.WriteTimeout,
		IdleTimeout:    cfg.HTTP.IdleTimeout,
		MaxHeaderBytes: cfg.HTTP.MaxHeaderBytes,
	}

	// Start server in goroutine
	go func() {
		log.Info("Server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error("Server forced to shutdown", zap.Error(err))
	}
	if statusPoller != nil {
		if err := statusPoller.Stop(ctx); err != nil {
			log.Error("Error stopping status poller", zap.Error(err))
		}
	}
	if emissionScheduler != nil {
		if err := emissionScheduler.Stop(ctx); err != nil {
			log.Error("Error stopping emission scheduler", zap.Error(err))
		}
	}
	if err := sessions.Close(ctx); err != nil {
		log.Error("Error closing tenant sessions", zap.Error(err))
	}
	if err := eventBus.Stop(ctx); err != nil {
		log.Error("Error stopping event bus", zap.Error(err))
	}
	if eventWriter != nil {
		if err := eventWriter.Close(); err != nil {
			log.Error("Error closing events writer", zap.Error(err))
		}
	}
	if labelCache != nil {
		if err := labelCache.Close(); err != nil {
			log.Error("Error closing label cache", zap.Error(err))
		}
	}
	if err := backends.Close(); err != nil {
		log.Error("Error closing coordination backends", zap.Error(err))
	}
	if err := db.Close(); err != nil {
		log.Error("Error closing database", zap.Error(err))
	}
	if err := tel.Shutdown(ctx); err != nil {
		baseLog.Error("Error shutting down telemetry", zap.Error(err))
	}

	baseLog.Info("Server exited gracefully")
}

// storeConfig maps the store section onto the reconciliation store settings
func storeConfig(cfg *config.Config) appfulfillment.StoreConfig {
	c := appfulfillment.DefaultStoreConfig()
	c.PageSize = cfg.Store.PageSize
	c.OptimisticTimeout = cfg.Store.OptimisticTimeout
	c.Location = cfg.Store.Location()
	c.EventBuffer = cfg.Store.EventBuffer
	c.DedupeTTL = cfg.Store.DedupeTTL
	if len(cfg.Store.ShippingPriority) > 0 {
		priority := make([]fulfillment.ShippingType, 0, len(cfg.Store.ShippingPriority))
		for _, s := range cfg.Store.ShippingPriority {
			priority = append(priority, fulfillment.NormalizeShippingType(s))
		}
		c.ShippingPriority = priority
	}
	return c
}
