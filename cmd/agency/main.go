package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/erp/agency/internal/application/business"
	appoffline "github.com/erp/agency/internal/application/offline"
	"github.com/erp/agency/internal/domain/offline"
	"github.com/erp/agency/internal/infrastructure/auth"
	"github.com/erp/agency/internal/infrastructure/cache"
	"github.com/erp/agency/internal/infrastructure/config"
	"github.com/erp/agency/internal/infrastructure/connectivity"
	"github.com/erp/agency/internal/infrastructure/logger"
	"github.com/erp/agency/internal/infrastructure/persistence"
	"github.com/erp/agency/internal/infrastructure/remote"
	"github.com/erp/agency/internal/infrastructure/storage"
	"github.com/erp/agency/internal/infrastructure/telemetry"
	"github.com/erp/agency/internal/interfaces/http/handler"
	"github.com/erp/agency/internal/interfaces/http/middleware"
	"github.com/erp/agency/internal/interfaces/http/router"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// version is set at build time with -ldflags "-X main.version=..."
var version = "dev"

func main() {
	if len(os.Args) > 1 && os.Args[1] == "token" {
		os.Exit(runToken(os.Args[2:]))
	}

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		panic("Failed to load configuration: " + err.Error())
	}

	ctx := context.Background()
	logCfg := &logger.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		Output:     cfg.Log.Output,
		TimeFormat: "2006-01-02T15:04:05.000Z07:00",
	}

	// Bootstrap logger, replaced once the OTEL log bridge is up
	bootLog, err := logger.New(logCfg)
	if err != nil {
		panic("Failed to initialize logger: " + err.Error())
	}

	telCfg := telemetry.ConfigFrom(cfg.Telemetry, version)
	logProvider, err := telemetry.NewLoggerProvider(ctx, telCfg, bootLog)
	if err != nil {
		bootLog.Fatal("Failed to initialize log exporter", zap.Error(err))
	}
	log, err := logger.New(logCfg, telemetry.NewZapOTELCore(logProvider, cfg.App.Name, zapcore.InfoLevel))
	if err != nil {
		bootLog.Fatal("Failed to initialize logger", zap.Error(err))
	}
	defer func() {
		_ = logger.Sync(log)
	}()

	log.Info("Starting agency",
		zap.String("app", cfg.App.Name),
		zap.String("env", cfg.App.Env),
		zap.String("version", version),
		zap.String("addr", cfg.HTTP.Addr()),
	)

	tracerProvider, err := telemetry.NewTracerProvider(ctx, telCfg, log)
	if err != nil {
		log.Fatal("Failed to initialize tracer provider", zap.Error(err))
	}
	meterProvider, err := telemetry.NewMeterProvider(ctx, telCfg, log)
	if err != nil {
		log.Fatal("Failed to initialize meter provider", zap.Error(err))
	}
	syncMetrics, err := telemetry.NewSyncMetrics(telemetry.SyncMetricsConfig{
		Meter:  meterProvider.Meter("agency/offline"),
		Logger: log,
	})
	if err != nil {
		log.Fatal("Failed to create sync metrics", zap.Error(err))
	}

	// Create GORM logger backed by zap; unreachable-remote errors are routine offline
	gormLog := logger.NewGormLogger(log, logger.MapGormLogLevel(cfg.Log.Level),
		logger.WithExpectedErrors(offline.IsTransient),
	)

	// Local durable store: snapshots and the mutation queue
	db, err := persistence.Open(cfg.LocalStore,
		persistence.WithDatabaseLogger(log),
		persistence.WithGormLogger(gormLog),
	)
	if err != nil {
		log.Fatal("Failed to open local store", zap.Error(err))
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Error("Error closing local store", zap.Error(err))
		}
	}()
	store := persistence.NewDurableStore(db)

	// Remote store; opening succeeds while offline
	remoteStore, err := remote.Open(cfg.Remote, gormLog, remote.WithLogger(log))
	if err != nil {
		log.Fatal("Failed to configure remote store", zap.Error(err))
	}
	defer func() {
		if err := remoteStore.Close(); err != nil {
			log.Error("Error closing remote store", zap.Error(err))
		}
	}()
	dbTracing := telemetry.NewDBTracingPlugin(telemetry.DBTracingConfig{
		Enabled:  telCfg.Enabled && cfg.Telemetry.DBTraceEnabled,
		DBSystem: "postgresql",
	}, log)
	if err := dbTracing.RegisterOtelGorm(remoteStore.DB()); err != nil {
		log.Warn("Failed to register database tracing", zap.Error(err))
	}

	ledger, err := cache.NewLedgerFactory(cfg.Ledger, cfg.Redis,
		cache.WithLogger(log),
		cache.WithInMemoryFallback(true),
	).Create(ctx)
	if err != nil {
		log.Fatal("Failed to create replay ledger", zap.Error(err))
	}

	monitor := connectivity.NewMonitor(remoteStore, connectivity.MonitorConfig{
		PollInterval: cfg.Connectivity.PollInterval,
		PingTimeout:  cfg.Connectivity.PingTimeout,
	}, connectivity.WithLogger(log))

	services := &handler.ServiceFactory{BackupPrefix: cfg.Storage.BackupPrefix, Logger: log}
	if cfg.Storage.Enabled {
		objects, err := storage.NewS3ObjectStorage(&cfg.Storage, storage.WithLogger(log))
		if err != nil {
			log.Fatal("Failed to configure object storage", zap.Error(err))
		}
		if err := objects.EnsureBucket(ctx); err != nil {
			log.Warn("Object storage bucket check failed", zap.Error(err))
		}
		services.Images = objects
		services.Backups = objects
	} else {
		log.Warn("Object storage disabled, backups are kept in memory only")
		objects := storage.NewStubObjectStorage()
		services.Images = objects
		services.Backups = objects
	}

	hub := appoffline.NewQueueHub()
	engineCfg := appoffline.EngineConfig{
		CacheTTL: cfg.Cache.TTL,
		Sync: appoffline.SyncerConfig{
			MutationTimeout: cfg.Sync.MutationTimeout,
			LedgerTTL:       cfg.Ledger.TTL,
		},
		DrainOnStart: cfg.Sync.DrainOnStart,
	}
	deps := appoffline.EngineDeps{
		Remote:  remoteStore,
		Store:   store,
		Signal:  monitor,
		Ledger:  ledger,
		Metrics: syncMetrics,
		Logger:  log,
	}
	sessions := appoffline.NewSessions(func(userID string) (*appoffline.Engine, error) {
		engine := appoffline.NewEngine(userID, deps, engineCfg)
		business.NewService(engine.Gateway(), business.WithLogger(log)).RegisterReplay(engine.Syncer())
		engine.Notifier().AddQueueListener(hub)
		return engine, nil
	}, monitor, log)

	// Queues left by users who have not signed in since the last run are
	// replayed once the remote store is first reachable
	if cfg.Sync.DrainOnStart {
		var once sync.Once
		stopLeftovers := monitor.Subscribe(func(online bool) {
			if !online {
				return
			}
			once.Do(func() {
				go func() {
					users, err := store.PendingUsers(ctx)
					if err != nil {
						log.Warn("Failed to list pending queues", zap.Error(err))
						return
					}
					if len(users) > 0 {
						log.Info("Replaying queues left by earlier sessions", zap.Int("users", len(users)))
						sessions.DrainPending(ctx, users)
					}
				}()
			})
		})
		defer stopLeftovers()
	}

	if err := monitor.Start(ctx); err != nil {
		log.Fatal("Failed to start connectivity monitor", zap.Error(err))
	}

	jwtService := auth.NewJWTService(cfg.Auth)

	// Set Gin mode based on environment
	if cfg.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.Use(
		middleware.RequestID(),
		logger.Recovery(log),
		middleware.TracingWithConfig(middleware.TracingConfig{
			ServiceName: telCfg.ServiceName,
			Enabled:     telCfg.Enabled,
		}),
		middleware.SpanAttributes(),
		middleware.SpanErrorMarker(),
		logger.GinMiddleware(log),
		middleware.CORSWithOrigins(cfg.HTTP.CORSAllowOrigins),
		middleware.BodyLimit(cfg.HTTP.MaxBodySize,
			middleware.WithRouteLimit("/api/v1/backup/restore", cfg.HTTP.MaxRestoreSize),
		),
	)

	systemHandler := handler.NewSystemHandler(cfg.App.Name, version, db, monitor, sessions)
	engine.GET("/health", systemHandler.Health)

	handlers := router.Handlers{
		System:  systemHandler,
		Session: handler.NewSessionHandler(sessions),
		Records: handler.NewRecordHandler(services),
		Sync:    handler.NewSyncHandler(store, monitor, hub, handler.WithSyncLogger(log)),
		Backup:  handler.NewBackupHandler(services),
	}
	protected := []gin.HandlerFunc{
		middleware.SessionAuth(middleware.SessionConfig{
			Tokens:          jwtService,
			Sessions:        sessions,
			AllowQueryToken: true,
			Logger:          log,
		}),
		middleware.SpanAttributes(),
	}

	r := router.NewRouter(engine, router.WithAPIVersion("v1")).
		Register(router.Registrars(handlers, protected...)...)
	r.Setup()
	log.Debug("API routes registered", zap.Strings("routes", r.Routes()))

	srv := &http.Server{
		Addr:         cfg.HTTP.Addr(),
		Handler:      engine,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	go func() {
		log.Info("Server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", zap.Error(err))
	}
	sessions.CloseAll()
	if err := ledger.Close(); err != nil {
		log.Warn("Failed to close replay ledger", zap.Error(err))
	}
	if err := monitor.Stop(shutdownCtx); err != nil {
		log.Warn("Connectivity monitor did not stop cleanly", zap.Error(err))
	}
	for name, shutdown := range map[string]func(context.Context) error{
		"tracer": tracerProvider.Shutdown,
		"meter":  meterProvider.Shutdown,
		"logs":   logProvider.Shutdown,
	} {
		if err := shutdown(shutdownCtx); err != nil {
			fmt.Fprintf(os.Stderr, "telemetry %s shutdown: %v\n", name, err)
		}
	}

	log.Info("Server exited")
}
