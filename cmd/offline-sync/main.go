package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/pulsefit/offline-sync/internal/adapter/auth"
	"github.com/pulsefit/offline-sync/internal/adapter/sqlite"
	"github.com/pulsefit/offline-sync/internal/adapter/supabase"
	"github.com/pulsefit/offline-sync/internal/config"
	"github.com/pulsefit/offline-sync/internal/domain"
	"github.com/pulsefit/offline-sync/internal/domain/event"
	"github.com/pulsefit/offline-sync/internal/httpapi"
	"github.com/pulsefit/offline-sync/internal/logger"
	"github.com/pulsefit/offline-sync/internal/service/cache"
	"github.com/pulsefit/offline-sync/internal/service/engine"
	"github.com/pulsefit/offline-sync/internal/service/netmon"
	"github.com/pulsefit/offline-sync/internal/service/queue"
	"github.com/pulsefit/offline-sync/internal/service/scheduler"
	"github.com/pulsefit/offline-sync/internal/service/store"
)

const version = "0.1.0"

func main() {
	// Parse command line flags
	configPath := flag.String("config", "config.yaml", "Path to configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	if err := logger.Init(cfg.Logging.Level, cfg.Logging.Format); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	zapLogger := logger.GetZapLogger()
	zapLogger.Info("starting offline-sync",
		zap.String("version", version),
		zap.String("config", *configPath),
	)

	// Open database
	db, err := sqlite.Open(cfg.Database.Path)
	if err != nil {
		zapLogger.Fatal("failed to open database", zap.Error(err), zap.String("path", cfg.Database.Path))
	}
	defer db.Close()

	// Event dispatcher shared by all services
	dispatcher := event.NewInMemoryDispatcher(true)

	// Durable record store
	storeCfg := store.DefaultConfig()
	storeCfg.MaxSizeBytes = int64(cfg.Cache.MaxStoreSizeMB) * 1024 * 1024
	storeCfg.TTL = cfg.Cache.GetTTL()
	storeCfg.EncryptionSecret = []byte(cfg.Cache.EncryptionSecret)
	recordStore, err := store.New(storeCfg, db, zapLogger)
	if err != nil {
		zapLogger.Fatal("failed to create record store", zap.Error(err))
	}

	// Cache manager on top of the durable store
	cacheCfg := &cache.Config{
		MaxTotalBytes: int64(cfg.Cache.MaxCacheSizeMB) * 1024 * 1024,
		Policies:      cache.DefaultPolicies(),
	}
	cacheManager, err := cache.New(cacheCfg, recordStore, zapLogger)
	if err != nil {
		zapLogger.Fatal("failed to create cache manager", zap.Error(err))
	}

	// Network monitor
	netCfg := netmon.DefaultConfig()
	netCfg.ProbeURL = cfg.Network.ProbeURL
	netCfg.ProbeInterval = cfg.Network.GetProbeInterval()
	netCfg.ProbeTimeout = cfg.Network.GetProbeTimeout()
	netCfg.WifiOnly = cfg.Network.WifiOnlySync
	netCfg.MinQuality = domain.ParseQuality(cfg.Network.MinQuality())
	monitor := netmon.New(netCfg, dispatcher, zapLogger)

	// Persisted preference overrides win over the config file.
	if prefs, err := httpapi.LoadNetworkPrefs(db); err != nil {
		zapLogger.Warn("failed to load network preferences", zap.Error(err))
	} else if prefs != nil {
		if prefs.WifiOnly != nil {
			monitor.SetWifiOnly(*prefs.WifiOnly)
		}
		if prefs.MinQuality != nil {
			monitor.SetMinQuality(domain.ParseQuality(*prefs.MinQuality))
		}
	}

	// Operation queue
	queueCfg := queue.DefaultConfig()
	queueCfg.MaxQueueSize = cfg.Queue.MaxQueueSize
	queueCfg.MaxAttempts = cfg.Queue.MaxRetries
	queueCfg.BaseDelay = cfg.Queue.GetRetryBaseDelay()
	opQueue := queue.New(queueCfg, db, dispatcher, zapLogger)

	// Backend client and credentials
	authProvider := auth.NewFileProvider(cfg.Auth.SessionFile)
	remote := supabase.NewClient(&supabase.Config{
		BaseURL: cfg.Backend.BaseURL,
		APIKey:  cfg.Backend.APIKey,
		Timeout: cfg.Backend.GetRequestTimeout(),
	}, authProvider, zapLogger)

	// Sync engine
	engineCfg := &engine.Config{BatchSize: cfg.Sync.BatchSize}
	syncEngine := engine.New(engineCfg, remote, authProvider, cacheManager, opQueue, monitor, db, dispatcher, zapLogger)

	// Background scheduler
	schedCfg := scheduler.DefaultConfig()
	schedCfg.Enabled = cfg.Sync.BackgroundSyncEnabled
	schedCfg.Interval = cfg.Sync.GetBackgroundSyncInterval()
	schedCfg.StorageHighWaterBytes = storeCfg.MaxSizeBytes * 9 / 10
	sched := scheduler.New(schedCfg, syncEngine, monitor, cacheManager, recordStore, db, dispatcher, zapLogger)

	// HTTP status API
	httpServer := httpapi.NewServer(httpapi.Config{
		BindAddr:     cfg.HTTP.BindAddr,
		ReadTimeout:  cfg.HTTP.GetReadTimeout(),
		WriteTimeout: cfg.HTTP.GetWriteTimeout(),
	}, db, syncEngine, opQueue, cacheManager, monitor, sched, zapLogger)

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Start HTTP server
	go func() {
		if err := httpServer.Start(); err != nil {
			zapLogger.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	// Start network monitor probe loop
	go func() {
		if err := monitor.Start(ctx); err != nil && err != context.Canceled {
			zapLogger.Error("network monitor stopped with error", zap.Error(err))
		}
	}()

	// Start background scheduler
	if err := sched.Start(ctx); err != nil {
		zapLogger.Fatal("failed to start scheduler", zap.Error(err))
	}

	// Periodic cache cleanup
	if cfg.Cache.AutoCleanupEnabled {
		go func() {
			ticker := time.NewTicker(cfg.Cache.GetCleanupInterval())
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					if n, err := cacheManager.Cleanup(); err != nil {
						zapLogger.Error("cache cleanup failed", zap.Error(err))
					} else if n > 0 {
						zapLogger.Info("cache cleanup removed entries", zap.Int("removed", n))
					}
					if n, err := recordStore.CleanupExpired(); err != nil {
						zapLogger.Error("store cleanup failed", zap.Error(err))
					} else if n > 0 {
						zapLogger.Info("store cleanup removed records", zap.Int("removed", n))
					}
				}
			}
		}()
	}

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	zapLogger.Info("application started successfully",
		zap.String("http_addr", cfg.HTTP.BindAddr),
		zap.String("database", cfg.Database.Path),
	)
	<-sigChan

	zapLogger.Info("shutdown signal received, stopping services...")

	// Cancel context to stop the probe loop and cleanup ticker
	cancel()

	// Create shutdown context with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	sched.Stop()
	monitor.Stop()

	if err := httpServer.Stop(shutdownCtx); err != nil {
		zapLogger.Error("failed to stop HTTP server gracefully", zap.Error(err))
	}

	zapLogger.Info("application stopped successfully")
}
