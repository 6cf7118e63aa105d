package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"recordsync/internal/api"
	"recordsync/internal/config"
	"recordsync/internal/database"
	"recordsync/internal/logger"
	"recordsync/internal/record"
	"recordsync/internal/store"
	"recordsync/internal/sync"
	"recordsync/internal/transport"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	if err := logger.InitLogger(cfg.Logging.Level, cfg.Logging.Format); err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Log.Info("Starting record sync service")

	startupCtx, cancelStartup := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelStartup()

	auditStore, err := newAuditStore(startupCtx, cfg.StateStorage)
	if err != nil {
		logger.Log.Fatal("Failed to init audit store", zap.Error(err))
	}
	defer auditStore.Close()

	remote, remoteDB, err := newTransport(startupCtx, cfg.Remote)
	if err != nil {
		logger.Log.Fatal("Failed to init remote transport", zap.Error(err))
	}
	defer remote.Close()

	engineCfg := sync.EngineConfig{
		DetectionMode:           sync.DetectionMode(cfg.Engine.DetectionMode),
		Strategy:                sync.Strategy(cfg.Engine.Strategy),
		TimestampTolerance:      cfg.Engine.GetTimestampTolerance(),
		HistoryLimit:            cfg.Engine.HistoryLimit,
		RemoteWinsTrueConflicts: cfg.Engine.RemoteWinsTrueConflicts,
	}
	if cfg.Engine.AutoSync.Enabled {
		engineCfg.AutoSyncInterval = cfg.Engine.AutoSync.GetInterval()
	}
	if err := engineCfg.Validate(); err != nil {
		logger.Log.Fatal("Invalid engine config", zap.Error(err))
	}

	resolutions := sync.DefaultResolutionManager(engineCfg, record.JSONCodec{}, nil)
	resolutions.WithAuditStore(auditStore)

	engine := sync.NewEngine(engineCfg, remote, resolutions, sync.WithAuditStore(auditStore))
	engine.Start()
	defer engine.Stop()

	scheduler := sync.NewScheduler(cfg.Scheduler, engine)
	scheduler.Start()
	defer scheduler.Stop()

	if cfg.Remote.Realtime && remoteDB != nil {
		watcher, err := sync.NewRemoteWatcher(cfg.Remote.Database, engine)
		if err != nil {
			logger.Log.Fatal("Failed to init remote watcher", zap.Error(err))
		}
		watcher.Start()
		defer watcher.Stop()
	}

	handler := api.NewHandler(engine, auditStore, cfg.Server)
	serverAddr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:         serverAddr,
		Handler:      handler.Routes(),
		ReadTimeout:  cfg.Server.GetReadTimeout(),
		WriteTimeout: cfg.Server.GetWriteTimeout(),
	}

	go func() {
		logger.Log.Info("Server listening", zap.String("addr", serverAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Log.Fatal("Server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Log.Info("Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Log.Warn("Server shutdown error", zap.Error(err))
	}
}

func newAuditStore(ctx context.Context, cfg config.StateStorage) (store.Store, error) {
	switch cfg.Type {
	case "mysql":
		db, err := database.NewDatabase(config.DatabaseConnection{
			Host:     cfg.Host,
			Port:     cfg.Port,
			User:     cfg.User,
			Password: cfg.Password,
			Database: cfg.Database,
		})
		if err != nil {
			return nil, err
		}
		if err := db.WaitReady(ctx, time.Second); err != nil {
			db.Close()
			return nil, err
		}
		s, err := store.NewMySQLStore(db)
		if err != nil {
			db.Close()
			return nil, err
		}
		return s, nil
	default:
		return store.NewMemoryStore(), nil
	}
}

func newTransport(ctx context.Context, cfg config.RemoteConfig) (transport.Transport, *database.Database, error) {
	switch cfg.Type {
	case "mysql":
		db, err := database.NewDatabase(cfg.Database)
		if err != nil {
			return nil, nil, err
		}
		if err := db.WaitReady(ctx, time.Second); err != nil {
			db.Close()
			return nil, nil, err
		}
		t, err := transport.NewMySQLTransport(db, cfg.Compression)
		if err != nil {
			db.Close()
			return nil, nil, err
		}
		return t, db, nil
	default:
		return transport.NewMemoryTransport(), nil, nil
	}
}
