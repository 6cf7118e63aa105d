package sync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-mysql-org/go-mysql/canal"
	"go.uber.org/zap"

	"recordsync/internal/config"
	"recordsync/internal/logger"
)

// remoteTable is the replica table the watcher follows.
const remoteTable = "sync_records"

// RemoteWatcher follows the MySQL remote's binlog and triggers a sync cycle
// when the sync_records table changes, so remote writes propagate without
// waiting for the next timer tick. Events are coalesced through a buffered
// channel; a burst of remote writes produces one cycle, not one per row.
type RemoteWatcher struct {
	cfg      config.DatabaseConnection
	engine   *Engine
	canal    *canal.Canal
	notify   chan struct{}
	ctx      context.Context
	cancel   context.CancelFunc
	debounce time.Duration
}

func NewRemoteWatcher(cfg config.DatabaseConnection, engine *Engine) (*RemoteWatcher, error) {
	user := cfg.ReplicationUser
	password := cfg.ReplicationPassword
	if user == "" {
		user = cfg.User
		password = cfg.Password
	}

	c, err := canal.NewCanal(&canal.Config{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		User:     user,
		Password: password,
		Flavor:   "mysql",
		ServerID: 100, // Should be unique per replication client
		Dump: canal.DumpConfig{
			ExecutionPath: "", // Follow the binlog only, no initial dump
		},
		IncludeTableRegex: []string{fmt.Sprintf("^%s\\.%s$", cfg.Database, remoteTable)},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create canal: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	w := &RemoteWatcher{
		cfg:      cfg,
		engine:   engine,
		canal:    c,
		notify:   make(chan struct{}, 1),
		ctx:      ctx,
		cancel:   cancel,
		debounce: 2 * time.Second,
	}
	c.SetEventHandler(&remoteEventHandler{watcher: w})

	return w, nil
}

func (w *RemoteWatcher) Start() {
	logger.Log.Info("Starting remote watcher",
		zap.String("host", w.cfg.Host),
		zap.String("table", remoteTable),
	)

	go func() {
		if err := w.canal.Run(); err != nil {
			logger.Log.Error("Canal run error", zap.Error(err))
		}
	}()

	go w.loop()
}

func (w *RemoteWatcher) Stop() {
	w.cancel()
	w.canal.Close()
	logger.Log.Info("Stopped remote watcher")
}

func (w *RemoteWatcher) loop() {
	for {
		select {
		case <-w.ctx.Done():
			return
		case <-w.notify:
		}

		// Let the burst settle before syncing.
		select {
		case <-w.ctx.Done():
			return
		case <-time.After(w.debounce):
		}

		if w.engine.State() == StatePaused {
			continue
		}

		logger.Log.Debug("Remote change detected, triggering sync")
		if _, err := w.engine.SyncNow(w.ctx); err != nil && !errors.Is(err, ErrSyncInProgress) {
			logger.Log.Warn("Watcher-triggered sync failed", zap.Error(err))
		}
	}
}

func (w *RemoteWatcher) signal() {
	select {
	case w.notify <- struct{}{}:
	default:
	}
}

type remoteEventHandler struct {
	canal.DummyEventHandler
	watcher *RemoteWatcher
}

func (h *remoteEventHandler) OnRow(e *canal.RowsEvent) error {
	if e.Table.Name != remoteTable {
		return nil
	}

	switch e.Action {
	case canal.InsertAction, canal.UpdateAction, canal.DeleteAction:
		h.watcher.signal()
	}
	return nil
}

func (h *remoteEventHandler) String() string {
	return "RemoteWatcher"
}
