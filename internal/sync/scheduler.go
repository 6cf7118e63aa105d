package sync

import (
	"context"
	"errors"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"recordsync/internal/config"
	"recordsync/internal/logger"
)

// Scheduler triggers full sync cycles on a cron expression. It complements
// the engine's own interval timer for deployments that want cron semantics
// ("every weekday at 02:00") rather than a fixed period.
type Scheduler struct {
	cfg     config.SchedulerConfig
	engine  *Engine
	cron    *cron.Cron
	entryID cron.EntryID
}

func NewScheduler(cfg config.SchedulerConfig, engine *Engine) *Scheduler {
	return &Scheduler{
		cfg:    cfg,
		engine: engine,
		cron:   cron.New(),
	}
}

func (s *Scheduler) Start() {
	if !s.cfg.Enabled {
		logger.Log.Info("Scheduler is disabled")
		return
	}

	logger.Log.Info("Starting scheduler", zap.String("interval", s.cfg.Interval))

	id, err := s.cron.AddFunc(s.cfg.Interval, s.triggerSync)
	if err != nil {
		logger.Log.Error("Failed to schedule job", zap.Error(err))
		return
	}

	s.entryID = id
	s.cron.Start()
}

func (s *Scheduler) Stop() {
	if s.cron != nil {
		s.cron.Stop()
	}
	logger.Log.Info("Stopped scheduler")
}

func (s *Scheduler) triggerSync() {
	if s.engine.State() == StatePaused {
		logger.Log.Info("Engine is paused, skipping scheduled sync")
		return
	}

	logger.Log.Info("Triggering scheduled sync")
	if _, err := s.engine.SyncNow(context.Background()); err != nil {
		if errors.Is(err, ErrSyncInProgress) {
			logger.Log.Info("Sync already running, skipping scheduled run")
			return
		}
		logger.Log.Error("Scheduled sync failed", zap.Error(err))
	}
}
