package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Scheduler runs periodic maintenance: notification retention cleanup,
// expired silencing rule purge, and threshold auto-adjustment.
type Scheduler struct {
	mu     sync.RWMutex
	engine *Engine
	logger *slog.Logger
	cancel context.CancelFunc
	done   chan struct{}

	interval      time.Duration
	retentionDays int
	adjustMetrics []string
	adjustDays    int
	adjustFactor  float64
}

type SchedulerConfig struct {
	// Interval between maintenance passes. Defaults to one hour.
	Interval time.Duration
	// RetentionDays is the notification retention window.
	RetentionDays int
	// AdjustMetrics lists metrics whose thresholds get recomputed from
	// recent samples. Empty disables auto-adjustment.
	AdjustMetrics []string
	AdjustDays    int
	AdjustFactor  float64
}

func NewScheduler(engine *Engine, logger *slog.Logger, cfg SchedulerConfig) *Scheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Hour
	}
	if cfg.RetentionDays <= 0 {
		cfg.RetentionDays = 90
	}
	if cfg.AdjustDays <= 0 {
		cfg.AdjustDays = 30
	}
	if cfg.AdjustFactor <= 0 {
		cfg.AdjustFactor = 2.0
	}
	return &Scheduler{
		engine:        engine,
		logger:        logger.With("component", "scheduler"),
		interval:      cfg.Interval,
		retentionDays: cfg.RetentionDays,
		adjustMetrics: cfg.AdjustMetrics,
		adjustDays:    cfg.AdjustDays,
		adjustFactor:  cfg.AdjustFactor,
	}
}

// Start begins the maintenance loop.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	s.mu.Unlock()

	go func() {
		defer close(s.done)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.tick()
			}
		}
	}()
}

// Stop gracefully stops the scheduler.
func (s *Scheduler) Stop() {
	s.mu.RLock()
	cancel := s.cancel
	done := s.done
	s.mu.RUnlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}

func (s *Scheduler) tick() {
	if _, err := s.engine.CleanupOldNotifications(s.retentionDays); err != nil {
		s.logger.Error("retention cleanup failed", "error", err)
	}
	if _, err := s.engine.alerts.PurgeExpiredSilences(s.engine.now()); err != nil {
		s.logger.Error("silence purge failed", "error", err)
	}
	for _, metric := range s.adjustMetrics {
		adjusted, err := s.engine.thresholds.AutoAdjust(metric, s.adjustDays, s.adjustFactor)
		if err != nil {
			s.logger.Error("threshold auto-adjust failed", "metric", metric, "error", err)
			continue
		}
		if adjusted {
			s.logger.Info("threshold auto-adjusted", "metric", metric)
		}
	}
}
