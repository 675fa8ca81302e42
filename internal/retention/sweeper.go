// Package retention periodically trims aged metric history so series
// that stopped collecting do not hold samples past the retention window.
package retention

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/michalprusek/spheroseg-sub008/internal/logger"
	"github.com/michalprusek/spheroseg-sub008/internal/store"
)

type Config struct {
	// Schedule is a cron expression with a seconds field, or a
	// descriptor like @hourly. Defaults to @hourly.
	Schedule string
	// MaxAge is the history age cutoff. Defaults to the store's metric
	// retention window.
	MaxAge time.Duration
	// SweepTimeout bounds a single sweep run. Defaults to 5m.
	SweepTimeout time.Duration
}

// Sweeper runs PruneHistory on a cron schedule.
type Sweeper struct {
	store *store.Store
	cfg   Config
	cron  *cron.Cron

	mu      sync.Mutex
	started bool
}

func NewSweeper(st *store.Store, cfg Config) *Sweeper {
	if cfg.Schedule == "" {
		cfg.Schedule = "@hourly"
	}
	if cfg.MaxAge == 0 {
		cfg.MaxAge = store.MetricRetention
	}
	if cfg.SweepTimeout == 0 {
		cfg.SweepTimeout = 5 * time.Minute
	}
	return &Sweeper{
		store: st,
		cfg:   cfg,
		cron:  cron.New(cron.WithSeconds()),
	}
}

func (s *Sweeper) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return nil
	}

	if _, err := s.cron.AddFunc(s.cfg.Schedule, s.sweep); err != nil {
		return fmt.Errorf("schedule retention sweep: %w", err)
	}
	s.cron.Start()
	s.started = true
	logger.Infof("Retention sweeper started (schedule %q, max age %s)", s.cfg.Schedule, s.cfg.MaxAge)
	return nil
}

// Stop halts the schedule and waits for an in-flight sweep to finish.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return
	}
	<-s.cron.Stop().Done()
	s.started = false
	logger.Info("Retention sweeper stopped")
}

func (s *Sweeper) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.SweepTimeout)
	defer cancel()

	if _, err := s.RunOnce(ctx); err != nil {
		logger.Errorf("Retention sweep failed: %v", err)
	}
}

// RunOnce performs a single sweep and returns the number of history
// entries removed.
func (s *Sweeper) RunOnce(ctx context.Context) (int64, error) {
	started := time.Now()
	removed, err := s.store.PruneHistory(ctx, s.cfg.MaxAge)
	if err != nil {
		return removed, err
	}

	logger.WithFields(map[string]interface{}{
		"removed":     removed,
		"max_age":     s.cfg.MaxAge.String(),
		"duration_ms": time.Since(started).Milliseconds(),
	}).Info("Retention sweep complete")
	return removed, nil
}
