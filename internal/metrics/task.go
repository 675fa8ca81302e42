package metrics

import (
	"context"
	"sync"
	"time"

	"github.com/michalprusek/spheroseg-sub008/internal/logger"
)

// collectorTask is the recurring collection job for one metric. Each
// registered metric owns exactly one task; re-registration cancels the
// old task before a replacement starts.
type collectorTask struct {
	metric   string
	interval time.Duration
	service  *Service

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func newCollectorTask(s *Service, metric string, interval time.Duration) *collectorTask {
	ctx, cancel := context.WithCancel(context.Background())
	return &collectorTask{
		metric:   metric,
		interval: interval,
		service:  s,
		ctx:      ctx,
		cancel:   cancel,
	}
}

func (t *collectorTask) start() {
	t.wg.Add(1)
	go t.run()
}

func (t *collectorTask) stop() {
	t.cancel()
	t.wg.Wait()
}

func (t *collectorTask) run() {
	defer t.wg.Done()

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	// Run immediately on start
	t.runCycle()

	for {
		select {
		case <-t.ctx.Done():
			return
		case <-ticker.C:
			t.runCycle()
		}
	}
}

// runCycle performs one collection bounded by the metric's interval.
// Failures are logged and alerted inside CollectMetric; the ticker always
// survives.
func (t *collectorTask) runCycle() {
	ctx, cancel := context.WithTimeout(t.ctx, t.interval)
	defer cancel()

	collect := func() error {
		// Collection failures are handled inside CollectMetric.
		_, _ = t.service.CollectMetric(ctx, t.metric)
		return nil
	}

	if lock := t.service.cfg.Lock; lock != nil {
		if err := lock.WithLock(ctx, "collect:"+t.metric, collect); err != nil {
			logger.WithMetric(t.metric).Errorf("Collection lock error: %v", err)
		}
		return
	}
	collect()
}
