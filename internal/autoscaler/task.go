package autoscaler

import (
	"context"
	"sync"
	"time"

	"github.com/michalprusek/spheroseg-sub008/internal/logger"
)

// policyTask drives recurring evaluation of one policy. The first cycle
// runs immediately so a freshly registered policy reacts without waiting
// a full interval.
type policyTask struct {
	policy   string
	interval time.Duration
	scaler   *AutoScaler

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func newPolicyTask(a *AutoScaler, policy string, interval time.Duration) *policyTask {
	ctx, cancel := context.WithCancel(context.Background())
	return &policyTask{
		policy:   policy,
		interval: interval,
		scaler:   a,
		ctx:      ctx,
		cancel:   cancel,
	}
}

func (t *policyTask) start() {
	t.wg.Add(1)
	go t.run()
}

func (t *policyTask) stop() {
	t.cancel()
	t.wg.Wait()
}

func (t *policyTask) run() {
	defer t.wg.Done()

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

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

// runCycle evaluates once under a per-cycle deadline. Evaluation errors
// are logged here so the schedule survives executor outages.
func (t *policyTask) runCycle() {
	ctx, cancel := context.WithTimeout(t.ctx, t.interval)
	defer cancel()

	evaluate := func() error {
		if _, err := t.scaler.EvaluatePolicy(ctx, t.policy); err != nil {
			logger.WithPolicy(t.policy).Errorf("Evaluation failed: %v", err)
		}
		return nil
	}

	if lock := t.scaler.cfg.Lock; lock != nil {
		if err := lock.WithLock(ctx, "evaluate:"+t.policy, evaluate); err != nil {
			logger.WithPolicy(t.policy).Errorf("Evaluation lock error: %v", err)
		}
		return
	}
	evaluate()
}
