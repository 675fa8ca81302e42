package autoscaler

import (
	"context"
	"fmt"
	"time"

	"github.com/michalprusek/spheroseg-sub008/internal/logger"
	"github.com/michalprusek/spheroseg-sub008/pkg/models"
)

// EvaluatePolicy runs one evaluation cycle for the named policy: fetch
// the current replica count, resolve metric values, score a decision,
// persist it and execute when actionable. A nil decision with a nil
// error means the cycle was skipped (engine or policy disabled, or the
// service is cooling down).
func (a *AutoScaler) EvaluatePolicy(ctx context.Context, name string) (*models.ScalingDecision, error) {
	a.mu.RLock()
	policy, ok := a.policies[name]
	enabled := a.enabled
	a.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnregisteredPolicy, name)
	}
	if !enabled || !policy.Enabled {
		return nil, nil
	}

	if remaining := a.cooldownRemaining(policy.Service, policy.Cooldown); remaining > 0 {
		logger.WithService(policy.Service).Debugf("Cooldown active for another %s, skipping evaluation", remaining.Round(time.Second))
		return nil, nil
	}

	current, err := a.executor.CurrentReplicas(ctx, policy.Service)
	if err != nil {
		return nil, fmt.Errorf("current replicas for %s: %w", policy.Service, err)
	}

	values := a.fetchValues(ctx, policy)
	decision := computeDecision(policy, current, values)

	a.cfg.Telemetry.DecisionMade(policy.Service, string(decision.Action))
	if err := a.store.SaveDecision(ctx, decision); err != nil {
		logger.WithService(policy.Service).Errorf("Failed to persist decision: %v", err)
	}

	entry := logger.WithPolicy(name)
	if decision.ShouldExecute() {
		entry.Infof("Decision: %s %d -> %d replicas (reason: %s, confidence %.2f)",
			decision.Action, decision.CurrentReplicas, decision.TargetReplicas, decision.Reason, decision.Confidence)
		if err := a.execute(ctx, policy, decision); err != nil {
			return decision, err
		}
		return decision, nil
	}

	entry.Debugf("Decision: %s (reason: %s, confidence %.2f)", decision.Action, decision.Reason, decision.Confidence)
	return decision, nil
}

// execute drives the executor for an actionable decision and records the
// outcome. The cooldown arms on failure too, so a broken executor is
// retried at the cooldown cadence instead of every interval.
func (a *AutoScaler) execute(ctx context.Context, p *models.ScalingPolicy, d *models.ScalingDecision) error {
	execCtx, cancel := context.WithTimeout(ctx, a.cfg.ExecutionTimeout)
	defer cancel()

	event := models.NewScalingEvent(d, p.Name)
	started := time.Now()
	err := a.executor.ScaleTo(execCtx, d.Service, d.TargetReplicas)
	duration := time.Since(started)
	event.Complete(duration, err)

	a.armCooldown(d.Service)

	// The audit record must survive cycle cancellation.
	if saveErr := a.store.SaveEvent(context.Background(), event); saveErr != nil {
		logger.WithService(d.Service).Errorf("Failed to persist scaling event: %v", saveErr)
	}
	a.cfg.Telemetry.EventRecorded(d.Service, event.Success, duration)
	a.notifyListeners(event)

	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrExecutionFailed, d.Service, err)
	}
	logger.WithService(d.Service).Infof("Scaled %d -> %d replicas in %dms",
		event.FromReplicas, event.ToReplicas, event.DurationMillis)
	return nil
}
