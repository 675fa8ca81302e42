package metrics

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/michalprusek/spheroseg-sub008/internal/logger"
	"github.com/michalprusek/spheroseg-sub008/internal/store"
	"github.com/michalprusek/spheroseg-sub008/pkg/models"
)

// CollectMetric resolves the metric's value, persists it, folds it into
// the rolling stats and evaluates the alerting rules. A value-resolution
// failure is logged, converted into a warning alert embedding the error,
// and returned; the current slot keeps the last good value. Scheduled
// cycles treat the returned error as already handled.
func (s *Service) CollectMetric(ctx context.Context, name string) (*models.MetricValue, error) {
	def, ok := s.definition(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnregisteredMetric, name)
	}

	started := time.Now()
	raw, err := s.resolveValue(ctx, def)
	if err != nil {
		logger.WithMetric(name).Errorf("Collection failed: %v", err)
		s.cfg.Telemetry.CollectionFailed(name)
		s.fireAlert(ctx, models.NewAlert(
			name,
			models.SeverityWarning,
			models.AlertThreshold,
			fmt.Sprintf("Collection for %s failed: %v", name, err),
			0,
			nil,
		))
		return nil, fmt.Errorf("collect %s: %w", name, err)
	}

	value := &models.MetricValue{
		Metric:    name,
		Value:     raw,
		Timestamp: time.Now(),
		Unit:      def.Unit,
		Tags:      def.Tags,
	}

	if err := s.store.SaveValue(ctx, value); err != nil {
		logger.WithMetric(name).Errorf("Failed to persist value: %v", err)
		return nil, fmt.Errorf("collect %s: %w", name, err)
	}

	stats, err := s.updateStats(ctx, value)
	if err != nil {
		logger.WithMetric(name).Errorf("Failed to update stats: %v", err)
		return nil, fmt.Errorf("collect %s: %w", name, err)
	}

	s.evaluateRules(ctx, def, value, stats)
	s.notifyValue(value)

	s.cfg.Telemetry.CollectionSucceeded(name, time.Since(started))
	logger.WithMetric(name).Debugf("Collected %s=%.4f", name, raw)
	return value, nil
}

// resolveValue dispatches on the definition's source variant.
func (s *Service) resolveValue(ctx context.Context, def *models.MetricDefinition) (float64, error) {
	switch src := def.Source.(type) {
	case models.QuerySource:
		if s.cfg.DB == nil {
			return 0, errors.New("no database configured for query-sourced metrics")
		}
		return s.cfg.DB.QueryValue(ctx, src.SQL)
	case models.CalculatorSource:
		return src.Func(ctx)
	default:
		return 0, fmt.Errorf("unsupported metric source %T", def.Source)
	}
}

// updateStats folds the observation into the metric's rolling statistics,
// seeding them on the first observation.
func (s *Service) updateStats(ctx context.Context, value *models.MetricValue) (*models.MetricStats, error) {
	stats, err := s.store.GetStats(ctx, value.Metric)
	switch {
	case errors.Is(err, store.ErrNotFound):
		stats = models.NewMetricStats(value)
	case err != nil:
		return nil, err
	default:
		stats.Observe(value)
	}

	if err := s.store.SaveStats(ctx, stats); err != nil {
		return nil, err
	}
	return stats, nil
}
