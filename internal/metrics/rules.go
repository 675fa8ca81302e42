package metrics

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/michalprusek/spheroseg-sub008/internal/logger"
	"github.com/michalprusek/spheroseg-sub008/pkg/models"
)

// Anomaly detection parameters. The baseline window is fixed; the rule
// needs a minimum sample to produce a meaningful z-score.
const (
	anomalyWindow     = 24 * time.Hour
	anomalyMinSamples = 10
	anomalyZScore     = 3.0
)

func (s *Service) evaluateRules(ctx context.Context, def *models.MetricDefinition, value *models.MetricValue, stats *models.MetricStats) {
	if def.Thresholds != nil {
		s.checkThresholds(ctx, def, value)
		if def.Thresholds.Trend != nil {
			s.checkTrend(ctx, def, value)
		}
	}
	if s.cfg.AnomalyDetection {
		s.checkAnomaly(ctx, def, value, stats)
	}
}

// checkThresholds fires at most one alert per cycle: critical is checked
// first and suppresses warning even when both boundaries are exceeded.
func (s *Service) checkThresholds(ctx context.Context, def *models.MetricDefinition, value *models.MetricValue) {
	t := def.Thresholds

	if t.Critical != nil && value.Value >= *t.Critical {
		s.fireAlert(ctx, models.NewAlert(
			def.Name,
			models.SeverityCritical,
			models.AlertThreshold,
			fmt.Sprintf("%s is %.2f, at or above critical threshold %.2f", def.Name, value.Value, *t.Critical),
			value.Value,
			t.Critical,
		))
		return
	}

	if t.Warning != nil && value.Value >= *t.Warning {
		s.fireAlert(ctx, models.NewAlert(
			def.Name,
			models.SeverityWarning,
			models.AlertThreshold,
			fmt.Sprintf("%s is %.2f, at or above warning threshold %.2f", def.Name, value.Value, *t.Warning),
			value.Value,
			t.Warning,
		))
	}
}

// checkTrend compares the percent change between the oldest value in the
// configured window and the current value. Increase and decrease
// boundaries are independent; overlapping configurations can fire both in
// one cycle.
func (s *Service) checkTrend(ctx context.Context, def *models.MetricDefinition, value *models.MetricValue) {
	trend := def.Thresholds.Trend
	if trend.Window <= 0 {
		return
	}

	// History scores have millisecond resolution; nudging the end keeps
	// the just-persisted current point inside the half-open range.
	end := value.Timestamp.Add(time.Millisecond)
	history, err := s.store.GetHistory(ctx, def.Name, value.Timestamp.Add(-trend.Window), end)
	if err != nil {
		logger.WithMetric(def.Name).Errorf("Trend rule history fetch failed: %v", err)
		return
	}
	if len(history) < 2 {
		return
	}

	oldest := history[0].Value
	if oldest == 0 {
		return
	}
	pct := (value.Value - oldest) / oldest * 100

	if trend.IncreasePct != nil && pct >= *trend.IncreasePct {
		s.fireAlert(ctx, models.NewAlert(
			def.Name,
			models.SeverityWarning,
			models.AlertTrend,
			fmt.Sprintf("%s increased %.1f%% over the last %s", def.Name, pct, trend.Window),
			value.Value,
			trend.IncreasePct,
		))
	}
	if trend.DecreasePct != nil && pct <= -*trend.DecreasePct {
		s.fireAlert(ctx, models.NewAlert(
			def.Name,
			models.SeverityWarning,
			models.AlertTrend,
			fmt.Sprintf("%s decreased %.1f%% over the last %s", def.Name, -pct, trend.Window),
			value.Value,
			trend.DecreasePct,
		))
	}
}

// checkAnomaly fires when the current value is a statistical outlier
// against the metric's 24h baseline. It requires a minimum sample size
// and a non-zero rolling average, and uses population mean/stddev.
func (s *Service) checkAnomaly(ctx context.Context, def *models.MetricDefinition, value *models.MetricValue, stats *models.MetricStats) {
	if stats == nil || stats.Average == 0 {
		return
	}

	end := value.Timestamp.Add(time.Millisecond)
	history, err := s.store.GetHistory(ctx, def.Name, value.Timestamp.Add(-anomalyWindow), end)
	if err != nil {
		logger.WithMetric(def.Name).Errorf("Anomaly rule history fetch failed: %v", err)
		return
	}
	if len(history) < anomalyMinSamples {
		return
	}

	var sum float64
	for _, h := range history {
		sum += h.Value
	}
	mean := sum / float64(len(history))

	var variance float64
	for _, h := range history {
		d := h.Value - mean
		variance += d * d
	}
	variance /= float64(len(history))
	stddev := math.Sqrt(variance)
	if stddev == 0 {
		return
	}

	z := (value.Value - mean) / stddev
	if math.Abs(z) > anomalyZScore {
		s.fireAlert(ctx, models.NewAlert(
			def.Name,
			models.SeverityWarning,
			models.AlertAnomaly,
			fmt.Sprintf("%s value %.2f deviates %.1f standard deviations from its 24h baseline %.2f", def.Name, value.Value, z, mean),
			value.Value,
			nil,
		))
	}
}
