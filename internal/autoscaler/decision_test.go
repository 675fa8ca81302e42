package autoscaler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/michalprusek/spheroseg-sub008/pkg/models"
)

func scoringPolicy(min, max, upBy, downBy int, refs []models.ScalingMetricRef, ths []models.ScalingThreshold) *models.ScalingPolicy {
	return &models.ScalingPolicy{
		Name:               "test-policy",
		Service:            "backend",
		MinReplicas:        min,
		MaxReplicas:        max,
		Metrics:            refs,
		Thresholds:         ths,
		Cooldown:           time.Minute,
		ScaleUpBy:          upBy,
		ScaleDownBy:        downBy,
		EvaluationInterval: time.Minute,
		Enabled:            true,
	}
}

func weightedRefs(queueWeight, errorWeight float64) []models.ScalingMetricRef {
	return []models.ScalingMetricRef{
		{Name: "queue", Type: models.MetricTypeQueueLength, Source: models.SourceBusinessMetrics, Weight: queueWeight},
		{Name: "errors", Type: models.MetricTypeErrors, Source: models.SourceBusinessMetrics, Weight: errorWeight},
	}
}

func greaterThanThresholds() []models.ScalingThreshold {
	return []models.ScalingThreshold{
		{Metric: "queue", ScaleUp: 100, ScaleDown: 10, Comparison: models.CompareGreaterThan},
		{Metric: "errors", ScaleUp: 5, ScaleDown: 0.5, Comparison: models.CompareGreaterThan},
	}
}

func TestComputeDecision(t *testing.T) {
	tests := []struct {
		name           string
		policy         *models.ScalingPolicy
		current        int
		values         map[string]float64
		wantAction     models.ScalingAction
		wantTarget     int
		wantReason     string
		wantConfidence float64
		wantTriggers   int
	}{
		{
			name:           "dominant weight scales up",
			policy:         scoringPolicy(1, 6, 1, 1, weightedRefs(0.6, 0.4), greaterThanThresholds()),
			current:        2,
			values:         map[string]float64{"queue": 120, "errors": 1},
			wantAction:     models.ActionScaleUp,
			wantTarget:     3,
			wantReason:     "thresholds_exceeded",
			wantConfidence: 0.6,
			wantTriggers:   1,
		},
		{
			name:           "all signals low scales down",
			policy:         scoringPolicy(1, 6, 1, 1, weightedRefs(0.6, 0.4), greaterThanThresholds()),
			current:        3,
			values:         map[string]float64{"queue": 5, "errors": 0.1},
			wantAction:     models.ActionScaleDown,
			wantTarget:     2,
			wantReason:     "thresholds_exceeded",
			wantConfidence: 1.0,
			wantTriggers:   2,
		},
		{
			name:           "quiet values hold steady",
			policy:         scoringPolicy(1, 6, 1, 1, weightedRefs(0.6, 0.4), greaterThanThresholds()),
			current:        3,
			values:         map[string]float64{"queue": 50, "errors": 1},
			wantAction:     models.ActionNone,
			wantTarget:     3,
			wantReason:     "no_thresholds_met",
			wantConfidence: 0,
			wantTriggers:   0,
		},
		{
			name:           "equal opposing signals tie to no action",
			policy:         scoringPolicy(1, 6, 1, 1, weightedRefs(0.5, 0.5), greaterThanThresholds()),
			current:        3,
			values:         map[string]float64{"queue": 120, "errors": 0.1},
			wantAction:     models.ActionNone,
			wantTarget:     3,
			wantReason:     "inconclusive_signals",
			wantConfidence: 0.5,
			wantTriggers:   2,
		},
		{
			name:           "weak signal stays under the gate",
			policy:         scoringPolicy(1, 6, 1, 1, weightedRefs(0.4, 0.6), greaterThanThresholds()),
			current:        3,
			values:         map[string]float64{"queue": 120, "errors": 1},
			wantAction:     models.ActionNone,
			wantTarget:     3,
			wantReason:     "inconclusive_signals",
			wantConfidence: 0.4,
			wantTriggers:   1,
		},
		{
			name:           "scale up clamped at max replicas",
			policy:         scoringPolicy(1, 3, 1, 1, weightedRefs(1.0, 0), greaterThanThresholds()),
			current:        3,
			values:         map[string]float64{"queue": 500, "errors": 1},
			wantAction:     models.ActionNone,
			wantTarget:     3,
			wantReason:     "at_max_replicas",
			wantConfidence: 1.0,
			wantTriggers:   1,
		},
		{
			name:           "scale down clamped at min replicas",
			policy:         scoringPolicy(2, 6, 1, 1, weightedRefs(0.6, 0.4), greaterThanThresholds()),
			current:        2,
			values:         map[string]float64{"queue": 5, "errors": 0.1},
			wantAction:     models.ActionNone,
			wantTarget:     2,
			wantReason:     "at_min_replicas",
			wantConfidence: 1.0,
			wantTriggers:   2,
		},
		{
			name:           "large delta clamps to the bound",
			policy:         scoringPolicy(1, 6, 10, 1, weightedRefs(1.0, 0), greaterThanThresholds()),
			current:        2,
			values:         map[string]float64{"queue": 500, "errors": 1},
			wantAction:     models.ActionScaleUp,
			wantTarget:     6,
			wantReason:     "thresholds_exceeded",
			wantConfidence: 1.0,
			wantTriggers:   1,
		},
		{
			name: "less_than inverts the comparison",
			policy: scoringPolicy(1, 6, 1, 1,
				[]models.ScalingMetricRef{
					{Name: "idle_ratio", Type: models.MetricTypeCPU, Source: models.SourceBusinessMetrics, Weight: 1.0},
				},
				[]models.ScalingThreshold{
					{Metric: "idle_ratio", ScaleUp: 0.1, ScaleDown: 0.8, Comparison: models.CompareLessThan},
				}),
			current:        2,
			values:         map[string]float64{"idle_ratio": 0.05},
			wantAction:     models.ActionScaleUp,
			wantTarget:     3,
			wantReason:     "thresholds_exceeded",
			wantConfidence: 1.0,
			wantTriggers:   1,
		},
		{
			name: "percentage_change never fires",
			policy: scoringPolicy(1, 6, 1, 1,
				[]models.ScalingMetricRef{
					{Name: "upload_rate", Type: models.MetricTypeRequests, Source: models.SourceBusinessMetrics, Weight: 1.0},
				},
				[]models.ScalingThreshold{
					{Metric: "upload_rate", ScaleUp: 50, ScaleDown: -50, Comparison: models.ComparePercentageChange},
				}),
			current:        2,
			values:         map[string]float64{"upload_rate": 10000},
			wantAction:     models.ActionNone,
			wantTarget:     2,
			wantReason:     "no_thresholds_met",
			wantConfidence: 0,
			wantTriggers:   0,
		},
		{
			name: "threshold without a metric ref weighs 1.0",
			policy: scoringPolicy(1, 6, 1, 1,
				[]models.ScalingMetricRef{
					{Name: "queue", Type: models.MetricTypeQueueLength, Source: models.SourceBusinessMetrics, Weight: 0.2},
				},
				[]models.ScalingThreshold{
					{Metric: "orphan", ScaleUp: 10, ScaleDown: 1, Comparison: models.CompareGreaterThan},
				}),
			current:        2,
			values:         map[string]float64{"orphan": 50},
			wantAction:     models.ActionScaleUp,
			wantTarget:     3,
			wantReason:     "thresholds_exceeded",
			wantConfidence: 1.0,
			wantTriggers:   1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := computeDecision(tt.policy, tt.current, tt.values)

			assert.Equal(t, tt.wantAction, d.Action)
			assert.Equal(t, tt.current, d.CurrentReplicas)
			assert.Equal(t, tt.wantTarget, d.TargetReplicas)
			assert.Equal(t, tt.wantReason, d.Reason)
			assert.InDelta(t, tt.wantConfidence, d.Confidence, 1e-9)
			assert.Len(t, d.Triggers, tt.wantTriggers)
			assert.Equal(t, "backend", d.Service)
			assert.False(t, d.Timestamp.IsZero())

			// Targets never leave the policy's replica bounds.
			require.GreaterOrEqual(t, d.TargetReplicas, tt.policy.MinReplicas)
			require.LessOrEqual(t, d.TargetReplicas, tt.policy.MaxReplicas)
		})
	}
}

func TestComputeDecision_BoundaryIsExclusive(t *testing.T) {
	policy := scoringPolicy(1, 6, 1, 1, weightedRefs(1.0, 0), greaterThanThresholds())

	d := computeDecision(policy, 2, map[string]float64{"queue": 100, "errors": 1})
	assert.Equal(t, models.ActionNone, d.Action)
	assert.Equal(t, "no_thresholds_met", d.Reason)

	d = computeDecision(policy, 2, map[string]float64{"queue": 100.01, "errors": 1})
	assert.Equal(t, models.ActionScaleUp, d.Action)
}

func TestClamp(t *testing.T) {
	assert.Equal(t, 3, clamp(3, 1, 6))
	assert.Equal(t, 1, clamp(0, 1, 6))
	assert.Equal(t, 6, clamp(9, 1, 6))
}
