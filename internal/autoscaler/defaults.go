package autoscaler

import (
	"time"

	"github.com/michalprusek/spheroseg-sub008/pkg/models"
)

// RegisterDefaultPolicies installs the built-in policies for the
// platform's compose services. They score the business metrics the
// default collectors publish, so both halves of the control plane work
// out of the box.
func (a *AutoScaler) RegisterDefaultPolicies() error {
	for _, p := range defaultPolicies() {
		if err := a.RegisterPolicy(p); err != nil {
			return err
		}
	}
	return nil
}

func defaultPolicies() []*models.ScalingPolicy {
	return []*models.ScalingPolicy{
		{
			Name:        "backend-load",
			Service:     "backend",
			MinReplicas: 1,
			MaxReplicas: 6,
			Metrics: []models.ScalingMetricRef{
				{
					Name:   "segmentation_queue_length",
					Type:   models.MetricTypeQueueLength,
					Source: models.SourceBusinessMetrics,
					Weight: 0.6,
				},
				{
					Name:   "processing_failure_rate",
					Type:   models.MetricTypeErrors,
					Source: models.SourceBusinessMetrics,
					Weight: 0.4,
				},
			},
			Thresholds: []models.ScalingThreshold{
				{Metric: "segmentation_queue_length", ScaleUp: 50, ScaleDown: 5, Comparison: models.CompareGreaterThan},
				{Metric: "processing_failure_rate", ScaleUp: 10, ScaleDown: 0.5, Comparison: models.CompareGreaterThan},
			},
			Cooldown:           5 * time.Minute,
			ScaleUpBy:          1,
			ScaleDownBy:        1,
			EvaluationInterval: time.Minute,
			Enabled:            true,
		},
		{
			Name:        "ml-queue-depth",
			Service:     "ml",
			MinReplicas: 1,
			MaxReplicas: 4,
			Metrics: []models.ScalingMetricRef{
				{
					Name:   "segmentation_queue_length",
					Type:   models.MetricTypeQueueLength,
					Source: models.SourceBusinessMetrics,
					Weight: 0.7,
				},
				{
					Name:   "avg_processing_time",
					Type:   models.MetricTypeResponseTime,
					Source: models.SourceBusinessMetrics,
					Weight: 0.3,
				},
			},
			Thresholds: []models.ScalingThreshold{
				{Metric: "segmentation_queue_length", ScaleUp: 20, ScaleDown: 2, Comparison: models.CompareGreaterThan},
				{Metric: "avg_processing_time", ScaleUp: 300, ScaleDown: 30, Comparison: models.CompareGreaterThan},
			},
			Cooldown:           10 * time.Minute,
			ScaleUpBy:          1,
			ScaleDownBy:        1,
			EvaluationInterval: 2 * time.Minute,
			Enabled:            true,
		},
		{
			Name:        "worker-backlog",
			Service:     "worker",
			MinReplicas: 1,
			MaxReplicas: 8,
			Metrics: []models.ScalingMetricRef{
				{
					Name:   "segmentation_queue_length",
					Type:   models.MetricTypeQueueLength,
					Source: models.SourceBusinessMetrics,
					Weight: 1.0,
				},
			},
			Thresholds: []models.ScalingThreshold{
				{Metric: "segmentation_queue_length", ScaleUp: 100, ScaleDown: 10, Comparison: models.CompareGreaterThan},
			},
			Cooldown:           5 * time.Minute,
			ScaleUpBy:          2,
			ScaleDownBy:        1,
			EvaluationInterval: time.Minute,
			Enabled:            true,
		},
	}
}
