package models

import (
	"errors"
	"fmt"
	"time"
)

type ScalingMetricType string

const (
	MetricTypeCPU          ScalingMetricType = "cpu"
	MetricTypeMemory       ScalingMetricType = "memory"
	MetricTypeRequests     ScalingMetricType = "requests"
	MetricTypeErrors       ScalingMetricType = "errors"
	MetricTypeResponseTime ScalingMetricType = "response_time"
	MetricTypeQueueLength  ScalingMetricType = "queue_length"
)

type ScalingMetricSource string

const (
	SourceBusinessMetrics ScalingMetricSource = "business_metrics"
	SourceSystem          ScalingMetricSource = "system"
	SourcePrometheus      ScalingMetricSource = "prometheus"
	SourceCustom          ScalingMetricSource = "custom"
)

type ThresholdComparison string

const (
	CompareGreaterThan ThresholdComparison = "greater_than"
	CompareLessThan    ThresholdComparison = "less_than"
	// ComparePercentageChange is accepted by the schema but never fires.
	// Policies configuring it are warned about at registration.
	ComparePercentageChange ThresholdComparison = "percentage_change"
)

// ScalingMetricRef names one metric signal a policy evaluates, where to
// fetch it from, and the weight of its vote. Weights across a policy need
// not sum to 1; scoring normalizes by the total.
type ScalingMetricRef struct {
	Name        string              `json:"name"`
	Type        ScalingMetricType   `json:"type"`
	Source      ScalingMetricSource `json:"source"`
	Query       string              `json:"query,omitempty"`
	Aggregation AggregationKind     `json:"aggregation,omitempty"`
	Window      time.Duration       `json:"window,omitempty"`
	Weight      float64             `json:"weight"`
}

// ScalingThreshold binds scale-up and scale-down boundaries to one of a
// policy's metrics.
type ScalingThreshold struct {
	Metric     string              `json:"metric"`
	ScaleUp    float64             `json:"scale_up"`
	ScaleDown  float64             `json:"scale_down"`
	Comparison ThresholdComparison `json:"comparison"`
}

// ScalingPolicy binds a target service to weighted metrics, thresholds and
// replica bounds. Policies live for the process lifetime and are mutated
// only by enable/disable.
type ScalingPolicy struct {
	Name               string             `json:"name"`
	Service            string             `json:"service"`
	MinReplicas        int                `json:"min_replicas"`
	MaxReplicas        int                `json:"max_replicas"`
	Metrics            []ScalingMetricRef `json:"metrics"`
	Thresholds         []ScalingThreshold `json:"thresholds"`
	Cooldown           time.Duration      `json:"cooldown"`
	ScaleUpBy          int                `json:"scale_up_by"`
	ScaleDownBy        int                `json:"scale_down_by"`
	EvaluationInterval time.Duration      `json:"evaluation_interval"`
	Enabled            bool               `json:"enabled"`
}

func (p *ScalingPolicy) Validate() error {
	if p.Name == "" {
		return errors.New("policy name cannot be empty")
	}
	if p.Service == "" {
		return fmt.Errorf("policy %s: target service cannot be empty", p.Name)
	}
	if p.MinReplicas < 1 {
		return fmt.Errorf("policy %s: min replicas must be at least 1", p.Name)
	}
	if p.MaxReplicas < p.MinReplicas {
		return fmt.Errorf("policy %s: max replicas must be >= min replicas", p.Name)
	}
	if len(p.Metrics) == 0 {
		return fmt.Errorf("policy %s: at least one metric is required", p.Name)
	}
	for _, m := range p.Metrics {
		if m.Name == "" {
			return fmt.Errorf("policy %s: metric name cannot be empty", p.Name)
		}
		if m.Weight < 0 || m.Weight > 1 {
			return fmt.Errorf("policy %s: metric %s weight must be in [0,1]", p.Name, m.Name)
		}
	}
	if p.ScaleUpBy < 1 || p.ScaleDownBy < 1 {
		return fmt.Errorf("policy %s: scale deltas must be at least 1", p.Name)
	}
	if p.Cooldown <= 0 {
		return fmt.Errorf("policy %s: cooldown must be positive", p.Name)
	}
	if p.EvaluationInterval <= 0 {
		return fmt.Errorf("policy %s: evaluation interval must be positive", p.Name)
	}
	return nil
}

// UsesPercentageChange reports whether any threshold configures the
// unimplemented percentage_change comparison.
func (p *ScalingPolicy) UsesPercentageChange() bool {
	for _, t := range p.Thresholds {
		if t.Comparison == ComparePercentageChange {
			return true
		}
	}
	return false
}
