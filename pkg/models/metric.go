package models

import (
	"context"
	"errors"
	"fmt"
	"time"
)

type MetricUnit string

const (
	UnitCount      MetricUnit = "count"
	UnitPercentage MetricUnit = "percentage"
	UnitDuration   MetricUnit = "duration"
	UnitBytes      MetricUnit = "bytes"
	UnitCurrency   MetricUnit = "currency"
)

type AggregationKind string

const (
	AggregationAvg   AggregationKind = "avg"
	AggregationSum   AggregationKind = "sum"
	AggregationMin   AggregationKind = "min"
	AggregationMax   AggregationKind = "max"
	AggregationCount AggregationKind = "count"
	AggregationP95   AggregationKind = "p95"
	AggregationP99   AggregationKind = "p99"
)

// CalculatorFunc computes a metric value on demand. It must be side-effect
// free with respect to metric state; persistence belongs to the metrics
// service.
type CalculatorFunc func(ctx context.Context) (float64, error)

// MetricSource is the value source of a metric definition. Exactly two
// variants exist: QuerySource (read-only SQL returning a single numeric
// "value" column) and CalculatorSource (in-process function).
type MetricSource interface {
	Kind() string
	metricSource()
}

// QuerySource resolves a metric from the relational store.
type QuerySource struct {
	SQL string
}

func (QuerySource) Kind() string  { return "query" }
func (QuerySource) metricSource() {}

// CalculatorSource resolves a metric from a function call.
type CalculatorSource struct {
	Func CalculatorFunc
}

func (CalculatorSource) Kind() string  { return "calculator" }
func (CalculatorSource) metricSource() {}

// TrendThreshold configures trend alerting over a rolling window.
// Increase and decrease percentages are independent; both may fire in the
// same cycle when configured to overlap.
type TrendThreshold struct {
	IncreasePct *float64      `json:"increase_pct,omitempty"`
	DecreasePct *float64      `json:"decrease_pct,omitempty"`
	Window      time.Duration `json:"window,omitempty"`
}

// ThresholdConfig holds the static and trend alerting boundaries for a
// metric. Nil fields disable the corresponding rule.
type ThresholdConfig struct {
	Warning  *float64        `json:"warning,omitempty"`
	Critical *float64        `json:"critical,omitempty"`
	Trend    *TrendThreshold `json:"trend,omitempty"`
}

// MetricDefinition describes a periodically collected business metric.
// Definitions are immutable after registration; re-registering the same
// name replaces the definition and its collection schedule.
type MetricDefinition struct {
	Name        string            `json:"name"`
	Description string            `json:"description,omitempty"`
	Source      MetricSource      `json:"-"`
	Unit        MetricUnit        `json:"unit"`
	Aggregation AggregationKind   `json:"aggregation,omitempty"`
	Interval    time.Duration     `json:"interval"`
	Thresholds  *ThresholdConfig  `json:"thresholds,omitempty"`
	Tags        map[string]string `json:"tags,omitempty"`
}

func (d *MetricDefinition) Validate() error {
	if d.Name == "" {
		return errors.New("metric name cannot be empty")
	}
	if d.Source == nil {
		return fmt.Errorf("metric %s: value source is required", d.Name)
	}
	if q, ok := d.Source.(QuerySource); ok && q.SQL == "" {
		return fmt.Errorf("metric %s: query source requires SQL", d.Name)
	}
	if c, ok := d.Source.(CalculatorSource); ok && c.Func == nil {
		return fmt.Errorf("metric %s: calculator source requires a function", d.Name)
	}
	if d.Interval <= 0 {
		return fmt.Errorf("metric %s: collection interval must be positive", d.Name)
	}
	if t := d.Thresholds; t != nil && t.Trend != nil {
		if (t.Trend.IncreasePct != nil || t.Trend.DecreasePct != nil) && t.Trend.Window <= 0 {
			return fmt.Errorf("metric %s: trend thresholds require a window", d.Name)
		}
	}
	return nil
}

// MetricValue is a single collected observation. The latest value per
// metric is kept in a current slot and every value is appended to the
// metric's history series.
type MetricValue struct {
	Metric    string            `json:"metric"`
	Value     float64           `json:"value"`
	Timestamp time.Time         `json:"timestamp"`
	Unit      MetricUnit        `json:"unit"`
	Tags      map[string]string `json:"tags,omitempty"`
}
