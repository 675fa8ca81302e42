package models

import "time"

type TrendDirection string

const (
	TrendIncreasing TrendDirection = "increasing"
	TrendDecreasing TrendDirection = "decreasing"
	TrendStable     TrendDirection = "stable"
)

// EWMA smoothing factor and the percent band treated as stable.
const (
	StatsAlpha      = 0.1
	TrendStableBand = 5.0
)

// MetricStats is the rolling statistical summary of one metric: an
// exponentially weighted average, running extremes, and a trend label
// comparing the latest value against the average.
type MetricStats struct {
	Metric    string         `json:"metric"`
	Current   float64        `json:"current"`
	Average   float64        `json:"average"`
	Min       float64        `json:"min"`
	Max       float64        `json:"max"`
	Trend     TrendDirection `json:"trend"`
	TrendPct  float64        `json:"trend_pct"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// NewMetricStats seeds stats from the first observation: value becomes
// current, average, min and max at once.
func NewMetricStats(v *MetricValue) *MetricStats {
	return &MetricStats{
		Metric:    v.Metric,
		Current:   v.Value,
		Average:   v.Value,
		Min:       v.Value,
		Max:       v.Value,
		Trend:     TrendStable,
		UpdatedAt: v.Timestamp,
	}
}

// Observe folds a new observation into the stats. The average moves by
// StatsAlpha toward the value, min/max are running extremes and are never
// reset, and the trend label classifies the deviation of the value from
// the average against the stable band.
func (s *MetricStats) Observe(v *MetricValue) {
	s.Current = v.Value
	s.Average = StatsAlpha*v.Value + (1-StatsAlpha)*s.Average
	if v.Value < s.Min {
		s.Min = v.Value
	}
	if v.Value > s.Max {
		s.Max = v.Value
	}

	s.Trend = TrendStable
	s.TrendPct = 0
	if s.Average != 0 {
		pct := (v.Value - s.Average) / s.Average * 100
		s.TrendPct = pct
		switch {
		case pct > TrendStableBand:
			s.Trend = TrendIncreasing
		case pct < -TrendStableBand:
			s.Trend = TrendDecreasing
		}
	}
	s.UpdatedAt = v.Timestamp
}
