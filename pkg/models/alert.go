package models

import "time"

type AlertSeverity string

const (
	SeverityWarning  AlertSeverity = "warning"
	SeverityCritical AlertSeverity = "critical"
)

type AlertKind string

const (
	AlertThreshold AlertKind = "threshold"
	AlertTrend     AlertKind = "trend"
	AlertAnomaly   AlertKind = "anomaly"
)

// Alert is a fired alerting rule instance. Alerts are created open and
// transition to acknowledged exactly once; there is no resolved state,
// resolution is inferred from the absence of new alerts for the metric.
type Alert struct {
	ID           string        `json:"id"`
	Metric       string        `json:"metric"`
	Severity     AlertSeverity `json:"severity"`
	Kind         AlertKind     `json:"kind"`
	Message      string        `json:"message"`
	Value        float64       `json:"value"`
	Threshold    *float64      `json:"threshold,omitempty"`
	Timestamp    time.Time     `json:"timestamp"`
	Acknowledged bool          `json:"acknowledged"`
	AckBy        string        `json:"ack_by,omitempty"`
	AckAt        *time.Time    `json:"ack_at,omitempty"`
}

func NewAlert(metric string, severity AlertSeverity, kind AlertKind, message string, value float64, threshold *float64) *Alert {
	return &Alert{
		ID:        NewUUID(),
		Metric:    metric,
		Severity:  severity,
		Kind:      kind,
		Message:   message,
		Value:     value,
		Threshold: threshold,
		Timestamp: time.Now(),
	}
}

// Acknowledge marks the alert handled by the given user.
func (a *Alert) Acknowledge(user string) {
	now := time.Now()
	a.Acknowledged = true
	a.AckBy = user
	a.AckAt = &now
}
