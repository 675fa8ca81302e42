// Package alerting provides ready-made alert sinks for the metrics
// service: a structured log writer and a retrying webhook dispatcher.
package alerting

import (
	"context"

	"github.com/michalprusek/spheroseg-sub008/internal/logger"
	"github.com/michalprusek/spheroseg-sub008/internal/metrics"
	"github.com/michalprusek/spheroseg-sub008/pkg/models"
)

// LogHandler writes every fired alert to the application log, critical
// alerts at error level.
func LogHandler() metrics.AlertHandler {
	return func(ctx context.Context, alert *models.Alert) error {
		entry := logger.WithFields(map[string]interface{}{
			"alert_id": alert.ID,
			"metric":   alert.Metric,
			"severity": alert.Severity,
			"kind":     alert.Kind,
			"value":    alert.Value,
		})

		switch alert.Severity {
		case models.SeverityCritical:
			entry.Error(alert.Message)
		default:
			entry.Warn(alert.Message)
		}
		return nil
	}
}
