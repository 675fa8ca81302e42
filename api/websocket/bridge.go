package websocket

import (
	"context"

	"github.com/michalprusek/spheroseg-sub008/internal/autoscaler"
	"github.com/michalprusek/spheroseg-sub008/internal/metrics"
	"github.com/michalprusek/spheroseg-sub008/pkg/models"
)

// StreamBridge adapts the collector's and the scaler's callback hooks to
// hub broadcasts so connected clients see alerts, collected values and
// scaling activity as they happen.
type StreamBridge struct {
	hub *Hub
}

func NewStreamBridge(hub *Hub) *StreamBridge {
	return &StreamBridge{hub: hub}
}

// AlertHandler returns the hook to register with the metrics service.
// Alerts are published on the owning metric's scope.
func (b *StreamBridge) AlertHandler() metrics.AlertHandler {
	return func(ctx context.Context, alert *models.Alert) error {
		b.hub.Broadcast(NewMessage(MessageTypeAlert, MetricScope(alert.Metric), alert))
		return nil
	}
}

// ValueListener returns the hook that streams every collected value.
func (b *StreamBridge) ValueListener() metrics.ValueListener {
	return func(value *models.MetricValue) {
		b.hub.Broadcast(NewMessage(MessageTypeMetricValue, MetricScope(value.Metric), value))
	}
}

// EventListener returns the hook that streams executed scaling actions,
// published on the scaled service's scope.
func (b *StreamBridge) EventListener() autoscaler.EventListener {
	return func(event *models.ScalingEvent) {
		b.hub.Broadcast(NewMessage(MessageTypeScalingEvent, ServiceScope(event.Service), event))
	}
}
