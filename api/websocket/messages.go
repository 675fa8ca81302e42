package websocket

import (
	"encoding/json"
	"time"
)

type MessageType string

const (
	MessageTypeMetricValue  MessageType = "metric_value"
	MessageTypeAlert        MessageType = "alert"
	MessageTypeScalingEvent MessageType = "scaling_event"
)

// OutgoingMessage is the envelope for everything pushed to clients. Scope
// names the subscription channel the message belongs to; clients without
// a subscription receive every scope.
type OutgoingMessage struct {
	Type      MessageType `json:"type"`
	Scope     string      `json:"scope,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
}

func NewMessage(msgType MessageType, scope string, data interface{}) *OutgoingMessage {
	return &OutgoingMessage{
		Type:      msgType,
		Scope:     scope,
		Timestamp: time.Now(),
		Data:      data,
	}
}

func (m *OutgoingMessage) JSON() []byte {
	data, _ := json.Marshal(m)
	return data
}

// MetricScope is the subscription channel for one metric's values and alerts.
func MetricScope(metric string) string {
	return "metric:" + metric
}

// ServiceScope is the subscription channel for one service's scaling activity.
func ServiceScope(service string) string {
	return "service:" + service
}
