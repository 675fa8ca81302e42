package models

import (
	"fmt"
	"time"
)

// ScalingEvent records one executed scaling attempt, successful or not.
// Events are immutable and only created for actionable decisions.
type ScalingEvent struct {
	ID             string        `json:"id"`
	Service        string        `json:"service"`
	Action         ScalingAction `json:"action"`
	FromReplicas   int           `json:"from_replicas"`
	ToReplicas     int           `json:"to_replicas"`
	Reason         string        `json:"reason"`
	TriggeredBy    string        `json:"triggered_by"`
	Timestamp      time.Time     `json:"timestamp"`
	Success        bool          `json:"success"`
	DurationMillis int64         `json:"duration_ms"`
	Error          string        `json:"error,omitempty"`
}

// NewScalingEvent derives an event from the decision being executed.
// triggeredBy names the policy that produced the decision. The ID pattern
// <service>-<unix ms> doubles as the persistence key suffix.
func NewScalingEvent(decision *ScalingDecision, triggeredBy string) *ScalingEvent {
	now := time.Now()
	return &ScalingEvent{
		ID:           fmt.Sprintf("%s-%d", decision.Service, now.UnixMilli()),
		Service:      decision.Service,
		Action:       decision.Action,
		FromReplicas: decision.CurrentReplicas,
		ToReplicas:   decision.TargetReplicas,
		Reason:       decision.Reason,
		TriggeredBy:  triggeredBy,
		Timestamp:    now,
	}
}

// Complete finalizes the event with the execution outcome.
func (e *ScalingEvent) Complete(duration time.Duration, err error) {
	e.DurationMillis = duration.Milliseconds()
	if err != nil {
		e.Success = false
		e.Error = err.Error()
		return
	}
	e.Success = true
}
