package models

import "time"

type ScalingAction string

const (
	ActionScaleUp   ScalingAction = "scale_up"
	ActionScaleDown ScalingAction = "scale_down"
	ActionNone      ScalingAction = "no_action"
)

// ScalingDecision is the output of one policy evaluation. Every decision
// is persisted for audit regardless of action; only actionable decisions
// reach the executor.
type ScalingDecision struct {
	Service         string        `json:"service"`
	Action          ScalingAction `json:"action"`
	CurrentReplicas int           `json:"current_replicas"`
	TargetReplicas  int           `json:"target_replicas"`
	Reason          string        `json:"reason"`
	Triggers        []string      `json:"triggers,omitempty"`
	Confidence      float64       `json:"confidence"`
	Timestamp       time.Time     `json:"timestamp"`
}

func (d *ScalingDecision) ReplicaDelta() int {
	return d.TargetReplicas - d.CurrentReplicas
}

func (d *ScalingDecision) ShouldExecute() bool {
	return d.Action != ActionNone
}
