package autoscaler

import (
	"fmt"
	"math"
	"time"

	"github.com/michalprusek/spheroseg-sub008/pkg/models"
)

// scoreGate is the minimum weighted score a scale-up or scale-down
// signal must clear before the engine acts on it.
const scoreGate = 0.5

// computeDecision scores every threshold of the policy against the
// fetched values and picks an action. Each crossed threshold contributes
// the weight of its metric ref (1.0 when the ref is missing) to the
// scale-up or scale-down score; the larger score wins if it clears the
// gate, ties never scale. Targets are clamped to the policy's replica
// bounds and a move clamped back to the current count degrades to
// no_action.
func computeDecision(p *models.ScalingPolicy, current int, values map[string]float64) *models.ScalingDecision {
	weights := make(map[string]float64, len(p.Metrics))
	for _, ref := range p.Metrics {
		weights[ref.Name] = ref.Weight
	}

	var (
		upScore     float64
		downScore   float64
		totalWeight float64
		triggers    []string
	)
	for _, th := range p.Thresholds {
		value := values[th.Metric]
		weight, ok := weights[th.Metric]
		if !ok {
			weight = 1.0
		}
		totalWeight += weight

		up, down := judge(th, value)
		if up {
			upScore += weight
			triggers = append(triggers, fmt.Sprintf("%s=%.2f crossed scale-up bound %.2f", th.Metric, value, th.ScaleUp))
		}
		if down {
			downScore += weight
			triggers = append(triggers, fmt.Sprintf("%s=%.2f crossed scale-down bound %.2f", th.Metric, value, th.ScaleDown))
		}
	}

	decision := &models.ScalingDecision{
		Service:         p.Service,
		Action:          models.ActionNone,
		CurrentReplicas: current,
		TargetReplicas:  current,
		Triggers:        triggers,
		Timestamp:       time.Now(),
	}
	if totalWeight > 0 {
		decision.Confidence = math.Max(upScore, downScore) / totalWeight
	}

	switch {
	case upScore > downScore && upScore > scoreGate:
		target := clamp(current+p.ScaleUpBy, p.MinReplicas, p.MaxReplicas)
		if target <= current {
			decision.Reason = "at_max_replicas"
			return decision
		}
		decision.Action = models.ActionScaleUp
		decision.TargetReplicas = target
		decision.Reason = "thresholds_exceeded"
	case downScore > upScore && downScore > scoreGate:
		target := clamp(current-p.ScaleDownBy, p.MinReplicas, p.MaxReplicas)
		if target >= current {
			decision.Reason = "at_min_replicas"
			return decision
		}
		decision.Action = models.ActionScaleDown
		decision.TargetReplicas = target
		decision.Reason = "thresholds_exceeded"
	case upScore == 0 && downScore == 0:
		decision.Reason = "no_thresholds_met"
	default:
		decision.Reason = "inconclusive_signals"
	}
	return decision
}

// judge reports whether a value crosses the threshold's scale-up or
// scale-down bound. The comparison names the scale-up side; the
// scale-down side is its inversion. percentage_change never fires.
func judge(th models.ScalingThreshold, value float64) (up, down bool) {
	switch th.Comparison {
	case models.CompareGreaterThan:
		return value > th.ScaleUp, value < th.ScaleDown
	case models.CompareLessThan:
		return value < th.ScaleUp, value > th.ScaleDown
	default:
		return false, false
	}
}

func clamp(n, lo, hi int) int {
	if n < lo {
		return lo
	}
	if n > hi {
		return hi
	}
	return n
}
