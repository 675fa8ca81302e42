package autoscaler_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/michalprusek/spheroseg-sub008/internal/autoscaler"
	"github.com/michalprusek/spheroseg-sub008/internal/executor"
	"github.com/michalprusek/spheroseg-sub008/internal/logger"
	"github.com/michalprusek/spheroseg-sub008/internal/store"
	"github.com/michalprusek/spheroseg-sub008/pkg/models"
)

func setupScaler(t *testing.T, cfg autoscaler.Config) (*autoscaler.AutoScaler, *store.Store, *executor.SimulatorExecutor) {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	st, err := store.New(store.Config{Addr: mr.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	sim := executor.NewSimulatorExecutor(executor.SimulatorConfig{})
	a := autoscaler.New(st, sim, cfg)
	t.Cleanup(a.Stop)
	return a, st, sim
}

func saveValue(t *testing.T, st *store.Store, metric string, value float64) {
	t.Helper()
	require.NoError(t, st.SaveValue(context.Background(), &models.MetricValue{
		Metric:    metric,
		Value:     value,
		Timestamp: time.Now(),
		Unit:      models.UnitCount,
	}))
}

func backendPolicy() *models.ScalingPolicy {
	return &models.ScalingPolicy{
		Name:        "backend-load",
		Service:     "backend",
		MinReplicas: 1,
		MaxReplicas: 5,
		Metrics: []models.ScalingMetricRef{
			{Name: "segmentation_queue_length", Type: models.MetricTypeQueueLength, Source: models.SourceBusinessMetrics, Weight: 0.6},
			{Name: "processing_failure_rate", Type: models.MetricTypeErrors, Source: models.SourceBusinessMetrics, Weight: 0.4},
		},
		Thresholds: []models.ScalingThreshold{
			{Metric: "segmentation_queue_length", ScaleUp: 100, ScaleDown: 10, Comparison: models.CompareGreaterThan},
			{Metric: "processing_failure_rate", ScaleUp: 5, ScaleDown: 0.5, Comparison: models.CompareGreaterThan},
		},
		Cooldown:           time.Minute,
		ScaleUpBy:          1,
		ScaleDownBy:        1,
		EvaluationInterval: time.Minute,
		Enabled:            true,
	}
}

func TestAutoScaler_WeightedScaleUpAndCooldown(t *testing.T) {
	a, st, sim := setupScaler(t, autoscaler.Config{Enabled: true})
	ctx := context.Background()

	sim.SetReplicas("backend", 2)
	saveValue(t, st, "segmentation_queue_length", 120)
	saveValue(t, st, "processing_failure_rate", 1)
	require.NoError(t, a.RegisterPolicy(backendPolicy()))

	d, err := a.EvaluatePolicy(ctx, "backend-load")
	require.NoError(t, err)
	require.NotNil(t, d)
	assert.Equal(t, models.ActionScaleUp, d.Action)
	assert.Equal(t, 2, d.CurrentReplicas)
	assert.Equal(t, 3, d.TargetReplicas)
	assert.InDelta(t, 0.6, d.Confidence, 1e-9)
	require.Len(t, d.Triggers, 1)

	replicas, err := sim.CurrentReplicas(ctx, "backend")
	require.NoError(t, err)
	assert.Equal(t, 3, replicas)

	events, err := a.ScalingHistory(ctx, "backend", 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.True(t, events[0].Success)
	assert.Equal(t, "backend-load", events[0].TriggeredBy)
	assert.Equal(t, 2, events[0].FromReplicas)
	assert.Equal(t, 3, events[0].ToReplicas)

	decisions, err := a.Decisions(ctx, "backend", 10)
	require.NoError(t, err)
	require.Len(t, decisions, 1)

	// Still above the scale-up bound, but the service is cooling down:
	// the second evaluation is skipped entirely.
	d, err = a.EvaluatePolicy(ctx, "backend-load")
	require.NoError(t, err)
	assert.Nil(t, d)

	events, err = a.ScalingHistory(ctx, "backend", 10)
	require.NoError(t, err)
	assert.Len(t, events, 1)

	decisions, err = a.Decisions(ctx, "backend", 10)
	require.NoError(t, err)
	assert.Len(t, decisions, 1)
}

func TestAutoScaler_NoActionPersistsDecisionOnly(t *testing.T) {
	a, st, sim := setupScaler(t, autoscaler.Config{Enabled: true})
	ctx := context.Background()

	sim.SetReplicas("backend", 3)
	saveValue(t, st, "segmentation_queue_length", 50)
	saveValue(t, st, "processing_failure_rate", 1)
	require.NoError(t, a.RegisterPolicy(backendPolicy()))

	for i := 0; i < 2; i++ {
		d, err := a.EvaluatePolicy(ctx, "backend-load")
		require.NoError(t, err)
		require.NotNil(t, d)
		assert.Equal(t, models.ActionNone, d.Action)
		assert.Equal(t, "no_thresholds_met", d.Reason)
	}

	decisions, err := a.Decisions(ctx, "backend", 10)
	require.NoError(t, err)
	assert.Len(t, decisions, 2)

	events, err := a.ScalingHistory(ctx, "backend", 10)
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestAutoScaler_MissingMetricSubstitutesZero(t *testing.T) {
	a, _, sim := setupScaler(t, autoscaler.Config{Enabled: true})
	ctx := context.Background()

	sim.SetReplicas("backend", 3)
	policy := backendPolicy()
	policy.Metrics = []models.ScalingMetricRef{
		{Name: "ghost_metric", Type: models.MetricTypeQueueLength, Source: models.SourceBusinessMetrics, Weight: 1.0},
	}
	policy.Thresholds = []models.ScalingThreshold{
		{Metric: "ghost_metric", ScaleUp: 1000, ScaleDown: 10, Comparison: models.CompareGreaterThan},
	}
	require.NoError(t, a.RegisterPolicy(policy))

	// Never collected, so the fetch substitutes 0 and 0 sits under the
	// scale-down bound.
	d, err := a.EvaluatePolicy(ctx, "backend-load")
	require.NoError(t, err)
	require.NotNil(t, d)
	assert.Equal(t, models.ActionScaleDown, d.Action)
	assert.Equal(t, 2, d.TargetReplicas)
}

func TestAutoScaler_ExecutionFailure(t *testing.T) {
	a, st, sim := setupScaler(t, autoscaler.Config{Enabled: true})
	ctx := context.Background()

	sim.SetReplicas("backend", 2)
	sim.FailWith(errors.New("compose unreachable"))
	saveValue(t, st, "segmentation_queue_length", 120)
	saveValue(t, st, "processing_failure_rate", 1)
	require.NoError(t, a.RegisterPolicy(backendPolicy()))

	d, err := a.EvaluatePolicy(ctx, "backend-load")
	require.Error(t, err)
	assert.ErrorIs(t, err, autoscaler.ErrExecutionFailed)
	require.NotNil(t, d)
	assert.Equal(t, models.ActionScaleUp, d.Action)

	replicas, err := sim.CurrentReplicas(ctx, "backend")
	require.NoError(t, err)
	assert.Equal(t, 2, replicas)

	events, listErr := a.ScalingHistory(ctx, "backend", 10)
	require.NoError(t, listErr)
	require.Len(t, events, 1)
	assert.False(t, events[0].Success)
	assert.Contains(t, events[0].Error, "compose unreachable")

	// The failed attempt armed the cooldown, so the broken executor is
	// not hammered every interval.
	d, err = a.EvaluatePolicy(ctx, "backend-load")
	require.NoError(t, err)
	assert.Nil(t, d)
}

func TestAutoScaler_EventListeners(t *testing.T) {
	a, st, sim := setupScaler(t, autoscaler.Config{Enabled: true})
	ctx := context.Background()

	received := make(chan *models.ScalingEvent, 2)
	a.RegisterEventListener(func(event *models.ScalingEvent) {
		received <- event
	})

	sim.SetReplicas("backend", 2)
	saveValue(t, st, "segmentation_queue_length", 120)
	saveValue(t, st, "processing_failure_rate", 1)
	require.NoError(t, a.RegisterPolicy(backendPolicy()))

	_, err := a.EvaluatePolicy(ctx, "backend-load")
	require.NoError(t, err)

	select {
	case event := <-received:
		assert.True(t, event.Success)
		assert.Equal(t, "backend-load", event.TriggeredBy)
		assert.Equal(t, 2, event.FromReplicas)
		assert.Equal(t, 3, event.ToReplicas)
	case <-time.After(2 * time.Second):
		t.Fatal("no scaling event delivered to listener")
	}
}

func TestAutoScaler_KillSwitch(t *testing.T) {
	a, _, sim := setupScaler(t, autoscaler.Config{Enabled: true})

	sim.SetReplicas("worker", 1)
	var evals atomic.Int32
	a.RegisterValueFunc("heartbeat", func(context.Context) (float64, error) {
		return float64(evals.Add(1)), nil
	})

	policy := &models.ScalingPolicy{
		Name:        "worker-heartbeat",
		Service:     "worker",
		MinReplicas: 1,
		MaxReplicas: 3,
		Metrics: []models.ScalingMetricRef{
			{Name: "heartbeat", Type: models.MetricTypeRequests, Source: models.SourceCustom, Weight: 1.0},
		},
		Thresholds: []models.ScalingThreshold{
			{Metric: "heartbeat", ScaleUp: 1e12, ScaleDown: -1, Comparison: models.CompareGreaterThan},
		},
		Cooldown:           time.Minute,
		ScaleUpBy:          1,
		ScaleDownBy:        1,
		EvaluationInterval: 20 * time.Millisecond,
		Enabled:            true,
	}
	require.NoError(t, a.RegisterPolicy(policy))

	a.Start()
	require.Eventually(t, func() bool { return evals.Load() >= 2 }, 2*time.Second, 10*time.Millisecond)

	// Disabling stops the schedule synchronously.
	a.SetEnabled(false)
	assert.False(t, a.Enabled())
	settled := evals.Load()
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, settled, evals.Load())

	d, err := a.EvaluatePolicy(context.Background(), "worker-heartbeat")
	require.NoError(t, err)
	assert.Nil(t, d)

	a.SetEnabled(true)
	assert.True(t, a.Enabled())
	require.Eventually(t, func() bool { return evals.Load() > settled }, 2*time.Second, 10*time.Millisecond)
}

func TestAutoScaler_SetPolicyEnabled(t *testing.T) {
	a, st, sim := setupScaler(t, autoscaler.Config{Enabled: true})
	ctx := context.Background()

	sim.SetReplicas("backend", 2)
	saveValue(t, st, "segmentation_queue_length", 120)
	saveValue(t, st, "processing_failure_rate", 1)
	require.NoError(t, a.RegisterPolicy(backendPolicy()))

	require.NoError(t, a.SetPolicyEnabled("backend-load", false))
	d, err := a.EvaluatePolicy(ctx, "backend-load")
	require.NoError(t, err)
	assert.Nil(t, d)

	require.NoError(t, a.SetPolicyEnabled("backend-load", true))
	d, err = a.EvaluatePolicy(ctx, "backend-load")
	require.NoError(t, err)
	require.NotNil(t, d)
	assert.Equal(t, models.ActionScaleUp, d.Action)

	err = a.SetPolicyEnabled("ghost", true)
	assert.ErrorIs(t, err, autoscaler.ErrUnregisteredPolicy)
}

func TestAutoScaler_EvaluateUnregistered(t *testing.T) {
	a, _, _ := setupScaler(t, autoscaler.Config{Enabled: true})

	_, err := a.EvaluatePolicy(context.Background(), "ghost")
	assert.ErrorIs(t, err, autoscaler.ErrUnregisteredPolicy)
}

func TestAutoScaler_ReRegistrationReplacesSchedule(t *testing.T) {
	a, _, sim := setupScaler(t, autoscaler.Config{Enabled: true})

	sim.SetReplicas("worker", 1)
	var first, second atomic.Int32
	a.RegisterValueFunc("beat-a", func(context.Context) (float64, error) {
		return float64(first.Add(1)), nil
	})
	a.RegisterValueFunc("beat-b", func(context.Context) (float64, error) {
		return float64(second.Add(1)), nil
	})

	policy := &models.ScalingPolicy{
		Name:        "worker-heartbeat",
		Service:     "worker",
		MinReplicas: 1,
		MaxReplicas: 3,
		Metrics: []models.ScalingMetricRef{
			{Name: "beat-a", Type: models.MetricTypeRequests, Source: models.SourceCustom, Weight: 1.0},
		},
		Thresholds: []models.ScalingThreshold{
			{Metric: "beat-a", ScaleUp: 1e12, ScaleDown: -1, Comparison: models.CompareGreaterThan},
		},
		Cooldown:           time.Minute,
		ScaleUpBy:          1,
		ScaleDownBy:        1,
		EvaluationInterval: time.Hour,
		Enabled:            true,
	}
	require.NoError(t, a.RegisterPolicy(policy))
	a.Start()

	// Hour-long interval, so only the immediate first cycle runs.
	require.Eventually(t, func() bool { return first.Load() == 1 }, 2*time.Second, 10*time.Millisecond)

	replacement := *policy
	replacement.Metrics = []models.ScalingMetricRef{
		{Name: "beat-b", Type: models.MetricTypeRequests, Source: models.SourceCustom, Weight: 1.0},
	}
	replacement.Thresholds = []models.ScalingThreshold{
		{Metric: "beat-b", ScaleUp: 1e12, ScaleDown: -1, Comparison: models.CompareGreaterThan},
	}
	require.NoError(t, a.RegisterPolicy(&replacement))

	require.Eventually(t, func() bool { return second.Load() == 1 }, 2*time.Second, 10*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(1), first.Load())

	got, err := a.Policy("worker-heartbeat")
	require.NoError(t, err)
	assert.Equal(t, "beat-b", got.Metrics[0].Name)
}

func TestAutoScaler_PrometheusSource(t *testing.T) {
	var gotQuery atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery.Store(r.URL.Query().Get("query"))
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"status":"success","data":{"resultType":"vector","result":[{"metric":{},"value":[1724500000,"42.5"]}]}}`)
	}))
	defer srv.Close()

	a, _, sim := setupScaler(t, autoscaler.Config{Enabled: true, PrometheusURL: srv.URL})
	ctx := context.Background()

	sim.SetReplicas("api", 2)
	policy := &models.ScalingPolicy{
		Name:        "api-errors",
		Service:     "api",
		MinReplicas: 1,
		MaxReplicas: 4,
		Metrics: []models.ScalingMetricRef{
			{
				Name:   "error_rate",
				Type:   models.MetricTypeErrors,
				Source: models.SourcePrometheus,
				Query:  "rate(http_errors_total[2m])",
				Weight: 1.0,
			},
		},
		Thresholds: []models.ScalingThreshold{
			{Metric: "error_rate", ScaleUp: 40, ScaleDown: 1, Comparison: models.CompareGreaterThan},
		},
		Cooldown:           time.Minute,
		ScaleUpBy:          1,
		ScaleDownBy:        1,
		EvaluationInterval: time.Minute,
		Enabled:            true,
	}
	require.NoError(t, a.RegisterPolicy(policy))

	d, err := a.EvaluatePolicy(ctx, "api-errors")
	require.NoError(t, err)
	require.NotNil(t, d)
	assert.Equal(t, models.ActionScaleUp, d.Action)
	assert.Equal(t, 3, d.TargetReplicas)
	assert.Equal(t, "rate(http_errors_total[2m])", gotQuery.Load())
}

func TestAutoScaler_PrometheusBreakerFailsFast(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	a, _, sim := setupScaler(t, autoscaler.Config{Enabled: true, PrometheusURL: srv.URL})
	ctx := context.Background()

	sim.SetReplicas("api", 2)
	policy := &models.ScalingPolicy{
		Name:        "api-errors",
		Service:     "api",
		MinReplicas: 1,
		MaxReplicas: 4,
		Metrics: []models.ScalingMetricRef{
			{Name: "error_rate", Type: models.MetricTypeErrors, Source: models.SourcePrometheus, Weight: 1.0},
		},
		Thresholds: []models.ScalingThreshold{
			// ScaleDown -1 keeps the substituted 0 inside the hold band.
			{Metric: "error_rate", ScaleUp: 40, ScaleDown: -1, Comparison: models.CompareGreaterThan},
		},
		Cooldown:           time.Minute,
		ScaleUpBy:          1,
		ScaleDownBy:        1,
		EvaluationInterval: time.Minute,
		Enabled:            true,
	}
	require.NoError(t, a.RegisterPolicy(policy))

	// Failed queries substitute 0, so cycles keep producing hold
	// decisions while the failure streak builds.
	for i := 0; i < 5; i++ {
		d, err := a.EvaluatePolicy(ctx, "api-errors")
		require.NoError(t, err)
		require.NotNil(t, d)
		assert.Equal(t, models.ActionNone, d.Action)
	}
	require.Equal(t, int32(5), hits.Load())

	d, err := a.EvaluatePolicy(ctx, "api-errors")
	require.NoError(t, err)
	require.NotNil(t, d)
	assert.Equal(t, models.ActionNone, d.Action)
	assert.Equal(t, int32(5), hits.Load(), "open breaker must not reach the backend")
}

func TestAutoScaler_SystemSource(t *testing.T) {
	a, _, sim := setupScaler(t, autoscaler.Config{Enabled: true})
	ctx := context.Background()

	sim.SetReplicas("self", 1)
	policy := &models.ScalingPolicy{
		Name:        "self-goroutines",
		Service:     "self",
		MinReplicas: 1,
		MaxReplicas: 3,
		Metrics: []models.ScalingMetricRef{
			{Name: "goroutines", Type: models.MetricTypeCPU, Source: models.SourceSystem, Weight: 1.0},
		},
		Thresholds: []models.ScalingThreshold{
			{Metric: "goroutines", ScaleUp: 1, ScaleDown: -1, Comparison: models.CompareGreaterThan},
		},
		Cooldown:           time.Minute,
		ScaleUpBy:          1,
		ScaleDownBy:        1,
		EvaluationInterval: time.Minute,
		Enabled:            true,
	}
	require.NoError(t, a.RegisterPolicy(policy))

	// The test binary always runs more than one goroutine.
	d, err := a.EvaluatePolicy(ctx, "self-goroutines")
	require.NoError(t, err)
	require.NotNil(t, d)
	assert.Equal(t, models.ActionScaleUp, d.Action)
	assert.Equal(t, 2, d.TargetReplicas)
}

func TestAutoScaler_PercentageChangeWarning(t *testing.T) {
	var buf bytes.Buffer
	logger.SetOutput(&buf)
	defer logger.SetOutput(os.Stderr)

	a, _, _ := setupScaler(t, autoscaler.Config{Enabled: true})

	policy := backendPolicy()
	policy.Thresholds = append(policy.Thresholds, models.ScalingThreshold{
		Metric:     "upload_rate",
		ScaleUp:    50,
		ScaleDown:  -50,
		Comparison: models.ComparePercentageChange,
	})
	require.NoError(t, a.RegisterPolicy(policy))
	assert.Contains(t, buf.String(), "percentage_change")
}

func TestAutoScaler_DefaultPolicies(t *testing.T) {
	a, _, _ := setupScaler(t, autoscaler.Config{Enabled: true})

	require.NoError(t, a.RegisterDefaultPolicies())

	policies := a.Policies()
	require.Len(t, policies, 3)
	assert.Equal(t, "backend-load", policies[0].Name)
	assert.Equal(t, "ml-queue-depth", policies[1].Name)
	assert.Equal(t, "worker-backlog", policies[2].Name)

	services := map[string]bool{}
	for _, p := range policies {
		services[p.Service] = true
		assert.True(t, p.Enabled)
		assert.GreaterOrEqual(t, p.MinReplicas, 1)
	}
	assert.Equal(t, map[string]bool{"backend": true, "ml": true, "worker": true}, services)
}
