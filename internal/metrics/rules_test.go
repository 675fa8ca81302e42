package metrics_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/michalprusek/spheroseg-sub008/internal/metrics"
	"github.com/michalprusek/spheroseg-sub008/pkg/models"
)

func TestRules_WarningThenCriticalSuppression(t *testing.T) {
	svc, _ := setupService(t, metrics.Config{})
	ctx := context.Background()

	src := &stubSource{val: 7}
	require.NoError(t, svc.RegisterMetric(newDef("processing_failure_rate", src, &models.ThresholdConfig{
		Warning:  models.Float64Ptr(5),
		Critical: models.Float64Ptr(10),
	})))

	_, err := svc.CollectMetric(ctx, "processing_failure_rate")
	require.NoError(t, err)

	active, err := svc.ActiveAlerts(ctx, "processing_failure_rate", "")
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, models.SeverityWarning, active[0].Severity)
	assert.Equal(t, models.AlertThreshold, active[0].Kind)
	assert.Equal(t, 7.0, active[0].Value)
	require.NotNil(t, active[0].Threshold)
	assert.Equal(t, 5.0, *active[0].Threshold)

	// Above both boundaries only the critical alert fires.
	src.set(12)
	_, err = svc.CollectMetric(ctx, "processing_failure_rate")
	require.NoError(t, err)

	active, err = svc.ActiveAlerts(ctx, "processing_failure_rate", "")
	require.NoError(t, err)
	require.Len(t, active, 2)
	assert.Equal(t, models.SeverityCritical, active[0].Severity)
	assert.Equal(t, 12.0, active[0].Value)
	require.NotNil(t, active[0].Threshold)
	assert.Equal(t, 10.0, *active[0].Threshold)

	critical, err := svc.ActiveAlerts(ctx, "processing_failure_rate", models.SeverityCritical)
	require.NoError(t, err)
	assert.Len(t, critical, 1)
}

func TestRules_ThresholdBoundaryInclusive(t *testing.T) {
	svc, _ := setupService(t, metrics.Config{})
	ctx := context.Background()

	src := &stubSource{val: 4.99}
	require.NoError(t, svc.RegisterMetric(newDef("error_rate", src, &models.ThresholdConfig{
		Warning: models.Float64Ptr(5),
	})))

	_, err := svc.CollectMetric(ctx, "error_rate")
	require.NoError(t, err)

	active, err := svc.ActiveAlerts(ctx, "error_rate", "")
	require.NoError(t, err)
	assert.Empty(t, active)

	src.set(5)
	_, err = svc.CollectMetric(ctx, "error_rate")
	require.NoError(t, err)

	active, err = svc.ActiveAlerts(ctx, "error_rate", "")
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, models.SeverityWarning, active[0].Severity)
}

func TestRules_TrendAlerts(t *testing.T) {
	tests := []struct {
		name       string
		trend      *models.TrendThreshold
		first      float64
		second     float64
		wantAlerts int
		wantMsg    string
	}{
		{
			name:       "increase boundary crossed",
			trend:      &models.TrendThreshold{IncreasePct: models.Float64Ptr(50), Window: time.Hour},
			first:      100,
			second:     200,
			wantAlerts: 1,
			wantMsg:    "increased",
		},
		{
			name:       "decrease boundary crossed",
			trend:      &models.TrendThreshold{DecreasePct: models.Float64Ptr(30), Window: time.Hour},
			first:      100,
			second:     50,
			wantAlerts: 1,
			wantMsg:    "decreased",
		},
		{
			name: "stable movement stays quiet",
			trend: &models.TrendThreshold{
				IncreasePct: models.Float64Ptr(50),
				DecreasePct: models.Float64Ptr(30),
				Window:      time.Hour,
			},
			first:      100,
			second:     105,
			wantAlerts: 0,
		},
		{
			name: "boundaries evaluated independently",
			trend: &models.TrendThreshold{
				IncreasePct: models.Float64Ptr(-10),
				DecreasePct: models.Float64Ptr(-20),
				Window:      time.Hour,
			},
			first:      100,
			second:     105,
			wantAlerts: 2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, _ := setupService(t, metrics.Config{})
			ctx := context.Background()

			src := &stubSource{val: tt.first}
			require.NoError(t, svc.RegisterMetric(newDef("upload_rate", src, &models.ThresholdConfig{Trend: tt.trend})))

			_, err := svc.CollectMetric(ctx, "upload_rate")
			require.NoError(t, err)

			// History scores have millisecond resolution; keep the two
			// points on distinct scores.
			time.Sleep(5 * time.Millisecond)

			src.set(tt.second)
			_, err = svc.CollectMetric(ctx, "upload_rate")
			require.NoError(t, err)

			active, err := svc.ActiveAlerts(ctx, "upload_rate", "")
			require.NoError(t, err)
			require.Len(t, active, tt.wantAlerts)
			if tt.wantAlerts > 0 {
				assert.Equal(t, models.AlertTrend, active[0].Kind)
				assert.Equal(t, models.SeverityWarning, active[0].Severity)
			}
			if tt.wantMsg != "" {
				assert.Contains(t, active[0].Message, tt.wantMsg)
			}
		})
	}
}

func TestRules_TrendNeedsTwoPoints(t *testing.T) {
	svc, _ := setupService(t, metrics.Config{})
	ctx := context.Background()

	src := &stubSource{val: 1000}
	require.NoError(t, svc.RegisterMetric(newDef("upload_rate", src, &models.ThresholdConfig{
		Trend: &models.TrendThreshold{IncreasePct: models.Float64Ptr(1), Window: time.Hour},
	})))

	_, err := svc.CollectMetric(ctx, "upload_rate")
	require.NoError(t, err)

	active, err := svc.ActiveAlerts(ctx, "upload_rate", "")
	require.NoError(t, err)
	assert.Empty(t, active)
}

func TestRules_AnomalyDetection(t *testing.T) {
	svc, _ := setupService(t, metrics.Config{AnomalyDetection: true})
	ctx := context.Background()

	src := &stubSource{val: 100}
	require.NoError(t, svc.RegisterMetric(newDef("avg_processing_time", src, nil)))

	for i := 0; i < 11; i++ {
		_, err := svc.CollectMetric(ctx, "avg_processing_time")
		require.NoError(t, err)
	}

	active, err := svc.ActiveAlerts(ctx, "avg_processing_time", "")
	require.NoError(t, err)
	require.Empty(t, active, "flat baseline must not alert")

	// 200 against a baseline of 11x100 gives |z| > 3.
	src.set(200)
	_, err = svc.CollectMetric(ctx, "avg_processing_time")
	require.NoError(t, err)

	active, err = svc.ActiveAlerts(ctx, "avg_processing_time", "")
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, models.AlertAnomaly, active[0].Kind)
	assert.Equal(t, models.SeverityWarning, active[0].Severity)
	assert.Equal(t, 200.0, active[0].Value)
	assert.Nil(t, active[0].Threshold)
}

func TestRules_AnomalyDisabledByDefault(t *testing.T) {
	svc, _ := setupService(t, metrics.Config{})
	ctx := context.Background()

	src := &stubSource{val: 100}
	require.NoError(t, svc.RegisterMetric(newDef("avg_processing_time", src, nil)))

	for i := 0; i < 11; i++ {
		_, err := svc.CollectMetric(ctx, "avg_processing_time")
		require.NoError(t, err)
	}
	src.set(200)
	_, err := svc.CollectMetric(ctx, "avg_processing_time")
	require.NoError(t, err)

	active, err := svc.ActiveAlerts(ctx, "avg_processing_time", "")
	require.NoError(t, err)
	assert.Empty(t, active)
}

func TestRules_CollectionFailurePreservesCurrent(t *testing.T) {
	svc, _ := setupService(t, metrics.Config{})
	ctx := context.Background()

	src := &stubSource{val: 42}
	require.NoError(t, svc.RegisterMetric(newDef("storage_growth_bytes", src, nil)))

	_, err := svc.CollectMetric(ctx, "storage_growth_bytes")
	require.NoError(t, err)

	src.fail(errors.New("connection refused"))
	_, err = svc.CollectMetric(ctx, "storage_growth_bytes")
	require.Error(t, err)
	assert.ErrorContains(t, err, "connection refused")

	current, err := svc.Value(ctx, "storage_growth_bytes")
	require.NoError(t, err)
	assert.Equal(t, 42.0, current.Value, "failed collection must keep the last good value")

	active, err := svc.ActiveAlerts(ctx, "storage_growth_bytes", "")
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, models.SeverityWarning, active[0].Severity)
	assert.Equal(t, models.AlertThreshold, active[0].Kind)
	assert.Contains(t, active[0].Message, "failed")
	assert.Nil(t, active[0].Threshold)

	src.set(55)
	_, err = svc.CollectMetric(ctx, "storage_growth_bytes")
	require.NoError(t, err)

	current, err = svc.Value(ctx, "storage_growth_bytes")
	require.NoError(t, err)
	assert.Equal(t, 55.0, current.Value)
}
