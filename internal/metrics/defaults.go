package metrics

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"github.com/michalprusek/spheroseg-sub008/internal/logger"
	"github.com/michalprusek/spheroseg-sub008/pkg/models"
)

// RegisterDefaultMetrics registers the platform metric set: segmentation
// pipeline health read from the relational store, plus in-process runtime
// metrics that work without one. Query-backed metrics are skipped when no
// database is configured, and a metric whose backing table is absent is
// skipped with a warning instead of alerting on every cycle.
func (s *Service) RegisterDefaultMetrics() error {
	defs := runtimeMetrics()
	if s.cfg.DB != nil {
		defs = append(defs, platformMetrics()...)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	for _, def := range defs {
		if table := def.Tags["table"]; table != "" {
			exists, err := s.cfg.DB.TableExists(ctx, table)
			if err != nil {
				return fmt.Errorf("check table for %s: %w", def.Name, err)
			}
			if !exists {
				logger.WithMetric(def.Name).Warnf("Table %s not found, skipping default metric", table)
				continue
			}
		}
		if err := s.RegisterMetric(def); err != nil {
			return err
		}
	}
	return nil
}

func runtimeMetrics() []*models.MetricDefinition {
	return []*models.MetricDefinition{
		{
			Name:        "runtime_goroutines",
			Description: "Goroutines alive in this process",
			Source: models.CalculatorSource{Func: func(ctx context.Context) (float64, error) {
				return float64(runtime.NumGoroutine()), nil
			}},
			Unit:        models.UnitCount,
			Aggregation: models.AggregationAvg,
			Interval:    time.Minute,
			Thresholds: &models.ThresholdConfig{
				Warning:  models.Float64Ptr(5000),
				Critical: models.Float64Ptr(20000),
			},
			Tags: map[string]string{"scope": "runtime"},
		},
		{
			Name:        "runtime_heap_bytes",
			Description: "Heap bytes currently allocated by this process",
			Source: models.CalculatorSource{Func: func(ctx context.Context) (float64, error) {
				var m runtime.MemStats
				runtime.ReadMemStats(&m)
				return float64(m.HeapAlloc), nil
			}},
			Unit:        models.UnitBytes,
			Aggregation: models.AggregationAvg,
			Interval:    time.Minute,
			Tags:        map[string]string{"scope": "runtime"},
		},
	}
}

// platformMetrics is the segmentation-platform health set. Queries are
// read-only and must return a single numeric column; NULL aggregates are
// coalesced to zero so empty tables read as quiet, not broken.
func platformMetrics() []*models.MetricDefinition {
	return []*models.MetricDefinition{
		{
			Name:        "upload_rate",
			Description: "Images uploaded during the past hour",
			Source: models.QuerySource{SQL: `
				SELECT COUNT(*)
				FROM images
				WHERE uploaded_at > NOW() - INTERVAL '1 hour'`},
			Unit:        models.UnitCount,
			Aggregation: models.AggregationCount,
			Interval:    5 * time.Minute,
			Tags:        map[string]string{"scope": "platform", "table": "images"},
		},
		{
			Name:        "processing_failure_rate",
			Description: "Share of segmentations that failed during the past hour",
			Source: models.QuerySource{SQL: `
				SELECT COALESCE(100.0 * COUNT(*) FILTER (WHERE status = 'FAILED') / NULLIF(COUNT(*), 0), 0)
				FROM segmentations
				WHERE updated_at > NOW() - INTERVAL '1 hour'`},
			Unit:        models.UnitPercentage,
			Aggregation: models.AggregationAvg,
			Interval:    time.Minute,
			Thresholds: &models.ThresholdConfig{
				Warning:  models.Float64Ptr(5),
				Critical: models.Float64Ptr(10),
			},
			Tags: map[string]string{"scope": "platform", "table": "segmentations"},
		},
		{
			Name:        "segmentation_queue_length",
			Description: "Segmentations waiting for or undergoing processing",
			Source: models.QuerySource{SQL: `
				SELECT COUNT(*)
				FROM segmentations
				WHERE status IN ('PENDING', 'PROCESSING')`},
			Unit:        models.UnitCount,
			Aggregation: models.AggregationCount,
			Interval:    time.Minute,
			Thresholds: &models.ThresholdConfig{
				Warning:  models.Float64Ptr(50),
				Critical: models.Float64Ptr(200),
				Trend: &models.TrendThreshold{
					IncreasePct: models.Float64Ptr(50),
					Window:      30 * time.Minute,
				},
			},
			Tags: map[string]string{"scope": "platform", "table": "segmentations"},
		},
		{
			Name:        "avg_processing_time",
			Description: "Mean seconds from segmentation creation to completion, past hour",
			Source: models.QuerySource{SQL: `
				SELECT COALESCE(AVG(EXTRACT(EPOCH FROM (updated_at - created_at))), 0)
				FROM segmentations
				WHERE status IN ('COMPLETED', 'SEGMENTED')
				  AND updated_at > NOW() - INTERVAL '1 hour'`},
			Unit:        models.UnitDuration,
			Aggregation: models.AggregationAvg,
			Interval:    5 * time.Minute,
			Thresholds: &models.ThresholdConfig{
				Warning:  models.Float64Ptr(120),
				Critical: models.Float64Ptr(300),
			},
			Tags: map[string]string{"scope": "platform", "table": "segmentations"},
		},
		{
			Name:        "active_projects",
			Description: "Projects that received uploads during the past day",
			Source: models.QuerySource{SQL: `
				SELECT COUNT(DISTINCT project_id)
				FROM images
				WHERE uploaded_at > NOW() - INTERVAL '24 hours'`},
			Unit:        models.UnitCount,
			Aggregation: models.AggregationCount,
			Interval:    15 * time.Minute,
			Thresholds: &models.ThresholdConfig{
				Trend: &models.TrendThreshold{
					DecreasePct: models.Float64Ptr(30),
					Window:      24 * time.Hour,
				},
			},
			Tags: map[string]string{"scope": "platform", "table": "projects"},
		},
		{
			Name:        "storage_growth_bytes",
			Description: "On-disk size of the platform database",
			Source: models.QuerySource{SQL: `
				SELECT pg_database_size(current_database())`},
			Unit:        models.UnitBytes,
			Aggregation: models.AggregationMax,
			Interval:    time.Hour,
			Thresholds: &models.ThresholdConfig{
				Trend: &models.TrendThreshold{
					IncreasePct: models.Float64Ptr(25),
					Window:      24 * time.Hour,
				},
			},
			Tags: map[string]string{"scope": "platform"},
		},
	}
}
