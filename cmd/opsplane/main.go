package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/michalprusek/spheroseg-sub008/api"
	"github.com/michalprusek/spheroseg-sub008/internal/alerting"
	"github.com/michalprusek/spheroseg-sub008/internal/autoscaler"
	"github.com/michalprusek/spheroseg-sub008/internal/executor"
	"github.com/michalprusek/spheroseg-sub008/internal/logger"
	"github.com/michalprusek/spheroseg-sub008/internal/metrics"
	"github.com/michalprusek/spheroseg-sub008/internal/retention"
	"github.com/michalprusek/spheroseg-sub008/internal/store"
	"github.com/michalprusek/spheroseg-sub008/internal/telemetry"
	"github.com/michalprusek/spheroseg-sub008/pkg/config"
	"github.com/michalprusek/spheroseg-sub008/pkg/database"
	"github.com/michalprusek/spheroseg-sub008/pkg/models"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "", "path to config file")
	demo := flag.Bool("demo", false, "run a synthetic load demo against the simulator executor")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	logger.Setup(cfg.App.LogLevel, cfg.App.Mode)
	logger.Infof("Starting %s in %s mode", cfg.App.Name, cfg.App.Mode)

	st, err := store.New(store.Config{
		Addr:         cfg.Redis.Addr,
		Password:     cfg.Redis.Password,
		DB:           cfg.Redis.DB,
		DialTimeout:  cfg.Redis.DialTimeout,
		ReadTimeout:  cfg.Redis.ReadTimeout,
		WriteTimeout: cfg.Redis.WriteTimeout,
		PoolSize:     cfg.Redis.PoolSize,
	})
	if err != nil {
		return fmt.Errorf("failed to connect to redis: %w", err)
	}
	defer st.Close()

	logger.Info("Redis connection established")

	if *demo {
		return runDemo(st)
	}

	var db *database.DB
	if cfg.Database.Enabled {
		db, err = database.New(cfg.Database.ToDBConfig())
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		defer db.Close()
		logger.Info("Database connection established")
	}

	tele := telemetry.New()

	var lock *store.Lock
	if cfg.Coordination.Enabled {
		lock = store.NewLock(st, cfg.Coordination.LockTTL)
		logger.Infof("Cycle coordination enabled (lock TTL %s)", cfg.Coordination.LockTTL)
	}

	svc := metrics.New(st, metrics.Config{
		AnomalyDetection: cfg.Metrics.AnomalyDetection,
		DefaultInterval:  cfg.Metrics.DefaultInterval,
		DB:               db,
		Lock:             lock,
		Telemetry:        tele,
	})
	if cfg.Metrics.RegisterDefaults {
		if err := svc.RegisterDefaultMetrics(); err != nil {
			return fmt.Errorf("failed to register default metrics: %w", err)
		}
	}

	svc.RegisterAlertHandler(alerting.LogHandler())
	if cfg.Alerting.WebhookURL != "" {
		svc.RegisterAlertHandler(alerting.NewWebhookHandler(alerting.WebhookConfig{
			URL:        cfg.Alerting.WebhookURL,
			Timeout:    cfg.Alerting.WebhookTimeout,
			MaxRetries: int(cfg.Alerting.WebhookMaxRetries),
		}))
		logger.Infof("Webhook alerting enabled: %s", cfg.Alerting.WebhookURL)
	}

	var exec executor.Executor
	switch cfg.Scaling.Executor {
	case "simulator":
		exec = executor.NewSimulatorExecutor(executor.SimulatorConfig{})
	default:
		exec = executor.NewCommandExecutor(executor.CommandConfig{
			ScaleCommand:    cfg.Scaling.ScaleCommand,
			ReplicasCommand: cfg.Scaling.ReplicasCommand,
			Timeout:         cfg.Scaling.ExecutionTimeout,
		})
	}
	defer exec.Close()

	scaler := autoscaler.New(st, exec, autoscaler.Config{
		Enabled:          cfg.Scaling.Enabled,
		ExecutionTimeout: cfg.Scaling.ExecutionTimeout,
		PrometheusURL:    cfg.Scaling.PrometheusURL,
		Lock:             lock,
		Telemetry:        tele,
	})
	if cfg.Scaling.RegisterDefaults {
		if err := scaler.RegisterDefaultPolicies(); err != nil {
			return fmt.Errorf("failed to register default policies: %w", err)
		}
	}

	sweeper := retention.NewSweeper(st, retention.Config{Schedule: cfg.Retention.Schedule})

	server := api.NewServer(cfg, api.Deps{
		Store:   st,
		DB:      db,
		Metrics: svc,
		Scaler:  scaler,
	})

	svc.Start()
	scaler.Start()
	if cfg.Retention.Enabled {
		if err := sweeper.Start(); err != nil {
			return fmt.Errorf("failed to start retention sweeper: %w", err)
		}
	}

	var promServer *http.Server
	if cfg.Prometheus.Enabled {
		promServer = &http.Server{
			Addr:    fmt.Sprintf(":%d", cfg.Prometheus.Port),
			Handler: tele.Handler(),
		}
		go func() {
			logger.Infof("Telemetry exporter listening on port %d", cfg.Prometheus.Port)
			if err := promServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Errorf("Telemetry exporter failed: %v", err)
			}
		}()
	}

	shutdownChan := make(chan os.Signal, 1)
	signal.Notify(shutdownChan, os.Interrupt, syscall.SIGTERM)

	errChan := make(chan error, 1)
	go func() {
		logger.Infof("API server listening on port %d", cfg.API.Port)
		if err := server.Start(); err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	select {
	case err := <-errChan:
		return fmt.Errorf("server error: %w", err)
	case sig := <-shutdownChan:
		logger.Infof("Received signal %v, shutting down", sig)
	}

	shutdownTimeout := cfg.App.ShutdownTimeout
	if shutdownTimeout == 0 {
		shutdownTimeout = 30 * time.Second
	}
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown error: %w", err)
	}
	if promServer != nil {
		if err := promServer.Shutdown(shutdownCtx); err != nil {
			logger.Errorf("Telemetry exporter shutdown error: %v", err)
		}
	}
	if cfg.Retention.Enabled {
		sweeper.Stop()
	}
	scaler.Stop()
	svc.Stop()

	logger.Info("Server stopped gracefully")
	return nil
}

// runDemo wires a simulator executor to a synthetic queue-length metric
// and walks it through a spike so a full scale-up/scale-down cycle is
// visible in the logs within a minute.
func runDemo(st *store.Store) error {
	logger.Info("Running scaling demo")

	var queueDepth atomic.Int64
	queueDepth.Store(20)

	svc := metrics.New(st, metrics.Config{})
	err := svc.RegisterMetric(&models.MetricDefinition{
		Name:        "segmentation_queue_length",
		Description: "Synthetic demo queue depth",
		Source: models.CalculatorSource{Func: func(ctx context.Context) (float64, error) {
			return float64(queueDepth.Load()), nil
		}},
		Unit:     models.UnitCount,
		Interval: 2 * time.Second,
		Thresholds: &models.ThresholdConfig{
			Warning: models.Float64Ptr(150),
		},
	})
	if err != nil {
		return fmt.Errorf("failed to register demo metric: %w", err)
	}
	svc.RegisterAlertHandler(alerting.LogHandler())

	sim := executor.NewSimulatorExecutor(executor.SimulatorConfig{Latency: 500 * time.Millisecond})
	sim.SetReplicas("backend", 2)

	scaler := autoscaler.New(st, sim, autoscaler.Config{Enabled: true})
	err = scaler.RegisterPolicy(&models.ScalingPolicy{
		Name:        "demo-backend-load",
		Service:     "backend",
		MinReplicas: 1,
		MaxReplicas: 5,
		Metrics: []models.ScalingMetricRef{
			{Name: "segmentation_queue_length", Type: models.MetricTypeQueueLength, Source: models.SourceBusinessMetrics, Weight: 1.0},
		},
		Thresholds: []models.ScalingThreshold{
			{Metric: "segmentation_queue_length", ScaleUp: 100, ScaleDown: 10, Comparison: models.CompareGreaterThan},
		},
		Cooldown:           8 * time.Second,
		ScaleUpBy:          1,
		ScaleDownBy:        1,
		EvaluationInterval: 3 * time.Second,
		Enabled:            true,
	})
	if err != nil {
		return fmt.Errorf("failed to register demo policy: %w", err)
	}

	scaler.RegisterEventListener(func(event *models.ScalingEvent) {
		logger.Infof("[EVENT] %s %s: %d -> %d replicas (%s)",
			event.Service, event.Action, event.FromReplicas, event.ToReplicas, event.Reason)
	})

	svc.Start()
	scaler.Start()

	logger.Info("=== Phase 1: Steady queue (15 seconds) ===")
	time.Sleep(15 * time.Second)

	logger.Info("=== Phase 2: Queue spike (25 seconds) ===")
	queueDepth.Store(180)
	time.Sleep(25 * time.Second)

	logger.Info("=== Phase 3: Queue drains (25 seconds) ===")
	queueDepth.Store(2)
	time.Sleep(25 * time.Second)

	replicas, err := sim.CurrentReplicas(context.Background(), "backend")
	if err == nil {
		logger.Infof("Final replica count: %d", replicas)
	}

	history, err := scaler.ScalingHistory(context.Background(), "backend", 20)
	if err == nil {
		logger.Infof("Recorded %d scaling event(s)", len(history))
	}

	scaler.Stop()
	svc.Stop()

	logger.Info("Demo completed")
	return nil
}
