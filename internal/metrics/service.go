package metrics

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/michalprusek/spheroseg-sub008/internal/logger"
	"github.com/michalprusek/spheroseg-sub008/internal/store"
	"github.com/michalprusek/spheroseg-sub008/internal/telemetry"
	"github.com/michalprusek/spheroseg-sub008/pkg/database"
	"github.com/michalprusek/spheroseg-sub008/pkg/models"
)

var (
	// ErrUnregisteredMetric is returned when an operation names a metric
	// that was never registered.
	ErrUnregisteredMetric = errors.New("metric not registered")

	// ErrAlertNotFound is returned by AcknowledgeAlert for unknown ids.
	ErrAlertNotFound = errors.New("alert not found")
)

// AlertHandler is an alert sink. Handlers run asynchronously; an error or
// panic in one handler is logged and never affects delivery to the others.
type AlertHandler func(ctx context.Context, alert *models.Alert) error

// ValueListener receives every successfully collected value. Listeners
// run asynchronously with the same containment as alert handlers.
type ValueListener func(value *models.MetricValue)

type Config struct {
	// AnomalyDetection globally switches the z-score rule.
	AnomalyDetection bool
	// DefaultInterval applies to definitions registered without one.
	DefaultInterval time.Duration

	// DB backs query-sourced metrics. Optional; collections of query
	// metrics fail (and alert) without it.
	DB *database.DB
	// Lock, when set, coordinates collection cycles across instances.
	Lock *store.Lock
	// Telemetry, when set, receives self-observability counters.
	Telemetry *telemetry.Telemetry
}

// Service owns metric definitions, their collection schedules, alerting
// rules and alert fan-out. One instance is constructed at startup and
// shared by reference; there is no package-level state.
type Service struct {
	cfg   Config
	store *store.Store

	mu    sync.RWMutex
	defs  map[string]*models.MetricDefinition
	tasks map[string]*collectorTask

	handlerMu sync.RWMutex
	handlers  []AlertHandler
	handlerWG sync.WaitGroup

	listenerMu sync.RWMutex
	listeners  []ValueListener

	started bool
}

func New(st *store.Store, cfg Config) *Service {
	if cfg.DefaultInterval == 0 {
		cfg.DefaultInterval = time.Minute
	}
	return &Service{
		cfg:   cfg,
		store: st,
		defs:  make(map[string]*models.MetricDefinition),
		tasks: make(map[string]*collectorTask),
	}
}

// RegisterMetric adds a definition to the registry and, once the service
// is started, schedules its recurring collection. Re-registration with the
// same name replaces the definition and cancels the prior schedule so no
// duplicate timers survive.
func (s *Service) RegisterMetric(def *models.MetricDefinition) error {
	if def.Interval == 0 {
		def.Interval = s.cfg.DefaultInterval
	}
	if err := def.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	old := s.tasks[def.Name]
	delete(s.tasks, def.Name)
	s.mu.Unlock()
	if old != nil {
		old.stop()
		logger.WithMetric(def.Name).Debug("Cancelled previous collection schedule")
	}

	s.mu.Lock()
	s.defs[def.Name] = def
	var task *collectorTask
	if s.started {
		task = newCollectorTask(s, def.Name, def.Interval)
		s.tasks[def.Name] = task
	}
	s.mu.Unlock()

	if task != nil {
		task.start()
	}
	logger.WithMetric(def.Name).Infof("Metric registered (interval %s, source %s)", def.Interval, def.Source.Kind())
	return nil
}

// UnregisterMetric removes a definition and cancels its schedule.
func (s *Service) UnregisterMetric(name string) error {
	s.mu.Lock()
	_, known := s.defs[name]
	task := s.tasks[name]
	delete(s.defs, name)
	delete(s.tasks, name)
	s.mu.Unlock()

	if !known {
		return fmt.Errorf("%w: %s", ErrUnregisteredMetric, name)
	}
	if task != nil {
		task.stop()
	}
	logger.WithMetric(name).Info("Metric unregistered")
	return nil
}

// Definitions returns the registered definitions, in no particular order.
func (s *Service) Definitions() []*models.MetricDefinition {
	s.mu.RLock()
	defer s.mu.RUnlock()

	defs := make([]*models.MetricDefinition, 0, len(s.defs))
	for _, def := range s.defs {
		defs = append(defs, def)
	}
	return defs
}

// Definition returns a single registered definition by name.
func (s *Service) Definition(name string) (*models.MetricDefinition, error) {
	def, ok := s.definition(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnregisteredMetric, name)
	}
	return def, nil
}

func (s *Service) definition(name string) (*models.MetricDefinition, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	def, ok := s.defs[name]
	return def, ok
}

// Start schedules collection for every registered metric.
func (s *Service) Start() {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return
	}
	s.started = true
	started := make([]*collectorTask, 0, len(s.defs))
	for name, def := range s.defs {
		task := newCollectorTask(s, name, def.Interval)
		s.tasks[name] = task
		started = append(started, task)
	}
	s.mu.Unlock()

	for _, task := range started {
		task.start()
	}
	logger.Infof("Metrics service started with %d metrics", len(started))
}

// Stop cancels all collection schedules and waits for in-flight cycles
// and alert handlers to drain.
func (s *Service) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	tasks := make([]*collectorTask, 0, len(s.tasks))
	for _, task := range s.tasks {
		tasks = append(tasks, task)
	}
	s.tasks = make(map[string]*collectorTask)
	s.mu.Unlock()

	for _, task := range tasks {
		task.stop()
	}
	s.handlerWG.Wait()
	logger.Info("Metrics service stopped")
}

// Value returns the most recent successfully collected value.
func (s *Service) Value(ctx context.Context, name string) (*models.MetricValue, error) {
	return s.store.GetValue(ctx, name)
}

// Stats returns the rolling statistics for a metric.
func (s *Service) Stats(ctx context.Context, name string) (*models.MetricStats, error) {
	return s.store.GetStats(ctx, name)
}

// History returns collected values with timestamps in [start, end),
// oldest first.
func (s *Service) History(ctx context.Context, name string, start, end time.Time) ([]*models.MetricValue, error) {
	return s.store.GetHistory(ctx, name, start, end)
}

// ActiveAlerts returns unacknowledged alerts, newest first, optionally
// narrowed by metric name and severity.
func (s *Service) ActiveAlerts(ctx context.Context, metric string, severity models.AlertSeverity) ([]*models.Alert, error) {
	alerts, err := s.store.ListAlerts(ctx, metric)
	if err != nil {
		return nil, err
	}

	active := make([]*models.Alert, 0, len(alerts))
	for _, a := range alerts {
		if a.Acknowledged {
			continue
		}
		if severity != "" && a.Severity != severity {
			continue
		}
		active = append(active, a)
	}
	return active, nil
}

// AcknowledgeAlert marks an alert handled by user and shortens its
// retention to the acknowledged window.
func (s *Service) AcknowledgeAlert(ctx context.Context, id, user string) (*models.Alert, error) {
	alert, err := s.store.AcknowledgeAlert(ctx, id, user)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrAlertNotFound, id)
		}
		return nil, err
	}
	logger.WithMetric(alert.Metric).Infof("Alert %s acknowledged by %s", id, user)
	return alert, nil
}

// RegisterAlertHandler appends an alert sink. Every fired alert is
// broadcast to all registered handlers.
func (s *Service) RegisterAlertHandler(h AlertHandler) {
	s.handlerMu.Lock()
	defer s.handlerMu.Unlock()
	s.handlers = append(s.handlers, h)
}

// RegisterValueListener appends a collected-value sink.
func (s *Service) RegisterValueListener(l ValueListener) {
	s.listenerMu.Lock()
	defer s.listenerMu.Unlock()
	s.listeners = append(s.listeners, l)
}

func (s *Service) notifyValue(value *models.MetricValue) {
	s.listenerMu.RLock()
	listeners := make([]ValueListener, len(s.listeners))
	copy(listeners, s.listeners)
	s.listenerMu.RUnlock()

	for _, l := range listeners {
		s.handlerWG.Add(1)
		go func(l ValueListener) {
			defer s.handlerWG.Done()
			defer func() {
				if r := recover(); r != nil {
					logger.WithMetric(value.Metric).Errorf("Value listener panic: %v", r)
				}
			}()
			l(value)
		}(l)
	}
}

// fireAlert persists the alert and fans it out to the registered
// handlers. Each handler runs in its own goroutine; a panic or error in
// one sink is contained there.
func (s *Service) fireAlert(ctx context.Context, alert *models.Alert) {
	if err := s.store.SaveAlert(ctx, alert); err != nil {
		logger.WithMetric(alert.Metric).Errorf("Failed to persist alert: %v", err)
	}
	s.cfg.Telemetry.AlertFired(string(alert.Severity), string(alert.Kind))
	logger.WithFields(map[string]interface{}{
		"metric":   alert.Metric,
		"severity": alert.Severity,
		"kind":     alert.Kind,
		"value":    alert.Value,
	}).Warn(alert.Message)

	s.handlerMu.RLock()
	handlers := make([]AlertHandler, len(s.handlers))
	copy(handlers, s.handlers)
	s.handlerMu.RUnlock()

	for _, h := range handlers {
		s.handlerWG.Add(1)
		go func(h AlertHandler) {
			defer s.handlerWG.Done()
			defer func() {
				if r := recover(); r != nil {
					logger.WithMetric(alert.Metric).Errorf("Alert handler panic: %v", r)
				}
			}()
			if err := h(context.Background(), alert); err != nil {
				logger.WithMetric(alert.Metric).Errorf("Alert handler failed: %v", err)
			}
		}(h)
	}
}
