package autoscaler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/michalprusek/spheroseg-sub008/internal/executor"
	"github.com/michalprusek/spheroseg-sub008/internal/logger"
	"github.com/michalprusek/spheroseg-sub008/internal/store"
	"github.com/michalprusek/spheroseg-sub008/internal/telemetry"
	"github.com/michalprusek/spheroseg-sub008/pkg/models"
)

var (
	// ErrUnregisteredPolicy is returned when an operation names a policy
	// that was never registered.
	ErrUnregisteredPolicy = errors.New("policy not registered")

	// ErrExecutionFailed wraps executor errors so evaluation loops can
	// log them without losing the cause.
	ErrExecutionFailed = errors.New("scaling execution failed")
)

// ValueFunc supplies a custom-source metric value to policy evaluation.
type ValueFunc func(ctx context.Context) (float64, error)

// EventListener observes executed scaling events, successful or failed.
type EventListener func(event *models.ScalingEvent)

type Config struct {
	// Enabled is the initial state of the global kill switch.
	Enabled bool
	// ExecutionTimeout bounds each executor call.
	ExecutionTimeout time.Duration
	// PrometheusURL enables prometheus-sourced metric refs when set.
	PrometheusURL string

	// Lock, when set, coordinates evaluation cycles across instances.
	Lock *store.Lock
	// Telemetry, when set, receives self-observability counters.
	Telemetry *telemetry.Telemetry
}

// AutoScaler owns scaling policies and their evaluation schedules, scores
// metric signals into decisions and drives the executor. Policies are
// immutable after publication; enable/disable swaps in a copy.
type AutoScaler struct {
	cfg      Config
	store    *store.Store
	executor executor.Executor
	prom     *prometheusClient

	mu       sync.RWMutex
	policies map[string]*models.ScalingPolicy
	tasks    map[string]*policyTask
	enabled  bool
	started  bool

	cooldownMu sync.RWMutex
	lastAction map[string]time.Time

	fetcherMu sync.RWMutex
	fetchers  map[string]ValueFunc

	listenerMu sync.RWMutex
	listeners  []EventListener
	listenerWG sync.WaitGroup
}

func New(st *store.Store, exec executor.Executor, cfg Config) *AutoScaler {
	if cfg.ExecutionTimeout == 0 {
		cfg.ExecutionTimeout = 60 * time.Second
	}

	a := &AutoScaler{
		cfg:        cfg,
		store:      st,
		executor:   exec,
		policies:   make(map[string]*models.ScalingPolicy),
		tasks:      make(map[string]*policyTask),
		enabled:    cfg.Enabled,
		lastAction: make(map[string]time.Time),
		fetchers:   make(map[string]ValueFunc),
	}
	if cfg.PrometheusURL != "" {
		a.prom = newPrometheusClient(cfg.PrometheusURL)
	}
	return a
}

// RegisterPolicy validates and stores a policy and, once the engine is
// started and enabled, schedules its recurring evaluation.
// Re-registration with the same name replaces the policy and cancels the
// prior schedule so no duplicate timers survive.
func (a *AutoScaler) RegisterPolicy(p *models.ScalingPolicy) error {
	if err := p.Validate(); err != nil {
		return err
	}
	if p.UsesPercentageChange() {
		logger.WithPolicy(p.Name).Warn("percentage_change comparison never triggers; thresholds using it are inert")
	}

	a.mu.Lock()
	old := a.tasks[p.Name]
	delete(a.tasks, p.Name)
	a.mu.Unlock()
	if old != nil {
		old.stop()
		logger.WithPolicy(p.Name).Debug("Cancelled previous evaluation schedule")
	}

	a.mu.Lock()
	a.policies[p.Name] = p
	var task *policyTask
	if a.started && a.enabled && p.Enabled {
		task = newPolicyTask(a, p.Name, p.EvaluationInterval)
		a.tasks[p.Name] = task
	}
	a.mu.Unlock()

	if task != nil {
		task.start()
	}
	logger.WithPolicy(p.Name).Infof("Policy registered for service %s (every %s, replicas %d-%d)",
		p.Service, p.EvaluationInterval, p.MinReplicas, p.MaxReplicas)
	return nil
}

// Policies returns the registered policies sorted by name.
func (a *AutoScaler) Policies() []*models.ScalingPolicy {
	a.mu.RLock()
	defer a.mu.RUnlock()

	out := make([]*models.ScalingPolicy, 0, len(a.policies))
	for _, p := range a.policies {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (a *AutoScaler) Policy(name string) (*models.ScalingPolicy, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	p, ok := a.policies[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnregisteredPolicy, name)
	}
	return p, nil
}

// SetPolicyEnabled flips a policy's enabled flag and starts or cancels
// its evaluation schedule accordingly.
func (a *AutoScaler) SetPolicyEnabled(name string, enabled bool) error {
	a.mu.Lock()
	p, ok := a.policies[name]
	if !ok {
		a.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnregisteredPolicy, name)
	}
	if p.Enabled == enabled {
		a.mu.Unlock()
		return nil
	}
	cp := *p
	cp.Enabled = enabled
	a.policies[name] = &cp

	var toStop, toStart *policyTask
	if !enabled {
		toStop = a.tasks[name]
		delete(a.tasks, name)
	} else if a.started && a.enabled {
		toStart = newPolicyTask(a, name, cp.EvaluationInterval)
		a.tasks[name] = toStart
	}
	a.mu.Unlock()

	if toStop != nil {
		toStop.stop()
	}
	if toStart != nil {
		toStart.start()
	}

	state := "disabled"
	if enabled {
		state = "enabled"
	}
	logger.WithPolicy(name).Infof("Policy %s", state)
	return nil
}

// SetEnabled is the global kill switch. Disabling cancels every
// evaluation schedule; re-enabling restarts schedules only for policies
// whose own enabled flag is true.
func (a *AutoScaler) SetEnabled(enabled bool) {
	a.mu.Lock()
	if a.enabled == enabled {
		a.mu.Unlock()
		return
	}
	a.enabled = enabled

	var toStop, toStart []*policyTask
	if !enabled {
		for _, t := range a.tasks {
			toStop = append(toStop, t)
		}
		a.tasks = make(map[string]*policyTask)
	} else if a.started {
		for name, p := range a.policies {
			if !p.Enabled {
				continue
			}
			task := newPolicyTask(a, name, p.EvaluationInterval)
			a.tasks[name] = task
			toStart = append(toStart, task)
		}
	}
	a.mu.Unlock()

	for _, t := range toStop {
		t.stop()
	}
	for _, t := range toStart {
		t.start()
	}

	state := "disabled"
	if enabled {
		state = "enabled"
	}
	logger.Infof("Scaling engine %s", state)
}

func (a *AutoScaler) Enabled() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.enabled
}

// Start schedules evaluation for every enabled policy.
func (a *AutoScaler) Start() {
	a.mu.Lock()
	if a.started {
		a.mu.Unlock()
		return
	}
	a.started = true
	var started []*policyTask
	if a.enabled {
		for name, p := range a.policies {
			if !p.Enabled {
				continue
			}
			task := newPolicyTask(a, name, p.EvaluationInterval)
			a.tasks[name] = task
			started = append(started, task)
		}
	}
	a.mu.Unlock()

	for _, t := range started {
		t.start()
	}
	logger.Infof("Autoscaler started with %d active policies", len(started))
}

// Stop cancels all evaluation schedules and waits for in-flight cycles
// and event listeners to drain.
func (a *AutoScaler) Stop() {
	a.mu.Lock()
	if !a.started {
		a.mu.Unlock()
		return
	}
	a.started = false
	tasks := make([]*policyTask, 0, len(a.tasks))
	for _, t := range a.tasks {
		tasks = append(tasks, t)
	}
	a.tasks = make(map[string]*policyTask)
	a.mu.Unlock()

	for _, t := range tasks {
		t.stop()
	}
	a.listenerWG.Wait()
	logger.Info("Autoscaler stopped")
}

// RegisterValueFunc binds a fetcher for custom-source metric refs with
// the given name.
func (a *AutoScaler) RegisterValueFunc(name string, fn ValueFunc) {
	a.fetcherMu.Lock()
	defer a.fetcherMu.Unlock()
	a.fetchers[name] = fn
}

// RegisterEventListener appends an observer for executed scaling events.
func (a *AutoScaler) RegisterEventListener(fn EventListener) {
	a.listenerMu.Lock()
	defer a.listenerMu.Unlock()
	a.listeners = append(a.listeners, fn)
}

// ScalingHistory returns executed events for a service, newest first.
func (a *AutoScaler) ScalingHistory(ctx context.Context, service string, limit int) ([]*models.ScalingEvent, error) {
	return a.store.ListEvents(ctx, service, limit)
}

// Decisions returns persisted evaluation decisions for a service, newest
// first.
func (a *AutoScaler) Decisions(ctx context.Context, service string, limit int) ([]*models.ScalingDecision, error) {
	return a.store.ListDecisions(ctx, service, limit)
}

func (a *AutoScaler) cooldownRemaining(service string, period time.Duration) time.Duration {
	a.cooldownMu.RLock()
	defer a.cooldownMu.RUnlock()

	last, ok := a.lastAction[service]
	if !ok {
		return 0
	}
	elapsed := time.Since(last)
	if elapsed >= period {
		return 0
	}
	return period - elapsed
}

// armCooldown records that a scaling attempt just happened for the
// service. Both successful and failed executions arm it.
func (a *AutoScaler) armCooldown(service string) {
	a.cooldownMu.Lock()
	defer a.cooldownMu.Unlock()
	a.lastAction[service] = time.Now()
}

func (a *AutoScaler) notifyListeners(event *models.ScalingEvent) {
	a.listenerMu.RLock()
	listeners := make([]EventListener, len(a.listeners))
	copy(listeners, a.listeners)
	a.listenerMu.RUnlock()

	for _, fn := range listeners {
		a.listenerWG.Add(1)
		go func(fn EventListener) {
			defer a.listenerWG.Done()
			defer func() {
				if r := recover(); r != nil {
					logger.WithService(event.Service).Errorf("Event listener panic: %v", r)
				}
			}()
			fn(event)
		}(fn)
	}
}
