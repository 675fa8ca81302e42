package executor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/michalprusek/spheroseg-sub008/internal/logger"
)

type SimulatorConfig struct {
	// Latency is slept on every ScaleTo, bounded by the caller's context.
	Latency time.Duration
}

// SimulatorExecutor keeps replica counts in memory. It backs demo mode
// and tests; services must be seeded with SetReplicas before use.
type SimulatorExecutor struct {
	mu       sync.Mutex
	replicas map[string]int
	latency  time.Duration
	failErr  error
}

func NewSimulatorExecutor(cfg SimulatorConfig) *SimulatorExecutor {
	return &SimulatorExecutor{
		replicas: make(map[string]int),
		latency:  cfg.Latency,
	}
}

// SetReplicas seeds or overrides a service's replica count.
func (s *SimulatorExecutor) SetReplicas(service string, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.replicas[service] = n
}

// FailWith makes subsequent ScaleTo calls return err; nil clears the
// injected failure.
func (s *SimulatorExecutor) FailWith(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failErr = err
}

func (s *SimulatorExecutor) CurrentReplicas(ctx context.Context, service string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.replicas[service]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownService, service)
	}
	return n, nil
}

func (s *SimulatorExecutor) ScaleTo(ctx context.Context, service string, replicas int) error {
	if replicas < 0 {
		return fmt.Errorf("%w: %d", ErrInvalidReplicas, replicas)
	}

	if s.latency > 0 {
		select {
		case <-time.After(s.latency):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failErr != nil {
		return s.failErr
	}

	prev := s.replicas[service]
	s.replicas[service] = replicas
	logger.WithService(service).Infof("Simulated scale %d -> %d replicas", prev, replicas)
	return nil
}

func (s *SimulatorExecutor) Close() error {
	return nil
}
