package executor

import (
	"context"
	"errors"
)

var (
	ErrUnknownService  = errors.New("service not managed by this executor")
	ErrInvalidReplicas = errors.New("invalid target replica count")
	ErrNotConfigured   = errors.New("executor command not configured")
)

// Executor is the boundary to the orchestration layer. It answers replica
// counts and applies them; it is not responsible for container lifecycle
// beyond invoking and timing the underlying command.
type Executor interface {
	// CurrentReplicas reports how many replicas the service runs now.
	CurrentReplicas(ctx context.Context, service string) (int, error)

	// ScaleTo sets the service's replica count.
	ScaleTo(ctx context.Context, service string, replicas int) error

	// Close releases resources held by the executor.
	Close() error
}
