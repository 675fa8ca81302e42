// Package resilience guards calls to flaky external backends. The
// autoscaler wraps its Prometheus client in a Breaker so a dead
// metrics backend fails fast instead of eating the full query timeout
// on every evaluation cycle.
package resilience

import (
	"errors"
	"sync"
	"time"
)

// ErrOpen is returned by Execute while the breaker rejects calls.
var ErrOpen = errors.New("breaker open")

type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

type Config struct {
	// Name labels state-change notifications.
	Name string
	// MaxFailures is the consecutive-failure count that opens the
	// breaker. Defaults to 5.
	MaxFailures int
	// ResetAfter is how long the breaker stays open before letting a
	// probe call through. Defaults to 30s.
	ResetAfter time.Duration
	// HalfOpenProbes is the number of consecutive successful probes
	// required to close the breaker again. Defaults to 3.
	HalfOpenProbes int
	// OnStateChange, when set, is notified of every transition on its
	// own goroutine.
	OnStateChange func(name string, from, to State)
}

// Breaker is a three-state circuit breaker. Closed passes every call
// through, Open rejects them, HalfOpen lets probes through after the
// reset window and closes once enough of them succeed.
type Breaker struct {
	name           string
	maxFailures    int
	resetAfter     time.Duration
	halfOpenProbes int
	onStateChange  func(name string, from, to State)

	mu          sync.Mutex
	state       State
	failures    int
	probes      int
	lastFailure time.Time
}

func New(cfg Config) *Breaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 5
	}
	if cfg.ResetAfter <= 0 {
		cfg.ResetAfter = 30 * time.Second
	}
	if cfg.HalfOpenProbes <= 0 {
		cfg.HalfOpenProbes = 3
	}
	return &Breaker{
		name:           cfg.Name,
		maxFailures:    cfg.MaxFailures,
		resetAfter:     cfg.ResetAfter,
		halfOpenProbes: cfg.HalfOpenProbes,
		onStateChange:  cfg.OnStateChange,
	}
}

// Execute runs fn unless the breaker is open. The error from fn is
// returned as-is; a rejected call returns ErrOpen.
func (b *Breaker) Execute(fn func() error) error {
	if !b.allow() {
		return ErrOpen
	}
	if err := fn(); err != nil {
		b.failure()
		return err
	}
	b.success()
	return nil
}

func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Reset force-closes the breaker and clears its counters.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state != StateClosed {
		b.shift(StateClosed)
	}
	b.failures = 0
	b.probes = 0
}

func (b *Breaker) allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateOpen:
		if time.Since(b.lastFailure) < b.resetAfter {
			return false
		}
		b.shift(StateHalfOpen)
		return true
	default:
		return true
	}
}

func (b *Breaker) success() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		b.failures = 0
	case StateHalfOpen:
		b.probes++
		if b.probes >= b.halfOpenProbes {
			b.shift(StateClosed)
		}
	}
}

func (b *Breaker) failure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.lastFailure = time.Now()
	switch b.state {
	case StateClosed:
		b.failures++
		if b.failures >= b.maxFailures {
			b.shift(StateOpen)
		}
	case StateHalfOpen:
		// One failed probe reopens the breaker.
		b.shift(StateOpen)
	}
}

// shift must be called with b.mu held.
func (b *Breaker) shift(to State) {
	from := b.state
	b.state = to
	b.failures = 0
	b.probes = 0
	if b.onStateChange != nil {
		go b.onStateChange(b.name, from, to)
	}
}
