// Package circuit guards calls to external sinks so a dead database or broker
// is skipped instead of stalling every evaluation.
package circuit

import (
	"context"
	"errors"
	"sync"
	"time"
)

// State represents circuit breaker state
type State int32

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

var (
	ErrCircuitOpen     = errors.New("circuit breaker is open")
	ErrTooManyRequests = errors.New("too many requests in half-open state")
)

// Config holds circuit breaker configuration
type Config struct {
	Name          string
	MaxFailures   int
	Timeout       time.Duration
	HalfOpenMax   int
	// OnStateChange runs with the breaker locked and must not call back into it.
	OnStateChange func(name string, from, to State)
	// Now overrides the clock, for tests.
	Now           func() time.Time
}

// DefaultConfig trips after 5 consecutive failures and lets a trial call through after 30s.
func DefaultConfig() Config {
	return Config{MaxFailures: 5, Timeout: 30 * time.Second, HalfOpenMax: 1}
}

// Breaker implements the circuit breaker pattern
type Breaker struct {
	cfg Config

	mu            sync.Mutex
	state         State
	failures      int
	successes     int
	halfOpenCount int
	openedAt      time.Time
}

// NewBreaker creates a new circuit breaker
func NewBreaker(cfg Config) *Breaker {
	if cfg.MaxFailures < 1 {
		cfg.MaxFailures = 1
	}
	if cfg.HalfOpenMax < 1 {
		cfg.HalfOpenMax = 1
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Breaker{cfg: cfg}
}

// Execute runs fn unless the breaker is open. A cancelled context is not
// counted as a failure of the guarded dependency.
func (b *Breaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	if err := b.allowRequest(); err != nil {
		return err
	}

	err := fn(ctx)
	switch {
	case err == nil:
		b.recordSuccess()
	case errors.Is(err, context.Canceled):
		b.release()
	default:
		b.recordFailure()
	}
	return err
}

func (b *Breaker) allowRequest() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateOpen:
		if b.cfg.Now().Sub(b.openedAt) < b.cfg.Timeout {
			return ErrCircuitOpen
		}
		b.transitionTo(StateHalfOpen)
		fallthrough
	case StateHalfOpen:
		if b.halfOpenCount >= b.cfg.HalfOpenMax {
			return ErrTooManyRequests
		}
		b.halfOpenCount++
	}
	return nil
}

func (b *Breaker) release() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateHalfOpen && b.halfOpenCount > 0 {
		b.halfOpenCount--
	}
}

func (b *Breaker) recordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		b.failures++
		if b.failures >= b.cfg.MaxFailures {
			b.transitionTo(StateOpen)
		}
	case StateHalfOpen:
		b.transitionTo(StateOpen)
	}
}

func (b *Breaker) recordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		b.failures = 0
	case StateHalfOpen:
		b.successes++
		if b.successes >= b.cfg.HalfOpenMax {
			b.transitionTo(StateClosed)
		}
	}
}

// transitionTo must be called with mu held.
func (b *Breaker) transitionTo(to State) {
	from := b.state
	if from == to {
		return
	}
	b.state = to
	b.failures, b.successes, b.halfOpenCount = 0, 0, 0
	if to == StateOpen {
		b.openedAt = b.cfg.Now()
	}
	if b.cfg.OnStateChange != nil {
		b.cfg.OnStateChange(b.cfg.Name, from, to)
	}
}

// State returns current state
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Failures returns the consecutive failure count
func (b *Breaker) Failures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures
}

// Reset closes the breaker
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.transitionTo(StateClosed)
}

// Snapshot is one breaker's state as reported to operators.
type Snapshot struct {
	State    State
	Failures int
}

// Group manages one breaker per named dependency
type Group struct {
	mu       sync.RWMutex
	breakers map[string]*Breaker
	config   Config
}

// NewGroup creates a group whose breakers share defaultConfig
func NewGroup(defaultConfig Config) *Group {
	return &Group{
		breakers: make(map[string]*Breaker),
		config:   defaultConfig,
	}
}

// Get returns or creates the breaker for name
func (g *Group) Get(name string) *Breaker {
	g.mu.RLock()
	b, exists := g.breakers[name]
	g.mu.RUnlock()
	if exists {
		return b
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if b, exists = g.breakers[name]; exists {
		return b
	}

	cfg := g.config
	cfg.Name = name
	b = NewBreaker(cfg)
	g.breakers[name] = b
	return b
}

// Execute runs fn under the named breaker
func (g *Group) Execute(ctx context.Context, name string, fn func(context.Context) error) error {
	return g.Get(name).Execute(ctx, fn)
}

// Reset closes the named breaker. It reports false if no call has created
// that breaker yet.
func (g *Group) Reset(name string) bool {
	g.mu.RLock()
	b, exists := g.breakers[name]
	g.mu.RUnlock()
	if !exists {
		return false
	}
	b.Reset()
	return true
}

// Snapshots returns the state of every breaker
func (g *Group) Snapshots() map[string]Snapshot {
	g.mu.RLock()
	defer g.mu.RUnlock()

	out := make(map[string]Snapshot, len(g.breakers))
	for name, b := range g.breakers {
		b.mu.Lock()
		out[name] = Snapshot{State: b.state, Failures: b.failures}
		b.mu.Unlock()
	}
	return out
}
