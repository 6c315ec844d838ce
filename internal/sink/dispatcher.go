// Package sink hands a finished evaluation to every configured consumer
// concurrently. Each consumer sits behind its own circuit breaker, and no
// consumer failure ever fails the evaluation itself.
package sink

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/terminal-bench/blasttap/internal/session"
	"github.com/terminal-bench/blasttap/pkg/circuit"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// DefaultTimeout bounds one sink call.
const DefaultTimeout = 5 * time.Second

// Sink consumes evaluation outcomes.
type Sink interface {
	Name() string
	Handle(ctx context.Context, out session.Outcome) error
}

// Dispatcher fans outcomes out to sinks.
type Dispatcher struct {
	sinks    []Sink
	breakers *circuit.Group
	timeout  time.Duration
	logger   *zap.Logger
}

// NewDispatcher creates a dispatcher over sinks. Nil sinks are skipped.
func NewDispatcher(logger *zap.Logger, breakers *circuit.Group, timeout time.Duration, sinks ...Sink) *Dispatcher {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	d := &Dispatcher{breakers: breakers, timeout: timeout, logger: logger}
	for _, s := range sinks {
		if s != nil {
			d.sinks = append(d.sinks, s)
		}
	}
	return d
}

// Names lists the configured sinks.
func (d *Dispatcher) Names() []string {
	names := make([]string, len(d.sinks))
	for i, s := range d.sinks {
		names[i] = s.Name()
	}
	return names
}

// Breakers reports the breaker of every sink that has been called.
func (d *Dispatcher) Breakers() map[string]circuit.Snapshot {
	return d.breakers.Snapshots()
}

// ResetBreaker closes the named sink's breaker so the next evaluation tries
// the sink again. It reports false for a sink that was never called.
func (d *Dispatcher) ResetBreaker(name string) bool {
	if !d.breakers.Reset(name) {
		return false
	}
	d.logger.Info("sink breaker reset", zap.String("sink", name))
	return true
}

// Dispatch delivers out to every sink and waits for them. The returned error
// joins every sink failure; it is also logged.
func (d *Dispatcher) Dispatch(ctx context.Context, out session.Outcome) error {
	errs := make([]error, len(d.sinks))

	var g errgroup.Group
	for i, s := range d.sinks {
		i, s := i, s
		g.Go(func() error {
			sctx, cancel := context.WithTimeout(ctx, d.timeout)
			defer cancel()

			err := d.breakers.Execute(sctx, s.Name(), func(ctx context.Context) error {
				return s.Handle(ctx, out)
			})
			if err != nil {
				errs[i] = fmt.Errorf("%s: %w", s.Name(), err)
				d.logger.Warn("sink failed",
					zap.String("sink", s.Name()),
					zap.String("session_id", out.SessionID.String()),
					zap.Error(err),
				)
			}
			return nil
		})
	}
	_ = g.Wait()

	return errors.Join(errs...)
}
