// Package alerts turns evaluations into broker events: one evaluation event
// per pass and a status alert whenever a session changes status class.
package alerts

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/terminal-bench/blasttap/internal/session"
	"github.com/terminal-bench/blasttap/pkg/messaging"
	"go.uber.org/zap"
)

// DefaultRecent is how many alerts the engine keeps for the API.
const DefaultRecent = 50

// Publisher is the part of the broker client the engine needs.
type Publisher interface {
	Publish(ctx context.Context, subject string, data interface{}) error
}

// Engine publishes evaluation and status events.
type Engine struct {
	pub    Publisher
	logger *zap.Logger

	mu     sync.RWMutex
	recent []messaging.StatusAlertEvent
	keep   int
}

// NewEngine creates an engine. pub may be nil, in which case alerts are
// only kept in memory.
func NewEngine(pub Publisher, logger *zap.Logger) *Engine {
	return &Engine{pub: pub, logger: logger, keep: DefaultRecent}
}

// Name identifies the engine as a sink.
func (e *Engine) Name() string {
	return "alerts"
}

// Record keeps and logs the status alert of an outcome, if it carries one.
// It runs on the evaluation path, apart from the broker, so an alert is
// never lost to a broker outage.
func (e *Engine) Record(out session.Outcome) {
	if out.Transition == nil {
		return
	}
	a := StatusAlert(out)
	e.remember(a)
	e.logger.Warn("residual status changed",
		zap.String("session_id", out.SessionID.String()),
		zap.String("from", a.From),
		zap.String("to", a.To),
		zap.Float64("residual_ton", a.ResidualTon),
	)
}

// Handle publishes the events for one outcome. The status alert goes out
// even when the evaluation event fails.
func (e *Engine) Handle(ctx context.Context, out session.Outcome) error {
	if e.pub == nil {
		return nil
	}

	var errs []error
	if out.Transition != nil {
		if err := e.pub.Publish(ctx, messaging.SubjectStatus, StatusAlert(out)); err != nil {
			errs = append(errs, fmt.Errorf("publish status alert: %w", err))
		}
	}
	if err := e.pub.Publish(ctx, messaging.SubjectEvaluation, Evaluation(out)); err != nil {
		errs = append(errs, fmt.Errorf("publish evaluation: %w", err))
	}
	return errors.Join(errs...)
}

// Recent returns the latest alerts, newest first.
func (e *Engine) Recent() []messaging.StatusAlertEvent {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]messaging.StatusAlertEvent, len(e.recent))
	for i, a := range e.recent {
		out[len(e.recent)-1-i] = a
	}
	return out
}

func (e *Engine) remember(a messaging.StatusAlertEvent) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.recent = append(e.recent, a)
	if len(e.recent) > e.keep {
		e.recent = e.recent[len(e.recent)-e.keep:]
	}
}

// Evaluation builds the per-pass event.
func Evaluation(out session.Outcome) messaging.EvaluationEvent {
	b := out.Result.Balance
	return messaging.EvaluationEvent{
		ID:            out.Entry.ID,
		SessionID:     out.SessionID,
		Timestamp:     out.Result.EvaluatedAt,
		ProductionTon: b.ProductionTon,
		TappedTon:     b.Tapped.TotalTon,
		ResidualTon:   b.ResidualTon,
		ResidualRate:  b.ResidualRate,
		Status:        b.Status.String(),
	}
}

// StatusAlert builds the alert for an outcome that carries a transition.
// Its ID is derived from the entry, so the kept and the published copy of
// one alert share it.
func StatusAlert(out session.Outcome) messaging.StatusAlertEvent {
	tr := out.Transition
	a := messaging.StatusAlertEvent{
		ID:          uuid.NewSHA1(out.Entry.ID, []byte(messaging.SubjectStatus)),
		SessionID:   out.SessionID,
		To:          tr.To.String(),
		Label:       tr.To.Label(),
		ResidualTon: out.Result.Balance.ResidualTon,
		Timestamp:   tr.At,
	}
	if tr.From != nil {
		a.From = tr.From.String()
	}
	return a
}
