package messaging

import (
	"time"

	"github.com/google/uuid"
)

// Subjects
const (
	SubjectEvaluation = "blasttap.evaluation"
	SubjectStatus     = "blasttap.status"
)

// EvaluationEvent is published after every session evaluation
type EvaluationEvent struct {
	ID            uuid.UUID `json:"id"`
	SessionID     uuid.UUID `json:"session_id"`
	Timestamp     time.Time `json:"timestamp"`
	ProductionTon float64   `json:"production_ton"`
	TappedTon     float64   `json:"tapped_ton"`
	ResidualTon   float64   `json:"residual_ton"`
	ResidualRate  float64   `json:"residual_rate_percent"`
	Status        string    `json:"status"`
}

// StatusAlertEvent is published when a session's status class changes.
// From is empty for the first evaluation of a session.
type StatusAlertEvent struct {
	ID          uuid.UUID `json:"id"`
	SessionID   uuid.UUID `json:"session_id"`
	From        string    `json:"from,omitempty"`
	To          string    `json:"to"`
	Label       string    `json:"label"`
	ResidualTon float64   `json:"residual_ton"`
	Timestamp   time.Time `json:"timestamp"`
}
