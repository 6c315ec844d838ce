// Package history keeps the bounded per-session log of evaluations and
// exports it as CSV.
package history

import (
	"time"

	"github.com/google/uuid"
	"github.com/terminal-bench/blasttap/internal/balance"
	"github.com/terminal-bench/blasttap/internal/pipeline"
)

// Capacity bounds.
const (
	MinCapacity     = 100
	MaxCapacity     = 500
	DefaultCapacity = MaxCapacity
)

// Entry is a flattened snapshot of one evaluation.
type Entry struct {
	ID               uuid.UUID      `json:"id"`
	Timestamp        time.Time      `json:"timestamp"`
	ProductionTon    float64        `json:"production_ton"`
	TappedTon        float64        `json:"tapped_ton"`
	ResidualTon      float64        `json:"residual_ton"`
	ResidualRate     float64        `json:"residual_rate_percent"`
	Status           balance.Status `json:"status"`
	TapBitDiameterMM int            `json:"tap_bit_diameter_mm"`
	NextTapInterval  string         `json:"next_tap_interval"`
	GapMinutes       float64        `json:"gap_minutes"`
	DailyByWindTon   float64        `json:"daily_by_wind_ton"`
	PredictedTf      *float64       `json:"predicted_tf_c,omitempty"`
	ResidualGap      *float64       `json:"residual_gap_ton,omitempty"`
}

// FromResult flattens an evaluation.
func FromResult(res pipeline.Result) Entry {
	return Entry{
		ID:               uuid.New(),
		Timestamp:        res.EvaluatedAt,
		ProductionTon:    res.BasisTon,
		TappedTon:        res.Balance.Tapped.TotalTon,
		ResidualTon:      res.Balance.ResidualTon,
		ResidualRate:     res.Balance.ResidualRate,
		Status:           res.Balance.Status,
		TapBitDiameterMM: res.Strategy.TapBitDiameterMM,
		NextTapInterval:  res.Strategy.NextTapInterval,
		GapMinutes:       res.Strategy.GapMinutes,
		DailyByWindTon:   res.DailyByWindTon,
		PredictedTf:      res.PredictedTf,
		ResidualGap:      res.Balance.ResidualGap,
	}
}

// ClampCapacity keeps a configured capacity within [MinCapacity, MaxCapacity].
func ClampCapacity(n int) int {
	switch {
	case n < MinCapacity:
		return MinCapacity
	case n > MaxCapacity:
		return MaxCapacity
	default:
		return n
	}
}

// Log is a fixed-capacity FIFO of entries. Appending to a full log evicts
// the oldest entry. Log is not safe for concurrent use.
type Log struct {
	buf   []Entry
	start int
	size  int
}

// NewLog creates an empty log holding at most capacity entries.
func NewLog(capacity int) *Log {
	if capacity < 1 {
		capacity = 1
	}
	return &Log{buf: make([]Entry, capacity)}
}

// Append adds e and reports the evicted entry, if any.
func (l *Log) Append(e Entry) (Entry, bool) {
	if l.size < len(l.buf) {
		l.buf[(l.start+l.size)%len(l.buf)] = e
		l.size++
		return Entry{}, false
	}
	evicted := l.buf[l.start]
	l.buf[l.start] = e
	l.start = (l.start + 1) % len(l.buf)
	return evicted, true
}

// Entries returns a copy of the log, oldest first.
func (l *Log) Entries() []Entry {
	out := make([]Entry, l.size)
	for i := 0; i < l.size; i++ {
		out[i] = l.buf[(l.start+i)%len(l.buf)]
	}
	return out
}

// Len returns the number of entries held.
func (l *Log) Len() int {
	return l.size
}

// Cap returns the capacity.
func (l *Log) Cap() int {
	return len(l.buf)
}

// Reset drops every entry.
func (l *Log) Reset() {
	for i := range l.buf {
		l.buf[i] = Entry{}
	}
	l.start, l.size = 0, 0
}
