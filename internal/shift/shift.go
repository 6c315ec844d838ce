package shift

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// MaxElapsedMinutes caps the operating day at 24h.
const MaxElapsedMinutes = 1440

var ErrInvalidClock = errors.New("invalid clock time")

// Regime identifies an operating-condition window.
type Regime string

const (
	RegimeNormal   Regime = "normal"
	RegimeAbnormal Regime = "abnormal"
	RegimeDamped   Regime = "damped"
	RegimeAfter    Regime = "after"
)

// Clock is a time of day with minute resolution.
type Clock struct {
	Hour   int
	Minute int
}

// ParseClock parses an "HH:MM" string.
func ParseClock(s string) (Clock, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return Clock{}, fmt.Errorf("%w %q: %v", ErrInvalidClock, s, err)
	}
	return Clock{Hour: t.Hour(), Minute: t.Minute()}, nil
}

// MustClock is ParseClock for constants.
func MustClock(s string) Clock {
	c, err := ParseClock(s)
	if err != nil {
		panic(err)
	}
	return c
}

func (c Clock) String() string {
	return fmt.Sprintf("%02d:%02d", c.Hour, c.Minute)
}

// MarshalText implements encoding.TextMarshaler.
func (c Clock) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (c *Clock) UnmarshalText(b []byte) error {
	parsed, err := ParseClock(string(b))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// On anchors the clock time to the calendar day of base.
func (c Clock) On(base time.Time) time.Time {
	y, m, d := base.Date()
	return time.Date(y, m, d, c.Hour, c.Minute, 0, 0, base.Location())
}

// Start returns the start of the shift day containing now: today at the
// boundary clock, or yesterday's if now is before it.
func Start(now time.Time, boundary Clock) time.Time {
	start := boundary.On(now)
	if now.Before(start) {
		start = boundary.On(now.AddDate(0, 0, -1))
	}
	return start
}

// Window is an operator-configured [Start, End) clock range. Both ends are
// anchored to the shift day's calendar date.
type Window struct {
	Start Clock `json:"start"`
	End   Clock `json:"end"`
}

// Config controls partitioning.
type Config struct {
	Boundary     Clock
	FloorMinutes float64
}

// DefaultConfig uses a 07:00 shift change and a 60 minute floor.
func DefaultConfig() Config {
	return Config{
		Boundary:     Clock{Hour: 7},
		FloorMinutes: 60,
	}
}

// Partition holds the elapsed minutes of each regime. The four durations
// always sum to Elapsed.
type Partition struct {
	ShiftStart time.Time `json:"shift_start"`
	Elapsed    float64   `json:"elapsed_minutes"`
	Normal     float64   `json:"normal_minutes"`
	Abnormal   float64   `json:"abnormal_minutes"`
	Damped     float64   `json:"damped_minutes"`
	After      float64   `json:"after_minutes"`
}

// Minutes returns the duration of a regime.
func (p Partition) Minutes(r Regime) float64 {
	switch r {
	case RegimeNormal:
		return p.Normal
	case RegimeAbnormal:
		return p.Abnormal
	case RegimeDamped:
		return p.Damped
	case RegimeAfter:
		return p.After
	default:
		return 0
	}
}

// Sum adds up the regime durations.
func (p Partition) Sum() float64 {
	return p.Normal + p.Abnormal + p.Damped + p.After
}

// ElapsedMinutes returns minutes since shiftStart clamped to [floor, 1440].
func ElapsedMinutes(shiftStart, now time.Time, floor float64) float64 {
	elapsed := now.Sub(shiftStart).Minutes()
	floor = math.Min(math.Max(floor, 0), MaxElapsedMinutes)
	return math.Min(math.Max(elapsed, floor), MaxElapsedMinutes)
}

// Split partitions the elapsed time since the shift start into the normal,
// abnormal, damped and after regimes. Either window may be nil.
func Split(cfg Config, now time.Time, abnormal, damped *Window) Partition {
	start := Start(now, cfg.Boundary)
	elapsed := ElapsedMinutes(start, now, cfg.FloorMinutes)

	p := Partition{
		ShiftStart: start,
		Elapsed:    elapsed,
		Normal:     elapsed,
	}

	if abnormal != nil {
		from, to := anchor(start, *abnormal)
		p.Normal = clamp(minutesBetween(start, from), 0, elapsed)
		p.Abnormal = clamp(minutesBetween(from, to), 0, elapsed-p.Normal)
		p.After = nonNegative(elapsed - p.Normal - p.Abnormal)
	}

	if damped != nil {
		from, to := anchor(start, *damped)
		p.Normal = clamp(minutesBetween(start, from), 0, p.Normal)
		p.Damped = clamp(minutesBetween(from, to), 0, elapsed-p.Normal-p.Abnormal)
		p.After = nonNegative(elapsed - p.Normal - p.Abnormal - p.Damped)
	}

	return p
}

// anchor places a window on the shift day. Clock times before the boundary
// belong to the next calendar day, so a night window keeps its order.
func anchor(shiftStart time.Time, w Window) (time.Time, time.Time) {
	from := w.Start.On(shiftStart)
	if from.Before(shiftStart) {
		from = from.AddDate(0, 0, 1)
	}
	to := w.End.On(shiftStart)
	if to.Before(shiftStart) {
		to = to.AddDate(0, 0, 1)
	}
	return from, to
}

func minutesBetween(a, b time.Time) float64 {
	return b.Sub(a).Minutes()
}

func clamp(v, lo, hi float64) float64 {
	if hi < lo {
		hi = lo
	}
	return math.Min(math.Max(v, lo), hi)
}

func nonNegative(v float64) float64 {
	if v < 0 {
		return 0
	}
	return v
}
