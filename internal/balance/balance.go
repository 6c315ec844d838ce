package balance

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

// Status classifies the residual melt level.
type Status int

const (
	StatusNormal Status = iota
	StatusWatch
	StatusExcess
	StatusCritical
)

var ErrUnknownStatus = errors.New("unknown status")

func (s Status) String() string {
	switch s {
	case StatusNormal:
		return "NORMAL"
	case StatusWatch:
		return "WATCH"
	case StatusExcess:
		return "EXCESS"
	case StatusCritical:
		return "CRITICAL"
	default:
		return "UNKNOWN"
	}
}

// Label is the operator-facing description used on the floor.
func (s Status) Label() string {
	switch s {
	case StatusNormal:
		return "정상운전"
	case StatusWatch:
		return "저선 관리권고"
	case StatusExcess:
		return "저선과다 누적"
	case StatusCritical:
		return "저선 위험 (비상)"
	default:
		return "-"
	}
}

// ParseStatus is the inverse of String.
func ParseStatus(s string) (Status, error) {
	switch strings.ToUpper(s) {
	case "NORMAL":
		return StatusNormal, nil
	case "WATCH":
		return StatusWatch, nil
	case "EXCESS":
		return StatusExcess, nil
	case "CRITICAL":
		return StatusCritical, nil
	}
	return StatusNormal, fmt.Errorf("%w: %q", ErrUnknownStatus, s)
}

// MarshalText implements encoding.TextMarshaler.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Status) UnmarshalText(b []byte) error {
	parsed, err := ParseStatus(string(b))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// Thresholds are the residual tonnages at which each status begins. They
// depend on hearth design and are configuration, not physics.
type Thresholds struct {
	Watch    float64 `json:"watch"`
	Excess   float64 `json:"excess"`
	Critical float64 `json:"critical"`
}

// DefaultThresholds returns 100/150/200 ton.
func DefaultThresholds() Thresholds {
	return Thresholds{Watch: 100, Excess: 150, Critical: 200}
}

// Validate requires strictly ascending, non-negative thresholds.
func (t Thresholds) Validate() error {
	if t.Watch < 0 {
		return fmt.Errorf("watch threshold must be non-negative, got %.1f", t.Watch)
	}
	if !(t.Watch < t.Excess && t.Excess < t.Critical) {
		return fmt.Errorf("thresholds must ascend: watch %.1f, excess %.1f, critical %.1f", t.Watch, t.Excess, t.Critical)
	}
	return nil
}

// Classify maps a residual tonnage to a status. Lower bounds are inclusive.
func (t Thresholds) Classify(residual float64) Status {
	switch {
	case residual >= t.Critical:
		return StatusCritical
	case residual >= t.Excess:
		return StatusExcess
	case residual >= t.Watch:
		return StatusWatch
	default:
		return StatusNormal
	}
}

// TapRecord is the operator's live tapping data. Measured outputs, when
// present, take precedence over speed × elapsed.
type TapRecord struct {
	ClosedTaps       int      `json:"closed_tap_count"`
	AvgTapOutput     float64  `json:"avg_tap_output_ton"`
	LeadElapsed      float64  `json:"lead_elapsed_min"`
	LeadSpeed        float64  `json:"lead_speed_ton_per_min"`
	FollowElapsed    float64  `json:"follow_elapsed_min"`
	FollowSpeed      float64  `json:"follow_speed_ton_per_min"`
	LeadMeasured     *float64 `json:"lead_measured_ton,omitempty"`
	FollowMeasured   *float64 `json:"follow_measured_ton,omitempty"`
	MeasuredResidual *float64 `json:"measured_residual_ton,omitempty"`
	SlagRatio        float64  `json:"slag_ratio,omitempty"`
}

// ClosedOutput is the output of taps already closed.
func (r TapRecord) ClosedOutput() float64 {
	return float64(max(r.ClosedTaps, 0)) * math.Max(r.AvgTapOutput, 0)
}

// LeadOutput is what the running lead tap has delivered so far.
func (r TapRecord) LeadOutput() float64 {
	return runningOutput(r.LeadMeasured, r.LeadElapsed, r.LeadSpeed)
}

// FollowOutput is what the running follow tap has delivered so far.
func (r TapRecord) FollowOutput() float64 {
	return runningOutput(r.FollowMeasured, r.FollowElapsed, r.FollowSpeed)
}

func runningOutput(measured *float64, elapsed, speed float64) float64 {
	if measured != nil {
		return math.Max(*measured, 0)
	}
	return math.Max(elapsed, 0) * math.Max(speed, 0)
}

// Tapped breaks down cumulative tapped hot metal.
type Tapped struct {
	ClosedTon float64 `json:"closed_ton"`
	LeadTon   float64 `json:"lead_ton"`
	FollowTon float64 `json:"follow_ton"`
	TotalTon  float64 `json:"total_ton"`
}

// Tapped sums closed and running taps.
func (r TapRecord) Tapped() Tapped {
	t := Tapped{
		ClosedTon: r.ClosedOutput(),
		LeadTon:   r.LeadOutput(),
		FollowTon: r.FollowOutput(),
	}
	t.TotalTon = t.ClosedTon + t.LeadTon + t.FollowTon
	return t
}

// Result is the melt balance of a shift.
type Result struct {
	ProductionTon   float64  `json:"production_ton"`
	Tapped          Tapped   `json:"tapped"`
	ResidualTon     float64  `json:"residual_molten_ton"`
	ResidualRate    float64  `json:"residual_rate_percent"`
	Status          Status   `json:"status"`
	ResidualGap     *float64 `json:"residual_gap_ton,omitempty"`
	SlagTon         float64  `json:"tapped_slag_ton"`
	AvgPerClosedTap float64  `json:"avg_hot_metal_per_tap_ton"`
}

// Compute derives the residual melt from production and tapped output.
func Compute(production float64, taps TapRecord, th Thresholds) Result {
	res := Result{
		ProductionTon: production,
		Tapped:        taps.Tapped(),
	}

	res.ResidualTon = math.Max(production-res.Tapped.TotalTon, 0)
	if production > 0 {
		res.ResidualRate = 100 * res.ResidualTon / production
	}
	res.Status = th.Classify(res.ResidualTon)

	if taps.MeasuredResidual != nil {
		gap := res.ResidualTon - *taps.MeasuredResidual
		res.ResidualGap = &gap
	}
	if taps.SlagRatio > 0 {
		res.SlagTon = res.Tapped.TotalTon / taps.SlagRatio
	}
	res.AvgPerClosedTap = res.Tapped.TotalTon / float64(max(taps.ClosedTaps, 1))
	return res
}
