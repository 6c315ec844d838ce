// Package pipeline runs one estimation pass: partition the shift, score each
// regime, estimate production, balance it against tapped output and derive a
// tapping strategy. Evaluate is pure; identical requests and clocks give
// identical results.
package pipeline

import (
	"fmt"
	"time"

	"github.com/terminal-bench/blasttap/internal/balance"
	"github.com/terminal-bench/blasttap/internal/efficiency"
	"github.com/terminal-bench/blasttap/internal/production"
	"github.com/terminal-bench/blasttap/internal/shift"
	"github.com/terminal-bench/blasttap/internal/strategy"
)

// Basis selects which production figure the balance is struck against.
type Basis string

const (
	BasisRaw     Basis = "raw"
	BasisHolding Basis = "holding"
)

// ParseBasis maps a config value to a Basis. Empty means raw.
func ParseBasis(s string) (Basis, error) {
	switch Basis(s) {
	case "", BasisRaw:
		return BasisRaw, nil
	case BasisHolding:
		return BasisHolding, nil
	default:
		return BasisRaw, fmt.Errorf("unknown balance basis %q", s)
	}
}

// Options are the plant-level settings of an evaluation.
type Options struct {
	Shift      shift.Config
	Thresholds balance.Thresholds
	Basis      Basis
	Tf         production.TfFormula
}

// DefaultOptions returns the 07:00 / 60 min / 100-150-200 t configuration.
func DefaultOptions() Options {
	return Options{
		Shift:      shift.DefaultConfig(),
		Thresholds: balance.DefaultThresholds(),
		Basis:      BasisRaw,
		Tf:         production.TfNone,
	}
}

// RegimeSummary reports one regime's efficiency and wind-unit throughput.
type RegimeSummary struct {
	Regime         shift.Regime     `json:"regime"`
	Minutes        float64          `json:"minutes"`
	Efficiency     efficiency.Score `json:"efficiency"`
	DailyByWindTon float64          `json:"daily_by_wind_ton"`
}

// Result is everything one evaluation produces.
type Result struct {
	EvaluatedAt    time.Time               `json:"evaluated_at"`
	Partition      shift.Partition         `json:"partition"`
	Regimes        []RegimeSummary         `json:"regimes"`
	Production     production.Estimate     `json:"production"`
	Basis          Basis                   `json:"basis"`
	BasisTon       float64                 `json:"basis_ton"`
	OreCokeRatio   float64                 `json:"ore_coke_ratio"`
	DailyByWindTon float64                 `json:"daily_by_wind_ton"`
	PredictedTf    *float64                `json:"predicted_tf_c,omitempty"`
	Balance        balance.Result          `json:"balance"`
	Strategy       strategy.Recommendation `json:"strategy"`
	Series         []production.Point      `json:"series"`
	Warnings       []string                `json:"warnings,omitempty"`
}

// Evaluate runs the full pass at now, unless the request pins its own clock.
// The request is assumed to have passed Validate.
func Evaluate(opts Options, req Request, now time.Time) Result {
	if req.Now != nil {
		now = *req.Now
	}
	in := req.Inputs
	charge := in.Charge()

	part := shift.Split(opts.Shift, now, req.Abnormal.window(), req.Damped.window())

	normalIn := in
	abnormalIn := req.Abnormal.Apply(in)
	dampedIn := req.Damped.Apply(in)

	normal := efficiency.Compute(normalIn.Efficiency())
	abnormal := efficiency.Compute(abnormalIn.Efficiency())
	damped := efficiency.Compute(dampedIn.Efficiency())

	res := Result{
		EvaluatedAt:  now,
		Partition:    part,
		Basis:        opts.Basis,
		OreCokeRatio: charge.OreCokeRatio(),
	}

	res.Regimes = []RegimeSummary{
		summarize(shift.RegimeNormal, part.Normal, normal, normalIn),
		summarize(shift.RegimeAbnormal, part.Abnormal, abnormal, abnormalIn),
		summarize(shift.RegimeDamped, part.Damped, damped, dampedIn),
		summarize(shift.RegimeAfter, part.After, normal, normalIn),
	}
	for _, r := range res.Regimes {
		if r.Minutes <= 0 && r.Regime != shift.RegimeNormal {
			continue
		}
		if w := r.Efficiency.Warning(string(r.Regime)); w != "" {
			res.Warnings = append(res.Warnings, w)
		}
	}

	runs := []production.Run{
		{Regime: shift.RegimeNormal, Minutes: part.Normal, Efficiency: normal.Value},
		{Regime: shift.RegimeAbnormal, Minutes: part.Abnormal, ChargingDelay: req.Abnormal.delay(), Efficiency: abnormal.Value},
		{Regime: shift.RegimeDamped, Minutes: part.Damped, ChargingDelay: req.Damped.delay(), Efficiency: damped.Value},
		{Regime: shift.RegimeAfter, Minutes: part.After, Efficiency: normal.Value},
	}
	res.Production = production.Compute(charge, runs, part.Elapsed, in.SumpResidenceMin)

	res.BasisTon = res.Production.RawTon
	if opts.Basis == BasisHolding {
		res.BasisTon = res.Production.HoldingAdjusted
	}

	res.DailyByWindTon = res.Regimes[0].DailyByWindTon
	if tf, ok := production.PredictTf(opts.Tf, production.ThermalInputs{
		HotBlastTemp:    in.HotBlastTemp,
		BlastVolume:     in.BlastVolume,
		OxygenVolumeHr:  in.OxygenVolume,
		PCIRate:         in.PCIRate,
		DailyProduction: res.DailyByWindTon,
	}); ok {
		res.PredictedTf = &tf
	}

	res.Balance = balance.Compute(res.BasisTon, req.Taps, opts.Thresholds)
	res.Strategy = strategy.Recommend(res.Balance, req.Taps)
	res.Series = production.Series(charge, normal.Value, part.Elapsed, res.Balance.Tapped.TotalTon, res.BasisTon)

	return res
}

func summarize(r shift.Regime, minutes float64, score efficiency.Score, in ProcessInputs) RegimeSummary {
	return RegimeSummary{
		Regime:         r,
		Minutes:        minutes,
		Efficiency:     score,
		DailyByWindTon: production.DailyByWind(in.BlastVolume, in.OxygenVolume, in.BlastSpecificVolume),
	}
}
