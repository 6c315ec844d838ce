package strategy

import (
	"math"

	"github.com/terminal-bench/blasttap/internal/balance"
)

// Tap-hole drill bit diameters in millimetres.
const (
	BitSmall  = 43
	BitMedium = 45
	BitLarge  = 48
)

// Next-tap interval labels.
const (
	IntervalRelaxed   = "15-20min"
	IntervalNormal    = "10-15min"
	IntervalShort     = "5-10min"
	IntervalImmediate = "immediate (0-5min)"
)

type bitRule struct {
	maxResidual float64 // exclusive
	maxRate     float64 // inclusive
	diameter    int
}

var bitTable = []bitRule{
	{maxResidual: 100, maxRate: 5, diameter: BitSmall},
	{maxResidual: 150, maxRate: 7, diameter: BitMedium},
}

type intervalRule struct {
	maxRate float64 // inclusive
	label   string
}

var intervalTable = []intervalRule{
	{maxRate: 5, label: IntervalRelaxed},
	{maxRate: 9, label: IntervalNormal},
	{maxRate: 12, label: IntervalShort},
}

// Recommendation is the tapping strategy for the current balance.
type Recommendation struct {
	TapBitDiameterMM int     `json:"tap_bit_diameter_mm"`
	NextTapInterval  string  `json:"next_tap_interval"`
	LeadRemainingTon float64 `json:"lead_remaining_ton"`
	LeadRemainingMin float64 `json:"lead_remaining_min"`
	GapMinutes       float64 `json:"gap_minutes"`
	ExpectedTapMin   float64 `json:"expected_tap_min"`
}

// BitDiameter picks the drill bit from the residual tonnage and rate.
func BitDiameter(residual, rate float64) int {
	for _, r := range bitTable {
		if residual < r.maxResidual && rate <= r.maxRate {
			return r.diameter
		}
	}
	return BitLarge
}

// NextInterval picks the next-tap interval from the residual rate.
func NextInterval(rate float64) string {
	for _, r := range intervalTable {
		if rate <= r.maxRate {
			return r.label
		}
	}
	return IntervalImmediate
}

// Gap predicts the idle minutes between the lead tap closing and the follow
// tap taking over. target is the expected output of one tap.
func Gap(target, leadTapped, leadSpeed, followElapsed float64) (remainingTon, remainingMin, gap float64) {
	remainingTon = math.Max(target-leadTapped, 0)
	if leadSpeed > 0 {
		remainingMin = remainingTon / leadSpeed
	}
	gap = math.Max(remainingMin-math.Max(followElapsed, 0), 0)
	return remainingTon, remainingMin, gap
}

// Recommend maps a balance to a tapping strategy.
func Recommend(bal balance.Result, taps balance.TapRecord) Recommendation {
	rec := Recommendation{
		TapBitDiameterMM: BitDiameter(bal.ResidualTon, bal.ResidualRate),
		NextTapInterval:  NextInterval(bal.ResidualRate),
	}

	rec.LeadRemainingTon, rec.LeadRemainingMin, rec.GapMinutes =
		Gap(taps.AvgTapOutput, bal.Tapped.LeadTon, taps.LeadSpeed, taps.FollowElapsed)

	if taps.LeadSpeed > 0 {
		rec.ExpectedTapMin = math.Max(taps.AvgTapOutput, 0) / taps.LeadSpeed
	}
	return rec
}
