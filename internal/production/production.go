package production

import (
	"math"

	"github.com/terminal-bench/blasttap/internal/shift"
)

// Charge describes the burden fed per charging cycle.
type Charge struct {
	IntervalMin   float64 `json:"charge_interval_min"`
	OrePerCharge  float64 `json:"ore_per_charge_ton"`
	CokePerCharge float64 `json:"coke_per_charge_ton"`
	OreFePercent  float64 `json:"ore_fe_percent"`
}

// RatePerHour returns charges per hour, 0 when the interval is not positive.
func (c Charge) RatePerHour() float64 {
	if c.IntervalMin <= 0 {
		return 0
	}
	return 60 / c.IntervalMin
}

// OreMass returns tons of ore charged over minutes.
func (c Charge) OreMass(minutes float64) float64 {
	return c.OrePerCharge * c.RatePerHour() * (math.Max(minutes, 0) / 60)
}

// FeMass returns tons of iron charged over minutes.
func (c Charge) FeMass(minutes float64) float64 {
	return c.OreMass(minutes) * (c.OreFePercent / 100)
}

// OreCokeRatio returns ore/coke per charge, 0 without coke.
func (c Charge) OreCokeRatio() float64 {
	if c.CokePerCharge <= 0 {
		return 0
	}
	return c.OrePerCharge / c.CokePerCharge
}

// Run is one regime's share of the shift.
type Run struct {
	Regime        shift.Regime
	Minutes       float64
	// ChargingDelay is subtracted from Minutes for ore charging only.
	ChargingDelay float64
	Efficiency    float64
}

// RegimeOutput is the production attributed to one regime.
type RegimeOutput struct {
	Regime          shift.Regime `json:"regime"`
	Minutes         float64      `json:"minutes"`
	ChargingMinutes float64      `json:"charging_minutes"`
	OreTon          float64      `json:"ore_ton"`
	FeTon           float64      `json:"fe_ton"`
	Efficiency      float64      `json:"efficiency"`
	ProductionTon   float64      `json:"production_ton"`
}

// Estimate is the theoretical hot-metal production of a shift.
type Estimate struct {
	Regimes         []RegimeOutput `json:"regimes"`
	ElapsedMinutes  float64        `json:"elapsed_minutes"`
	ActiveMinutes   float64        `json:"active_minutes"`
	Charges         float64        `json:"charges"`
	OreTon          float64        `json:"ore_ton"`
	FeTon           float64        `json:"fe_ton"`
	RawTon          float64        `json:"raw_theoretical_ton"`
	HoldingAdjusted float64        `json:"holding_time_adjusted_ton"`
}

// Compute sums regime production and applies the sump residence discount.
// Charging delays only shorten the ore-charging minutes of their regime.
func Compute(charge Charge, runs []Run, elapsed, residence float64) Estimate {
	est := Estimate{
		Regimes:        make([]RegimeOutput, 0, len(runs)),
		ElapsedMinutes: math.Max(elapsed, 0),
	}

	var charging, raw float64
	for _, r := range runs {
		minutes := math.Max(r.Minutes, 0)
		chargingMinutes := math.Max(minutes-math.Max(r.ChargingDelay, 0), 0)

		out := RegimeOutput{
			Regime:          r.Regime,
			Minutes:         minutes,
			ChargingMinutes: chargingMinutes,
			OreTon:          charge.OreMass(chargingMinutes),
			FeTon:           charge.FeMass(chargingMinutes),
			Efficiency:      r.Efficiency,
		}
		out.ProductionTon = out.FeTon * r.Efficiency

		est.Regimes = append(est.Regimes, out)
		est.OreTon += out.OreTon
		est.FeTon += out.FeTon
		charging += chargingMinutes
		raw += out.ProductionTon
	}

	est.Charges = charge.RatePerHour() * (charging / 60)
	est.RawTon = math.Max(raw, 0)
	est.ActiveMinutes, est.HoldingAdjusted = HoldingAdjust(est.RawTon, est.ElapsedMinutes, residence)
	return est
}

// HoldingAdjust discounts raw production by the share of the shift that has
// outlasted the sump residence time. It returns the active minutes and the
// adjusted tonnage; both are 0 until elapsed exceeds residence.
func HoldingAdjust(raw, elapsed, residence float64) (float64, float64) {
	residence = math.Max(residence, 0)
	if elapsed <= 0 || elapsed <= residence {
		return 0, 0
	}
	active := elapsed - residence
	return active, math.Max(raw, 0) * (active / elapsed)
}

// Point is one sample of the melt balance chart.
type Point struct {
	Minute        float64 `json:"minute"`
	ProductionTon float64 `json:"production_ton"`
	TappedTon     float64 `json:"tapped_ton"`
	ResidualTon   float64 `json:"residual_ton"`
}

// SeriesStep is the chart sampling interval in minutes.
const SeriesStep = 15

// Series samples cumulative normal-regime production every SeriesStep minutes
// from 0 to elapsed. Production never exceeds ceiling; tapped is flat.
func Series(charge Charge, normalEfficiency, elapsed, tapped, ceiling float64) []Point {
	if elapsed < 0 {
		elapsed = 0
	}
	ceiling = math.Max(ceiling, 0)
	n := int(math.Floor(elapsed))/SeriesStep + 1

	points := make([]Point, 0, n)
	for i := 0; i < n; i++ {
		minute := float64(i * SeriesStep)
		prod := charge.FeMass(minute) * normalEfficiency
		prod = math.Max(math.Min(prod, ceiling), 0)
		points = append(points, Point{
			Minute:        minute,
			ProductionTon: prod,
			TappedTon:     tapped,
			ResidualTon:   math.Max(prod-tapped, 0),
		})
	}
	return points
}

// DailyByWind estimates tons per day from the air blown and the blast
// specific volume. Oxygen is converted to equivalent air at 21% O2.
func DailyByWind(blastVolume, oxygenVolumeHr, windUnit float64) float64 {
	if windUnit <= 0 {
		return 0
	}
	airPerDay := blastVolume*1440 + oxygenVolumeHr*24/0.21
	return math.Max(airPerDay/windUnit, 0)
}
