package pipeline

import (
	"errors"
	"fmt"
	"strings"
)

var ErrInvalidInput = errors.New("invalid input")

// FieldError names one rejected input.
type FieldError struct {
	Field  string `json:"field"`
	Reason string `json:"reason"`
}

// ValidationError lists every rejected input of a request.
type ValidationError struct {
	Fields []FieldError `json:"fields"`
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Field+": "+f.Reason)
	}
	return fmt.Sprintf("%v: %s", ErrInvalidInput, strings.Join(parts, "; "))
}

func (e *ValidationError) Unwrap() error {
	return ErrInvalidInput
}

func (e *ValidationError) add(field, reason string) {
	e.Fields = append(e.Fields, FieldError{Field: field, Reason: reason})
}

func (e *ValidationError) positive(field string, v float64) {
	if v <= 0 {
		e.add(field, "must be positive")
	}
}

func (e *ValidationError) nonNegative(field string, v float64) {
	if v < 0 {
		e.add(field, "must not be negative")
	}
}

// Validate rejects inputs the arithmetic core cannot give a meaningful
// answer for. It returns a *ValidationError or nil.
func Validate(req Request) error {
	v := &ValidationError{}
	in := req.Inputs

	v.positive("inputs.charge_interval_min", in.ChargeIntervalMin)
	v.nonNegative("inputs.ore_per_charge_ton", in.OrePerChargeTon)
	v.nonNegative("inputs.coke_per_charge_ton", in.CokePerChargeTon)
	if in.OreFePercent < 0 || in.OreFePercent > 100 {
		v.add("inputs.ore_fe_percent", "must be within [0, 100]")
	}
	v.nonNegative("inputs.blast_volume_nm3_min", in.BlastVolume)
	v.nonNegative("inputs.oxygen_volume_nm3_hr", in.OxygenVolume)
	v.nonNegative("inputs.pci_rate_kg_per_thm", in.PCIRate)
	v.nonNegative("inputs.blast_specific_volume_nm3_per_ton", in.BlastSpecificVolume)
	v.nonNegative("inputs.sump_residence_min", in.SumpResidenceMin)

	validateOverride(v, "abnormal", req.Abnormal)
	validateOverride(v, "damped", req.Damped)

	t := req.Taps
	if t.ClosedTaps < 0 {
		v.add("taps.closed_tap_count", "must not be negative")
	}
	v.nonNegative("taps.avg_tap_output_ton", t.AvgTapOutput)
	v.nonNegative("taps.lead_elapsed_min", t.LeadElapsed)
	v.nonNegative("taps.lead_speed_ton_per_min", t.LeadSpeed)
	v.nonNegative("taps.follow_elapsed_min", t.FollowElapsed)
	v.nonNegative("taps.follow_speed_ton_per_min", t.FollowSpeed)
	v.nonNegative("taps.slag_ratio", t.SlagRatio)
	if t.LeadMeasured != nil {
		v.nonNegative("taps.lead_measured_ton", *t.LeadMeasured)
	}
	if t.FollowMeasured != nil {
		v.nonNegative("taps.follow_measured_ton", *t.FollowMeasured)
	}
	if t.MeasuredResidual != nil {
		v.nonNegative("taps.measured_residual_ton", *t.MeasuredResidual)
	}

	if len(v.Fields) > 0 {
		return v
	}
	return nil
}

func validateOverride(v *ValidationError, name string, o *RegimeOverride) {
	if o == nil {
		return
	}
	v.nonNegative(name+".charging_delay_min", o.ChargingDelayMin)
	if o.BlastVolume != nil {
		v.nonNegative(name+".blast_volume_nm3_min", *o.BlastVolume)
	}
	if o.OxygenVolume != nil {
		v.nonNegative(name+".oxygen_volume_nm3_hr", *o.OxygenVolume)
	}
	if o.PCIRate != nil {
		v.nonNegative(name+".pci_rate_kg_per_thm", *o.PCIRate)
	}
	if o.BlastSpecificVolume != nil {
		v.nonNegative(name+".blast_specific_volume_nm3_per_ton", *o.BlastSpecificVolume)
	}
}
