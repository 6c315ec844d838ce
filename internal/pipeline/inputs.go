package pipeline

import (
	"time"

	"github.com/terminal-bench/blasttap/internal/balance"
	"github.com/terminal-bench/blasttap/internal/efficiency"
	"github.com/terminal-bench/blasttap/internal/production"
	"github.com/terminal-bench/blasttap/internal/shift"
)

// ProcessInputs are the operator-entered parameters of the normal regime.
type ProcessInputs struct {
	ChargeIntervalMin   float64 `json:"charge_interval_min"`
	OrePerChargeTon     float64 `json:"ore_per_charge_ton"`
	CokePerChargeTon    float64 `json:"coke_per_charge_ton"`
	OreFePercent        float64 `json:"ore_fe_percent"`
	BaseReduction       float64 `json:"base_reduction_factor"`
	MeltingCapacity     float64 `json:"melting_capacity"`
	BlastVolume         float64 `json:"blast_volume_nm3_min"`
	OxygenVolume        float64 `json:"oxygen_volume_nm3_hr"`
	OxygenEnrichment    float64 `json:"oxygen_enrichment_percent"`
	Humidification      float64 `json:"humidification_g_nm3"`
	PCIRate             float64 `json:"pci_rate_kg_per_thm"`
	TopPressure         float64 `json:"top_pressure"`
	BlastPressure       float64 `json:"blast_pressure"`
	HotBlastTemp        float64 `json:"hot_blast_temp_c"`
	MeasuredMetalTemp   float64 `json:"measured_hot_metal_temp_c"`
	KFactor             float64 `json:"k_factor"`
	BlastSpecificVolume float64 `json:"blast_specific_volume_nm3_per_ton"`
	SumpResidenceMin    float64 `json:"sump_residence_min"`
}

// DefaultInputs returns the furnace's reference operating point.
func DefaultInputs() ProcessInputs {
	return ProcessInputs{
		ChargeIntervalMin:   11,
		OrePerChargeTon:     165,
		CokePerChargeTon:    33,
		OreFePercent:        58,
		BaseReduction:       1.0,
		MeltingCapacity:     2800,
		BlastVolume:         7200,
		OxygenVolume:        36961,
		OxygenEnrichment:    6,
		Humidification:      14,
		PCIRate:             170,
		TopPressure:         2.5,
		BlastPressure:       3.9,
		HotBlastTemp:        1180,
		MeasuredMetalTemp:   1515,
		KFactor:             1.0,
		BlastSpecificVolume: 1189,
		SumpResidenceMin:    300,
	}
}

// Charge extracts the burden description.
func (in ProcessInputs) Charge() production.Charge {
	return production.Charge{
		IntervalMin:   in.ChargeIntervalMin,
		OrePerCharge:  in.OrePerChargeTon,
		CokePerCharge: in.CokePerChargeTon,
		OreFePercent:  in.OreFePercent,
	}
}

// Efficiency extracts the efficiency parameters.
func (in ProcessInputs) Efficiency() efficiency.Params {
	return efficiency.Params{
		BaseReduction:     in.BaseReduction,
		MeltingCapacity:   in.MeltingCapacity,
		BlastVolume:       in.BlastVolume,
		OxygenEnrichment:  in.OxygenEnrichment,
		Humidification:    in.Humidification,
		TopPressure:       in.TopPressure,
		BlastPressure:     in.BlastPressure,
		HotBlastTemp:      in.HotBlastTemp,
		PCIRate:           in.PCIRate,
		MeasuredMetalTemp: in.MeasuredMetalTemp,
		KFactor:           in.KFactor,
	}
}

// RegimeOverride configures an abnormal or damped-blast window. Nil fields
// inherit the normal regime's value.
type RegimeOverride struct {
	Window              shift.Window `json:"window"`
	// ChargingDelayMin stops ore charging for the first minutes of the
	// window. It shortens only that regime's charging time, never the time
	// partition, and the default of 0 leaves production unchanged. The
	// operator dashboard this service replaces recorded the delay without
	// applying it.
	ChargingDelayMin    float64      `json:"charging_delay_min"`
	BlastVolume         *float64     `json:"blast_volume_nm3_min,omitempty"`
	OxygenVolume        *float64     `json:"oxygen_volume_nm3_hr,omitempty"`
	OxygenEnrichment    *float64     `json:"oxygen_enrichment_percent,omitempty"`
	Humidification      *float64     `json:"humidification_g_nm3,omitempty"`
	PCIRate             *float64     `json:"pci_rate_kg_per_thm,omitempty"`
	BlastSpecificVolume *float64     `json:"blast_specific_volume_nm3_per_ton,omitempty"`
}

// Apply returns base with the override's fields substituted.
func (o *RegimeOverride) Apply(base ProcessInputs) ProcessInputs {
	if o == nil {
		return base
	}
	out := base
	set(&out.BlastVolume, o.BlastVolume)
	set(&out.OxygenVolume, o.OxygenVolume)
	set(&out.OxygenEnrichment, o.OxygenEnrichment)
	set(&out.Humidification, o.Humidification)
	set(&out.PCIRate, o.PCIRate)
	set(&out.BlastSpecificVolume, o.BlastSpecificVolume)
	return out
}

func set(dst *float64, v *float64) {
	if v != nil {
		*dst = *v
	}
}

func (o *RegimeOverride) window() *shift.Window {
	if o == nil {
		return nil
	}
	w := o.Window
	return &w
}

func (o *RegimeOverride) delay() float64 {
	if o == nil {
		return 0
	}
	return o.ChargingDelayMin
}

// Request is one evaluation's full input. Now defaults to the caller's clock.
type Request struct {
	Inputs   ProcessInputs     `json:"inputs"`
	Abnormal *RegimeOverride   `json:"abnormal,omitempty"`
	Damped   *RegimeOverride   `json:"damped,omitempty"`
	Taps     balance.TapRecord `json:"taps"`
	Now      *time.Time        `json:"now,omitempty"`
}
