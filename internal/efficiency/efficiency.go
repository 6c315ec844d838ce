// Package efficiency turns burden, blast, thermal and chemistry parameters
// into the dimensionless reduction efficiency used by the production
// estimate. The factors are fixed empirical corrections; none are clamped.
package efficiency

import "fmt"

// Scale is the fixed calibration constant applied to every product.
const Scale = 0.9

// Sane band for a reduction efficiency. Values outside are reported, never clamped.
const (
	BandLow  = 0.5
	BandHigh = 1.3
)

// Params are the inputs of one efficiency evaluation.
type Params struct {
	BaseReduction     float64 `json:"base_reduction_factor"`
	MeltingCapacity   float64 `json:"melting_capacity"`
	BlastVolume       float64 `json:"blast_volume_nm3_min"`
	OxygenEnrichment  float64 `json:"oxygen_enrichment_percent"`
	Humidification    float64 `json:"humidification_g_nm3"`
	TopPressure       float64 `json:"top_pressure"`
	BlastPressure     float64 `json:"blast_pressure"`
	HotBlastTemp      float64 `json:"hot_blast_temp_c"`
	PCIRate           float64 `json:"pci_rate_kg_per_thm"`
	MeasuredMetalTemp float64 `json:"measured_hot_metal_temp_c"`
	KFactor           float64 `json:"k_factor"`
}

// Factors is the breakdown of one efficiency evaluation.
type Factors struct {
	Size              float64 `json:"size_effect"`
	Melting           float64 `json:"melting_effect"`
	Gas               float64 `json:"gas_effect"`
	Oxygen            float64 `json:"oxygen_boost"`
	Humidity          float64 `json:"humidity_effect"`
	TopPressure       float64 `json:"pressure_boost"`
	BlastPressure     float64 `json:"blow_pressure_boost"`
	HotBlastTemp      float64 `json:"temp_effect"`
	PCI               float64 `json:"pci_effect"`
	MeasuredMetalTemp float64 `json:"measured_temp_effect"`
}

// Score is an efficiency value with its breakdown.
type Score struct {
	Value     float64 `json:"value"`
	Factors   Factors `json:"factors"`
	OutOfBand bool    `json:"out_of_band"`
}

// Breakdown evaluates every factor.
func Breakdown(p Params) Factors {
	return Factors{
		// burden size influence; 20mm/20mm and 60mm/60mm reference sizes
		Size:              (20.0/20.0 + 60.0/60.0) / 2,
		Melting:           1 + ((p.MeltingCapacity-2500)/500)*0.05,
		Gas:               1 + (p.BlastVolume-4000)/8000,
		Oxygen:            1 + p.OxygenEnrichment/10,
		Humidity:          1 - p.Humidification/100,
		TopPressure:       1 + (p.TopPressure-2.5)*0.05,
		BlastPressure:     1 + (p.BlastPressure-3.5)*0.03,
		HotBlastTemp:      1 + ((p.HotBlastTemp-1100)/100)*0.03,
		PCI:               1 + (p.PCIRate-150)/100*0.02,
		MeasuredMetalTemp: 1 + ((p.MeasuredMetalTemp-1500)/100)*0.03,
	}
}

// Product multiplies all factors.
func (f Factors) Product() float64 {
	return f.Size * f.Melting * f.Gas * f.Oxygen * f.Humidity *
		f.TopPressure * f.BlastPressure * f.HotBlastTemp * f.PCI * f.MeasuredMetalTemp
}

// Compute returns the reduction efficiency for p.
func Compute(p Params) Score {
	f := Breakdown(p)
	v := p.BaseReduction * f.Product() * p.KFactor * Scale
	return Score{
		Value:     v,
		Factors:   f,
		OutOfBand: v < BandLow || v > BandHigh,
	}
}

// Warning describes an out-of-band score, or "" when the score is sane.
func (s Score) Warning(label string) string {
	if !s.OutOfBand {
		return ""
	}
	return fmt.Sprintf("%s reduction efficiency %.3f outside [%.1f, %.1f]", label, s.Value, BandLow, BandHigh)
}
