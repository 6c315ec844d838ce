package production

import (
	"fmt"
	"math"
)

// TfFormula selects a hot-metal temperature prediction formula. The
// empirical families in circulation disagree materially, so there is no
// default: TfNone disables the prediction.
type TfFormula string

const (
	TfNone TfFormula = "none"
	// TfBlastOxygenPCI is the blast/oxygen/PCI balance with coefficients
	// 0.836, 4973, 0.6, 0.0015 and 1559.
	TfBlastOxygenPCI TfFormula = "blast-oxygen-pci"
)

// TfFloor is the lowest temperature the prediction reports.
const TfFloor = 1200.0

// ParseTfFormula maps a config value to a formula. Empty means none.
func ParseTfFormula(s string) (TfFormula, error) {
	switch TfFormula(s) {
	case "", TfNone:
		return TfNone, nil
	case TfBlastOxygenPCI:
		return TfBlastOxygenPCI, nil
	default:
		return TfNone, fmt.Errorf("unknown Tf formula %q", s)
	}
}

// ThermalInputs feed the temperature prediction.
type ThermalInputs struct {
	HotBlastTemp    float64
	BlastVolume     float64
	OxygenVolumeHr  float64
	PCIRate         float64
	DailyProduction float64
}

// PredictTf returns the predicted hot-metal temperature and whether a
// prediction was made.
func PredictTf(formula TfFormula, in ThermalInputs) (float64, bool) {
	if formula != TfBlastOxygenPCI || in.BlastVolume <= 0 {
		return 0, false
	}

	pciTon := in.PCIRate * in.DailyProduction / 1000
	tf := in.HotBlastTemp*0.836 +
		(in.OxygenVolumeHr/(60*in.BlastVolume))*4973 -
		in.HotBlastTemp*0.6 -
		(pciTon*1_000_000)/(60*in.BlastVolume)*0.0015 +
		1559
	return math.Max(tf, TfFloor), true
}
