// Package units rounds hot-metal quantities for display. Each type prints
// with a fixed number of decimals and encodes as a JSON number.
package units

import (
	"github.com/shopspring/decimal"
)

// Display precision.
const (
	TonPlaces     int32 = 1
	PercentPlaces int32 = 2
	MinutePlaces  int32 = 1
)

// Tons is a hot-metal mass rounded for display
type Tons struct {
	value decimal.Decimal
}

// Percent is a ratio in percent rounded for display
type Percent struct {
	value decimal.Decimal
}

// Minutes is a duration in minutes rounded for display
type Minutes struct {
	value decimal.Decimal
}

// NewTons rounds f to TonPlaces
func NewTons(f float64) Tons {
	return Tons{value: decimal.NewFromFloat(f).Round(TonPlaces)}
}

// String formats with a fixed single decimal
func (t Tons) String() string {
	return t.value.StringFixed(TonPlaces)
}

// MarshalJSON encodes as a JSON number
func (t Tons) MarshalJSON() ([]byte, error) {
	return []byte(t.String()), nil
}

// NewPercent rounds f to PercentPlaces
func NewPercent(f float64) Percent {
	return Percent{value: decimal.NewFromFloat(f).Round(PercentPlaces)}
}

// String formats with two fixed decimals
func (p Percent) String() string {
	return p.value.StringFixed(PercentPlaces)
}

// MarshalJSON encodes as a JSON number
func (p Percent) MarshalJSON() ([]byte, error) {
	return []byte(p.String()), nil
}

// NewMinutes rounds f to MinutePlaces
func NewMinutes(f float64) Minutes {
	return Minutes{value: decimal.NewFromFloat(f).Round(MinutePlaces)}
}

// String formats with a fixed single decimal
func (m Minutes) String() string {
	return m.value.StringFixed(MinutePlaces)
}

// MarshalJSON encodes as a JSON number
func (m Minutes) MarshalJSON() ([]byte, error) {
	return []byte(m.String()), nil
}

// Fixed formats f rounded half away from zero to places decimals.
func Fixed(f float64, places int32) string {
	return decimal.NewFromFloat(f).StringFixed(places)
}
