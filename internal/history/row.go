package history

import (
	"time"

	"github.com/google/uuid"
	"github.com/terminal-bench/blasttap/internal/balance"
	"github.com/terminal-bench/blasttap/pkg/units"
)

// Row is an entry rounded for operators: the shape of the history API and
// of each CSV line.
type Row struct {
	ID               uuid.UUID      `json:"id"`
	Timestamp        time.Time      `json:"timestamp"`
	ProductionTon    units.Tons     `json:"production_ton"`
	TappedTon        units.Tons     `json:"tapped_ton"`
	ResidualTon      units.Tons     `json:"residual_ton"`
	ResidualRate     units.Percent  `json:"residual_rate_percent"`
	Status           balance.Status `json:"status"`
	StatusLabel      string         `json:"status_label"`
	TapBitDiameterMM int            `json:"tap_bit_diameter_mm"`
	NextTapInterval  string         `json:"next_tap_interval"`
	GapMinutes       units.Minutes  `json:"gap_minutes"`
	DailyByWindTon   units.Tons     `json:"daily_by_wind_ton"`
	PredictedTf      *float64       `json:"predicted_tf_c,omitempty"`
	ResidualGap      *units.Tons    `json:"residual_gap_ton,omitempty"`
}

// Row rounds e for display.
func (e Entry) Row() Row {
	r := Row{
		ID:               e.ID,
		Timestamp:        e.Timestamp,
		ProductionTon:    units.NewTons(e.ProductionTon),
		TappedTon:        units.NewTons(e.TappedTon),
		ResidualTon:      units.NewTons(e.ResidualTon),
		ResidualRate:     units.NewPercent(e.ResidualRate),
		Status:           e.Status,
		StatusLabel:      e.Status.Label(),
		TapBitDiameterMM: e.TapBitDiameterMM,
		NextTapInterval:  e.NextTapInterval,
		GapMinutes:       units.NewMinutes(e.GapMinutes),
		DailyByWindTon:   units.NewTons(e.DailyByWindTon),
		PredictedTf:      e.PredictedTf,
	}
	if e.ResidualGap != nil {
		gap := units.NewTons(*e.ResidualGap)
		r.ResidualGap = &gap
	}
	return r
}

// Rows rounds entries for display, keeping their order.
func Rows(entries []Entry) []Row {
	rows := make([]Row, len(entries))
	for i, e := range entries {
		rows[i] = e.Row()
	}
	return rows
}
