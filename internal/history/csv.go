package history

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/terminal-bench/blasttap/pkg/units"
)

// bom lets spreadsheet tools detect UTF-8 for the Korean status labels.
const bom = "\xEF\xBB\xBF"

var csvHeader = []string{
	"timestamp",
	"production_ton",
	"tapped_ton",
	"residual_ton",
	"residual_rate_percent",
	"status",
	"status_label",
	"tap_bit_mm",
	"next_tap_interval",
	"gap_min",
	"daily_by_wind_ton",
	"predicted_tf_c",
	"residual_gap_ton",
}

// WriteCSV writes entries oldest first with a header row. Optional columns
// are left empty when the evaluation did not produce them.
func WriteCSV(w io.Writer, entries []Entry) error {
	if _, err := io.WriteString(w, bom); err != nil {
		return fmt.Errorf("write bom: %w", err)
	}
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for _, e := range entries {
		r := e.Row()
		tf := ""
		if e.PredictedTf != nil {
			tf = units.Fixed(*e.PredictedTf, 0)
		}
		gap := ""
		if r.ResidualGap != nil {
			gap = r.ResidualGap.String()
		}
		row := []string{
			r.Timestamp.Format(time.RFC3339),
			r.ProductionTon.String(),
			r.TappedTon.String(),
			r.ResidualTon.String(),
			r.ResidualRate.String(),
			r.Status.String(),
			r.StatusLabel,
			strconv.Itoa(r.TapBitDiameterMM),
			r.NextTapInterval,
			r.GapMinutes.String(),
			r.DailyByWindTon.String(),
			tf,
			gap,
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("write row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}
