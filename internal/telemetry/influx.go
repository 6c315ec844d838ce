// Package telemetry writes each evaluation as a point to InfluxDB so the
// production/tapped/residual curves can be charted across shifts.
package telemetry

import (
	"context"
	"fmt"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/terminal-bench/blasttap/internal/session"
)

const measurement = "melt_balance"

// Config holds the InfluxDB connection settings.
type Config struct {
	URL    string
	Token  string
	Org    string
	Bucket string
}

// Writer writes balance points.
type Writer struct {
	client influxdb2.Client
	api    api.WriteAPIBlocking
}

// NewWriter creates a blocking writer for cfg's bucket.
func NewWriter(cfg Config) *Writer {
	client := influxdb2.NewClient(cfg.URL, cfg.Token)
	return &Writer{
		client: client,
		api:    client.WriteAPIBlocking(cfg.Org, cfg.Bucket),
	}
}

// Name identifies the writer as a sink.
func (w *Writer) Name() string {
	return "telemetry"
}

// Handle writes the outcome as one point.
func (w *Writer) Handle(ctx context.Context, out session.Outcome) error {
	if err := w.api.WritePoint(ctx, Point(out)); err != nil {
		return fmt.Errorf("failed to write point: %w", err)
	}
	return nil
}

// Close releases the client.
func (w *Writer) Close() {
	w.client.Close()
}

// Point maps an outcome to a line-protocol point tagged by session and status.
func Point(out session.Outcome) *write.Point {
	res := out.Result
	fields := map[string]interface{}{
		"production_ton":        res.BasisTon,
		"raw_production_ton":    res.Production.RawTon,
		"holding_adjusted_ton":  res.Production.HoldingAdjusted,
		"tapped_ton":            res.Balance.Tapped.TotalTon,
		"residual_ton":          res.Balance.ResidualTon,
		"residual_rate_percent": res.Balance.ResidualRate,
		"tap_bit_mm":            int64(res.Strategy.TapBitDiameterMM),
		"gap_min":               res.Strategy.GapMinutes,
		"elapsed_min":           res.Partition.Elapsed,
	}
	if res.PredictedTf != nil {
		fields["predicted_tf_c"] = *res.PredictedTf
	}
	tags := map[string]string{
		"session": out.SessionID.String(),
		"status":  res.Balance.Status.String(),
	}
	return influxdb2.NewPoint(measurement, tags, fields, res.EvaluatedAt)
}
