// Package archive persists history entries to Postgres so a shift's record
// outlives the in-memory session.
package archive

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/terminal-bench/blasttap/internal/balance"
	"github.com/terminal-bench/blasttap/internal/history"
	"github.com/terminal-bench/blasttap/internal/session"
)

const schema = `
CREATE TABLE IF NOT EXISTS balance_history (
	id                    UUID PRIMARY KEY,
	session_id            UUID NOT NULL,
	evaluated_at          TIMESTAMPTZ NOT NULL,
	production_ton        DOUBLE PRECISION NOT NULL,
	tapped_ton            DOUBLE PRECISION NOT NULL,
	residual_ton          DOUBLE PRECISION NOT NULL,
	residual_rate_percent DOUBLE PRECISION NOT NULL,
	status                TEXT NOT NULL,
	tap_bit_mm            INTEGER NOT NULL,
	next_tap_interval     TEXT NOT NULL,
	gap_min               DOUBLE PRECISION NOT NULL,
	daily_by_wind_ton     DOUBLE PRECISION NOT NULL,
	predicted_tf_c        DOUBLE PRECISION,
	residual_gap_ton      DOUBLE PRECISION
);
CREATE INDEX IF NOT EXISTS balance_history_session_idx ON balance_history (session_id, evaluated_at);
`

const uniqueViolation = "23505"

// Store is the Postgres archive.
type Store struct {
	db *sql.DB
}

// Open connects to databaseURL and ensures the schema exists.
func Open(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := &Store{db: db}
	if err := s.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// NewStore wraps an existing handle.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Migrate creates the history table if needed.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to migrate archive: %w", err)
	}
	return nil
}

// Close closes the database connection
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Name identifies the store as a sink.
func (s *Store) Name() string {
	return "archive"
}

// Handle archives the outcome's history entry.
func (s *Store) Handle(ctx context.Context, out session.Outcome) error {
	return s.Save(ctx, out.SessionID, out.Entry)
}

// Save inserts one entry. Re-inserting the same entry id is a no-op.
func (s *Store) Save(ctx context.Context, sessionID uuid.UUID, e history.Entry) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO balance_history (id, session_id, evaluated_at, production_ton, tapped_ton, residual_ton,
			residual_rate_percent, status, tap_bit_mm, next_tap_interval, gap_min, daily_by_wind_ton,
			predicted_tf_c, residual_gap_ton)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		e.ID, sessionID, e.Timestamp, e.ProductionTon, e.TappedTon, e.ResidualTon,
		e.ResidualRate, e.Status.String(), e.TapBitDiameterMM, e.NextTapInterval, e.GapMinutes, e.DailyByWindTon,
		nullFloat(e.PredictedTf), nullFloat(e.ResidualGap),
	)
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to archive entry: %w", err)
	}
	return nil
}

// List returns up to limit entries of a session, oldest first.
func (s *Store) List(ctx context.Context, sessionID uuid.UUID, limit int) ([]history.Entry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, evaluated_at, production_ton, tapped_ton, residual_ton, residual_rate_percent, status,
			tap_bit_mm, next_tap_interval, gap_min, daily_by_wind_ton, predicted_tf_c, residual_gap_ton
		 FROM (
			SELECT * FROM balance_history WHERE session_id = $1 ORDER BY evaluated_at DESC LIMIT $2
		 ) recent ORDER BY evaluated_at ASC`,
		sessionID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list archive: %w", err)
	}
	defer rows.Close()

	var entries []history.Entry
	for rows.Next() {
		var (
			e       history.Entry
			status  string
			tf, gap sql.NullFloat64
		)
		if err := rows.Scan(&e.ID, &e.Timestamp, &e.ProductionTon, &e.TappedTon, &e.ResidualTon,
			&e.ResidualRate, &status, &e.TapBitDiameterMM, &e.NextTapInterval, &e.GapMinutes,
			&e.DailyByWindTon, &tf, &gap); err != nil {
			return nil, fmt.Errorf("failed to scan archive row: %w", err)
		}
		if e.Status, err = balance.ParseStatus(status); err != nil {
			return nil, err
		}
		e.PredictedTf = floatPtr(tf)
		e.ResidualGap = floatPtr(gap)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func nullFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}

func floatPtr(n sql.NullFloat64) *float64 {
	if !n.Valid {
		return nil
	}
	v := n.Float64
	return &v
}
