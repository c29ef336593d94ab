package solar

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Schema is the SQL DDL for the solar tables. Execute it via
// [Store.Migrate] or apply it manually during deployment.
const Schema = `
CREATE TABLE IF NOT EXISTS readings (
    ts              TIMESTAMPTZ NOT NULL,
    production_w    DOUBLE PRECISION NOT NULL,
    consumption_w   DOUBLE PRECISION NOT NULL,
    net_w           DOUBLE PRECISION NOT NULL,
    production_wh   DOUBLE PRECISION NOT NULL,
    consumption_wh  DOUBLE PRECISION NOT NULL,
    temperature_c   DOUBLE PRECISION,
    cloud_cover_pct DOUBLE PRECISION,
    weather_code    INTEGER
);
CREATE INDEX IF NOT EXISTS idx_readings_ts ON readings(ts);

CREATE TABLE IF NOT EXISTS inverter_readings (
    ts        TIMESTAMPTZ NOT NULL,
    serial    TEXT NOT NULL,
    watts     DOUBLE PRECISION NOT NULL,
    max_watts DOUBLE PRECISION NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_inverter_readings_serial ON inverter_readings(serial, ts DESC);

CREATE TABLE IF NOT EXISTS daily_summary (
    day                  DATE PRIMARY KEY,
    total_production_wh  DOUBLE PRECISION NOT NULL,
    total_consumption_wh DOUBLE PRECISION NOT NULL,
    peak_production_w    DOUBLE PRECISION NOT NULL,
    avg_temperature_c    DOUBLE PRECISION,
    avg_cloud_cover_pct  DOUBLE PRECISION,
    reading_count        INTEGER NOT NULL
);
`

// Tolerance either side of the reference temperature when looking for
// comparable days.
const similarDayTolerance = 5.0

// DB is the database interface used by [Store]. Both *pgxpool.Pool and
// *pgx.Conn satisfy it.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Store persists readings, inverter readings, and daily summaries in
// PostgreSQL. The collector writes through it and the voice feature reads
// from it; queries with nothing to report return [ErrNoData].
type Store struct {
	db DB
}

// NewStore creates a Store on an existing connection or pool. Call
// [Store.Migrate] before issuing queries.
func NewStore(db DB) *Store {
	return &Store{db: db}
}

// Migrate executes the [Schema] DDL, creating the tables and indexes if
// they do not already exist.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("solar: migrate: %w", err)
	}
	return nil
}

// StoreReading inserts one production reading.
func (s *Store) StoreReading(ctx context.Context, r Reading) error {
	const q = `
		INSERT INTO readings (ts, production_w, consumption_w, net_w,
		                      production_wh, consumption_wh,
		                      temperature_c, cloud_cover_pct, weather_code)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	_, err := s.db.Exec(ctx, q,
		r.Timestamp, r.ProductionW, r.ConsumptionW, r.NetW,
		r.ProductionWh, r.ConsumptionWh,
		r.TemperatureC, r.CloudCoverPct, r.WeatherCode)
	if err != nil {
		return fmt.Errorf("solar: store reading: %w", err)
	}
	return nil
}

// StoreInverterReadings inserts one row per inverter.
func (s *Store) StoreInverterReadings(ctx context.Context, readings []InverterReading) error {
	const q = `
		INSERT INTO inverter_readings (ts, serial, watts, max_watts)
		VALUES ($1, $2, $3, $4)`
	for _, r := range readings {
		if _, err := s.db.Exec(ctx, q, r.Timestamp, r.Serial, r.Watts, r.MaxWatts); err != nil {
			return fmt.Errorf("solar: store inverter reading %s: %w", r.Serial, err)
		}
	}
	return nil
}

// UpdateDailySummary recomputes the summary row for the given day from
// the raw readings and upserts it. The energy totals take the day's
// maximum of the gateway's cumulative counters. Days without readings are
// left untouched.
func (s *Store) UpdateDailySummary(ctx context.Context, day time.Time) error {
	const q = `
		INSERT INTO daily_summary (day, total_production_wh, total_consumption_wh,
		                           peak_production_w, avg_temperature_c,
		                           avg_cloud_cover_pct, reading_count)
		SELECT $1::date,
		       COALESCE(MAX(production_wh), 0),
		       COALESCE(MAX(consumption_wh), 0),
		       COALESCE(MAX(production_w), 0),
		       AVG(temperature_c),
		       AVG(cloud_cover_pct),
		       COUNT(*)
		FROM readings
		WHERE ts >= $1::date AND ts < $1::date + 1
		HAVING COUNT(*) > 0
		ON CONFLICT (day) DO UPDATE SET
		    total_production_wh  = EXCLUDED.total_production_wh,
		    total_consumption_wh = EXCLUDED.total_consumption_wh,
		    peak_production_w    = EXCLUDED.peak_production_w,
		    avg_temperature_c    = EXCLUDED.avg_temperature_c,
		    avg_cloud_cover_pct  = EXCLUDED.avg_cloud_cover_pct,
		    reading_count        = EXCLUDED.reading_count`
	if _, err := s.db.Exec(ctx, q, day); err != nil {
		return fmt.Errorf("solar: update daily summary: %w", err)
	}
	return nil
}

// Latest returns the most recent production reading.
func (s *Store) Latest(ctx context.Context) (Reading, error) {
	const q = `
		SELECT ts, production_w, consumption_w, net_w, production_wh,
		       consumption_wh, temperature_c, cloud_cover_pct, weather_code
		FROM readings
		ORDER BY ts DESC
		LIMIT 1`
	var r Reading
	err := s.db.QueryRow(ctx, q).Scan(
		&r.Timestamp, &r.ProductionW, &r.ConsumptionW, &r.NetW,
		&r.ProductionWh, &r.ConsumptionWh,
		&r.TemperatureC, &r.CloudCoverPct, &r.WeatherCode)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Reading{}, ErrNoData
		}
		return Reading{}, fmt.Errorf("solar: latest reading: %w", err)
	}
	return r, nil
}

// TodaySummary returns the running summary for the current day.
func (s *Store) TodaySummary(ctx context.Context) (DailySummary, error) {
	const q = `
		SELECT day, total_production_wh, total_consumption_wh, peak_production_w,
		       avg_temperature_c, avg_cloud_cover_pct, reading_count
		FROM daily_summary
		WHERE day = CURRENT_DATE`
	var d DailySummary
	err := s.db.QueryRow(ctx, q).Scan(
		&d.Date, &d.TotalProductionWh, &d.TotalConsumptionWh, &d.PeakProductionW,
		&d.AvgTemperatureC, &d.AvgCloudCoverPct, &d.ReadingCount)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return DailySummary{}, ErrNoData
		}
		return DailySummary{}, fmt.Errorf("solar: today summary: %w", err)
	}
	return d, nil
}

// DailySummaries returns up to days summaries, newest first. Zero or
// negative asks for the last thirty.
func (s *Store) DailySummaries(ctx context.Context, days int) ([]DailySummary, error) {
	if days <= 0 {
		days = 30
	}
	const q = `
		SELECT day, total_production_wh, total_consumption_wh, peak_production_w,
		       avg_temperature_c, avg_cloud_cover_pct, reading_count
		FROM daily_summary
		ORDER BY day DESC
		LIMIT $1`
	rows, err := s.db.Query(ctx, q, days)
	if err != nil {
		return nil, fmt.Errorf("solar: daily summaries: %w", err)
	}
	defer rows.Close()

	summaries, err := scanSummaries(rows)
	if err != nil {
		return nil, fmt.Errorf("solar: daily summaries: %w", err)
	}
	if len(summaries) == 0 {
		return nil, ErrNoData
	}
	return summaries, nil
}

// SimilarDays returns summaries of recent days whose average temperature
// was within five degrees of tempC, newest first.
func (s *Store) SimilarDays(ctx context.Context, tempC float64) ([]DailySummary, error) {
	const q = `
		SELECT day, total_production_wh, total_consumption_wh, peak_production_w,
		       avg_temperature_c, avg_cloud_cover_pct, reading_count
		FROM daily_summary
		WHERE avg_temperature_c BETWEEN $1 AND $2
		ORDER BY day DESC
		LIMIT 30`
	rows, err := s.db.Query(ctx, q, tempC-similarDayTolerance, tempC+similarDayTolerance)
	if err != nil {
		return nil, fmt.Errorf("solar: similar days: %w", err)
	}
	defer rows.Close()

	summaries, err := scanSummaries(rows)
	if err != nil {
		return nil, fmt.Errorf("solar: similar days: %w", err)
	}
	if len(summaries) == 0 {
		return nil, ErrNoData
	}
	return summaries, nil
}

// LatestInverters returns today's most recent reading per inverter.
func (s *Store) LatestInverters(ctx context.Context) ([]InverterReading, error) {
	const q = `
		SELECT DISTINCT ON (serial) ts, serial, watts, max_watts
		FROM inverter_readings
		WHERE ts >= CURRENT_DATE
		ORDER BY serial, ts DESC`
	rows, err := s.db.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("solar: latest inverters: %w", err)
	}
	defer rows.Close()

	var readings []InverterReading
	for rows.Next() {
		var r InverterReading
		if err := rows.Scan(&r.Timestamp, &r.Serial, &r.Watts, &r.MaxWatts); err != nil {
			return nil, fmt.Errorf("solar: latest inverters scan: %w", err)
		}
		readings = append(readings, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("solar: latest inverters: %w", err)
	}
	if len(readings) == 0 {
		return nil, ErrNoData
	}
	return readings, nil
}

func scanSummaries(rows pgx.Rows) ([]DailySummary, error) {
	var summaries []DailySummary
	for rows.Next() {
		var d DailySummary
		if err := rows.Scan(&d.Date, &d.TotalProductionWh, &d.TotalConsumptionWh,
			&d.PeakProductionW, &d.AvgTemperatureC, &d.AvgCloudCoverPct,
			&d.ReadingCount); err != nil {
			return nil, err
		}
		summaries = append(summaries, d)
	}
	return summaries, rows.Err()
}
