// Package sqlite provides a CGO-free measurement archive: named
// observation series stored in a local SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"time"

	_ "modernc.org/sqlite"

	"github.com/brightmast/windassess/pkg/timeseries"
)

const schema = `
CREATE TABLE IF NOT EXISTS observations (
	series TEXT NOT NULL,
	ts     INTEGER NOT NULL,
	value  REAL,
	PRIMARY KEY (series, ts)
);
CREATE INDEX IF NOT EXISTS idx_observations_series ON observations(series);
`

// Store is a handle on the measurement archive.
type Store struct {
	db *sql.DB
}

// Open opens (creating if necessary) the archive at dbPath.
func Open(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open measurement archive: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping measurement archive: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// SaveSeries upserts all observations of a named series. Missing values
// are stored as NULL.
func (s *Store) SaveSeries(ctx context.Context, series *timeseries.Series) error {
	if series.Name == "" {
		return fmt.Errorf("series must have a name")
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT OR REPLACE INTO observations (series, ts, value) VALUES (?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for i, v := range series.Values {
		var val interface{}
		if !math.IsNaN(v) {
			val = v
		}
		if _, err := stmt.ExecContext(ctx, series.Name, series.Timestamps[i].Unix(), val); err != nil {
			return fmt.Errorf("failed to insert observation: %w", err)
		}
	}
	return tx.Commit()
}

// LoadSeries reads a named series in timestamp order. NULL values come
// back as missing (NaN) observations.
func (s *Store) LoadSeries(ctx context.Context, name string) (*timeseries.Series, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT ts, value FROM observations WHERE series = ? ORDER BY ts`, name)
	if err != nil {
		return nil, fmt.Errorf("failed to query series %q: %w", name, err)
	}
	defer rows.Close()

	var timestamps []time.Time
	var values []float64
	for rows.Next() {
		var ts int64
		var val sql.NullFloat64
		if err := rows.Scan(&ts, &val); err != nil {
			return nil, fmt.Errorf("failed to scan observation: %w", err)
		}
		timestamps = append(timestamps, time.Unix(ts, 0).UTC())
		if val.Valid {
			values = append(values, val.Float64)
		} else {
			values = append(values, math.NaN())
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(timestamps) == 0 {
		return nil, fmt.Errorf("series %q not found in archive", name)
	}

	series, err := timeseries.NewWithTimestamps(timestamps, values)
	if err != nil {
		return nil, err
	}
	series.Name = name
	return series, nil
}

// ListSeries returns the names of all archived series.
func (s *Store) ListSeries(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT series FROM observations ORDER BY series`)
	if err != nil {
		return nil, fmt.Errorf("failed to list series: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}
