package config

import (
	"database/sql"
	"encoding/json"
	"fmt"

	_ "modernc.org/sqlite"
)

// SQLiteProvider implements Provider for SQLite-backed configuration
type SQLiteProvider struct {
	db *sql.DB
}

const settingsSchema = `
CREATE TABLE IF NOT EXISTS settings (
	id          INTEGER PRIMARY KEY CHECK (id = 1),
	debug       INTEGER NOT NULL DEFAULT 0,
	site        TEXT NOT NULL DEFAULT '{}',
	correlation TEXT NOT NULL DEFAULT '{}',
	shear       TEXT NOT NULL DEFAULT '{}'
);
`

// NewSQLiteProvider opens (and if necessary initializes) a SQLite
// configuration database
func NewSQLiteProvider(filename string) (*SQLiteProvider, error) {
	db, err := sql.Open("sqlite", filename)
	if err != nil {
		return nil, fmt.Errorf("could not open settings database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("could not connect to settings database: %w", err)
	}
	if _, err := db.Exec(settingsSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("could not initialize settings schema: %w", err)
	}
	return &SQLiteProvider{db: db}, nil
}

// LoadConfig loads the complete configuration from the settings table
func (s *SQLiteProvider) LoadConfig() (*Data, error) {
	var (
		debug                   int
		siteJSON, correlJSON, shearJSON string
	)
	row := s.db.QueryRow(`SELECT debug, site, correlation, shear FROM settings WHERE id = 1`)
	if err := row.Scan(&debug, &siteJSON, &correlJSON, &shearJSON); err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("settings database contains no configuration row")
		}
		return nil, fmt.Errorf("could not read settings: %w", err)
	}

	data := &Data{Debug: debug != 0}
	if err := json.Unmarshal([]byte(siteJSON), &data.Site); err != nil {
		return nil, fmt.Errorf("invalid site settings: %w", err)
	}
	if err := json.Unmarshal([]byte(correlJSON), &data.Correlation); err != nil {
		return nil, fmt.Errorf("invalid correlation settings: %w", err)
	}
	if err := json.Unmarshal([]byte(shearJSON), &data.Shear); err != nil {
		return nil, fmt.Errorf("invalid shear settings: %w", err)
	}
	return data, nil
}

// SaveConfig writes the configuration back to the settings table
func (s *SQLiteProvider) SaveConfig(data *Data) error {
	siteJSON, err := json.Marshal(data.Site)
	if err != nil {
		return err
	}
	correlJSON, err := json.Marshal(data.Correlation)
	if err != nil {
		return err
	}
	shearJSON, err := json.Marshal(data.Shear)
	if err != nil {
		return err
	}
	debug := 0
	if data.Debug {
		debug = 1
	}
	_, err = s.db.Exec(
		`INSERT OR REPLACE INTO settings (id, debug, site, correlation, shear) VALUES (1, ?, ?, ?, ?)`,
		debug, string(siteJSON), string(correlJSON), string(shearJSON))
	if err != nil {
		return fmt.Errorf("could not save settings: %w", err)
	}
	return nil
}

// IsReadOnly returns false: SQLite-backed configuration is writable
func (s *SQLiteProvider) IsReadOnly() bool {
	return false
}

// Close closes the underlying database handle
func (s *SQLiteProvider) Close() error {
	return s.db.Close()
}
