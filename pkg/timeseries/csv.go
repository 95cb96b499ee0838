package timeseries

import (
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"
	"time"
)

// csvTimeFormats are tried in order when parsing timestamp fields.
var csvTimeFormats = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04",
	"2006-01-02",
}

// LoadCSV loads a two-column (timestamp, value) series from a CSV file.
// A header row is detected and skipped; empty or unparseable value fields
// become missing (NaN) observations.
func LoadCSV(filename string) (*Series, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	s, err := LoadCSVFromReader(file)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filename, err)
	}
	if s.Name == "" {
		base := filename
		if idx := strings.LastIndexByte(base, '/'); idx >= 0 {
			base = base[idx+1:]
		}
		s.Name = strings.TrimSuffix(base, ".csv")
	}
	return s, nil
}

// LoadCSVFromReader loads a two-column series from an io.Reader.
func LoadCSVFromReader(r io.Reader) (*Series, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1

	var timestamps []time.Time
	var values []float64
	name := ""
	first := true
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		if len(record) < 2 {
			continue
		}
		ts, tsErr := parseCSVTime(record[0])
		if first {
			first = false
			if tsErr != nil {
				// Header row: remember the value column's name.
				name = strings.TrimSpace(record[1])
				continue
			}
		}
		if tsErr != nil {
			return nil, fmt.Errorf("bad timestamp %q: %w", record[0], tsErr)
		}
		v, vErr := strconv.ParseFloat(strings.TrimSpace(record[1]), 64)
		if vErr != nil || strings.TrimSpace(record[1]) == "" {
			v = math.NaN()
		}
		timestamps = append(timestamps, ts)
		values = append(values, v)
	}

	s, err := NewWithTimestamps(timestamps, values)
	if err != nil {
		return nil, err
	}
	s.Name = name
	return s, nil
}

func parseCSVTime(field string) (time.Time, error) {
	field = strings.TrimSpace(field)
	for _, layout := range csvTimeFormats {
		if t, err := time.Parse(layout, field); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized time format")
}

// WriteCSV writes a series as (timestamp, value) rows with a header.
// Missing observations are written as empty fields.
func WriteCSV(w io.Writer, s *Series) error {
	cw := csv.NewWriter(w)
	name := s.Name
	if name == "" {
		name = "value"
	}
	if err := cw.Write([]string{"timestamp", name}); err != nil {
		return err
	}
	for i, v := range s.Values {
		field := ""
		if !math.IsNaN(v) {
			field = strconv.FormatFloat(v, 'f', -1, 64)
		}
		if err := cw.Write([]string{s.Timestamps[i].UTC().Format(time.RFC3339), field}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
