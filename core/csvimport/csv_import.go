/*
SPDX-License-Identifier: Apache-2.0

Copyright 2024 The Taxinomia Authors

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    https://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package csvimport reads CSV data into typed records.
package csvimport

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/rowmodel/core/columns"
	"github.com/google/rowmodel/core/rows"
)

// ColumnType specifies the data type for a column
type ColumnType int

const (
	// ColumnTypeAuto detects the type from the data (default)
	ColumnTypeAuto ColumnType = iota
	// ColumnTypeString forces string type
	ColumnTypeString
	// ColumnTypeInt64 forces int64 type
	ColumnTypeInt64
	// ColumnTypeFloat64 forces float64 type
	ColumnTypeFloat64
	// ColumnTypeBool forces bool type
	ColumnTypeBool
	// ColumnTypeDatetime forces time.Time, see columns.ParseDatetime
	ColumnTypeDatetime
	// ColumnTypeDuration forces time.Duration, see columns.ParseDuration.
	// It is never detected.
	ColumnTypeDuration
)

// ColumnSource defines how a column is imported
type ColumnSource struct {
	// Name is the column id (defaults to the header)
	Name string `yaml:"name,omitempty"`
	// DisplayName is the header name of the column
	DisplayName string `yaml:"display_name,omitempty"`
	// Type specifies the data type for this column (default: auto-detect)
	Type ColumnType `yaml:"type,omitempty"`
	// AggFunc is the default aggregation of the column
	AggFunc string `yaml:"agg_func,omitempty"`
}

// ImportOptions configures CSV import behavior
type ImportOptions struct {
	// HasHeader indicates whether the first row contains column headers
	HasHeader bool
	// Delimiter is the field delimiter (defaults to comma)
	Delimiter rune
	// ColumnSources provides configuration for specific columns by header name
	ColumnSources map[string]ColumnSource
	// SampleSize is the number of rows to sample for type detection (default: 100)
	SampleSize int
}

// DefaultOptions returns default import options
func DefaultOptions() ImportOptions {
	return ImportOptions{
		HasHeader:     true,
		Delimiter:     ',',
		ColumnSources: make(map[string]ColumnSource),
		SampleSize:    100,
	}
}

// Result is an imported CSV file.
type Result struct {
	Records []rows.Record
	Columns *columns.Set
}

// ImportFromFile imports a CSV file
func ImportFromFile(path string, options ImportOptions) (*Result, error) {
	file, err := os.Open(path) //nolint:gosec // User-specified data path
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	return ImportFromReader(file, options)
}

// ImportFromReader imports CSV data from an io.Reader
func ImportFromReader(reader io.Reader, options ImportOptions) (*Result, error) {
	csvReader := csv.NewReader(reader)
	if options.Delimiter != 0 {
		csvReader.Comma = options.Delimiter
	}
	csvReader.FieldsPerRecord = -1

	records, err := csvReader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV: %w", err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("CSV file is empty")
	}

	var headers []string
	var dataRows [][]string
	if options.HasHeader {
		headers = records[0]
		dataRows = records[1:]
		if len(dataRows) == 0 {
			return nil, fmt.Errorf("CSV file has no data rows")
		}
	} else {
		// Generate column names if no header
		headers = make([]string, len(records[0]))
		for i := range headers {
			headers[i] = fmt.Sprintf("column_%d", i+1)
		}
		dataRows = records
	}

	sampleSize := options.SampleSize
	if sampleSize <= 0 {
		sampleSize = 100
	}
	types := detectColumnTypes(headers, dataRows, sampleSize, options.ColumnSources)

	ids := make([]string, len(headers))
	set, _ := columns.NewSet()
	for i, header := range headers {
		config := getColumnSource(header, options.ColumnSources)
		col := &columns.Column{ID: header, HeaderName: config.DisplayName, AggFunc: config.AggFunc}
		if config.Name != "" {
			col.ID = config.Name
		}
		switch types[i] {
		case ColumnTypeInt64, ColumnTypeFloat64:
			col.Type = columns.TypeNumber
		case ColumnTypeBool:
			col.Type = columns.TypeBool
		case ColumnTypeDatetime:
			col.Type = columns.TypeDate
		case ColumnTypeDuration:
			col.Type = columns.TypeAuto
		default:
			col.Type = columns.TypeString
		}
		if err := set.Add(col); err != nil {
			return nil, fmt.Errorf("column %d: %w", i+1, err)
		}
		ids[i] = col.ID
	}

	out := make([]rows.Record, len(dataRows))
	for r, row := range dataRows {
		rec := make(rows.Record, len(headers))
		for i := range headers {
			value := ""
			if i < len(row) {
				value = strings.TrimSpace(row[i])
			}
			rec[ids[i]] = parseValue(value, types[i])
		}
		out[r] = rec
	}
	return &Result{Records: out, Columns: set}, nil
}

// parseValue converts a cell. Empty cells and cells that do not parse as
// the column type become nil.
func parseValue(value string, t ColumnType) any {
	if value == "" {
		return nil
	}
	switch t {
	case ColumnTypeInt64:
		if n, err := strconv.ParseInt(value, 10, 64); err == nil {
			return n
		}
		return nil
	case ColumnTypeFloat64:
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
		return nil
	case ColumnTypeBool:
		if b, ok := parseBool(value); ok {
			return b
		}
		return nil
	case ColumnTypeDatetime:
		if d, ok := parseTime(value); ok {
			return d
		}
		return nil
	case ColumnTypeDuration:
		if d, err := columns.ParseDuration(value); err == nil {
			return d
		}
		return nil
	}
	return value
}

func parseBool(value string) (bool, bool) {
	switch strings.ToLower(value) {
	case "true", "yes", "1":
		return true, true
	case "false", "no", "0":
		return false, true
	}
	return false, false
}

func parseTime(value string) (time.Time, bool) {
	t, err := columns.ParseDatetime(value, nil)
	return t, err == nil
}

// detectColumnTypes samples data to determine the type of every column.
// Integers win over floats, floats over dates and bools, anything else is
// a string.
func detectColumnTypes(headers []string, dataRows [][]string, sampleSize int, configs map[string]ColumnSource) []ColumnType {
	types := make([]ColumnType, len(headers))
	rowsToSample := min(sampleSize, len(dataRows))

	for i, header := range headers {
		if config, ok := configs[header]; ok && config.Type != ColumnTypeAuto {
			types[i] = config.Type
			continue
		}

		isInt, isFloat, isBool, isTime := true, true, true, true
		hasNonEmpty := false
		for j := 0; j < rowsToSample; j++ {
			if i >= len(dataRows[j]) {
				continue
			}
			value := strings.TrimSpace(dataRows[j][i])
			if value == "" {
				continue
			}
			hasNonEmpty = true
			if isInt {
				if _, err := strconv.ParseInt(value, 10, 64); err != nil {
					isInt = false
				}
			}
			if isFloat {
				if _, err := strconv.ParseFloat(value, 64); err != nil {
					isFloat = false
				}
			}
			if isBool {
				if _, ok := parseBool(value); !ok || value == "0" || value == "1" {
					isBool = false
				}
			}
			if isTime {
				if _, ok := parseTime(value); !ok {
					isTime = false
				}
			}
		}

		switch {
		case !hasNonEmpty:
			types[i] = ColumnTypeString
		case isInt:
			types[i] = ColumnTypeInt64
		case isFloat:
			types[i] = ColumnTypeFloat64
		case isBool:
			types[i] = ColumnTypeBool
		case isTime:
			types[i] = ColumnTypeDatetime
		default:
			types[i] = ColumnTypeString
		}
	}
	return types
}

// getColumnSource returns the config for a column, or an empty config if not specified
func getColumnSource(header string, configs map[string]ColumnSource) ColumnSource {
	if config, ok := configs[header]; ok {
		return config
	}
	return ColumnSource{}
}
