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

package datasources

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/rowmodel/core/columns"
)

// SQLiteLoader implements Loader for SQLite tables.
//
// Required config keys:
//   - file_path: Path to the database file
//   - table: Table name
type SQLiteLoader struct {
	logger *slog.Logger
}

// NewSQLiteLoader creates a new SQLite loader.
func NewSQLiteLoader(logger *slog.Logger) *SQLiteLoader { return &SQLiteLoader{logger: logger} }

// SourceType returns "sqlite".
func (l *SQLiteLoader) SourceType() string { return "sqlite" }

// Open opens the configured table as a paged source.
func (l *SQLiteLoader) Open(ctx context.Context, config map[string]string) (*SQLiteSource, error) {
	filePath, table := config["file_path"], config["table"]
	if filePath == "" || table == "" {
		return nil, fmt.Errorf("file_path and table are required")
	}
	return OpenSQLite(ctx, filePath, table, l.logger)
}

// Load reads the whole table.
func (l *SQLiteLoader) Load(ctx context.Context, config map[string]string) (*Table, error) {
	src, err := l.Open(ctx, config)
	if err != nil {
		return nil, err
	}
	defer func() { _ = src.Close() }()

	records, err := src.LoadAll(ctx)
	if err != nil {
		return nil, err
	}
	cols, err := columns.NewSet()
	if err != nil {
		return nil, err
	}
	for _, name := range src.Columns() {
		if err := cols.Add(&columns.Column{ID: name}); err != nil {
			return nil, fmt.Errorf("table %q: %w", config["table"], err)
		}
	}
	return &Table{Records: records, Columns: cols}, nil
}
