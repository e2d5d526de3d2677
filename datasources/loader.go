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

// Package datasources loads records from files and databases, and serves
// paged rows to server side row models.
package datasources

import (
	"context"
	"fmt"

	"github.com/google/rowmodel/core/columns"
	"github.com/google/rowmodel/core/rows"
)

// Table is a loaded data set.
type Table struct {
	Records []rows.Record
	Columns *columns.Set
}

// Loader is the interface that all data source loaders must implement.
// CSV, JSON and SQLite loaders are built in; users can register additional
// loaders for databases, APIs, or custom formats.
type Loader interface {
	// SourceType returns the type identifier used in config (e.g. "csv").
	SourceType() string

	// Load retrieves the data. Relative paths in config have already been
	// resolved against the config file's directory.
	Load(ctx context.Context, config map[string]string) (*Table, error)
}

// ParseColumnType maps the type names used in annotations to column types.
func ParseColumnType(name string) (columns.Type, error) {
	switch name {
	case "", "auto":
		return columns.TypeAuto, nil
	case "string":
		return columns.TypeString, nil
	case "number":
		return columns.TypeNumber, nil
	case "date", "datetime":
		return columns.TypeDate, nil
	case "bool":
		return columns.TypeBool, nil
	}
	return columns.TypeAuto, fmt.Errorf("unknown column type %q", name)
}

// Annotate applies display names, aggregation functions and types from
// annotations to the table's columns. Annotations for columns the table does
// not have are ignored.
func Annotate(table *Table, annotations *ColumnAnnotations) error {
	if annotations == nil {
		return nil
	}
	for _, ann := range annotations.Columns {
		col, ok := table.Columns.Get(ann.Name)
		if !ok {
			continue
		}
		if ann.DisplayName != "" {
			col.HeaderName = ann.DisplayName
		}
		if ann.AggFunc != "" {
			col.AggFunc = ann.AggFunc
		}
		if ann.Type != "" {
			t, err := ParseColumnType(ann.Type)
			if err != nil {
				return fmt.Errorf("column %q: %w", ann.Name, err)
			}
			col.Type = t
		}
	}
	return nil
}

// AnnotationsToColumnMap converts ColumnAnnotations to a map for easy lookup by column name.
func AnnotationsToColumnMap(annotations *ColumnAnnotations) map[string]*ColumnAnnotation {
	if annotations == nil {
		return nil
	}
	result := make(map[string]*ColumnAnnotation, len(annotations.Columns))
	for i := range annotations.Columns {
		result[annotations.Columns[i].Name] = &annotations.Columns[i]
	}
	return result
}
