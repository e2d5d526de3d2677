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
	"path/filepath"
	"strings"

	"github.com/google/rowmodel/core/csvimport"
)

// CsvLoader implements Loader for CSV files. Column types are detected from
// the data.
//
// Required config keys:
//   - file_path: Path to the CSV file
//
// Optional config keys:
//   - has_header: "true" or "false" (default: "true")
//   - delimiter: Field delimiter (default: ",")
type CsvLoader struct{}

// NewCsvLoader creates a new CSV loader.
func NewCsvLoader() *CsvLoader {
	return &CsvLoader{}
}

// SourceType returns "csv".
func (l *CsvLoader) SourceType() string {
	return "csv"
}

// Load loads a CSV file.
func (l *CsvLoader) Load(_ context.Context, config map[string]string) (*Table, error) {
	filePath := config["file_path"]
	if filePath == "" {
		return nil, fmt.Errorf("file_path is required")
	}

	options := csvimport.DefaultOptions()
	if h := config["has_header"]; h == "false" {
		options.HasHeader = false
	}
	if d := config["delimiter"]; d != "" {
		options.Delimiter = []rune(d)[0]
	}
	return LoadCSV(filePath, options)
}

// LoadCSV imports a CSV file into a table.
func LoadCSV(path string, options csvimport.ImportOptions) (*Table, error) {
	res, err := csvimport.ImportFromFile(path, options)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", path, err)
	}
	return &Table{Records: res.Records, Columns: res.Columns}, nil
}

// IsCSV reports whether path names a CSV file.
func IsCSV(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".csv")
}
