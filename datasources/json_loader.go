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
	"io"
	"os"

	"github.com/google/rowmodel/core/columns"
	"github.com/google/rowmodel/core/rows"
	"github.com/ohler55/ojg/jp"
	"github.com/ohler55/ojg/oj"
)

// JSONLoader implements Loader for JSON files holding an array of objects.
//
// Required config keys:
//   - file_path: Path to the JSON file
//
// Optional config keys:
//   - records: JSONPath selecting the array inside the document (e.g. "$.data")
type JSONLoader struct{}

// NewJSONLoader creates a new JSON loader.
func NewJSONLoader() *JSONLoader { return &JSONLoader{} }

// SourceType returns "json".
func (l *JSONLoader) SourceType() string { return "json" }

// Load loads a JSON file. Columns are inferred from the records' keys.
func (l *JSONLoader) Load(_ context.Context, config map[string]string) (*Table, error) {
	filePath := config["file_path"]
	if filePath == "" {
		return nil, fmt.Errorf("file_path is required")
	}
	f, err := os.Open(filePath) //nolint:gosec // User-specified data path
	if err != nil {
		return nil, fmt.Errorf("failed to open JSON file: %w", err)
	}
	defer f.Close()

	records, err := LoadJSON(f, config["records"])
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", filePath, err)
	}
	return &Table{Records: records, Columns: columns.InferSet(records)}, nil
}

// LoadJSON parses an array of JSON objects. path optionally selects the
// array inside a larger document. Numbers without a fraction become int64.
func LoadJSON(r io.Reader, path string) ([]rows.Record, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read json: %w", err)
	}
	doc, err := oj.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parse json: %w", err)
	}
	if path != "" {
		x, err := jp.ParseString(path)
		if err != nil {
			return nil, fmt.Errorf("records path %q: %w", path, err)
		}
		found := x.Get(doc)
		if len(found) == 0 {
			return nil, fmt.Errorf("records path %q matched nothing", path)
		}
		doc = found[0]
	}

	list, ok := doc.([]any)
	if !ok {
		return nil, fmt.Errorf("expected an array of objects, got %T", doc)
	}
	records := make([]rows.Record, len(list))
	for i, item := range list {
		m, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("element %d: expected an object, got %T", i, item)
		}
		records[i] = m
	}
	return records, nil
}
