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

// Package demo provides embedded data sets for the CLI and for tests.
package demo

import (
	_ "embed"
	"fmt"
	"strings"

	"github.com/google/rowmodel/core/csvimport"
	"github.com/google/rowmodel/datasources"
)

//go:embed data/medals.csv
var medalsCSV string

//go:embed data/annotations.yaml
var annotations string

var tableOptions map[string]csvimport.ImportOptions

func init() {
	var err error
	tableOptions, err = csvimport.OptionsMapFromYAML([]byte(annotations))
	if err != nil {
		panic(fmt.Sprintf("failed to parse annotations: %v", err))
	}
}

// importTable is a helper function to import a CSV table using pre-parsed annotations
func importTable(name, csv string) *datasources.Table {
	options, ok := tableOptions[name]
	if !ok {
		panic(fmt.Sprintf("no annotations found for table %s", name))
	}

	res, err := csvimport.ImportFromReader(strings.NewReader(csv), options)
	if err != nil {
		panic(fmt.Sprintf("failed to import %s CSV: %v", name, err))
	}
	return &datasources.Table{Records: res.Records, Columns: res.Columns}
}

// Medals returns a fresh copy of the olympic medals table: one row per
// athlete and games with gold, silver, bronze and total medal counts.
func Medals() *datasources.Table {
	return importTable("medals", medalsCSV)
}
