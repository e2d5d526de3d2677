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

package csvimport

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// columnSourcesFile is the YAML form of per table import options:
//
//	tables:
//	  medals:
//	    delimiter: ";"
//	    columns:
//	      - name: medals
//	        display_name: Medals
//	        type: int64
//	        agg_func: sum
type columnSourcesFile struct {
	Tables map[string]struct {
		Delimiter string         `yaml:"delimiter,omitempty"`
		NoHeader  bool           `yaml:"no_header,omitempty"`
		Columns   []ColumnSource `yaml:"columns"`
	} `yaml:"tables"`
}

var columnTypeNames = map[string]ColumnType{
	"auto":     ColumnTypeAuto,
	"string":   ColumnTypeString,
	"int64":    ColumnTypeInt64,
	"float64":  ColumnTypeFloat64,
	"bool":     ColumnTypeBool,
	"datetime": ColumnTypeDatetime,
	"duration": ColumnTypeDuration,
}

// UnmarshalYAML reads a column type by name.
func (t *ColumnType) UnmarshalYAML(value *yaml.Node) error {
	var name string
	if err := value.Decode(&name); err != nil {
		return err
	}
	ct, ok := columnTypeNames[name]
	if !ok {
		return fmt.Errorf("line %d: unknown column type %q", value.Line, name)
	}
	*t = ct
	return nil
}

// OptionsMapFromYAML parses per table import options keyed by table name.
func OptionsMapFromYAML(data []byte) (map[string]ImportOptions, error) {
	var f columnSourcesFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse import options: %w", err)
	}
	result := make(map[string]ImportOptions, len(f.Tables))
	for name, t := range f.Tables {
		opts := DefaultOptions()
		opts.HasHeader = !t.NoHeader
		if t.Delimiter != "" {
			r := []rune(t.Delimiter)
			if len(r) != 1 {
				return nil, fmt.Errorf("table %q: delimiter %q is not a single character", name, t.Delimiter)
			}
			opts.Delimiter = r[0]
		}
		for _, c := range t.Columns {
			if c.Name == "" {
				return nil, fmt.Errorf("table %q: column without a name", name)
			}
			opts.ColumnSources[c.Name] = c
		}
		result[name] = opts
	}
	return result, nil
}
