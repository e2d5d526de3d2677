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

// Package query holds the descriptors of a grid's view state: sort model,
// filter model, row grouping, pivoting, aggregation and expansion. The state
// is a thin snapshot that can be saved to and restored from YAML or URL
// query parameters.
package query

import (
	"cmp"
	"errors"
	"fmt"
	"maps"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// ErrInvalidState is wrapped by every validation error.
var ErrInvalidState = errors.New("invalid grid state")

// Direction is a sort direction.
type Direction string

const (
	Asc  Direction = "asc"
	Desc Direction = "desc"
)

// SortSpec sorts by one column. Order ranks the spec among multiple sorts;
// specs with equal Order keep their list position.
type SortSpec struct {
	Column    string    `yaml:"column"`
	Direction Direction `yaml:"direction"`
	Order     int       `yaml:"order,omitempty"`
}

// Filter types understood by the filtering package.
const (
	FilterText       = "text"
	FilterNumber     = "number"
	FilterSet        = "set"
	FilterExpression = "expression"
)

// FilterSpec describes one column filter.
type FilterSpec struct {
	Type       string `yaml:"type"`
	Op         string `yaml:"op,omitempty"`
	Value      any    `yaml:"value,omitempty"`
	ValueTo    any    `yaml:"value_to,omitempty"`
	Values     []any  `yaml:"values,omitempty"`
	Expression string `yaml:"expression,omitempty"`
}

// State is the complete view state of a grid.
type State struct {
	Version      int                   `yaml:"version"`
	Filters      map[string]FilterSpec `yaml:"filters,omitempty"`
	QuickFilter  string                `yaml:"quick_filter,omitempty"`
	Sort         []SortSpec            `yaml:"sort,omitempty"`
	GroupBy      []string              `yaml:"group_by,omitempty"`
	Pivot        []string              `yaml:"pivot,omitempty"`
	PivotMode    bool                  `yaml:"pivot_mode,omitempty"`
	Aggregations map[string]string     `yaml:"aggregations,omitempty"` // column -> function name
	Expanded     []string              `yaml:"expanded,omitempty"`     // row ids
}

// CurrentVersion is the state format version written by Marshal.
const CurrentVersion = 1

// ParseState reads and parses a state file.
func ParseState(path string) (*State, error) {
	data, err := os.ReadFile(path) //nolint:gosec // User-specified state path
	if err != nil {
		return nil, fmt.Errorf("failed to read state: %w", err)
	}
	return ParseStateBytes(data)
}

// ParseStateBytes parses a YAML state.
func ParseStateBytes(data []byte) (*State, error) {
	var s State
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to parse state: %w", err)
	}
	if s.Version == 0 {
		s.Version = CurrentVersion
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// Marshal renders the state as YAML.
func (s *State) Marshal() ([]byte, error) {
	c := s.Clone()
	c.Version = CurrentVersion
	return yaml.Marshal(c)
}

// Validate checks the descriptors for structural problems. Unknown column
// ids are not checked here; the row model reports them as diagnostics.
func (s *State) Validate() error {
	if s.Version > CurrentVersion {
		return fmt.Errorf("%w: unsupported version %d", ErrInvalidState, s.Version)
	}
	for i, so := range s.Sort {
		if so.Column == "" {
			return fmt.Errorf("%w: sort %d has no column", ErrInvalidState, i)
		}
		if so.Direction != Asc && so.Direction != Desc {
			return fmt.Errorf("%w: sort on %q has direction %q", ErrInvalidState, so.Column, so.Direction)
		}
	}
	if dup := firstDuplicate(s.GroupBy); dup != "" {
		return fmt.Errorf("%w: column %q grouped twice", ErrInvalidState, dup)
	}
	if dup := firstDuplicate(s.Pivot); dup != "" {
		return fmt.Errorf("%w: column %q pivoted twice", ErrInvalidState, dup)
	}
	for col, f := range s.Filters {
		switch f.Type {
		case FilterText, FilterNumber, FilterSet:
		case FilterExpression:
			if f.Expression == "" {
				return fmt.Errorf("%w: expression filter on %q is empty", ErrInvalidState, col)
			}
		default:
			return fmt.Errorf("%w: filter on %q has type %q", ErrInvalidState, col, f.Type)
		}
	}
	return nil
}

// SortedSpecs returns the sort specs ordered by Order, stable.
func (s *State) SortedSpecs() []SortSpec {
	return SortedSpecs(s.Sort)
}

// SortedSpecs orders sort specs by their Order field, keeping list order on
// ties.
func SortedSpecs(specs []SortSpec) []SortSpec {
	out := slices.Clone(specs)
	slices.SortStableFunc(out, func(a, b SortSpec) int { return cmp.Compare(a.Order, b.Order) })
	return out
}

// Clone creates a deep copy of the State
func (s *State) Clone() *State {
	c := &State{
		Version:     s.Version,
		QuickFilter: s.QuickFilter,
		Sort:        slices.Clone(s.Sort),
		GroupBy:     slices.Clone(s.GroupBy),
		Pivot:       slices.Clone(s.Pivot),
		PivotMode:   s.PivotMode,
		Expanded:    slices.Clone(s.Expanded),
	}
	if s.Filters != nil {
		c.Filters = make(map[string]FilterSpec, len(s.Filters))
		for k, f := range s.Filters {
			f.Values = slices.Clone(f.Values)
			c.Filters[k] = f
		}
	}
	if s.Aggregations != nil {
		c.Aggregations = maps.Clone(s.Aggregations)
	}
	return c
}

// IsColumnGrouped checks if a column is in the grouped columns list
func (s *State) IsColumnGrouped(column string) bool {
	return slices.Contains(s.GroupBy, column)
}

// IsExpanded checks if a row id is in the expanded list
func (s *State) IsExpanded(id string) bool {
	return slices.Contains(s.Expanded, id)
}

// SortDirection returns the direction column is sorted in, or "".
func (s *State) SortDirection(column string) Direction {
	for _, so := range s.Sort {
		if so.Column == column {
			return so.Direction
		}
	}
	return ""
}

func firstDuplicate(list []string) string {
	seen := make(map[string]struct{}, len(list))
	for _, v := range list {
		if _, ok := seen[v]; ok {
			return v
		}
		seen[v] = struct{}{}
	}
	return ""
}
