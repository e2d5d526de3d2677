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

package grouping

import (
	"maps"
	"slices"
	"strings"

	"github.com/google/rowmodel/core/aggregates"
	"github.com/google/rowmodel/core/columns"
	"github.com/google/rowmodel/core/rows"
)

// PivotColumn is a synthetic result column for one pivot key and one value
// column.
type PivotColumn struct {
	ID string
	// Keys holds one key per pivot column.
	Keys        []any
	PivotKey    string
	ValueColumn string
	AggFunc     string
}

// HeaderName returns a readable header, e.g. "2008 / medals".
func (p PivotColumn) HeaderName() string {
	parts := make([]string, 0, len(p.Keys)+1)
	for _, k := range p.Keys {
		parts = append(parts, columns.KeyString(k))
	}
	return strings.Join(append(parts, p.ValueColumn), " / ")
}

// Target returns the aggregation target filling the column.
func (p PivotColumn) Target() aggregates.Target {
	return aggregates.Target{ID: p.ID, Column: p.ValueColumn, Func: p.AggFunc, PivotKey: p.PivotKey, Pivoted: true}
}

// CollectPivotKeys returns the distinct pivot key tuples of the leaves,
// ordered by the pivot columns' comparators.
func (s *Stage) CollectPivotKeys(leaves []*rows.Node, pivotCols []string) [][]any {
	cols := s.validColumns(pivotCols, "pivot on an undefined column")
	if len(cols) == 0 {
		return nil
	}
	seen := make(map[string]struct{})
	var keys [][]any
	for _, l := range leaves {
		tuple := make([]any, len(cols))
		for i, c := range cols {
			tuple[i] = c.KeyOf(l.Data())
		}
		ks := aggregates.JoinPivotKey(tuple)
		if _, dup := seen[ks]; dup {
			continue
		}
		seen[ks] = struct{}{}
		keys = append(keys, tuple)
	}
	slices.SortStableFunc(keys, func(a, b []any) int {
		for i, c := range cols {
			if r := s.cols.Compare(c.ID, a[i], b[i]); r != 0 {
				return r
			}
		}
		return 0
	})
	return keys
}

// PivotColumns produces one column per pivot key and value column. valueCols
// maps value columns to aggregation function names.
func PivotColumns(keys [][]any, valueCols map[string]string) []PivotColumn {
	names := slices.Sorted(maps.Keys(valueCols))
	out := make([]PivotColumn, 0, len(keys)*len(names))
	for _, k := range keys {
		pk := aggregates.JoinPivotKey(k)
		for _, v := range names {
			out = append(out, PivotColumn{
				ID:          "pivot_" + pk + "_" + v,
				Keys:        k,
				PivotKey:    pk,
				ValueColumn: v,
				AggFunc:     valueCols[v],
			})
		}
	}
	return out
}
