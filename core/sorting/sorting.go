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

// Package sorting orders the displayed children at every level of the row
// tree.
package sorting

import (
	"log/slog"
	"slices"

	"github.com/google/rowmodel/core/columns"
	"github.com/google/rowmodel/core/diag"
	"github.com/google/rowmodel/core/query"
	"github.com/google/rowmodel/core/rows"
)

// Stage sorts siblings.
type Stage struct {
	cols   *columns.Set
	diag   *diag.Reporter
	logger *slog.Logger
}

// NewStage creates a sort stage.
func NewStage(cols *columns.Set, reporter *diag.Reporter, logger *slog.Logger) *Stage {
	if logger == nil {
		logger = slog.Default()
	}
	return &Stage{cols: cols, diag: reporter, logger: logger}
}

// sortColumn is one resolved sort spec.
type sortColumn struct {
	id         string
	col        *columns.Column // nil for the group column and synthetic columns
	descending bool
}

// resolve orders specs and drops the ones on unknown columns. Synthetic
// columns such as pivot results are sorted by aggregate value only.
func (s *Stage) resolve(specs []query.SortSpec, synthetic []string) []sortColumn {
	var out []sortColumn
	for _, spec := range query.SortedSpecs(specs) {
		sc := sortColumn{id: spec.Column, descending: spec.Direction == query.Desc}
		if col, ok := s.cols.Get(spec.Column); ok {
			sc.col = col
		} else if spec.Column != rows.GroupColumnID && !slices.Contains(synthetic, spec.Column) {
			s.diag.Report(diag.Diagnostic{Kind: diag.UnknownColumn, Message: "sort on an undefined column", Column: spec.Column})
			continue
		}
		out = append(out, sc)
	}
	return out
}

// Sort orders the displayed children of every node under root. The
// displayed children must already hold the filtered grouped children in
// grouped order; ties keep that order.
func (s *Stage) Sort(root *rows.Node, specs []query.SortSpec, synthetic ...string) {
	sorts := s.resolve(specs, synthetic)
	if len(sorts) == 0 {
		return
	}
	rows.VisitDisplayed(root, func(n *rows.Node) bool {
		if n.IsGroup() {
			s.sortChildren(n, sorts)
		}
		return true
	})
}

type keyed struct {
	node *rows.Node
	keys []any
}

func (s *Stage) sortChildren(n *rows.Node, sorts []sortColumn) {
	children := n.Children()
	if len(children) < 2 {
		return
	}
	items := make([]keyed, len(children))
	for i, c := range children {
		keys := make([]any, len(sorts))
		for j, sc := range sorts {
			keys[j] = s.value(c, sc)
		}
		items[i] = keyed{node: c, keys: keys}
	}
	slices.SortStableFunc(items, func(a, b keyed) int {
		for j, sc := range sorts {
			id := sc.id
			if id == rows.GroupColumnID {
				id = a.node.GroupColumn()
			}
			r := s.cols.Compare(id, a.keys[j], b.keys[j])
			if r != 0 {
				if sc.descending {
					return -r
				}
				return r
			}
		}
		return 0
	})
	sorted := make([]*rows.Node, len(items))
	for i, it := range items {
		sorted[i] = it.node
	}
	n.SetChildren(sorted)
}

// value returns the sort value of a node for one sort column.
//
// A group sorts by its key on its own grouping column and on the group
// column, and by its aggregate value on any other column. Leaves sort by
// their column value.
func (s *Stage) value(n *rows.Node, sc sortColumn) any {
	if n.Kind() == rows.KindGroup {
		if sc.id == rows.GroupColumnID || sc.id == n.GroupColumn() {
			return n.GroupKey()
		}
		if v, ok := n.Aggregate(sc.id); ok {
			return v
		}
	}
	if sc.col != nil {
		return sc.col.Value(n.Data())
	}
	return nil
}
