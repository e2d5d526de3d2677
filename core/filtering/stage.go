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

// Package filtering implements the filter stage: column filters, the quick
// filter, and filtering of groups on their aggregate values.
package filtering

import (
	"log/slog"
	"maps"
	"slices"
	"strings"

	"github.com/RoaringBitmap/roaring"
	"github.com/google/rowmodel/core/columns"
	"github.com/google/rowmodel/core/diag"
	"github.com/google/rowmodel/core/query"
	"github.com/google/rowmodel/core/rows"
)

// Model maps column ids to filters.
type Model map[string]Filter

// Split partitions the model into the filters applied to leaves before
// grouping and the filters applied to aggregate values after aggregation.
func (m Model) Split(aggregated func(column string) bool) (pre, post Model) {
	pre, post = Model{}, Model{}
	for col, f := range m {
		if aggregated(col) {
			post[col] = f
		} else {
			pre[col] = f
		}
	}
	return pre, post
}

// FromSpecs builds filters from descriptors. Unknown filter types and
// expressions that do not compile are reported and skipped.
func FromSpecs(specs map[string]query.FilterSpec, reporter *diag.Reporter) Model {
	m := make(Model, len(specs))
	for _, col := range slices.Sorted(maps.Keys(specs)) {
		spec := specs[col]
		switch spec.Type {
		case query.FilterText:
			m[col] = &TextFilter{Op: spec.Op, Pattern: columns.KeyString(orEmpty(spec.Value))}
		case query.FilterNumber:
			f := &NumberFilter{Op: spec.Op}
			f.Value, _ = columns.ToFloat(spec.Value)
			f.To, _ = columns.ToFloat(spec.ValueTo)
			m[col] = f
		case query.FilterSet:
			if spec.Values == nil {
				m[col] = &SetFilter{}
			} else {
				m[col] = NewSetFilter(spec.Values...)
			}
		case query.FilterExpression:
			f, err := NewExpressionFilter(spec.Expression)
			if err != nil {
				reporter.Report(diag.Diagnostic{Kind: diag.UnknownFilterType, Message: "invalid expression filter", Column: col, Err: err})
				continue
			}
			m[col] = f
		default:
			reporter.Report(diag.Diagnostic{Kind: diag.UnknownFilterType, Message: "unknown filter type " + spec.Type, Column: col})
		}
	}
	return m
}

func orEmpty(v any) any {
	if v == nil {
		return ""
	}
	return v
}

// Mode selects when filters on aggregated columns run.
type Mode int

const (
	// PreAggregation filters every column on leaf values before grouping.
	PreAggregation Mode = iota
	// PostAggregation filters aggregated columns on group aggregate values.
	PostAggregation
)

// Options configures a Stage.
type Options struct {
	// QuickFilterColumns are the columns searched by the quick filter.
	// Empty means every column.
	QuickFilterColumns []string
	Mode               Mode
}

// Stage applies filters to rows.
type Stage struct {
	cols   *columns.Set
	opts   Options
	diag   *diag.Reporter
	logger *slog.Logger
}

// NewStage creates a filter stage.
func NewStage(cols *columns.Set, opts Options, reporter *diag.Reporter, logger *slog.Logger) *Stage {
	if logger == nil {
		logger = slog.Default()
	}
	return &Stage{cols: cols, opts: opts, diag: reporter, logger: logger}
}

// Mode returns the configured mode.
func (s *Stage) Mode() Mode { return s.opts.Mode }

// Result is the output of filtering a flat row set.
type Result struct {
	// Rows are the passing rows in input order.
	Rows []*rows.Node
	// Passed holds the source indexes of the passing rows.
	Passed *roaring.Bitmap
}

type columnFilter struct {
	col    *columns.Column
	filter Filter
}

// Compiled is a filter model and quick filter resolved against the columns.
type Compiled struct {
	filters []columnFilter
	terms   []string
	search  []*columns.Column
}

// Compile resolves the active filters of model and the quick filter text.
// Filters on undefined columns are reported and ignored.
func (s *Stage) Compile(model Model, quick string) *Compiled {
	c := &Compiled{terms: QuickTerms(quick)}
	for _, id := range slices.Sorted(maps.Keys(model)) {
		f := model[id]
		if f == nil || !f.IsActive() {
			continue
		}
		col, ok := s.cols.Get(id)
		if !ok {
			s.diag.Report(diag.Diagnostic{Kind: diag.UnknownColumn, Message: "filter on an undefined column", Column: id})
			continue
		}
		c.filters = append(c.filters, columnFilter{col: col, filter: f})
	}
	if len(c.terms) > 0 {
		if len(s.opts.QuickFilterColumns) == 0 {
			c.search = s.cols.All()
		}
		for _, id := range s.opts.QuickFilterColumns {
			if col, ok := s.cols.Get(id); ok {
				c.search = append(c.search, col)
			} else {
				s.diag.Report(diag.Diagnostic{Kind: diag.UnknownColumn, Message: "quick filter on an undefined column", Column: id})
			}
		}
	}
	return c
}

// QuickTerms splits quick filter text into lower case terms.
func QuickTerms(text string) []string {
	return strings.Fields(strings.ToLower(text))
}

// Active reports whether anything is filtered.
func (c *Compiled) Active() bool {
	return len(c.filters) > 0 || len(c.terms) > 0
}

// Passes reports whether a record passes every column filter and the quick
// filter.
func (c *Compiled) Passes(r rows.Record) bool {
	for _, cf := range c.filters {
		if !cf.filter.Passes(cf.col.Value(r), r) {
			return false
		}
	}
	return c.passesQuick(r)
}

// passesQuick requires every term to be found in at least one searched
// column.
func (c *Compiled) passesQuick(r rows.Record) bool {
	if len(c.terms) == 0 {
		return true
	}
	texts := make([]string, len(c.search))
	for i, col := range c.search {
		texts[i] = strings.ToLower(col.Text(r))
	}
	for _, term := range c.terms {
		found := false
		for _, t := range texts {
			if strings.Contains(t, term) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// Apply filters flat leaves. The output keeps the input order.
func (s *Stage) Apply(leaves []*rows.Node, model Model, quick string) Result {
	return s.Compile(model, quick).Apply(leaves)
}

// Apply filters flat leaves with the compiled filters.
func (c *Compiled) Apply(leaves []*rows.Node) Result {
	res := Result{Rows: make([]*rows.Node, 0, len(leaves)), Passed: roaring.New()}
	active := c.Active()
	for _, n := range leaves {
		if active && !c.Passes(n.Data()) {
			continue
		}
		res.Rows = append(res.Rows, n)
		if i := n.SourceIndex(); i >= 0 {
			res.Passed.Add(uint32(i))
		}
	}
	return res
}

// ApplyTree filters hierarchical data in place. A node is kept if its own
// record passes or a descendant is kept; a passing node keeps its whole
// subtree. Rejected nodes are detached from their parents.
func (c *Compiled) ApplyTree(root *rows.Node) Result {
	if c.Active() {
		c.prune(root)
	}
	res := Result{Passed: roaring.New()}
	rows.VisitSubtree(root, func(n *rows.Node) bool {
		if n.Kind() == rows.KindLeaf {
			res.Rows = append(res.Rows, n)
		}
		if i := n.SourceIndex(); i >= 0 {
			res.Passed.Add(uint32(i))
		}
		return true
	})
	return res
}

func (c *Compiled) prune(n *rows.Node) bool {
	if n.Kind() != rows.KindRoot && n.Data() != nil && c.Passes(n.Data()) {
		return true
	}
	kept := false
	for _, child := range slices.Clone(n.GroupedChildren()) {
		if c.prune(child) {
			kept = true
		} else {
			n.RemoveChild(child)
		}
	}
	return kept
}

// ApplyGroups sets the displayed children of every group from its grouped
// children, keeping those that pass the compiled filters on aggregate
// values.
//
// A group is tested on its aggregate values and, when it passes, keeps its
// whole subtree. A failing group is kept only if one of its children is
// kept. Leaves are tested on their own values. With no active filter every
// grouped child is displayed.
func (c *Compiled) ApplyGroups(root *rows.Node) {
	c.filterChildren(root, !c.Active())
}

func (c *Compiled) filterChildren(n *rows.Node, all bool) bool {
	grouped := n.GroupedChildren()
	kept := make([]*rows.Node, 0, len(grouped))
	for _, child := range grouped {
		switch {
		case all:
			if child.IsGroup() {
				c.filterChildren(child, true)
			}
			kept = append(kept, child)
		case child.IsGroup():
			if c.passesGroup(child) {
				c.filterChildren(child, true)
				kept = append(kept, child)
			} else if c.filterChildren(child, false) {
				kept = append(kept, child)
			}
		case child.Data() != nil && c.Passes(child.Data()):
			kept = append(kept, child)
		}
	}
	n.SetChildren(kept)
	return len(kept) > 0
}

func (c *Compiled) passesGroup(g *rows.Node) bool {
	aggs := g.Aggregates()
	for _, cf := range c.filters {
		v, _ := g.Aggregate(cf.col.ID)
		if !cf.filter.Passes(v, aggs) {
			return false
		}
	}
	return true
}
