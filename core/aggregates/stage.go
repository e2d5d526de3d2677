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

package aggregates

import (
	"cmp"
	"log/slog"
	"net/url"
	"slices"
	"strings"

	"github.com/google/rowmodel/core/columns"
	"github.com/google/rowmodel/core/diag"
	"github.com/google/rowmodel/core/rows"
)

// Target is one aggregated output column.
type Target struct {
	// ID is the key the result is stored under on each group.
	ID string
	// Column is the value column the leaves contribute.
	Column string
	// Func is the aggregation function name.
	Func string
	// PivotKey restricts contributing leaves to those whose pivot key
	// matches. Only used when Pivoted is set.
	PivotKey string
	Pivoted  bool
}

// Plan is everything the stage needs to aggregate a tree.
type Plan struct {
	Targets []Target
	// PivotColumns are the columns the pivot keys of leaves are built from.
	PivotColumns []string
}

// ValueTargets builds one target per value column, keyed by the column id.
// Columns without a function use the column's default AggFunc.
func ValueTargets(cols *columns.Set, aggs map[string]string) []Target {
	targets := make([]Target, 0, len(aggs))
	for col, fn := range aggs {
		if fn == "" {
			if c, ok := cols.Get(col); ok {
				fn = c.AggFunc
			}
		}
		targets = append(targets, Target{ID: col, Column: col, Func: fn})
	}
	slices.SortFunc(targets, func(a, b Target) int { return cmp.Compare(a.ID, b.ID) })
	return targets
}

// PivotKey builds the pivot key of a record from the pivot column values.
// Undefined pivot columns are skipped.
func PivotKey(cols *columns.Set, pivotCols []string, r rows.Record) string {
	keys := make([]any, 0, len(pivotCols))
	for _, id := range pivotCols {
		if c, ok := cols.Get(id); ok {
			keys = append(keys, c.KeyOf(r))
		}
	}
	return JoinPivotKey(keys)
}

// JoinPivotKey joins the keys of a pivot tuple with "_". Each key is path
// escaped with "_" escaped too, so distinct tuples never share a key.
func JoinPivotKey(keys []any) string {
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = strings.ReplaceAll(url.PathEscape(columns.KeyString(k)), "_", "%5F")
	}
	return strings.Join(parts, "_")
}

// Stage computes aggregate values bottom up.
type Stage struct {
	registry *Registry
	cols     *columns.Set
	diag     *diag.Reporter
	logger   *slog.Logger
}

// NewStage creates the aggregation stage.
func NewStage(registry *Registry, cols *columns.Set, reporter *diag.Reporter, logger *slog.Logger) *Stage {
	if logger == nil {
		logger = slog.Default()
	}
	return &Stage{registry: registry, cols: cols, diag: reporter, logger: logger}
}

type resolved struct {
	Target
	fn  Func
	col *columns.Column
}

type run struct {
	plan      Plan
	targets   []resolved
	pivotKeys map[*rows.Node]string
}

func (s *Stage) resolve(plan Plan) *run {
	r := &run{plan: plan, pivotKeys: make(map[*rows.Node]string)}
	for _, t := range plan.Targets {
		col, ok := s.cols.Get(t.Column)
		if !ok {
			s.diag.Report(diag.Diagnostic{Kind: diag.UnknownColumn, Message: "aggregation on an undefined column", Column: t.Column})
			continue
		}
		fn, ok := s.registry.Lookup(t.Func)
		if !ok {
			s.diag.Report(diag.Diagnostic{Kind: diag.UnknownAggFunc, Message: "unknown aggregation function " + t.Func, Column: t.Column})
			continue
		}
		r.targets = append(r.targets, resolved{Target: t, fn: fn, col: col})
	}
	return r
}

// Aggregate recomputes every group under root, including root itself.
func (s *Stage) Aggregate(root *rows.Node, plan Plan) {
	r := s.resolve(plan)
	s.aggregate(root, r)
	s.logger.Debug("aggregated", "targets", len(r.targets))
}

func (s *Stage) aggregate(n *rows.Node, r *run) {
	for _, c := range n.GroupedChildren() {
		if c.IsGroup() {
			s.aggregate(c, r)
		}
	}
	s.compute(n, r)
}

// Refresh recomputes the aggregates on the ancestor chains of the given
// leaves only. Groups shared by several leaves are computed once, deepest
// first, from their children's stored states.
func (s *Stage) Refresh(plan Plan, leaves ...*rows.Node) {
	r := s.resolve(plan)
	seen := make(map[*rows.Node]struct{})
	var chain []*rows.Node
	for _, leaf := range leaves {
		for _, p := range rows.Ancestors(leaf) {
			if _, ok := seen[p]; ok {
				break
			}
			seen[p] = struct{}{}
			chain = append(chain, p)
		}
	}
	slices.SortStableFunc(chain, func(a, b *rows.Node) int { return cmp.Compare(b.Level(), a.Level()) })
	for _, p := range chain {
		s.compute(p, r)
	}
}

// compute derives the aggregates of one group from its leaves' values and
// its child groups' stored states.
func (s *Stage) compute(n *rows.Node, r *run) {
	n.ClearAggregates()
	for _, t := range r.targets {
		st := t.fn.NewState()
		for _, c := range n.GroupedChildren() {
			if c.Kind() == rows.KindLeaf {
				if t.Pivoted && r.pivotKey(s.cols, c) != t.PivotKey {
					continue
				}
				st.Add(t.col.Value(c.Data()))
				continue
			}
			if child, ok := c.Partial(t.ID).(State); ok {
				st.Combine(child)
			}
		}
		n.SetPartial(t.ID, st)
		n.SetAggregate(t.ID, st.Result(Context{Node: n, Column: t.ID}))
	}
}

func (r *run) pivotKey(cols *columns.Set, leaf *rows.Node) string {
	if k, ok := r.pivotKeys[leaf]; ok {
		return k
	}
	k := PivotKey(cols, r.plan.PivotColumns, leaf.Data())
	r.pivotKeys[leaf] = k
	return k
}
