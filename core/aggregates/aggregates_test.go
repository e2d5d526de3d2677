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
	"testing"

	"github.com/google/rowmodel/core/columns"
	"github.com/google/rowmodel/core/diag"
	"github.com/google/rowmodel/core/rows"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testColumns() *columns.Set {
	return columns.MustSet(
		&columns.Column{ID: "country"},
		&columns.Column{ID: "year"},
		&columns.Column{ID: "medals", Type: columns.TypeNumber, AggFunc: Sum},
	)
}

// buildTree groups leaves by country and then year.
func buildTree(records []rows.Record) (*rows.Node, []*rows.Node) {
	root := rows.NewRoot()
	groups := map[string]*rows.Node{}
	var leaves []*rows.Node
	for i, r := range records {
		c := r["country"].(string)
		y := columns.KeyString(r["year"])
		cg, ok := groups[c]
		if !ok {
			cg = rows.NewGroup("group:country="+c, "country", c)
			groups[c] = cg
			root.AddChild(cg)
		}
		yid := cg.ID() + "/year=" + y
		yg, ok := groups[yid]
		if !ok {
			yg = rows.NewGroup(yid, "year", r["year"])
			groups[yid] = yg
			cg.AddChild(yg)
		}
		leaf := rows.NewLeaf(columns.KeyString(i), r, i)
		yg.AddChild(leaf)
		leaves = append(leaves, leaf)
	}
	return root, leaves
}

func medals() []rows.Record {
	return []rows.Record{
		{"country": "US", "year": 2008, "medals": 3},
		{"country": "US", "year": 2008, "medals": 2},
		{"country": "US", "year": 2012, "medals": 1},
		{"country": "RU", "year": 2008, "medals": 1},
	}
}

func newStage(t *testing.T) (*Stage, *diag.Collector) {
	t.Helper()
	c := &diag.Collector{}
	return NewStage(NewRegistry(nil), testColumns(), diag.NewReporter(c.Handle, nil), nil), c
}

func aggregateOf(t *testing.T, n *rows.Node, col string) any {
	t.Helper()
	v, ok := n.Aggregate(col)
	require.True(t, ok, "no aggregate %q on %s", col, n.ID())
	return v
}

func TestSumOverGroups(t *testing.T) {
	s, _ := newStage(t)
	root, _ := buildTree(medals())
	s.Aggregate(root, Plan{Targets: []Target{{ID: "medals", Column: "medals", Func: Sum}}})

	us := root.GroupedChildren()[0]
	assert.Equal(t, 6.0, aggregateOf(t, us, "medals"))
	assert.Equal(t, 5.0, aggregateOf(t, us.GroupedChildren()[0], "medals"))
	assert.Equal(t, 1.0, aggregateOf(t, us.GroupedChildren()[1], "medals"))
	assert.Equal(t, 1.0, aggregateOf(t, root.GroupedChildren()[1], "medals"))
	assert.Equal(t, 7.0, aggregateOf(t, root, "medals"))

	_, ok := us.GroupedChildren()[0].GroupedChildren()[0].Aggregate("medals")
	assert.False(t, ok, "leaves carry no aggregates")
}

func TestAverageIsNotAverageOfAverages(t *testing.T) {
	s, _ := newStage(t)
	root, _ := buildTree(medals())
	s.Aggregate(root, Plan{Targets: []Target{{ID: "medals", Column: "medals", Func: Avg}}})

	us := root.GroupedChildren()[0]
	// (3+2+1)/3, not (2.5+1)/2.
	assert.Equal(t, 2.0, aggregateOf(t, us, "medals"))
	assert.Equal(t, 7.0/4, aggregateOf(t, root, "medals"))
}

func TestBuiltinFunctions(t *testing.T) {
	records := []rows.Record{
		{"country": "US", "year": 2008, "medals": 3},
		{"country": "US", "year": 2008, "medals": nil},
		{"country": "US", "year": 2012, "medals": 1},
	}
	tests := []struct {
		fn   string
		want any
	}{
		{Sum, 4.0},
		{Min, 1},
		{Max, 3},
		{Count, int64(3)},
		{Avg, 2.0},
		{First, 3},
		{Last, 1},
	}
	for _, tt := range tests {
		t.Run(tt.fn, func(t *testing.T) {
			s, _ := newStage(t)
			root, _ := buildTree(records)
			s.Aggregate(root, Plan{Targets: []Target{{ID: "medals", Column: "medals", Func: tt.fn}}})
			assert.Equal(t, tt.want, aggregateOf(t, root, "medals"))
		})
	}
}

func TestEmptyGroup(t *testing.T) {
	s, _ := newStage(t)
	root := rows.NewRoot()
	s.Aggregate(root, Plan{Targets: []Target{
		{ID: "sum", Column: "medals", Func: Sum},
		{ID: "count", Column: "medals", Func: Count},
		{ID: "min", Column: "medals", Func: Min},
	}})
	assert.Nil(t, aggregateOf(t, root, "sum"))
	assert.Equal(t, int64(0), aggregateOf(t, root, "count"))
	assert.Nil(t, aggregateOf(t, root, "min"))
}

func TestUnknownFunctionReportedOnce(t *testing.T) {
	s, c := newStage(t)
	root, _ := buildTree(medals())
	plan := Plan{Targets: []Target{
		{ID: "medals", Column: "medals", Func: "median"},
		{ID: "n", Column: "medals", Func: Count},
	}}
	s.Aggregate(root, plan)
	s.Aggregate(root, plan)

	assert.Equal(t, 1, c.Count(diag.UnknownAggFunc))
	_, ok := root.Aggregate("medals")
	assert.False(t, ok)
	assert.Equal(t, int64(4), aggregateOf(t, root, "n"))
}

func TestCustomFunction(t *testing.T) {
	s, _ := newStage(t)
	s.registry.Register("distinct", Custom(func(values []any, ctx Context) any {
		seen := map[any]bool{}
		for _, v := range values {
			seen[v] = true
		}
		return len(seen)
	}))
	root, _ := buildTree(medals())
	s.Aggregate(root, Plan{Targets: []Target{{ID: "years", Column: "year", Func: "distinct"}}})
	assert.Equal(t, 2, aggregateOf(t, root, "years"))
	assert.Equal(t, 1, aggregateOf(t, root.GroupedChildren()[1], "years"))
}

func TestRootTotalIndependentOfGrouping(t *testing.T) {
	s, _ := newStage(t)
	plan := Plan{Targets: []Target{{ID: "medals", Column: "medals", Func: Sum}}}

	grouped, _ := buildTree(medals())
	s.Aggregate(grouped, plan)

	flat := rows.NewRoot()
	for i, r := range medals() {
		flat.AddChild(rows.NewLeaf(columns.KeyString(i), r, i))
	}
	s.Aggregate(flat, plan)

	assert.Equal(t, aggregateOf(t, flat, "medals"), aggregateOf(t, grouped, "medals"))
}

func TestRefreshMatchesFullPass(t *testing.T) {
	plan := Plan{Targets: []Target{
		{ID: "sum", Column: "medals", Func: Sum},
		{ID: "avg", Column: "medals", Func: Avg},
		{ID: "max", Column: "medals", Func: Max},
	}}
	s, _ := newStage(t)

	incremental, leaves := buildTree(medals())
	s.Aggregate(incremental, plan)
	leaves[1].SetData(rows.Record{"country": "US", "year": 2008, "medals": 10})
	leaves[3].SetData(rows.Record{"country": "RU", "year": 2008, "medals": 4})
	s.Refresh(plan, leaves[1], leaves[3])

	updated := medals()
	updated[1]["medals"] = 10
	updated[3]["medals"] = 4
	full, _ := buildTree(updated)
	s.Aggregate(full, plan)

	var want, got []map[string]any
	rows.VisitSubtree(full, func(n *rows.Node) bool {
		want = append(want, n.Aggregates())
		return true
	})
	rows.VisitSubtree(incremental, func(n *rows.Node) bool {
		got = append(got, n.Aggregates())
		return true
	})
	assert.Equal(t, want, got)
	assert.Equal(t, 18.0, aggregateOf(t, incremental, "sum"))
}

func TestPivotTargets(t *testing.T) {
	s, _ := newStage(t)
	root, _ := buildTree(medals())
	plan := Plan{
		PivotColumns: []string{"year"},
		Targets: []Target{
			{ID: "pivot_2008_medals", Column: "medals", Func: Sum, PivotKey: "2008", Pivoted: true},
			{ID: "pivot_2012_medals", Column: "medals", Func: Sum, PivotKey: "2012", Pivoted: true},
			{ID: "pivot_2012_n", Column: "medals", Func: Count, PivotKey: "2012", Pivoted: true},
		},
	}
	s.Aggregate(root, plan)

	us, ru := root.GroupedChildren()[0], root.GroupedChildren()[1]
	assert.Equal(t, 5.0, aggregateOf(t, us, "pivot_2008_medals"))
	assert.Equal(t, 1.0, aggregateOf(t, us, "pivot_2012_medals"))
	assert.Equal(t, 1.0, aggregateOf(t, ru, "pivot_2008_medals"))
	assert.Nil(t, aggregateOf(t, ru, "pivot_2012_medals"))
	assert.Equal(t, int64(0), aggregateOf(t, ru, "pivot_2012_n"))
}

func TestValueTargetsUseColumnDefault(t *testing.T) {
	targets := ValueTargets(testColumns(), map[string]string{"medals": "", "year": Max})
	assert.Equal(t, []Target{
		{ID: "medals", Column: "medals", Func: Sum},
		{ID: "year", Column: "year", Func: Max},
	}, targets)
}

func TestPivotKey(t *testing.T) {
	cols := testColumns()
	r := rows.Record{"country": "p_q", "year": 2008}

	assert.Equal(t, "p%5Fq_2008", PivotKey(cols, []string{"country", "year"}, r))
	assert.Equal(t, "2008", PivotKey(cols, []string{"year", "bogus"}, r), "undefined columns are skipped")
	assert.NotEqual(t, JoinPivotKey([]any{"p_q", "r"}), JoinPivotKey([]any{"p", "q_r"}))
	assert.Equal(t, "a%2Fb_%25", JoinPivotKey([]any{"a/b", "%"}))
}
