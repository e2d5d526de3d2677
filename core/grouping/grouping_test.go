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
		&columns.Column{ID: "medals", AggFunc: "sum"},
		&columns.Column{ID: "decade", Field: "year", KeyFunc: func(v any) any { return v.(int) / 10 * 10 }},
	)
}

func leaves(records ...rows.Record) []*rows.Node {
	out := make([]*rows.Node, len(records))
	for i, r := range records {
		out[i] = rows.NewLeaf(columns.KeyString(i), r, i)
	}
	return out
}

func olympics() []*rows.Node {
	return leaves(
		rows.Record{"country": "US", "year": 2008, "medals": 3},
		rows.Record{"country": "FR", "year": 2008, "medals": 2},
		rows.Record{"country": "US", "year": 2012, "medals": 1},
		rows.Record{"country": "US", "year": 2008, "medals": 5},
		rows.Record{"country": "GB", "year": 2012, "medals": 4},
	)
}

func ids(nodes []*rows.Node) []string {
	out := make([]string, len(nodes))
	for i, n := range nodes {
		out[i] = n.ID()
	}
	return out
}

func newStage(opts Options) (*Stage, *diag.Collector) {
	c := &diag.Collector{}
	return NewStage(testColumns(), opts, diag.NewReporter(c.Handle, nil), nil), c
}

func TestGroupRowsFirstSeenOrder(t *testing.T) {
	s, _ := newStage(Options{})
	root := rows.NewRoot()
	s.GroupRows(root, olympics(), []string{"country", "year"})

	assert.Equal(t, []string{"group:country=US", "group:country=FR", "group:country=GB"}, ids(root.GroupedChildren()))
	us := root.GroupedChildren()[0]
	assert.Equal(t, []string{"group:country=US/year=2008", "group:country=US/year=2012"}, ids(us.GroupedChildren()))
	assert.Equal(t, []string{"0", "3"}, ids(us.GroupedChildren()[0].GroupedChildren()))

	assert.Equal(t, 0, us.Level())
	assert.Equal(t, 1, us.GroupedChildren()[0].Level())
	assert.Equal(t, 2, us.GroupedChildren()[0].GroupedChildren()[0].Level())
	assert.Equal(t, []any{"US", 2008}, us.GroupedChildren()[0].GroupedChildren()[0].Route())
	assert.Equal(t, "year", us.GroupedChildren()[0].GroupColumn())
	assert.Equal(t, 7, s.Groups())
}

func TestGroupRowsKeyFunc(t *testing.T) {
	s, _ := newStage(Options{})
	root := rows.NewRoot()
	s.GroupRows(root, leaves(
		rows.Record{"year": 2008},
		rows.Record{"year": 2012},
		rows.Record{"year": 2001},
	), []string{"decade"})

	require.Len(t, root.GroupedChildren(), 2)
	assert.Equal(t, 2000, root.GroupedChildren()[0].GroupKey())
	assert.Equal(t, []string{"0", "2"}, ids(root.GroupedChildren()[0].GroupedChildren()))
}

func TestGroupRowsNoColumns(t *testing.T) {
	s, c := newStage(Options{})
	root := rows.NewRoot()
	ls := olympics()
	s.GroupRows(root, ls, []string{"height"})

	assert.Equal(t, ids(ls), ids(root.GroupedChildren()))
	assert.Equal(t, 1, c.Count(diag.UnknownColumn))
	assert.Equal(t, 0, ls[0].Level())
}

func TestGroupRowsReusesGroups(t *testing.T) {
	s, _ := newStage(Options{})
	root := rows.NewRoot()
	ls := olympics()
	s.GroupRows(root, ls, []string{"country"})
	us := root.GroupedChildren()[0]
	us.SetExpanded(true)

	// Regroup with FR filtered out.
	s.GroupRows(root, []*rows.Node{ls[0], ls[2], ls[3], ls[4]}, []string{"country"})
	assert.Same(t, us, root.GroupedChildren()[0])
	assert.True(t, us.Expanded())
	assert.Equal(t, []string{"0", "2", "3"}, ids(us.GroupedChildren()))
	assert.Equal(t, []string{"group:country=US", "group:country=GB"}, ids(root.GroupedChildren()))

	fr, ok := s.Group("group:country=FR")
	assert.False(t, ok)
	assert.Nil(t, fr)
	assert.Nil(t, ls[1].Parent())
}

func TestDefaultExpanded(t *testing.T) {
	tests := []struct {
		levels int
		want   []bool
	}{
		{0, []bool{false, false}},
		{1, []bool{true, false}},
		{-1, []bool{true, true}},
	}
	for _, tt := range tests {
		s, _ := newStage(Options{DefaultExpanded: tt.levels})
		root := rows.NewRoot()
		s.GroupRows(root, olympics(), []string{"country", "year"})
		us := root.GroupedChildren()[0]
		assert.Equal(t, tt.want, []bool{us.Expanded(), us.GroupedChildren()[0].Expanded()}, "levels %d", tt.levels)
	}
}

func TestInitialGroupOrder(t *testing.T) {
	s, _ := newStage(Options{InitialGroupOrder: BySubtreeSize})
	root := rows.NewRoot()
	s.GroupRows(root, leaves(
		rows.Record{"country": "FR"},
		rows.Record{"country": "US"},
		rows.Record{"country": "GB"},
		rows.Record{"country": "US"},
	), []string{"country"})
	// Ties keep first-seen order.
	assert.Equal(t, []string{"group:country=US", "group:country=FR", "group:country=GB"}, ids(root.GroupedChildren()))
}

func TestGroupIDsEscapeKeys(t *testing.T) {
	s, _ := newStage(Options{})
	root := rows.NewRoot()
	s.GroupRows(root, leaves(rows.Record{"country": "a/b"}, rows.Record{"country": nil}), []string{"country"})
	assert.Equal(t, []string{"group:country=a%2Fb", "group:country=%3Cnil%3E"}, ids(root.GroupedChildren()))
}

func pathEntries(paths ...[]string) []Entry {
	entries := make([]Entry, len(paths))
	for i, p := range paths {
		entries[i] = Entry{Node: rows.NewLeaf(columns.KeyString(i), rows.Record{"name": p[len(p)-1]}, i), Path: p}
	}
	return entries
}

func TestBuildTree(t *testing.T) {
	s, c := newStage(Options{DefaultExpanded: -1})
	root := rows.NewRoot()
	entries := pathEntries(
		[]string{"erica", "malcolm"},
		[]string{"erica"},
		[]string{"erica", "malcolm", "esther"},
		[]string{"robert", "brittany"},
		[]string{},
		[]string{"erica"},
	)
	dropped := s.BuildTree(root, entries)

	assert.Equal(t, []string{"4", "5"}, ids(dropped))
	assert.Equal(t, 2, c.Count(diag.MalformedHierarchy))

	require.Equal(t, []string{"1", "filler:robert"}, ids(root.GroupedChildren()))
	erica := root.GroupedChildren()[0]
	assert.Equal(t, rows.KindGroup, erica.Kind())
	assert.Equal(t, rows.Record{"name": "erica"}, erica.Data(), "promoted rows keep their data")
	assert.Equal(t, []string{"0"}, ids(erica.GroupedChildren()))
	assert.Equal(t, []string{"2"}, ids(entries[0].Node.GroupedChildren()))
	assert.Equal(t, 2, entries[2].Node.Level())
	assert.Equal(t, rows.KindLeaf, entries[2].Node.Kind())

	robert := root.GroupedChildren()[1]
	assert.Nil(t, robert.Data())
	assert.Equal(t, "robert", robert.GroupKey())
	assert.True(t, robert.Expanded())
	assert.Equal(t, []string{"3"}, ids(robert.GroupedChildren()))
}

func TestBuildTreeRebuildDemotes(t *testing.T) {
	s, _ := newStage(Options{})
	root := rows.NewRoot()
	entries := pathEntries([]string{"a"}, []string{"a", "b"})
	s.BuildTree(root, entries)
	a := entries[0].Node
	require.Equal(t, rows.KindGroup, a.Kind())
	a.SetExpanded(true)

	s.BuildTree(root, entries)
	assert.True(t, a.Expanded(), "expansion survives rebuilds")

	s.BuildTree(root, entries[:1])
	assert.Equal(t, rows.KindLeaf, a.Kind())
	assert.Empty(t, a.GroupedChildren())
}

func TestUnnest(t *testing.T) {
	c := &diag.Collector{}
	records := []rows.Record{
		{"id": "a", "children": []any{
			rows.Record{"id": "b"},
			rows.Record{"id": "c", "children": []rows.Record{{"id": "d"}}},
			"bogus",
		}},
		{"id": "e", "children": "nope"},
	}
	out := Unnest(records, "children", rows.FieldID("id"), diag.NewReporter(c.Handle, nil))

	var paths [][]string
	for _, n := range out {
		paths = append(paths, n.Path)
		assert.NotContains(t, n.Record, "children")
	}
	assert.Equal(t, [][]string{{"a"}, {"a", "b"}, {"a", "c"}, {"a", "c", "d"}, {"e"}}, paths)
	assert.Equal(t, 2, c.Count(diag.MalformedHierarchy))
	assert.Contains(t, records[0], "children", "input records are not modified")
}

func TestPivot(t *testing.T) {
	s, _ := newStage(Options{})
	keys := s.CollectPivotKeys(olympics(), []string{"year", "country"})
	assert.Equal(t, [][]any{{2008, "FR"}, {2008, "US"}, {2012, "GB"}, {2012, "US"}}, keys)

	cols := PivotColumns(keys[:2], map[string]string{"medals": "sum", "year": "count"})
	require.Len(t, cols, 4)
	assert.Equal(t, "pivot_2008_FR_medals", cols[0].ID)
	assert.Equal(t, "pivot_2008_FR_year", cols[1].ID)
	assert.Equal(t, "2008 / FR / medals", cols[0].HeaderName())

	target := cols[2].Target()
	assert.Equal(t, "pivot_2008_US_medals", target.ID)
	assert.Equal(t, "2008_US", target.PivotKey)
	assert.True(t, target.Pivoted)
	assert.Equal(t, "sum", target.Func)

	assert.Nil(t, s.CollectPivotKeys(olympics(), nil))
}

func TestPivotKeysContainingSeparator(t *testing.T) {
	s, _ := newStage(Options{})
	keys := s.CollectPivotKeys(leaves(
		rows.Record{"country": "p_q", "year": "r"},
		rows.Record{"country": "p", "year": "q_r"},
	), []string{"country", "year"})
	require.Len(t, keys, 2)

	cols := PivotColumns(keys, map[string]string{"medals": "sum"})
	require.Len(t, cols, 2)
	assert.Equal(t, "pivot_p_q%5Fr_medals", cols[0].ID)
	assert.Equal(t, "pivot_p%5Fq_r_medals", cols[1].ID)
	assert.NotEqual(t, cols[0].PivotKey, cols[1].PivotKey)
}

func TestPivotOnUndefinedColumn(t *testing.T) {
	s, c := newStage(Options{})
	keys := s.CollectPivotKeys(olympics(), []string{"year", "bogus"})
	assert.Equal(t, [][]any{{2008}, {2012}}, keys)

	all := c.All()
	require.Len(t, all, 1)
	assert.Equal(t, diag.UnknownColumn, all[0].Kind)
	assert.Equal(t, "bogus", all[0].Column)
	assert.Equal(t, "pivot on an undefined column", all[0].Message)
}
