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

package model

import (
	"maps"
	"math/rand/v2"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/google/rowmodel/core/columns"
	"github.com/google/rowmodel/core/diag"
	"github.com/google/rowmodel/core/filtering"
	"github.com/google/rowmodel/core/flatten"
	"github.com/google/rowmodel/core/grouping"
	"github.com/google/rowmodel/core/query"
	"github.com/google/rowmodel/core/rows"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scenario() []rows.Record {
	return []rows.Record{
		{"country": "US", "medals": 3},
		{"country": "US", "medals": 1},
		{"country": "FR", "medals": 2},
	}
}

func scenarioColumns() *columns.Set {
	return columns.MustSet(
		&columns.Column{ID: "country"},
		&columns.Column{ID: "medals", Type: columns.TypeNumber, AggFunc: "sum"},
	)
}

// byCountry loads the scenario grouped by country, summing medals, with
// groups sorted by key.
func byCountry(opts ClientOptions) *Client {
	if opts.Columns == nil {
		opts.Columns = scenarioColumns()
	}
	c := NewClient(opts)
	c.Batch(func(c *Client) {
		c.SetRowData(scenario())
		c.SetRowGroupColumns([]string{"country"})
		c.SetAggregations(map[string]string{"medals": "sum"})
		c.SetSortModel([]query.SortSpec{{Column: rows.GroupColumnID, Direction: query.Asc}})
	})
	return c
}

func aggregate(t *testing.T, c *Client, id, col string) any {
	t.Helper()
	row, ok := c.RowByID(id)
	require.True(t, ok, "row %s", id)
	v, _ := row.Aggregate(col)
	return v
}

func TestClientScenarioExpanded(t *testing.T) {
	c := byCountry(ClientOptions{Grouping: grouping.Options{DefaultExpanded: -1}})

	assert.Equal(t, []string{"group:country=FR", "2", "group:country=US", "0", "1"}, c.DisplayedIDs())
	assert.Equal(t, 2.0, aggregate(t, c, "group:country=FR", "medals"))
	assert.Equal(t, 4.0, aggregate(t, c, "group:country=US", "medals"))
	assert.Equal(t, 6.0, c.RootAggregates()["medals"])

	row, ok := c.Row(1)
	require.True(t, ok)
	assert.Equal(t, 1, row.Row.Level())
	assert.Equal(t, "group:country=FR", row.Row.ParentID())
	assert.Equal(t, []any{"FR"}, row.Row.Route())
	_, ok = c.Row(5)
	assert.False(t, ok)
}

func TestClientScenarioCollapsed(t *testing.T) {
	c := byCountry(ClientOptions{})

	assert.Equal(t, []string{"group:country=FR", "group:country=US"}, c.DisplayedIDs())
	assert.Equal(t, 2, c.RowCount())
	assert.Equal(t, 4.0, aggregate(t, c, "group:country=US", "medals"))
}

func TestClientPostAggregationFilter(t *testing.T) {
	c := byCountry(ClientOptions{
		Grouping:  grouping.Options{DefaultExpanded: -1},
		Filtering: filtering.Options{Mode: filtering.PostAggregation},
	})
	c.SetFilterModel(map[string]query.FilterSpec{
		"medals": {Type: query.FilterNumber, Op: filtering.OpGreaterThan, Value: 3},
	})

	// The US group passes on its total and keeps both leaves.
	assert.Equal(t, []string{"group:country=US", "0", "1"}, c.DisplayedIDs())
	assert.Equal(t, 4.0, aggregate(t, c, "group:country=US", "medals"))
}

func TestClientPreAggregationFilter(t *testing.T) {
	c := byCountry(ClientOptions{Grouping: grouping.Options{DefaultExpanded: -1}})

	// Leaf values are filtered before grouping, so no single medal count
	// exceeds the threshold.
	c.SetFilterModel(map[string]query.FilterSpec{
		"medals": {Type: query.FilterNumber, Op: filtering.OpGreaterThan, Value: 3},
	})
	assert.Equal(t, 0, c.RowCount())
	assert.Nil(t, c.RootAggregates()["medals"])

	c.SetFilterModel(map[string]query.FilterSpec{
		"medals": {Type: query.FilterNumber, Op: filtering.OpGreaterThan, Value: 1},
	})
	assert.Equal(t, []string{"group:country=FR", "2", "group:country=US", "0"}, c.DisplayedIDs())
	assert.Equal(t, 3.0, aggregate(t, c, "group:country=US", "medals"))
}

func TestClientQuickFilter(t *testing.T) {
	c := byCountry(ClientOptions{Grouping: grouping.Options{DefaultExpanded: -1}})
	c.SetQuickFilter("fr")

	assert.Equal(t, []string{"group:country=FR", "2"}, c.DisplayedIDs())
	var filtered []string
	c.ForEachLeafAfterFilter(func(v rows.View) { filtered = append(filtered, v.ID()) })
	assert.Equal(t, []string{"2"}, filtered)
	var all []string
	c.ForEachLeaf(func(v rows.View) { all = append(all, v.ID()) })
	assert.Equal(t, []string{"0", "1", "2"}, all)
}

func TestClientSetExpandedPatchesView(t *testing.T) {
	c := byCountry(ClientOptions{Grouping: grouping.Options{DefaultExpanded: -1}})
	var events []Event
	c.AddListener(func(ev Event) { events = append(events, ev) })

	require.NoError(t, c.SetExpanded("group:country=US", false))
	assert.Equal(t, []string{"group:country=FR", "2", "group:country=US"}, c.DisplayedIDs())
	require.Len(t, events, 1)
	assert.Equal(t, []Step{StepFlatten}, events[0].Steps)
	assert.True(t, events[0].RowCountChanged)
	assert.Equal(t, 3, events[0].RowCount)

	// The explicit state survives regrouping.
	c.SetSortModel([]query.SortSpec{{Column: rows.GroupColumnID, Direction: query.Desc}})
	c.SetRowGroupColumns([]string{"country"})
	assert.Equal(t, []string{"group:country=US", "group:country=FR", "2"}, c.DisplayedIDs())

	require.NoError(t, c.SetExpanded("0", true))
	assert.ErrorIs(t, c.SetExpanded("group:country=XX", true), ErrUnknownRow)
}

func TestClientExpandAll(t *testing.T) {
	c := byCountry(ClientOptions{})
	c.ExpandAll(true)
	assert.Equal(t, 5, c.RowCount())
	c.ExpandAll(false)
	assert.Equal(t, 2, c.RowCount())
}

func TestClientFootersAndGrandTotal(t *testing.T) {
	c := byCountry(ClientOptions{
		Grouping: grouping.Options{DefaultExpanded: -1},
		Flatten:  flatten.Options{GroupFooters: true, GrandTotalRow: true},
	})

	assert.Equal(t, []string{
		"group:country=FR", "2", "footer:group:country=FR",
		"group:country=US", "0", "1", "footer:group:country=US",
		"footer:root",
	}, c.DisplayedIDs())
	assert.Equal(t, 4.0, aggregate(t, c, "footer:group:country=US", "medals"))
	assert.Equal(t, 6.0, aggregate(t, c, "footer:root", "medals"))
	_, ok := c.RowByID("footer:2")
	assert.False(t, ok)
}

func TestClientBatchSendsOneEvent(t *testing.T) {
	c := NewClient(ClientOptions{Columns: scenarioColumns()})
	c.SetRowData(scenario())
	var events []Event
	remove := c.AddListener(func(ev Event) { events = append(events, ev) })

	c.Batch(func(c *Client) {
		c.SetSortModel([]query.SortSpec{{Column: "medals", Direction: query.Desc}})
		c.SetRowGroupColumns([]string{"country"})
		c.SetAggregations(map[string]string{"medals": "sum"})
	})
	require.Len(t, events, 1)
	assert.Equal(t, StepGroup, events[0].Steps[0])
	assert.Equal(t, StepFlatten, events[0].Steps[len(events[0].Steps)-1])
	assert.Equal(t, []string{"group:country=US", "group:country=FR"}, c.DisplayedIDs())

	remove()
	c.SetQuickFilter("us")
	assert.Len(t, events, 1)
}

func TestClientInfersColumns(t *testing.T) {
	c := NewClient(ClientOptions{})
	c.SetRowData(scenario())
	assert.Equal(t, []string{"country", "medals"}, c.Columns().IDs())
	c.SetSortModel([]query.SortSpec{{Column: "medals", Direction: query.Asc}})
	assert.Equal(t, []string{"1", "2", "0"}, c.DisplayedIDs())
}

func TestClientDuplicateIDs(t *testing.T) {
	var col diag.Collector
	c := NewClient(ClientOptions{Columns: scenarioColumns(), RowID: rows.FieldID("id"), OnDiagnostic: col.Handle})
	c.SetRowData([]rows.Record{
		{"id": "a", "country": "US", "medals": 3},
		{"id": "a", "country": "FR", "medals": 2},
		{"id": "b", "country": "FR", "medals": 1},
	})

	assert.Equal(t, 1, col.Count(diag.DuplicateID))
	assert.Equal(t, []string{"a", "b"}, c.DisplayedIDs())
	row, ok := c.RowByID("a")
	require.True(t, ok)
	assert.Equal(t, "US", row.Data()["country"])
}

func TestClientUnknownConfigurationIsReported(t *testing.T) {
	var col diag.Collector
	c := NewClient(ClientOptions{Columns: scenarioColumns(), OnDiagnostic: col.Handle})
	c.SetRowData(scenario())
	c.Batch(func(c *Client) {
		c.SetRowGroupColumns([]string{"continent"})
		c.SetAggregations(map[string]string{"medals": "median"})
	})

	assert.Equal(t, 1, col.Count(diag.UnknownColumn))
	assert.Equal(t, 1, col.Count(diag.UnknownAggFunc))
	assert.Equal(t, 3, c.RowCount())
}

func TestClientPivot(t *testing.T) {
	c := NewClient(ClientOptions{Grouping: grouping.Options{DefaultExpanded: -1}})
	c.Batch(func(c *Client) {
		c.SetRowData([]rows.Record{
			{"country": "US", "year": 2008, "medals": 3},
			{"country": "US", "year": 2012, "medals": 1},
			{"country": "FR", "year": 2008, "medals": 2},
		})
		c.SetRowGroupColumns([]string{"country"})
		c.SetPivotColumns([]string{"year"})
		c.SetAggregations(map[string]string{"medals": "sum"})
		c.SetPivotMode(true)
	})

	var ids []string
	for _, p := range c.PivotColumns() {
		ids = append(ids, p.ID)
	}
	assert.Equal(t, []string{"pivot_2008_medals", "pivot_2012_medals"}, ids)
	assert.Equal(t, []string{"group:country=US", "group:country=FR"}, c.DisplayedIDs())
	assert.Equal(t, 3.0, aggregate(t, c, "group:country=US", "pivot_2008_medals"))
	assert.Equal(t, 1.0, aggregate(t, c, "group:country=US", "pivot_2012_medals"))
	assert.Equal(t, 4.0, aggregate(t, c, "group:country=US", "medals"))

	fr, _ := c.RowByID("group:country=FR")
	v, ok := fr.Aggregate("pivot_2012_medals")
	assert.True(t, ok, "empty pivot cells are present")
	assert.Nil(t, v)

	c.SetSortModel([]query.SortSpec{{Column: "pivot_2008_medals", Direction: query.Asc}})
	assert.Equal(t, []string{"group:country=FR", "group:country=US"}, c.DisplayedIDs())

	c.SetRowGroupColumns(nil)
	assert.Equal(t, []string{"footer:root"}, c.DisplayedIDs())

	c.SetPivotMode(false)
	assert.Empty(t, c.PivotColumns())
	assert.Equal(t, 3, c.RowCount())
}

func TestClientState(t *testing.T) {
	c := NewClient(ClientOptions{Columns: scenarioColumns()})
	c.SetRowData(scenario())

	st := query.State{
		GroupBy:      []string{"country"},
		Aggregations: map[string]string{"medals": "sum"},
		Sort:         []query.SortSpec{{Column: rows.GroupColumnID, Direction: query.Asc}},
		Expanded:     []string{"group:country=US"},
	}
	require.NoError(t, c.ApplyState(st))
	assert.Equal(t, []string{"group:country=FR", "group:country=US", "0", "1"}, c.DisplayedIDs())

	got := c.State()
	assert.Equal(t, query.CurrentVersion, got.Version)
	assert.Equal(t, []string{"country"}, got.GroupBy)
	assert.Equal(t, []string{"group:country=US"}, got.Expanded)

	bad := query.State{Sort: []query.SortSpec{{Column: "medals", Direction: "up"}}}
	assert.ErrorIs(t, c.ApplyState(bad), query.ErrInvalidState)
}

func TestClientTreeData(t *testing.T) {
	var col diag.Collector
	c := NewClient(ClientOptions{
		RowID: rows.FieldID("name"),
		Grouping: grouping.Options{
			DefaultExpanded: -1,
			DataPath: func(r rows.Record) []string {
				p, _ := r["path"].([]string)
				return p
			},
		},
		Filtering:    filtering.Options{QuickFilterColumns: []string{"name"}},
		OnDiagnostic: col.Handle,
	})
	c.SetRowData([]rows.Record{
		{"name": "a", "path": []string{"A"}, "size": 1},
		{"name": "b", "path": []string{"A", "B"}, "size": 2},
		{"name": "c", "path": []string{"A", "C"}, "size": 3},
		{"name": "e", "path": []string{"D", "E"}, "size": 4},
		{"name": "x", "path": []string{"A", "B"}, "size": 5},
	})

	assert.Equal(t, 1, col.Count(diag.MalformedHierarchy))
	assert.Equal(t, []string{"a", "b", "c", "filler:D", "e"}, c.DisplayedIDs())
	a, _ := c.RowByID("a")
	assert.Equal(t, rows.KindGroup, a.Kind())
	_, ok := c.RowByID("x")
	assert.False(t, ok, "the duplicate path is dropped")

	c.SetQuickFilter("c")
	assert.Equal(t, []string{"a", "c"}, c.DisplayedIDs())
	c.SetQuickFilter("")

	res := c.ApplyTransaction(Transaction{Remove: []string{"e"}})
	assert.False(t, res.Incremental)
	assert.True(t, res.Rebuilt)
	assert.Equal(t, 1, col.Count(diag.TransactionRejected))
	assert.Equal(t, []string{"a", "b", "c"}, c.DisplayedIDs())
}

func TestClientChildrenField(t *testing.T) {
	c := NewClient(ClientOptions{
		RowID:    rows.FieldID("name"),
		Grouping: grouping.Options{ChildrenField: "children"},
	})
	c.SetRowData([]rows.Record{
		{"name": "top", "children": []rows.Record{
			{"name": "leaf1"},
			{"name": "leaf2"},
		}},
	})
	assert.Equal(t, []string{"top"}, c.DisplayedIDs())
	require.NoError(t, c.SetExpanded("top", true))
	assert.Equal(t, []string{"top", "leaf1", "leaf2"}, c.DisplayedIDs())
}

func TestClientTransactions(t *testing.T) {
	var col diag.Collector
	c := byCountry(ClientOptions{
		RowID:        rows.FieldID("id"),
		Grouping:     grouping.Options{DefaultExpanded: -1},
		OnDiagnostic: col.Handle,
	})
	c.SetRowData([]rows.Record{
		{"id": "us1", "country": "US", "medals": 3},
		{"id": "us2", "country": "US", "medals": 1},
		{"id": "fr1", "country": "FR", "medals": 2},
	})

	res := c.ApplyTransaction(Transaction{
		Add:    []rows.Record{{"id": "gb1", "country": "GB", "medals": 5}},
		Remove: []string{"us2", "nope"},
	})
	assert.Len(t, res.Added, 1)
	assert.Len(t, res.Removed, 1)
	assert.False(t, res.Incremental)
	assert.Equal(t, 1, col.Count(diag.TransactionRejected))
	assert.Equal(t, []string{"group:country=FR", "fr1", "group:country=GB", "gb1", "group:country=US", "us1"}, c.DisplayedIDs())

	res = c.ApplyTransaction(Transaction{Update: []rows.Record{{"id": "us1", "country": "US", "medals": 7}}})
	assert.True(t, res.Incremental)
	assert.Equal(t, 7.0, aggregate(t, c, "group:country=US", "medals"))
	assert.Equal(t, 14.0, c.RootAggregates()["medals"])

	res = c.ApplyTransaction(Transaction{Update: []rows.Record{{"id": "us1", "country": "FR", "medals": 7}}})
	assert.False(t, res.Incremental)
	assert.Equal(t, []string{"group:country=FR", "us1", "fr1", "group:country=GB", "gb1"}, c.DisplayedIDs())
	assert.Equal(t, 9.0, aggregate(t, c, "group:country=FR", "medals"))
}

func medalColumns() *columns.Set {
	return columns.MustSet(
		&columns.Column{ID: "id"},
		&columns.Column{ID: "country"},
		&columns.Column{ID: "year", Type: columns.TypeNumber},
		&columns.Column{ID: "medals", Type: columns.TypeNumber, AggFunc: "sum"},
	)
}

func medalRecords() []rows.Record {
	countries := []string{"US", "FR", "US", "RU", "FR", "US", "GB", "RU"}
	years := []int{2008, 2012, 2012, 2008, 2008, 2008, 1996, 2012}
	out := make([]rows.Record, len(countries))
	for i := range countries {
		out[i] = rows.Record{"id": strconv.Itoa(i), "country": countries[i], "year": years[i], "medals": i % 4}
	}
	return out
}

func medalClient(records []rows.Record) *Client {
	c := NewClient(ClientOptions{
		Columns:  medalColumns(),
		RowID:    rows.FieldID("id"),
		Grouping: grouping.Options{DefaultExpanded: -1},
		Flatten:  flatten.Options{GroupFooters: true, GrandTotalRow: true},
	})
	c.Batch(func(c *Client) {
		c.SetRowData(records)
		c.SetRowGroupColumns([]string{"country", "year"})
		c.SetAggregations(map[string]string{"medals": ""})
		c.SetFilterModel(map[string]query.FilterSpec{
			"year": {Type: query.FilterNumber, Op: filtering.OpGreaterThan, Value: 2000},
		})
		c.SetSortModel([]query.SortSpec{{Column: "medals", Direction: query.Desc}})
	})
	return c
}

type displayed struct {
	ID   string
	Aggs map[string]any
}

func snapshot(c *Client) []displayed {
	var out []displayed
	for i := range c.RowCount() {
		row, _ := c.Row(i)
		out = append(out, displayed{ID: row.Row.ID(), Aggs: row.Row.Aggregates()})
	}
	return out
}

func TestClientIncrementalUpdatesMatchRebuild(t *testing.T) {
	rng := rand.New(rand.NewPCG(7, 11))
	records := medalRecords()
	c := medalClient(records)
	countries := []string{"US", "FR", "RU", "GB"}
	years := []int{1996, 2008, 2012}
	var incremental, rebuilt int
	for step := range 80 {
		i := rng.IntN(len(records))
		r := maps.Clone(records[i])
		switch rng.IntN(4) {
		case 0:
			r["country"] = countries[rng.IntN(len(countries))]
		case 1:
			r["year"] = years[rng.IntN(len(years))]
		default:
			r["medals"] = rng.IntN(10)
		}
		records[i] = r

		res := c.ApplyTransaction(Transaction{Update: []rows.Record{maps.Clone(r)}})
		if res.Incremental {
			incremental++
		} else {
			rebuilt++
		}
		require.Equal(t, snapshot(medalClient(records)), snapshot(c), "step %d", step)
	}
	assert.Positive(t, incremental)
	assert.Positive(t, rebuilt)
}

func TestClientAsyncTransactions(t *testing.T) {
	c := byCountry(ClientOptions{RowID: rows.FieldID("id"), AsyncTransactionWait: time.Hour})
	c.SetRowData(nil)
	var events []Event
	c.AddListener(func(ev Event) { events = append(events, ev) })

	c.ApplyTransactionAsync(Transaction{Add: []rows.Record{{"id": "1", "country": "US", "medals": 1}}})
	c.ApplyTransactionAsync(Transaction{Add: []rows.Record{{"id": "2", "country": "FR", "medals": 2}}})
	assert.Empty(t, events)
	assert.Equal(t, 0, c.RowCount())

	results := c.FlushAsyncTransactions()
	assert.Len(t, results, 2)
	require.Len(t, events, 1)
	assert.Equal(t, 2, c.RowCount())
	assert.Empty(t, c.FlushAsyncTransactions())
}

func TestClientAsyncTransactionsFlushAfterWait(t *testing.T) {
	flushed := make(chan []TransactionResult, 1)
	c := NewClient(ClientOptions{
		Columns:              scenarioColumns(),
		AsyncTransactionWait: 10 * time.Millisecond,
		OnAsyncFlush:         func(res []TransactionResult) { flushed <- res },
	})
	c.ApplyTransactionAsync(Transaction{Add: scenario()})

	select {
	case res := <-flushed:
		require.Len(t, res, 1)
		assert.Len(t, res[0].Added, 3)
	case <-time.After(5 * time.Second):
		t.Fatal("queued transaction was not flushed")
	}
	assert.Equal(t, 3, c.RowCount())
}

func TestClientConcurrentReaders(t *testing.T) {
	c := byCountry(ClientOptions{Grouping: grouping.Options{DefaultExpanded: -1}})
	var wg sync.WaitGroup
	for w := range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range 50 {
				if w == 0 {
					c.SetExpanded("group:country=US", i%2 == 1)
					continue
				}
				if n := c.RowCount(); n > 0 {
					c.Row(n - 1)
				}
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, []string{"group:country=FR", "2", "group:country=US", "0", "1"}, c.DisplayedIDs())
}

func TestClientSortChangesMatchFreshClient(t *testing.T) {
	fresh := func(sort []query.SortSpec) []string {
		c := NewClient(ClientOptions{Columns: medalColumns(), Grouping: grouping.Options{DefaultExpanded: -1}})
		c.Batch(func(c *Client) {
			c.SetRowData(medalRecords())
			c.SetRowGroupColumns([]string{"country"})
			c.SetAggregations(map[string]string{"medals": "sum"})
			c.SetSortModel(sort)
		})
		return c.DisplayedIDs()
	}
	sorts := [][]query.SortSpec{
		{{Column: "medals", Direction: query.Asc}},
		nil,
		{{Column: "medals", Direction: query.Desc}},
		{{Column: "year", Direction: query.Asc}},
		{{Column: rows.GroupColumnID, Direction: query.Desc}, {Column: "medals", Direction: query.Asc, Order: 1}},
		nil,
		{{Column: "country", Direction: query.Asc}},
	}

	c := NewClient(ClientOptions{Columns: medalColumns(), Grouping: grouping.Options{DefaultExpanded: -1}})
	c.Batch(func(c *Client) {
		c.SetRowData(medalRecords())
		c.SetRowGroupColumns([]string{"country"})
		c.SetAggregations(map[string]string{"medals": "sum"})
	})
	for i, sort := range sorts {
		c.SetSortModel(sort)
		assert.Equal(t, fresh(sort), c.DisplayedIDs(), "sort change %d", i)
	}
}

func TestClientClearingSortRestoresGroupedOrder(t *testing.T) {
	c := NewClient(ClientOptions{Columns: scenarioColumns()})
	c.SetRowData(scenario())
	initial := c.DisplayedIDs()
	assert.Equal(t, []string{"0", "1", "2"}, initial)

	c.SetSortModel([]query.SortSpec{{Column: "medals", Direction: query.Asc}})
	assert.Equal(t, []string{"1", "2", "0"}, c.DisplayedIDs())
	c.SetSortModel(nil)
	assert.Equal(t, initial, c.DisplayedIDs())

	c.SetSortModel([]query.SortSpec{{Column: "medals", Direction: query.Asc}})
	c.SetSortModel([]query.SortSpec{{Column: "country", Direction: query.Asc}})
	assert.Equal(t, []string{"2", "0", "1"}, c.DisplayedIDs())
}

func TestClientPivotIgnoresUndefinedPivotColumn(t *testing.T) {
	col := &diag.Collector{}
	c := NewClient(ClientOptions{Grouping: grouping.Options{DefaultExpanded: -1}, OnDiagnostic: col.Handle})
	c.Batch(func(c *Client) {
		c.SetRowData([]rows.Record{
			{"country": "US", "year": 2008, "medals": 3},
			{"country": "FR", "year": 2008, "medals": 2},
		})
		c.SetRowGroupColumns([]string{"country"})
		c.SetPivotColumns([]string{"year", "bogus"})
		c.SetAggregations(map[string]string{"medals": "sum"})
		c.SetPivotMode(true)
	})

	require.Len(t, c.PivotColumns(), 1)
	assert.Equal(t, "pivot_2008_medals", c.PivotColumns()[0].ID)
	assert.Equal(t, 3.0, aggregate(t, c, "group:country=US", "pivot_2008_medals"))
	assert.Equal(t, 2.0, aggregate(t, c, "group:country=FR", "pivot_2008_medals"))
	assert.Equal(t, 1, col.Count(diag.UnknownColumn))
}

func TestClientPivotKeysContainingSeparator(t *testing.T) {
	c := NewClient(ClientOptions{})
	c.Batch(func(c *Client) {
		c.SetRowData([]rows.Record{
			{"g": "x", "a": "p_q", "b": "r", "v": 1},
			{"g": "x", "a": "p", "b": "q_r", "v": 10},
		})
		c.SetRowGroupColumns([]string{"g"})
		c.SetPivotColumns([]string{"a", "b"})
		c.SetAggregations(map[string]string{"v": "sum"})
		c.SetPivotMode(true)
	})

	require.Len(t, c.PivotColumns(), 2)
	for _, p := range c.PivotColumns() {
		want := 1.0
		if p.Keys[0] == "p" {
			want = 10.0
		}
		assert.Equal(t, want, aggregate(t, c, "group:g=x", p.ID), p.ID)
	}
}
