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
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/RoaringBitmap/roaring"

	"github.com/google/rowmodel/core/aggregates"
	"github.com/google/rowmodel/core/columns"
	"github.com/google/rowmodel/core/diag"
	"github.com/google/rowmodel/core/filtering"
	"github.com/google/rowmodel/core/flatten"
	"github.com/google/rowmodel/core/grouping"
	"github.com/google/rowmodel/core/query"
	"github.com/google/rowmodel/core/rows"
	"github.com/google/rowmodel/core/sorting"
)

// DefaultAsyncTransactionWait is how long queued async transactions wait
// for company before they are applied.
const DefaultAsyncTransactionWait = 50 * time.Millisecond

// ClientOptions configures a Client.
type ClientOptions struct {
	// Columns defines the grid columns. When nil, columns are inferred from
	// the records of the first SetRowData.
	Columns *columns.Set
	// RowID extracts row ids from records. Rows without an id get surrogate
	// ids, which updates and removals cannot address.
	RowID rows.IDFunc
	// Registry resolves aggregation function names. Defaults to the built in
	// functions.
	Registry  *aggregates.Registry
	Grouping  grouping.Options
	Filtering filtering.Options
	Flatten   flatten.Options

	AsyncTransactionWait time.Duration
	// OnAsyncFlush receives the results of every flush of queued
	// transactions.
	OnAsyncFlush func([]TransactionResult)

	OnDiagnostic diag.Handler
	Logger       *slog.Logger
}

// toggle is an expansion change waiting for the flatten step.
type toggle struct {
	node   *rows.Node
	expand bool
}

// Client is the client side row model. All rows live in memory; every
// mutation reruns the pipeline from the earliest step it invalidates.
//
// A Client is safe for concurrent use. Listeners run outside the model lock
// and may read the model.
type Client struct {
	mu     sync.Mutex
	opts   ClientOptions
	logger *slog.Logger
	diag   *diag.Reporter

	inferColumns bool
	cols         *columns.Set
	filters      *filtering.Stage
	groups       *grouping.Stage
	aggs         *aggregates.Stage
	sorter       *sorting.Stage

	state  query.State
	root   *rows.Node
	index  *rows.Index
	seq    rows.Sequence
	leaves []*rows.Node
	paths  [][]string // tree data paths, parallel to leaves

	pre      *filtering.Compiled
	post     *filtering.Compiled
	filtered []*rows.Node
	passed   *roaring.Bitmap
	plan     aggregates.Plan
	pivots   []grouping.PivotColumn
	view     *flatten.View

	expanded  map[string]bool
	exclusive bool // groups without an entry in expanded are collapsed
	toggles   []toggle

	dirty     Step
	refold    bool // the flatten step must not patch the previous view
	depth     int
	lastCount int
	listeners listeners

	async      []Transaction
	asyncTimer *time.Timer
}

var _ flatten.Window = (*Client)(nil)

// NewClient creates an empty client side row model.
func NewClient(opts ClientOptions) *Client {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if opts.AsyncTransactionWait <= 0 {
		opts.AsyncTransactionWait = DefaultAsyncTransactionWait
	}
	c := &Client{
		opts:     opts,
		logger:   logger,
		diag:     diag.NewReporter(opts.OnDiagnostic, logger),
		root:     rows.NewRoot(),
		index:    rows.NewIndex(),
		expanded: make(map[string]bool),
		state:    query.State{Version: query.CurrentVersion},
	}
	cols := opts.Columns
	if cols == nil {
		c.inferColumns = true
		cols = columns.MustSet()
	}
	c.initStages(cols)
	c.run(StepFilter)
	return c
}

func (c *Client) initStages(cols *columns.Set) {
	registry := c.opts.Registry
	if registry == nil {
		registry = aggregates.NewRegistry(cols.Comparators())
	}
	c.cols = cols
	c.filters = filtering.NewStage(cols, c.opts.Filtering, c.diag, c.logger)
	c.groups = grouping.NewStage(cols, c.opts.Grouping, c.diag, c.logger)
	c.aggs = aggregates.NewStage(registry, cols, c.diag, c.logger)
	c.sorter = sorting.NewStage(cols, c.diag, c.logger)
}

// Columns returns the column definitions.
func (c *Client) Columns() *columns.Set {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cols
}

func (c *Client) markDirty(s Step) {
	if c.dirty == StepNone || s < c.dirty {
		c.dirty = s
	}
}

// update runs fn under the lock, recomputes what fn marked dirty and
// notifies the listeners.
func (c *Client) update(fn func()) {
	c.mu.Lock()
	fn()
	events := c.commitLocked()
	fns := c.listeners.snapshot()
	c.mu.Unlock()
	notify(fns, events)
}

// commitLocked runs the dirty part of the pipeline unless a batch is open.
func (c *Client) commitLocked() []Event {
	if c.depth > 0 || c.dirty == StepNone {
		return nil
	}
	from := c.dirty
	c.dirty = StepNone
	if from == StepFlatten && !c.refold {
		for _, t := range c.toggles {
			if t.expand {
				c.view.Expand(t.node)
			} else {
				c.view.Collapse(t.node)
			}
		}
		c.toggles = nil
	} else {
		c.run(from)
	}
	c.refold = false
	count := c.view.Len()
	ev := Event{Kind: ModelUpdated, Steps: stepsFrom(from), RowCount: count, RowCountChanged: count != c.lastCount}
	c.lastCount = count
	c.logger.Debug("row model updated", "from", from.String(), "rows", count)
	return []Event{ev}
}

// run executes the pipeline from the given step on.
func (c *Client) run(from Step) {
	tree := c.opts.Grouping.Hierarchical()
	if from <= StepFilter {
		c.compileFilters()
		if !tree {
			res := c.pre.Apply(c.leaves)
			c.filtered, c.passed = res.Rows, res.Passed
		}
	}
	if from <= StepGroup {
		if tree {
			c.buildTree()
		} else {
			c.groups.GroupRows(c.root, c.filtered, c.state.GroupBy)
		}
		c.applyExpansion()
	}
	if from <= StepPivot {
		c.buildPlan()
	}
	if from <= StepAggregate {
		c.aggs.Aggregate(c.root, c.plan)
	}
	if from <= StepPostFilter {
		c.post.ApplyGroups(c.root)
	}
	if from <= StepSort {
		ids := make([]string, len(c.pivots))
		for i, p := range c.pivots {
			ids[i] = p.ID
		}
		c.sorter.Sort(c.root, c.state.Sort, ids...)
	}
	for _, t := range c.toggles {
		t.node.SetExpanded(t.expand)
	}
	c.toggles = nil
	c.view = flatten.Flatten(c.root, c.flattenOptions())
}

func (c *Client) compileFilters() {
	model := filtering.FromSpecs(c.state.Filters, c.diag)
	pre, post := model, filtering.Model{}
	if c.filters.Mode() == filtering.PostAggregation {
		pre, post = model.Split(func(col string) bool {
			_, ok := c.state.Aggregations[col]
			return ok
		})
	}
	c.pre = c.filters.Compile(pre, c.state.QuickFilter)
	c.post = c.filters.Compile(post, "")
}

// buildTree arranges tree data by path and filters it. Entries the grouping
// stage rejects are dropped from the model for good.
func (c *Client) buildTree() {
	entries := make([]grouping.Entry, len(c.leaves))
	for i, l := range c.leaves {
		entries[i] = grouping.Entry{Node: l, Path: c.paths[i]}
	}
	if dropped := c.groups.BuildTree(c.root, entries); len(dropped) > 0 {
		drop := make(map[*rows.Node]bool, len(dropped))
		for _, n := range dropped {
			drop[n] = true
			c.index.Remove(n.ID())
		}
		c.compact(drop)
	}
	res := c.pre.ApplyTree(c.root)
	c.filtered, c.passed = res.Rows, res.Passed
}

// applyExpansion restores explicit expansion state onto rebuilt groups.
func (c *Client) applyExpansion() {
	if len(c.expanded) == 0 && !c.exclusive {
		return
	}
	rows.VisitSubtree(c.root, func(n *rows.Node) bool {
		if n.Kind() != rows.KindGroup {
			return true
		}
		if exp, ok := c.expanded[n.ID()]; ok {
			n.SetExpanded(exp)
		} else if c.exclusive {
			n.SetExpanded(false)
		}
		return true
	})
}

// buildPlan resolves the aggregation targets, including one per pivot
// column in pivot mode.
func (c *Client) buildPlan() {
	targets := aggregates.ValueTargets(c.cols, c.state.Aggregations)
	c.plan = aggregates.Plan{Targets: targets}
	c.pivots = nil
	if !c.state.PivotMode || len(c.state.Pivot) == 0 {
		return
	}
	valueCols := make(map[string]string, len(targets))
	for _, t := range targets {
		valueCols[t.Column] = t.Func
	}
	keys := c.groups.CollectPivotKeys(c.filtered, c.state.Pivot)
	c.pivots = grouping.PivotColumns(keys, valueCols)
	c.plan.PivotColumns = slices.DeleteFunc(slices.Clone(c.state.Pivot), func(id string) bool {
		_, ok := c.cols.Get(id)
		return !ok
	})
	for _, p := range c.pivots {
		c.plan.Targets = append(c.plan.Targets, p.Target())
	}
}

// flattenOptions hides leaves in pivot mode. Without grouping, pivot mode
// shows the grand total row only.
func (c *Client) flattenOptions() flatten.Options {
	opts := c.opts.Flatten
	if c.state.PivotMode {
		opts.HideLeaves = true
		if len(c.state.GroupBy) == 0 && !c.opts.Grouping.Hierarchical() {
			opts.GrandTotalRow = true
		}
	}
	return opts
}

func (c *Client) rowID(r rows.Record) string {
	if c.opts.RowID != nil {
		if id := c.opts.RowID(r); id != "" {
			return id
		}
	}
	return c.seq.Next()
}

// addRecords creates leaves for records. Records whose id is taken are
// reported and skipped.
func (c *Client) addRecords(records []rows.Record) []*rows.Node {
	var added []*rows.Node
	if field := c.opts.Grouping.ChildrenField; field != "" {
		for _, n := range grouping.Unnest(records, field, c.rowID, c.diag) {
			if leaf := c.addLeaf(n.Path[len(n.Path)-1], n.Record, n.Path); leaf != nil {
				added = append(added, leaf)
			}
		}
		return added
	}
	for _, r := range records {
		var path []string
		if c.opts.Grouping.DataPath != nil {
			path = c.opts.Grouping.DataPath(r)
		}
		if leaf := c.addLeaf(c.rowID(r), r, path); leaf != nil {
			added = append(added, leaf)
		}
	}
	return added
}

func (c *Client) addLeaf(id string, r rows.Record, path []string) *rows.Node {
	leaf := rows.NewLeaf(id, r, len(c.leaves))
	if !c.index.Add(leaf) {
		c.diag.Report(diag.Diagnostic{Kind: diag.DuplicateID, Message: "duplicate row id", RowID: id})
		return nil
	}
	c.leaves = append(c.leaves, leaf)
	c.paths = append(c.paths, path)
	return leaf
}

// compact removes the dropped leaves and renumbers the rest.
func (c *Client) compact(drop map[*rows.Node]bool) {
	leaves, paths := c.leaves[:0], c.paths[:0]
	for i, l := range c.leaves {
		if drop[l] {
			rows.Detach(l)
			continue
		}
		l.SetSourceIndex(len(leaves))
		leaves = append(leaves, l)
		paths = append(paths, c.paths[i])
	}
	clear(c.leaves[len(leaves):])
	c.leaves, c.paths = leaves, paths
}

// SetRowData replaces every row.
func (c *Client) SetRowData(records []rows.Record) {
	c.update(func() {
		if c.inferColumns {
			c.initStages(columns.InferSet(records))
		}
		for _, l := range c.leaves {
			rows.Detach(l)
		}
		c.index.Reset()
		c.seq.Reset()
		c.leaves, c.paths = nil, nil
		c.addRecords(records)
		c.refold = true
		c.markDirty(StepFilter)
	})
}

// SetFilterModel replaces the column filters.
func (c *Client) SetFilterModel(filters map[string]query.FilterSpec) {
	c.update(func() {
		c.state.Filters = (&query.State{Filters: filters}).Clone().Filters
		c.markDirty(StepFilter)
	})
}

// SetQuickFilter sets the free text filter matched against every quick
// filter column.
func (c *Client) SetQuickFilter(text string) {
	c.update(func() {
		c.state.QuickFilter = text
		c.markDirty(StepFilter)
	})
}

// SetSortModel replaces the sort specs.
func (c *Client) SetSortModel(specs []query.SortSpec) {
	c.update(func() {
		c.state.Sort = slices.Clone(specs)
		// Sorting starts from grouped order, which the post filter restores.
		c.markDirty(StepPostFilter)
	})
}

// SetRowGroupColumns sets the grouping hierarchy. It is ignored for tree
// data.
func (c *Client) SetRowGroupColumns(cols []string) {
	c.update(func() {
		c.state.GroupBy = slices.Clone(cols)
		c.markDirty(StepGroup)
	})
}

// SetPivotColumns sets the columns whose values become result columns in
// pivot mode.
func (c *Client) SetPivotColumns(cols []string) {
	c.update(func() {
		c.state.Pivot = slices.Clone(cols)
		c.markDirty(StepPivot)
	})
}

// SetPivotMode turns pivot mode on or off.
func (c *Client) SetPivotMode(on bool) {
	c.update(func() {
		c.state.PivotMode = on
		c.markDirty(StepPivot)
	})
}

// SetAggregations maps value columns to aggregation function names. An
// empty name uses the column's default function.
func (c *Client) SetAggregations(aggs map[string]string) {
	c.update(func() {
		c.state.Aggregations = (&query.State{Aggregations: aggs}).Clone().Aggregations
		if c.filters.Mode() == filtering.PostAggregation && len(c.state.Filters) > 0 {
			c.markDirty(StepFilter)
		} else {
			c.markDirty(StepPivot)
		}
	})
}

// SetExpanded expands or collapses the group with the given id. Expanding a
// leaf does nothing.
func (c *Client) SetExpanded(id string, expanded bool) error {
	var events []Event
	c.mu.Lock()
	g, ok := c.groups.Group(id)
	if !ok {
		_, leaf := c.index.Get(id)
		c.mu.Unlock()
		if leaf {
			return nil
		}
		return fmt.Errorf("%w: %s", ErrUnknownRow, id)
	}
	c.expanded[id] = expanded
	c.toggles = append(c.toggles, toggle{node: g, expand: expanded})
	c.markDirty(StepFlatten)
	events = c.commitLocked()
	fns := c.listeners.snapshot()
	c.mu.Unlock()
	notify(fns, events)
	return nil
}

// ExpandAll expands or collapses every group.
func (c *Client) ExpandAll(expanded bool) {
	c.update(func() {
		c.expanded = make(map[string]bool)
		c.exclusive = false
		c.toggles = nil
		rows.VisitSubtree(c.root, func(n *rows.Node) bool {
			if n.Kind() == rows.KindGroup {
				n.SetExpanded(expanded)
				c.expanded[n.ID()] = expanded
			}
			return true
		})
		c.refold = true
		c.markDirty(StepFlatten)
	})
}

// State returns the current view state. Expanded lists every expanded group.
func (c *Client) State() *query.State {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.state.Clone()
	s.Version = query.CurrentVersion
	rows.VisitSubtree(c.root, func(n *rows.Node) bool {
		if n.Kind() == rows.KindGroup && n.Expanded() {
			s.Expanded = append(s.Expanded, n.ID())
		}
		return true
	})
	slices.Sort(s.Expanded)
	return s
}

// ApplyState replaces the whole view state. A non-nil Expanded list is
// authoritative: groups not listed are collapsed.
func (c *Client) ApplyState(s query.State) error {
	if err := s.Validate(); err != nil {
		return err
	}
	c.update(func() {
		c.state = *s.Clone()
		c.state.Version = query.CurrentVersion
		c.state.Expanded = nil
		c.expanded = make(map[string]bool, len(s.Expanded))
		for _, id := range s.Expanded {
			c.expanded[id] = true
		}
		c.exclusive = s.Expanded != nil
		c.toggles = nil
		c.refold = true
		c.markDirty(StepFilter)
	})
	return nil
}

// Batch runs fn and recomputes the pipeline once afterwards. Listeners get
// a single event.
func (c *Client) Batch(fn func(*Client)) {
	c.mu.Lock()
	c.depth++
	c.mu.Unlock()
	defer c.update(func() { c.depth-- })
	fn(c)
}

// AddListener registers fn for model events. The returned function removes
// it again.
func (c *Client) AddListener(fn func(Event)) (remove func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.listeners.add(fn)
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.listeners.remove(id)
	}
}

// Row returns the displayed row at index i.
func (c *Client) Row(i int) (flatten.DisplayedRow, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.view.Row(i)
}

// Len is RowCount, making the model a flatten.Window.
func (c *Client) Len() int { return c.RowCount() }

// RowCount returns the number of displayed rows.
func (c *Client) RowCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.view.Len()
}

// DisplayedIDs returns the ids of the displayed rows in order.
func (c *Client) DisplayedIDs() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.view.IDs()
}

// IndexOf returns the display index of a row.
func (c *Client) IndexOf(id string) (int, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.view.IndexOf(id)
}

// RowByID looks up a leaf, group or footer row by id.
func (c *Client) RowByID(id string) (rows.View, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lookup(id)
}

func (c *Client) lookup(id string) (*rows.Node, bool) {
	if id == c.root.ID() {
		return c.root, true
	}
	if owner, ok := strings.CutPrefix(id, "footer:"); ok {
		n, found := c.lookup(owner)
		if !found || !n.IsGroup() {
			return nil, false
		}
		return n.Footer(), true
	}
	if g, ok := c.groups.Group(id); ok {
		return g, true
	}
	return c.index.Get(id)
}

// PivotColumns returns the result columns of pivot mode.
func (c *Client) PivotColumns() []grouping.PivotColumn {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.pivots)
}

// ForEachLeaf calls fn for every leaf in data order, filtered or not.
func (c *Client) ForEachLeaf(fn func(rows.View)) {
	c.mu.Lock()
	leaves := slices.Clone(c.leaves)
	c.mu.Unlock()
	for _, l := range leaves {
		fn(l)
	}
}

// ForEachLeafAfterFilter calls fn for every leaf passing the filters.
func (c *Client) ForEachLeafAfterFilter(fn func(rows.View)) {
	c.mu.Lock()
	leaves := slices.Clone(c.filtered)
	c.mu.Unlock()
	for _, l := range leaves {
		fn(l)
	}
}

// RootAggregates returns the grand totals.
func (c *Client) RootAggregates() map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.root.Aggregates()
}
