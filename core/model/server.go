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
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strconv"
	"sync"

	"github.com/google/rowmodel/core/aggregates"
	"github.com/google/rowmodel/core/blocks"
	"github.com/google/rowmodel/core/columns"
	"github.com/google/rowmodel/core/diag"
	"github.com/google/rowmodel/core/flatten"
	"github.com/google/rowmodel/core/grouping"
	"github.com/google/rowmodel/core/query"
	"github.com/google/rowmodel/core/rows"
	"github.com/google/rowmodel/datasources"
)

// ServerOptions configures a Server.
type ServerOptions struct {
	// Columns resolves the default aggregation function of value columns
	// sent without one. Optional.
	Columns *columns.Set
	// RowID extracts leaf ids. Leaves without an id are named after their
	// store and position.
	RowID rows.IDFunc
	// BlockSize is the number of rows per request.
	BlockSize int
	// MaxRows caps the resident rows of each store.
	MaxRows int
	// DefaultExpanded is the number of group levels that start expanded.
	// -1 expands every level.
	DefaultExpanded int
	// Context is passed to the data source. Defaults to
	// context.Background().
	Context      context.Context
	OnDiagnostic diag.Handler
	Logger       *slog.Logger
}

// groupStore is the block store holding the children of one node.
type groupStore struct {
	id    string
	node  *rows.Node
	route []any
	store *blocks.Store
}

// storeSegment displays the rows [start, end) of a store.
type storeSegment struct {
	gs         *groupStore
	start, end int
}

func (s storeSegment) Len() int { return s.end - s.start }

func (s storeSegment) Row(i int) rows.View {
	i += s.start
	if n, ok := s.gs.store.RowAt(i); ok {
		return n
	}
	return rows.NewStub(s.gs.id+"#"+strconv.Itoa(i), s.gs.node.Level()+1)
}

type fetch struct {
	gs  *groupStore
	req datasources.Request
}

// Server is the server side row model. Rows are fetched block by block for
// the rows in the viewport; the data source does the filtering, grouping,
// aggregation and sorting. Every expanded group has its own store.
//
// Fetch results arrive on the data source's goroutines and are applied
// under the model lock. Requests are sent outside of it.
type Server struct {
	mu     sync.Mutex
	src    datasources.RowSource
	opts   ServerOptions
	ctx    context.Context
	logger *slog.Logger
	diag   *diag.Reporter

	tokens   blocks.TokenSource
	state    query.State
	root     *groupStore
	stores   map[string]*groupStore
	expanded map[string]bool
	// cascade makes evicting a group row destroy the store of its children.
	cascade bool

	segs        []storeSegment
	view        *flatten.SpanView
	first, last int
	lastCount   int
	listeners   listeners
}

var _ flatten.Window = (*Server)(nil)

// NewServer creates a server side row model reading from src. Nothing is
// fetched before the first SetViewport.
func NewServer(src datasources.RowSource, opts ServerOptions) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	ctx := opts.Context
	if ctx == nil {
		ctx = context.Background()
	}
	s := &Server{
		src:      src,
		opts:     opts,
		ctx:      ctx,
		logger:   logger,
		diag:     diag.NewReporter(opts.OnDiagnostic, logger),
		state:    query.State{Version: query.CurrentVersion},
		expanded: make(map[string]bool),
		last:     -1,
	}
	s.resetLocked()
	s.rebuild()
	s.lastCount = s.view.Len()
	return s
}

func (s *Server) newStore(node *rows.Node, route []any) *groupStore {
	gs := &groupStore{id: node.ID(), node: node, route: route}
	gs.store = blocks.NewStore(&s.tokens, blocks.Options{
		BlockSize: s.opts.BlockSize,
		MaxRows:   s.opts.MaxRows,
		NewNode:   func(i int, r rows.Record) *rows.Node { return s.newNode(gs, i, r) },
		OnEvict:   func(nodes []*rows.Node) { s.evicted(gs, nodes) },
		Logger:    s.logger,
	})
	if n, ok := childCount(node.Data()); ok {
		gs.store.SetRowCount(n, true)
	}
	s.stores[gs.id] = gs
	return gs
}

// newNode turns a fetched record into a group row above the leaf level and
// into a leaf otherwise.
func (s *Server) newNode(gs *groupStore, i int, r rows.Record) *rows.Node {
	level := len(gs.route)
	var n *rows.Node
	if level < len(s.state.GroupBy) {
		col := s.state.GroupBy[level]
		key := r[col]
		parent := gs.id
		if gs.node.Kind() == rows.KindRoot {
			parent = ""
		}
		n = rows.NewGroup(grouping.GroupID(parent, col, key), col, key)
		n.SetData(r)
		for c := range s.state.Aggregations {
			if v, ok := r[c]; ok {
				n.SetAggregate(c, v)
			}
		}
		if cc, ok := childCount(r); ok {
			n.SetChildCount(cc)
		}
		n.SetExpanded(s.isExpanded(n.ID(), level))
	} else {
		var id string
		if s.opts.RowID != nil {
			id = s.opts.RowID(r)
		}
		if id == "" {
			id = gs.id + "/" + strconv.Itoa(i)
		}
		n = rows.NewLeaf(id, r, i)
	}
	n.SetSourceIndex(i)
	gs.node.AddChild(n)
	return n
}

func (s *Server) isExpanded(id string, level int) bool {
	if exp, ok := s.expanded[id]; ok {
		return exp
	}
	return s.opts.DefaultExpanded < 0 || level < s.opts.DefaultExpanded
}

func childCount(r rows.Record) (int, bool) {
	v, ok := r[datasources.ChildCountField]
	if !ok {
		return 0, false
	}
	f, ok := columns.ToFloat(v)
	return int(f), ok
}

func (s *Server) evicted(gs *groupStore, nodes []*rows.Node) {
	for _, n := range nodes {
		gs.node.RemoveChild(n)
		if !s.cascade || !n.IsGroup() {
			continue
		}
		if child, ok := s.stores[n.ID()]; ok && child.node == n {
			s.destroy(child)
		}
	}
}

// destroy drops a store and, recursively, the stores of its groups.
func (s *Server) destroy(gs *groupStore) {
	delete(s.stores, gs.id)
	prev := s.cascade
	s.cascade = true
	gs.store.Purge()
	s.cascade = prev
}

// resetLocked drops every store. Fetches in flight are discarded on arrival.
func (s *Server) resetLocked() {
	for _, gs := range s.stores {
		gs.store.Purge()
	}
	s.stores = make(map[string]*groupStore)
	s.root = s.newStore(rows.NewRoot(), nil)
}

// childStore returns the store of an expanded group, creating it on first
// use. A group row fetched again takes over the store of its predecessor.
func (s *Server) childStore(n *rows.Node, parent *groupStore) *groupStore {
	gs, ok := s.stores[n.ID()]
	if !ok {
		route := append(slices.Clone(parent.route), n.GroupKey())
		return s.newStore(n, route)
	}
	if gs.node != n {
		gs.store.ForEachRow(func(c *rows.Node) { n.AddChild(c) })
		gs.node = n
		if cc, ok := childCount(n.Data()); ok {
			gs.store.SetRowCount(cc, true)
		}
	}
	return gs
}

// rebuild recomputes the displayed segments.
func (s *Server) rebuild() {
	s.segs = s.segs[:0]
	s.appendSegments(s.root)
	segs := make([]flatten.Segment, len(s.segs))
	for i, seg := range s.segs {
		segs[i] = seg
	}
	s.view = flatten.NewSpanView(segs...)
}

func (s *Server) appendSegments(gs *groupStore) {
	var open []*rows.Node
	gs.store.ForEachRow(func(n *rows.Node) {
		if n.IsGroup() && n.Expanded() {
			open = append(open, n)
		}
	})
	slices.SortFunc(open, func(a, b *rows.Node) int { return cmp.Compare(a.SourceIndex(), b.SourceIndex()) })
	count := gs.store.RowCount()
	pos := 0
	for _, n := range open {
		i := n.SourceIndex()
		if i >= count {
			break
		}
		s.segs = append(s.segs, storeSegment{gs: gs, start: pos, end: i + 1})
		s.appendSegments(s.childStore(n, gs))
		pos = i + 1
	}
	if pos < count {
		s.segs = append(s.segs, storeSegment{gs: gs, start: pos, end: count})
	}
}

// visible calls fn with the store rows [start, end) of every segment in the
// viewport.
func (s *Server) visible(fn func(gs *groupStore, start, end int)) {
	n := s.view.Len()
	first, last := max(s.first, 0), min(s.last, n-1)
	if first > last {
		return
	}
	segFirst, localFirst, _ := s.view.Locate(first)
	segLast, localLast, _ := s.view.Locate(last)
	for k := segFirst; k <= segLast; k++ {
		seg := s.segs[k]
		lo, hi := 0, seg.Len()-1
		if k == segFirst {
			lo = localFirst
		}
		if k == segLast {
			hi = localLast
		}
		if hi >= lo {
			fn(seg.gs, seg.start+lo, seg.start+hi+1)
		}
	}
}

// ensureLocked requests the blocks of the viewport that are neither loaded
// nor loading.
func (s *Server) ensureLocked() []fetch {
	var out []fetch
	s.visible(func(gs *groupStore, start, end int) {
		out = s.ensure(out, gs, start, end)
	})
	return out
}

// evictLocked trims every store to its row budget, keeping the blocks in
// the viewport.
func (s *Server) evictLocked() {
	pinned := make(map[*groupStore][]int)
	s.visible(func(gs *groupStore, start, end int) {
		bs := gs.store.BlockSize()
		for b := start / bs; b <= (end-1)/bs; b++ {
			pinned[gs] = append(pinned[gs], b)
		}
	})
	s.cascade = true
	for _, gs := range s.stores {
		gs.store.Evict(pinned[gs]...)
	}
	s.cascade = false
}

func (s *Server) ensure(out []fetch, gs *groupStore, start, end int) []fetch {
	bs := gs.store.BlockSize()
	for b := start / bs; b <= (end-1)/bs; b++ {
		if blk, ok := gs.store.Block(b); ok && blk.State == blocks.Loading {
			continue
		}
		for _, f := range gs.store.EnsureRange(max(start, b*bs), min(end, (b+1)*bs)) {
			out = append(out, fetch{gs: gs, req: s.request(gs, f)})
		}
	}
	return out
}

func (s *Server) request(gs *groupStore, f blocks.Fetch) datasources.Request {
	req := datasources.NewRequest(f.Token, f.Start, f.End)
	req.RowGroupCols = slices.Clone(s.state.GroupBy)
	req.GroupKeys = slices.Clone(gs.route)
	req.ValueCols = s.valueCols()
	req.SortModel = slices.Clone(s.state.Sort)
	req.FilterModel = (&query.State{Filters: s.state.Filters}).Clone().Filters
	req.QuickFilter = s.state.QuickFilter
	return req
}

func (s *Server) valueCols() map[string]string {
	if s.opts.Columns == nil {
		return maps.Clone(s.state.Aggregations)
	}
	out := make(map[string]string, len(s.state.Aggregations))
	for _, t := range aggregates.ValueTargets(s.opts.Columns, s.state.Aggregations) {
		out[t.Column] = t.Func
	}
	return out
}

// dispatch sends the requests. It must be called without the lock held;
// sources may answer synchronously.
func (s *Server) dispatch(fetches []fetch) {
	for _, f := range fetches {
		s.logger.Debug("fetching rows", "request", f.req.String())
		s.src.GetRows(s.ctx, f.req, datasources.CallbackFuncs{
			OnSuccess: func(res datasources.Result) { s.deliver(f, res) },
			OnFail:    func(err error) { s.fail(f, err) },
		})
	}
}

func (s *Server) deliver(f fetch, res datasources.Result) {
	s.mu.Lock()
	if !f.gs.store.Deliver(f.req.Token, res.Rows, res.RowCount) {
		s.mu.Unlock()
		s.logger.Debug("discarded stale rows", "request", f.req.String())
		return
	}
	s.rebuild()
	s.evictLocked()
	s.finish()
}

func (s *Server) fail(f fetch, err error) {
	s.mu.Lock()
	if !f.gs.store.Fail(f.req.Token, err) {
		s.mu.Unlock()
		s.logger.Debug("discarded stale failure", "request", f.req.String(), "err", err)
		return
	}
	s.diag.Report(diag.Diagnostic{Kind: diag.FetchFailed, Message: f.req.String(), Err: err})
	req := f.req
	ev := Event{Kind: FetchFailed, RowCount: s.view.Len(), Request: &req, Err: err}
	fns := s.listeners.snapshot()
	s.mu.Unlock()
	notify(fns, []Event{ev})
}

// finish rebuilds the display, releases the lock, notifies the listeners
// and requests what the viewport still misses. A failed block is only
// retried by the next viewport change, so finish is not used after
// failures.
func (s *Server) finish() {
	s.rebuild()
	count := s.view.Len()
	events := []Event{{Kind: ModelUpdated, RowCount: count, RowCountChanged: count != s.lastCount}}
	s.lastCount = count
	fetches := s.ensureLocked()
	fns := s.listeners.snapshot()
	s.mu.Unlock()
	notify(fns, events)
	s.dispatch(fetches)
}

// update applies fn under the lock and finishes unless fn fails.
func (s *Server) update(fn func() error) error {
	s.mu.Lock()
	if err := fn(); err != nil {
		s.mu.Unlock()
		return err
	}
	s.finish()
	return nil
}

// SetViewport sets the display indices [first, last] that should be loaded.
func (s *Server) SetViewport(first, last int) {
	s.update(func() error {
		s.first, s.last = first, last
		return nil
	})
}

// SetFilterModel replaces the column filters and drops every loaded row.
func (s *Server) SetFilterModel(filters map[string]query.FilterSpec) {
	s.update(func() error {
		s.state.Filters = (&query.State{Filters: filters}).Clone().Filters
		s.resetLocked()
		return nil
	})
}

// SetQuickFilter sets the free text filter and drops every loaded row.
func (s *Server) SetQuickFilter(text string) {
	s.update(func() error {
		s.state.QuickFilter = text
		s.resetLocked()
		return nil
	})
}

// SetSortModel replaces the sort specs and drops every loaded row.
func (s *Server) SetSortModel(specs []query.SortSpec) {
	s.update(func() error {
		s.state.Sort = slices.Clone(specs)
		s.resetLocked()
		return nil
	})
}

// SetRowGroupColumns sets the grouping hierarchy and drops every loaded
// row.
func (s *Server) SetRowGroupColumns(cols []string) {
	s.update(func() error {
		s.state.GroupBy = slices.Clone(cols)
		s.resetLocked()
		return nil
	})
}

// SetAggregations maps value columns to aggregation function names and
// drops every loaded row.
func (s *Server) SetAggregations(aggs map[string]string) {
	s.update(func() error {
		s.state.Aggregations = maps.Clone(aggs)
		s.resetLocked()
		return nil
	})
}

// SetPivotMode fails when asked to turn pivot mode on.
func (s *Server) SetPivotMode(on bool) error {
	if on {
		return fmt.Errorf("pivot mode: %w", ErrClientSideOnly)
	}
	return nil
}

// SetPivotColumns fails unless cols is empty.
func (s *Server) SetPivotColumns(cols []string) error {
	if len(cols) > 0 {
		return fmt.Errorf("pivot columns: %w", ErrClientSideOnly)
	}
	return nil
}

// ApplyState replaces the view state and drops every loaded row. Groups
// listed in Expanded are expanded when they arrive.
func (s *Server) ApplyState(st query.State) error {
	if err := st.Validate(); err != nil {
		return err
	}
	if st.PivotMode || len(st.Pivot) > 0 {
		return fmt.Errorf("pivot: %w", ErrClientSideOnly)
	}
	return s.update(func() error {
		s.state = *st.Clone()
		s.state.Version = query.CurrentVersion
		s.state.Expanded = nil
		s.expanded = make(map[string]bool, len(st.Expanded))
		for _, id := range st.Expanded {
			s.expanded[id] = true
		}
		s.resetLocked()
		return nil
	})
}

// State returns the view state. Expanded lists the expanded groups that are
// loaded.
func (s *Server) State() *query.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.state.Clone()
	st.Version = query.CurrentVersion
	for _, gs := range s.stores {
		gs.store.ForEachRow(func(n *rows.Node) {
			if n.IsGroup() && n.Expanded() {
				st.Expanded = append(st.Expanded, n.ID())
			}
		})
	}
	slices.Sort(st.Expanded)
	return st
}

// findGroup returns the loaded group row with the given id.
func (s *Server) findGroup(id string) (*rows.Node, bool) {
	for _, gs := range s.stores {
		var found *rows.Node
		gs.store.ForEachRow(func(n *rows.Node) {
			if n.ID() == id && n.IsGroup() {
				found = n
			}
		})
		if found != nil {
			return found, true
		}
	}
	return nil, false
}

// SetExpanded expands a loaded group, creating the store of its children,
// or collapses it, destroying that store.
func (s *Server) SetExpanded(id string, expanded bool) error {
	return s.update(func() error {
		g, ok := s.findGroup(id)
		if !ok {
			return fmt.Errorf("%w: %s", ErrUnknownRow, id)
		}
		s.expanded[id] = expanded
		g.SetExpanded(expanded)
		if child, ok := s.stores[id]; ok && !expanded {
			s.destroy(child)
		}
		return nil
	})
}

// Refresh reloads the store at route: an empty route is the top level, a
// route of n keys the children of a group at depth n. With purge the rows
// are dropped at once; otherwise they stay visible until replaced.
func (s *Server) Refresh(route []any, purge bool) error {
	return s.update(func() error {
		gs, ok := s.storeAt(route)
		if !ok {
			return fmt.Errorf("%w: no store for route %v", ErrUnknownRow, route)
		}
		if !purge {
			gs.store.MarkStale()
			return nil
		}
		prev := s.cascade
		s.cascade = true
		gs.store.Purge()
		s.cascade = prev
		if cc, ok := childCount(gs.node.Data()); ok {
			gs.store.SetRowCount(cc, true)
		}
		return nil
	})
}

func (s *Server) storeAt(route []any) (*groupStore, bool) {
	for _, gs := range s.stores {
		if len(gs.route) != len(route) {
			continue
		}
		match := true
		for i, k := range route {
			if columns.KeyString(k) != columns.KeyString(gs.route[i]) {
				match = false
				break
			}
		}
		if match {
			return gs, true
		}
	}
	return nil, false
}

// AddListener registers fn for model events. The returned function removes
// it again.
func (s *Server) AddListener(fn func(Event)) (remove func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.listeners.add(fn)
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.listeners.remove(id)
	}
}

// Row returns the displayed row at index i. Rows that are not loaded yet
// are stubs.
func (s *Server) Row(i int) (flatten.DisplayedRow, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view.Row(i)
}

// Len is RowCount, making the model a flatten.Window.
func (s *Server) Len() int { return s.RowCount() }

// RowCount returns the number of displayed rows, stubs included.
func (s *Server) RowCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view.Len()
}

// StoreStats summarises every store by the id of the node owning it.
func (s *Server) StoreStats() map[string]blocks.Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]blocks.Stats, len(s.stores))
	for id, gs := range s.stores {
		out[id] = gs.store.Stats()
	}
	return out
}
