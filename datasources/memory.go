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

package datasources

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/google/rowmodel/core/aggregates"
	"github.com/google/rowmodel/core/columns"
	"github.com/google/rowmodel/core/diag"
	"github.com/google/rowmodel/core/filtering"
	"github.com/google/rowmodel/core/query"
	"github.com/google/rowmodel/core/rows"
)

// MemoryOptions configures a MemorySource.
type MemoryOptions struct {
	// Registry resolves aggregation functions. Defaults to the built ins.
	Registry *aggregates.Registry
	// QuickFilterColumns limits the columns searched by the quick filter.
	QuickFilterColumns []string
	// Latency delays every answer, to simulate a remote source.
	Latency  time.Duration
	Reporter *diag.Reporter
	Logger   *slog.Logger
}

// MemorySource serves requests from records held in memory. It filters,
// groups one level at a time with aggregates, sorts and pages like a remote
// server would.
type MemorySource struct {
	mu      sync.RWMutex
	records []rows.Record
	cols    *columns.Set
	opts    MemoryOptions
	filters *filtering.Stage
	logger  *slog.Logger
}

// NewMemorySource creates a source over records. A nil column set is
// inferred from the records.
func NewMemorySource(records []rows.Record, cols *columns.Set, opts MemoryOptions) *MemorySource {
	if cols == nil {
		cols = columns.InferSet(records)
	}
	if opts.Registry == nil {
		opts.Registry = aggregates.NewRegistry(cols.Comparators())
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &MemorySource{
		records: records,
		cols:    cols,
		opts:    opts,
		filters: filtering.NewStage(cols, filtering.Options{QuickFilterColumns: opts.QuickFilterColumns}, opts.Reporter, logger),
		logger:  logger,
	}
}

// SetRecords replaces the data served.
func (s *MemorySource) SetRecords(records []rows.Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = records
}

// Len returns the number of records held.
func (s *MemorySource) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// GetRows answers on a new goroutine.
func (s *MemorySource) GetRows(ctx context.Context, req Request, cb Callback) {
	s.logger.Debug("memory source request", "request", req.String())
	go deliver(ctx, s, req, cb)
}

// Query answers synchronously.
func (s *MemorySource) Query(ctx context.Context, req Request) (Result, error) {
	if err := req.Validate(); err != nil {
		return Result{}, err
	}
	if s.opts.Latency > 0 {
		t := time.NewTimer(s.opts.Latency)
		defer t.Stop()
		select {
		case <-t.C:
		case <-ctx.Done():
			return Result{}, ctx.Err()
		}
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	groupCols := make([]*columns.Column, len(req.RowGroupCols))
	for i, id := range req.RowGroupCols {
		c, ok := s.cols.Get(id)
		if !ok {
			return Result{}, fmt.Errorf("group column %q: %w", id, ErrUnknownColumn)
		}
		groupCols[i] = c
	}

	compiled := s.filters.Compile(filtering.FromSpecs(req.FilterModel, s.opts.Reporter), req.QuickFilter)
	var matching []rows.Record
	for _, r := range s.records {
		if !compiled.Passes(r) || !inGroup(r, groupCols, req.GroupKeys) {
			continue
		}
		matching = append(matching, r)
	}

	var out []rows.Record
	value := func(c *columns.Column, r rows.Record) any { return c.Value(r) }
	if req.IsGroupLevel() {
		var err error
		if out, err = s.groupRows(matching, groupCols, req); err != nil {
			return Result{}, err
		}
		value = func(c *columns.Column, r rows.Record) any { return r[c.ID] }
	} else {
		out = make([]rows.Record, len(matching))
		for i, r := range matching {
			out[i] = maps.Clone(r)
		}
	}

	specs := query.SortedSpecs(req.SortModel)
	sortCols := make([]*columns.Column, len(specs))
	for i, spec := range specs {
		c, ok := s.cols.Get(spec.Column)
		if !ok {
			return Result{}, fmt.Errorf("sort column %q: %w", spec.Column, ErrUnknownColumn)
		}
		sortCols[i] = c
	}
	cmp := func(a, b int) int {
		for i, c := range sortCols {
			r := s.cols.Compare(c.ID, value(c, out[a]), value(c, out[b]))
			if r == 0 {
				continue
			}
			if specs[i].Direction == query.Desc {
				return -r
			}
			return r
		}
		return 0
	}
	order := sortedTopK(len(out), req.EndRow, cmp)

	page := make([]rows.Record, 0, max(0, min(req.EndRow, len(order))-req.StartRow))
	for i := req.StartRow; i < len(order) && i < req.EndRow; i++ {
		page = append(page, out[order[i]])
	}
	return Result{Rows: page, RowCount: len(out)}, nil
}

// inGroup reports whether r belongs to the group identified by keys.
func inGroup(r rows.Record, groupCols []*columns.Column, keys []any) bool {
	for lvl, key := range keys {
		if columns.KeyString(groupCols[lvl].KeyOf(r)) != columns.KeyString(key) {
			return false
		}
	}
	return true
}

// groupRows builds one record per distinct key of the requested group
// column, in first seen order, carrying the aggregated value columns and the
// number of rows one level down.
func (s *MemorySource) groupRows(matching []rows.Record, groupCols []*columns.Column, req Request) ([]rows.Record, error) {
	level := req.Level()
	col := groupCols[level]

	type bucket struct {
		key     any
		members []rows.Record
	}
	var order []*bucket
	byKey := make(map[string]*bucket)
	for _, r := range matching {
		k := col.KeyOf(r)
		ks := columns.KeyString(k)
		b, ok := byKey[ks]
		if !ok {
			b = &bucket{key: k}
			byKey[ks] = b
			order = append(order, b)
		}
		b.members = append(b.members, r)
	}

	type valueCol struct {
		col *columns.Column
		fn  aggregates.Func
	}
	var values []valueCol
	for _, id := range slices.Sorted(maps.Keys(req.ValueCols)) {
		c, ok := s.cols.Get(id)
		if !ok {
			return nil, fmt.Errorf("value column %q: %w", id, ErrUnknownColumn)
		}
		name := req.ValueCols[id]
		if name == "" {
			name = c.AggFunc
		}
		fn, ok := s.opts.Registry.Lookup(name)
		if !ok {
			return nil, fmt.Errorf("%q on column %q: %w", name, id, ErrUnsupportedAggregation)
		}
		values = append(values, valueCol{c, fn})
	}

	out := make([]rows.Record, len(order))
	for i, b := range order {
		rec := rows.Record{col.ID: b.key}
		if level+1 < len(groupCols) {
			next := groupCols[level+1]
			distinct := make(map[string]struct{})
			for _, m := range b.members {
				distinct[columns.KeyString(next.KeyOf(m))] = struct{}{}
			}
			rec[ChildCountField] = len(distinct)
		} else {
			rec[ChildCountField] = len(b.members)
		}
		for _, v := range values {
			st := v.fn.NewState()
			for _, m := range b.members {
				st.Add(v.col.Value(m))
			}
			rec[v.col.ID] = st.Result(aggregates.Context{Column: v.col.ID})
		}
		out[i] = rec
	}
	return out, nil
}
