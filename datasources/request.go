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
	"errors"
	"fmt"

	"github.com/google/rowmodel/core/query"
	"github.com/google/rowmodel/core/rows"
	"github.com/google/uuid"
)

// ChildCountField is the record field a source sets on group rows to report
// how many rows the group contains one level down.
const ChildCountField = "childCount"

var (
	// ErrUnsupportedFilter is returned when a source cannot evaluate a filter.
	ErrUnsupportedFilter = errors.New("unsupported filter")
	// ErrUnsupportedAggregation is returned for unknown aggregation functions.
	ErrUnsupportedAggregation = errors.New("unsupported aggregation")
	// ErrUnknownColumn is returned when a request names a column the source
	// does not have.
	ErrUnknownColumn = errors.New("unknown column")
)

// Request asks a source for the rows [StartRow, EndRow) of one group level.
//
// With len(GroupKeys) < len(RowGroupCols) the rows are the groups of column
// RowGroupCols[len(GroupKeys)] inside the group identified by GroupKeys.
// Otherwise they are the leaf rows inside that group.
type Request struct {
	ID           uuid.UUID
	Token        int64
	StartRow     int
	EndRow       int
	RowGroupCols []string
	GroupKeys    []any
	// ValueCols maps aggregated columns to their function.
	ValueCols   map[string]string
	SortModel   []query.SortSpec
	FilterModel map[string]query.FilterSpec
	QuickFilter string
}

// NewRequest returns a request with a fresh correlation id.
func NewRequest(token int64, start, end int) Request {
	return Request{ID: uuid.New(), Token: token, StartRow: start, EndRow: end}
}

// Level is the depth of the rows requested.
func (r Request) Level() int { return len(r.GroupKeys) }

// IsGroupLevel reports whether the request asks for group rows.
func (r Request) IsGroupLevel() bool { return len(r.GroupKeys) < len(r.RowGroupCols) }

// GroupColumn returns the column grouped at the requested level, or "".
func (r Request) GroupColumn() string {
	if !r.IsGroupLevel() {
		return ""
	}
	return r.RowGroupCols[len(r.GroupKeys)]
}

// Validate checks the request shape.
func (r Request) Validate() error {
	if r.StartRow < 0 || r.EndRow < r.StartRow {
		return fmt.Errorf("invalid row range [%d, %d)", r.StartRow, r.EndRow)
	}
	if len(r.GroupKeys) > len(r.RowGroupCols) {
		return fmt.Errorf("%d group keys for %d group columns", len(r.GroupKeys), len(r.RowGroupCols))
	}
	return nil
}

func (r Request) String() string {
	return fmt.Sprintf("request %s token=%d rows=[%d,%d) level=%d", r.ID, r.Token, r.StartRow, r.EndRow, r.Level())
}

// Result is a successful response. RowCount is the total number of rows at
// the requested level, or -1 when the source does not know it.
type Result struct {
	Rows     []rows.Record
	RowCount int
}

// Callback receives the outcome of a request. Exactly one method is called,
// possibly from another goroutine.
type Callback interface {
	Success(Result)
	Fail(error)
}

// CallbackFuncs adapts two functions to Callback.
type CallbackFuncs struct {
	OnSuccess func(Result)
	OnFail    func(error)
}

func (c CallbackFuncs) Success(r Result) {
	if c.OnSuccess != nil {
		c.OnSuccess(r)
	}
}

func (c CallbackFuncs) Fail(err error) {
	if c.OnFail != nil {
		c.OnFail(err)
	}
}

// RowSource serves paged rows. GetRows must not block the caller for the
// duration of the fetch; results are delivered through cb.
type RowSource interface {
	GetRows(ctx context.Context, req Request, cb Callback)
}

// Querier is a source that can also answer synchronously.
type Querier interface {
	Query(ctx context.Context, req Request) (Result, error)
}

// Async runs a Querier on its own goroutine.
func Async(q Querier) RowSource {
	return asyncSource{q}
}

type asyncSource struct{ q Querier }

func (a asyncSource) GetRows(ctx context.Context, req Request, cb Callback) {
	go deliver(ctx, a.q, req, cb)
}

func deliver(ctx context.Context, q Querier, req Request, cb Callback) {
	res, err := q.Query(ctx, req)
	if err != nil {
		cb.Fail(err)
		return
	}
	cb.Success(res)
}
