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
	"testing"
	"time"

	"github.com/google/rowmodel/core/query"
	"github.com/google/rowmodel/core/rows"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func medalRecords() []rows.Record {
	return []rows.Record{
		{"athlete": "A", "country": "US", "year": int64(2008), "medals": int64(3)},
		{"athlete": "B", "country": "US", "year": int64(2008), "medals": int64(2)},
		{"athlete": "C", "country": "US", "year": int64(2012), "medals": int64(1)},
		{"athlete": "D", "country": "RU", "year": int64(2008), "medals": int64(1)},
		{"athlete": "E", "country": "FR", "year": int64(2012), "medals": int64(4)},
	}
}

func athletes(res Result) []string {
	var out []string
	for _, r := range res.Rows {
		out = append(out, r["athlete"].(string))
	}
	return out
}

func field(res Result, name string) []any {
	var out []any
	for _, r := range res.Rows {
		out = append(out, r[name])
	}
	return out
}

// fetch runs one request through the asynchronous interface.
func fetch(t *testing.T, src RowSource, ctx context.Context, req Request) (Result, error) {
	t.Helper()
	type outcome struct {
		res Result
		err error
	}
	ch := make(chan outcome, 1)
	src.GetRows(ctx, req, CallbackFuncs{
		OnSuccess: func(r Result) { ch <- outcome{res: r} },
		OnFail:    func(err error) { ch <- outcome{err: err} },
	})
	select {
	case o := <-ch:
		return o.res, o.err
	case <-time.After(5 * time.Second):
		t.Fatal("request timed out")
		return Result{}, nil
	}
}

func TestMemorySourceLeafPaging(t *testing.T) {
	src := NewMemorySource(medalRecords(), nil, MemoryOptions{})
	ctx := context.Background()

	res, err := src.Query(ctx, NewRequest(1, 0, 2))
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B"}, athletes(res))
	assert.Equal(t, 5, res.RowCount)

	req := NewRequest(2, 0, 2)
	req.SortModel = []query.SortSpec{{Column: "medals", Direction: query.Desc}}
	res, err = src.Query(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, []string{"E", "A"}, athletes(res))

	// Equal medal counts keep source order across pages.
	req.StartRow, req.EndRow = 2, 10
	res, err = src.Query(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, []string{"B", "C", "D"}, athletes(res))
	assert.Equal(t, 5, res.RowCount)

	req.StartRow, req.EndRow = 7, 9
	res, err = src.Query(ctx, req)
	require.NoError(t, err)
	assert.Empty(t, res.Rows)
}

func TestMemorySourceGroupLevels(t *testing.T) {
	src := NewMemorySource(medalRecords(), nil, MemoryOptions{})
	ctx := context.Background()

	t.Run("top level", func(t *testing.T) {
		req := NewRequest(1, 0, 10)
		req.RowGroupCols = []string{"country"}
		req.ValueCols = map[string]string{"medals": "sum"}
		res, err := src.Query(ctx, req)
		require.NoError(t, err)
		assert.Equal(t, []any{"US", "RU", "FR"}, field(res, "country"))
		assert.Equal(t, []any{6.0, 1.0, 4.0}, field(res, "medals"))
		assert.Equal(t, []any{3, 1, 1}, field(res, ChildCountField))
		assert.Equal(t, 3, res.RowCount)
	})

	t.Run("child count counts next level groups", func(t *testing.T) {
		req := NewRequest(1, 0, 10)
		req.RowGroupCols = []string{"country", "year"}
		res, err := src.Query(ctx, req)
		require.NoError(t, err)
		assert.Equal(t, []any{2, 1, 1}, field(res, ChildCountField))
	})

	t.Run("inside a group", func(t *testing.T) {
		req := NewRequest(1, 0, 10)
		req.RowGroupCols = []string{"country", "year"}
		req.GroupKeys = []any{"US"}
		req.ValueCols = map[string]string{"medals": "max"}
		res, err := src.Query(ctx, req)
		require.NoError(t, err)
		assert.Equal(t, []any{int64(2008), int64(2012)}, field(res, "year"))
		assert.Equal(t, []any{int64(3), int64(1)}, field(res, "medals"))
		assert.Equal(t, []any{2, 1}, field(res, ChildCountField))
	})

	t.Run("leaves of a group", func(t *testing.T) {
		req := NewRequest(1, 0, 10)
		req.RowGroupCols = []string{"country", "year"}
		req.GroupKeys = []any{"US", int64(2008)}
		res, err := src.Query(ctx, req)
		require.NoError(t, err)
		assert.Equal(t, []string{"A", "B"}, athletes(res))
		assert.Equal(t, 2, res.RowCount)
	})

	t.Run("sorted by aggregate", func(t *testing.T) {
		req := NewRequest(1, 0, 10)
		req.RowGroupCols = []string{"country"}
		req.ValueCols = map[string]string{"medals": "sum"}
		req.SortModel = []query.SortSpec{{Column: "medals", Direction: query.Desc}}
		res, err := src.Query(ctx, req)
		require.NoError(t, err)
		assert.Equal(t, []any{"US", "FR", "RU"}, field(res, "country"))
	})
}

func TestMemorySourceFilters(t *testing.T) {
	src := NewMemorySource(medalRecords(), nil, MemoryOptions{})
	ctx := context.Background()

	req := NewRequest(1, 0, 10)
	req.FilterModel = map[string]query.FilterSpec{"medals": {Type: query.FilterNumber, Op: "greaterThan", Value: 1}}
	res, err := src.Query(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B", "E"}, athletes(res))
	assert.Equal(t, 3, res.RowCount)

	req = NewRequest(2, 0, 10)
	req.QuickFilter = "us"
	res, err = src.Query(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B", "C"}, athletes(res))
}

func TestMemorySourceErrors(t *testing.T) {
	src := NewMemorySource(medalRecords(), nil, MemoryOptions{})
	ctx := context.Background()

	req := NewRequest(1, 0, 10)
	req.RowGroupCols = []string{"nope"}
	_, err := src.Query(ctx, req)
	assert.ErrorIs(t, err, ErrUnknownColumn)

	req = NewRequest(1, 0, 10)
	req.SortModel = []query.SortSpec{{Column: "nope"}}
	_, err = src.Query(ctx, req)
	assert.ErrorIs(t, err, ErrUnknownColumn)

	req = NewRequest(1, 0, 10)
	req.RowGroupCols = []string{"country"}
	req.ValueCols = map[string]string{"medals": "median"}
	_, err = src.Query(ctx, req)
	assert.ErrorIs(t, err, ErrUnsupportedAggregation)

	_, err = src.Query(ctx, NewRequest(1, 5, 2))
	assert.Error(t, err)
}

func TestMemorySourceReturnsCopies(t *testing.T) {
	records := medalRecords()
	src := NewMemorySource(records, nil, MemoryOptions{})
	res, err := src.Query(context.Background(), NewRequest(1, 0, 1))
	require.NoError(t, err)
	res.Rows[0]["athlete"] = "changed"
	assert.Equal(t, "A", records[0]["athlete"])
}

func TestMemorySourceAsync(t *testing.T) {
	src := NewMemorySource(medalRecords(), nil, MemoryOptions{Latency: 10 * time.Millisecond})

	res, err := fetch(t, src, context.Background(), NewRequest(1, 0, 3))
	require.NoError(t, err)
	assert.Len(t, res.Rows, 3)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = fetch(t, src, ctx, NewRequest(2, 0, 3))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestMemorySourceSetRecords(t *testing.T) {
	src := NewMemorySource(medalRecords(), nil, MemoryOptions{})
	src.SetRecords(medalRecords()[:2])
	assert.Equal(t, 2, src.Len())
	res, err := src.Query(context.Background(), NewRequest(1, 0, 10))
	require.NoError(t, err)
	assert.Equal(t, 2, res.RowCount)
}
