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
	"database/sql"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strings"

	"github.com/google/rowmodel/core/aggregates"
	"github.com/google/rowmodel/core/columns"
	"github.com/google/rowmodel/core/filtering"
	"github.com/google/rowmodel/core/query"
	"github.com/google/rowmodel/core/rows"
	_ "modernc.org/sqlite"
)

// sqlAggregates maps aggregation names to SQL functions. count counts rows,
// including rows without a value.
var sqlAggregates = map[string]func(col string) string{
	aggregates.Sum:   func(col string) string { return "SUM(" + col + ")" },
	aggregates.Min:   func(col string) string { return "MIN(" + col + ")" },
	aggregates.Max:   func(col string) string { return "MAX(" + col + ")" },
	aggregates.Avg:   func(col string) string { return "AVG(" + col + ")" },
	aggregates.Count: func(string) string { return "COUNT(*)" },
}

// SQLiteSource serves requests from one SQLite table. Filtering, grouping,
// aggregation, sorting and paging all run in the database.
type SQLiteSource struct {
	db      *sql.DB
	owned   bool
	table   string
	columns []string
	known   map[string]bool
	logger  *slog.Logger
}

// OpenSQLite opens the database file at path and serves table from it.
func OpenSQLite(ctx context.Context, path, table string, logger *slog.Logger) (*SQLiteSource, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	s, err := NewSQLiteSource(ctx, db, table, logger)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	s.owned = true
	return s, nil
}

// NewSQLiteSource serves table from db. The table schema is read once.
func NewSQLiteSource(ctx context.Context, db *sql.DB, table string, logger *slog.Logger) (*SQLiteSource, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &SQLiteSource{db: db, table: table, known: make(map[string]bool), logger: logger}

	info, err := db.QueryContext(ctx, "SELECT name FROM pragma_table_info(?)", table)
	if err != nil {
		return nil, fmt.Errorf("read schema of %q: %w", table, err)
	}
	defer func() { _ = info.Close() }()
	for info.Next() {
		var name string
		if err := info.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan schema of %q: %w", table, err)
		}
		s.columns = append(s.columns, name)
		s.known[name] = true
	}
	if err := info.Err(); err != nil {
		return nil, fmt.Errorf("read schema of %q: %w", table, err)
	}
	if len(s.columns) == 0 {
		return nil, fmt.Errorf("table %q not found", table)
	}
	return s, nil
}

// Close closes the database if the source opened it.
func (s *SQLiteSource) Close() error {
	if !s.owned {
		return nil
	}
	return s.db.Close()
}

// Columns returns the table's column names in schema order.
func (s *SQLiteSource) Columns() []string { return slices.Clone(s.columns) }

// GetRows answers on a new goroutine.
func (s *SQLiteSource) GetRows(ctx context.Context, req Request, cb Callback) {
	s.logger.Debug("sqlite source request", "request", req.String(), "table", s.table)
	go deliver(ctx, s, req, cb)
}

// LoadAll reads every row of the table in rowid order.
func (s *SQLiteSource) LoadAll(ctx context.Context) ([]rows.Record, error) {
	return s.query(ctx, "SELECT * FROM "+quoteIdent(s.table), nil)
}

// Query answers synchronously.
func (s *SQLiteSource) Query(ctx context.Context, req Request) (Result, error) {
	if err := req.Validate(); err != nil {
		return Result{}, err
	}
	for _, c := range req.RowGroupCols {
		if err := s.check(c); err != nil {
			return Result{}, err
		}
	}

	where, args, err := s.where(req)
	if err != nil {
		return Result{}, err
	}
	from := " FROM " + quoteIdent(s.table) + where

	var selectSQL, countSQL string
	if req.IsGroupLevel() {
		group := req.GroupColumn()
		sel := []string{quoteIdent(group)}
		if next := req.Level() + 1; next < len(req.RowGroupCols) {
			// COUNT(DISTINCT) skips NULL, which still forms a group.
			n := quoteIdent(req.RowGroupCols[next])
			sel = append(sel, fmt.Sprintf("COUNT(DISTINCT %s) + MAX(%s IS NULL) AS %s", n, n, quoteIdent(ChildCountField)))
		} else {
			sel = append(sel, "COUNT(*) AS "+quoteIdent(ChildCountField))
		}
		for _, id := range slices.Sorted(maps.Keys(req.ValueCols)) {
			if id == group {
				continue
			}
			if err := s.check(id); err != nil {
				return Result{}, err
			}
			agg, ok := sqlAggregates[req.ValueCols[id]]
			if !ok {
				return Result{}, fmt.Errorf("%q on column %q: %w", req.ValueCols[id], id, ErrUnsupportedAggregation)
			}
			sel = append(sel, agg(quoteIdent(id))+" AS "+quoteIdent(id))
		}
		groupBy := " GROUP BY " + quoteIdent(group)
		order, err := s.orderBy(req.SortModel, func(c string) bool { return c == group || req.ValueCols[c] != "" })
		if err != nil {
			return Result{}, err
		}
		order = append(order, quoteIdent(group))
		selectSQL = "SELECT " + strings.Join(sel, ", ") + from + groupBy + " ORDER BY " + strings.Join(order, ", ")
		countSQL = "SELECT COUNT(*) FROM (SELECT 1" + from + groupBy + ")"
	} else {
		order, err := s.orderBy(req.SortModel, func(string) bool { return true })
		if err != nil {
			return Result{}, err
		}
		order = append(order, "rowid")
		selectSQL = "SELECT *" + from + " ORDER BY " + strings.Join(order, ", ")
		countSQL = "SELECT COUNT(*)" + from
	}
	selectSQL += " LIMIT ? OFFSET ?"

	page, err := s.query(ctx, selectSQL, append(slices.Clone(args), req.EndRow-req.StartRow, req.StartRow))
	if err != nil {
		return Result{}, err
	}
	var count int
	if err := s.db.QueryRowContext(ctx, countSQL, args...).Scan(&count); err != nil {
		return Result{}, fmt.Errorf("count rows: %w", err)
	}
	return Result{Rows: page, RowCount: count}, nil
}

func (s *SQLiteSource) query(ctx context.Context, q string, args []any) ([]rows.Record, error) {
	s.logger.Debug("sqlite query", "sql", q, "args", len(args))
	rs, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query %q: %w", s.table, err)
	}
	defer func() { _ = rs.Close() }() // safe to ignore

	names, err := rs.Columns()
	if err != nil {
		return nil, fmt.Errorf("read columns: %w", err)
	}
	var out []rows.Record
	for rs.Next() {
		values := make([]any, len(names))
		ptrs := make([]any, len(names))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rs.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		rec := make(rows.Record, len(names))
		for i, n := range names {
			if b, ok := values[i].([]byte); ok {
				values[i] = string(b)
			}
			rec[n] = values[i]
		}
		out = append(out, rec)
	}
	if err := rs.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return out, nil
}

func (s *SQLiteSource) check(column string) error {
	if !s.known[column] {
		return fmt.Errorf("column %q of table %q: %w", column, s.table, ErrUnknownColumn)
	}
	return nil
}

func (s *SQLiteSource) orderBy(specs []query.SortSpec, allowed func(string) bool) ([]string, error) {
	var order []string
	for _, spec := range query.SortedSpecs(specs) {
		if err := s.check(spec.Column); err != nil {
			return nil, err
		}
		if !allowed(spec.Column) {
			continue
		}
		dir := " ASC"
		if spec.Direction == query.Desc {
			dir = " DESC"
		}
		order = append(order, quoteIdent(spec.Column)+dir)
	}
	return order, nil
}

// where builds the WHERE clause for the group keys, the column filters and
// the quick filter.
func (s *SQLiteSource) where(req Request) (string, []any, error) {
	var conds []string
	var args []any
	for lvl, key := range req.GroupKeys {
		col := quoteIdent(req.RowGroupCols[lvl])
		if key == nil {
			conds = append(conds, col+" IS NULL")
			continue
		}
		conds = append(conds, col+" = ?")
		args = append(args, key)
	}

	for _, id := range slices.Sorted(maps.Keys(req.FilterModel)) {
		if err := s.check(id); err != nil {
			return "", nil, err
		}
		cond, a, err := filterSQL(quoteIdent(id), req.FilterModel[id])
		if err != nil {
			return "", nil, fmt.Errorf("filter on %q: %w", id, err)
		}
		if cond != "" {
			conds = append(conds, cond)
			args = append(args, a...)
		}
	}

	for _, term := range filtering.QuickTerms(req.QuickFilter) {
		var ors []string
		for _, c := range s.columns {
			ors = append(ors, lowerText(quoteIdent(c))+` LIKE ? ESCAPE '\'`)
			args = append(args, "%"+escapeLike(term)+"%")
		}
		conds = append(conds, "("+strings.Join(ors, " OR ")+")")
	}

	if len(conds) == 0 {
		return "", nil, nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args, nil
}

// filterSQL translates one filter with the semantics of the filtering
// package. An inactive filter yields an empty condition.
func filterSQL(col string, spec query.FilterSpec) (string, []any, error) {
	switch spec.Type {
	case query.FilterText:
		pattern := strings.ToLower(columns.KeyString(orNil(spec.Value)))
		if pattern == "" {
			return "", nil, nil
		}
		return textSQL(lowerText(col), spec.Op, pattern)
	case query.FilterNumber:
		if spec.Op == "" {
			return "", nil, nil
		}
		isNum := "typeof(" + col + ") IN ('integer', 'real')"
		v, _ := columns.ToFloat(spec.Value)
		switch spec.Op {
		case filtering.OpBlank:
			return "NOT " + isNum, nil, nil
		case filtering.OpNotBlank:
			return isNum, nil, nil
		case filtering.OpInRange:
			to, _ := columns.ToFloat(spec.ValueTo)
			return "(" + isNum + " AND " + col + " BETWEEN ? AND ?)", []any{v, to}, nil
		}
		op, ok := map[string]string{
			filtering.OpEquals:             "=",
			filtering.OpNotEqual:           "<>",
			filtering.OpLessThan:           "<",
			filtering.OpLessThanOrEqual:    "<=",
			filtering.OpGreaterThan:        ">",
			filtering.OpGreaterThanOrEqual: ">=",
		}[spec.Op]
		if !ok {
			return "0", nil, nil
		}
		return "(" + isNum + " AND " + col + " " + op + " ?)", []any{v}, nil
	case query.FilterSet:
		if spec.Values == nil {
			return "", nil, nil
		}
		if len(spec.Values) == 0 {
			return "0", nil, nil
		}
		var ors []string
		var args []any
		var marks []string
		for _, v := range spec.Values {
			if v == nil {
				ors = append(ors, col+" IS NULL")
				continue
			}
			marks = append(marks, "?")
			args = append(args, columns.KeyString(v))
		}
		if len(marks) > 0 {
			ors = append(ors, "CAST("+col+" AS TEXT) IN ("+strings.Join(marks, ", ")+")")
		}
		return "(" + strings.Join(ors, " OR ") + ")", args, nil
	}
	return "", nil, fmt.Errorf("%s filter: %w", spec.Type, ErrUnsupportedFilter)
}

func textSQL(text, op, pattern string) (string, []any, error) {
	like := text + ` LIKE ? ESCAPE '\'`
	switch op {
	case filtering.OpContains:
		return like, []any{"%" + escapeLike(pattern) + "%"}, nil
	case filtering.OpNotContains:
		return "NOT " + like, []any{"%" + escapeLike(pattern) + "%"}, nil
	case filtering.OpEquals:
		return text + " = ?", []any{pattern}, nil
	case filtering.OpNotEqual:
		return text + " <> ?", []any{pattern}, nil
	case filtering.OpStartsWith:
		return like, []any{escapeLike(pattern) + "%"}, nil
	case filtering.OpEndsWith:
		return like, []any{"%" + escapeLike(pattern)}, nil
	case filtering.OpMatch:
		return matchSQL(text, pattern)
	}
	return "", nil, fmt.Errorf("text operator %q: %w", op, ErrUnsupportedFilter)
}

// matchSQL translates the match language of filtering.Match.
func matchSQL(text, filter string) (string, []any, error) {
	var ors []string
	var args []any
	for _, or := range strings.Split(filter, "|") {
		var ands []string
		for _, and := range strings.Split(or, "&") {
			term := strings.TrimSpace(and)
			not := strings.HasPrefix(term, "!")
			if not {
				term = term[1:]
			}
			var cond string
			switch {
			case len(term) >= 2 && term[0] == '"' && term[len(term)-1] == '"':
				cond = text + " = ?"
				args = append(args, term[1:len(term)-1])
			case len(term) >= 2 && term[0] == '\'' && term[len(term)-1] == '\'':
				cond = text + ` LIKE ? ESCAPE '\'`
				args = append(args, "%"+escapeLike(term[1:len(term)-1])+"%")
			case term != "":
				cond = text + " = ?"
				args = append(args, term)
			default:
				cond = "0"
			}
			if not {
				cond = "NOT " + cond
			}
			ands = append(ands, cond)
		}
		ors = append(ors, "("+strings.Join(ands, " AND ")+")")
	}
	return "(" + strings.Join(ors, " OR ") + ")", args, nil
}

func lowerText(col string) string {
	return "LOWER(COALESCE(CAST(" + col + " AS TEXT), ''))"
}

func orNil(v any) any {
	if v == nil {
		return ""
	}
	return v
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string { return likeEscaper.Replace(s) }
