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

package views

import (
	"net/url"
	"strconv"
	"time"

	"github.com/google/rowmodel/core/columns"
	"github.com/google/rowmodel/core/flatten"
	"github.com/google/rowmodel/core/grouping"
	"github.com/google/rowmodel/core/query"
	"github.com/google/rowmodel/core/rows"
	"github.com/google/safehtml"
)

// GridViewModel contains one window of displayed rows formatted for template
// consumption.
type GridViewModel struct {
	Title           string
	Columns         []ColumnInfo
	ShowGroupColumn bool
	Rows            []RowInfo
	QuickFilter     string
	CurrentURL      safehtml.URL
	Diagnostics     []string

	// Pagination info
	TotalRows int // Number of displayed rows in the grid
	From      int // First display index shown
	To        int // One past the last display index shown
	HasPrev   bool
	HasNext   bool
	PrevURL   safehtml.URL
	NextURL   safehtml.URL
}

// ColumnInfo describes a column header.
type ColumnInfo struct {
	ID            string
	DisplayName   string
	CanGroup      bool // Only defined columns can be grouped
	IsGrouped     bool
	SortDirection string       // "asc", "desc" or ""
	SortURL       safehtml.URL // Cycles the column's sort
	GroupURL      safehtml.URL // Toggles grouping by the column
}

// RowInfo is one displayed row.
type RowInfo struct {
	Index     int
	ID        string
	Kind      string
	Level     int
	Label     string // Group key, footer title or loading marker
	IsGroup   bool
	IsFooter  bool
	IsStub    bool
	Expanded  bool
	ToggleURL safehtml.URL // Expands or collapses a group row
	Cells     []CellInfo

	HasFilterURL bool
	FilterURL    safehtml.URL // Filters on a group row's key and ungroups its column
}

// Indents returns one element per indentation step, for ranging over in
// templates.
func (r RowInfo) Indents() []struct{} {
	return make([]struct{}, max(0, r.Level))
}

// CellInfo is one cell of a displayed row.
type CellInfo struct {
	Text    string
	HasLink bool
	Link    safehtml.URL
}

// Linker resolves a link for a cell value, or returns "" for none.
type Linker func(column, value string) string

// Params configures BuildViewModel.
type Params struct {
	Title string
	// Path is the URL path toggle and page links point at.
	Path    string
	State   *query.State
	Columns []Column
	// From and To select display indexes [From, To). To <= 0 means a single
	// page of DefaultPageSize rows.
	From, To    int
	Link        Linker
	Diagnostics []string
}

// DefaultPageSize is the number of rows shown when no range is given.
const DefaultPageSize = 100

// Column is one displayed column. Def is nil for generated columns such as
// pivot result columns, whose cells only hold aggregates.
type Column struct {
	ID     string
	Header string
	Def    *columns.Column
}

// ColumnsOf returns the display columns for ids, or for every defined column
// when ids is empty. Unknown ids are skipped.
func ColumnsOf(set *columns.Set, ids []string) []Column {
	if len(ids) == 0 {
		ids = set.IDs()
	}
	out := make([]Column, 0, len(ids))
	for _, id := range ids {
		if c, ok := set.Get(id); ok {
			out = append(out, Column{ID: c.ID, Header: c.DisplayName(), Def: c})
		}
	}
	return out
}

// DisplayColumns picks the columns to show for a state. In pivot mode with
// pivot result columns, these follow the grouped columns and replace the
// rest.
func DisplayColumns(set *columns.Set, st *query.State, pivots []grouping.PivotColumn) []Column {
	if st == nil || !st.PivotMode || len(pivots) == 0 {
		return ColumnsOf(set, nil)
	}
	out := ColumnsOf(set, st.GroupBy)
	for _, p := range pivots {
		out = append(out, Column{ID: p.ID, Header: p.HeaderName()})
	}
	return out
}

// FormatValue renders a cell value. nil renders empty.
func FormatValue(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case time.Time:
		return columns.FormatTime(x)
	case time.Duration:
		return columns.FormatDuration(x)
	}
	return columns.KeyString(v)
}

// CellText returns the text of one cell. Aggregates win over data, so group
// and footer rows show their aggregated values.
func CellText(r rows.View, c Column) string {
	if r.IsStub() {
		return ""
	}
	if v, ok := r.Aggregate(c.ID); ok {
		return FormatValue(v)
	}
	if r.Kind() == rows.KindGroup && c.ID == r.GroupColumn() {
		return FormatValue(r.GroupKey())
	}
	if c.Def != nil && r.Data() != nil {
		return FormatValue(c.Def.Value(r.Data()))
	}
	return ""
}

// Label returns the text shown in the group column.
func Label(r rows.View) string {
	switch {
	case r.IsStub():
		return "..."
	case r.Kind() == rows.KindFooter:
		if r.GroupKey() == nil {
			return "Total"
		}
		return "Total " + FormatValue(r.GroupKey())
	case r.Kind() == rows.KindGroup:
		s := FormatValue(r.GroupKey())
		if s == "" {
			s = "(blank)"
		}
		return s
	}
	return ""
}

// BuildViewModel formats rows [p.From, p.To) of the window.
func BuildViewModel(w flatten.Window, p Params) GridViewModel {
	st := p.State
	if st == nil {
		st = &query.State{Version: query.CurrentVersion}
	}
	from, to := clampRange(p.From, p.To, w.Len())
	base := st.ToURL(p.Path)

	vm := GridViewModel{
		Title:       p.Title,
		QuickFilter: st.QuickFilter,
		CurrentURL:  safehtml.URLSanitized(base),
		Diagnostics: p.Diagnostics,
		TotalRows:   w.Len(),
		From:        from,
		To:          to,
		HasPrev:     from > 0,
		HasNext:     to < w.Len(),
	}
	size := to - from
	if size <= 0 {
		size = DefaultPageSize
	}
	if vm.HasPrev {
		vm.PrevURL = pageURL(base, max(0, from-size), from)
	}
	if vm.HasNext {
		vm.NextURL = pageURL(base, to, to+size)
	}

	for _, c := range p.Columns {
		vm.Columns = append(vm.Columns, ColumnInfo{
			ID:            c.ID,
			DisplayName:   c.Header,
			CanGroup:      c.Def != nil,
			IsGrouped:     st.IsColumnGrouped(c.ID),
			SortDirection: string(st.SortDirection(c.ID)),
			SortURL:       st.WithSortToggled(p.Path, c.ID),
			GroupURL:      st.WithGroupedColumnToggled(p.Path, c.ID),
		})
	}

	for i := from; i < to; i++ {
		dr, ok := w.Row(i)
		if !ok {
			continue
		}
		r := dr.Row
		info := RowInfo{
			Index:    dr.Index,
			ID:       r.ID(),
			Kind:     r.Kind().String(),
			Level:    r.Level(),
			Label:    Label(r),
			IsGroup:  r.Kind() == rows.KindGroup,
			IsFooter: r.Kind() == rows.KindFooter,
			IsStub:   r.IsStub(),
			Expanded: r.Expanded(),
		}
		if info.IsGroup || info.IsFooter || info.IsStub || info.Level > 0 {
			vm.ShowGroupColumn = true
		}
		if info.IsGroup && !info.IsStub {
			info.ToggleURL = st.WithExpandedToggled(p.Path, r.ID())
			if col := r.GroupColumn(); st.IsColumnGrouped(col) {
				info.HasFilterURL = true
				info.FilterURL = st.WithFilterAndUngrouped(p.Path, col, FormatValue(r.GroupKey()))
			}
		}
		for _, c := range p.Columns {
			cell := CellInfo{Text: CellText(r, c)}
			if p.Link != nil && r.Kind() == rows.KindLeaf && cell.Text != "" {
				if link := p.Link(c.ID, cell.Text); link != "" {
					cell.HasLink = true
					cell.Link = safehtml.URLSanitized(link)
				}
			}
			info.Cells = append(info.Cells, cell)
		}
		vm.Rows = append(vm.Rows, info)
	}
	return vm
}

func clampRange(from, to, n int) (int, int) {
	from = max(0, min(from, n))
	if to <= 0 {
		to = from + DefaultPageSize
	}
	return from, max(from, min(to, n))
}

// pageURL adds the display range to a state URL.
func pageURL(base string, from, to int) safehtml.URL {
	u, err := url.Parse(base)
	if err != nil {
		return safehtml.URLSanitized(base)
	}
	q := u.Query()
	q.Set("from", strconv.Itoa(from))
	q.Set("to", strconv.Itoa(to))
	u.RawQuery = q.Encode()
	return safehtml.URLSanitized(u.String())
}

// ParseRange reads the from and to parameters of a request URL.
func ParseRange(u *url.URL) (from, to int) {
	q := u.Query()
	from, _ = strconv.Atoi(q.Get("from"))
	to, _ = strconv.Atoi(q.Get("to"))
	return from, to
}
