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

package query

import (
	"net/url"
	"slices"
	"strconv"
	"strings"

	"github.com/google/safehtml"
)

// URL parameters:
//
//	grouped=country,year          row grouping columns
//	pivot=sport                   pivot columns
//	pivotMode=true
//	sort=country,total:desc       sort model, in order
//	agg=gold:sum,age:avg          aggregations
//	expanded=id1,id2              expanded row ids
//	quick=text                    quick filter
//	filter:country='U'            text filter in the match syntax
//	nfilter:gold=>:3              number filter, op:value

// FromURL parses a state from URL query parameters.
func FromURL(u *url.URL) *State {
	q := u.Query()
	s := &State{
		Version:     CurrentVersion,
		QuickFilter: q.Get("quick"),
		GroupBy:     splitList(q.Get("grouped")),
		Pivot:       splitList(q.Get("pivot")),
		Expanded:    splitList(q.Get("expanded")),
	}
	s.PivotMode, _ = strconv.ParseBool(q.Get("pivotMode"))

	for _, part := range splitList(q.Get("sort")) {
		so := SortSpec{Column: part, Direction: Asc}
		if colonIdx := strings.LastIndex(part, ":"); colonIdx != -1 {
			so.Column = part[:colonIdx]
			if Direction(part[colonIdx+1:]) == Desc {
				so.Direction = Desc
			}
		}
		s.Sort = append(s.Sort, so)
	}

	for _, part := range splitList(q.Get("agg")) {
		col, fn, ok := strings.Cut(part, ":")
		if !ok || col == "" || fn == "" {
			continue
		}
		if s.Aggregations == nil {
			s.Aggregations = make(map[string]string)
		}
		s.Aggregations[col] = fn
	}

	for key, values := range q {
		if len(values) == 0 || values[0] == "" {
			continue
		}
		switch {
		case strings.HasPrefix(key, "filter:"):
			s.setFilter(strings.TrimPrefix(key, "filter:"), FilterSpec{Type: FilterText, Value: values[0]})
		case strings.HasPrefix(key, "nfilter:"):
			op, v, ok := strings.Cut(values[0], ":")
			if !ok {
				continue
			}
			f := FilterSpec{Type: FilterNumber, Op: numberOp(op)}
			if from, to, isRange := strings.Cut(v, ".."); isRange {
				f.Value, f.ValueTo = parseNumber(from), parseNumber(to)
			} else {
				f.Value = parseNumber(v)
			}
			s.setFilter(strings.TrimPrefix(key, "nfilter:"), f)
		}
	}
	return s
}

// ToURL converts the state back to a URL string under path.
func (s *State) ToURL(path string) string {
	u := &url.URL{Path: path}
	q := u.Query()

	if len(s.GroupBy) > 0 {
		q.Set("grouped", strings.Join(s.GroupBy, ","))
	}
	if len(s.Pivot) > 0 {
		q.Set("pivot", strings.Join(s.Pivot, ","))
	}
	if s.PivotMode {
		q.Set("pivotMode", "true")
	}
	if len(s.Sort) > 0 {
		parts := make([]string, 0, len(s.Sort))
		for _, so := range s.SortedSpecs() {
			if so.Direction == Desc {
				parts = append(parts, so.Column+":desc")
			} else {
				parts = append(parts, so.Column)
			}
		}
		q.Set("sort", strings.Join(parts, ","))
	}
	if len(s.Aggregations) > 0 {
		parts := make([]string, 0, len(s.Aggregations))
		for col, fn := range s.Aggregations {
			parts = append(parts, col+":"+fn)
		}
		slices.Sort(parts)
		q.Set("agg", strings.Join(parts, ","))
	}
	if len(s.Expanded) > 0 {
		q.Set("expanded", strings.Join(s.Expanded, ","))
	}
	if s.QuickFilter != "" {
		q.Set("quick", s.QuickFilter)
	}
	for col, f := range s.Filters {
		switch f.Type {
		case FilterText:
			if v, ok := f.Value.(string); ok && v != "" {
				q.Set("filter:"+col, v)
			}
		case FilterNumber:
			v := numberOpSymbol(f.Op) + ":" + formatNumber(f.Value)
			if f.Op == "inRange" {
				v += ".." + formatNumber(f.ValueTo)
			}
			q.Set("nfilter:"+col, v)
		}
	}

	u.RawQuery = q.Encode()
	return u.String()
}

// ToSafeURL converts the state to a safehtml.URL
func (s *State) ToSafeURL(path string) safehtml.URL {
	return safehtml.URLSanitized(s.ToURL(path))
}

// WithSortToggled cycles column through ascending, descending and unsorted,
// keeping the other sorts.
func (s *State) WithSortToggled(path, column string) safehtml.URL {
	n := s.Clone()
	idx := slices.IndexFunc(n.Sort, func(so SortSpec) bool { return so.Column == column })
	switch {
	case idx == -1:
		n.Sort = append(n.Sort, SortSpec{Column: column, Direction: Asc, Order: len(n.Sort)})
	case n.Sort[idx].Direction == Asc:
		n.Sort[idx].Direction = Desc
	default:
		n.Sort = slices.Delete(n.Sort, idx, idx+1)
	}
	return n.ToSafeURL(path)
}

// WithGroupedColumnToggled returns a URL with the grouped column toggled
// If the column is already grouped, it's removed from grouping
// If the column is not grouped, it's added to the end of the grouping order
func (s *State) WithGroupedColumnToggled(path, column string) safehtml.URL {
	n := s.Clone()
	if idx := slices.Index(n.GroupBy, column); idx != -1 {
		n.GroupBy = slices.Delete(n.GroupBy, idx, idx+1)
	} else {
		n.GroupBy = append(n.GroupBy, column)
	}
	return n.ToSafeURL(path)
}

// WithExpandedToggled returns a URL with the row id toggled in the expanded
// list.
func (s *State) WithExpandedToggled(path, id string) safehtml.URL {
	n := s.Clone()
	if idx := slices.Index(n.Expanded, id); idx != -1 {
		n.Expanded = slices.Delete(n.Expanded, idx, idx+1)
	} else {
		n.Expanded = append(n.Expanded, id)
	}
	return n.ToSafeURL(path)
}

// WithFilterAndUngrouped returns a URL that adds a text filter for the column
// and removes it from grouping
func (s *State) WithFilterAndUngrouped(path, column, value string) safehtml.URL {
	n := s.Clone()
	n.setFilter(column, FilterSpec{Type: FilterText, Value: `"` + value + `"`})
	if idx := slices.Index(n.GroupBy, column); idx != -1 {
		n.GroupBy = slices.Delete(n.GroupBy, idx, idx+1)
	}
	return n.ToSafeURL(path)
}

func (s *State) setFilter(column string, f FilterSpec) {
	if s.Filters == nil {
		s.Filters = make(map[string]FilterSpec)
	}
	s.Filters[column] = f
}

func splitList(v string) []string {
	if v == "" {
		return nil
	}
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

var numberOps = map[string]string{
	"=":    "equals",
	"!=":   "notEqual",
	"<":    "lessThan",
	"<=":   "lessThanOrEqual",
	">":    "greaterThan",
	">=":   "greaterThanOrEqual",
	"..":   "inRange",
	"nil":  "blank",
	"!nil": "notBlank",
}

func numberOp(symbol string) string {
	if op, ok := numberOps[symbol]; ok {
		return op
	}
	return symbol
}

func numberOpSymbol(op string) string {
	for sym, name := range numberOps {
		if name == op {
			return sym
		}
	}
	return op
}

func parseNumber(s string) any {
	if s == "" {
		return nil
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	return s
}

func formatNumber(v any) string {
	switch n := v.(type) {
	case nil:
		return ""
	case float64:
		return strconv.FormatFloat(n, 'f', -1, 64)
	case int:
		return strconv.Itoa(n)
	case string:
		return n
	}
	return ""
}
