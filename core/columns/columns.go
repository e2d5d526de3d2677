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

// Package columns describes the columns of a grid: where a column's value
// comes from, how it is keyed for grouping and how it compares for sorting.
// It is the value and comparator service the row model stages call into.
package columns

import (
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/google/rowmodel/core/rows"
	"github.com/ohler55/ojg/jp"
)

// Type is the declared data type of a column. TypeAuto lets comparisons and
// aggregations inspect each value.
type Type int

const (
	TypeAuto Type = iota
	TypeNumber
	TypeString
	TypeDate
	TypeBool
)

// Column defines one column.
type Column struct {
	// ID must not contain any of the following characters: & = : , /
	ID         string
	HeaderName string
	// Field is the record key holding the value. A field starting with "$" is
	// a JSONPath evaluated against the record. Defaults to ID.
	Field string
	Type  Type
	// ValueGetter overrides Field.
	ValueGetter func(rows.Record) any
	// KeyFunc derives the group key from the value. Defaults to the value.
	KeyFunc func(any) any
	// Comparator overrides the default comparator.
	Comparator func(a, b any) int
	// AggFunc is the aggregation used when the column is a value column and
	// no function is given explicitly.
	AggFunc string

	path jp.Expr
}

// DisplayName returns the header name, falling back to the id.
func (c *Column) DisplayName() string {
	if c.HeaderName != "" {
		return c.HeaderName
	}
	return c.ID
}

// Value extracts the column value from a record.
func (c *Column) Value(r rows.Record) any {
	if r == nil {
		return nil
	}
	if c.ValueGetter != nil {
		return c.ValueGetter(r)
	}
	if c.path != nil {
		results := c.path.Get(map[string]any(r))
		if len(results) == 0 {
			return nil
		}
		return results[0]
	}
	if c.Field != "" {
		return r[c.Field]
	}
	return r[c.ID]
}

// KeyOf returns the group key of the record for this column.
func (c *Column) KeyOf(r rows.Record) any {
	v := c.Value(r)
	if c.KeyFunc != nil {
		return c.KeyFunc(v)
	}
	return v
}

// Text returns the value as text, for text matching.
func (c *Column) Text(r rows.Record) string {
	v := c.Value(r)
	if v == nil {
		return ""
	}
	return KeyString(v)
}

func (c *Column) compile() error {
	if c.ID == "" {
		return fmt.Errorf("column id is empty")
	}
	if strings.ContainsAny(c.ID, "&=:,/") {
		return fmt.Errorf("column id %q contains a reserved character", c.ID)
	}
	if strings.HasPrefix(c.Field, "$") {
		x, err := jp.ParseString(c.Field)
		if err != nil {
			return fmt.Errorf("invalid jsonpath %q for column %q: %w", c.Field, c.ID, err)
		}
		c.path = x
	}
	return nil
}

// Set is an ordered collection of column definitions plus the default
// comparators.
type Set struct {
	order       []*Column
	byID        map[string]*Column
	comparators *Comparators
}

// NewSet validates and indexes the columns. Duplicate ids and invalid paths
// are errors.
func NewSet(cols ...*Column) (*Set, error) {
	s := &Set{
		byID:        make(map[string]*Column, len(cols)),
		comparators: NewComparators(DefaultLanguage),
	}
	for _, c := range cols {
		if err := s.Add(c); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// MustSet is NewSet that panics on error, for static definitions.
func MustSet(cols ...*Column) *Set {
	s, err := NewSet(cols...)
	if err != nil {
		panic(err)
	}
	return s
}

// InferSet defines one auto typed column per distinct top level key seen in
// the records, in sorted order.
func InferSet(records []rows.Record) *Set {
	seen := make(map[string]struct{})
	for _, r := range records {
		for k := range r {
			seen[k] = struct{}{}
		}
	}
	s := &Set{byID: make(map[string]*Column, len(seen)), comparators: NewComparators(DefaultLanguage)}
	for _, k := range slices.Sorted(maps.Keys(seen)) {
		if strings.ContainsAny(k, "&=:,/") {
			continue
		}
		c := &Column{ID: k}
		s.order = append(s.order, c)
		s.byID[k] = c
	}
	return s
}

// Add registers another column.
func (s *Set) Add(c *Column) error {
	if err := c.compile(); err != nil {
		return err
	}
	if _, dup := s.byID[c.ID]; dup {
		return fmt.Errorf("duplicate column id %q", c.ID)
	}
	s.order = append(s.order, c)
	s.byID[c.ID] = c
	return nil
}

// SetComparators replaces the default comparators, e.g. for another locale.
func (s *Set) SetComparators(c *Comparators) {
	s.comparators = c
}

// Get returns the column with the given id.
func (s *Set) Get(id string) (*Column, bool) {
	c, ok := s.byID[id]
	return c, ok
}

// All returns the columns in definition order.
func (s *Set) All() []*Column {
	return s.order
}

// IDs returns the column ids in definition order.
func (s *Set) IDs() []string {
	ids := make([]string, len(s.order))
	for i, c := range s.order {
		ids[i] = c.ID
	}
	return ids
}

// Compare compares two values of column id using its comparator, or the
// default comparator for unknown columns.
func (s *Set) Compare(id string, a, b any) int {
	if c, ok := s.byID[id]; ok && c.Comparator != nil {
		return c.Comparator(a, b)
	}
	return s.comparators.Compare(a, b)
}

// Comparators returns the default comparators.
func (s *Set) Comparators() *Comparators {
	return s.comparators
}
