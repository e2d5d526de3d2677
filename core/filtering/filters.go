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

package filtering

import (
	"fmt"
	"strings"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/rowmodel/core/columns"
	"github.com/google/rowmodel/core/rows"
)

// Filter is one column predicate.
type Filter interface {
	// IsActive reports whether the filter restricts anything. Inactive
	// filters are skipped.
	IsActive() bool
	// Passes tests the column value of a row. For post aggregation filtering
	// of groups, value is the group's aggregate and row its aggregates.
	Passes(value any, row rows.Record) bool
}

// Predicate adapts a function to Filter. A nil Predicate is inactive.
type Predicate func(value any, row rows.Record) bool

func (p Predicate) IsActive() bool { return p != nil }

func (p Predicate) Passes(value any, row rows.Record) bool {
	return p == nil || p(value, row)
}

// Text filter operators. The empty operator uses the match language of
// Match.
const (
	OpMatch       = ""
	OpContains    = "contains"
	OpNotContains = "notContains"
	OpEquals      = "equals"
	OpNotEqual    = "notEqual"
	OpStartsWith  = "startsWith"
	OpEndsWith    = "endsWith"
)

// TextFilter matches the text of a value, case insensitively.
type TextFilter struct {
	Op      string
	Pattern string
}

func (f *TextFilter) IsActive() bool { return f != nil && f.Pattern != "" }

func (f *TextFilter) Passes(value any, _ rows.Record) bool {
	text := ""
	if value != nil {
		text = strings.ToLower(columns.KeyString(value))
	}
	pattern := strings.ToLower(f.Pattern)
	switch f.Op {
	case OpContains:
		return strings.Contains(text, pattern)
	case OpNotContains:
		return !strings.Contains(text, pattern)
	case OpEquals:
		return text == pattern
	case OpNotEqual:
		return text != pattern
	case OpStartsWith:
		return strings.HasPrefix(text, pattern)
	case OpEndsWith:
		return strings.HasSuffix(text, pattern)
	default:
		return Match(pattern, text)
	}
}

// Match evaluates a filter expression against a value.
//
// Syntax: a double quoted term is an exact match, a single quoted term is a
// contains match and a bare term is an exact match. A term may be negated
// with !. Terms are joined with & (and) and | (or); & binds tighter than |.
// Parentheses are not supported.
//
//	"CLOSED"         exact match
//	'CLOS'           contains
//	"CLOSED"|"OPEN"  either
//	'a'&!'b'         contains a but not b
func Match(filter string, value string) bool {
	for _, or := range strings.Split(filter, "|") {
		matched := true
		for _, and := range strings.Split(or, "&") {
			if !matchTerm(strings.TrimSpace(and), value) {
				matched = false
				break
			}
		}
		if matched {
			return true
		}
	}
	return false
}

func matchTerm(term, value string) bool {
	not := false
	if strings.HasPrefix(term, "!") {
		not = true
		term = term[1:]
	}
	match := false
	switch {
	case len(term) >= 2 && term[0] == '"' && term[len(term)-1] == '"':
		match = value == term[1:len(term)-1]
	case len(term) >= 2 && term[0] == '\'' && term[len(term)-1] == '\'':
		match = strings.Contains(value, term[1:len(term)-1])
	case term != "":
		match = value == term
	}
	return match != not
}

// Number filter operators.
const (
	OpLessThan           = "lessThan"
	OpLessThanOrEqual    = "lessThanOrEqual"
	OpGreaterThan        = "greaterThan"
	OpGreaterThanOrEqual = "greaterThanOrEqual"
	OpInRange            = "inRange"
	OpBlank              = "blank"
	OpNotBlank           = "notBlank"
)

// NumberFilter compares numeric values. Values that are not numbers only
// pass the blank operator.
type NumberFilter struct {
	Op    string
	Value float64
	// To is the inclusive upper bound of inRange.
	To float64
}

func (f *NumberFilter) IsActive() bool { return f != nil && f.Op != "" }

func (f *NumberFilter) Passes(value any, _ rows.Record) bool {
	v, ok := columns.ToFloat(value)
	switch f.Op {
	case OpBlank:
		return !ok
	case OpNotBlank:
		return ok
	}
	if !ok {
		return false
	}
	switch f.Op {
	case OpEquals:
		return v == f.Value
	case OpNotEqual:
		return v != f.Value
	case OpLessThan:
		return v < f.Value
	case OpLessThanOrEqual:
		return v <= f.Value
	case OpGreaterThan:
		return v > f.Value
	case OpGreaterThanOrEqual:
		return v >= f.Value
	case OpInRange:
		return v >= f.Value && v <= f.To
	}
	return false
}

// SetFilter passes values whose key string is one of the allowed values.
// A SetFilter with no allowed set is inactive; an empty allowed set
// passes nothing.
type SetFilter struct {
	allowed map[string]struct{}
}

// NewSetFilter creates a set filter allowing values.
func NewSetFilter(values ...any) *SetFilter {
	f := &SetFilter{allowed: make(map[string]struct{}, len(values))}
	for _, v := range values {
		f.allowed[columns.KeyString(v)] = struct{}{}
	}
	return f
}

func (f *SetFilter) IsActive() bool { return f != nil && f.allowed != nil }

func (f *SetFilter) Passes(value any, _ rows.Record) bool {
	_, ok := f.allowed[columns.KeyString(value)]
	return ok
}

// ExpressionFilter evaluates a CEL expression over the variables value (the
// column value) and row (the record). The expression must yield a bool;
// evaluation errors fail the row.
type ExpressionFilter struct {
	Expression string
	program    cel.Program
}

// NewExpressionFilter compiles expression.
func NewExpressionFilter(expression string) (*ExpressionFilter, error) {
	if expression == "" {
		return nil, fmt.Errorf("expression can't be empty")
	}
	env, err := cel.NewEnv(
		cel.Variable("value", cel.DynType),
		cel.Variable("row", cel.MapType(cel.StringType, cel.DynType)),
		cel.CrossTypeNumericComparisons(true),
	)
	if err != nil {
		return nil, fmt.Errorf("error creating CEL environment: %w", err)
	}
	ast, issues := env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("error compiling CEL expression %q: %w", expression, issues.Err())
	}
	p, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("error creating program for %q: %w", expression, err)
	}
	return &ExpressionFilter{Expression: expression, program: p}, nil
}

func (f *ExpressionFilter) IsActive() bool { return f != nil && f.program != nil }

func (f *ExpressionFilter) Passes(value any, row rows.Record) bool {
	if row == nil {
		row = rows.Record{}
	}
	out, _, err := f.program.Eval(map[string]any{
		"value": value,
		"row":   row,
	})
	if err != nil {
		return false
	}
	return out == types.True
}
