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

// Package aggregates provides aggregate state types for hierarchical aggregation.
// These types store intermediate state that can be combined up a grouping hierarchy,
// allowing aggregates to be computed at leaf level and merged up to parent groups.
package aggregates

import (
	"slices"
	"sync"

	"github.com/google/rowmodel/core/columns"
	"github.com/google/rowmodel/core/rows"
)

// Context tells a result function which node and column it is computing.
type Context struct {
	Node   rows.View
	Column string
}

// State is the intermediate state of one aggregate on one node.
type State interface {
	// Add adds a single leaf value.
	Add(value any)
	// Combine merges the state of a child group into this one.
	Combine(other State)
	// Result returns the final value. Empty states return nil, except count.
	Result(ctx Context) any
}

// Func creates states for one aggregation function.
type Func interface {
	NewState() State
}

// FuncOf adapts a state constructor to Func.
type FuncOf func() State

func (f FuncOf) NewState() State { return f() }

// CustomFunc is a user aggregation. It receives every contributing leaf value
// of the node's subtree.
type CustomFunc func(values []any, ctx Context) any

// Custom wraps a CustomFunc.
func Custom(fn CustomFunc) Func {
	return FuncOf(func() State { return &customState{fn: fn} })
}

// Names of the built in functions.
const (
	Sum   = "sum"
	Min   = "min"
	Max   = "max"
	Count = "count"
	Avg   = "avg"
	First = "first"
	Last  = "last"
)

// Registry looks up aggregation functions by name.
type Registry struct {
	mu    sync.RWMutex
	funcs map[string]Func
	cmp   *columns.Comparators
}

// NewRegistry returns a registry holding the built in functions. min and max
// order values with cmp.
func NewRegistry(cmp *columns.Comparators) *Registry {
	if cmp == nil {
		cmp = columns.NewComparators(columns.DefaultLanguage)
	}
	r := &Registry{funcs: make(map[string]Func), cmp: cmp}
	r.funcs[Sum] = FuncOf(func() State { return &sumState{} })
	r.funcs[Avg] = FuncOf(func() State { return &avgState{} })
	r.funcs[Count] = FuncOf(func() State { return &countState{} })
	r.funcs[Min] = FuncOf(func() State { return &extremeState{cmp: cmp, sign: -1} })
	r.funcs[Max] = FuncOf(func() State { return &extremeState{cmp: cmp, sign: 1} })
	r.funcs[First] = FuncOf(func() State { return &edgeState{first: true} })
	r.funcs[Last] = FuncOf(func() State { return &edgeState{} })
	return r
}

// Register adds or replaces a function.
func (r *Registry) Register(name string, f Func) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.funcs[name] = f
}

// Lookup returns the function registered under name.
func (r *Registry) Lookup(name string) (Func, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.funcs[name]
	return f, ok
}

// Names returns the registered names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.funcs))
	for n := range r.funcs {
		names = append(names, n)
	}
	slices.Sort(names)
	return names
}

// sumState sums numeric values. Non numeric values are ignored.
type sumState struct {
	count int64
	sum   float64
}

func (s *sumState) Add(v any) {
	if f, ok := columns.ToFloat(v); ok {
		s.count++
		s.sum += f
	}
}

func (s *sumState) Combine(other State) {
	o, ok := other.(*sumState)
	if !ok || o.count == 0 {
		return
	}
	s.count += o.count
	s.sum += o.sum
}

func (s *sumState) Result(Context) any {
	if s.count == 0 {
		return nil
	}
	return s.sum
}

// avgState carries the running sum and count so that averages of nested
// groups are computed from the totals and not as an average of averages.
type avgState struct {
	count int64
	sum   float64
}

func (s *avgState) Add(v any) {
	if f, ok := columns.ToFloat(v); ok {
		s.count++
		s.sum += f
	}
}

func (s *avgState) Combine(other State) {
	o, ok := other.(*avgState)
	if !ok || o.count == 0 {
		return
	}
	s.count += o.count
	s.sum += o.sum
}

func (s *avgState) Result(Context) any {
	if s.count == 0 {
		return nil
	}
	return s.sum / float64(s.count)
}

// countState counts contributing rows, including rows with no value.
type countState struct {
	count int64
}

func (s *countState) Add(any) { s.count++ }

func (s *countState) Combine(other State) {
	if o, ok := other.(*countState); ok {
		s.count += o.count
	}
}

func (s *countState) Result(Context) any { return s.count }

// extremeState keeps the minimum (sign -1) or maximum (sign 1) non nil value.
type extremeState struct {
	cmp   *columns.Comparators
	sign  int
	value any
	set   bool
}

func (s *extremeState) Add(v any) {
	if v == nil {
		return
	}
	if !s.set || s.cmp.Compare(v, s.value)*s.sign > 0 {
		s.value = v
		s.set = true
	}
}

func (s *extremeState) Combine(other State) {
	if o, ok := other.(*extremeState); ok && o.set {
		s.Add(o.value)
	}
}

func (s *extremeState) Result(Context) any {
	if !s.set {
		return nil
	}
	return s.value
}

// edgeState keeps the first or last contributing value in grouped order.
type edgeState struct {
	first bool
	value any
	set   bool
}

func (s *edgeState) Add(v any) {
	if s.first && s.set {
		return
	}
	s.value = v
	s.set = true
}

func (s *edgeState) Combine(other State) {
	if o, ok := other.(*edgeState); ok && o.set {
		s.Add(o.value)
	}
}

func (s *edgeState) Result(Context) any {
	if !s.set {
		return nil
	}
	return s.value
}

// customState collects every leaf value for a CustomFunc.
type customState struct {
	fn     CustomFunc
	values []any
}

func (s *customState) Add(v any) { s.values = append(s.values, v) }

func (s *customState) Combine(other State) {
	if o, ok := other.(*customState); ok {
		s.values = append(s.values, o.values...)
	}
}

func (s *customState) Result(ctx Context) any {
	return s.fn(slices.Clip(s.values), ctx)
}
