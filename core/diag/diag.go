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

// Package diag carries the non-fatal problems the row model finds in its
// input: bad data, unusable configuration and failed fetches. None of these
// abort the pipeline; they are handed to a caller supplied handler and logged.
package diag

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// Kind classifies a diagnostic.
type Kind int

const (
	// DuplicateID means a row id was seen twice in the same scope. The later
	// row is dropped.
	DuplicateID Kind = iota
	// MalformedHierarchy means a tree data row had an empty or duplicate
	// path, or a children field that is not a list.
	MalformedHierarchy
	// TransactionRejected means an incremental transaction could not be
	// patched in place and a full rebuild was done instead.
	TransactionRejected
	// UnknownAggFunc means an aggregation function name has no registration.
	UnknownAggFunc
	// UnknownColumn means a grouping, pivot, sort or filter column is not
	// defined.
	UnknownColumn
	// UnknownFilterType means a filter descriptor could not be turned into a
	// filter.
	UnknownFilterType
	// FetchFailed means a data source failed a block request.
	FetchFailed
)

// String returns the name of the kind.
func (k Kind) String() string {
	switch k {
	case DuplicateID:
		return "duplicate-id"
	case MalformedHierarchy:
		return "malformed-hierarchy"
	case TransactionRejected:
		return "transaction-rejected"
	case UnknownAggFunc:
		return "unknown-agg-func"
	case UnknownColumn:
		return "unknown-column"
	case UnknownFilterType:
		return "unknown-filter-type"
	case FetchFailed:
		return "fetch-failed"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// IsConfiguration reports whether the kind is a configuration error, which is
// reported once per key rather than on every pipeline run.
func (k Kind) IsConfiguration() bool {
	switch k {
	case UnknownAggFunc, UnknownColumn, UnknownFilterType:
		return true
	}
	return false
}

// Diagnostic is one reported problem.
type Diagnostic struct {
	Kind    Kind
	Message string
	RowID   string // Offending row, if any
	Column  string // Offending column, if any
	Err     error  // Underlying error, if any
}

func (d Diagnostic) String() string {
	s := d.Kind.String() + ": " + d.Message
	if d.RowID != "" {
		s += " (row " + d.RowID + ")"
	}
	if d.Column != "" {
		s += " (column " + d.Column + ")"
	}
	if d.Err != nil {
		s += ": " + d.Err.Error()
	}
	return s
}

// Handler receives diagnostics.
type Handler func(Diagnostic)

// Reporter dispatches diagnostics to a handler and the logger. Configuration
// diagnostics are deduplicated by kind and column until Reset is called.
type Reporter struct {
	mu      sync.Mutex
	handler Handler
	logger  *slog.Logger
	seen    map[string]struct{}
}

// NewReporter creates a reporter. Both arguments may be nil.
func NewReporter(handler Handler, logger *slog.Logger) *Reporter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reporter{
		handler: handler,
		logger:  logger,
		seen:    make(map[string]struct{}),
	}
}

// Report delivers d. A nil reporter discards everything.
func (r *Reporter) Report(d Diagnostic) {
	if r == nil {
		return
	}
	if d.Kind.IsConfiguration() {
		key := d.Kind.String() + "\x00" + d.Column + "\x00" + d.Message
		r.mu.Lock()
		_, dup := r.seen[key]
		r.seen[key] = struct{}{}
		r.mu.Unlock()
		if dup {
			return
		}
	}
	r.logger.LogAttrs(context.Background(), slog.LevelWarn, "row model diagnostic",
		slog.String("kind", d.Kind.String()),
		slog.String("msg", d.Message),
		slog.String("row", d.RowID),
		slog.String("column", d.Column),
		slog.Any("err", d.Err))
	if r.handler != nil {
		r.handler(d)
	}
}

// Reset forgets which configuration diagnostics were already reported, so
// that a new configuration reports its problems again.
func (r *Reporter) Reset() {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	clear(r.seen)
}

// Collector is a Handler that keeps every diagnostic. It is convenient in
// tests and for callers that inspect diagnostics after a batch.
type Collector struct {
	mu    sync.Mutex
	items []Diagnostic
}

// Handle records d.
func (c *Collector) Handle(d Diagnostic) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = append(c.items, d)
}

// All returns a copy of the recorded diagnostics.
func (c *Collector) All() []Diagnostic {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Diagnostic(nil), c.items...)
}

// Count returns the number of recorded diagnostics of kind k.
func (c *Collector) Count(k Kind) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, d := range c.items {
		if d.Kind == k {
			n++
		}
	}
	return n
}
