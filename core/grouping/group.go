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

// Package grouping builds the row tree: groups derived from grouping columns,
// hierarchies supplied by the data itself, and pivot keys.
//
// Terminology:
//   - the columns that form the grouping hierarchy are called grouped columns
//   - group nodes at depth d share the value of grouped column d
//   - every member of a group shares the values of all grouped columns above it
package grouping

import (
	"log/slog"
	"net/url"
	"slices"

	"github.com/google/rowmodel/core/columns"
	"github.com/google/rowmodel/core/diag"
	"github.com/google/rowmodel/core/rows"
)

// Options configures a Stage.
type Options struct {
	// DefaultExpanded is the number of group levels that start expanded.
	// -1 expands every level.
	DefaultExpanded int
	// InitialGroupOrder orders sibling groups. Groups are otherwise kept in
	// the order their first member appears. The sort stage applies its
	// column sort on top, so this acts as a stable secondary key.
	InitialGroupOrder func(a, b GroupInfo) int
	// DataPath returns the path of a record for hierarchical data.
	DataPath func(rows.Record) []string
	// ChildrenField names the record field holding child records for
	// hierarchical data.
	ChildrenField string
}

// Hierarchical reports whether the options describe tree data.
func (o Options) Hierarchical() bool {
	return o.DataPath != nil || o.ChildrenField != ""
}

// GroupInfo describes a group to an InitialGroupOrder comparator.
type GroupInfo struct {
	Column string
	Key    any
	// Size is the number of leaves in the group.
	Size int
}

// Stage builds group nodes. Group nodes are reused across rebuilds by id,
// so expansion state survives regrouping.
type Stage struct {
	cols   *columns.Set
	opts   Options
	diag   *diag.Reporter
	logger *slog.Logger
	groups map[string]*rows.Node
}

// NewStage creates a grouping stage.
func NewStage(cols *columns.Set, opts Options, reporter *diag.Reporter, logger *slog.Logger) *Stage {
	if logger == nil {
		logger = slog.Default()
	}
	return &Stage{
		cols:   cols,
		opts:   opts,
		diag:   reporter,
		logger: logger,
		groups: make(map[string]*rows.Node),
	}
}

// Options returns the configured options.
func (s *Stage) Options() Options { return s.opts }

// Group returns the group with the given id from the last build.
func (s *Stage) Group(id string) (*rows.Node, bool) {
	g, ok := s.groups[id]
	return g, ok
}

// Groups returns the number of group nodes of the last build.
func (s *Stage) Groups() int { return len(s.groups) }

// ValidColumns returns the grouping columns that are defined, reporting the
// others.
func (s *Stage) ValidColumns(groupCols []string) []*columns.Column {
	return s.validColumns(groupCols, "grouping on an undefined column")
}

func (s *Stage) validColumns(ids []string, message string) []*columns.Column {
	var cols []*columns.Column
	for _, id := range ids {
		col, ok := s.cols.Get(id)
		if !ok {
			s.diag.Report(diag.Diagnostic{Kind: diag.UnknownColumn, Message: message, Column: id})
			continue
		}
		cols = append(cols, col)
	}
	return cols
}

// expandedByDefault reports whether a new group at level starts expanded.
func (s *Stage) expandedByDefault(level int) bool {
	return s.opts.DefaultExpanded < 0 || level < s.opts.DefaultExpanded
}

// detach empties root and every group of the previous build, so that leaves
// can be attached again without searching their old parents.
func (s *Stage) detach(root *rows.Node) {
	for _, g := range s.groups {
		g.ResetChildren()
		g.ClearAggregates()
	}
	root.ResetChildren()
	root.ClearAggregates()
}

// GroupRows builds the group levels under root from the leaves, depth d
// grouping by groupCols[d]. With no valid grouping column the leaves become
// the children of root.
func (s *Stage) GroupRows(root *rows.Node, leaves []*rows.Node, groupCols []string) {
	cols := s.ValidColumns(groupCols)
	s.detach(root)
	next := make(map[string]*rows.Node)
	if len(cols) == 0 {
		for _, l := range leaves {
			root.AddChild(l)
		}
	} else {
		s.split(root, "", leaves, cols, 0, next)
	}
	s.groups = next
	s.logger.Debug("grouped rows", "leaves", len(leaves), "groups", len(next), "levels", len(cols))
}

type bucket struct {
	node    *rows.Node
	members []*rows.Node
}

func (b *bucket) info() GroupInfo {
	return GroupInfo{Column: b.node.GroupColumn(), Key: b.node.GroupKey(), Size: len(b.members)}
}

// split groups members by the first column and recurses into the rest.
func (s *Stage) split(parent *rows.Node, parentID string, members []*rows.Node, cols []*columns.Column, level int, next map[string]*rows.Node) {
	col := cols[0]
	var order []*bucket
	byKey := make(map[string]*bucket)
	for _, m := range members {
		key := col.KeyOf(m.Data())
		ks := columns.KeyString(key)
		b, ok := byKey[ks]
		if !ok {
			b = &bucket{node: s.group(GroupID(parentID, col.ID, key), col.ID, key, level, next)}
			byKey[ks] = b
			order = append(order, b)
		}
		b.members = append(b.members, m)
	}
	for _, b := range order {
		if len(cols) > 1 {
			s.split(b.node, b.node.ID(), b.members, cols[1:], level+1, next)
			continue
		}
		for _, m := range b.members {
			b.node.AddChild(m)
		}
	}
	if s.opts.InitialGroupOrder != nil {
		slices.SortStableFunc(order, func(a, b *bucket) int {
			return s.opts.InitialGroupOrder(a.info(), b.info())
		})
	}
	for _, b := range order {
		parent.AddChild(b.node)
	}
}

// GroupID returns the id of the group holding key under the group parentID,
// or under the root when parentID is empty.
func GroupID(parentID, column string, key any) string {
	prefix := "group:"
	if parentID != "" {
		prefix = parentID + "/"
	}
	return prefix + column + "=" + url.PathEscape(columns.KeyString(key))
}

// group returns the group node for id, reusing the node of the last build.
func (s *Stage) group(id, column string, key any, level int, next map[string]*rows.Node) *rows.Node {
	g, ok := s.groups[id]
	if !ok {
		g = rows.NewGroup(id, column, key)
		g.SetExpanded(s.expandedByDefault(level))
	}
	next[id] = g
	return g
}

// BySubtreeSize is an InitialGroupOrder placing larger groups first.
func BySubtreeSize(a, b GroupInfo) int {
	return b.Size - a.Size
}
