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

// Package rows defines the row node tree the row model is built from.
//
// A node owns its children; the parent pointer is a back reference only. A
// node is destroyed by removing it from its parent's grouped children. Each
// group node keeps two child lists: the grouped children (every member after
// grouping) and the children (the members that survive post aggregation
// filtering, in sorted order). Consumers only see nodes through View.
package rows

import (
	"maps"
)

// Record is one raw data row.
type Record = map[string]any

// GroupColumnID is the pseudo column that stands for "the group key of the
// row's own grouping column" at every level.
const GroupColumnID = "group"

// Kind is the kind of a node.
type Kind int

const (
	KindLeaf Kind = iota
	KindGroup
	KindFooter
	KindRoot
)

func (k Kind) String() string {
	switch k {
	case KindLeaf:
		return "leaf"
	case KindGroup:
		return "group"
	case KindFooter:
		return "footer"
	case KindRoot:
		return "root"
	}
	return "unknown"
}

// View is the read only face of a node handed to renderers and callers.
type View interface {
	ID() string
	Kind() Kind
	Level() int
	Data() Record
	Expanded() bool
	GroupKey() any
	GroupColumn() string
	Aggregate(column string) (any, bool)
	Aggregates() map[string]any
	SourceIndex() int
	IsStub() bool
	ChildCount() int
	ParentID() string
	Route() []any
}

// Node is one logical row.
type Node struct {
	id          string
	kind        Kind
	data        Record
	parent      *Node
	level       int
	expanded    bool
	groupKey    any
	groupColumn string
	sourceIndex int
	stub        bool
	childCount  int

	groupedChildren []*Node
	children        []*Node
	footer          *Node

	aggregates map[string]any
	partials   map[string]any
}

// NewRoot creates the root sentinel.
func NewRoot() *Node {
	return &Node{id: "root", kind: KindRoot, level: -1, expanded: true, sourceIndex: -1, childCount: -1}
}

// NewLeaf creates a data row.
func NewLeaf(id string, data Record, sourceIndex int) *Node {
	return &Node{id: id, kind: KindLeaf, data: data, sourceIndex: sourceIndex, childCount: -1}
}

// NewGroup creates a group row produced by grouping on column with the
// given key.
func NewGroup(id, column string, key any) *Node {
	return &Node{id: id, kind: KindGroup, groupColumn: column, groupKey: key, sourceIndex: -1, childCount: -1}
}

// NewStub creates a placeholder for a server side row that is not loaded.
func NewStub(id string, level int) *Node {
	return &Node{id: id, kind: KindLeaf, level: level, stub: true, sourceIndex: -1, childCount: -1}
}

func (n *Node) ID() string          { return n.id }
func (n *Node) Kind() Kind          { return n.kind }
func (n *Node) Level() int          { return n.level }
func (n *Node) Data() Record        { return n.data }
func (n *Node) Expanded() bool      { return n.expanded }
func (n *Node) GroupKey() any       { return n.groupKey }
func (n *Node) GroupColumn() string { return n.groupColumn }
func (n *Node) SourceIndex() int    { return n.sourceIndex }
func (n *Node) IsStub() bool        { return n.stub }
func (n *Node) Parent() *Node       { return n.parent }

// IsGroup reports whether the node can have children.
func (n *Node) IsGroup() bool {
	return n.kind == KindGroup || n.kind == KindRoot
}

// ParentID returns the id of the parent, or "" for the root and detached
// nodes.
func (n *Node) ParentID() string {
	if n.parent == nil {
		return ""
	}
	return n.parent.id
}

// ChildCount returns the server reported child count when known, otherwise
// the number of displayed children.
func (n *Node) ChildCount() int {
	if n.childCount >= 0 {
		return n.childCount
	}
	return len(n.children)
}

// SetChildCount records the number of children reported by a data source.
// -1 means unknown.
func (n *Node) SetChildCount(c int) { n.childCount = c }

// SetData replaces the record of a leaf or tree data group.
func (n *Node) SetData(data Record) { n.data = data }

// SetExpanded sets the expansion state. It is ignored on leaves.
func (n *Node) SetExpanded(expanded bool) {
	if n.kind == KindGroup {
		n.expanded = expanded
	}
}

// SetSourceIndex updates the position in the raw data.
func (n *Node) SetSourceIndex(i int) { n.sourceIndex = i }

// SetLevel sets the depth. Attaching a child sets it automatically.
func (n *Node) SetLevel(level int) { n.level = level }

// Promote turns a leaf that acquired children (tree data) into a group that
// keeps its data.
func (n *Node) Promote(column string, key any) {
	if n.kind == KindLeaf {
		n.kind = KindGroup
	}
	n.groupColumn = column
	n.groupKey = key
}

// Demote turns a tree data group without children back into a leaf.
func (n *Node) Demote() {
	if n.kind == KindGroup && n.data != nil {
		n.kind = KindLeaf
		n.expanded = false
	}
}

// Aggregate returns the aggregated value of column. The second result is
// false when the column is not aggregated on this node.
func (n *Node) Aggregate(column string) (any, bool) {
	if n.kind == KindFooter {
		return n.parent.Aggregate(column)
	}
	v, ok := n.aggregates[column]
	return v, ok
}

// Aggregates returns a copy of all aggregated values.
func (n *Node) Aggregates() map[string]any {
	if n.kind == KindFooter {
		return n.parent.Aggregates()
	}
	return maps.Clone(n.aggregates)
}

// SetAggregate sets one aggregated value.
func (n *Node) SetAggregate(column string, v any) {
	if n.aggregates == nil {
		n.aggregates = make(map[string]any)
	}
	n.aggregates[column] = v
}

// ClearAggregates drops all aggregated values and partial states.
func (n *Node) ClearAggregates() {
	n.aggregates = nil
	n.partials = nil
}

// Partial returns the partial aggregation state stored for a column.
func (n *Node) Partial(column string) any {
	return n.partials[column]
}

// SetPartial stores a partial aggregation state for a column.
func (n *Node) SetPartial(column string, state any) {
	if n.partials == nil {
		n.partials = make(map[string]any)
	}
	n.partials[column] = state
}

// GroupedChildren returns every child after grouping. The slice must not be
// modified.
func (n *Node) GroupedChildren() []*Node { return n.groupedChildren }

// Children returns the displayed children in sorted order. The slice must
// not be modified.
func (n *Node) Children() []*Node { return n.children }

// SetChildren replaces the displayed children. Every element must already be
// a grouped child of n.
func (n *Node) SetChildren(children []*Node) { n.children = children }

// AddChild appends child to the grouped children and makes n its parent.
func (n *Node) AddChild(child *Node) {
	if child.parent != nil && child.parent != n {
		child.parent.RemoveChild(child)
	}
	child.parent = n
	child.setLevel(n.level + 1)
	n.groupedChildren = append(n.groupedChildren, child)
}

// RemoveChild detaches child from n. It reports whether child was found.
func (n *Node) RemoveChild(child *Node) bool {
	found := false
	for i, c := range n.groupedChildren {
		if c == child {
			n.groupedChildren = append(n.groupedChildren[:i:i], n.groupedChildren[i+1:]...)
			found = true
			break
		}
	}
	for i, c := range n.children {
		if c == child {
			n.children = append(n.children[:i:i], n.children[i+1:]...)
			break
		}
	}
	if found {
		child.parent = nil
	}
	return found
}

// ResetChildren detaches all children of n.
func (n *Node) ResetChildren() {
	for _, c := range n.groupedChildren {
		if c.parent == n {
			c.parent = nil
		}
	}
	n.groupedChildren = nil
	n.children = nil
}

// Footer returns the footer row of a group, creating it on first use.
func (n *Node) Footer() *Node {
	if n.footer == nil {
		n.footer = &Node{
			id:          "footer:" + n.id,
			kind:        KindFooter,
			parent:      n,
			groupKey:    n.groupKey,
			groupColumn: n.groupColumn,
			sourceIndex: -1,
			childCount:  -1,
		}
	}
	n.footer.level = n.level
	return n.footer
}

// Route returns the group keys from the top level down to n. A leaf's route
// is the route of its group.
func (n *Node) Route() []any {
	var keys []any
	for p := n; p != nil && p.kind != KindRoot; p = p.parent {
		if p.kind == KindGroup {
			keys = append(keys, p.groupKey)
		}
	}
	for i, j := 0, len(keys)-1; i < j; i, j = i+1, j-1 {
		keys[i], keys[j] = keys[j], keys[i]
	}
	return keys
}

func (n *Node) setLevel(level int) {
	n.level = level
	for _, c := range n.groupedChildren {
		c.setLevel(level + 1)
	}
}
