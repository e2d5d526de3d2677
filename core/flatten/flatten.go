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

// Package flatten turns the row tree into the index addressable sequence of
// displayed rows.
package flatten

import (
	"fmt"
	"slices"
	"sort"

	"github.com/google/rowmodel/core/rows"
)

// DisplayedRow is a row at a display index.
type DisplayedRow struct {
	Index int
	Row   rows.View
}

// Window is random access to displayed rows.
type Window interface {
	Len() int
	Row(i int) (DisplayedRow, bool)
}

// Options configures flattening.
type Options struct {
	// GroupFooters adds a footer row after the children of every expanded
	// group.
	GroupFooters bool
	// GrandTotalRow adds a footer row for the root at the end.
	GrandTotalRow bool
	// HideLeaves leaves out leaf rows, as in pivot mode.
	HideLeaves bool
	// Verify checks every incremental patch against a full flatten and
	// panics on divergence.
	Verify bool
}

// View is the flattened tree.
type View struct {
	root  *rows.Node
	opts  Options
	nodes []*rows.Node
	index map[string]int
}

var _ Window = (*View)(nil)

// Flatten walks the displayed children of root depth first, descending into
// expanded groups only.
func Flatten(root *rows.Node, opts Options) *View {
	v := &View{root: root, opts: opts}
	v.nodes = v.appendChildren(nil, root)
	if opts.GrandTotalRow {
		v.nodes = append(v.nodes, root.Footer())
	}
	v.reindex(0)
	return v
}

func (v *View) appendChildren(out []*rows.Node, n *rows.Node) []*rows.Node {
	for _, c := range n.Children() {
		out = v.appendNode(out, c)
	}
	return out
}

func (v *View) appendNode(out []*rows.Node, n *rows.Node) []*rows.Node {
	if n.Kind() == rows.KindLeaf {
		if v.opts.HideLeaves {
			return out
		}
		return append(out, n)
	}
	out = append(out, n)
	if n.Expanded() {
		out = v.appendExpansion(out, n)
	}
	return out
}

// appendExpansion appends what expanding n shows below it.
func (v *View) appendExpansion(out []*rows.Node, n *rows.Node) []*rows.Node {
	out = v.appendChildren(out, n)
	if v.opts.GroupFooters {
		out = append(out, n.Footer())
	}
	return out
}

func (v *View) reindex(from int) {
	if v.index == nil {
		v.index = make(map[string]int, len(v.nodes))
	}
	for i := from; i < len(v.nodes); i++ {
		v.index[v.nodes[i].ID()] = i
	}
}

// Len returns the number of displayed rows.
func (v *View) Len() int { return len(v.nodes) }

// Row returns the displayed row at i. It reports false past the end.
func (v *View) Row(i int) (DisplayedRow, bool) {
	if i < 0 {
		panic(fmt.Sprintf("flatten: negative display index %d", i))
	}
	if i >= len(v.nodes) {
		return DisplayedRow{}, false
	}
	return DisplayedRow{Index: i, Row: v.nodes[i]}, true
}

// Node returns the node at i, or nil past the end.
func (v *View) Node(i int) *rows.Node {
	if i < 0 || i >= len(v.nodes) {
		return nil
	}
	return v.nodes[i]
}

// IndexOf returns the display index of the row with the given id.
func (v *View) IndexOf(id string) (int, bool) {
	i, ok := v.index[id]
	return i, ok
}

// IDs returns the ids of the displayed rows in order.
func (v *View) IDs() []string {
	ids := make([]string, len(v.nodes))
	for i, n := range v.nodes {
		ids[i] = n.ID()
	}
	return ids
}

// Expand expands group n and patches the sequence in place. It reports
// whether anything changed.
func (v *View) Expand(n *rows.Node) bool {
	if !n.IsGroup() || n.Kind() == rows.KindRoot || n.Expanded() {
		return false
	}
	n.SetExpanded(true)
	if i, ok := v.index[n.ID()]; ok {
		sub := v.appendExpansion(nil, n)
		v.nodes = slices.Insert(v.nodes, i+1, sub...)
		v.reindex(i + 1)
	}
	v.verify()
	return true
}

// Collapse collapses group n and patches the sequence in place. It reports
// whether anything changed.
func (v *View) Collapse(n *rows.Node) bool {
	if !n.IsGroup() || n.Kind() == rows.KindRoot || !n.Expanded() {
		return false
	}
	if i, ok := v.index[n.ID()]; ok {
		count := len(v.appendExpansion(nil, n))
		for _, r := range v.nodes[i+1 : i+1+count] {
			delete(v.index, r.ID())
		}
		v.nodes = slices.Delete(v.nodes, i+1, i+1+count)
		v.reindex(i + 1)
	}
	n.SetExpanded(false)
	v.verify()
	return true
}

func (v *View) verify() {
	if !v.opts.Verify {
		return
	}
	full := Flatten(v.root, v.opts)
	if !slices.Equal(full.nodes, v.nodes) {
		panic(fmt.Sprintf("flatten: incremental patch diverged: %d rows patched, %d rows in full flatten", len(v.nodes), len(full.nodes)))
	}
}

// Segment is a contiguous run of displayed rows owned by one source, such as
// the loaded rows of one block store.
type Segment interface {
	Len() int
	Row(i int) rows.View
}

// SpanView joins segments into one displayed sequence. Row is a binary
// search over the segment offsets.
type SpanView struct {
	segs   []Segment
	starts []int
	total  int
}

var _ Window = (*SpanView)(nil)

// NewSpanView creates a view over segs in order.
func NewSpanView(segs ...Segment) *SpanView {
	v := &SpanView{segs: segs, starts: make([]int, len(segs))}
	for i, s := range segs {
		v.starts[i] = v.total
		v.total += s.Len()
	}
	return v
}

// Len returns the total number of rows.
func (v *SpanView) Len() int { return v.total }

// Locate returns the segment holding display index i and the index within
// that segment.
func (v *SpanView) Locate(i int) (seg, local int, ok bool) {
	if i < 0 {
		panic(fmt.Sprintf("flatten: negative display index %d", i))
	}
	if i >= v.total {
		return 0, 0, false
	}
	// The last segment starting at or before i is never empty.
	seg = sort.Search(len(v.starts), func(j int) bool { return v.starts[j] > i }) - 1
	return seg, i - v.starts[seg], true
}

// Row returns the row at display index i.
func (v *SpanView) Row(i int) (DisplayedRow, bool) {
	seg, local, ok := v.Locate(i)
	if !ok {
		return DisplayedRow{}, false
	}
	return DisplayedRow{Index: i, Row: v.segs[seg].Row(local)}, true
}
