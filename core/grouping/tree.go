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

package grouping

import (
	"fmt"
	"maps"
	"net/url"
	"slices"
	"strings"

	"github.com/google/rowmodel/core/diag"
	"github.com/google/rowmodel/core/rows"
)

// Entry places a node in a caller supplied hierarchy.
type Entry struct {
	Node *rows.Node
	// Path is the list of keys from the top level down to the node itself.
	Path []string
}

// BuildTree indexes a hierarchy supplied by the data. Path entries without a
// row of their own become filler groups. Entries with an empty or duplicate
// path are reported and returned as dropped.
//
// Nodes that have children are promoted to groups and keep their data.
func (s *Stage) BuildTree(root *rows.Node, entries []Entry) (dropped []*rows.Node) {
	s.detach(root)
	byPath := make(map[string]*rows.Node, len(entries))
	accepted := make([]Entry, 0, len(entries))
	for _, e := range entries {
		e.Node.ResetChildren()
		e.Node.ClearAggregates()
		if len(e.Path) == 0 || slices.Contains(e.Path, "") {
			s.diag.Report(diag.Diagnostic{Kind: diag.MalformedHierarchy, Message: "empty data path", RowID: e.Node.ID()})
			dropped = append(dropped, e.Node)
			continue
		}
		key := pathKey(e.Path)
		if _, dup := byPath[key]; dup {
			s.diag.Report(diag.Diagnostic{Kind: diag.MalformedHierarchy, Message: fmt.Sprintf("duplicate data path %q", strings.Join(e.Path, "/")), RowID: e.Node.ID()})
			dropped = append(dropped, e.Node)
			continue
		}
		byPath[key] = e.Node
		accepted = append(accepted, e)
	}

	next := make(map[string]*rows.Node)
	var parentOf func(path []string) *rows.Node
	parentOf = func(path []string) *rows.Node {
		if len(path) == 1 {
			return root
		}
		parentPath := path[:len(path)-1]
		key := pathKey(parentPath)
		if n, ok := byPath[key]; ok {
			return n
		}
		id := "filler:" + escapePath(parentPath)
		filler, ok := s.groups[id]
		if !ok {
			filler = rows.NewGroup(id, rows.GroupColumnID, parentPath[len(parentPath)-1])
		}
		byPath[key] = filler
		next[id] = filler
		parentOf(parentPath).AddChild(filler)
		return filler
	}
	for _, e := range accepted {
		parent := parentOf(e.Path)
		parent.AddChild(e.Node)
		if parent.Kind() == rows.KindLeaf {
			parent.Promote(rows.GroupColumnID, e.Path[len(e.Path)-2])
		}
		if parent != root {
			next[parent.ID()] = parent
		}
	}
	for _, e := range accepted {
		if len(e.Node.GroupedChildren()) == 0 {
			e.Node.Demote()
		}
	}
	for id, g := range next {
		if _, known := s.groups[id]; !known {
			g.SetExpanded(s.expandedByDefault(g.Level()))
		}
	}
	s.groups = next
	s.logger.Debug("built tree", "rows", len(accepted), "groups", len(next), "dropped", len(dropped))
	return dropped
}

func pathKey(path []string) string {
	return strings.Join(path, "\x00")
}

func escapePath(path []string) string {
	parts := make([]string, len(path))
	for i, p := range path {
		parts[i] = url.PathEscape(p)
	}
	return strings.Join(parts, "/")
}

// Nested is a record unnested from its parent's children field.
type Nested struct {
	Record rows.Record
	Path   []string
}

// Unnest flattens records that carry their children in field. The path of
// each record is made of the ids of its ancestors and its own id. The
// children field is removed from the returned records. A children field that
// is not a list of records is reported and its content dropped.
func Unnest(records []rows.Record, field string, id rows.IDFunc, reporter *diag.Reporter) []Nested {
	var out []Nested
	var walk func(r rows.Record, parent []string)
	walk = func(r rows.Record, parent []string) {
		path := append(parent[:len(parent):len(parent)], id(r))
		children, hasChildren := r[field]
		if hasChildren {
			r = maps.Clone(r)
			delete(r, field)
		}
		out = append(out, Nested{Record: r, Path: path})
		if !hasChildren || children == nil {
			return
		}
		switch list := children.(type) {
		case []rows.Record:
			for _, c := range list {
				walk(c, path)
			}
		case []any:
			for _, item := range list {
				c, ok := item.(rows.Record)
				if !ok {
					reporter.Report(diag.Diagnostic{Kind: diag.MalformedHierarchy, Message: fmt.Sprintf("child of type %T is not a record", item), RowID: path[len(path)-1]})
					continue
				}
				walk(c, path)
			}
		default:
			reporter.Report(diag.Diagnostic{Kind: diag.MalformedHierarchy, Message: fmt.Sprintf("children field %q is not a list", field), RowID: path[len(path)-1]})
		}
	}
	for _, r := range records {
		walk(r, nil)
	}
	return out
}
