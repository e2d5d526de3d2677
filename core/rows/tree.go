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

package rows

import (
	"strconv"
)

// VisitSubtree calls fn for node and every grouped descendant in pre-order.
// When fn returns false the descendants of that node are skipped. The walk
// uses an explicit stack, so it is bounded by the tree size and safe to call
// again from scratch at any time.
func VisitSubtree(node *Node, fn func(*Node) bool) {
	if node == nil {
		return
	}
	stack := []*Node{node}
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if !fn(n) {
			continue
		}
		for i := len(n.groupedChildren) - 1; i >= 0; i-- {
			stack = append(stack, n.groupedChildren[i])
		}
	}
}

// VisitDisplayed is VisitSubtree over displayed children only.
func VisitDisplayed(node *Node, fn func(*Node) bool) {
	if node == nil {
		return
	}
	stack := []*Node{node}
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if !fn(n) {
			continue
		}
		for i := len(n.children) - 1; i >= 0; i-- {
			stack = append(stack, n.children[i])
		}
	}
}

// Leaves returns the leaves under node in grouped order.
func Leaves(node *Node) []*Node {
	var leaves []*Node
	VisitSubtree(node, func(n *Node) bool {
		if n.kind == KindLeaf {
			leaves = append(leaves, n)
		}
		return true
	})
	return leaves
}

// Ancestors returns the chain of parents of n, nearest first, ending with the
// root.
func Ancestors(n *Node) []*Node {
	var chain []*Node
	for p := n.parent; p != nil; p = p.parent {
		chain = append(chain, p)
	}
	return chain
}

// Detach removes n from its parent. Empty parent groups are left in place;
// the grouping stage prunes them.
func Detach(n *Node) {
	if n.parent != nil {
		n.parent.RemoveChild(n)
	}
}

// IDFunc extracts a stable row id from a record. It returns "" when the
// record carries no id.
type IDFunc func(Record) string

// FieldID returns an IDFunc reading the id from a record field.
func FieldID(field string) IDFunc {
	return func(r Record) string {
		switch v := r[field].(type) {
		case nil:
			return ""
		case string:
			return v
		case int:
			return strconv.Itoa(v)
		case int64:
			return strconv.FormatInt(v, 10)
		case float64:
			return strconv.FormatFloat(v, 'f', -1, 64)
		default:
			return ""
		}
	}
}

// Sequence hands out surrogate ids for rows without a caller supplied id.
// Each row model owns its own sequence.
type Sequence struct {
	next int
}

// Next returns the next surrogate id.
func (s *Sequence) Next() string {
	id := strconv.Itoa(s.next)
	s.next++
	return id
}

// Reset restarts the sequence at zero.
func (s *Sequence) Reset() {
	s.next = 0
}
