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

// Index maps row ids to nodes. It is maintained incrementally as rows are
// added and removed and only rebuilt on a full reset.
type Index struct {
	nodes map[string]*Node
}

// NewIndex creates an empty index.
func NewIndex() *Index {
	return &Index{nodes: make(map[string]*Node)}
}

// Add registers n. It returns false, leaving the index unchanged, when a
// different node already holds the id.
func (x *Index) Add(n *Node) bool {
	if existing, ok := x.nodes[n.id]; ok && existing != n {
		return false
	}
	x.nodes[n.id] = n
	return true
}

// Remove unregisters id.
func (x *Index) Remove(id string) {
	delete(x.nodes, id)
}

// Get returns the node registered under id.
func (x *Index) Get(id string) (*Node, bool) {
	n, ok := x.nodes[id]
	return n, ok
}

// Len returns the number of registered nodes.
func (x *Index) Len() int {
	return len(x.nodes)
}

// Reset drops every entry.
func (x *Index) Reset() {
	clear(x.nodes)
}
