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

package datasources

import (
	"container/heap"
	"slices"
)

// topKHeap implements a max-heap for top-K selection
// When we want the smallest K elements, we use a max-heap:
// - If new element is smaller than max, replace max with the new element
// - At the end, heap contains K smallest elements
type topKHeap struct {
	indices []int
	cmp     func(a, b int) int
}

func (h *topKHeap) Len() int { return len(h.indices) }

// Less puts the worst of the K best elements at the top of the heap.
func (h *topKHeap) Less(i, j int) bool { return h.cmp(h.indices[i], h.indices[j]) > 0 }

func (h *topKHeap) Swap(i, j int) { h.indices[i], h.indices[j] = h.indices[j], h.indices[i] }

func (h *topKHeap) Push(x any) { h.indices = append(h.indices, x.(int)) }

func (h *topKHeap) Pop() any {
	old := h.indices
	n := len(old)
	x := old[n-1]
	h.indices = old[0 : n-1]
	return x
}

// sortedTopK returns the indexes in [0, n) of the limit smallest items under
// cmp, sorted. cmp must be a total order; ties are broken by index so that
// consecutive pages of the same query never overlap.
// Uses heap-based selection: O(n log k) instead of O(n log n) for full sort.
func sortedTopK(n, limit int, cmp func(a, b int) int) []int {
	total := func(a, b int) int {
		if c := cmp(a, b); c != 0 {
			return c
		}
		return a - b
	}
	if limit < 0 || limit > n {
		limit = n
	}
	if limit == n {
		all := make([]int, n)
		for i := range all {
			all[i] = i
		}
		slices.SortFunc(all, total)
		return all
	}

	h := &topKHeap{indices: make([]int, 0, limit), cmp: total}
	for i := 0; i < limit; i++ {
		h.indices = append(h.indices, i)
	}
	heap.Init(h)
	for i := limit; i < n; i++ {
		if limit > 0 && total(i, h.indices[0]) < 0 {
			h.indices[0] = i
			heap.Fix(h, 0)
		}
	}
	slices.SortFunc(h.indices, total)
	return h.indices
}
