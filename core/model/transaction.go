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

package model

import (
	"time"

	"github.com/google/rowmodel/core/columns"
	"github.com/google/rowmodel/core/diag"
	"github.com/google/rowmodel/core/rows"
)

// Transaction changes part of the row data. Updated and removed rows are
// addressed by id, so they need ClientOptions.RowID.
type Transaction struct {
	Add    []rows.Record
	Update []rows.Record
	Remove []string
}

// TransactionResult lists the rows a transaction touched.
type TransactionResult struct {
	Added   []rows.View
	Updated []rows.View
	Removed []rows.View
	// Incremental reports that only the aggregates above the updated rows
	// were recomputed.
	Incremental bool
	// Rebuilt reports that tree data was rebuilt from the records.
	Rebuilt bool
}

// ApplyTransaction applies tx and recomputes the rows.
//
// Update-only transactions that change neither filter results nor group or
// pivot keys refresh the aggregates on the changed paths and re-sort. Any
// other transaction reruns the whole pipeline. On tree data every
// transaction is reported and rebuilds the tree.
func (c *Client) ApplyTransaction(tx Transaction) TransactionResult {
	var res TransactionResult
	c.update(func() { res = c.applyLocked(tx) })
	return res
}

// ApplyTransactionAsync queues tx. Queued transactions are applied together
// after AsyncTransactionWait or on FlushAsyncTransactions.
func (c *Client) ApplyTransactionAsync(tx Transaction) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.async = append(c.async, tx)
	if c.asyncTimer == nil {
		c.asyncTimer = time.AfterFunc(c.opts.AsyncTransactionWait, func() { c.FlushAsyncTransactions() })
	}
}

// FlushAsyncTransactions applies every queued transaction now, with one
// recomputation and one event.
func (c *Client) FlushAsyncTransactions() []TransactionResult {
	c.mu.Lock()
	if c.asyncTimer != nil {
		c.asyncTimer.Stop()
		c.asyncTimer = nil
	}
	queued := c.async
	c.async = nil
	results := make([]TransactionResult, len(queued))
	for i, tx := range queued {
		results[i] = c.applyLocked(tx)
	}
	events := c.commitLocked()
	fns := c.listeners.snapshot()
	c.mu.Unlock()
	notify(fns, events)
	if len(results) > 0 && c.opts.OnAsyncFlush != nil {
		c.opts.OnAsyncFlush(results)
	}
	return results
}

func (c *Client) applyLocked(tx Transaction) TransactionResult {
	var res TransactionResult
	tree := c.opts.Grouping.Hierarchical()
	if tree && (len(tx.Add) > 0 || len(tx.Update) > 0 || len(tx.Remove) > 0) {
		c.diag.Report(diag.Diagnostic{Kind: diag.TransactionRejected, Message: "incremental update of tree data, rebuilding the tree"})
	}

	if len(tx.Remove) > 0 {
		drop := make(map[*rows.Node]bool, len(tx.Remove))
		for _, id := range tx.Remove {
			n, ok := c.index.Get(id)
			if !ok {
				c.diag.Report(diag.Diagnostic{Kind: diag.TransactionRejected, Message: "remove of an unknown row", RowID: id})
				continue
			}
			drop[n] = true
			c.index.Remove(id)
			res.Removed = append(res.Removed, n)
		}
		c.compact(drop)
	}

	// Later steps may be dirty already; their recomputation covers the
	// incremental refresh too.
	incremental := !tree && len(tx.Add) == 0 && len(res.Removed) == 0 &&
		(c.dirty == StepNone || c.dirty >= StepPostFilter)
	var refresh []*rows.Node
	for _, r := range tx.Update {
		var id string
		if c.opts.RowID != nil {
			id = c.opts.RowID(r)
		}
		n, ok := c.index.Get(id)
		if id == "" || !ok {
			c.diag.Report(diag.Diagnostic{Kind: diag.TransactionRejected, Message: "update of an unknown row", RowID: id})
			continue
		}
		if incremental {
			if !c.keepsPlace(n, r) {
				incremental = false
			} else if c.passed.Contains(uint32(n.SourceIndex())) {
				refresh = append(refresh, n)
			}
		}
		n.SetData(r)
		res.Updated = append(res.Updated, n)
	}

	for _, leaf := range c.addRecords(tx.Add) {
		res.Added = append(res.Added, leaf)
	}

	if len(res.Added)+len(res.Updated)+len(res.Removed) == 0 {
		return res
	}
	if incremental {
		c.aggs.Refresh(c.plan, refresh...)
		c.markDirty(StepPostFilter)
		res.Incremental = true
	} else {
		c.markDirty(StepFilter)
		res.Rebuilt = tree
	}
	c.logger.Debug("applied transaction", "added", len(res.Added), "updated", len(res.Updated), "removed", len(res.Removed), "incremental", res.Incremental)
	return res
}

// keepsPlace reports whether replacing the record of leaf n with r leaves
// its filter result, group path and pivot key unchanged.
func (c *Client) keepsPlace(n *rows.Node, r rows.Record) bool {
	passed := c.passed.Contains(uint32(n.SourceIndex()))
	if c.pre.Active() && c.pre.Passes(r) != passed {
		return false
	}
	if !passed {
		return true
	}
	keyCols := c.state.GroupBy
	if c.state.PivotMode {
		keyCols = append(keyCols[:len(keyCols):len(keyCols)], c.state.Pivot...)
	}
	for _, id := range keyCols {
		col, ok := c.cols.Get(id)
		if !ok {
			continue
		}
		if columns.KeyString(col.KeyOf(n.Data())) != columns.KeyString(col.KeyOf(r)) {
			return false
		}
	}
	return true
}
