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

package demo

import (
	"fmt"

	"github.com/google/rowmodel/core/columns"
	"github.com/google/rowmodel/core/rows"
	"github.com/google/rowmodel/datasources"
)

// Synthetic transaction table cardinalities.
const (
	PerfNumUsers      = 800 // High cardinality
	PerfNumProducts   = 50  // Medium cardinality
	PerfNumCategories = 12  // Low cardinality
)

// PerfTransactions creates a synthetic transaction table with n rows for
// exercising the server side model at scale. The data is deterministic.
func PerfTransactions(n int) *datasources.Table {
	cols := columns.MustSet(
		&columns.Column{ID: "txn_id", HeaderName: "Transaction ID", Type: columns.TypeNumber},
		&columns.Column{ID: "user", HeaderName: "User", Type: columns.TypeString},
		&columns.Column{ID: "product", HeaderName: "Product", Type: columns.TypeString},
		&columns.Column{ID: "category", HeaderName: "Category", Type: columns.TypeString},
		&columns.Column{ID: "amount", HeaderName: "Amount", Type: columns.TypeNumber, AggFunc: "sum"},
		&columns.Column{ID: "status", HeaderName: "Status", Type: columns.TypeString},
	)

	// Status values for cycling
	statuses := []string{"pending", "completed", "cancelled", "processing"}

	records := make([]rows.Record, n)
	for i := range n {
		// Category: heavy reuse, category 0 more common
		category := i % PerfNumCategories
		if i%7 == 0 {
			category = 0
		}
		records[i] = rows.Record{
			"txn_id":   int64(i),
			"user":     fmt.Sprintf("user-%04d", i%PerfNumUsers),
			"product":  fmt.Sprintf("product-%02d", i%PerfNumProducts),
			"category": fmt.Sprintf("category-%02d", category),
			"amount":   int64(10 + i%1000),
			"status":   statuses[i%len(statuses)],
		}
	}
	return &datasources.Table{Records: records, Columns: cols}
}
