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

package main

import (
	"fmt"
	"log/slog"

	"github.com/google/rowmodel/core/diag"
	"github.com/google/rowmodel/core/model"
	"github.com/google/rowmodel/core/rendering"
	"github.com/google/rowmodel/core/views"
	"github.com/spf13/cobra"
)

var showFlags struct {
	dataFlags
	from, to  int
	html      bool
	expandAll bool
}

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Print a window of displayed rows",
	Example: `  rowmodel show --state state.yaml --from 0 --to 50
  rowmodel show --data medals.csv --expand-all --html > medals.html`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ds, err := showFlags.load(cmd.Context())
		if err != nil {
			return err
		}
		st, err := showFlags.loadState()
		if err != nil {
			return err
		}

		collector := &diag.Collector{}
		c := model.NewClient(model.ClientOptions{
			Columns:      ds.table.Columns,
			OnDiagnostic: collector.Handle,
			Logger:       slog.Default(),
		})
		c.Batch(func(c *model.Client) {
			c.SetRowData(ds.table.Records)
			if st != nil {
				err = c.ApplyState(*st)
			}
		})
		if err != nil {
			return err
		}
		if showFlags.expandAll {
			c.ExpandAll(true)
		}

		st = c.State()
		cols := views.DisplayColumns(c.Columns(), st, c.PivotColumns())
		out := cmd.OutOrStdout()
		if !showFlags.html {
			fmt.Fprint(out, rendering.ASCII(c, cols, showFlags.from, showFlags.to))
			fmt.Fprintf(out, "%d rows\n", c.RowCount())
			return nil
		}

		r, err := rendering.NewHTMLRenderer()
		if err != nil {
			return err
		}
		var diagnostics []string
		for _, d := range collector.All() {
			diagnostics = append(diagnostics, d.String())
		}
		return r.Render(out, views.BuildViewModel(c, views.Params{
			Title:       "rowmodel",
			State:       st,
			Columns:     cols,
			From:        showFlags.from,
			To:          showFlags.to,
			Link:        ds.linker(),
			Diagnostics: diagnostics,
		}))
	},
}

func init() {
	showFlags.register(showCmd)
	showCmd.Flags().IntVar(&showFlags.from, "from", 0, "first display index")
	showCmd.Flags().IntVar(&showFlags.to, "to", 0, "display index to stop at (default: one page)")
	showCmd.Flags().BoolVar(&showFlags.html, "html", false, "write HTML instead of text")
	showCmd.Flags().BoolVar(&showFlags.expandAll, "expand-all", false, "expand every group")
}
