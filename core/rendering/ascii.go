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

package rendering

import (
	"strings"
	"unicode/utf8"

	"github.com/google/rowmodel/core/flatten"
	"github.com/google/rowmodel/core/views"
)

// ASCII renders display rows [from, to) of w as a text table. A leading
// group column carries indentation, expansion markers and group labels
// whenever the window holds group, footer or nested rows.
func ASCII(w flatten.Window, cols []views.Column, from, to int) string {
	return ToASCII(views.BuildViewModel(w, views.Params{Columns: cols, From: from, To: to}))
}

// ToASCII returns a string representation of the view model with ASCII
// borders.
func ToASCII(vm views.GridViewModel) string {
	var headers []string
	if vm.ShowGroupColumn {
		headers = append(headers, "Group")
	}
	for _, c := range vm.Columns {
		headers = append(headers, c.DisplayName)
	}

	body := make([][]string, 0, len(vm.Rows))
	for _, r := range vm.Rows {
		line := make([]string, 0, len(headers))
		if vm.ShowGroupColumn {
			line = append(line, groupCell(r))
		}
		for _, c := range r.Cells {
			line = append(line, c.Text)
		}
		body = append(body, line)
	}

	colWidths := calculateColumnWidths(headers, body)
	var sb strings.Builder
	writeBorder(&sb, colWidths)
	writeLine(&sb, colWidths, headers)
	writeBorder(&sb, colWidths)
	for _, line := range body {
		writeLine(&sb, colWidths, line)
	}
	writeBorder(&sb, colWidths)
	return sb.String()
}

// groupCell indents by level and marks groups as expanded (-) or
// collapsed (+).
func groupCell(r views.RowInfo) string {
	marker := ""
	if r.IsGroup && !r.IsStub {
		marker = "+ "
		if r.Expanded {
			marker = "- "
		}
	}
	return strings.Repeat("  ", max(0, r.Level)) + marker + r.Label
}

// calculateColumnWidths calculates the width needed for each column
func calculateColumnWidths(headers []string, body [][]string) []int {
	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = max(1, utf8.RuneCountInString(h))
	}
	for _, line := range body {
		for i, cell := range line {
			if i < len(widths) {
				widths[i] = max(widths[i], utf8.RuneCountInString(cell))
			}
		}
	}
	return widths
}

func writeBorder(sb *strings.Builder, widths []int) {
	for _, w := range widths {
		sb.WriteString("|")
		sb.WriteString(strings.Repeat("-", w))
	}
	sb.WriteString("|\n")
}

func writeLine(sb *strings.Builder, widths []int, cells []string) {
	for i, w := range widths {
		cell := ""
		if i < len(cells) {
			cell = cells[i]
		}
		sb.WriteString("|")
		sb.WriteString(cell)
		sb.WriteString(strings.Repeat(" ", w-utf8.RuneCountInString(cell)))
	}
	sb.WriteString("|\n")
}
