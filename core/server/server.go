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

// Package server serves a row model over HTTP. The grid state travels in
// the URL query, so every page is a bookmarkable view of the model.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/google/rowmodel/core/columns"
	"github.com/google/rowmodel/core/diag"
	"github.com/google/rowmodel/core/flatten"
	"github.com/google/rowmodel/core/grouping"
	"github.com/google/rowmodel/core/model"
	"github.com/google/rowmodel/core/query"
	"github.com/google/rowmodel/core/rendering"
	"github.com/google/rowmodel/core/views"
)

// Grid is the row model behind a Server. Both model.Client and model.Server
// implement it.
type Grid interface {
	flatten.Window
	State() *query.State
	ApplyState(query.State) error
	AddListener(fn func(model.Event)) (remove func())
}

// viewporter is implemented by models that load rows on demand.
type viewporter interface {
	SetViewport(first, last int)
}

type pivoter interface {
	PivotColumns() []grouping.PivotColumn
}

// Options configures a Server.
type Options struct {
	Title   string
	Columns *columns.Set
	// Link resolves cell links. Optional.
	Link views.Linker
	// Diagnostics, if set, is shown above the grid. The same collector
	// should receive the model's diagnostics.
	Diagnostics *diag.Collector
	// LoadTimeout bounds the wait for rows of an on demand model. Defaults
	// to DefaultLoadTimeout.
	LoadTimeout time.Duration
	Logger      *slog.Logger
}

// DefaultLoadTimeout is used when Options.LoadTimeout is zero.
const DefaultLoadTimeout = 2 * time.Second

// maxDiagnostics is the number of recent diagnostics shown on a page.
const maxDiagnostics = 20

// Server represents the application server with all its dependencies
type Server struct {
	// mu serializes requests: each one applies its own state to the shared
	// model before reading it.
	mu       sync.Mutex
	grid     Grid
	opts     Options
	renderer *rendering.HTMLRenderer
	logger   *slog.Logger
}

// NewServer creates a new server for the given model
func NewServer(grid Grid, opts Options) (*Server, error) {
	renderer, err := rendering.NewHTMLRenderer()
	if err != nil {
		return nil, fmt.Errorf("failed to create renderer: %w", err)
	}
	if opts.LoadTimeout <= 0 {
		opts.LoadTimeout = DefaultLoadTimeout
	}
	if opts.Title == "" {
		opts.Title = "Row Model"
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{grid: grid, opts: opts, renderer: renderer, logger: logger}, nil
}

// Handler returns the HTTP handler:
//
//	/            HTML grid
//	/ascii       text grid
//	/state.yaml  the current state as YAML
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleGrid)
	mux.HandleFunc("GET /ascii", s.handleASCII)
	mux.HandleFunc("GET /state.yaml", s.handleState)
	return mux
}

// ApplyState replaces the model state, e.g. after the state file changed.
func (s *Server) ApplyState(st query.State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.grid.ApplyState(st)
}

func (s *Server) handleGrid(w http.ResponseWriter, r *http.Request) {
	vm, status, err := s.viewModel(r.Context(), r.URL, "/")
	if err != nil {
		http.Error(w, err.Error(), status)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := s.renderer.Render(w, vm); err != nil {
		// The renderer may have already written to the response.
		s.logger.Error("template rendering error", "err", err)
	}
}

func (s *Server) handleASCII(w http.ResponseWriter, r *http.Request) {
	vm, status, err := s.viewModel(r.Context(), r.URL, "/ascii")
	if err != nil {
		http.Error(w, err.Error(), status)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprint(w, rendering.ToASCII(vm))
}

func (s *Server) handleState(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	st := s.grid.State()
	s.mu.Unlock()

	data, err := st.Marshal()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/yaml")
	w.Write(data)
}

// viewModel applies the state in the URL, if any, and formats the
// requested window.
func (s *Server) viewModel(ctx context.Context, u *url.URL, path string) (views.GridViewModel, int, error) {
	start := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()

	if st := query.FromURL(u); hasState(u) && st.ToURL("") != s.grid.State().ToURL("") {
		if err := s.grid.ApplyState(*st); err != nil {
			status := http.StatusInternalServerError
			if errors.Is(err, query.ErrInvalidState) || errors.Is(err, model.ErrClientSideOnly) {
				status = http.StatusBadRequest
			}
			return views.GridViewModel{}, status, err
		}
	}

	from, to := views.ParseRange(u)
	if to <= from {
		to = from + views.DefaultPageSize
	}
	s.waitLoaded(ctx, from, to)

	st := s.grid.State()
	var pivots []grouping.PivotColumn
	if p, ok := s.grid.(pivoter); ok {
		pivots = p.PivotColumns()
	}
	vm := views.BuildViewModel(s.grid, views.Params{
		Title:       s.opts.Title,
		Path:        path,
		State:       st,
		Columns:     views.DisplayColumns(s.opts.Columns, st, pivots),
		From:        from,
		To:          to,
		Link:        s.opts.Link,
		Diagnostics: s.recentDiagnostics(),
	})
	s.logger.Debug("rendered window", "from", vm.From, "to", vm.To, "rows", vm.TotalRows, "elapsed", time.Since(start))
	return vm, http.StatusOK, nil
}

// waitLoaded moves the viewport of an on demand model to [from, to) and
// waits until those rows are no longer stubs, the timeout passes or ctx is
// done.
func (s *Server) waitLoaded(ctx context.Context, from, to int) {
	vp, ok := s.grid.(viewporter)
	if !ok {
		return
	}
	changed := make(chan struct{}, 1)
	remove := s.grid.AddListener(func(model.Event) {
		select {
		case changed <- struct{}{}:
		default:
		}
	})
	defer remove()
	vp.SetViewport(from, to-1)

	timer := time.NewTimer(s.opts.LoadTimeout)
	defer timer.Stop()
	for s.hasStubs(from, to) {
		select {
		case <-changed:
		case <-timer.C:
			s.logger.Warn("rows still loading", "from", from, "to", to)
			return
		case <-ctx.Done():
			return
		}
	}
}

func (s *Server) hasStubs(from, to int) bool {
	for i := from; i < min(to, s.grid.Len()); i++ {
		if r, ok := s.grid.Row(i); ok && r.Row.IsStub() {
			return true
		}
	}
	return false
}

func (s *Server) recentDiagnostics() []string {
	if s.opts.Diagnostics == nil {
		return nil
	}
	all := s.opts.Diagnostics.All()
	if len(all) > maxDiagnostics {
		all = all[len(all)-maxDiagnostics:]
	}
	out := make([]string, len(all))
	for i, d := range all {
		out[i] = d.String()
	}
	return out
}

// hasState reports whether the URL carries grid state beyond the display
// range.
func hasState(u *url.URL) bool {
	for k := range u.Query() {
		if k != "from" && k != "to" {
			return true
		}
	}
	return false
}
