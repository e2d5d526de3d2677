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
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/rowmodel/core/columns"
	"github.com/google/rowmodel/core/diag"
	"github.com/google/rowmodel/core/model"
	"github.com/google/rowmodel/core/query"
	"github.com/google/rowmodel/core/server"
	"github.com/google/rowmodel/datasources"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

var serveFlags struct {
	dataFlags
	addr       string
	sqlite     string
	table      string
	serverSide bool
	blockSize  int
	maxRows    int
	rps        float64
	latency    time.Duration
	watch      string
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the grid over HTTP",
	Long: `Serve the grid over HTTP. The grid state is read from the URL query, so
every page can be bookmarked. With --sqlite, or with --server-side, rows are
fetched block by block from the data source; otherwise the whole data set is
held in memory.`,
	Example: `  rowmodel serve --addr :8080 --watch state.yaml
  rowmodel serve --sqlite medals.db --table medals --rps 20`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		logger := slog.Default()
		collector := &diag.Collector{}

		grid, cols, link, cleanup, err := openGrid(ctx, collector, logger)
		if err != nil {
			return err
		}
		defer cleanup()

		srv, err := server.NewServer(grid, server.Options{
			Title:       "rowmodel",
			Columns:     cols,
			Link:        link,
			Diagnostics: collector,
			Logger:      logger,
		})
		if err != nil {
			return err
		}
		if st, err := serveFlags.loadState(); err != nil {
			return err
		} else if st != nil {
			if err := srv.ApplyState(*st); err != nil {
				return err
			}
		}

		g, ctx := errgroup.WithContext(ctx)
		httpSrv := &http.Server{
			Addr:              serveFlags.addr,
			Handler:           srv.Handler(),
			BaseContext:       func(net.Listener) context.Context { return ctx },
			ReadHeaderTimeout: 10 * time.Second,
		}
		g.Go(func() error {
			logger.Info("serving", "addr", "http://"+serveFlags.addr)
			if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return httpSrv.Shutdown(shutdownCtx)
		})
		if serveFlags.watch != "" {
			g.Go(func() error { return watchState(ctx, serveFlags.watch, srv, logger) })
		}
		return g.Wait()
	},
}

func init() {
	serveFlags.register(serveCmd)
	f := serveCmd.Flags()
	f.StringVar(&serveFlags.addr, "addr", "127.0.0.1:8097", "address to listen on")
	f.StringVar(&serveFlags.sqlite, "sqlite", "", "SQLite database to page rows from")
	f.StringVar(&serveFlags.table, "table", "", "table in the --sqlite database")
	f.BoolVar(&serveFlags.serverSide, "server-side", false, "fetch rows block by block even for in memory data")
	f.IntVar(&serveFlags.blockSize, "block-size", 100, "rows per block for server side fetching")
	f.IntVar(&serveFlags.maxRows, "max-rows", 0, "rows to keep loaded per group before evicting blocks (0: unlimited)")
	f.Float64Var(&serveFlags.rps, "rps", 0, "maximum block requests per second (0: unlimited)")
	f.DurationVar(&serveFlags.latency, "latency", 0, "simulated latency of the in memory source")
	f.StringVar(&serveFlags.watch, "watch", "", "grid state YAML file to apply whenever it changes")
}

// openGrid builds the row model the flags ask for. cleanup releases the
// data source.
func openGrid(ctx context.Context, collector *diag.Collector, logger *slog.Logger) (grid server.Grid, cols *columns.Set, link func(column, value string) string, cleanup func(), err error) {
	cleanup = func() {}
	var src datasources.RowSource
	switch {
	case serveFlags.sqlite != "":
		if serveFlags.table == "" {
			return nil, nil, nil, cleanup, fmt.Errorf("--table is required with --sqlite")
		}
		s, err := datasources.OpenSQLite(ctx, serveFlags.sqlite, serveFlags.table, logger)
		if err != nil {
			return nil, nil, nil, cleanup, err
		}
		cleanup = func() { _ = s.Close() }
		if cols, err = sqliteColumns(s); err != nil {
			cleanup()
			return nil, nil, nil, func() {}, err
		}
		src = s
	default:
		ds, err := serveFlags.load(ctx)
		if err != nil {
			return nil, nil, nil, cleanup, err
		}
		cols, link = ds.table.Columns, ds.linker()
		if !serveFlags.serverSide {
			c := model.NewClient(model.ClientOptions{
				Columns:      cols,
				OnDiagnostic: collector.Handle,
				Logger:       logger,
			})
			c.SetRowData(ds.table.Records)
			return c, cols, link, cleanup, nil
		}
		src = datasources.NewMemorySource(ds.table.Records, cols, datasources.MemoryOptions{
			Latency: serveFlags.latency,
			Logger:  logger,
		})
	}

	if serveFlags.rps > 0 {
		src = datasources.Throttle(src, rate.NewLimiter(rate.Limit(serveFlags.rps), 1))
	}
	s := model.NewServer(src, model.ServerOptions{
		Columns:      cols,
		BlockSize:    serveFlags.blockSize,
		MaxRows:      serveFlags.maxRows,
		Context:      ctx,
		OnDiagnostic: collector.Handle,
		Logger:       logger,
	})
	return s, cols, link, cleanup, nil
}

func sqliteColumns(s *datasources.SQLiteSource) (*columns.Set, error) {
	var defs []*columns.Column
	for _, name := range s.Columns() {
		defs = append(defs, &columns.Column{ID: name})
	}
	return columns.NewSet(defs...)
}

// watchState applies the state file every time it is written. The
// directory is watched, since editors often replace files by renaming.
func watchState(ctx context.Context, path string, srv *server.Server, logger *slog.Logger) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer func() { _ = w.Close() }()
	if err := w.Add(filepath.Dir(path)); err != nil {
		return err
	}

	apply := func() {
		st, err := query.ParseState(path)
		if err != nil {
			logger.WarnContext(ctx, "state file not applied", "path", path, "err", err)
			return
		}
		if err := srv.ApplyState(*st); err != nil {
			logger.WarnContext(ctx, "state file not applied", "path", path, "err", err)
			return
		}
		logger.InfoContext(ctx, "state file applied", "path", path)
	}
	apply()

	name := filepath.Clean(path)
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) == name && (event.Has(fsnotify.Write) || event.Has(fsnotify.Create)) {
				apply()
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.WarnContext(ctx, "watching state file", "err", err)
		}
	}
}
