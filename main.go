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

// Command rowmodel loads a data set into a row model and displays it, as a
// text table or over HTTP.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/google/rowmodel/core/query"
	"github.com/google/rowmodel/datasources"
	"github.com/google/rowmodel/demo"
	"github.com/lmittmann/tint"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
)

var (
	logLevel = &slog.LevelVar{}
	verbose  bool
	quiet    bool
)

var rootCmd = &cobra.Command{
	Use:           "rowmodel",
	Short:         "Group, pivot, aggregate, sort and page tabular data",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		configureLogging()
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log debug messages")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "log warnings and errors only")
	rootCmd.AddCommand(showCmd, serveCmd)
}

// configureLogging installs the default logger. ROWMODEL_LOG_LEVEL sets the
// level; -v and -q override it.
func configureLogging() {
	logLevel.Set(slog.LevelInfo)
	switch strings.ToUpper(os.Getenv("ROWMODEL_LOG_LEVEL")) {
	case "DEBUG":
		logLevel.Set(slog.LevelDebug)
	case "WARN":
		logLevel.Set(slog.LevelWarn)
	case "ERROR":
		logLevel.Set(slog.LevelError)
	}
	if verbose {
		logLevel.Set(slog.LevelDebug)
	} else if quiet {
		logLevel.Set(slog.LevelWarn)
	}
	logger := slog.New(tint.NewHandler(colorable.NewColorable(os.Stderr), &tint.Options{
		Level:      logLevel,
		TimeFormat: "15:04:05.000",
		NoColor:    !isatty.IsTerminal(os.Stderr.Fd()),
	}))
	slog.SetDefault(logger)
}

// dataFlags selects the data set shared by the subcommands.
type dataFlags struct {
	data    string
	records string
	config  string
	source  string
	state   string
}

func (f *dataFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.data, "data", "", "CSV or JSON file to load (default: the embedded medals data set)")
	cmd.Flags().StringVar(&f.records, "records", "", "JSONPath of the records array inside a JSON document")
	cmd.Flags().StringVar(&f.config, "config", "", "data sources YAML file")
	cmd.Flags().StringVar(&f.source, "source", "", "source name in --config")
	cmd.Flags().StringVar(&f.state, "state", "", "grid state YAML file")
}

// dataSet is a loaded table plus what the display needs to know about it.
type dataSet struct {
	table   *datasources.Table
	manager *datasources.Manager // nil unless --config is used
	source  string
}

func (d *dataSet) linker() func(column, value string) string {
	if d.manager == nil {
		return nil
	}
	return d.manager.Linker(d.source)
}

func (f *dataFlags) load(ctx context.Context) (*dataSet, error) {
	logger := slog.Default()
	switch {
	case f.config != "":
		if f.source == "" {
			return nil, fmt.Errorf("--source is required with --config")
		}
		m := datasources.NewManager(logger)
		if err := m.LoadConfig(f.config); err != nil {
			return nil, err
		}
		table, err := m.LoadData(ctx, f.source)
		if err != nil {
			return nil, err
		}
		return &dataSet{table: table, manager: m, source: f.source}, nil
	case f.data != "":
		var loader datasources.Loader = datasources.NewJSONLoader()
		if datasources.IsCSV(f.data) {
			loader = datasources.NewCsvLoader()
		}
		table, err := loader.Load(ctx, map[string]string{"file_path": f.data, "records": f.records})
		if err != nil {
			return nil, err
		}
		return &dataSet{table: table}, nil
	}
	return &dataSet{table: demo.Medals()}, nil
}

// loadState reads the --state file. It returns nil when none is given.
func (f *dataFlags) loadState() (*query.State, error) {
	if f.state == "" {
		return nil, nil
	}
	return query.ParseState(f.state)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, os.Interrupt)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "rowmodel: %v\n", err)
		os.Exit(1)
	}
}
