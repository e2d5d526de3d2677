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
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// Config is the YAML data sources file:
//
//	annotations:
//	  - id: medals
//	    columns:
//	      - name: medals
//	        display_name: Medals
//	        agg_func: sum
//	sources:
//	  - name: medals
//	    source_type: csv
//	    annotations_id: medals
//	    config:
//	      file_path: medals.csv
type Config struct {
	Annotations []ColumnAnnotations `yaml:"annotations,omitempty"`
	Sources     []DataSource        `yaml:"sources,omitempty"`
}

// ColumnAnnotations is a reusable set of column annotations.
type ColumnAnnotations struct {
	AnnotationsID string             `yaml:"id"`
	Columns       []ColumnAnnotation `yaml:"columns"`
}

// ColumnAnnotation describes one column beyond what the data says.
type ColumnAnnotation struct {
	Name        string `yaml:"name"`
	DisplayName string `yaml:"display_name,omitempty"`
	AggFunc     string `yaml:"agg_func,omitempty"`
	Type        string `yaml:"type,omitempty"`
	// URLTemplate links cells; {value} is replaced by the escaped value.
	URLTemplate string `yaml:"url_template,omitempty"`
}

// DataSource names a loader and its configuration.
type DataSource struct {
	Name          string            `yaml:"name"`
	SourceType    string            `yaml:"source_type"`
	AnnotationsID string            `yaml:"annotations_id,omitempty"`
	Config        map[string]string `yaml:"config,omitempty"`
}

// ErrSourceNotFound is returned for unknown source names.
var ErrSourceNotFound = errors.New("source not found")

// Manager handles loading and caching of data sources.
// Annotations are loaded eagerly; data is loaded lazily on demand.
type Manager struct {
	mu sync.RWMutex

	// Annotations indexed by annotations_id - loaded eagerly
	annotations map[string]*ColumnAnnotations

	// Source metadata indexed by name - loaded eagerly
	sources map[string]*DataSource

	// Cached tables indexed by source name - populated lazily
	tables map[string]*Table

	// Open paged sources that hold resources, indexed by source name
	paged map[string]*SQLiteSource

	// Registered loaders indexed by source_type
	loaders map[string]Loader

	// Base directory for resolving relative paths
	baseDir string

	logger *slog.Logger
}

// NewManager creates a new data source manager with the built in csv, json
// and sqlite loaders registered.
func NewManager(logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Manager{
		annotations: make(map[string]*ColumnAnnotations),
		sources:     make(map[string]*DataSource),
		tables:      make(map[string]*Table),
		paged:       make(map[string]*SQLiteSource),
		loaders:     make(map[string]Loader),
		logger:      logger,
	}
	m.RegisterLoader(NewCsvLoader())
	m.RegisterLoader(NewJSONLoader())
	m.RegisterLoader(NewSQLiteLoader(logger))
	return m
}

// RegisterLoader registers a data source loader for a specific source type.
// If a loader is already registered for this type, it will be replaced.
func (m *Manager) RegisterLoader(loader Loader) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.loaders[loader.SourceType()] = loader
}

// LoadConfig loads a Config from a YAML file. Relative paths in source
// configs are resolved against the file's directory.
func (m *Manager) LoadConfig(configPath string) error {
	data, err := os.ReadFile(configPath) //nolint:gosec // User-specified config path
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	config := &Config{}
	if err := yaml.Unmarshal(data, config); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	m.SetBaseDir(filepath.Dir(configPath))
	return m.AddConfig(config)
}

// AddConfig registers annotations and source metadata; no data is loaded.
func (m *Manager) AddConfig(config *Config) error {
	for _, s := range config.Sources {
		if s.Name == "" || s.SourceType == "" {
			return fmt.Errorf("source %q: name and source_type are required", s.Name)
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range config.Annotations {
		ann := config.Annotations[i]
		m.annotations[ann.AnnotationsID] = &ann
	}
	for i := range config.Sources {
		source := config.Sources[i]
		m.sources[source.Name] = &source
	}
	return nil
}

// SetBaseDir sets the base directory for resolving relative paths in config.
func (m *Manager) SetBaseDir(dir string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.baseDir = dir
}

// GetAnnotations returns the annotations for a given annotations_id.
// Returns nil if the annotations are not found.
func (m *Manager) GetAnnotations(annotationsID string) *ColumnAnnotations {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.annotations[annotationsID]
}

// GetSourceNames returns all registered source names, sorted.
func (m *Manager) GetSourceNames() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Sorted(maps.Keys(m.sources))
}

// GetSource returns the source metadata for a given name.
// Returns nil if the source is not found.
func (m *Manager) GetSource(name string) *DataSource {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sources[name]
}

// AddSource adds a source to the manager.
func (m *Manager) AddSource(source *DataSource) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sources[source.Name] = source
}

// AddAnnotations adds annotations to the manager.
func (m *Manager) AddAnnotations(annotations *ColumnAnnotations) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.annotations[annotations.AnnotationsID] = annotations
}

// lookup returns what is needed to load a source, under the read lock.
func (m *Manager) lookup(sourceName string) (*DataSource, *ColumnAnnotations, Loader, map[string]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	source, ok := m.sources[sourceName]
	if !ok {
		return nil, nil, nil, nil, fmt.Errorf("%w: %q", ErrSourceNotFound, sourceName)
	}
	loader, ok := m.loaders[source.SourceType]
	if !ok {
		return nil, nil, nil, nil, fmt.Errorf("no loader registered for source type %q", source.SourceType)
	}
	return source, m.annotations[source.AnnotationsID], loader, resolveConfigPaths(source.Config, m.baseDir), nil
}

// LoadData loads data for a source by name.
// Returns cached data if already loaded; otherwise loads from the source
// and applies the source's annotations.
func (m *Manager) LoadData(ctx context.Context, sourceName string) (*Table, error) {
	m.mu.RLock()
	table, ok := m.tables[sourceName]
	m.mu.RUnlock()
	if ok {
		return table, nil
	}

	_, annotations, loader, config, err := m.lookup(sourceName)
	if err != nil {
		return nil, err
	}
	table, err = loader.Load(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to load source %q: %w", sourceName, err)
	}
	if err := Annotate(table, annotations); err != nil {
		return nil, fmt.Errorf("failed to annotate source %q: %w", sourceName, err)
	}
	m.logger.Debug("loaded source", "source", sourceName, "rows", len(table.Records))

	// Cache the result
	m.mu.Lock()
	m.tables[sourceName] = table
	m.mu.Unlock()

	return table, nil
}

// RowSource returns a paged source for a server side row model. SQLite
// sources query the database; every other source serves its loaded table
// from memory.
func (m *Manager) RowSource(ctx context.Context, sourceName string, opts MemoryOptions) (RowSource, error) {
	source, _, loader, config, err := m.lookup(sourceName)
	if err != nil {
		return nil, err
	}
	if sl, ok := loader.(*SQLiteLoader); ok {
		m.mu.RLock()
		src, open := m.paged[source.Name]
		m.mu.RUnlock()
		if open {
			return src, nil
		}
		src, err := sl.Open(ctx, config)
		if err != nil {
			return nil, fmt.Errorf("failed to open source %q: %w", sourceName, err)
		}
		m.mu.Lock()
		if prev, raced := m.paged[source.Name]; raced {
			m.mu.Unlock()
			_ = src.Close()
			return prev, nil
		}
		m.paged[source.Name] = src
		m.mu.Unlock()
		return src, nil
	}

	table, err := m.LoadData(ctx, sourceName)
	if err != nil {
		return nil, err
	}
	return NewMemorySource(table.Records, table.Columns, opts), nil
}

// resolveConfigPaths resolves relative file paths in config to absolute paths.
func resolveConfigPaths(config map[string]string, baseDir string) map[string]string {
	if baseDir == "" {
		return config
	}

	resolved := make(map[string]string, len(config))
	for k, v := range config {
		if k == "file_path" && v != "" && !filepath.IsAbs(v) {
			resolved[k] = filepath.Join(baseDir, v)
		} else {
			resolved[k] = v
		}
	}
	return resolved
}

// InvalidateCache removes a source from the cache, forcing reload on next
// access. Open paged sources are closed.
func (m *Manager) InvalidateCache(sourceName string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.tables, sourceName)
	if src, ok := m.paged[sourceName]; ok {
		_ = src.Close()
		delete(m.paged, sourceName)
	}
}

// InvalidateAllCaches removes all sources from the cache.
func (m *Manager) InvalidateAllCaches() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tables = make(map[string]*Table)
	for _, src := range m.paged {
		_ = src.Close()
	}
	m.paged = make(map[string]*SQLiteSource)
}

// Close releases open paged sources.
func (m *Manager) Close() error {
	m.InvalidateAllCaches()
	return nil
}

// IsLoaded returns whether data for a source is currently cached.
func (m *Manager) IsLoaded(sourceName string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.tables[sourceName]
	return ok
}

// GetLoadedSources returns names of all currently loaded (cached) sources.
func (m *Manager) GetLoadedSources() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Sorted(maps.Keys(m.tables))
}

// ResolveURL resolves the URL template of a column for a cell value.
// Returns empty string if the column has no URL template.
func (m *Manager) ResolveURL(sourceName, column, value string) string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	source, ok := m.sources[sourceName]
	if !ok {
		return ""
	}
	ann := AnnotationsToColumnMap(m.annotations[source.AnnotationsID])[column]
	if ann == nil || ann.URLTemplate == "" {
		return ""
	}
	return replacePlaceholders(ann.URLTemplate, value, column)
}

// Linker returns a function resolving cell links for one source, in the
// shape the HTML renderer expects.
func (m *Manager) Linker(sourceName string) func(column, value string) string {
	return func(column, value string) string {
		return m.ResolveURL(sourceName, column, value)
	}
}

// replacePlaceholders replaces {value} and {column} placeholders in a template.
func replacePlaceholders(template, value, column string) string {
	return strings.NewReplacer("{value}", url.PathEscape(value), "{column}", url.PathEscape(column)).Replace(template)
}
